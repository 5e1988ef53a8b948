package services

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"io"
	"net/http"
	"net/url"
	"time"
)

// Verdict is the validator's judgment of a proof photo. It is distinct from
// a fault: a NEGATIVE verdict is a normal outcome, a fault means no verdict
// could be produced at all.
type Verdict string

const (
	VerdictPositive Verdict = "POSITIVE"
	VerdictNegative Verdict = "NEGATIVE"
)

// ExpectedLocation is the snapshotted patch location a photo is judged against.
type ExpectedLocation struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Name      string  `json:"name"`
}

// ValidationResult is a produced verdict.
type ValidationResult struct {
	Verdict    Verdict `json:"verdict"`
	Confidence int     `json:"confidence"` // 0–100
	Reason     string  `json:"reason"`
}

// Positive reports whether the verdict accepts the proof.
func (r *ValidationResult) Positive() bool {
	return r.Verdict == VerdictPositive
}

// PhotoValidator judges whether a proof photo shows the expected location.
// Any returned error is a *ValidationFault: the engine keeps the challenge
// ACTIVE and tells the caller to retry.
type PhotoValidator interface {
	Validate(ctx context.Context, image []byte, expected ExpectedLocation) (*ValidationResult, error)
}

// GrassVisionClient calls the external vision service over HTTP.
type GrassVisionClient struct {
	baseURL      string
	serviceToken string
	httpClient   *http.Client
}

func NewGrassVisionClient(baseURL, serviceToken string) *GrassVisionClient {
	return &GrassVisionClient{
		baseURL:      baseURL,
		serviceToken: serviceToken,
		httpClient: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
}

func (c *GrassVisionClient) Validate(ctx context.Context, image []byte, expected ExpectedLocation) (*ValidationResult, error) {
	base, err := url.Parse(c.baseURL)
	if err != nil {
		return nil, &ValidationFault{Err: fmt.Errorf("invalid vision service URL %q: %w", c.baseURL, err)}
	}
	endpoint := base.JoinPath("/v1/validate").String()

	payload, err := json.Marshal(map[string]interface{}{
		"image_base64": base64.StdEncoding.EncodeToString(image),
		"expected":     expected,
	})
	if err != nil {
		return nil, &ValidationFault{Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, &ValidationFault{Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Service-Token", c.serviceToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &ValidationFault{Err: fmt.Errorf("vision service unreachable: %w", err)}
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, &ValidationFault{Err: fmt.Errorf("vision service returned %d: %s", resp.StatusCode, body)}
	}

	var result ValidationResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, &ValidationFault{Err: fmt.Errorf("failed to decode vision response: %w", err)}
	}
	if result.Verdict != VerdictPositive && result.Verdict != VerdictNegative {
		return nil, &ValidationFault{Err: fmt.Errorf("vision service returned unknown verdict %q", result.Verdict)}
	}
	if result.Confidence < 0 {
		result.Confidence = 0
	}
	if result.Confidence > 100 {
		result.Confidence = 100
	}
	return &result, nil
}

// HeuristicValidator stands in for the vision service when GRASS_VISION_URL
// is unset (dev/offline). It is a placeholder, not real recognition: the
// verdict is derived from a hash of the image bytes so repeated submissions
// of the same photo behave deterministically.
type HeuristicValidator struct{}

var heuristicReasons = []string{
	"that is, against all odds, grass",
	"detected chlorophyll and reluctant sunlight",
	"grass confirmed, touch registered",
	"suspiciously green but we'll allow it",
}

var heuristicRejections = []string{
	"that is a houseplant and we both know it",
	"this photo was taken indoors, nice try",
	"no grass detected, only vibes",
}

func (HeuristicValidator) Validate(ctx context.Context, image []byte, expected ExpectedLocation) (*ValidationResult, error) {
	if len(image) == 0 {
		return nil, &ValidationFault{Err: fmt.Errorf("empty image payload")}
	}
	h := fnv.New32a()
	_, _ = h.Write(image)
	seed := h.Sum32()

	confidence := 40 + int(seed%61) // 40–100
	if confidence < 55 {
		return &ValidationResult{
			Verdict:    VerdictNegative,
			Confidence: confidence,
			Reason:     heuristicRejections[int(seed)%len(heuristicRejections)],
		}, nil
	}
	return &ValidationResult{
		Verdict:    VerdictPositive,
		Confidence: confidence,
		Reason:     heuristicReasons[int(seed)%len(heuristicReasons)],
	}, nil
}
