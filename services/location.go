package services

import (
	"context"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"io"
	"math"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"time"

	"github.com/cdermott7/onlygrass/models"

	"github.com/gosimple/slug"
)

// LocationDiscovery surfaces candidate grass patches around a coordinate.
// The engine never calls this itself — patches flow in through createChallenge
// as snapshots — but the patch shape it produces is what challenges snapshot.
type LocationDiscovery interface {
	FindNearby(ctx context.Context, center models.Coordinate, radiusMeters int) ([]models.GrassPatch, error)
}

// PatchDiscoveryClient queries the external places service and enriches the
// raw results with distance, walk time, difficulty and a quality tag.
type PatchDiscoveryClient struct {
	baseURL      string
	serviceToken string
	httpClient   *http.Client
}

func NewPatchDiscoveryClient(baseURL, serviceToken string) *PatchDiscoveryClient {
	return &PatchDiscoveryClient{
		baseURL:      baseURL,
		serviceToken: serviceToken,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// remotePlace mirrors the places service response shape.
type remotePlace struct {
	ID          string  `json:"id"`
	Name        string  `json:"name"`
	Latitude    float64 `json:"latitude"`
	Longitude   float64 `json:"longitude"`
	Address     string  `json:"address"`
	Description string  `json:"description,omitempty"`
}

func (c *PatchDiscoveryClient) FindNearby(ctx context.Context, center models.Coordinate, radiusMeters int) ([]models.GrassPatch, error) {
	base, err := url.Parse(c.baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid discovery service URL %q: %w", c.baseURL, err)
	}
	endpoint := base.JoinPath("/v1/places")
	q := endpoint.Query()
	q.Set("lat", strconv.FormatFloat(center.Latitude, 'f', -1, 64))
	q.Set("lng", strconv.FormatFloat(center.Longitude, 'f', -1, 64))
	q.Set("radius", strconv.Itoa(radiusMeters))
	q.Set("category", "greenspace")
	endpoint.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint.String(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("X-Service-Token", c.serviceToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("discovery service unreachable: %w", err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("discovery service returned %d: %s", resp.StatusCode, body)
	}

	var places struct {
		Places []remotePlace `json:"places"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&places); err != nil {
		return nil, fmt.Errorf("failed to decode discovery response: %w", err)
	}

	patches := make([]models.GrassPatch, 0, len(places.Places))
	for _, p := range places.Places {
		loc := models.Coordinate{Latitude: p.Latitude, Longitude: p.Longitude}
		dist := HaversineMeters(center, loc)
		if radiusMeters > 0 && dist > float64(radiusMeters) {
			continue
		}
		id := p.ID
		if id == "" {
			id = slug.Make(p.Name)
		}
		patches = append(patches, models.GrassPatch{
			ID:              id,
			Name:            p.Name,
			Latitude:        p.Latitude,
			Longitude:       p.Longitude,
			Address:         p.Address,
			DistanceMeters:  math.Round(dist),
			Difficulty:      DifficultyForDistance(dist),
			Quality:         QualityForPatch(id),
			WalkTimeMinutes: WalkTimeMinutes(dist),
			Description:     p.Description,
		})
	}

	sort.Slice(patches, func(i, j int) bool { return patches[i].DistanceMeters < patches[j].DistanceMeters })
	return patches, nil
}

const earthRadiusMeters = 6371000

// HaversineMeters is the great-circle distance between two WGS84 points.
func HaversineMeters(a, b models.Coordinate) float64 {
	lat1 := a.Latitude * math.Pi / 180
	lat2 := b.Latitude * math.Pi / 180
	dLat := (b.Latitude - a.Latitude) * math.Pi / 180
	dLng := (b.Longitude - a.Longitude) * math.Pi / 180

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLng/2)*math.Sin(dLng/2)
	return earthRadiusMeters * 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
}

// WalkTimeMinutes estimates walking time at ~80 m/min, never under a minute.
func WalkTimeMinutes(distanceMeters float64) int {
	minutes := int(math.Ceil(distanceMeters / 80))
	if minutes < 1 {
		minutes = 1
	}
	return minutes
}

// DifficultyForDistance buckets distance into the 1–5 rating.
func DifficultyForDistance(distanceMeters float64) int {
	switch {
	case distanceMeters <= 400:
		return 1
	case distanceMeters <= 900:
		return 2
	case distanceMeters <= 1500:
		return 3
	case distanceMeters <= 2500:
		return 4
	default:
		return 5
	}
}

// QualityForPatch assigns the vibe tag deterministically from the patch id,
// so a patch keeps its rating across sessions.
func QualityForPatch(patchID string) models.PatchQuality {
	h := fnv.New32a()
	_, _ = h.Write([]byte(patchID))
	switch h.Sum32() % 10 {
	case 0, 1, 2:
		return models.PatchQualityPristine
	case 3, 4, 5, 6:
		return models.PatchQualityDecent
	case 7, 8:
		return models.PatchQualityQuestionable
	default:
		return models.PatchQualitySus
	}
}
