package models

import "time"

// ChallengeStatus is the lifecycle state of a challenge.
// ACTIVE is the only non-terminal state; terminal rows are immutable.
type ChallengeStatus string

const (
	ChallengeActive    ChallengeStatus = "ACTIVE"
	ChallengeCompleted ChallengeStatus = "COMPLETED"
	ChallengeFailed    ChallengeStatus = "FAILED"
	ChallengeExpired   ChallengeStatus = "EXPIRED"
)

// Terminal reports whether the status admits no further transitions.
func (s ChallengeStatus) Terminal() bool {
	return s == ChallengeCompleted || s == ChallengeFailed || s == ChallengeExpired
}

// Challenge is a time-boxed commitment to visit a patch and submit proof.
// Patch fields are denormalized because patches are session-scoped and may
// not exist anywhere else by the time the challenge is rendered or validated.
type Challenge struct {
	ID             string `gorm:"primaryKey;type:uuid;default:gen_random_uuid()" json:"id"`
	ExternalUserID string `gorm:"index;not null" json:"external_user_id"`

	// Patch snapshot
	PatchID        string  `json:"patch_id"`
	PatchName      string  `json:"patch_name"`
	PatchLatitude  float64 `json:"patch_latitude"`
	PatchLongitude float64 `json:"patch_longitude"`
	PatchAddress   string  `json:"patch_address"`

	Status    ChallengeStatus `gorm:"type:varchar(16);index;not null" json:"status"`
	StartedAt time.Time       `json:"started_at"`
	ExpiresAt time.Time       `json:"expires_at"` // StartedAt + window, fixed at creation

	CompletedAt        *time.Time `json:"completed_at,omitempty"`
	SubmissionImageURL *string    `json:"submission_image_url,omitempty"`
	Validated          bool       `json:"validated" gorm:"default:false"`
	PointsAwarded      int        `json:"points_awarded" gorm:"default:0"` // signed, set once at the terminal transition
	ValidationAttempts int        `json:"validation_attempts" gorm:"default:0"`

	CreatedAt time.Time `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt time.Time `json:"updated_at" gorm:"autoUpdateTime"`
}

// Stale reports whether an ACTIVE challenge has outlived its window and is
// due to be swept to EXPIRED.
func (c *Challenge) Stale(now time.Time) bool {
	return c.Status == ChallengeActive && !now.Before(c.ExpiresAt)
}

// PatchLocation returns the snapshotted patch coordinate.
func (c *Challenge) PatchLocation() Coordinate {
	return Coordinate{Latitude: c.PatchLatitude, Longitude: c.PatchLongitude}
}

// Remaining returns the time left before expiry, clamped at zero.
func (c *Challenge) Remaining(now time.Time) time.Duration {
	if d := c.ExpiresAt.Sub(now); d > 0 {
		return d
	}
	return 0
}
