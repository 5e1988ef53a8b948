package models

import (
	"time"

	"gorm.io/gorm"
)

// User is the engine-owned reputation aggregate for one person.
// Identity fields (username, avatar) are mirrored from the Profile Service by
// the sync worker; the FHI/streak fields are mutated only by the challenge
// engine's scoring path — nothing else may write them.
type User struct {
	ID             string `gorm:"primaryKey;type:uuid;default:gen_random_uuid()" json:"id"`
	ExternalUserID string `gorm:"uniqueIndex;not null" json:"external_user_id"` // links to profile service

	// Mirrored profile fields (owned by the profile service)
	Username          string  `gorm:"index" json:"username"`
	ProfilePictureURL *string `json:"profile_picture_url,omitempty"`

	// Functional Human Index + activity counters
	FHIScore          int `json:"fhi_score" gorm:"default:0"`          // floor 0, never negative
	TotalGrassTouched int `json:"total_grass_touched" gorm:"default:0"` // only increases
	Streak            int `json:"streak" gorm:"default:0"`
	LongestStreak     int `json:"longest_streak" gorm:"default:0"` // high-water mark of Streak

	LastTouchAt *time.Time `json:"last_touch_at,omitempty"`

	CreatedAt time.Time      `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt time.Time      `json:"updated_at" gorm:"autoUpdateTime"`
	DeletedAt gorm.DeletedAt `json:"-" gorm:"index"`
}

// RemoteProfile mirrors the JSON shape the profile sync service returns
// (read-only; consumed by the profile sync worker).
type RemoteProfile struct {
	ID                string    `json:"id"`
	ExternalID        string    `json:"external_id"`
	Username          string    `json:"username"`
	ProfilePictureURL *string   `json:"profile_picture_url,omitempty"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}
