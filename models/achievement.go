package models

import (
	"time"
)

// AchievementMetric selects which user counter a threshold watches.
type AchievementMetric string

const (
	MetricTotalGrass AchievementMetric = "total_grass_touched"
	MetricStreak     AchievementMetric = "streak"
)

// AchievementType: static catalog entry (compiled in, no admin CRUD)
type AchievementType struct {
	Code        string // e.g., "FIRST_GRASS", "STREAK_5"
	Name        string
	Description string
	Rarity      string // common, rare, epic, legendary
	Metric      AchievementMetric
	Threshold   int // fires when the metric *becomes exactly* this value
}

// UserAchievement: awarded instance
type UserAchievement struct {
	ID             string    `gorm:"primaryKey;type:uuid;default:gen_random_uuid()" json:"id"`
	ExternalUserID string    `gorm:"not null;uniqueIndex:idx_user_achievement" json:"external_user_id"`
	Code           string    `gorm:"not null;uniqueIndex:idx_user_achievement" json:"code"`
	Rarity         string    `gorm:"type:varchar(16)" json:"rarity"`
	UnlockedAt     time.Time `json:"unlocked_at"`
}

// AchievementCatalog drives auto-unlock after every successful touch.
// Thresholds fire on the exact post-increment value, so an unlock is always
// tied to the challenge that caused it (no retroactive unlocks).
var AchievementCatalog = []AchievementType{
	{
		Code:        "FIRST_GRASS",
		Name:        "First Contact",
		Description: "Touched grass for the very first time",
		Rarity:      "common",
		Metric:      MetricTotalGrass,
		Threshold:   1,
	},
	{
		Code:        "GRASS_10",
		Name:        "Frequent Toucher",
		Description: "Touched grass 10 times",
		Rarity:      "rare",
		Metric:      MetricTotalGrass,
		Threshold:   10,
	},
	{
		Code:        "GRASS_50",
		Name:        "Grass Connoisseur",
		Description: "Touched grass 50 times",
		Rarity:      "epic",
		Metric:      MetricTotalGrass,
		Threshold:   50,
	},
	{
		Code:        "STREAK_5",
		Name:        "On a Roll",
		Description: "Completed 5 challenges in a row",
		Rarity:      "rare",
		Metric:      MetricStreak,
		Threshold:   5,
	},
	{
		Code:        "STREAK_10",
		Name:        "Certified Outdoorsperson",
		Description: "Completed 10 challenges in a row",
		Rarity:      "epic",
		Metric:      MetricStreak,
		Threshold:   10,
	},
	{
		Code:        "STREAK_30",
		Name:        "Touch Grass Legend",
		Description: "Completed 30 challenges in a row",
		Rarity:      "legendary",
		Metric:      MetricStreak,
		Threshold:   30,
	},
}

// AchievementByCode looks up a catalog entry; nil if unknown.
func AchievementByCode(code string) *AchievementType {
	for i := range AchievementCatalog {
		if AchievementCatalog[i].Code == code {
			return &AchievementCatalog[i]
		}
	}
	return nil
}
