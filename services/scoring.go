package services

import (
	"time"

	"github.com/cdermott7/onlygrass/models"

	"github.com/google/uuid"
)

// Scoring weights (tunable via config/env later)
const (
	SuccessBaseAward   = 25
	ConfidenceBonus    = 5
	ConfidenceBonusMin = 80 // bonus when verdict confidence strictly exceeds this (0–100 scale)
	FailurePenalty     = 15
)

// ChallengeWindow is the fixed completion window for every challenge.
// ExpiresAt = StartedAt + ChallengeWindow, set once at creation.
const ChallengeWindow = time.Hour

// SuccessAward returns the FHI delta for a positive verdict.
func SuccessAward(confidence int) int {
	if confidence > ConfidenceBonusMin {
		return SuccessBaseAward + ConfidenceBonus
	}
	return SuccessBaseAward
}

// ApplySuccess mutates the user aggregate for a completed challenge and
// returns any achievements unlocked by the update. points must come from
// SuccessAward.
func ApplySuccess(u *models.User, points int, now time.Time) []models.UserAchievement {
	u.FHIScore += points
	u.TotalGrassTouched++
	u.Streak++
	if u.Streak > u.LongestStreak {
		u.LongestStreak = u.Streak
	}
	touched := now
	u.LastTouchAt = &touched
	return evaluateUnlocks(u, now)
}

// ApplyFailure mutates the user aggregate for a failed or expired challenge
// and returns the signed points delta to record on the challenge. The score
// is floored at zero but the recorded delta is always the full penalty, so
// history renders consistently.
func ApplyFailure(u *models.User) int {
	u.FHIScore -= FailurePenalty
	if u.FHIScore < 0 {
		u.FHIScore = 0
	}
	u.Streak = 0
	return -FailurePenalty
}

// evaluateUnlocks checks the catalog against the post-increment counters.
// "Becomes exactly N": a counter that jumps past a threshold does not
// retroactively unlock it. The store dedupes re-unlocks of the same code.
func evaluateUnlocks(u *models.User, now time.Time) []models.UserAchievement {
	var unlocked []models.UserAchievement
	for _, t := range models.AchievementCatalog {
		var current int
		switch t.Metric {
		case models.MetricTotalGrass:
			current = u.TotalGrassTouched
		case models.MetricStreak:
			current = u.Streak
		default:
			continue
		}
		if current == t.Threshold {
			unlocked = append(unlocked, models.UserAchievement{
				ID:             uuid.NewString(),
				ExternalUserID: u.ExternalUserID,
				Code:           t.Code,
				Rarity:         t.Rarity,
				UnlockedAt:     now,
			})
		}
	}
	return unlocked
}

// FHITitle maps a score to the display title shown on the stats screen.
func FHITitle(score int) string {
	switch {
	case score >= 1000:
		return "Functional Human"
	case score >= 500:
		return "Occasionally Outside"
	case score >= 250:
		return "Grass Acquainted"
	case score >= 100:
		return "Vitamin D Curious"
	case score >= 25:
		return "Indoor Enthusiast"
	default:
		return "Certified Gremlin"
	}
}
