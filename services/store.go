package services

import (
	"context"
	"time"

	"github.com/cdermott7/onlygrass/models"
)

// ChallengeStore is the persistence contract the engine runs against.
//
// Implementations must make CreateChallenge conditional on "no ACTIVE row
// exists for this user" at write time (a plain read-then-write is a race),
// and must apply FinalizeOutcome as a single transaction so the terminal
// challenge write and the user-aggregate write can never land separately.
type ChallengeStore interface {
	// EnsureUser returns the user aggregate, creating a zeroed row first if
	// none exists yet (idempotent).
	EnsureUser(ctx context.Context, externalUserID string) (*models.User, error)

	// GetUser returns the user aggregate or ErrNotFound.
	GetUser(ctx context.Context, externalUserID string) (*models.User, error)

	// CreateChallenge persists a new ACTIVE challenge. Returns
	// ErrChallengeConflict if the user already has an ACTIVE row.
	CreateChallenge(ctx context.Context, ch *models.Challenge) error

	// GetChallenge returns a challenge by id or ErrNotFound.
	GetChallenge(ctx context.Context, id string) (*models.Challenge, error)

	// ActiveChallenge returns the user's ACTIVE challenge, or nil if none.
	ActiveChallenge(ctx context.Context, externalUserID string) (*models.Challenge, error)

	// RecordAttempt increments ValidationAttempts on an ACTIVE challenge.
	// Returns ErrInvalidState if the challenge is no longer ACTIVE.
	RecordAttempt(ctx context.Context, challengeID string) error

	// FinalizeOutcome writes the terminal challenge state, the mutated user
	// aggregate and any achievement unlocks as one transaction. Duplicate
	// unlocks are dropped, not errored. Finalizing a challenge that is
	// already terminal returns ErrInvalidState and writes nothing.
	FinalizeOutcome(ctx context.Context, ch *models.Challenge, u *models.User, unlocks []models.UserAchievement) error

	// StaleActiveChallenges returns ACTIVE challenges whose window ended at
	// or before now, oldest first (used by the background sweep).
	StaleActiveChallenges(ctx context.Context, now time.Time, limit int) ([]models.Challenge, error)

	// ChallengeHistory returns terminal challenges newest-first, plus the
	// total count for pagination.
	ChallengeHistory(ctx context.Context, externalUserID string, limit, offset int) ([]models.Challenge, int64, error)

	// Achievements returns the user's unlocks, newest-first.
	Achievements(ctx context.Context, externalUserID string) ([]models.UserAchievement, error)

	// Leaderboard returns users ordered by FHI score descending.
	Leaderboard(ctx context.Context, limit int) ([]models.User, error)
}
