package services

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/cdermott7/onlygrass/models"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
)

// finalizeRetries bounds how often the combined terminal write is retried
// before a PersistenceFault is surfaced.
const finalizeRetries = 3

// ChallengeService is the sole authority over challenge state transitions
// and the one-ACTIVE-challenge-per-user invariant. It owns no HTTP concerns;
// collaborators are injected so tests can swap in fakes.
type ChallengeService struct {
	Store     ChallengeStore
	Validator PhotoValidator
	Clock     clockwork.Clock
}

func NewChallengeService(store ChallengeStore, validator PhotoValidator, clock clockwork.Clock) *ChallengeService {
	return &ChallengeService{Store: store, Validator: validator, Clock: clock}
}

// SubmitOutcome is what proof submission (or an explicit fail) hands back:
// enough to render the result screen without a follow-up fetch.
type SubmitOutcome struct {
	Completed   bool                     `json:"completed"`
	Challenge   *models.Challenge        `json:"challenge"`
	User        *models.User             `json:"user"`
	PointsDelta int                      `json:"points_delta"`
	Confidence  int                      `json:"confidence,omitempty"`
	Reason      string                   `json:"reason,omitempty"`
	Unlocked    []models.UserAchievement `json:"unlocked,omitempty"`
}

// CreateChallenge starts a new challenge on the given patch.
//
// The lazy expiry sweep runs first: a stale ACTIVE challenge (window already
// over) is converted to EXPIRED before the invariant check. A live ACTIVE
// challenge is never replaced — that returns ErrChallengeConflict.
func (s *ChallengeService) CreateChallenge(ctx context.Context, externalUserID string, patch models.GrassPatch) (*models.Challenge, error) {
	if _, err := s.Store.EnsureUser(ctx, externalUserID); err != nil {
		return nil, &PersistenceFault{Op: "ensure user", Err: err}
	}

	if err := s.sweepUser(ctx, externalUserID); err != nil {
		return nil, err
	}

	active, err := s.Store.ActiveChallenge(ctx, externalUserID)
	if err != nil {
		return nil, &PersistenceFault{Op: "read active challenge", Err: err}
	}
	if active != nil {
		return nil, ErrChallengeConflict
	}

	now := s.Clock.Now()
	ch := &models.Challenge{
		ID:             uuid.NewString(),
		ExternalUserID: externalUserID,
		PatchID:        patch.ID,
		PatchName:      patch.Name,
		PatchLatitude:  patch.Latitude,
		PatchLongitude: patch.Longitude,
		PatchAddress:   patch.Address,
		Status:         models.ChallengeActive,
		StartedAt:      now,
		ExpiresAt:      now.Add(ChallengeWindow),
	}
	if err := s.Store.CreateChallenge(ctx, ch); err != nil {
		if errors.Is(err, ErrChallengeConflict) {
			// lost a race with another device; the invariant held at write time
			return nil, ErrChallengeConflict
		}
		return nil, &PersistenceFault{Op: "create challenge", Err: err}
	}

	log.Printf("🌱 Challenge started: user=%s patch=%q expires=%s", externalUserID, patch.Name, ch.ExpiresAt.Format("15:04:05"))
	return ch, nil
}

// GetActiveChallenge returns the user's ACTIVE challenge after the lazy
// sweep, or nil if there is none. Side-effect-free beyond the sweep.
func (s *ChallengeService) GetActiveChallenge(ctx context.Context, externalUserID string) (*models.Challenge, error) {
	if err := s.sweepUser(ctx, externalUserID); err != nil {
		return nil, err
	}
	active, err := s.Store.ActiveChallenge(ctx, externalUserID)
	if err != nil {
		return nil, &PersistenceFault{Op: "read active challenge", Err: err}
	}
	return active, nil
}

// SubmitProof validates a proof photo and drives the challenge to COMPLETED
// or FAILED. A *ValidationFault leaves the challenge ACTIVE (attempts still
// increment) so the caller can retry; it is never coerced into a failure.
func (s *ChallengeService) SubmitProof(ctx context.Context, externalUserID, challengeID string, image []byte, imageURL string) (*SubmitOutcome, error) {
	ch, err := s.challengeForUser(ctx, externalUserID, challengeID)
	if err != nil {
		return nil, err
	}

	now := s.Clock.Now()
	if ch.Stale(now) {
		if err := s.expireChallenge(ctx, ch); err != nil {
			return nil, err
		}
		return nil, ErrInvalidState
	}
	if ch.Status != models.ChallengeActive {
		return nil, ErrInvalidState
	}

	if err := s.Store.RecordAttempt(ctx, ch.ID); err != nil {
		if errors.Is(err, ErrInvalidState) || errors.Is(err, ErrNotFound) {
			return nil, ErrInvalidState
		}
		return nil, &PersistenceFault{Op: "record attempt", Err: err}
	}
	ch.ValidationAttempts++

	result, err := s.Validator.Validate(ctx, image, ExpectedLocation{
		Latitude:  ch.PatchLatitude,
		Longitude: ch.PatchLongitude,
		Name:      ch.PatchName,
	})
	if err != nil {
		if IsValidationFault(err) {
			log.Printf("⚠️ Validation fault for challenge %s (attempt %d): %v", ch.ID, ch.ValidationAttempts, err)
			return nil, err
		}
		return nil, &ValidationFault{Err: err}
	}

	user, err := s.Store.GetUser(ctx, externalUserID)
	if err != nil {
		return nil, &PersistenceFault{Op: "read user", Err: err}
	}

	if result.Positive() {
		points := SuccessAward(result.Confidence)
		unlocked := ApplySuccess(user, points, now)

		completed := now
		ch.Status = models.ChallengeCompleted
		ch.CompletedAt = &completed
		ch.SubmissionImageURL = &imageURL
		ch.Validated = true
		ch.PointsAwarded = points

		if err := s.finalize(ctx, ch, user, unlocked); err != nil {
			return nil, err
		}
		log.Printf("✅ Grass touched: user=%s +%d FHI (confidence %d, streak %d)", externalUserID, points, result.Confidence, user.Streak)
		return &SubmitOutcome{
			Completed:   true,
			Challenge:   ch,
			User:        user,
			PointsDelta: points,
			Confidence:  result.Confidence,
			Reason:      result.Reason,
			Unlocked:    unlocked,
		}, nil
	}

	delta := ApplyFailure(user)
	completed := now
	ch.Status = models.ChallengeFailed
	ch.CompletedAt = &completed
	ch.SubmissionImageURL = &imageURL
	ch.PointsAwarded = delta

	if err := s.finalize(ctx, ch, user, nil); err != nil {
		return nil, err
	}
	log.Printf("❌ Proof rejected: user=%s %d FHI (streak reset)", externalUserID, delta)
	return &SubmitOutcome{
		Completed:   false,
		Challenge:   ch,
		User:        user,
		PointsDelta: delta,
		Confidence:  result.Confidence,
		Reason:      result.Reason,
	}, nil
}

// FailChallenge is the explicit failure path (user abandoned, or the UI
// surfaced the timeout). Same penalty as a negative verdict, no validator
// call. A challenge that is already past its window expires instead.
func (s *ChallengeService) FailChallenge(ctx context.Context, externalUserID, challengeID string) (*SubmitOutcome, error) {
	ch, err := s.challengeForUser(ctx, externalUserID, challengeID)
	if err != nil {
		return nil, err
	}

	now := s.Clock.Now()
	if ch.Stale(now) {
		if err := s.expireChallenge(ctx, ch); err != nil {
			return nil, err
		}
		user, err := s.Store.GetUser(ctx, externalUserID)
		if err != nil {
			return nil, &PersistenceFault{Op: "read user", Err: err}
		}
		return &SubmitOutcome{Challenge: ch, User: user, PointsDelta: ch.PointsAwarded}, nil
	}
	if ch.Status != models.ChallengeActive {
		return nil, ErrInvalidState
	}

	user, err := s.Store.GetUser(ctx, externalUserID)
	if err != nil {
		return nil, &PersistenceFault{Op: "read user", Err: err}
	}

	delta := ApplyFailure(user)
	completed := now
	ch.Status = models.ChallengeFailed
	ch.CompletedAt = &completed
	ch.PointsAwarded = delta

	if err := s.finalize(ctx, ch, user, nil); err != nil {
		return nil, err
	}
	log.Printf("🏳️ Challenge abandoned: user=%s %d FHI", externalUserID, delta)
	return &SubmitOutcome{Challenge: ch, User: user, PointsDelta: delta}, nil
}

// SweepExpired converts every stale ACTIVE challenge to EXPIRED. Invoked by
// the background scheduler; per-user correctness never depends on it because
// the same sweep runs lazily inside every engine operation.
func (s *ChallengeService) SweepExpired(ctx context.Context) (int, error) {
	now := s.Clock.Now()
	stale, err := s.Store.StaleActiveChallenges(ctx, now, 100)
	if err != nil {
		return 0, &PersistenceFault{Op: "list stale challenges", Err: err}
	}
	swept := 0
	for i := range stale {
		if err := s.expireChallenge(ctx, &stale[i]); err != nil {
			log.Printf("⚠️ Failed to expire challenge %s: %v", stale[i].ID, err)
			continue
		}
		swept++
	}
	return swept, nil
}

// sweepUser lazily expires the user's ACTIVE challenge if its window is over.
func (s *ChallengeService) sweepUser(ctx context.Context, externalUserID string) error {
	active, err := s.Store.ActiveChallenge(ctx, externalUserID)
	if err != nil {
		return &PersistenceFault{Op: "read active challenge", Err: err}
	}
	if active == nil || !active.Stale(s.Clock.Now()) {
		return nil
	}
	return s.expireChallenge(ctx, active)
}

// expireChallenge drives ACTIVE → EXPIRED. Policy decision: expiry applies
// the same penalty as an explicit failure (score −15 floored at 0, streak
// reset) — letting a challenge rot should not be cheaper than failing it.
func (s *ChallengeService) expireChallenge(ctx context.Context, ch *models.Challenge) error {
	user, err := s.Store.EnsureUser(ctx, ch.ExternalUserID)
	if err != nil {
		return &PersistenceFault{Op: "ensure user", Err: err}
	}

	delta := ApplyFailure(user)
	expiredAt := ch.ExpiresAt
	ch.Status = models.ChallengeExpired
	ch.CompletedAt = &expiredAt
	ch.PointsAwarded = delta

	if err := s.finalize(ctx, ch, user, nil); err != nil {
		if errors.Is(err, ErrInvalidState) {
			// another call already finalized it; the sweep is idempotent
			return nil
		}
		return err
	}
	log.Printf("⌛ Challenge expired: user=%s patch=%q %d FHI", ch.ExternalUserID, ch.PatchName, delta)
	return nil
}

// finalize applies the combined terminal write with bounded retry. The store
// guarantees atomicity; retrying here covers transient faults so the
// challenge row and the user aggregate never land separately.
func (s *ChallengeService) finalize(ctx context.Context, ch *models.Challenge, u *models.User, unlocks []models.UserAchievement) error {
	var lastErr error
	for attempt := 1; attempt <= finalizeRetries; attempt++ {
		err := s.Store.FinalizeOutcome(ctx, ch, u, unlocks)
		if err == nil {
			return nil
		}
		if errors.Is(err, ErrInvalidState) || errors.Is(err, ErrNotFound) {
			return err
		}
		lastErr = err
		log.Printf("⚠️ Finalize attempt %d/%d failed for challenge %s: %v", attempt, finalizeRetries, ch.ID, err)
	}
	return &PersistenceFault{Op: "finalize outcome", Err: fmt.Errorf("after %d attempts: %w", finalizeRetries, lastErr)}
}

// challengeForUser fetches a challenge and verifies ownership. A challenge
// belonging to someone else reads as not found rather than leaking existence.
func (s *ChallengeService) challengeForUser(ctx context.Context, externalUserID, challengeID string) (*models.Challenge, error) {
	ch, err := s.Store.GetChallenge(ctx, challengeID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, &PersistenceFault{Op: "read challenge", Err: err}
	}
	if ch.ExternalUserID != externalUserID {
		return nil, ErrNotFound
	}
	return ch, nil
}
