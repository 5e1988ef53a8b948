package services

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/cdermott7/onlygrass/models"

	"github.com/google/uuid"
)

// MemStore is the in-memory reference ChallengeStore. The GORM store must
// behave identically; the engine tests run against this one. All methods are
// safe for concurrent use.
type MemStore struct {
	mu           sync.Mutex
	users        map[string]*models.User          // by external user id
	challenges   map[string]*models.Challenge     // by challenge id
	achievements map[string]models.UserAchievement // by userID+"/"+code

	// FailFinalizes makes the next N FinalizeOutcome calls fail, for
	// exercising the engine's bounded retry.
	FailFinalizes int
}

func NewMemStore() *MemStore {
	return &MemStore{
		users:        make(map[string]*models.User),
		challenges:   make(map[string]*models.Challenge),
		achievements: make(map[string]models.UserAchievement),
	}
}

func copyUser(u *models.User) *models.User {
	cp := *u
	return &cp
}

func copyChallenge(c *models.Challenge) *models.Challenge {
	cp := *c
	return &cp
}

func (s *MemStore) EnsureUser(ctx context.Context, externalUserID string) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u, ok := s.users[externalUserID]; ok {
		return copyUser(u), nil
	}
	u := &models.User{
		ID:             uuid.NewString(),
		ExternalUserID: externalUserID,
		CreatedAt:      time.Now(),
	}
	s.users[externalUserID] = u
	return copyUser(u), nil
}

func (s *MemStore) GetUser(ctx context.Context, externalUserID string) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[externalUserID]
	if !ok {
		return nil, ErrNotFound
	}
	return copyUser(u), nil
}

func (s *MemStore) CreateChallenge(ctx context.Context, ch *models.Challenge) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.challenges {
		if existing.ExternalUserID == ch.ExternalUserID && existing.Status == models.ChallengeActive {
			return ErrChallengeConflict
		}
	}
	s.challenges[ch.ID] = copyChallenge(ch)
	return nil
}

func (s *MemStore) GetChallenge(ctx context.Context, id string) (*models.Challenge, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ch, ok := s.challenges[id]
	if !ok {
		return nil, ErrNotFound
	}
	return copyChallenge(ch), nil
}

func (s *MemStore) ActiveChallenge(ctx context.Context, externalUserID string) (*models.Challenge, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ch := range s.challenges {
		if ch.ExternalUserID == externalUserID && ch.Status == models.ChallengeActive {
			return copyChallenge(ch), nil
		}
	}
	return nil, nil
}

func (s *MemStore) RecordAttempt(ctx context.Context, challengeID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ch, ok := s.challenges[challengeID]
	if !ok {
		return ErrNotFound
	}
	if ch.Status != models.ChallengeActive {
		return ErrInvalidState
	}
	ch.ValidationAttempts++
	return nil
}

func (s *MemStore) FinalizeOutcome(ctx context.Context, ch *models.Challenge, u *models.User, unlocks []models.UserAchievement) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailFinalizes > 0 {
		s.FailFinalizes--
		return &PersistenceFault{Op: "finalize", Err: context.DeadlineExceeded}
	}
	stored, ok := s.challenges[ch.ID]
	if !ok {
		return ErrNotFound
	}
	if stored.Status != models.ChallengeActive {
		return ErrInvalidState
	}
	user, ok := s.users[u.ExternalUserID]
	if !ok {
		return ErrNotFound
	}

	// All three writes land together under the lock, mirroring the SQL tx.
	stored.Status = ch.Status
	stored.CompletedAt = ch.CompletedAt
	stored.SubmissionImageURL = ch.SubmissionImageURL
	stored.Validated = ch.Validated
	stored.PointsAwarded = ch.PointsAwarded

	user.FHIScore = u.FHIScore
	user.TotalGrassTouched = u.TotalGrassTouched
	user.Streak = u.Streak
	user.LongestStreak = u.LongestStreak
	user.LastTouchAt = u.LastTouchAt

	for _, a := range unlocks {
		key := a.ExternalUserID + "/" + a.Code
		if _, dup := s.achievements[key]; dup {
			continue
		}
		s.achievements[key] = a
	}
	return nil
}

func (s *MemStore) StaleActiveChallenges(ctx context.Context, now time.Time, limit int) ([]models.Challenge, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var stale []models.Challenge
	for _, ch := range s.challenges {
		if ch.Status == models.ChallengeActive && !now.Before(ch.ExpiresAt) {
			stale = append(stale, *ch)
		}
	}
	sort.Slice(stale, func(i, j int) bool { return stale[i].ExpiresAt.Before(stale[j].ExpiresAt) })
	if limit > 0 && len(stale) > limit {
		stale = stale[:limit]
	}
	return stale, nil
}

func (s *MemStore) ChallengeHistory(ctx context.Context, externalUserID string, limit, offset int) ([]models.Challenge, int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var history []models.Challenge
	for _, ch := range s.challenges {
		if ch.ExternalUserID == externalUserID && ch.Status != models.ChallengeActive {
			history = append(history, *ch)
		}
	}
	sort.Slice(history, func(i, j int) bool { return history[i].StartedAt.After(history[j].StartedAt) })
	total := int64(len(history))
	if offset >= len(history) {
		return nil, total, nil
	}
	history = history[offset:]
	if limit > 0 && len(history) > limit {
		history = history[:limit]
	}
	return history, total, nil
}

func (s *MemStore) Achievements(ctx context.Context, externalUserID string) ([]models.UserAchievement, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var list []models.UserAchievement
	for _, a := range s.achievements {
		if a.ExternalUserID == externalUserID {
			list = append(list, a)
		}
	}
	sort.Slice(list, func(i, j int) bool { return list[i].UnlockedAt.After(list[j].UnlockedAt) })
	return list, nil
}

func (s *MemStore) Leaderboard(ctx context.Context, limit int) ([]models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var users []models.User
	for _, u := range s.users {
		users = append(users, *u)
	}
	sort.Slice(users, func(i, j int) bool {
		if users[i].FHIScore != users[j].FHIScore {
			return users[i].FHIScore > users[j].FHIScore
		}
		return users[i].LongestStreak > users[j].LongestStreak
	})
	if limit > 0 && len(users) > limit {
		users = users[:limit]
	}
	return users, nil
}
