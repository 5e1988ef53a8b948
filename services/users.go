package services

import (
	"context"

	"github.com/cdermott7/onlygrass/models"
)

// UserService is the read surface for stats, achievements, history and the
// leaderboard. All mutation flows through the challenge engine.
type UserService struct {
	Store ChallengeStore
}

func NewUserService(store ChallengeStore) *UserService {
	return &UserService{Store: store}
}

// UserStats is the stats-screen payload.
type UserStats struct {
	ExternalUserID    string `json:"external_user_id"`
	Username          string `json:"username,omitempty"`
	FHIScore          int    `json:"fhi_score"`
	FHITitle          string `json:"fhi_title"`
	TotalGrassTouched int    `json:"total_grass_touched"`
	Streak            int    `json:"streak"`
	LongestStreak     int    `json:"longest_streak"`
	Achievements      int    `json:"achievements"`
}

// GetStats returns the user's aggregate, creating the row lazily on first
// contact (same pattern as challenge creation).
func (s *UserService) GetStats(ctx context.Context, externalUserID string) (*UserStats, error) {
	u, err := s.Store.EnsureUser(ctx, externalUserID)
	if err != nil {
		return nil, &PersistenceFault{Op: "ensure user", Err: err}
	}
	unlocks, err := s.Store.Achievements(ctx, externalUserID)
	if err != nil {
		return nil, &PersistenceFault{Op: "read achievements", Err: err}
	}
	return &UserStats{
		ExternalUserID:    u.ExternalUserID,
		Username:          u.Username,
		FHIScore:          u.FHIScore,
		FHITitle:          FHITitle(u.FHIScore),
		TotalGrassTouched: u.TotalGrassTouched,
		Streak:            u.Streak,
		LongestStreak:     u.LongestStreak,
		Achievements:      len(unlocks),
	}, nil
}

// AchievementView joins an unlock with its catalog entry for rendering.
type AchievementView struct {
	models.UserAchievement
	Name        string `json:"name"`
	Description string `json:"description"`
}

// GetAchievements returns the user's unlocks with display fields resolved.
func (s *UserService) GetAchievements(ctx context.Context, externalUserID string) ([]AchievementView, error) {
	unlocks, err := s.Store.Achievements(ctx, externalUserID)
	if err != nil {
		return nil, &PersistenceFault{Op: "read achievements", Err: err}
	}
	views := make([]AchievementView, 0, len(unlocks))
	for _, a := range unlocks {
		view := AchievementView{UserAchievement: a}
		if t := models.AchievementByCode(a.Code); t != nil {
			view.Name = t.Name
			view.Description = t.Description
		}
		views = append(views, view)
	}
	return views, nil
}

// ChallengeHistoryPage is a page of terminal challenges.
type ChallengeHistoryPage struct {
	Challenges []models.Challenge `json:"challenges"`
	Page       int                `json:"page"`
	Size       int                `json:"size"`
	TotalItems int64              `json:"total_items"`
	TotalPages int                `json:"total_pages"`
}

// GetChallengeHistory returns paginated terminal challenges, newest-first.
func (s *UserService) GetChallengeHistory(ctx context.Context, externalUserID string, page, size int) (*ChallengeHistoryPage, error) {
	if page < 1 {
		page = 1
	}
	if size < 1 || size > 100 {
		size = 20
	}
	offset := (page - 1) * size

	history, total, err := s.Store.ChallengeHistory(ctx, externalUserID, size, offset)
	if err != nil {
		return nil, &PersistenceFault{Op: "read challenge history", Err: err}
	}
	return &ChallengeHistoryPage{
		Challenges: history,
		Page:       page,
		Size:       size,
		TotalItems: total,
		TotalPages: int((total + int64(size) - 1) / int64(size)),
	}, nil
}

// LeaderboardEntry is one ranked row.
type LeaderboardEntry struct {
	Rank              int     `json:"rank"`
	ExternalUserID    string  `json:"external_user_id"`
	Username          string  `json:"username"`
	ProfilePictureURL *string `json:"profile_picture_url,omitempty"`
	FHIScore          int     `json:"fhi_score"`
	FHITitle          string  `json:"fhi_title"`
	Streak            int     `json:"streak"`
	TotalGrassTouched int     `json:"total_grass_touched"`
}

// GetLeaderboard returns users ranked by FHI descending.
func (s *UserService) GetLeaderboard(ctx context.Context, limit int) ([]LeaderboardEntry, error) {
	if limit < 1 || limit > 100 {
		limit = 50
	}
	users, err := s.Store.Leaderboard(ctx, limit)
	if err != nil {
		return nil, &PersistenceFault{Op: "read leaderboard", Err: err}
	}
	entries := make([]LeaderboardEntry, len(users))
	for i, u := range users {
		entries[i] = LeaderboardEntry{
			Rank:              i + 1,
			ExternalUserID:    u.ExternalUserID,
			Username:          u.Username,
			ProfilePictureURL: u.ProfilePictureURL,
			FHIScore:          u.FHIScore,
			FHITitle:          FHITitle(u.FHIScore),
			Streak:            u.Streak,
			TotalGrassTouched: u.TotalGrassTouched,
		}
	}
	return entries, nil
}
