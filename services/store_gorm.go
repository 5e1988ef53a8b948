package services

import (
	"context"
	"errors"
	"time"

	"github.com/cdermott7/onlygrass/models"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// GormStore is the Postgres-backed ChallengeStore. The one-ACTIVE-per-user
// invariant is enforced by a partial unique index (see EnsureIndexes), so the
// conditional create holds even if two devices race.
type GormStore struct {
	DB *gorm.DB
}

func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{DB: db}
}

// EnsureIndexes creates the partial unique index AutoMigrate cannot express.
func (s *GormStore) EnsureIndexes() error {
	return s.DB.Exec(
		`CREATE UNIQUE INDEX IF NOT EXISTS uniq_active_challenge_per_user
		 ON challenges (external_user_id) WHERE status = 'ACTIVE'`,
	).Error
}

func (s *GormStore) EnsureUser(ctx context.Context, externalUserID string) (*models.User, error) {
	var u models.User
	err := s.DB.WithContext(ctx).Where("external_user_id = ?", externalUserID).First(&u).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		u = models.User{
			ID:             uuid.NewString(),
			ExternalUserID: externalUserID,
		}
		if err := s.DB.WithContext(ctx).Create(&u).Error; err != nil {
			return nil, err
		}
		return &u, nil
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func (s *GormStore) GetUser(ctx context.Context, externalUserID string) (*models.User, error) {
	var u models.User
	err := s.DB.WithContext(ctx).Where("external_user_id = ?", externalUserID).First(&u).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func (s *GormStore) CreateChallenge(ctx context.Context, ch *models.Challenge) error {
	err := s.DB.WithContext(ctx).Create(ch).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		// partial unique index on (external_user_id) WHERE status='ACTIVE'
		return ErrChallengeConflict
	}
	return err
}

func (s *GormStore) GetChallenge(ctx context.Context, id string) (*models.Challenge, error) {
	var ch models.Challenge
	err := s.DB.WithContext(ctx).Where("id = ?", id).First(&ch).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &ch, nil
}

func (s *GormStore) ActiveChallenge(ctx context.Context, externalUserID string) (*models.Challenge, error) {
	var ch models.Challenge
	err := s.DB.WithContext(ctx).
		Where("external_user_id = ? AND status = ?", externalUserID, models.ChallengeActive).
		First(&ch).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &ch, nil
}

func (s *GormStore) RecordAttempt(ctx context.Context, challengeID string) error {
	res := s.DB.WithContext(ctx).Model(&models.Challenge{}).
		Where("id = ? AND status = ?", challengeID, models.ChallengeActive).
		Update("validation_attempts", gorm.Expr("validation_attempts + 1"))
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrInvalidState
	}
	return nil
}

func (s *GormStore) FinalizeOutcome(ctx context.Context, ch *models.Challenge, u *models.User, unlocks []models.UserAchievement) error {
	return s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// Guard on status=ACTIVE so a terminal row can never be rewritten and
		// a racing finalize loses cleanly.
		res := tx.Model(&models.Challenge{}).
			Where("id = ? AND status = ?", ch.ID, models.ChallengeActive).
			Updates(map[string]interface{}{
				"status":               ch.Status,
				"completed_at":         ch.CompletedAt,
				"submission_image_url": ch.SubmissionImageURL,
				"validated":            ch.Validated,
				"points_awarded":       ch.PointsAwarded,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrInvalidState
		}

		if err := tx.Model(&models.User{}).
			Where("external_user_id = ?", u.ExternalUserID).
			Updates(map[string]interface{}{
				"fhi_score":           u.FHIScore,
				"total_grass_touched": u.TotalGrassTouched,
				"streak":              u.Streak,
				"longest_streak":      u.LongestStreak,
				"last_touch_at":       u.LastTouchAt,
			}).Error; err != nil {
			return err
		}

		for i := range unlocks {
			if err := tx.Clauses(clause.OnConflict{DoNothing: true}).
				Create(&unlocks[i]).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *GormStore) StaleActiveChallenges(ctx context.Context, now time.Time, limit int) ([]models.Challenge, error) {
	var stale []models.Challenge
	err := s.DB.WithContext(ctx).
		Where("status = ? AND expires_at <= ?", models.ChallengeActive, now).
		Order("expires_at ASC").
		Limit(limit).
		Find(&stale).Error
	return stale, err
}

func (s *GormStore) ChallengeHistory(ctx context.Context, externalUserID string, limit, offset int) ([]models.Challenge, int64, error) {
	var total int64
	q := s.DB.WithContext(ctx).Model(&models.Challenge{}).
		Where("external_user_id = ? AND status <> ?", externalUserID, models.ChallengeActive)
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var history []models.Challenge
	err := s.DB.WithContext(ctx).
		Where("external_user_id = ? AND status <> ?", externalUserID, models.ChallengeActive).
		Order("started_at DESC").
		Limit(limit).Offset(offset).
		Find(&history).Error
	return history, total, err
}

func (s *GormStore) Achievements(ctx context.Context, externalUserID string) ([]models.UserAchievement, error) {
	var list []models.UserAchievement
	err := s.DB.WithContext(ctx).
		Where("external_user_id = ?", externalUserID).
		Order("unlocked_at DESC").
		Find(&list).Error
	return list, err
}

func (s *GormStore) Leaderboard(ctx context.Context, limit int) ([]models.User, error) {
	var users []models.User
	err := s.DB.WithContext(ctx).
		Order("fhi_score DESC, longest_streak DESC").
		Limit(limit).
		Find(&users).Error
	return users, err
}
