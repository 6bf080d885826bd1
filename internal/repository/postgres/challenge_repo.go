package postgres

import (
	"errors"
	"fmt"
	"time"

	"github.com/yourusername/auth-api/internal/domain/entity"
	apperrors "github.com/yourusername/auth-api/internal/pkg/errors"
	"gorm.io/gorm"
)

type ChallengeRepo struct {
	db *gorm.DB
}

func NewChallengeRepo(db *gorm.DB) *ChallengeRepo {
	return &ChallengeRepo{db: db}
}

func (r *ChallengeRepo) Create(challenge *entity.Challenge) error {
	if err := r.db.Create(challenge).Error; err != nil {
		// Нарушение частичного уникального индекса по pending email
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return apperrors.ErrConflict
		}
		return fmt.Errorf("failed to create challenge: %w", err)
	}
	return nil
}

func (r *ChallengeRepo) GetByID(id string) (*entity.Challenge, error) {
	var challenge entity.Challenge
	err := r.db.Where("id = ?", id).First(&challenge).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get challenge: %w", err)
	}
	return &challenge, nil
}

func (r *ChallengeRepo) SupersedePendingByEmail(email string) (int64, error) {
	now := time.Now()
	result := r.db.Model(&entity.Challenge{}).
		Where("email = ? AND status = ?", email, entity.ChallengeStatusPending).
		Updates(map[string]interface{}{
			"status":      entity.ChallengeStatusExpired,
			"resolved_at": &now,
		})
	if result.Error != nil {
		return 0, fmt.Errorf("failed to supersede pending challenges: %w", result.Error)
	}
	return result.RowsAffected, nil
}

// IncrementAttempts выполняет атомарный инкремент и перечитывает счетчик в
// одной записи, чтобы два конкурентных verify не увидели одинаковое значение.
func (r *ChallengeRepo) IncrementAttempts(id string) (int, error) {
	err := r.db.Model(&entity.Challenge{}).
		Where("id = ?", id).
		Update("attempt_count", gorm.Expr("attempt_count + 1")).Error
	if err != nil {
		return 0, fmt.Errorf("failed to increment attempts: %w", err)
	}

	var challenge entity.Challenge
	if err := r.db.Select("attempt_count").Where("id = ?", id).First(&challenge).Error; err != nil {
		return 0, fmt.Errorf("failed to read attempt count: %w", err)
	}
	return challenge.AttemptCount, nil
}

// TransitionStatus — условное обновление (compare-and-swap): статус меняется
// только если текущее значение равно from. RowsAffected == 0 означает, что
// другой вызов уже перевел challenge в терминальный статус.
func (r *ChallengeRepo) TransitionStatus(id, from, to string) error {
	now := time.Now()
	result := r.db.Model(&entity.Challenge{}).
		Where("id = ? AND status = ?", id, from).
		Updates(map[string]interface{}{
			"status":      to,
			"resolved_at": &now,
		})
	if result.Error != nil {
		return fmt.Errorf("failed to transition challenge status: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return apperrors.ErrConflict
	}
	return nil
}

func (r *ChallengeRepo) DeleteResolvedBefore(cutoff time.Time) (int64, error) {
	result := r.db.
		Where("status <> ? AND resolved_at < ?", entity.ChallengeStatusPending, cutoff).
		Delete(&entity.Challenge{})
	if result.Error != nil {
		return 0, fmt.Errorf("failed to delete resolved challenges: %w", result.Error)
	}
	return result.RowsAffected, nil
}
