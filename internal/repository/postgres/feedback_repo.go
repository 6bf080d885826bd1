package postgres

import (
	"time"

	"github.com/yourusername/auth-api/internal/domain/entity"
	"gorm.io/gorm"
)

type FeedbackRepo struct {
	db *gorm.DB
}

func NewFeedbackRepo(db *gorm.DB) *FeedbackRepo {
	return &FeedbackRepo{db: db}
}

func (r *FeedbackRepo) Create(report *entity.FeedbackReport) error {
	return r.db.Create(report).Error
}

func (r *FeedbackRepo) MarkDispatched(id uint) error {
	now := time.Now()
	return r.db.Model(&entity.FeedbackReport{}).
		Where("id = ?", id).
		Update("dispatched_at", &now).Error
}
