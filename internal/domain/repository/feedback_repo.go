package repository

import "github.com/yourusername/auth-api/internal/domain/entity"

// FeedbackRepository определяет методы для хранения отчетов обратной связи.
type FeedbackRepository interface {
	Create(report *entity.FeedbackReport) error
	MarkDispatched(id uint) error
}
