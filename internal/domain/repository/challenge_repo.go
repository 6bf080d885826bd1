package repository

import (
	"time"

	"github.com/yourusername/auth-api/internal/domain/entity"
)

// ChallengeRepository определяет методы для работы с хранилищем challenge.
// Все изменения статуса проходят через условные обновления: переход
// выполняется только из ожидаемого исходного статуса.
type ChallengeRepository interface {
	// Create сохраняет новый challenge. Возвращает apperrors.ErrConflict,
	// если для email уже существует pending challenge.
	Create(challenge *entity.Challenge) error
	GetByID(id string) (*entity.Challenge, error)

	// SupersedePendingByEmail переводит все pending challenge для email в
	// статус expired. Возвращает количество затронутых записей.
	SupersedePendingByEmail(email string) (int64, error)

	// IncrementAttempts атомарно увеличивает счетчик попыток и возвращает
	// новое значение.
	IncrementAttempts(id string) (int, error)

	// TransitionStatus переводит challenge из статуса from в статус to.
	// Возвращает apperrors.ErrConflict, если текущий статус не равен from.
	TransitionStatus(id, from, to string) error

	// DeleteResolvedBefore удаляет терминальные записи старше cutoff.
	// Используется опциональной фоновой очисткой.
	DeleteResolvedBefore(cutoff time.Time) (int64, error)
}
