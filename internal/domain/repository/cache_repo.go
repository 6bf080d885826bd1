package repository

import "time"

// CacheRepository определяет методы для работы с кешем (Redis).
type CacheRepository interface {
	// SetNX устанавливает значение, только если ключ не существует.
	// Возвращает true, если ключ был установлен.
	SetNX(key string, value interface{}, expiration time.Duration) (bool, error)

	// TTL возвращает оставшееся время жизни ключа.
	TTL(key string) (time.Duration, error)
}
