package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/google/uuid"
	"github.com/yourusername/auth-api/internal/domain/entity"
)

const sessionIssuer = "auth-api"

// SessionClaims содержит пользовательские поля токена сессии
type SessionClaims struct {
	Email       string `json:"email"`
	DisplayName string `json:"display_name,omitempty"`
	jwt.RegisteredClaims
}

// SessionService выпускает и проверяет токены сессий (HMAC JWT)
type SessionService struct {
	secret []byte
	ttl    time.Duration
}

// NewSessionService создает новый сервис сессий и возвращает ошибку при проблемах
func NewSessionService(secret string, ttl time.Duration) (*SessionService, error) {
	if secret == "" {
		return nil, fmt.Errorf("session signing secret is required")
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &SessionService{
		secret: []byte(secret),
		ttl:    ttl,
	}, nil
}

// Issue создает новую сессию для подтвержденной идентичности
func (s *SessionService) Issue(email, displayName string) (*entity.Session, error) {
	now := time.Now()
	expiresAt := now.Add(s.ttl)

	claims := &SessionClaims{
		Email:       email,
		DisplayName: displayName,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    sessionIssuer,
			Subject:   email,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return nil, fmt.Errorf("failed to sign session token: %w", err)
	}

	return &entity.Session{
		Token:       signed,
		Email:       email,
		DisplayName: displayName,
		IssuedAt:    now,
		ExpiresAt:   expiresAt,
	}, nil
}

// Parse проверяет и расшифровывает токен сессии
func (s *SessionService) Parse(tokenString string) (*SessionClaims, error) {
	claims := &SessionClaims{}

	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.secret, nil
	})
	if err != nil {
		var ve *jwt.ValidationError
		if errors.As(err, &ve) && ve.Errors&jwt.ValidationErrorExpired != 0 {
			return nil, errors.New("session token is expired")
		}
		return nil, fmt.Errorf("invalid session token: %w", err)
	}
	if !token.Valid {
		return nil, errors.New("invalid session token")
	}
	if claims.Issuer != sessionIssuer {
		return nil, errors.New("unexpected session token issuer")
	}
	return claims, nil
}
