package handler

import (
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/yourusername/auth-api/internal/service"
)

// AuthHandler обрабатывает запросы challenge/verify аутентификации
type AuthHandler struct {
	issuerService   *service.IssuerService
	verifierService *service.VerifierService
}

// NewAuthHandler создает новый обработчик аутентификации
func NewAuthHandler(issuerService *service.IssuerService, verifierService *service.VerifierService) *AuthHandler {
	return &AuthHandler{
		issuerService:   issuerService,
		verifierService: verifierService,
	}
}

// Структуры запросов и ответов

// ChallengeRequest представляет запрос на выпуск кода подтверждения
type ChallengeRequest struct {
	Email       string `json:"email" binding:"required,email"`
	DisplayName string `json:"display_name" binding:"omitempty,max=100"`
}

// ChallengeResponse возвращает метаданные выпущенного challenge.
// Сам код никогда не попадает в ответ, только в канал доставки.
type ChallengeResponse struct {
	ChallengeID string    `json:"challenge_id"`
	Email       string    `json:"email"`
	ExpiresAt   time.Time `json:"expires_at"`
	MaxAttempts int       `json:"max_attempts"`
}

// VerifyRequest представляет запрос на проверку кода
type VerifyRequest struct {
	ChallengeID string `json:"challenge_id" binding:"omitempty,uuid"`
	Code        string `json:"code" binding:"omitempty,len=6,numeric"`
	Email       string `json:"email" binding:"required,email"`
}

// SessionResponse возвращает выпущенную сессию
type SessionResponse struct {
	AccessToken string    `json:"accessToken"`
	TokenType   string    `json:"tokenType"`
	Email       string    `json:"email"`
	DisplayName string    `json:"display_name,omitempty"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// IssueChallenge обрабатывает POST /api/auth/challenge
func (h *AuthHandler) IssueChallenge(c *gin.Context) {
	var req ChallengeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request data", "error_type": "invalid_request", "details": err.Error()})
		return
	}

	issued, err := h.issuerService.Issue(c.Request.Context(), service.IdentityClaim{
		Email:       req.Email,
		DisplayName: req.DisplayName,
	})
	if err != nil {
		h.handleVerificationError(c, err)
		return
	}

	// 202: код принят к доставке, подтверждение придет отдельным каналом
	c.JSON(http.StatusAccepted, ChallengeResponse{
		ChallengeID: issued.Challenge.ID,
		Email:       issued.Challenge.Email,
		ExpiresAt:   issued.Challenge.ExpiresAt,
		MaxAttempts: issued.Challenge.MaxAttempts,
	})
}

// VerifyChallenge обрабатывает POST /api/auth/verify
func (h *AuthHandler) VerifyChallenge(c *gin.Context) {
	var req VerifyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request data", "error_type": "invalid_request", "details": err.Error()})
		return
	}

	session, err := h.verifierService.Verify(req.ChallengeID, req.Code, req.Email)
	if err != nil {
		h.handleVerificationError(c, err)
		return
	}

	c.JSON(http.StatusOK, SessionResponse{
		AccessToken: session.Token,
		TokenType:   "Bearer",
		Email:       session.Email,
		DisplayName: session.DisplayName,
		ExpiresAt:   session.ExpiresAt,
	})
}

// Me обрабатывает GET /api/session/me (требует RequireSession middleware)
func (h *AuthHandler) Me(c *gin.Context) {
	email, exists := c.Get("email")
	if !exists {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized", "error_type": "token_missing"})
		return
	}

	displayName, _ := c.Get("display_name")
	c.JSON(http.StatusOK, gin.H{
		"email":        email,
		"display_name": displayName,
	})
}

// handleVerificationError транслирует ошибки сервисов в HTTP ответы.
// error_type стабилен: клиент по нему решает, повторить ввод кода
// (code_mismatch) или начать заново (остальные терминальные случаи).
func (h *AuthHandler) handleVerificationError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrInvalidIdentity):
		c.JSON(http.StatusBadRequest, gin.H{"error": "Implausible identity", "error_type": "invalid_identity"})
	case errors.Is(err, service.ErrResendCooldown):
		c.JSON(http.StatusTooManyRequests, gin.H{"error": "A code was sent recently. Please wait before requesting another.", "error_type": "resend_cooldown"})
	case errors.Is(err, service.ErrChallengeNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "Challenge not found", "error_type": "challenge_not_found"})
	case errors.Is(err, service.ErrAlreadyResolved):
		c.JSON(http.StatusConflict, gin.H{"error": "Challenge already resolved. Request a new code.", "error_type": "challenge_already_resolved"})
	case errors.Is(err, service.ErrChallengeExpired):
		c.JSON(http.StatusGone, gin.H{"error": "Challenge expired. Request a new code.", "error_type": "challenge_expired"})
	case errors.Is(err, service.ErrTooManyAttempts):
		c.JSON(http.StatusTooManyRequests, gin.H{"error": "Attempt budget exhausted. Request a new code.", "error_type": "too_many_attempts"})
	case errors.Is(err, service.ErrCodeMismatch):
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Incorrect code", "error_type": "code_mismatch"})
	default:
		log.Printf("[AuthHandler] Внутренняя ошибка: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error", "error_type": "internal_server_error"})
	}
}
