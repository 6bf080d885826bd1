package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/yourusername/auth-api/pkg/auth"
)

// AuthMiddleware обеспечивает аутентификацию для защищенных маршрутов
type AuthMiddleware struct {
	sessionService *auth.SessionService
}

// NewAuthMiddleware создает новый middleware проверки сессий
func NewAuthMiddleware(sessionService *auth.SessionService) *AuthMiddleware {
	return &AuthMiddleware{sessionService: sessionService}
}

// RequireSession проверяет токен сессии из заголовка Authorization
func (m *AuthMiddleware) RequireSession() gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Authorization header is required", "error_type": "token_missing"})
			c.Abort()
			return
		}

		// Проверяем формат заголовка Bearer {token}
		parts := strings.Split(authHeader, " ")
		if len(parts) != 2 || parts[0] != "Bearer" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Authorization header format must be Bearer {token}", "error_type": "token_format"})
			c.Abort()
			return
		}

		claims, err := m.sessionService.Parse(parts[1])
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid or expired session token", "error_type": "token_invalid"})
			c.Abort()
			return
		}

		// Устанавливаем идентичность в контекст
		c.Set("email", claims.Email)
		c.Set("display_name", claims.DisplayName)

		c.Next()
	}
}
