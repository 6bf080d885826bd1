package handler

import (
	"errors"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/yourusername/auth-api/internal/service"
)

// FeedbackHandler обрабатывает отчеты обратной связи
type FeedbackHandler struct {
	feedbackService *service.FeedbackService
}

func NewFeedbackHandler(feedbackService *service.FeedbackService) *FeedbackHandler {
	return &FeedbackHandler{feedbackService: feedbackService}
}

// FeedbackRequest представляет запрос на отправку отчета
type FeedbackRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Category string `json:"category" binding:"omitempty,max=32"`
	Subject  string `json:"subject" binding:"required,max=200"`
	Body     string `json:"body" binding:"required,max=5000"`
	Rating   int    `json:"rating" binding:"omitempty,min=0,max=5"`
}

// Submit обрабатывает POST /api/feedback
func (h *FeedbackHandler) Submit(c *gin.Context) {
	var req FeedbackRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request data", "error_type": "invalid_request", "details": err.Error()})
		return
	}

	report, transcript, err := h.feedbackService.Submit(c.Request.Context(), service.FeedbackInput{
		ReporterEmail: req.Email,
		Category:      req.Category,
		Subject:       req.Subject,
		Body:          req.Body,
		Rating:        req.Rating,
	})
	if err != nil {
		if errors.Is(err, service.ErrInvalidIdentity) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "error_type": "invalid_request"})
			return
		}
		log.Printf("[FeedbackHandler] Внутренняя ошибка: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error", "error_type": "internal_server_error"})
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"report_id":  report.ID,
		"category":   report.Category,
		"transcript": transcript,
	})
}
