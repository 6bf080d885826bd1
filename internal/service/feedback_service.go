package service

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/yourusername/auth-api/internal/domain/entity"
	"github.com/yourusername/auth-api/internal/domain/repository"
)

// Transmission stages reported back to the caller. Observational only: the
// transcript carries no timing or delivery guarantee.
const (
	StageAccepted       = "accepted"
	StageStored         = "stored"
	StageDispatched     = "dispatched"
	StageDispatchFailed = "dispatch_failed"
)

// TransmissionStage is one entry of the feedback transmission transcript.
type TransmissionStage struct {
	Stage string    `json:"stage"`
	At    time.Time `json:"at"`
}

// FeedbackInput содержит все данные отчета обратной связи
type FeedbackInput struct {
	ReporterEmail string
	Category      string
	Subject       string
	Body          string
	Rating        int
}

// FeedbackService stores reports and relays them to the operator mailbox.
type FeedbackService struct {
	feedbackRepo  repository.FeedbackRepository
	emailService  EmailService
	operatorEmail string
}

func NewFeedbackService(
	feedbackRepo repository.FeedbackRepository,
	emailService EmailService,
	operatorEmail string,
) (*FeedbackService, error) {
	if feedbackRepo == nil {
		return nil, fmt.Errorf("feedback repository is required")
	}
	if emailService == nil {
		return nil, fmt.Errorf("email service is required")
	}
	if operatorEmail == "" {
		return nil, fmt.Errorf("operator email is required")
	}

	return &FeedbackService{
		feedbackRepo:  feedbackRepo,
		emailService:  emailService,
		operatorEmail: operatorEmail,
	}, nil
}

// Submit validates and persists a report, then relays it to the operator.
// Relay failure is recorded in the transcript but does not fail the
// submission: the report is already stored.
func (s *FeedbackService) Submit(ctx context.Context, input FeedbackInput) (*entity.FeedbackReport, []TransmissionStage, error) {
	email := normalizeEmail(input.ReporterEmail)
	if email == "" || !emailPattern.MatchString(email) {
		return nil, nil, fmt.Errorf("%w: implausible reporter email", ErrInvalidIdentity)
	}

	category := strings.TrimSpace(input.Category)
	if category == "" {
		category = entity.FeedbackCategoryGeneral
	}
	if !entity.IsValidFeedbackCategory(category) {
		return nil, nil, fmt.Errorf("%w: unknown feedback category %q", ErrInvalidIdentity, category)
	}
	if strings.TrimSpace(input.Subject) == "" || strings.TrimSpace(input.Body) == "" {
		return nil, nil, fmt.Errorf("%w: subject and body are required", ErrInvalidIdentity)
	}
	if input.Rating < 0 || input.Rating > 5 {
		return nil, nil, fmt.Errorf("%w: rating must be between 0 and 5", ErrInvalidIdentity)
	}

	transcript := []TransmissionStage{{Stage: StageAccepted, At: time.Now()}}

	report := &entity.FeedbackReport{
		ReporterEmail: email,
		Category:      category,
		Subject:       strings.TrimSpace(input.Subject),
		Body:          input.Body,
		Rating:        input.Rating,
	}
	if err := s.feedbackRepo.Create(report); err != nil {
		return nil, nil, fmt.Errorf("failed to store feedback report: %w", err)
	}
	transcript = append(transcript, TransmissionStage{Stage: StageStored, At: time.Now()})

	body := fmt.Sprintf("From: %s\n\n%s", email, report.Body)
	if err := s.emailService.SendFeedbackReport(ctx, s.operatorEmail, category, report.Subject, body, report.Rating); err != nil {
		log.Printf("[FeedbackService] relay failed for report=%d: %v", report.ID, err)
		transcript = append(transcript, TransmissionStage{Stage: StageDispatchFailed, At: time.Now()})
		return report, transcript, nil
	}

	if err := s.feedbackRepo.MarkDispatched(report.ID); err != nil {
		log.Printf("[FeedbackService] failed to mark report=%d dispatched: %v", report.ID, err)
	}
	transcript = append(transcript, TransmissionStage{Stage: StageDispatched, At: time.Now()})

	log.Printf("[FeedbackService] report=%d relayed to operator, category=%s", report.ID, category)
	return report, transcript, nil
}
