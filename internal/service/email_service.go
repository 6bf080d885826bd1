package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/resend/resend-go/v2"
)

// EmailService is the out-of-band delivery channel. Delivery failures are
// logged by callers but never surfaced to the challenge flow.
type EmailService interface {
	SendVerificationCode(ctx context.Context, toEmail, code string, ttl time.Duration, idempotencyKey string) error
	SendFeedbackReport(ctx context.Context, toEmail, category, subject, body string, rating int) error
}

// NoopEmailService is used when delivery is disabled.
type NoopEmailService struct{}

// SendVerificationCode logs the code instead of sending it, so the flow can
// still be completed when delivery is disabled.
func (s *NoopEmailService) SendVerificationCode(ctx context.Context, toEmail, code string, ttl time.Duration, idempotencyKey string) error {
	log.Printf("[EmailService] delivery disabled, verification code for %s is %s (expires in %s)", toEmail, code, ttl)
	return nil
}

func (s *NoopEmailService) SendFeedbackReport(ctx context.Context, toEmail, category, subject, body string, rating int) error {
	log.Printf("[EmailService] noop send feedback report to=%s category=%s", toEmail, category)
	return nil
}

// ResendEmailService sends emails via Resend REST API.
type ResendEmailService struct {
	from   string
	client *resend.Client
}

func NewResendEmailService(apiKey, from string) (*ResendEmailService, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("resend api key is required")
	}
	if from == "" {
		return nil, fmt.Errorf("email from is required")
	}
	return &ResendEmailService{
		from:   from,
		client: resend.NewClient(apiKey),
	}, nil
}

func (s *ResendEmailService) SendVerificationCode(ctx context.Context, toEmail, code string, ttl time.Duration, idempotencyKey string) error {
	if toEmail == "" || code == "" {
		return fmt.Errorf("toEmail and code are required")
	}

	minutes := int(ttl.Minutes())
	if minutes <= 0 {
		minutes = 10
	}

	params := &resend.SendEmailRequest{
		From:    s.from,
		To:      []string{toEmail},
		Subject: "Your verification code",
		Text:    fmt.Sprintf("Your verification code is %s. It expires in %d minutes.", code, minutes),
		Html:    fmt.Sprintf("<p>Your verification code is <strong>%s</strong>.</p><p>It expires in %d minutes.</p>", code, minutes),
	}

	options := &resend.SendEmailOptions{}
	if strings.TrimSpace(idempotencyKey) != "" {
		options.IdempotencyKey = strings.TrimSpace(idempotencyKey)
	}

	return s.sendWithRetries(ctx, params, options)
}

func (s *ResendEmailService) SendFeedbackReport(ctx context.Context, toEmail, category, subject, body string, rating int) error {
	if toEmail == "" || subject == "" {
		return fmt.Errorf("toEmail and subject are required")
	}

	params := &resend.SendEmailRequest{
		From:    s.from,
		To:      []string{toEmail},
		Subject: fmt.Sprintf("[%s] %s", strings.ToUpper(category), subject),
		Text:    fmt.Sprintf("Category: %s\nRating: %d/5\n\n%s", category, rating, body),
	}

	return s.sendWithRetries(ctx, params, &resend.SendEmailOptions{})
}

func (s *ResendEmailService) sendWithRetries(ctx context.Context, params *resend.SendEmailRequest, options *resend.SendEmailOptions) error {
	var lastErr error
	for attempt := 0; attempt < 3; attempt++ {
		_, err := s.client.Emails.SendWithOptions(ctx, params, options)
		if err == nil {
			return nil
		}
		lastErr = err

		if wait, ok := resendRetryDelay(err, attempt); ok {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(wait):
				continue
			}
		}

		return fmt.Errorf("resend send failed: %w", err)
	}

	return fmt.Errorf("resend send failed after retries: %w", lastErr)
}

func resendRetryDelay(err error, attempt int) (time.Duration, bool) {
	var rateLimitErr *resend.RateLimitError
	if errors.As(err, &rateLimitErr) {
		if seconds, convErr := strconv.Atoi(strings.TrimSpace(rateLimitErr.RetryAfter)); convErr == nil && seconds > 0 {
			if seconds > 30 {
				seconds = 30
			}
			return time.Duration(seconds) * time.Second, true
		}
		return time.Duration(attempt+1) * time.Second, true
	}

	var netErr net.Error
	if errors.As(err, &netErr) && (netErr.Timeout() || netErr.Temporary()) {
		return time.Duration(attempt+1) * 500 * time.Millisecond, true
	}

	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "timeout") || strings.Contains(msg, "temporar") {
		return time.Duration(attempt+1) * 500 * time.Millisecond, true
	}

	return 0, false
}
