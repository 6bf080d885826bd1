package entity

import "time"

// Session is the artifact produced on successful verification. Its lifecycle
// beyond issuance (renewal, logout) is owned by the consumer.
type Session struct {
	Token       string    `json:"token"`
	Email       string    `json:"email"`
	DisplayName string    `json:"display_name,omitempty"`
	IssuedAt    time.Time `json:"issued_at"`
	ExpiresAt   time.Time `json:"expires_at"`
}
