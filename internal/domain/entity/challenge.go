package entity

import "time"

// Challenge statuses. Pending is the only non-terminal state.
const (
	ChallengeStatusPending   = "pending"
	ChallengeStatusVerified  = "verified"
	ChallengeStatusExpired   = "expired"
	ChallengeStatusExhausted = "exhausted"
)

// Challenge stores one outstanding verification attempt: one identity, one
// hashed code, one expiry window. The plaintext code is never persisted.
type Challenge struct {
	ID           string     `gorm:"primaryKey;size:36" json:"id"`
	Email        string     `gorm:"size:100;not null;index" json:"email"`
	DisplayName  string     `gorm:"size:100" json:"display_name,omitempty"`
	CodeHash     string     `gorm:"size:64;not null" json:"-"`
	CodeSalt     string     `gorm:"size:64;not null" json:"-"`
	IssuedAt     time.Time  `gorm:"not null;default:CURRENT_TIMESTAMP" json:"issued_at"`
	ExpiresAt    time.Time  `gorm:"not null;index" json:"expires_at"`
	AttemptCount int        `gorm:"not null;default:0" json:"attempt_count"`
	MaxAttempts  int        `gorm:"not null;default:5" json:"max_attempts"`
	Status       string     `gorm:"size:16;not null;default:pending;index" json:"status"`
	LastSentAt   time.Time  `gorm:"not null;default:CURRENT_TIMESTAMP" json:"last_sent_at"`
	ResolvedAt   *time.Time `gorm:"index" json:"resolved_at,omitempty"`
	CreatedAt    time.Time  `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
}

func (Challenge) TableName() string {
	return "challenges"
}

func (c *Challenge) IsPending() bool {
	return c.Status == ChallengeStatusPending
}

func (c *Challenge) IsExpired(now time.Time) bool {
	return now.After(c.ExpiresAt)
}

// IsTerminal reports whether the challenge reached one of the three final
// states. No transition ever leaves a terminal state.
func (c *Challenge) IsTerminal() bool {
	switch c.Status {
	case ChallengeStatusVerified, ChallengeStatusExpired, ChallengeStatusExhausted:
		return true
	default:
		return false
	}
}
