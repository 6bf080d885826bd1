package entity

import "time"

// Recognized feedback categories.
const (
	FeedbackCategoryGeneral = "feedback"
	FeedbackCategoryIntel   = "intel"
	FeedbackCategoryIssue   = "issue"
)

// FeedbackReport stores one submitted report before it is relayed to the
// operator mailbox.
type FeedbackReport struct {
	ID            uint       `gorm:"primaryKey" json:"id"`
	ReporterEmail string     `gorm:"size:100;not null;index" json:"reporter_email"`
	Category      string     `gorm:"size:16;not null" json:"category"`
	Subject       string     `gorm:"size:200;not null" json:"subject"`
	Body          string     `gorm:"type:text;not null" json:"body"`
	Rating        int        `gorm:"not null;default:0" json:"rating"`
	DispatchedAt  *time.Time `json:"dispatched_at,omitempty"`
	CreatedAt     time.Time  `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
}

func (FeedbackReport) TableName() string {
	return "feedback_reports"
}

func IsValidFeedbackCategory(category string) bool {
	switch category {
	case FeedbackCategoryGeneral, FeedbackCategoryIntel, FeedbackCategoryIssue:
		return true
	default:
		return false
	}
}
