package tokenstore

import "time"

// Where a bad token was learned from.
const (
	SourceRejection = "rejection"
	SourceFeedback  = "feedback"
)

// InvalidToken is a device token the gateway rejected or the feedback service
// reported as no longer registered.
type InvalidToken struct {
	ID          uint      `gorm:"primaryKey"`
	Token       string    `gorm:"size:64;not null;uniqueIndex"`
	Reason      string    `gorm:"size:32"`
	Source      string    `gorm:"size:16;index"`
	ReportedAt  time.Time `gorm:"index"`
	Occurrences int       `gorm:"not null;default:1"`
	CreatedAt   time.Time
	UpdatedAt   time.Time
}
