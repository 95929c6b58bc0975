package models

import "time"

// PendingExecution statuses. A record leaves the awaiting set exactly once.
const (
	PendingAwaiting = "awaiting"
	PendingExecuted = "executed"
	PendingDeclined = "declined"
	PendingExpired  = "expired"
)

// PendingExecution is an approval-gated work proposal produced by a voice
// call wrap-up. At most one awaiting record may exist per (channel, thread).
type PendingExecution struct {
	ID          string    `gorm:"primaryKey;size:36"`
	Channel     string    `gorm:"size:128;index:idx_pending_thread"`
	ThreadTS    string    `gorm:"size:64;index:idx_pending_thread"`
	Plan        string    `gorm:"type:text"`
	ActionItems string    `gorm:"type:json"` // JSON array of {description, owner, context}
	Transcript  string    `gorm:"type:mediumtext"`
	Status      string    `gorm:"size:16;default:awaiting;index"` // awaiting, executed, declined, expired
	CreatedAt   time.Time
	ResolvedAt  *time.Time
}
