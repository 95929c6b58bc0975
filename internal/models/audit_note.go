package models

import "time"

// AuditNote is an append-only operational trail: idle sweeps, context
// resets, boot notifications, pending-execution expiries.
type AuditNote struct {
	ID        uint      `gorm:"primaryKey;autoIncrement"`
	ThreadKey string    `gorm:"size:192;index"`
	Event     string    `gorm:"size:32;not null"`
	Note      string    `gorm:"type:text"`
	CreatedAt time.Time
}
