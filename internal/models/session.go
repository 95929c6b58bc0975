package models

import "time"

// Session binds one chat thread to one agent conversation. ThreadKey is
// "<channel>:<thread ts>" (or the bare channel for top-level traffic) and is
// the only lookup key the bridge uses. AgentSessionID survives idle sweeps;
// routing and model metadata do not.
type Session struct {
	ID             uint      `gorm:"primaryKey;autoIncrement"`
	ThreadKey      string    `gorm:"size:192;uniqueIndex;not null"`
	AgentSessionID string    `gorm:"size:64"`
	Model          string    `gorm:"size:32"`
	Channel        string    `gorm:"size:128"`
	ThreadTS       string    `gorm:"size:64"`
	Turns          int       `gorm:"default:0"`
	BootNotified   bool      `gorm:"default:false"`
	LastActivity   time.Time `gorm:"index"`
	CreatedAt      time.Time
	UpdatedAt      time.Time
}
