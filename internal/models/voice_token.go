package models

import "time"

// VoiceToken records a minted call token. Each token admits exactly one
// websocket connection; ConsumedAt marks it spent.
type VoiceToken struct {
	JTI        string    `gorm:"primaryKey;size:36"`
	ExpiresAt  time.Time `gorm:"index"`
	ConsumedAt *time.Time
	CreatedAt  time.Time
}
