package models

import "time"

// CallRecord archives one voice call that produced at least one assistant
// turn. Topics come out of the wrap-up's action-item scan; Summary is the
// conversational summary posted back to chat.
type CallRecord struct {
	ID        string `gorm:"primaryKey;size:36"`
	Channel   string `gorm:"size:128"`
	ThreadTS  string `gorm:"size:64"`
	SessionID string `gorm:"size:64"`
	Topics    string `gorm:"type:json"`
	Summary   string `gorm:"type:text"`
	StartedAt time.Time
	EndedAt   time.Time `gorm:"index"`

	Lines []CallLine `gorm:"foreignKey:CallID"`
}

// CallLine is a single finalized utterance or spoken reply within a call.
type CallLine struct {
	ID       uint   `gorm:"primaryKey;autoIncrement"`
	CallID   string `gorm:"size:36;index"`
	Sequence int    `gorm:"not null"`
	Role     string `gorm:"size:16;not null"` // "caller" or "assistant"
	Text     string `gorm:"type:text;not null"`
	SpokenAt time.Time

	Call CallRecord `gorm:"foreignKey:CallID"`
}
