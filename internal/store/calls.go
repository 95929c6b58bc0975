package store

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/majordomo-sh/majordomo/internal/models"
)

// Line is one transcript entry in playback order.
type Line struct {
	Role string // "caller" or "assistant"
	Text string
	At   time.Time
}

// Calls archives finished voice calls with their transcripts.
type Calls struct {
	db *gorm.DB
}

// NewCalls creates the call archive.
func NewCalls(db *gorm.DB) (*Calls, error) {
	if db == nil {
		return nil, fmt.Errorf("store: calls: db is required")
	}
	return &Calls{db: db}, nil
}

// Save writes one call record and its transcript lines atomically. Returns
// the record id.
func (c *Calls) Save(channel, threadTS, sessionID, summary string, topics []string, startedAt, endedAt time.Time, lines []Line) (string, error) {
	topicsJSON, err := json.Marshal(topics)
	if err != nil {
		return "", fmt.Errorf("store: marshal topics: %w", err)
	}

	rec := models.CallRecord{
		ID:        uuid.NewString(),
		Channel:   channel,
		ThreadTS:  threadTS,
		SessionID: sessionID,
		Topics:    string(topicsJSON),
		Summary:   summary,
		StartedAt: startedAt,
		EndedAt:   endedAt,
	}

	err = c.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&rec).Error; err != nil {
			return fmt.Errorf("store: create call record: %w", err)
		}
		for i, ln := range lines {
			row := models.CallLine{
				CallID:   rec.ID,
				Sequence: i + 1,
				Role:     ln.Role,
				Text:     ln.Text,
				SpokenAt: ln.At,
			}
			if err := tx.Create(&row).Error; err != nil {
				return fmt.Errorf("store: create call line %d: %w", i+1, err)
			}
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	return rec.ID, nil
}

// Recent returns the n most recently ended calls, newest first, without
// transcript lines.
func (c *Calls) Recent(n int) ([]models.CallRecord, error) {
	var recs []models.CallRecord
	if err := c.db.Order("ended_at DESC").Limit(n).Find(&recs).Error; err != nil {
		return nil, fmt.Errorf("store: recent calls: %w", err)
	}
	return recs, nil
}

// Transcript loads a call's lines in order.
func (c *Calls) Transcript(callID string) ([]models.CallLine, error) {
	var lines []models.CallLine
	if err := c.db.Where("call_id = ?", callID).Order("sequence ASC").Find(&lines).Error; err != nil {
		return nil, fmt.Errorf("store: transcript %s: %w", callID, err)
	}
	return lines, nil
}
