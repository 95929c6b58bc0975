package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/majordomo-sh/majordomo/internal/models"
)

// ActiveCall marks a live voice connection. Written by the gateway on
// connect, removed on disconnect; the bridge only peeks at it.
type ActiveCall struct {
	ConnID    string    `json:"conn_id"`
	SessionID string    `json:"session_id,omitempty"`
	Channel   string    `json:"channel,omitempty"`
	ThreadTS  string    `json:"thread_ts,omitempty"`
	StartedAt time.Time `json:"started_at"`
}

// RecentCall hands a finished call's context to the bridge exactly once.
type RecentCall struct {
	EndedAt    time.Time `json:"ended_at"`
	Channel    string    `json:"channel,omitempty"`
	ThreadTS   string    `json:"thread_ts,omitempty"`
	SessionID  string    `json:"session_id,omitempty"`
	Topics     []string  `json:"topics,omitempty"`
	Transcript string    `json:"transcript"`
}

// RestartOrigin records which thread asked for a restart so the bridge can
// report back there after it boots.
type RestartOrigin struct {
	Channel  string    `json:"channel"`
	ThreadTS string    `json:"thread_ts,omitempty"`
	At       time.Time `json:"at"`
}

// Markers is the cross-process signal queue: one row per kind, one writer,
// one reader, consumed on read. Each kind carries one of the payload
// structs above as JSON.
type Markers struct {
	db *gorm.DB
}

// NewMarkers creates the marker queue.
func NewMarkers(db *gorm.DB) (*Markers, error) {
	if db == nil {
		return nil, fmt.Errorf("store: markers: db is required")
	}
	return &Markers{db: db}, nil
}

// Put writes the marker for kind, replacing any previous one.
func (m *Markers) Put(kind string, payload interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("store: marshal %s marker: %w", kind, err)
	}
	row := models.Marker{Kind: kind, Payload: string(data), CreatedAt: time.Now()}
	err = m.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "kind"}},
		DoUpdates: clause.AssignmentColumns([]string{"payload", "created_at"}),
	}).Create(&row).Error
	if err != nil {
		return fmt.Errorf("store: put %s marker: %w", kind, err)
	}
	return nil
}

// Take consumes the marker for kind: the row is deleted whether or not it
// is returned. A marker older than maxAge is deleted and reported absent
// (maxAge 0 means no age limit). dest receives the payload on success.
func (m *Markers) Take(kind string, maxAge time.Duration, now time.Time, dest interface{}) (bool, error) {
	var row models.Marker
	found := false

	err := m.db.Transaction(func(tx *gorm.DB) error {
		err := tx.Where("kind = ?", kind).First(&row).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("store: read %s marker: %w", kind, err)
		}
		if err := tx.Delete(&models.Marker{}, "kind = ?", kind).Error; err != nil {
			return fmt.Errorf("store: consume %s marker: %w", kind, err)
		}
		found = true
		return nil
	})
	if err != nil || !found {
		return false, err
	}

	if maxAge > 0 && row.CreatedAt.Before(now.Add(-maxAge)) {
		return false, nil
	}
	if err := json.Unmarshal([]byte(row.Payload), dest); err != nil {
		return false, fmt.Errorf("store: decode %s marker: %w", kind, err)
	}
	return true, nil
}

// Peek reads the marker for kind without consuming it. A marker older than
// maxAge is deleted and reported absent.
func (m *Markers) Peek(kind string, maxAge time.Duration, now time.Time, dest interface{}) (bool, error) {
	var row models.Marker
	err := m.db.Where("kind = ?", kind).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("store: peek %s marker: %w", kind, err)
	}

	if maxAge > 0 && row.CreatedAt.Before(now.Add(-maxAge)) {
		// A stale row means its writer died without cleaning up.
		if err := m.Clear(kind); err != nil {
			return false, err
		}
		return false, nil
	}
	if err := json.Unmarshal([]byte(row.Payload), dest); err != nil {
		return false, fmt.Errorf("store: decode %s marker: %w", kind, err)
	}
	return true, nil
}

// Clear removes the marker for kind if present.
func (m *Markers) Clear(kind string) error {
	if err := m.db.Delete(&models.Marker{}, "kind = ?", kind).Error; err != nil {
		return fmt.Errorf("store: clear %s marker: %w", kind, err)
	}
	return nil
}
