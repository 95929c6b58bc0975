package store

import (
	"fmt"
	"sync"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/majordomo-sh/majordomo/internal/models"
)

// Sessions maps chat threads to agent conversations. The in-memory map is
// the working set; every mutation is persisted before it is visible to
// callers. Load() hydrates the map at startup with no age cutoff: an agent
// session id from months ago still resumes.
type Sessions struct {
	db *gorm.DB

	mu    sync.RWMutex
	byKey map[string]models.Session
}

// NewSessions creates the session store. Call Load before first use.
func NewSessions(db *gorm.DB) (*Sessions, error) {
	if db == nil {
		return nil, fmt.Errorf("store: sessions: db is required")
	}
	return &Sessions{db: db, byKey: make(map[string]models.Session)}, nil
}

// ThreadKey builds the lookup key for a channel/thread pair. Top-level
// messages (no thread ts) key on the bare channel.
func ThreadKey(channel, threadTS string) string {
	if threadTS == "" {
		return channel
	}
	return channel + ":" + threadTS
}

// Load reads every session row into memory.
func (s *Sessions) Load() error {
	var rows []models.Session
	if err := s.db.Find(&rows).Error; err != nil {
		return fmt.Errorf("store: load sessions: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byKey = make(map[string]models.Session, len(rows))
	for _, r := range rows {
		s.byKey[r.ThreadKey] = r
	}
	return nil
}

// Get returns a copy of the session for key.
func (s *Sessions) Get(key string) (models.Session, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.byKey[key]
	return sess, ok
}

// Put upserts a session by thread key and refreshes the in-memory copy.
// The row is durable before Put returns.
func (s *Sessions) Put(sess models.Session) error {
	if sess.ThreadKey == "" {
		return fmt.Errorf("store: put session: thread key is required")
	}
	err := s.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "thread_key"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"agent_session_id", "model", "channel", "thread_ts",
			"turns", "boot_notified", "last_activity", "updated_at",
		}),
	}).Create(&sess).Error
	if err != nil {
		return fmt.Errorf("store: put session %s: %w", sess.ThreadKey, err)
	}
	s.mu.Lock()
	s.byKey[sess.ThreadKey] = sess
	s.mu.Unlock()
	return nil
}

// Count returns the number of tracked sessions.
func (s *Sessions) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byKey)
}

// MostRecentActive returns the session with the newest activity inside
// window that still has routing metadata, if any. The voice gateway uses it
// to pick the thread a call belongs to.
func (s *Sessions) MostRecentActive(now time.Time, window time.Duration) (models.Session, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var (
		best  models.Session
		found bool
	)
	cutoff := now.Add(-window)
	for _, sess := range s.byKey {
		if sess.Channel == "" {
			continue
		}
		if window > 0 && sess.LastActivity.Before(cutoff) {
			continue
		}
		if !found || sess.LastActivity.After(best.LastActivity) {
			best = sess
			found = true
		}
	}
	return best, found
}

// SweepIdle clears routing and model metadata on sessions idle past
// threshold. The agent session id and turn counter survive: idleness ends
// delivery routing, not the conversation. Each swept session gets an audit
// note. Returns the number swept.
func (s *Sessions) SweepIdle(threshold time.Duration, now time.Time) (int, error) {
	cutoff := now.Add(-threshold)

	s.mu.Lock()
	var stale []models.Session
	for _, sess := range s.byKey {
		if sess.LastActivity.After(cutoff) {
			continue
		}
		if sess.Model == "" && sess.Channel == "" && sess.ThreadTS == "" {
			continue // already swept
		}
		stale = append(stale, sess)
	}
	s.mu.Unlock()

	swept := 0
	for _, sess := range stale {
		idleFor := now.Sub(sess.LastActivity).Round(time.Minute)
		sess.Model = ""
		sess.Channel = ""
		sess.ThreadTS = ""
		if err := s.Put(sess); err != nil {
			return swept, err
		}
		appendAudit(s.db, sess.ThreadKey, "idle-sweep",
			fmt.Sprintf("cleared routing/model metadata after %s idle", idleFor))
		swept++
	}
	return swept, nil
}
