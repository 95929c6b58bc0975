// Package store owns the durable state shared by the chat bridge and the
// voice gateway: thread sessions, approval-gated pending executions,
// cross-process markers, voice tokens, and call archives. Both processes
// open the same database; every mutation is written through synchronously
// so a crash never loses more than the turn in flight.
package store

import (
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/majordomo-sh/majordomo/internal/models"
)

// Stores bundles every store over one database handle.
type Stores struct {
	Sessions *Sessions
	Pendings *Pendings
	Markers  *Markers
	Tokens   *Tokens
	Calls    *Calls
}

// Open builds all stores over db.
func Open(db *gorm.DB) (*Stores, error) {
	if db == nil {
		return nil, fmt.Errorf("store: db is required")
	}
	sessions, err := NewSessions(db)
	if err != nil {
		return nil, err
	}
	pendings, err := NewPendings(db)
	if err != nil {
		return nil, err
	}
	markers, err := NewMarkers(db)
	if err != nil {
		return nil, err
	}
	tokens, err := NewTokens(db)
	if err != nil {
		return nil, err
	}
	calls, err := NewCalls(db)
	if err != nil {
		return nil, err
	}
	return &Stores{
		Sessions: sessions,
		Pendings: pendings,
		Markers:  markers,
		Tokens:   tokens,
		Calls:    calls,
	}, nil
}

// appendAudit records one operational event. Audit writes are best-effort;
// they must never fail the operation they describe.
func appendAudit(db *gorm.DB, threadKey, event, note string) {
	db.Create(&models.AuditNote{
		ThreadKey: threadKey,
		Event:     event,
		Note:      note,
		CreatedAt: time.Now(),
	})
}
