package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/majordomo-sh/majordomo/internal/models"
)

// ErrPendingExists reports that a thread already has an awaiting execution.
// The existing record wins; callers decide what to tell the user.
var ErrPendingExists = errors.New("store: pending execution already awaiting for this thread")

// ActionItem is one unit of follow-up work extracted from a call.
type ActionItem struct {
	Description string `json:"description"`
	Owner       string `json:"owner"` // "agent" or "user"
	Context     string `json:"context,omitempty"`
}

// AgentOwned reports whether any item needs the agent to act. Owner values
// come out of a model, so matching is case-insensitive.
func AgentOwned(items []ActionItem) bool {
	for _, it := range items {
		if strings.EqualFold(it.Owner, "agent") {
			return true
		}
	}
	return false
}

// Pendings stores approval-gated execution proposals.
type Pendings struct {
	db *gorm.DB
}

// NewPendings creates the pending-execution store.
func NewPendings(db *gorm.DB) (*Pendings, error) {
	if db == nil {
		return nil, fmt.Errorf("store: pendings: db is required")
	}
	return &Pendings{db: db}, nil
}

// Create writes a new awaiting record for the thread. At most one awaiting
// record may exist per (channel, thread); a second create fails with
// ErrPendingExists and leaves the first untouched.
func (p *Pendings) Create(channel, threadTS, plan, transcript string, items []ActionItem) (models.PendingExecution, error) {
	itemsJSON, err := json.Marshal(items)
	if err != nil {
		return models.PendingExecution{}, fmt.Errorf("store: marshal action items: %w", err)
	}

	pe := models.PendingExecution{
		ID:          uuid.NewString(),
		Channel:     channel,
		ThreadTS:    threadTS,
		Plan:        plan,
		ActionItems: string(itemsJSON),
		Transcript:  transcript,
		Status:      models.PendingAwaiting,
		CreatedAt:   time.Now(),
	}

	err = p.db.Transaction(func(tx *gorm.DB) error {
		var n int64
		if err := tx.Model(&models.PendingExecution{}).
			Where("channel = ? AND thread_ts = ? AND status = ?", channel, threadTS, models.PendingAwaiting).
			Count(&n).Error; err != nil {
			return fmt.Errorf("store: check awaiting: %w", err)
		}
		if n > 0 {
			return ErrPendingExists
		}
		if err := tx.Create(&pe).Error; err != nil {
			return fmt.Errorf("store: create pending execution: %w", err)
		}
		return nil
	})
	if err != nil {
		return models.PendingExecution{}, err
	}
	return pe, nil
}

// CountAwaiting returns the number of records still awaiting approval.
func (p *Pendings) CountAwaiting() (int, error) {
	var n int64
	if err := p.db.Model(&models.PendingExecution{}).
		Where("status = ?", models.PendingAwaiting).Count(&n).Error; err != nil {
		return 0, fmt.Errorf("store: count awaiting: %w", err)
	}
	return int(n), nil
}

// FindAwaiting returns the awaiting record for a thread, if any.
func (p *Pendings) FindAwaiting(channel, threadTS string) (models.PendingExecution, bool, error) {
	var pe models.PendingExecution
	err := p.db.Where("channel = ? AND thread_ts = ? AND status = ?", channel, threadTS, models.PendingAwaiting).
		First(&pe).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return models.PendingExecution{}, false, nil
	}
	if err != nil {
		return models.PendingExecution{}, false, fmt.Errorf("store: find awaiting: %w", err)
	}
	return pe, true, nil
}

// Items decodes a record's action items.
func Items(pe models.PendingExecution) ([]ActionItem, error) {
	if pe.ActionItems == "" {
		return nil, nil
	}
	var items []ActionItem
	if err := json.Unmarshal([]byte(pe.ActionItems), &items); err != nil {
		return nil, fmt.Errorf("store: decode action items: %w", err)
	}
	return items, nil
}

// Resolve moves an awaiting record to a terminal status. Resolving an
// already-resolved record is an error, which keeps the gate single-shot.
func (p *Pendings) Resolve(id, status string) error {
	now := time.Now()
	res := p.db.Model(&models.PendingExecution{}).
		Where("id = ? AND status = ?", id, models.PendingAwaiting).
		Updates(map[string]interface{}{"status": status, "resolved_at": &now})
	if res.Error != nil {
		return fmt.Errorf("store: resolve pending %s: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("store: resolve pending %s: not awaiting", id)
	}
	return nil
}

// PurgeExpired expires awaiting records older than maxAge, silently: no
// chat notification, just an audit note. Returns the number expired.
func (p *Pendings) PurgeExpired(maxAge time.Duration, now time.Time) (int, error) {
	var stale []models.PendingExecution
	cutoff := now.Add(-maxAge)
	if err := p.db.Where("status = ? AND created_at < ?", models.PendingAwaiting, cutoff).
		Find(&stale).Error; err != nil {
		return 0, fmt.Errorf("store: find expired pendings: %w", err)
	}

	for _, pe := range stale {
		if err := p.Resolve(pe.ID, models.PendingExpired); err != nil {
			return 0, err
		}
		appendAudit(p.db, ThreadKey(pe.Channel, pe.ThreadTS), "pending-expired",
			fmt.Sprintf("pending execution %s expired after %s", pe.ID, maxAge))
	}
	return len(stale), nil
}
