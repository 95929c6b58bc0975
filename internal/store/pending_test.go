package store

import (
	"errors"
	"testing"
	"time"

	"github.com/majordomo-sh/majordomo/internal/models"
)

func newTestPendings(t *testing.T) *Pendings {
	t.Helper()
	p, err := NewPendings(openStoreTestDB(t))
	if err != nil {
		t.Fatalf("NewPendings: %v", err)
	}
	return p
}

func TestPendings_CreateAndFind(t *testing.T) {
	p := newTestPendings(t)

	items := []ActionItem{
		{Description: "book the flight", Owner: "agent", Context: "prefers morning departures"},
		{Description: "pack a charger", Owner: "user"},
	}
	pe, err := p.Create("C01", "1.1", "Travel prep for Lisbon", "user: let's plan the trip", items)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if pe.ID == "" {
		t.Error("Create returned empty ID")
	}
	if pe.Status != models.PendingAwaiting {
		t.Errorf("Status = %q, want %q", pe.Status, models.PendingAwaiting)
	}

	found, ok, err := p.FindAwaiting("C01", "1.1")
	if err != nil {
		t.Fatalf("FindAwaiting: %v", err)
	}
	if !ok {
		t.Fatal("FindAwaiting: not found")
	}
	if found.ID != pe.ID {
		t.Errorf("FindAwaiting ID = %q, want %q", found.ID, pe.ID)
	}

	decoded, err := Items(found)
	if err != nil {
		t.Fatalf("Items: %v", err)
	}
	if len(decoded) != 2 || decoded[0].Description != "book the flight" {
		t.Errorf("Items = %+v, want the two created items", decoded)
	}
}

func TestPendings_SecondAwaitingRejected(t *testing.T) {
	p := newTestPendings(t)

	first, err := p.Create("C01", "1.1", "plan A", "", nil)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	_, err = p.Create("C01", "1.1", "plan B", "", nil)
	if !errors.Is(err, ErrPendingExists) {
		t.Fatalf("second Create error = %v, want ErrPendingExists", err)
	}

	// The earlier pending wins and is untouched.
	found, ok, err := p.FindAwaiting("C01", "1.1")
	if err != nil || !ok {
		t.Fatalf("FindAwaiting after rejected create: ok=%v err=%v", ok, err)
	}
	if found.ID != first.ID || found.Plan != "plan A" {
		t.Errorf("surviving pending = {ID:%q Plan:%q}, want the first one", found.ID, found.Plan)
	}
}

func TestPendings_DifferentThreadsIndependent(t *testing.T) {
	p := newTestPendings(t)

	if _, err := p.Create("C01", "1.1", "plan A", "", nil); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := p.Create("C01", "2.2", "plan B", "", nil); err != nil {
		t.Fatalf("Create in second thread: %v", err)
	}
	if _, err := p.Create("C02", "1.1", "plan C", "", nil); err != nil {
		t.Fatalf("Create in second channel: %v", err)
	}
}

func TestPendings_Resolve(t *testing.T) {
	p := newTestPendings(t)

	pe, err := p.Create("C01", "1.1", "plan", "", nil)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := p.Resolve(pe.ID, models.PendingExecuted); err != nil {
		t.Fatalf("Resolve: %v", err)
	}

	if _, ok, _ := p.FindAwaiting("C01", "1.1"); ok {
		t.Error("resolved pending still reported as awaiting")
	}

	var got models.PendingExecution
	if err := p.db.First(&got, "id = ?", pe.ID).Error; err != nil {
		t.Fatalf("load resolved: %v", err)
	}
	if got.Status != models.PendingExecuted {
		t.Errorf("Status = %q, want %q", got.Status, models.PendingExecuted)
	}
	if got.ResolvedAt == nil {
		t.Error("ResolvedAt not set")
	}

	// Resolving twice is a no-op error; the first resolution stands.
	if err := p.Resolve(pe.ID, models.PendingDeclined); err == nil {
		t.Error("second Resolve should fail")
	}
	p.db.First(&got, "id = ?", pe.ID)
	if got.Status != models.PendingExecuted {
		t.Errorf("Status after double resolve = %q, want %q", got.Status, models.PendingExecuted)
	}
}

func TestPendings_ResolveUnknownID(t *testing.T) {
	p := newTestPendings(t)
	if err := p.Resolve("nope", models.PendingExecuted); err == nil {
		t.Error("Resolve of unknown id should fail")
	}
}

func TestPendings_PurgeExpired(t *testing.T) {
	p := newTestPendings(t)
	now := time.Now()

	stale, err := p.Create("C01", "1.1", "old plan", "", nil)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	p.db.Model(&models.PendingExecution{}).Where("id = ?", stale.ID).
		Update("created_at", now.Add(-25*time.Hour))
	if _, err := p.Create("C02", "2.2", "new plan", "", nil); err != nil {
		t.Fatalf("Create: %v", err)
	}

	n, err := p.PurgeExpired(24*time.Hour, now)
	if err != nil {
		t.Fatalf("PurgeExpired: %v", err)
	}
	if n != 1 {
		t.Errorf("purged = %d, want 1", n)
	}

	var got models.PendingExecution
	p.db.First(&got, "id = ?", stale.ID)
	if got.Status != models.PendingExpired {
		t.Errorf("Status = %q, want %q", got.Status, models.PendingExpired)
	}
	if _, ok, _ := p.FindAwaiting("C02", "2.2"); !ok {
		t.Error("recent pending should survive the purge")
	}

	// An expired slot frees the thread for a new pending.
	if _, err := p.Create("C01", "1.1", "fresh plan", "", nil); err != nil {
		t.Errorf("Create after expiry: %v", err)
	}
}

func TestAgentOwned(t *testing.T) {
	tests := []struct {
		name  string
		items []ActionItem
		want  bool
	}{
		{"empty", nil, false},
		{"user only", []ActionItem{{Description: "call mom", Owner: "user"}}, false},
		{"agent present", []ActionItem{{Description: "call mom", Owner: "user"}, {Description: "draft email", Owner: "agent"}}, true},
		{"case insensitive", []ActionItem{{Description: "draft email", Owner: "Agent"}}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := AgentOwned(tt.items); got != tt.want {
				t.Errorf("AgentOwned = %v, want %v", got, tt.want)
			}
		})
	}
}
