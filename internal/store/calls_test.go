package store

import (
	"testing"
	"time"
)

func newTestCalls(t *testing.T) *Calls {
	t.Helper()
	c, err := NewCalls(openStoreTestDB(t))
	if err != nil {
		t.Fatalf("NewCalls: %v", err)
	}
	return c
}

func TestCalls_SaveAndTranscript(t *testing.T) {
	c := newTestCalls(t)
	start := time.Now().Add(-3 * time.Minute)
	end := time.Now()

	lines := []Line{
		{Role: "user", Text: "what's on my calendar?", At: start},
		{Role: "assistant", Text: "Two meetings this afternoon.", At: start.Add(5 * time.Second)},
		{Role: "user", Text: "move the second one", At: start.Add(20 * time.Second)},
	}
	id, err := c.Save("C01", "1.1", "sess-aaa", "Reviewed the afternoon schedule.", []string{"calendar"}, start, end, lines)
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	if id == "" {
		t.Fatal("Save returned empty id")
	}

	got, err := c.Transcript(id)
	if err != nil {
		t.Fatalf("Transcript: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("transcript lines = %d, want 3", len(got))
	}
	for i, line := range got {
		if line.Text != lines[i].Text {
			t.Errorf("line %d = %q, want %q (order must match the call)", i, line.Text, lines[i].Text)
		}
	}
}

func TestCalls_Recent(t *testing.T) {
	c := newTestCalls(t)
	now := time.Now()

	for i, summary := range []string{"first", "second", "third"} {
		end := now.Add(time.Duration(i-3) * time.Hour)
		if _, err := c.Save("C01", "1.1", "", summary, nil, end.Add(-time.Minute), end, nil); err != nil {
			t.Fatalf("Save: %v", err)
		}
	}

	recent, err := c.Recent(2)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(recent) != 2 {
		t.Fatalf("Recent len = %d, want 2", len(recent))
	}
	if recent[0].Summary != "third" || recent[1].Summary != "second" {
		t.Errorf("Recent order = [%q %q], want newest first", recent[0].Summary, recent[1].Summary)
	}
}

func TestCalls_SaveEmptyTranscript(t *testing.T) {
	c := newTestCalls(t)
	now := time.Now()

	id, err := c.Save("C01", "1.1", "sess", "Silent call.", nil, now, now, nil)
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	got, err := c.Transcript(id)
	if err != nil {
		t.Fatalf("Transcript: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("transcript lines = %d, want 0", len(got))
	}
}
