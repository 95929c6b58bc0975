package tts

import (
	"context"
	"errors"
	"strings"
	"testing"
)

// fakeEngine scripts per-call outcomes for chain tests.
type fakeEngine struct {
	name  string
	calls int
	// respond decides the outcome of call n (1-based).
	respond func(call int, text string) ([]byte, error)
}

func (f *fakeEngine) Name() string { return f.name }

func (f *fakeEngine) Synthesize(_ context.Context, text string) ([]byte, error) {
	f.calls++
	return f.respond(f.calls, text)
}

func alwaysAudio(name, audio string) *fakeEngine {
	return &fakeEngine{name: name, respond: func(int, string) ([]byte, error) {
		return []byte(audio), nil
	}}
}

func alwaysFails(name string) *fakeEngine {
	return &fakeEngine{name: name, respond: func(int, string) ([]byte, error) {
		return nil, errors.New("synth down")
	}}
}

func TestChain_FirstEngineWins(t *testing.T) {
	primary := alwaysAudio("primary", "audio-a")
	backup := alwaysAudio("backup", "audio-b")
	chain, err := NewChain(primary, backup)
	if err != nil {
		t.Fatalf("new chain: %v", err)
	}

	audio, err := chain.Synthesize(context.Background(), "hello")
	if err != nil {
		t.Fatalf("synthesize: %v", err)
	}
	if string(audio) != "audio-a" {
		t.Errorf("audio = %q, want the primary engine's output", audio)
	}
	if backup.calls != 0 {
		t.Errorf("backup called %d times, want 0", backup.calls)
	}
}

func TestChain_FallsBackOnFailure(t *testing.T) {
	primary := alwaysFails("primary")
	backup := alwaysAudio("backup", "audio-b")
	chain, _ := NewChain(primary, backup)

	audio, err := chain.Synthesize(context.Background(), "hello")
	if err != nil {
		t.Fatalf("synthesize: %v", err)
	}
	if string(audio) != "audio-b" {
		t.Errorf("audio = %q, want the backup engine's output", audio)
	}
}

func TestChain_FallbackIsNotSticky(t *testing.T) {
	// The primary fails once, then recovers. The second sentence must go
	// back to the primary rather than staying on the fallback.
	primary := &fakeEngine{name: "primary", respond: func(call int, _ string) ([]byte, error) {
		if call == 1 {
			return nil, errors.New("transient")
		}
		return []byte("audio-a"), nil
	}}
	backup := alwaysAudio("backup", "audio-b")
	chain, _ := NewChain(primary, backup)

	if _, err := chain.Synthesize(context.Background(), "one"); err != nil {
		t.Fatalf("first synthesize: %v", err)
	}
	audio, err := chain.Synthesize(context.Background(), "two")
	if err != nil {
		t.Fatalf("second synthesize: %v", err)
	}
	if string(audio) != "audio-a" {
		t.Errorf("audio = %q, want the recovered primary's output", audio)
	}
	if primary.calls != 2 {
		t.Errorf("primary called %d times, want 2", primary.calls)
	}
	if backup.calls != 1 {
		t.Errorf("backup called %d times, want 1", backup.calls)
	}
}

func TestChain_AllEnginesFail(t *testing.T) {
	chain, _ := NewChain(alwaysFails("primary"), alwaysFails("backup"))

	_, err := chain.Synthesize(context.Background(), "hello")
	if err == nil {
		t.Fatal("expected error when every engine fails")
	}
	if !strings.Contains(err.Error(), "primary") || !strings.Contains(err.Error(), "backup") {
		t.Errorf("error = %q, want both engine names", err.Error())
	}
}

func TestChain_CancelledContextStopsFallback(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	primary := &fakeEngine{name: "primary", respond: func(int, string) ([]byte, error) {
		cancel() // the engine observes the cancel mid-call
		return nil, context.Canceled
	}}
	backup := alwaysAudio("backup", "audio-b")
	chain, _ := NewChain(primary, backup)

	_, err := chain.Synthesize(ctx, "hello")
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("error = %v, want context.Canceled", err)
	}
	if backup.calls != 0 {
		t.Errorf("backup called %d times after cancel, want 0", backup.calls)
	}
}

func TestChain_RequiresEngines(t *testing.T) {
	if _, err := NewChain(); err == nil {
		t.Fatal("expected error for empty chain")
	}
}
