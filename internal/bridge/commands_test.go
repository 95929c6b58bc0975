package bridge

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/majordomo-sh/majordomo/internal/models"
	"github.com/majordomo-sh/majordomo/internal/store"
)

func TestIsCommand(t *testing.T) {
	tests := []struct {
		text string
		want bool
	}{
		{"!domo status", true},
		{"!domo", true},
		{"  !domo help  ", true},
		{"!domostatus", false},
		{"domo status", false},
		{"hello there", false},
		{"", false},
	}
	for _, tt := range tests {
		if got := IsCommand(tt.text); got != tt.want {
			t.Errorf("IsCommand(%q) = %v, want %v", tt.text, got, tt.want)
		}
	}
}

func TestCommands_Status(t *testing.T) {
	stores := newTestStores(t)
	ch, err := NewCommandHandler(CommandHandlerOpts{Stores: stores})
	if err != nil {
		t.Fatalf("NewCommandHandler: %v", err)
	}

	if err := stores.Sessions.Put(models.Session{ThreadKey: "C1|171.001", Turns: 3}); err != nil {
		t.Fatalf("put session: %v", err)
	}
	if _, err := stores.Pendings.Create("C1", "171.001", "plan", "transcript", []store.ActionItem{
		{Description: "email the venue", Owner: "agent"},
	}); err != nil {
		t.Fatalf("create pending: %v", err)
	}
	if _, err := stores.Calls.Save("C1", "", "sess-1", "Discussed the launch.\nDecided on Friday.",
		[]string{"launch"}, time.Now().Add(-10*time.Minute), time.Now().Add(-5*time.Minute), nil); err != nil {
		t.Fatalf("save call: %v", err)
	}

	got := ch.Execute(context.Background(), "!domo status")

	if !strings.Contains(got, "Sessions tracked: 1") {
		t.Errorf("status missing session count:\n%s", got)
	}
	if !strings.Contains(got, "Awaiting approval: 1") {
		t.Errorf("status missing pending count:\n%s", got)
	}
	if !strings.Contains(got, "Discussed the launch.") {
		t.Errorf("status missing last-call summary:\n%s", got)
	}
}

func TestCommands_VoiceWithoutMinter(t *testing.T) {
	stores := newTestStores(t)
	ch, err := NewCommandHandler(CommandHandlerOpts{Stores: stores})
	if err != nil {
		t.Fatalf("NewCommandHandler: %v", err)
	}

	got := ch.Execute(context.Background(), "!domo voice")
	if got != "Voice calls are not configured." {
		t.Errorf("voice reply = %q, want unconfigured notice", got)
	}
}

type fakeMinter struct {
	url string
	err error
}

func (f fakeMinter) MintURL(ctx context.Context) (string, error) { return f.url, f.err }

func TestCommands_VoiceMintsLink(t *testing.T) {
	stores := newTestStores(t)
	ch, err := NewCommandHandler(CommandHandlerOpts{
		Stores: stores,
		Minter: fakeMinter{url: "https://voice.example/call?token=abc"},
	})
	if err != nil {
		t.Fatalf("NewCommandHandler: %v", err)
	}

	got := ch.Execute(context.Background(), "!domo voice")
	if !strings.Contains(got, "https://voice.example/call?token=abc") {
		t.Errorf("voice reply missing link:\n%s", got)
	}
	if !strings.Contains(got, "single use") {
		t.Errorf("voice reply missing single-use notice:\n%s", got)
	}
}

func TestCommands_VoiceMintFailure(t *testing.T) {
	stores := newTestStores(t)
	ch, err := NewCommandHandler(CommandHandlerOpts{
		Stores: stores,
		Minter: fakeMinter{err: errors.New("store down")},
	})
	if err != nil {
		t.Fatalf("NewCommandHandler: %v", err)
	}

	got := ch.Execute(context.Background(), "!domo voice")
	if !strings.Contains(got, "Could not mint a voice link") {
		t.Errorf("voice reply = %q, want mint failure notice", got)
	}
}

func TestCommands_HelpAndUnknown(t *testing.T) {
	stores := newTestStores(t)
	ch, err := NewCommandHandler(CommandHandlerOpts{Stores: stores})
	if err != nil {
		t.Fatalf("NewCommandHandler: %v", err)
	}

	help := ch.Execute(context.Background(), "!domo help")
	if !strings.Contains(help, "!domo status") || !strings.Contains(help, "!domo voice") {
		t.Errorf("help missing commands:\n%s", help)
	}

	bare := ch.Execute(context.Background(), "!domo")
	if bare != help {
		t.Errorf("bare !domo = %q, want help text", bare)
	}

	unknown := ch.Execute(context.Background(), "!domo frobnicate")
	if !strings.Contains(unknown, "Unknown command: `frobnicate`") {
		t.Errorf("unknown reply = %q, want unknown notice", unknown)
	}
	if !strings.Contains(unknown, "!domo status") {
		t.Errorf("unknown reply missing help:\n%s", unknown)
	}
}
