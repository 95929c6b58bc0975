package bridge

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/majordomo-sh/majordomo/internal/store"
)

// commandPrefix is the prefix that triggers read-only command handling.
const commandPrefix = "!domo"

// TokenMinter mints a one-time voice call URL. The voice package provides
// the implementation; the bridge only needs the link.
type TokenMinter interface {
	MintURL(ctx context.Context) (string, error)
}

// CommandHandler processes read-only "!domo" commands from chat. Commands
// never touch the turn machinery; they answer directly.
type CommandHandler struct {
	stores *store.Stores
	minter TokenMinter
}

// CommandHandlerOpts holds parameters for creating a CommandHandler.
type CommandHandlerOpts struct {
	Stores *store.Stores
	Minter TokenMinter // optional; without it "voice" reports unconfigured
}

// NewCommandHandler creates a CommandHandler.
func NewCommandHandler(opts CommandHandlerOpts) (*CommandHandler, error) {
	if opts.Stores == nil {
		return nil, fmt.Errorf("bridge: command handler: stores are required")
	}
	return &CommandHandler{
		stores: opts.Stores,
		minter: opts.Minter,
	}, nil
}

// IsCommand reports whether the text is a "!domo" command.
func IsCommand(text string) bool {
	text = strings.TrimSpace(text)
	return text == commandPrefix || strings.HasPrefix(text, commandPrefix+" ")
}

// Execute parses and executes a "!domo" command string. Returns the
// response text to send back to the chat thread.
func (ch *CommandHandler) Execute(ctx context.Context, text string) string {
	args := parseCommand(text)
	if len(args) == 0 {
		return ch.helpText()
	}

	switch args[0] {
	case "status":
		return ch.cmdStatus()
	case "voice":
		return ch.cmdVoice(ctx)
	case "help":
		return ch.helpText()
	default:
		return fmt.Sprintf("Unknown command: `%s`\n\n%s", args[0], ch.helpText())
	}
}

// parseCommand strips the "!domo" prefix and splits the remaining text.
func parseCommand(text string) []string {
	text = strings.TrimSpace(text)
	if text == commandPrefix {
		return nil
	}
	text = strings.TrimPrefix(text, commandPrefix+" ")
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	return strings.Fields(text)
}

// cmdStatus reports tracked sessions, awaiting approvals, and the last call.
func (ch *CommandHandler) cmdStatus() string {
	var b strings.Builder
	b.WriteString("**Majordomo**\n")
	fmt.Fprintf(&b, "Sessions tracked: %d\n", ch.stores.Sessions.Count())

	awaiting, err := ch.stores.Pendings.CountAwaiting()
	if err != nil {
		fmt.Fprintf(&b, "Awaiting approval: error (%v)\n", err)
	} else {
		fmt.Fprintf(&b, "Awaiting approval: %d\n", awaiting)
	}

	calls, err := ch.stores.Calls.Recent(1)
	if err == nil && len(calls) > 0 {
		age := time.Since(calls[0].EndedAt).Round(time.Minute)
		summary := firstLine(calls[0].Summary)
		fmt.Fprintf(&b, "Last call: %s ago — %s\n", age, summary)
	}
	return strings.TrimRight(b.String(), "\n")
}

// cmdVoice mints a one-time voice link.
func (ch *CommandHandler) cmdVoice(ctx context.Context) string {
	if ch.minter == nil {
		return "Voice calls are not configured."
	}
	url, err := ch.minter.MintURL(ctx)
	if err != nil {
		return fmt.Sprintf("Could not mint a voice link: %v", err)
	}
	return fmt.Sprintf("Here's your one-time voice link (single use, short-lived):\n%s", url)
}

// helpText returns usage information for all commands.
func (ch *CommandHandler) helpText() string {
	return "**Majordomo commands**\n" +
		"`!domo status` — bridge status\n" +
		"`!domo voice` — mint a one-time voice call link\n" +
		"`!domo help` — this message"
}

// firstLine returns the first non-empty line of s, truncated for display.
func firstLine(s string) string {
	for _, line := range strings.Split(s, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if len(line) > 120 {
			return line[:117] + "..."
		}
		return line
	}
	return "(no summary)"
}
