package voice

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/majordomo-sh/majordomo/internal/agent"
)

const (
	// greetHistoryLimit is how many thread messages feed the greeting.
	greetHistoryLimit = 10

	// greetTimeout caps greeting generation. A greeting that takes longer
	// than the caller is willing to wait is worthless anyway.
	greetTimeout = 15 * time.Second

	// fallbackGreeting is spoken when there is no context to draw on or
	// generation fails. The call must always open with something.
	fallbackGreeting = "Hey! What can I do for you?"
)

// Greeter composes the opening line of a call from recent chat context,
// on the fast model tier.
type Greeter struct {
	runner  AgentRunner
	chat    Chat
	model   string
	timeout time.Duration
}

// GreeterOpts holds parameters for creating a Greeter.
type GreeterOpts struct {
	Runner AgentRunner
	Chat   Chat   // optional; without it every call gets the static greeting
	Model  string // fast model tier for the greeting call
	// Timeout caps generation. Defaults to 15s.
	Timeout time.Duration
}

// NewGreeter creates a Greeter.
func NewGreeter(opts GreeterOpts) (*Greeter, error) {
	if opts.Runner == nil {
		return nil, fmt.Errorf("voice: greeter: runner is required")
	}
	if opts.Timeout <= 0 {
		opts.Timeout = greetTimeout
	}
	return &Greeter{
		runner:  opts.Runner,
		chat:    opts.Chat,
		model:   opts.Model,
		timeout: opts.Timeout,
	}, nil
}

// Greet returns one spoken greeting line for a call linked to the given
// thread. Context fetching and generation are both best effort; any
// failure degrades to the static greeting, never to a silent call.
func (g *Greeter) Greet(ctx context.Context, channel, threadTS string) string {
	history := g.recentContext(ctx, channel, threadTS)
	if history == "" {
		return fallbackGreeting
	}

	prompt := "You are answering a voice call from the person you assist. Below is the " +
		"recent chat conversation you two were having. Say one short, natural opening " +
		"line that acknowledges what you were working on and invites them to go ahead. " +
		"Output only the spoken line, no quotes.\n\nRecent conversation:\n" + history

	out, err := g.runner.RunBatch(ctx, agent.Args{
		Prompt: prompt,
		Model:  g.model,
	}, g.timeout)
	if err != nil {
		log.Printf("voice: greeting generation: %v", err)
		return fallbackGreeting
	}
	return firstSpokenLine(out)
}

// recentContext formats the tail of the linked thread, empty when there
// is none.
func (g *Greeter) recentContext(ctx context.Context, channel, threadTS string) string {
	if g.chat == nil || channel == "" {
		return ""
	}
	msgs, err := g.chat.History(ctx, channel, threadTS, greetHistoryLimit)
	if err != nil {
		log.Printf("voice: greeting context: %v", err)
		return ""
	}
	var b strings.Builder
	for _, m := range msgs {
		if strings.TrimSpace(m.Text) == "" {
			continue
		}
		author := m.Author
		if author == "" {
			author = "user"
		}
		fmt.Fprintf(&b, "%s: %s\n", author, m.Text)
	}
	return b.String()
}

// firstSpokenLine reduces model output to a single clean spoken line.
func firstSpokenLine(out string) string {
	out = strings.TrimSpace(out)
	if i := strings.IndexByte(out, '\n'); i >= 0 {
		out = strings.TrimSpace(out[:i])
	}
	out = strings.Trim(out, `"`)
	if out == "" {
		return fallbackGreeting
	}
	return out
}
