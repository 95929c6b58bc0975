package bridge

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/majordomo-sh/majordomo/internal/agent"
)

const (
	// TurnResetThreshold is the turn count at which a thread's context is
	// summarized and its agent session restarted. The agent's own context
	// window degrades well before hard limits; 50 turns is the point where
	// a fresh session with a digest beats a stale resume.
	TurnResetThreshold = 50

	// summarizeHistoryLimit is how many thread messages feed the digest.
	summarizeHistoryLimit = 50

	// summarizeTimeout caps the batch summarization call so a hung
	// subprocess cannot block the turn indefinitely.
	summarizeTimeout = 2 * time.Minute
)

// Summarizer produces a structured digest of a thread's recent history via
// a batch agent invocation on the fast model tier.
type Summarizer struct {
	runner  AgentRunner
	adapter Adapter
	model   string
}

// SummarizerOpts holds parameters for creating a Summarizer.
type SummarizerOpts struct {
	Runner  AgentRunner
	Adapter Adapter
	Model   string // fast model tier for the digest call
}

// NewSummarizer creates a Summarizer.
func NewSummarizer(opts SummarizerOpts) (*Summarizer, error) {
	if opts.Runner == nil {
		return nil, fmt.Errorf("bridge: summarizer: runner is required")
	}
	if opts.Adapter == nil {
		return nil, fmt.Errorf("bridge: summarizer: adapter is required")
	}
	return &Summarizer{
		runner:  opts.Runner,
		adapter: opts.Adapter,
		model:   opts.Model,
	}, nil
}

// Digest fetches the thread's recent messages from the platform and
// condenses them into a bounded structured summary. The history comes from
// the platform, not local state, so it covers turns from before a restart.
func (s *Summarizer) Digest(ctx context.Context, channelID, threadTS string) (string, error) {
	history, err := s.adapter.ThreadHistory(ctx, channelID, threadTS, summarizeHistoryLimit)
	if err != nil {
		return "", fmt.Errorf("bridge: digest history: %w", err)
	}
	if len(history) == 0 {
		return "", fmt.Errorf("bridge: digest: thread history is empty")
	}

	var b strings.Builder
	for _, m := range history {
		name := m.UserName
		if name == "" {
			name = m.UserID
		}
		fmt.Fprintf(&b, "%s: %s\n", name, m.Text)
	}

	prompt := "Condense the following conversation into a digest that a fresh assistant " +
		"session can pick up from. Cover, in order: what was being worked on, decisions " +
		"made, the current state, open items, and important constraints. Stay under 400 " +
		"words and include no preamble.\n\nConversation:\n" + b.String()

	digest, err := s.runner.RunBatch(ctx, agent.Args{
		Prompt: prompt,
		Model:  s.model,
	}, summarizeTimeout)
	if err != nil {
		return "", fmt.Errorf("bridge: digest: %w", err)
	}
	if strings.TrimSpace(digest) == "" {
		return "", fmt.Errorf("bridge: digest: empty summary")
	}
	return digest, nil
}
