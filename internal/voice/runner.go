package voice

import (
	"context"
	"time"

	"github.com/majordomo-sh/majordomo/internal/agent"
)

// AgentRunner abstracts the agent subprocess layer so tests can substitute
// a fake. The production implementation is CLIRunner over *agent.Runner.
type AgentRunner interface {
	// StreamWith starts a streaming invocation with per-event hooks and
	// returns a live handle. The voice pipeline feeds OnText into the
	// sentence segmenter.
	StreamWith(ctx context.Context, args agent.Args, hooks agent.StreamHooks) (Invocation, error)

	// RunBatch runs a one-shot invocation and returns its full output.
	RunBatch(ctx context.Context, args agent.Args, timeout time.Duration) (string, error)
}

// Invocation is one live streaming agent run.
type Invocation interface {
	// Kill force-terminates the subprocess. Safe to call more than once
	// and from any goroutine.
	Kill()

	// Wait blocks until the run finishes and returns its outcome.
	Wait() (agent.Result, error)

	// Done is closed when the run has fully finished.
	Done() <-chan struct{}
}

// CLIRunner adapts *agent.Runner to the AgentRunner interface.
type CLIRunner struct {
	Runner *agent.Runner
}

func (c CLIRunner) StreamWith(ctx context.Context, args agent.Args, hooks agent.StreamHooks) (Invocation, error) {
	inv, err := c.Runner.StreamWith(ctx, args, hooks)
	if err != nil {
		return nil, err
	}
	return inv, nil
}

func (c CLIRunner) RunBatch(ctx context.Context, args agent.Args, timeout time.Duration) (string, error) {
	return c.Runner.RunBatch(ctx, args, timeout)
}
