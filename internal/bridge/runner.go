package bridge

import (
	"context"
	"time"

	"github.com/majordomo-sh/majordomo/internal/agent"
)

// AgentRunner abstracts the agent subprocess layer so tests can substitute
// a fake. The production implementation is CLIRunner over *agent.Runner.
type AgentRunner interface {
	// Stream starts a streaming invocation and returns a live handle.
	Stream(ctx context.Context, args agent.Args, onStatus agent.StatusFunc) (Invocation, error)

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

func (c CLIRunner) Stream(ctx context.Context, args agent.Args, onStatus agent.StatusFunc) (Invocation, error) {
	inv, err := c.Runner.Stream(ctx, args, onStatus)
	if err != nil {
		return nil, err
	}
	return inv, nil
}

func (c CLIRunner) RunBatch(ctx context.Context, args agent.Args, timeout time.Duration) (string, error) {
	return c.Runner.RunBatch(ctx, args, timeout)
}
