// Package agent runs claude CLI subprocesses on behalf of the chat bridge
// and the voice gateway. Batch invocations block and return plain text;
// streaming invocations surface assistant text, tool activity, and the
// conversation session id as the process emits them.
package agent

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"
)

// Runner holds the launch settings shared by every invocation.
type Runner struct {
	Binary             string // path to the claude binary; defaults to "claude"
	WorkDir            string // working directory for subprocesses
	MCPConfig          string // optional --mcp-config path
	AppendSystemPrompt string // default system prompt suffix, overridable per call
}

// Args describes one invocation.
type Args struct {
	Prompt       string
	SystemPrompt string // overrides Runner.AppendSystemPrompt when set
	Model        string
	Resume       string // resume an existing conversation by session id
}

const stderrTailLimit = 4096

func (r *Runner) binary() string {
	if r.Binary == "" {
		return "claude"
	}
	return r.Binary
}

// buildArgs assembles the CLI argument list. Streaming invocations use
// stream-json so tool activity and the session id arrive incrementally;
// batch invocations take plain text.
func (r *Runner) buildArgs(args Args, streaming bool) []string {
	argv := []string{"--dangerously-skip-permissions"}
	if streaming {
		argv = append(argv, "--verbose", "--output-format", "stream-json")
	} else {
		argv = append(argv, "--output-format", "text")
	}
	if args.Model != "" {
		argv = append(argv, "--model", args.Model)
	}
	if args.Resume != "" {
		argv = append(argv, "--resume", args.Resume)
	}
	if r.MCPConfig != "" {
		argv = append(argv, "--mcp-config", r.MCPConfig)
	}
	sp := args.SystemPrompt
	if sp == "" {
		sp = r.AppendSystemPrompt
	}
	if sp != "" {
		argv = append(argv, "--append-system-prompt", sp)
	}
	return append(argv, "-p", args.Prompt)
}

// command builds the exec.Cmd with process-group termination: SIGTERM goes
// to the whole tree (claude shells out), with a hard kill after WaitDelay.
func (r *Runner) command(ctx context.Context, argv []string) *exec.Cmd {
	cmd := exec.CommandContext(ctx, r.binary(), argv...)
	if r.WorkDir != "" {
		cmd.Dir = r.WorkDir
	}
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGTERM)
	}
	cmd.WaitDelay = 10 * time.Second
	return cmd
}

// RunBatch runs one blocking invocation and returns its stdout. The timeout
// is a hard ceiling: when it fires the subprocess is killed and a
// *TimeoutError is returned.
func (r *Runner) RunBatch(ctx context.Context, args Args, timeout time.Duration) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var stdout bytes.Buffer
	stderr := newTailBuffer(stderrTailLimit)
	cmd := r.command(ctx, r.buildArgs(args, false))
	cmd.Stdout = &stdout
	cmd.Stderr = stderr

	if err := cmd.Start(); err != nil {
		return "", fmt.Errorf("agent: start %s: %w", r.binary(), err)
	}
	waitErr := cmd.Wait()
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return "", &TimeoutError{After: timeout}
	}
	if waitErr != nil {
		return "", classifyExit(waitErr, stderr.String())
	}
	return strings.TrimSpace(stdout.String()), nil
}

// tailBuffer keeps the last limit bytes written to it. Stderr is captured
// this way so a chatty subprocess cannot grow memory without bound while
// the classification phrases stay visible.
type tailBuffer struct {
	mu    sync.Mutex
	limit int
	buf   []byte
}

func newTailBuffer(limit int) *tailBuffer {
	return &tailBuffer{limit: limit}
}

func (b *tailBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.buf = append(b.buf, p...)
	if len(b.buf) > b.limit {
		b.buf = b.buf[len(b.buf)-b.limit:]
	}
	return len(p), nil
}

func (b *tailBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return string(b.buf)
}
