package agent

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"sync"
	"time"
)

// StatusFunc receives throttled human-readable activity lines.
type StatusFunc func(status string)

// TextFunc receives assistant text fragments in stream order, unthrottled.
type TextFunc func(fragment string)

// StreamHooks carries the callbacks a streaming invocation feeds. Either
// hook may be nil. Both are called from the invocation's reader goroutine,
// so a slow hook backpressures the stream.
type StreamHooks struct {
	OnText   TextFunc
	OnStatus StatusFunc
}

const noResponseText = "(no response)"

// Result is the outcome of a streaming invocation.
type Result struct {
	Text      string
	SessionID string
	Aborted   bool // killed by Kill or a signal; Text/SessionID hold whatever was captured
	Usage     Usage
}

// Invocation is a handle on a running streaming subprocess.
type Invocation struct {
	cancel context.CancelFunc
	done   chan struct{}

	mu     sync.Mutex
	killed bool
	result Result
	err    error
}

// Stream launches a streaming invocation. onStatus, when non-nil, receives
// tool activity lines spaced at least StatusInterval apart. The returned
// Invocation must be Wait()ed.
func (r *Runner) Stream(ctx context.Context, args Args, onStatus StatusFunc) (*Invocation, error) {
	return r.StreamWith(ctx, args, StreamHooks{OnStatus: onStatus})
}

// StreamWith launches a streaming invocation with the full hook set. The
// voice gateway uses OnText to segment sentences while the subprocess is
// still talking; the bridge only needs OnStatus.
func (r *Runner) StreamWith(ctx context.Context, args Args, hooks StreamHooks) (*Invocation, error) {
	ctx, cancel := context.WithCancel(ctx)

	cmd := r.command(ctx, r.buildArgs(args, true))
	stderr := newTailBuffer(stderrTailLimit)
	cmd.Stderr = stderr

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("agent: stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		cancel()
		return nil, fmt.Errorf("agent: start %s: %w", r.binary(), err)
	}

	inv := &Invocation{cancel: cancel, done: make(chan struct{})}
	go inv.consume(cmd, stdout, stderr, hooks)
	return inv, nil
}

// Kill terminates the subprocess. The invocation resolves to an aborted
// result carrying whatever text and session id were captured.
func (inv *Invocation) Kill() {
	inv.mu.Lock()
	inv.killed = true
	inv.mu.Unlock()
	inv.cancel()
}

// Wait blocks until the subprocess exits and returns the outcome.
func (inv *Invocation) Wait() (Result, error) {
	<-inv.done
	inv.mu.Lock()
	defer inv.mu.Unlock()
	return inv.result, inv.err
}

// Done closes when the invocation has resolved.
func (inv *Invocation) Done() <-chan struct{} {
	return inv.done
}

func (inv *Invocation) consume(cmd *exec.Cmd, stdout io.Reader, stderr *tailBuffer, hooks StreamHooks) {
	var (
		fragments  []string
		resultText string
		sessionID  string
		usage      Usage
		haveResult bool
	)
	throttle := NewThrottle(StatusInterval)

	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 1024*1024), 1024*1024) // 1MB line cap
	for scanner.Scan() {
		for _, ev := range ParseLine(scanner.Bytes()) {
			switch e := ev.(type) {
			case InitEvent:
				sessionID = e.SessionID
			case TextEvent:
				fragments = append(fragments, e.Text)
				if hooks.OnText != nil {
					hooks.OnText(e.Text)
				}
			case ToolEvent:
				if hooks.OnStatus != nil && throttle.Allow(time.Now()) {
					hooks.OnStatus(StatusLine(e.Name, e.Input))
				}
			case ResultEvent:
				resultText = e.Result
				haveResult = true
				if e.SessionID != "" {
					sessionID = e.SessionID
				}
				usage.InputTokens += e.Usage.InputTokens
				usage.OutputTokens += e.Usage.OutputTokens
			}
		}
	}

	waitErr := cmd.Wait()

	// Response preference: terminal result, then accumulated fragments,
	// then a fixed placeholder. A turn never resolves to empty text.
	text := strings.TrimSpace(resultText)
	if text == "" {
		text = strings.TrimSpace(strings.Join(fragments, ""))
	}

	inv.mu.Lock()
	defer inv.mu.Unlock()

	switch {
	case inv.killed || signalKilled(waitErr):
		inv.result = Result{Text: text, SessionID: sessionID, Aborted: true, Usage: usage}
	case waitErr != nil && rateLimited(stderr.String(), exitCode(waitErr)):
		inv.err = ErrRateLimited
	case waitErr != nil && !haveResult:
		inv.err = &ExitError{Code: exitCode(waitErr), Stderr: tail(stderr.String(), 500)}
	default:
		if text == "" {
			text = noResponseText
		}
		inv.result = Result{Text: text, SessionID: sessionID, Usage: usage}
	}
	close(inv.done)
}
