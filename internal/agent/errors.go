package agent

import (
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// ErrRateLimited marks a failed invocation the provider throttled. Callers
// surface a "temporarily offline" message instead of an error dump.
var ErrRateLimited = errors.New("agent: rate limited")

// rateLimitExitCode is EX_UNAVAILABLE from sysexits(3); the CLI uses it for
// provider-side throttling.
const rateLimitExitCode = 69

var rateLimitPhrases = []string{
	"rate limit",
	"rate_limit",
	"overloaded",
	"usage limit",
	"too many requests",
	"429",
}

// TimeoutError reports a batch invocation killed by its deadline.
type TimeoutError struct {
	After time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("agent: timed out after %s", e.After)
}

// ExitError reports a subprocess that failed without producing a result.
type ExitError struct {
	Code   int
	Stderr string
}

func (e *ExitError) Error() string {
	if e.Stderr == "" {
		return fmt.Sprintf("agent: exited with code %d", e.Code)
	}
	return fmt.Sprintf("agent: exited with code %d: %s", e.Code, e.Stderr)
}

// classifyExit turns a non-zero exit into the error callers branch on.
// Rate-limit signatures win over everything else in the failure path.
func classifyExit(waitErr error, stderr string) error {
	code := exitCode(waitErr)
	if rateLimited(stderr, code) {
		return ErrRateLimited
	}
	return &ExitError{Code: code, Stderr: tail(stderr, 500)}
}

func rateLimited(stderr string, code int) bool {
	if code == rateLimitExitCode {
		return true
	}
	s := strings.ToLower(stderr)
	for _, p := range rateLimitPhrases {
		if strings.Contains(s, p) {
			return true
		}
	}
	return false
}

// exitCode extracts the exit code from a Wait error: 0 for nil, -1 for a
// signal death or a non-exit failure.
func exitCode(err error) int {
	if err == nil {
		return 0
	}
	var ee *exec.ExitError
	if errors.As(err, &ee) {
		return ee.ExitCode()
	}
	return -1
}

// signalKilled reports whether the process died to a signal rather than
// exiting on its own.
func signalKilled(err error) bool {
	return err != nil && exitCode(err) == -1
}

func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}
