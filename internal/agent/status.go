package agent

import (
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// StatusInterval is the minimum spacing between status callbacks. Status
// lines become chat message edits, which platforms rate-limit.
const StatusInterval = 2 * time.Second

const statusArgLimit = 60

// StatusLine renders a tool call as a short human-readable activity line.
func StatusLine(name string, input map[string]interface{}) string {
	arg := func(keys ...string) string {
		for _, k := range keys {
			if v, ok := input[k].(string); ok && v != "" {
				return truncateArg(v)
			}
		}
		return ""
	}

	switch name {
	case "Read":
		if f := arg("file_path"); f != "" {
			return "Reading " + filepath.Base(f)
		}
		return "Reading a file"
	case "Write":
		if f := arg("file_path"); f != "" {
			return "Writing " + filepath.Base(f)
		}
		return "Writing a file"
	case "Edit", "MultiEdit":
		if f := arg("file_path"); f != "" {
			return "Editing " + filepath.Base(f)
		}
		return "Editing a file"
	case "Bash":
		if c := arg("command"); c != "" {
			return "Running `" + c + "`"
		}
		return "Running a command"
	case "Grep", "Glob":
		if p := arg("pattern"); p != "" {
			return "Searching for " + p
		}
		return "Searching the workspace"
	case "WebFetch":
		if u := arg("url"); u != "" {
			return "Fetching " + u
		}
		return "Fetching a page"
	case "WebSearch":
		if q := arg("query"); q != "" {
			return "Searching the web for " + q
		}
		return "Searching the web"
	case "TodoWrite":
		return "Updating the plan"
	case "Task":
		if d := arg("description"); d != "" {
			return "Working on " + d
		}
		return "Working on a subtask"
	default:
		return "Using " + name
	}
}

func truncateArg(s string) string {
	s = strings.ReplaceAll(s, "\n", " ")
	r := []rune(s)
	if len(r) <= statusArgLimit {
		return s
	}
	return string(r[:statusArgLimit]) + "…"
}

// Throttle enforces minimum spacing between events. The first call always
// passes.
type Throttle struct {
	mu   sync.Mutex
	min  time.Duration
	last time.Time
}

func NewThrottle(min time.Duration) *Throttle {
	return &Throttle{min: min}
}

// Allow reports whether an event at now is far enough from the last allowed
// one, and records it if so.
func (t *Throttle) Allow(now time.Time) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.last.IsZero() && now.Sub(t.last) < t.min {
		return false
	}
	t.last = now
	return true
}
