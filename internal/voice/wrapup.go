package voice

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/majordomo-sh/majordomo/internal/agent"
	"github.com/majordomo-sh/majordomo/internal/models"
	"github.com/majordomo-sh/majordomo/internal/store"
)

const (
	// wrapupTimeout caps each batch pass; the scan and the summary run
	// separately so a hung subprocess can cost at most two of these.
	wrapupTimeout = 2 * time.Minute

	// wrapupPostTimeout bounds the chat post so a dead platform API can't
	// pin the wrap-up goroutine.
	wrapupPostTimeout = 30 * time.Second
)

// CallResult is what a finished call leaves behind for archiving.
type CallResult struct {
	Channel   string
	ThreadTS  string
	SessionID string
	StartedAt time.Time
	EndedAt   time.Time
	Lines     []store.Line
}

// callScan is the JSON shape the extraction pass must produce.
type callScan struct {
	Topics []string           `json:"topics"`
	Items  []store.ActionItem `json:"items"`
}

// WrapUp archives a finished call: transcript rows, the one-shot
// recent-call marker, a two-pass summary, and an approval-gated pending
// execution when the call left agent-owned work behind. The first pass
// scans every transcript line for commitments; the second writes the
// conversational summary around whatever the scan found, so no item can
// be summarized away.
type WrapUp struct {
	stores *store.Stores
	runner AgentRunner
	chat   Chat
	model  string
}

// WrapUpOpts holds parameters for creating a WrapUp.
type WrapUpOpts struct {
	Stores *store.Stores
	Runner AgentRunner
	Chat   Chat   // optional; without it the summary is archived but not posted
	Model  string // fast model tier for both passes
}

// NewWrapUp creates a WrapUp.
func NewWrapUp(opts WrapUpOpts) (*WrapUp, error) {
	if opts.Stores == nil {
		return nil, fmt.Errorf("voice: wrapup: stores are required")
	}
	if opts.Runner == nil {
		return nil, fmt.Errorf("voice: wrapup: runner is required")
	}
	return &WrapUp{
		stores: opts.Stores,
		runner: opts.Runner,
		chat:   opts.Chat,
		model:  opts.Model,
	}, nil
}

// Run processes one finished call. Every step is best effort and ordered
// so an early failure costs the least: archive first, hand-off marker
// second, pending execution third, chat post last.
func (w *WrapUp) Run(ctx context.Context, call CallResult) {
	transcript := formatTranscript(call.Lines)
	topics, items := w.scan(ctx, transcript)
	summary := w.summarize(ctx, transcript, topics, items)

	if _, err := w.stores.Calls.Save(call.Channel, call.ThreadTS, call.SessionID, summary,
		topics, call.StartedAt, call.EndedAt, call.Lines); err != nil {
		log.Printf("voice: archive call: %v", err)
	}

	if err := w.stores.Markers.Put(models.MarkerRecentCall, store.RecentCall{
		EndedAt:    call.EndedAt,
		Channel:    call.Channel,
		ThreadTS:   call.ThreadTS,
		SessionID:  call.SessionID,
		Topics:     topics,
		Transcript: transcript,
	}); err != nil {
		log.Printf("voice: recent-call marker: %v", err)
	}

	askApproval := false
	if store.AgentOwned(items) && call.Channel != "" {
		_, err := w.stores.Pendings.Create(call.Channel, call.ThreadTS, summary, transcript, items)
		switch {
		case errors.Is(err, store.ErrPendingExists):
			// The earlier plan is still unanswered; it wins.
			log.Printf("voice: pending execution already awaiting in %s/%s, keeping it", call.Channel, call.ThreadTS)
		case err != nil:
			log.Printf("voice: create pending execution: %v", err)
		default:
			askApproval = true
		}
	}

	if w.chat == nil || call.Channel == "" {
		return
	}
	post := "📞 " + summary
	if askApproval {
		post += "\n\nSay the word and I'll get started on my part — or tell me to drop it."
	}
	postCtx, cancel := context.WithTimeout(ctx, wrapupPostTimeout)
	defer cancel()
	if err := w.chat.Post(postCtx, call.Channel, call.ThreadTS, post); err != nil {
		log.Printf("voice: post call summary: %v", err)
	}
}

// scan is pass one: an exhaustive line-by-line sweep for commitments,
// returned as structured topics and items. Parse failures degrade to
// nothing extracted rather than a failed wrap-up.
func (w *WrapUp) scan(ctx context.Context, transcript string) ([]string, []store.ActionItem) {
	if transcript == "" {
		return nil, nil
	}
	prompt := "Scan every line of this call transcript and extract action items. Nothing may " +
		"be dropped: every commitment, request, or follow-up that appears on any line must " +
		"be in the output. Also list the main topics discussed. Respond with only JSON in " +
		"this exact shape:\n" +
		`{"topics": ["..."], "items": [{"description": "...", "owner": "agent", "context": "..."}]}` +
		"\nOwner is \"agent\" for work the assistant agreed to do, \"user\" for work the " +
		"caller kept.\n\nTranscript:\n" + transcript

	out, err := w.runner.RunBatch(ctx, agent.Args{Prompt: prompt, Model: w.model}, wrapupTimeout)
	if err != nil {
		log.Printf("voice: call scan: %v", err)
		return nil, nil
	}
	var scan callScan
	if err := json.Unmarshal([]byte(stripCodeFence(out)), &scan); err != nil {
		log.Printf("voice: call scan parse: %v", err)
		return nil, nil
	}
	return scan.Topics, scan.Items
}

// summarize is pass two: a conversational summary written around the
// scanned items so each one is mentioned. Falls back to a mechanical
// summary that still names every item.
func (w *WrapUp) summarize(ctx context.Context, transcript string, topics []string, items []store.ActionItem) string {
	var b strings.Builder
	b.WriteString("Write a short, conversational summary of this voice call, phrased as a chat " +
		"message from you to the person you spoke with. First person, no headers, under 120 words.")
	if len(items) > 0 {
		b.WriteString(" It must explicitly mention every one of these follow-ups:\n")
		for i, it := range items {
			fmt.Fprintf(&b, "%d. %s (%s)\n", i+1, it.Description, strings.ToLower(it.Owner))
		}
	}
	b.WriteString("\nTranscript:\n")
	b.WriteString(transcript)

	out, err := w.runner.RunBatch(ctx, agent.Args{Prompt: b.String(), Model: w.model}, wrapupTimeout)
	if err != nil {
		log.Printf("voice: call summary: %v", err)
		return fallbackSummary(topics, items)
	}
	if strings.TrimSpace(out) == "" {
		return fallbackSummary(topics, items)
	}
	return strings.TrimSpace(out)
}

// fallbackSummary is the no-model summary. It still names every item so
// nothing extracted in pass one can silently disappear.
func fallbackSummary(topics []string, items []store.ActionItem) string {
	var b strings.Builder
	b.WriteString("We just finished a voice call")
	if len(topics) > 0 {
		fmt.Fprintf(&b, " about %s", strings.Join(topics, ", "))
	}
	b.WriteString(".")
	if len(items) > 0 {
		b.WriteString(" Follow-ups:")
		for _, it := range items {
			fmt.Fprintf(&b, "\n• %s (%s)", it.Description, strings.ToLower(it.Owner))
		}
	}
	return b.String()
}

// formatTranscript renders lines as "role: text", one per line.
func formatTranscript(lines []store.Line) string {
	var b strings.Builder
	for _, l := range lines {
		fmt.Fprintf(&b, "%s: %s\n", l.Role, l.Text)
	}
	return strings.TrimRight(b.String(), "\n")
}

// stripCodeFence unwraps model output that arrived fenced despite the
// JSON-only instruction.
func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	if i := strings.LastIndex(s, "```"); i >= 0 {
		s = s[:i]
	}
	return strings.TrimSpace(s)
}
