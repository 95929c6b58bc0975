package bridge

import (
	"bytes"
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/majordomo-sh/majordomo/internal/models"
	"github.com/majordomo-sh/majordomo/internal/store"
)

const (
	// inlineAttachmentCap bounds inlined text attachments. Anything larger
	// is truncated with a notice so a pasted log can't eat the context
	// window.
	inlineAttachmentCap = 8 * 1024

	// maxAttachmentSize is the download ceiling. Oversized attachments
	// become an explicit notice, never a silent drop.
	maxAttachmentSize = 2 * 1024 * 1024

	// activeCallStale guards against a gateway crash leaving the
	// active-call marker behind. No call runs this long.
	activeCallStale = 2 * time.Hour
)

// Prompt is an assembled agent prompt plus any session id a recent voice
// call contributed for this thread to resume.
type Prompt struct {
	Text          string
	CallSessionID string
}

// PromptBuilder assembles the full prompt for a turn: context blocks from
// voice-call markers, thread-root context, the user's text, and attachment
// content.
type PromptBuilder struct {
	adapter    Adapter
	markers    *store.Markers
	spoolDir   string
	callWindow time.Duration
}

// PromptBuilderOpts holds parameters for creating a PromptBuilder.
type PromptBuilderOpts struct {
	Adapter    Adapter
	Markers    *store.Markers
	SpoolDir   string        // where non-inlinable attachments are saved
	CallWindow time.Duration // freshness bound for the recent-call block
}

// NewPromptBuilder creates a PromptBuilder.
func NewPromptBuilder(opts PromptBuilderOpts) (*PromptBuilder, error) {
	if opts.Adapter == nil {
		return nil, fmt.Errorf("bridge: prompt builder: adapter is required")
	}
	if opts.Markers == nil {
		return nil, fmt.Errorf("bridge: prompt builder: markers are required")
	}
	if opts.SpoolDir == "" {
		return nil, fmt.Errorf("bridge: prompt builder: spool dir is required")
	}
	return &PromptBuilder{
		adapter:    opts.Adapter,
		markers:    opts.Markers,
		spoolDir:   opts.SpoolDir,
		callWindow: opts.CallWindow,
	}, nil
}

// Build assembles the prompt for one inbound message. Context blocks are
// best-effort: a failed marker read or history fetch degrades to a plain
// prompt, never to a failed turn.
func (pb *PromptBuilder) Build(ctx context.Context, msg InboundMessage, sess models.Session) Prompt {
	now := time.Now()
	var sections []string
	var callSessionID string

	// One-shot recent-call context. Take consumes the marker, so a second
	// message in any thread sees nothing.
	var rc store.RecentCall
	ok, err := pb.markers.Take(models.MarkerRecentCall, pb.callWindow, now, &rc)
	if err != nil {
		log.Printf("bridge: recent-call marker: %v", err)
	}
	if ok {
		sections = append(sections, recentCallBlock(rc, now))
		callSessionID = rc.SessionID
	}

	// Live-call awareness.
	var ac store.ActiveCall
	ok, err = pb.markers.Peek(models.MarkerActiveCall, activeCallStale, now, &ac)
	if err != nil {
		log.Printf("bridge: active-call marker: %v", err)
	}
	if ok {
		sections = append(sections,
			"[Context: the user is on a live voice call with you right now. This chat message arrived mid-call.]")
	}

	// Thread-root context, fetched once per thread: only for threaded
	// replies that have no session yet.
	if msg.ThreadTS != "" && sess.AgentSessionID == "" {
		if root := pb.threadRoot(ctx, msg); root != "" {
			sections = append(sections, fmt.Sprintf("[Earlier in this thread: %s]", root))
		}
	}

	sections = append(sections, msg.Text)

	for _, att := range msg.Attachments {
		sections = append(sections, pb.attachmentSection(ctx, att))
	}

	return Prompt{
		Text:          strings.Join(sections, "\n\n"),
		CallSessionID: callSessionID,
	}
}

// threadRoot fetches the thread's first message, skipping it when it
// trivially duplicates the reply.
func (pb *PromptBuilder) threadRoot(ctx context.Context, msg InboundMessage) string {
	history, err := pb.adapter.ThreadHistory(ctx, msg.ChannelID, msg.ThreadTS, 1)
	if err != nil {
		log.Printf("bridge: thread root fetch: %v", err)
		return ""
	}
	if len(history) == 0 {
		return ""
	}
	root := strings.TrimSpace(history[0].Text)
	if root == "" || root == strings.TrimSpace(msg.Text) {
		return ""
	}
	return root
}

// attachmentSection renders one attachment into prompt text: text-like
// content inlined (capped), images and other binaries spooled to disk and
// referenced by path, oversized files reduced to a notice.
func (pb *PromptBuilder) attachmentSection(ctx context.Context, att Attachment) string {
	if att.Size > maxAttachmentSize {
		return fmt.Sprintf("[The user attached `%s` (%s), which exceeds the %s limit and was not downloaded.]",
			att.Name, fmtSize(att.Size), fmtSize(maxAttachmentSize))
	}

	if textLike(att) {
		var buf bytes.Buffer
		if err := pb.adapter.Download(ctx, att, &buf); err != nil {
			log.Printf("bridge: download %s: %v", att.Name, err)
			return fmt.Sprintf("[The user attached `%s` but it could not be fetched.]", att.Name)
		}
		content := buf.String()
		truncated := false
		if len(content) > inlineAttachmentCap {
			content = cutAtRune(content, inlineAttachmentCap)
			truncated = true
		}
		section := fmt.Sprintf("Attached file `%s`:\n```\n%s\n```", att.Name, content)
		if truncated {
			section += fmt.Sprintf("\n[truncated at %s]", fmtSize(inlineAttachmentCap))
		}
		return section
	}

	path, err := pb.spool(ctx, att)
	if err != nil {
		log.Printf("bridge: spool %s: %v", att.Name, err)
		return fmt.Sprintf("[The user attached `%s` but it could not be fetched.]", att.Name)
	}
	return fmt.Sprintf("The user attached `%s` (%s, %s), saved at %s. Read it if relevant.",
		att.Name, att.Mime, fmtSize(att.Size), path)
}

// spool downloads an attachment into the spool directory and returns its
// path.
func (pb *PromptBuilder) spool(ctx context.Context, att Attachment) (string, error) {
	if err := os.MkdirAll(pb.spoolDir, 0o755); err != nil {
		return "", fmt.Errorf("bridge: create spool dir: %w", err)
	}
	name := fmt.Sprintf("%s-%s", uuid.NewString()[:8], sanitizeFilename(att.Name))
	path := filepath.Join(pb.spoolDir, name)

	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("bridge: create spool file: %w", err)
	}
	defer f.Close()
	if err := pb.adapter.Download(ctx, att, f); err != nil {
		os.Remove(path)
		return "", fmt.Errorf("bridge: download attachment: %w", err)
	}
	return path, nil
}

// recentCallBlock renders the one-shot context block for a just-ended call.
func recentCallBlock(rc store.RecentCall, now time.Time) string {
	var b strings.Builder
	age := now.Sub(rc.EndedAt).Round(time.Minute)
	if age < time.Minute {
		b.WriteString("[Context: a voice call with the user just ended.")
	} else {
		fmt.Fprintf(&b, "[Context: a voice call with the user ended %s ago.", age)
	}
	if len(rc.Topics) > 0 {
		fmt.Fprintf(&b, " Topics: %s.", strings.Join(rc.Topics, ", "))
	}
	if rc.Transcript != "" {
		fmt.Fprintf(&b, "\nTranscript:\n%s", rc.Transcript)
	}
	b.WriteString("]")
	return b.String()
}

// textLike reports whether an attachment's content can be inlined as text.
func textLike(att Attachment) bool {
	if strings.HasPrefix(att.Mime, "text/") {
		return true
	}
	switch att.Mime {
	case "application/json", "application/xml", "application/x-yaml",
		"application/javascript", "application/x-sh":
		return true
	}
	switch strings.ToLower(filepath.Ext(att.Name)) {
	case ".txt", ".md", ".log", ".csv", ".json", ".yaml", ".yml", ".toml",
		".go", ".py", ".js", ".ts", ".sh", ".sql", ".html", ".css":
		return true
	}
	return false
}

// sanitizeFilename strips path separators and shell-hostile characters.
func sanitizeFilename(name string) string {
	name = filepath.Base(name)
	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9',
			r == '.', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('-')
		}
	}
	if b.Len() == 0 {
		return "attachment"
	}
	return b.String()
}

// cutAtRune truncates s to at most n bytes without splitting a rune.
func cutAtRune(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

// fmtSize renders a byte count for humans.
func fmtSize(n int64) string {
	switch {
	case n >= 1<<20:
		return fmt.Sprintf("%.1f MB", float64(n)/(1<<20))
	case n >= 1<<10:
		return fmt.Sprintf("%.1f KB", float64(n)/(1<<10))
	default:
		return fmt.Sprintf("%d B", n)
	}
}
