package bridge

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"math/rand"
	"os"
	"sync"
	"time"

	"github.com/majordomo-sh/majordomo/internal/agent"
	"github.com/majordomo-sh/majordomo/internal/models"
	"github.com/majordomo-sh/majordomo/internal/store"
)

// Status-indicator terminal states.
const (
	statusDone       = "✅ Done"
	statusCancelled  = "✋ Stopped"
	statusSuperseded = "⏭️ Superseded by a newer message"
	statusErrored    = "⚠️ Failed"
)

// User-facing failure notices. Rate limiting gets its own fixed message so
// the user knows it resolves itself; everything else stays vague on the
// user side and detailed in the logs.
const (
	RateLimitNotice    = "I'm temporarily offline — the model provider is throttling requests. Give it a few minutes and try again."
	genericErrorNotice = "Something went wrong with that one. I've logged the details."
	cancelAck          = "Stopped."
	contextResetNotice = "♻️ I summarized our conversation so far and started a fresh context."
)

// abortReason distinguishes why a running turn was killed.
type abortReason int

const (
	abortNone abortReason = iota
	abortCancelled
	abortSuperseded
)

// turnState tracks one in-flight turn. A successor message aborts the turn
// through it and waits on done before spawning its own subprocess, which
// keeps at most one agent process alive per thread.
type turnState struct {
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	mu       sync.Mutex
	inv      Invocation
	statusID string
	reason   abortReason
}

func newTurnState(parent context.Context) *turnState {
	ctx, cancel := context.WithCancel(parent)
	return &turnState{ctx: ctx, cancel: cancel, done: make(chan struct{})}
}

// abort marks the turn killed and terminates whatever phase it is in: the
// context cancel reaps pre-spawn work (prompt assembly, summarization) and
// Kill reaps the live subprocess.
func (t *turnState) abort(r abortReason) {
	t.mu.Lock()
	if t.reason == abortNone {
		t.reason = r
	}
	inv := t.inv
	t.mu.Unlock()
	t.cancel()
	if inv != nil {
		inv.Kill()
	}
}

func (t *turnState) aborted() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.reason != abortNone
}

// attach registers the live invocation. If the turn was already aborted
// during spawn, the invocation is killed immediately.
func (t *turnState) attach(inv Invocation) {
	t.mu.Lock()
	t.inv = inv
	r := t.reason
	t.mu.Unlock()
	if r != abortNone {
		inv.Kill()
	}
}

func (t *turnState) setStatusID(id string) {
	t.mu.Lock()
	t.statusID = id
	t.mu.Unlock()
}

func (t *turnState) status() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.statusID
}

// Controller runs one turn at a time per thread key. New messages for a
// busy thread either cancel or supersede the running turn; either way the
// old subprocess is terminated before a new one starts.
type Controller struct {
	adapter    Adapter
	runner     AgentRunner
	sessions   *store.Sessions
	pendings   *store.Pendings
	prompts    *PromptBuilder
	summarizer *Summarizer
	approvals  ApprovalClassifier
	model      string
	out        io.Writer

	mu      sync.Mutex
	running map[string]*turnState

	ackMu   sync.Mutex
	ackDeck []string
}

// ControllerOpts holds parameters for creating a Controller.
type ControllerOpts struct {
	Adapter    Adapter
	Runner     AgentRunner
	Sessions   *store.Sessions
	Pendings   *store.Pendings
	Prompts    *PromptBuilder
	Summarizer *Summarizer        // optional; disables summarize-and-reset when nil
	Approvals  ApprovalClassifier // defaults to PatternClassifier
	Model      string             // default model tier for new sessions
	Out        io.Writer          // defaults to os.Stdout
}

// NewController creates a Controller.
func NewController(opts ControllerOpts) (*Controller, error) {
	if opts.Adapter == nil {
		return nil, fmt.Errorf("bridge: controller: adapter is required")
	}
	if opts.Runner == nil {
		return nil, fmt.Errorf("bridge: controller: runner is required")
	}
	if opts.Sessions == nil {
		return nil, fmt.Errorf("bridge: controller: sessions are required")
	}
	if opts.Pendings == nil {
		return nil, fmt.Errorf("bridge: controller: pendings are required")
	}
	if opts.Prompts == nil {
		return nil, fmt.Errorf("bridge: controller: prompt builder is required")
	}
	approvals := opts.Approvals
	if approvals == nil {
		approvals = PatternClassifier{}
	}
	out := opts.Out
	if out == nil {
		out = os.Stdout
	}
	return &Controller{
		adapter:    opts.Adapter,
		runner:     opts.Runner,
		sessions:   opts.Sessions,
		pendings:   opts.Pendings,
		prompts:    opts.Prompts,
		summarizer: opts.Summarizer,
		approvals:  approvals,
		model:      opts.Model,
		out:        out,
		running:    make(map[string]*turnState),
	}, nil
}

// HandleMessage processes one inbound message end to end. Call it on its
// own goroutine; per-thread serialization happens here, not in the caller.
func (c *Controller) HandleMessage(ctx context.Context, msg InboundMessage) {
	key := store.ThreadKey(msg.ChannelID, msg.ThreadTS)
	turn := newTurnState(ctx)

	c.mu.Lock()
	prev := c.running[key]
	c.running[key] = turn
	c.mu.Unlock()

	if prev != nil {
		if IsCancellation(msg.Text) {
			fmt.Fprintf(c.out, "bridge: cancel [%s] by %q\n", key, truncate(msg.Text, 40))
			prev.abort(abortCancelled)
			c.updateStatus(ctx, msg, prev.status(), statusCancelled)
			c.send(ctx, msg, cancelAck)
			c.release(key, turn)
			close(turn.done)
			return
		}
		fmt.Fprintf(c.out, "bridge: supersede [%s]\n", key)
		prev.abort(abortSuperseded)
		c.updateStatus(ctx, msg, prev.status(), statusSuperseded)
		select {
		case <-prev.done:
		case <-ctx.Done():
			c.release(key, turn)
			close(turn.done)
			return
		}
	}

	defer close(turn.done)
	defer c.release(key, turn)
	defer turn.cancel()
	c.runTurn(key, msg, turn)
}

// release removes the turn's reservation unless a successor already
// replaced it.
func (c *Controller) release(key string, turn *turnState) {
	c.mu.Lock()
	if c.running[key] == turn {
		delete(c.running, key)
	}
	c.mu.Unlock()
}

// runTurn executes one turn: approval gate, prompt assembly, optional
// summarize-and-reset, streaming invocation, and outcome handling.
func (c *Controller) runTurn(key string, msg InboundMessage, turn *turnState) {
	ctx := turn.ctx

	sess, found := c.sessions.Get(key)
	if !found {
		sess = models.Session{ThreadKey: key}
	}
	sess.Channel = msg.ChannelID
	sess.ThreadTS = msg.ThreadTS
	if sess.Model == "" {
		sess.Model = c.model
	}

	prompt, proceed := c.resolvePrompt(ctx, msg, sess)
	if !proceed || turn.aborted() {
		return
	}
	if prompt.CallSessionID != "" {
		// The call continued this conversation; its session id is the
		// freshest resume point.
		sess.AgentSessionID = prompt.CallSessionID
	}

	var contextReset bool
	if c.summarizer != nil && sess.Turns >= TurnResetThreshold && sess.AgentSessionID != "" {
		digest, err := c.summarizer.Digest(ctx, msg.ChannelID, msg.ThreadTS)
		if err != nil {
			log.Printf("bridge: summarize %s: %v (keeping existing session)", key, err)
		} else {
			prompt.Text = "[Context reset. Digest of the conversation so far:\n" + digest + "]\n\n" + prompt.Text
			sess.AgentSessionID = ""
			sess.Turns = 0
			contextReset = true
			if err := c.sessions.Put(sess); err != nil {
				log.Printf("bridge: persist reset %s: %v", key, err)
			}
		}
	}
	if turn.aborted() {
		return
	}

	statusID, err := c.adapter.Send(ctx, OutboundMessage{
		ChannelID: msg.ChannelID,
		ThreadTS:  msg.ThreadTS,
		Text:      c.nextAck(),
	})
	if err != nil {
		log.Printf("bridge: post indicator: %v", err)
		statusID = ""
	}
	turn.setStatusID(statusID)

	onStatus := func(s string) {
		c.updateStatus(ctx, msg, statusID, "⚙️ "+s)
	}
	inv, err := c.runner.Stream(ctx, agent.Args{
		Prompt: prompt.Text,
		Model:  sess.Model,
		Resume: sess.AgentSessionID,
	}, onStatus)
	if err != nil {
		log.Printf("bridge: spawn %s: %v", key, err)
		c.updateStatus(ctx, msg, statusID, statusErrored)
		c.send(ctx, msg, genericErrorNotice)
		return
	}
	turn.attach(inv)

	res, err := inv.Wait()
	switch {
	case err == nil && res.Aborted:
		// The aborting message already handled the user-visible side;
		// keep only the surfaced session id so --resume still works.
		if res.SessionID != "" {
			sess.AgentSessionID = res.SessionID
			if perr := c.sessions.Put(sess); perr != nil {
				log.Printf("bridge: persist aborted %s: %v", key, perr)
			}
		}

	case errors.Is(err, agent.ErrRateLimited):
		c.updateStatus(ctx, msg, statusID, statusErrored)
		c.send(ctx, msg, RateLimitNotice)

	case err != nil:
		log.Printf("bridge: turn %s: %v", key, err)
		c.updateStatus(ctx, msg, statusID, statusErrored)
		c.send(ctx, msg, genericErrorNotice)

	default:
		c.updateStatus(ctx, msg, statusID, statusDone)
		if res.SessionID != "" {
			sess.AgentSessionID = res.SessionID
		}
		sess.Turns++
		sess.LastActivity = time.Now()
		// Fresh activity re-arms the back-online notice for this thread.
		sess.BootNotified = false
		if err := c.sessions.Put(sess); err != nil {
			log.Printf("bridge: persist %s: %v", key, err)
		}
		text := res.Text
		if contextReset {
			text = contextResetNotice + "\n\n" + text
		}
		for _, chunk := range SplitMessage(text, SplitLimit) {
			if _, err := c.adapter.Send(ctx, OutboundMessage{
				ChannelID: msg.ChannelID,
				ThreadTS:  msg.ThreadTS,
				Text:      chunk,
			}); err != nil {
				log.Printf("bridge: post response %s: %v", key, err)
				break
			}
		}
	}
}

// resolvePrompt returns the prompt for this turn. For a thread with an
// awaiting pending execution the inbound message is an approval verdict,
// not a conversational turn; a decline answers directly and stops the
// turn.
func (c *Controller) resolvePrompt(ctx context.Context, msg InboundMessage, sess models.Session) (Prompt, bool) {
	pe, awaiting, err := c.pendings.FindAwaiting(msg.ChannelID, msg.ThreadTS)
	if err != nil {
		log.Printf("bridge: find awaiting: %v", err)
	}
	if !awaiting {
		return c.prompts.Build(ctx, msg, sess), true
	}

	verdict := c.approvals.Classify(msg.Text)
	fmt.Fprintf(c.out, "bridge: approval [%s] → %s\n", pe.ID, verdict)

	if verdict == ApprovalDecline {
		if err := c.pendings.Resolve(pe.ID, models.PendingDeclined); err != nil {
			log.Printf("bridge: decline %s: %v", pe.ID, err)
		}
		c.send(ctx, msg, "Okay — I'll drop it.")
		return Prompt{}, false
	}

	items, err := store.Items(pe)
	if err != nil {
		log.Printf("bridge: decode items %s: %v", pe.ID, err)
	}
	modification := ""
	if verdict == ApprovalModify {
		modification = msg.Text
	}
	if err := c.pendings.Resolve(pe.ID, models.PendingExecuted); err != nil {
		log.Printf("bridge: resolve %s: %v", pe.ID, err)
	}
	return Prompt{Text: ExecutionPrompt(pe.Plan, items, modification)}, true
}

// send posts a reply into the message's thread, best-effort.
func (c *Controller) send(ctx context.Context, msg InboundMessage, text string) {
	if _, err := c.adapter.Send(ctx, OutboundMessage{
		ChannelID: msg.ChannelID,
		ThreadTS:  msg.ThreadTS,
		Text:      text,
	}); err != nil {
		log.Printf("bridge: send: %v", err)
	}
}

// updateStatus edits the status indicator, best-effort.
func (c *Controller) updateStatus(ctx context.Context, msg InboundMessage, statusID, text string) {
	if statusID == "" {
		return
	}
	if err := c.adapter.Update(ctx, msg.ChannelID, msg.ThreadTS, statusID, text); err != nil {
		log.Printf("bridge: status update: %v", err)
	}
}

// ackPhrases are the working-indicator openers. The indicator is edited in
// place as tool status arrives, so these only show for the first moments.
var ackPhrases = []string{
	"On it.",
	"Looking into it...",
	"Give me a moment...",
	"Working on it now.",
	"Let me check.",
	"One sec...",
	"Right away.",
	"Digging in...",
}

// nextAck returns the next phrase from a shuffled deck, reshuffling when
// exhausted so every phrase is used before any repeats.
func (c *Controller) nextAck() string {
	c.ackMu.Lock()
	defer c.ackMu.Unlock()
	if len(c.ackDeck) == 0 {
		c.ackDeck = make([]string, len(ackPhrases))
		copy(c.ackDeck, ackPhrases)
		rand.Shuffle(len(c.ackDeck), func(i, j int) {
			c.ackDeck[i], c.ackDeck[j] = c.ackDeck[j], c.ackDeck[i]
		})
	}
	phrase := c.ackDeck[len(c.ackDeck)-1]
	c.ackDeck = c.ackDeck[:len(c.ackDeck)-1]
	return phrase
}

// truncate returns s cut to maxLen bytes with "..." appended if needed.
func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}

// Running reports whether a turn is currently in flight for the thread key.
func (c *Controller) Running(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.running[key]
	return ok
}
