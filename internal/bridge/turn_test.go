package bridge

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/majordomo-sh/majordomo/internal/agent"
	"github.com/majordomo-sh/majordomo/internal/models"
	"github.com/majordomo-sh/majordomo/internal/store"
)

type controllerFixture struct {
	controller *Controller
	adapter    *MockAdapter
	runner     *fakeRunner
	stores     *store.Stores
}

func newTestController(t *testing.T) *controllerFixture {
	t.Helper()
	stores := newTestStores(t)
	adapter := NewMockAdapter()
	runner := &fakeRunner{}

	prompts, err := NewPromptBuilder(PromptBuilderOpts{
		Adapter:    adapter,
		Markers:    stores.Markers,
		SpoolDir:   t.TempDir(),
		CallWindow: 5 * time.Minute,
	})
	if err != nil {
		t.Fatalf("NewPromptBuilder: %v", err)
	}
	summarizer, err := NewSummarizer(SummarizerOpts{
		Runner:  runner,
		Adapter: adapter,
		Model:   "haiku",
	})
	if err != nil {
		t.Fatalf("NewSummarizer: %v", err)
	}
	controller, err := NewController(ControllerOpts{
		Adapter:    adapter,
		Runner:     runner,
		Sessions:   stores.Sessions,
		Pendings:   stores.Pendings,
		Prompts:    prompts,
		Summarizer: summarizer,
		Model:      "sonnet",
		Out:        io.Discard,
	})
	if err != nil {
		t.Fatalf("NewController: %v", err)
	}
	return &controllerFixture{
		controller: controller,
		adapter:    adapter,
		runner:     runner,
		stores:     stores,
	}
}

func TestController_SuccessfulTurn(t *testing.T) {
	f := newTestController(t)
	f.runner.enqueue(finishedInvocation(agent.Result{Text: "two meetings today", SessionID: "s1"}, nil))

	msg := InboundMessage{ChannelID: "C1", ThreadTS: "171.001", Text: "what's on my calendar"}
	f.controller.HandleMessage(context.Background(), msg)

	sent := f.adapter.AllSent()
	if len(sent) != 2 {
		t.Fatalf("sent %d messages, want 2 (indicator + response)", len(sent))
	}
	if sent[1].Text != "two meetings today" {
		t.Errorf("response = %q, want the agent text", sent[1].Text)
	}
	if sent[1].ChannelID != "C1" || sent[1].ThreadTS != "171.001" {
		t.Errorf("response routed to %s|%s, want C1|171.001", sent[1].ChannelID, sent[1].ThreadTS)
	}

	updates := f.adapter.Updates()
	if len(updates) == 0 || updates[len(updates)-1].Text != statusDone {
		t.Errorf("updates = %v, want final %q", updates, statusDone)
	}

	sess, ok := f.stores.Sessions.Get("C1|171.001")
	if !ok {
		t.Fatal("session not persisted")
	}
	if sess.AgentSessionID != "s1" {
		t.Errorf("AgentSessionID = %q, want s1", sess.AgentSessionID)
	}
	if sess.Turns != 1 {
		t.Errorf("Turns = %d, want 1", sess.Turns)
	}
	if sess.Model != "sonnet" {
		t.Errorf("Model = %q, want the default tier", sess.Model)
	}

	args := f.runner.lastStreamed(t)
	if args.Resume != "" {
		t.Errorf("Resume = %q, want empty for a fresh thread", args.Resume)
	}
	if args.Prompt != "what's on my calendar" {
		t.Errorf("Prompt = %q, want the bare message", args.Prompt)
	}
}

func TestController_ResumesExistingSession(t *testing.T) {
	f := newTestController(t)
	if err := f.stores.Sessions.Put(models.Session{
		ThreadKey: "C1|171.001", AgentSessionID: "old", Turns: 4, Model: "opus",
	}); err != nil {
		t.Fatalf("put session: %v", err)
	}
	f.runner.enqueue(finishedInvocation(agent.Result{Text: "done", SessionID: "old2"}, nil))

	f.controller.HandleMessage(context.Background(),
		InboundMessage{ChannelID: "C1", ThreadTS: "171.001", Text: "next step please"})

	args := f.runner.lastStreamed(t)
	if args.Resume != "old" {
		t.Errorf("Resume = %q, want old", args.Resume)
	}
	if args.Model != "opus" {
		t.Errorf("Model = %q, want the session's pinned model", args.Model)
	}

	sess, _ := f.stores.Sessions.Get("C1|171.001")
	if sess.AgentSessionID != "old2" || sess.Turns != 5 {
		t.Errorf("session = %q/%d, want old2/5", sess.AgentSessionID, sess.Turns)
	}
}

func TestController_LongResponseChunked(t *testing.T) {
	f := newTestController(t)
	long := strings.Repeat("a", SplitLimit+100)
	f.runner.enqueue(finishedInvocation(agent.Result{Text: long, SessionID: "s1"}, nil))

	f.controller.HandleMessage(context.Background(),
		InboundMessage{ChannelID: "C1", Text: "write it all out"})

	sent := f.adapter.AllSent()
	if len(sent) != 3 {
		t.Fatalf("sent %d messages, want 3 (indicator + 2 chunks)", len(sent))
	}
	if len(sent[1].Text) > SplitLimit || len(sent[2].Text) > SplitLimit {
		t.Errorf("chunk over limit: %d, %d", len(sent[1].Text), len(sent[2].Text))
	}
	if sent[1].Text+sent[2].Text != long {
		t.Error("chunks do not reassemble to the response")
	}
}

func TestController_CancellationKillsTurn(t *testing.T) {
	f := newTestController(t)
	inv := newFakeInvocation(agent.Result{SessionID: "s1"}, nil)
	f.runner.enqueue(inv)
	f.runner.started = make(chan *fakeInvocation, 1)

	ctx := context.Background()
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		f.controller.HandleMessage(ctx, InboundMessage{ChannelID: "C1", Text: "research flights"})
	}()
	<-f.runner.started

	f.controller.HandleMessage(ctx, InboundMessage{ChannelID: "C1", Text: "stop"})
	wg.Wait()

	if !inv.wasKilled() {
		t.Error("running invocation was not killed")
	}
	if f.runner.streamCount() != 1 {
		t.Errorf("stream calls = %d, want 1 (no turn for the cancellation)", f.runner.streamCount())
	}

	last, ok := f.adapter.LastSent()
	if !ok || last.Text != cancelAck {
		t.Errorf("last sent = %q, want %q", last.Text, cancelAck)
	}
	updates := f.adapter.Updates()
	if len(updates) != 1 || updates[0].Text != statusCancelled {
		t.Errorf("updates = %v, want one %q edit", updates, statusCancelled)
	}

	// The aborted turn still persists the surfaced session id so the next
	// message resumes the conversation.
	sess, ok := f.stores.Sessions.Get("C1")
	if !ok || sess.AgentSessionID != "s1" {
		t.Errorf("session = %v/%v, want persisted id s1", sess.AgentSessionID, ok)
	}
	if sess.Turns != 0 {
		t.Errorf("Turns = %d, want 0 for an aborted turn", sess.Turns)
	}
}

func TestController_SupersedeReplacesTurn(t *testing.T) {
	f := newTestController(t)
	inv1 := newFakeInvocation(agent.Result{SessionID: "s1"}, nil)
	inv2 := finishedInvocation(agent.Result{Text: "weather looks clear", SessionID: "s2"}, nil)
	f.runner.enqueue(inv1)
	f.runner.enqueue(inv2)
	f.runner.started = make(chan *fakeInvocation, 2)

	ctx := context.Background()
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		f.controller.HandleMessage(ctx, InboundMessage{ChannelID: "C1", Text: "book the hotel"})
	}()
	<-f.runner.started

	f.controller.HandleMessage(ctx, InboundMessage{ChannelID: "C1", Text: "actually check the weather first"})
	wg.Wait()

	if !inv1.wasKilled() {
		t.Error("first invocation was not killed")
	}
	if f.runner.streamCount() != 2 {
		t.Fatalf("stream calls = %d, want 2", f.runner.streamCount())
	}

	// The first invocation's surfaced session id feeds the replacement
	// turn, so even an interrupted exchange stays one conversation.
	f.runner.mu.Lock()
	resume := f.runner.streamed[1].Resume
	f.runner.mu.Unlock()
	if resume != "s1" {
		t.Errorf("replacement Resume = %q, want s1", resume)
	}

	last, ok := f.adapter.LastSent()
	if !ok || last.Text != "weather looks clear" {
		t.Errorf("last sent = %q, want the replacement's response", last.Text)
	}

	var superseded bool
	for _, u := range f.adapter.Updates() {
		if u.Text == statusSuperseded {
			superseded = true
		}
	}
	if !superseded {
		t.Errorf("updates = %v, want a %q edit", f.adapter.Updates(), statusSuperseded)
	}

	sess, _ := f.stores.Sessions.Get("C1")
	if sess.AgentSessionID != "s2" || sess.Turns != 1 {
		t.Errorf("session = %q/%d, want s2/1", sess.AgentSessionID, sess.Turns)
	}
}

func TestController_TurnThresholdResets(t *testing.T) {
	f := newTestController(t)
	if err := f.stores.Sessions.Put(models.Session{
		ThreadKey: "C1|171.001", AgentSessionID: "old-sess", Turns: TurnResetThreshold,
	}); err != nil {
		t.Fatalf("put session: %v", err)
	}
	f.adapter.SetThreadHistory("C1", "171.001", []ThreadMessage{
		{UserID: "U1", UserName: "pat", Text: "long conversation happened here"},
	})
	f.runner.batch = "the digest"
	f.runner.enqueue(finishedInvocation(agent.Result{Text: "continuing fresh", SessionID: "new-sess"}, nil))

	f.controller.HandleMessage(context.Background(),
		InboundMessage{ChannelID: "C1", ThreadTS: "171.001", Text: "and the next thing"})

	args := f.runner.lastStreamed(t)
	if args.Resume != "" {
		t.Errorf("Resume = %q, want empty after reset", args.Resume)
	}
	if !strings.HasPrefix(args.Prompt, "[Context reset. Digest of the conversation so far:\nthe digest]") {
		t.Errorf("prompt not prefixed with digest:\n%s", args.Prompt)
	}
	if !strings.Contains(args.Prompt, "and the next thing") {
		t.Errorf("prompt missing the user message:\n%s", args.Prompt)
	}

	sess, _ := f.stores.Sessions.Get("C1|171.001")
	if sess.AgentSessionID != "new-sess" || sess.Turns != 1 {
		t.Errorf("session = %q/%d, want new-sess/1", sess.AgentSessionID, sess.Turns)
	}

	sent := f.adapter.AllSent()
	if len(sent) != 2 {
		t.Fatalf("sent %d messages, want 2", len(sent))
	}
	if !strings.HasPrefix(sent[1].Text, contextResetNotice) {
		t.Errorf("response missing reset notice:\n%s", sent[1].Text)
	}
}

func TestController_SummarizeFailureKeepsSession(t *testing.T) {
	f := newTestController(t)
	if err := f.stores.Sessions.Put(models.Session{
		ThreadKey: "C1|171.001", AgentSessionID: "old-sess", Turns: TurnResetThreshold,
	}); err != nil {
		t.Fatalf("put session: %v", err)
	}
	// No thread history seeded: the digest fetch comes back empty and
	// summarization fails.
	f.runner.enqueue(finishedInvocation(agent.Result{Text: "still going", SessionID: "old2"}, nil))

	f.controller.HandleMessage(context.Background(),
		InboundMessage{ChannelID: "C1", ThreadTS: "171.001", Text: "keep at it"})

	args := f.runner.lastStreamed(t)
	if args.Resume != "old-sess" {
		t.Errorf("Resume = %q, want old-sess (reset skipped)", args.Resume)
	}
	if strings.Contains(args.Prompt, "Context reset") {
		t.Errorf("prompt has a reset block after failed summarize:\n%s", args.Prompt)
	}

	sess, _ := f.stores.Sessions.Get("C1|171.001")
	if sess.Turns != TurnResetThreshold+1 {
		t.Errorf("Turns = %d, want %d", sess.Turns, TurnResetThreshold+1)
	}

	sent := f.adapter.AllSent()
	if strings.Contains(sent[len(sent)-1].Text, contextResetNotice) {
		t.Error("response carries a reset notice after failed summarize")
	}
}

func TestController_RateLimitNotice(t *testing.T) {
	f := newTestController(t)
	f.runner.enqueue(finishedInvocation(agent.Result{}, agent.ErrRateLimited))

	f.controller.HandleMessage(context.Background(),
		InboundMessage{ChannelID: "C1", Text: "do the thing"})

	last, ok := f.adapter.LastSent()
	if !ok || last.Text != RateLimitNotice {
		t.Errorf("last sent = %q, want the rate-limit notice", last.Text)
	}
	updates := f.adapter.Updates()
	if len(updates) == 0 || updates[len(updates)-1].Text != statusErrored {
		t.Errorf("updates = %v, want final %q", updates, statusErrored)
	}
	if _, ok := f.stores.Sessions.Get("C1"); ok {
		t.Error("failed turn persisted a session")
	}
}

func TestController_ExitErrorNotice(t *testing.T) {
	f := newTestController(t)
	f.runner.enqueue(finishedInvocation(agent.Result{}, &agent.ExitError{Code: 1, Stderr: "boom"}))

	f.controller.HandleMessage(context.Background(),
		InboundMessage{ChannelID: "C1", Text: "do the thing"})

	last, ok := f.adapter.LastSent()
	if !ok || last.Text != genericErrorNotice {
		t.Errorf("last sent = %q, want the generic notice", last.Text)
	}
	if strings.Contains(last.Text, "boom") {
		t.Error("stderr leaked into the user-facing notice")
	}
}

func TestController_SpawnFailureNotice(t *testing.T) {
	f := newTestController(t)
	f.runner.streamErr = errors.New("binary not found")

	f.controller.HandleMessage(context.Background(),
		InboundMessage{ChannelID: "C1", Text: "hello"})

	last, ok := f.adapter.LastSent()
	if !ok || last.Text != genericErrorNotice {
		t.Errorf("last sent = %q, want the generic notice", last.Text)
	}
	updates := f.adapter.Updates()
	if len(updates) == 0 || updates[len(updates)-1].Text != statusErrored {
		t.Errorf("updates = %v, want %q", updates, statusErrored)
	}
}

func TestController_ApprovalDecline(t *testing.T) {
	f := newTestController(t)
	if _, err := f.stores.Pendings.Create("C1", "171.001", "book the venue", "call transcript",
		[]store.ActionItem{{Description: "book the venue", Owner: "agent"}}); err != nil {
		t.Fatalf("create pending: %v", err)
	}

	f.controller.HandleMessage(context.Background(),
		InboundMessage{ChannelID: "C1", ThreadTS: "171.001", Text: "no"})

	if f.runner.streamCount() != 0 {
		t.Errorf("stream calls = %d, want 0 for a decline", f.runner.streamCount())
	}
	last, ok := f.adapter.LastSent()
	if !ok || !strings.Contains(last.Text, "drop it") {
		t.Errorf("last sent = %q, want the decline ack", last.Text)
	}
	if _, found, _ := f.stores.Pendings.FindAwaiting("C1", "171.001"); found {
		t.Error("pending still awaiting after decline")
	}
}

func TestController_ApprovalExecutes(t *testing.T) {
	f := newTestController(t)
	if _, err := f.stores.Pendings.Create("C1", "171.001", "email then book", "call transcript",
		[]store.ActionItem{
			{Description: "email the venue", Owner: "agent", Context: "ask about Friday"},
			{Description: "approve the quote", Owner: "user"},
		}); err != nil {
		t.Fatalf("create pending: %v", err)
	}
	f.runner.enqueue(finishedInvocation(agent.Result{Text: "Sent the email.", SessionID: "s1"}, nil))

	f.controller.HandleMessage(context.Background(),
		InboundMessage{ChannelID: "C1", ThreadTS: "171.001", Text: "yes"})

	if f.runner.streamCount() != 1 {
		t.Fatalf("stream calls = %d, want 1", f.runner.streamCount())
	}
	args := f.runner.lastStreamed(t)
	if !strings.Contains(args.Prompt, "1. email the venue (ask about Friday)") {
		t.Errorf("execution prompt missing agent item:\n%s", args.Prompt)
	}
	if strings.Contains(args.Prompt, "approve the quote") {
		t.Errorf("execution prompt includes user-owned item:\n%s", args.Prompt)
	}
	if !strings.Contains(args.Prompt, "Plan from the call: email then book") {
		t.Errorf("execution prompt missing plan:\n%s", args.Prompt)
	}
	if _, found, _ := f.stores.Pendings.FindAwaiting("C1", "171.001"); found {
		t.Error("pending still awaiting after approval")
	}

	last, _ := f.adapter.LastSent()
	if last.Text != "Sent the email." {
		t.Errorf("last sent = %q, want the execution response", last.Text)
	}
}

func TestController_ApprovalWithModification(t *testing.T) {
	f := newTestController(t)
	if _, err := f.stores.Pendings.Create("C1", "171.001", "plan", "transcript",
		[]store.ActionItem{{Description: "send invites", Owner: "agent"}}); err != nil {
		t.Fatalf("create pending: %v", err)
	}
	f.runner.enqueue(finishedInvocation(agent.Result{Text: "Done with changes.", SessionID: "s1"}, nil))

	f.controller.HandleMessage(context.Background(),
		InboundMessage{ChannelID: "C1", ThreadTS: "171.001", Text: "do it but only for the core team"})

	args := f.runner.lastStreamed(t)
	if !strings.Contains(args.Prompt, "apply them: do it but only for the core team") {
		t.Errorf("execution prompt missing modification:\n%s", args.Prompt)
	}
}

func TestController_MergesCallSession(t *testing.T) {
	f := newTestController(t)
	if err := f.stores.Markers.Put(models.MarkerRecentCall, store.RecentCall{
		EndedAt:   time.Now(),
		SessionID: "call-sess",
	}); err != nil {
		t.Fatalf("put marker: %v", err)
	}
	f.runner.enqueue(finishedInvocation(agent.Result{Text: "picking up from the call", SessionID: "call-sess-2"}, nil))

	f.controller.HandleMessage(context.Background(),
		InboundMessage{ChannelID: "C1", Text: "as discussed, go ahead"})

	// The call's session id is the resume point for this turn.
	args := f.runner.lastStreamed(t)
	if args.Resume != "call-sess" {
		t.Errorf("Resume = %q, want the call session", args.Resume)
	}

	sess, _ := f.stores.Sessions.Get("C1")
	if sess.AgentSessionID != "call-sess-2" {
		t.Errorf("AgentSessionID = %q, want the continuation id", sess.AgentSessionID)
	}
}

func TestController_AckDeckCyclesWithoutRepeats(t *testing.T) {
	f := newTestController(t)
	seen := make(map[string]bool)
	for i := 0; i < len(ackPhrases); i++ {
		phrase := f.controller.nextAck()
		if seen[phrase] {
			t.Errorf("phrase %q repeated within one deck", phrase)
		}
		seen[phrase] = true
	}
	if len(seen) != len(ackPhrases) {
		t.Errorf("drew %d distinct phrases, want %d", len(seen), len(ackPhrases))
	}
	// The deck reshuffles and keeps dealing.
	next := f.controller.nextAck()
	if !seen[next] {
		t.Errorf("post-reshuffle phrase %q is not a known opener", next)
	}
}
