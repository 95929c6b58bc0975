package voice

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/majordomo-sh/majordomo/internal/agent"
	"github.com/majordomo-sh/majordomo/internal/models"
	"github.com/majordomo-sh/majordomo/internal/store"
	"github.com/majordomo-sh/majordomo/internal/tts"
)

const (
	defaultKeepalive = 30 * time.Second
	defaultGreetWait = 15 * time.Second
	writeTimeout     = 10 * time.Second
	sendQueueDepth   = 256

	// voiceSystemPrompt shapes replies for ears, not eyes.
	voiceSystemPrompt = "You are on a live voice call. Answer the way you would speak: short " +
		"sentences, plain words, no markdown, no bullet lists, no code blocks. Spell out " +
		"anything that only works on a screen. If a task will take a while, say what you're " +
		"doing before you start it."
)

// wsConn abstracts the websocket methods we use, enabling test fakes.
type wsConn interface {
	ReadMessage() (int, []byte, error)
	WriteMessage(messageType int, data []byte) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
	SetPongHandler(h func(string) error)
	Close() error
}

type wsFrame struct {
	kind int
	data []byte
}

// Conn runs one voice call end to end: greeting, turns, keepalive, and
// the wrap-up after hangup. One goroutine reads, one writes; each turn
// runs on its own goroutine so the read loop always sees cancel frames.
type Conn struct {
	id      string
	ws      wsConn
	runner  AgentRunner
	speaker *Speaker
	greeter *Greeter
	wrapup  *WrapUp
	markers *store.Markers

	channel   string
	threadTS  string
	model     string
	keepalive time.Duration
	greetWait time.Duration

	sendCh     chan wsFrame
	quit       chan struct{}
	writerDone chan struct{}
	greetDone  chan struct{}
	turns      sync.WaitGroup

	mu             sync.Mutex
	sessionID      string
	processing     bool
	spoke          bool
	turnGen        int
	inv            Invocation
	lines          []store.Line
	assistantTurns int
	startedAt      time.Time
}

// ConnOpts holds parameters for one call connection.
type ConnOpts struct {
	WS      wsConn
	Runner  AgentRunner
	Engine  tts.Engine
	Greeter *Greeter
	WrapUp  *WrapUp
	Markers *store.Markers

	// Linkage to the chat conversation this call continues. All optional:
	// a call with no recent chat session starts fresh.
	Channel   string
	ThreadTS  string
	SessionID string
	Model     string

	Keepalive time.Duration // ping interval, defaults to 30s
	GreetWait time.Duration // how long early utterances wait for the greeting
}

// NewConn creates a call connection. The caller owns the websocket until
// Run, which takes over reading and closes it on exit.
func NewConn(opts ConnOpts) (*Conn, error) {
	if opts.WS == nil {
		return nil, fmt.Errorf("voice: conn: websocket is required")
	}
	if opts.Runner == nil {
		return nil, fmt.Errorf("voice: conn: runner is required")
	}
	if opts.Engine == nil {
		return nil, fmt.Errorf("voice: conn: tts engine is required")
	}
	if opts.Greeter == nil {
		return nil, fmt.Errorf("voice: conn: greeter is required")
	}
	if opts.WrapUp == nil {
		return nil, fmt.Errorf("voice: conn: wrapup is required")
	}
	if opts.Markers == nil {
		return nil, fmt.Errorf("voice: conn: markers are required")
	}
	if opts.Keepalive <= 0 {
		opts.Keepalive = defaultKeepalive
	}
	if opts.GreetWait <= 0 {
		opts.GreetWait = defaultGreetWait
	}

	c := &Conn{
		id:         uuid.NewString()[:8],
		ws:         opts.WS,
		runner:     opts.Runner,
		greeter:    opts.Greeter,
		wrapup:     opts.WrapUp,
		markers:    opts.Markers,
		channel:    opts.Channel,
		threadTS:   opts.ThreadTS,
		model:      opts.Model,
		sessionID:  opts.SessionID,
		keepalive:  opts.Keepalive,
		greetWait:  opts.GreetWait,
		sendCh:     make(chan wsFrame, sendQueueDepth),
		quit:       make(chan struct{}),
		writerDone: make(chan struct{}),
		greetDone:  make(chan struct{}),
	}
	sp, err := NewSpeaker(SpeakerOpts{Engine: opts.Engine, Deliver: c.deliverAudio})
	if err != nil {
		return nil, err
	}
	c.speaker = sp
	return c, nil
}

// Run drives the call until the device disconnects or the context ends,
// then tears down and runs the wrap-up. Blocks for the whole call.
func (c *Conn) Run(ctx context.Context) {
	now := time.Now()
	c.mu.Lock()
	c.startedAt = now
	c.mu.Unlock()
	log.Printf("voice: call %s connected (channel=%q thread=%q)", c.id, c.channel, c.threadTS)

	if err := c.markers.Put(models.MarkerActiveCall, store.ActiveCall{
		ConnID:    c.id,
		SessionID: c.sessionID,
		Channel:   c.channel,
		ThreadTS:  c.threadTS,
		StartedAt: now,
	}); err != nil {
		log.Printf("voice: active-call marker: %v", err)
	}

	go c.writeLoop()

	// Any frame proves liveness; the pong handler just pushes the deadline.
	c.ws.SetReadDeadline(now.Add(2 * c.keepalive))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(2 * c.keepalive))
	})

	c.turns.Add(1)
	go c.greet(ctx)

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			break
		}
		c.ws.SetReadDeadline(time.Now().Add(2 * c.keepalive))

		var msg clientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}
		switch msg.Type {
		case msgTranscript:
			c.handleTranscript(ctx, msg.Text)
		case msgCancel:
			c.handleCancel()
		}
	}

	c.teardown(ctx)
}

// greet speaks the opening line. It counts as transcript but not as an
// assistant turn: a call that never gets past hello is not worth
// archiving.
func (c *Conn) greet(ctx context.Context) {
	defer c.turns.Done()
	defer close(c.greetDone)

	c.sendStatus(statusThinking)
	text := c.greeter.Greet(ctx, c.channel, c.threadTS)
	c.appendLine("assistant", text)
	c.speaker.Enqueue(text)
	c.speaker.Wait()
	c.sendJSON(serverMessage{Type: msgResponseText, Text: text})
	c.sendJSON(serverMessage{Type: msgResponseDone})
}

// handleTranscript starts a turn for one finalized utterance, or rejects
// it when a turn is already running.
func (c *Conn) handleTranscript(ctx context.Context, text string) {
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}

	c.mu.Lock()
	if c.processing {
		c.mu.Unlock()
		c.sendStatus(statusBusy)
		return
	}
	c.processing = true
	gen := c.turnGen
	c.mu.Unlock()

	c.turns.Add(1)
	go c.runTurn(ctx, text, gen)
}

// handleCancel abandons the in-flight turn: queued audio is dropped, the
// subprocess is killed, and the call returns to listening.
func (c *Conn) handleCancel() {
	c.mu.Lock()
	if !c.processing {
		c.mu.Unlock()
		return
	}
	c.turnGen++
	inv := c.inv
	c.mu.Unlock()

	c.speaker.CancelPending()
	if inv != nil {
		inv.Kill()
	}
	c.sendStatus(statusCancelled)
	log.Printf("voice: call %s turn cancelled", c.id)
}

func (c *Conn) runTurn(ctx context.Context, text string, gen int) {
	defer c.turns.Done()
	defer func() {
		c.mu.Lock()
		c.processing = false
		c.inv = nil
		c.mu.Unlock()
	}()

	// Hold the turn until the greeting has been spoken, bounded so a
	// stuck synthesis can't freeze the first exchange.
	select {
	case <-c.greetDone:
	case <-time.After(c.greetWait):
	case <-c.quit:
		return
	case <-ctx.Done():
		return
	}
	if c.turnStale(gen) {
		return
	}

	c.appendLine("caller", text)
	c.sendStatus(statusThinking)
	c.mu.Lock()
	c.spoke = false
	resume := c.sessionID
	c.mu.Unlock()

	seg := &Segmenter{}
	sawText := false
	hooks := agent.StreamHooks{
		OnText: func(fragment string) {
			sawText = true
			for _, sentence := range seg.Push(fragment) {
				c.speaker.Enqueue(sentence)
			}
		},
		OnStatus: func(status string) {
			c.sendJSON(serverMessage{Type: msgActivity, Text: status})
		},
	}

	inv, err := c.runner.StreamWith(ctx, agent.Args{
		Prompt:       text,
		SystemPrompt: voiceSystemPrompt,
		Model:        c.model,
		Resume:       resume,
	}, hooks)
	if err != nil {
		log.Printf("voice: start turn: %v", err)
		c.sendStatus(statusError)
		return
	}

	c.mu.Lock()
	c.inv = inv
	stale := gen != c.turnGen
	c.mu.Unlock()
	if stale {
		inv.Kill()
	}
	select {
	case <-c.quit:
		inv.Kill()
	default:
	}

	res, err := inv.Wait()
	if err != nil {
		log.Printf("voice: turn failed: %v", err)
		c.speaker.CancelPending()
		c.sendStatus(statusError)
		return
	}
	c.mu.Lock()
	if res.SessionID != "" {
		c.sessionID = res.SessionID
	}
	c.mu.Unlock()
	if res.Aborted {
		return
	}

	// A run with no streamed text still gets spoken: segment the final
	// result instead.
	if !sawText && res.Text != "" {
		for _, sentence := range seg.Push(res.Text) {
			c.speaker.Enqueue(sentence)
		}
	}
	if tail := seg.Flush(); tail != "" {
		c.speaker.Enqueue(tail)
	}
	c.speaker.Wait()

	c.appendLine("assistant", res.Text)
	c.mu.Lock()
	c.assistantTurns++
	c.mu.Unlock()
	c.sendJSON(serverMessage{Type: msgResponseText, Text: res.Text})
	c.sendJSON(serverMessage{Type: msgResponseDone})
}

func (c *Conn) turnStale(gen int) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return gen != c.turnGen
}

// Shutdown hangs up from the server side by closing the websocket. Run's
// read loop then breaks and tears down as if the device had disconnected.
func (c *Conn) Shutdown() {
	c.ws.Close()
}

// teardown unwinds the call after the read loop exits and hands the
// finished call to the wrap-up when it earned one.
func (c *Conn) teardown(ctx context.Context) {
	close(c.quit)

	c.mu.Lock()
	inv := c.inv
	c.mu.Unlock()
	if inv != nil {
		inv.Kill()
	}
	c.speaker.CancelPending()
	c.turns.Wait()
	c.speaker.Close()
	c.ws.Close()
	<-c.writerDone

	if err := c.markers.Clear(models.MarkerActiveCall); err != nil {
		log.Printf("voice: clear active-call marker: %v", err)
	}

	c.mu.Lock()
	turns := c.assistantTurns
	result := CallResult{
		Channel:   c.channel,
		ThreadTS:  c.threadTS,
		SessionID: c.sessionID,
		StartedAt: c.startedAt,
		EndedAt:   time.Now(),
		Lines:     append([]store.Line(nil), c.lines...),
	}
	c.mu.Unlock()

	log.Printf("voice: call %s ended after %d assistant turn(s)", c.id, turns)
	if turns == 0 {
		return
	}
	// The wrap-up must outlive the call's own shutdown; its passes carry
	// their own timeouts.
	c.wrapup.Run(context.WithoutCancel(ctx), result)
}

// writeLoop is the single writer: every frame and every keepalive ping
// goes through here, which is what keeps audio order reliable.
func (c *Conn) writeLoop() {
	defer close(c.writerDone)
	ping := time.NewTicker(c.keepalive)
	defer ping.Stop()
	for {
		select {
		case f := <-c.sendCh:
			c.ws.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.ws.WriteMessage(f.kind, f.data); err != nil {
				return
			}
		case <-ping.C:
			if err := c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout)); err != nil {
				return
			}
		case <-c.quit:
			return
		}
	}
}

// deliverAudio receives synthesized clips in order. The first clip of a
// turn flips the status to speaking.
func (c *Conn) deliverAudio(audio []byte) {
	c.mu.Lock()
	first := !c.spoke
	c.spoke = true
	c.mu.Unlock()
	if first {
		c.sendStatus(statusSpeaking)
	}
	c.enqueueFrame(websocket.BinaryMessage, audio)
}

func (c *Conn) appendLine(role, text string) {
	if strings.TrimSpace(text) == "" {
		return
	}
	c.mu.Lock()
	c.lines = append(c.lines, store.Line{Role: role, Text: text, At: time.Now()})
	c.mu.Unlock()
}

func (c *Conn) sendStatus(status string) {
	c.sendJSON(serverMessage{Type: msgStatus, Status: status})
}

func (c *Conn) sendJSON(v interface{}) {
	data, err := json.Marshal(v)
	if err != nil {
		return
	}
	c.enqueueFrame(websocket.TextMessage, data)
}

// enqueueFrame hands a frame to the writer, giving up if the writer has
// already exited so nothing blocks on a dead connection.
func (c *Conn) enqueueFrame(kind int, data []byte) {
	select {
	case c.sendCh <- wsFrame{kind: kind, data: data}:
	case <-c.writerDone:
	}
}
