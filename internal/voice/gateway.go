package voice

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/majordomo-sh/majordomo/internal/config"
	"github.com/majordomo-sh/majordomo/internal/store"
	"github.com/majordomo-sh/majordomo/internal/tts"
)

// recentSessionWindow bounds how stale a chat session may be and still
// claim an incoming call. Matches the bridge's idle sweep default, so a
// call links only to conversations the bridge still considers live.
const recentSessionWindow = 30 * time.Minute

// Gateway serves the voice endpoint: one-time token auth on /ws, at most
// one live call at a time, and a health probe.
type Gateway struct {
	cfg     *config.Config
	stores  *store.Stores
	runner  AgentRunner
	engine  tts.Engine
	chat    Chat
	minter  *Minter
	greeter *Greeter
	wrapup  *WrapUp
	out     io.Writer

	upgrader websocket.Upgrader

	mu     sync.Mutex
	busy   bool
	active *Conn
	calls  sync.WaitGroup
}

// GatewayOpts holds parameters for creating a Gateway.
type GatewayOpts struct {
	Config *config.Config
	Stores *store.Stores
	Runner AgentRunner
	Engine tts.Engine
	Minter *Minter
	Chat   Chat // optional; without it greetings and summaries lose chat context
	Out    io.Writer
}

// NewGateway creates a Gateway.
func NewGateway(opts GatewayOpts) (*Gateway, error) {
	if opts.Config == nil {
		return nil, fmt.Errorf("voice: gateway: config is required")
	}
	if opts.Stores == nil {
		return nil, fmt.Errorf("voice: gateway: stores are required")
	}
	if opts.Runner == nil {
		return nil, fmt.Errorf("voice: gateway: runner is required")
	}
	if opts.Engine == nil {
		return nil, fmt.Errorf("voice: gateway: tts engine is required")
	}
	if opts.Minter == nil {
		return nil, fmt.Errorf("voice: gateway: minter is required")
	}
	if opts.Out == nil {
		opts.Out = io.Discard
	}

	greeter, err := NewGreeter(GreeterOpts{
		Runner: opts.Runner,
		Chat:   opts.Chat,
		Model:  opts.Config.Agent.FastModel,
	})
	if err != nil {
		return nil, err
	}
	wrapup, err := NewWrapUp(WrapUpOpts{
		Stores: opts.Stores,
		Runner: opts.Runner,
		Chat:   opts.Chat,
		Model:  opts.Config.Agent.FastModel,
	})
	if err != nil {
		return nil, err
	}

	return &Gateway{
		cfg:     opts.Config,
		stores:  opts.Stores,
		runner:  opts.Runner,
		engine:  opts.Engine,
		chat:    opts.Chat,
		minter:  opts.Minter,
		greeter: greeter,
		wrapup:  wrapup,
		out:     opts.Out,
		upgrader: websocket.Upgrader{
			// The one-time token is the auth; the origin is not.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}, nil
}

// Run serves until ctx is cancelled, then shuts down: the listener closes
// first, a live call is hung up, and Run returns once its wrap-up has
// finished.
func (g *Gateway) Run(ctx context.Context) error {
	gin.SetMode(gin.ReleaseMode)
	srv := &http.Server{
		Addr:    g.cfg.Voice.Listen,
		Handler: g.router(ctx),
	}

	go func() {
		<-ctx.Done()
		srv.Shutdown(context.Background())
		g.hangupActive()
	}()

	fmt.Fprintf(g.out, "Voice gateway listening on %s\n", g.cfg.Voice.Listen)

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("voice: %w", err)
	}
	g.calls.Wait()
	return nil
}

// router sets up the gateway's routes. Calls started through it inherit ctx.
func (g *Gateway) router(ctx context.Context) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.GET("/healthz", g.handleHealth)
	router.GET("/ws", func(gc *gin.Context) { g.handleWS(ctx, gc) })
	return router
}

func (g *Gateway) handleHealth(gc *gin.Context) {
	g.mu.Lock()
	busy := g.busy
	g.mu.Unlock()
	gc.JSON(http.StatusOK, gin.H{"ok": true, "in_call": busy})
}

// handleWS is the call entry point. The token is verified and spent
// before the upgrade, so a rejected caller gets a plain HTTP status.
func (g *Gateway) handleWS(ctx context.Context, gc *gin.Context) {
	token := gc.Query("token")
	if token == "" {
		gc.JSON(http.StatusUnauthorized, gin.H{"error": "token is required"})
		return
	}
	if err := g.minter.Verify(token, time.Now()); err != nil {
		log.Printf("voice: rejected connection: %v", err)
		gc.JSON(http.StatusUnauthorized, gin.H{"error": "invalid or already used token"})
		return
	}

	if !g.reserve() {
		gc.JSON(http.StatusConflict, gin.H{"error": "a call is already in progress"})
		return
	}
	defer g.release()

	ws, err := g.upgrader.Upgrade(gc.Writer, gc.Request, nil)
	if err != nil {
		log.Printf("voice: upgrade: %v", err)
		return
	}

	conn, err := g.newConn(ws)
	if err != nil {
		log.Printf("voice: conn setup: %v", err)
		ws.Close()
		return
	}

	g.setActive(conn)
	defer g.setActive(nil)
	conn.Run(ctx)
}

// newConn links an accepted websocket to the most recent live chat
// conversation, if there is one, and builds the call connection.
func (g *Gateway) newConn(ws wsConn) (*Conn, error) {
	var channel, threadTS, sessionID string
	model := g.cfg.Agent.Model
	if sess, ok := g.stores.Sessions.MostRecentActive(time.Now(), recentSessionWindow); ok {
		channel = sess.Channel
		threadTS = sess.ThreadTS
		sessionID = sess.AgentSessionID
		if sess.Model != "" {
			model = sess.Model
		}
	}

	return NewConn(ConnOpts{
		WS:        ws,
		Runner:    g.runner,
		Engine:    g.engine,
		Greeter:   g.greeter,
		WrapUp:    g.wrapup,
		Markers:   g.stores.Markers,
		Channel:   channel,
		ThreadTS:  threadTS,
		SessionID: sessionID,
		Model:     model,
		Keepalive: g.cfg.Voice.Keepalive(),
		GreetWait: g.cfg.Voice.GreetWait(),
	})
}

// reserve claims the single call slot.
func (g *Gateway) reserve() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.busy {
		return false
	}
	g.busy = true
	g.calls.Add(1)
	return true
}

func (g *Gateway) release() {
	g.mu.Lock()
	g.busy = false
	g.mu.Unlock()
	g.calls.Done()
}

func (g *Gateway) setActive(c *Conn) {
	g.mu.Lock()
	g.active = c
	g.mu.Unlock()
}

// hangupActive forces the live call, if any, to disconnect so shutdown
// doesn't wait on a caller who walked away mid-call.
func (g *Gateway) hangupActive() {
	g.mu.Lock()
	active := g.active
	g.mu.Unlock()
	if active != nil {
		active.Shutdown()
	}
}
