package bridge

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/majordomo-sh/majordomo/internal/config"
	"github.com/majordomo-sh/majordomo/internal/models"
	"github.com/majordomo-sh/majordomo/internal/store"
)

const (
	// pendingExpiry bounds how long an unanswered execution plan stays
	// actionable. Approving day-old plans causes more harm than re-asking.
	pendingExpiry = 24 * time.Hour

	// restartOriginMaxAge bounds the back-online notice. A marker older
	// than this belongs to a shutdown nobody is waiting on.
	restartOriginMaxAge = 15 * time.Minute

	// shutdownNoticeWindow selects which thread hears about a restart: only
	// one active in the last half hour is plausibly still watching.
	shutdownNoticeWindow = 30 * time.Minute
)

// Daemon is the chat bridge process: it connects the platform adapter,
// routes inbound messages to commands or agent turns, runs the periodic
// sweeps, and posts the back-online notice after a restart.
type Daemon struct {
	stores  *store.Stores
	cfg     *config.Config
	adapter Adapter
	runner  AgentRunner
	minter  TokenMinter
	out     io.Writer

	controller *Controller
	commands   *CommandHandler
	botUserID  string
}

// DaemonOpts holds parameters for creating a Daemon.
type DaemonOpts struct {
	Stores  *store.Stores
	Config  *config.Config
	Adapter Adapter
	Runner  AgentRunner
	Minter  TokenMinter // optional; "!domo voice" reports unconfigured without it
	Out     io.Writer   // defaults to os.Stdout
}

// NewDaemon creates a Daemon.
func NewDaemon(opts DaemonOpts) (*Daemon, error) {
	if opts.Stores == nil {
		return nil, fmt.Errorf("bridge: stores are required")
	}
	if opts.Config == nil {
		return nil, fmt.Errorf("bridge: config is required")
	}
	if opts.Adapter == nil {
		return nil, fmt.Errorf("bridge: adapter is required")
	}
	if opts.Runner == nil {
		return nil, fmt.Errorf("bridge: runner is required")
	}
	out := opts.Out
	if out == nil {
		out = os.Stdout
	}
	return &Daemon{
		stores:  opts.Stores,
		cfg:     opts.Config,
		adapter: opts.Adapter,
		runner:  opts.Runner,
		minter:  opts.Minter,
		out:     out,
	}, nil
}

// Run connects the adapter and processes messages until ctx is cancelled.
func (d *Daemon) Run(ctx context.Context) error {
	if err := d.stores.Sessions.Load(); err != nil {
		return fmt.Errorf("bridge: load sessions: %w", err)
	}
	fmt.Fprintf(d.out, "bridge: %d session(s) loaded\n", d.stores.Sessions.Count())

	if err := d.adapter.Connect(ctx); err != nil {
		return fmt.Errorf("bridge: connect: %w", err)
	}
	if ider, ok := d.adapter.(BotUserIDer); ok {
		d.botUserID = ider.BotUserID()
	}

	prompts, err := NewPromptBuilder(PromptBuilderOpts{
		Adapter:    d.adapter,
		Markers:    d.stores.Markers,
		SpoolDir:   d.cfg.Bridge.SpoolDir,
		CallWindow: d.cfg.Voice.RecentCallWindow(),
	})
	if err != nil {
		return err
	}
	summarizer, err := NewSummarizer(SummarizerOpts{
		Runner:  d.runner,
		Adapter: d.adapter,
		Model:   d.cfg.Agent.FastModel,
	})
	if err != nil {
		return err
	}
	d.controller, err = NewController(ControllerOpts{
		Adapter:    d.adapter,
		Runner:     d.runner,
		Sessions:   d.stores.Sessions,
		Pendings:   d.stores.Pendings,
		Prompts:    prompts,
		Summarizer: summarizer,
		Model:      d.cfg.Agent.Model,
		Out:        d.out,
	})
	if err != nil {
		return err
	}
	d.commands, err = NewCommandHandler(CommandHandlerOpts{
		Stores: d.stores,
		Minter: d.minter,
	})
	if err != nil {
		return err
	}

	inbound, err := d.adapter.Listen(ctx)
	if err != nil {
		return fmt.Errorf("bridge: listen: %w", err)
	}
	fmt.Fprintf(d.out, "bridge: listening on %s\n", d.cfg.Platform)

	d.announceRestart(ctx)

	sweeper := cron.New()
	if _, err := sweeper.AddFunc(d.cfg.Bridge.SweepCron, d.sweep); err != nil {
		return fmt.Errorf("bridge: sweep schedule %q: %w", d.cfg.Bridge.SweepCron, err)
	}
	sweeper.Start()
	defer sweeper.Stop()

	for {
		select {
		case <-ctx.Done():
			d.shutdown()
			return nil
		case msg, ok := <-inbound:
			if !ok {
				d.shutdown()
				return fmt.Errorf("bridge: adapter stream closed")
			}
			d.dispatch(ctx, msg)
		}
	}
}

// dispatch routes one inbound message: drop our own, answer commands
// directly, hand everything else to the turn controller.
func (d *Daemon) dispatch(ctx context.Context, msg InboundMessage) {
	if d.botUserID != "" && msg.UserID == d.botUserID {
		return
	}
	if msg.Text == "" && len(msg.Attachments) == 0 {
		return
	}
	fmt.Fprintf(d.out, "bridge: recv [%s] %q\n",
		store.ThreadKey(msg.ChannelID, msg.ThreadTS), truncate(msg.Text, 60))

	if IsCommand(msg.Text) {
		reply := d.commands.Execute(ctx, msg.Text)
		if _, err := d.adapter.Send(ctx, OutboundMessage{
			ChannelID: msg.ChannelID,
			ThreadTS:  msg.ThreadTS,
			Text:      reply,
		}); err != nil {
			log.Printf("bridge: command reply: %v", err)
		}
		return
	}
	go d.controller.HandleMessage(ctx, msg)
}

// announceRestart posts "back online" into the thread that was active when
// the previous process shut down. The marker is consumed either way, and a
// session that already heard the notice is not told twice until it speaks
// again, so a crash loop cannot spam the channel.
func (d *Daemon) announceRestart(ctx context.Context) {
	var origin store.RestartOrigin
	ok, err := d.stores.Markers.Take(models.MarkerRestartOrigin, restartOriginMaxAge, time.Now(), &origin)
	if err != nil {
		log.Printf("bridge: restart marker: %v", err)
		return
	}
	if !ok {
		return
	}

	key := store.ThreadKey(origin.Channel, origin.ThreadTS)
	sess, found := d.stores.Sessions.Get(key)
	if found && sess.BootNotified {
		return
	}
	if _, err := d.adapter.Send(ctx, OutboundMessage{
		ChannelID: origin.Channel,
		ThreadTS:  origin.ThreadTS,
		Text:      "👋 Back online.",
	}); err != nil {
		log.Printf("bridge: back-online notice: %v", err)
		return
	}
	if found {
		sess.BootNotified = true
		if err := d.stores.Sessions.Put(sess); err != nil {
			log.Printf("bridge: persist boot notice %s: %v", key, err)
		}
	}
}

// sweep runs the periodic maintenance pass.
func (d *Daemon) sweep() {
	now := time.Now()
	if n, err := d.stores.Sessions.SweepIdle(d.cfg.Bridge.IdleThreshold(), now); err != nil {
		log.Printf("bridge: sweep sessions: %v", err)
	} else if n > 0 {
		fmt.Fprintf(d.out, "bridge: swept %d idle session(s)\n", n)
	}
	if n, err := d.stores.Pendings.PurgeExpired(pendingExpiry, now); err != nil {
		log.Printf("bridge: sweep pendings: %v", err)
	} else if n > 0 {
		fmt.Fprintf(d.out, "bridge: expired %d pending execution(s)\n", n)
	}
	if n, err := d.stores.Tokens.PurgeExpired(now); err != nil {
		log.Printf("bridge: sweep tokens: %v", err)
	} else if n > 0 {
		fmt.Fprintf(d.out, "bridge: purged %d voice token(s)\n", n)
	}
}

// shutdown records where to post the back-online notice and closes the
// adapter. Only a thread active within the notice window gets one; a
// restart nobody triggered recently should come up silently.
func (d *Daemon) shutdown() {
	if sess, ok := d.stores.Sessions.MostRecentActive(time.Now(), shutdownNoticeWindow); ok {
		err := d.stores.Markers.Put(models.MarkerRestartOrigin, store.RestartOrigin{
			Channel:  sess.Channel,
			ThreadTS: sess.ThreadTS,
			At:       time.Now(),
		})
		if err != nil {
			log.Printf("bridge: restart marker: %v", err)
		}
	}
	if err := d.adapter.Close(); err != nil {
		log.Printf("bridge: close adapter: %v", err)
	}
	fmt.Fprintf(d.out, "bridge: stopped\n")
}
