package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/majordomo-sh/majordomo/internal/config"
	"github.com/majordomo-sh/majordomo/internal/tts"
	"github.com/majordomo-sh/majordomo/internal/voice"
)

func newVoiceCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "voice",
		Short: "Run the voice gateway",
		Long:  "Serves WebSocket voice calls: one-time token auth, streamed agent replies, sentence-by-sentence speech.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runVoice(cmd, configPath)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "majordomo.yaml", "path to Majordomo config file")
	return cmd
}

func runVoice(cmd *cobra.Command, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	// Optional for the bridge, mandatory here.
	if cfg.Voice.TokenSecret == "" {
		return fmt.Errorf("voice: no token secret configured in %s (add voice.token_secret)", configPath)
	}
	if cfg.Voice.PublicURL == "" {
		return fmt.Errorf("voice: no public URL configured in %s (add voice.public_url)", configPath)
	}

	stores, err := openStores(cfg)
	if err != nil {
		return err
	}

	engine, err := buildEngine(cfg.Voice.TTS)
	if err != nil {
		return err
	}

	minter, err := newMinter(cfg, stores)
	if err != nil {
		return err
	}

	chat, err := createChat(cfg)
	if err != nil {
		return err
	}

	gateway, err := voice.NewGateway(voice.GatewayOpts{
		Config: cfg,
		Stores: stores,
		Runner: voice.CLIRunner{Runner: newAgentRunner(cfg)},
		Engine: engine,
		Minter: minter,
		Chat:   chat,
		Out:    cmd.OutOrStdout(),
	})
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle OS signals for graceful shutdown.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	return gateway.Run(ctx)
}

// buildEngine assembles the TTS chain: the primary engine followed by each
// configured fallback command.
func buildEngine(cfg config.TTSConfig) (tts.Engine, error) {
	var engines []tts.Engine

	switch cfg.Engine {
	case "polly":
		engines = append(engines, tts.NewPolly(tts.PollyOpts{
			Region: cfg.Polly.Region,
			Voice:  cfg.Polly.Voice,
			Engine: cfg.Polly.Engine,
		}))
	case "command":
		// The fallback list doubles as the engine list.
	default:
		return nil, fmt.Errorf("voice: unsupported tts engine %q", cfg.Engine)
	}

	for _, argv := range cfg.Fallback {
		e, err := tts.NewCommandEngine(argv)
		if err != nil {
			return nil, err
		}
		engines = append(engines, e)
	}

	return tts.NewChain(engines...)
}

// createChat builds the chat client the gateway uses for context-aware
// greetings and call summaries.
func createChat(cfg *config.Config) (voice.Chat, error) {
	switch cfg.Platform {
	case "slack":
		return voice.NewSlackChat(voice.SlackChatOpts{BotToken: cfg.Slack.BotToken})
	case "discord":
		return voice.NewDiscordChat(voice.DiscordChatOpts{BotToken: cfg.Discord.BotToken})
	default:
		return nil, fmt.Errorf("voice: unsupported platform %q", cfg.Platform)
	}
}
