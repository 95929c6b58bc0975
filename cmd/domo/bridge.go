package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/majordomo-sh/majordomo/internal/agent"
	"github.com/majordomo-sh/majordomo/internal/bridge"
	discordadapter "github.com/majordomo-sh/majordomo/internal/bridge/discord"
	slackadapter "github.com/majordomo-sh/majordomo/internal/bridge/slack"
	"github.com/majordomo-sh/majordomo/internal/config"
)

func newBridgeCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "bridge",
		Short: "Run the chat bridge daemon",
		Long:  "Connects to the configured chat platform and relays thread conversations to agent sessions.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBridge(cmd, configPath)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "majordomo.yaml", "path to Majordomo config file")
	return cmd
}

func runBridge(cmd *cobra.Command, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	stores, err := openStores(cfg)
	if err != nil {
		return err
	}

	adapter, err := createAdapter(cfg)
	if err != nil {
		return err
	}

	// The "!domo voice" chat command needs a minter. Without a token secret
	// it stays nil and the command reports voice as unconfigured.
	var minter bridge.TokenMinter
	if cfg.Voice.TokenSecret != "" {
		m, err := newMinter(cfg, stores)
		if err != nil {
			return err
		}
		minter = m
	}

	daemon, err := bridge.NewDaemon(bridge.DaemonOpts{
		Stores:  stores,
		Config:  cfg,
		Adapter: adapter,
		Runner:  bridge.CLIRunner{Runner: newAgentRunner(cfg)},
		Minter:  minter,
		Out:     cmd.OutOrStdout(),
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

	return daemon.Run(ctx)
}

// createAdapter builds a platform adapter from the config.
func createAdapter(cfg *config.Config) (bridge.Adapter, error) {
	switch cfg.Platform {
	case "slack":
		return slackadapter.New(slackadapter.AdapterOpts{
			AppToken: cfg.Slack.AppToken,
			BotToken: cfg.Slack.BotToken,
		})
	case "discord":
		return discordadapter.New(discordadapter.AdapterOpts{
			BotToken: cfg.Discord.BotToken,
		})
	default:
		return nil, fmt.Errorf("bridge: unsupported platform %q", cfg.Platform)
	}
}

// newAgentRunner builds the claude CLI launcher from agent config.
func newAgentRunner(cfg *config.Config) *agent.Runner {
	return &agent.Runner{
		Binary:             cfg.Agent.Binary,
		WorkDir:            cfg.Agent.WorkDir,
		MCPConfig:          cfg.Agent.MCPConfig,
		AppendSystemPrompt: cfg.Agent.AppendSystemPrompt,
	}
}
