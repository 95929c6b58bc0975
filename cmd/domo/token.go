package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/majordomo-sh/majordomo/internal/config"
	"github.com/majordomo-sh/majordomo/internal/store"
	"github.com/majordomo-sh/majordomo/internal/voice"
)

func newTokenCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a one-time voice call URL",
		Long:  "Prints a signed single-use URL for opening a voice call against the gateway.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runToken(cmd, configPath)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "majordomo.yaml", "path to Majordomo config file")
	return cmd
}

func runToken(cmd *cobra.Command, configPath string) error {
	out := cmd.OutOrStdout()

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if cfg.Voice.TokenSecret == "" {
		return fmt.Errorf("token: no token secret configured in %s (add voice.token_secret)", configPath)
	}
	if cfg.Voice.PublicURL == "" {
		return fmt.Errorf("token: no public URL configured in %s (add voice.public_url)", configPath)
	}

	stores, err := openStores(cfg)
	if err != nil {
		return err
	}

	minter, err := newMinter(cfg, stores)
	if err != nil {
		return err
	}

	url, err := minter.MintURL(cmd.Context())
	if err != nil {
		return err
	}

	fmt.Fprintln(out, url)
	fmt.Fprintf(out, "Single use, expires in %s.\n", cfg.Voice.TokenTTL())
	return nil
}

// newMinter builds the voice token minter from config.
func newMinter(cfg *config.Config, stores *store.Stores) (*voice.Minter, error) {
	return voice.NewMinter(voice.MinterOpts{
		Secret:    cfg.Voice.TokenSecret,
		Tokens:    stores.Tokens,
		PublicURL: cfg.Voice.PublicURL,
		TTL:       cfg.Voice.TokenTTL(),
	})
}
