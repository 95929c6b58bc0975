// Package config provides YAML-based configuration loading for Majordomo.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level Majordomo configuration, loaded from
// majordomo.yaml. One file serves both processes; the bridge and the voice
// gateway read different sections of it.
type Config struct {
	Platform string         `yaml:"platform"`
	Agent    AgentConfig    `yaml:"agent"`
	Database DatabaseConfig `yaml:"database"`
	Slack    SlackConfig    `yaml:"slack"`
	Discord  DiscordConfig  `yaml:"discord"`
	Bridge   BridgeConfig   `yaml:"bridge"`
	Voice    VoiceConfig    `yaml:"voice"`
}

// AgentConfig describes how agent subprocesses are launched.
type AgentConfig struct {
	Binary             string `yaml:"binary"`
	Model              string `yaml:"model"`
	FastModel          string `yaml:"fast_model"`
	WorkDir            string `yaml:"workdir"`
	MCPConfig          string `yaml:"mcp_config"`
	AppendSystemPrompt string `yaml:"append_system_prompt"`
}

// DatabaseConfig selects the shared store: a local sqlite file (default) or
// a MySQL server.
type DatabaseConfig struct {
	Driver   string `yaml:"driver"`
	Path     string `yaml:"path"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
}

// SlackConfig holds Socket Mode credentials. Values support ${ENV}
// expansion so tokens stay out of the file.
type SlackConfig struct {
	AppToken string `yaml:"app_token"`
	BotToken string `yaml:"bot_token"`
}

// DiscordConfig holds the bot token for the Discord adapter.
type DiscordConfig struct {
	BotToken string `yaml:"bot_token"`
}

// BridgeConfig tunes the chat bridge daemon.
type BridgeConfig struct {
	SweepCron   string `yaml:"sweep_cron"`
	IdleMinutes int    `yaml:"idle_minutes"`
	SpoolDir    string `yaml:"spool_dir"`
}

// VoiceConfig tunes the voice gateway.
type VoiceConfig struct {
	Listen             string    `yaml:"listen"`
	PublicURL          string    `yaml:"public_url"`
	TokenSecret        string    `yaml:"token_secret"`
	TokenTTLMinutes    int       `yaml:"token_ttl_minutes"`
	GreetWaitSeconds   int       `yaml:"greet_wait_seconds"`
	RecentCallMinutes  int       `yaml:"recent_call_minutes"`
	KeepaliveSeconds   int       `yaml:"keepalive_seconds"`
	TTS                TTSConfig `yaml:"tts"`
}

// TTSConfig selects the speech engine and its fallbacks.
type TTSConfig struct {
	Engine   string      `yaml:"engine"`
	Polly    PollyConfig `yaml:"polly"`
	Fallback [][]string  `yaml:"fallback"`
}

// PollyConfig holds Amazon Polly synthesis settings. Credentials come from
// the standard AWS environment/profile chain, not from this file.
type PollyConfig struct {
	Region string `yaml:"region"`
	Voice  string `yaml:"voice"`
	Engine string `yaml:"engine"`
}

// Load reads a YAML config file from path and returns a validated Config.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	return Parse(data)
}

// Parse unmarshals YAML bytes into a validated Config. ${ENV} references
// are expanded before parsing.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), &cfg); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyDefaults fills in derived and default values.
func (c *Config) applyDefaults() {
	if c.Platform == "" {
		c.Platform = "slack"
	}
	if c.Agent.Binary == "" {
		c.Agent.Binary = "claude"
	}
	if c.Agent.Model == "" {
		c.Agent.Model = "sonnet"
	}
	if c.Agent.FastModel == "" {
		c.Agent.FastModel = "haiku"
	}
	if c.Database.Driver == "" {
		c.Database.Driver = "sqlite"
	}
	if c.Database.Path == "" {
		c.Database.Path = "majordomo.db"
	}
	if c.Database.Host == "" {
		c.Database.Host = "127.0.0.1"
	}
	if c.Database.Port == 0 {
		c.Database.Port = 3306
	}
	if c.Database.User == "" {
		c.Database.User = "root"
	}
	if c.Database.Database == "" {
		c.Database.Database = "majordomo"
	}
	if c.Bridge.SweepCron == "" {
		c.Bridge.SweepCron = "*/5 * * * *"
	}
	if c.Bridge.IdleMinutes == 0 {
		c.Bridge.IdleMinutes = 30
	}
	if c.Bridge.SpoolDir == "" {
		c.Bridge.SpoolDir = filepath.Join(os.TempDir(), "majordomo-spool")
	}
	if c.Voice.Listen == "" {
		c.Voice.Listen = ":8035"
	}
	if c.Voice.TokenTTLMinutes == 0 {
		c.Voice.TokenTTLMinutes = 10
	}
	if c.Voice.GreetWaitSeconds == 0 {
		c.Voice.GreetWaitSeconds = 15
	}
	if c.Voice.RecentCallMinutes == 0 {
		c.Voice.RecentCallMinutes = 5
	}
	if c.Voice.KeepaliveSeconds == 0 {
		c.Voice.KeepaliveSeconds = 30
	}
	if c.Voice.TTS.Engine == "" {
		c.Voice.TTS.Engine = "polly"
	}
	if c.Voice.TTS.Polly.Region == "" {
		c.Voice.TTS.Polly.Region = "us-east-1"
	}
	if c.Voice.TTS.Polly.Voice == "" {
		c.Voice.TTS.Polly.Voice = "Joanna"
	}
	if c.Voice.TTS.Polly.Engine == "" {
		c.Voice.TTS.Polly.Engine = "neural"
	}
}

// validate checks that all required fields are present and consistent.
// Voice-only settings (token secret, public URL) are checked by the voice
// command at startup, not here, so a bridge-only deployment stays minimal.
func (c *Config) validate() error {
	var errs []string
	switch c.Platform {
	case "slack":
		if c.Slack.AppToken == "" {
			errs = append(errs, "slack.app_token is required for platform slack")
		}
		if c.Slack.BotToken == "" {
			errs = append(errs, "slack.bot_token is required for platform slack")
		}
	case "discord":
		if c.Discord.BotToken == "" {
			errs = append(errs, "discord.bot_token is required for platform discord")
		}
	default:
		errs = append(errs, fmt.Sprintf("platform %q is not supported (slack, discord)", c.Platform))
	}
	switch c.Database.Driver {
	case "sqlite", "mysql":
	default:
		errs = append(errs, fmt.Sprintf("database.driver %q is not supported (sqlite, mysql)", c.Database.Driver))
	}
	switch c.Voice.TTS.Engine {
	case "polly", "command":
	default:
		errs = append(errs, fmt.Sprintf("voice.tts.engine %q is not supported (polly, command)", c.Voice.TTS.Engine))
	}
	if c.Voice.TTS.Engine == "command" && len(c.Voice.TTS.Fallback) == 0 {
		errs = append(errs, "voice.tts.fallback must list at least one command when engine is command")
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}

// IdleThreshold returns how long a session may sit untouched before the
// sweep clears its routing metadata.
func (c *BridgeConfig) IdleThreshold() time.Duration {
	return time.Duration(c.IdleMinutes) * time.Minute
}

// TokenTTL returns the lifetime of a minted voice token.
func (c *VoiceConfig) TokenTTL() time.Duration {
	return time.Duration(c.TokenTTLMinutes) * time.Minute
}

// GreetWait bounds how long early utterances wait for the greeting to
// finish speaking.
func (c *VoiceConfig) GreetWait() time.Duration {
	return time.Duration(c.GreetWaitSeconds) * time.Second
}

// RecentCallWindow bounds how old a recent-call record may be and still be
// injected into a chat turn.
func (c *VoiceConfig) RecentCallWindow() time.Duration {
	return time.Duration(c.RecentCallMinutes) * time.Minute
}

// Keepalive returns the websocket ping interval.
func (c *VoiceConfig) Keepalive() time.Duration {
	return time.Duration(c.KeepaliveSeconds) * time.Second
}
