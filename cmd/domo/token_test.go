package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// writeVoiceConfig writes a config that also carries the voice gateway
// settings the token and voice commands require.
func writeVoiceConfig(t *testing.T, dir string) string {
	t.Helper()
	cfgPath := filepath.Join(dir, "majordomo.yaml")
	cfg := `
platform: slack
slack:
  app_token: xapp-test
  bot_token: xoxb-test
database:
  path: ` + filepath.Join(dir, "majordomo.db") + `
voice:
  token_secret: test-secret
  public_url: wss://voice.example.com
`
	if err := os.WriteFile(cfgPath, []byte(cfg), 0644); err != nil {
		t.Fatal(err)
	}
	return cfgPath
}

func TestNewTokenCmd(t *testing.T) {
	cmd := newTokenCmd()
	if cmd.Use != "token" {
		t.Errorf("Use = %q, want %q", cmd.Use, "token")
	}
	flag := cmd.Flags().Lookup("config")
	if flag == nil {
		t.Fatal("expected --config flag")
	}
	if flag.DefValue != "majordomo.yaml" {
		t.Errorf("--config default = %q, want %q", flag.DefValue, "majordomo.yaml")
	}
}

func TestTokenCmd(t *testing.T) {
	cfgPath := writeVoiceConfig(t, t.TempDir())

	cmd := newRootCmd()
	buf := new(bytes.Buffer)
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs([]string{"token", "--config", cfgPath})

	if err := cmd.Execute(); err != nil {
		t.Fatalf("token command failed: %v", err)
	}

	out := buf.String()
	if !strings.Contains(out, "wss://voice.example.com/ws?token=") {
		t.Errorf("expected a call URL on the public host, got: %s", out)
	}
	if !strings.Contains(out, "Single use") {
		t.Errorf("expected single-use note, got: %s", out)
	}
	if !strings.Contains(out, "10m") {
		t.Errorf("expected default 10 minute TTL in output, got: %s", out)
	}
}

func TestTokenCmd_MintsDistinctTokens(t *testing.T) {
	cfgPath := writeVoiceConfig(t, t.TempDir())

	mint := func() string {
		cmd := newRootCmd()
		buf := new(bytes.Buffer)
		cmd.SetOut(buf)
		cmd.SetErr(buf)
		cmd.SetArgs([]string{"token", "--config", cfgPath})
		if err := cmd.Execute(); err != nil {
			t.Fatalf("token command failed: %v", err)
		}
		return strings.SplitN(buf.String(), "\n", 2)[0]
	}

	first := mint()
	second := mint()
	if first == second {
		t.Errorf("two mints produced the same URL: %s", first)
	}
}

func TestTokenCmd_MissingConfig(t *testing.T) {
	cmd := newRootCmd()
	buf := new(bytes.Buffer)
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs([]string{"token", "--config", "/nonexistent/majordomo.yaml"})

	err := cmd.Execute()
	if err == nil {
		t.Fatal("expected error for missing config file")
	}
	if !strings.Contains(err.Error(), "load config") {
		t.Errorf("error = %q, want to contain %q", err.Error(), "load config")
	}
}

func TestTokenCmd_RequiresSecret(t *testing.T) {
	cfgPath := writeBridgeConfig(t, t.TempDir())

	cmd := newRootCmd()
	buf := new(bytes.Buffer)
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs([]string{"token", "--config", cfgPath})

	err := cmd.Execute()
	if err == nil {
		t.Fatal("expected error without a token secret")
	}
	if !strings.Contains(err.Error(), "voice.token_secret") {
		t.Errorf("error = %q, want to name voice.token_secret", err.Error())
	}
}

func TestTokenCmd_RequiresPublicURL(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "majordomo.yaml")
	cfg := `
platform: slack
slack:
  app_token: xapp-test
  bot_token: xoxb-test
database:
  path: ` + filepath.Join(dir, "majordomo.db") + `
voice:
  token_secret: test-secret
`
	if err := os.WriteFile(cfgPath, []byte(cfg), 0644); err != nil {
		t.Fatal(err)
	}

	cmd := newRootCmd()
	buf := new(bytes.Buffer)
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs([]string{"token", "--config", cfgPath})

	err := cmd.Execute()
	if err == nil {
		t.Fatal("expected error without a public URL")
	}
	if !strings.Contains(err.Error(), "voice.public_url") {
		t.Errorf("error = %q, want to name voice.public_url", err.Error())
	}
}
