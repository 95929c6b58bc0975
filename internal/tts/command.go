package tts

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// CommandEngine synthesizes by invoking an external program, for local
// synthesizers like piper or espeak. The argv template supports two
// placeholders: {text} is replaced with the sentence, {out} with a
// temporary output path the program writes audio to. A template without
// {out} must write audio to stdout; one without {text} receives the
// sentence on stdin.
type CommandEngine struct {
	argv []string
}

// NewCommandEngine creates a command engine from an argv template.
func NewCommandEngine(argv []string) (*CommandEngine, error) {
	if len(argv) == 0 {
		return nil, fmt.Errorf("tts: command engine: argv is required")
	}
	return &CommandEngine{argv: argv}, nil
}

// Name implements Engine.
func (c *CommandEngine) Name() string {
	return filepath.Base(c.argv[0])
}

// Synthesize implements Engine.
func (c *CommandEngine) Synthesize(ctx context.Context, text string) ([]byte, error) {
	outPath := ""
	hasText := false
	argv := make([]string, len(c.argv))
	for i, a := range c.argv {
		if strings.Contains(a, "{text}") {
			hasText = true
			a = strings.ReplaceAll(a, "{text}", text)
		}
		if strings.Contains(a, "{out}") {
			if outPath == "" {
				f, err := os.CreateTemp("", "domo-tts-*.audio")
				if err != nil {
					return nil, fmt.Errorf("tts: %s: temp file: %w", c.Name(), err)
				}
				outPath = f.Name()
				f.Close()
			}
			a = strings.ReplaceAll(a, "{out}", outPath)
		}
		argv[i] = a
	}
	if outPath != "" {
		defer os.Remove(outPath)
	}

	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if !hasText {
		cmd.Stdin = strings.NewReader(text)
	}

	if err := cmd.Run(); err != nil {
		detail := strings.TrimSpace(stderr.String())
		if len(detail) > 200 {
			detail = detail[:200]
		}
		if detail != "" {
			return nil, fmt.Errorf("tts: %s: %w (%s)", c.Name(), err, detail)
		}
		return nil, fmt.Errorf("tts: %s: %w", c.Name(), err)
	}

	var audio []byte
	if outPath != "" {
		data, err := os.ReadFile(outPath)
		if err != nil {
			return nil, fmt.Errorf("tts: %s: read output: %w", c.Name(), err)
		}
		audio = data
	} else {
		audio = stdout.Bytes()
	}
	if len(audio) == 0 {
		return nil, fmt.Errorf("tts: %s produced no audio", c.Name())
	}
	return audio, nil
}
