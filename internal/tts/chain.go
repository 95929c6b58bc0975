package tts

import (
	"context"
	"fmt"
	"log"
	"strings"
)

// Chain tries each engine in order until one produces audio. Selection
// happens per call: a transient failure of the first engine never disables
// it for later sentences.
type Chain struct {
	engines []Engine
}

// NewChain creates a fallback chain over one or more engines.
func NewChain(engines ...Engine) (*Chain, error) {
	if len(engines) == 0 {
		return nil, fmt.Errorf("tts: chain: at least one engine is required")
	}
	return &Chain{engines: engines}, nil
}

// Name implements Engine.
func (c *Chain) Name() string { return "chain" }

// Synthesize implements Engine.
func (c *Chain) Synthesize(ctx context.Context, text string) ([]byte, error) {
	var failures []string
	for _, e := range c.engines {
		audio, err := e.Synthesize(ctx, text)
		if err == nil {
			return audio, nil
		}
		// A cancelled context would fail every fallback too.
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		log.Printf("tts: %s failed, trying next: %v", e.Name(), err)
		failures = append(failures, fmt.Sprintf("%s: %v", e.Name(), err))
	}
	return nil, fmt.Errorf("tts: all engines failed: %s", strings.Join(failures, "; "))
}
