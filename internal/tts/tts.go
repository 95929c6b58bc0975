// Package tts turns sentences into audio. Engines are interchangeable and
// compose into a fallback chain; the voice gateway pushes one sentence at a
// time through whatever chain the deployment configures.
package tts

import "context"

// Engine synthesizes speech for one piece of text.
type Engine interface {
	// Synthesize returns encoded audio for text. The encoding is whatever
	// the engine produces (MP3 for Polly, synthesizer-defined for command
	// engines); the device treats frames as opaque.
	Synthesize(ctx context.Context, text string) ([]byte, error)

	// Name identifies the engine in logs.
	Name() string
}
