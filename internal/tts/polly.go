package tts

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/polly"
	pollytypes "github.com/aws/aws-sdk-go-v2/service/polly/types"
	"github.com/aws/smithy-go"
)

// synthClient abstracts the Polly API call, enabling test mocks.
type synthClient interface {
	SynthesizeSpeech(ctx context.Context, params *polly.SynthesizeSpeechInput, optFns ...func(*polly.Options)) (*polly.SynthesizeSpeechOutput, error)
}

// Polly synthesizes speech with Amazon Polly. The AWS client is created
// lazily on first use, so construction never needs credentials; those come
// from the standard AWS environment/profile chain.
type Polly struct {
	mu     sync.Mutex
	client synthClient
	region string
	voice  string
	engine string
}

// PollyOpts holds parameters for creating a Polly engine.
type PollyOpts struct {
	Region string // AWS region; defaults to us-east-1
	Voice  string // Polly voice id; defaults to Joanna
	Engine string // "neural" (default) or "standard"
	// For testing: inject a mock client instead of the real AWS API.
	Client synthClient
}

// NewPolly creates a Polly engine.
func NewPolly(opts PollyOpts) *Polly {
	if opts.Region == "" {
		opts.Region = "us-east-1"
	}
	if opts.Voice == "" {
		opts.Voice = "Joanna"
	}
	if opts.Engine == "" {
		opts.Engine = "neural"
	}
	return &Polly{
		client: opts.Client,
		region: opts.Region,
		voice:  opts.Voice,
		engine: opts.Engine,
	}
}

// Name implements Engine.
func (p *Polly) Name() string { return "polly" }

// Synthesize implements Engine. Output is MP3.
func (p *Polly) Synthesize(ctx context.Context, text string) ([]byte, error) {
	client, err := p.resolveClient(ctx)
	if err != nil {
		return nil, err
	}

	engine := pollytypes.EngineNeural
	if p.engine == "standard" {
		engine = pollytypes.EngineStandard
	}

	out, err := client.SynthesizeSpeech(ctx, &polly.SynthesizeSpeechInput{
		Engine:       engine,
		OutputFormat: pollytypes.OutputFormatMp3,
		Text:         &text,
		TextType:     pollytypes.TextTypeText,
		VoiceId:      pollytypes.VoiceId(p.voice),
	})
	if err != nil {
		var apiErr smithy.APIError
		if errors.As(err, &apiErr) {
			return nil, fmt.Errorf("tts: polly %s: %w", apiErr.ErrorCode(), err)
		}
		return nil, fmt.Errorf("tts: polly: %w", err)
	}
	if out.AudioStream == nil {
		return nil, fmt.Errorf("tts: polly: empty audio stream")
	}
	defer out.AudioStream.Close()

	audio, err := io.ReadAll(out.AudioStream)
	if err != nil {
		return nil, fmt.Errorf("tts: polly: read audio: %w", err)
	}
	if len(audio) == 0 {
		return nil, fmt.Errorf("tts: polly: no audio produced")
	}
	return audio, nil
}

// resolveClient builds the real AWS client on first use.
func (p *Polly) resolveClient(ctx context.Context) (synthClient, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.client != nil {
		return p.client, nil
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(p.region))
	if err != nil {
		return nil, fmt.Errorf("tts: load aws config: %w", err)
	}
	p.client = polly.NewFromConfig(awsCfg)
	return p.client, nil
}
