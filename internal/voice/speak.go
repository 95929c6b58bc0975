package voice

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/majordomo-sh/majordomo/internal/tts"
)

const (
	speechQueueDepth = 64
	synthesisTimeout = 30 * time.Second
)

type speechJob struct {
	text string
	gen  int
}

// Speaker synthesizes sentences one at a time on a single worker so audio
// reaches the device in exactly the order it was enqueued, no matter how
// long any individual synthesis takes. A sentence that fails to
// synthesize is dropped with a log line; the rest of the reply still
// plays.
type Speaker struct {
	engine  tts.Engine
	deliver func(audio []byte)
	timeout time.Duration

	jobs chan speechJob
	quit chan struct{}
	wg   sync.WaitGroup

	mu     sync.Mutex
	gen    int
	closed bool
}

// SpeakerOpts configures a Speaker.
type SpeakerOpts struct {
	// Engine synthesizes one utterance per call. Required.
	Engine tts.Engine

	// Deliver receives each audio clip in enqueue order. Required.
	Deliver func(audio []byte)

	// SynthTimeout bounds a single synthesis. Defaults to 30s.
	SynthTimeout time.Duration
}

// NewSpeaker builds a Speaker and starts its worker.
func NewSpeaker(opts SpeakerOpts) (*Speaker, error) {
	if opts.Engine == nil {
		return nil, fmt.Errorf("voice: tts engine is required")
	}
	if opts.Deliver == nil {
		return nil, fmt.Errorf("voice: deliver func is required")
	}
	if opts.SynthTimeout <= 0 {
		opts.SynthTimeout = synthesisTimeout
	}
	s := &Speaker{
		engine:  opts.Engine,
		deliver: opts.Deliver,
		timeout: opts.SynthTimeout,
		jobs:    make(chan speechJob, speechQueueDepth),
		quit:    make(chan struct{}),
	}
	go s.worker()
	return s, nil
}

// Enqueue queues one sentence for synthesis. Blocks only when the queue
// is full, which backpressures the agent stream rather than reordering
// audio. No-op after Close.
func (s *Speaker) Enqueue(text string) {
	if text == "" {
		return
	}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	gen := s.gen
	s.wg.Add(1)
	s.mu.Unlock()

	s.jobs <- speechJob{text: text, gen: gen}
}

// Wait blocks until every enqueued sentence has been synthesized and
// delivered (or dropped).
func (s *Speaker) Wait() {
	s.wg.Wait()
}

// CancelPending discards queued sentences and suppresses delivery of the
// one currently being synthesized. Sentences enqueued afterwards play
// normally.
func (s *Speaker) CancelPending() {
	s.mu.Lock()
	s.gen++
	s.mu.Unlock()
}

// Close stops the worker and discards anything still queued. Sentences
// enqueued concurrently with Close may be dropped without delivery.
func (s *Speaker) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.gen++
	s.mu.Unlock()
	close(s.quit)
}

func (s *Speaker) worker() {
	for {
		select {
		case job := <-s.jobs:
			s.process(job)
		case <-s.quit:
			s.drain()
			return
		}
	}
}

func (s *Speaker) process(job speechJob) {
	defer s.wg.Done()
	if s.stale(job.gen) {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	audio, err := s.engine.Synthesize(ctx, job.text)
	cancel()
	if err != nil {
		log.Printf("voice: dropping one sentence, synthesis failed: %v", err)
		return
	}
	// Re-check: a cancel that landed mid-synthesis means the caller no
	// longer wants this audio.
	if s.stale(job.gen) {
		return
	}
	s.deliver(audio)
}

func (s *Speaker) stale(gen int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return gen != s.gen
}

func (s *Speaker) drain() {
	for {
		select {
		case <-s.jobs:
			s.wg.Done()
		default:
			return
		}
	}
}
