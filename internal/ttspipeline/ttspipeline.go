// Package ttspipeline implements the TTS Pipeline (§4.5): given tutor
// speech text, open a streaming synthesis request and emit PCM chunks as
// they arrive, stopping promptly on cancellation.
package ttspipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/HassanFazal97/professor/internal/observe"
	"github.com/HassanFazal97/professor/internal/resilience"
	"github.com/HassanFazal97/professor/pkg/provider/tts"
	"github.com/HassanFazal97/professor/pkg/types"
)

// Pipeline synthesizes tutor speech through a configured TTS provider.
type Pipeline struct {
	provider    tts.Provider
	openTimeout time.Duration
	breaker     *resilience.CircuitBreaker
	metrics     *observe.Metrics
}

// Option configures optional Pipeline dependencies.
type Option func(*Pipeline)

// WithCircuitBreaker gates every stream-open attempt through cb.
func WithCircuitBreaker(cb *resilience.CircuitBreaker) Option {
	return func(p *Pipeline) { p.breaker = cb }
}

// WithMetrics records per-utterance stream duration to m.
func WithMetrics(m *observe.Metrics) Option {
	return func(p *Pipeline) { p.metrics = m }
}

// New builds a Pipeline. openTimeout bounds how long SynthesizeStream may
// take to return before the pipeline retries once (§5: "TTS stream open:
// soft timeout with one retry").
func New(provider tts.Provider, openTimeout time.Duration, opts ...Option) *Pipeline {
	p := &Pipeline{provider: provider, openTimeout: openTimeout}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Speak synthesizes text with voice and invokes onChunk for every PCM
// chunk produced, in order. It returns when synthesis completes, ctx is
// cancelled (e.g. by a barge-in advancing past this turn's epoch), or
// onChunk returns an error.
func (p *Pipeline) Speak(ctx context.Context, text string, voice types.VoiceProfile, onChunk func([]byte) error) error {
	start := time.Now()
	audio, err := p.openWithRetry(ctx, text, voice)
	if err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			p.recordDuration(ctx, start)
			return ctx.Err()
		case chunk, ok := <-audio:
			if !ok {
				p.recordDuration(ctx, start)
				return nil
			}
			if err := onChunk(chunk); err != nil {
				p.recordDuration(ctx, start)
				return fmt.Errorf("ttspipeline: deliver chunk: %w", err)
			}
		}
	}
}

func (p *Pipeline) recordDuration(ctx context.Context, start time.Time) {
	if p.metrics != nil {
		p.metrics.TTSStreamDuration.Record(ctx, time.Since(start).Seconds())
	}
}

func (p *Pipeline) openWithRetry(ctx context.Context, text string, voice types.VoiceProfile) (<-chan []byte, error) {
	audio, err := p.openGated(ctx, text, voice)
	if err == nil {
		return audio, nil
	}

	audio, err = p.openGated(ctx, text, voice)
	if err != nil {
		return nil, fmt.Errorf("ttspipeline: open stream after retry: %w", err)
	}
	return audio, nil
}

// openGated runs openWithTimeout through the circuit breaker when one is
// configured.
func (p *Pipeline) openGated(ctx context.Context, text string, voice types.VoiceProfile) (<-chan []byte, error) {
	if p.breaker == nil {
		return p.openWithTimeout(ctx, text, voice)
	}
	var audio <-chan []byte
	err := p.breaker.Execute(func() error {
		a, err := p.openWithTimeout(ctx, text, voice)
		if err != nil {
			return err
		}
		audio = a
		return nil
	})
	return audio, err
}

func (p *Pipeline) openWithTimeout(ctx context.Context, text string, voice types.VoiceProfile) (<-chan []byte, error) {
	textCh := make(chan string, 1)
	textCh <- text
	close(textCh)

	type result struct {
		ch  <-chan []byte
		err error
	}
	resCh := make(chan result, 1)
	go func() {
		ch, err := p.provider.SynthesizeStream(ctx, textCh, voice)
		resCh <- result{ch: ch, err: err}
	}()

	select {
	case r := <-resCh:
		return r.ch, r.err
	case <-time.After(p.openTimeout):
		return nil, fmt.Errorf("ttspipeline: synthesize stream open timed out after %s", p.openTimeout)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
