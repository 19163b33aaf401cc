// Package sttpipeline implements the STT Pipeline (§4.4): one streaming
// connection per listening period to the speech-to-text provider, with
// echo/barge-in gating (§4.4) layered over the provider's raw event
// stream.
package sttpipeline

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/antzucaro/matchr"

	"github.com/HassanFazal97/professor/internal/observe"
	"github.com/HassanFazal97/professor/internal/resilience"
	"github.com/HassanFazal97/professor/pkg/provider/stt"
	"github.com/HassanFazal97/professor/pkg/types"
)

// Timing holds the environment-tunable windows that drive echo/barge
// gating (§6's ECHO_COOLDOWN_SEC, AUTO_BARGE_DEBOUNCE_SEC,
// BARGE_START_GUARD_SEC, AUTO_BARGE_CONFIRM_WINDOW_SEC, STT_MERGE_WINDOW_SEC).
type Timing struct {
	StartGuard    time.Duration
	ConfirmWindow time.Duration
	Debounce      time.Duration
	EchoCooldown  time.Duration
	MergeWindow   time.Duration
}

// echoSimilarityThreshold is the Jaro-Winkler score above which a final
// transcript arriving during the echo cooldown is treated as the tutor's
// own speech leaking back rather than a genuine student utterance.
const echoSimilarityThreshold = 0.85

// Callbacks are invoked as upstream events are gated and classified. Most
// are called from the pipeline's event loop goroutine, but with a non-zero
// MergeWindow OnFinalTranscript is called from a timer goroutine, and
// OnDisabled from the goroutine that called Start, so calls may run
// concurrently with each other.
type Callbacks struct {
	// OnFinalTranscript fires for a final transcript that survived echo
	// suppression — this is what becomes a student turn.
	OnFinalTranscript func(text string)

	// OnInterimTranscript fires for every interim transcript, for
	// transcript_interim captioning.
	OnInterimTranscript func(text string)

	// OnAutoBarge fires when SpeechStarted is corroborated by an interim
	// transcript within the confirm window.
	OnAutoBarge func()

	// OnDisabled fires once, after the single reconnect attempt also fails,
	// with a user-visible message for the outbound error notice.
	OnDisabled func(message string)
}

// Pipeline manages the STT provider connection for one session.
type Pipeline struct {
	provider stt.Provider
	cfg      stt.StreamConfig
	timing   Timing
	cb       Callbacks
	breaker  *resilience.CircuitBreaker
	metrics  *observe.Metrics

	mu                 sync.Mutex
	handle             stt.SessionHandle
	ttsActive          bool
	ttsStartedAt       time.Time
	ttsEndedAt         time.Time
	lastTutorUtterance string
	pendingSpeechAt    time.Time
	lastAutoBargeAt    time.Time
	disabled           bool
	stopped            bool
	pendingFinalText   string
	pendingFinalTimer  *time.Timer
}

// Option configures optional Pipeline dependencies.
type Option func(*Pipeline)

// WithCircuitBreaker gates every upstream connect attempt through cb, so
// repeated session-level failures short-circuit future Start calls instead
// of always paying out the provider's own connect timeout twice.
func WithCircuitBreaker(cb *resilience.CircuitBreaker) Option {
	return func(p *Pipeline) { p.breaker = cb }
}

// WithMetrics records reconnect outcomes to m.
func WithMetrics(m *observe.Metrics) Option {
	return func(p *Pipeline) { p.metrics = m }
}

// New builds a Pipeline. cfg.Keywords may be updated later via
// SetKeywords.
func New(provider stt.Provider, cfg stt.StreamConfig, timing Timing, cb Callbacks, opts ...Option) *Pipeline {
	p := &Pipeline{provider: provider, cfg: cfg, timing: timing, cb: cb}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Start opens the upstream stream (on audio_start) and launches the event
// loop that consumes Partials/Finals/VoiceActivity until the session ends
// or ctx is cancelled. On upstream failure it retries once with a short
// backoff (§4.4 failure semantics); a second failure disables STT for the
// remainder of the session via Callbacks.OnDisabled.
func (p *Pipeline) Start(ctx context.Context) error {
	p.mu.Lock()
	if p.disabled {
		p.mu.Unlock()
		return fmt.Errorf("sttpipeline: disabled after repeated upstream failure")
	}
	p.stopped = false
	p.mu.Unlock()

	handle, err := p.connect(ctx)
	if err != nil {
		time.Sleep(500 * time.Millisecond)
		handle, err = p.connect(ctx)
		if p.metrics != nil {
			outcome := "ok"
			if err != nil {
				outcome = "failed"
			}
			p.metrics.RecordSTTReconnect(ctx, outcome)
		}
		if err != nil {
			p.mu.Lock()
			p.disabled = true
			p.mu.Unlock()
			msg := "speech recognition is unavailable for the rest of this session"
			if p.cb.OnDisabled != nil {
				p.cb.OnDisabled(msg)
			}
			return fmt.Errorf("sttpipeline: start stream after retry: %w", err)
		}
	}

	p.mu.Lock()
	p.handle = handle
	p.mu.Unlock()

	go p.eventLoop(ctx, handle)
	return nil
}

// connect opens one upstream stream, gated through the circuit breaker when
// one is configured — so a session that has already burned through
// MaxFailures connect attempts fails fast instead of waiting out the
// provider's connect timeout again.
func (p *Pipeline) connect(ctx context.Context) (stt.SessionHandle, error) {
	var handle stt.SessionHandle
	attempt := func() error {
		h, err := p.provider.StartStream(ctx, p.cfg)
		if err != nil {
			return err
		}
		handle = h
		return nil
	}

	var err error
	if p.breaker != nil {
		err = p.breaker.Execute(attempt)
	} else {
		err = attempt()
	}
	return handle, err
}

// SendAudio forwards one chunk of client audio to the upstream session as
// is; the pipeline does not decode or resample it.
func (p *Pipeline) SendAudio(chunk []byte) error {
	p.mu.Lock()
	h := p.handle
	p.mu.Unlock()
	if h == nil {
		return fmt.Errorf("sttpipeline: no active stream")
	}
	return h.SendAudio(chunk)
}

// SetKeywords updates the active session's keyword boosts, if a session is
// open.
func (p *Pipeline) SetKeywords(keywords []types.KeywordBoost) error {
	p.mu.Lock()
	h := p.handle
	p.mu.Unlock()
	if h == nil {
		return nil
	}
	return h.SetKeywords(keywords)
}

// Stop closes the upstream stream (on audio_stop or session end).
func (p *Pipeline) Stop() error {
	p.mu.Lock()
	h := p.handle
	p.handle = nil
	p.stopped = true
	if p.pendingFinalTimer != nil {
		p.pendingFinalTimer.Stop()
		p.pendingFinalTimer = nil
	}
	p.pendingFinalText = ""
	p.mu.Unlock()
	if h == nil {
		return nil
	}
	return h.Close()
}

// NotifyTTSBegin marks the start of tutor speech, arming the start-guard
// window used to suppress the tutor's own audio leaking into STT.
func (p *Pipeline) NotifyTTSBegin() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ttsActive = true
	p.ttsStartedAt = time.Now()
}

// NotifyTTSEnd marks the end of tutor speech and records its text, so
// final transcripts arriving during the echo cooldown can be compared
// against it.
func (p *Pipeline) NotifyTTSEnd(utterance string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ttsActive = false
	p.ttsEndedAt = time.Now()
	p.lastTutorUtterance = utterance
}

func (p *Pipeline) eventLoop(ctx context.Context, handle stt.SessionHandle) {
	partials := handle.Partials()
	finals := handle.Finals()
	voice := handle.VoiceActivity()

	for {
		select {
		case <-ctx.Done():
			return

		case _, ok := <-voice:
			if !ok {
				voice = nil
				continue
			}
			p.handleSpeechStarted()

		case t, ok := <-partials:
			if !ok {
				partials = nil
				continue
			}
			p.handleInterim(t)

		case t, ok := <-finals:
			if !ok {
				finals = nil
				continue
			}
			p.handleFinal(t)
		}

		if partials == nil && finals == nil && voice == nil {
			return
		}
	}
}

// handleSpeechStarted implements the start-guard half of §4.4's gating
// algorithm: a SpeechStarted event within startGuard of TTS beginning is
// echo and is ignored outright; otherwise it becomes a pending barge-in
// candidate awaiting corroboration.
func (p *Pipeline) handleSpeechStarted() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.ttsActive && time.Since(p.ttsStartedAt) < p.timing.StartGuard {
		return
	}
	p.pendingSpeechAt = time.Now()
}

// handleInterim forwards every interim transcript for captioning, and
// checks whether it corroborates a pending SpeechStarted candidate closely
// enough in time to raise an auto-barge.
func (p *Pipeline) handleInterim(t types.Transcript) {
	if p.cb.OnInterimTranscript != nil && t.Text != "" {
		p.cb.OnInterimTranscript(t.Text)
	}

	if t.Text == "" {
		return
	}

	p.mu.Lock()
	pending := p.pendingSpeechAt
	p.mu.Unlock()
	if pending.IsZero() {
		return
	}
	if time.Since(pending) > p.timing.ConfirmWindow {
		p.mu.Lock()
		p.pendingSpeechAt = time.Time{}
		p.mu.Unlock()
		return
	}

	p.mu.Lock()
	sinceLastBarge := time.Since(p.lastAutoBargeAt)
	debounceOK := p.lastAutoBargeAt.IsZero() || sinceLastBarge >= p.timing.Debounce
	if debounceOK {
		p.lastAutoBargeAt = time.Now()
	}
	p.pendingSpeechAt = time.Time{}
	p.mu.Unlock()

	if debounceOK && p.cb.OnAutoBarge != nil {
		p.cb.OnAutoBarge()
	}
}

// handleFinal applies self-echo suppression, then coalesces the surviving
// final into any pending merge window before it becomes a candidate student
// turn. A final that arrives within MergeWindow of the previous one is
// appended to it instead of firing its own OnFinalTranscript; the merged
// text fires once MergeWindow has elapsed with no further finals.
func (p *Pipeline) handleFinal(t types.Transcript) {
	if t.Text == "" {
		return
	}

	p.mu.Lock()
	inCooldown := !p.ttsEndedAt.IsZero() && time.Since(p.ttsEndedAt) <= p.timing.EchoCooldown
	lastUtterance := p.lastTutorUtterance
	p.mu.Unlock()

	if inCooldown && isSelfEcho(t.Text, lastUtterance) {
		return
	}

	if p.timing.MergeWindow <= 0 {
		if p.cb.OnFinalTranscript != nil {
			p.cb.OnFinalTranscript(t.Text)
		}
		return
	}

	p.mu.Lock()
	if p.pendingFinalText != "" {
		p.pendingFinalText += " " + t.Text
	} else {
		p.pendingFinalText = t.Text
	}
	if p.pendingFinalTimer != nil {
		p.pendingFinalTimer.Stop()
	}
	p.pendingFinalTimer = time.AfterFunc(p.timing.MergeWindow, p.flushPendingFinal)
	p.mu.Unlock()
}

// flushPendingFinal fires once MergeWindow has elapsed since the last final
// folded into the pending utterance, delivering the merged text as a
// single student turn.
func (p *Pipeline) flushPendingFinal() {
	p.mu.Lock()
	text := p.pendingFinalText
	p.pendingFinalText = ""
	p.pendingFinalTimer = nil
	stopped := p.stopped
	p.mu.Unlock()

	if stopped || text == "" {
		return
	}
	if p.cb.OnFinalTranscript != nil {
		p.cb.OnFinalTranscript(text)
	}
}

// isSelfEcho reports whether candidate is close enough to tutorUtterance
// to be the tutor's own speech bleeding back into the microphone, using
// Jaro-Winkler similarity.
func isSelfEcho(candidate, tutorUtterance string) bool {
	if tutorUtterance == "" {
		return false
	}
	a := strings.ToLower(strings.TrimSpace(candidate))
	b := strings.ToLower(strings.TrimSpace(tutorUtterance))
	if a == "" {
		return false
	}
	score := matchr.JaroWinkler(a, b, false)
	return score >= echoSimilarityThreshold
}
