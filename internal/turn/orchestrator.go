// Package turn implements the Turn Orchestrator (§4.3): the single code
// path that issues LLM requests, multiplexing the session's trigger
// sources into one FIFO queue and running the per-turn algorithm under the
// session's exclusive turn lease.
package turn

import (
	"context"
	"log/slog"
	"time"

	"github.com/HassanFazal97/professor/internal/bargein"
	"github.com/HassanFazal97/professor/internal/board"
	"github.com/HassanFazal97/professor/internal/observe"
	"github.com/HassanFazal97/professor/internal/session"
	"github.com/HassanFazal97/professor/internal/ttspipeline"
	"github.com/HassanFazal97/professor/pkg/provider/llm"
	"github.com/HassanFazal97/professor/pkg/types"
)

// Kind discriminates the trigger sources that start a turn. Interim
// transcripts, board snapshots, and barge_in are handled elsewhere (§4.3
// triggers 3, 5, 6) — they never reach the Orchestrator's queue.
type Kind string

const (
	KindSessionStart   Kind = "session_start"
	KindTranscript     Kind = "transcript"
	KindProactiveCheck Kind = "proactive_check"
)

// Trigger is one item on the Orchestrator's inbound queue.
type Trigger struct {
	Kind Kind
	Text string // student utterance text, for KindTranscript
}

// Hooks lets the gateway observe turn output as it's produced, in the
// exact order and tagging required by §4.3 step 9 and §8 invariant 1.
type Hooks struct {
	OnSpeechText  func(epoch int64, text string)
	OnBoardAction func(epoch int64, action board.Action)
	OnStrokes     func(epoch int64, batch board.StrokeBatch)
	OnStateUpdate func(mode session.Mode, waitForStudent bool)
	// OnScrollBoard fires when the write cursor has advanced past the
	// student's last reported viewport, asking the client to follow it.
	OnScrollBoard func(epoch int64, toY float64)
	// OnAudioChunk delivers one PCM chunk; returning an error aborts the
	// remainder of the turn's audio (e.g. the outbound socket died).
	OnAudioChunk func(epoch int64, chunk []byte) error
}

// Timeouts bundles the per-call deadlines from §5.
type Timeouts struct {
	LLM     time.Duration
	TTSOpen time.Duration
}

// Orchestrator is the conversational state machine for one session.
type Orchestrator struct {
	sess    *session.Session
	llm     llm.Provider
	tts     *ttspipeline.Pipeline
	bargein *bargein.Controller
	layout  board.Layout
	latex   *board.LatexClient
	voice   types.VoiceProfile
	hooks   Hooks
	timeout Timeouts

	// sttNotifyBegin/sttNotifyEnd let the STT pipeline's echo gate know when
	// tutor audio starts and ends, without the orchestrator importing
	// sttpipeline directly (the dependency runs the other way: the gateway
	// wires both to the same STT pipeline instance).
	sttNotifyBegin func()
	sttNotifyEnd   func(utterance string)

	metrics *observe.Metrics
	logger  *slog.Logger

	// visionWarned latches once a non-vision model has caused a snapshot to
	// be dropped, so the warning logs only once per session. Only ever
	// touched from runTurn, which the single-consumer queue serializes.
	visionWarned bool

	queue chan Trigger
}

// Config bundles the Orchestrator's constructor dependencies.
type Config struct {
	Session        *session.Session
	LLM            llm.Provider
	TTS            *ttspipeline.Pipeline
	BargeIn        *bargein.Controller
	Layout         board.Layout
	Latex          *board.LatexClient
	Voice          types.VoiceProfile
	Hooks          Hooks
	Timeouts       Timeouts
	SttNotifyBegin func()
	SttNotifyEnd   func(utterance string)
	QueueSize      int
	// Metrics records per-turn/per-call latencies. Optional — nil disables
	// recording.
	Metrics *observe.Metrics
	// Logger receives the one-time vision-capability warning. Optional —
	// nil falls back to slog.Default().
	Logger *slog.Logger
}

// New builds an Orchestrator. QueueSize defaults to 32 if unset.
func New(cfg Config) *Orchestrator {
	size := cfg.QueueSize
	if size <= 0 {
		size = 32
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		sess:           cfg.Session,
		llm:            cfg.LLM,
		tts:            cfg.TTS,
		bargein:        cfg.BargeIn,
		layout:         cfg.Layout,
		latex:          cfg.Latex,
		voice:          cfg.Voice,
		hooks:          cfg.Hooks,
		timeout:        cfg.Timeouts,
		sttNotifyBegin: cfg.SttNotifyBegin,
		sttNotifyEnd:   cfg.SttNotifyEnd,
		metrics:        cfg.Metrics,
		logger:         logger,
		queue:          make(chan Trigger, size),
	}
}

// Enqueue publishes a trigger to the FIFO queue (§4.3: "If a second
// trigger arrives while the lease is held, it queues and is processed in
// FIFO order"). Blocks if the queue is full — a full queue means the
// session is badly backed up and backpressure onto the caller is correct.
func (o *Orchestrator) Enqueue(t Trigger) {
	o.queue <- t
}

// Run processes triggers one at a time until ctx is cancelled. The
// single-consumer queue is itself the conversational exclusion lease: no
// second turn can begin running its algorithm while this loop is inside
// runTurn.
func (o *Orchestrator) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case t := <-o.queue:
			o.runTurn(ctx, t)
		}
	}
}

// runTurn executes the eleven-step per-turn algorithm (§4.3) for one
// trigger.
func (o *Orchestrator) runTurn(parentCtx context.Context, t Trigger) {
	turnStart := time.Now()
	defer func() {
		if o.metrics != nil {
			o.metrics.TurnDuration.Record(parentCtx, time.Since(turnStart).Seconds())
		}
	}()

	// Step 1: reserve the epoch.
	epoch := o.sess.NextEpoch()

	// Step 2: append the triggering utterance, or nothing for a greeting.
	syntheticAppended := false
	switch t.Kind {
	case KindTranscript:
		o.sess.AppendTurn(session.Turn{Role: session.RoleStudent, Content: t.Text})
	case KindProactiveCheck:
		o.sess.AppendTurn(session.Turn{Role: session.RoleStudent, Content: syntheticProactiveNote})
		syntheticAppended = true
	case KindSessionStart:
		// No triggering utterance to record.
	}

	turnCtx, cancel := context.WithCancel(parentCtx)
	defer cancel()
	o.bargein.BeginTurn(epoch, cancel)
	defer o.bargein.EndTurn(epoch)

	// Step 3: snapshot inputs.
	history := o.sess.History()
	snap := o.sess.Snapshot()
	subject := o.sess.Subject()
	boardCursorY := o.sess.BoardCursorY()
	boardMaxY := o.sess.BoardMaxY()

	// Step 4: call the LLM, cancellable and hard-timeout-bounded.
	caps := o.llm.Capabilities()
	if snap != nil && !caps.SupportsVision && !o.visionWarned {
		o.visionWarned = true
		o.logger.Warn("llm model does not support vision; board snapshot omitted from every future turn", "session_id", o.sess.ID)
	}
	llmCtx, llmCancel := context.WithTimeout(turnCtx, o.timeout.LLM)
	req := llm.CompletionRequest{
		Messages:     buildMessages(history, snap, caps.SupportsVision),
		SystemPrompt: buildSystemPrompt(subject, o.layout.WriteX0, o.layout.WriteY0),
		Temperature:  0.7,
	}
	llmStart := time.Now()
	resp, err := o.llm.Complete(llmCtx, req)
	llmCancel()
	if o.metrics != nil {
		o.metrics.LLMCallDuration.Record(parentCtx, time.Since(llmStart).Seconds())
	}

	// Step 5: empty/invalid/cancelled response.
	if err != nil || resp == nil {
		if syntheticAppended {
			o.sess.RemoveLastTurn()
		}
		return
	}

	// Step 6: parse and validate.
	doc, ok := parseLLMResponse(resp.Content)
	if !ok {
		if syntheticAppended {
			o.sess.RemoveLastTurn()
		}
		return
	}

	// Step 7: rebase board actions.
	actions := toBoardActions(doc.Actions)
	emitStart := time.Now()
	items, newCursor, err := board.Emit(turnCtx, actions, boardCursorY, boardMaxY, o.layout, o.latex, epoch)
	if err != nil {
		// A synthesis failure loses the board output for this turn but must
		// not lose the tutor's speech — fall back to no board actions.
		items, newCursor = nil, boardCursorY
	}
	if o.metrics != nil && len(actions) > 0 {
		o.metrics.StrokeBatchDuration.Record(parentCtx, time.Since(emitStart).Seconds())
	}
	o.sess.SetBoardCursorY(newCursor)
	o.maybeScrollBoard(epoch, newCursor)

	// Step 8: commit the tutor turn.
	o.sess.AppendTurn(session.Turn{Role: session.RoleTutor, Content: doc.Speech})

	// Step 9: emit outputs in order, checking for supersession at each
	// suspension point.
	if o.hooks.OnSpeechText != nil {
		o.hooks.OnSpeechText(epoch, doc.Speech)
	}

	for _, item := range items {
		if turnCtx.Err() != nil {
			break
		}
		if item.Strokes != nil {
			if o.hooks.OnStrokes != nil {
				o.hooks.OnStrokes(epoch, *item.Strokes)
			}
		} else if o.hooks.OnBoardAction != nil {
			o.hooks.OnBoardAction(epoch, item.Action)
		}
	}

	if turnCtx.Err() == nil {
		o.speakTurn(turnCtx, epoch, doc.Speech)
	}

	// Step 10: update mode.
	newMode := session.Mode(parseMode(doc.Mode, string(o.sess.Mode())))
	o.sess.SetMode(newMode)
	if o.hooks.OnStateUpdate != nil {
		o.hooks.OnStateUpdate(newMode, doc.WaitForStudent)
	}

	// Step 11: release lease — implicit: runTurn returning lets Run loop
	// pick up the next queued trigger.
}

// maybeScrollBoard asks the client to follow the write cursor (§4.6) once it
// has advanced past the last reported viewport. viewportHeight of 0 means
// the client never reported one (e.g. a session_start predating this
// field), so no scroll is ever emitted.
func (o *Orchestrator) maybeScrollBoard(epoch int64, cursorY float64) {
	viewport := o.sess.ViewportHeight()
	if viewport <= 0 {
		return
	}
	scrollY := o.sess.ScrollY()
	if cursorY <= scrollY+viewport {
		return
	}
	target := cursorY - viewport + o.layout.InterlineMargin
	if target < 0 {
		target = 0
	}
	o.sess.SetScrollY(target)
	if o.hooks.OnScrollBoard != nil {
		o.hooks.OnScrollBoard(epoch, target)
	}
}

func (o *Orchestrator) speakTurn(ctx context.Context, epoch int64, speech string) {
	if o.sttNotifyBegin != nil {
		o.sttNotifyBegin()
	}
	err := o.tts.Speak(ctx, speech, o.voice, func(chunk []byte) error {
		if o.hooks.OnAudioChunk == nil {
			return nil
		}
		return o.hooks.OnAudioChunk(epoch, chunk)
	})
	if o.sttNotifyEnd != nil {
		o.sttNotifyEnd(speech)
	}
	_ = err // synthesis/delivery failures are non-fatal to the turn; the
	// gateway's OnAudioChunk only queues the chunk and never returns an
	// error, and a socket write failure ends the session in the gateway's
	// writer per §4.1's outbound-failure semantics.
}
