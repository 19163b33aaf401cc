// Package gateway implements the Connection Gateway (§4.1): the
// /ws/{session_id} HTTP handler that owns the duplex message channel for
// one tutoring session, deserializes inbound records, and serializes
// outbound records in order.
package gateway

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"
	"golang.org/x/sync/errgroup"

	"github.com/HassanFazal97/professor/internal/bargein"
	"github.com/HassanFazal97/professor/internal/board"
	"github.com/HassanFazal97/professor/internal/config"
	"github.com/HassanFazal97/professor/internal/observe"
	"github.com/HassanFazal97/professor/internal/resilience"
	"github.com/HassanFazal97/professor/internal/scheduler"
	"github.com/HassanFazal97/professor/internal/session"
	"github.com/HassanFazal97/professor/internal/sttpipeline"
	"github.com/HassanFazal97/professor/internal/ttspipeline"
	"github.com/HassanFazal97/professor/internal/turn"
	"github.com/HassanFazal97/professor/internal/wire"
	"github.com/HassanFazal97/professor/pkg/provider/llm"
	"github.com/HassanFazal97/professor/pkg/provider/stt"
	"github.com/HassanFazal97/professor/pkg/provider/tts"
	"github.com/HassanFazal97/professor/pkg/types"
)

// Providers bundles the concrete backends the gateway wires into every
// new session.
type Providers struct {
	LLM   llm.Provider
	STT   stt.Provider
	TTS   tts.Provider
	Latex *board.LatexClient
}

// Handler serves /ws/{session_id} and owns construction/teardown of every
// session it accepts.
type Handler struct {
	cfg       config.Config
	providers Providers
	logger    *slog.Logger
	metrics   *observe.Metrics
}

// New builds a Handler. Metrics are recorded through
// [observe.DefaultMetrics], which is a no-op recorder until
// observe.InitProvider has registered a real OTel meter provider.
func New(cfg config.Config, providers Providers, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{cfg: cfg, providers: providers, logger: logger, metrics: observe.DefaultMetrics()}
}

// ServeHTTP accepts the websocket upgrade and runs the session's full
// lifecycle until the connection closes.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	sessionID := strings.TrimPrefix(r.URL.Path, "/ws/")
	if sessionID == "" || sessionID == r.URL.Path {
		http.Error(w, "missing session id", http.StatusBadRequest)
		return
	}

	wsConn, err := websocket.Accept(w, r, nil)
	if err != nil {
		h.logger.Error("websocket accept failed", "session_id", sessionID, "error", err)
		return
	}

	s := newConn(sessionID, wsConn, h.cfg, h.providers, h.logger, h.metrics)
	if err := s.run(r.Context()); err != nil && !errors.Is(err, context.Canceled) {
		h.logger.Info("session ended", "session_id", sessionID, "error", err)
	}
}

// conn owns one session's background tasks and their teardown, grounded
// on the same active-guard-plus-reverse-ordered-closers discipline as a
// long-lived connection lifecycle manager.
type conn struct {
	id     string
	ws     *websocket.Conn
	cfg    config.Config
	logger *slog.Logger

	sess       *session.Session
	bargeinCtl *bargein.Controller
	sttPipe    *sttpipeline.Pipeline
	ttsPipe    *ttspipeline.Pipeline
	orch       *turn.Orchestrator
	metrics    *observe.Metrics

	outbound chan wire.Envelope

	mu      sync.Mutex
	closers []func() error
}

func newConn(id string, ws *websocket.Conn, cfg config.Config, providers Providers, logger *slog.Logger, metrics *observe.Metrics) *conn {
	sess := session.New(id, "", cfg.Board.WriteY0)

	c := &conn{
		id:       id,
		ws:       ws,
		cfg:      cfg,
		logger:   logger,
		sess:     sess,
		metrics:  metrics,
		outbound: make(chan wire.Envelope, 64),
	}

	c.bargeinCtl = bargein.New(sess, func(superseded int64) {
		c.send(wire.Envelope{Type: wire.TypeBargeIn, Payload: mustMarshal(wire.ServerBargeIn{Epoch: superseded})})
	})

	// §4.4 failure semantics: STT gets its own breaker ("reconnect once,
	// then disable STT for the rest of the session" already happens in
	// sttpipeline; the breaker additionally trips across repeated
	// audio_start attempts within the same session so a provider outage
	// fails fast instead of re-paying the connect timeout every time).
	sttBreaker := resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{Name: "stt." + id, MaxFailures: 2})
	c.sttPipe = sttpipeline.New(providers.STT, stt.StreamConfig{SampleRate: 16000, Channels: 1}, sttpipeline.Timing{
		StartGuard:    cfg.BargeIn.StartGuard,
		ConfirmWindow: cfg.BargeIn.ConfirmWindow,
		Debounce:      cfg.BargeIn.AutoBargeDebounce,
		EchoCooldown:  cfg.STT.EchoCooldown,
		MergeWindow:   cfg.STT.MergeWindow,
	}, sttpipeline.Callbacks{
		OnFinalTranscript: func(text string) {
			c.orch.Enqueue(turn.Trigger{Kind: turn.KindTranscript, Text: text})
		},
		OnInterimTranscript: func(text string) {
			c.sendInterim(text)
		},
		OnAutoBarge: func() {
			c.metrics.RecordBargeIn(context.Background(), "auto")
			c.bargeinCtl.Trigger(context.Background())
		},
		OnDisabled: func(message string) {
			c.send(wire.Envelope{Type: wire.TypeError, Payload: mustMarshal(wire.Error{Message: message, Fatal: false})})
		},
	}, sttpipeline.WithCircuitBreaker(sttBreaker), sttpipeline.WithMetrics(metrics))

	ttsBreaker := resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{Name: "tts." + id, MaxFailures: 2})
	c.ttsPipe = ttspipeline.New(providers.TTS, 5*time.Second, ttspipeline.WithCircuitBreaker(ttsBreaker), ttspipeline.WithMetrics(metrics))

	layout := board.NewLayout(cfg.Board)
	voice := types.VoiceProfile{ID: cfg.TTS.VoiceID, Provider: "elevenlabs"}

	c.orch = turn.New(turn.Config{
		Session: sess,
		LLM:     providers.LLM,
		TTS:     c.ttsPipe,
		BargeIn: c.bargeinCtl,
		Layout:  layout,
		Latex:   providers.Latex,
		Voice:   voice,
		Hooks: turn.Hooks{
			OnSpeechText:  c.sendSpeechText,
			OnBoardAction: c.sendBoardAction,
			OnStrokes:     c.sendStrokes,
			OnStateUpdate: c.sendStateUpdate,
			OnScrollBoard: c.sendScrollBoard,
			OnAudioChunk:  c.sendAudioChunk,
		},
		Timeouts: turn.Timeouts{
			LLM:     cfg.LLM.Timeout,
			TTSOpen: 5 * time.Second,
		},
		SttNotifyBegin: c.sttPipe.NotifyTTSBegin,
		SttNotifyEnd:   c.sttPipe.NotifyTTSEnd,
		Metrics:        metrics,
		Logger:         logger,
	})

	return c
}

// run drives the session's full lifecycle: send connected, launch every
// background task via errgroup, read inbound frames until the socket
// closes, then tear everything down in reverse order.
func (c *conn) run(parentCtx context.Context) error {
	ctx, cancel := context.WithCancel(parentCtx)
	defer cancel()

	c.addCloser(func() error { cancel(); return nil })
	c.addCloser(func() error { return c.sttPipe.Stop() })

	c.metrics.ActiveSessions.Add(ctx, 1)
	c.addCloser(func() error { c.metrics.ActiveSessions.Add(context.Background(), -1); return nil })

	c.send(wire.Envelope{Type: wire.TypeConnected, Payload: mustMarshal(wire.Connected{
		SessionID: c.id,
		Message:   "session established",
	})})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return c.orch.Run(gctx) })
	g.Go(func() error { return c.writeLoop(gctx) })
	g.Go(func() error {
		sched := scheduler.New(c.sess, scheduler.Config{
			TickPeriod:       c.cfg.Scheduler.TickPeriod,
			SilenceThreshold: c.cfg.Scheduler.SilenceThreshold,
			MinInterval:      c.cfg.Scheduler.MinInterval,
		}, func() {
			c.orch.Enqueue(turn.Trigger{Kind: turn.KindProactiveCheck})
			c.sess.MarkProactiveChecked()
			c.metrics.ProactiveCheckCount.Add(gctx, 1)
		})
		return sched.Run(gctx)
	})
	g.Go(func() error { return c.readLoop(gctx) })

	err := g.Wait()

	c.teardown()
	return err
}

func (c *conn) addCloser(f func() error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closers = append(c.closers, f)
}

// teardown runs every registered closer in reverse order, collecting but
// not failing on individual errors — the socket is already closing.
func (c *conn) teardown() {
	c.mu.Lock()
	closers := append([]func() error(nil), c.closers...)
	c.mu.Unlock()

	for i := len(closers) - 1; i >= 0; i-- {
		if err := closers[i](); err != nil {
			c.logger.Warn("teardown step failed", "session_id", c.id, "error", err)
		}
	}
	c.ws.Close(websocket.StatusNormalClosure, "session closed")
}

// readLoop is the Gateway inbound reader (§4.1, §5): it owns the only
// socket read and publishes parsed events to the orchestrator/STT/barge-in
// fan-out in arrival order, except that barge_in is applied immediately
// (§5 ordering guarantee).
func (c *conn) readLoop(ctx context.Context) error {
	for {
		_, data, err := c.ws.Read(ctx)
		if err != nil {
			return fmt.Errorf("gateway: read: %w", err)
		}

		var env wire.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			c.logger.Warn("malformed inbound frame dropped", "session_id", c.id, "error", err)
			continue
		}

		if err := c.handleInbound(ctx, env); err != nil {
			c.logger.Warn("inbound handler error", "session_id", c.id, "type", env.Type, "error", err)
		}
	}
}

func (c *conn) handleInbound(ctx context.Context, env wire.Envelope) error {
	switch env.Type {
	case wire.TypeSessionStart:
		var p wire.SessionStart
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return err
		}
		if p.Subject != "" {
			c.sess.SetSubject(p.Subject)
		}
		if p.BoardHeight > 0 {
			c.sess.SetViewportHeight(float64(p.BoardHeight))
		}
		c.orch.Enqueue(turn.Trigger{Kind: turn.KindSessionStart})
		return nil

	case wire.TypeAudioStart:
		return c.sttPipe.Start(ctx)

	case wire.TypeAudioData:
		var p wire.AudioData
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return err
		}
		chunk, err := base64.StdEncoding.DecodeString(p.AudioBase64)
		if err != nil {
			return err
		}
		return c.sttPipe.SendAudio(chunk)

	case wire.TypeAudioStop:
		return c.sttPipe.Stop()

	case wire.TypeTranscript:
		var p wire.ClientTranscript
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return err
		}
		c.orch.Enqueue(turn.Trigger{Kind: turn.KindTranscript, Text: p.Text})
		return nil

	case wire.TypeBoardSnapshot:
		var p wire.BoardSnapshot
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return err
		}
		c.sess.SetSnapshot(session.Snapshot{ImageBase64: p.ImageBase64, Width: p.Width, Height: p.Height})
		c.sess.SetBoardMaxY(float64(p.MaxDrawnY))
		return nil

	case wire.TypeBargeIn:
		// Applied immediately, bypassing the orchestrator queue (§5).
		c.metrics.RecordBargeIn(ctx, "manual")
		c.bargeinCtl.Trigger(ctx)
		return nil

	default:
		c.logger.Debug("unknown inbound type dropped", "session_id", c.id, "type", env.Type)
		return nil
	}
}

// writeLoop is the Gateway outbound writer (§4.1, §5): the single
// consumer of the outbound queue, preserving per-turn emission order.
func (c *conn) writeLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case env := <-c.outbound:
			data, err := json.Marshal(env)
			if err != nil {
				c.logger.Error("marshal outbound envelope failed", "session_id", c.id, "error", err)
				continue
			}
			if err := c.ws.Write(ctx, websocket.MessageText, data); err != nil {
				return fmt.Errorf("gateway: write: %w", err)
			}
		}
	}
}

// send enqueues an envelope for the outbound writer. Non-blocking: a full
// queue means the session is already unhealthy, and dropping keeps the
// writer from wedging the turn that produced it.
func (c *conn) send(env wire.Envelope) {
	select {
	case c.outbound <- env:
	default:
		c.logger.Warn("outbound queue full, dropping message", "session_id", c.id, "type", env.Type)
	}
}

func (c *conn) sendInterim(text string) {
	c.send(wire.Envelope{Type: wire.TypeTranscriptInterim, Payload: mustMarshal(wire.TranscriptInterim{Text: text})})
}

// epochCurrent reports whether epoch is still the session's current
// turnEpoch — the send-time filter that drops superseded-epoch output
// (§4.3 invariant, §4.7 step 4, §8 invariant 5).
func (c *conn) epochCurrent(epoch int64) bool {
	return c.sess.CurrentEpoch() == epoch
}

func (c *conn) sendSpeechText(epoch int64, text string) {
	if !c.epochCurrent(epoch) {
		return
	}
	c.send(wire.Envelope{Type: wire.TypeSpeechText, Payload: mustMarshal(wire.SpeechText{Text: text, Epoch: epoch})})
}

func (c *conn) sendBoardAction(epoch int64, a board.Action) {
	if !c.epochCurrent(epoch) {
		return
	}
	payload := wire.BoardAction{Epoch: epoch, Color: a.Color}
	switch a.Type {
	case board.ActionUnderline:
		payload.Type = "underline"
		payload.Area = &wire.Rect{X: a.Area.X, Y: a.Area.Y, W: a.Area.W, H: a.Area.H}
	case board.ActionClear:
		payload.Type = "clear"
	default:
		return
	}
	c.send(wire.Envelope{Type: wire.TypeBoardAction, Payload: mustMarshal(payload)})
}

func (c *conn) sendStrokes(epoch int64, batch board.StrokeBatch) {
	if !c.epochCurrent(epoch) {
		return
	}
	strokes := make([]wire.Stroke, 0, len(batch.Strokes))
	for _, s := range batch.Strokes {
		points := make([]wire.StrokePoint, 0, len(s.Points))
		for _, p := range s.Points {
			points = append(points, wire.StrokePoint{X: p.X, Y: p.Y, Pressure: p.Pressure})
		}
		strokes = append(strokes, wire.Stroke{Points: points, Color: s.Color, Width: s.Width})
	}
	c.send(wire.Envelope{Type: wire.TypeStrokes, Payload: mustMarshal(wire.Strokes{
		Strokes:        strokes,
		AnimationSpeed: batch.AnimationSpeed,
		Epoch:          epoch,
	})})
}

func (c *conn) sendStateUpdate(mode session.Mode, waitForStudent bool) {
	c.send(wire.Envelope{Type: wire.TypeStateUpdate, Payload: mustMarshal(wire.StateUpdate{
		Mode:           string(mode),
		WaitForStudent: waitForStudent,
	})})
}

func (c *conn) sendScrollBoard(epoch int64, toY float64) {
	if !c.epochCurrent(epoch) {
		return
	}
	c.send(wire.Envelope{Type: wire.TypeScrollBoard, Payload: mustMarshal(wire.ScrollBoard{ToY: toY})})
}

func (c *conn) sendAudioChunk(epoch int64, chunk []byte) error {
	if !c.epochCurrent(epoch) {
		return nil
	}
	c.send(wire.Envelope{Type: wire.TypeAudioChunk, Payload: mustMarshal(wire.AudioChunk{
		AudioBase64: base64.StdEncoding.EncodeToString(chunk),
		Epoch:       epoch,
	})})
	return nil
}

func mustMarshal(v any) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		// Every payload type here is a plain struct of strings/numbers/slices
		// thereof; a marshal failure would mean a programming error in the
		// wire type itself, not a runtime condition to recover from.
		panic(fmt.Sprintf("gateway: marshal outbound payload: %v", err))
	}
	return data
}
