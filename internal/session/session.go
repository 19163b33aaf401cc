// Package session holds the in-memory conversational state for one
// tutoring connection: history, board cursor, mode, and the turn-epoch
// counter that tags every piece of turn output.
//
// Session is shared across the gateway, the turn orchestrator, the stroke
// emitter, and the barge-in controller. Every field mutated from more than
// one task is guarded by mu; the mutex is never held across network I/O.
// turnEpoch is additionally exposed as an atomic counter so that the
// gateway's outbound writer can check it on every send without taking the
// full lock.
package session

import (
	"sync"
	"sync/atomic"
	"time"
)

// Role identifies which party produced a Turn.
type Role string

const (
	RoleStudent Role = "student"
	RoleTutor   Role = "tutor"
)

// Turn is one entry in the append-only conversation history.
type Turn struct {
	Role    Role
	Content string
}

// Mode is the tutor's current pedagogical mode.
type Mode string

const (
	ModeListening     Mode = "listening"
	ModeGuiding       Mode = "guiding"
	ModeDemonstrating Mode = "demonstrating"
	ModeEvaluating    Mode = "evaluating"
)

// Snapshot is the most recent board image reported by the client.
// It is immutable after construction and passed by reference.
type Snapshot struct {
	ImageBase64 string
	Width       int
	Height      int
}

// Session is one tutoring conversation. Zero value is not usable; create
// with New.
type Session struct {
	ID string

	mu                        sync.Mutex
	subject                   string
	history                   []Turn
	mode                      Mode
	boardCursorY              float64
	boardMaxY                 float64
	viewportHeight            float64
	scrollY                   float64
	lastSnapshot              *Snapshot
	lastInteraction           time.Time
	lastProactiveAt           time.Time
	studentDrewSinceProactive bool

	turnEpoch atomic.Int64
}

// New creates a Session with the given ID and initial board cursor.
func New(id string, subject string, boardWriteY0 float64) *Session {
	now := time.Now()
	return &Session{
		ID:              id,
		subject:         subject,
		mode:            ModeListening,
		boardCursorY:    boardWriteY0,
		lastInteraction: now,
	}
}

// NextEpoch atomically increments and returns the new turnEpoch. Called once
// per turn at the very start of the per-turn algorithm.
func (s *Session) NextEpoch() int64 {
	return s.turnEpoch.Add(1)
}

// AdvanceEpoch bumps turnEpoch without starting a new turn — used by the
// Barge-in Controller to supersede the current turn's output (§4.7 step 4).
func (s *Session) AdvanceEpoch() int64 {
	return s.turnEpoch.Add(1)
}

// CurrentEpoch returns the current turnEpoch without locking. Safe for the
// gateway's outbound writer to call on every message send.
func (s *Session) CurrentEpoch() int64 {
	return s.turnEpoch.Load()
}

// Subject returns the session's configured subject.
func (s *Session) Subject() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.subject
}

// SetSubject records the subject named in the client's session_start
// message, once the session is actually established.
func (s *Session) SetSubject(subject string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subject = subject
}

// AppendTurn appends a turn to history. Returns the new history length.
func (s *Session) AppendTurn(t Turn) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = append(s.history, t)
	s.lastInteraction = time.Now()
	return len(s.history)
}

// RemoveLastTurn drops the most recently appended turn, if any. Used to
// retract a synthetic proactive-check note when the LLM call produced no
// usable result (§4.3 step 5, §8 boundary behavior).
func (s *Session) RemoveLastTurn() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.history) == 0 {
		return
	}
	s.history = s.history[:len(s.history)-1]
}

// History returns a copy of the conversation history. Safe to read outside
// the lock since the returned slice is a fresh copy.
func (s *Session) History() []Turn {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Turn, len(s.history))
	copy(out, s.history)
	return out
}

// HistoryLen returns len(history) without copying.
func (s *Session) HistoryLen() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.history)
}

// Mode returns the current tutor mode.
func (s *Session) Mode() Mode {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mode
}

// SetMode updates the tutor mode.
func (s *Session) SetMode(m Mode) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mode = m
}

// BoardCursorY returns the current board write cursor.
func (s *Session) BoardCursorY() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.boardCursorY
}

// SetBoardCursorY updates the board write cursor.
func (s *Session) SetBoardCursorY(y float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.boardCursorY = y
}

// BoardMaxY returns the deepest known extent of student content.
func (s *Session) BoardMaxY() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.boardMaxY
}

// SetBoardMaxY records a new student-content extent reported by the client.
// Never decreases boardMaxY — the client only ever reports growth of the
// drawn area within a session.
func (s *Session) SetBoardMaxY(y float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if y > s.boardMaxY {
		s.boardMaxY = y
	}
}

// SetViewportHeight records the client's reported board viewport height, so
// the turn orchestrator can tell when the write cursor has advanced past
// what the student can currently see. A zero height (never reported)
// disables scroll_board emission.
func (s *Session) SetViewportHeight(h float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.viewportHeight = h
}

// ViewportHeight returns the last reported board viewport height, or 0 if
// none has been reported.
func (s *Session) ViewportHeight() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.viewportHeight
}

// ScrollY returns the Y offset the client was last instructed to scroll to.
func (s *Session) ScrollY() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.scrollY
}

// SetScrollY records the Y offset the client was last instructed to scroll
// to.
func (s *Session) SetScrollY(y float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scrollY = y
}

// SetSnapshot stores the latest board snapshot, overwriting (never queuing)
// the previous one, and marks that the student has drawn since the last
// proactive check.
func (s *Session) SetSnapshot(snap Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastSnapshot = &snap
	s.lastInteraction = time.Now()
	s.studentDrewSinceProactive = true
}

// Snapshot returns a copy of the last stored snapshot, or nil if none has
// arrived yet.
func (s *Session) Snapshot() *Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lastSnapshot == nil {
		return nil
	}
	cp := *s.lastSnapshot
	return &cp
}

// TouchInteraction records that a student or tutor utterance just occurred,
// resetting the idle scheduler's silence clock.
func (s *Session) TouchInteraction() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastInteraction = time.Now()
}

// IdleFor reports how long it has been since the last interaction.
func (s *Session) IdleFor() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return time.Since(s.lastInteraction)
}

// ProactiveEligible reports whether the idle scheduler may fire a
// proactive check right now: the student has drawn since the last check,
// the mutual silence threshold has elapsed, and the minimum spacing since
// the last proactive check has elapsed.
func (s *Session) ProactiveEligible(silenceThreshold, minInterval time.Duration) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.studentDrewSinceProactive {
		return false
	}
	now := time.Now()
	if now.Sub(s.lastInteraction) < silenceThreshold {
		return false
	}
	if now.Sub(s.lastProactiveAt) < minInterval {
		return false
	}
	return true
}

// MarkProactiveChecked records that a proactive check was just dispatched,
// resetting the drew-since-last-check flag and stamping lastProactiveAt.
func (s *Session) MarkProactiveChecked() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastProactiveAt = time.Now()
	s.studentDrewSinceProactive = false
}
