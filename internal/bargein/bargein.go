// Package bargein implements the Barge-in Controller: the cancellation
// fabric that interrupts an in-flight turn's LLM call, TTS stream, and
// stroke emission when the student starts speaking or explicitly
// interrupts.
package bargein

import (
	"context"
	"sync"

	"github.com/HassanFazal97/professor/internal/session"
)

// Notifier is called once per trigger that supersedes an active turn, after
// the active epoch has been advanced, so the gateway can emit the outbound
// barge_in notice.
type Notifier func(supersededEpoch int64)

// Controller holds the two pieces of state from §4.7: the epoch currently
// producing output, and the means to cancel it.
type Controller struct {
	sess *session.Session

	mu          sync.Mutex
	activeEpoch int64
	cancel      context.CancelFunc

	notify Notifier
}

// New builds a Controller bound to sess. notify is invoked on every
// trigger that finds an active turn; it may be nil.
func New(sess *session.Session, notify Notifier) *Controller {
	return &Controller{sess: sess, notify: notify}
}

// BeginTurn registers the epoch and cancel function for a turn about to
// start emitting output (§4.3 steps 4-9). Any previously registered turn
// is implicitly superseded — the orchestrator's exclusive turn lease
// guarantees at most one turn calls BeginTurn without an intervening
// EndTurn.
func (c *Controller) BeginTurn(epoch int64, cancel context.CancelFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.activeEpoch = epoch
	c.cancel = cancel
}

// EndTurn clears the active epoch once a turn completes normally. No-op if
// epoch no longer matches the active one (it was already superseded by a
// barge-in, whose cancel already fired).
func (c *Controller) EndTurn(epoch int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.activeEpoch == epoch {
		c.activeEpoch = 0
		c.cancel = nil
	}
}

// Trigger runs the four-step on-trigger sequence from §4.7: cancel the
// in-flight LLM/TTS/stroke work, advance turnEpoch, and notify the
// gateway. Returns the epoch that was superseded, or 0 if no turn was
// active.
//
// Safe to call twice in quick succession — the second call finds no
// active turn and returns 0 without advancing the epoch or notifying,
// which satisfies §8's "two barge_in messages produce the same state as one."
func (c *Controller) Trigger(ctx context.Context) int64 {
	c.mu.Lock()
	superseded := c.activeEpoch
	cancel := c.cancel
	c.activeEpoch = 0
	c.cancel = nil
	c.mu.Unlock()

	if superseded == 0 {
		return 0
	}

	// Step 1-2: stop the TTS stream and cancel the LLM call. Both are
	// subscribers to the same context; they must each observe cancellation
	// at their own next suspension point.
	if cancel != nil {
		cancel()
	}

	// Step 4: advance turnEpoch so the gateway's send-time epoch filter
	// drops anything still in flight for the superseded epoch.
	c.sess.AdvanceEpoch()

	// Step 3: notify so the gateway can emit the outbound barge_in notice.
	if c.notify != nil {
		c.notify(superseded)
	}

	return superseded
}

// ActiveEpoch reports the epoch currently producing output, or 0 if none.
func (c *Controller) ActiveEpoch() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.activeEpoch
}
