// Package scheduler implements the Idle/Proactive Scheduler (§4.8): a
// periodic tick loop that pushes a synthetic proactive-check trigger into
// the turn orchestrator's inbound queue when the student has drawn
// recently and both parties have been silent long enough.
package scheduler

import (
	"context"
	"time"

	"github.com/HassanFazal97/professor/internal/session"
)

// Config holds the tick period and the two eligibility windows from §6
// (IDLE_TICK_SEC, SILENCE_THRESHOLD_SEC, MIN_PROACTIVE_INTERVAL_SEC).
type Config struct {
	TickPeriod       time.Duration
	SilenceThreshold time.Duration
	MinInterval      time.Duration
}

// Scheduler ticks on Config.TickPeriod and fires Fire whenever sess is
// eligible for a proactive check.
type Scheduler struct {
	sess *session.Session
	cfg  Config
	fire func()
}

// New builds a Scheduler bound to sess. fire is invoked (synchronously,
// from the Run goroutine) each time a proactive check becomes eligible;
// the caller is responsible for dispatching it as a trigger to the turn
// orchestrator and for calling sess.MarkProactiveChecked when it
// dispatches that trigger.
func New(sess *session.Session, cfg Config, fire func()) *Scheduler {
	return &Scheduler{sess: sess, cfg: cfg, fire: fire}
}

// Run blocks, ticking until ctx is cancelled. Intended to be launched as
// one of the session's background tasks (§5).
func (s *Scheduler) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.cfg.TickPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if s.sess.ProactiveEligible(s.cfg.SilenceThreshold, s.cfg.MinInterval) {
				s.fire()
			}
		}
	}
}
