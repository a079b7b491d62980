package engine

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/m3rciful/flowbot/core/config"
	"github.com/m3rciful/flowbot/core/logger"
	"github.com/m3rciful/flowbot/core/session"
)

// SweepExpired resolves every suspended session whose wait deadline passed.
// Waits with a timeout route resume there; waits without one fall to the
// configured timeout policy. It returns how many sessions were resolved.
func (e *Engine) SweepExpired(ctx context.Context) (int, error) {
	now := e.now()
	expired, err := e.store.ListExpired(ctx, now)
	if err != nil {
		return 0, &CollaboratorError{System: "session store", Op: "list_expired", Err: err}
	}

	var handled int
	var errs []error
	for _, stale := range expired {
		n, err := e.expireOne(ctx, stale, now)
		handled += n
		if err != nil {
			errs = append(errs, err)
		}
	}
	return handled, errors.Join(errs...)
}

// expireOne re-checks and resolves a single expired session under its lock.
// The listing is a snapshot; the session may have resumed or terminated in
// the meantime.
func (e *Engine) expireOne(ctx context.Context, stale *session.Session, now time.Time) (int, error) {
	unlock := e.locks.Acquire(session.Key(stale.ChatID, stale.UserID))
	defer unlock()

	s, err := e.store.Load(ctx, stale.ChatID, stale.UserID)
	if errors.Is(err, session.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, &CollaboratorError{System: "session store", Op: "load", Err: err}
	}
	if s.ID != stale.ID || !s.Suspended || s.Deadline.IsZero() || s.Deadline.After(now) {
		return 0, nil
	}

	ctx = logger.WithSessionMeta(ctx, s.ID, s.ScenarioID, s.StepID)

	if s.Wait != nil && s.Wait.TimeoutNextStep != "" {
		next := s.Wait.TimeoutNextStep
		s.Resume(next)
		if err := e.save(ctx, s); err != nil {
			return 0, err
		}
		e.metrics.Timeout("routed")
		logger.Info(ctx, component, "wait_timeout_routed",
			slog.String("next_step", next))
		return 1, e.runPass(ctx, s)
	}

	switch e.cfg.TimeoutPolicy {
	case config.TimeoutPolicyEscalate:
		// Keep the session suspended for operator intervention but clear the
		// deadline so the sweep does not report it again.
		s.Deadline = time.Time{}
		if err := e.save(ctx, s); err != nil {
			return 0, err
		}
		e.metrics.Timeout("escalated")
		logger.Error(ctx, component, "wait_timeout_escalated",
			slog.Time("deadline", stale.Deadline))
		return 1, &TimeoutExpiryError{Ref: e.ref(s, s.StepID), Deadline: stale.Deadline}
	default:
		if err := e.terminate(ctx, s); err != nil {
			return 0, err
		}
		e.metrics.Timeout("terminated")
		logger.Warn(ctx, component, "wait_timeout_terminated",
			slog.Time("deadline", stale.Deadline))
		return 1, nil
	}
}

// Sweeper runs the timeout sweep on a fixed interval.
type Sweeper struct {
	engine   *Engine
	interval time.Duration
}

// NewSweeper wraps an engine with a periodic expiry sweep.
func NewSweeper(e *Engine, interval time.Duration) *Sweeper {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Sweeper{engine: e, interval: interval}
}

// Run blocks until ctx is cancelled, sweeping expired waits every interval.
func (sw *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(sw.interval)
	defer ticker.Stop()

	logger.Info(ctx, "sweeper", "started",
		slog.Duration("interval", sw.interval))
	for {
		select {
		case <-ctx.Done():
			logger.Info(ctx, "sweeper", "stopped")
			return
		case <-ticker.C:
			handled, err := sw.engine.SweepExpired(ctx)
			if err != nil {
				logger.Warn(ctx, "sweeper", "sweep_errors",
					slog.Int("handled", handled),
					slog.String("error", err.Error()))
			} else if handled > 0 {
				logger.Info(ctx, "sweeper", "sweep_done",
					slog.Int("handled", handled))
			}
		}
	}
}
