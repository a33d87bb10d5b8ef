package core

import (
	"context"
	"fmt"
	"time"

	"github.com/iamanmiglani/Image-to-text/v1/session"
	"github.com/iamanmiglani/Image-to-text/v1/turn"
)

// Sweep runs the coordinator sweep, then ends idle sessions, sessions whose
// lease was reclaimed, and sessions nobody called in for longer than the
// retention window.
func (a *App) Sweep(ctx context.Context) error {
	if err := a.coord.Sweep(ctx); err != nil {
		return err
	}
	holder, held, err := a.coord.Holder(ctx)
	if err != nil {
		return err
	}

	a.mu.RLock()
	entries := make([]*entry, 0, len(a.sessions))
	for _, e := range a.sessions {
		entries = append(entries, e)
	}
	a.mu.RUnlock()

	now := a.now()
	for _, e := range entries {
		e.mu.Lock()
		err := a.sweepOne(ctx, e, holder, held, now)
		e.mu.Unlock()
		if err != nil {
			return err
		}
	}
	return nil
}

func (a *App) sweepOne(ctx context.Context, e *entry, holder string, held bool, now time.Time) error {
	p := e.s.Participant
	if now.Sub(e.seen) >= a.retention && !busy(e.s) {
		if e.s.State.Active() {
			if err := a.coord.Complete(ctx, p); err != nil {
				return err
			}
		}
		a.discardArtifact(e.s)
		a.drop(p)
		a.logger.Info("session dropped", "participant", p, "state", e.s.State.String())
		return nil
	}
	if !e.s.State.Active() || busy(e.s) {
		return nil
	}
	if !held || holder != p {
		a.terminate(e, session.ReasonLeaseLost)
		return nil
	}
	if !e.s.IdleGuarded() {
		return nil
	}
	expired, err := a.coord.IdleExpired(ctx, p)
	if err != nil || !expired {
		return err
	}
	if err := a.coord.Evict(ctx, p, turn.ReasonIdle); err != nil {
		return err
	}
	a.terminate(e, session.ReasonIdle)
	return nil
}

// Run calls Sweep every interval until ctx is done.
func (a *App) Run(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		return fmt.Errorf("sweep interval must be positive")
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := a.Sweep(ctx); err != nil {
				a.logger.Error("session sweep failed", "error", err)
			}
		}
	}
}
