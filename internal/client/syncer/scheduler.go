package syncer

import (
	"context"
	"errors"
	"time"

	"github.com/dmitrijs2005/finkeeper/internal/common"
)

// Focus signals that the application regained focus.
func (e *Engine) Focus() { signal(e.focusCh) }

// Notify signals a committed local mutation.
func (e *Engine) Notify() { signal(e.notifyCh) }

// RemoteChanged signals that another client pushed changes to the server.
func (e *Engine) RemoteChanged() { signal(e.remoteCh) }

// SetOnline reports a connectivity change observed outside the engine.
func (e *Engine) SetOnline(online bool) {
	select {
	case e.onlineCh <- online:
	default:
		// a pending report is replaced by the newer one
		select {
		case <-e.onlineCh:
		default:
		}
		select {
		case e.onlineCh <- online:
		default:
		}
	}
}

func signal(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}

// Run is the scheduler loop. It blocks until ctx is cancelled.
func (e *Engine) Run(ctx context.Context) error {
	e.logger.Info(ctx, "sync scheduler started", "interval", e.opts.Interval)
	defer e.logger.Info(ctx, "sync scheduler stopped")

	ticker := time.NewTicker(e.opts.Interval)
	defer ticker.Stop()

	probe := time.NewTicker(e.opts.OnlineCheckInterval)
	defer probe.Stop()

	var housekeeping <-chan time.Time
	if e.opts.Housekeeping != nil && e.opts.HousekeepingInterval > 0 {
		t := time.NewTicker(e.opts.HousekeepingInterval)
		defer t.Stop()
		housekeeping = t.C
	}

	var (
		settle     *time.Timer
		settleC    <-chan time.Time
		retryTimer *time.Timer
		retryC     <-chan time.Time
	)
	defer func() {
		if settle != nil {
			settle.Stop()
		}
		if retryTimer != nil {
			retryTimer.Stop()
		}
	}()

	attempt := func(trigger string) {
		if !e.Online() {
			e.logger.Debug(ctx, "round skipped while offline", "trigger", trigger)
			return
		}
		_, err := e.Round(ctx, false)
		switch {
		case err == nil:
			if retryTimer != nil {
				retryTimer.Stop()
				retryC = nil
			}
		case errors.Is(err, common.ErrSyncInProgress), ctx.Err() != nil:
		case errors.Is(err, common.ErrStoreUnavailable):
			e.logger.Error(ctx, "local store unavailable", "trigger", trigger, "error", err)
		default:
			d := e.scheduleRetry()
			if retryTimer != nil {
				retryTimer.Stop()
			}
			retryTimer = time.NewTimer(d)
			retryC = retryTimer.C
			e.logger.Debug(ctx, "retry scheduled", "trigger", trigger, "in", d)
		}
	}

	transition := func(online bool) {
		was := e.online.Swap(online)
		switch {
		case online && !was:
			e.logger.Info(ctx, "server reachable")
			if settle != nil {
				settle.Stop()
			}
			settle = time.NewTimer(e.opts.OnlineDebounce)
			settleC = settle.C
		case !online && was:
			e.logger.Info(ctx, "server unreachable")
			if settle != nil {
				settle.Stop()
				settleC = nil
			}
		}
	}

	transition(e.ping(ctx))

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			attempt("interval")
		case <-e.focusCh:
			attempt("focus")
		case <-e.notifyCh:
			attempt("mutation")
		case <-e.remoteCh:
			attempt("remote")
		case <-retryC:
			retryC = nil
			attempt("retry")
		case <-settleC:
			settleC = nil
			attempt("online")
		case online := <-e.onlineCh:
			transition(online)
		case <-probe.C:
			transition(e.ping(ctx))
		case <-housekeeping:
			if err := e.opts.Housekeeping(ctx); err != nil {
				e.logger.Warn(ctx, "housekeeping failed", "error", err)
			}
		}
	}
}

func (e *Engine) ping(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, e.opts.PingTimeout)
	defer cancel()
	return e.transport.Ping(ctx) == nil
}

// scheduleRetry computes the delay for the current failure streak.
func (e *Engine) scheduleRetry() time.Duration {
	e.mu.Lock()
	defer e.mu.Unlock()

	attempt := e.failures - 1
	d := Backoff(attempt, e.opts.BaseBackoff, e.opts.MaxBackoff)
	e.nextRetryAt = e.opts.Now().Add(d)
	return d
}
