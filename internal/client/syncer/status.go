package syncer

import (
	"context"
	"errors"
	"time"

	"github.com/dmitrijs2005/finkeeper/internal/client/store"
	"github.com/dmitrijs2005/finkeeper/internal/common"
)

// Status is what the surrounding application shows: online, syncing and
// the number of pending changes.
type Status struct {
	State               State
	Online              bool
	Pending             int64
	Poisoned            int
	LastSync            int64
	LastRoundAt         time.Time
	LastError           string
	ConsecutiveFailures int
	NextRetryAt         time.Time
	LastResult          Result
}

func (e *Engine) Status(ctx context.Context) (Status, error) {
	e.mu.Lock()
	s := Status{
		State:               e.State(),
		Online:              e.Online(),
		LastRoundAt:         e.lastRoundAt,
		ConsecutiveFailures: e.failures,
		NextRetryAt:         e.nextRetryAt,
		LastResult:          e.lastResult,
	}
	if e.lastErr != nil {
		s.LastError = e.lastErr.Error()
	}
	e.mu.Unlock()

	q := e.repos.Outbox(e.db)
	pending, err := q.CountPending(ctx, e.opts.MaxRetries)
	if err != nil {
		return s, store.Unavailable(err)
	}
	s.Pending = pending

	poisoned, err := q.ListPoisoned(ctx, e.opts.MaxRetries)
	if err != nil {
		return s, store.Unavailable(err)
	}
	s.Poisoned = len(poisoned)

	st, err := e.repos.SyncState(e.db).Get(ctx)
	if err != nil && !errors.Is(err, common.ErrNotFound) {
		return s, store.Unavailable(err)
	}
	s.LastSync = st.LastSync
	return s, nil
}
