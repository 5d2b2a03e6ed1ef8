package services

import (
	"context"
	"errors"
	"time"

	"github.com/dmitrijs2005/finkeeper/internal/client/repositories/outbox"
	"github.com/dmitrijs2005/finkeeper/internal/client/repositories/records"
	"github.com/dmitrijs2005/finkeeper/internal/common"
	"github.com/dmitrijs2005/finkeeper/internal/models"
)

// Health is the local status probe: store size and cursor freshness.
type Health struct {
	ClientID     string
	Tables       map[models.Kind]records.Counts
	Pending      int64
	Poisoned     int
	LastSync     int64
	LastFullSync int64
	// CursorAge is the time since LastSync; zero when never synced.
	CursorAge time.Duration
}

func (l *Ledger) Health(ctx context.Context) (Health, error) {
	h := Health{Tables: make(map[models.Kind]records.Counts, len(models.Kinds()))}

	recRepo := l.repos.Records(l.db)
	for _, k := range models.Kinds() {
		c, err := recRepo.Count(ctx, k)
		if err != nil {
			return Health{}, err
		}
		h.Tables[k] = c
	}

	q := l.repos.Outbox(l.db)
	pending, err := q.CountPending(ctx, l.maxRetries)
	if err != nil {
		return Health{}, err
	}
	h.Pending = pending

	poisoned, err := q.ListPoisoned(ctx, l.maxRetries)
	if err != nil {
		return Health{}, err
	}
	h.Poisoned = len(poisoned)

	st, err := l.repos.SyncState(l.db).Get(ctx)
	if err != nil && !errors.Is(err, common.ErrNotFound) {
		return Health{}, err
	}
	h.ClientID = st.ClientID
	h.LastSync = st.LastSync
	h.LastFullSync = st.LastFullSync
	if st.LastSync > 0 {
		h.CursorAge = l.now().Sub(time.UnixMilli(st.LastSync))
	}
	return h, nil
}

// PoisonedEntries lists queue entries that exhausted the retry budget.
func (l *Ledger) PoisonedEntries(ctx context.Context) ([]outbox.Entry, error) {
	return l.repos.Outbox(l.db).ListPoisoned(ctx, l.maxRetries)
}

// PurgeQueue drops acknowledged entries older than syncedRetention and, when
// poisonRetention is positive, poisoned entries older than that. It returns
// the number of removed entries.
func (l *Ledger) PurgeQueue(ctx context.Context, syncedRetention, poisonRetention time.Duration) (int64, error) {
	now := l.now()
	q := l.repos.Outbox(l.db)

	n, err := q.PurgeSynced(ctx, now.Add(-syncedRetention).UnixMilli())
	if err != nil {
		return 0, err
	}
	if poisonRetention <= 0 {
		return n, nil
	}
	m, err := q.PurgePoisoned(ctx, l.maxRetries, now.Add(-poisonRetention).UnixMilli())
	if err != nil {
		return n, err
	}
	return n + m, nil
}
