// Package syncer drives push/pull rounds between the local store and the
// server.
//
// An Engine runs at most one round at a time. Rounds are started by the
// scheduler loop (Run) on interval ticks, focus and mutation signals, an
// offline to online transition, and backoff retries, or directly by a caller
// through Round and ForceSync. A call made while a round is in flight fails
// fast with common.ErrSyncInProgress.
package syncer

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dmitrijs2005/finkeeper/internal/client/notify"
	"github.com/dmitrijs2005/finkeeper/internal/client/repositories/outbox"
	"github.com/dmitrijs2005/finkeeper/internal/client/repositories/repomanager"
	"github.com/dmitrijs2005/finkeeper/internal/client/store"
	"github.com/dmitrijs2005/finkeeper/internal/client/transport"
	"github.com/dmitrijs2005/finkeeper/internal/common"
	"github.com/dmitrijs2005/finkeeper/internal/dbx"
	"github.com/dmitrijs2005/finkeeper/internal/logging"
	"github.com/dmitrijs2005/finkeeper/internal/models"
	"github.com/dmitrijs2005/finkeeper/internal/reconcile"
	"github.com/dmitrijs2005/finkeeper/internal/syncapi"
)

type State int32

const (
	StateIdle State = iota
	StateSyncing
)

func (s State) String() string {
	if s == StateSyncing {
		return "syncing"
	}
	return "idle"
}

// Options configures an Engine. Zero values select defaults.
type Options struct {
	// Interval between scheduled rounds while online. Default 30s.
	Interval time.Duration
	// MaxRetries bounds entries picked by scheduled rounds. Default 3.
	MaxRetries int
	// ForceMaxRetries bounds entries picked by ForceSync. Default 10.
	ForceMaxRetries int
	// BaseBackoff and MaxBackoff shape the retry delay. Defaults 1s and 30s.
	BaseBackoff time.Duration
	MaxBackoff  time.Duration
	// OnlineCheckInterval is the Ping period of the reachability probe. Default 3s.
	OnlineCheckInterval time.Duration
	// OnlineDebounce delays the round fired by an offline to online transition. Default 1s.
	OnlineDebounce time.Duration
	// PingTimeout bounds one reachability probe. Default 3s.
	PingTimeout time.Duration
	// MaxPushBatch caps the records pushed by one exchange. A round keeps
	// exchanging until the queue is drained and the pull is complete. Default 500.
	MaxPushBatch int
	// NotifyPath is touched after a round applied pulled records.
	NotifyPath string
	// Housekeeping runs every HousekeepingInterval when both are set.
	Housekeeping         func(ctx context.Context) error
	HousekeepingInterval time.Duration

	Now    func() time.Time
	Logger logging.Logger
}

func (o *Options) setDefaults() {
	if o.Interval <= 0 {
		o.Interval = 30 * time.Second
	}
	if o.MaxRetries <= 0 {
		o.MaxRetries = 3
	}
	if o.ForceMaxRetries <= 0 {
		o.ForceMaxRetries = 10
	}
	if o.BaseBackoff <= 0 {
		o.BaseBackoff = time.Second
	}
	if o.MaxBackoff <= 0 {
		o.MaxBackoff = 30 * time.Second
	}
	if o.OnlineCheckInterval <= 0 {
		o.OnlineCheckInterval = 3 * time.Second
	}
	if o.OnlineDebounce <= 0 {
		o.OnlineDebounce = time.Second
	}
	if o.PingTimeout <= 0 {
		o.PingTimeout = 3 * time.Second
	}
	if o.MaxPushBatch <= 0 {
		o.MaxPushBatch = 500
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	if o.Logger == nil {
		o.Logger = logging.Nop{}
	}
}

// Result summarizes one successful round.
type Result struct {
	Pushed     int
	Pulled     int
	Skipped    int
	Conflicts  []syncapi.Conflict
	ServerTime int64
	// Exchanges is the number of Sync calls the round took.
	Exchanges int
}

type entityKey struct {
	kind models.Kind
	id   string
}

// pendingChange is the latest queued payload of one entity together with
// every queue entry it acknowledges.
type pendingChange struct {
	rec     models.Record
	ids     []string
	lastSeq int64
}

type Engine struct {
	db        *sql.DB
	repos     repomanager.RepositoryManager
	transport transport.Transport
	opts      Options
	logger    logging.Logger

	state  atomic.Int32
	online atomic.Bool

	focusCh  chan struct{}
	notifyCh chan struct{}
	remoteCh chan struct{}
	onlineCh chan bool

	mu          sync.Mutex
	lastErr     error
	lastRoundAt time.Time
	lastResult  Result
	failures    int
	nextRetryAt time.Time
}

func NewEngine(db *sql.DB, repos repomanager.RepositoryManager, t transport.Transport, o Options) *Engine {
	o.setDefaults()
	return &Engine{
		db:        db,
		repos:     repos,
		transport: t,
		opts:      o,
		logger:    o.Logger.With("module", "syncer"),
		focusCh:   make(chan struct{}, 1),
		notifyCh:  make(chan struct{}, 1),
		remoteCh:  make(chan struct{}, 1),
		onlineCh:  make(chan bool, 1),
	}
}

func (e *Engine) State() State { return State(e.state.Load()) }

func (e *Engine) Online() bool { return e.online.Load() }

// Round runs one push/pull round. force widens the retry bound so entries
// excluded from scheduled rounds are attempted again.
func (e *Engine) Round(ctx context.Context, force bool) (Result, error) {
	if !e.state.CompareAndSwap(int32(StateIdle), int32(StateSyncing)) {
		return Result{}, common.ErrSyncInProgress
	}
	defer e.state.Store(int32(StateIdle))

	res, err := e.round(ctx, force)
	e.record(res, err)
	return res, err
}

// ForceSync is Round with force set.
func (e *Engine) ForceSync(ctx context.Context) (Result, error) {
	return e.Round(ctx, true)
}

func (e *Engine) record(res Result, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.lastRoundAt = e.opts.Now()
	e.lastErr = err
	if err != nil {
		if !errors.Is(err, common.ErrStoreUnavailable) {
			e.failures++
		}
		return
	}
	e.failures = 0
	e.nextRetryAt = time.Time{}
	e.lastResult = res
}

func (e *Engine) round(ctx context.Context, force bool) (Result, error) {
	st, err := e.repos.SyncState(e.db).Init(ctx)
	if err != nil {
		return Result{}, store.Unavailable(err)
	}

	maxRetries := e.opts.MaxRetries
	if force {
		maxRetries = e.opts.ForceMaxRetries
	}

	q := e.repos.Outbox(e.db)
	entries, err := q.ListUnsynced(ctx, maxRetries)
	if err != nil {
		return Result{}, store.Unavailable(err)
	}

	changes, err := e.coalesce(ctx, q, entries)
	if err != nil {
		return Result{}, err
	}

	e.logger.Debug(ctx, "sync round started", "since", st.LastSync, "push", len(changes), "force", force)

	res := Result{Conflicts: []syncapi.Conflict{}, ServerTime: st.LastSync}
	since, full := st.LastSync, st.LastSync == 0
	for {
		n := min(len(changes), e.opts.MaxPushBatch)
		chunk := changes[:n]
		changes = changes[n:]

		resp, err := e.exchange(ctx, st.ClientID, since, full, chunk)
		if err != nil {
			return Result{}, err
		}

		res.Exchanges++
		res.Pushed += len(chunk)
		res.Pulled += resp.pulled
		res.Skipped += resp.skipped
		res.Conflicts = append(res.Conflicts, resp.Conflicts...)
		res.ServerTime = resp.ServerTime

		if len(changes) > 0 {
			since = max(since, resp.ServerTime)
			continue
		}
		// a page that does not move the cursor cannot be followed
		if !resp.HasMore || resp.ServerTime <= since {
			break
		}
		since = resp.ServerTime
	}

	for _, c := range res.Conflicts {
		e.logger.Info(ctx, "push rejected", "type", c.Type, "id", c.ID, "reason", c.Reason,
			"client_time", c.ClientTime, "server_time", c.ServerTime)
	}
	if res.Pulled > 0 {
		if err := notify.Touch(e.opts.NotifyPath); err != nil {
			e.logger.Warn(ctx, "failed to notify peers", "error", err)
		}
	}

	e.logger.Info(ctx, "sync round finished", "pushed", res.Pushed, "pulled", res.Pulled,
		"skipped", res.Skipped, "conflicts", len(res.Conflicts), "server_time", res.ServerTime,
		"exchanges", res.Exchanges)
	return res, nil
}

type exchangeResult struct {
	*syncapi.SyncResponse
	pulled, skipped int
}

// exchange pushes one chunk and commits its pull. The acknowledgement, the
// pulled records and the cursor land in one transaction.
func (e *Engine) exchange(ctx context.Context, clientID string, since int64, full bool, chunk []pendingChange) (*exchangeResult, error) {
	push := models.Batch{}
	var attempted []string
	for _, c := range chunk {
		push.Add(c.rec)
		attempted = append(attempted, c.ids...)
	}

	resp, err := e.transport.Sync(ctx, &syncapi.SyncRequest{ClientID: clientID, Since: since, Push: push})
	if err != nil {
		return nil, e.fail(ctx, attempted, err)
	}

	// pushed records the server took, with the newest queue seq behind each
	accepted := make(map[entityKey]int64, len(chunk))
	for _, c := range chunk {
		accepted[entityKey{c.rec.Kind, c.rec.ID}] = c.lastSeq
	}
	for _, c := range resp.Conflicts {
		delete(accepted, entityKey{c.Type, c.ID})
	}

	out := &exchangeResult{SyncResponse: resp}
	err = dbx.WithTx(ctx, e.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		if err := e.repos.Outbox(tx).MarkSynced(ctx, attempted, e.opts.Now().UnixMilli()); err != nil {
			return err
		}
		applied, skipped, err := e.applyPull(ctx, tx, resp.Pull, accepted)
		if err != nil {
			return err
		}
		out.pulled, out.skipped = applied, skipped
		return e.repos.SyncState(tx).Advance(ctx, resp.ServerTime, full)
	})
	if err != nil {
		return nil, store.Unavailable(err)
	}
	return out, nil
}

// coalesce keeps the latest payload per (kind, id). Every listed entry is
// attempted, including superseded ones, so all of them are acknowledged
// together. Entries whose payload cannot be decoded are charged a retry and
// left out.
func (e *Engine) coalesce(ctx context.Context, q outbox.Repository, entries []outbox.Entry) ([]pendingChange, error) {
	index := make(map[entityKey]int, len(entries))
	var changes []pendingChange
	for _, en := range entries {
		rec, err := en.Record()
		if err != nil {
			e.logger.Warn(ctx, "undecodable queue entry", "entry", en.ID, "error", err)
			if err := q.IncrementRetry(ctx, en.ID, err.Error()); err != nil {
				return nil, store.Unavailable(err)
			}
			continue
		}

		k := entityKey{en.Kind, en.EntityID}
		i, ok := index[k]
		if !ok {
			i = len(changes)
			index[k] = i
			changes = append(changes, pendingChange{})
		}
		c := &changes[i]
		c.rec = rec
		c.ids = append(c.ids, en.ID)
		c.lastSeq = en.Seq
	}
	return changes, nil
}

func (e *Engine) fail(ctx context.Context, attempted []string, cause error) error {
	if ctx.Err() != nil {
		return cause
	}

	q := e.repos.Outbox(e.db)
	for _, id := range attempted {
		if err := q.IncrementRetry(ctx, id, cause.Error()); err != nil {
			return errors.Join(fmt.Errorf("sync failed: %w", cause), store.Unavailable(err))
		}
	}

	e.logger.Warn(ctx, "sync round failed", "error", cause, "attempted", len(attempted))
	return fmt.Errorf("sync failed: %w", cause)
}

// applyPull writes pulled records that are newer than the local copy. The
// server copy of a record accepted in this exchange replaces the local one
// unconditionally, so a client whose clock runs ahead adopts the server
// stamp. A record edited again after the push keeps its local copy.
func (e *Engine) applyPull(ctx context.Context, tx dbx.DBTX, pull models.Batch, accepted map[entityKey]int64) (applied, skipped int, err error) {
	repo := e.repos.Records(tx)
	q := e.repos.Outbox(tx)

	for _, rec := range pull.Records() {
		if !rec.Kind.Valid() {
			e.logger.Warn(ctx, "skipping pulled record of unknown kind", "type", rec.Kind, "id", rec.ID)
			skipped++
			continue
		}

		local, err := repo.Get(ctx, rec.Kind, rec.ID)
		if err != nil && !errors.Is(err, common.ErrNotFound) {
			return 0, 0, err
		}
		if err != nil {
			local = nil
		}

		apply := reconcile.ShouldApply(local, rec)
		if seq, ok := accepted[entityKey{rec.Kind, rec.ID}]; ok && !apply && local != nil && local.UpdatedAt != rec.UpdatedAt {
			newer, err := q.HasNewer(ctx, rec.Kind, rec.ID, seq)
			if err != nil {
				return 0, 0, err
			}
			apply = !newer
		}

		if !apply {
			skipped++
			continue
		}
		if err := repo.Upsert(ctx, rec); err != nil {
			return 0, 0, err
		}
		applied++
	}
	return applied, skipped, nil
}
