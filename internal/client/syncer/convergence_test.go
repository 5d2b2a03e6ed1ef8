package syncer_test

import (
	"context"
	"fmt"
	"math/rand/v2"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dmitrijs2005/finkeeper/internal/client/repositories/records"
	"github.com/dmitrijs2005/finkeeper/internal/client/repositories/repomanager"
	"github.com/dmitrijs2005/finkeeper/internal/client/services"
	"github.com/dmitrijs2005/finkeeper/internal/client/store"
	"github.com/dmitrijs2005/finkeeper/internal/client/syncer"
	"github.com/dmitrijs2005/finkeeper/internal/models"
	"github.com/dmitrijs2005/finkeeper/internal/server/metrics"
	srv "github.com/dmitrijs2005/finkeeper/internal/server/services"
	"github.com/dmitrijs2005/finkeeper/internal/server/storage"
	"github.com/dmitrijs2005/finkeeper/internal/syncapi"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// directTransport hands requests straight to a SyncService.
type directTransport struct {
	svc    *srv.SyncService
	userID string
}

func (d directTransport) Sync(ctx context.Context, req *syncapi.SyncRequest) (*syncapi.SyncResponse, error) {
	return d.svc.Sync(ctx, d.userID, req)
}

func (d directTransport) Ping(context.Context) error { return nil }

func (d directTransport) Status(ctx context.Context) (*syncapi.StatusResponse, error) {
	return d.svc.Status(ctx, d.userID)
}

func (d directTransport) Close() error { return nil }

type replica struct {
	name   string
	repos  repomanager.RepositoryManager
	store  *store.Store
	ledger *services.Ledger
	engine *syncer.Engine
}

func newReplica(t *testing.T, name string, tr directTransport, now func() time.Time) *replica {
	t.Helper()
	ctx := context.Background()

	s, err := store.Open(ctx, filepath.Join(t.TempDir(), name+".db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	repos := repomanager.NewSQLiteRepositoryManager()
	st, err := repos.SyncState(s.DB()).Init(ctx)
	require.NoError(t, err)

	return &replica{
		name:   name,
		repos:  repos,
		store:  s,
		ledger: services.NewLedger(s.DB(), repos, services.LedgerOptions{ClientID: st.ClientID, Now: now}),
		engine: syncer.NewEngine(s.DB(), repos, tr, syncer.Options{Now: now, MaxPushBatch: 3}),
	}
}

// contents returns every row of the replica, tombstones included.
func (r *replica) contents(t *testing.T, kinds ...models.Kind) map[string]models.Entity {
	t.Helper()
	out := map[string]models.Entity{}
	for _, k := range kinds {
		recs, err := r.repos.Records(r.store.DB()).List(context.Background(), k, records.Filter{IncludeDeleted: true})
		require.NoError(t, err)
		for _, rec := range recs {
			e, err := rec.Entity()
			require.NoError(t, err)
			out[string(k)+"/"+rec.ID] = e
		}
	}
	return out
}

func serverContents(t *testing.T, svc *srv.SyncService, userID string) map[string]models.Entity {
	t.Helper()
	b, _, err := svc.Snapshot(context.Background(), userID)
	require.NoError(t, err)
	out := map[string]models.Entity{}
	for _, rec := range b.Records() {
		e, err := rec.Entity()
		require.NoError(t, err)
		out[string(rec.Kind)+"/"+rec.ID] = e
	}
	return out
}

func TestReplicasConvergeWithSkewedClocks(t *testing.T) {
	ctx := context.Background()

	var wall atomic.Int64
	wall.Store(1_700_000_000_000)
	clockAt := func(skew time.Duration) func() time.Time {
		return func() time.Time { return time.UnixMilli(wall.Load()).Add(skew) }
	}

	svc := srv.NewSyncService(storage.NewMemory(), srv.NewClock(clockAt(0)), metrics.New(), nil)
	svc.SetPageSize(4)
	tr := directTransport{svc: svc, userID: "u1"}

	skews := []time.Duration{0, 10 * time.Second, -5 * time.Second}
	var reps []*replica
	for i, skew := range skews {
		reps = append(reps, newReplica(t, fmt.Sprintf("device-%d", i), tr, clockAt(skew)))
	}

	rnd := rand.New(rand.NewPCG(7, 11))
	created := 0
	for step := 0; step < 300; step++ {
		wall.Add(int64(1 + rnd.IntN(40)))
		r := reps[rnd.IntN(len(reps))]

		live, err := r.ledger.ListTransactions(ctx, records.Filter{})
		require.NoError(t, err)

		switch op := rnd.IntN(10); {
		case op < 3 || len(live) == 0:
			created++
			_, err := r.ledger.Create(ctx, &models.Transaction{
				Base:        models.Base{ID: fmt.Sprintf("t%d", created)},
				AmountCents: int64(1 + rnd.IntN(10_000)),
				Type:        models.TxExpense,
				OccurredAt:  wall.Load(),
			})
			require.NoError(t, err)
		case op < 6:
			tx := live[rnd.IntN(len(live))]
			tx.AmountCents = int64(1 + rnd.IntN(10_000))
			_, err := r.ledger.Update(ctx, tx)
			require.NoError(t, err)
		case op < 7:
			require.NoError(t, r.ledger.Delete(ctx, models.KindTransactions, live[rnd.IntN(len(live))].ID))
		default:
			_, err := r.engine.Round(ctx, false)
			require.NoError(t, err, r.name)
		}
	}

	// one pass drains every queue, the second pulls what the others pushed
	for pass := 0; pass < 2; pass++ {
		for _, r := range reps {
			wall.Add(10)
			_, err := r.engine.Round(ctx, false)
			require.NoError(t, err, r.name)
		}
	}

	want := serverContents(t, svc, "u1")
	require.NotEmpty(t, want)
	for _, r := range reps {
		assert.Equal(t, want, r.contents(t, models.KindTransactions), r.name)

		n, err := r.repos.Outbox(r.store.DB()).CountPending(ctx, 100)
		require.NoError(t, err)
		assert.Zero(t, n, r.name)
	}
}

func TestRemoteEditAfterOwnSkewedEditIsApplied(t *testing.T) {
	ctx := context.Background()

	var wall atomic.Int64
	wall.Store(1_000_000)
	clockAt := func(skew time.Duration) func() time.Time {
		return func() time.Time { return time.UnixMilli(wall.Load()).Add(skew) }
	}

	svc := srv.NewSyncService(storage.NewMemory(), srv.NewClock(clockAt(0)), metrics.New(), nil)
	tr := directTransport{svc: svc, userID: "u1"}
	ahead := newReplica(t, "ahead", tr, clockAt(time.Minute))
	other := newReplica(t, "other", tr, clockAt(0))

	_, err := ahead.ledger.Create(ctx, &models.Transaction{Base: models.Base{ID: "t1"}, AmountCents: 100, Type: models.TxExpense, OccurredAt: 1})
	require.NoError(t, err)
	_, err = ahead.engine.Round(ctx, false)
	require.NoError(t, err)

	wall.Add(1_000)
	_, err = other.engine.Round(ctx, false)
	require.NoError(t, err)
	got, err := other.ledger.Get(ctx, models.KindTransactions, "t1")
	require.NoError(t, err)
	tx := got.(*models.Transaction)
	tx.AmountCents = 555
	_, err = other.ledger.Update(ctx, tx)
	require.NoError(t, err)
	_, err = other.engine.Round(ctx, false)
	require.NoError(t, err)

	wall.Add(1_000)
	_, err = ahead.engine.Round(ctx, false)
	require.NoError(t, err)

	got, err = ahead.ledger.Get(ctx, models.KindTransactions, "t1")
	require.NoError(t, err)
	assert.Equal(t, int64(555), got.(*models.Transaction).AmountCents)
	assert.Equal(t, serverContents(t, svc, "u1"), ahead.contents(t, models.KindTransactions))
}
