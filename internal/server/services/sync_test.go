package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/dmitrijs2005/finkeeper/internal/common"
	"github.com/dmitrijs2005/finkeeper/internal/models"
	"github.com/dmitrijs2005/finkeeper/internal/reconcile"
	"github.com/dmitrijs2005/finkeeper/internal/server/metrics"
	sm "github.com/dmitrijs2005/finkeeper/internal/server/models"
	"github.com/dmitrijs2005/finkeeper/internal/server/storage"
	"github.com/dmitrijs2005/finkeeper/internal/syncapi"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testClock struct{ ms int64 }

func (c *testClock) now() time.Time { return time.UnixMilli(c.ms) }

func newService(t *testing.T, st storage.Storage) (*SyncService, *testClock, *metrics.Metrics) {
	t.Helper()
	tc := &testClock{ms: 100}
	m := metrics.New()
	return NewSyncService(st, NewClock(tc.now), m, nil), tc, m
}

func txRecord(id string, updatedAt, amount int64) models.Record {
	return models.Record{
		Kind: models.KindTransactions,
		Base: models.Base{ID: id, CreatedAt: 1, UpdatedAt: updatedAt},
		Data: json.RawMessage(fmt.Sprintf(`{"amount_cents":%d,"type":"expense","occurred_at":1}`, amount)),
	}
}

func push(recs ...models.Record) models.Batch {
	b := models.Batch{}
	for _, r := range recs {
		b.Add(r)
	}
	return b
}

func amountOf(t *testing.T, r models.Record) int64 {
	t.Helper()
	e, err := r.Entity()
	require.NoError(t, err)
	return e.(*models.Transaction).AmountCents
}

func TestSync_PushStampsServerTimeAndPullsBack(t *testing.T) {
	svc, tc, _ := newService(t, storage.NewMemory())
	ctx := context.Background()
	tc.ms = 500

	resp, err := svc.Sync(ctx, "u1", &syncapi.SyncRequest{ClientID: "a", Push: push(txRecord("t1", 42, 1000))})
	require.NoError(t, err)
	assert.Equal(t, int64(500), resp.ServerTime)
	assert.Empty(t, resp.Conflicts)
	require.Len(t, resp.Pull[models.KindTransactions], 1)

	got := resp.Pull[models.KindTransactions][0]
	assert.Equal(t, int64(500), got.UpdatedAt)
	assert.Equal(t, "a", got.ClientID, "missing client id is taken from the request")
}

func TestSync_ServerNewerProducesConflict(t *testing.T) {
	svc, tc, m := newService(t, storage.NewMemory())
	ctx := context.Background()

	tc.ms = 200
	_, err := svc.Sync(ctx, "u1", &syncapi.SyncRequest{ClientID: "a", Push: push(txRecord("t1", 10, 1000))})
	require.NoError(t, err)

	tc.ms = 300
	resp, err := svc.Sync(ctx, "u1", &syncapi.SyncRequest{
		ClientID: "b",
		Since:    250,
		Push:     push(txRecord("t1", 150, 2000)),
	})
	require.NoError(t, err)

	assert.Equal(t, []syncapi.Conflict{{
		Type:       models.KindTransactions,
		ID:         "t1",
		Reason:     reconcile.ReasonServerNewer,
		ClientTime: 150,
		ServerTime: 200,
	}}, resp.Conflicts)

	// the winning copy comes back even though it is older than the cursor
	require.Len(t, resp.Pull[models.KindTransactions], 1)
	winner := resp.Pull[models.KindTransactions][0]
	assert.Equal(t, int64(200), winner.UpdatedAt)
	assert.Equal(t, int64(1000), amountOf(t, winner))

	n, err := testutil.GatherAndCount(m.Registry(), "finkeeper_conflicts_total")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestSync_TieFavorsIncoming(t *testing.T) {
	svc, tc, _ := newService(t, storage.NewMemory())
	ctx := context.Background()

	tc.ms = 200
	_, err := svc.Sync(ctx, "u1", &syncapi.SyncRequest{ClientID: "a", Push: push(txRecord("t1", 10, 1000))})
	require.NoError(t, err)

	tc.ms = 300
	resp, err := svc.Sync(ctx, "u1", &syncapi.SyncRequest{ClientID: "b", Since: 200, Push: push(txRecord("t1", 200, 3000))})
	require.NoError(t, err)
	assert.Empty(t, resp.Conflicts)
	require.Len(t, resp.Pull[models.KindTransactions], 1)
	assert.Equal(t, int64(300), resp.Pull[models.KindTransactions][0].UpdatedAt)
	assert.Equal(t, int64(3000), amountOf(t, resp.Pull[models.KindTransactions][0]))
}

func TestSync_CursorIsStrictAndIncludesTombstones(t *testing.T) {
	svc, tc, _ := newService(t, storage.NewMemory())
	ctx := context.Background()

	tc.ms = 200
	_, err := svc.Sync(ctx, "u1", &syncapi.SyncRequest{ClientID: "a", Push: push(txRecord("t1", 1, 1000))})
	require.NoError(t, err)

	tc.ms = 300
	tomb := txRecord("t2", 1, 500)
	tomb.Deleted = true
	_, err = svc.Sync(ctx, "u1", &syncapi.SyncRequest{ClientID: "a", Since: 200, Push: push(tomb)})
	require.NoError(t, err)

	resp, err := svc.Sync(ctx, "u1", &syncapi.SyncRequest{ClientID: "b", Since: 200})
	require.NoError(t, err)
	require.Len(t, resp.Pull[models.KindTransactions], 1)
	assert.Equal(t, "t2", resp.Pull[models.KindTransactions][0].ID)
	assert.True(t, resp.Pull[models.KindTransactions][0].Deleted)

	resp, err = svc.Sync(ctx, "u1", &syncapi.SyncRequest{ClientID: "b", Since: resp.ServerTime})
	require.NoError(t, err)
	assert.Equal(t, 0, resp.Pull.Len())
	assert.NotNil(t, resp.Pull)
	assert.NotNil(t, resp.Conflicts)
}

func TestSync_ServerTimeStaysBelowInFlightPush(t *testing.T) {
	st := storage.NewMemory()
	svc, tc, _ := newService(t, st)
	ctx := context.Background()

	tc.ms = 200
	_, err := svc.Sync(ctx, "u1", &syncapi.SyncRequest{ClientID: "a", Push: push(txRecord("t1", 1, 1000))})
	require.NoError(t, err)

	// a slower push holds a stamp it has not committed yet
	tc.ms = 300
	pending := svc.clock.Reserve()

	tc.ms = 400
	resp, err := svc.Sync(ctx, "u1", &syncapi.SyncRequest{ClientID: "b", Push: push(txRecord("t2", 1, 1000))})
	require.NoError(t, err)
	assert.Equal(t, pending-1, resp.ServerTime)
	// t2 is above the cursor but its accepted copy rides along; it comes again with the next pull
	var first []string
	for _, r := range resp.Pull[models.KindTransactions] {
		first = append(first, r.ID)
	}
	assert.ElementsMatch(t, []string{"t1", "t2"}, first)

	_, err = st.Merge(ctx, "u1", []models.Record{txRecord("t3", 1, 1000)}, pending)
	require.NoError(t, err)
	svc.clock.Release(pending)

	resp, err = svc.Sync(ctx, "u1", &syncapi.SyncRequest{ClientID: "b", Since: resp.ServerTime})
	require.NoError(t, err)
	var ids []string
	for _, r := range resp.Pull[models.KindTransactions] {
		ids = append(ids, r.ID)
	}
	assert.ElementsMatch(t, []string{"t2", "t3"}, ids)
}

func TestSync_ValidationRejectsWholeRequest(t *testing.T) {
	st := storage.NewMemory()
	svc, _, _ := newService(t, st)
	ctx := context.Background()

	bad := txRecord("t2", 1, 0)
	_, err := svc.Sync(ctx, "u1", &syncapi.SyncRequest{
		ClientID: "",
		Since:    -1,
		Push:     push(txRecord("t1", 1, 1000), bad),
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, common.ErrValidation)

	var ire *InvalidRequestError
	require.ErrorAs(t, err, &ire)
	assert.Equal(t, []models.FieldError{
		{Field: "client_id", Message: "required"},
		{Field: "since", Message: "must not be negative"},
	}, ire.Fields)
	require.Len(t, ire.Records, 1)
	assert.Equal(t, "t2", ire.Records[0].ID)
	assert.Equal(t, "amount_cents", ire.Records[0].Fields[0].Field)

	users, err := st.Users(ctx)
	require.NoError(t, err)
	assert.Empty(t, users, "nothing is written when any record is invalid")
}

func TestSync_UnknownKindIsValidationError(t *testing.T) {
	svc, _, _ := newService(t, storage.NewMemory())

	_, err := svc.Sync(context.Background(), "u1", &syncapi.SyncRequest{
		ClientID: "a",
		Push:     models.Batch{"wallets": {{Kind: "wallets", Base: models.Base{ID: "w1"}}}},
	})
	var ire *InvalidRequestError
	require.ErrorAs(t, err, &ire)
	require.Len(t, ire.Records, 1)
	assert.Equal(t, "type", ire.Records[0].Fields[0].Field)
}

type failingStorage struct {
	storage.Storage
	mergeErr   error
	changesErr error
	statsErr   error
	touchErr   error
}

func (f *failingStorage) Merge(ctx context.Context, u string, p []models.Record, s int64) (*storage.MergeResult, error) {
	if f.mergeErr != nil {
		return nil, f.mergeErr
	}
	return f.Storage.Merge(ctx, u, p, s)
}

func (f *failingStorage) ChangesSince(ctx context.Context, u string, since, upTo int64) (models.Batch, error) {
	if f.changesErr != nil {
		return nil, f.changesErr
	}
	return f.Storage.ChangesSince(ctx, u, since, upTo)
}

func (f *failingStorage) ChangesPage(ctx context.Context, u string, since, upTo int64, limit int) ([]models.Record, error) {
	if f.changesErr != nil {
		return nil, f.changesErr
	}
	return f.Storage.ChangesPage(ctx, u, since, upTo, limit)
}

func (f *failingStorage) Stats(ctx context.Context, u string) (*sm.Stats, error) {
	if f.statsErr != nil {
		return nil, f.statsErr
	}
	return f.Storage.Stats(ctx, u)
}

func (f *failingStorage) TouchClient(ctx context.Context, c sm.Client) error {
	if f.touchErr != nil {
		return f.touchErr
	}
	return f.Storage.TouchClient(ctx, c)
}

func TestSync_StorageFailures(t *testing.T) {
	boom := errors.New("connection reset")
	tests := []struct {
		name string
		st   *failingStorage
	}{
		{name: "merge", st: &failingStorage{mergeErr: boom}},
		{name: "changes", st: &failingStorage{changesErr: boom}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.st.Storage = storage.NewMemory()
			svc, _, _ := newService(t, tt.st)

			_, err := svc.Sync(context.Background(), "u1", &syncapi.SyncRequest{ClientID: "a", Push: push(txRecord("t1", 1, 10))})
			require.Error(t, err)
			assert.ErrorIs(t, err, common.ErrInternal)
			assert.Contains(t, err.Error(), "connection reset")
		})
	}
}

func TestSync_StorageTimeoutKeepsCause(t *testing.T) {
	svc, _, _ := newService(t, &failingStorage{Storage: storage.NewMemory(), changesErr: context.DeadlineExceeded})

	_, err := svc.Sync(context.Background(), "u1", &syncapi.SyncRequest{ClientID: "a"})
	assert.ErrorIs(t, err, common.ErrInternal)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	svc, _, _ = newService(t, &failingStorage{Storage: storage.NewMemory(), statsErr: context.DeadlineExceeded})
	_, err = svc.Status(context.Background(), "u1")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestSync_TouchFailureDoesNotFailSync(t *testing.T) {
	svc, _, _ := newService(t, &failingStorage{Storage: storage.NewMemory(), touchErr: errors.New("nope")})

	resp, err := svc.Sync(context.Background(), "u1", &syncapi.SyncRequest{ClientID: "a"})
	require.NoError(t, err)
	assert.NotNil(t, resp)
}

func TestStatus_ReportsCountsAndClients(t *testing.T) {
	svc, tc, _ := newService(t, storage.NewMemory())
	ctx := context.Background()

	tc.ms = 200
	tomb := txRecord("t2", 1, 5)
	tomb.Deleted = true
	_, err := svc.Sync(ctx, "u1", &syncapi.SyncRequest{ClientID: "a", Push: push(txRecord("t1", 1, 10), tomb)})
	require.NoError(t, err)

	tc.ms = 1200
	st, err := svc.Status(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, map[models.Kind]int64{models.KindTransactions: 1}, st.Counts)
	assert.Equal(t, int64(1), st.Tombstones)
	assert.Equal(t, int64(200), st.ServerTime)
	assert.Equal(t, []syncapi.ClientStatus{{ClientID: "a", LastSeen: 200, Cursor: 200, CursorAgeMs: 1000}}, st.Clients)
}

func TestStatus_StorageFailure(t *testing.T) {
	svc, _, _ := newService(t, &failingStorage{Storage: storage.NewMemory(), statsErr: errors.New("down")})

	_, err := svc.Status(context.Background(), "u1")
	assert.ErrorIs(t, err, common.ErrInternal)
}

func TestPing(t *testing.T) {
	svc, tc, _ := newService(t, storage.NewMemory())
	tc.ms = 777

	assert.Equal(t, &syncapi.PingResponse{Status: syncapi.StatusOK, ServerTime: 777}, svc.Ping(context.Background()))
}

func TestSnapshot(t *testing.T) {
	svc, tc, _ := newService(t, storage.NewMemory())
	ctx := context.Background()

	tc.ms = 200
	tomb := txRecord("t2", 1, 5)
	tomb.Deleted = true
	_, err := svc.Sync(ctx, "u1", &syncapi.SyncRequest{ClientID: "a", Push: push(txRecord("t1", 1, 10), tomb)})
	require.NoError(t, err)

	b, upTo, err := svc.Snapshot(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(200), upTo)
	assert.Len(t, b[models.KindTransactions], 2)
}

func TestSeedClock(t *testing.T) {
	st := storage.NewMemory()
	_, err := st.Merge(context.Background(), "u1", []models.Record{txRecord("t1", 1, 10)}, 9000)
	require.NoError(t, err)

	c := NewClock(fixedNow(100))
	require.NoError(t, SeedClock(context.Background(), st, c))
	assert.Equal(t, int64(9001), c.Reserve())
}

type recordingPublisher struct {
	calls []string
}

func (p *recordingPublisher) Publish(userID, origin string, serverTime int64) {
	p.calls = append(p.calls, fmt.Sprintf("%s/%s@%d", userID, origin, serverTime))
}

func TestSync_PublishesOnlyAppliedChanges(t *testing.T) {
	svc, tc, _ := newService(t, storage.NewMemory())
	pub := &recordingPublisher{}
	svc.SetPublisher(pub)
	ctx := context.Background()

	tc.ms = 200
	_, err := svc.Sync(ctx, "u1", &syncapi.SyncRequest{ClientID: "a", Push: push(txRecord("t1", 1, 10))})
	require.NoError(t, err)

	// pull only
	_, err = svc.Sync(ctx, "u1", &syncapi.SyncRequest{ClientID: "b"})
	require.NoError(t, err)

	// losing push
	tc.ms = 300
	_, err = svc.Sync(ctx, "u1", &syncapi.SyncRequest{ClientID: "b", Push: push(txRecord("t1", 100, 20))})
	require.NoError(t, err)

	assert.Equal(t, []string{"u1/a@200"}, pub.calls)
}

func pulledIDs(b models.Batch) []string {
	var ids []string
	for _, r := range b.Records() {
		ids = append(ids, r.ID)
	}
	return ids
}

func TestSync_PullIsPagedAtStampBoundaries(t *testing.T) {
	svc, tc, _ := newService(t, storage.NewMemory())
	svc.SetPageSize(3)
	ctx := context.Background()

	// stamps: 200 x2, 300 x2, 400 x1
	tc.ms = 200
	_, err := svc.Sync(ctx, "u1", &syncapi.SyncRequest{ClientID: "a", Push: push(txRecord("t1", 1, 1), txRecord("t2", 1, 1))})
	require.NoError(t, err)
	tc.ms = 300
	_, err = svc.Sync(ctx, "u1", &syncapi.SyncRequest{ClientID: "a", Push: push(txRecord("t3", 1, 1), txRecord("t4", 1, 1))})
	require.NoError(t, err)
	tc.ms = 400
	_, err = svc.Sync(ctx, "u1", &syncapi.SyncRequest{ClientID: "a", Push: push(txRecord("t5", 1, 1))})
	require.NoError(t, err)

	resp, err := svc.Sync(ctx, "u1", &syncapi.SyncRequest{ClientID: "b"})
	require.NoError(t, err)
	assert.True(t, resp.HasMore)
	assert.Equal(t, int64(200), resp.ServerTime, "the 300 group would not fit and is left whole for the next page")
	assert.ElementsMatch(t, []string{"t1", "t2"}, pulledIDs(resp.Pull))

	resp, err = svc.Sync(ctx, "u1", &syncapi.SyncRequest{ClientID: "b", Since: resp.ServerTime})
	require.NoError(t, err)
	assert.False(t, resp.HasMore)
	assert.Equal(t, int64(400), resp.ServerTime)
	assert.ElementsMatch(t, []string{"t3", "t4", "t5"}, pulledIDs(resp.Pull))
}

func TestSync_SingleStampLargerThanPageIsSentWhole(t *testing.T) {
	svc, tc, _ := newService(t, storage.NewMemory())
	svc.SetPageSize(2)
	ctx := context.Background()

	tc.ms = 200
	_, err := svc.Sync(ctx, "u1", &syncapi.SyncRequest{ClientID: "a",
		Push: push(txRecord("t1", 1, 1), txRecord("t2", 1, 1), txRecord("t3", 1, 1), txRecord("t4", 1, 1))})
	require.NoError(t, err)
	tc.ms = 300
	_, err = svc.Sync(ctx, "u1", &syncapi.SyncRequest{ClientID: "a", Push: push(txRecord("t5", 1, 1))})
	require.NoError(t, err)

	resp, err := svc.Sync(ctx, "u1", &syncapi.SyncRequest{ClientID: "b"})
	require.NoError(t, err)
	assert.True(t, resp.HasMore)
	assert.Equal(t, int64(200), resp.ServerTime)
	assert.ElementsMatch(t, []string{"t1", "t2", "t3", "t4"}, pulledIDs(resp.Pull))

	resp, err = svc.Sync(ctx, "u1", &syncapi.SyncRequest{ClientID: "b", Since: resp.ServerTime})
	require.NoError(t, err)
	assert.False(t, resp.HasMore)
	assert.Equal(t, []string{"t5"}, pulledIDs(resp.Pull))
}

func TestSync_AcceptedCopyRidesInPagedPull(t *testing.T) {
	svc, tc, _ := newService(t, storage.NewMemory())
	svc.SetPageSize(1)
	ctx := context.Background()

	tc.ms = 200
	_, err := svc.Sync(ctx, "u1", &syncapi.SyncRequest{ClientID: "a", Push: push(txRecord("t1", 1, 1))})
	require.NoError(t, err)

	// the client clock runs ahead of the server
	tc.ms = 300
	resp, err := svc.Sync(ctx, "u1", &syncapi.SyncRequest{ClientID: "b", Push: push(txRecord("t2", 90_000, 7))})
	require.NoError(t, err)
	assert.True(t, resp.HasMore)
	assert.Equal(t, int64(200), resp.ServerTime)

	var t2 *models.Record
	for _, r := range resp.Pull.Records() {
		if r.ID == "t2" {
			t2 = &r
		}
	}
	require.NotNil(t, t2, "the accepted copy is returned even when the page stops short of it")
	assert.Equal(t, int64(300), t2.UpdatedAt)
}
