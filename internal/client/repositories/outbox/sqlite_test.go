package outbox

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/dmitrijs2005/finkeeper/internal/client/store"
	"github.com/dmitrijs2005/finkeeper/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupDB(t *testing.T) *sql.DB {
	t.Helper()
	s, err := store.Open(context.Background(), filepath.Join(t.TempDir(), "outbox.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s.DB()
}

func goalRecord(t *testing.T, id string, updatedAt int64) models.Record {
	t.Helper()
	rec, err := models.FromEntity(&models.Goal{
		Base:        models.Base{ID: id, CreatedAt: updatedAt, UpdatedAt: updatedAt},
		Name:        "Holiday",
		TargetCents: 1000,
	})
	require.NoError(t, err)
	return rec
}

func ids(entries []Entry) []string {
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.EntityID)
	}
	return out
}

func TestEnqueue_ListUnsyncedInCreationOrder(t *testing.T) {
	r := NewSQLiteRepository(setupDB(t))
	ctx := context.Background()

	e1, err := r.Enqueue(ctx, OpCreate, goalRecord(t, "g1", 10), 10)
	require.NoError(t, err)
	_, err = r.Enqueue(ctx, OpCreate, goalRecord(t, "g2", 11), 11)
	require.NoError(t, err)
	_, err = r.Enqueue(ctx, OpUpdate, goalRecord(t, "g1", 12), 12)
	require.NoError(t, err)

	assert.NotEmpty(t, e1.ID)
	assert.Positive(t, e1.Seq)

	got, err := r.ListUnsynced(ctx, 3)
	require.NoError(t, err)
	assert.Equal(t, []string{"g1", "g2", "g1"}, ids(got))
	assert.Equal(t, OpUpdate, got[2].Operation)
	assert.Equal(t, models.KindGoals, got[2].Kind)

	rec, err := got[2].Record()
	require.NoError(t, err)
	assert.Equal(t, int64(12), rec.UpdatedAt)
	assert.Equal(t, models.KindGoals, rec.Kind)
}

func TestEnqueue_RejectsUnknownOperation(t *testing.T) {
	r := NewSQLiteRepository(setupDB(t))

	_, err := r.Enqueue(context.Background(), "upsert", goalRecord(t, "g1", 1), 1)
	require.Error(t, err)
}

func TestMarkSynced_IsIdempotent(t *testing.T) {
	r := NewSQLiteRepository(setupDB(t))
	ctx := context.Background()

	e1, err := r.Enqueue(ctx, OpCreate, goalRecord(t, "g1", 1), 1)
	require.NoError(t, err)
	_, err = r.Enqueue(ctx, OpCreate, goalRecord(t, "g2", 2), 2)
	require.NoError(t, err)

	require.NoError(t, r.MarkSynced(ctx, []string{e1.ID}, 100))
	require.NoError(t, r.MarkSynced(ctx, []string{e1.ID, "unknown"}, 200))
	require.NoError(t, r.MarkSynced(ctx, nil, 300))

	got, err := r.ListUnsynced(ctx, 3)
	require.NoError(t, err)
	assert.Equal(t, []string{"g2"}, ids(got))

	purged, err := r.PurgeSynced(ctx, 150)
	require.NoError(t, err)
	assert.Equal(t, int64(1), purged, "second MarkSynced must not move synced_at")

	n, err := r.CountPending(ctx, 3)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestIncrementRetry_PoisonsAfterMaxRetries(t *testing.T) {
	r := NewSQLiteRepository(setupDB(t))
	ctx := context.Background()

	e, err := r.Enqueue(ctx, OpCreate, goalRecord(t, "g1", 1), 1)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		require.NoError(t, r.IncrementRetry(ctx, e.ID, "server unavailable"))
	}

	active, err := r.ListUnsynced(ctx, 3)
	require.NoError(t, err)
	assert.Empty(t, active)

	poisoned, err := r.ListPoisoned(ctx, 3)
	require.NoError(t, err)
	require.Len(t, poisoned, 1)
	assert.Equal(t, 3, poisoned[0].RetryCount)
	assert.Equal(t, "server unavailable", poisoned[0].LastError)

	forced, err := r.ListUnsynced(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, forced, 1, "a higher cap reaches poisoned entries")

	purged, err := r.PurgePoisoned(ctx, 3, 0)
	require.NoError(t, err)
	assert.Zero(t, purged, "entries newer than the cutoff are kept")

	purged, err = r.PurgePoisoned(ctx, 3, 100)
	require.NoError(t, err)
	assert.Equal(t, int64(1), purged)
}

func TestHasNewer(t *testing.T) {
	r := NewSQLiteRepository(setupDB(t))
	ctx := context.Background()

	e1, err := r.Enqueue(ctx, OpCreate, goalRecord(t, "g1", 1), 1)
	require.NoError(t, err)
	_, err = r.Enqueue(ctx, OpCreate, goalRecord(t, "g2", 2), 2)
	require.NoError(t, err)

	newer, err := r.HasNewer(ctx, models.KindGoals, "g1", e1.Seq)
	require.NoError(t, err)
	assert.False(t, newer, "entries of other entities do not count")

	e3, err := r.Enqueue(ctx, OpUpdate, goalRecord(t, "g1", 3), 3)
	require.NoError(t, err)
	newer, err = r.HasNewer(ctx, models.KindGoals, "g1", e1.Seq)
	require.NoError(t, err)
	assert.True(t, newer)

	require.NoError(t, r.MarkSynced(ctx, []string{e3.ID}, 4))
	newer, err = r.HasNewer(ctx, models.KindGoals, "g1", e1.Seq)
	require.NoError(t, err)
	assert.False(t, newer, "synced entries do not count")
}
