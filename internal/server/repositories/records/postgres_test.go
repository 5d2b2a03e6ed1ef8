package records

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/dmitrijs2005/finkeeper/internal/common"
	"github.com/dmitrijs2005/finkeeper/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRepoWithMock(t *testing.T) (*PostgresRepository, sqlmock.Sqlmock, *sql.DB) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock.New error: %v", err)
	}
	return NewPostgresRepository(db), mock, db
}

var recordColumns = []string{"kind", "id", "created_at", "updated_at", "deleted", "client_id", "payload"}

func sampleRecord() models.Record {
	return models.Record{
		Kind: models.KindCategories,
		Base: models.Base{ID: "c1", CreatedAt: 10, UpdatedAt: 20, ClientID: "dev-1"},
		Data: json.RawMessage(`{"id":"c1","name":"Food","type":"expense"}`),
	}
}

func TestGetForUpdate_Found(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	q := `(?s)SELECT kind, id, created_at, updated_at, deleted, client_id, payload::text FROM records\s+WHERE user_id = \$1 AND kind = \$2 AND id = \$3\s+FOR UPDATE`
	mock.ExpectQuery(q).
		WithArgs("u1", "categories", "c1").
		WillReturnRows(sqlmock.NewRows(recordColumns).
			AddRow("categories", "c1", int64(10), int64(20), false, "dev-1", `{"id":"c1","name":"Food"}`))

	got, err := repo.GetForUpdate(context.Background(), "u1", models.KindCategories, "c1")
	require.NoError(t, err)
	assert.Equal(t, models.KindCategories, got.Kind)
	assert.Equal(t, int64(20), got.UpdatedAt)
	assert.Equal(t, "dev-1", got.ClientID)
	assert.JSONEq(t, `{"id":"c1","name":"Food"}`, string(got.Data))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetForUpdate_NotFound(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectQuery(`SELECT .* FROM records`).WillReturnError(sql.ErrNoRows)

	_, err := repo.GetForUpdate(context.Background(), "u1", models.KindGoals, "g1")
	assert.ErrorIs(t, err, common.ErrNotFound)
}

func TestGetForUpdate_DBError(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectQuery(`SELECT .* FROM records`).WillReturnError(errors.New("db is down"))

	_, err := repo.GetForUpdate(context.Background(), "u1", models.KindGoals, "g1")
	require.Error(t, err)
	assert.Regexp(t, `db error: .*db is down`, err.Error())
}

func TestUpsert_Success(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	rec := sampleRecord()
	payload, err := rec.Payload()
	require.NoError(t, err)

	q := regexp.MustCompile(`(?s)INSERT INTO records .* ON CONFLICT \(user_id, kind, id\)\s+DO UPDATE SET`)
	mock.ExpectExec(q.String()).
		WithArgs("u1", "categories", "c1", int64(10), int64(20), false, "dev-1", string(payload)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.Upsert(context.Background(), "u1", rec))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsert_Errors(t *testing.T) {
	tests := []struct {
		name   string
		result func(*sqlmock.ExpectedExec)
		want   string
	}{
		{
			name:   "exec error",
			result: func(e *sqlmock.ExpectedExec) { e.WillReturnError(errors.New("db is down")) },
			want:   `db error: .*db is down`,
		},
		{
			name:   "rows affected error",
			result: func(e *sqlmock.ExpectedExec) { e.WillReturnResult(sqlmock.NewErrorResult(errors.New("rows-err"))) },
			want:   `rows affected error: .*rows-err`,
		},
		{
			name:   "no rows",
			result: func(e *sqlmock.ExpectedExec) { e.WillReturnResult(sqlmock.NewResult(0, 0)) },
			want:   `unexpected rows affected: 0`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo, mock, db := newRepoWithMock(t)
			defer db.Close()

			tt.result(mock.ExpectExec(`INSERT INTO records`))

			err := repo.Upsert(context.Background(), "u1", sampleRecord())
			require.Error(t, err)
			assert.Regexp(t, tt.want, err.Error())
		})
	}
}

func TestUpsert_BadPayload(t *testing.T) {
	repo, _, db := newRepoWithMock(t)
	defer db.Close()

	rec := sampleRecord()
	rec.Data = json.RawMessage(`[1,2]`)
	assert.Error(t, repo.Upsert(context.Background(), "u1", rec))
}

func TestSelectChanged(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	q := `(?s)FROM records\s+WHERE user_id = \$1 AND updated_at > \$2 AND updated_at <= \$3\s+ORDER BY updated_at, kind, id`
	mock.ExpectQuery(q).
		WithArgs("u1", int64(100), int64(300)).
		WillReturnRows(sqlmock.NewRows(recordColumns).
			AddRow("transactions", "t1", int64(1), int64(150), false, "", `{"id":"t1"}`).
			AddRow("goals", "g1", int64(1), int64(200), true, "dev-2", `{"id":"g1"}`))

	got, err := repo.SelectChanged(context.Background(), "u1", 100, 300)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, models.KindTransactions, got[0].Kind)
	assert.Equal(t, models.KindGoals, got[1].Kind)
	assert.True(t, got[1].Deleted)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSelectChangedPage(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectQuery(`(?s)ORDER BY updated_at, kind, id LIMIT \$4`).
		WithArgs("u1", int64(0), int64(300), 2).
		WillReturnRows(sqlmock.NewRows(recordColumns).
			AddRow("goals", "g1", int64(1), int64(150), false, "", `{"id":"g1"}`).
			AddRow("goals", "g2", int64(1), int64(150), false, "", `{"id":"g2"}`))

	got, err := repo.SelectChangedPage(context.Background(), "u1", 0, 300, 2)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "g2", got[1].ID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSelectChanged_QueryError(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectQuery(`FROM records`).WillReturnError(errors.New("boom"))

	_, err := repo.SelectChanged(context.Background(), "u1", 0, 1)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to select records")
}

func TestSelectChanged_ScanError(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectQuery(`FROM records`).
		WillReturnRows(sqlmock.NewRows(recordColumns).
			AddRow("goals", "g1", "not-a-number", int64(2), false, "", `{}`))

	_, err := repo.SelectChanged(context.Background(), "u1", 0, 10)
	assert.Error(t, err)
}

func TestCount(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectQuery(`SELECT kind, deleted, COUNT\(\*\) FROM records WHERE user_id = \$1 GROUP BY kind, deleted`).
		WithArgs("u1").
		WillReturnRows(sqlmock.NewRows([]string{"kind", "deleted", "count"}).
			AddRow("transactions", false, int64(5)).
			AddRow("transactions", true, int64(2)).
			AddRow("goals", false, int64(1)).
			AddRow("goals", true, int64(1)))

	got, err := repo.Count(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, map[models.Kind]int64{models.KindTransactions: 5, models.KindGoals: 1}, got.Live)
	assert.Equal(t, int64(3), got.Tombstones)
}

func TestMaxUpdatedAt(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectQuery(`SELECT COALESCE\(MAX\(updated_at\), 0\) FROM records`).
		WillReturnRows(sqlmock.NewRows([]string{"max"}).AddRow(int64(1234)))

	got, err := repo.MaxUpdatedAt(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1234), got)
}

func TestUsers(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectQuery(`SELECT DISTINCT user_id FROM records`).
		WillReturnRows(sqlmock.NewRows([]string{"user_id"}).AddRow("a").AddRow("b"))

	got, err := repo.Users(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, got)
}

func TestInsert(t *testing.T) {
	tests := []struct {
		name     string
		affected int64
		want     bool
	}{
		{name: "inserted", affected: 1, want: true},
		{name: "key taken", affected: 0, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo, mock, db := newRepoWithMock(t)
			defer db.Close()

			mock.ExpectExec(`(?s)INSERT INTO records .* ON CONFLICT \(user_id, kind, id\) DO NOTHING`).
				WithArgs("u1", "categories", "c1", int64(10), int64(20), false, "dev-1", sqlmock.AnyArg()).
				WillReturnResult(sqlmock.NewResult(0, tt.affected))

			got, err := repo.Insert(context.Background(), "u1", sampleRecord())
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestInsert_DBError(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectExec(`INSERT INTO records`).WillReturnError(errors.New("db is down"))

	_, err := repo.Insert(context.Background(), "u1", sampleRecord())
	require.Error(t, err)
	assert.Regexp(t, `db error: .*db is down`, err.Error())
}
