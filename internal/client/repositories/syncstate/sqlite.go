package syncstate

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/finkeeper/internal/common"
	"github.com/dmitrijs2005/finkeeper/internal/dbx"
	"github.com/google/uuid"
)

type SQLiteRepository struct {
	db dbx.DBTX
}

func NewSQLiteRepository(db dbx.DBTX) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

func (r *SQLiteRepository) Init(ctx context.Context) (State, error) {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO sync_state (id, client_id) VALUES (1, ?) ON CONFLICT(id) DO NOTHING`, uuid.NewString())
	if err != nil {
		return State{}, fmt.Errorf("failed to init sync state: %w", err)
	}
	return r.Get(ctx)
}

func (r *SQLiteRepository) Get(ctx context.Context) (State, error) {
	var s State
	err := r.db.QueryRowContext(ctx,
		`SELECT client_id, last_sync, last_full_sync FROM sync_state WHERE id = 1`).
		Scan(&s.ClientID, &s.LastSync, &s.LastFullSync)
	if errors.Is(err, sql.ErrNoRows) {
		return State{}, common.ErrNotFound
	}
	if err != nil {
		return State{}, fmt.Errorf("failed to get sync state: %w", err)
	}
	return s, nil
}

func (r *SQLiteRepository) Advance(ctx context.Context, serverTime int64, full bool) error {
	query := `UPDATE sync_state SET last_sync = MAX(last_sync, ?) WHERE id = 1`
	if full {
		query = `UPDATE sync_state SET last_sync = MAX(last_sync, ?1), last_full_sync = MAX(last_full_sync, ?1) WHERE id = 1`
	}
	res, err := r.db.ExecContext(ctx, query, serverTime)
	if err != nil {
		return fmt.Errorf("failed to advance sync cursor: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n != 1 {
		return common.ErrNotFound
	}
	return nil
}
