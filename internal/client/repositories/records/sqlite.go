package records

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/dmitrijs2005/finkeeper/internal/common"
	"github.com/dmitrijs2005/finkeeper/internal/dbx"
	"github.com/dmitrijs2005/finkeeper/internal/models"
)

// SQLiteRepository implements Repository using a DBTX (either *sql.DB or *sql.Tx).
type SQLiteRepository struct {
	db dbx.DBTX
}

func NewSQLiteRepository(db dbx.DBTX) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// table guards the only place where a kind becomes part of SQL text.
func table(kind models.Kind) (string, error) {
	if !kind.Valid() {
		return "", fmt.Errorf("unknown entity kind %q", string(kind))
	}
	return string(kind), nil
}

type filterColumns struct {
	CategoryID string `json:"category_id"`
	GoalID     string `json:"goal_id"`
	OccurredAt int64  `json:"occurred_at"`
}

const selectColumns = `id, created_at, updated_at, deleted, client_id, payload`

func scanRecord(kind models.Kind, row interface{ Scan(...any) error }) (*models.Record, error) {
	rec := &models.Record{Kind: kind}
	var payload string
	if err := row.Scan(&rec.ID, &rec.CreatedAt, &rec.UpdatedAt, &rec.Deleted, &rec.ClientID, &payload); err != nil {
		return nil, err
	}
	rec.Data = json.RawMessage(payload)
	return rec, nil
}

func (r *SQLiteRepository) Get(ctx context.Context, kind models.Kind, id string) (*models.Record, error) {
	t, err := table(kind)
	if err != nil {
		return nil, err
	}

	row := r.db.QueryRowContext(ctx, `SELECT `+selectColumns+` FROM `+t+` WHERE id = ?`, id)
	rec, err := scanRecord(kind, row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get %s[%s]: %w", t, id, err)
	}
	return rec, nil
}

func (r *SQLiteRepository) Upsert(ctx context.Context, rec models.Record) error {
	t, err := table(rec.Kind)
	if err != nil {
		return err
	}

	payload, err := rec.Payload()
	if err != nil {
		return err
	}
	var fc filterColumns
	if err := json.Unmarshal(payload, &fc); err != nil {
		return fmt.Errorf("failed to read filter columns of %s[%s]: %w", t, rec.ID, err)
	}

	query := `INSERT INTO ` + t + ` (id, created_at, updated_at, deleted, client_id, category_id, goal_id, occurred_at, payload)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			created_at = excluded.created_at,
			updated_at = excluded.updated_at,
			deleted = excluded.deleted,
			client_id = excluded.client_id,
			category_id = excluded.category_id,
			goal_id = excluded.goal_id,
			occurred_at = excluded.occurred_at,
			payload = excluded.payload`

	_, err = r.db.ExecContext(ctx, query,
		rec.ID, rec.CreatedAt, rec.UpdatedAt, rec.Deleted, rec.ClientID,
		fc.CategoryID, fc.GoalID, fc.OccurredAt, string(payload))
	if err != nil {
		return fmt.Errorf("failed to upsert %s[%s]: %w", t, rec.ID, err)
	}
	return nil
}

func (r *SQLiteRepository) List(ctx context.Context, kind models.Kind, f Filter) ([]models.Record, error) {
	t, err := table(kind)
	if err != nil {
		return nil, err
	}

	var (
		where []string
		args  []any
	)
	if !f.IncludeDeleted {
		where = append(where, "deleted = 0")
	}
	if f.From > 0 {
		where = append(where, "occurred_at >= ?")
		args = append(args, f.From)
	}
	if f.To > 0 {
		where = append(where, "occurred_at <= ?")
		args = append(args, f.To)
	}
	if f.CategoryID != "" {
		where = append(where, "category_id = ?")
		args = append(args, f.CategoryID)
	}
	if f.GoalID != "" {
		where = append(where, "goal_id = ?")
		args = append(args, f.GoalID)
	}

	query := `SELECT ` + selectColumns + ` FROM ` + t
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	if kind == models.KindTransactions {
		query += ` ORDER BY occurred_at DESC, id`
	} else {
		query += ` ORDER BY created_at, id`
	}
	if f.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, f.Limit)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", t, err)
	}
	defer rows.Close()

	var result []models.Record
	for rows.Next() {
		rec, err := scanRecord(kind, rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan %s row: %w", t, err)
		}
		result = append(result, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate %s rows: %w", t, err)
	}
	return result, nil
}

func (r *SQLiteRepository) Count(ctx context.Context, kind models.Kind) (Counts, error) {
	t, err := table(kind)
	if err != nil {
		return Counts{}, err
	}

	var c Counts
	err = r.db.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(CASE WHEN deleted = 0 THEN 1 ELSE 0 END), 0),
		        COALESCE(SUM(CASE WHEN deleted = 1 THEN 1 ELSE 0 END), 0)
		   FROM `+t).Scan(&c.Live, &c.Deleted)
	if err != nil {
		return Counts{}, fmt.Errorf("failed to count %s: %w", t, err)
	}
	return c, nil
}
