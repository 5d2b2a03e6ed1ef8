package records

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/finkeeper/internal/common"
	"github.com/dmitrijs2005/finkeeper/internal/dbx"
	"github.com/dmitrijs2005/finkeeper/internal/models"
)

// PostgresRepository implements Repository over a dbx.DBTX (*sql.DB or *sql.Tx).
type PostgresRepository struct {
	db dbx.DBTX
}

// NewPostgresRepository constructs a repository bound to the given DBTX.
func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

type scanner interface{ Scan(...any) error }

func scanRecord(row scanner) (*models.Record, error) {
	var (
		rec     models.Record
		kind    string
		payload string
	)
	if err := row.Scan(&kind, &rec.ID, &rec.CreatedAt, &rec.UpdatedAt, &rec.Deleted, &rec.ClientID, &payload); err != nil {
		return nil, err
	}
	rec.Kind = models.Kind(kind)
	rec.Data = []byte(payload)
	return &rec, nil
}

// GetForUpdate reads one record with a row lock.
func (r *PostgresRepository) GetForUpdate(ctx context.Context, userID string, kind models.Kind, id string) (*models.Record, error) {
	query := `SELECT kind, id, created_at, updated_at, deleted, client_id, payload::text FROM records
		WHERE user_id = $1 AND kind = $2 AND id = $3
		FOR UPDATE`

	rec, err := scanRecord(r.db.QueryRowContext(ctx, query, userID, string(kind), id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return rec, nil
}

// Insert adds the record. A concurrent insert of the same key that
// committed first makes it a no-op and false is returned.
func (r *PostgresRepository) Insert(ctx context.Context, userID string, rec models.Record) (bool, error) {
	payload, err := rec.Payload()
	if err != nil {
		return false, err
	}

	query := `
		INSERT INTO records (user_id, kind, id, created_at, updated_at, deleted, client_id, payload)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8::jsonb)
		ON CONFLICT (user_id, kind, id) DO NOTHING;
	`
	res, err := r.db.ExecContext(ctx, query,
		userID, string(rec.Kind), rec.ID, rec.CreatedAt, rec.UpdatedAt, rec.Deleted, rec.ClientID, string(payload))
	if err != nil {
		return false, fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected error: %w", err)
	}
	return n == 1, nil
}

// Upsert inserts or replaces the record. The payload column holds the flat
// entity object with the Base fields applied.
func (r *PostgresRepository) Upsert(ctx context.Context, userID string, rec models.Record) error {
	payload, err := rec.Payload()
	if err != nil {
		return err
	}

	query := `
		INSERT INTO records (user_id, kind, id, created_at, updated_at, deleted, client_id, payload)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8::jsonb)
		ON CONFLICT (user_id, kind, id)
		DO UPDATE SET
			created_at = EXCLUDED.created_at,
			updated_at = EXCLUDED.updated_at,
			deleted = EXCLUDED.deleted,
			client_id = EXCLUDED.client_id,
			payload = EXCLUDED.payload;
	`
	res, err := r.db.ExecContext(ctx, query,
		userID, string(rec.Kind), rec.ID, rec.CreatedAt, rec.UpdatedAt, rec.Deleted, rec.ClientID, string(payload))
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected error: %w", err)
	}
	if n != 1 {
		return fmt.Errorf("unexpected rows affected: %d", n)
	}
	return nil
}

const changedColumns = `SELECT kind, id, created_at, updated_at, deleted, client_id, payload::text FROM records
		WHERE user_id = $1 AND updated_at > $2 AND updated_at <= $3
		ORDER BY updated_at, kind, id`

// SelectChanged returns all records of userID with since < updated_at <= upTo.
func (r *PostgresRepository) SelectChanged(ctx context.Context, userID string, since, upTo int64) ([]models.Record, error) {
	return r.selectRecords(ctx, changedColumns, userID, since, upTo)
}

// SelectChangedPage is SelectChanged capped at limit rows.
func (r *PostgresRepository) SelectChangedPage(ctx context.Context, userID string, since, upTo int64, limit int) ([]models.Record, error) {
	return r.selectRecords(ctx, changedColumns+` LIMIT $4`, userID, since, upTo, limit)
}

func (r *PostgresRepository) selectRecords(ctx context.Context, query string, args ...any) ([]models.Record, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to select records: %w", err)
	}
	defer rows.Close()

	var result []models.Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (r *PostgresRepository) Count(ctx context.Context, userID string) (KindCounts, error) {
	query := `SELECT kind, deleted, COUNT(*) FROM records WHERE user_id = $1 GROUP BY kind, deleted`

	out := KindCounts{Live: map[models.Kind]int64{}}
	rows, err := r.db.QueryContext(ctx, query, userID)
	if err != nil {
		return out, fmt.Errorf("failed to count records: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			kind    string
			deleted bool
			n       int64
		)
		if err := rows.Scan(&kind, &deleted, &n); err != nil {
			return out, err
		}
		if deleted {
			out.Tombstones += n
		} else {
			out.Live[models.Kind(kind)] += n
		}
	}
	return out, rows.Err()
}

func (r *PostgresRepository) MaxUpdatedAt(ctx context.Context) (int64, error) {
	var stamp int64
	if err := r.db.QueryRowContext(ctx, `SELECT COALESCE(MAX(updated_at), 0) FROM records`).Scan(&stamp); err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	return stamp, nil
}

func (r *PostgresRepository) Users(ctx context.Context) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT DISTINCT user_id FROM records ORDER BY user_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	defer rows.Close()

	var users []string
	for rows.Next() {
		var u string
		if err := rows.Scan(&u); err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}
