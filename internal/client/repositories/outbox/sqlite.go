package outbox

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/dmitrijs2005/finkeeper/internal/dbx"
	"github.com/dmitrijs2005/finkeeper/internal/models"
	"github.com/google/uuid"
)

// SQLiteRepository implements Repository using a DBTX (either *sql.DB or *sql.Tx).
type SQLiteRepository struct {
	db dbx.DBTX
}

func NewSQLiteRepository(db dbx.DBTX) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

const entryColumns = `seq, id, entity_kind, entity_id, operation, payload, created_at, synced, synced_at, retry_count, last_error`

func (r *SQLiteRepository) Enqueue(ctx context.Context, op Operation, rec models.Record, now int64) (Entry, error) {
	switch op {
	case OpCreate, OpUpdate, OpDelete:
	default:
		return Entry{}, fmt.Errorf("unknown queue operation %q", op)
	}

	payload, err := rec.Payload()
	if err != nil {
		return Entry{}, err
	}

	e := Entry{
		ID:        uuid.NewString(),
		Kind:      rec.Kind,
		EntityID:  rec.ID,
		Operation: op,
		Payload:   payload,
		CreatedAt: now,
	}

	res, err := r.db.ExecContext(ctx, `
		INSERT INTO change_queue (id, entity_kind, entity_id, operation, payload, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		e.ID, string(e.Kind), e.EntityID, string(e.Operation), string(e.Payload), e.CreatedAt)
	if err != nil {
		return Entry{}, fmt.Errorf("failed to enqueue %s[%s]: %w", rec.Kind, rec.ID, err)
	}
	if seq, err := res.LastInsertId(); err == nil {
		e.Seq = seq
	}
	return e, nil
}

func (r *SQLiteRepository) query(ctx context.Context, where string, args ...any) ([]Entry, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+entryColumns+` FROM change_queue WHERE `+where+` ORDER BY seq`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to select queue entries: %w", err)
	}
	defer rows.Close()

	var result []Entry
	for rows.Next() {
		var (
			e               Entry
			kind, op, pload string
		)
		if err := rows.Scan(&e.Seq, &e.ID, &kind, &e.EntityID, &op, &pload, &e.CreatedAt,
			&e.Synced, &e.SyncedAt, &e.RetryCount, &e.LastError); err != nil {
			return nil, fmt.Errorf("failed to scan queue entry: %w", err)
		}
		e.Kind = models.Kind(kind)
		e.Operation = Operation(op)
		e.Payload = json.RawMessage(pload)
		result = append(result, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate queue entries: %w", err)
	}
	return result, nil
}

func (r *SQLiteRepository) ListUnsynced(ctx context.Context, maxRetries int) ([]Entry, error) {
	return r.query(ctx, `synced = 0 AND retry_count < ?`, maxRetries)
}

func (r *SQLiteRepository) ListPoisoned(ctx context.Context, maxRetries int) ([]Entry, error) {
	return r.query(ctx, `synced = 0 AND retry_count >= ?`, maxRetries)
}

func (r *SQLiteRepository) MarkSynced(ctx context.Context, ids []string, at int64) error {
	if len(ids) == 0 {
		return nil
	}

	args := make([]any, 0, len(ids)+1)
	args = append(args, at)
	for _, id := range ids {
		args = append(args, id)
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")

	_, err := r.db.ExecContext(ctx,
		`UPDATE change_queue SET synced = 1, synced_at = ? WHERE synced = 0 AND id IN (`+placeholders+`)`, args...)
	if err != nil {
		return fmt.Errorf("failed to mark queue entries synced: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) IncrementRetry(ctx context.Context, id string, reason string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE change_queue SET retry_count = retry_count + 1, last_error = ? WHERE id = ? AND synced = 0`, reason, id)
	if err != nil {
		return fmt.Errorf("failed to increment retry of %s: %w", id, err)
	}
	return nil
}

func (r *SQLiteRepository) CountPending(ctx context.Context, maxRetries int) (int64, error) {
	var n int64
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM change_queue WHERE synced = 0 AND retry_count < ?`, maxRetries).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count pending queue entries: %w", err)
	}
	return n, nil
}

func (r *SQLiteRepository) HasNewer(ctx context.Context, kind models.Kind, entityID string, seq int64) (bool, error) {
	var found bool
	err := r.db.QueryRowContext(ctx, `
		SELECT EXISTS (SELECT 1 FROM change_queue
		WHERE synced = 0 AND entity_kind = ? AND entity_id = ? AND seq > ?)`,
		string(kind), entityID, seq).Scan(&found)
	if err != nil {
		return false, fmt.Errorf("failed to look up queue entries of %s[%s]: %w", kind, entityID, err)
	}
	return found, nil
}

func (r *SQLiteRepository) PurgeSynced(ctx context.Context, olderThan int64) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM change_queue WHERE synced = 1 AND synced_at < ?`, olderThan)
	if err != nil {
		return 0, fmt.Errorf("failed to purge synced queue entries: %w", err)
	}
	return res.RowsAffected()
}

func (r *SQLiteRepository) PurgePoisoned(ctx context.Context, maxRetries int, olderThan int64) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM change_queue WHERE synced = 0 AND retry_count >= ? AND created_at < ?`, maxRetries, olderThan)
	if err != nil {
		return 0, fmt.Errorf("failed to purge poisoned queue entries: %w", err)
	}
	return res.RowsAffected()
}
