package outbox

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/dmitrijs2005/finkeeper/internal/models"
)

type Operation string

const (
	OpCreate Operation = "create"
	OpUpdate Operation = "update"
	OpDelete Operation = "delete"
)

// Entry is one queued mutation.
type Entry struct {
	Seq        int64
	ID         string
	Kind       models.Kind
	EntityID   string
	Operation  Operation
	Payload    json.RawMessage
	CreatedAt  int64
	Synced     bool
	SyncedAt   int64
	RetryCount int
	LastError  string
}

// Record decodes the queued payload.
func (e Entry) Record() (models.Record, error) {
	var rec models.Record
	if err := json.Unmarshal(e.Payload, &rec); err != nil {
		return models.Record{}, fmt.Errorf("failed to decode queue entry %s: %w", e.ID, err)
	}
	rec.Kind = e.Kind
	return rec, nil
}

type Repository interface {
	// Enqueue appends an entry for rec. Run it on the same DBTX as the entity write.
	Enqueue(ctx context.Context, op Operation, rec models.Record, now int64) (Entry, error)
	// ListUnsynced returns synced=0 entries with retry_count < maxRetries in creation order.
	ListUnsynced(ctx context.Context, maxRetries int) ([]Entry, error)
	// MarkSynced flags entries as synced. Already synced or unknown ids are ignored.
	MarkSynced(ctx context.Context, ids []string, at int64) error
	// IncrementRetry bumps retry_count and remembers the failure reason.
	IncrementRetry(ctx context.Context, id string, reason string) error
	CountPending(ctx context.Context, maxRetries int) (int64, error)
	// HasNewer reports whether an unsynced entry for the entity was queued after seq.
	HasNewer(ctx context.Context, kind models.Kind, entityID string, seq int64) (bool, error)
	ListPoisoned(ctx context.Context, maxRetries int) ([]Entry, error)
	// PurgeSynced deletes synced entries acknowledged before olderThan.
	PurgeSynced(ctx context.Context, olderThan int64) (int64, error)
	// PurgePoisoned deletes poisoned entries created before olderThan.
	PurgePoisoned(ctx context.Context, maxRetries int, olderThan int64) (int64, error)
}
