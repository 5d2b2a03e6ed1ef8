// Package services implements the local CRUD surface of the finance ledger.
// Every mutation writes the entity row and its change-queue entry in one
// SQLite transaction; reads never touch the network.
package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/finkeeper/internal/client/notify"
	"github.com/dmitrijs2005/finkeeper/internal/client/repositories/outbox"
	"github.com/dmitrijs2005/finkeeper/internal/client/repositories/records"
	"github.com/dmitrijs2005/finkeeper/internal/client/repositories/repomanager"
	"github.com/dmitrijs2005/finkeeper/internal/common"
	"github.com/dmitrijs2005/finkeeper/internal/dbx"
	"github.com/dmitrijs2005/finkeeper/internal/logging"
	"github.com/dmitrijs2005/finkeeper/internal/models"
	"github.com/google/uuid"
)

// LedgerOptions configures a Ledger. Zero values select defaults.
type LedgerOptions struct {
	ClientID string
	// NotifyPath is touched after each committed mutation.
	NotifyPath string
	// OnMutation runs after each committed mutation, typically Engine.Notify.
	OnMutation func()
	// MaxRetries separates pending from poisoned queue entries in Health.
	MaxRetries int
	Now        func() time.Time
	Logger     logging.Logger
}

type Ledger struct {
	db         *sql.DB
	repos      repomanager.RepositoryManager
	clientID   string
	notifyPath string
	onMutation func()
	maxRetries int
	now        func() time.Time
	logger     logging.Logger
}

func NewLedger(db *sql.DB, repos repomanager.RepositoryManager, o LedgerOptions) *Ledger {
	l := &Ledger{
		db:         db,
		repos:      repos,
		clientID:   o.ClientID,
		notifyPath: o.NotifyPath,
		onMutation: o.OnMutation,
		maxRetries: o.MaxRetries,
		now:        o.Now,
		logger:     o.Logger,
	}
	if l.maxRetries <= 0 {
		l.maxRetries = 3
	}
	if l.now == nil {
		l.now = time.Now
	}
	if l.logger == nil {
		l.logger = logging.Nop{}
	}
	l.logger = l.logger.With("module", "ledger")
	return l
}

// nextStamp keeps updated_at strictly increasing per id on this replica even
// when the wall clock stalls or moves backwards.
func nextStamp(now int64, existing *models.Record) int64 {
	if existing != nil && existing.UpdatedAt >= now {
		return existing.UpdatedAt + 1
	}
	return now
}

func (l *Ledger) getExisting(ctx context.Context, repo records.Repository, kind models.Kind, id string) (*models.Record, error) {
	rec, err := repo.Get(ctx, kind, id)
	if errors.Is(err, common.ErrNotFound) {
		return nil, nil
	}
	return rec, err
}

// mutate runs the write + enqueue unit. prepare receives the current row
// (nil if absent), fills in the record to store and picks the queue operation.
func (l *Ledger) mutate(ctx context.Context, kind models.Kind, id string,
	prepare func(existing *models.Record, stamp int64) (models.Record, outbox.Operation, error)) (models.Record, error) {

	var saved models.Record

	err := dbx.WithTx(ctx, l.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		recRepo := l.repos.Records(tx)

		existing, err := l.getExisting(ctx, recRepo, kind, id)
		if err != nil {
			return err
		}

		now := l.now().UnixMilli()
		rec, op, err := prepare(existing, nextStamp(now, existing))
		if err != nil {
			return err
		}
		if err := rec.Validate(); err != nil {
			return err
		}

		if err := recRepo.Upsert(ctx, rec); err != nil {
			return err
		}
		if _, err := l.repos.Outbox(tx).Enqueue(ctx, op, rec, now); err != nil {
			return err
		}

		saved = rec
		return nil
	})
	if err != nil {
		return models.Record{}, err
	}

	l.afterMutation(ctx, saved)
	return saved, nil
}

func (l *Ledger) afterMutation(ctx context.Context, rec models.Record) {
	if err := notify.Touch(l.notifyPath); err != nil {
		l.logger.Warn(ctx, "failed to notify peers", "error", err)
	}
	if l.onMutation != nil {
		l.onMutation()
	}
	l.logger.Debug(ctx, "local mutation", "kind", rec.Kind, "id", rec.ID, "updated_at", rec.UpdatedAt, "deleted", rec.Deleted)
}

func decodeAs[T models.Entity](rec models.Record) (T, error) {
	var zero T
	e, err := rec.Entity()
	if err != nil {
		return zero, err
	}
	typed, ok := e.(T)
	if !ok {
		return zero, fmt.Errorf("unexpected entity type %T for %s", e, rec.Kind)
	}
	return typed, nil
}

// Create stores a new entity. An empty id is replaced by a fresh UUID;
// settings always use the fixed singleton id.
func (l *Ledger) Create(ctx context.Context, e models.Entity) (models.Entity, error) {
	meta := e.Meta()
	if e.Kind() == models.KindSettings {
		meta.ID = models.SettingsID
	}
	if meta.ID == "" {
		meta.ID = uuid.NewString()
	}

	rec, err := l.mutate(ctx, e.Kind(), meta.ID, func(existing *models.Record, stamp int64) (models.Record, outbox.Operation, error) {
		if existing != nil && !existing.Deleted {
			return models.Record{}, "", fmt.Errorf("%s %q: %w", e.Kind(), meta.ID, common.ErrAlreadyExists)
		}
		meta.CreatedAt = stamp
		meta.UpdatedAt = stamp
		meta.Deleted = false
		meta.ClientID = l.clientID
		rec, err := models.FromEntity(e)
		return rec, outbox.OpCreate, err
	})
	if err != nil {
		return nil, err
	}
	return rec.Entity()
}

// Update replaces a live entity. created_at is preserved.
func (l *Ledger) Update(ctx context.Context, e models.Entity) (models.Entity, error) {
	meta := e.Meta()
	if e.Kind() == models.KindSettings {
		meta.ID = models.SettingsID
	}

	rec, err := l.mutate(ctx, e.Kind(), meta.ID, func(existing *models.Record, stamp int64) (models.Record, outbox.Operation, error) {
		if existing == nil || existing.Deleted {
			return models.Record{}, "", fmt.Errorf("%s %q: %w", e.Kind(), meta.ID, common.ErrNotFound)
		}
		meta.CreatedAt = existing.CreatedAt
		meta.UpdatedAt = stamp
		meta.Deleted = false
		meta.ClientID = l.clientID
		rec, err := models.FromEntity(e)
		return rec, outbox.OpUpdate, err
	})
	if err != nil {
		return nil, err
	}
	return rec.Entity()
}

// Delete soft-deletes an entity; the tombstone is queued like any mutation.
func (l *Ledger) Delete(ctx context.Context, kind models.Kind, id string) error {
	_, err := l.mutate(ctx, kind, id, func(existing *models.Record, stamp int64) (models.Record, outbox.Operation, error) {
		if existing == nil || existing.Deleted {
			return models.Record{}, "", fmt.Errorf("%s %q: %w", kind, id, common.ErrNotFound)
		}
		rec := *existing
		rec.Deleted = true
		rec.ClientID = l.clientID
		rec.Stamp(stamp)
		return rec, outbox.OpDelete, nil
	})
	return err
}

// Get returns a live entity; tombstones read as common.ErrNotFound.
func (l *Ledger) Get(ctx context.Context, kind models.Kind, id string) (models.Entity, error) {
	rec, err := l.repos.Records(l.db).Get(ctx, kind, id)
	if err != nil {
		return nil, err
	}
	if rec.Deleted {
		return nil, fmt.Errorf("%s %q: %w", kind, id, common.ErrNotFound)
	}
	return rec.Entity()
}

// List returns entities of one kind matching f.
func (l *Ledger) List(ctx context.Context, kind models.Kind, f records.Filter) ([]models.Entity, error) {
	recs, err := l.repos.Records(l.db).List(ctx, kind, f)
	if err != nil {
		return nil, err
	}
	out := make([]models.Entity, 0, len(recs))
	for _, rec := range recs {
		e, err := rec.Entity()
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}

// ListTransactions is List narrowed to transactions, newest occurred_at first.
func (l *Ledger) ListTransactions(ctx context.Context, f records.Filter) ([]*models.Transaction, error) {
	recs, err := l.repos.Records(l.db).List(ctx, models.KindTransactions, f)
	if err != nil {
		return nil, err
	}
	out := make([]*models.Transaction, 0, len(recs))
	for _, rec := range recs {
		tx, err := decodeAs[*models.Transaction](rec)
		if err != nil {
			return nil, err
		}
		out = append(out, tx)
	}
	return out, nil
}

// DefaultSettings is returned until settings are saved for the first time.
func DefaultSettings() *models.Settings {
	return &models.Settings{
		Base:            models.Base{ID: models.SettingsID},
		Currency:        "USD",
		FirstDayOfMonth: 1,
	}
}

func (l *Ledger) Settings(ctx context.Context) (*models.Settings, error) {
	rec, err := l.repos.Records(l.db).Get(ctx, models.KindSettings, models.SettingsID)
	if errors.Is(err, common.ErrNotFound) {
		return DefaultSettings(), nil
	}
	if err != nil {
		return nil, err
	}
	if rec.Deleted {
		return DefaultSettings(), nil
	}
	return decodeAs[*models.Settings](*rec)
}

// SaveSettings creates the singleton on first use and updates it afterwards.
func (l *Ledger) SaveSettings(ctx context.Context, s *models.Settings) (*models.Settings, error) {
	saved, err := l.Update(ctx, s)
	if errors.Is(err, common.ErrNotFound) {
		saved, err = l.Create(ctx, s)
	}
	if err != nil {
		return nil, err
	}
	return saved.(*models.Settings), nil
}
