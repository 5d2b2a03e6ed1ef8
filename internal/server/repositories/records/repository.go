// Package records stores the authoritative copy of every synchronized
// record, keyed by (user, kind, id).
package records

import (
	"context"

	"github.com/dmitrijs2005/finkeeper/internal/models"
)

// KindCounts reports live rows per kind plus soft-deleted rows overall.
type KindCounts struct {
	Live       map[models.Kind]int64
	Tombstones int64
}

type Repository interface {
	// GetForUpdate returns the stored copy and locks it until the enclosing
	// transaction ends. It returns common.ErrNotFound when no row exists.
	GetForUpdate(ctx context.Context, userID string, kind models.Kind, id string) (*models.Record, error)
	// Insert writes rec unless a row with the same key already exists and
	// reports whether it did.
	Insert(ctx context.Context, userID string, rec models.Record) (bool, error)
	// Upsert writes rec as the current copy.
	Upsert(ctx context.Context, userID string, rec models.Record) error
	// SelectChanged returns records with since < updated_at <= upTo, ordered
	// by updated_at. Tombstones are included.
	SelectChanged(ctx context.Context, userID string, since, upTo int64) ([]models.Record, error)
	// SelectChangedPage is SelectChanged limited to the first limit rows.
	SelectChangedPage(ctx context.Context, userID string, since, upTo int64, limit int) ([]models.Record, error)
	Count(ctx context.Context, userID string) (KindCounts, error)
	// MaxUpdatedAt is the highest stamp across all users, 0 for an empty table.
	MaxUpdatedAt(ctx context.Context) (int64, error)
	// Users lists every user owning at least one record.
	Users(ctx context.Context) ([]string, error)
}
