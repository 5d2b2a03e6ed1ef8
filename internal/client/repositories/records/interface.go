package records

import (
	"context"

	"github.com/dmitrijs2005/finkeeper/internal/models"
)

// Filter narrows List results. Zero values disable a condition.
type Filter struct {
	// From and To bound occurred_at (inclusive, epoch ms).
	From           int64
	To             int64
	CategoryID     string
	GoalID         string
	IncludeDeleted bool
	Limit          int
}

// Counts reports table size for the health probe.
type Counts struct {
	Live    int64
	Deleted int64
}

type Repository interface {
	// Get returns common.ErrNotFound when no row exists. Soft-deleted rows
	// are returned; callers decide whether to hide them.
	Get(ctx context.Context, kind models.Kind, id string) (*models.Record, error)
	Upsert(ctx context.Context, rec models.Record) error
	List(ctx context.Context, kind models.Kind, f Filter) ([]models.Record, error)
	Count(ctx context.Context, kind models.Kind) (Counts, error)
}
