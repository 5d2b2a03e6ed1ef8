// Package storage is the authoritative record store of the server. Every
// write goes through Merge, which applies the push-side last-write-wins rule
// per record.
package storage

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/dmitrijs2005/finkeeper/internal/models"
	"github.com/dmitrijs2005/finkeeper/internal/reconcile"
	sm "github.com/dmitrijs2005/finkeeper/internal/server/models"
)

// Rejection is a pushed record that lost against a newer stored copy.
type Rejection struct {
	Incoming models.Record
	Current  models.Record
}

// MergeResult lists what a push did, record by record.
type MergeResult struct {
	// Applied holds the records as written, stamped with the push stamp.
	Applied []models.Record
	// Rejected holds losing pushes with the stored copy that won.
	Rejected []Rejection
}

type Storage interface {
	// Merge applies push for userID. Accepted records get updated_at = stamp.
	Merge(ctx context.Context, userID string, push []models.Record, stamp int64) (*MergeResult, error)
	// ChangesSince returns records with since < updated_at <= upTo,
	// tombstones included.
	ChangesSince(ctx context.Context, userID string, since, upTo int64) (models.Batch, error)
	// ChangesPage returns at most limit records of ChangesSince ordered by
	// (updated_at, kind, id).
	ChangesPage(ctx context.Context, userID string, since, upTo int64, limit int) ([]models.Record, error)
	TouchClient(ctx context.Context, c sm.Client) error
	Stats(ctx context.Context, userID string) (*sm.Stats, error)
	// MaxStamp is the highest updated_at ever written, used to seed the clock.
	MaxStamp(ctx context.Context) (int64, error)
	Users(ctx context.Context) ([]string, error)
	Close() error
}

// recordTx is the per-merge view of a backend. get returns nil, nil for a
// missing record. insert reports false when the key appeared concurrently.
type recordTx interface {
	get(ctx context.Context, kind models.Kind, id string) (*models.Record, error)
	insert(ctx context.Context, rec models.Record) (bool, error)
	update(ctx context.Context, rec models.Record) error
}

const maxInsertRaces = 3

var errInsertRace = errors.New("record keeps appearing concurrently")

type recordKey struct {
	kind models.Kind
	id   string
}

func keyOf(r models.Record) recordKey { return recordKey{kind: r.Kind, id: r.ID} }

// prepare keeps one copy per (kind, id), the one with the highest
// updated_at (the later one on ties), and orders the result by key so
// concurrent merges acquire row locks in the same order.
func prepare(push []models.Record) []models.Record {
	latest := make(map[recordKey]int, len(push))
	out := make([]models.Record, 0, len(push))
	for _, r := range push {
		k := keyOf(r)
		if i, ok := latest[k]; ok {
			if r.UpdatedAt >= out[i].UpdatedAt {
				out[i] = r
			}
			continue
		}
		latest[k] = len(out)
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Kind != out[j].Kind {
			return out[i].Kind < out[j].Kind
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// merge runs the push-side rule over the prepared push.
func merge(ctx context.Context, tx recordTx, push []models.Record, stamp int64) (*MergeResult, error) {
	res := &MergeResult{}
	for _, in := range push {
		applied, rejected, err := mergeOne(ctx, tx, in, stamp)
		if err != nil {
			return nil, err
		}
		if rejected != nil {
			res.Rejected = append(res.Rejected, *rejected)
			continue
		}
		res.Applied = append(res.Applied, applied)
	}
	return res, nil
}

func mergeOne(ctx context.Context, tx recordTx, in models.Record, stamp int64) (models.Record, *Rejection, error) {
	for i := 0; i < maxInsertRaces; i++ {
		cur, err := tx.get(ctx, in.Kind, in.ID)
		if err != nil {
			return models.Record{}, nil, err
		}

		outcome := reconcile.Decide(cur, in)
		if outcome == reconcile.Reject {
			return models.Record{}, &Rejection{Incoming: in, Current: *cur}, nil
		}

		out := in
		out.Stamp(stamp)
		if outcome == reconcile.Accept {
			return out, nil, tx.update(ctx, out)
		}

		ok, err := tx.insert(ctx, out)
		if err != nil {
			return models.Record{}, nil, err
		}
		if ok {
			return out, nil, nil
		}
	}
	return models.Record{}, nil, fmt.Errorf("%w: %s %q", errInsertRace, in.Kind, in.ID)
}

// toBatch groups records by kind, keeping their order.
func toBatch(recs []models.Record) models.Batch {
	b := models.Batch{}
	for _, r := range recs {
		b.Add(r)
	}
	return b
}
