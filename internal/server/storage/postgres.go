package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/finkeeper/internal/common"
	"github.com/dmitrijs2005/finkeeper/internal/dbx"
	"github.com/dmitrijs2005/finkeeper/internal/models"
	sm "github.com/dmitrijs2005/finkeeper/internal/server/models"
	"github.com/dmitrijs2005/finkeeper/internal/server/repositories/records"
	"github.com/dmitrijs2005/finkeeper/internal/server/repositories/repomanager"
	"github.com/jackc/pgx/v5/pgconn"
)

// DefaultRetryPolicy repeats merges that lost a serialization or lock race.
var DefaultRetryPolicy = dbx.RetryPolicy{
	Retryable: IsRetryable,
	Attempts:  5,
	Delay:     20 * time.Millisecond,
}

// IsRetryable reports PostgreSQL errors after which the whole transaction
// may simply be run again.
func IsRetryable(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	switch pgErr.SQLState() {
	case "40001", // serialization_failure
		"40P01", // deadlock_detected
		"55P03": // lock_not_available
		return true
	default:
		return false
	}
}

// Postgres stores records in PostgreSQL. Merges lock the pushed rows with
// SELECT ... FOR UPDATE inside one transaction per push.
type Postgres struct {
	db    *sql.DB
	rm    repomanager.RepositoryManager
	retry dbx.RetryPolicy
}

func NewPostgres(db *sql.DB, rm repomanager.RepositoryManager) *Postgres {
	return &Postgres{db: db, rm: rm, retry: DefaultRetryPolicy}
}

// sqlOpen is a seam for tests.
var sqlOpen = sql.Open

// OpenPostgres connects with the pgx driver and migrates the schema.
func OpenPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	db, err := sqlOpen("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	rm := repomanager.NewPostgresRepositoryManager()
	if err := rm.RunMigrations(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return NewPostgres(db, rm), nil
}

type pgTx struct {
	repo records.Repository
	user string
}

func (t pgTx) get(ctx context.Context, kind models.Kind, id string) (*models.Record, error) {
	r, err := t.repo.GetForUpdate(ctx, t.user, kind, id)
	if errors.Is(err, common.ErrNotFound) {
		return nil, nil
	}
	return r, err
}

func (t pgTx) insert(ctx context.Context, rec models.Record) (bool, error) {
	return t.repo.Insert(ctx, t.user, rec)
}

func (t pgTx) update(ctx context.Context, rec models.Record) error {
	return t.repo.Upsert(ctx, t.user, rec)
}

func (p *Postgres) Merge(ctx context.Context, userID string, push []models.Record, stamp int64) (*MergeResult, error) {
	prepared := prepare(push)

	var res *MergeResult
	err := dbx.WithTxRetry(ctx, p.db, nil, p.retry, func(ctx context.Context, tx dbx.DBTX) error {
		var err error
		res, err = merge(ctx, pgTx{repo: p.rm.Records(tx), user: userID}, prepared, stamp)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("merge failed: %w", err)
	}
	return res, nil
}

func (p *Postgres) ChangesSince(ctx context.Context, userID string, since, upTo int64) (models.Batch, error) {
	recs, err := p.rm.Records(p.db).SelectChanged(ctx, userID, since, upTo)
	if err != nil {
		return nil, err
	}
	return toBatch(recs), nil
}

func (p *Postgres) ChangesPage(ctx context.Context, userID string, since, upTo int64, limit int) ([]models.Record, error) {
	return p.rm.Records(p.db).SelectChangedPage(ctx, userID, since, upTo, limit)
}

func (p *Postgres) TouchClient(ctx context.Context, c sm.Client) error {
	return p.rm.Clients(p.db).Touch(ctx, c)
}

func (p *Postgres) Stats(ctx context.Context, userID string) (*sm.Stats, error) {
	counts, err := p.rm.Records(p.db).Count(ctx, userID)
	if err != nil {
		return nil, err
	}
	clients, err := p.rm.Clients(p.db).List(ctx, userID)
	if err != nil {
		return nil, err
	}
	return &sm.Stats{Counts: counts.Live, Tombstones: counts.Tombstones, Clients: clients}, nil
}

func (p *Postgres) MaxStamp(ctx context.Context) (int64, error) {
	return p.rm.Records(p.db).MaxUpdatedAt(ctx)
}

func (p *Postgres) Users(ctx context.Context) ([]string, error) {
	return p.rm.Records(p.db).Users(ctx)
}

func (p *Postgres) Close() error {
	return p.db.Close()
}
