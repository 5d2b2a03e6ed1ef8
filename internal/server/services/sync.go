// Package services implements the server side of the sync protocol on top
// of the authoritative storage.
package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/dmitrijs2005/finkeeper/internal/common"
	"github.com/dmitrijs2005/finkeeper/internal/logging"
	"github.com/dmitrijs2005/finkeeper/internal/models"
	"github.com/dmitrijs2005/finkeeper/internal/reconcile"
	"github.com/dmitrijs2005/finkeeper/internal/server/metrics"
	sm "github.com/dmitrijs2005/finkeeper/internal/server/models"
	"github.com/dmitrijs2005/finkeeper/internal/server/storage"
	"github.com/dmitrijs2005/finkeeper/internal/syncapi"
)

const maxClientIDLen = 128

// DefaultPageSize is the number of records a pull page is cut at. A page
// never splits the records of one stamp, so it may run longer.
const DefaultPageSize = 1000

// Publisher is told about every push that changed a user's data.
type Publisher interface {
	Publish(userID, originClientID string, serverTime int64)
}

type SyncService struct {
	store     storage.Storage
	clock     *Clock
	metrics   *metrics.Metrics
	logger    logging.Logger
	publisher Publisher
	pageSize  int
}

func NewSyncService(st storage.Storage, clock *Clock, m *metrics.Metrics, l logging.Logger) *SyncService {
	if l == nil {
		l = logging.Nop{}
	}
	return &SyncService{store: st, clock: clock, metrics: m, logger: l.With("module", "sync_service"), pageSize: DefaultPageSize}
}

// SetPageSize changes the pull page size. n <= 0 restores the default.
func (s *SyncService) SetPageSize(n int) {
	if n <= 0 {
		n = DefaultPageSize
	}
	s.pageSize = n
}

// SetPublisher registers the change feed. It must be called before serving.
func (s *SyncService) SetPublisher(p Publisher) {
	s.publisher = p
}

// SeedClock raises the clock above every stamp already persisted.
func SeedClock(ctx context.Context, st storage.Storage, c *Clock) error {
	stamp, err := st.MaxStamp(ctx)
	if err != nil {
		return fmt.Errorf("failed to read max stamp: %w", err)
	}
	c.Observe(stamp)
	return nil
}

func validateRequest(req *syncapi.SyncRequest) ([]models.Record, error) {
	verr := &InvalidRequestError{}
	switch {
	case strings.TrimSpace(req.ClientID) == "":
		verr.Fields = append(verr.Fields, models.FieldError{Field: "client_id", Message: "required"})
	case len(req.ClientID) > maxClientIDLen:
		verr.Fields = append(verr.Fields, models.FieldError{Field: "client_id", Message: "too long"})
	}
	if req.Since < 0 {
		verr.Fields = append(verr.Fields, models.FieldError{Field: "since", Message: "must not be negative"})
	}

	push := req.Push.Records()
	for i := range push {
		if err := push[i].Validate(); err != nil {
			var ve *models.ValidationError
			if !errors.As(err, &ve) {
				ve = &models.ValidationError{Kind: push[i].Kind, ID: push[i].ID,
					Fields: []models.FieldError{{Field: "payload", Message: err.Error()}}}
			}
			verr.Records = append(verr.Records, ve)
		}
		if push[i].ClientID == "" {
			push[i].ClientID = req.ClientID
		}
	}

	if !verr.empty() {
		return nil, verr
	}
	return push, nil
}

// Sync merges the push and returns the next page of everything the client
// has not seen.
//
// Each pushed record is merged on its own: accepted ones are stamped with
// this request's server stamp, losing ones come back as conflicts. The
// server copy of every pushed record, accepted or not, rides in the pull so
// the client adopts the server stamp. Any invalid record rejects the request
// before anything is written.
func (s *SyncService) Sync(ctx context.Context, userID string, req *syncapi.SyncRequest) (*syncapi.SyncResponse, error) {
	push, err := validateRequest(req)
	if err != nil {
		s.logger.Warn(ctx, "sync request rejected", "user", userID, "client", req.ClientID, "error", err)
		return nil, err
	}

	var (
		rejected []storage.Rejection
		applied  []models.Record
	)
	if len(push) > 0 {
		res, err := s.merge(ctx, userID, push)
		if err != nil {
			s.logger.Error(ctx, "merge failed", "user", userID, "client", req.ClientID, "error", err)
			return nil, fmt.Errorf("%w: %w", common.ErrInternal, err)
		}
		rejected = res.Rejected
		applied = res.Applied
		s.countPushed(res)
	}

	watermark := s.clock.Watermark()
	pull, serverTime, hasMore, err := s.page(ctx, userID, req.Since, watermark)
	if err != nil {
		s.logger.Error(ctx, "changes query failed", "user", userID, "since", req.Since, "error", err)
		return nil, fmt.Errorf("%w: %w", common.ErrInternal, err)
	}

	for _, r := range applied {
		if !contains(pull, r) {
			pull.Add(r)
		}
	}

	conflicts := make([]syncapi.Conflict, 0, len(rejected))
	for _, r := range rejected {
		conflicts = append(conflicts, syncapi.Conflict{
			Type:       r.Incoming.Kind,
			ID:         r.Incoming.ID,
			Reason:     reconcile.ReasonServerNewer,
			ClientTime: r.Incoming.UpdatedAt,
			ServerTime: r.Current.UpdatedAt,
		})
		s.metrics.AddConflict(string(r.Incoming.Kind))
		if !contains(pull, r.Current) {
			pull.Add(r.Current)
		}
	}
	s.metrics.AddPulled(pull.Len())

	if err := s.store.TouchClient(ctx, sm.Client{
		UserID:   userID,
		ClientID: req.ClientID,
		LastSeen: s.clock.Now(),
		Cursor:   serverTime,
	}); err != nil {
		s.logger.Warn(ctx, "failed to record client", "user", userID, "client", req.ClientID, "error", err)
	}

	if len(applied) > 0 && s.publisher != nil {
		s.publisher.Publish(userID, req.ClientID, watermark)
	}

	s.logger.Info(ctx, "sync",
		"user", userID, "client", req.ClientID, "since", req.Since, "server_time", serverTime,
		"pushed", len(push), "conflicts", len(conflicts), "pulled", pull.Len(), "has_more", hasMore)

	return &syncapi.SyncResponse{ServerTime: serverTime, Pull: pull, Conflicts: conflicts, HasMore: hasMore}, nil
}

// page returns the changes in (since, upTo] up to the page size and the
// cursor that resumes after them. The cut is made between stamps.
func (s *SyncService) page(ctx context.Context, userID string, since, upTo int64) (models.Batch, int64, bool, error) {
	recs, err := s.store.ChangesPage(ctx, userID, since, upTo, s.pageSize+1)
	if err != nil {
		return nil, 0, false, err
	}
	if len(recs) <= s.pageSize {
		return toBatch(recs), upTo, false, nil
	}

	next := recs[s.pageSize].UpdatedAt
	recs = recs[:s.pageSize]
	last := recs[len(recs)-1].UpdatedAt
	if next != last {
		return toBatch(recs), last, true, nil
	}

	// drop the stamp that continues past the page
	i := len(recs)
	for i > 0 && recs[i-1].UpdatedAt == last {
		i--
	}
	if i > 0 {
		return toBatch(recs[:i]), recs[i-1].UpdatedAt, true, nil
	}

	// one stamp fills the whole page: send all of it
	group, err := s.store.ChangesSince(ctx, userID, last-1, last)
	if err != nil {
		return nil, 0, false, err
	}
	if group == nil {
		group = models.Batch{}
	}
	return group, last, true, nil
}

func toBatch(recs []models.Record) models.Batch {
	b := models.Batch{}
	for _, r := range recs {
		b.Add(r)
	}
	return b
}

func (s *SyncService) merge(ctx context.Context, userID string, push []models.Record) (*storage.MergeResult, error) {
	done := s.metrics.TrackInFlight()
	defer done()

	stamp := s.clock.Reserve()
	defer s.clock.Release(stamp)

	return s.store.Merge(ctx, userID, push, stamp)
}

func (s *SyncService) countPushed(res *storage.MergeResult) {
	applied := map[models.Kind]int{}
	for _, r := range res.Applied {
		applied[r.Kind]++
	}
	for k, n := range applied {
		s.metrics.AddPushed(string(k), "applied", n)
	}
	rejected := map[models.Kind]int{}
	for _, r := range res.Rejected {
		rejected[r.Incoming.Kind]++
	}
	for k, n := range rejected {
		s.metrics.AddPushed(string(k), "rejected", n)
	}
}

func contains(b models.Batch, r models.Record) bool {
	for _, x := range b[r.Kind] {
		if x.ID == r.ID {
			return true
		}
	}
	return false
}

// Ping reports liveness. It does not touch storage.
func (s *SyncService) Ping(context.Context) *syncapi.PingResponse {
	return &syncapi.PingResponse{Status: syncapi.StatusOK, ServerTime: s.clock.Now()}
}

// Status summarizes the user's data set and the clients syncing it.
func (s *SyncService) Status(ctx context.Context, userID string) (*syncapi.StatusResponse, error) {
	st, err := s.store.Stats(ctx, userID)
	if err != nil {
		s.logger.Error(ctx, "status query failed", "user", userID, "error", err)
		return nil, fmt.Errorf("%w: %w", common.ErrInternal, err)
	}

	now := s.clock.Now()
	resp := &syncapi.StatusResponse{
		ServerTime: s.clock.Watermark(),
		Counts:     st.Counts,
		Tombstones: st.Tombstones,
		Clients:    make([]syncapi.ClientStatus, 0, len(st.Clients)),
	}
	for _, c := range st.Clients {
		resp.Clients = append(resp.Clients, syncapi.ClientStatus{
			ClientID:    c.ClientID,
			LastSeen:    c.LastSeen,
			Cursor:      c.Cursor,
			CursorAgeMs: max(0, now-c.Cursor),
		})
	}
	return resp, nil
}

// Snapshot returns every record of userID, tombstones included.
func (s *SyncService) Snapshot(ctx context.Context, userID string) (models.Batch, int64, error) {
	upTo := s.clock.Watermark()
	b, err := s.store.ChangesSince(ctx, userID, 0, upTo)
	if err != nil {
		return nil, 0, err
	}
	return b, upTo, nil
}

