package storage

import (
	"context"
	"sort"
	"sync"

	"github.com/dmitrijs2005/finkeeper/internal/models"
	sm "github.com/dmitrijs2005/finkeeper/internal/server/models"
)

type memKey struct {
	user string
	recordKey
}

// Memory keeps everything in process. Merges lock the pushed keys only, so
// pushes touching different records run concurrently.
type Memory struct {
	mu      sync.RWMutex
	records map[memKey]models.Record
	clients map[string]map[string]sm.Client

	locksMu sync.Mutex
	locks   map[memKey]*keyLock
}

// keyLock is dropped from Memory.locks once nobody holds or waits for it.
type keyLock struct {
	mu   sync.Mutex
	refs int
}

func NewMemory() *Memory {
	return &Memory{
		records: map[memKey]models.Record{},
		clients: map[string]map[string]sm.Client{},
		locks:   map[memKey]*keyLock{},
	}
}

func (m *Memory) acquire(k memKey) {
	m.locksMu.Lock()
	l, ok := m.locks[k]
	if !ok {
		l = &keyLock{}
		m.locks[k] = l
	}
	l.refs++
	m.locksMu.Unlock()

	l.mu.Lock()
}

func (m *Memory) release(k memKey) {
	m.locksMu.Lock()
	l := m.locks[k]
	l.refs--
	if l.refs == 0 {
		delete(m.locks, k)
	}
	m.locksMu.Unlock()

	l.mu.Unlock()
}

func (m *Memory) lockCount() int {
	m.locksMu.Lock()
	defer m.locksMu.Unlock()
	return len(m.locks)
}

type memTx struct {
	m    *Memory
	user string
}

func (t memTx) get(_ context.Context, kind models.Kind, id string) (*models.Record, error) {
	t.m.mu.RLock()
	defer t.m.mu.RUnlock()
	r, ok := t.m.records[memKey{user: t.user, recordKey: recordKey{kind: kind, id: id}}]
	if !ok {
		return nil, nil
	}
	return &r, nil
}

func (t memTx) insert(ctx context.Context, rec models.Record) (bool, error) {
	return true, t.update(ctx, rec)
}

func (t memTx) update(_ context.Context, rec models.Record) error {
	t.m.mu.Lock()
	defer t.m.mu.Unlock()
	t.m.records[memKey{user: t.user, recordKey: keyOf(rec)}] = rec
	return nil
}

func (m *Memory) Merge(ctx context.Context, userID string, push []models.Record, stamp int64) (*MergeResult, error) {
	prepared := prepare(push)
	keys := make([]memKey, 0, len(prepared))
	for _, r := range prepared {
		k := memKey{user: userID, recordKey: keyOf(r)}
		m.acquire(k)
		keys = append(keys, k)
	}
	defer func() {
		for _, k := range keys {
			m.release(k)
		}
	}()
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return merge(ctx, memTx{m: m, user: userID}, prepared, stamp)
}

func (m *Memory) ChangesSince(_ context.Context, userID string, since, upTo int64) (models.Batch, error) {
	return toBatch(m.changed(userID, since, upTo)), nil
}

func (m *Memory) ChangesPage(_ context.Context, userID string, since, upTo int64, limit int) ([]models.Record, error) {
	recs := m.changed(userID, since, upTo)
	if limit > 0 && len(recs) > limit {
		recs = recs[:limit]
	}
	return recs, nil
}

func (m *Memory) changed(userID string, since, upTo int64) []models.Record {
	m.mu.RLock()
	var recs []models.Record
	for k, r := range m.records {
		if k.user == userID && r.UpdatedAt > since && r.UpdatedAt <= upTo {
			recs = append(recs, r)
		}
	}
	m.mu.RUnlock()

	sort.Slice(recs, func(i, j int) bool {
		a, b := recs[i], recs[j]
		if a.UpdatedAt != b.UpdatedAt {
			return a.UpdatedAt < b.UpdatedAt
		}
		if a.Kind != b.Kind {
			return a.Kind < b.Kind
		}
		return a.ID < b.ID
	})
	return recs
}

func (m *Memory) TouchClient(_ context.Context, c sm.Client) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	byID, ok := m.clients[c.UserID]
	if !ok {
		byID = map[string]sm.Client{}
		m.clients[c.UserID] = byID
	}
	if prev, ok := byID[c.ClientID]; ok {
		c.LastSeen = max(c.LastSeen, prev.LastSeen)
		c.Cursor = max(c.Cursor, prev.Cursor)
	}
	byID[c.ClientID] = c
	return nil
}

func (m *Memory) Stats(_ context.Context, userID string) (*sm.Stats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	st := &sm.Stats{Counts: map[models.Kind]int64{}}
	for k, r := range m.records {
		if k.user != userID {
			continue
		}
		if r.Deleted {
			st.Tombstones++
		} else {
			st.Counts[r.Kind]++
		}
	}
	for _, c := range m.clients[userID] {
		st.Clients = append(st.Clients, c)
	}
	sortClients(st.Clients)
	return st, nil
}

func (m *Memory) MaxStamp(context.Context) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var stamp int64
	for _, r := range m.records {
		stamp = max(stamp, r.UpdatedAt)
	}
	return stamp, nil
}

func (m *Memory) Users(context.Context) ([]string, error) {
	m.mu.RLock()
	seen := map[string]bool{}
	for k := range m.records {
		seen[k.user] = true
	}
	m.mu.RUnlock()

	users := make([]string, 0, len(seen))
	for u := range seen {
		users = append(users, u)
	}
	sort.Strings(users)
	return users, nil
}

func (m *Memory) Close() error { return nil }

func sortClients(cs []sm.Client) {
	sort.Slice(cs, func(i, j int) bool {
		if cs[i].LastSeen != cs[j].LastSeen {
			return cs[i].LastSeen > cs[j].LastSeen
		}
		return cs[i].ClientID < cs[j].ClientID
	})
}
