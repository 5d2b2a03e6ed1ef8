// Package syncstate keeps the single sync-state row of the local store:
// the stable client id and the pull cursor.
package syncstate

import "context"

// State mirrors the sync_state row.
type State struct {
	ClientID string
	// LastSync is the server_time of the last successful round.
	LastSync int64
	// LastFullSync is the server_time of the last round that started from cursor 0.
	LastFullSync int64
}

type Repository interface {
	// Init creates the row with a freshly generated client id unless it
	// already exists, and returns the stored state.
	Init(ctx context.Context) (State, error)
	Get(ctx context.Context) (State, error)
	// Advance moves the cursor forward. A smaller value is ignored.
	Advance(ctx context.Context, serverTime int64, full bool) error
}
