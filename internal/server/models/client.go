// Package models defines server-side data models persisted next to the
// synchronized records.
package models

import fm "github.com/dmitrijs2005/finkeeper/internal/models"

// Client describes the last sync seen from one client of a user.
type Client struct {
	// UserID is the owner of the data set the client syncs.
	UserID string
	// ClientID is the identifier the client generated at first start.
	ClientID string
	// LastSeen is the wall time (epoch ms) of the client's latest sync.
	LastSeen int64
	// Cursor is the server_time handed to the client in that sync.
	Cursor int64
}

// Stats summarizes the authoritative store for one user.
type Stats struct {
	// Counts holds live (non-deleted) records per kind.
	Counts map[fm.Kind]int64
	// Tombstones counts soft-deleted records across kinds.
	Tombstones int64
	// Clients lists known clients, most recently seen first.
	Clients []Client
}
