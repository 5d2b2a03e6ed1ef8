// Package syncapi defines the sync wire contract shared by the client and
// the server, and its gRPC binding.
//
// Messages are plain JSON documents. Over gRPC they travel with the "json"
// content subtype (see codec.go); over HTTP they are request/response bodies.
package syncapi

import (
	"fmt"

	"github.com/dmitrijs2005/finkeeper/internal/common"
	"github.com/dmitrijs2005/finkeeper/internal/models"
)

// SyncRequest pushes local changes and asks for everything newer than Since.
type SyncRequest struct {
	ClientID string       `json:"client_id"`
	Since    int64        `json:"since"`
	Push     models.Batch `json:"push,omitempty"`
}

// Conflict reports a pushed record that lost against a newer server copy.
type Conflict struct {
	Type       models.Kind `json:"type"`
	ID         string      `json:"id"`
	Reason     string      `json:"reason"`
	ClientTime int64       `json:"clientTime"`
	ServerTime int64       `json:"serverTime"`
}

// SyncResponse carries the new cursor, the pulled records and any conflicts.
// HasMore is set when the pull was cut at a page boundary; the client asks
// again with Since = ServerTime until it is clear.
type SyncResponse struct {
	ServerTime int64        `json:"server_time"`
	Pull       models.Batch `json:"pull"`
	Conflicts  []Conflict   `json:"conflicts"`
	HasMore    bool         `json:"has_more,omitempty"`
}

// MaxMessageSize bounds one gRPC message in either direction. Push batches
// and pull pages are sized to stay well below it.
const MaxMessageSize = 64 << 20

type PingRequest struct{}

type PingResponse struct {
	Status     string `json:"status"`
	ServerTime int64  `json:"server_time"`
}

// StatusOK is the Ping status of a healthy server.
const StatusOK = "OK"

type StatusRequest struct{}

// ClientStatus describes the last sync seen from one client.
type ClientStatus struct {
	ClientID    string `json:"client_id"`
	LastSeen    int64  `json:"last_seen"`
	Cursor      int64  `json:"cursor"`
	CursorAgeMs int64  `json:"cursor_age_ms"`
}

// StatusResponse is the health/status probe of the authoritative store.
type StatusResponse struct {
	ServerTime int64                 `json:"server_time"`
	Counts     map[models.Kind]int64 `json:"counts"`
	Tombstones int64                 `json:"tombstones"`
	Clients    []ClientStatus        `json:"clients"`
}

// Error codes used in ErrorResponse.
const (
	ErrCodeValidation   = "validation_error"
	ErrCodeInternal     = "internal_server_error"
	ErrCodeUnauthorized = "unauthorized"
	ErrCodeBadRequest   = "bad_request"
)

// ErrorResponse is the structured failure body.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// RemoteError is an ErrorResponse received by a client.
type RemoteError struct {
	Code    string
	Message string
	Details any
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *RemoteError) Unwrap() error {
	switch e.Code {
	case ErrCodeValidation:
		return common.ErrValidation
	case ErrCodeUnauthorized:
		return common.ErrUnauthorized
	default:
		return common.ErrServer
	}
}

// RecordField names a field of one pushed record in error details, e.g.
// "transactions/t1.amount_cents".
func RecordField(kind models.Kind, id, field string) string {
	return string(kind) + "/" + id + "." + field
}

// EventChanged is the type of a ChangeEvent.
const EventChanged = "changed"

// ChangeEvent is sent on the change feed when another client of the same
// user committed records. It carries no data; the receiver syncs.
type ChangeEvent struct {
	Type       string `json:"type"`
	ServerTime int64  `json:"server_time"`
}
