// Package transport carries sync exchanges from the client to the server.
// Two bindings exist: gRPC with the JSON codec and plain HTTP+JSON. Both map
// failures onto the sentinels in internal/common so the sync engine can treat
// them uniformly.
package transport

import (
	"context"
	"fmt"
	"time"

	"github.com/dmitrijs2005/finkeeper/internal/syncapi"
)

type Transport interface {
	Sync(ctx context.Context, req *syncapi.SyncRequest) (*syncapi.SyncResponse, error)
	// Ping returns nil when the server is reachable and healthy.
	Ping(ctx context.Context) error
	Status(ctx context.Context) (*syncapi.StatusResponse, error)
	Close() error
}

const (
	KindGRPC = "grpc"
	KindHTTP = "http"
)

// Options selects and configures a transport.
type Options struct {
	Kind        string
	Address     string
	AccessToken string
	ClientID    string
	// Timeout bounds a single call. Zero disables it.
	Timeout time.Duration
}

func New(o Options) (Transport, error) {
	switch o.Kind {
	case KindGRPC, "":
		return NewGRPCClient(o)
	case KindHTTP:
		return NewHTTPClient(o), nil
	}
	return nil, fmt.Errorf("unknown transport %q", o.Kind)
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}
