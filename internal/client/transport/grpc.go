package transport

import (
	"context"
	"fmt"

	"github.com/dmitrijs2005/finkeeper/internal/common"
	"github.com/dmitrijs2005/finkeeper/internal/models"
	"github.com/dmitrijs2005/finkeeper/internal/syncapi"
	"google.golang.org/genproto/googleapis/rpc/errdetails"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

type GRPCClient struct {
	endpointURL string
	accessToken string
	clientID    string
	opts        Options
	conn        *grpc.ClientConn
	client      *syncapi.SyncClient
}

func withOutgoing(ctx context.Context, key, value string) context.Context {
	if value == "" {
		return ctx
	}
	md, _ := metadata.FromOutgoingContext(ctx)
	md = md.Copy()
	if md == nil {
		md = metadata.MD{}
	}
	md.Set(key, value)
	return metadata.NewOutgoingContext(ctx, md)
}

func (c *GRPCClient) metadataInterceptor(
	ctx context.Context,
	method string,
	req, reply any,
	cc *grpc.ClientConn,
	invoker grpc.UnaryInvoker,
	opts ...grpc.CallOption,
) error {
	ctx = withOutgoing(ctx, common.AccessTokenHeaderName, c.accessToken)
	ctx = withOutgoing(ctx, common.ClientIDHeaderName, c.clientID)
	return invoker(ctx, method, req, reply, cc, opts...)
}

// NewGRPCClient creates a lazily connecting client; no network I/O happens
// until the first call.
func NewGRPCClient(o Options, extra ...grpc.DialOption) (*GRPCClient, error) {
	c := &GRPCClient{endpointURL: o.Address, accessToken: o.AccessToken, clientID: o.ClientID, opts: o}

	dialOpts := append([]grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithUnaryInterceptor(c.metadataInterceptor),
		grpc.WithDefaultCallOptions(
			grpc.MaxCallRecvMsgSize(syncapi.MaxMessageSize),
			grpc.MaxCallSendMsgSize(syncapi.MaxMessageSize),
		),
	}, extra...)

	conn, err := grpc.NewClient(c.endpointURL, dialOpts...)
	if err != nil {
		return nil, err
	}
	c.conn = conn
	c.client = syncapi.NewSyncClient(conn)
	return c, nil
}

func (c *GRPCClient) Sync(ctx context.Context, req *syncapi.SyncRequest) (*syncapi.SyncResponse, error) {
	ctx, cancel := withTimeout(ctx, c.opts.Timeout)
	defer cancel()

	resp, err := c.client.Sync(ctx, req)
	if err != nil {
		return nil, c.mapError(err)
	}
	return resp, nil
}

func (c *GRPCClient) Ping(ctx context.Context) error {
	ctx, cancel := withTimeout(ctx, c.opts.Timeout)
	defer cancel()

	resp, err := c.client.Ping(ctx, &syncapi.PingRequest{})
	if err != nil {
		return c.mapError(err)
	}
	if resp.Status != syncapi.StatusOK {
		return common.ErrUnavailable
	}
	return nil
}

func (c *GRPCClient) Status(ctx context.Context) (*syncapi.StatusResponse, error) {
	ctx, cancel := withTimeout(ctx, c.opts.Timeout)
	defer cancel()

	resp, err := c.client.Status(ctx, &syncapi.StatusRequest{})
	if err != nil {
		return nil, c.mapError(err)
	}
	return resp, nil
}

func (c *GRPCClient) Close() error {
	return c.conn.Close()
}

func (c *GRPCClient) mapError(err error) error {
	if err == nil {
		return nil
	}
	st, _ := status.FromError(err)
	switch st.Code() {
	case codes.Unauthenticated, codes.PermissionDenied:
		return common.ErrUnauthorized
	case codes.Unavailable, codes.DeadlineExceeded, codes.Canceled:
		return fmt.Errorf("%w: %s", common.ErrUnavailable, st.Message())
	case codes.InvalidArgument:
		re := &syncapi.RemoteError{Code: syncapi.ErrCodeValidation, Message: st.Message()}
		if v := violations(st); len(v) > 0 {
			re.Details = v
		}
		return re
	case codes.Internal, codes.Unknown:
		return &syncapi.RemoteError{Code: syncapi.ErrCodeInternal, Message: st.Message()}
	default:
		return fmt.Errorf("rpc error: %w", err)
	}
}

// violations flattens BadRequest details attached by the server.
func violations(st *status.Status) []models.FieldError {
	var out []models.FieldError
	for _, d := range st.Details() {
		br, ok := d.(*errdetails.BadRequest)
		if !ok {
			continue
		}
		for _, v := range br.GetFieldViolations() {
			out = append(out, models.FieldError{Field: v.GetField(), Message: v.GetDescription()})
		}
	}
	return out
}
