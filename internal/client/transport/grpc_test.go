package transport

import (
	"context"
	"errors"
	"net"
	"testing"

	"github.com/dmitrijs2005/finkeeper/internal/common"
	"github.com/dmitrijs2005/finkeeper/internal/models"
	"github.com/dmitrijs2005/finkeeper/internal/syncapi"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/genproto/googleapis/rpc/errdetails"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
)

type fakeServer struct {
	md      metadata.MD
	syncErr error
	ping    string
}

func (s *fakeServer) Sync(ctx context.Context, in *syncapi.SyncRequest) (*syncapi.SyncResponse, error) {
	s.md, _ = metadata.FromIncomingContext(ctx)
	if s.syncErr != nil {
		return nil, s.syncErr
	}
	return &syncapi.SyncResponse{ServerTime: in.Since + 100, Pull: models.Batch{}}, nil
}

func (s *fakeServer) Ping(context.Context, *syncapi.PingRequest) (*syncapi.PingResponse, error) {
	return &syncapi.PingResponse{Status: s.ping}, nil
}

func (s *fakeServer) Status(context.Context, *syncapi.StatusRequest) (*syncapi.StatusResponse, error) {
	return &syncapi.StatusResponse{ServerTime: 9, Tombstones: 1}, nil
}

func newBufClient(t *testing.T, srv syncapi.SyncServer) *GRPCClient {
	t.Helper()

	lis := bufconn.Listen(1 << 20)
	s := grpc.NewServer()
	syncapi.RegisterSyncServer(s, srv)
	go func() { _ = s.Serve(lis) }()
	t.Cleanup(s.Stop)

	c, err := NewGRPCClient(Options{Address: "passthrough:///bufnet", AccessToken: "tok", ClientID: "cid"},
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) { return lis.DialContext(ctx) }))
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestGRPCClient_SyncSendsMetadata(t *testing.T) {
	srv := &fakeServer{ping: syncapi.StatusOK}
	c := newBufClient(t, srv)

	resp, err := c.Sync(context.Background(), &syncapi.SyncRequest{ClientID: "cid", Since: 5})
	require.NoError(t, err)
	assert.Equal(t, int64(105), resp.ServerTime)

	assert.Equal(t, []string{"tok"}, srv.md.Get(common.AccessTokenHeaderName))
	assert.Equal(t, []string{"cid"}, srv.md.Get(common.ClientIDHeaderName))
}

func TestGRPCClient_Ping(t *testing.T) {
	srv := &fakeServer{ping: syncapi.StatusOK}
	c := newBufClient(t, srv)
	require.NoError(t, c.Ping(context.Background()))

	srv.ping = "DEGRADED"
	assert.ErrorIs(t, c.Ping(context.Background()), common.ErrUnavailable)
}

func TestGRPCClient_Status(t *testing.T) {
	c := newBufClient(t, &fakeServer{})
	st, err := c.Status(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), st.Tombstones)
}

func TestGRPCClient_ErrorMapping(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		target error
	}{
		{"unauthenticated", status.Error(codes.Unauthenticated, "no token"), common.ErrUnauthorized},
		{"unavailable", status.Error(codes.Unavailable, "down"), common.ErrUnavailable},
		{"validation", status.Error(codes.InvalidArgument, "bad amount"), common.ErrValidation},
		{"internal", status.Error(codes.Internal, "boom"), common.ErrServer},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newBufClient(t, &fakeServer{syncErr: tt.err})
			_, err := c.Sync(context.Background(), &syncapi.SyncRequest{})
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.target)
		})
	}
}

func TestGRPCClient_ValidationKeepsMessage(t *testing.T) {
	c := newBufClient(t, &fakeServer{syncErr: status.Error(codes.InvalidArgument, "transactions/t1: amount_cents")})
	_, err := c.Sync(context.Background(), &syncapi.SyncRequest{})

	var re *syncapi.RemoteError
	require.True(t, errors.As(err, &re))
	assert.Equal(t, syncapi.ErrCodeValidation, re.Code)
	assert.Contains(t, re.Message, "amount_cents")
}

func TestGRPCClient_ValidationDetails(t *testing.T) {
	st, err := status.New(codes.InvalidArgument, "invalid sync request").WithDetails(&errdetails.BadRequest{
		FieldViolations: []*errdetails.BadRequest_FieldViolation{
			{Field: "transactions/t1.amount_cents", Description: "must not be zero"},
		},
	})
	require.NoError(t, err)

	c := newBufClient(t, &fakeServer{syncErr: st.Err()})
	_, err = c.Sync(context.Background(), &syncapi.SyncRequest{})

	var re *syncapi.RemoteError
	require.ErrorAs(t, err, &re)
	assert.Equal(t, []models.FieldError{{Field: "transactions/t1.amount_cents", Message: "must not be zero"}}, re.Details)
}

func TestNew_UnknownKind(t *testing.T) {
	_, err := New(Options{Kind: "carrier-pigeon"})
	assert.Error(t, err)

	tr, err := New(Options{Kind: KindHTTP, Address: "localhost:1"})
	require.NoError(t, err)
	assert.IsType(t, &HTTPClient{}, tr)
}
