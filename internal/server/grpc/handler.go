package grpc

import (
	"context"
	"errors"

	"github.com/dmitrijs2005/finkeeper/internal/common"
	"github.com/dmitrijs2005/finkeeper/internal/server/services"
	"github.com/dmitrijs2005/finkeeper/internal/syncapi"
	"google.golang.org/genproto/googleapis/rpc/errdetails"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func (s *GRPCServer) Sync(ctx context.Context, req *syncapi.SyncRequest) (*syncapi.SyncResponse, error) {
	userID, err := userIDFromContext(ctx)
	if err != nil {
		return nil, err
	}

	resp, err := s.sync.Sync(ctx, userID, req)
	if err != nil {
		return nil, toStatus(err)
	}
	return resp, nil
}

func (s *GRPCServer) Ping(ctx context.Context, _ *syncapi.PingRequest) (*syncapi.PingResponse, error) {
	return s.sync.Ping(ctx), nil
}

func (s *GRPCServer) Status(ctx context.Context, _ *syncapi.StatusRequest) (*syncapi.StatusResponse, error) {
	userID, err := userIDFromContext(ctx)
	if err != nil {
		return nil, err
	}

	resp, err := s.sync.Status(ctx, userID)
	if err != nil {
		return nil, toStatus(err)
	}
	return resp, nil
}

// toStatus maps service errors onto gRPC codes. Validation failures carry
// one field violation per rejected field.
func toStatus(err error) error {
	switch {
	case errors.Is(err, common.ErrValidation):
		st := status.New(codes.InvalidArgument, err.Error())
		var ire *services.InvalidRequestError
		if errors.As(err, &ire) {
			if withDetails, derr := st.WithDetails(badRequest(ire)); derr == nil {
				st = withDetails
			}
		}
		return st.Err()
	case errors.Is(err, common.ErrInvalidToken), errors.Is(err, common.ErrTokenExpired), errors.Is(err, common.ErrUnauthorized):
		return status.Error(codes.Unauthenticated, "unauthorized")
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())
	default:
		return status.Error(codes.Internal, "internal error")
	}
}

func badRequest(e *services.InvalidRequestError) *errdetails.BadRequest {
	br := &errdetails.BadRequest{}
	for _, f := range e.Fields {
		br.FieldViolations = append(br.FieldViolations, &errdetails.BadRequest_FieldViolation{
			Field:       f.Field,
			Description: f.Message,
		})
	}
	for _, r := range e.Records {
		for _, f := range r.Fields {
			br.FieldViolations = append(br.FieldViolations, &errdetails.BadRequest_FieldViolation{
				Field:       syncapi.RecordField(r.Kind, r.ID, f.Field),
				Description: f.Message,
			})
		}
	}
	return br
}
