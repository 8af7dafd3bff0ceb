package grpcserver

import (
	"context"
	"errors"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"dmeRoutePlanner/internal/apperr"
)

// toStatus maps domain errors onto gRPC codes. Errors that already carry a
// status pass through unchanged.
func toStatus(err error) error {
	if err == nil {
		return nil
	}
	if s, ok := status.FromError(err); ok {
		return s.Err()
	}
	var nf *apperr.NotFoundError
	switch {
	case errors.As(err, &nf) && nf.Kind == "session":
		return status.Error(codes.FailedPrecondition, err.Error())
	case errors.Is(err, apperr.ErrValidation):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, apperr.ErrNotFound):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, apperr.ErrConflict):
		return status.Error(codes.Aborted, err.Error())
	case errors.Is(err, apperr.ErrIdentity):
		return status.Error(codes.DataLoss, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, err.Error())
	case errors.Is(err, apperr.ErrOptimizationParse),
		errors.Is(err, apperr.ErrOptimization),
		errors.Is(err, apperr.ErrPersistence):
		return status.Error(codes.Unavailable, err.Error())
	default:
		return status.Errorf(codes.Internal, "internal: %v", err)
	}
}
