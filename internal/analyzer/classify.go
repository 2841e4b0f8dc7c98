package analyzer

import (
	"context"
	"errors"
	"net/http"

	"github.com/Lllllllleong/slideflow/internal/pipeline"
	"google.golang.org/api/googleapi"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// classify wraps a model call error as retryable or permanent. Errors of an
// unknown shape are left unwrapped, which the retry policy treats as transient.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return pipeline.Retryable(err)
	}

	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		switch {
		case gerr.Code == http.StatusTooManyRequests, gerr.Code == http.StatusRequestTimeout, gerr.Code >= 500:
			return pipeline.Retryable(err)
		case gerr.Code >= 400:
			return pipeline.Permanent(err)
		}
		return err
	}

	if st, ok := status.FromError(err); ok {
		switch st.Code() {
		case codes.Unavailable, codes.DeadlineExceeded, codes.ResourceExhausted, codes.Internal, codes.Aborted:
			return pipeline.Retryable(err)
		case codes.Unauthenticated, codes.PermissionDenied, codes.InvalidArgument, codes.NotFound,
			codes.FailedPrecondition, codes.Unimplemented, codes.OutOfRange:
			return pipeline.Permanent(err)
		}
	}
	return err
}
