package domain

import "errors"

var (
	ErrInvalidArgument    = errors.New("invalid argument")
	ErrNotFound           = errors.New("not found")
	ErrFailedPrecondition = errors.New("failed precondition")
	ErrPermissionDenied   = errors.New("permission denied")
	ErrInternal           = errors.New("internal error")

	ErrUnauthenticated      = errors.New("unauthenticated")
	ErrConflict             = errors.New("conflict")
	ErrInvalidEnvelope      = errors.New("invalid envelope")
	ErrUnsupportedEventType = errors.New("unsupported event type")
	ErrGatewayUnavailable   = errors.New("payment gateway unavailable")
	ErrStorageUnavailable   = errors.New("storage unavailable")
)

// Public error codes returned to callers.
const (
	CodeInvalidArgument    = "invalid-argument"
	CodeNotFound           = "not-found"
	CodeFailedPrecondition = "failed-precondition"
	CodePermissionDenied   = "permission-denied"
	CodeUnauthenticated    = "unauthenticated"
	CodeInternal           = "internal"
)

// ErrorCode classifies err into one of the public error codes. Anything that
// is not a recognised domain error is internal.
func ErrorCode(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrInvalidArgument), errors.Is(err, ErrInvalidEnvelope):
		return CodeInvalidArgument
	case errors.Is(err, ErrNotFound):
		return CodeNotFound
	case errors.Is(err, ErrFailedPrecondition), errors.Is(err, ErrConflict):
		return CodeFailedPrecondition
	case errors.Is(err, ErrPermissionDenied):
		return CodePermissionDenied
	case errors.Is(err, ErrUnauthenticated):
		return CodeUnauthenticated
	default:
		return CodeInternal
	}
}
