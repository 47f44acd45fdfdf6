package dispatch

import (
	"errors"

	apperrors "github.com/LingByte/LingGuard/pkg/errors"
)

var (
	ErrDispatchTimeout = errors.New("no worker available within dispatch timeout")
	ErrDraining        = errors.New("dispatcher is draining")
	ErrSessionClosed   = errors.New("session closed")
	ErrWorkerNotFound  = errors.New("worker not found")
	ErrWorkerExists    = errors.New("worker already registered")
)

// ToAppError converts dispatch errors to AppError
func ToAppError(err error) *apperrors.AppError {
	switch {
	case errors.Is(err, ErrDispatchTimeout):
		return apperrors.NewAppError(apperrors.ErrCodeDispatchTimeout, "No worker available").WithCause(err)
	case errors.Is(err, ErrDraining):
		return apperrors.NewAppError(apperrors.ErrCodeDraining, "Dispatcher is draining").WithCause(err)
	case errors.Is(err, ErrSessionClosed):
		return apperrors.NewAppError(apperrors.ErrCodeSessionClosed, "Session closed").WithCause(err)
	case errors.Is(err, ErrWorkerNotFound):
		return apperrors.NewAppError(apperrors.ErrCodeWorkerNotFound, "Worker not found").WithCause(err)
	case errors.Is(err, ErrWorkerExists):
		return apperrors.NewAppError(apperrors.ErrCodeInvalidInput, "Worker already registered").WithCause(err)
	default:
		return apperrors.WrapError(apperrors.ErrCodeInternal, err)
	}
}
