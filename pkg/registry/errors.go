package registry

import (
	"errors"

	apperrors "github.com/LingByte/LingGuard/pkg/errors"
)

var (
	ErrSessionNotFound = errors.New("session not found")
	ErrNotAccepting    = errors.New("registry is not accepting new sessions")
	ErrInvalidVehicle  = errors.New("vehicle id is required")
)

var (
	ErrSessionNotFoundApp = apperrors.NewAppError(apperrors.ErrCodeSessionNotFound, "Session not found")
	ErrNotAcceptingApp    = apperrors.NewAppError(apperrors.ErrCodeNotAccepting, "Not accepting new sessions")
	ErrInvalidVehicleApp  = apperrors.NewAppError(apperrors.ErrCodeInvalidInput, "Vehicle id is required")
)

// ToAppError converts registry errors to AppError
func ToAppError(err error) *apperrors.AppError {
	switch {
	case errors.Is(err, ErrSessionNotFound):
		return ErrSessionNotFoundApp.WithCause(err)
	case errors.Is(err, ErrNotAccepting):
		return ErrNotAcceptingApp.WithCause(err)
	case errors.Is(err, ErrInvalidVehicle):
		return ErrInvalidVehicleApp.WithCause(err)
	default:
		return apperrors.WrapError(apperrors.ErrCodeInternal, err)
	}
}
