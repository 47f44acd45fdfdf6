package signaling

import (
	"errors"
	"fmt"

	apperrors "github.com/LingByte/LingGuard/pkg/errors"
	"github.com/LingByte/LingGuard/pkg/models"
	"github.com/LingByte/LingGuard/pkg/protocol"
)

var (
	ErrUndefinedTransition = errors.New("undefined transition")
	ErrMalformedPayload    = errors.New("malformed payload")
	ErrNegotiationTimeout  = errors.New("negotiation timed out")
	ErrReconnectExpired    = errors.New("reconnect grace expired")
	ErrUnknownKind         = errors.New("unknown message kind")
	ErrNegotiator          = errors.New("negotiator failed")
)

// Error is a signaling failure for one session and message.
type Error struct {
	SessionID string
	Kind      protocol.MessageKind
	State     models.SignalingState
	Err       error
}

func (e *Error) Error() string {
	return fmt.Sprintf("signaling %s in state %s for session %s: %v", e.Kind, e.State, e.SessionID, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Code maps the failure to the error taxonomy
func (e *Error) Code() apperrors.ErrorCode {
	switch {
	case errors.Is(e.Err, ErrNegotiationTimeout):
		return apperrors.ErrCodeNegotiationTimeout
	case errors.Is(e.Err, ErrReconnectExpired):
		return apperrors.ErrCodeReconnectExpired
	case errors.Is(e.Err, ErrNegotiator):
		return apperrors.ErrCodeTransport
	default:
		return apperrors.ErrCodeSignaling
	}
}

// ToAppError converts a signaling error to AppError
func ToAppError(err error) *apperrors.AppError {
	var se *Error
	if errors.As(err, &se) {
		return apperrors.NewAppError(se.Code(), se.Err.Error()).
			WithDetails("state", se.State.String()).
			WithDetails("kind", string(se.Kind)).
			WithCause(err)
	}
	return apperrors.WrapError(apperrors.ErrCodeSignaling, err)
}
