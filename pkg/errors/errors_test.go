package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPStatus(t *testing.T) {
	tests := []struct {
		code ErrorCode
		want int
	}{
		{ErrCodeSessionNotFound, http.StatusNotFound},
		{ErrCodeSignaling, http.StatusConflict},
		{ErrCodeNegotiationTimeout, http.StatusGatewayTimeout},
		{ErrCodeDraining, http.StatusServiceUnavailable},
		{ErrCodeInvalidInput, http.StatusBadRequest},
		{ErrCodeInternal, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(string(tt.code), func(t *testing.T) {
			assert.Equal(t, tt.want, NewAppError(tt.code, "x").HTTPStatus)
		})
	}
}

func TestWrapAndUnwrap(t *testing.T) {
	cause := stderrors.New("socket reset")
	err := fmt.Errorf("submit: %w", WrapError(ErrCodeTransport, cause))

	assert.True(t, IsAppError(err))
	appErr, ok := AsAppError(err)
	require.True(t, ok)
	assert.Equal(t, ErrCodeTransport, appErr.Code)
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, ErrCodeTransport, CodeOf(err))
	assert.Equal(t, ErrCodeInternal, CodeOf(cause))
}

func TestWithDetails_DoesNotMutate(t *testing.T) {
	base := NewAppError(ErrCodeFrameRejected, "frame rejected")
	detailed := base.WithDetails("seq", 4)

	assert.Nil(t, base.Details)
	assert.Equal(t, 4, detailed.Details["seq"])
	assert.Contains(t, detailed.WithCause(stderrors.New("late")).Error(), "caused by: late")
}
