package apierr

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromStatus(t *testing.T) {
	tests := []struct {
		status int
		kind   error
		label  string
	}{
		{http.StatusUnauthorized, ErrAuth, "auth"},
		{http.StatusForbidden, ErrAuth, "auth"},
		{http.StatusNotFound, ErrNotFound, "not_found"},
		{http.StatusBadRequest, ErrRejected, "rejected"},
		{http.StatusConflict, ErrRejected, "rejected"},
		{http.StatusUnprocessableEntity, ErrRejected, "rejected"},
		{http.StatusInternalServerError, ErrNetwork, "network"},
		{http.StatusBadGateway, ErrNetwork, "network"},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprint(tt.status), func(t *testing.T) {
			err := FromStatus("list appointments", tt.status, "boom")
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.kind)
			assert.Equal(t, tt.label, Kind(err))
		})
	}

	assert.NoError(t, FromStatus("list appointments", http.StatusOK, ""))
}

func TestErrorUnwrapsCause(t *testing.T) {
	err := Network("fetch appointments", context.DeadlineExceeded)
	assert.ErrorIs(t, err, ErrNetwork)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.True(t, Retryable(err))
	assert.Contains(t, err.Error(), "fetch appointments: network error")

	var apiErr *Error
	wrapped := fmt.Errorf("querycache: %w", err)
	require.True(t, errors.As(wrapped, &apiErr))
	assert.Equal(t, "fetch appointments", apiErr.Op)
}

func TestOnlyNetworkIsRetryable(t *testing.T) {
	assert.False(t, Retryable(New(ErrAuth, "op", 401, nil)))
	assert.False(t, Retryable(Validation("op", errors.New("data missing"))))
	assert.False(t, Retryable(errors.New("plain")))
}

func TestHTTPStatus(t *testing.T) {
	assert.Equal(t, http.StatusUnauthorized, HTTPStatus(New(ErrAuth, "op", 401, nil)))
	assert.Equal(t, http.StatusBadGateway, HTTPStatus(Validation("op", nil)))
	assert.Equal(t, http.StatusServiceUnavailable, HTTPStatus(Network("op", nil)))
	assert.Equal(t, http.StatusInternalServerError, HTTPStatus(errors.New("plain")))
	assert.Equal(t, "unknown", Kind(errors.New("plain")))
	assert.Equal(t, "", Kind(nil))
}
