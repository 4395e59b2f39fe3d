package errors

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestError_Is(t *testing.T) {
	err := Forbidden("Manager can only create USER")

	assert.True(t, Is(err, ErrForbidden), "category sentinel should match any reason")
	assert.True(t, Is(err, Forbidden("Manager can only create USER")))
	assert.False(t, Is(err, Forbidden("Only ADMIN can create ADMIN")))
	assert.False(t, Is(err, ErrConflict))

	wrapped := fmt.Errorf("create user: %w", ErrTokenUsed)
	assert.True(t, Is(wrapped, ErrTokenUsed))
	assert.False(t, Is(wrapped, ErrTokenExpired))
}

func TestQuotaExceeded(t *testing.T) {
	err := QuotaExceeded("Manager")

	assert.Equal(t, "Manager quota reached", err.Error())
	assert.Equal(t, "Manager", err.Label)
	assert.True(t, IsQuotaExceeded(err))
	assert.False(t, IsQuotaExceeded(Forbidden("x")))
}

func TestReason(t *testing.T) {
	assert.Equal(t, "Cannot delete yourself", Reason(fmt.Errorf("wrap: %w", Forbidden("Cannot delete yourself"))))
	assert.Equal(t, "", Reason(New("plain")))
}

func TestWrite(t *testing.T) {
	t.Run("typed error", func(t *testing.T) {
		rr := httptest.NewRecorder()
		Write(rr, httptest.NewRequest(http.MethodPost, "/api/admin/sites/s/users", nil), QuotaExceeded("User"))

		assert.Equal(t, http.StatusForbidden, rr.Code)

		var body ErrorResponse
		require.NoError(t, json.NewDecoder(rr.Body).Decode(&body))
		assert.Equal(t, ErrCodeQuotaExceeded, body.Code)
		assert.Equal(t, "User quota reached", body.Message)
		assert.Equal(t, map[string]interface{}{"resource": "User"}, body.Details)
	})

	t.Run("untyped error is hidden", func(t *testing.T) {
		var logs bytes.Buffer
		ctx := zerolog.New(&logs).With().Str("request_id", "01HZREQ").Logger().WithContext(context.Background())
		req := httptest.NewRequest(http.MethodGet, "/api/admin/users", nil).WithContext(ctx)

		rr := httptest.NewRecorder()
		Write(rr, req, New("sqlite: disk I/O error"))

		assert.Equal(t, http.StatusInternalServerError, rr.Code)

		var body ErrorResponse
		require.NoError(t, json.NewDecoder(rr.Body).Decode(&body))
		assert.Equal(t, "Internal server error", body.Message)
		assert.NotContains(t, rr.Body.String(), "sqlite")

		assert.Contains(t, logs.String(), `"request_id":"01HZREQ"`)
		assert.Contains(t, logs.String(), "sqlite: disk I/O error")
		assert.Contains(t, logs.String(), `"path":"/api/admin/users"`)
	})
}
