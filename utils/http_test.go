package utils

import (
	"encoding/json"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteJSON(t *testing.T) {
	w := httptest.NewRecorder()
	err := WriteJSON(w, 200, map[string]string{"status": "ok"})
	require.NoError(t, err)

	assert.Equal(t, 200, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

	var body map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
}

func TestWriteJSON_NilBody(t *testing.T) {
	w := httptest.NewRecorder()
	err := WriteJSON(w, 204, nil)
	require.NoError(t, err)
	assert.Equal(t, 204, w.Code)
	assert.Empty(t, w.Body.Bytes())
}

func TestWriteOK(t *testing.T) {
	w := httptest.NewRecorder()
	require.NoError(t, WriteOK(w, map[string]int{"count": 3}))
	assert.Equal(t, 200, w.Code)

	var resp SuccessResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.NotNil(t, resp.Data)
}

func TestWriteErrorResponses(t *testing.T) {
	tests := []struct {
		name       string
		write      func(w *httptest.ResponseRecorder) error
		wantStatus int
		wantError  string
	}{
		{
			name: "bad request",
			write: func(w *httptest.ResponseRecorder) error {
				return WriteBadRequest(w, "invalid input", nil)
			},
			wantStatus: 400,
			wantError:  "bad_request",
		},
		{
			name: "unauthorized default message",
			write: func(w *httptest.ResponseRecorder) error {
				return WriteUnauthorized(w, "")
			},
			wantStatus: 401,
			wantError:  "unauthorized",
		},
		{
			name: "forbidden",
			write: func(w *httptest.ResponseRecorder) error {
				return WriteForbidden(w, "admin only")
			},
			wantStatus: 403,
			wantError:  "forbidden",
		},
		{
			name: "not found",
			write: func(w *httptest.ResponseRecorder) error {
				return WriteNotFound(w, "")
			},
			wantStatus: 404,
			wantError:  "not_found",
		},
		{
			name: "internal server error",
			write: func(w *httptest.ResponseRecorder) error {
				return WriteInternalServerError(w, "")
			},
			wantStatus: 500,
			wantError:  "internal_error",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			require.NoError(t, tt.write(w))
			assert.Equal(t, tt.wantStatus, w.Code)

			var resp ErrorResponse
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
			assert.Equal(t, tt.wantError, resp.Error)
			assert.NotEmpty(t, resp.Message)
		})
	}
}

func TestWriteTooManyRequests(t *testing.T) {
	w := httptest.NewRecorder()
	body := map[string]interface{}{
		"error":   true,
		"message": "Rate limit exceeded for web_search",
		"rate_limit": map[string]interface{}{
			"limit":               50,
			"retry_after_minutes": 40,
		},
	}
	require.NoError(t, WriteTooManyRequests(w, body))
	assert.Equal(t, 429, w.Code)

	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, true, resp["error"])

	rl, ok := resp["rate_limit"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, float64(40), rl["retry_after_minutes"])
	assert.Equal(t, float64(50), rl["limit"])
}
