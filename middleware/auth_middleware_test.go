package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"go.uber.org/zap"
)

type MockTokenValidator struct {
	mock.Mock
}

func (m *MockTokenValidator) ValidateToken(ctx context.Context, token string) (*Claims, error) {
	args := m.Called(ctx, token)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*Claims), args.Error(1)
}

func okHandler(captured *context.Context) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if captured != nil {
			*captured = r.Context()
		}
		w.WriteHeader(http.StatusOK)
	})
}

func TestRequireAuth_MissingToken(t *testing.T) {
	validator := new(MockTokenValidator)
	m := NewAuthMiddleware(validator, zap.NewNop())

	req := httptest.NewRequest("GET", "/api/v1/tools/metrics", nil)
	w := httptest.NewRecorder()

	m.RequireAuth(okHandler(nil)).ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	validator.AssertNotCalled(t, "ValidateToken")
}

func TestRequireAuth_InvalidToken(t *testing.T) {
	validator := new(MockTokenValidator)
	validator.On("ValidateToken", mock.Anything, "bad-token").Return(nil, assert.AnError)
	m := NewAuthMiddleware(validator, zap.NewNop())

	req := httptest.NewRequest("GET", "/api/v1/tools/metrics", nil)
	req.Header.Set("Authorization", "Bearer bad-token")
	w := httptest.NewRecorder()

	m.RequireAuth(okHandler(nil)).ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestRequireAuth_ValidBearerToken(t *testing.T) {
	userID := uuid.New()
	validator := new(MockTokenValidator)
	validator.On("ValidateToken", mock.Anything, "good-token").Return(&Claims{
		Sub:   userID.String(),
		Roles: []string{"user"},
	}, nil)
	m := NewAuthMiddleware(validator, zap.NewNop())

	req := httptest.NewRequest("GET", "/api/v1/tools/metrics", nil)
	req.Header.Set("Authorization", "Bearer good-token")
	w := httptest.NewRecorder()

	var ctx context.Context
	m.RequireAuth(okHandler(&ctx)).ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, userID, GetUserIDFromContext(ctx))
	assert.NotNil(t, GetClaimsFromContext(ctx))
}

func TestRequireAuth_CookieFallback(t *testing.T) {
	userID := uuid.New()
	validator := new(MockTokenValidator)
	validator.On("ValidateToken", mock.Anything, "cookie-token").Return(&Claims{
		Sub: userID.String(),
	}, nil)
	m := NewAuthMiddleware(validator, zap.NewNop())

	req := httptest.NewRequest("GET", "/api/v1/tools/metrics", nil)
	req.AddCookie(&http.Cookie{Name: "auth_token", Value: "cookie-token"})
	w := httptest.NewRecorder()

	m.RequireAuth(okHandler(nil)).ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRequireAuth_NonUUIDSubject(t *testing.T) {
	validator := new(MockTokenValidator)
	validator.On("ValidateToken", mock.Anything, "good-token").Return(&Claims{
		Sub: "service-account",
	}, nil)
	m := NewAuthMiddleware(validator, zap.NewNop())

	req := httptest.NewRequest("GET", "/api/v1/tools/metrics", nil)
	req.Header.Set("Authorization", "Bearer good-token")
	w := httptest.NewRecorder()

	m.RequireAuth(okHandler(nil)).ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestRequireRole(t *testing.T) {
	m := NewAuthMiddleware(new(MockTokenValidator), zap.NewNop())

	t.Run("no claims", func(t *testing.T) {
		req := httptest.NewRequest("DELETE", "/api/v1/admin/ratelimits/tool_call/x", nil)
		w := httptest.NewRecorder()

		m.RequireRole("admin")(okHandler(nil)).ServeHTTP(w, req)
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("missing role", func(t *testing.T) {
		req := httptest.NewRequest("DELETE", "/api/v1/admin/ratelimits/tool_call/x", nil)
		req = req.WithContext(WithClaims(req.Context(), &Claims{Sub: uuid.NewString(), Roles: []string{"user"}}))
		w := httptest.NewRecorder()

		m.RequireRole("admin")(okHandler(nil)).ServeHTTP(w, req)
		assert.Equal(t, http.StatusForbidden, w.Code)
	})

	t.Run("has role", func(t *testing.T) {
		req := httptest.NewRequest("DELETE", "/api/v1/admin/ratelimits/tool_call/x", nil)
		req = req.WithContext(WithClaims(req.Context(), &Claims{Sub: uuid.NewString(), Roles: []string{"user", "admin"}}))
		w := httptest.NewRecorder()

		m.RequireRole("admin")(okHandler(nil)).ServeHTTP(w, req)
		assert.Equal(t, http.StatusOK, w.Code)
	})
}

func TestExtractBearerToken(t *testing.T) {
	tests := []struct {
		name   string
		header string
		want   string
	}{
		{"empty", "", ""},
		{"bearer", "Bearer abc123", "abc123"},
		{"lowercase scheme", "bearer abc123", "abc123"},
		{"wrong scheme", "Basic abc123", ""},
		{"no token", "Bearer", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			assert.Equal(t, tt.want, extractBearerToken(req))
		})
	}
}
