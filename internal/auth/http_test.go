package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth := FromContext(r.Context())
		if auth != nil {
			w.Header().Set("X-User-Id", auth.UserID)
		}
		w.WriteHeader(http.StatusOK)
	})
}

func TestExtractBearer(t *testing.T) {
	tok, ok := ExtractBearer("Bearer abc123")
	require.True(t, ok)
	assert.Equal(t, "abc123", tok)

	_, ok = ExtractBearer("bearer abc123")
	assert.True(t, ok, "match must be case-insensitive")

	_, ok = ExtractBearer("Basic abc123")
	assert.False(t, ok)

	_, ok = ExtractBearer("")
	assert.False(t, ok)
}

func TestAPIKeyMiddleware_HeaderVariants(t *testing.T) {
	mw := APIKeyMiddleware("supersecretkey1234")(okHandler())

	cases := []struct {
		name    string
		setup   func(r *http.Request)
		wantOK  bool
	}{
		{"x-api-key", func(r *http.Request) { r.Header.Set("X-API-Key", "supersecretkey1234") }, true},
		{"bearer", func(r *http.Request) { r.Header.Set("Authorization", "Bearer supersecretkey1234") }, true},
		{"apikey scheme", func(r *http.Request) { r.Header.Set("Authorization", "ApiKey supersecretkey1234") }, true},
		{"wrong key", func(r *http.Request) { r.Header.Set("X-API-Key", "wrong") }, false},
		{"missing", func(r *http.Request) {}, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/status", nil)
			tc.setup(req)
			rec := httptest.NewRecorder()
			mw.ServeHTTP(rec, req)
			if tc.wantOK {
				assert.Equal(t, http.StatusOK, rec.Code)
				assert.Equal(t, "apikey", rec.Header().Get("X-User-Id"))
			} else {
				assert.Equal(t, http.StatusUnauthorized, rec.Code)
			}
		})
	}
}

type fakeValidator struct {
	userID string
	ok     bool
}

func (f fakeValidator) ValidateToken(_ context.Context, _ string) (string, bool) {
	return f.userID, f.ok
}

func TestOAuthMiddleware_Success(t *testing.T) {
	mw := OAuthMiddleware(fakeValidator{userID: "local:alice", ok: true}, "https://gw.example.com")(okHandler())

	req := httptest.NewRequest(http.MethodPost, "/mcp", nil)
	req.Header.Set("Authorization", "Bearer sometoken")
	rec := httptest.NewRecorder()
	mw.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "local:alice", rec.Header().Get("X-User-Id"))
}

func TestOAuthMiddleware_MissingHeaderChallenges(t *testing.T) {
	mw := OAuthMiddleware(fakeValidator{ok: false}, "https://gw.example.com")(okHandler())

	req := httptest.NewRequest(http.MethodPost, "/mcp", nil)
	rec := httptest.NewRecorder()
	mw.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Header().Get("WWW-Authenticate"), "https://gw.example.com/.well-known/oauth-protected-resource")
}

func TestOAuthMiddleware_InvalidToken(t *testing.T) {
	mw := OAuthMiddleware(fakeValidator{ok: false}, "https://gw.example.com")(okHandler())

	req := httptest.NewRequest(http.MethodPost, "/mcp", nil)
	req.Header.Set("Authorization", "Bearer badtoken")
	rec := httptest.NewRecorder()
	mw.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestNoAuthMiddleware_Passthrough(t *testing.T) {
	mw := NoAuthMiddleware()(okHandler())
	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	rec := httptest.NewRecorder()
	mw.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}
