// ABOUTME: HTTP middleware selecting between the three configured auth modes
// ABOUTME: apikey (constant-time header compare), oauth (bearer validation), none (passthrough)

package auth

import (
	"context"
	"net/http"
	"regexp"
	"strings"

	"github.com/2389/mcpbox/internal/security"
)

// TokenValidator is satisfied by the OAuth server: given a bearer
// token, it reports the userId bound to it, or ok=false if the token
// is absent, malformed, or expired.
type TokenValidator interface {
	ValidateToken(ctx context.Context, token string) (userID string, ok bool)
}

var bearerPattern = regexp.MustCompile(`(?i)^Bearer\s+(.+)$`)

// ExtractBearer pulls the token out of an Authorization header value,
// matching "Bearer <token>" case-insensitively per RFC 6750.
func ExtractBearer(header string) (string, bool) {
	m := bearerPattern.FindStringSubmatch(header)
	if m == nil {
		return "", false
	}
	return m[1], true
}

// APIKeyMiddleware accepts requests carrying the configured key either
// via X-API-Key or via Authorization: {Bearer|ApiKey} <key>, compared
// under constant time.
func APIKeyMiddleware(apiKey string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			candidate := r.Header.Get("X-API-Key")
			if candidate == "" {
				if auth := r.Header.Get("Authorization"); auth != "" {
					if tok, ok := ExtractBearer(auth); ok {
						candidate = tok
					} else if strings.HasPrefix(strings.ToLower(auth), "apikey ") {
						candidate = auth[len("apikey "):]
					}
				}
			}

			if candidate == "" || !security.ConstantTimeEqual(candidate, apiKey) {
				writeUnauthorized(w, "")
				return
			}

			next.ServeHTTP(w, r.WithContext(WithAuth(r.Context(), &AuthContext{UserID: "apikey"})))
		})
	}
}

// OAuthMiddleware validates the bearer token against validator and, on
// failure, sends the RFC 9728 WWW-Authenticate challenge pointing at
// the protected-resource metadata document.
func OAuthMiddleware(validator TokenValidator, issuer string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := ExtractBearer(r.Header.Get("Authorization"))
			if !ok {
				writeUnauthorized(w, issuer)
				return
			}

			userID, ok := validator.ValidateToken(r.Context(), token)
			if !ok {
				writeUnauthorized(w, issuer)
				return
			}

			next.ServeHTTP(w, r.WithContext(WithAuth(r.Context(), &AuthContext{UserID: userID})))
		})
	}
}

// NoAuthMiddleware passes every request through unauthenticated, for
// gateways configured with no auth mode at all.
func NoAuthMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return next
	}
}

func writeUnauthorized(w http.ResponseWriter, issuer string) {
	if issuer != "" {
		w.Header().Set("WWW-Authenticate", `Bearer resource_metadata="`+issuer+`/.well-known/oauth-protected-resource"`)
	} else {
		w.Header().Set("WWW-Authenticate", `Bearer`)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_, _ = w.Write([]byte(`{"error":"unauthorized"}`))
}
