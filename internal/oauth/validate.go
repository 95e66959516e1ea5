package oauth

import (
	"context"
	"time"

	"github.com/2389/mcpbox/internal/security"
)

// ValidateToken implements auth.TokenValidator: it hashes the bearer
// token, looks up the matching access-token record, and rejects it if
// absent or expired.
func (s *Server) ValidateToken(ctx context.Context, token string) (string, bool) {
	at, err := s.store.GetAccessToken(ctx, security.HashHex(token))
	if err != nil {
		return "", false
	}
	if at.Expired(time.Now()) {
		return "", false
	}
	return at.UserID, true
}
