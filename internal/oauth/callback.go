package oauth

import (
	"net/http"
	"strings"
	"time"
)

// HandleCallback implements GET /callback/{providerId}, the redirect
// target a RedirectProvider (GitHub, a passkey ceremony) sends the
// browser back to once it has authenticated the user.
func (s *Server) HandleCallback(w http.ResponseWriter, r *http.Request) {
	providerID := strings.TrimPrefix(r.URL.Path, "/callback/")
	if providerID == "" {
		writeOAuthError(w, http.StatusNotFound, "invalid_request", "Missing provider id")
		return
	}

	provider, ok := s.redirectProviders[providerID]
	if !ok {
		writeOAuthError(w, http.StatusNotFound, "invalid_request", "Unknown identity provider")
		return
	}

	q := r.URL.Query()
	sessionID := q.Get("state")
	if sessionID == "" {
		writeOAuthError(w, http.StatusBadRequest, "invalid_request", "Missing state")
		return
	}

	s.mu.Lock()
	sess, ok := s.pendingSessions[sessionID]
	s.mu.Unlock()
	if !ok || time.Now().After(sess.expiresAt) {
		writeOAuthError(w, http.StatusBadRequest, "invalid_request", "Unknown or expired session")
		return
	}
	if sess.providerID != providerID {
		writeOAuthError(w, http.StatusBadRequest, "invalid_request", "Provider mismatch")
		return
	}

	callbackQuery := make(map[string]string, len(q))
	for k := range q {
		callbackQuery[k] = q.Get(k)
	}

	user, ok := provider.HandleCallback(r.Context(), callbackQuery)
	if !ok {
		writeOAuthError(w, http.StatusForbidden, "access_denied", "Identity provider denied the request")
		return
	}

	s.mu.Lock()
	delete(s.pendingSessions, sessionID)
	s.mu.Unlock()

	s.issueAuthorizationCode(w, r, sess, user.ID)
}
