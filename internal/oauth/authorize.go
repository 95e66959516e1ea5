package oauth

import (
	"context"
	"net/http"
	"net/url"
	"time"

	"github.com/2389/mcpbox/internal/security"
	"github.com/2389/mcpbox/internal/store"
)

// HandleAuthorize implements GET and POST /authorize.
func (s *Server) HandleAuthorize(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodPost {
		s.handleAuthorizePost(w, r)
		return
	}
	s.handleAuthorizeGet(w, r)
}

type authorizeParams struct {
	clientID            string
	redirectURI         string
	responseType        string
	codeChallenge       string
	codeChallengeMethod string
	scope               string
}

// validateAuthorize runs the validation steps 1-4 from SPEC_FULL.md
// §4.4 on a GET /authorize request; POST /authorize works from the
// pending session that GET created and does not call it.
func (s *Server) validateAuthorize(ctx context.Context, q url.Values) (authorizeParams, *store.Client, int, string, string) {
	if !s.hasIdentityProviders() {
		return authorizeParams{}, nil, http.StatusBadRequest, "invalid_request", "Authorization Code flow not available"
	}

	p := authorizeParams{
		clientID:            q.Get("client_id"),
		redirectURI:         q.Get("redirect_uri"),
		responseType:        q.Get("response_type"),
		codeChallenge:       q.Get("code_challenge"),
		codeChallengeMethod: q.Get("code_challenge_method"),
		scope:               q.Get("scope"),
	}

	if p.clientID == "" || p.redirectURI == "" || p.codeChallenge == "" || p.responseType != "code" || p.codeChallengeMethod != "S256" {
		return p, nil, http.StatusBadRequest, "invalid_request", "Missing or invalid required parameter"
	}

	client, err := s.store.GetClient(ctx, p.clientID)
	if err != nil {
		return p, nil, http.StatusBadRequest, "invalid_client", "Unknown client"
	}

	if !client.HasRedirectURI(p.redirectURI) {
		return p, nil, http.StatusBadRequest, "invalid_request", "Invalid redirect_uri"
	}

	return p, client, 0, "", ""
}

func (s *Server) handleAuthorizeGet(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	p, client, status, errCode, errDesc := s.validateAuthorize(r.Context(), q)
	if status != 0 {
		writeOAuthError(w, status, errCode, errDesc)
		return
	}

	sessionID, err := security.NewSessionID()
	if err != nil {
		writeOAuthError(w, http.StatusInternalServerError, "server_error", "Failed to start session")
		return
	}

	sess := &pendingSession{
		sessionID:           sessionID,
		clientID:            client.ClientID,
		clientName:          client.ClientName,
		redirectURI:         p.redirectURI,
		state:               q.Get("state"),
		codeChallenge:       p.codeChallenge,
		codeChallengeMethod: p.codeChallengeMethod,
		scope:               p.scope,
		originalQuery:       q.Encode(),
		expiresAt:           time.Now().Add(PendingSessionTTL),
	}

	if idpID := q.Get("idp"); idpID != "" {
		if provider, ok := s.redirectProviders[idpID]; ok {
			s.redirectToProvider(w, r, sess, provider)
			return
		}
	} else if len(s.redirectProviders) == 1 && len(s.formProviders) == 0 {
		for _, provider := range s.redirectProviders {
			s.redirectToProvider(w, r, sess, provider)
			return
		}
	}

	s.mu.Lock()
	s.pendingSessions[sessionID] = sess
	s.mu.Unlock()

	s.renderLoginPage(w, sess, "")
}

func (s *Server) redirectToProvider(w http.ResponseWriter, r *http.Request, sess *pendingSession, provider interface {
	ID() string
	AuthorizationURL(callbackURL, state string) string
}) {
	sess.providerID = provider.ID()
	s.mu.Lock()
	s.pendingSessions[sess.sessionID] = sess
	s.mu.Unlock()

	callbackURL := s.issuer + "/callback/" + provider.ID()
	http.Redirect(w, r, provider.AuthorizationURL(callbackURL, sess.sessionID), http.StatusFound)
}

func (s *Server) handleAuthorizePost(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writeOAuthError(w, http.StatusBadRequest, "invalid_request", "Invalid form body")
		return
	}

	sessionID := r.FormValue("session_id")
	if sessionID == "" {
		writeOAuthError(w, http.StatusBadRequest, "invalid_request", "Missing session_id")
		return
	}

	s.mu.Lock()
	sess, ok := s.pendingSessions[sessionID]
	s.mu.Unlock()
	if !ok || time.Now().After(sess.expiresAt) {
		writeOAuthError(w, http.StatusBadRequest, "invalid_request", "Unknown or expired session_id")
		return
	}

	username := r.FormValue("username")
	password := r.FormValue("password")

	for _, provider := range s.formProviders {
		user, ok := provider.Validate(r.Context(), username, password)
		if !ok {
			continue
		}
		s.mu.Lock()
		delete(s.pendingSessions, sessionID)
		s.mu.Unlock()
		s.issueAuthorizationCode(w, r, sess, user.ID)
		return
	}

	s.renderLoginPage(w, sess, "Invalid username or password")
}

// issueAuthorizationCode mints the code, stores the transient record,
// discards the pending session, and redirects the browser back to the
// client's redirect_uri.
func (s *Server) issueAuthorizationCode(w http.ResponseWriter, r *http.Request, sess *pendingSession, userID string) {
	code, err := security.NewToken()
	if err != nil {
		writeOAuthError(w, http.StatusInternalServerError, "server_error", "Failed to issue authorization code")
		return
	}

	s.mu.Lock()
	s.authCodes[code] = &authCode{
		code:                code,
		clientID:            sess.clientID,
		redirectURI:         sess.redirectURI,
		codeChallenge:       sess.codeChallenge,
		codeChallengeMethod: sess.codeChallengeMethod,
		scope:               sess.scope,
		userID:              userID,
		expiresAt:           time.Now().Add(AuthCodeTTL),
	}
	s.mu.Unlock()

	redirectURL, err := url.Parse(sess.redirectURI)
	if err != nil {
		writeOAuthError(w, http.StatusInternalServerError, "server_error", "Invalid redirect_uri")
		return
	}
	q := redirectURL.Query()
	q.Set("code", code)
	if sess.state != "" {
		q.Set("state", sess.state)
	}
	redirectURL.RawQuery = q.Encode()

	http.Redirect(w, r, redirectURL.String(), http.StatusFound)
}
