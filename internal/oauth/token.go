package oauth

import (
	"net/http"
	"time"

	"github.com/2389/mcpbox/internal/security"
	"github.com/2389/mcpbox/internal/store"
)

type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int    `json:"expires_in"`
	RefreshToken string `json:"refresh_token,omitempty"`
	Scope        string `json:"scope,omitempty"`
}

// HandleToken implements POST /token, dispatching on grant_type per
// SPEC_FULL.md §4.4.
func (s *Server) HandleToken(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writeOAuthError(w, http.StatusBadRequest, "invalid_request", "Invalid form body")
		return
	}
	w.Header().Set("Cache-Control", "no-store")

	switch r.FormValue("grant_type") {
	case "authorization_code":
		s.tokenAuthorizationCode(w, r)
	case "client_credentials":
		s.tokenClientCredentials(w, r)
	case "refresh_token":
		s.tokenRefresh(w, r)
	default:
		writeOAuthError(w, http.StatusBadRequest, "unsupported_grant_type", "Unsupported grant_type")
	}
}

func (s *Server) tokenAuthorizationCode(w http.ResponseWriter, r *http.Request) {
	code := r.FormValue("code")
	redirectURI := r.FormValue("redirect_uri")
	clientID := r.FormValue("client_id")
	clientSecret := r.FormValue("client_secret")
	verifier := r.FormValue("code_verifier")

	if code == "" || clientID == "" || verifier == "" {
		writeOAuthError(w, http.StatusBadRequest, "invalid_request", "Missing required parameter")
		return
	}

	s.mu.Lock()
	ac, ok := s.authCodes[code]
	if ok {
		delete(s.authCodes, code)
	}
	s.mu.Unlock()

	if !ok || time.Now().After(ac.expiresAt) {
		writeOAuthError(w, http.StatusBadRequest, "invalid_grant", "Unknown or expired authorization code")
		return
	}
	if ac.clientID != clientID {
		writeOAuthError(w, http.StatusBadRequest, "invalid_grant", "Authorization code does not match client or redirect_uri")
		return
	}
	if redirectURI != "" && ac.redirectURI != redirectURI {
		writeOAuthError(w, http.StatusBadRequest, "invalid_grant", "Authorization code does not match client or redirect_uri")
		return
	}

	client, err := s.store.GetClient(r.Context(), clientID)
	if err != nil {
		writeOAuthError(w, http.StatusBadRequest, "invalid_client", "Unknown client")
		return
	}
	if !s.authenticateClient(client, clientSecret) {
		writeOAuthError(w, http.StatusUnauthorized, "invalid_client", "Client authentication failed")
		return
	}

	if security.PKCEChallengeS256(verifier) != ac.codeChallenge {
		writeOAuthError(w, http.StatusBadRequest, "invalid_grant", "code_verifier does not match code_challenge")
		return
	}

	s.mintTokenPair(w, r, client.ClientID, ac.userID, ac.scope, true)
}

func (s *Server) tokenClientCredentials(w http.ResponseWriter, r *http.Request) {
	clientID := r.FormValue("client_id")
	clientSecret := r.FormValue("client_secret")
	if clientID == "" {
		writeOAuthError(w, http.StatusBadRequest, "invalid_request", "Missing client_id")
		return
	}

	client, err := s.store.GetClient(r.Context(), clientID)
	if err != nil {
		writeOAuthError(w, http.StatusBadRequest, "invalid_client", "Unknown client")
		return
	}
	if !client.HasGrant(store.GrantClientCredentials) {
		writeOAuthError(w, http.StatusBadRequest, "unauthorized_client", "Client is not authorized for client_credentials")
		return
	}
	if !s.authenticateClient(client, clientSecret) {
		writeOAuthError(w, http.StatusUnauthorized, "invalid_client", "Client authentication failed")
		return
	}

	s.mintTokenPair(w, r, client.ClientID, "client:"+client.ClientID, ProtocolScope, false)
}

func (s *Server) tokenRefresh(w http.ResponseWriter, r *http.Request) {
	refreshToken := r.FormValue("refresh_token")
	clientID := r.FormValue("client_id")
	clientSecret := r.FormValue("client_secret")
	if refreshToken == "" {
		writeOAuthError(w, http.StatusBadRequest, "invalid_request", "Missing refresh_token")
		return
	}

	hash := security.HashHex(refreshToken)
	rt, err := s.store.GetRefreshToken(r.Context(), hash)
	if err != nil {
		writeOAuthError(w, http.StatusBadRequest, "invalid_grant", "Unknown or expired refresh token")
		return
	}
	if clientID != "" && rt.ClientID != clientID {
		writeOAuthError(w, http.StatusBadRequest, "invalid_grant", "Refresh token does not belong to client")
		return
	}

	client, err := s.store.GetClient(r.Context(), rt.ClientID)
	if err != nil {
		writeOAuthError(w, http.StatusBadRequest, "invalid_client", "Unknown client")
		return
	}
	if !s.authenticateClient(client, clientSecret) {
		writeOAuthError(w, http.StatusUnauthorized, "invalid_client", "Client authentication failed")
		return
	}

	accessToken, err := security.NewToken()
	if err != nil {
		writeOAuthError(w, http.StatusInternalServerError, "server_error", "Failed to mint access token")
		return
	}
	newRefreshToken, err := security.NewToken()
	if err != nil {
		writeOAuthError(w, http.StatusInternalServerError, "server_error", "Failed to mint refresh token")
		return
	}

	now := time.Now()
	newRT := &store.RefreshToken{
		TokenHash: security.HashHex(newRefreshToken),
		ClientID:  rt.ClientID,
		Scope:     rt.Scope,
		ExpiresAt: now.Add(RefreshTokenTTL),
		UserID:    rt.UserID,
	}
	if err := s.store.RotateRefreshToken(r.Context(), hash, newRT); err != nil {
		writeOAuthError(w, http.StatusInternalServerError, "server_error", "Failed to rotate refresh token")
		return
	}
	if err := s.store.SaveAccessToken(r.Context(), &store.AccessToken{
		TokenHash: security.HashHex(accessToken),
		ClientID:  rt.ClientID,
		Scope:     rt.Scope,
		ExpiresAt: now.Add(AccessTokenTTL),
		UserID:    rt.UserID,
	}); err != nil {
		writeOAuthError(w, http.StatusInternalServerError, "server_error", "Failed to mint access token")
		return
	}

	writeJSON(w, http.StatusOK, tokenResponse{
		AccessToken:  accessToken,
		TokenType:    "Bearer",
		ExpiresIn:    int(AccessTokenTTL.Seconds()),
		RefreshToken: newRefreshToken,
		Scope:        rt.Scope,
	})
}

// authenticateClient enforces client_secret_post for confidential
// clients and accepts public clients (no registered secret) without
// one, per the "none"/"client_secret_post" methods advertised in
// discovery metadata.
func (s *Server) authenticateClient(client *store.Client, providedSecret string) bool {
	if client.ClientSecretHash == "" {
		return true
	}
	return security.ConstantTimeEqual(security.HashHex(providedSecret), client.ClientSecretHash)
}

// mintTokenPair issues an access token, and — when withRefresh is true —
// a refresh token alongside it, persisting both to the store.
func (s *Server) mintTokenPair(w http.ResponseWriter, r *http.Request, clientID, userID, scope string, withRefresh bool) {
	accessToken, err := security.NewToken()
	if err != nil {
		writeOAuthError(w, http.StatusInternalServerError, "server_error", "Failed to mint access token")
		return
	}

	now := time.Now()
	if err := s.store.SaveAccessToken(r.Context(), &store.AccessToken{
		TokenHash: security.HashHex(accessToken),
		ClientID:  clientID,
		Scope:     scope,
		ExpiresAt: now.Add(AccessTokenTTL),
		UserID:    userID,
	}); err != nil {
		writeOAuthError(w, http.StatusInternalServerError, "server_error", "Failed to mint access token")
		return
	}

	resp := tokenResponse{
		AccessToken: accessToken,
		TokenType:   "Bearer",
		ExpiresIn:   int(AccessTokenTTL.Seconds()),
		Scope:       scope,
	}

	if withRefresh {
		refreshToken, err := security.NewToken()
		if err != nil {
			writeOAuthError(w, http.StatusInternalServerError, "server_error", "Failed to mint refresh token")
			return
		}
		if err := s.store.SaveRefreshToken(r.Context(), &store.RefreshToken{
			TokenHash: security.HashHex(refreshToken),
			ClientID:  clientID,
			Scope:     scope,
			ExpiresAt: now.Add(RefreshTokenTTL),
			UserID:    userID,
		}); err != nil {
			writeOAuthError(w, http.StatusInternalServerError, "server_error", "Failed to mint refresh token")
			return
		}
		resp.RefreshToken = refreshToken
	}

	writeJSON(w, http.StatusOK, resp)
}
