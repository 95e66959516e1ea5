package oauth

import (
	"encoding/json"
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"

	"github.com/2389/mcpbox/internal/security"
	"github.com/2389/mcpbox/internal/store"
)

type registerRequest struct {
	ClientName   string   `json:"client_name"`
	RedirectURIs []string `json:"redirect_uris"`
}

type registerResponse struct {
	ClientID                string   `json:"client_id"`
	ClientSecret            string   `json:"client_secret,omitempty"`
	ClientName              string   `json:"client_name,omitempty"`
	RedirectURIs            []string `json:"redirect_uris"`
	GrantTypes              []string `json:"grant_types"`
	ResponseTypes           []string `json:"response_types"`
	TokenEndpointAuthMethod string   `json:"token_endpoint_auth_method"`
}

// HandleRegister implements RFC 7591 dynamic client registration at
// POST /register. It is only reachable when dynamic_registration is
// enabled in configuration; HandleAuthServerMetadata omits
// registration_endpoint otherwise.
func (s *Server) HandleRegister(w http.ResponseWriter, r *http.Request) {
	if !s.dynamicRegistration {
		writeOAuthError(w, http.StatusNotFound, "invalid_request", "Dynamic client registration is disabled")
		return
	}

	var req registerRequest
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		writeOAuthError(w, http.StatusBadRequest, "invalid_client_metadata", "Malformed JSON body")
		return
	}

	if len(req.RedirectURIs) == 0 {
		writeOAuthError(w, http.StatusBadRequest, "invalid_redirect_uri", "At least one redirect_uri is required")
		return
	}
	for _, uri := range req.RedirectURIs {
		parsed, err := url.Parse(uri)
		if err != nil || !parsed.IsAbs() {
			writeOAuthError(w, http.StatusBadRequest, "invalid_redirect_uri", "redirect_uris must be absolute URLs")
			return
		}
	}

	clientID := uuid.NewString()
	clientSecret, err := security.NewToken()
	if err != nil {
		writeOAuthError(w, http.StatusInternalServerError, "server_error", "Failed to generate client credentials")
		return
	}

	client := &store.Client{
		ClientID:                clientID,
		ClientSecretHash:        security.HashHex(clientSecret),
		ClientName:              req.ClientName,
		RedirectURIs:            req.RedirectURIs,
		GrantTypes:              []store.GrantType{store.GrantAuthorizationCode, store.GrantRefreshToken},
		ResponseTypes:           []string{"code"},
		TokenEndpointAuthMethod: "client_secret_post",
		CreatedAt:               time.Now(),
		IsDynamic:               true,
	}

	if err := s.store.SaveClient(r.Context(), client); err != nil {
		writeOAuthError(w, http.StatusInternalServerError, "server_error", "Failed to persist client")
		return
	}

	writeJSON(w, http.StatusCreated, registerResponse{
		ClientID:                client.ClientID,
		ClientSecret:            clientSecret,
		ClientName:              client.ClientName,
		RedirectURIs:            client.RedirectURIs,
		GrantTypes:              []string{string(store.GrantAuthorizationCode), string(store.GrantRefreshToken)},
		ResponseTypes:           client.ResponseTypes,
		TokenEndpointAuthMethod: client.TokenEndpointAuthMethod,
	})
}
