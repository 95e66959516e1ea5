package oauth

import "net/http"

type protectedResourceMetadata struct {
	Resource              string   `json:"resource"`
	AuthorizationServers  []string `json:"authorization_servers"`
	ScopesSupported       []string `json:"scopes_supported"`
	BearerMethodsSupported []string `json:"bearer_methods_supported"`
	LogoURI               string   `json:"logo_uri,omitempty"`
}

// HandleProtectedResourceMetadata serves RFC 9728's
// /.well-known/oauth-protected-resource document.
func (s *Server) HandleProtectedResourceMetadata(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, protectedResourceMetadata{
		Resource:               s.issuer,
		AuthorizationServers:   []string{s.issuer},
		ScopesSupported:        []string{ProtocolScope},
		BearerMethodsSupported: []string{"header"},
		LogoURI:                s.issuer + "/logo.png",
	})
}

type authServerMetadata struct {
	Issuer                            string   `json:"issuer"`
	TokenEndpoint                     string   `json:"token_endpoint"`
	GrantTypesSupported               []string `json:"grant_types_supported"`
	TokenEndpointAuthMethodsSupported []string `json:"token_endpoint_auth_methods_supported"`
	ScopesSupported                   []string `json:"scopes_supported"`
	AuthorizationEndpoint             string   `json:"authorization_endpoint,omitempty"`
	ResponseTypesSupported            []string `json:"response_types_supported,omitempty"`
	CodeChallengeMethodsSupported     []string `json:"code_challenge_methods_supported,omitempty"`
	RegistrationEndpoint              string   `json:"registration_endpoint,omitempty"`
}

// HandleAuthServerMetadata serves RFC 8414's
// /.well-known/oauth-authorization-server document.
func (s *Server) HandleAuthServerMetadata(w http.ResponseWriter, r *http.Request) {
	md := authServerMetadata{
		Issuer:                            s.issuer,
		TokenEndpoint:                     s.issuer + "/token",
		GrantTypesSupported:               s.grantTypesSupported(),
		TokenEndpointAuthMethodsSupported: []string{"none", "client_secret_post"},
		ScopesSupported:                   []string{ProtocolScope},
	}
	if s.hasIdentityProviders() {
		md.AuthorizationEndpoint = s.issuer + "/authorize"
		md.ResponseTypesSupported = []string{"code"}
		md.CodeChallengeMethodsSupported = []string{"S256"}
	}
	if s.dynamicRegistration {
		md.RegistrationEndpoint = s.issuer + "/register"
	}
	writeJSON(w, http.StatusOK, md)
}
