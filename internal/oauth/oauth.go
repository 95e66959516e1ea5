// Package oauth implements the gateway's embedded OAuth 2.1
// authorization server: discovery metadata, the authorize/token/
// register/callback endpoints, PKCE enforcement, the login UI, and
// bearer-token validation for the HTTP auth middleware.
//
// State that outlives a single request — pending login sessions and
// issued authorization codes — is process-local and guarded by one
// shared mutex, per SPEC_FULL.md §5; only registered clients and
// issued tokens reach the pluggable store.
package oauth

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/2389/mcpbox/internal/identity"
	"github.com/2389/mcpbox/internal/store"
)

const (
	// AccessTokenTTL is the lifetime of a minted access token.
	AccessTokenTTL = time.Hour
	// RefreshTokenTTL is the lifetime of a minted refresh token.
	RefreshTokenTTL = 90 * 24 * time.Hour
	// AuthCodeTTL is the maximum lifetime of an authorization code.
	AuthCodeTTL = 10 * time.Minute
	// PendingSessionTTL is how long a login session survives before
	// the user must restart the authorization request.
	PendingSessionTTL = 10 * time.Minute

	// ProtocolScope is the only scope this gateway issues or checks.
	ProtocolScope = "mcp:tools"
)

// PreregisteredClient is a client declared in configuration rather
// than created via dynamic registration.
type PreregisteredClient struct {
	ClientID     string
	ClientName   string
	ClientSecret string
	RedirectURIs []string
	GrantType    store.GrantType
}

// Config configures a Server.
type Config struct {
	Issuer              string
	FormProviders       []identity.FormProvider
	RedirectProviders   []identity.RedirectProvider
	Clients             []PreregisteredClient
	DynamicRegistration bool
}

// Server is the embedded OAuth 2.1 authorization server.
type Server struct {
	issuer              string
	formProviders       []identity.FormProvider
	redirectProviders   map[string]identity.RedirectProvider
	redirectProviderIDs []string // preserves configuration order
	dynamicRegistration bool

	store                             store.Store
	logger                            *slog.Logger
	staticClientCredentialsConfigured bool

	mu              sync.Mutex
	pendingSessions map[string]*pendingSession
	authCodes       map[string]*authCode

	cancel context.CancelFunc
}

type pendingSession struct {
	sessionID           string
	clientID            string
	clientName          string
	redirectURI         string
	state               string
	codeChallenge       string
	codeChallengeMethod string
	scope               string
	providerID          string
	originalQuery       string // raw query string of the initiating /authorize request
	expiresAt           time.Time
}

type authCode struct {
	code                string
	clientID            string
	redirectURI         string
	codeChallenge       string
	codeChallengeMethod string
	scope               string
	userID              string
	expiresAt           time.Time
}

// NewServer constructs a Server, persists any preregistered clients
// into st, and starts the background eviction loop for pending
// sessions and authorization codes.
func NewServer(ctx context.Context, cfg Config, st store.Store, logger *slog.Logger) (*Server, error) {
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		issuer:              cfg.Issuer,
		formProviders:       cfg.FormProviders,
		redirectProviders:   make(map[string]identity.RedirectProvider),
		dynamicRegistration: cfg.DynamicRegistration,
		store:               st,
		logger:              logger.With("component", "oauth"),
		pendingSessions:     make(map[string]*pendingSession),
		authCodes:           make(map[string]*authCode),
	}

	for _, p := range cfg.RedirectProviders {
		s.redirectProviders[p.ID()] = p
		s.redirectProviderIDs = append(s.redirectProviderIDs, p.ID())
	}

	for _, c := range cfg.Clients {
		if c.GrantType == store.GrantClientCredentials {
			s.staticClientCredentialsConfigured = true
		}
		client, err := preregisteredToClient(c)
		if err != nil {
			return nil, fmt.Errorf("preregistering client %s: %w", c.ClientID, err)
		}
		if err := st.SaveClient(ctx, client); err != nil {
			return nil, fmt.Errorf("saving preregistered client %s: %w", c.ClientID, err)
		}
	}

	loopCtx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	go s.evictionLoop(loopCtx)

	return s, nil
}

// Close stops the background eviction loop. It does not close the
// underlying store, which the caller owns.
func (s *Server) Close() {
	if s.cancel != nil {
		s.cancel()
	}
}

func preregisteredToClient(c PreregisteredClient) (*store.Client, error) {
	client := &store.Client{
		ClientID:                c.ClientID,
		ClientName:              c.ClientName,
		RedirectURIs:            c.RedirectURIs,
		GrantTypes:              []store.GrantType{c.GrantType},
		TokenEndpointAuthMethod: "none",
		CreatedAt:               time.Now(),
		IsDynamic:               false,
	}
	if c.ClientSecret != "" {
		client.ClientSecretHash = hashSecret(c.ClientSecret)
		client.TokenEndpointAuthMethod = "client_secret_post"
	}
	if c.GrantType == store.GrantAuthorizationCode {
		client.ResponseTypes = []string{"code"}
	}
	return client, nil
}

func (s *Server) evictionLoop(ctx context.Context) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.evictExpired()
		}
	}
}

func (s *Server) evictExpired() {
	now := time.Now()
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, sess := range s.pendingSessions {
		if now.After(sess.expiresAt) {
			delete(s.pendingSessions, id)
		}
	}
	for code, ac := range s.authCodes {
		if now.After(ac.expiresAt) {
			delete(s.authCodes, code)
		}
	}
}

// hasIdentityProviders reports whether the authorization-code flow has
// anywhere to send the user to authenticate.
func (s *Server) hasIdentityProviders() bool {
	return len(s.formProviders) > 0 || len(s.redirectProviders) > 0
}

func (s *Server) grantTypesSupported() []string {
	grants := []string{}
	if s.hasIdentityProviders() {
		grants = append(grants, "authorization_code", "refresh_token")
	}
	if s.anyClientCredentialsClient() {
		grants = append(grants, "client_credentials")
	}
	return grants
}

// anyClientCredentialsClient reports whether any preregistered client
// declares the client_credentials grant. Dynamic registration always
// defaults new clients to authorization_code, so only the
// configuration-time set can ever carry it.
func (s *Server) anyClientCredentialsClient() bool {
	return s.staticClientCredentialsConfigured
}
