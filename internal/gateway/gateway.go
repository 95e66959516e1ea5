// Package gateway wires configuration into the running components —
// the state store, the identity providers, the embedded OAuth server,
// the child multiplexer, and the JSON-RPC endpoint — and exposes the
// HTTP router that fronts all of them.
package gateway

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/2389/mcpbox/internal/auth"
	"github.com/2389/mcpbox/internal/child"
	"github.com/2389/mcpbox/internal/config"
	"github.com/2389/mcpbox/internal/identity"
	mcpserver "github.com/2389/mcpbox/internal/mcp"
	"github.com/2389/mcpbox/internal/oauth"
	"github.com/2389/mcpbox/internal/store"
)

// Gateway owns every long-lived component and the HTTP server fronting
// them.
type Gateway struct {
	cfg    *config.Config
	logger *slog.Logger

	store       store.Store
	oauthServer *oauth.Server
	mux         *child.Multiplexer
	mcpServer   *mcpserver.Server

	passkeyProviders []*identity.PasskeyProvider

	httpServer *http.Server
}

// New builds a Gateway from a validated configuration. It opens the
// state store, constructs the configured identity providers, starts
// the embedded OAuth server (if configured), and spawns every
// configured child MCP server concurrently.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Gateway, error) {
	if logger == nil {
		logger = slog.Default()
	}

	st, err := newStore(cfg.Storage)
	if err != nil {
		return nil, fmt.Errorf("opening store: %w", err)
	}

	gw := &Gateway{cfg: cfg, logger: logger, store: st}

	if cfg.Auth.Type == "oauth" {
		oauthServer, err := gw.newOAuthServer(ctx, cfg.Auth.OAuth)
		if err != nil {
			st.Close()
			return nil, fmt.Errorf("starting oauth server: %w", err)
		}
		gw.oauthServer = oauthServer
	}

	gw.mux = child.New(logger.With("component", "multiplexer"))
	gw.mux.SpawnAll(ctx, childConfigs(cfg.MCPServers, cfg.Log.MCPDebug))
	gw.mcpServer = mcpserver.NewServer(gw.mux, logger.With("component", "mcp"))

	gw.httpServer = &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: gw.router(),
	}

	return gw, nil
}

func newStore(cfg config.StorageConfig) (store.Store, error) {
	switch cfg.Type {
	case "sqlite":
		return store.NewSQLiteStore(cfg.Path)
	default:
		return store.NewEphemeralStore(), nil
	}
}

// childConfigs adapts the configuration file's MCP server map into the
// multiplexer's Config slice, in a name-sorted order so catalogue
// concatenation order is stable across restarts.
func childConfigs(servers map[string]config.MCPServer, debug bool) []child.Config {
	names := make([]string, 0, len(servers))
	for name := range servers {
		names = append(names, name)
	}
	sortStrings(names)

	out := make([]child.Config, 0, len(names))
	for _, name := range names {
		srv := servers[name]
		out = append(out, child.Config{
			Name:      name,
			Command:   srv.Command,
			Args:      srv.Args,
			Env:       srv.Env,
			Allowlist: srv.Tools,
			Debug:     debug,
		})
	}
	return out
}

func sortStrings(s []string) {
	for i := 1; i < len(s); i++ {
		for j := i; j > 0 && s[j-1] > s[j]; j-- {
			s[j-1], s[j] = s[j], s[j-1]
		}
	}
}

// newOAuthServer builds every configured identity provider and the
// embedded OAuth server they back.
func (gw *Gateway) newOAuthServer(ctx context.Context, cfg *config.OAuthAuthConfig) (*oauth.Server, error) {
	issuer := cfg.Issuer
	if issuer == "" {
		issuer = fmt.Sprintf("http://localhost:%d", gw.cfg.Server.Port)
	}

	var formProviders []identity.FormProvider
	var redirectProviders []identity.RedirectProvider

	for _, p := range cfg.IdentityProviders {
		switch p.Type {
		case "local":
			users := make([]identity.LocalUser, 0, len(p.Users))
			for _, u := range p.Users {
				users = append(users, identity.LocalUser{Username: u.Username, Password: u.Password})
			}
			formProviders = append(formProviders, identity.NewLocalProvider(p.ID, users))

		case "github":
			redirectProviders = append(redirectProviders, identity.NewGitHubProvider(identity.GitHubConfig{
				ID:           p.ID,
				ClientID:     p.ClientID,
				ClientSecret: p.ClientSecret,
				AllowedOrgs:  p.AllowedOrgs,
				AllowedUsers: p.AllowedUsers,
			}, gw.logger))

		case "passkey":
			creds, err := decodePasskeyCredentials(p.Credentials)
			if err != nil {
				return nil, fmt.Errorf("decoding passkey credentials: %w", err)
			}
			rpID, rpOrigin := rpFromIssuer(issuer)
			pp, err := identity.NewPasskeyProvider(p.ID, rpID, []string{rpOrigin}, creds, gw.logger)
			if err != nil {
				return nil, fmt.Errorf("configuring passkey provider: %w", err)
			}
			redirectProviders = append(redirectProviders, pp)
			gw.passkeyProviders = append(gw.passkeyProviders, pp)
		}
	}

	var clients []oauth.PreregisteredClient
	for _, c := range cfg.Clients {
		clients = append(clients, oauth.PreregisteredClient{
			ClientID:     c.ClientID,
			ClientName:   c.ClientName,
			ClientSecret: c.ClientSecret,
			RedirectURIs: c.RedirectURIs,
			GrantType:    store.GrantType(c.GrantType),
		})
	}

	return oauth.NewServer(ctx, oauth.Config{
		Issuer:              issuer,
		FormProviders:       formProviders,
		RedirectProviders:   redirectProviders,
		Clients:             clients,
		DynamicRegistration: cfg.DynamicRegistration,
	}, gw.store, gw.logger)
}

// decodePasskeyCredentials converts the config file's base64-encoded
// credential records into the byte-oriented shape the WebAuthn library
// operates on. Malformed base64 was already rejected at config
// validation time, but errors are still surfaced here rather than
// ignored in case a config is constructed programmatically.
func decodePasskeyCredentials(in []config.PasskeyCredential) ([]identity.PasskeyCredential, error) {
	out := make([]identity.PasskeyCredential, 0, len(in))
	for _, c := range in {
		credID, err := base64.StdEncoding.DecodeString(c.CredentialID)
		if err != nil {
			return nil, fmt.Errorf("credentialId: %w", err)
		}
		pubKey, err := base64.StdEncoding.DecodeString(c.PublicKey)
		if err != nil {
			return nil, fmt.Errorf("publicKey: %w", err)
		}
		out = append(out, identity.PasskeyCredential{
			UserID:       c.UserID,
			DisplayName:  c.DisplayName,
			CredentialID: credID,
			PublicKey:    pubKey,
			SignCount:    c.SignCount,
		})
	}
	return out, nil
}

// rpFromIssuer derives a WebAuthn relying-party id (bare hostname) and
// origin (scheme://host[:port]) from the configured issuer URL.
func rpFromIssuer(issuer string) (rpID, rpOrigin string) {
	u, err := url.Parse(issuer)
	if err != nil {
		return "localhost", issuer
	}
	host := u.Hostname()
	if host == "" {
		host = "localhost"
	}
	return host, u.Scheme + "://" + u.Host
}

// authMiddleware selects the configured authentication mode.
func (gw *Gateway) authMiddleware() func(http.Handler) http.Handler {
	switch gw.cfg.Auth.Type {
	case "apikey":
		return auth.APIKeyMiddleware(gw.cfg.Auth.APIKey.APIKey)
	case "oauth":
		return auth.OAuthMiddleware(gw.oauthServer, gw.issuer())
	default:
		return auth.NoAuthMiddleware()
	}
}

func (gw *Gateway) issuer() string {
	if gw.cfg.Auth.OAuth == nil {
		return ""
	}
	if gw.cfg.Auth.OAuth.Issuer != "" {
		return gw.cfg.Auth.OAuth.Issuer
	}
	return fmt.Sprintf("http://localhost:%d", gw.cfg.Server.Port)
}

// Run starts the HTTP listener and blocks until ctx is cancelled, then
// performs the graceful-shutdown sequence from SPEC_FULL.md §5.
func (gw *Gateway) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", gw.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", gw.httpServer.Addr, err)
	}

	errCh := make(chan error, 1)
	go func() {
		if err := gw.httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return gw.Shutdown(shutdownCtx)
}

// Shutdown stops accepting new HTTP work, closes every child's stdio
// transport, and releases the state store.
func (gw *Gateway) Shutdown(ctx context.Context) error {
	var errs []string

	if err := gw.httpServer.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Sprintf("http shutdown: %v", err))
	}
	for _, err := range gw.mux.Shutdown(ctx) {
		errs = append(errs, fmt.Sprintf("child shutdown: %v", err))
	}
	if gw.oauthServer != nil {
		gw.oauthServer.Close()
	}
	for _, pp := range gw.passkeyProviders {
		pp.Close()
	}
	if err := gw.store.Close(); err != nil {
		errs = append(errs, fmt.Sprintf("store close: %v", err))
	}

	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %s", strings.Join(errs, "; "))
	}
	return nil
}
