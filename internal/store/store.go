// Package store defines the gateway's state-store contract and its two
// implementations: an in-process ephemeral store and a persistent
// embedded-SQL store. Everything here is OAuth state — dynamically and
// statically registered clients, and the hashes of issued access and
// refresh tokens. Transient authorization-code and pending-login-session
// state lives in internal/oauth instead; it never reaches the store.
package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is the absence sentinel returned by every get* method when
// the requested key does not exist, or existed but has expired.
var ErrNotFound = errors.New("not found")

// GrantType enumerates the OAuth grants a stored client may use.
type GrantType string

const (
	GrantAuthorizationCode GrantType = "authorization_code"
	GrantClientCredentials GrantType = "client_credentials"
	GrantRefreshToken      GrantType = "refresh_token"
)

// Client is a registered OAuth client, created either by startup
// pre-registration or by RFC 7591 dynamic registration.
type Client struct {
	ClientID                string
	ClientSecretHash         string // SHA-256 hex digest; empty for public clients
	ClientName               string
	RedirectURIs             []string
	GrantTypes               []GrantType
	ResponseTypes            []string
	TokenEndpointAuthMethod  string
	CreatedAt                time.Time
	IsDynamic                bool
}

// HasGrant reports whether the client declares the given grant type.
func (c *Client) HasGrant(g GrantType) bool {
	for _, gt := range c.GrantTypes {
		if gt == g {
			return true
		}
	}
	return false
}

// HasRedirectURI reports whether uri is byte-for-byte one of the
// client's registered redirect URIs.
func (c *Client) HasRedirectURI(uri string) bool {
	for _, u := range c.RedirectURIs {
		if u == uri {
			return true
		}
	}
	return false
}

// AccessToken is the persisted record behind an issued bearer token. The
// plaintext token is returned to the client exactly once at issuance and
// is never itself stored; TokenHash is its SHA-256 hex digest.
type AccessToken struct {
	TokenHash string
	ClientID  string
	Scope     string
	ExpiresAt time.Time
	UserID    string
}

// Expired reports whether the token's lifetime has elapsed as of now.
func (t *AccessToken) Expired(now time.Time) bool {
	return now.After(t.ExpiresAt)
}

// RefreshToken is the persisted record behind an issued refresh token.
type RefreshToken struct {
	TokenHash string
	ClientID  string
	Scope     string
	ExpiresAt time.Time
	UserID    string
}

// Expired reports whether the token's lifetime has elapsed as of now.
func (t *RefreshToken) Expired(now time.Time) bool {
	return now.After(t.ExpiresAt)
}

// Store is the polymorphic state-store contract shared by the ephemeral
// and persistent implementations. Every get* method returns ErrNotFound
// (wrapped via errors.Is) for an absent or lazily-expired entry.
type Store interface {
	GetClient(ctx context.Context, clientID string) (*Client, error)
	SaveClient(ctx context.Context, c *Client) error
	DeleteClient(ctx context.Context, clientID string) error
	ListDynamicClients(ctx context.Context) ([]*Client, error)

	GetAccessToken(ctx context.Context, tokenHash string) (*AccessToken, error)
	SaveAccessToken(ctx context.Context, t *AccessToken) error
	DeleteAccessToken(ctx context.Context, tokenHash string) error

	GetRefreshToken(ctx context.Context, tokenHash string) (*RefreshToken, error)
	SaveRefreshToken(ctx context.Context, t *RefreshToken) error
	DeleteRefreshToken(ctx context.Context, tokenHash string) error

	// RotateRefreshToken atomically deletes oldHash and inserts newToken.
	// Implementations must guarantee that if the insert fails, the old
	// token remains reachable under oldHash (rollback/no commit), and
	// that once RotateRefreshToken returns successfully, oldHash is
	// unreachable and newToken.TokenHash is reachable.
	RotateRefreshToken(ctx context.Context, oldHash string, newToken *RefreshToken) error

	// CleanupExpired deletes all rows whose expiry has passed. Ephemeral
	// deletes expired access and refresh tokens from its maps; the
	// persistent implementation runs it from a background sweeper.
	CleanupExpired(ctx context.Context) error

	Close() error
}
