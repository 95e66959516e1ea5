package store

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// EphemeralStore is the in-process, map-backed Store implementation.
// State does not survive a restart: dynamically registered clients are
// gone, and every issued token is invalidated. This is intentional (see
// DESIGN.md) and should be documented for operators, not treated as a
// bug to paper over.
type EphemeralStore struct {
	mu            sync.Mutex
	clients       map[string]*Client
	accessTokens  map[string]*AccessToken
	refreshTokens map[string]*RefreshToken
	now           func() time.Time
}

// NewEphemeralStore returns a Store backed by three in-process maps.
func NewEphemeralStore() *EphemeralStore {
	return &EphemeralStore{
		clients:       make(map[string]*Client),
		accessTokens:  make(map[string]*AccessToken),
		refreshTokens: make(map[string]*RefreshToken),
		now:           time.Now,
	}
}

func (s *EphemeralStore) GetClient(_ context.Context, clientID string) (*Client, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.clients[clientID]
	if !ok {
		return nil, ErrNotFound
	}
	return c, nil
}

func (s *EphemeralStore) SaveClient(_ context.Context, c *Client) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clients[c.ClientID] = c
	return nil
}

func (s *EphemeralStore) DeleteClient(_ context.Context, clientID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.clients, clientID)
	return nil
}

func (s *EphemeralStore) ListDynamicClients(_ context.Context) ([]*Client, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*Client
	for _, c := range s.clients {
		if c.IsDynamic {
			out = append(out, c)
		}
	}
	return out, nil
}

func (s *EphemeralStore) GetAccessToken(_ context.Context, tokenHash string) (*AccessToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.accessTokens[tokenHash]
	if !ok {
		return nil, ErrNotFound
	}
	if t.Expired(s.now()) {
		delete(s.accessTokens, tokenHash)
		return nil, ErrNotFound
	}
	return t, nil
}

func (s *EphemeralStore) SaveAccessToken(_ context.Context, t *AccessToken) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accessTokens[t.TokenHash] = t
	return nil
}

func (s *EphemeralStore) DeleteAccessToken(_ context.Context, tokenHash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.accessTokens, tokenHash)
	return nil
}

func (s *EphemeralStore) GetRefreshToken(_ context.Context, tokenHash string) (*RefreshToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.refreshTokens[tokenHash]
	if !ok {
		return nil, ErrNotFound
	}
	if t.Expired(s.now()) {
		delete(s.refreshTokens, tokenHash)
		return nil, ErrNotFound
	}
	return t, nil
}

func (s *EphemeralStore) SaveRefreshToken(_ context.Context, t *RefreshToken) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refreshTokens[t.TokenHash] = t
	return nil
}

func (s *EphemeralStore) DeleteRefreshToken(_ context.Context, tokenHash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.refreshTokens, tokenHash)
	return nil
}

func (s *EphemeralStore) RotateRefreshToken(_ context.Context, oldHash string, newToken *RefreshToken) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.refreshTokens[oldHash]; !ok {
		return fmt.Errorf("rotate refresh token: %w", ErrNotFound)
	}
	delete(s.refreshTokens, oldHash)
	s.refreshTokens[newToken.TokenHash] = newToken
	return nil
}

func (s *EphemeralStore) CleanupExpired(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	for k, t := range s.accessTokens {
		if t.Expired(now) {
			delete(s.accessTokens, k)
		}
	}
	for k, t := range s.refreshTokens {
		if t.Expired(now) {
			delete(s.refreshTokens, k)
		}
	}
	return nil
}

func (s *EphemeralStore) Close() error { return nil }
