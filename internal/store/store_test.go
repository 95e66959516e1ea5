package store

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// backends runs each Store conformance test against every implementation.
func backends(t *testing.T) map[string]Store {
	t.Helper()
	dir := t.TempDir()
	sqliteStore, err := NewSQLiteStore(filepath.Join(dir, "state.db"))
	require.NoError(t, err)
	t.Cleanup(func() { sqliteStore.Close() })

	return map[string]Store{
		"ephemeral": NewEphemeralStore(),
		"sqlite":    sqliteStore,
	}
}

func TestStore_ClientLifecycle(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			c := &Client{
				ClientID:   "client-1",
				ClientName: "Test Client",
				GrantTypes: []GrantType{GrantClientCredentials},
				CreatedAt:  time.Now(),
			}
			require.NoError(t, s.SaveClient(ctx, c))

			got, err := s.GetClient(ctx, "client-1")
			require.NoError(t, err)
			assert.Equal(t, c.ClientName, got.ClientName)

			require.NoError(t, s.DeleteClient(ctx, "client-1"))
			_, err = s.GetClient(ctx, "client-1")
			assert.True(t, errors.Is(err, ErrNotFound))
		})
	}
}

func TestStore_ListDynamicClients(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			require.NoError(t, s.SaveClient(ctx, &Client{ClientID: "static", IsDynamic: false}))
			require.NoError(t, s.SaveClient(ctx, &Client{ClientID: "dyn-1", IsDynamic: true}))
			require.NoError(t, s.SaveClient(ctx, &Client{ClientID: "dyn-2", IsDynamic: true}))

			clients, err := s.ListDynamicClients(ctx)
			require.NoError(t, err)
			assert.Len(t, clients, 2)
		})
	}
}

func TestStore_AccessTokenExpiry(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			tok := &AccessToken{
				TokenHash: "hash-1",
				ClientID:  "client-1",
				ExpiresAt: time.Now().Add(-time.Minute), // already expired
				UserID:    "local:alice",
			}
			require.NoError(t, s.SaveAccessToken(ctx, tok))

			_, err := s.GetAccessToken(ctx, "hash-1")
			assert.True(t, errors.Is(err, ErrNotFound), "expired token must read back as absent")
		})
	}
}

func TestStore_RefreshTokenRotationAtomicity(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			old := &RefreshToken{
				TokenHash: "old-hash",
				ClientID:  "client-1",
				ExpiresAt: time.Now().Add(90 * 24 * time.Hour),
				UserID:    "local:alice",
			}
			require.NoError(t, s.SaveRefreshToken(ctx, old))

			_, err := s.GetRefreshToken(ctx, "old-hash")
			require.NoError(t, err, "oldHash reachable before rotation")

			newTok := &RefreshToken{
				TokenHash: "new-hash",
				ClientID:  "client-1",
				ExpiresAt: time.Now().Add(90 * 24 * time.Hour),
				UserID:    "local:alice",
			}
			require.NoError(t, s.RotateRefreshToken(ctx, "old-hash", newTok))

			_, err = s.GetRefreshToken(ctx, "old-hash")
			assert.True(t, errors.Is(err, ErrNotFound), "oldHash unreachable after rotation")

			got, err := s.GetRefreshToken(ctx, "new-hash")
			require.NoError(t, err, "newHash reachable after rotation")
			assert.Equal(t, newTok.UserID, got.UserID)
		})
	}
}

func TestStore_RotateRefreshTokenMissingOld(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			err := s.RotateRefreshToken(ctx, "does-not-exist", &RefreshToken{TokenHash: "x"})
			assert.True(t, errors.Is(err, ErrNotFound))
		})
	}
}

func TestSQLiteStore_CreatesParentDir(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "state.db")
	s, err := NewSQLiteStore(path)
	require.NoError(t, err)
	defer s.Close()

	_, err = os.Stat(filepath.Dir(path))
	require.NoError(t, err)
}
