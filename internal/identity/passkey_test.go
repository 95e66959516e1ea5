package identity

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestPasskeyProvider(t *testing.T) *PasskeyProvider {
	t.Helper()
	p, err := NewPasskeyProvider("", "localhost", []string{"http://localhost"}, nil, nil)
	require.NoError(t, err)
	t.Cleanup(p.Close)
	return p
}

func TestPasskeyProvider_DefaultID(t *testing.T) {
	p := newTestPasskeyProvider(t)
	assert.Equal(t, "passkey", p.ID())
	assert.Equal(t, "passkey", p.Type())
}

func TestPasskeyProvider_AuthorizationURL(t *testing.T) {
	p := newTestPasskeyProvider(t)
	u := p.AuthorizationURL("https://gw.example.com/callback/passkey", "session-9")
	assert.Contains(t, u, "/passkey/passkey")
	assert.Contains(t, u, "session_id=session-9")
	assert.Contains(t, u, "callback=https")
}

func TestPasskeyProvider_HandleCallback_MissingToken(t *testing.T) {
	p := newTestPasskeyProvider(t)
	_, ok := p.HandleCallback(context.Background(), map[string]string{})
	assert.False(t, ok)
}

func TestPasskeyProvider_HandleCallback_ConsumesExchangeOnce(t *testing.T) {
	p := newTestPasskeyProvider(t)
	p.mu.Lock()
	p.exchanges["tok-1"] = &exchangeResult{user: &User{ID: "passkey:u1", DisplayName: "Alice"}, expiresAt: time.Now().Add(time.Minute)}
	p.mu.Unlock()

	user, ok := p.HandleCallback(context.Background(), map[string]string{"token": "tok-1"})
	require.True(t, ok)
	assert.Equal(t, "passkey:u1", user.ID)

	_, ok = p.HandleCallback(context.Background(), map[string]string{"token": "tok-1"})
	assert.False(t, ok, "exchange token must be single-use")
}
