package identity

import (
	"context"
	"testing"

	"github.com/2389/mcpbox/internal/security"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalProvider_ValidatePlaintext(t *testing.T) {
	p := NewLocalProvider("", []LocalUser{{Username: "alice", Password: "hunter2"}})

	user, ok := p.Validate(context.Background(), "alice", "hunter2")
	require.True(t, ok)
	assert.Equal(t, "local:alice", user.ID)
	assert.Equal(t, "alice", user.DisplayName)

	_, ok = p.Validate(context.Background(), "alice", "wrong")
	assert.False(t, ok)
}

func TestLocalProvider_ValidateBcrypt(t *testing.T) {
	hash, err := security.HashPassword("correct-horse")
	require.NoError(t, err)

	p := NewLocalProvider("staff", []LocalUser{{Username: "bob", Password: hash}})
	assert.Equal(t, "staff", p.ID())

	_, ok := p.Validate(context.Background(), "bob", "correct-horse")
	assert.True(t, ok)

	_, ok = p.Validate(context.Background(), "bob", "incorrect-horse")
	assert.False(t, ok)
}

func TestLocalProvider_UnknownUsername(t *testing.T) {
	p := NewLocalProvider("", []LocalUser{{Username: "alice", Password: "hunter2"}})
	_, ok := p.Validate(context.Background(), "ghost", "anything")
	assert.False(t, ok)
}

func TestLocalProvider_DefaultID(t *testing.T) {
	p := NewLocalProvider("", nil)
	assert.Equal(t, "local", p.ID())
	assert.Equal(t, "local", p.Type())
}
