package security

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConstantTimeEqual(t *testing.T) {
	assert.True(t, ConstantTimeEqual("abc", "abc"))
	assert.False(t, ConstantTimeEqual("abc", "abd"))
	assert.False(t, ConstantTimeEqual("abc", "abcd"))
}

func TestNewTokenLength(t *testing.T) {
	tok, err := NewToken()
	require.NoError(t, err)
	assert.Len(t, tok, 64)

	tok2, err := NewToken()
	require.NoError(t, err)
	assert.NotEqual(t, tok, tok2)
}

func TestPKCERoundTrip(t *testing.T) {
	verifier := "dBjftJeZ4CVP-mB92K27uhbUJU1p1r_wW1gFWFOEjXk"
	challenge := PKCEChallengeS256(verifier)
	assert.NotEmpty(t, challenge)
	assert.NotContains(t, challenge, "=", "S256 challenge must not be padded")
	assert.Equal(t, challenge, PKCEChallengeS256(verifier), "deterministic for the same verifier")

	tampered := verifier[:len(verifier)-1] + "x"
	assert.NotEqual(t, challenge, PKCEChallengeS256(tampered))
}

func TestIsBcryptHash(t *testing.T) {
	assert.True(t, IsBcryptHash("$2a$10$abcdefghijklmnopqrstuv"))
	assert.True(t, IsBcryptHash("$2b$12$abcdefghijklmnopqrstuv"))
	assert.False(t, IsBcryptHash("plaintext"))
}

func TestVerifyPasswordPlaintext(t *testing.T) {
	assert.True(t, VerifyPassword("testpass", "testpass"))
	assert.False(t, VerifyPassword("testpass", "wrong"))
}

func TestVerifyPasswordBcrypt(t *testing.T) {
	hash, err := HashPassword("testpass")
	require.NoError(t, err)
	assert.True(t, VerifyPassword(hash, "testpass"))
	assert.False(t, VerifyPassword(hash, "wrong"))
}

func TestRedactKey(t *testing.T) {
	assert.True(t, RedactKey("client_secret"))
	assert.True(t, RedactKey("Password"))
	assert.True(t, RedactKey("oauth_api_key"))
	assert.False(t, RedactKey("client_id"))
}

func TestRedactFreeForm(t *testing.T) {
	s := Redact("failed request with Bearer abc123def456ghijklmnop")
	assert.Contains(t, s, "[REDACTED]")
	assert.NotContains(t, s, "abc123def456ghijklmnop")
}
