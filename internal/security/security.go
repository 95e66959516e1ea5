// Package security collects the gateway's low-level cryptographic
// primitives: constant-time comparison, token/id generation, PKCE S256
// derivation, password verification, and log-value redaction. Nothing in
// this package is protocol-aware; callers in internal/oauth and
// internal/identity give it meaning.
package security

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"regexp"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

// ConstantTimeEqual reports whether a and b are equal, in time
// independent of where they first differ. Inputs of differing length
// are never equal, but the comparison still consumes constant time for
// a fixed-length budget by hashing both sides first.
func ConstantTimeEqual(a, b string) bool {
	ah := sha256.Sum256([]byte(a))
	bh := sha256.Sum256([]byte(b))
	return subtle.ConstantTimeCompare(ah[:], bh[:]) == 1
}

// HashHex returns the lowercase hex SHA-256 digest of s. Used to turn a
// plaintext bearer token or client secret into the value actually
// persisted by the state store.
func HashHex(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

// NewToken returns a 32-byte random value hex-encoded (64 hex chars),
// used for authorization codes, access tokens, and refresh tokens.
func NewToken() (string, error) {
	b := make([]byte, 32)
	if _, err := randRead(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

// NewSessionID returns a random hex id suitable for pending-session and
// PKCE-state identifiers. Shorter than NewToken since it is never a
// bearer credential, only a lookup key.
func NewSessionID() (string, error) {
	b := make([]byte, 16)
	if _, err := randRead(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

// PKCEChallengeS256 computes BASE64URL(SHA256(verifier)) without padding,
// per RFC 7636 §4.2.
func PKCEChallengeS256(verifier string) string {
	sum := sha256.Sum256([]byte(verifier))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

// bcryptPrefix matches the bcrypt cost-prefixed hash format, e.g.
// "$2a$10$..." or "$2b$12$..." or "$2y$10$...".
var bcryptPrefix = regexp.MustCompile(`^\$2[aby]\$\d{2}\$`)

// IsBcryptHash reports whether stored looks like a bcrypt digest rather
// than a plaintext password.
func IsBcryptHash(stored string) bool {
	return bcryptPrefix.MatchString(stored)
}

// VerifyPassword checks candidate against stored, which is either a
// bcrypt digest (detected via IsBcryptHash) or a plaintext password
// compared in constant time. Both branches run a comparison of similar
// shape so that, as far as practical in userspace Go, the chosen branch
// does not leak which one was taken through timing alone.
func VerifyPassword(stored, candidate string) bool {
	if IsBcryptHash(stored) {
		return bcrypt.CompareHashAndPassword([]byte(stored), []byte(candidate)) == nil
	}
	return ConstantTimeEqual(stored, candidate)
}

// HashPassword returns a bcrypt digest of password at the default cost,
// for tooling that provisions local users.
func HashPassword(password string) (string, error) {
	h, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(h), nil
}

// redactedKeys names JSON/log attribute keys whose values are never
// logged verbatim.
var redactedKeys = map[string]bool{
	"secret":        true,
	"client_secret": true,
	"password":      true,
	"token":         true,
	"access_token":  true,
	"refresh_token": true,
	"code_verifier": true,
	"code":          true,
	"pin":           true,
	"key":           true,
	"api_key":       true,
}

// RedactKey reports whether the given key should have its value redacted
// before being logged. Matching is case-insensitive and tolerates both
// snake_case and a bare suffix (e.g. "oauth_client_secret").
func RedactKey(key string) bool {
	lower := strings.ToLower(key)
	if redactedKeys[lower] {
		return true
	}
	for k := range redactedKeys {
		if strings.HasSuffix(lower, "_"+k) {
			return true
		}
	}
	return false
}

// freeFormSecret matches bearer tokens, hex-encoded secrets, and similar
// free-form substrings that might appear embedded in an error message or
// log line rather than as a discrete key/value pair.
var freeFormSecret = regexp.MustCompile(`(?i)(bearer\s+[A-Za-z0-9._-]{8,}|\b[a-f0-9]{32,}\b)`)

// Redact replaces sensitive-looking substrings of s with "[REDACTED]".
// Redact and RedactKey are standalone helpers: the gateway's log
// handlers (cmd/mcpbox setupLogger) do not call either of them, and the
// log.redactSecrets configuration flag is not read by any logging code.
func Redact(s string) string {
	return freeFormSecret.ReplaceAllString(s, "[REDACTED]")
}

// randRead is overridden in tests to make token generation deterministic.
var randRead = cryptoRandRead
