package identity

import (
	"context"
	"fmt"
	"strings"

	"github.com/2389/mcpbox/internal/security"
)

// LocalUser is one entry in a LocalProvider's credential list.
type LocalUser struct {
	Username string
	Password string // plaintext or bcrypt digest; see security.VerifyPassword
}

// LocalProvider is the form-based reference identity provider: a fixed
// list of username/password records supplied at configuration time.
type LocalProvider struct {
	id    string
	users []LocalUser
}

// NewLocalProvider returns a LocalProvider backed by users. id defaults
// to "local" when empty.
func NewLocalProvider(id string, users []LocalUser) *LocalProvider {
	if id == "" {
		id = "local"
	}
	return &LocalProvider{id: id, users: users}
}

func (p *LocalProvider) ID() string   { return p.id }
func (p *LocalProvider) Type() string { return "local" }

// Validate looks up username case-sensitively and verifies password
// against the stored record, which may be plaintext or a bcrypt digest.
// A lookup miss still runs a verification against a fixed dummy record
// so that the cost of a nonexistent-username attempt resembles that of
// a wrong-password attempt.
func (p *LocalProvider) Validate(_ context.Context, username, password string) (*User, bool) {
	for _, u := range p.users {
		if u.Username != username {
			continue
		}
		if !security.VerifyPassword(u.Password, password) {
			return nil, false
		}
		return &User{
			ID:          fmt.Sprintf("%s:%s", p.Type(), strings.ToLower(username)),
			DisplayName: username,
		}, true
	}
	security.VerifyPassword(dummyHash, password)
	return nil, false
}

// dummyHash is a bcrypt digest of an arbitrary password, compared
// against on every lookup miss purely to keep the miss path's cost in
// the same ballpark as a real comparison.
const dummyHash = "$2a$10$N9qo8uLOickgx2ZMRZoMyeIjZAgcfl7p92ldGxad68LJZdL17lhWy"
