package identity

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGitHubProvider_AuthorizationURL(t *testing.T) {
	p := NewGitHubProvider(GitHubConfig{ClientID: "abc123", AllowedOrgs: []string{"2389"}}, nil)

	u := p.AuthorizationURL("https://gw.example.com/callback/github", "session-1")
	parsed, err := url.Parse(u)
	require.NoError(t, err)

	assert.Equal(t, "github.com", parsed.Host)
	assert.Equal(t, "abc123", parsed.Query().Get("client_id"))
	assert.Equal(t, "session-1", parsed.Query().Get("state"))
	assert.Equal(t, "https://gw.example.com/callback/github", parsed.Query().Get("redirect_uri"))
	assert.Equal(t, "read:org", parsed.Query().Get("scope"))
}

func TestGitHubProvider_DefaultID(t *testing.T) {
	p := NewGitHubProvider(GitHubConfig{ClientID: "x"}, nil)
	assert.Equal(t, "github", p.ID())
	assert.Equal(t, "github", p.Type())
}

// fakeGitHub stands in for github.com's OAuth token endpoint and REST
// API so HandleCallback can be exercised without network access.
func fakeGitHub(t *testing.T, login string, id int64, orgs []string) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/login/oauth/access_token", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{"access_token": "gho_faketoken"})
	})
	mux.HandleFunc("/user", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"id": id, "login": login})
	})
	mux.HandleFunc("/user/orgs", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		var body []map[string]string
		for _, o := range orgs {
			body = append(body, map[string]string{"login": o})
		}
		_ = json.NewEncoder(w).Encode(body)
	})
	return httptest.NewServer(mux)
}

func TestGitHubProvider_HandleCallback_NoAllowlist(t *testing.T) {
	srv := fakeGitHub(t, "octocat", 42, nil)
	defer srv.Close()

	p := NewGitHubProvider(GitHubConfig{ClientID: "abc", ClientSecret: "def"}, nil)
	p.tokenURL = srv.URL + "/login/oauth/access_token"
	p.apiBase = srv.URL

	user, ok := p.HandleCallback(context.Background(), map[string]string{"code": "somecode"})
	require.True(t, ok)
	assert.Equal(t, "github:42", user.ID)
	assert.Equal(t, "octocat", user.DisplayName)
}

func TestGitHubProvider_HandleCallback_MissingCode(t *testing.T) {
	p := NewGitHubProvider(GitHubConfig{ClientID: "abc"}, nil)
	_, ok := p.HandleCallback(context.Background(), map[string]string{})
	assert.False(t, ok)
}

func TestGitHubProvider_AllowedUsers(t *testing.T) {
	srv := fakeGitHub(t, "mallory", 7, nil)
	defer srv.Close()

	p := NewGitHubProvider(GitHubConfig{ClientID: "abc", ClientSecret: "def", AllowedUsers: []string{"Alice"}}, nil)
	p.tokenURL = srv.URL + "/login/oauth/access_token"
	p.apiBase = srv.URL

	_, ok := p.HandleCallback(context.Background(), map[string]string{"code": "x"})
	assert.False(t, ok, "mallory is not in the allowlist")
}

func TestGitHubProvider_AllowedOrgs(t *testing.T) {
	srv := fakeGitHub(t, "contributor", 9, []string{"2389"})
	defer srv.Close()

	p := NewGitHubProvider(GitHubConfig{ClientID: "abc", ClientSecret: "def", AllowedOrgs: []string{"2389"}}, nil)
	p.tokenURL = srv.URL + "/login/oauth/access_token"
	p.apiBase = srv.URL

	user, ok := p.HandleCallback(context.Background(), map[string]string{"code": "x"})
	require.True(t, ok)
	assert.Equal(t, "github:9", user.ID)
}
