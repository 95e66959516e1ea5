package identity

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	githubAuthorizeURL = "https://github.com/login/oauth/authorize"
	githubTokenURL     = "https://github.com/login/oauth/access_token"
	githubAPIBase      = "https://api.github.com"
)

// GitHubProvider is the redirect-based reference identity provider: it
// hands the browser to GitHub's OAuth consent screen and, on callback,
// exchanges the code for an access token and fetches the user's
// profile (and org memberships, if an allowlist is configured).
type GitHubProvider struct {
	id           string
	clientID     string
	clientSecret string
	allowedOrgs  []string
	allowedUsers []string

	authorizeURL string
	tokenURL     string
	apiBase      string

	httpClient *http.Client
	logger     *slog.Logger
}

// GitHubConfig configures a GitHubProvider.
type GitHubConfig struct {
	ID           string
	ClientID     string
	ClientSecret string
	AllowedOrgs  []string
	AllowedUsers []string
}

// NewGitHubProvider returns a GitHubProvider. id defaults to "github".
func NewGitHubProvider(cfg GitHubConfig, logger *slog.Logger) *GitHubProvider {
	id := cfg.ID
	if id == "" {
		id = "github"
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &GitHubProvider{
		id:           id,
		clientID:     cfg.ClientID,
		clientSecret: cfg.ClientSecret,
		allowedOrgs:  cfg.AllowedOrgs,
		allowedUsers: cfg.AllowedUsers,
		authorizeURL: githubAuthorizeURL,
		tokenURL:     githubTokenURL,
		apiBase:      githubAPIBase,
		httpClient:   &http.Client{Timeout: 10 * time.Second},
		logger:       logger.With("component", "identity.github", "idp", id),
	}
}

func (p *GitHubProvider) ID() string   { return p.id }
func (p *GitHubProvider) Type() string { return "github" }

// AuthorizationURL builds the GitHub consent-screen URL. state is
// opaque to GitHub and echoed back verbatim on callback; the OAuth
// server uses it to carry the pending-session id.
func (p *GitHubProvider) AuthorizationURL(callbackURL, state string) string {
	q := url.Values{
		"client_id":    {p.clientID},
		"redirect_uri": {callbackURL},
		"state":        {state},
	}
	if len(p.allowedOrgs) > 0 {
		q.Set("scope", "read:org")
	}
	return p.authorizeURL + "?" + q.Encode()
}

type githubTokenResponse struct {
	AccessToken string `json:"access_token"`
	Error       string `json:"error"`
}

type githubUser struct {
	ID    int64  `json:"id"`
	Login string `json:"login"`
}

type githubOrg struct {
	Login string `json:"login"`
}

// HandleCallback exchanges the authorization code from callbackQuery
// for a GitHub access token, fetches the profile, and enforces the
// configured allowlists.
func (p *GitHubProvider) HandleCallback(ctx context.Context, callbackQuery map[string]string) (*User, bool) {
	code := callbackQuery["code"]
	if code == "" {
		return nil, false
	}

	accessToken, err := p.exchangeCode(ctx, code)
	if err != nil {
		p.logger.Warn("code exchange failed", "error", err)
		return nil, false
	}

	user, err := p.fetchUser(ctx, accessToken)
	if err != nil {
		p.logger.Warn("fetching github user failed", "error", err)
		return nil, false
	}

	if !p.userAllowed(ctx, accessToken, user.Login) {
		p.logger.Info("github user not in allowlist", "login", user.Login)
		return nil, false
	}

	return &User{
		ID:          fmt.Sprintf("%s:%d", p.Type(), user.ID),
		DisplayName: user.Login,
	}, true
}

func (p *GitHubProvider) exchangeCode(ctx context.Context, code string) (string, error) {
	form := url.Values{
		"client_id":     {p.clientID},
		"client_secret": {p.clientSecret},
		"code":          {code},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var tok githubTokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tok); err != nil {
		return "", fmt.Errorf("decoding token response: %w", err)
	}
	if tok.Error != "" {
		return "", fmt.Errorf("github token error: %s", tok.Error)
	}
	if tok.AccessToken == "" {
		return "", fmt.Errorf("github token response carried no access_token")
	}
	return tok.AccessToken, nil
}

func (p *GitHubProvider) githubGet(ctx context.Context, path, accessToken string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.apiBase+path, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Accept", "application/vnd.github+json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("github %s returned %d: %s", path, resp.StatusCode, body)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (p *GitHubProvider) fetchUser(ctx context.Context, accessToken string) (*githubUser, error) {
	var u githubUser
	if err := p.githubGet(ctx, "/user", accessToken, &u); err != nil {
		return nil, err
	}
	return &u, nil
}

func (p *GitHubProvider) fetchOrgs(ctx context.Context, accessToken string) ([]string, error) {
	var orgs []githubOrg
	if err := p.githubGet(ctx, "/user/orgs?per_page=100", accessToken, &orgs); err != nil {
		return nil, err
	}
	logins := make([]string, len(orgs))
	for i, o := range orgs {
		logins[i] = o.Login
	}
	return logins, nil
}

func (p *GitHubProvider) userAllowed(ctx context.Context, accessToken, login string) bool {
	if len(p.allowedUsers) == 0 && len(p.allowedOrgs) == 0 {
		return true
	}
	if containsFold(p.allowedUsers, login) {
		return true
	}
	if len(p.allowedOrgs) == 0 {
		return false
	}
	orgs, err := p.fetchOrgs(ctx, accessToken)
	if err != nil {
		p.logger.Warn("fetching github orgs failed", "error", err)
		return false
	}
	for _, org := range orgs {
		if containsFold(p.allowedOrgs, org) {
			return true
		}
	}
	return false
}

func containsFold(list []string, s string) bool {
	for _, v := range list {
		if strings.EqualFold(v, s) {
			return true
		}
	}
	return false
}
