// ABOUTME: Configuration loading and parsing for mcpbox
// ABOUTME: Supports JSON files with ${VAR} environment-variable substitution

package config

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"regexp"
)

// Config is the root configuration document.
type Config struct {
	Server     ServerConfig         `json:"server"`
	Log        LogConfig            `json:"log"`
	Auth       AuthConfig           `json:"auth"`
	Storage    StorageConfig        `json:"storage"`
	MCPServers map[string]MCPServer `json:"mcpServers"`
}

// ServerConfig holds the HTTP listener configuration.
type ServerConfig struct {
	Port int `json:"port"`
}

// LogConfig controls the gateway's logging.
type LogConfig struct {
	Level         string `json:"level"`  // debug|info|warn|error
	Format        string `json:"format"` // pretty|json
	RedactSecrets *bool  `json:"redactSecrets"`
	MCPDebug      bool   `json:"mcpDebug"`
}

// RedactSecretsOrDefault returns the configured value, defaulting to true.
func (l LogConfig) RedactSecretsOrDefault() bool {
	if l.RedactSecrets == nil {
		return true
	}
	return *l.RedactSecrets
}

// AuthConfig is a tagged union discriminated by Type: "", "apikey", or
// "oauth". Exactly one of APIKey/OAuth is populated depending on Type.
type AuthConfig struct {
	Type   string           `json:"type"`
	APIKey *APIKeyAuth      `json:"apikey"`
	OAuth  *OAuthAuthConfig `json:"oauth"`
}

// APIKeyAuth configures the static-bearer-key auth mode.
type APIKeyAuth struct {
	APIKey string `json:"apiKey"`
}

// OAuthAuthConfig configures the embedded OAuth 2.1 authorization server.
type OAuthAuthConfig struct {
	Issuer              string                `json:"issuer"`
	IdentityProviders   []IdentityProvider    `json:"identityProviders"`
	Clients             []PreregisteredClient `json:"clients"`
	DynamicRegistration bool                  `json:"dynamicRegistration"`
}

// IdentityProvider is a tagged union discriminated by Type: "local",
// "github", or "passkey".
type IdentityProvider struct {
	Type string `json:"type"`

	// identifies this provider instance in /authorize?idp=<id> and
	// /callback/<id> URLs. Defaults to Type when empty.
	ID string `json:"id"`

	// local
	Users []LocalUser `json:"users"`

	// github
	ClientID     string   `json:"clientId"`
	ClientSecret string   `json:"clientSecret"`
	AllowedOrgs  []string `json:"allowedOrgs"`
	AllowedUsers []string `json:"allowedUsers"`

	// passkey. The gateway exposes no registration ceremony of its
	// own, so credentials are provisioned out of band (e.g. by a
	// one-off enrollment script against the authenticator) and listed
	// here base64-encoded.
	Credentials []PasskeyCredential `json:"credentials"`
}

// PasskeyCredential is one WebAuthn credential a "passkey" identity
// provider will accept, provisioned out of band rather than through a
// gateway-hosted registration flow.
type PasskeyCredential struct {
	UserID       string `json:"userId"`
	DisplayName  string `json:"displayName"`
	CredentialID string `json:"credentialId"` // base64-encoded
	PublicKey    string `json:"publicKey"`     // base64-encoded
	SignCount    uint32 `json:"signCount"`
}

// LocalUser is one entry in a "local" identity provider's user list.
type LocalUser struct {
	Username string `json:"username"`
	Password string `json:"password"` // plaintext or bcrypt digest
}

// PreregisteredClient is a client declared at startup rather than via
// dynamic registration.
type PreregisteredClient struct {
	ClientID     string   `json:"clientId"`
	ClientName   string   `json:"clientName"`
	ClientSecret string   `json:"clientSecret"`
	RedirectURIs []string `json:"redirectUris"`
	GrantType    string   `json:"grantType"` // "authorization_code" | "client_credentials"
}

// StorageConfig is a tagged union discriminated by Type: "memory" or
// "sqlite".
type StorageConfig struct {
	Type string `json:"type"`
	Path string `json:"path"` // sqlite only
}

// MCPServer configures one managed child process.
type MCPServer struct {
	Command string            `json:"command"`
	Args    []string          `json:"args"`
	Env     map[string]string `json:"env"`
	Tools   []string          `json:"tools"` // allowlist; empty means "all"
}

// Load reads, expands, parses, and validates the configuration file at
// path. Environment variables in ${VAR_NAME} form are substituted from
// the process environment; an unresolved variable aborts the load.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	expanded, err := expandEnvVars(string(data))
	if err != nil {
		return nil, err
	}

	dec := json.NewDecoder(bytes.NewReader([]byte(expanded)))
	dec.DisallowUnknownFields()

	var cfg Config
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnvVars replaces every ${VAR_NAME} with the corresponding
// environment variable's value. A variable that isn't set aborts the
// load rather than silently expanding to the empty string, since a
// missing secret would otherwise surface as a confusing downstream
// validation error.
func expandEnvVars(s string) (string, error) {
	var firstErr error
	out := envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		name := envVarPattern.FindStringSubmatch(match)[1]
		val, ok := os.LookupEnv(name)
		if !ok && firstErr == nil {
			firstErr = fmt.Errorf("environment variable %q referenced in config is not set", name)
		}
		return val
	})
	if firstErr != nil {
		return "", firstErr
	}
	return out, nil
}

func (c *Config) applyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "pretty"
	}
}

// Validate checks the structural and semantic invariants from
// SPEC_FULL.md §6, returning the first violation found.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535, got %d", c.Server.Port)
	}

	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log.level must be one of debug|info|warn|error, got %q", c.Log.Level)
	}
	switch c.Log.Format {
	case "pretty", "json":
	default:
		return fmt.Errorf("log.format must be one of pretty|json, got %q", c.Log.Format)
	}

	if err := c.Auth.validate(); err != nil {
		return fmt.Errorf("auth: %w", err)
	}
	if err := c.Storage.validate(); err != nil {
		return fmt.Errorf("storage: %w", err)
	}
	for name, srv := range c.MCPServers {
		if srv.Command == "" {
			return fmt.Errorf("mcpServers.%s.command is required", name)
		}
	}

	return nil
}

var apiKeyPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{16,128}$`)

func (a AuthConfig) validate() error {
	switch a.Type {
	case "":
		return nil
	case "apikey":
		if a.APIKey == nil || !apiKeyPattern.MatchString(a.APIKey.APIKey) {
			return fmt.Errorf(`apikey.apiKey must match [A-Za-z0-9_-]{16,128}`)
		}
		return nil
	case "oauth":
		return a.OAuth.validate()
	default:
		return fmt.Errorf("unknown auth.type %q", a.Type)
	}
}

func (o *OAuthAuthConfig) validate() error {
	if o == nil {
		return fmt.Errorf("oauth auth requires an oauth block")
	}
	if len(o.IdentityProviders) == 0 && !o.DynamicRegistration && len(o.Clients) == 0 {
		return fmt.Errorf("oauth requires at least one of identityProviders, clients, or dynamicRegistration")
	}
	if o.DynamicRegistration && len(o.IdentityProviders) == 0 {
		return fmt.Errorf("dynamicRegistration requires at least one identity provider")
	}
	for i, idp := range o.IdentityProviders {
		if err := idp.validate(); err != nil {
			return fmt.Errorf("identityProviders[%d]: %w", i, err)
		}
	}
	for i, cl := range o.Clients {
		if err := cl.validate(); err != nil {
			return fmt.Errorf("clients[%d]: %w", i, err)
		}
	}
	return nil
}

func (p IdentityProvider) validate() error {
	switch p.Type {
	case "local":
		if len(p.Users) == 0 {
			return fmt.Errorf(`"local" provider requires a non-empty users[]`)
		}
	case "github":
		if p.ClientID == "" || p.ClientSecret == "" {
			return fmt.Errorf(`"github" provider requires clientId and clientSecret`)
		}
	case "passkey":
		// relying-party info derives from the server's issuer.
		for i, cred := range p.Credentials {
			if cred.UserID == "" {
				return fmt.Errorf("passkey credentials[%d]: userId is required", i)
			}
			if _, err := base64.StdEncoding.DecodeString(cred.CredentialID); err != nil {
				return fmt.Errorf("passkey credentials[%d]: credentialId must be base64: %w", i, err)
			}
			if _, err := base64.StdEncoding.DecodeString(cred.PublicKey); err != nil {
				return fmt.Errorf("passkey credentials[%d]: publicKey must be base64: %w", i, err)
			}
		}
	default:
		return fmt.Errorf("unknown identity provider type %q", p.Type)
	}
	return nil
}

func (c PreregisteredClient) validate() error {
	switch c.GrantType {
	case "client_credentials":
		if c.ClientSecret == "" {
			return fmt.Errorf("client_credentials grant requires clientSecret")
		}
	case "authorization_code":
		if len(c.RedirectURIs) == 0 {
			return fmt.Errorf("authorization_code grant requires at least one redirectUri")
		}
	default:
		return fmt.Errorf("unknown grantType %q", c.GrantType)
	}
	return nil
}

func (s StorageConfig) validate() error {
	switch s.Type {
	case "", "memory":
		return nil
	case "sqlite":
		if s.Path == "" {
			return fmt.Errorf(`"sqlite" storage requires path`)
		}
		return nil
	default:
		return fmt.Errorf("unknown storage.type %q", s.Type)
	}
}
