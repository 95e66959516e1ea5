package identity

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"html/template"
	"log/slog"
	"net/http"
	"sync"
	"time"

	webauthnlib "github.com/go-webauthn/webauthn/protocol"
	"github.com/go-webauthn/webauthn/webauthn"

	"github.com/2389/mcpbox/internal/security"
)

// PasskeyCredential is one registered WebAuthn credential, supplied at
// configuration time or (in a fuller deployment) provisioned out of
// band; the gateway itself never exposes a registration ceremony since
// it has no durable per-user credential store of its own.
type PasskeyCredential struct {
	UserID       string
	DisplayName  string
	CredentialID []byte
	PublicKey    []byte
	SignCount    uint32
}

func (c PasskeyCredential) toWebAuthn() webauthn.Credential {
	return webauthn.Credential{
		ID:        c.CredentialID,
		PublicKey: c.PublicKey,
		Authenticator: webauthn.Authenticator{
			SignCount: c.SignCount,
		},
	}
}

// passkeyUser adapts a single PasskeyCredential to webauthn.User; the
// gateway only ever needs discoverable-credential login, never
// registration, so one user maps to exactly one credential here.
type passkeyUser struct{ cred PasskeyCredential }

func (u passkeyUser) WebAuthnID() []byte                     { return []byte(u.cred.UserID) }
func (u passkeyUser) WebAuthnName() string                   { return u.cred.DisplayName }
func (u passkeyUser) WebAuthnDisplayName() string             { return u.cred.DisplayName }
func (u passkeyUser) WebAuthnCredentials() []webauthn.Credential {
	return []webauthn.Credential{u.cred.toWebAuthn()}
}

// ceremonySession holds an in-flight WebAuthn assertion challenge,
// keyed by a short-lived session token. Mirrors the TTL-map-plus-sweep
// pattern used for the gateway's other transient caches.
type ceremonySession struct {
	data      *webauthn.SessionData
	sessionID string // oauth pending-session id, carried through to the redirect
	expiresAt time.Time
}

// exchangeResult is the one-shot record a completed ceremony leaves
// behind for the generic /callback/<id> handler to consume.
type exchangeResult struct {
	user      *User
	expiresAt time.Time
}

// PasskeyProvider is a RedirectProvider whose "redirect target" is a
// login page the gateway itself serves and whose "callback" carries a
// short-lived exchange token rather than a third party's authorization
// code.
type PasskeyProvider struct {
	id  string
	wa  *webauthn.WebAuthn
	creds []PasskeyCredential

	mu        sync.Mutex
	ceremonies map[string]*ceremonySession
	exchanges  map[string]*exchangeResult

	logger *slog.Logger
	cancel context.CancelFunc
}

// NewPasskeyProvider returns a PasskeyProvider. rpID/rpOrigins follow
// go-webauthn's relying-party configuration and are normally derived
// from the OAuth server's issuer.
func NewPasskeyProvider(id, rpID string, rpOrigins []string, creds []PasskeyCredential, logger *slog.Logger) (*PasskeyProvider, error) {
	if id == "" {
		id = "passkey"
	}
	if logger == nil {
		logger = slog.Default()
	}
	wa, err := webauthn.New(&webauthn.Config{
		RPDisplayName: "mcpbox",
		RPID:          rpID,
		RPOrigins:     rpOrigins,
	})
	if err != nil {
		return nil, fmt.Errorf("configuring webauthn: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	p := &PasskeyProvider{
		id:         id,
		wa:         wa,
		creds:      creds,
		ceremonies: make(map[string]*ceremonySession),
		exchanges:  make(map[string]*exchangeResult),
		logger:     logger.With("component", "identity.passkey", "idp", id),
		cancel:     cancel,
	}
	go p.sweepLoop(ctx)
	return p, nil
}

// Close stops the background sweeper.
func (p *PasskeyProvider) Close() {
	if p.cancel != nil {
		p.cancel()
	}
}

func (p *PasskeyProvider) ID() string   { return p.id }
func (p *PasskeyProvider) Type() string { return "passkey" }

// AuthorizationURL points at the gateway's own ceremony page, carrying
// the pending-session id as state the same way an external provider
// would.
func (p *PasskeyProvider) AuthorizationURL(callbackURL, state string) string {
	return fmt.Sprintf("/passkey/%s?session_id=%s&callback=%s", p.id, state, template.URLQueryEscaper(callbackURL))
}

// HandleCallback consumes a one-shot exchange token produced by a
// completed ceremony. Unlike GitHub's authorization code, this token
// was minted by the gateway itself and is never sent to a third party.
func (p *PasskeyProvider) HandleCallback(_ context.Context, callbackQuery map[string]string) (*User, bool) {
	token := callbackQuery["token"]
	if token == "" {
		return nil, false
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	res, ok := p.exchanges[token]
	delete(p.exchanges, token)
	if !ok || time.Now().After(res.expiresAt) {
		return nil, false
	}
	return res.user, true
}

// Handler serves the passkey ceremony: a login page plus the two JSON
// endpoints (begin/finish) the page's script calls against
// navigator.credentials.get(). Mounted by the gateway router under
// /passkey/<id>/.
func (p *PasskeyProvider) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/begin", p.handleBegin)
	mux.HandleFunc("/finish", p.handleFinish)
	mux.HandleFunc("/", p.handlePage)
	return mux
}

func (p *PasskeyProvider) handlePage(w http.ResponseWriter, r *http.Request) {
	sessionID := r.URL.Query().Get("session_id")
	callback := r.URL.Query().Get("callback")
	if sessionID == "" || callback == "" {
		http.Error(w, "missing session_id or callback", http.StatusBadRequest)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_ = passkeyPageTemplate.Execute(w, passkeyPageData{
		ProviderID: p.id,
		SessionID:  sessionID,
		Callback:   callback,
	})
}

func (p *PasskeyProvider) handleBegin(w http.ResponseWriter, r *http.Request) {
	sessionID := r.URL.Query().Get("session_id")
	if sessionID == "" || len(p.creds) == 0 {
		http.Error(w, "passkey login unavailable", http.StatusServiceUnavailable)
		return
	}

	options, sessionData, err := p.wa.BeginDiscoverableLogin()
	if err != nil {
		p.logger.Error("begin discoverable login failed", "error", err)
		http.Error(w, "failed to start login", http.StatusInternalServerError)
		return
	}

	token, err := security.NewSessionID()
	if err != nil {
		http.Error(w, "failed to start login", http.StatusInternalServerError)
		return
	}

	p.mu.Lock()
	p.ceremonies[token] = &ceremonySession{data: sessionData, sessionID: sessionID, expiresAt: time.Now().Add(5 * time.Minute)}
	p.mu.Unlock()

	writeJSON(w, map[string]any{"ceremonyToken": token, "options": options})
}

func (p *PasskeyProvider) handleFinish(w http.ResponseWriter, r *http.Request) {
	var req struct {
		CeremonyToken string          `json:"ceremonyToken"`
		Response      json.RawMessage `json:"response"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request", http.StatusBadRequest)
		return
	}

	p.mu.Lock()
	ceremony, ok := p.ceremonies[req.CeremonyToken]
	delete(p.ceremonies, req.CeremonyToken)
	p.mu.Unlock()
	if !ok || time.Now().After(ceremony.expiresAt) {
		http.Error(w, "expired or unknown ceremony", http.StatusBadRequest)
		return
	}

	parsed, err := webauthnlib.ParseCredentialRequestResponseBody(bytes.NewReader(req.Response))
	if err != nil {
		http.Error(w, "invalid assertion", http.StatusBadRequest)
		return
	}

	var matched *PasskeyCredential
	finder := func(rawID, userHandle []byte) (webauthn.User, error) {
		for i := range p.creds {
			if string(p.creds[i].CredentialID) == string(rawID) {
				matched = &p.creds[i]
				return passkeyUser{cred: p.creds[i]}, nil
			}
		}
		return nil, fmt.Errorf("unknown credential")
	}

	if _, err := p.wa.ValidateDiscoverableLogin(finder, *ceremony.data, parsed); err != nil {
		p.logger.Warn("passkey assertion validation failed", "error", err)
		http.Error(w, "authentication failed", http.StatusUnauthorized)
		return
	}
	if matched == nil {
		http.Error(w, "authentication failed", http.StatusUnauthorized)
		return
	}

	exchangeToken, err := security.NewSessionID()
	if err != nil {
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	p.mu.Lock()
	p.exchanges[exchangeToken] = &exchangeResult{
		user: &User{
			ID:          fmt.Sprintf("%s:%s", p.Type(), matched.UserID),
			DisplayName: matched.DisplayName,
		},
		expiresAt: time.Now().Add(time.Minute),
	}
	p.mu.Unlock()

	writeJSON(w, map[string]any{"token": exchangeToken, "sessionId": ceremony.sessionID})
}

func (p *PasskeyProvider) sweepLoop(ctx context.Context) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.mu.Lock()
			now := time.Now()
			for k, v := range p.ceremonies {
				if now.After(v.expiresAt) {
					delete(p.ceremonies, k)
				}
			}
			for k, v := range p.exchanges {
				if now.After(v.expiresAt) {
					delete(p.exchanges, k)
				}
			}
			p.mu.Unlock()
		}
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

type passkeyPageData struct {
	ProviderID string
	SessionID  string
	Callback   string
}

var passkeyPageTemplate = template.Must(template.New("passkey").Parse(`<!DOCTYPE html>
<html>
<head><title>Sign in with a passkey</title></head>
<body>
<h1>Sign in with a passkey</h1>
<button id="go">Continue</button>
<p id="status"></p>
<script>
const providerID = {{.ProviderID}};
const sessionID = {{.SessionID}};
const callback = {{.Callback}};

function b64urlToBuf(s) {
  s = s.replace(/-/g, '+').replace(/_/g, '/');
  while (s.length % 4) s += '=';
  const bin = atob(s);
  const buf = new Uint8Array(bin.length);
  for (let i = 0; i < bin.length; i++) buf[i] = bin.charCodeAt(i);
  return buf.buffer;
}
function bufToB64url(buf) {
  const bytes = new Uint8Array(buf);
  let bin = '';
  for (const b of bytes) bin += String.fromCharCode(b);
  return btoa(bin).replace(/\+/g, '-').replace(/\//g, '_').replace(/=+$/, '');
}

document.getElementById('go').addEventListener('click', async () => {
  const status = document.getElementById('status');
  try {
    const beginResp = await fetch('begin?session_id=' + encodeURIComponent(sessionID));
    const begin = await beginResp.json();
    const options = begin.options.publicKey;
    options.challenge = b64urlToBuf(options.challenge);
    if (options.allowCredentials) {
      options.allowCredentials = options.allowCredentials.map(c => ({...c, id: b64urlToBuf(c.id)}));
    }
    const assertion = await navigator.credentials.get({publicKey: options});
    const response = {
      id: assertion.id,
      rawId: bufToB64url(assertion.rawId),
      type: assertion.type,
      response: {
        authenticatorData: bufToB64url(assertion.response.authenticatorData),
        clientDataJSON: bufToB64url(assertion.response.clientDataJSON),
        signature: bufToB64url(assertion.response.signature),
        userHandle: assertion.response.userHandle ? bufToB64url(assertion.response.userHandle) : null,
      },
    };
    const finishResp = await fetch('finish', {
      method: 'POST',
      headers: {'Content-Type': 'application/json'},
      body: JSON.stringify({ceremonyToken: begin.ceremonyToken, response}),
    });
    if (!finishResp.ok) { status.textContent = 'Authentication failed.'; return; }
    const result = await finishResp.json();
    window.location = callback + (callback.includes('?') ? '&' : '?') + 'state=' + encodeURIComponent(result.sessionId) + '&token=' + encodeURIComponent(result.token);
  } catch (e) {
    status.textContent = 'Passkey sign-in failed: ' + e;
  }
});
</script>
</body>
</html>`))
