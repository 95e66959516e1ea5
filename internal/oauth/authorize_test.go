package oauth

import (
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/2389/mcpbox/internal/security"
)

const testVerifier = "dBjftJeZ4CVP-mB92K27uhbUJU1p1r_wW1gFWFOEjXk"

func authorizeQuery() url.Values {
	return url.Values{
		"client_id":             {"test-client"},
		"redirect_uri":          {"https://app.example.com/cb"},
		"response_type":         {"code"},
		"code_challenge":        {security.PKCEChallengeS256(testVerifier)},
		"code_challenge_method": {"S256"},
		"state":                 {"xyz"},
	}
}

func TestAuthorize_GET_RendersLoginForm(t *testing.T) {
	srv, _ := newTestServer(t)
	req := httptest.NewRequest("GET", "/authorize?"+authorizeQuery().Encode(), nil)
	w := httptest.NewRecorder()
	srv.HandleAuthorize(w, req)

	require.Equal(t, 200, w.Code)
	require.Contains(t, w.Body.String(), `name="username"`)
}

func TestAuthorize_GET_MissingParam(t *testing.T) {
	srv, _ := newTestServer(t)
	q := authorizeQuery()
	q.Del("code_challenge")
	req := httptest.NewRequest("GET", "/authorize?"+q.Encode(), nil)
	w := httptest.NewRecorder()
	srv.HandleAuthorize(w, req)

	require.Equal(t, 400, w.Code)
	require.Contains(t, w.Body.String(), "invalid_request")
}

func TestAuthorize_GET_UnknownClient(t *testing.T) {
	srv, _ := newTestServer(t)
	q := authorizeQuery()
	q.Set("client_id", "nonexistent")
	req := httptest.NewRequest("GET", "/authorize?"+q.Encode(), nil)
	w := httptest.NewRecorder()
	srv.HandleAuthorize(w, req)

	require.Equal(t, 400, w.Code)
	require.Contains(t, w.Body.String(), "invalid_client")
}

func TestAuthorize_GET_BadRedirectURI(t *testing.T) {
	srv, _ := newTestServer(t)
	q := authorizeQuery()
	q.Set("redirect_uri", "https://evil.example.com/cb")
	req := httptest.NewRequest("GET", "/authorize?"+q.Encode(), nil)
	w := httptest.NewRecorder()
	srv.HandleAuthorize(w, req)

	require.Equal(t, 400, w.Code)
	require.Contains(t, w.Body.String(), "Invalid redirect_uri")
}

// fullAuthorizationCodeFlow drives GET /authorize, POSTs valid
// credentials, and returns the authorization code from the redirect.
func fullAuthorizationCodeFlow(t *testing.T, srv *Server) string {
	t.Helper()
	req := httptest.NewRequest("GET", "/authorize?"+authorizeQuery().Encode(), nil)
	w := httptest.NewRecorder()
	srv.HandleAuthorize(w, req)
	require.Equal(t, 200, w.Code)

	sessionID := extractSessionID(t, w.Body.String())

	form := url.Values{
		"session_id": {sessionID},
		"username":   {"alice"},
		"password":   {"hunter2"},
	}
	postReq := httptest.NewRequest("POST", "/authorize", strings.NewReader(form.Encode()))
	postReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	postW := httptest.NewRecorder()
	srv.HandleAuthorize(postW, postReq)
	require.Equal(t, 302, postW.Code)

	loc, err := url.Parse(postW.Header().Get("Location"))
	require.NoError(t, err)
	code := loc.Query().Get("code")
	require.NotEmpty(t, code)
	require.Equal(t, "xyz", loc.Query().Get("state"))
	return code
}

func extractSessionID(t *testing.T, body string) string {
	t.Helper()
	const marker = `name="session_id" value="`
	i := strings.Index(body, marker)
	require.Greater(t, i, -1, "session_id field not found in login page")
	rest := body[i+len(marker):]
	return rest[:strings.Index(rest, `"`)]
}

func TestAuthorize_POST_WrongPassword(t *testing.T) {
	srv, _ := newTestServer(t)
	req := httptest.NewRequest("GET", "/authorize?"+authorizeQuery().Encode(), nil)
	w := httptest.NewRecorder()
	srv.HandleAuthorize(w, req)
	sessionID := extractSessionID(t, w.Body.String())

	form := url.Values{"session_id": {sessionID}, "username": {"alice"}, "password": {"wrong"}}
	postReq := httptest.NewRequest("POST", "/authorize", strings.NewReader(form.Encode()))
	postReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	postW := httptest.NewRecorder()
	srv.HandleAuthorize(postW, postReq)

	require.Equal(t, 200, postW.Code)
	require.Contains(t, postW.Body.String(), "Invalid username or password")
}

func TestTokenExchange_AuthorizationCode_PKCERoundTrip(t *testing.T) {
	srv, _ := newTestServer(t)
	code := fullAuthorizationCodeFlow(t, srv)

	form := url.Values{
		"grant_type":    {"authorization_code"},
		"code":          {code},
		"redirect_uri":  {"https://app.example.com/cb"},
		"client_id":     {"test-client"},
		"client_secret": {"client-secret-value"},
		"code_verifier": {testVerifier},
	}
	req := httptest.NewRequest("POST", "/token", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	w := httptest.NewRecorder()
	srv.HandleToken(w, req)

	require.Equal(t, 200, w.Code)
	require.Contains(t, w.Body.String(), `"access_token"`)
	require.Contains(t, w.Body.String(), `"refresh_token"`)
}

func TestTokenExchange_AuthorizationCode_OmittedRedirectURI(t *testing.T) {
	srv, _ := newTestServer(t)
	code := fullAuthorizationCodeFlow(t, srv)

	form := url.Values{
		"grant_type":    {"authorization_code"},
		"code":          {code},
		"client_id":     {"test-client"},
		"client_secret": {"client-secret-value"},
		"code_verifier": {testVerifier},
	}
	req := httptest.NewRequest("POST", "/token", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	w := httptest.NewRecorder()
	srv.HandleToken(w, req)

	require.Equal(t, 200, w.Code, "redirect_uri is optional at the token endpoint per RFC 6749 when not supplied at /authorize with a mismatch")
	require.Contains(t, w.Body.String(), `"access_token"`)
}

func TestTokenExchange_AuthorizationCode_WrongVerifier(t *testing.T) {
	srv, _ := newTestServer(t)
	code := fullAuthorizationCodeFlow(t, srv)

	form := url.Values{
		"grant_type":    {"authorization_code"},
		"code":          {code},
		"redirect_uri":  {"https://app.example.com/cb"},
		"client_id":     {"test-client"},
		"client_secret": {"client-secret-value"},
		"code_verifier": {"wrong-verifier-wrong-verifier-wrong-verifi"},
	}
	req := httptest.NewRequest("POST", "/token", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	w := httptest.NewRecorder()
	srv.HandleToken(w, req)

	require.Equal(t, 400, w.Code)
	require.Contains(t, w.Body.String(), "invalid_grant")
}

func TestTokenExchange_AuthorizationCode_CodeIsSingleUse(t *testing.T) {
	srv, _ := newTestServer(t)
	code := fullAuthorizationCodeFlow(t, srv)

	form := url.Values{
		"grant_type":    {"authorization_code"},
		"code":          {code},
		"redirect_uri":  {"https://app.example.com/cb"},
		"client_id":     {"test-client"},
		"client_secret": {"client-secret-value"},
		"code_verifier": {testVerifier},
	}
	for i, wantCode := range []int{200, 400} {
		req := httptest.NewRequest("POST", "/token", strings.NewReader(form.Encode()))
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		w := httptest.NewRecorder()
		srv.HandleToken(w, req)
		require.Equal(t, wantCode, w.Code, "attempt %d", i)
	}
}

func TestTokenExchange_RefreshTokenRotation(t *testing.T) {
	srv, st := newTestServer(t)
	code := fullAuthorizationCodeFlow(t, srv)

	form := url.Values{
		"grant_type":    {"authorization_code"},
		"code":          {code},
		"redirect_uri":  {"https://app.example.com/cb"},
		"client_id":     {"test-client"},
		"client_secret": {"client-secret-value"},
		"code_verifier": {testVerifier},
	}
	req := httptest.NewRequest("POST", "/token", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	w := httptest.NewRecorder()
	srv.HandleToken(w, req)
	require.Equal(t, 200, w.Code)

	firstRefresh := jsonField(t, w.Body.String(), "refresh_token")

	refreshForm := url.Values{
		"grant_type":    {"refresh_token"},
		"refresh_token": {firstRefresh},
		"client_id":     {"test-client"},
		"client_secret": {"client-secret-value"},
	}
	refreshReq := httptest.NewRequest("POST", "/token", strings.NewReader(refreshForm.Encode()))
	refreshReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	refreshW := httptest.NewRecorder()
	srv.HandleToken(refreshW, refreshReq)
	require.Equal(t, 200, refreshW.Code)

	secondRefresh := jsonField(t, refreshW.Body.String(), "refresh_token")
	require.NotEqual(t, firstRefresh, secondRefresh)

	// The old refresh token must no longer be usable.
	replayReq := httptest.NewRequest("POST", "/token", strings.NewReader(refreshForm.Encode()))
	replayReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	replayW := httptest.NewRecorder()
	srv.HandleToken(replayW, replayReq)
	require.Equal(t, 400, replayW.Code)

	_ = st
}

func TestTokenExchange_ClientCredentials(t *testing.T) {
	st := newEphemeralStoreWithClientCredsClient(t)
	srv := st.srv
	form := url.Values{
		"grant_type":    {"client_credentials"},
		"client_id":     {"cc-client"},
		"client_secret": {"cc-secret"},
	}
	req := httptest.NewRequest("POST", "/token", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	w := httptest.NewRecorder()
	srv.HandleToken(w, req)

	require.Equal(t, 200, w.Code)
	require.Contains(t, w.Body.String(), `"access_token"`)
	require.NotContains(t, w.Body.String(), `"refresh_token"`)
}

func TestRegister_CreatesDynamicClient(t *testing.T) {
	srv, _ := newTestServer(t)
	body := `{"client_name":"Dynamic App","redirect_uris":["https://dynamic.example.com/cb"]}`
	req := httptest.NewRequest("POST", "/register", strings.NewReader(body))
	w := httptest.NewRecorder()
	srv.HandleRegister(w, req)

	require.Equal(t, 201, w.Code)
	require.Contains(t, w.Body.String(), `"client_id"`)
	require.Contains(t, w.Body.String(), `"client_secret"`)
}

func TestRegister_RejectsRelativeRedirectURI(t *testing.T) {
	srv, _ := newTestServer(t)
	body := `{"client_name":"Bad App","redirect_uris":["/cb"]}`
	req := httptest.NewRequest("POST", "/register", strings.NewReader(body))
	w := httptest.NewRecorder()
	srv.HandleRegister(w, req)

	require.Equal(t, 400, w.Code)
	require.Contains(t, w.Body.String(), "invalid_redirect_uri")
}

func TestRegister_DisabledByDefault(t *testing.T) {
	st := testStoreNoDynamicReg(t)
	body := `{"client_name":"App","redirect_uris":["https://example.com/cb"]}`
	req := httptest.NewRequest("POST", "/register", strings.NewReader(body))
	w := httptest.NewRecorder()
	st.HandleRegister(w, req)
	require.Equal(t, 404, w.Code)
}

func jsonField(t *testing.T, body, field string) string {
	t.Helper()
	marker := `"` + field + `":"`
	i := strings.Index(body, marker)
	require.Greater(t, i, -1, "field %q not found", field)
	rest := body[i+len(marker):]
	return rest[:strings.Index(rest, `"`)]
}

type clientCredsFixture struct {
	srv *Server
}

func newEphemeralStoreWithClientCredsClient(t *testing.T) clientCredsFixture {
	t.Helper()
	srv, _ := newServerWithClients(t, []PreregisteredClient{
		{ClientID: "cc-client", ClientSecret: "cc-secret", GrantType: "client_credentials"},
	}, false)
	return clientCredsFixture{srv: srv}
}

func testStoreNoDynamicReg(t *testing.T) *Server {
	t.Helper()
	srv, _ := newServerWithClients(t, nil, false)
	return srv
}
