package oauth

import (
	"html/template"
	"net/http"
)

// loginPageData is the data bound into loginPageTemplate.
type loginPageData struct {
	ClientName       string
	SessionID        string
	Error            string
	ShowForm         bool
	RedirectProviders []loginProviderLink
}

type loginProviderLink struct {
	ID    string
	Label string
	URL   string
}

var loginPageTemplate = template.Must(template.New("login").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>Sign in</title>
<style>
body { font-family: system-ui, sans-serif; max-width: 360px; margin: 4rem auto; }
h1 { font-size: 1.25rem; }
.error { color: #b00020; margin-bottom: 1rem; }
input { display: block; width: 100%; margin-bottom: 0.75rem; padding: 0.5rem; box-sizing: border-box; }
button, a.provider { display: block; width: 100%; padding: 0.5rem; margin-bottom: 0.5rem; text-align: center; text-decoration: none; border: 1px solid #ccc; border-radius: 4px; background: #f5f5f5; color: #111; cursor: pointer; }
</style>
</head>
<body>
<h1>{{if .ClientName}}Sign in to {{.ClientName}}{{else}}Sign in{{end}}</h1>
{{if .Error}}<p class="error">{{.Error}}</p>{{end}}
{{range .RedirectProviders}}<a class="provider" href="{{.URL}}">Continue with {{.Label}}</a>{{end}}
{{if .ShowForm}}
<form method="post">
<input type="hidden" name="session_id" value="{{.SessionID}}">
<input type="text" name="username" placeholder="Username" autocomplete="username" required>
<input type="password" name="password" placeholder="Password" autocomplete="current-password" required>
<button type="submit">Sign in</button>
</form>
{{end}}
</body>
</html>
`))

// renderLoginPage re-renders the login form for sess, including an
// optional error banner and a link per redirect-shaped provider so the
// user can restart the flow against GitHub, a passkey, or any other
// configured provider instead of the password form.
func (s *Server) renderLoginPage(w http.ResponseWriter, sess *pendingSession, errMsg string) {
	data := loginPageData{
		ClientName: sess.clientName,
		SessionID:  sess.sessionID,
		Error:      errMsg,
		ShowForm:   len(s.formProviders) > 0,
	}
	for _, id := range s.redirectProviderIDs {
		data.RedirectProviders = append(data.RedirectProviders, loginProviderLink{
			ID:    id,
			Label: id,
			URL:   "/authorize?" + sess.originalQuery + "&idp=" + template.URLQueryEscaper(id),
		})
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_ = loginPageTemplate.Execute(w, data)
}
