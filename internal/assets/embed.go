// Package assets serves the gateway's small set of static images —
// logo, favicon, and icon — embedded directly into the binary. There is
// no frontend build step: the gateway's only rendered HTML is the
// server-side login and passkey ceremony pages in internal/oauth and
// internal/identity.
package assets

import (
	"embed"
	"net/http"
)

//go:embed static/logo.png static/favicon.ico static/icon.png static/favicon.png
var staticFS embed.FS

// Handler serves the embedded image at name (e.g. "logo.png") with a
// public one-day cache header, since the binary's version is the only
// thing that ever changes its content.
func Handler(name string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Cache-Control", "public, max-age=86400")
		http.ServeFileFS(w, r, staticFS, "static/"+name)
	})
}
