package gateway

import (
	"encoding/json"
	"net/http"

	"github.com/2389/mcpbox/internal/assets"
)

var staticAssetNames = []string{"logo.png", "favicon.ico", "icon.png", "favicon.png"}

// router builds the full HTTP route table from SPEC_FULL.md §4.6.
func (gw *Gateway) router() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", gw.handleHealth)

	for _, name := range staticAssetNames {
		mux.Handle("GET /"+name, assets.Handler(name))
	}

	if gw.oauthServer != nil {
		mux.HandleFunc("GET /.well-known/oauth-protected-resource", gw.oauthServer.HandleProtectedResourceMetadata)
		mux.HandleFunc("GET /.well-known/oauth-authorization-server", gw.oauthServer.HandleAuthServerMetadata)
		mux.HandleFunc("GET /authorize", gw.oauthServer.HandleAuthorize)
		mux.HandleFunc("POST /authorize", gw.oauthServer.HandleAuthorize)
		mux.HandleFunc("POST /token", gw.oauthServer.HandleToken)
		mux.HandleFunc("POST /register", gw.oauthServer.HandleRegister)
		mux.HandleFunc("GET /callback/{providerId}", gw.oauthServer.HandleCallback)

		for _, pp := range gw.passkeyProviders {
			prefix := "/passkey/" + pp.ID()
			mux.Handle(prefix+"/", http.StripPrefix(prefix, pp.Handler()))
		}
	}

	protected := gw.authMiddleware()
	mux.Handle("GET /status", protected(http.HandlerFunc(gw.handleStatus)))
	mux.Handle("POST /{$}", protected(gw.mcpServer))
	mux.Handle("POST /mcp", protected(gw.mcpServer))

	mux.HandleFunc("/", handleNotFound)

	return mux
}

func (gw *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (gw *Gateway) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"children": gw.mux.Health(r.Context())})
}

func handleNotFound(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusNotFound, map[string]string{"error": "Not found"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
