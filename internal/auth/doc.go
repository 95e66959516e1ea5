// Package auth provides the HTTP-level authentication middleware for
// mcpbox's three configured modes.
//
// # Modes
//
//   - apikey: a single static key, accepted via the X-API-Key header
//     or an Authorization: Bearer/ApiKey header, compared under
//     constant time.
//   - oauth: bearer tokens issued by internal/oauth, validated through
//     the TokenValidator interface so this package never depends on
//     the store or the OAuth server directly.
//   - none: passthrough, for gateways with no authentication at all.
//
// # Context propagation
//
// A successful middleware attaches an *AuthContext carrying the
// authenticated UserID to the request context, retrievable downstream
// via FromContext or MustFromContext.
package auth
