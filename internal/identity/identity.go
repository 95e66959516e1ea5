// Package identity turns user-supplied credentials, direct or via a
// third party, into an authenticated-user record for the OAuth server.
//
// Two distinct shapes are preserved as separate interfaces rather than
// collapsed into one method with optional parameters: a FormProvider
// validates a username/password pair synchronously; a RedirectProvider
// hands the browser off to an external (or locally-rendered) flow and
// resumes via a callback.
package identity

import "context"

// User is the record an identity provider produces on successful
// authentication. ID is always "<providerType>:<localID>" so the OAuth
// server can tell which provider vouched for a given user without
// holding a reference to the provider itself.
type User struct {
	ID          string
	DisplayName string
}

// Provider is the common surface every identity provider exposes
// regardless of shape, used for lookup by configured id.
type Provider interface {
	// ID is this provider instance's configured identifier, used in
	// /authorize?idp=<id> and /callback/<id>. Distinct from Type when
	// more than one provider of the same type is configured.
	ID() string
	Type() string
}

// FormProvider validates credentials supplied directly to the
// authorization endpoint's login form.
type FormProvider interface {
	Provider
	Validate(ctx context.Context, username, password string) (*User, bool)
}

// RedirectProvider hands authentication off to a flow identified by a
// URL, then resumes from a callback carrying arbitrary query
// parameters. The reference implementation is GitHub OAuth; passkey
// authentication is modeled the same way even though its "redirect"
// target is served by the gateway itself.
type RedirectProvider interface {
	Provider
	AuthorizationURL(callbackURL, state string) string
	HandleCallback(ctx context.Context, callbackQuery map[string]string) (*User, bool)
}
