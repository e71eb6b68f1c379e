// Package authz supplies the caller identity and the device-scoping
// predicate applied by every read path. Identities come from bearer tokens
// issued outside this system; sensord only matches them.
package authz

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strings"
)

// Identity is the authenticated caller. Admin callers see every device;
// everyone else is scoped to devices they own (OwnerID == Subject).
type Identity struct {
	Subject string
	Admin   bool
}

// Authenticator resolves a request to an identity.
type Authenticator interface {
	// Authenticate returns the caller identity, or false when the request
	// carries no valid credentials.
	Authenticate(r *http.Request) (Identity, bool)
}

// StaticTokens authenticates against a fixed admin token and a set of
// per-subject user tokens. The zero value rejects everything; use Open for
// development setups without credentials.
type StaticTokens struct {
	AdminToken string
	UserTokens map[string]string // subject -> token
}

// Authenticate matches the bearer token constant-time against the known
// tokens, admin first.
func (s *StaticTokens) Authenticate(r *http.Request) (Identity, bool) {
	token, ok := bearerToken(r)
	if !ok {
		return Identity{}, false
	}

	if s.AdminToken != "" && subtle.ConstantTimeCompare([]byte(token), []byte(s.AdminToken)) == 1 {
		return Identity{Subject: "admin", Admin: true}, true
	}

	for subject, t := range s.UserTokens {
		if subtle.ConstantTimeCompare([]byte(token), []byte(t)) == 1 {
			return Identity{Subject: subject}, true
		}
	}

	return Identity{}, false
}

// Open authenticates every request as an admin. Used when no tokens are
// configured, mirroring a server run without authentication.
type Open struct{}

func (Open) Authenticate(r *http.Request) (Identity, bool) {
	return Identity{Subject: "admin", Admin: true}, true
}

func bearerToken(r *http.Request) (string, bool) {
	auth := r.Header.Get("Authorization")
	parts := strings.Split(auth, " ")
	if len(parts) != 2 || parts[0] != "Bearer" || parts[1] == "" {
		return "", false
	}
	return parts[1], true
}

type contextKey struct{}

// WithIdentity stores the identity in the context.
func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, contextKey{}, id)
}

// FromContext retrieves the identity placed by the auth middleware.
func FromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(contextKey{}).(Identity)
	return id, ok
}
