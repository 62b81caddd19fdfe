// Package auth turns inbound requests into a uniform identity. A closed
// set of authenticator variants is selected by configuration at startup;
// every variant produces the same Identity shape.
package auth

import (
	"context"
)

// AuthType identifies the authenticator variant that produced an identity.
type AuthType string

// Authenticator variants.
const (
	AuthTypeAnonymous      AuthType = "anonymous"
	AuthTypeAnonymousToken AuthType = "anonymous-token"
	AuthTypeAPIKey         AuthType = "apikey"
	AuthTypeJWT            AuthType = "jwt"
	AuthTypeCluster        AuthType = "cluster"
	AuthTypeFederated      AuthType = "federated"
)

// Identity represents an authenticated caller. It is created once per
// request and is immutable afterwards; roles are resolved separately and
// attached by the role resolver before authorization.
type Identity struct {
	// Subject is the unique identifier used for quota accounting.
	Subject string `json:"sub"`

	// DisplayName is the human-readable caller name.
	DisplayName string `json:"name,omitempty"`

	// Roles contains the resolved role labels.
	Roles []string `json:"roles,omitempty"`

	// Token is the caller's original bearer credential, carried for
	// downstream credential resolution. Never logged.
	Token string `json:"-"`

	// Claims contains the claim document role rules evaluate against.
	Claims map[string]interface{} `json:"claims,omitempty"`

	// AuthType is the authentication method used.
	AuthType AuthType `json:"auth_type"`
}

// HasRole checks if the identity holds a specific role.
func (i *Identity) HasRole(role string) bool {
	for _, r := range i.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// WithRoles returns a copy of the identity with the given roles attached.
func (i *Identity) WithRoles(roles []string) *Identity {
	clone := *i
	clone.Roles = roles
	return &clone
}

type identityContextKey struct{}

// ContextWithIdentity adds an identity to the context.
func ContextWithIdentity(ctx context.Context, identity *Identity) context.Context {
	return context.WithValue(ctx, identityContextKey{}, identity)
}

// IdentityFromContext extracts the identity from the context.
func IdentityFromContext(ctx context.Context) (*Identity, bool) {
	identity, ok := ctx.Value(identityContextKey{}).(*Identity)
	return identity, ok && identity != nil
}
