package auth

import (
	"net/http"
)

// AnonymousSubject is the placeholder subject for anonymous callers.
const AnonymousSubject = "anonymous"

// userIDParam lets anonymous callers pick their own accounting subject.
const userIDParam = "user_id"

// anonymousAuthenticator admits every request. The subject comes from
// the user_id query parameter when present so development setups can
// still exercise per-subject quotas.
type anonymousAuthenticator struct{}

func newAnonymousAuthenticator() *anonymousAuthenticator {
	return &anonymousAuthenticator{}
}

func (a *anonymousAuthenticator) Authenticate(r *http.Request) (*Identity, error) {
	subject := r.URL.Query().Get(userIDParam)
	if subject == "" {
		subject = AnonymousSubject
	}
	return &Identity{
		Subject:     subject,
		DisplayName: subject,
		AuthType:    AuthTypeAnonymous,
	}, nil
}

func (a *anonymousAuthenticator) Type() AuthType { return AuthTypeAnonymous }

// anonymousTokenAuthenticator requires a bearer token but does not
// validate it. The token is carried forward for downstream credential
// resolution.
type anonymousTokenAuthenticator struct{}

func newAnonymousTokenAuthenticator() *anonymousTokenAuthenticator {
	return &anonymousTokenAuthenticator{}
}

func (a *anonymousTokenAuthenticator) Authenticate(r *http.Request) (*Identity, error) {
	token := bearerToken(r)
	if token == "" {
		return nil, NewError(ReasonMissingCredentials, "bearer token is required")
	}
	subject := r.URL.Query().Get(userIDParam)
	if subject == "" {
		subject = AnonymousSubject
	}
	return &Identity{
		Subject:     subject,
		DisplayName: subject,
		Token:       token,
		AuthType:    AuthTypeAnonymousToken,
	}, nil
}

func (a *anonymousTokenAuthenticator) Type() AuthType { return AuthTypeAnonymousToken }

var (
	_ Authenticator = (*anonymousAuthenticator)(nil)
	_ Authenticator = (*anonymousTokenAuthenticator)(nil)
)
