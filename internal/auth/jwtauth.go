package auth

import (
	"errors"
	"net/http"

	"github.com/llmgate/llmgate/internal/auth/jwt"
	"github.com/llmgate/llmgate/internal/config"
)

// GuestSubject is the identity assigned to JWT-variant requests that
// present no credentials at all.
const GuestSubject = "guest"

// jwtAuthenticator validates bearer tokens against a cached JWKS. A
// request without any Authorization header is admitted as guest.
type jwtAuthenticator struct {
	validator jwt.Validator
}

func newJWTAuthenticator(cfg *config.JWTConfig, options *Options) (*jwtAuthenticator, error) {
	validator, err := jwt.NewValidator(&jwt.Config{
		JWKSURL:          cfg.JWKSURL,
		CacheTTL:         cfg.CacheTTL.Duration(),
		SubjectClaim:     cfg.SubjectClaim,
		DisplayNameClaim: cfg.DisplayNameClaim,
		Issuer:           cfg.Issuer,
		ClockSkew:        cfg.ClockSkew.Duration(),
	}, jwt.WithValidatorLogger(options.Logger))
	if err != nil {
		return nil, err
	}
	return &jwtAuthenticator{validator: validator}, nil
}

func (a *jwtAuthenticator) Authenticate(r *http.Request) (*Identity, error) {
	if r.Header.Get("Authorization") == "" {
		return &Identity{
			Subject:     GuestSubject,
			DisplayName: GuestSubject,
			AuthType:    AuthTypeJWT,
		}, nil
	}

	token := bearerToken(r)
	if token == "" {
		return nil, NewError(ReasonMalformedToken, "Authorization header is not a bearer token")
	}

	claims, err := a.validator.Validate(r.Context(), token)
	if err != nil {
		return nil, wrapJWTError(err)
	}

	return &Identity{
		Subject:     claims.Subject,
		DisplayName: claims.DisplayName,
		Token:       token,
		Claims:      claims.Raw,
		AuthType:    AuthTypeJWT,
	}, nil
}

func (a *jwtAuthenticator) Type() AuthType { return AuthTypeJWT }

// wrapJWTError maps the jwt package sentinels onto failure reasons.
func wrapJWTError(err error) *Error {
	switch {
	case errors.Is(err, jwt.ErrEmptyToken):
		return WrapError(ReasonMissingCredentials, "bearer token is empty", err)
	case errors.Is(err, jwt.ErrTokenExpired):
		return WrapError(ReasonExpiredToken, "token has expired", err)
	case errors.Is(err, jwt.ErrUnknownKeyID):
		return WrapError(ReasonUnknownKeyID, "no key matches the token key-id", err)
	case errors.Is(err, jwt.ErrInvalidSignature):
		return WrapError(ReasonInvalidSignature, "token signature is invalid", err)
	case errors.Is(err, jwt.ErrInvalidIssuer):
		return WrapError(ReasonMalformedToken, "token issuer is not allowed", err)
	case errors.Is(err, jwt.ErrMissingClaim):
		return WrapError(ReasonMissingClaim, "token lacks a required claim", err)
	case errors.Is(err, jwt.ErrTokenMalformed):
		return WrapError(ReasonMalformedToken, "token is malformed", err)
	case errors.Is(err, jwt.ErrKeySetUnavailable):
		return WrapError(ReasonInternal, "key set is unavailable", err)
	default:
		return WrapError(ReasonInternal, "token validation failed", err)
	}
}

var _ Authenticator = (*jwtAuthenticator)(nil)
