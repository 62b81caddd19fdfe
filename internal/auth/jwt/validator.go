// Package jwt validates JSON Web Tokens against a remotely fetched,
// cached key set.
package jwt

import (
	"context"
	"errors"
	"time"

	"github.com/lestrrat-go/jwx/v2/jws"
	"github.com/lestrrat-go/jwx/v2/jwt"

	"github.com/llmgate/llmgate/internal/observability"
)

// Config holds settings for the JWT validator.
type Config struct {
	// JWKSURL is the remote key set endpoint.
	JWKSURL string

	// CacheTTL is the key set cache interval. Zero means one hour.
	CacheTTL time.Duration

	// SubjectClaim names the claim carrying the subject identifier.
	SubjectClaim string

	// DisplayNameClaim names the claim carrying the display name.
	DisplayNameClaim string

	// Issuer, when set, must match the token issuer.
	Issuer string

	// ClockSkew is the allowed skew when validating time claims.
	ClockSkew time.Duration
}

// Claims is the validated result of a token.
type Claims struct {
	// Subject is the value of the configured subject claim.
	Subject string

	// DisplayName is the value of the configured display-name claim.
	DisplayName string

	// Raw is the full claim document, used for role-rule evaluation.
	Raw map[string]interface{}
}

// Validator validates JWT tokens.
type Validator interface {
	// Validate verifies the token signature and time claims and
	// extracts the configured identity claims.
	Validate(ctx context.Context, token string) (*Claims, error)
}

// validator implements Validator using a cached JWKS.
type validator struct {
	config *Config
	keys   *KeyCache
	logger observability.Logger
}

// ValidatorOption is a functional option for the validator.
type ValidatorOption func(*validator)

// WithValidatorLogger sets the logger.
func WithValidatorLogger(logger observability.Logger) ValidatorOption {
	return func(v *validator) {
		v.logger = logger
	}
}

// WithKeyCache sets the key cache, replacing the one built from config.
func WithKeyCache(cache *KeyCache) ValidatorOption {
	return func(v *validator) {
		v.keys = cache
	}
}

// NewValidator creates a JWT validator.
func NewValidator(config *Config, opts ...ValidatorOption) (Validator, error) {
	if config == nil {
		return nil, errors.New("config is required")
	}

	v := &validator{
		config: config,
		logger: observability.NopLogger(),
	}
	for _, opt := range opts {
		opt(v)
	}

	if v.keys == nil {
		cache, err := NewKeyCache(config.JWKSURL,
			WithCacheTTL(config.CacheTTL),
			WithKeyCacheLogger(v.logger),
		)
		if err != nil {
			return nil, err
		}
		v.keys = cache
	}

	return v, nil
}

// Validate verifies the token and extracts claims. Failure reasons are
// distinguishable through the package sentinels.
func (v *validator) Validate(ctx context.Context, token string) (*Claims, error) {
	if token == "" {
		return nil, ErrEmptyToken
	}

	msg, err := jws.Parse([]byte(token))
	if err != nil {
		return nil, NewValidationError("failed to parse token", ErrTokenMalformed)
	}
	sigs := msg.Signatures()
	if len(sigs) == 0 {
		return nil, NewValidationError("token carries no signature", ErrTokenMalformed)
	}
	headers := sigs[0].ProtectedHeaders()

	key, err := v.keys.Lookup(ctx, headers.KeyID())
	if err != nil {
		return nil, err
	}

	if _, err := jws.Verify([]byte(token), jws.WithKey(headers.Algorithm(), key)); err != nil {
		return nil, NewValidationError("signature verification failed", ErrInvalidSignature)
	}

	parsed, err := jwt.Parse([]byte(token),
		jwt.WithVerify(false),
		jwt.WithValidate(true),
		jwt.WithAcceptableSkew(v.config.ClockSkew),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired()) {
			return nil, NewValidationError("token has expired", ErrTokenExpired)
		}
		if errors.Is(err, jwt.ErrTokenNotYetValid()) {
			return nil, NewValidationError("token is not yet valid", ErrTokenExpired)
		}
		return nil, NewValidationError("token validation failed", ErrTokenMalformed)
	}

	if v.config.Issuer != "" && parsed.Issuer() != v.config.Issuer {
		return nil, NewValidationError("issuer "+parsed.Issuer()+" is not allowed", ErrInvalidIssuer)
	}

	return v.extractClaims(parsed)
}

// extractClaims builds Claims from the parsed token.
func (v *validator) extractClaims(parsed jwt.Token) (*Claims, error) {
	raw := make(map[string]interface{}, len(parsed.PrivateClaims())+4)
	for name, value := range parsed.PrivateClaims() {
		raw[name] = value
	}
	if parsed.Subject() != "" {
		raw["sub"] = parsed.Subject()
	}
	if parsed.Issuer() != "" {
		raw["iss"] = parsed.Issuer()
	}
	if aud := parsed.Audience(); len(aud) > 0 {
		raw["aud"] = aud
	}

	subjectClaim := v.config.SubjectClaim
	if subjectClaim == "" {
		subjectClaim = "sub"
	}
	subject := stringClaim(raw, subjectClaim)
	if subject == "" {
		return nil, NewValidationError("claim "+subjectClaim+" is required", ErrMissingClaim)
	}

	displayClaim := v.config.DisplayNameClaim
	if displayClaim == "" {
		displayClaim = "name"
	}
	display := stringClaim(raw, displayClaim)
	if display == "" {
		display = subject
	}

	v.logger.Debug("JWT validated",
		observability.String("subject", subject),
	)

	return &Claims{
		Subject:     subject,
		DisplayName: display,
		Raw:         raw,
	}, nil
}

// stringClaim returns the named claim as a string, or empty.
func stringClaim(claims map[string]interface{}, name string) string {
	if v, ok := claims[name]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

// Ensure validator implements Validator.
var _ Validator = (*validator)(nil)
