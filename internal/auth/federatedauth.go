package auth

import (
	"errors"
	"net/http"

	"github.com/llmgate/llmgate/internal/auth/federated"
	"github.com/llmgate/llmgate/internal/config"
)

// DefaultFederatedHeader carries the encoded identity document.
const DefaultFederatedHeader = "X-Federated-Identity"

// federatedAuthenticator trusts an upstream gateway to have already
// authenticated the caller and decodes the identity document it passes
// along.
type federatedAuthenticator struct {
	header       string
	entitlements []string
}

func newFederatedAuthenticator(cfg *config.FederatedConfig) *federatedAuthenticator {
	header := cfg.Header
	if header == "" {
		header = DefaultFederatedHeader
	}
	return &federatedAuthenticator{
		header:       header,
		entitlements: cfg.RequiredEntitlements,
	}
}

func (a *federatedAuthenticator) Authenticate(r *http.Request) (*Identity, error) {
	encoded := r.Header.Get(a.header)
	if encoded == "" {
		return nil, NewError(ReasonMissingCredentials, "identity header "+a.header+" is missing")
	}

	doc, err := federated.Decode(encoded)
	if err != nil {
		return nil, wrapFederatedError(err)
	}

	for _, name := range a.entitlements {
		if err := doc.CheckEntitlement(name); err != nil {
			return nil, WrapError(ReasonMissingEntitlement, "entitlement "+name+" is required", err)
		}
	}

	return &Identity{
		Subject:     doc.Subject(),
		DisplayName: doc.DisplayName(),
		Token:       bearerToken(r),
		Claims:      doc.Claims(),
		AuthType:    AuthTypeFederated,
	}, nil
}

func (a *federatedAuthenticator) Type() AuthType { return AuthTypeFederated }

func wrapFederatedError(err error) *Error {
	var fieldErr *federated.FieldError
	switch {
	case errors.Is(err, federated.ErrEmptyDocument):
		return WrapError(ReasonMissingCredentials, "identity document is empty", err)
	case errors.Is(err, federated.ErrBadEncoding):
		return WrapError(ReasonBadEncoding, "identity document is not decodable", err)
	case errors.As(err, &fieldErr):
		return WrapError(ReasonBadDocument, "identity document field "+fieldErr.Field+" is invalid", err)
	default:
		return WrapError(ReasonInternal, "identity document rejected", err)
	}
}

var _ Authenticator = (*federatedAuthenticator)(nil)
