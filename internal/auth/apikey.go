package auth

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"

	"github.com/llmgate/llmgate/internal/config"
)

// APIKeySubject is the shared subject for API-key callers. The key is
// a shared credential, so there is no per-caller identity to extract.
const APIKeySubject = "apikey"

// apiKeyAuthenticator compares the presented bearer token against a
// single configured key.
type apiKeyAuthenticator struct {
	key []byte
}

func newAPIKeyAuthenticator(cfg *config.APIKeyConfig) (*apiKeyAuthenticator, error) {
	key := cfg.Key
	if key == "" && cfg.KeyFile != "" {
		data, err := os.ReadFile(cfg.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read API key file: %w", err)
		}
		key = strings.TrimSpace(string(data))
	}
	if key == "" {
		return nil, errors.New("API key is not configured")
	}
	return &apiKeyAuthenticator{key: []byte(key)}, nil
}

func (a *apiKeyAuthenticator) Authenticate(r *http.Request) (*Identity, error) {
	token := bearerToken(r)
	if token == "" {
		return nil, NewError(ReasonMissingCredentials, "bearer token is required")
	}
	if subtle.ConstantTimeCompare([]byte(token), a.key) != 1 {
		return nil, NewError(ReasonInvalidAPIKey, "API key does not match")
	}
	return &Identity{
		Subject:     APIKeySubject,
		DisplayName: APIKeySubject,
		Token:       token,
		AuthType:    AuthTypeAPIKey,
	}, nil
}

func (a *apiKeyAuthenticator) Type() AuthType { return AuthTypeAPIKey }

var _ Authenticator = (*apiKeyAuthenticator)(nil)
