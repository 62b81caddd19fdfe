package auth

import (
	"errors"
	"net/http"

	"github.com/llmgate/llmgate/internal/auth/cluster"
	"github.com/llmgate/llmgate/internal/config"
)

// clusterAuthenticator validates bearer tokens against the Kubernetes
// TokenReview and SubjectAccessReview APIs.
type clusterAuthenticator struct {
	reviewer cluster.Reviewer
}

func newClusterAuthenticator(cfg *config.ClusterConfig, options *Options) (*clusterAuthenticator, error) {
	reviewer, err := cluster.NewReviewer(cfg.Kubeconfig, cfg.ClusterID,
		cluster.WithReviewerLogger(options.Logger))
	if err != nil {
		return nil, err
	}
	return &clusterAuthenticator{reviewer: reviewer}, nil
}

// newClusterAuthenticatorWithReviewer wires an existing reviewer, used
// by tests and by callers that build their own Kubernetes client.
func newClusterAuthenticatorWithReviewer(reviewer cluster.Reviewer) *clusterAuthenticator {
	return &clusterAuthenticator{reviewer: reviewer}
}

func (a *clusterAuthenticator) Authenticate(r *http.Request) (*Identity, error) {
	token := bearerToken(r)
	if token == "" {
		return nil, NewError(ReasonMissingCredentials, "bearer token is required")
	}

	subject, err := a.reviewer.Review(r.Context(), token)
	if err != nil {
		return nil, wrapClusterError(err)
	}

	return &Identity{
		Subject:     subject.ID,
		DisplayName: subject.Username,
		Token:       token,
		Claims: map[string]interface{}{
			"username": subject.Username,
			"groups":   subject.Groups,
		},
		AuthType: AuthTypeCluster,
	}, nil
}

func (a *clusterAuthenticator) Type() AuthType { return AuthTypeCluster }

func wrapClusterError(err error) *Error {
	switch {
	case errors.Is(err, cluster.ErrEmptyToken):
		return WrapError(ReasonMissingCredentials, "bearer token is empty", err)
	case errors.Is(err, cluster.ErrTokenRejected):
		return WrapError(ReasonTokenReviewDenied, "cluster rejected the token", err)
	case errors.Is(err, cluster.ErrAccessDenied):
		return WrapError(ReasonAccessReviewDenied, "cluster denied gateway access", err)
	default:
		return WrapError(ReasonInternal, "cluster review failed", err)
	}
}

var _ Authenticator = (*clusterAuthenticator)(nil)
