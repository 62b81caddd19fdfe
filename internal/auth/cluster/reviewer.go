// Package cluster authenticates Kubernetes service-account and user
// tokens through the cluster's TokenReview and SubjectAccessReview
// APIs.
package cluster

import (
	"context"
	"errors"
	"fmt"

	authenticationv1 "k8s.io/api/authentication/v1"
	authorizationv1 "k8s.io/api/authorization/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"

	"github.com/llmgate/llmgate/internal/observability"
)

// Review permissions are expressed as a non-resource URL check so the
// gateway does not need any CRD installed in the cluster.
const (
	reviewPath = "/gateway/v1/query"
	reviewVerb = "post"
)

// adminUsername is the cluster-admin identity that is folded into the
// configured cluster identifier.
const adminUsername = "kube:admin"

var (
	// ErrEmptyToken indicates a missing bearer token.
	ErrEmptyToken = errors.New("token is empty")

	// ErrTokenRejected indicates the TokenReview declared the token
	// unauthenticated.
	ErrTokenRejected = errors.New("token review rejected the token")

	// ErrAccessDenied indicates the SubjectAccessReview denied access.
	ErrAccessDenied = errors.New("subject access review denied access")

	// ErrReviewUnavailable indicates the review API calls failed.
	ErrReviewUnavailable = errors.New("review API unavailable")
)

// Subject is the reviewed cluster identity.
type Subject struct {
	// ID is the stable identifier, the user UID when the cluster
	// provides one and the username otherwise.
	ID string

	// Username is the cluster username.
	Username string

	// Groups are the cluster groups of the user.
	Groups []string
}

// Reviewer authenticates tokens against the cluster.
type Reviewer interface {
	// Review validates the token and checks that its subject may query
	// the gateway.
	Review(ctx context.Context, token string) (*Subject, error)
}

type reviewer struct {
	client    kubernetes.Interface
	clusterID string
	audiences []string
	logger    observability.Logger
}

// ReviewerOption is a functional option for the reviewer.
type ReviewerOption func(*reviewer)

// WithReviewerLogger sets the logger.
func WithReviewerLogger(logger observability.Logger) ReviewerOption {
	return func(r *reviewer) {
		r.logger = logger
	}
}

// WithAudiences sets the audiences passed to the TokenReview.
func WithAudiences(audiences []string) ReviewerOption {
	return func(r *reviewer) {
		r.audiences = audiences
	}
}

// NewReviewer creates a Reviewer from the given kubeconfig file, or
// from the in-cluster configuration when the path is empty.
func NewReviewer(kubeconfig, clusterID string, opts ...ReviewerOption) (Reviewer, error) {
	cfg, err := loadRestConfig(kubeconfig)
	if err != nil {
		return nil, err
	}
	client, err := kubernetes.NewForConfig(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create kubernetes client: %w", err)
	}
	return NewReviewerWithClient(client, clusterID, opts...), nil
}

func loadRestConfig(kubeconfig string) (*rest.Config, error) {
	if kubeconfig != "" {
		cfg, err := clientcmd.BuildConfigFromFlags("", kubeconfig)
		if err != nil {
			return nil, fmt.Errorf("failed to load kubeconfig %s: %w", kubeconfig, err)
		}
		return cfg, nil
	}
	cfg, err := rest.InClusterConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load in-cluster config: %w", err)
	}
	return cfg, nil
}

// NewReviewerWithClient creates a Reviewer on an existing client.
func NewReviewerWithClient(client kubernetes.Interface, clusterID string, opts ...ReviewerOption) Reviewer {
	r := &reviewer{
		client:    client,
		clusterID: clusterID,
		logger:    observability.NopLogger(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Review validates the token with a TokenReview and authorizes the
// resolved user with a SubjectAccessReview.
func (r *reviewer) Review(ctx context.Context, token string) (*Subject, error) {
	if token == "" {
		return nil, ErrEmptyToken
	}

	tr := &authenticationv1.TokenReview{
		Spec: authenticationv1.TokenReviewSpec{
			Token:     token,
			Audiences: r.audiences,
		},
	}
	trResult, err := r.client.AuthenticationV1().TokenReviews().Create(ctx, tr, metav1.CreateOptions{})
	if err != nil {
		return nil, fmt.Errorf("%w: token review: %v", ErrReviewUnavailable, err)
	}
	if !trResult.Status.Authenticated {
		return nil, ErrTokenRejected
	}
	user := trResult.Status.User

	sar := &authorizationv1.SubjectAccessReview{
		Spec: authorizationv1.SubjectAccessReviewSpec{
			User:   user.Username,
			UID:    user.UID,
			Groups: user.Groups,
			NonResourceAttributes: &authorizationv1.NonResourceAttributes{
				Path: reviewPath,
				Verb: reviewVerb,
			},
		},
	}
	sarResult, err := r.client.AuthorizationV1().SubjectAccessReviews().Create(ctx, sar, metav1.CreateOptions{})
	if err != nil {
		return nil, fmt.Errorf("%w: subject access review: %v", ErrReviewUnavailable, err)
	}
	if !sarResult.Status.Allowed {
		r.logger.Debug("cluster access denied",
			observability.String("username", user.Username),
			observability.String("review_reason", sarResult.Status.Reason),
		)
		return nil, ErrAccessDenied
	}

	return r.subjectFor(user), nil
}

// subjectFor maps the reviewed user info to a Subject. The cluster
// admin is folded into the cluster identifier so quotas for admin
// traffic accrue to the cluster as a whole.
func (r *reviewer) subjectFor(user authenticationv1.UserInfo) *Subject {
	if user.Username == adminUsername && r.clusterID != "" {
		return &Subject{
			ID:       r.clusterID,
			Username: user.Username,
			Groups:   user.Groups,
		}
	}

	id := user.UID
	if id == "" {
		id = user.Username
	}
	return &Subject{
		ID:       id,
		Username: user.Username,
		Groups:   user.Groups,
	}
}

var _ Reviewer = (*reviewer)(nil)
