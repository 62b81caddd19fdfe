package authz

import (
	"github.com/llmgate/llmgate/internal/config"
	"github.com/llmgate/llmgate/internal/observability"
)

// WildcardRole matches every identity in an access rule.
const WildcardRole = "*"

// AdminAction implicitly grants every other action.
const AdminAction = "admin"

// Gateway actions checked on the request path.
const (
	ActionQuery = "query"
	ActionInfo  = "info"
)

// AccessResolver decides whether a role set may perform an action.
type AccessResolver interface {
	// Authorize returns nil when the action is allowed and a
	// *DeniedError otherwise.
	Authorize(roles []string, action string) error
}

type accessResolver struct {
	// actionsByRole maps a role to its permitted actions. A nil map
	// means no rules were configured and everything is allowed.
	actionsByRole map[string]map[string]struct{}
	logger        observability.Logger
	metrics       *Metrics
}

// AccessResolverOption is a functional option for the access resolver.
type AccessResolverOption func(*accessResolver)

// WithAccessLogger sets the logger.
func WithAccessLogger(logger observability.Logger) AccessResolverOption {
	return func(r *accessResolver) {
		r.logger = logger
	}
}

// WithAccessMetrics sets the metrics collector.
func WithAccessMetrics(m *Metrics) AccessResolverOption {
	return func(r *accessResolver) {
		r.metrics = m
	}
}

// NewAccessResolver builds an access resolver from configuration.
// Without rules every action is allowed.
func NewAccessResolver(cfg *config.AccessConfig, opts ...AccessResolverOption) AccessResolver {
	r := &accessResolver{
		logger: observability.NopLogger(),
	}
	for _, opt := range opts {
		opt(r)
	}

	if len(cfg.Rules) == 0 {
		return r
	}

	r.actionsByRole = make(map[string]map[string]struct{}, len(cfg.Rules))
	for _, rule := range cfg.Rules {
		actions := r.actionsByRole[rule.Role]
		if actions == nil {
			actions = make(map[string]struct{}, len(rule.Actions))
			r.actionsByRole[rule.Role] = actions
		}
		for _, action := range rule.Actions {
			actions[action] = struct{}{}
		}
	}
	return r
}

// Authorize allows the action when some held role, or the wildcard
// role, grants the action or the admin action.
func (r *accessResolver) Authorize(roles []string, action string) error {
	if r.actionsByRole == nil {
		r.record(action, true)
		return nil
	}

	candidates := make([]string, 0, len(roles)+1)
	candidates = append(candidates, roles...)
	candidates = append(candidates, WildcardRole)

	for _, role := range candidates {
		actions, ok := r.actionsByRole[role]
		if !ok {
			continue
		}
		if _, ok := actions[action]; ok {
			r.record(action, true)
			return nil
		}
		if _, ok := actions[AdminAction]; ok {
			r.record(action, true)
			return nil
		}
	}

	r.logger.Debug("action denied",
		observability.String("action", action),
		observability.Strings("roles", roles),
	)
	r.record(action, false)
	return &DeniedError{Action: action, Roles: roles}
}

func (r *accessResolver) record(action string, allowed bool) {
	if r.metrics != nil {
		r.metrics.RecordDecision(action, allowed)
	}
}

var _ AccessResolver = (*accessResolver)(nil)
