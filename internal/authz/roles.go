// Package authz resolves role labels from identity claims and decides
// whether a role set may perform a named action. Both rule sets are
// static configuration compiled once at startup.
package authz

import (
	"fmt"
	"reflect"
	"regexp"
	"sort"
	"strings"

	"github.com/google/cel-go/cel"
	"k8s.io/client-go/util/jsonpath"

	"github.com/llmgate/llmgate/internal/config"
	"github.com/llmgate/llmgate/internal/observability"
)

// Rule operators.
const (
	OperatorEquals   = "equals"
	OperatorContains = "contains"
	OperatorIn       = "in"
	OperatorMatches  = "matches"
)

// RoleResolver derives role labels from a claim document.
type RoleResolver interface {
	// Resolve returns the roles held by an identity with the given
	// claims. Every identity receives at least the everyone-role.
	Resolve(claims map[string]interface{}) []string
}

// compiledRule is a RoleRule with its path, pattern and expression
// compiled ahead of time.
type compiledRule struct {
	path       *jsonpath.JSONPath
	operator   string
	operand    []string
	patterns   []*regexp.Regexp
	expression cel.Program
	negate     bool
	grants     []string
}

type roleResolver struct {
	everyoneRole string
	rules        []*compiledRule
	logger       observability.Logger
}

// RoleResolverOption is a functional option for the role resolver.
type RoleResolverOption func(*roleResolver)

// WithRoleLogger sets the logger.
func WithRoleLogger(logger observability.Logger) RoleResolverOption {
	return func(r *roleResolver) {
		r.logger = logger
	}
}

// NewRoleResolver compiles the configured rules into a resolver.
func NewRoleResolver(cfg *config.RolesConfig, opts ...RoleResolverOption) (RoleResolver, error) {
	r := &roleResolver{
		everyoneRole: cfg.EveryoneRole,
		logger:       observability.NopLogger(),
	}
	if r.everyoneRole == "" {
		r.everyoneRole = "*"
	}
	for _, opt := range opts {
		opt(r)
	}

	var celEnv *cel.Env
	for i := range cfg.Rules {
		rule, err := compileRule(&cfg.Rules[i], &celEnv)
		if err != nil {
			return nil, fmt.Errorf("role rule %d: %w", i, err)
		}
		r.rules = append(r.rules, rule)
	}
	return r, nil
}

// compileRule precompiles one rule. The CEL environment is created
// lazily and shared between expression rules.
func compileRule(spec *config.RoleRule, celEnv **cel.Env) (*compiledRule, error) {
	rule := &compiledRule{
		operator: spec.Operator,
		operand:  spec.Operand,
		negate:   spec.Negate,
		grants:   spec.Grants,
	}

	if spec.Expression != "" {
		if *celEnv == nil {
			env, err := cel.NewEnv(
				cel.Variable("claims", cel.MapType(cel.StringType, cel.DynType)),
			)
			if err != nil {
				return nil, fmt.Errorf("failed to create expression environment: %w", err)
			}
			*celEnv = env
		}
		ast, issues := (*celEnv).Compile(spec.Expression)
		if issues != nil && issues.Err() != nil {
			return nil, fmt.Errorf("failed to compile expression: %w", issues.Err())
		}
		prg, err := (*celEnv).Program(ast)
		if err != nil {
			return nil, fmt.Errorf("failed to build expression program: %w", err)
		}
		rule.expression = prg
		return rule, nil
	}

	jp := jsonpath.New("role-rule")
	jp.AllowMissingKeys(true)
	if err := jp.Parse(normalizePath(spec.Path)); err != nil {
		return nil, fmt.Errorf("failed to parse path %q: %w", spec.Path, err)
	}
	rule.path = jp

	if spec.Operator == OperatorMatches {
		for _, operand := range spec.Operand {
			pattern, err := regexp.Compile(operand)
			if err != nil {
				return nil, fmt.Errorf("failed to compile pattern %q: %w", operand, err)
			}
			rule.patterns = append(rule.patterns, pattern)
		}
	}
	return rule, nil
}

// normalizePath accepts both bare dotted paths and full JSONPath
// template syntax.
func normalizePath(path string) string {
	path = strings.TrimSpace(path)
	if strings.HasPrefix(path, "{") {
		return path
	}
	if !strings.HasPrefix(path, ".") {
		path = "." + path
	}
	return "{" + path + "}"
}

// Resolve evaluates every rule independently and unions the grants of
// the matching ones on top of the everyone-role.
func (r *roleResolver) Resolve(claims map[string]interface{}) []string {
	roles := map[string]struct{}{
		r.everyoneRole: {},
	}
	for _, rule := range r.rules {
		matched := rule.matches(claims)
		if rule.negate {
			matched = !matched
		}
		if !matched {
			continue
		}
		for _, grant := range rule.grants {
			roles[grant] = struct{}{}
		}
	}

	out := make([]string, 0, len(roles))
	for role := range roles {
		out = append(out, role)
	}
	sort.Strings(out)
	return out
}

// matches evaluates the rule against the claim document. A rule that
// fails to evaluate simply does not match.
func (rule *compiledRule) matches(claims map[string]interface{}) bool {
	if rule.expression != nil {
		if claims == nil {
			claims = map[string]interface{}{}
		}
		out, _, err := rule.expression.Eval(map[string]interface{}{"claims": claims})
		if err != nil {
			return false
		}
		matched, ok := out.Value().(bool)
		return ok && matched
	}

	extracted := rule.extract(claims)
	switch rule.operator {
	case OperatorEquals:
		if len(extracted) != len(rule.operand) {
			return false
		}
		for i, v := range extracted {
			if v != rule.operand[i] {
				return false
			}
		}
		return true
	case OperatorContains:
		for _, operand := range rule.operand {
			for _, v := range extracted {
				if v == operand {
					return true
				}
			}
		}
		return false
	case OperatorIn:
		for _, v := range extracted {
			for _, operand := range rule.operand {
				if v == operand {
					return true
				}
			}
		}
		return false
	case OperatorMatches:
		for _, pattern := range rule.patterns {
			for _, v := range extracted {
				if pattern.MatchString(v) {
					return true
				}
			}
		}
		return false
	}
	return false
}

// extract evaluates the claim path and flattens the result to a string
// list. Scalar claims become single-element lists.
func (rule *compiledRule) extract(claims map[string]interface{}) []string {
	if claims == nil {
		return nil
	}
	results, err := rule.path.FindResults(claims)
	if err != nil {
		return nil
	}

	var values []string
	for _, group := range results {
		for _, result := range group {
			values = append(values, flatten(result)...)
		}
	}
	return values
}

// flatten converts a jsonpath result into strings, descending into
// lists.
func flatten(v reflect.Value) []string {
	for v.Kind() == reflect.Interface || v.Kind() == reflect.Pointer {
		if v.IsNil() {
			return nil
		}
		v = v.Elem()
	}
	switch v.Kind() {
	case reflect.Slice, reflect.Array:
		var values []string
		for i := 0; i < v.Len(); i++ {
			values = append(values, flatten(v.Index(i))...)
		}
		return values
	case reflect.String:
		return []string{v.String()}
	default:
		if !v.IsValid() || !v.CanInterface() {
			return nil
		}
		return []string{fmt.Sprintf("%v", v.Interface())}
	}
}

var _ RoleResolver = (*roleResolver)(nil)
