package config

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"
)

// ErrInvalidConfiguration marks configuration errors that are fatal at
// startup. All validation failures wrap it.
var ErrInvalidConfiguration = errors.New("invalid configuration")

// validOperators are the accepted role-rule operators.
var validOperators = map[string]bool{
	"equals":   true,
	"contains": true,
	"in":       true,
	"matches":  true,
}

// Validate checks the configuration for errors that would make the
// gateway unsafe to start.
func (c *Config) Validate() error {
	if err := c.validateAuth(); err != nil {
		return err
	}
	if err := c.validateRoles(); err != nil {
		return err
	}
	if err := c.validateAccess(); err != nil {
		return err
	}
	if err := c.validateQuota(); err != nil {
		return err
	}
	return c.validateToolServers()
}

func (c *Config) validateAuth() error {
	switch c.Auth.Method {
	case AuthMethodAnonymous, AuthMethodAnonymousToken, AuthMethodFederated:
	case AuthMethodCluster:
		if path := c.Auth.Cluster.Kubeconfig; path != "" {
			if _, err := os.Stat(path); err != nil {
				return invalidf("auth: cluster kubeconfig %q is not readable: %v", path, err)
			}
		}
	case AuthMethodAPIKey:
		if c.Auth.APIKey.Key == "" && c.Auth.APIKey.KeyFile == "" {
			return invalidf("auth: apikey method requires key or keyFile")
		}
	case AuthMethodJWT:
		if c.Auth.JWT.JWKSURL == "" {
			return invalidf("auth: jwt method requires jwksURL")
		}
	default:
		return invalidf("auth: unknown method %q", c.Auth.Method)
	}
	return nil
}

func (c *Config) validateRoles() error {
	for i, rule := range c.Roles.Rules {
		if rule.Expression != "" {
			if rule.Path != "" || rule.Operator != "" {
				return invalidf("roles: rule %d mixes expression with path/operator", i)
			}
		} else {
			if rule.Path == "" {
				return invalidf("roles: rule %d missing path", i)
			}
			if !validOperators[rule.Operator] {
				return invalidf("roles: rule %d has unknown operator %q", i, rule.Operator)
			}
			if rule.Operator == "matches" {
				for _, op := range rule.Operand {
					if _, err := regexp.Compile(op); err != nil {
						return invalidf("roles: rule %d has invalid pattern %q: %v", i, op, err)
					}
				}
			}
		}
		if len(rule.Grants) == 0 {
			return invalidf("roles: rule %d grants no roles", i)
		}
	}
	return nil
}

func (c *Config) validateAccess() error {
	for i, rule := range c.Access.Rules {
		if rule.Role == "" {
			return invalidf("access: rule %d missing role", i)
		}
		if len(rule.Actions) == 0 {
			return invalidf("access: rule %d for role %q lists no actions", i, rule.Role)
		}
	}
	return nil
}

func (c *Config) validateQuota() error {
	if !c.Quota.Enabled {
		return nil
	}
	if c.Quota.Store != "memory" && c.Quota.Store != "redis" {
		return invalidf("quota: unknown store %q", c.Quota.Store)
	}
	seen := make(map[string]bool, len(c.Quota.Limiters))
	for i, spec := range c.Quota.Limiters {
		if spec.Name == "" {
			return invalidf("quota: limiter %d missing name", i)
		}
		if seen[spec.Name] {
			return invalidf("quota: duplicate limiter name %q", spec.Name)
		}
		seen[spec.Name] = true
		// Limiter names become store key segments.
		if strings.Contains(spec.Name, ":") {
			return invalidf("quota: limiter name %q must not contain %q", spec.Name, ":")
		}
		if spec.Kind != QuotaKindSubject && spec.Kind != QuotaKindCluster {
			return invalidf("quota: limiter %q has unknown kind %q", spec.Name, spec.Kind)
		}
		if (spec.InitialQuota == nil) == (spec.QuotaIncrease == nil) {
			return invalidf("quota: limiter %q must set exactly one of initialQuota and quotaIncrease", spec.Name)
		}
		if spec.Period.Duration() <= 0 {
			return invalidf("quota: limiter %q requires a positive period", spec.Name)
		}
	}
	if c.Quota.AdmissionCost <= 0 {
		return invalidf("quota: admissionCost must be positive")
	}
	return nil
}

func (c *Config) validateToolServers() error {
	seen := make(map[string]bool, len(c.ToolServers))
	for i, spec := range c.ToolServers {
		if spec.Name == "" {
			return invalidf("toolServers: server %d missing name", i)
		}
		if seen[spec.Name] {
			return invalidf("toolServers: duplicate server name %q", spec.Name)
		}
		seen[spec.Name] = true
		if spec.URL == "" {
			return invalidf("toolServers: server %q missing url", spec.Name)
		}
		for header, source := range spec.Headers {
			if header == "" {
				return invalidf("toolServers: server %q has an empty header name", spec.Name)
			}
			if source == "" {
				return invalidf("toolServers: server %q header %q has an empty source", spec.Name, header)
			}
			if strings.HasPrefix(source, "vault:") && !c.Vault.Enabled {
				return invalidf("toolServers: server %q header %q uses a vault source but vault is disabled",
					spec.Name, header)
			}
		}
	}
	return nil
}

// invalidf builds a validation error wrapping ErrInvalidConfiguration.
func invalidf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrInvalidConfiguration, fmt.Sprintf(format, args...))
}
