package authz

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/llmgate/llmgate/internal/config"
)

func TestRoleResolver_EveryoneRoleOnly(t *testing.T) {
	t.Parallel()

	r, err := NewRoleResolver(&config.RolesConfig{EveryoneRole: "*"})
	require.NoError(t, err)

	assert.Equal(t, []string{"*"}, r.Resolve(nil))
	assert.Equal(t, []string{"*"}, r.Resolve(map[string]interface{}{"sub": "alice"}))
}

func TestRoleResolver_DefaultEveryoneRole(t *testing.T) {
	t.Parallel()

	r, err := NewRoleResolver(&config.RolesConfig{})
	require.NoError(t, err)

	assert.Equal(t, []string{"*"}, r.Resolve(nil))
}

func TestRoleResolver_Rules(t *testing.T) {
	t.Parallel()

	cfg := &config.RolesConfig{
		EveryoneRole: "*",
		Rules: []config.RoleRule{
			{
				Path:     "groups",
				Operator: "contains",
				Operand:  []string{"llm-users"},
				Grants:   []string{"user"},
			},
			{
				Path:     "sub",
				Operator: "equals",
				Operand:  []string{"root"},
				Grants:   []string{"admin"},
			},
			{
				Path:     "email",
				Operator: "matches",
				Operand:  []string{`@example\.com$`},
				Grants:   []string{"employee"},
			},
			{
				Path:     "org",
				Operator: "in",
				Operand:  []string{"eng", "research"},
				Grants:   []string{"builder"},
			},
			{
				Path:     "groups",
				Operator: "contains",
				Operand:  []string{"banned"},
				Negate:   true,
				Grants:   []string{"active"},
			},
		},
	}
	r, err := NewRoleResolver(cfg)
	require.NoError(t, err)

	tests := []struct {
		name   string
		claims map[string]interface{}
		want   []string
	}{
		{
			name: "group membership",
			claims: map[string]interface{}{
				"groups": []interface{}{"llm-users", "misc"},
			},
			want: []string{"*", "active", "user"},
		},
		{
			name: "scalar equals",
			claims: map[string]interface{}{
				"sub": "root",
			},
			want: []string{"*", "active", "admin"},
		},
		{
			name: "pattern match",
			claims: map[string]interface{}{
				"email": "alice@example.com",
			},
			want: []string{"*", "active", "employee"},
		},
		{
			name: "membership in operand list",
			claims: map[string]interface{}{
				"org": "research",
			},
			want: []string{"*", "active", "builder"},
		},
		{
			name: "negated rule withholds grant",
			claims: map[string]interface{}{
				"groups": []interface{}{"banned"},
			},
			want: []string{"*"},
		},
		{
			name:   "no claims",
			claims: nil,
			want:   []string{"*", "active"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			assert.Equal(t, tt.want, r.Resolve(tt.claims))
		})
	}
}

func TestRoleResolver_JSONPathSyntax(t *testing.T) {
	t.Parallel()

	r, err := NewRoleResolver(&config.RolesConfig{
		Rules: []config.RoleRule{
			{
				Path:     "{.realm_access.roles}",
				Operator: "contains",
				Operand:  []string{"operator"},
				Grants:   []string{"ops"},
			},
		},
	})
	require.NoError(t, err)

	roles := r.Resolve(map[string]interface{}{
		"realm_access": map[string]interface{}{
			"roles": []interface{}{"operator", "viewer"},
		},
	})
	assert.Contains(t, roles, "ops")
}

func TestRoleResolver_Expression(t *testing.T) {
	t.Parallel()

	r, err := NewRoleResolver(&config.RolesConfig{
		Rules: []config.RoleRule{
			{
				Expression: `"llm-users" in claims.groups && claims.tier == "pro"`,
				Grants:     []string{"pro-user"},
			},
		},
	})
	require.NoError(t, err)

	roles := r.Resolve(map[string]interface{}{
		"groups": []interface{}{"llm-users"},
		"tier":   "pro",
	})
	assert.Contains(t, roles, "pro-user")

	roles = r.Resolve(map[string]interface{}{
		"groups": []interface{}{"llm-users"},
		"tier":   "free",
	})
	assert.NotContains(t, roles, "pro-user")

	// Evaluation errors on absent claims do not match.
	roles = r.Resolve(nil)
	assert.NotContains(t, roles, "pro-user")
}

func TestRoleResolver_CompileErrors(t *testing.T) {
	t.Parallel()

	_, err := NewRoleResolver(&config.RolesConfig{
		Rules: []config.RoleRule{
			{Path: "email", Operator: "matches", Operand: []string{"["}},
		},
	})
	assert.Error(t, err)

	_, err = NewRoleResolver(&config.RolesConfig{
		Rules: []config.RoleRule{
			{Expression: "claims.groups ++ 1"},
		},
	})
	assert.Error(t, err)
}
