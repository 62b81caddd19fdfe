package authz

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/llmgate/llmgate/internal/config"
)

func TestAccessResolver_AllowAllWithoutRules(t *testing.T) {
	t.Parallel()

	r := NewAccessResolver(&config.AccessConfig{})

	assert.NoError(t, r.Authorize(nil, ActionQuery))
	assert.NoError(t, r.Authorize([]string{"anything"}, "anything"))
}

func TestAccessResolver_Rules(t *testing.T) {
	t.Parallel()

	r := NewAccessResolver(&config.AccessConfig{
		Rules: []config.AccessRule{
			{Role: "user", Actions: []string{ActionQuery}},
			{Role: "ops", Actions: []string{AdminAction}},
			{Role: WildcardRole, Actions: []string{ActionInfo}},
		},
	})

	tests := []struct {
		name    string
		roles   []string
		action  string
		allowed bool
	}{
		{"explicit grant", []string{"user"}, ActionQuery, true},
		{"no grant", []string{"user"}, "configure", false},
		{"admin grants everything", []string{"ops"}, "configure", true},
		{"wildcard applies to all", []string{"guest-only"}, ActionInfo, true},
		{"empty role set still wildcard", nil, ActionInfo, true},
		{"unknown role denied", []string{"stranger"}, ActionQuery, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			err := r.Authorize(tt.roles, tt.action)
			if tt.allowed {
				assert.NoError(t, err)
			} else {
				require.Error(t, err)
				assert.ErrorIs(t, err, ErrForbidden)

				var denied *DeniedError
				require.ErrorAs(t, err, &denied)
				assert.Equal(t, tt.action, denied.Action)
			}
		})
	}
}

func TestAccessResolver_MergesDuplicateRoleRules(t *testing.T) {
	t.Parallel()

	r := NewAccessResolver(&config.AccessConfig{
		Rules: []config.AccessRule{
			{Role: "user", Actions: []string{ActionQuery}},
			{Role: "user", Actions: []string{ActionInfo}},
		},
	})

	assert.NoError(t, r.Authorize([]string{"user"}, ActionQuery))
	assert.NoError(t, r.Authorize([]string{"user"}, ActionInfo))
}

func TestAccessResolver_Metrics(t *testing.T) {
	t.Parallel()

	registry := prometheus.NewRegistry()
	r := NewAccessResolver(&config.AccessConfig{
		Rules: []config.AccessRule{
			{Role: "user", Actions: []string{ActionQuery}},
		},
	}, WithAccessMetrics(NewMetricsWithRegisterer(registry)))

	assert.NoError(t, r.Authorize([]string{"user"}, ActionQuery))
	assert.Error(t, r.Authorize([]string{"user"}, "configure"))

	families, err := registry.Gather()
	require.NoError(t, err)
	require.Len(t, families, 1)
	assert.Equal(t, "llmgate_authz_decisions_total", families[0].GetName())
}
