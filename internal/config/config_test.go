package config

import (
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func defaultsApplied(t *testing.T) *Config {
	t.Helper()
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

func TestDefaults(t *testing.T) {
	cfg := defaultsApplied(t)

	require.NoError(t, cfg.Validate())
	assert.Equal(t, 6, cfg.MaxTurns.Planner)
	assert.Equal(t, 40, cfg.MaxTurns.Implementer)
	assert.Equal(t, 10, cfg.MaxTurns.Reviewer)
	assert.Equal(t, 10, cfg.MaxTurns.TechWriter)
	assert.Equal(t, 3, cfg.Retry.MaxAttempts)
	assert.Equal(t, time.Second, cfg.Retry.BaseDelay.Duration())
	assert.Equal(t, 8*time.Second, cfg.Retry.MaxDelay.Duration())
	assert.Equal(t, 12000, cfg.Review.DiffMaxChars)
	assert.Equal(t, 8, cfg.Pipeline.MaxRounds)
	assert.Equal(t, "project/reports", cfg.ReportsRoot())
}

func TestValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"negative rounds", func(c *Config) { c.Pipeline.MaxRounds = -1 }},
		{"zero retry attempts", func(c *Config) { c.Retry.MaxAttempts = -2 }},
		{"max delay below base", func(c *Config) {
			c.Retry.BaseDelay = Duration(10 * time.Second)
			c.Retry.MaxDelay = Duration(time.Second)
		}},
		{"negative diff cap", func(c *Config) { c.Review.DiffMaxChars = -5 }},
		{"missing workspace", func(c *Config) { c.Paths.Workspace = "" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := defaultsApplied(t)
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestRetryAttemptsForPrefersRoleOverride(t *testing.T) {
	cfg := defaultsApplied(t)
	cfg.Retry.MaxAttempts = 5
	cfg.Retry.ReviewerMaxAttempts = 2

	assert.Equal(t, 5, cfg.RetryAttemptsFor(RolePlanner))
	assert.Equal(t, 2, cfg.RetryAttemptsFor(RoleReviewer))
}

func TestModelFor(t *testing.T) {
	cfg := defaultsApplied(t)
	cfg.Model.Implementer = "custom-model"

	assert.Equal(t, "custom-model", cfg.ModelFor(RoleImplementer))
	assert.Equal(t, defaultModel, cfg.ModelFor(RolePlanner))
	assert.Equal(t, defaultModel, cfg.ModelFor("unknown"))
}

func TestSecretRedaction(t *testing.T) {
	s := Secret("sk-very-secret")

	assert.Equal(t, "[REDACTED]", s.String())
	assert.Equal(t, "sk-very-secret", s.Value())
	assert.True(t, s.IsSet())

	data, err := json.Marshal(s)
	require.NoError(t, err)
	assert.Equal(t, `"[REDACTED]"`, string(data))

	formatted := fmt.Sprintf("key=%s", s)
	assert.NotContains(t, formatted, "very-secret")
}

func TestDurationUnmarshalText(t *testing.T) {
	var d Duration
	require.NoError(t, d.UnmarshalText([]byte("2s")))
	assert.Equal(t, 2*time.Second, d.Duration())

	require.Error(t, d.UnmarshalText([]byte("-1s")))
	require.Error(t, d.UnmarshalText([]byte("soon")))
}

func TestTurnCeilingsAndModels(t *testing.T) {
	cfg := defaultsApplied(t)

	ceilings := cfg.TurnCeilings()
	assert.Equal(t, 40, ceilings[RoleImplementer])
	assert.Len(t, ceilings, 4)

	models := cfg.Models()
	assert.Equal(t, defaultModel, models[RoleTechWriter])
	assert.Len(t, models, 4)
}
