package tenant

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"sinew/internal/config"
)

func TestValidate_AcceptsStringBinaryAndRejectsGarbage(t *testing.T) {
	id := New()

	got, err := Validate(id.String())
	require.NoError(t, err)
	require.Equal(t, id, got)

	got2, err := Validate(id.Bytes())
	require.NoError(t, err)
	require.Equal(t, id, got2)

	_, err = Validate("not-a-uuid")
	require.Error(t, err)

	_, err = Validate("")
	require.Error(t, err)

	_, err = Validate(nil)
	require.Error(t, err)

	_, err = Validate(42)
	require.Error(t, err)
}

func TestEffective_ProductionRequiresExplicitTenant(t *testing.T) {
	cfg := config.Config{Env: config.EnvProduction}
	_, err := Effective("", cfg, nil)
	require.Error(t, err)

	id := New()
	got, err := Effective(id.String(), cfg, nil)
	require.NoError(t, err)
	require.Equal(t, id, got)
}

func TestEffective_DevelopmentFallsBackToConfiguredDevTenant(t *testing.T) {
	dev := New()
	cfg := config.Config{
		Env:   config.EnvDevelopment,
		Agent: config.AgentConfig{DevTenantUUID: dev.String()},
	}
	logger := zerolog.Nop()

	got, err := Effective("", cfg, &logger)
	require.NoError(t, err)
	require.Equal(t, dev, got)
}

func TestEffective_DevelopmentWithoutDevTenantFails(t *testing.T) {
	cfg := config.Config{Env: config.EnvDevelopment}
	_, err := Effective("", cfg, nil)
	require.Error(t, err)
}
