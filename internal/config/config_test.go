package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidate_RejectsNonPositiveReservationTTL(t *testing.T) {
	cfg := &Config{PSP: PSP{MaxRetries: 1}, Chain: Chain{MaxRetries: 1}, ReservationTTL: 0}
	require.Error(t, cfg.Validate())
}

func TestValidate_RejectsMissingPSPSecretInProduction(t *testing.T) {
	cfg := &Config{Env: "production", PSP: PSP{MaxRetries: 1}, Chain: Chain{MaxRetries: 1}, ReservationTTL: time.Minute}
	require.Error(t, cfg.Validate())
}

func TestValidate_AllowsMissingPSPSecretInDevelopment(t *testing.T) {
	cfg := &Config{Env: "development", PSP: PSP{MaxRetries: 1}, Chain: Chain{MaxRetries: 1}, ReservationTTL: time.Minute}
	require.NoError(t, cfg.Validate())
}

func TestIsDevelopmentIsProduction(t *testing.T) {
	dev := &Config{Env: "development"}
	assert.True(t, dev.IsDevelopment())
	assert.False(t, dev.IsProduction())

	prod := &Config{Env: "production"}
	assert.True(t, prod.IsProduction())
}

func TestGetEnvHelpers_FallBackToDefaults(t *testing.T) {
	assert.Equal(t, "fallback", getEnv("CONFIG_TEST_UNSET_STRING", "fallback"))
	assert.Equal(t, int64(7), getEnvInt64("CONFIG_TEST_UNSET_INT", 7))
	assert.Equal(t, 2*time.Second, getEnvDuration("CONFIG_TEST_UNSET_DURATION", 2*time.Second))
	assert.Equal(t, true, getEnvBool("CONFIG_TEST_UNSET_BOOL", true))
}

func TestGetEnvHelpers_ReadSetValues(t *testing.T) {
	t.Setenv("CONFIG_TEST_STRING", "value")
	t.Setenv("CONFIG_TEST_INT", "42")
	t.Setenv("CONFIG_TEST_DURATION", "5s")
	t.Setenv("CONFIG_TEST_BOOL", "false")

	assert.Equal(t, "value", getEnv("CONFIG_TEST_STRING", "fallback"))
	assert.Equal(t, int64(42), getEnvInt64("CONFIG_TEST_INT", 0))
	assert.Equal(t, 5*time.Second, getEnvDuration("CONFIG_TEST_DURATION", 0))
	assert.Equal(t, false, getEnvBool("CONFIG_TEST_BOOL", true))
}
