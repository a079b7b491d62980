package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func baseConfig() *Config {
	return &Config{
		Telegram: TelegramConfig{Token: "123:abc"},
		Engine:   EngineConfig{DefaultScenario: "onboarding"},
	}
}

func TestNormalizeDefaults(t *testing.T) {
	cfg := baseConfig()
	require.NoError(t, Normalize(cfg))

	assert.Equal(t, RunModeLongpoll, cfg.Telegram.RunMode)
	assert.Equal(t, BackendMemory, cfg.Storage.Backend)
	assert.Equal(t, "scenarios", cfg.Engine.ScenariosDir)
	assert.Equal(t, 256, cfg.Engine.StepBudget)
	assert.Equal(t, 10*time.Second, cfg.Engine.SendTimeout)
	assert.Equal(t, 30*time.Second, cfg.Engine.SweepInterval)
	assert.Equal(t, TimeoutPolicyTerminate, cfg.Engine.TimeoutPolicy)
	assert.Equal(t, UnmatchedPolicyIgnore, cfg.Engine.UnmatchedInput)
}

func TestNormalizeRejectsMissingToken(t *testing.T) {
	cfg := baseConfig()
	cfg.Telegram.Token = ""
	assert.Error(t, Normalize(cfg))
}

func TestNormalizeRejectsMissingDefaultScenario(t *testing.T) {
	cfg := baseConfig()
	cfg.Engine.DefaultScenario = ""
	assert.Error(t, Normalize(cfg))
}

func TestNormalizeWebhookRequirements(t *testing.T) {
	cfg := baseConfig()
	cfg.Telegram.RunMode = "webhook"
	assert.Error(t, Normalize(cfg), "webhook mode requires url, listen, port")

	cfg.Webhook = WebhookConfig{URL: "https://bot.example.com", Listen: "0.0.0.0", Port: 8443}
	assert.NoError(t, Normalize(cfg))
}

func TestNormalizeBackendRequirements(t *testing.T) {
	cfg := baseConfig()
	cfg.Storage.Backend = "mongo"
	assert.Error(t, Normalize(cfg))

	cfg.Storage.Mongo.URI = "mongodb://localhost:27017"
	require.NoError(t, Normalize(cfg))
	assert.Equal(t, "flowbot", cfg.Storage.Mongo.Database)

	cfg = baseConfig()
	cfg.Storage.Backend = "redis"
	assert.Error(t, Normalize(cfg))

	cfg = baseConfig()
	cfg.Storage.Backend = "postgres"
	cfg.Storage.Postgres.Host = "localhost"
	require.NoError(t, Normalize(cfg))
	assert.Equal(t, 10, cfg.Storage.Postgres.MaxConnections)
	assert.Equal(t, "disable", cfg.Storage.Postgres.SSLMode)

	cfg = baseConfig()
	cfg.Storage.Backend = "carrier-pigeon"
	assert.Error(t, Normalize(cfg))
}

func TestNormalizePolicies(t *testing.T) {
	cfg := baseConfig()
	cfg.Engine.TimeoutPolicy = "ESCALATE"
	cfg.Engine.UnmatchedInput = "Error"
	require.NoError(t, Normalize(cfg))
	assert.Equal(t, TimeoutPolicyEscalate, cfg.Engine.TimeoutPolicy)
	assert.Equal(t, UnmatchedPolicyError, cfg.Engine.UnmatchedInput)

	cfg = baseConfig()
	cfg.Engine.TimeoutPolicy = "retry"
	assert.Error(t, Normalize(cfg))
}

func TestNormalizeCommandKeys(t *testing.T) {
	cfg := baseConfig()
	cfg.Telegram.Commands = map[string]string{"start": "onboarding"}
	assert.Error(t, Normalize(cfg))

	cfg.Telegram.Commands = map[string]string{"/start": "onboarding"}
	assert.NoError(t, Normalize(cfg))
}
