// File: internal/config/config_test.go
package config

import (
	"bytes"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// -- Constructor and Defaults Tests --

func TestNewDefaultConfig(t *testing.T) {
	cfg := NewDefaultConfig()

	assert.Equal(t, "info", cfg.Logger.Level)
	assert.Equal(t, "pagepilot", cfg.Logger.ServiceName)
	assert.Equal(t, 5*time.Second, cfg.Engine.SettleTimeout)
	assert.Equal(t, 15*time.Second, cfg.Engine.EvalTimeout)
	assert.Equal(t, ProviderGemini, cfg.Planner.Provider)
	assert.Equal(t, 3, cfg.Planner.MaxAttempts)
	assert.InDelta(t, 0.1, cfg.Planner.Temperature, 1e-6)
	assert.Equal(t, 300, cfg.Compiler.DefaultScrollAmount)
	assert.Equal(t, "https://www.google.com", cfg.Browser.StartURL)
	assert.Equal(t, 1280, cfg.Browser.Viewport["width"])
	assert.False(t, cfg.API.Enabled)

	require.NoError(t, cfg.Validate(), "defaults must validate")
}

// -- Validation Logic Tests --

func TestConfigValidation(t *testing.T) {
	t.Run("Engine Validation", func(t *testing.T) {
		cfg := NewDefaultConfig()
		cfg.Engine.SettleTimeout = 0
		err := cfg.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "settle_timeout must be a positive duration")

		cfg = NewDefaultConfig()
		cfg.Engine.InboxSize = 0
		err = cfg.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "inbox_size")
	})

	t.Run("Planner Validation", func(t *testing.T) {
		cfg := NewDefaultConfig()
		cfg.Planner.Provider = "openai"
		err := cfg.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "unknown provider")

		cfg = NewDefaultConfig()
		cfg.Planner.MaxAttempts = 0
		assert.Error(t, cfg.Validate())

		cfg = NewDefaultConfig()
		cfg.Planner.Temperature = 3
		assert.Error(t, cfg.Validate())
	})

	t.Run("API Validation", func(t *testing.T) {
		cfg := NewDefaultConfig()
		cfg.API.Enabled = true
		cfg.API.Listen = ""
		err := cfg.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "api.listen")
	})

	t.Run("Compiler Validation", func(t *testing.T) {
		cfg := NewDefaultConfig()
		cfg.Compiler.DefaultScrollAmount = 0
		assert.Error(t, cfg.Validate())
	})
}

// -- Viper Integration Tests --

func TestNewConfigFromViper(t *testing.T) {
	t.Run("Successful Load from YAML", func(t *testing.T) {
		v := viper.New()
		SetDefaults(v)

		yamlBytes := []byte(`
engine:
  settle_timeout: 2500ms
planner:
  model: gemini-2.5-pro
  max_attempts: 5
browser:
  headless: true
  args: ["--lang=en-US"]
`)
		v.SetConfigType("yaml")
		require.NoError(t, v.ReadConfig(bytes.NewBuffer(yamlBytes)))

		cfg, err := NewConfigFromViper(v)
		require.NoError(t, err)
		assert.Equal(t, 2500*time.Millisecond, cfg.Engine.SettleTimeout)
		assert.Equal(t, "gemini-2.5-pro", cfg.Planner.Model)
		assert.Equal(t, 5, cfg.Planner.MaxAttempts)
		assert.True(t, cfg.Browser.Headless)
		assert.Equal(t, []string{"--lang=en-US"}, cfg.Browser.Args)
		// Untouched sections keep their defaults.
		assert.Equal(t, 15*time.Second, cfg.Engine.EvalTimeout)
	})

	t.Run("Validation Failure", func(t *testing.T) {
		v := viper.New()
		SetDefaults(v)
		v.Set("engine.eval_timeout", "0s")

		_, err := NewConfigFromViper(v)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "invalid configuration")
	})

	t.Run("Environment Variable Binding", func(t *testing.T) {
		t.Setenv("PAGEPILOT_PLANNER_API_KEY", "test-key-123")

		v := viper.New()
		SetDefaults(v)

		cfg, err := NewConfigFromViper(v)
		require.NoError(t, err)
		assert.Equal(t, "test-key-123", cfg.Planner.APIKey)
	})
}
