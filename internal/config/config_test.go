package config

import (
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	cfg, err := FromViper(viper.New())
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, 120, cfg.Server.RateLimit)
	assert.Equal(t, StoragePostgres, cfg.Storage.Mode)
	assert.Equal(t, 5, cfg.Clarify.MaxQuestions)
	assert.Equal(t, 0.85, cfg.Clarify.FinalizeThreshold)
	assert.Equal(t, 3*time.Second, cfg.Clarify.MinTimeout)
	assert.Equal(t, 30*time.Second, cfg.Clarify.MaxTimeout)
	assert.Equal(t, 20, cfg.Clarify.FeedbackMinLength)
	assert.Equal(t, 5*time.Second, cfg.Stream.HeartbeatInterval)
	assert.Equal(t, 24*time.Hour, cfg.Stream.MarkerTTL)
	assert.Equal(t, "leads.finalized", cfg.NATS.Subject)
	assert.Equal(t, 5, cfg.Policy.BroadMinQuestions)
	assert.Empty(t, cfg.Policy.FallbackQuestions)
}

func TestEnvironmentOverrides(t *testing.T) {
	t.Setenv("STORAGE_MODE", "memory")
	t.Setenv("CLARIFY_MAX_QUESTIONS", "7")
	t.Setenv("STREAM_HEARTBEAT_INTERVAL", "2s")
	t.Setenv("OPENAI_API_KEY", "sk-test")

	cfg, err := FromViper(viper.New())
	require.NoError(t, err)

	assert.Equal(t, StorageMemory, cfg.Storage.Mode)
	assert.Equal(t, 7, cfg.Clarify.MaxQuestions)
	assert.Equal(t, 2*time.Second, cfg.Stream.HeartbeatInterval)
	assert.Equal(t, "sk-test", cfg.LLM.OpenAIKey)
	assert.NoError(t, cfg.Validate())
}

func TestPolicyOverride(t *testing.T) {
	v := viper.New()
	v.Set("policy", map[string]interface{}{
		"broad_keywords":     []string{"oncology"},
		"fallback_questions": []string{"Which indication matters most?"},
	})

	cfg, err := FromViper(v)
	require.NoError(t, err)

	assert.Equal(t, []string{"oncology"}, cfg.Policy.BroadKeywords)
	assert.Equal(t, []string{"Which indication matters most?"}, cfg.Policy.FallbackQuestions)
	assert.Equal(t, 3, cfg.Policy.NarrowMinQuestions, "unset policy fields keep defaults")
	assert.NotEmpty(t, cfg.Policy.OutOfScopeKeywords)
}

func TestModelFallbacks(t *testing.T) {
	cfg := &Config{}
	cfg.LLM.Model = "base"
	assert.Equal(t, "base", cfg.ClarifierModel())
	cfg.LLM.EnricherModel = "big"
	assert.Equal(t, "big", cfg.EnricherModel())
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		cfg, err := FromViper(viper.New())
		require.NoError(t, err)
		cfg.Storage.Mode = StorageMemory
		cfg.LLM.Provider = ProviderFake
		return cfg
	}

	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{"valid", func(c *Config) {}, ""},
		{"unknown storage", func(c *Config) { c.Storage.Mode = "sqlite" }, "storage.mode"},
		{"postgres without url", func(c *Config) { c.Storage.Mode = StoragePostgres; c.Database.URL = "" }, "database.url"},
		{"openai without key", func(c *Config) { c.LLM.Provider = ProviderOpenAI; c.LLM.OpenAIKey = "" }, "OPENAI_API_KEY"},
		{"gemini without key", func(c *Config) { c.LLM.Provider = ProviderGemini; c.LLM.GeminiKey = "" }, "GEMINI_API_KEY"},
		{"unknown provider", func(c *Config) { c.LLM.Provider = "claude" }, "llm.provider"},
		{"session policy", func(c *Config) { c.Clarify.SessionPolicy = "supersede" }, "session_policy"},
		{"timeouts inverted", func(c *Config) { c.Clarify.MinTimeout = time.Minute }, "min_timeout"},
		{"threshold", func(c *Config) { c.Clarify.FinalizeThreshold = 1.5 }, "finalize_threshold"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
