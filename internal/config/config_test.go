package config

import (
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func lookup(vars map[string]string) func(string) string {
	return func(k string) string { return vars[k] }
}

func TestFromEnv_Defaults(t *testing.T) {
	cfg, err := FromEnv(lookup(nil))

	require.NoError(t, err)
	assert.Equal(t, "https://api.groq.com/openai/v1/", cfg.LLMBaseURL)
	assert.Equal(t, "llama3-8b-8192", cfg.LLMModel)
	assert.Equal(t, "text-embedding-ada-002", cfg.EmbeddingModel)
	assert.Equal(t, "cl100k_base", cfg.TokenizerEncoding)
	assert.Equal(t, BackendFile, cfg.IndexBackend)
	assert.Equal(t, 59000, cfg.TokensPerMinute)
	assert.Equal(t, 100000, cfg.RequestsPerDay)
	assert.Equal(t, time.Duration(0), cfg.MinRequestInterval)
	assert.Equal(t, 6334, cfg.QdrantPort)
	assert.Equal(t, "8080", cfg.Port)
	assert.False(t, cfg.ServerMode)
	assert.Equal(t, slog.LevelInfo, cfg.LogLevel)
}

func TestFromEnv_Overrides(t *testing.T) {
	cfg, err := FromEnv(lookup(map[string]string{
		"GROQ_API_KEY":         "gsk",
		"INDEX_BACKEND":        "SQLite",
		"TOKENS_PER_MINUTE":    "1000",
		"MIN_REQUEST_INTERVAL": "250",
		"REQUEST_TIMEOUT":      "2m",
		"SERVER_MODE":          "true",
		"LOG_LEVEL":            "debug",
	}))

	require.NoError(t, err)
	assert.Equal(t, "gsk", cfg.GroqAPIKey)
	assert.Equal(t, BackendSQLite, cfg.IndexBackend)
	assert.Equal(t, 1000, cfg.RateLimit().TokensPerMinute)
	assert.Equal(t, 250*time.Millisecond, cfg.RateLimit().MinInterval)
	assert.Equal(t, 2*time.Minute, cfg.RequestTimeout)
	assert.True(t, cfg.ServerMode)
	assert.Equal(t, slog.LevelDebug, cfg.LogLevel)
}

func TestFromEnv_Invalid(t *testing.T) {
	tests := map[string]map[string]string{
		"backend":      {"INDEX_BACKEND": "pinecone"},
		"int":          {"QDRANT_PORT": "six"},
		"negative tpm": {"TOKENS_PER_MINUTE": "-1"},
		"duration":     {"REQUEST_TIMEOUT": "soon"},
		"bool":         {"SERVER_MODE": "maybe"},
		"level":        {"LOG_LEVEL": "loud"},
	}
	for name, vars := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := FromEnv(lookup(vars))
			assert.ErrorIs(t, err, ErrInvalidConfig)
		})
	}
}
