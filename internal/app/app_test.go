package app

import (
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bull/irb-compliance/internal/config"
	ghclient "github.com/bull/irb-compliance/internal/github"
	"github.com/bull/irb-compliance/internal/ingest"
)

func testConfig(t *testing.T, backend string) config.Config {
	t.Helper()
	env := map[string]string{
		"GROQ_API_KEY":   "groq-test",
		"OPENAI_API_KEY": "openai-test",
		"INDEX_BACKEND":  backend,
		"DATA_DIR":       t.TempDir(),
	}
	cfg, err := config.FromEnv(func(k string) string { return env[k] })
	require.NoError(t, err)
	return cfg
}

func TestNewLocalBackends(t *testing.T) {
	for _, backend := range []string{config.BackendFile, config.BackendSQLite} {
		t.Run(backend, func(t *testing.T) {
			a, err := New(context.Background(), testConfig(t, backend), slog.Default())
			require.NoError(t, err)
			defer a.Close()

			assert.NotNil(t, a.Evaluator)
			assert.NotNil(t, a.Ingest)
			require.NoError(t, a.Health(context.Background()))

			n, err := a.Index.Count(context.Background())
			require.NoError(t, err)
			assert.Zero(t, n)
		})
	}
}

func TestNewMissingKeys(t *testing.T) {
	cfg := testConfig(t, config.BackendFile)
	cfg.OpenAIAPIKey = ""
	_, err := New(context.Background(), cfg, nil)
	assert.Error(t, err)

	cfg = testConfig(t, config.BackendFile)
	cfg.GroqAPIKey = ""
	_, err = New(context.Background(), cfg, nil)
	assert.Error(t, err)
}

func TestDefaultSource(t *testing.T) {
	a := &App{Config: config.Config{DefaultDocumentsDir: "docs"}}
	src, err := a.DefaultSource()
	require.NoError(t, err)
	assert.IsType(t, &ingest.DirSource{}, src)
	assert.Equal(t, "dir:docs", src.Name())

	a.Config.DefaultDocumentsRepo = "hhs/regulations/45cfr46"
	src, err = a.DefaultSource()
	require.NoError(t, err)
	assert.IsType(t, &ghclient.Fetcher{}, src)

	a.Config.DefaultDocumentsRepo = "not-a-location"
	_, err = a.DefaultSource()
	assert.Error(t, err)
}

func TestCloseIsIdempotent(t *testing.T) {
	a, err := New(context.Background(), testConfig(t, config.BackendSQLite), nil)
	require.NoError(t, err)
	require.NoError(t, a.Close())
	require.NoError(t, a.Close())
}
