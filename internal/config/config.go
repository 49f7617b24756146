// Package config loads process configuration from the environment.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/bull/irb-compliance/internal/embedding"
	"github.com/bull/irb-compliance/internal/llm"
	"github.com/bull/irb-compliance/internal/ratelimit"
	"github.com/bull/irb-compliance/internal/tokenizer"
	"github.com/bull/irb-compliance/internal/vectorindex"
)

// ErrInvalidConfig is wrapped by every validation error.
var ErrInvalidConfig = errors.New("invalid configuration")

// Index backends.
const (
	BackendFile   = "file"
	BackendSQLite = "sqlite"
	BackendQdrant = "qdrant"
)

// Config is the full process configuration.
type Config struct {
	GroqAPIKey string
	LLMBaseURL string
	LLMModel   string

	OpenAIAPIKey   string
	EmbeddingModel string

	TokenizerEncoding string

	IndexBackend     string
	DataDir          string
	QdrantHost       string
	QdrantPort       int
	QdrantCollection string

	TokensPerMinute    int
	RequestsPerDay     int
	MinRequestInterval time.Duration

	// DefaultDocumentsDir is ingested once at startup. DefaultDocumentsRepo,
	// an "owner/repo/path" location on GitHub, is used instead when set.
	DefaultDocumentsDir  string
	DefaultDocumentsRepo string
	GitHubToken          string

	Port           string
	ServerMode     bool
	RequestTimeout time.Duration
	LogLevel       slog.Level
}

// Load reads a .env file when present, then the environment.
func Load() (Config, error) {
	_ = godotenv.Load()
	return FromEnv(os.Getenv)
}

// FromEnv builds a Config from a lookup function and validates it.
func FromEnv(getenv func(string) string) (Config, error) {
	e := env{getenv: getenv}

	cfg := Config{
		GroqAPIKey:           e.get("GROQ_API_KEY", ""),
		LLMBaseURL:           e.get("LLM_BASE_URL", llm.DefaultBaseURL),
		LLMModel:             e.get("LLM_MODEL", llm.DefaultModel),
		OpenAIAPIKey:         e.get("OPENAI_API_KEY", ""),
		EmbeddingModel:       e.get("EMBEDDING_MODEL", embedding.DefaultModel),
		TokenizerEncoding:    e.get("TOKENIZER_ENCODING", tokenizer.DefaultEncoding),
		IndexBackend:         strings.ToLower(e.get("INDEX_BACKEND", BackendFile)),
		DataDir:              e.get("DATA_DIR", "data"),
		QdrantHost:           e.get("QDRANT_HOST", "localhost"),
		QdrantPort:           e.getInt("QDRANT_PORT", 6334),
		QdrantCollection:     e.get("QDRANT_COLLECTION", vectorindex.DefaultCollection),
		TokensPerMinute:      e.getInt("TOKENS_PER_MINUTE", ratelimit.DefaultTokensPerMinute),
		RequestsPerDay:       e.getInt("REQUESTS_PER_DAY", ratelimit.DefaultRequestsPerDay),
		MinRequestInterval:   e.getDuration("MIN_REQUEST_INTERVAL", 0),
		DefaultDocumentsDir:  e.get("DEFAULT_DOCUMENTS_DIR", "default_documents"),
		DefaultDocumentsRepo: e.get("DEFAULT_DOCUMENTS_REPO", ""),
		GitHubToken:          e.get("GITHUB_TOKEN", ""),
		Port:                 e.get("PORT", "8080"),
		ServerMode:           e.getBool("SERVER_MODE", false),
		RequestTimeout:       e.getDuration("REQUEST_TIMEOUT", 15*time.Minute),
		LogLevel:             e.getLevel("LOG_LEVEL", slog.LevelInfo),
	}

	if len(e.errs) > 0 {
		return Config{}, errors.Join(e.errs...)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks values that cannot be defaulted.
func (c Config) Validate() error {
	switch c.IndexBackend {
	case BackendFile, BackendSQLite, BackendQdrant:
	default:
		return fmt.Errorf("%w: INDEX_BACKEND %q, want file, sqlite or qdrant", ErrInvalidConfig, c.IndexBackend)
	}
	if c.TokensPerMinute <= 0 {
		return fmt.Errorf("%w: TOKENS_PER_MINUTE must be positive", ErrInvalidConfig)
	}
	if c.RequestsPerDay <= 0 {
		return fmt.Errorf("%w: REQUESTS_PER_DAY must be positive", ErrInvalidConfig)
	}
	if c.QdrantPort <= 0 || c.QdrantPort > 65535 {
		return fmt.Errorf("%w: QDRANT_PORT %d out of range", ErrInvalidConfig, c.QdrantPort)
	}
	if c.RequestTimeout <= 0 {
		return fmt.Errorf("%w: REQUEST_TIMEOUT must be positive", ErrInvalidConfig)
	}
	return nil
}

// RateLimit returns the limiter configuration.
func (c Config) RateLimit() ratelimit.Config {
	return ratelimit.Config{
		TokensPerMinute: c.TokensPerMinute,
		RequestsPerDay:  c.RequestsPerDay,
		MinInterval:     c.MinRequestInterval,
	}
}

// Qdrant returns the Qdrant index configuration.
func (c Config) Qdrant() vectorindex.QdrantConfig {
	return vectorindex.QdrantConfig{
		Host:       c.QdrantHost,
		Port:       c.QdrantPort,
		Collection: c.QdrantCollection,
	}
}

// env collects parse errors so every bad variable is reported at once.
type env struct {
	getenv func(string) string
	errs   []error
}

func (e *env) get(key, defaultValue string) string {
	if v := strings.TrimSpace(e.getenv(key)); v != "" {
		return v
	}
	return defaultValue
}

func (e *env) getInt(key string, defaultValue int) int {
	v := strings.TrimSpace(e.getenv(key))
	if v == "" {
		return defaultValue
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("%w: %s=%q is not an integer", ErrInvalidConfig, key, v))
		return defaultValue
	}
	return i
}

func (e *env) getBool(key string, defaultValue bool) bool {
	v := strings.TrimSpace(e.getenv(key))
	if v == "" {
		return defaultValue
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("%w: %s=%q is not a boolean", ErrInvalidConfig, key, v))
		return defaultValue
	}
	return b
}

// getDuration accepts Go duration strings or a bare number of milliseconds.
func (e *env) getDuration(key string, defaultValue time.Duration) time.Duration {
	v := strings.TrimSpace(e.getenv(key))
	if v == "" {
		return defaultValue
	}
	if ms, err := strconv.Atoi(v); err == nil {
		return time.Duration(ms) * time.Millisecond
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("%w: %s=%q is not a duration", ErrInvalidConfig, key, v))
		return defaultValue
	}
	return d
}

func (e *env) getLevel(key string, defaultValue slog.Level) slog.Level {
	v := strings.TrimSpace(e.getenv(key))
	if v == "" {
		return defaultValue
	}
	var l slog.Level
	if err := l.UnmarshalText([]byte(v)); err != nil {
		e.errs = append(e.errs, fmt.Errorf("%w: %s=%q is not a log level", ErrInvalidConfig, key, v))
		return defaultValue
	}
	return l
}
