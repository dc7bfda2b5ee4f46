// Package config loads the service configuration from the environment
// (optionally seeded from a .env file) and validates it at startup.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/joho/godotenv"

	"github.com/lyangfan/deepmemory/core"
)

// Environments.
const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
)

// Embedding model variants.
const (
	EmbeddingRemote = "remote-llm"
	EmbeddingLocal  = "local-transformer"
	EmbeddingSimple = "simple"
)

// Config is the validated service configuration. Read-only after Load.
type Config struct {
	Environment string

	// ReplyLLMAPIKey authenticates the reply and scoring LLM.
	ReplyLLMAPIKey string

	// EmbeddingAPIKey authenticates the embedding provider; falls back
	// to ReplyLLMAPIKey when unset.
	EmbeddingAPIKey string

	// APIKey gates the HTTP surface. Required in production.
	APIKey string

	// LLMProvider selects the chat backend: "glm" or "claude".
	LLMProvider string
	LLMModel    string

	// EmbeddingModel selects the adapter variant.
	EmbeddingModel string

	DataDir  string
	RolesDir string

	MemoryExtractThreshold int
	MaxContextMemories     int

	Host    string
	Port    int
	Workers int
}

// Load reads the environment into a Config and validates it. A .env
// file in the working directory is honored first, matching the original
// launcher.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Environment:            getenv("ENVIRONMENT", EnvProduction),
		ReplyLLMAPIKey:         os.Getenv("REPLY_LLM_API_KEY"),
		EmbeddingAPIKey:        os.Getenv("EMBEDDING_API_KEY"),
		APIKey:                 os.Getenv("API_KEY"),
		LLMProvider:            getenv("LLM_PROVIDER", "glm"),
		LLMModel:               os.Getenv("LLM_MODEL"),
		DataDir:                getenv("DATA_DIR", "./data"),
		RolesDir:               getenv("ROLES_DIR", "configs/roles"),
		MemoryExtractThreshold: getenvInt("MEMORY_EXTRACT_THRESHOLD", 5),
		MaxContextMemories:     getenvInt("MAX_CONTEXT_MEMORIES", 5),
		Host:                   getenv("HOST", "0.0.0.0"),
		Port:                   getenvInt("PORT", 8000),
		Workers:                getenvInt("WORKERS", 4),
	}

	if cfg.EmbeddingModel = os.Getenv("EMBEDDING_MODEL"); cfg.EmbeddingModel == "" {
		if cfg.Environment == EnvProduction {
			cfg.EmbeddingModel = EmbeddingRemote
		} else {
			cfg.EmbeddingModel = EmbeddingSimple
		}
	}
	if cfg.EmbeddingAPIKey == "" {
		cfg.EmbeddingAPIKey = cfg.ReplyLLMAPIKey
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate enforces the startup contract.
func (c *Config) Validate() error {
	switch c.Environment {
	case EnvDevelopment, EnvProduction:
	default:
		return fmt.Errorf("%w: ENVIRONMENT must be development or production, got %q", core.ErrConfigInvalid, c.Environment)
	}

	if c.ReplyLLMAPIKey == "" {
		return fmt.Errorf("%w: REPLY_LLM_API_KEY is required", core.ErrConfigInvalid)
	}

	switch c.EmbeddingModel {
	case EmbeddingRemote, EmbeddingLocal, EmbeddingSimple:
	default:
		return fmt.Errorf("%w: unknown EMBEDDING_MODEL %q", core.ErrConfigInvalid, c.EmbeddingModel)
	}

	switch c.LLMProvider {
	case "glm", "claude":
	default:
		return fmt.Errorf("%w: unknown LLM_PROVIDER %q", core.ErrConfigInvalid, c.LLMProvider)
	}

	if c.Environment == EnvProduction {
		if c.APIKey == "" {
			return fmt.Errorf("%w: production requires API_KEY", core.ErrConfigInvalid)
		}
		if c.EmbeddingModel == EmbeddingSimple {
			return fmt.Errorf("%w: production forbids the simple embedding model", core.ErrConfigInvalid)
		}
	}

	if err := os.MkdirAll(c.DataDir, 0o755); err != nil {
		return fmt.Errorf("%w: data dir %s: %v", core.ErrConfigInvalid, c.DataDir, err)
	}
	return nil
}

// UsersDir, SessionsDir and VectorDBDir are the fixed on-disk layout
// under DataDir.
func (c *Config) UsersDir() string    { return filepath.Join(c.DataDir, "users") }
func (c *Config) SessionsDir() string { return filepath.Join(c.DataDir, "sessions") }
func (c *Config) VectorDBDir() string { return filepath.Join(c.DataDir, "vectordb") }

// AuthRequired reports whether the HTTP surface must see a valid key.
// Development without a configured key skips the check.
func (c *Config) AuthRequired() bool {
	return !(c.Environment == EnvDevelopment && c.APIKey == "")
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}
