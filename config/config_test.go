package config

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/lyangfan/deepmemory/core"
)

func setBaseEnv(t *testing.T) {
	t.Helper()
	t.Setenv("REPLY_LLM_API_KEY", "test-key")
	t.Setenv("DATA_DIR", filepath.Join(t.TempDir(), "data"))
	t.Setenv("EMBEDDING_API_KEY", "")
	t.Setenv("API_KEY", "")
	t.Setenv("EMBEDDING_MODEL", "")
	t.Setenv("LLM_PROVIDER", "")
	t.Setenv("ENVIRONMENT", "")
}

func TestLoadDevelopmentDefaults(t *testing.T) {
	setBaseEnv(t)
	t.Setenv("ENVIRONMENT", "development")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.EmbeddingModel != EmbeddingSimple {
		t.Errorf("dev default embedding = %q, want simple", cfg.EmbeddingModel)
	}
	if cfg.EmbeddingAPIKey != "test-key" {
		t.Errorf("embedding key did not fall back to the LLM key")
	}
	if cfg.AuthRequired() {
		t.Error("dev without API_KEY should not require auth")
	}
	if cfg.MemoryExtractThreshold != 5 || cfg.MaxContextMemories != 5 {
		t.Errorf("defaults: threshold=%d max=%d", cfg.MemoryExtractThreshold, cfg.MaxContextMemories)
	}
}

func TestMissingLLMKeyFatal(t *testing.T) {
	setBaseEnv(t)
	t.Setenv("REPLY_LLM_API_KEY", "")
	t.Setenv("ENVIRONMENT", "development")

	if _, err := Load(); !errors.Is(err, core.ErrConfigInvalid) {
		t.Fatalf("want ErrConfigInvalid, got %v", err)
	}
}

func TestProductionRequiresAPIKey(t *testing.T) {
	setBaseEnv(t)
	t.Setenv("ENVIRONMENT", "production")
	t.Setenv("EMBEDDING_MODEL", EmbeddingRemote)

	if _, err := Load(); !errors.Is(err, core.ErrConfigInvalid) {
		t.Fatalf("production without API_KEY: want ErrConfigInvalid, got %v", err)
	}

	t.Setenv("API_KEY", "gate")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !cfg.AuthRequired() {
		t.Error("production must require auth")
	}
}

func TestProductionForbidsSimpleEmbedding(t *testing.T) {
	setBaseEnv(t)
	t.Setenv("ENVIRONMENT", "production")
	t.Setenv("API_KEY", "gate")
	t.Setenv("EMBEDDING_MODEL", EmbeddingSimple)

	if _, err := Load(); !errors.Is(err, core.ErrConfigInvalid) {
		t.Fatalf("want ErrConfigInvalid, got %v", err)
	}
}

func TestProductionDefaultsToRemoteEmbedding(t *testing.T) {
	setBaseEnv(t)
	t.Setenv("ENVIRONMENT", "production")
	t.Setenv("API_KEY", "gate")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.EmbeddingModel != EmbeddingRemote {
		t.Errorf("production default embedding = %q, want remote-llm", cfg.EmbeddingModel)
	}
}

func TestUnknownValuesRejected(t *testing.T) {
	setBaseEnv(t)
	t.Setenv("ENVIRONMENT", "staging")
	if _, err := Load(); !errors.Is(err, core.ErrConfigInvalid) {
		t.Errorf("unknown environment accepted")
	}

	setBaseEnv(t)
	t.Setenv("ENVIRONMENT", "development")
	t.Setenv("EMBEDDING_MODEL", "word2vec")
	if _, err := Load(); !errors.Is(err, core.ErrConfigInvalid) {
		t.Errorf("unknown embedding model accepted")
	}

	setBaseEnv(t)
	t.Setenv("ENVIRONMENT", "development")
	t.Setenv("LLM_PROVIDER", "gpt")
	if _, err := Load(); !errors.Is(err, core.ErrConfigInvalid) {
		t.Errorf("unknown llm provider accepted")
	}
}

func TestOnDiskLayout(t *testing.T) {
	setBaseEnv(t)
	t.Setenv("ENVIRONMENT", "development")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if filepath.Base(cfg.UsersDir()) != "users" ||
		filepath.Base(cfg.SessionsDir()) != "sessions" ||
		filepath.Base(cfg.VectorDBDir()) != "vectordb" {
		t.Errorf("layout: %s %s %s", cfg.UsersDir(), cfg.SessionsDir(), cfg.VectorDBDir())
	}
}
