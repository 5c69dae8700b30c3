package config

import (
	"os"
	"testing"
)

func validConfig() Config {
	cfg := Config{
		HTTP:  HTTPConfig{Port: 8080},
		Model: ModelConfig{Provider: "offline"},
	}
	cfg.ApplyDefaults()
	return cfg
}

func TestValidate_InvalidPort(t *testing.T) {
	cfg := validConfig()
	cfg.HTTP.Port = 0

	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for invalid port")
	}
}

func TestValidate_InvalidProvider(t *testing.T) {
	cfg := validConfig()
	cfg.Model.Provider = "anthropic"

	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected error for invalid provider")
	}

	expected := `model.provider must be "openai" or "offline", got "anthropic"`
	if err.Error() != expected {
		t.Errorf("unexpected error message:\ngot:  %q\nwant: %q", err.Error(), expected)
	}
}

func TestValidate_OpenAIRequiresKey(t *testing.T) {
	cfg := validConfig()
	cfg.Model.Provider = "openai"

	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for openai provider without api key")
	}

	cfg.Model.APIKey = "sk-test"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("unexpected error with api key set: %v", err)
	}
}

func TestValidate_InvalidStrategy(t *testing.T) {
	cfg := validConfig()
	cfg.Chunking.Strategy = "semantic"

	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for unknown chunking strategy")
	}
}

func TestValidate_OverlapBound(t *testing.T) {
	cfg := validConfig()
	cfg.Chunking.ChunkSize = 100
	cfg.Chunking.Overlap = 100

	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for overlap >= chunk_size")
	}
}

func TestValidate_AlphaRange(t *testing.T) {
	for _, alpha := range []float64{-0.1, 1.1} {
		cfg := validConfig()
		cfg.Retrieval.AlphaChunk = alpha

		if err := cfg.Validate(); err == nil {
			t.Fatalf("expected error for alpha=%v", alpha)
		}
	}
}

func TestApplyDefaults(t *testing.T) {
	cfg := Config{}
	cfg.ApplyDefaults()

	if cfg.Model.Provider != "offline" {
		t.Errorf("expected Provider=offline, got %q", cfg.Model.Provider)
	}
	if cfg.Chunking.Strategy != "recursive" {
		t.Errorf("expected Strategy=recursive, got %q", cfg.Chunking.Strategy)
	}
	if cfg.Chunking.ChunkSize != 1200 || cfg.Chunking.Overlap != 150 {
		t.Errorf("unexpected chunking defaults: size=%d overlap=%d", cfg.Chunking.ChunkSize, cfg.Chunking.Overlap)
	}
	if cfg.Chunking.DetectTables == nil || !*cfg.Chunking.DetectTables {
		t.Error("expected DetectTables=true by default")
	}
	if cfg.Ingest.SummaryChars != 5000 || cfg.Ingest.BatchSize != 32 || cfg.Ingest.EventFlushSize != 5 {
		t.Errorf("unexpected ingest defaults: %+v", cfg.Ingest)
	}
	if cfg.Retrieval.AlphaDoc != 0.65 || cfg.Retrieval.AlphaChunk != 0.55 || cfg.Retrieval.AlphaTable != 0.50 {
		t.Errorf("unexpected alpha defaults: %+v", cfg.Retrieval)
	}
	if cfg.Retrieval.TopKDocs != 6 || cfg.Retrieval.TopKChunks != 12 || cfg.Retrieval.TopKTables != 6 {
		t.Errorf("unexpected top_k defaults: %+v", cfg.Retrieval)
	}
	if cfg.Retrieval.DocSummaryMaxChars != 600 {
		t.Errorf("expected DocSummaryMaxChars=600, got %d", cfg.Retrieval.DocSummaryMaxChars)
	}
	if cfg.Loop.MaxLoops != 4 {
		t.Errorf("expected MaxLoops=4, got %d", cfg.Loop.MaxLoops)
	}
	if cfg.Storage.PersistDir != "data/persist" || cfg.Storage.WatchDir != "data/inbox" {
		t.Errorf("unexpected storage defaults: %+v", cfg.Storage)
	}
}

func TestApplyDefaults_NoOverride(t *testing.T) {
	disabled := false
	cfg := Config{
		HTTP:     HTTPConfig{ReadTimeoutSec: 30, WriteTimeoutSec: 120, ShutdownSec: 5},
		Chunking: ChunkingConfig{Strategy: "fixed", ChunkSize: 400, Overlap: 40, MaxChunkSize: 400, DetectTables: &disabled},
		Loop:     LoopConfig{MaxLoops: 2},
	}
	cfg.ApplyDefaults()

	if cfg.HTTP.ReadTimeoutSec != 30 {
		t.Errorf("expected ReadTimeoutSec=30, got %d", cfg.HTTP.ReadTimeoutSec)
	}
	if cfg.Chunking.Strategy != "fixed" || cfg.Chunking.ChunkSize != 400 {
		t.Errorf("unexpected chunking: %+v", cfg.Chunking)
	}
	if *cfg.Chunking.DetectTables {
		t.Error("DetectTables=false must survive defaulting")
	}
	if cfg.Loop.MaxLoops != 2 {
		t.Errorf("expected MaxLoops=2, got %d", cfg.Loop.MaxLoops)
	}
}

func TestExpandEnvVars(t *testing.T) {
	os.Setenv("FINQA_TEST_KEY", "secret")
	defer os.Unsetenv("FINQA_TEST_KEY")

	in := []byte("api_key: ${FINQA_TEST_KEY}\nbase_url: ${FINQA_TEST_URL:-https://api.openai.com/v1}\n")
	out := string(expandEnvVars(in))

	if out != "api_key: secret\nbase_url: https://api.openai.com/v1\n" {
		t.Fatalf("unexpected expansion: %q", out)
	}
}
