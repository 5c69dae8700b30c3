package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"runtime"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config holds the finqa API configuration.
type Config struct {
	HTTP      HTTPConfig      `yaml:"http"`
	Storage   StorageConfig   `yaml:"storage"`
	Model     ModelConfig     `yaml:"model"`
	Cache     CacheConfig     `yaml:"cache"`
	Chunking  ChunkingConfig  `yaml:"chunking"`
	Ingest    IngestConfig    `yaml:"ingest"`
	Retrieval RetrievalConfig `yaml:"retrieval"`
	Loop      LoopConfig      `yaml:"loop"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level string `yaml:"level"` // debug, info, warn, error (default: determined by env)
}

// HTTPConfig holds HTTP server settings.
type HTTPConfig struct {
	Port            int `yaml:"port"`
	ReadTimeoutSec  int `yaml:"read_timeout_sec"`
	WriteTimeoutSec int `yaml:"write_timeout_sec"`
	ShutdownSec     int `yaml:"shutdown_timeout_sec"`
}

// StorageConfig holds on-disk layout settings.
type StorageConfig struct {
	PersistDir string `yaml:"persist_dir"`
	TraceDir   string `yaml:"trace_dir"`
	EventsDir  string `yaml:"events_dir"`
	WatchDir   string `yaml:"watch_dir"`
	UploadDir  string `yaml:"upload_dir"`
}

// ModelConfig holds model backend settings.
type ModelConfig struct {
	Provider       string `yaml:"provider"` // openai, offline (default: offline)
	APIKey         string `yaml:"api_key"`
	BaseURL        string `yaml:"base_url"`
	EmbeddingModel string `yaml:"embedding_model"`
	ChatModel      string `yaml:"chat_model"`
	Dimensions     int    `yaml:"dimensions"`
}

// CacheConfig holds embedding cache settings. The cache is active only
// when addrs is non-empty.
type CacheConfig struct {
	Addrs            []string `yaml:"addrs"`
	Username         string   `yaml:"username"`
	Password         string   `yaml:"password"`
	DB               int      `yaml:"db"`
	ReadinessTimeout int      `yaml:"readiness_timeout_sec"`
}

// ChunkingConfig holds text splitting settings.
type ChunkingConfig struct {
	Strategy        string `yaml:"strategy"` // fixed, sentence, recursive
	ChunkSize       int    `yaml:"chunk_size"`
	Overlap         int    `yaml:"overlap"`
	MaxChunkSize    int    `yaml:"max_chunk_size"`
	SentencePattern string `yaml:"sentence_pattern"`
	DetectTables    *bool  `yaml:"detect_tables"`
}

// IngestConfig holds ingestion settings.
type IngestConfig struct {
	SummaryChars   int  `yaml:"summary_chars"`
	BatchSize      int  `yaml:"batch_size"`
	EventFlushSize int  `yaml:"event_flush_size"`
	AutoScan       bool `yaml:"auto_scan_on_start"`
}

// RetrievalConfig holds hybrid retrieval settings.
type RetrievalConfig struct {
	AlphaDoc           float64 `yaml:"alpha_doc"`
	AlphaChunk         float64 `yaml:"alpha_chunk"`
	AlphaTable         float64 `yaml:"alpha_table"`
	TopKDocs           int     `yaml:"top_k_docs"`
	TopKChunks         int     `yaml:"top_k_chunks"`
	TopKTables         int     `yaml:"top_k_tables"`
	DocSummaryMaxChars int     `yaml:"doc_summary_max_chars"`
}

// LoopConfig holds answering loop settings.
type LoopConfig struct {
	MaxLoops int `yaml:"max_loops"`
}

// Load reads configuration from a YAML file by environment name (local, dev, prod).
func Load(env string) (Config, error) {
	configPath := findConfigPath(env)

	data, err := os.ReadFile(filepath.Clean(configPath))
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config %s: %w", configPath, err)
	}

	// Substitute env variables of the form ${VAR}
	data = expandEnvVars(data)

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.ApplyDefaults()

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// MustLoad loads configuration or panics.
func MustLoad(env string) Config {
	cfg, err := Load(env)
	if err != nil {
		panic(err)
	}
	return cfg
}

// GetEnv returns the current environment from the ENV variable, defaulting to "local".
func GetEnv() string {
	if env := os.Getenv("ENV"); env != "" {
		return env
	}
	return "local"
}

// ApplyDefaults fills empty fields with default values.
func (c *Config) ApplyDefaults() {
	if c.HTTP.ReadTimeoutSec <= 0 {
		c.HTTP.ReadTimeoutSec = 10
	}
	if c.HTTP.WriteTimeoutSec <= 0 {
		c.HTTP.WriteTimeoutSec = 60
	}
	if c.HTTP.ShutdownSec <= 0 {
		c.HTTP.ShutdownSec = 10
	}
	if c.Storage.PersistDir == "" {
		c.Storage.PersistDir = "data/persist"
	}
	if c.Storage.TraceDir == "" {
		c.Storage.TraceDir = "data/traces"
	}
	if c.Storage.EventsDir == "" {
		c.Storage.EventsDir = "data/events"
	}
	if c.Storage.WatchDir == "" {
		c.Storage.WatchDir = "data/inbox"
	}
	if c.Storage.UploadDir == "" {
		c.Storage.UploadDir = "data"
	}
	if c.Model.Provider == "" {
		c.Model.Provider = "offline"
	}
	if c.Cache.ReadinessTimeout <= 0 {
		c.Cache.ReadinessTimeout = 10
	}
	if c.Chunking.Strategy == "" {
		c.Chunking.Strategy = "recursive"
	}
	if c.Chunking.ChunkSize <= 0 {
		c.Chunking.ChunkSize = 1200
	}
	if c.Chunking.Overlap <= 0 {
		c.Chunking.Overlap = 150
	}
	if c.Chunking.MaxChunkSize <= 0 {
		c.Chunking.MaxChunkSize = 1200
	}
	if c.Chunking.DetectTables == nil {
		enabled := true
		c.Chunking.DetectTables = &enabled
	}
	if c.Ingest.SummaryChars <= 0 {
		c.Ingest.SummaryChars = 5000
	}
	if c.Ingest.BatchSize <= 0 {
		c.Ingest.BatchSize = 32
	}
	if c.Ingest.EventFlushSize <= 0 {
		c.Ingest.EventFlushSize = 5
	}
	if c.Retrieval.AlphaDoc == 0 {
		c.Retrieval.AlphaDoc = 0.65
	}
	if c.Retrieval.AlphaChunk == 0 {
		c.Retrieval.AlphaChunk = 0.55
	}
	if c.Retrieval.AlphaTable == 0 {
		c.Retrieval.AlphaTable = 0.50
	}
	if c.Retrieval.TopKDocs <= 0 {
		c.Retrieval.TopKDocs = 6
	}
	if c.Retrieval.TopKChunks <= 0 {
		c.Retrieval.TopKChunks = 12
	}
	if c.Retrieval.TopKTables <= 0 {
		c.Retrieval.TopKTables = 6
	}
	if c.Retrieval.DocSummaryMaxChars <= 0 {
		c.Retrieval.DocSummaryMaxChars = 600
	}
	if c.Loop.MaxLoops <= 0 {
		c.Loop.MaxLoops = 4
	}
}

// Validate checks the configuration for correctness.
func (c *Config) Validate() error {
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("http.port must be between 1 and 65535, got %d", c.HTTP.Port)
	}
	switch c.Model.Provider {
	case "openai", "offline":
		// ok
	default:
		return fmt.Errorf("model.provider must be \"openai\" or \"offline\", got %q", c.Model.Provider)
	}
	if c.Model.Provider == "openai" && c.Model.APIKey == "" {
		return fmt.Errorf("model.api_key is required for the openai provider")
	}
	switch c.Chunking.Strategy {
	case "fixed", "sentence", "recursive":
		// ok
	default:
		return fmt.Errorf("chunking.strategy must be fixed, sentence or recursive, got %q", c.Chunking.Strategy)
	}
	if c.Chunking.Overlap >= c.Chunking.ChunkSize {
		return fmt.Errorf("chunking.overlap must be smaller than chunk_size, got %d >= %d",
			c.Chunking.Overlap, c.Chunking.ChunkSize)
	}
	for name, alpha := range map[string]float64{
		"retrieval.alpha_doc":   c.Retrieval.AlphaDoc,
		"retrieval.alpha_chunk": c.Retrieval.AlphaChunk,
		"retrieval.alpha_table": c.Retrieval.AlphaTable,
	} {
		if alpha < 0 || alpha > 1 {
			return fmt.Errorf("%s must be between 0 and 1, got %v", name, alpha)
		}
	}
	return nil
}

// findConfigPath locates the config file.
func findConfigPath(env string) string {
	filename := fmt.Sprintf("%s.yaml", env)

	// 1. Check ./config/
	if path := filepath.Join("config", filename); fileExists(path) {
		return path
	}

	// 2. Check relative to the source file
	_, b, _, _ := runtime.Caller(0)
	projectRoot := filepath.Dir(filepath.Dir(filepath.Dir(b))) // internal/config -> project root
	if path := filepath.Join(projectRoot, "config", filename); fileExists(path) {
		return path
	}

	// 3. Fallback to ./config/
	return filepath.Join("config", filename)
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// expandEnvVars replaces ${VAR} and ${VAR:-default} with environment variable values.
var envVarRegex = regexp.MustCompile(`\$\{([^}]+)\}`)

func expandEnvVars(data []byte) []byte {
	return envVarRegex.ReplaceAllFunc(data, func(match []byte) []byte {
		expr := string(match[2 : len(match)-1]) // strip ${ and }
		varName, defaultVal, hasDefault := strings.Cut(expr, ":-")
		val := os.Getenv(varName)
		if val == "" && hasDefault {
			val = defaultVal
		}
		return []byte(val)
	})
}
