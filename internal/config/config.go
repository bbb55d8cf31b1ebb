// Package config loads the mail2rag daemon's configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/Aman-CERP/mail2rag/internal/errs"
	"github.com/Aman-CERP/mail2rag/internal/logging"
)

// Config is the complete mail2rag daemon configuration.
type Config struct {
	Mail       MailConfig       `yaml:"mail" json:"mail"`
	Routing    RoutingConfig    `yaml:"routing" json:"routing"`
	Chunking   ChunkingConfig   `yaml:"chunking" json:"chunking"`
	Search     SearchConfig     `yaml:"search" json:"search"`
	Workers    WorkersConfig    `yaml:"workers" json:"workers"`
	Embeddings EmbeddingsConfig `yaml:"embeddings" json:"embeddings"`
	Reranker   RerankerConfig   `yaml:"reranker" json:"reranker"`
	LLM        LLMConfig        `yaml:"llm" json:"llm"`
	Prompts    PromptsConfig    `yaml:"prompts" json:"prompts"`
	HTTP       HTTPConfig       `yaml:"http" json:"http"`
	Retry      RetryConfig      `yaml:"retry" json:"retry"`
	Paths      PathsConfig      `yaml:"paths" json:"paths"`
	Logging    logging.Config   `yaml:"logging" json:"logging"`
}

// MailConfig configures the IMAP ingestion loop and SMTP reply delivery.
type MailConfig struct {
	IMAPHost     string        `yaml:"imap_host" json:"imap_host"`
	IMAPPort     int           `yaml:"imap_port" json:"imap_port"`
	IMAPUser     string        `yaml:"imap_user" json:"imap_user"`
	IMAPPassword string        `yaml:"imap_password" json:"imap_password"`
	IMAPFolder   string        `yaml:"imap_folder" json:"imap_folder"`
	IMAPUseTLS   bool          `yaml:"imap_use_tls" json:"imap_use_tls"`
	SMTPHost     string        `yaml:"smtp_host" json:"smtp_host"`
	SMTPPort     int           `yaml:"smtp_port" json:"smtp_port"`
	SMTPUser     string        `yaml:"smtp_user" json:"smtp_user"`
	SMTPPassword string        `yaml:"smtp_password" json:"smtp_password"`
	SMTPUseTLS   bool          `yaml:"smtp_use_tls" json:"smtp_use_tls"`
	FromAddress  string        `yaml:"from_address" json:"from_address"`
	PollInterval time.Duration `yaml:"poll_interval" json:"poll_interval"`
	UserCriteria string        `yaml:"user_criteria" json:"user_criteria"` // extra IMAP SEARCH criteria ANDed with UID filter
}

// RoutingConfig configures routing rule loading.
type RoutingConfig struct {
	RulesPath        string `yaml:"rules_path" json:"rules_path"`
	DefaultWorkspace string `yaml:"default_workspace" json:"default_workspace"`
	HotReload        bool   `yaml:"hot_reload" json:"hot_reload"`
}

// ChunkingConfig configures the document splitter.
type ChunkingConfig struct {
	ChunkSize    int `yaml:"chunk_size" json:"chunk_size"`
	ChunkOverlap int `yaml:"chunk_overlap" json:"chunk_overlap"`
}

// SearchConfig configures hybrid retrieval bounds.
type SearchConfig struct {
	MaxTopK           int  `yaml:"max_top_k" json:"max_top_k"`
	MaxQueryChars     int  `yaml:"max_query_chars" json:"max_query_chars"`
	MaxRerankPassages int  `yaml:"max_rerank_passages" json:"max_rerank_passages"`
	UseBM25Default    bool `yaml:"use_bm25_default" json:"use_bm25_default"`
}

// WorkersConfig configures the background job scheduler's worker pool.
type WorkersConfig struct {
	WorkerCount     int `yaml:"worker_count" json:"worker_count"`
	WorkerQueueSize int `yaml:"worker_queue_size" json:"worker_queue_size"`
}

// EmbeddingsConfig configures the embedding client used during ingest
// and search, and selects which vectorstore.VectorStore backend it
// runs on top of.
type EmbeddingsConfig struct {
	Provider       string        `yaml:"provider" json:"provider"`
	Model          string        `yaml:"model" json:"model"`
	Dimensions     int           `yaml:"dimensions" json:"dimensions"`
	BatchSize      int           `yaml:"batch_size" json:"batch_size"`
	Endpoint       string        `yaml:"endpoint" json:"endpoint"`
	RequestTimeout time.Duration `yaml:"request_timeout" json:"request_timeout"`

	// VectorBackend selects the vectorstore.VectorStore implementation:
	// "hnsw" (default, in-process, persisted under Paths.VectorDir) or
	// "qdrant" (external, addressed by QdrantDSN).
	VectorBackend string `yaml:"vector_backend" json:"vector_backend"`
	QdrantDSN     string `yaml:"qdrant_dsn" json:"qdrant_dsn"`
	QdrantMetric  string `yaml:"qdrant_metric" json:"qdrant_metric"`
}

// RerankerConfig configures the optional cross-encoder reranking stage.
type RerankerConfig struct {
	Enabled bool          `yaml:"enabled" json:"enabled"`
	Host    string        `yaml:"host" json:"host"`
	Model   string        `yaml:"model" json:"model"`
	Timeout time.Duration `yaml:"timeout" json:"timeout"`
}

// LLMConfig configures the answer generator's language model client.
type LLMConfig struct {
	Provider           string             `yaml:"provider" json:"provider"`
	Model              string             `yaml:"model" json:"model"`
	Endpoint           string             `yaml:"endpoint" json:"endpoint"`
	APIKey             string             `yaml:"api_key" json:"api_key"`
	Temperature        float64            `yaml:"temperature" json:"temperature"`
	RequestTimeout     time.Duration      `yaml:"request_timeout" json:"request_timeout"`
	TemperatureByColl  map[string]float64 `yaml:"temperature_by_collection" json:"temperature_by_collection"`
}

// PromptsConfig configures per-collection system prompts for answer
// generation: a default prompt plus overrides keyed by collection name.
type PromptsConfig struct {
	DefaultSystemPrompt string            `yaml:"default_system_prompt" json:"default_system_prompt"`
	ByCollection        map[string]string `yaml:"by_collection" json:"by_collection"`
}

// HTTPConfig configures the HTTP API surface.
type HTTPConfig struct {
	ListenAddr string `yaml:"listen_addr" json:"listen_addr"`
	APIKey     string `yaml:"api_key" json:"api_key"`
}

// RetryConfig configures the default retry policy.
type RetryConfig struct {
	MaxAttempts  int           `yaml:"max_attempts" json:"max_attempts"`
	InitialDelay time.Duration `yaml:"initial_delay" json:"initial_delay"`
	MaxDelay     time.Duration `yaml:"max_delay" json:"max_delay"`
	Multiplier   float64       `yaml:"multiplier" json:"multiplier"`
	Jitter       bool          `yaml:"jitter" json:"jitter"`
}

// ToRetryPolicy converts the configured retry knobs into the
// errs.RetryPolicy the HTTP-facing clients (internal/llmclient) apply
// uniformly.
func (c RetryConfig) ToRetryPolicy() errs.RetryPolicy {
	return errs.RetryPolicy{
		MaxRetries:   c.MaxAttempts,
		InitialDelay: c.InitialDelay,
		MaxDelay:     c.MaxDelay,
		Multiplier:   c.Multiplier,
		Jitter:       c.Jitter,
	}
}

// PathsConfig configures on-disk state locations.
type PathsConfig struct {
	StateDir   string `yaml:"state_dir" json:"state_dir"`
	BM25Dir    string `yaml:"bm25_dir" json:"bm25_dir"`
	VectorDir  string `yaml:"vector_dir" json:"vector_dir"`
	ArchiveDir string `yaml:"archive_dir" json:"archive_dir"`
}

// NewConfig returns a Config populated with sensible defaults.
func NewConfig() *Config {
	return &Config{
		Mail: MailConfig{
			IMAPPort:     993,
			IMAPFolder:   "INBOX",
			IMAPUseTLS:   true,
			SMTPPort:     587,
			SMTPUseTLS:   true,
			PollInterval: 30 * time.Second,
		},
		Routing: RoutingConfig{
			RulesPath:        "routing_rules.yaml",
			DefaultWorkspace: "default",
			HotReload:        true,
		},
		Chunking: ChunkingConfig{
			ChunkSize:    1500,
			ChunkOverlap: 200,
		},
		Search: SearchConfig{
			MaxTopK:           50,
			MaxQueryChars:     4000,
			MaxRerankPassages: 50,
			UseBM25Default:    true,
		},
		Workers: WorkersConfig{
			WorkerCount:     4,
			WorkerQueueSize: 256,
		},
		Embeddings: EmbeddingsConfig{
			Provider:       "ollama",
			Model:          "nomic-embed-text",
			BatchSize:      32,
			Endpoint:       "http://localhost:11434",
			RequestTimeout: 30 * time.Second,
			VectorBackend:  "hnsw",
			QdrantMetric:   "cosine",
		},
		Reranker: RerankerConfig{
			Enabled: false,
			Timeout: 10 * time.Second,
		},
		LLM: LLMConfig{
			Provider:          "ollama",
			Model:             "qwen2.5:7b",
			Endpoint:          "http://localhost:11434",
			Temperature:       0.2,
			RequestTimeout:    60 * time.Second,
			TemperatureByColl: map[string]float64{},
		},
		Prompts: PromptsConfig{
			DefaultSystemPrompt: "You are a helpful assistant answering questions using only the supplied context. If the context does not contain the answer, say so.",
			ByCollection:        map[string]string{},
		},
		HTTP: HTTPConfig{
			ListenAddr: ":8080",
		},
		Retry: RetryConfig{
			MaxAttempts:  3,
			InitialDelay: time.Second,
			MaxDelay:     16 * time.Second,
			Multiplier:   2.0,
			Jitter:       true,
		},
		Paths: PathsConfig{
			StateDir:   defaultStateDir(),
			BM25Dir:    filepath.Join(defaultStateDir(), "bm25"),
			VectorDir:  filepath.Join(defaultStateDir(), "vectors"),
			ArchiveDir: filepath.Join(defaultStateDir(), "archive"),
		},
		Logging: logging.Config{
			Level:         "info",
			FilePath:      filepath.Join(defaultStateDir(), "mail2ragd.log"),
			MaxSizeMB:     50,
			MaxFiles:      5,
			WriteToStderr: true,
		},
	}
}

func defaultStateDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".mail2rag")
	}
	return filepath.Join(home, ".mail2rag")
}

// Load reads path as YAML over the defaults, then applies MAIL2RAG_* env
// var overrides (highest precedence), then validates the result.
func Load(path string) (*Config, error) {
	cfg := NewConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("read config file %s: %w", path, err)
			}
		} else if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("MAIL2RAG_IMAP_HOST"); v != "" {
		c.Mail.IMAPHost = v
	}
	if v := os.Getenv("MAIL2RAG_IMAP_USER"); v != "" {
		c.Mail.IMAPUser = v
	}
	if v := os.Getenv("MAIL2RAG_IMAP_PASSWORD"); v != "" {
		c.Mail.IMAPPassword = v
	}
	if v := os.Getenv("MAIL2RAG_SMTP_HOST"); v != "" {
		c.Mail.SMTPHost = v
	}
	if v := os.Getenv("MAIL2RAG_SMTP_USER"); v != "" {
		c.Mail.SMTPUser = v
	}
	if v := os.Getenv("MAIL2RAG_SMTP_PASSWORD"); v != "" {
		c.Mail.SMTPPassword = v
	}
	if v := os.Getenv("MAIL2RAG_POLL_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.Mail.PollInterval = d
		}
	}
	if v := os.Getenv("MAIL2RAG_ROUTING_RULES_PATH"); v != "" {
		c.Routing.RulesPath = v
	}
	if v := os.Getenv("MAIL2RAG_EMBEDDINGS_PROVIDER"); v != "" {
		c.Embeddings.Provider = v
	}
	if v := os.Getenv("MAIL2RAG_EMBEDDINGS_MODEL"); v != "" {
		c.Embeddings.Model = v
	}
	if v := os.Getenv("MAIL2RAG_VECTOR_BACKEND"); v != "" {
		c.Embeddings.VectorBackend = v
	}
	if v := os.Getenv("MAIL2RAG_QDRANT_DSN"); v != "" {
		c.Embeddings.QdrantDSN = v
	}
	if v := os.Getenv("MAIL2RAG_LLM_PROVIDER"); v != "" {
		c.LLM.Provider = v
	}
	if v := os.Getenv("MAIL2RAG_LLM_MODEL"); v != "" {
		c.LLM.Model = v
	}
	if v := os.Getenv("MAIL2RAG_LLM_API_KEY"); v != "" {
		c.LLM.APIKey = v
	}
	if v := os.Getenv("MAIL2RAG_HTTP_LISTEN_ADDR"); v != "" {
		c.HTTP.ListenAddr = v
	}
	if v := os.Getenv("MAIL2RAG_HTTP_API_KEY"); v != "" {
		c.HTTP.APIKey = v
	}
	if v := os.Getenv("MAIL2RAG_STATE_DIR"); v != "" {
		c.Paths.StateDir = v
	}
	if v := os.Getenv("MAIL2RAG_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("MAIL2RAG_WORKER_COUNT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Workers.WorkerCount = n
		}
	}
}

// Validate checks the invariants callers elsewhere rely on without
// re-checking them (bounded queues, positive chunking and search limits,
// valid transport).
func (c *Config) Validate() error {
	if c.Mail.PollInterval <= 0 {
		return fmt.Errorf("mail.poll_interval must be positive")
	}
	if c.Chunking.ChunkSize <= 0 {
		return fmt.Errorf("chunking.chunk_size must be positive")
	}
	if c.Chunking.ChunkOverlap < 0 || c.Chunking.ChunkOverlap >= c.Chunking.ChunkSize {
		return fmt.Errorf("chunking.chunk_overlap must be non-negative and less than chunk_size")
	}
	if c.Search.MaxTopK <= 0 {
		return fmt.Errorf("search.max_top_k must be positive")
	}
	if c.Search.MaxQueryChars <= 0 {
		return fmt.Errorf("search.max_query_chars must be positive")
	}
	if c.Workers.WorkerCount <= 0 {
		return fmt.Errorf("workers.worker_count must be positive")
	}
	if c.Workers.WorkerQueueSize <= 0 {
		return fmt.Errorf("workers.worker_queue_size must be positive")
	}
	switch c.Embeddings.VectorBackend {
	case "hnsw":
	case "qdrant":
		if c.Embeddings.QdrantDSN == "" {
			return fmt.Errorf("embeddings.qdrant_dsn is required when embeddings.vector_backend is qdrant")
		}
	default:
		return fmt.Errorf("embeddings.vector_backend must be hnsw or qdrant, got %s", c.Embeddings.VectorBackend)
	}
	if c.Retry.MaxAttempts < 0 {
		return fmt.Errorf("retry.max_attempts must be non-negative")
	}
	if c.Retry.Multiplier <= 0 {
		return fmt.Errorf("retry.multiplier must be positive")
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.Logging.Level)] {
		return fmt.Errorf("logging.level must be debug, info, warn, or error, got %s", c.Logging.Level)
	}

	return nil
}

// WriteYAML writes the configuration to path as YAML, creating the
// parent directory if needed.
func (c *Config) WriteYAML(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}
