// Package config provides configuration loading and management for ScopeGuard.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete ScopeGuard configuration
type Config struct {
	Model     ModelConfig     `yaml:"model"`
	Repo      RepoConfig      `yaml:"repo"`
	Store     StoreConfig     `yaml:"store"`
	Retrieval RetrievalConfig `yaml:"retrieval"`
	Judge     JudgeConfig     `yaml:"judge"`
	NATS      NATSConfig      `yaml:"nats"`
	Metrics   MetricsConfig   `yaml:"metrics"`
}

// ModelConfig configures the LLM model settings
type ModelConfig struct {
	// Default is the default judge model to use (e.g., "qwen2.5-coder:32b")
	Default string `yaml:"default"`
	// Endpoint is the OpenAI-compatible API endpoint (default: http://localhost:11434/v1)
	Endpoint string `yaml:"endpoint"`
	// Temperature controls randomness (0.0-1.0, default: 0.2)
	Temperature float64 `yaml:"temperature"`
	// Timeout is the maximum time to wait for model responses
	Timeout time.Duration `yaml:"timeout"`
	// RegistryPath points at an optional JSON endpoint registry file
	RegistryPath string `yaml:"registry_path"`
	// SmallMarkers lists substrings that mark a model ID as a small model
	SmallMarkers []string `yaml:"small_markers"`
}

// RepoConfig configures the default repository settings
type RepoConfig struct {
	// Path is the repository root path (auto-detected from git if empty)
	Path string `yaml:"path"`
}

// StoreConfig configures the design document store
type StoreConfig struct {
	// Path is the SQLite database file path
	Path string `yaml:"path"`
	// DocsDir is the directory holding design documents to index
	DocsDir string `yaml:"docs_dir"`
	// Watch enables automatic reindexing when documents change
	Watch bool `yaml:"watch"`
	// Debounce is how long to wait for more changes before reindexing
	Debounce time.Duration `yaml:"debounce"`
}

// RetrievalConfig configures hybrid evidence retrieval
type RetrievalConfig struct {
	// TopK is the vector-similarity result count per query
	TopK int `yaml:"top_k"`
	// MaxHops bounds graph traversal distance from seed nodes
	MaxHops int `yaml:"max_hops"`
	// VectorWeight weights the vector-similarity score in the merge
	VectorWeight float64 `yaml:"vector_weight"`
	// GraphWeight weights graph proximity in the merge
	GraphWeight float64 `yaml:"graph_weight"`
	// RelationalWeight weights relational recency rank in the merge
	RelationalWeight float64 `yaml:"relational_weight"`
}

// JudgeConfig configures alignment judgment
type JudgeConfig struct {
	// MaxRetries is the number of repair cycles after malformed model output
	MaxRetries int `yaml:"max_retries"`
	// ApprovalThreshold is the score below which approval is required
	ApprovalThreshold float64 `yaml:"approval_threshold"`
}

// NATSConfig configures the check-queue connection
type NATSConfig struct {
	// URL is the NATS server URL (empty = queue worker disabled)
	URL string `yaml:"url"`
	// Stream is the JetStream stream name for check requests
	Stream string `yaml:"stream"`
	// Subject is the subject check requests arrive on
	Subject string `yaml:"subject"`
	// Bucket is the KV bucket for check state
	Bucket string `yaml:"bucket"`
}

// MetricsConfig configures the Prometheus metrics listener
type MetricsConfig struct {
	// Enabled controls whether the /metrics listener starts in serve mode
	Enabled bool `yaml:"enabled"`
	// Listen is the metrics listener address
	Listen string `yaml:"listen"`
}

// DefaultConfig returns a Config with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Model: ModelConfig{
			Default:      "qwen2.5-coder:32b",
			Endpoint:     "http://localhost:11434/v1",
			Temperature:  0.2,
			Timeout:      2 * time.Minute,
			SmallMarkers: []string{"qwen", "llama-3-8b", "phi", "mistral-7b"},
		},
		Repo: RepoConfig{
			Path: "", // Auto-detect
		},
		Store: StoreConfig{
			Path:     "scopeguard.db",
			DocsDir:  "docs/design",
			Watch:    false,
			Debounce: 500 * time.Millisecond,
		},
		Retrieval: RetrievalConfig{
			TopK:             5,
			MaxHops:          2,
			VectorWeight:     1,
			GraphWeight:      1,
			RelationalWeight: 1,
		},
		Judge: JudgeConfig{
			MaxRetries:        2,
			ApprovalThreshold: 0.6,
		},
		NATS: NATSConfig{
			URL:     "",
			Stream:  "SCOPEGUARD",
			Subject: "scopeguard.check.request",
			Bucket:  "scopeguard-checks",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Listen:  ":9477",
		},
	}
}

// Validate checks that the configuration is valid
func (c *Config) Validate() error {
	if c.Model.Default == "" {
		return fmt.Errorf("model.default is required")
	}
	if c.Model.Endpoint == "" {
		return fmt.Errorf("model.endpoint is required")
	}
	if c.Model.Temperature < 0 || c.Model.Temperature > 1 {
		return fmt.Errorf("model.temperature must be between 0 and 1")
	}
	if c.Store.Path == "" {
		return fmt.Errorf("store.path is required")
	}
	if c.Retrieval.TopK <= 0 {
		return fmt.Errorf("retrieval.top_k must be positive")
	}
	if c.Retrieval.MaxHops < 0 {
		return fmt.Errorf("retrieval.max_hops must not be negative")
	}
	if c.Retrieval.VectorWeight < 0 || c.Retrieval.GraphWeight < 0 || c.Retrieval.RelationalWeight < 0 {
		return fmt.Errorf("retrieval weights must not be negative")
	}
	if c.Retrieval.VectorWeight+c.Retrieval.GraphWeight+c.Retrieval.RelationalWeight == 0 {
		return fmt.Errorf("at least one retrieval weight must be positive")
	}
	if c.Judge.MaxRetries < 0 {
		return fmt.Errorf("judge.max_retries must not be negative")
	}
	if c.Judge.ApprovalThreshold < 0 || c.Judge.ApprovalThreshold > 1 {
		return fmt.Errorf("judge.approval_threshold must be between 0 and 1")
	}
	return nil
}

// LoadFromFile loads configuration from a YAML file
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := DefaultConfig()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return config, nil
}

// SaveToFile saves configuration to a YAML file
func (c *Config) SaveToFile(path string) error {
	// Ensure parent directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Merge merges another config into this one (other takes precedence for non-zero values)
func (c *Config) Merge(other *Config) {
	if other == nil {
		return
	}

	// Model
	if other.Model.Default != "" {
		c.Model.Default = other.Model.Default
	}
	if other.Model.Endpoint != "" {
		c.Model.Endpoint = other.Model.Endpoint
	}
	if other.Model.Temperature != 0 {
		c.Model.Temperature = other.Model.Temperature
	}
	if other.Model.Timeout != 0 {
		c.Model.Timeout = other.Model.Timeout
	}
	if other.Model.RegistryPath != "" {
		c.Model.RegistryPath = other.Model.RegistryPath
	}
	if len(other.Model.SmallMarkers) > 0 {
		c.Model.SmallMarkers = other.Model.SmallMarkers
	}

	// Repo
	if other.Repo.Path != "" {
		c.Repo.Path = other.Repo.Path
	}

	// Store
	if other.Store.Path != "" {
		c.Store.Path = other.Store.Path
	}
	if other.Store.DocsDir != "" {
		c.Store.DocsDir = other.Store.DocsDir
	}
	if other.Store.Watch {
		c.Store.Watch = true
	}
	if other.Store.Debounce != 0 {
		c.Store.Debounce = other.Store.Debounce
	}

	// Retrieval
	if other.Retrieval.TopK != 0 {
		c.Retrieval.TopK = other.Retrieval.TopK
	}
	if other.Retrieval.MaxHops != 0 {
		c.Retrieval.MaxHops = other.Retrieval.MaxHops
	}
	if other.Retrieval.VectorWeight != 0 {
		c.Retrieval.VectorWeight = other.Retrieval.VectorWeight
	}
	if other.Retrieval.GraphWeight != 0 {
		c.Retrieval.GraphWeight = other.Retrieval.GraphWeight
	}
	if other.Retrieval.RelationalWeight != 0 {
		c.Retrieval.RelationalWeight = other.Retrieval.RelationalWeight
	}

	// Judge
	if other.Judge.MaxRetries != 0 {
		c.Judge.MaxRetries = other.Judge.MaxRetries
	}
	if other.Judge.ApprovalThreshold != 0 {
		c.Judge.ApprovalThreshold = other.Judge.ApprovalThreshold
	}

	// NATS
	if other.NATS.URL != "" {
		c.NATS.URL = other.NATS.URL
	}
	if other.NATS.Stream != "" {
		c.NATS.Stream = other.NATS.Stream
	}
	if other.NATS.Subject != "" {
		c.NATS.Subject = other.NATS.Subject
	}
	if other.NATS.Bucket != "" {
		c.NATS.Bucket = other.NATS.Bucket
	}

	// Metrics
	if other.Metrics.Listen != "" {
		c.Metrics.Listen = other.Metrics.Listen
	}
}
