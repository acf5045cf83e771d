// Package config loads the benchmark runner configuration from YAML and
// the environment.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure.
type Config struct {
	ScratchDir  string `yaml:"scratch_dir"`
	KeepScratch bool   `yaml:"keep_scratch"`
	ModelDir    string `yaml:"model_dir"`

	Storage StorageConfig `yaml:"storage"`
	Tools   ToolsConfig   `yaml:"tools"`
	Server  ServerConfig  `yaml:"server"`
	NATS    NATSConfig    `yaml:"nats"`
	Results ResultsConfig `yaml:"results"`
}

// StorageConfig selects and configures the object storage backend.
type StorageConfig struct {
	Backend string   `yaml:"backend"` // local, s3, memory
	Root    string   `yaml:"root"`    // local backend only
	S3      S3Config `yaml:"s3"`
}

// S3Config configures the S3 backend.
type S3Config struct {
	Region    string `yaml:"region"`
	Endpoint  string `yaml:"endpoint"`
	PathStyle bool   `yaml:"path_style"`
}

// ToolsConfig locates the external binaries and data files the
// workloads delegate to.
type ToolsConfig struct {
	Dir        string `yaml:"dir"` // bundle root searched as <dir>/<tool>/<tool>
	FFmpeg     string `yaml:"ffmpeg"`
	Watermark  string `yaml:"watermark"`
	Classifier string `yaml:"classifier"`
	ClassIndex string `yaml:"class_index"`
}

// ServerConfig configures the HTTP endpoint.
type ServerConfig struct {
	Addr  string  `yaml:"addr"`
	RPS   float64 `yaml:"rps"` // 0 disables rate limiting
	Burst int     `yaml:"burst"`
}

// NATSConfig configures the queue worker.
type NATSConfig struct {
	URL     string `yaml:"url"`
	Subject string `yaml:"subject"`
	Queue   string `yaml:"queue"`
}

// ResultsConfig configures where invocation records are persisted.
type ResultsConfig struct {
	Driver string `yaml:"driver"` // sqlite3 or postgres
	DSN    string `yaml:"dsn"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		ScratchDir: os.TempDir(),
		ModelDir:   filepath.Join(os.TempDir(), "sebs-models"),
		Storage: StorageConfig{
			Backend: "local",
			Root:    "buckets",
		},
		Server: ServerConfig{
			Addr:  ":8080",
			Burst: 1,
		},
		NATS: NATSConfig{
			URL:     "nats://localhost:4222",
			Subject: "sebs.invoke",
			Queue:   "sebs-workers",
		},
		Results: ResultsConfig{
			Driver: "sqlite3",
			DSN:    "sebs-results.db",
		},
	}
}

// Load reads path (if non-empty) over the defaults, applies environment
// overrides and validates the result.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}

		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) applyEnv() error {
	c.Storage.Backend = getEnv("SEBS_STORAGE_BACKEND", c.Storage.Backend)
	c.Storage.Root = getEnv("SEBS_STORAGE_ROOT", c.Storage.Root)
	c.Storage.S3.Region = getEnv("SEBS_S3_REGION", c.Storage.S3.Region)
	c.Storage.S3.Endpoint = getEnv("SEBS_S3_ENDPOINT", c.Storage.S3.Endpoint)
	c.ScratchDir = getEnv("SEBS_SCRATCH_DIR", c.ScratchDir)
	c.ModelDir = getEnv("SEBS_MODEL_DIR", c.ModelDir)
	c.NATS.URL = getEnv("SEBS_NATS_URL", c.NATS.URL)
	c.Results.Driver = getEnv("SEBS_RESULTS_DRIVER", c.Results.Driver)
	c.Results.DSN = getEnv("SEBS_RESULTS_DSN", c.Results.DSN)

	if v := os.Getenv("SEBS_KEEP_SCRATCH"); v != "" {
		keep, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("SEBS_KEEP_SCRATCH: %w", err)
		}
		c.KeepScratch = keep
	}

	return nil
}

// Validate checks the fields every command relies on.
func (c *Config) Validate() error {
	switch c.Storage.Backend {
	case "local":
		if c.Storage.Root == "" {
			return fmt.Errorf("storage.root is required for the local backend")
		}
	case "s3", "memory":
	default:
		return fmt.Errorf("unknown storage backend %q (want local, s3 or memory)", c.Storage.Backend)
	}

	switch c.Results.Driver {
	case "sqlite3", "postgres":
	default:
		return fmt.Errorf("unknown results driver %q (want sqlite3 or postgres)", c.Results.Driver)
	}

	if c.Server.RPS < 0 {
		return fmt.Errorf("server.rps must be >= 0, got %v", c.Server.RPS)
	}
	if c.Server.RPS > 0 && c.Server.Burst < 1 {
		return fmt.Errorf("server.burst must be >= 1 when rate limiting, got %d", c.Server.Burst)
	}

	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
