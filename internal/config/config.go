// Package config defines all configuration structures for progres-go.
// No I/O or parsing logic lives here, only plain data types and validation.
package config

import (
	"fmt"
	"strings"
	"time"
)

// ─────────────────────────────────────────────────────────────────────────────
// Sub-configuration structs
// ─────────────────────────────────────────────────────────────────────────────

// ModelEntry registers an additional embedding model checkpoint.
type ModelEntry struct {
	Name       string `mapstructure:"name"`
	Checkpoint string `mapstructure:"checkpoint"`
}

// ModelConfig selects the embedding model and its execution resources.
type ModelConfig struct {
	Name      string       `mapstructure:"name"`
	Device    string       `mapstructure:"device"` // "cpu" | "cuda[:n]" | "mps"
	Workers   int          `mapstructure:"workers"`
	BatchSize int          `mapstructure:"batch_size"`
	Registry  []ModelEntry `mapstructure:"registry"`
}

// SearchConfig holds default search parameters. CLI flags override them.
type SearchConfig struct {
	Database           string  `mapstructure:"database"`
	MinSimilarity      float64 `mapstructure:"min_similarity"`
	MaxHits            int     `mapstructure:"max_hits"`
	Format             string  `mapstructure:"format"`
	AllowModelMismatch bool    `mapstructure:"allow_model_mismatch"`
	MaxStructureSize   int64   `mapstructure:"max_structure_size"` // bytes a gzipped structure may expand to

	// Aliases adds database names next to the built-in ones. The HTTP API
	// only accepts aliases and the default database.
	Aliases map[string]string `mapstructure:"aliases"`
}

// DomainsConfig controls domain segmentation.
type DomainsConfig struct {
	Split             bool          `mapstructure:"split"`
	Segmenter         string        `mapstructure:"segmenter"` // "contact" | "external"
	MinDomainResidues int           `mapstructure:"min_domain_residues"`
	MinSegmentSize    int           `mapstructure:"min_segment_size"`
	MaxContactRatio   float64       `mapstructure:"max_contact_ratio"`
	Command           string        `mapstructure:"command"`
	CommandTimeout    time.Duration `mapstructure:"command_timeout"`
}

// LogConfig holds structured-logging parameters.
type LogConfig struct {
	Level            string `mapstructure:"level"`  // "debug" | "info" | "warn" | "error"
	Format           string `mapstructure:"format"` // "json" | "console"
	Output           string `mapstructure:"output"`
	EnableCaller     bool   `mapstructure:"enable_caller"`
	EnableStacktrace bool   `mapstructure:"enable_stacktrace"`
}

// CacheConfig holds the optional Redis embedding cache parameters.
type CacheConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	Addr         string        `mapstructure:"addr"`
	Password     string        `mapstructure:"password"`
	DB           int           `mapstructure:"db"`
	PoolSize     int           `mapstructure:"pool_size"`
	DialTimeout  time.Duration `mapstructure:"dial_timeout"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	TTL          time.Duration `mapstructure:"ttl"`
	KeyPrefix    string        `mapstructure:"key_prefix"`
}

// StorageConfig holds MinIO / S3-compatible object-storage parameters used
// for s3:// database references.
type StorageConfig struct {
	Endpoint  string `mapstructure:"endpoint"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	Region    string `mapstructure:"region"`
	UseSSL    bool   `mapstructure:"use_ssl"`
	CacheDir  string `mapstructure:"cache_dir"`
}

// PostgresConfig holds the connection for pg:<collection> databases.
type PostgresConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	AutoMigrate     bool          `mapstructure:"auto_migrate"`
}

// ServerConfig holds HTTP search service tunables.
type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	Mode            string        `mapstructure:"mode"` // "debug" | "release" | "test"
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	MaxBodySize     int64         `mapstructure:"max_body_size"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	WatchDatabases  bool          `mapstructure:"watch_databases"`
	RateLimit       float64       `mapstructure:"rate_limit"` // requests per second per client; 0 disables
	RateBurst       int           `mapstructure:"rate_burst"`
	CORSOrigins     []string      `mapstructure:"cors_origins"`
}

// MetricsConfig controls Prometheus metric export.
type MetricsConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Namespace string `mapstructure:"namespace"`
	File      string `mapstructure:"file"`
}

// ─────────────────────────────────────────────────────────────────────────────
// Root Config
// ─────────────────────────────────────────────────────────────────────────────

// Config is the root configuration structure.
type Config struct {
	DataDir  string         `mapstructure:"data_dir"`
	Model    ModelConfig    `mapstructure:"model"`
	Search   SearchConfig   `mapstructure:"search"`
	Domains  DomainsConfig  `mapstructure:"domains"`
	Log      LogConfig      `mapstructure:"log"`
	Cache    CacheConfig    `mapstructure:"cache"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Postgres PostgresConfig `mapstructure:"postgres"`
	Server   ServerConfig   `mapstructure:"server"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
}

// ─────────────────────────────────────────────────────────────────────────────
// Validation
// ─────────────────────────────────────────────────────────────────────────────

// Validate performs semantic validation of the fully-populated Config.
// It returns the first error encountered.
func (c *Config) Validate() error {
	if c.DataDir == "" {
		return fmt.Errorf("config: data_dir is required")
	}

	// Model
	if c.Model.Name == "" {
		return fmt.Errorf("config: model.name is required")
	}
	if c.Model.Workers < 1 {
		return fmt.Errorf("config: model.workers must be ≥ 1, got %d", c.Model.Workers)
	}
	if c.Model.BatchSize < 1 {
		return fmt.Errorf("config: model.batch_size must be ≥ 1, got %d", c.Model.BatchSize)
	}
	for i, e := range c.Model.Registry {
		if e.Name == "" || e.Checkpoint == "" {
			return fmt.Errorf("config: model.registry[%d] needs both name and checkpoint", i)
		}
	}

	// Search
	if c.Search.MinSimilarity < 0 || c.Search.MinSimilarity > 1 {
		return fmt.Errorf("config: search.min_similarity %v is out of range [0, 1]", c.Search.MinSimilarity)
	}
	for alias, target := range c.Search.Aliases {
		if strings.TrimSpace(alias) == "" || strings.TrimSpace(target) == "" {
			return fmt.Errorf("config: search.aliases entries need both a name and a target")
		}
	}
	if c.Search.MaxStructureSize < 0 {
		return fmt.Errorf("config: search.max_structure_size must not be negative")
	}
	if c.Search.MaxHits < 1 {
		return fmt.Errorf("config: search.max_hits must be ≥ 1, got %d", c.Search.MaxHits)
	}

	// Domains
	switch c.Domains.Segmenter {
	case "contact":
	case "external":
		if !strings.Contains(c.Domains.Command, "{input}") {
			return fmt.Errorf("config: domains.command must contain an {input} placeholder")
		}
	default:
		return fmt.Errorf("config: domains.segmenter %q is invalid; expected contact|external", c.Domains.Segmenter)
	}
	if c.Domains.MinDomainResidues < 1 {
		return fmt.Errorf("config: domains.min_domain_residues must be ≥ 1, got %d", c.Domains.MinDomainResidues)
	}

	// Cache
	if c.Cache.Enabled && c.Cache.Addr == "" {
		return fmt.Errorf("config: cache.addr is required when the cache is enabled")
	}

	// Server
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("config: server.port %d is out of range [1, 65535]", c.Server.Port)
	}
	switch c.Server.Mode {
	case "debug", "release", "test":
	default:
		return fmt.Errorf("config: server.mode %q is invalid; expected debug|release|test", c.Server.Mode)
	}
	if c.Server.RateLimit < 0 {
		return fmt.Errorf("config: server.rate_limit must not be negative")
	}

	// Log
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("config: log.level %q is invalid; expected debug|info|warn|error", c.Log.Level)
	}
	switch c.Log.Format {
	case "json", "console":
	default:
		return fmt.Errorf("config: log.format %q is invalid; expected json|console", c.Log.Format)
	}

	return nil
}
