package config

import (
	"os"
	"path/filepath"
	"runtime"
	"time"
)

// ─────────────────────────────────────────────────────────────────────────────
// Default value constants
// ─────────────────────────────────────────────────────────────────────────────

const (
	DefaultModelName = "progres-v0.2"
	DefaultDevice    = "cpu"
	DefaultBatchSize = 32

	DefaultDatabase      = "scope95"
	DefaultMinSimilarity = 0.8
	DefaultMaxHits       = 100
	DefaultFormat        = "guess"

	// DefaultMaxStructureSize matches structure.DefaultMaxDecompressedSize.
	DefaultMaxStructureSize int64 = 1 << 30

	DefaultSegmenter         = "contact"
	DefaultMinDomainResidues = 20
	DefaultMinSegmentSize    = 40
	DefaultMaxContactRatio   = 0.3

	DefaultCacheTTL       = 24 * time.Hour
	DefaultCacheKeyPrefix = "progres:emb:"

	DefaultServerPort = 8080
	DefaultServerMode = "release"

	DefaultLogLevel  = "info"
	DefaultLogFormat = "console"

	DefaultMetricsNamespace = "progres"
)

// DefaultDataDir returns $PROGRES_DATA_DIR's fallback: ~/.progres, or
// ./progres-data when the home directory is unknown.
func DefaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return "progres-data"
	}
	return filepath.Join(home, ".progres")
}

// ApplyDefaults fills every zero-value field in cfg with the default.
// Fields that have already been set are left unchanged so that explicit
// configuration always wins. It must run after unmarshalling and before
// Validate.
func ApplyDefaults(cfg *Config) {
	if cfg == nil {
		return
	}

	if cfg.DataDir == "" {
		cfg.DataDir = DefaultDataDir()
	}

	// ── Model ─────────────────────────────────────────────────────────────────
	if cfg.Model.Name == "" {
		cfg.Model.Name = DefaultModelName
	}
	if cfg.Model.Device == "" {
		cfg.Model.Device = DefaultDevice
	}
	if cfg.Model.Workers == 0 {
		cfg.Model.Workers = runtime.GOMAXPROCS(0)
	}
	if cfg.Model.BatchSize == 0 {
		cfg.Model.BatchSize = DefaultBatchSize
	}

	// ── Search ────────────────────────────────────────────────────────────────
	// MinSimilarity 0 is a legitimate explicit value but indistinguishable
	// from unset here; the loader seeds it through viper.SetDefault instead.
	if cfg.Search.Database == "" {
		cfg.Search.Database = DefaultDatabase
	}
	if cfg.Search.MaxHits == 0 {
		cfg.Search.MaxHits = DefaultMaxHits
	}
	if cfg.Search.MaxStructureSize == 0 {
		cfg.Search.MaxStructureSize = DefaultMaxStructureSize
	}
	if cfg.Search.Format == "" {
		cfg.Search.Format = DefaultFormat
	}

	// ── Domains ───────────────────────────────────────────────────────────────
	if cfg.Domains.Segmenter == "" {
		cfg.Domains.Segmenter = DefaultSegmenter
	}
	if cfg.Domains.MinDomainResidues == 0 {
		cfg.Domains.MinDomainResidues = DefaultMinDomainResidues
	}
	if cfg.Domains.MinSegmentSize == 0 {
		cfg.Domains.MinSegmentSize = DefaultMinSegmentSize
	}
	if cfg.Domains.MaxContactRatio == 0 {
		cfg.Domains.MaxContactRatio = DefaultMaxContactRatio
	}
	if cfg.Domains.CommandTimeout == 0 {
		cfg.Domains.CommandTimeout = 5 * time.Minute
	}

	// ── Cache ─────────────────────────────────────────────────────────────────
	if cfg.Cache.TTL == 0 {
		cfg.Cache.TTL = DefaultCacheTTL
	}
	if cfg.Cache.KeyPrefix == "" {
		cfg.Cache.KeyPrefix = DefaultCacheKeyPrefix
	}
	if cfg.Cache.PoolSize == 0 {
		cfg.Cache.PoolSize = 10
	}
	if cfg.Cache.DialTimeout == 0 {
		cfg.Cache.DialTimeout = 5 * time.Second
	}

	// ── Storage / Postgres ────────────────────────────────────────────────────
	if cfg.Storage.CacheDir == "" {
		cfg.Storage.CacheDir = filepath.Join(cfg.DataDir, "cache")
	}
	if cfg.Postgres.MaxConns == 0 {
		cfg.Postgres.MaxConns = 10
	}

	// ── Server ────────────────────────────────────────────────────────────────
	if cfg.Server.Port == 0 {
		cfg.Server.Port = DefaultServerPort
	}
	if cfg.Server.Mode == "" {
		cfg.Server.Mode = DefaultServerMode
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = 30 * time.Second
	}
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = 5 * time.Minute
	}
	if cfg.Server.MaxBodySize == 0 {
		cfg.Server.MaxBodySize = 32 << 20
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = 15 * time.Second
	}
	if cfg.Server.RateLimit > 0 && cfg.Server.RateBurst == 0 {
		cfg.Server.RateBurst = int(cfg.Server.RateLimit) + 1
	}

	// ── Log / Metrics ─────────────────────────────────────────────────────────
	if cfg.Log.Level == "" {
		cfg.Log.Level = DefaultLogLevel
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = DefaultLogFormat
	}
	if cfg.Log.Output == "" {
		cfg.Log.Output = "stderr"
	}
	if cfg.Metrics.Namespace == "" {
		cfg.Metrics.Namespace = DefaultMetricsNamespace
	}
}
