package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// envPrefix is the environment variable prefix used by all settings.
const envPrefix = "PROGRES"

// newViper builds a pre-configured Viper instance: YAML file type, PROGRES_
// env prefix, automatic env binding, and a key replacer that maps "." to "_"
// so that nested keys like "search.max_hits" resolve to
// "PROGRES_SEARCH_MAX_HITS".
func newViper() *viper.Viper {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix(envPrefix)
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// AutomaticEnv only resolves keys viper already knows about; seeding the
	// defaults here also makes every PROGRES_* variable visible to Unmarshal.
	v.SetDefault("data_dir", "")
	v.SetDefault("model.name", DefaultModelName)
	v.SetDefault("model.device", DefaultDevice)
	v.SetDefault("model.workers", 0)
	v.SetDefault("model.batch_size", DefaultBatchSize)
	v.SetDefault("search.database", DefaultDatabase)
	v.SetDefault("search.min_similarity", DefaultMinSimilarity)
	v.SetDefault("search.max_hits", DefaultMaxHits)
	v.SetDefault("search.format", DefaultFormat)
	v.SetDefault("search.allow_model_mismatch", false)
	v.SetDefault("search.max_structure_size", DefaultMaxStructureSize)
	v.SetDefault("domains.split", false)
	v.SetDefault("domains.segmenter", DefaultSegmenter)
	v.SetDefault("domains.command", "")
	v.SetDefault("domains.min_domain_residues", DefaultMinDomainResidues)
	v.SetDefault("log.level", DefaultLogLevel)
	v.SetDefault("log.format", DefaultLogFormat)
	v.SetDefault("cache.enabled", false)
	v.SetDefault("cache.addr", "")
	v.SetDefault("storage.endpoint", "")
	v.SetDefault("storage.access_key", "")
	v.SetDefault("storage.secret_key", "")
	v.SetDefault("postgres.dsn", "")
	v.SetDefault("postgres.auto_migrate", true)
	v.SetDefault("server.port", DefaultServerPort)
	v.SetDefault("server.watch_databases", true)
	v.SetDefault("server.mode", DefaultServerMode)
	v.SetDefault("server.rate_limit", 0.0)
	v.SetDefault("server.rate_burst", 0)
	v.SetDefault("server.cors_origins", []string{})
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.file", "")
	return v
}

// Load reads the YAML file at configPath, merges PROGRES_* environment
// overrides, applies defaults for unset fields, and validates the result.
// An empty configPath loads from the environment only.
func Load(configPath string) (*Config, error) {
	if configPath == "" {
		return LoadFromEnv()
	}
	v := newViper()
	v.SetConfigFile(configPath)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("config: failed to read config file %q: %w", configPath, err)
	}

	return unmarshalAndFinalize(v)
}

// LoadFromEnv builds a Config entirely from PROGRES_* environment variables.
//
//	PROGRES_<SECTION>_<FIELD>   e.g.  PROGRES_DATA_DIR, PROGRES_MODEL_DEVICE
func LoadFromEnv() (*Config, error) {
	return unmarshalAndFinalize(newViper())
}

func unmarshalAndFinalize(v *viper.Viper) (*Config, error) {
	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("config: failed to unmarshal configuration: %w", err)
	}

	ApplyDefaults(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: validation failed: %w", err)
	}

	return cfg, nil
}

// MustLoad is Load that panics on any error.
func MustLoad(configPath string) *Config {
	cfg, err := Load(configPath)
	if err != nil {
		panic(fmt.Sprintf("config: MustLoad failed: %v", err))
	}
	return cfg
}
