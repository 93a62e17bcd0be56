package search

import (
	"context"
	"path/filepath"

	"github.com/turtacn/progres-go/internal/config"
	"github.com/turtacn/progres-go/internal/domain/domainsplit"
	"github.com/turtacn/progres-go/internal/domain/embedding"
	"github.com/turtacn/progres-go/internal/domain/structure"
	"github.com/turtacn/progres-go/internal/infrastructure/database/postgres"
	"github.com/turtacn/progres-go/internal/infrastructure/database/redis"
	"github.com/turtacn/progres-go/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/progres-go/internal/infrastructure/monitoring/prometheus"
	"github.com/turtacn/progres-go/internal/infrastructure/storage/minio"
	"github.com/turtacn/progres-go/internal/infrastructure/storage/sqlite"
	"github.com/turtacn/progres-go/internal/intelligence/common"
	"github.com/turtacn/progres-go/internal/intelligence/progres_gnn"
	"github.com/turtacn/progres-go/pkg/errors"
)

// Runtime is a fully wired service plus the resources that must be released
// when the process ends.
type Runtime struct {
	Service   Service
	Databases *DatabaseCache
	Metrics   *prometheus.AppMetrics
	Device    common.DeviceConfig
	// Probes report whether optional backends are reachable, keyed by
	// backend name.
	Probes map[string]func(context.Context) error

	dataDir string
	closers []func()
}

// WatchDirs are the directories holding the built-in database files.
func (r *Runtime) WatchDirs() []string {
	return []string{filepath.Join(r.dataDir, "databases", embedding.DatabaseVersionDir)}
}

// Close releases connections in reverse order of creation.
func (r *Runtime) Close() {
	for i := len(r.closers) - 1; i >= 0; i-- {
		r.closers[i]()
	}
	r.closers = nil
}

// Bootstrap builds the service from cfg. Model and configuration errors are
// returned before anything is parsed. collector may be nil, in which case
// metrics are discarded.
func Bootstrap(ctx context.Context, cfg *config.Config, log logging.Logger, collector prometheus.MetricsCollector) (*Runtime, error) {
	rt := &Runtime{dataDir: cfg.DataDir, Probes: map[string]func(context.Context) error{}}
	ok := false
	defer func() {
		if !ok {
			rt.Close()
		}
	}()

	inference := common.NewNoopInferenceMetrics()
	rt.Metrics = prometheus.NewNopAppMetrics()
	if collector != nil {
		im, err := common.NewPrometheusInferenceMetrics(collector.Registerer())
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "registering inference metrics")
		}
		inference = im
		rt.Metrics = prometheus.NewAppMetrics(collector)
	}

	device, err := common.SelectDevice(cfg.Model.Device, cfg.Model.Workers, cfg.Model.BatchSize)
	if err != nil {
		return nil, err
	}
	rt.Device = device

	models := common.NewModelRegistry(cfg.DataDir)
	for _, m := range cfg.Model.Registry {
		if err := models.Register(m.Name, m.Checkpoint); err != nil {
			return nil, err
		}
	}
	model, err := progres_gnn.LoadModel(ctx, models, cfg.Model.Name, device,
		progres_gnn.WithLogger(log.Named("model")),
		progres_gnn.WithMetrics(inference))
	if err != nil {
		return nil, err
	}

	seg, err := newSegmenter(cfg.Domains)
	if err != nil {
		return nil, err
	}
	splitter := domainsplit.NewFallbackSplitter(seg, cfg.Domains.MinDomainResidues, log.Named("domains"))

	store, closeStores, err := OpenStores(ctx, cfg, log)
	if err != nil {
		return nil, err
	}
	rt.closers = append(rt.closers, closeStores)
	if p, ok := store.Postgres.(pinger); ok {
		rt.Probes["postgres"] = p.Ping
	}
	registry := embedding.NewRegistry(cfg.DataDir)
	for alias, target := range cfg.Search.Aliases {
		if err := registry.Register(alias, target); err != nil {
			return nil, err
		}
	}
	rt.Databases = NewDatabaseCache(registry, store, log.Named("databases"), rt.Metrics)

	deps := Deps{
		Embedder:           model,
		Splitter:           splitter,
		Databases:          rt.Databases,
		Store:              store,
		Metrics:            rt.Metrics,
		Logger:             log,
		BatchSize:          device.BatchSize,
		AllowModelMismatch: cfg.Search.AllowModelMismatch,
		Loader:             structure.Loader{MaxDecompressedSize: cfg.Search.MaxStructureSize},
	}
	if cfg.Cache.Enabled {
		if cache := rt.newCache(cfg.Cache, log); cache != nil {
			deps.Cache = cache
		}
	}

	svc, err := NewService(deps)
	if err != nil {
		return nil, err
	}
	rt.Service = svc
	ok = true
	return rt, nil
}

type pinger interface {
	Ping(ctx context.Context) error
}

func newSegmenter(cfg config.DomainsConfig) (domainsplit.Segmenter, error) {
	switch cfg.Segmenter {
	case "", "contact":
		return domainsplit.NewContactSegmenter(cfg.MinSegmentSize, cfg.MaxContactRatio), nil
	case "external":
		return &domainsplit.ExternalSegmenter{Command: cfg.Command, Timeout: cfg.CommandTimeout}, nil
	}
	return nil, errors.Newf(errors.ErrCodeInvalidParam, "unknown segmenter %q", cfg.Segmenter).
		WithDetail("expected contact or external")
}

// OpenStores configures the file store and, when configured, object storage
// and Postgres. The returned function releases their connections.
func OpenStores(ctx context.Context, cfg *config.Config, log logging.Logger) (*StoreRouter, func(), error) {
	files := sqlite.NewStore()
	router := &StoreRouter{File: files}
	closeFn := func() {}

	if cfg.Storage.Endpoint != "" {
		client, err := minio.NewMinIOClient(&minio.MinIOConfig{
			Endpoint:        cfg.Storage.Endpoint,
			AccessKeyID:     cfg.Storage.AccessKey,
			SecretAccessKey: cfg.Storage.SecretKey,
			Region:          cfg.Storage.Region,
			UseSSL:          cfg.Storage.UseSSL,
		}, log.Named("minio"))
		if err != nil {
			return nil, nil, err
		}
		cacheDir := cfg.Storage.CacheDir
		if cacheDir == "" {
			cacheDir = filepath.Join(cfg.DataDir, "cache")
		}
		router.S3 = minio.NewDatabaseStore(client, files, cacheDir, log.Named("minio"))
	}

	if cfg.Postgres.DSN != "" {
		if cfg.Postgres.AutoMigrate {
			if err := postgres.RunMigrations(cfg.Postgres.DSN, log.Named("postgres")); err != nil {
				return nil, nil, err
			}
		}
		pool, err := postgres.NewConnectionPool(ctx, cfg.Postgres, log.Named("postgres"))
		if err != nil {
			return nil, nil, err
		}
		closeFn = pool.Close
		router.Postgres = postgres.NewDatabaseStore(pool, log.Named("postgres"))
	}
	return router, closeFn, nil
}

// newCache connects the embedding cache. An unreachable Redis disables the
// cache with a warning rather than failing the run.
func (rt *Runtime) newCache(cfg config.CacheConfig, log logging.Logger) *redis.EmbeddingCache {
	client, err := redis.NewClient(cfg, log.Named("redis"))
	if err != nil {
		log.Warn("Embedding cache unavailable, continuing without it", logging.Err(err))
		return nil
	}
	rt.closers = append(rt.closers, func() { _ = client.Close() })
	rt.Probes["redis"] = client.Ping

	opts := []redis.CacheOption{}
	if cfg.TTL > 0 {
		opts = append(opts, redis.WithTTL(cfg.TTL))
	}
	if cfg.KeyPrefix != "" {
		opts = append(opts, redis.WithPrefix(cfg.KeyPrefix))
	}
	return redis.NewEmbeddingCache(client, log.Named("cache"), opts...)
}
