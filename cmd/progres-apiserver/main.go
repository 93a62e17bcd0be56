// Command progres-apiserver serves structure search over HTTP.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/turtacn/progres-go/internal/application/search"
	"github.com/turtacn/progres-go/internal/config"
	"github.com/turtacn/progres-go/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/progres-go/internal/infrastructure/monitoring/prometheus"
	httpapi "github.com/turtacn/progres-go/internal/interfaces/http"
	"github.com/turtacn/progres-go/internal/interfaces/http/handlers"
	"github.com/turtacn/progres-go/internal/interfaces/http/middleware"
)

// Build-time variables injected via ldflags.
var (
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

func main() {
	configPath := flag.String("config", "", "path to configuration file (default: environment only)")
	port := flag.Int("port", 0, "HTTP port (overrides server.port)")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("progres-apiserver %s (commit: %s, built: %s)\n", version, commit, buildDate)
		return
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(2)
	}
	if *port > 0 {
		cfg.Server.Port = *port
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if err := run(ctx, cfg); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config) error {
	output := cfg.Log.Output
	if output == "" {
		output = "stdout"
	}
	logger, err := logging.NewLogger(logging.LogConfig{
		Level:            cfg.Log.Level,
		Format:           cfg.Log.Format,
		OutputPaths:      []string{output},
		EnableCaller:     cfg.Log.EnableCaller,
		EnableStacktrace: cfg.Log.EnableStacktrace,
	})
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()
	logger.Info("Starting progres-apiserver",
		logging.String("version", version),
		logging.Int("port", cfg.Server.Port),
		logging.Model(cfg.Model.Name),
	)

	var collector prometheus.MetricsCollector
	if cfg.Metrics.Enabled {
		collector, err = prometheus.NewMetricsCollector(prometheus.CollectorConfig{
			Namespace:            cfg.Metrics.Namespace,
			EnableProcessMetrics: true,
			EnableGoMetrics:      true,
			ConstLabels:          map[string]string{"version": version},
		}, logger.Named("metrics"))
		if err != nil {
			return err
		}
	}

	start := time.Now()
	rt, err := search.Bootstrap(ctx, cfg, logger, collector)
	if err != nil {
		return err
	}
	defer rt.Close()
	logger.Info("Search service ready",
		logging.Model(rt.Service.Model().String()),
		logging.String("device", rt.Device.String()),
		logging.Duration("startup", time.Since(start)),
	)

	if cfg.Server.WatchDatabases {
		go func() {
			if err := rt.Databases.Watch(ctx, rt.WatchDirs()...); err != nil {
				logger.Warn("Database hot reload disabled", logging.Err(err))
			}
		}()
	}

	var limiter *middleware.TokenBucketLimiter
	if cfg.Server.RateLimit > 0 {
		limiter = middleware.NewTokenBucketLimiter(cfg.Server.RateLimit, cfg.Server.RateBurst, 5*time.Minute)
		defer limiter.Stop()
	}

	defaults := search.SearchParams{
		Database:      cfg.Search.Database,
		Format:        cfg.Search.Format,
		MinSimilarity: cfg.Search.MinSimilarity,
		MaxHits:       cfg.Search.MaxHits,
		Split:         cfg.Domains.Split,
	}
	routerCfg := httpapi.RouterConfig{
		Mode:          cfg.Server.Mode,
		SearchHandler: handlers.NewSearchHandler(rt.Service, defaults, rt.Databases.IsAlias, logger.Named("http")),
		HealthHandler: handlers.NewHealthHandler(version, rt.Service.Model().String(), healthCheckers(rt, cfg)...),
		Logger:        logger.Named("http"),
		Metrics:       rt.Metrics,
		Collector:     collector,
		MaxBodySize:   cfg.Server.MaxBodySize,
		CORSOrigins:   cfg.Server.CORSOrigins,
	}
	if limiter != nil {
		routerCfg.RateLimiter = limiter
	}
	srv := httpapi.NewServer(cfg.Server, httpapi.NewRouter(routerCfg), logger)

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	logger.Info("Shutdown signal received")
	return srv.Stop(context.Background())
}
