package main

import (
	"context"
	"sort"

	"github.com/turtacn/progres-go/internal/application/search"
	"github.com/turtacn/progres-go/internal/config"
	"github.com/turtacn/progres-go/internal/interfaces/http/handlers"
)

// databaseChecker reports ready once the default database loads. The load
// is cached, so later probes are cheap.
type databaseChecker struct {
	cache *search.DatabaseCache
	ref   string
}

func (c databaseChecker) Name() string { return "database:" + c.ref }

func (c databaseChecker) Check(ctx context.Context) error {
	_, err := c.cache.Get(ctx, c.ref)
	return err
}

// healthCheckers probes the default database and every connected backend.
func healthCheckers(rt *search.Runtime, cfg *config.Config) []handlers.HealthChecker {
	var checks []handlers.HealthChecker
	if cfg.Search.Database != "" {
		checks = append(checks, databaseChecker{cache: rt.Databases, ref: cfg.Search.Database})
	}
	names := make([]string, 0, len(rt.Probes))
	for name := range rt.Probes {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		checks = append(checks, handlers.CheckFunc{Label: name, Fn: rt.Probes[name]})
	}
	return checks
}
