package search

import (
	"context"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/turtacn/progres-go/internal/domain/embedding"
	"github.com/turtacn/progres-go/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/progres-go/internal/infrastructure/monitoring/prometheus"
	"github.com/turtacn/progres-go/pkg/errors"
)

// DatabaseInfo describes a loaded database.
type DatabaseInfo struct {
	Name     string    `json:"name"`
	Location string    `json:"location"`
	DBID     string    `json:"db_id"`
	Model    string    `json:"model"`
	Dim      int       `json:"dim"`
	Entries  int       `json:"entries"`
	LoadedAt time.Time `json:"loaded_at"`
}

type cachedDB struct {
	ready    chan struct{}
	loc      embedding.Location
	db       *embedding.Database
	err      error
	loadedAt time.Time
}

// DatabaseCache loads each database at most once and keeps it for the life of
// the process or until Invalidate drops it. Concurrent requests for the same
// reference wait for the single load in flight.
type DatabaseCache struct {
	registry *embedding.Registry
	store    embedding.Store
	logger   logging.Logger
	metrics  *prometheus.AppMetrics

	mu      sync.Mutex
	entries map[string]*cachedDB
}

func NewDatabaseCache(registry *embedding.Registry, store embedding.Store, logger logging.Logger, metrics *prometheus.AppMetrics) *DatabaseCache {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	if metrics == nil {
		metrics = prometheus.NewNopAppMetrics()
	}
	return &DatabaseCache{
		registry: registry,
		store:    store,
		logger:   logger,
		metrics:  metrics,
		entries:  make(map[string]*cachedDB),
	}
}

// IsAlias reports whether ref names a registered database alias rather than
// a path or URI.
func (c *DatabaseCache) IsAlias(ref string) bool { return c.registry.IsAlias(ref) }

// Get resolves ref and returns its database, loading it on first use.
// Failed loads are not cached.
func (c *DatabaseCache) Get(ctx context.Context, ref string) (*embedding.Database, error) {
	c.mu.Lock()
	if e, ok := c.entries[ref]; ok {
		c.mu.Unlock()
		select {
		case <-e.ready:
			return e.db, e.err
		case <-ctx.Done():
			return nil, errors.Wrap(ctx.Err(), errors.ErrCodeCanceled, "waiting for database load")
		}
	}
	e := &cachedDB{ready: make(chan struct{})}
	c.entries[ref] = e
	c.mu.Unlock()

	e.loc, e.db, e.err = c.load(ctx, ref)
	e.loadedAt = time.Now().UTC()
	if e.err != nil {
		c.mu.Lock()
		if c.entries[ref] == e {
			delete(c.entries, ref)
		}
		c.mu.Unlock()
	}
	close(e.ready)
	return e.db, e.err
}

func (c *DatabaseCache) load(ctx context.Context, ref string) (embedding.Location, *embedding.Database, error) {
	loc, err := c.registry.Resolve(ref)
	if err != nil {
		return loc, nil, err
	}
	start := time.Now()
	db, err := c.store.Load(ctx, loc)
	prometheus.RecordDatabaseLoad(c.metrics, string(loc.Kind), ref, dbLen(db), err)
	if err != nil {
		return loc, nil, err
	}
	if db.Name == "" {
		db.Name = ref
	}
	c.logger.Info("Loaded embedding database",
		logging.Database(loc.String()),
		logging.Int("entries", db.Len()),
		logging.Model(db.Model.String()),
		logging.Duration("elapsed", time.Since(start)),
	)
	return loc, db, nil
}

func dbLen(db *embedding.Database) int {
	if db == nil {
		return 0
	}
	return db.Len()
}

// Invalidate drops every cached database backed by the file at path.
func (c *DatabaseCache) Invalidate(path string) int {
	path = absPath(path)
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for ref, e := range c.entries {
		select {
		case <-e.ready:
		default:
			continue
		}
		if e.loc.Kind == embedding.LocationFile && absPath(e.loc.Path) == path {
			delete(c.entries, ref)
			n++
		}
	}
	if n > 0 {
		c.logger.Info("Database file changed, dropped from cache", logging.Path(path), logging.Int("refs", n))
	}
	return n
}

func absPath(p string) string {
	if abs, err := filepath.Abs(p); err == nil {
		return abs
	}
	return filepath.Clean(p)
}

// Loaded lists the databases currently held, ordered by name.
func (c *DatabaseCache) Loaded() []DatabaseInfo {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]DatabaseInfo, 0, len(c.entries))
	for ref, e := range c.entries {
		select {
		case <-e.ready:
		default:
			continue
		}
		if e.db == nil {
			continue
		}
		out = append(out, DatabaseInfo{
			Name:     ref,
			Location: e.loc.String(),
			DBID:     e.db.DBID,
			Model:    e.db.Model.String(),
			Dim:      e.db.Dim,
			Entries:  e.db.Len(),
			LoadedAt: e.loadedAt,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Watch invalidates cached file databases whenever the files under dirs
// change. It blocks until ctx is done.
func (c *DatabaseCache) Watch(ctx context.Context, dirs ...string) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to create file watcher")
	}
	defer w.Close()

	for _, d := range dirs {
		if err := w.Add(d); err != nil {
			c.logger.Warn("Cannot watch database directory", logging.Path(d), logging.Err(err))
			continue
		}
		c.logger.Debug("Watching database directory", logging.Path(d))
	}

	const changed = fsnotify.Write | fsnotify.Create | fsnotify.Remove | fsnotify.Rename
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if ev.Op&changed != 0 {
				c.Invalidate(ev.Name)
			}
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			c.logger.Warn("File watcher error", logging.Err(err))
		}
	}
}
