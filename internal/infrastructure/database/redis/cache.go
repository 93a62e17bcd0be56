package redis

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"

	"github.com/turtacn/progres-go/internal/domain/embedding"
	"github.com/turtacn/progres-go/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/progres-go/internal/intelligence/common"
)

const (
	DefaultKeyPrefix = "progres:emb:"
	DefaultTTL       = 24 * time.Hour
)

// EmbeddingCache stores the per-domain embeddings of query structures.
// Every failure is logged and treated as a miss.
type EmbeddingCache struct {
	client *Client
	logger logging.Logger
	prefix string
	ttl    time.Duration
	onHit  func(hit bool)
	group  singleflight.Group
}

type CacheOption func(*EmbeddingCache)

func WithPrefix(prefix string) CacheOption {
	return func(c *EmbeddingCache) { c.prefix = prefix }
}

func WithTTL(ttl time.Duration) CacheOption {
	return func(c *EmbeddingCache) { c.ttl = ttl }
}

// WithAccessHook registers a callback invoked on every lookup.
func WithAccessHook(fn func(hit bool)) CacheOption {
	return func(c *EmbeddingCache) { c.onHit = fn }
}

func NewEmbeddingCache(client *Client, log logging.Logger, opts ...CacheOption) *EmbeddingCache {
	if log == nil {
		log = logging.NewNopLogger()
	}
	c := &EmbeddingCache{
		client: client,
		logger: log,
		prefix: DefaultKeyPrefix,
		ttl:    DefaultTTL,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Key derives the cache key for a query. Identical content embedded by the
// same model under the same format and split settings maps to the same key.
// An empty splitSettings means the query is embedded whole.
func (c *EmbeddingCache) Key(content []byte, model common.ModelIdentity, format, splitSettings string) string {
	sum := sha256.Sum256(content)
	mode := "whole"
	if splitSettings != "" {
		tag := sha256.Sum256([]byte(splitSettings))
		mode = "split-" + hex.EncodeToString(tag[:8])
	}
	return c.prefix + strings.Join([]string{
		hex.EncodeToString(sum[:]),
		model.String(),
		strings.ToLower(format),
		mode,
	}, ":")
}

// Get returns the cached embeddings for key.
func (c *EmbeddingCache) Get(ctx context.Context, key string) ([]embedding.Embedding, bool) {
	data, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		if err != redis.Nil {
			c.logger.Warn("Embedding cache read failed, recomputing", logging.String("key", key), logging.Err(err))
		}
		c.record(false)
		return nil, false
	}
	var out []embedding.Embedding
	if err := json.Unmarshal(data, &out); err != nil {
		c.logger.Warn("Discarding undecodable cache entry", logging.String("key", key), logging.Err(err))
		c.record(false)
		return nil, false
	}
	c.record(true)
	return out, true
}

// Put stores embs under key with the configured TTL.
func (c *EmbeddingCache) Put(ctx context.Context, key string, embs []embedding.Embedding) {
	data, err := json.Marshal(embs)
	if err != nil {
		c.logger.Warn("Embedding cache encode failed", logging.String("key", key), logging.Err(err))
		return
	}
	if err := c.client.Set(ctx, key, string(data), c.ttl).Err(); err != nil {
		c.logger.Warn("Embedding cache write failed", logging.String("key", key), logging.Err(err))
	}
}

// GetOrCompute returns the cached value for key or runs compute and caches
// its result. Concurrent callers with the same key share one computation.
// The boolean reports a cache hit.
func (c *EmbeddingCache) GetOrCompute(ctx context.Context, key string,
	compute func(ctx context.Context) ([]embedding.Embedding, error)) ([]embedding.Embedding, bool, error) {
	if embs, ok := c.Get(ctx, key); ok {
		return embs, true, nil
	}
	v, err, _ := c.group.Do(key, func() (interface{}, error) {
		embs, err := compute(ctx)
		if err != nil {
			return nil, err
		}
		c.Put(ctx, key, embs)
		return embs, nil
	})
	if err != nil {
		return nil, false, err
	}
	return v.([]embedding.Embedding), false, nil
}

func (c *EmbeddingCache) record(hit bool) {
	if c.onHit != nil {
		c.onHit(hit)
	}
}
