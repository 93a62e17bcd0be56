//go:build integration

package redis_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/turtacn/progres-go/internal/config"
	"github.com/turtacn/progres-go/internal/domain/embedding"
	"github.com/turtacn/progres-go/internal/infrastructure/database/redis"
	"github.com/turtacn/progres-go/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/progres-go/internal/intelligence/common"
)

func startRedis(t *testing.T) string {
	t.Helper()
	ctx := context.Background()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForLog("Ready to accept connections").WithStartupTimeout(30 * time.Second),
		},
		Started: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(ctx) })

	endpoint, err := container.Endpoint(ctx, "")
	require.NoError(t, err)
	return endpoint
}

func TestEmbeddingCache_AgainstRedis(t *testing.T) {
	addr := startRedis(t)
	log := logging.NewNopLogger()
	client, err := redis.NewClient(config.CacheConfig{Addr: addr}, log)
	require.NoError(t, err)
	defer client.Close()

	model := common.ModelIdentity{Name: "progres-v0.2", Version: "0.2.0"}
	cache := redis.NewEmbeddingCache(client, log, redis.WithTTL(time.Minute))
	key := cache.Key([]byte("structure"), model, "pdb", "")
	want := []embedding.Embedding{{ID: "q", NRes: 42, Chopping: "1-42", Model: model, Vector: []float32{0, 1}}}

	ctx := context.Background()
	calls := 0
	compute := func(context.Context) ([]embedding.Embedding, error) {
		calls++
		return want, nil
	}

	got, hit, err := cache.GetOrCompute(ctx, key, compute)
	require.NoError(t, err)
	assert.False(t, hit)
	assert.Equal(t, want, got)

	got, hit, err = cache.GetOrCompute(ctx, key, compute)
	require.NoError(t, err)
	assert.True(t, hit)
	assert.Equal(t, want, got)
	assert.Equal(t, 1, calls)
}
