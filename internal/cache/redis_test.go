package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

func setupRedis(t *testing.T) string {
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
	if err != nil {
		t.Fatalf("start redis container: %v", err)
	}
	t.Cleanup(func() {
		if err := container.Terminate(ctx); err != nil {
			t.Logf("terminate redis container: %v", err)
		}
	})

	endpoint, err := container.Endpoint(ctx, "")
	if err != nil {
		t.Fatalf("redis endpoint: %v", err)
	}
	return endpoint
}

type statsView struct {
	Total int64 `json:"total"`
}

func newTestCache(t *testing.T) *ReadCache {
	t.Helper()
	client, err := Connect(context.Background(), setupRedis(t))
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })
	return NewReadCache(client, "test", time.Minute)
}

func TestReadCache_SetGetInvalidate(t *testing.T) {
	ctx := context.Background()
	c := newTestCache(t)

	var got statsView
	gen, hit := c.Get(ctx, "stats", &got)
	assert.False(t, hit)

	c.Set(ctx, "stats", gen, statsView{Total: 85_000})
	_, hit = c.Get(ctx, "stats", &got)
	require.True(t, hit)
	assert.Equal(t, int64(85_000), got.Total)

	c.Invalidate(ctx)
	_, hit = c.Get(ctx, "stats", &got)
	assert.False(t, hit)
}

func TestReadCache_SetAfterInvalidateIsDropped(t *testing.T) {
	ctx := context.Background()
	c := newTestCache(t)

	var got statsView
	gen, hit := c.Get(ctx, "stats", &got)
	require.False(t, hit)

	// A mutation lands while the miss is being filled from the database.
	c.Invalidate(ctx)
	c.Set(ctx, "stats", gen, statsView{Total: 1})

	next, hit := c.Get(ctx, "stats", &got)
	assert.False(t, hit, "a value read before the invalidation must not be served")
	assert.NotEqual(t, gen, next)

	c.Set(ctx, "stats", next, statsView{Total: 2})
	_, hit = c.Get(ctx, "stats", &got)
	require.True(t, hit)
	assert.Equal(t, int64(2), got.Total)
}

func TestReadCache_NoGenerationIsNotStored(t *testing.T) {
	ctx := context.Background()
	c := newTestCache(t)

	c.Set(ctx, "stats", NoGeneration, statsView{Total: 1})

	var got statsView
	_, hit := c.Get(ctx, "stats", &got)
	assert.False(t, hit)
}

func TestReadCache_NilIsNoop(t *testing.T) {
	var c *ReadCache
	ctx := context.Background()

	var got statsView
	gen, hit := c.Get(ctx, "stats", &got)
	assert.False(t, hit)
	assert.Equal(t, NoGeneration, gen)
	assert.NotPanics(t, func() {
		c.Set(ctx, "stats", 0, statsView{Total: 1})
		c.Invalidate(ctx)
	})
}
