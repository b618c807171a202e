//go:build integration

// Package containers starts throwaway backing services for integration tests.
package containers

import (
	"context"
	"testing"

	"github.com/testcontainers/testcontainers-go"
	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"

	"humanitylink/internal/platform/config"
	platformredis "humanitylink/internal/platform/redis"
)

// RedisContainer is a disposable Redis reached through the service's own
// client constructor.
type RedisContainer struct {
	Container testcontainers.Container
	URL       string
	Client    *platformredis.Client
}

func NewRedisContainer(t *testing.T) *RedisContainer {
	t.Helper()
	ctx := context.Background()

	container, err := tcredis.Run(ctx, "redis:7-alpine")
	if err != nil {
		t.Fatalf("start redis: %v", err)
	}
	t.Cleanup(func() { _ = testcontainers.TerminateContainer(container) })

	url, err := container.ConnectionString(ctx)
	if err != nil {
		t.Fatalf("redis connection string: %v", err)
	}

	cfg := config.Default().Redis
	cfg.URL = url
	client, err := platformredis.New(ctx, cfg)
	if err != nil {
		t.Fatalf("connect redis: %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })

	return &RedisContainer{Container: container, URL: url, Client: client}
}

// FlushAll empties the database between tests.
func (r *RedisContainer) FlushAll(ctx context.Context) error {
	return r.Client.FlushAll(ctx).Err()
}
