package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"humanitylink/internal/identity/models"
	"humanitylink/pkg/platform/sentinel"
)

const identityKeyPrefix = "humanitylink:identity:"

// Redis shares resolved identities across service instances.
type Redis struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedis creates a Redis-backed cache. A zero ttl stores entries without expiry.
func NewRedis(client *redis.Client, ttl time.Duration) *Redis {
	return &Redis{client: client, ttl: ttl}
}

// Get returns the cached identity or sentinel.ErrNotFound.
func (c *Redis) Get(ctx context.Context, walletKey string) (*models.Identity, error) {
	raw, err := c.client.Get(ctx, identityKeyPrefix+walletKey).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redis get identity: %w", err)
	}
	var id models.Identity
	if err := json.Unmarshal(raw, &id); err != nil {
		return nil, fmt.Errorf("decode cached identity: %w", err)
	}
	return &id, nil
}

func (c *Redis) Set(ctx context.Context, walletKey string, identity *models.Identity) error {
	raw, err := json.Marshal(identity)
	if err != nil {
		return fmt.Errorf("encode identity: %w", err)
	}
	if err := c.client.Set(ctx, identityKeyPrefix+walletKey, raw, c.ttl).Err(); err != nil {
		return fmt.Errorf("redis set identity: %w", err)
	}
	return nil
}
