//go:build integration

package cache_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"humanitylink/internal/identity/cache"
	"humanitylink/internal/identity/models"
	"humanitylink/pkg/platform/sentinel"
	"humanitylink/pkg/testutil/containers"
)

type RedisCacheSuite struct {
	suite.Suite
	redis *containers.RedisContainer
	cache *cache.Redis
}

func TestRedisCacheSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(RedisCacheSuite))
}

func (s *RedisCacheSuite) SetupSuite() {
	s.redis = containers.NewRedisContainer(s.T())
	s.cache = cache.NewRedis(s.redis.Client.Client, time.Minute)
}

func (s *RedisCacheSuite) SetupTest() {
	s.Require().NoError(s.redis.FlushAll(context.Background()))
}

func (s *RedisCacheSuite) TestIdentityRoundTrip() {
	ctx := context.Background()
	created := time.Unix(1735689600, 0).UTC()
	id := &models.Identity{ID: "did:privy:abc", WalletAddress: "0xAbC0000000000000000000000000000000000001", CreatedAt: created}

	s.Require().NoError(s.cache.Set(ctx, "0xabc0000000000000000000000000000000000001", id))

	found, err := s.cache.Get(ctx, "0xabc0000000000000000000000000000000000001")
	s.Require().NoError(err)
	s.Equal(id.ID, found.ID)
	s.Equal(id.WalletAddress, found.WalletAddress)
	s.True(created.Equal(found.CreatedAt))

	ttl, err := s.redis.Client.TTL(ctx, "humanitylink:identity:0xabc0000000000000000000000000000000000001").Result()
	s.Require().NoError(err)
	s.Greater(ttl, time.Duration(0))
}

func (s *RedisCacheSuite) TestMiss() {
	_, err := s.cache.Get(context.Background(), "0xmissing")
	s.ErrorIs(err, sentinel.ErrNotFound)
}
