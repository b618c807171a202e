package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"humanitylink/internal/identity/models"
	"humanitylink/pkg/platform/sentinel"
)

type InMemoryCacheSuite struct {
	suite.Suite
	cache *InMemory
	now   time.Time
	ctx   context.Context
}

func TestInMemoryCacheSuite(t *testing.T) {
	suite.Run(t, new(InMemoryCacheSuite))
}

func (s *InMemoryCacheSuite) SetupTest() {
	s.now = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	s.cache = NewInMemory(time.Hour)
	s.cache.now = func() time.Time { return s.now }
	s.ctx = context.Background()
}

func (s *InMemoryCacheSuite) TestMissIsNotFound() {
	_, err := s.cache.Get(s.ctx, "0xabc")
	s.ErrorIs(err, sentinel.ErrNotFound)
}

func (s *InMemoryCacheSuite) TestRoundTrip() {
	id := &models.Identity{ID: "did:privy:1", WalletAddress: "0xABC", CreatedAt: s.now}
	s.Require().NoError(s.cache.Set(s.ctx, "0xabc", id))

	got, err := s.cache.Get(s.ctx, "0xabc")
	s.Require().NoError(err)
	s.Equal(*id, *got)

	got.ID = "mutated"
	again, err := s.cache.Get(s.ctx, "0xabc")
	s.Require().NoError(err)
	s.Equal("did:privy:1", again.ID)
}

func (s *InMemoryCacheSuite) TestExpiry() {
	s.Require().NoError(s.cache.Set(s.ctx, "0xabc", &models.Identity{ID: "did:privy:1"}))

	s.now = s.now.Add(2 * time.Hour)
	_, err := s.cache.Get(s.ctx, "0xabc")
	s.ErrorIs(err, sentinel.ErrNotFound)
}
