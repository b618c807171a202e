// Package cache keeps resolved identities per normalized wallet address.
// Identities never change once resolved, so entries only need expiry for
// bounding memory, not for correctness.
package cache

import (
	"context"
	"sync"
	"time"

	"humanitylink/internal/identity/models"
	"humanitylink/pkg/platform/sentinel"
)

type entry struct {
	identity  models.Identity
	expiresAt time.Time
}

// InMemory is a process-local identity cache.
type InMemory struct {
	mu      sync.RWMutex
	entries map[string]entry
	ttl     time.Duration
	now     func() time.Time
}

// NewInMemory creates a cache. A zero ttl keeps entries forever.
func NewInMemory(ttl time.Duration) *InMemory {
	return &InMemory{entries: make(map[string]entry), ttl: ttl, now: time.Now}
}

// Get returns the cached identity or sentinel.ErrNotFound.
func (c *InMemory) Get(_ context.Context, walletKey string) (*models.Identity, error) {
	c.mu.RLock()
	e, ok := c.entries[walletKey]
	c.mu.RUnlock()
	if !ok || (!e.expiresAt.IsZero() && c.now().After(e.expiresAt)) {
		return nil, sentinel.ErrNotFound
	}
	id := e.identity
	return &id, nil
}

func (c *InMemory) Set(_ context.Context, walletKey string, identity *models.Identity) error {
	e := entry{identity: *identity}
	if c.ttl > 0 {
		e.expiresAt = c.now().Add(c.ttl)
	}
	c.mu.Lock()
	c.entries[walletKey] = e
	c.mu.Unlock()
	return nil
}

// Len reports the number of entries, expired ones included.
func (c *InMemory) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
