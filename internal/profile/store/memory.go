// Package store holds the confidential profile backends.
package store

import (
	"context"
	"fmt"
	"sync"

	"humanitylink/internal/profile/models"
	"humanitylink/pkg/platform/sentinel"
)

// InMemoryStore keeps profiles in process memory. Nothing survives a restart.
type InMemoryStore struct {
	mu       sync.RWMutex
	profiles map[string]*models.Profile
}

func NewInMemory() *InMemoryStore {
	return &InMemoryStore{profiles: make(map[string]*models.Profile)}
}

func (s *InMemoryStore) Get(_ context.Context, identityID string) (*models.Profile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.profiles[identityID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return p.Clone(), nil
}

func (s *InMemoryStore) Put(_ context.Context, profile *models.Profile) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.profiles[profile.IdentityID]
	if err := checkVersion(current, ok, profile.Version); err != nil {
		return err
	}
	s.profiles[profile.IdentityID] = profile.Clone()
	return nil
}

func (s *InMemoryStore) Delete(_ context.Context, identityID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.profiles[identityID]; !ok {
		return sentinel.ErrNotFound
	}
	delete(s.profiles, identityID)
	return nil
}

// Len reports how many profiles are stored.
func (s *InMemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.profiles)
}

// checkVersion enforces the compare-and-swap rule shared by every backend.
func checkVersion(current *models.Profile, exists bool, next int) error {
	switch {
	case next < 1:
		return fmt.Errorf("profile version %d: %w", next, sentinel.ErrConflict)
	case next == 1 && exists:
		return fmt.Errorf("profile already exists: %w", sentinel.ErrConflict)
	case next > 1 && (!exists || current.Version != next-1):
		return fmt.Errorf("profile version %d is stale: %w", next, sentinel.ErrConflict)
	}
	return nil
}
