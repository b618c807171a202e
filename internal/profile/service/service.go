// Package service owns the confidential profile lifecycle for resolved
// identities. Callers resolve the wallet first; this package only sees
// identity IDs.
package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"humanitylink/internal/audit"
	"humanitylink/internal/platform/metrics"
	"humanitylink/internal/profile/models"
	dErrors "humanitylink/pkg/domain-errors"
	"humanitylink/pkg/platform/keylock"
	"humanitylink/pkg/platform/sentinel"
	"humanitylink/pkg/requestcontext"
)

// Store persists profiles. Put is a compare-and-swap on Version: version 1
// inserts only when no profile exists, version n replaces only a stored
// version n-1. Either miss returns sentinel.ErrConflict.
type Store interface {
	Get(ctx context.Context, identityID string) (*models.Profile, error)
	Put(ctx context.Context, profile *models.Profile) error
	Delete(ctx context.Context, identityID string) error
}

// Service serializes all operations on one identity's profile.
type Service struct {
	store   Store
	locks   *keylock.Locker
	now     func(context.Context) time.Time
	logger  *slog.Logger
	metrics *metrics.Metrics
	auditor *audit.Publisher
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

func WithAuditor(p *audit.Publisher) Option {
	return func(s *Service) {
		s.auditor = p
	}
}

// WithClock overrides the time source for StoredAt and UpdatedAt. By default
// the request time pinned in the context is used.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = func(context.Context) time.Time { return now() }
	}
}

func New(store Store, opts ...Option) *Service {
	s := &Service{
		store:  store,
		locks:  keylock.New(),
		now:    requestcontext.Now,
		logger: slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreateOrUpdate stores fields for identityID. The first write creates
// version 1; later writes replace every field and bump the version.
func (s *Service) CreateOrUpdate(ctx context.Context, identityID string, fields models.Fields) (*models.Profile, error) {
	return s.write(ctx, "store", identityID, fields, false)
}

// Update is CreateOrUpdate for an existing profile only.
func (s *Service) Update(ctx context.Context, identityID string, fields models.Fields) (*models.Profile, error) {
	return s.write(ctx, "update", identityID, fields, true)
}

// Get returns the stored profile. It never mutates anything.
func (s *Service) Get(ctx context.Context, identityID string) (*models.Profile, error) {
	if identityID == "" {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "identity id is required")
	}
	unlock := s.locks.Lock(identityID)
	defer unlock()

	profile, err := s.store.Get(context.WithoutCancel(ctx), identityID)
	if err != nil {
		return nil, s.storeError(ctx, "get", identityID, err)
	}
	s.metrics.IncrementProfileOperation("get", "ok")
	return profile, nil
}

// Delete removes the profile entirely. Deleting an absent profile reports
// CodeNotFound, which callers may treat as already erased.
func (s *Service) Delete(ctx context.Context, identityID string) error {
	if identityID == "" {
		return dErrors.New(dErrors.CodeInvalidInput, "identity id is required")
	}
	unlock := s.locks.Lock(identityID)
	defer unlock()

	ctx = context.WithoutCancel(ctx)
	if err := s.store.Delete(ctx, identityID); err != nil {
		return s.storeError(ctx, "delete", identityID, err)
	}
	s.metrics.IncrementProfileOperation("delete", "ok")
	s.logger.InfoContext(ctx, "profile deleted",
		"request_id", requestcontext.RequestID(ctx),
		"identity_id", identityID,
	)
	s.auditor.Emit(ctx, audit.Event{Action: audit.ActionProfileDeleted, IdentityID: identityID})
	return nil
}

func (s *Service) write(ctx context.Context, op, identityID string, fields models.Fields, mustExist bool) (*models.Profile, error) {
	if identityID == "" {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "identity id is required")
	}
	fields = fields.Normalize()
	if err := fields.Validate(); err != nil {
		s.metrics.IncrementProfileOperation(op, string(dErrors.CodeValidation))
		msg := err.Error()
		var ve *models.ValidationError
		if errors.As(err, &ve) {
			msg = ve.Reason
		}
		return nil, dErrors.Wrap(err, dErrors.CodeValidation, msg)
	}

	unlock := s.locks.Lock(identityID)
	defer unlock()

	// Once started, a write completes or fails explicitly.
	ctx = context.WithoutCancel(ctx)

	existing, err := s.store.Get(ctx, identityID)
	switch {
	case errors.Is(err, sentinel.ErrNotFound):
		existing = nil
	case err != nil:
		return nil, s.storeError(ctx, op, identityID, err)
	}
	if existing == nil && mustExist {
		s.metrics.IncrementProfileOperation(op, string(dErrors.CodeNotFound))
		return nil, dErrors.New(dErrors.CodeNotFound, "no existing profile to update")
	}

	// Stores keep microsecond precision.
	now := s.now(ctx).UTC().Truncate(time.Microsecond)
	next := &models.Profile{
		IdentityID: identityID,
		Fields:     fields,
		Version:    1,
		StoredAt:   now,
		UpdatedAt:  now,
	}
	action := audit.ActionProfileStored
	if existing != nil {
		next.Version = existing.Version + 1
		next.StoredAt = existing.StoredAt
		action = audit.ActionProfileUpdated
	}

	if err := s.store.Put(ctx, next); err != nil {
		return nil, s.storeError(ctx, op, identityID, err)
	}

	s.metrics.IncrementProfileOperation(op, "ok")
	s.logger.InfoContext(ctx, "profile written",
		"request_id", requestcontext.RequestID(ctx),
		"identity_id", identityID,
		"version", next.Version,
	)
	s.auditor.Emit(ctx, audit.Event{Action: action, IdentityID: identityID, Version: next.Version})
	return next, nil
}

func (s *Service) storeError(ctx context.Context, op, identityID string, err error) error {
	switch {
	case errors.Is(err, sentinel.ErrNotFound):
		s.metrics.IncrementProfileOperation(op, string(dErrors.CodeNotFound))
		return dErrors.New(dErrors.CodeNotFound, "no profile stored for this wallet")
	case errors.Is(err, sentinel.ErrConflict):
		s.metrics.IncrementProfileOperation(op, string(dErrors.CodeConflict))
		s.logger.WarnContext(ctx, "profile write lost a version race",
			"request_id", requestcontext.RequestID(ctx),
			"identity_id", identityID,
		)
		return dErrors.Wrap(err, dErrors.CodeConflict, "profile was modified concurrently, retry the request")
	default:
		s.metrics.IncrementProfileOperation(op, string(dErrors.CodeInternal))
		s.logger.ErrorContext(ctx, "profile store failed",
			"request_id", requestcontext.RequestID(ctx),
			"identity_id", identityID,
			"op", op,
			"error", err,
		)
		return dErrors.Wrap(err, dErrors.CodeInternal, "profile store failed")
	}
}
