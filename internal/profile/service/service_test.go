package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"humanitylink/internal/audit"
	"humanitylink/internal/platform/metrics"
	"humanitylink/internal/profile/models"
	"humanitylink/internal/profile/service/mocks"
	"humanitylink/internal/profile/store"
	dErrors "humanitylink/pkg/domain-errors"
	"humanitylink/pkg/platform/sentinel"
	"humanitylink/pkg/requestcontext"
)

const identityID = "did:privy:cm3np4u9j001rc8b73seqmqqk"

type ServiceSuite struct {
	suite.Suite
	store   *store.InMemoryStore
	sink    *audit.MemorySink
	metrics *metrics.Metrics
	clock   *fakeClock
	service *Service
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func TestServiceSuite(t *testing.T) {
	suite.Run(t, new(ServiceSuite))
}

func (s *ServiceSuite) SetupTest() {
	s.store = store.NewInMemory()
	s.sink = audit.NewMemorySink()
	s.metrics = metrics.NewWithRegisterer(prometheus.NewRegistry())
	s.clock = &fakeClock{now: time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)}
	s.service = New(s.store,
		WithClock(s.clock.Now),
		WithMetrics(s.metrics),
		WithAuditor(audit.NewPublisher(s.sink, nil)),
	)
}

func validFields() models.Fields {
	return models.Fields{
		FullName:   "Ada Lovelace",
		Phone:      "+44 20 7946 0000",
		Address:    "12 St James's Square, London",
		NationalID: "AB123456C",
	}
}

func (s *ServiceSuite) TestCreateOrUpdate() {
	ctx := context.Background()

	first, err := s.service.CreateOrUpdate(ctx, identityID, validFields())
	s.Require().NoError(err)
	s.Equal(1, first.Version)
	s.Equal(first.StoredAt, first.UpdatedAt)

	s.clock.Advance(time.Hour)
	changed := validFields()
	changed.Address = "Ockham Park, Surrey"
	second, err := s.service.CreateOrUpdate(ctx, identityID, changed)
	s.Require().NoError(err)

	s.Equal(2, second.Version)
	s.Equal(first.StoredAt, second.StoredAt, "storedAt is kept across updates")
	s.True(second.UpdatedAt.After(first.UpdatedAt))
	s.Equal("Ockham Park, Surrey", second.Address)

	s.Len(s.sink.ByAction(audit.ActionProfileStored), 1)
	updated := s.sink.ByAction(audit.ActionProfileUpdated)
	s.Require().Len(updated, 1)
	s.Equal(2, updated[0].Version)
	s.Equal(2.0, testutil.ToFloat64(s.metrics.ProfileOperations.WithLabelValues("store", "ok")))
}

func (s *ServiceSuite) TestTimestampsFollowRequestTime() {
	svc := New(s.store)
	pinned := time.Date(2025, 3, 1, 9, 0, 0, 123456789, time.UTC)
	ctx := requestcontext.WithTime(context.Background(), pinned)

	created, err := svc.CreateOrUpdate(ctx, identityID, validFields())
	s.Require().NoError(err)
	s.Equal(pinned.Truncate(time.Microsecond), created.StoredAt)
	s.Equal(created.StoredAt, created.UpdatedAt)
	s.Zero(created.StoredAt.Nanosecond() % int(time.Microsecond))

	later := requestcontext.WithTime(context.Background(), pinned.Add(time.Minute))
	updated, err := svc.Update(later, identityID, validFields())
	s.Require().NoError(err)
	s.Equal(created.StoredAt, updated.StoredAt)
	s.Equal(pinned.Add(time.Minute).Truncate(time.Microsecond), updated.UpdatedAt)

	got, err := svc.Get(ctx, identityID)
	s.Require().NoError(err)
	s.Equal(updated.UpdatedAt, got.UpdatedAt)
}

func (s *ServiceSuite) TestCreateOrUpdateTrimsFields() {
	fields := validFields()
	fields.FullName = "  Ada Lovelace  "

	p, err := s.service.CreateOrUpdate(context.Background(), identityID, fields)
	s.Require().NoError(err)
	s.Equal("Ada Lovelace", p.FullName)
}

func (s *ServiceSuite) TestValidationFailureStoresNothing() {
	ctx := context.Background()
	fields := validFields()
	fields.FullName = "A"

	_, err := s.service.CreateOrUpdate(ctx, identityID, fields)
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeValidation))

	var ve *models.ValidationError
	s.Require().True(errors.As(err, &ve))
	s.Equal("fullName", ve.FieldName())

	s.Equal(0, s.store.Len())
	s.Empty(s.sink.Events())
}

func (s *ServiceSuite) TestUpdate() {
	ctx := context.Background()

	s.Run("absent profile is not found", func() {
		_, err := s.service.Update(ctx, identityID, validFields())
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
		s.Equal(0, s.store.Len())
	})

	s.Run("existing profile gets the next version", func() {
		_, err := s.service.CreateOrUpdate(ctx, identityID, validFields())
		s.Require().NoError(err)

		p, err := s.service.Update(ctx, identityID, validFields())
		s.Require().NoError(err)
		s.Equal(2, p.Version)
	})
}

func (s *ServiceSuite) TestGetAndDelete() {
	ctx := context.Background()

	_, err := s.service.Get(ctx, identityID)
	s.True(dErrors.HasCode(err, dErrors.CodeNotFound))

	_, err = s.service.CreateOrUpdate(ctx, identityID, validFields())
	s.Require().NoError(err)

	got, err := s.service.Get(ctx, identityID)
	s.Require().NoError(err)
	s.Equal(validFields(), got.Fields)

	s.Require().NoError(s.service.Delete(ctx, identityID))
	_, err = s.service.Get(ctx, identityID)
	s.True(dErrors.HasCode(err, dErrors.CodeNotFound))

	err = s.service.Delete(ctx, identityID)
	s.True(dErrors.HasCode(err, dErrors.CodeNotFound), "repeated delete reports not found")
	s.Len(s.sink.ByAction(audit.ActionProfileDeleted), 1)
}

func (s *ServiceSuite) TestDeleteThenCreateRestartsVersion() {
	ctx := context.Background()
	_, err := s.service.CreateOrUpdate(ctx, identityID, validFields())
	s.Require().NoError(err)
	_, err = s.service.CreateOrUpdate(ctx, identityID, validFields())
	s.Require().NoError(err)
	s.Require().NoError(s.service.Delete(ctx, identityID))

	p, err := s.service.CreateOrUpdate(ctx, identityID, validFields())
	s.Require().NoError(err)
	s.Equal(1, p.Version)
}

func (s *ServiceSuite) TestConcurrentWritesProduceDistinctVersions() {
	ctx := context.Background()
	const writers = 25

	var wg sync.WaitGroup
	errs := make(chan error, writers)
	for range writers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.service.CreateOrUpdate(ctx, identityID, validFields())
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		s.NoError(err)
	}

	got, err := s.service.Get(ctx, identityID)
	s.Require().NoError(err)
	s.Equal(writers, got.Version)
}

func (s *ServiceSuite) TestCancelledCallerStillCompletesWrite() {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	p, err := s.service.CreateOrUpdate(ctx, identityID, validFields())
	s.Require().NoError(err)
	s.Equal(1, p.Version)
	s.Equal(1, s.store.Len())
}

func TestStoreFailures(t *testing.T) {
	ctx := context.Background()

	t.Run("conflict on put maps to conflict", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		st := mocks.NewMockStore(ctrl)
		st.EXPECT().Get(gomock.Any(), identityID).Return(nil, sentinel.ErrNotFound)
		st.EXPECT().Put(gomock.Any(), gomock.Any()).Return(sentinel.ErrConflict)

		_, err := New(st).CreateOrUpdate(ctx, identityID, validFields())
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeConflict))
	})

	t.Run("backend failure maps to internal", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		st := mocks.NewMockStore(ctrl)
		st.EXPECT().Get(gomock.Any(), identityID).Return(nil, errors.New("connection reset"))

		_, err := New(st).CreateOrUpdate(ctx, identityID, validFields())
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeInternal))
	})

	t.Run("put carries the next version", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		st := mocks.NewMockStore(ctrl)
		stored := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
		st.EXPECT().Get(gomock.Any(), identityID).Return(&models.Profile{
			IdentityID: identityID,
			Fields:     validFields(),
			Version:    4,
			StoredAt:   stored,
			UpdatedAt:  stored,
		}, nil)
		st.EXPECT().Put(gomock.Any(), gomock.Any()).DoAndReturn(func(_ context.Context, p *models.Profile) error {
			assert.Equal(t, 5, p.Version)
			assert.Equal(t, stored, p.StoredAt)
			return nil
		})

		p, err := New(st).Update(ctx, identityID, validFields())
		require.NoError(t, err)
		assert.Equal(t, 5, p.Version)
	})

	t.Run("empty identity is rejected before the store", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		st := mocks.NewMockStore(ctrl)

		_, err := New(st).Get(ctx, "")
		assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))
	})
}
