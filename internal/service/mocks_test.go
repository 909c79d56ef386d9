package service

import (
	"context"
	"time"

	"flightwatch/internal/data"
	"flightwatch/internal/opensky"
	pkgerrors "flightwatch/pkg/errors"

	"github.com/stretchr/testify/mock"
	"gorm.io/gorm"
)

// notFound is what the data layer returns for a missing row.
var notFound = pkgerrors.ClassifyDBError(gorm.ErrRecordNotFound)

// MockUserRepo is a mock implementation of biz.UserRepo for testing.
type MockUserRepo struct {
	mock.Mock
}

func (m *MockUserRepo) CreateUserWithRecord(ctx context.Context, user *data.User, rec *data.IdempotencyRecord) (*data.IdempotencyRecord, error) {
	args := m.Called(ctx, user, rec)
	switch v := args.Get(0).(type) {
	case func(context.Context, *data.User, *data.IdempotencyRecord) *data.IdempotencyRecord:
		return v(ctx, user, rec), args.Error(1)
	case *data.IdempotencyRecord:
		return v, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockUserRepo) GetUser(ctx context.Context, email string) (*data.User, error) {
	args := m.Called(ctx, email)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*data.User), args.Error(1)
}

func (m *MockUserRepo) ListUsers(ctx context.Context) ([]*data.User, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*data.User), args.Error(1)
}

func (m *MockUserRepo) ExistsUser(ctx context.Context, email string) (bool, error) {
	args := m.Called(ctx, email)
	return args.Bool(0), args.Error(1)
}

func (m *MockUserRepo) DeleteUser(ctx context.Context, email string) error {
	args := m.Called(ctx, email)
	return args.Error(0)
}

// MockIdempotencyRepo is a mock implementation of biz.IdempotencyRepo.
type MockIdempotencyRepo struct {
	mock.Mock
}

func (m *MockIdempotencyRepo) Get(ctx context.Context, requestID string) (*data.IdempotencyRecord, error) {
	args := m.Called(ctx, requestID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*data.IdempotencyRecord), args.Error(1)
}

func (m *MockIdempotencyRepo) PurgeExpired(ctx context.Context, cutoff time.Time) (int64, error) {
	args := m.Called(ctx, cutoff)
	return args.Get(0).(int64), args.Error(1)
}

// MockSubscriptionRepo is a mock implementation of biz.SubscriptionRepo.
type MockSubscriptionRepo struct {
	mock.Mock
}

func (m *MockSubscriptionRepo) Upsert(ctx context.Context, sub *data.Subscription) error {
	args := m.Called(ctx, sub)
	return args.Error(0)
}

func (m *MockSubscriptionRepo) ListByUser(ctx context.Context, email string) ([]*data.Subscription, error) {
	args := m.Called(ctx, email)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*data.Subscription), args.Error(1)
}

func (m *MockSubscriptionRepo) ListByAirport(ctx context.Context, icao string) ([]*data.Subscription, error) {
	args := m.Called(ctx, icao)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*data.Subscription), args.Error(1)
}

func (m *MockSubscriptionRepo) DistinctAirports(ctx context.Context) ([]string, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]string), args.Error(1)
}

func (m *MockSubscriptionRepo) Delete(ctx context.Context, email, icao string) error {
	args := m.Called(ctx, email, icao)
	return args.Error(0)
}

func (m *MockSubscriptionRepo) DeleteByEmail(ctx context.Context, email string) (int64, error) {
	args := m.Called(ctx, email)
	return args.Get(0).(int64), args.Error(1)
}

// MockFlightRepo is a mock implementation of biz.FlightRepo.
type MockFlightRepo struct {
	mock.Mock
}

func (m *MockFlightRepo) BulkUpsert(ctx context.Context, records []*data.FlightRecord) (int64, error) {
	args := m.Called(ctx, records)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockFlightRepo) CountInWindow(ctx context.Context, icao string, since time.Time) (int64, error) {
	args := m.Called(ctx, icao, since)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockFlightRepo) ListRecent(ctx context.Context, icao string, limit int) ([]*data.FlightRecord, error) {
	args := m.Called(ctx, icao, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*data.FlightRecord), args.Error(1)
}

func (m *MockFlightRepo) PurgeOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	args := m.Called(ctx, cutoff)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockFlightRepo) PurgeOrphaned(ctx context.Context, active []string) (int64, error) {
	args := m.Called(ctx, active)
	return args.Get(0).(int64), args.Error(1)
}

// MockCollectorRPC is a mock implementation of biz.CollectorRPC.
type MockCollectorRPC struct {
	mock.Mock
}

func (m *MockCollectorRPC) DeleteDownstreamState(ctx context.Context, email string) (int64, error) {
	args := m.Called(ctx, email)
	return args.Get(0).(int64), args.Error(1)
}

// MockUserManagerRPC is a mock implementation of biz.UserManagerRPC.
type MockUserManagerRPC struct {
	mock.Mock
}

func (m *MockUserManagerRPC) VerifyPrincipal(ctx context.Context, email string) (bool, error) {
	args := m.Called(ctx, email)
	return args.Bool(0), args.Error(1)
}

// stubFeed serves canned flights per airport, or a canned error.
type stubFeed struct {
	flights map[string][]opensky.Flight
	errs    map[string]error
}

func (f *stubFeed) Departures(_ context.Context, icao string, _, _ time.Time) ([]opensky.Flight, error) {
	if err := f.errs[icao]; err != nil {
		return nil, err
	}
	return f.flights[icao], nil
}

func (f *stubFeed) Arrivals(_ context.Context, _ string, _, _ time.Time) ([]opensky.Flight, error) {
	return nil, nil
}

// stubLocker always grants the lock unless the airport is marked busy.
type stubLocker struct {
	busy map[string]bool
}

func (l *stubLocker) TryAcquire(_ context.Context, icao string) (func(), bool) {
	if l.busy[icao] {
		return nil, false
	}
	return func() {}, true
}

// stubPublisher swallows results.
type stubPublisher struct{}

func (*stubPublisher) PublishJSON(context.Context, string, interface{}) error { return nil }

func intPtr(v int) *int { return &v }
