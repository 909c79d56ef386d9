package biz

import (
	"context"
	"time"

	"flightwatch/internal/data"
	"flightwatch/internal/model"
	"flightwatch/internal/opensky"

	"github.com/stretchr/testify/mock"
)

// MockUserRepo is a mock implementation of UserRepo for testing.
type MockUserRepo struct {
	mock.Mock
}

func (m *MockUserRepo) CreateUserWithRecord(ctx context.Context, user *data.User, rec *data.IdempotencyRecord) (*data.IdempotencyRecord, error) {
	args := m.Called(ctx, user, rec)
	switch r := args.Get(0).(type) {
	case func(context.Context, *data.User, *data.IdempotencyRecord) *data.IdempotencyRecord:
		// Lets a test echo the record the usecase built.
		return r(ctx, user, rec), args.Error(1)
	case *data.IdempotencyRecord:
		return r, args.Error(1)
	default:
		return nil, args.Error(1)
	}
}

func (m *MockUserRepo) GetUser(ctx context.Context, email string) (*data.User, error) {
	args := m.Called(ctx, email)
	if u := args.Get(0); u != nil {
		return u.(*data.User), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockUserRepo) ListUsers(ctx context.Context) ([]*data.User, error) {
	args := m.Called(ctx)
	if u := args.Get(0); u != nil {
		return u.([]*data.User), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockUserRepo) ExistsUser(ctx context.Context, email string) (bool, error) {
	args := m.Called(ctx, email)
	return args.Bool(0), args.Error(1)
}

func (m *MockUserRepo) DeleteUser(ctx context.Context, email string) error {
	args := m.Called(ctx, email)
	return args.Error(0)
}

// MockIdempotencyRepo is a mock implementation of IdempotencyRepo.
type MockIdempotencyRepo struct {
	mock.Mock
}

func (m *MockIdempotencyRepo) Get(ctx context.Context, requestID string) (*data.IdempotencyRecord, error) {
	args := m.Called(ctx, requestID)
	if r := args.Get(0); r != nil {
		return r.(*data.IdempotencyRecord), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockIdempotencyRepo) PurgeExpired(ctx context.Context, cutoff time.Time) (int64, error) {
	args := m.Called(ctx, cutoff)
	return args.Get(0).(int64), args.Error(1)
}

// MockSubscriptionRepo is a mock implementation of SubscriptionRepo.
type MockSubscriptionRepo struct {
	mock.Mock
}

func (m *MockSubscriptionRepo) Upsert(ctx context.Context, sub *data.Subscription) error {
	args := m.Called(ctx, sub)
	return args.Error(0)
}

func (m *MockSubscriptionRepo) ListByUser(ctx context.Context, email string) ([]*data.Subscription, error) {
	args := m.Called(ctx, email)
	if s := args.Get(0); s != nil {
		return s.([]*data.Subscription), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockSubscriptionRepo) ListByAirport(ctx context.Context, icao string) ([]*data.Subscription, error) {
	args := m.Called(ctx, icao)
	if s := args.Get(0); s != nil {
		return s.([]*data.Subscription), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockSubscriptionRepo) DistinctAirports(ctx context.Context) ([]string, error) {
	args := m.Called(ctx)
	if s := args.Get(0); s != nil {
		return s.([]string), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockSubscriptionRepo) Delete(ctx context.Context, email, icao string) error {
	args := m.Called(ctx, email, icao)
	return args.Error(0)
}

func (m *MockSubscriptionRepo) DeleteByEmail(ctx context.Context, email string) (int64, error) {
	args := m.Called(ctx, email)
	return args.Get(0).(int64), args.Error(1)
}

// MockFlightRepo is a mock implementation of FlightRepo.
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
	if f := args.Get(0); f != nil {
		return f.([]*data.FlightRecord), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockFlightRepo) PurgeOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	args := m.Called(ctx, cutoff)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockFlightRepo) PurgeOrphaned(ctx context.Context, active []string) (int64, error) {
	args := m.Called(ctx, active)
	return args.Get(0).(int64), args.Error(1)
}

// MockCollectorRPC is a mock implementation of CollectorRPC.
type MockCollectorRPC struct {
	mock.Mock
}

func (m *MockCollectorRPC) DeleteDownstreamState(ctx context.Context, email string) (int64, error) {
	args := m.Called(ctx, email)
	return args.Get(0).(int64), args.Error(1)
}

// MockUserManagerRPC is a mock implementation of UserManagerRPC.
type MockUserManagerRPC struct {
	mock.Mock
}

func (m *MockUserManagerRPC) VerifyPrincipal(ctx context.Context, email string) (bool, error) {
	args := m.Called(ctx, email)
	return args.Bool(0), args.Error(1)
}

// MockPublisher is a mock implementation of ResultPublisher.
type MockPublisher struct {
	mock.Mock
}

func (m *MockPublisher) PublishJSON(ctx context.Context, key string, v interface{}) error {
	args := m.Called(ctx, key, v)
	return args.Error(0)
}

// MockSender is a mock implementation of Sender.
type MockSender struct {
	mock.Mock
}

func (m *MockSender) Send(ctx context.Context, n *model.Notification) error {
	args := m.Called(ctx, n)
	return args.Error(0)
}

// fakeLocker is an AirportLocker whose availability is scripted per
// airport.
type fakeLocker struct {
	denied map[string]bool
}

func (f *fakeLocker) TryAcquire(_ context.Context, icao string) (func(), bool) {
	if f.denied[icao] {
		return nil, false
	}
	return func() {}, true
}

// fakeFeed serves canned flights per airport and can fail per airport.
type fakeFeed struct {
	departures map[string][]opensky.Flight
	arrivals   map[string][]opensky.Flight
	errs       map[string]error
}

func (f *fakeFeed) Departures(_ context.Context, icao string, _, _ time.Time) ([]opensky.Flight, error) {
	if err := f.errs[icao]; err != nil {
		return nil, err
	}
	return f.departures[icao], nil
}

func (f *fakeFeed) Arrivals(_ context.Context, icao string, _, _ time.Time) ([]opensky.Flight, error) {
	if err := f.errs[icao]; err != nil {
		return nil, err
	}
	return f.arrivals[icao], nil
}
