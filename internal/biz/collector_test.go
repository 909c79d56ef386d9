package biz

import (
	"context"
	"testing"
	"time"

	"flightwatch/internal/conf"
	"flightwatch/internal/data"
	"flightwatch/internal/model"
	"flightwatch/internal/opensky"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/types/known/durationpb"
)

func collectorConf() *conf.Collector {
	return &conf.Collector{
		Interval:      durationpb.New(12 * time.Hour),
		Window:        durationpb.New(24 * time.Hour),
		Workers:       2,
		UpsertRetries: 3,
	}
}

func departure(icao24 string, firstSeen int64) opensky.Flight {
	return opensky.Flight{
		ICAO24:    icao24,
		FirstSeen: firstSeen,
		LastSeen:  firstSeen + 3600,
		Callsign:  "AZA123  ",
	}
}

func TestRunCycle_CollectsAndPublishes(t *testing.T) {
	subs := new(MockSubscriptionRepo)
	flights := new(MockFlightRepo)
	results := new(MockPublisher)
	feed := &fakeFeed{
		departures: map[string][]opensky.Flight{"LIMC": {departure("4ca1fa", 1700000000)}},
		arrivals:   map[string][]opensky.Flight{"LIMC": {departure("3c6444", 1700000100)}},
	}

	uc := NewCollectorUsecase(subs, flights, feed, &fakeLocker{}, results, collectorConf(), log.DefaultLogger)

	subs.On("DistinctAirports", mock.Anything).Return([]string{"LIMC"}, nil)
	flights.On("PurgeOrphaned", mock.Anything, []string{"LIMC"}).Return(int64(0), nil)
	flights.On("BulkUpsert", mock.Anything, mock.MatchedBy(func(records []*data.FlightRecord) bool {
		return len(records) == 2 &&
			records[0].Direction == data.DirectionDeparture &&
			records[1].Direction == data.DirectionArrival &&
			records[0].Callsign == "AZA123" // trailing padding trimmed
	})).Return(int64(2), nil)
	flights.On("CountInWindow", mock.Anything, "LIMC", mock.Anything).Return(int64(42), nil)
	subs.On("ListByAirport", mock.Anything, "LIMC").Return([]*data.Subscription{
		{UserEmail: "mario@example.it", AirportICAO: "LIMC", HighThreshold: intPtr(40)},
		{UserEmail: "luigi@example.it", AirportICAO: "LIMC", LowThreshold: intPtr(50)},
	}, nil)
	results.On("PublishJSON", mock.Anything, "LIMC", mock.MatchedBy(func(r *model.CollectionResult) bool {
		return r.AirportICAO == "LIMC" && r.FlightsCount == 42
	})).Return(nil).Twice()

	stats, err := uc.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Collected)
	assert.Equal(t, 0, stats.Skipped)
	assert.Equal(t, int64(2), stats.FlightsUpserted)
	assert.Equal(t, 2, stats.ResultsPublished)
	results.AssertExpectations(t)
}

func TestRunCycle_SkipsLockedAirport(t *testing.T) {
	subs := new(MockSubscriptionRepo)
	flights := new(MockFlightRepo)
	results := new(MockPublisher)
	feed := &fakeFeed{
		departures: map[string][]opensky.Flight{"LIRF": {departure("4ca1fa", 1700000000)}},
	}

	locker := &fakeLocker{denied: map[string]bool{"LIMC": true}}
	uc := NewCollectorUsecase(subs, flights, feed, locker, results, collectorConf(), log.DefaultLogger)

	subs.On("DistinctAirports", mock.Anything).Return([]string{"LIMC", "LIRF"}, nil)
	flights.On("PurgeOrphaned", mock.Anything, mock.Anything).Return(int64(0), nil)
	flights.On("BulkUpsert", mock.Anything, mock.Anything).Return(int64(1), nil)
	flights.On("CountInWindow", mock.Anything, "LIRF", mock.Anything).Return(int64(1), nil)
	subs.On("ListByAirport", mock.Anything, "LIRF").Return([]*data.Subscription{}, nil)

	stats, err := uc.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Collected)
	assert.Equal(t, 1, stats.Skipped)
	// The locked airport was never fetched or stored.
	flights.AssertNotCalled(t, "CountInWindow", mock.Anything, "LIMC", mock.Anything)
}

func TestRunCycle_RateLimitSkipsAirportOnly(t *testing.T) {
	subs := new(MockSubscriptionRepo)
	flights := new(MockFlightRepo)
	results := new(MockPublisher)
	feed := &fakeFeed{
		departures: map[string][]opensky.Flight{"LIRF": {departure("4ca1fa", 1700000000)}},
		errs:       map[string]error{"LIMC": opensky.ErrRateLimited},
	}

	uc := NewCollectorUsecase(subs, flights, feed, &fakeLocker{}, results, collectorConf(), log.DefaultLogger)

	subs.On("DistinctAirports", mock.Anything).Return([]string{"LIMC", "LIRF"}, nil)
	flights.On("PurgeOrphaned", mock.Anything, mock.Anything).Return(int64(0), nil)
	flights.On("BulkUpsert", mock.Anything, mock.Anything).Return(int64(1), nil)
	flights.On("CountInWindow", mock.Anything, "LIRF", mock.Anything).Return(int64(1), nil)
	subs.On("ListByAirport", mock.Anything, "LIRF").Return([]*data.Subscription{}, nil)

	stats, err := uc.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Collected)
	assert.Equal(t, 1, stats.Skipped)
}

func TestRunCycle_EmptyAirportSkipsUpsert(t *testing.T) {
	subs := new(MockSubscriptionRepo)
	flights := new(MockFlightRepo)
	results := new(MockPublisher)
	feed := &fakeFeed{} // no flights anywhere

	uc := NewCollectorUsecase(subs, flights, feed, &fakeLocker{}, results, collectorConf(), log.DefaultLogger)

	subs.On("DistinctAirports", mock.Anything).Return([]string{"LIMC"}, nil)
	flights.On("PurgeOrphaned", mock.Anything, mock.Anything).Return(int64(0), nil)
	flights.On("CountInWindow", mock.Anything, "LIMC", mock.Anything).Return(int64(0), nil)
	subs.On("ListByAirport", mock.Anything, "LIMC").Return([]*data.Subscription{
		{UserEmail: "mario@example.it", AirportICAO: "LIMC", LowThreshold: intPtr(5)},
	}, nil)
	results.On("PublishJSON", mock.Anything, "LIMC", mock.Anything).Return(nil)

	stats, err := uc.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Collected)
	// An empty feed issues no write at all.
	flights.AssertNotCalled(t, "BulkUpsert", mock.Anything, mock.Anything)
	assert.Equal(t, 1, stats.ResultsPublished)
}

func TestRunCycle_OrphanPurgeFailureDoesNotAbort(t *testing.T) {
	subs := new(MockSubscriptionRepo)
	flights := new(MockFlightRepo)
	results := new(MockPublisher)
	feed := &fakeFeed{
		departures: map[string][]opensky.Flight{"LIMC": {departure("4ca1fa", 1700000000)}},
	}

	uc := NewCollectorUsecase(subs, flights, feed, &fakeLocker{}, results, collectorConf(), log.DefaultLogger)

	subs.On("DistinctAirports", mock.Anything).Return([]string{"LIMC"}, nil)
	flights.On("PurgeOrphaned", mock.Anything, mock.Anything).Return(int64(0), assert.AnError)
	flights.On("BulkUpsert", mock.Anything, mock.Anything).Return(int64(1), nil)
	flights.On("CountInWindow", mock.Anything, "LIMC", mock.Anything).Return(int64(1), nil)
	subs.On("ListByAirport", mock.Anything, "LIMC").Return([]*data.Subscription{}, nil)

	stats, err := uc.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Collected)
}

func TestCollectOne(t *testing.T) {
	subs := new(MockSubscriptionRepo)
	flights := new(MockFlightRepo)
	results := new(MockPublisher)
	feed := &fakeFeed{
		departures: map[string][]opensky.Flight{"LIRF": {departure("4ca1fa", 1700000000)}},
	}

	uc := NewCollectorUsecase(subs, flights, feed, &fakeLocker{}, results, collectorConf(), log.DefaultLogger)

	flights.On("BulkUpsert", mock.Anything, mock.Anything).Return(int64(1), nil)
	flights.On("CountInWindow", mock.Anything, "LIRF", mock.Anything).Return(int64(7), nil)
	subs.On("ListByAirport", mock.Anything, "LIRF").Return([]*data.Subscription{
		{UserEmail: "mario@example.it", AirportICAO: "LIRF", HighThreshold: intPtr(5)},
	}, nil)
	results.On("PublishJSON", mock.Anything, "LIRF", mock.Anything).Return(nil).Once()

	assert.NoError(t, uc.CollectOne(context.Background(), "LIRF"))
	results.AssertExpectations(t)
}

func TestCollectOne_LockedReturnsBusy(t *testing.T) {
	locker := &fakeLocker{denied: map[string]bool{"LIRF": true}}
	uc := NewCollectorUsecase(new(MockSubscriptionRepo), new(MockFlightRepo), &fakeFeed{}, locker, new(MockPublisher), collectorConf(), log.DefaultLogger)

	assert.ErrorIs(t, uc.CollectOne(context.Background(), "LIRF"), ErrAirportBusy)
}

func TestCollectOne_FailureIsNotBusy(t *testing.T) {
	feed := &fakeFeed{errs: map[string]error{"LIRF": opensky.ErrRateLimited}}
	uc := NewCollectorUsecase(new(MockSubscriptionRepo), new(MockFlightRepo), feed, &fakeLocker{}, new(MockPublisher), collectorConf(), log.DefaultLogger)

	// A rate-limited fetch is a failure the caller must see, distinct
	// from the lock being held.
	err := uc.CollectOne(context.Background(), "LIRF")
	assert.ErrorIs(t, err, opensky.ErrRateLimited)
	assert.NotErrorIs(t, err, ErrAirportBusy)
}

func TestPurgeStaleFlights_UsesDoubleWindow(t *testing.T) {
	flights := new(MockFlightRepo)
	uc := NewCollectorUsecase(new(MockSubscriptionRepo), flights, &fakeFeed{}, &fakeLocker{}, new(MockPublisher), collectorConf(), log.DefaultLogger)

	fixed := time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC)
	uc.now = func() time.Time { return fixed }

	flights.On("PurgeOlderThan", mock.Anything, fixed.Add(-48*time.Hour)).Return(int64(10), nil)

	removed, err := uc.PurgeStaleFlights(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(10), removed)
}
