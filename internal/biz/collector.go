package biz

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"flightwatch/internal/conf"
	"flightwatch/internal/data"
	"flightwatch/internal/model"
	"flightwatch/internal/opensky"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"golang.org/x/sync/errgroup"
)

// FlightFeed is the slice of the upstream client the collector needs.
// Implementation is opensky.Client.
type FlightFeed interface {
	Departures(ctx context.Context, icao string, begin, end time.Time) ([]opensky.Flight, error)
	Arrivals(ctx context.Context, icao string, begin, end time.Time) ([]opensky.Flight, error)
}

// ResultPublisher publishes collection results to the durable log.
// Implementation is broker.Producer.
type ResultPublisher interface {
	PublishJSON(ctx context.Context, key string, v interface{}) error
}

// AirportLocker hands out per-airport collection locks.
// Implementation is data.AirportLocker.
type AirportLocker interface {
	TryAcquire(ctx context.Context, icao string) (func(), bool)
}

// ErrAirportBusy reports that another worker holds the airport's
// collection lock. Not a failure: the airport is being collected right
// now, just not by this caller.
var ErrAirportBusy = errors.New("airport collection already in progress")

var (
	cyclesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "flightwatch_collection_cycles_total",
		Help: "Completed collection cycles.",
	})
	airportsCollected = promauto.NewCounter(prometheus.CounterOpts{
		Name: "flightwatch_airports_collected_total",
		Help: "Airports successfully collected.",
	})
	airportsSkipped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "flightwatch_airports_skipped_total",
		Help: "Airports skipped during a cycle, by reason.",
	}, []string{"reason"})
	flightsUpserted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "flightwatch_flights_upserted_total",
		Help: "Flight rows written by bulk upserts.",
	})
)

// CycleStats summarizes one collection cycle.
type CycleStats struct {
	Airports         int
	Collected        int
	Skipped          int
	FlightsUpserted  int64
	ResultsPublished int
}

// CollectorUsecase runs the periodic collection cycle: for every airport
// anyone subscribed to, pull the upstream feeds, persist the flights, and
// publish one collection result per subscription.
//
// One airport failing never fails the cycle. Rate limits, upstream
// outages and lock contention all degrade to "skip this airport, catch it
// next cycle".
type CollectorUsecase struct {
	subs    SubscriptionRepo
	flights FlightRepo
	feed    FlightFeed
	locker  AirportLocker
	results ResultPublisher

	window  time.Duration
	workers int
	logger  *log.Helper

	// now is swappable for tests.
	now func() time.Time
}

// NewCollectorUsecase creates the collection coordinator.
func NewCollectorUsecase(subs SubscriptionRepo, flights FlightRepo, feed FlightFeed, locker AirportLocker, results ResultPublisher, c *conf.Collector, logger log.Logger) *CollectorUsecase {
	workers := int(c.Workers)
	if workers <= 0 {
		workers = 1
	}
	return &CollectorUsecase{
		subs:    subs,
		flights: flights,
		feed:    feed,
		locker:  locker,
		results: results,
		window:  c.Window.AsDuration(),
		workers: workers,
		logger:  log.NewHelper(logger),
		now:     time.Now,
	}
}

// RunCycle collects every monitored airport once, bounded by the worker
// pool size.
func (uc *CollectorUsecase) RunCycle(ctx context.Context) (*CycleStats, error) {
	airports, err := uc.subs.DistinctAirports(ctx)
	if err != nil {
		return nil, err
	}

	// Drop data for airports nobody watches anymore. Its own failure
	// boundary: a GC hiccup never aborts the cycle.
	if _, err := uc.flights.PurgeOrphaned(ctx, airports); err != nil {
		uc.logger.Warnw("orphaned flight purge failed", "error", err)
	}

	stats := &CycleStats{Airports: len(airports)}
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(uc.workers)

	for _, icao := range airports {
		icao := icao
		g.Go(func() error {
			upserted, published, err := uc.collectAirport(gctx, icao)

			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				stats.Collected++
				stats.FlightsUpserted += upserted
				stats.ResultsPublished += published
			} else {
				stats.Skipped++
			}
			return nil
		})
	}

	// Goroutines never return errors; Wait only propagates cancellation.
	if err := g.Wait(); err != nil {
		return stats, err
	}

	cyclesTotal.Inc()
	uc.logger.Infow("collection cycle finished",
		"airports", stats.Airports,
		"collected", stats.Collected,
		"skipped", stats.Skipped,
		"flights_upserted", stats.FlightsUpserted,
		"results_published", stats.ResultsPublished)
	return stats, nil
}

// CollectOne collects a single airport on demand, typically right after
// a new subscription. ErrAirportBusy means the periodic cycle already
// holds the airport; the caller can treat that as "in progress" rather
// than a failure. Any other error is a genuine collection failure.
func (uc *CollectorUsecase) CollectOne(ctx context.Context, icao string) error {
	_, _, err := uc.collectAirport(ctx, icao)
	return err
}

// collectAirport handles one airport end to end. A nil error means the
// airport counts as collected; ErrAirportBusy means another worker got
// there first.
func (uc *CollectorUsecase) collectAirport(ctx context.Context, icao string) (upserted int64, published int, err error) {
	release, acquired := uc.locker.TryAcquire(ctx, icao)
	if !acquired {
		uc.logger.Infow("airport locked by another worker, skipping", "airport", icao)
		airportsSkipped.WithLabelValues("locked").Inc()
		return 0, 0, ErrAirportBusy
	}
	defer release()

	end := uc.now()
	begin := end.Add(-uc.window)

	records, err := uc.fetchFlights(ctx, icao, begin, end)
	if err != nil {
		if errors.Is(err, opensky.ErrRateLimited) {
			uc.logger.Warnw("upstream rate limit hit, skipping airport", "airport", icao)
			airportsSkipped.WithLabelValues("rate_limited").Inc()
		} else {
			uc.logger.Errorw("failed to fetch flights", "airport", icao, "error", err)
			airportsSkipped.WithLabelValues("upstream_error").Inc()
		}
		return 0, 0, err
	}

	if len(records) > 0 {
		upserted, err = uc.flights.BulkUpsert(ctx, records)
		if err != nil {
			uc.logger.Errorw("failed to persist flights", "airport", icao, "error", err)
			airportsSkipped.WithLabelValues("storage_error").Inc()
			return 0, 0, err
		}
		flightsUpserted.Add(float64(upserted))
	}

	count, err := uc.flights.CountInWindow(ctx, icao, begin)
	if err != nil {
		uc.logger.Errorw("failed to count flights", "airport", icao, "error", err)
		airportsSkipped.WithLabelValues("storage_error").Inc()
		return upserted, 0, err
	}

	subs, err := uc.subs.ListByAirport(ctx, icao)
	if err != nil {
		uc.logger.Errorw("failed to list subscriptions", "airport", icao, "error", err)
		airportsSkipped.WithLabelValues("storage_error").Inc()
		return upserted, 0, err
	}

	for _, sub := range subs {
		result := &model.CollectionResult{
			UserEmail:    sub.UserEmail,
			AirportICAO:  icao,
			FlightsCount: int(count),
			HighValue:    sub.HighThreshold,
			LowValue:     sub.LowThreshold,
		}
		// Keyed by airport so results for one airport stay ordered.
		if err := uc.results.PublishJSON(ctx, icao, result); err != nil {
			uc.logger.Errorw("failed to publish collection result",
				"airport", icao, "email", sub.UserEmail, "error", err)
			continue
		}
		published++
	}

	airportsCollected.Inc()
	uc.logger.Infow("airport collected",
		"airport", icao,
		"flights", count,
		"upserted", upserted,
		"results", published)
	return upserted, published, nil
}

// fetchFlights pulls both feeds and normalizes them into flight rows.
func (uc *CollectorUsecase) fetchFlights(ctx context.Context, icao string, begin, end time.Time) ([]*data.FlightRecord, error) {
	departures, err := uc.feed.Departures(ctx, icao, begin, end)
	if err != nil {
		return nil, err
	}
	arrivals, err := uc.feed.Arrivals(ctx, icao, begin, end)
	if err != nil {
		return nil, err
	}

	records := make([]*data.FlightRecord, 0, len(departures)+len(arrivals))
	for _, f := range departures {
		records = append(records, toRecord(f, icao, data.DirectionDeparture))
	}
	for _, f := range arrivals {
		records = append(records, toRecord(f, icao, data.DirectionArrival))
	}
	return records, nil
}

func toRecord(f opensky.Flight, icao string, dir data.FlightDirection) *data.FlightRecord {
	return &data.FlightRecord{
		ICAO24:              f.ICAO24,
		FirstSeen:           f.FirstSeen,
		AirportICAO:         icao,
		LastSeen:            f.LastSeen,
		Callsign:            strings.TrimSpace(f.Callsign),
		EstDepartureAirport: f.EstDepartureAirport,
		EstArrivalAirport:   f.EstArrivalAirport,
		Direction:           dir,
	}
}

// PurgeStaleFlights drops rows older than twice the alert window. Runs on
// a schedule from the collector's cron.
func (uc *CollectorUsecase) PurgeStaleFlights(ctx context.Context) (int64, error) {
	return uc.flights.PurgeOlderThan(ctx, uc.now().Add(-2*uc.window))
}
