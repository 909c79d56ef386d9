package data

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"flightwatch/internal/conf"
	pkgerrors "flightwatch/pkg/errors"

	"github.com/go-kratos/kratos/v2/log"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// FlightDirection tells whether a record came from the departures or the
// arrivals feed of the upstream network.
type FlightDirection string

// Flight direction constants.
const (
	DirectionDeparture FlightDirection = "departure"
	DirectionArrival   FlightDirection = "arrival"
)

// FlightRecord is the GORM model for the flights table.
//
// The natural key is (icao24, first_seen, airport_icao): the upstream
// network re-serves the same flight on consecutive polls with refined
// estimates, so the same key must land on the same row with only the
// mutable fields updated.
type FlightRecord struct {
	ID                  int64           `gorm:"primaryKey;column:id"`
	ICAO24              string          `gorm:"column:icao24;size:6;not null;uniqueIndex:uk_flight,priority:1"`
	FirstSeen           int64           `gorm:"column:first_seen;not null;uniqueIndex:uk_flight,priority:2"`
	AirportICAO         string          `gorm:"column:airport_icao;size:4;not null;uniqueIndex:uk_flight,priority:3;index:idx_airport_seen,priority:1"`
	LastSeen            int64           `gorm:"column:last_seen;not null;index:idx_airport_seen,priority:2"`
	Callsign            string          `gorm:"column:callsign;size:8"`
	EstDepartureAirport *string         `gorm:"column:est_departure_airport;size:4"`
	EstArrivalAirport   *string         `gorm:"column:est_arrival_airport;size:4"`
	Direction           FlightDirection `gorm:"column:direction;type:enum('departure','arrival');not null"`
	CollectedAt         time.Time       `gorm:"column:collected_at;autoUpdateTime"`
}

// TableName specifies the table name for GORM.
func (FlightRecord) TableName() string {
	return "flights"
}

// upsertRetryBaseDelay is the unit of the jittered backoff between
// deadlock retries. Attempt n sleeps a random duration in
// (0, n*upsertRetryBaseDelay].
const upsertRetryBaseDelay = 250 * time.Millisecond

// FlightRepo implements biz.FlightRepo interface.
type FlightRepo struct {
	db      *gorm.DB
	logger  *log.Helper
	retries int

	// sleep is swappable so tests do not wait out the backoff.
	sleep func(time.Duration)
}

// NewFlightRepo creates a new flight repository. collector.upsert_retries
// is the number of extra attempts a deadlocked bulk upsert gets before
// giving up.
func NewFlightRepo(c *conf.Collector, db *gorm.DB, logger log.Logger) *FlightRepo {
	retries := 0
	if c != nil && c.UpsertRetries > 0 {
		retries = int(c.UpsertRetries)
	}
	return &FlightRepo{
		db:      db,
		logger:  log.NewHelper(logger),
		retries: retries,
		sleep:   time.Sleep,
	}
}

// BulkUpsert writes a batch of flight records in one statement.
//
// Conflicts on the natural key update only the mutable fields; first_seen
// and the key columns are never touched. Concurrent workers upserting
// overlapping airports can deadlock in InnoDB, so a conflict-classified
// failure is retried with jittered backoff before being reported.
func (r *FlightRepo) BulkUpsert(ctx context.Context, records []*FlightRecord) (int64, error) {
	if len(records) == 0 {
		return 0, nil
	}

	var lastErr error
	for attempt := 0; attempt <= r.retries; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(rand.Int63n(int64(upsertRetryBaseDelay))) * time.Duration(attempt)
			r.logger.Warnw("retrying bulk upsert after conflict",
				"attempt", attempt,
				"backoff", backoff.String(),
				"records", len(records))
			r.sleep(backoff)
		}

		result := r.db.WithContext(ctx).Clauses(clause.OnConflict{
			Columns: []clause.Column{
				{Name: "icao24"}, {Name: "first_seen"}, {Name: "airport_icao"},
			},
			DoUpdates: clause.AssignmentColumns([]string{
				"last_seen", "callsign", "est_departure_airport", "est_arrival_airport", "collected_at",
			}),
		}).Create(&records)

		if result.Error == nil {
			return result.RowsAffected, nil
		}

		lastErr = result.Error
		if !pkgerrors.IsConflictError(result.Error) {
			break
		}
	}

	dbErr := pkgerrors.ClassifyDBError(lastErr)
	r.logger.Errorw("bulk upsert failed",
		"records", len(records),
		"error", dbErr.Error())
	return 0, dbErr
}

// CountInWindow counts the flights seen at an airport whose last sighting
// falls inside [since, now]. This is the number the alert thresholds are
// compared against.
func (r *FlightRepo) CountInWindow(ctx context.Context, icao string, since time.Time) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&FlightRecord{}).
		Where("airport_icao = ? AND last_seen >= ?", icao, since.Unix()).
		Count(&count).Error
	if err != nil {
		r.logger.Errorf("failed to count flights for %s: %v", icao, err)
		return 0, fmt.Errorf("failed to count flights: %w", err)
	}
	return count, nil
}

// ListRecent returns the most recently seen flights for an airport,
// newest first, capped at limit.
func (r *FlightRepo) ListRecent(ctx context.Context, icao string, limit int) ([]*FlightRecord, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}

	var flights []*FlightRecord
	err := r.db.WithContext(ctx).
		Where("airport_icao = ?", icao).
		Order("last_seen DESC").
		Limit(limit).
		Find(&flights).Error
	if err != nil {
		r.logger.Errorf("failed to list flights for %s: %v", icao, err)
		return nil, fmt.Errorf("failed to list flights: %w", err)
	}
	return flights, nil
}

// PurgeOlderThan removes flight rows whose last sighting predates the
// cutoff. Old rows only inflate the table, the alert window never looks
// that far back.
func (r *FlightRepo) PurgeOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	result := r.db.WithContext(ctx).
		Where("last_seen < ?", cutoff.Unix()).
		Delete(&FlightRecord{})
	if result.Error != nil {
		r.logger.Errorf("failed to purge flights: %v", result.Error)
		return 0, fmt.Errorf("failed to purge flights: %w", result.Error)
	}

	if result.RowsAffected > 0 {
		r.logger.Infow("purged stale flights", "count", result.RowsAffected)
	}
	return result.RowsAffected, nil
}

// PurgeOrphaned removes flight rows for airports nobody subscribes to
// anymore. With no active airports at all, everything goes.
func (r *FlightRepo) PurgeOrphaned(ctx context.Context, active []string) (int64, error) {
	q := r.db.WithContext(ctx)
	if len(active) == 0 {
		q = q.Where("1 = 1")
	} else {
		q = q.Where("airport_icao NOT IN ?", active)
	}

	result := q.Delete(&FlightRecord{})
	if result.Error != nil {
		r.logger.Errorf("failed to purge orphaned flights: %v", result.Error)
		return 0, fmt.Errorf("failed to purge orphaned flights: %w", result.Error)
	}

	if result.RowsAffected > 0 {
		r.logger.Infow("purged orphaned flights", "count", result.RowsAffected)
	}
	return result.RowsAffected, nil
}
