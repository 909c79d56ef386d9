package data

import (
	"context"
	"fmt"
	"time"

	pkgerrors "flightwatch/pkg/errors"

	"github.com/go-kratos/kratos/v2/log"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Subscription is the GORM model for the subscriptions table.
//
// A subscription is a user's interest in one airport. Thresholds are
// optional: a nil high threshold means "never alert on high traffic",
// same for low. One row per (user, airport).
type Subscription struct {
	ID            int64     `gorm:"primaryKey;column:id"`
	UserEmail     string    `gorm:"column:user_email;size:255;not null;uniqueIndex:uk_user_airport,priority:1"`
	AirportICAO   string    `gorm:"column:airport_icao;size:4;not null;uniqueIndex:uk_user_airport,priority:2;index"`
	HighThreshold *int      `gorm:"column:high_threshold"`
	LowThreshold  *int      `gorm:"column:low_threshold"`
	CreatedAt     time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt     time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName specifies the table name for GORM.
func (Subscription) TableName() string {
	return "subscriptions"
}

// SubscriptionRepo implements biz.SubscriptionRepo interface.
type SubscriptionRepo struct {
	data   *Data
	db     *gorm.DB
	cache  CacheClient
	logger *log.Helper
}

// NewSubscriptionRepo creates a new subscription repository.
func NewSubscriptionRepo(data *Data, db *gorm.DB, logger log.Logger) *SubscriptionRepo {
	return &SubscriptionRepo{
		data:   data,
		db:     db,
		cache:  data.GetCache(),
		logger: log.NewHelper(logger),
	}
}

// Upsert creates a subscription or updates the thresholds of an existing
// one. Re-subscribing to the same airport is not an error, it replaces
// the thresholds.
func (r *SubscriptionRepo) Upsert(ctx context.Context, sub *Subscription) error {
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_email"}, {Name: "airport_icao"}},
		DoUpdates: clause.AssignmentColumns([]string{"high_threshold", "low_threshold", "updated_at"}),
	}).Create(sub).Error
	if err != nil {
		dbErr := pkgerrors.ClassifyDBError(err)
		r.logger.Errorw("failed to upsert subscription",
			"email", sub.UserEmail,
			"airport", sub.AirportICAO,
			"error", dbErr.Error())
		return dbErr
	}

	r.logger.Infow("subscription upserted",
		"email", sub.UserEmail,
		"airport", sub.AirportICAO)

	// The set of monitored airports may have changed.
	if err := r.cache.Delete(ctx, BuildCacheKey(CacheKeyAirports)); err != nil {
		r.logger.Warnw("failed to invalidate airports cache", "error", err)
	}
	return nil
}

// ListByUser returns the subscriptions of one user ordered by airport.
func (r *SubscriptionRepo) ListByUser(ctx context.Context, email string) ([]*Subscription, error) {
	var subs []*Subscription
	err := r.db.WithContext(ctx).
		Where("user_email = ?", email).
		Order("airport_icao").
		Find(&subs).Error
	if err != nil {
		r.logger.Errorf("failed to list subscriptions for %s: %v", email, err)
		return nil, fmt.Errorf("failed to list subscriptions: %w", err)
	}
	return subs, nil
}

// ListByAirport returns every subscription watching one airport.
// The alert evaluator fans a collection result out over this list.
func (r *SubscriptionRepo) ListByAirport(ctx context.Context, icao string) ([]*Subscription, error) {
	var subs []*Subscription
	err := r.db.WithContext(ctx).
		Where("airport_icao = ?", icao).
		Find(&subs).Error
	if err != nil {
		r.logger.Errorf("failed to list subscriptions for airport %s: %v", icao, err)
		return nil, fmt.Errorf("failed to list subscriptions: %w", err)
	}
	return subs, nil
}

// DistinctAirports returns the set of airports with at least one
// subscription. The result is cached briefly: the collection cycle asks
// for it once per run and the set changes rarely.
func (r *SubscriptionRepo) DistinctAirports(ctx context.Context) ([]string, error) {
	cacheKey := BuildCacheKey(CacheKeyAirports)

	var cached []string
	if err := r.cache.Get(ctx, cacheKey, &cached); err == nil {
		return cached, nil
	}

	var airports []string
	err := r.db.WithContext(ctx).
		Model(&Subscription{}).
		Distinct("airport_icao").
		Order("airport_icao").
		Pluck("airport_icao", &airports).Error
	if err != nil {
		r.logger.Errorf("failed to list distinct airports: %v", err)
		return nil, fmt.Errorf("failed to list distinct airports: %w", err)
	}

	if err := r.cache.Set(ctx, cacheKey, airports, TTLAirports); err != nil {
		r.logger.Warnw("failed to cache airports list", "error", err)
	}
	return airports, nil
}

// Delete removes one subscription. Returns a not-found classified error
// when the user was not subscribed to that airport.
func (r *SubscriptionRepo) Delete(ctx context.Context, email, icao string) error {
	result := r.db.WithContext(ctx).
		Where("user_email = ? AND airport_icao = ?", email, icao).
		Delete(&Subscription{})
	if result.Error != nil {
		dbErr := pkgerrors.ClassifyDBError(result.Error)
		r.logger.Errorw("failed to delete subscription",
			"email", email, "airport", icao, "error", dbErr.Error())
		return dbErr
	}
	if result.RowsAffected == 0 {
		return pkgerrors.ClassifyDBError(gorm.ErrRecordNotFound)
	}

	if err := r.cache.Delete(ctx, BuildCacheKey(CacheKeyAirports)); err != nil {
		r.logger.Warnw("failed to invalidate airports cache", "error", err)
	}
	return nil
}

// DeleteByEmail removes every subscription of one user and returns the
// number of rows removed. Deleting zero rows is fine: the cross-service
// delete saga calls this for users that may never have subscribed.
func (r *SubscriptionRepo) DeleteByEmail(ctx context.Context, email string) (int64, error) {
	result := r.db.WithContext(ctx).
		Where("user_email = ?", email).
		Delete(&Subscription{})
	if result.Error != nil {
		dbErr := pkgerrors.ClassifyDBError(result.Error)
		r.logger.Errorw("failed to delete subscriptions",
			"email", email, "error", dbErr.Error())
		return 0, dbErr
	}

	if result.RowsAffected > 0 {
		if err := r.cache.Delete(ctx, BuildCacheKey(CacheKeyAirports)); err != nil {
			r.logger.Warnw("failed to invalidate airports cache", "error", err)
		}
	}

	r.logger.Infow("subscriptions deleted", "email", email, "count", result.RowsAffected)
	return result.RowsAffected, nil
}
