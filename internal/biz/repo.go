package biz

import (
	"context"
	"time"

	"flightwatch/internal/data"
)

// UserRepo defines the user repository interface.
// Following Kratos v2 DDD architecture, interfaces are defined in the biz
// layer; the implementation is data.UserRepo.
type UserRepo interface {
	// CreateUserWithRecord inserts the user and the idempotency record in
	// one transaction. On a duplicate-key race with an identical concurrent
	// request it returns the winner's committed record instead of rec.
	CreateUserWithRecord(ctx context.Context, user *data.User, rec *data.IdempotencyRecord) (*data.IdempotencyRecord, error)
	GetUser(ctx context.Context, email string) (*data.User, error)
	ListUsers(ctx context.Context) ([]*data.User, error)
	ExistsUser(ctx context.Context, email string) (bool, error)
	DeleteUser(ctx context.Context, email string) error
}

// IdempotencyRepo defines the idempotency record repository interface.
// Implementation is data.IdempotencyRepo.
type IdempotencyRepo interface {
	Get(ctx context.Context, key string) (*data.IdempotencyRecord, error)
	PurgeExpired(ctx context.Context, cutoff time.Time) (int64, error)
}

// SubscriptionRepo defines the subscription repository interface.
// Implementation is data.SubscriptionRepo.
type SubscriptionRepo interface {
	Upsert(ctx context.Context, sub *data.Subscription) error
	ListByUser(ctx context.Context, email string) ([]*data.Subscription, error)
	ListByAirport(ctx context.Context, icao string) ([]*data.Subscription, error)
	DistinctAirports(ctx context.Context) ([]string, error)
	Delete(ctx context.Context, email, icao string) error
	DeleteByEmail(ctx context.Context, email string) (int64, error)
}

// FlightRepo defines the flight record repository interface.
// Implementation is data.FlightRepo.
type FlightRepo interface {
	BulkUpsert(ctx context.Context, records []*data.FlightRecord) (int64, error)
	CountInWindow(ctx context.Context, icao string, since time.Time) (int64, error)
	ListRecent(ctx context.Context, icao string, limit int) ([]*data.FlightRecord, error)
	PurgeOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
	PurgeOrphaned(ctx context.Context, active []string) (int64, error)
}
