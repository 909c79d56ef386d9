package biz

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"flightwatch/internal/data"
	pkgerrors "flightwatch/pkg/errors"

	"github.com/go-kratos/kratos/v2/log"
)

// UserManagerRPC is the slice of the user-manager surface the collector
// needs. Implementation is rpc.UserManagerClient.
type UserManagerRPC interface {
	VerifyPrincipal(ctx context.Context, email string) (bool, error)
}

// Subscription errors the transport layer maps to status codes.
var (
	// ErrUnknownPrincipal means the user-manager does not know the email.
	ErrUnknownPrincipal = errors.New("email does not belong to a registered user")
	// ErrInvalidAirport means the ICAO code is malformed.
	ErrInvalidAirport = errors.New("airport must be a 4-letter ICAO code")
	// ErrInvalidThresholds means the threshold pair cannot ever fire.
	ErrInvalidThresholds = errors.New("high threshold must be greater than low threshold")
	// ErrSubscriptionNotFound means the user is not watching that airport.
	ErrSubscriptionNotFound = errors.New("subscription not found")
)

var icaoPattern = regexp.MustCompile(`^[A-Z]{4}$`)

// SubscriptionUsecase manages airport subscriptions on the collector side.
type SubscriptionUsecase struct {
	subs    SubscriptionRepo
	flights FlightRepo
	users   UserManagerRPC
	logger  *log.Helper
}

// NewSubscriptionUsecase creates a subscription usecase.
func NewSubscriptionUsecase(subs SubscriptionRepo, flights FlightRepo, users UserManagerRPC, logger log.Logger) *SubscriptionUsecase {
	return &SubscriptionUsecase{
		subs:    subs,
		flights: flights,
		users:   users,
		logger:  log.NewHelper(logger),
	}
}

// Subscribe registers or updates a user's interest in an airport.
// The email must belong to a registered user; the check goes to the
// user-manager, the system of record for principals.
func (uc *SubscriptionUsecase) Subscribe(ctx context.Context, sub *data.Subscription) error {
	if !icaoPattern.MatchString(sub.AirportICAO) {
		return ErrInvalidAirport
	}
	if sub.HighThreshold != nil && sub.LowThreshold != nil && *sub.HighThreshold <= *sub.LowThreshold {
		return ErrInvalidThresholds
	}

	registered, err := uc.users.VerifyPrincipal(ctx, sub.UserEmail)
	if err != nil {
		return fmt.Errorf("failed to verify principal: %w", err)
	}
	if !registered {
		return ErrUnknownPrincipal
	}

	return uc.subs.Upsert(ctx, sub)
}

// List returns the subscriptions of one user.
func (uc *SubscriptionUsecase) List(ctx context.Context, email string) ([]*data.Subscription, error) {
	return uc.subs.ListByUser(ctx, email)
}

// Unsubscribe removes one subscription.
func (uc *SubscriptionUsecase) Unsubscribe(ctx context.Context, email, icao string) error {
	err := uc.subs.Delete(ctx, email, icao)
	if err != nil {
		if pkgerrors.IsNotFoundError(err) {
			return ErrSubscriptionNotFound
		}
		return err
	}
	return nil
}

// DeleteDownstreamState removes every subscription of a user. It backs
// the RPC operation the user-manager's deletion saga pivots on, so it
// must be idempotent: deleting an unknown email removes zero rows and
// succeeds.
func (uc *SubscriptionUsecase) DeleteDownstreamState(ctx context.Context, email string) (int64, error) {
	return uc.subs.DeleteByEmail(ctx, email)
}

// RecentFlights returns the latest collected flights for an airport.
func (uc *SubscriptionUsecase) RecentFlights(ctx context.Context, icao string, limit int) ([]*data.FlightRecord, error) {
	if !icaoPattern.MatchString(icao) {
		return nil, ErrInvalidAirport
	}
	return uc.flights.ListRecent(ctx, icao, limit)
}

// LatestFlight returns the most recently seen flight for an airport, or
// nil when nothing has been collected yet.
func (uc *SubscriptionUsecase) LatestFlight(ctx context.Context, icao string) (*data.FlightRecord, error) {
	flights, err := uc.RecentFlights(ctx, icao, 1)
	if err != nil {
		return nil, err
	}
	if len(flights) == 0 {
		return nil, nil
	}
	return flights[0], nil
}

// AverageDaily returns the mean number of flights per day over the last
// days days. days is clamped to [1, 30].
func (uc *SubscriptionUsecase) AverageDaily(ctx context.Context, icao string, days int) (float64, error) {
	if !icaoPattern.MatchString(icao) {
		return 0, ErrInvalidAirport
	}
	if days < 1 {
		days = 1
	}
	if days > 30 {
		days = 30
	}

	since := time.Now().Add(-time.Duration(days) * 24 * time.Hour)
	count, err := uc.flights.CountInWindow(ctx, icao, since)
	if err != nil {
		return 0, err
	}
	return float64(count) / float64(days), nil
}
