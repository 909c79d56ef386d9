// Package biz contains the business logic of the FlightWatch services.
// Repository and transport dependencies are interfaces so each usecase can
// be exercised without a database, a broker, or a peer service.
package biz

import "github.com/google/wire"

// ProviderSet is biz providers.
var ProviderSet = wire.NewSet(
	NewRegistrationUsecase,
	NewDeletionUsecase,
	NewSubscriptionUsecase,
	NewCollectorUsecase,
)
