//go:build wireinject
// +build wireinject

// The build tag makes sure the stub is not built in the final build.

package main

import (
	"flightwatch/internal/biz"
	"flightwatch/internal/broker"
	"flightwatch/internal/conf"
	"flightwatch/internal/data"
	"flightwatch/internal/opensky"
	"flightwatch/internal/rpc"
	"flightwatch/internal/server"
	"flightwatch/internal/service"

	"github.com/go-kratos/kratos/v2"
	"github.com/go-kratos/kratos/v2/log"
	"github.com/google/wire"
)

// wireApp init kratos application.
func wireApp(*conf.Server, *conf.Data, *conf.Upstream, *conf.Kafka, *conf.RPC, *conf.Collector, log.Logger) (*kratos.App, func(), error) {
	panic(wire.Build(
		data.ProviderSet,
		opensky.NewBreaker,
		opensky.NewTokenSource,
		opensky.NewClient,
		rpc.NewUserManagerClient,
		newResultsProducer,
		biz.ProviderSet,
		service.ProviderSet,
		server.ProviderSet,
		newCycleCron,
		newApp,
		wire.Bind(new(biz.SubscriptionRepo), new(*data.SubscriptionRepo)),
		wire.Bind(new(biz.FlightRepo), new(*data.FlightRepo)),
		wire.Bind(new(biz.UserManagerRPC), new(*rpc.UserManagerClient)),
		wire.Bind(new(biz.FlightFeed), new(*opensky.Client)),
		wire.Bind(new(biz.AirportLocker), new(*data.AirportLocker)),
		wire.Bind(new(biz.ResultPublisher), new(*broker.Producer)),
		wire.Bind(new(server.RouteRegistrar), new(*service.CollectorService)),
	))
}
