//go:build wireinject
// +build wireinject

// The build tag makes sure the stub is not built in the final build.

package main

import (
	"flightwatch/internal/biz"
	"flightwatch/internal/conf"
	"flightwatch/internal/data"
	"flightwatch/internal/rpc"
	"flightwatch/internal/server"
	"flightwatch/internal/service"

	"github.com/go-kratos/kratos/v2"
	"github.com/go-kratos/kratos/v2/log"
	"github.com/google/wire"
)

// wireApp init kratos application.
func wireApp(*conf.Server, *conf.Data, *conf.RPC, *conf.Idempotency, *conf.Auth, log.Logger) (*kratos.App, func(), error) {
	panic(wire.Build(
		data.ProviderSet,
		rpc.NewCollectorClient,
		biz.ProviderSet,
		service.ProviderSet,
		server.ProviderSet,
		newCryptoService,
		newSweepCron,
		newApp,
		wire.Bind(new(biz.UserRepo), new(*data.UserRepo)),
		wire.Bind(new(biz.IdempotencyRepo), new(*data.IdempotencyRepo)),
		wire.Bind(new(biz.CollectorRPC), new(*rpc.CollectorClient)),
		wire.Bind(new(server.RouteRegistrar), new(*service.UserService)),
	))
}
