// Package server assembles the transport servers a FlightWatch binary
// runs: the HTTP API, the Prometheus scrape endpoint, and the lifecycle
// adapters for cron schedules and consume loops.
package server

import (
	"flightwatch/internal/conf"
	"flightwatch/internal/server/middleware"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/go-kratos/kratos/v2/middleware/recovery"
	"github.com/go-kratos/kratos/v2/transport/http"
	"github.com/google/wire"
)

// ProviderSet is server providers.
var ProviderSet = wire.NewSet(NewHTTPServer, NewMetricsServer)

// RouteRegistrar mounts a service's routes onto an HTTP server.
type RouteRegistrar interface {
	RegisterRoutes(srv *http.Server)
}

// NewHTTPServer new an HTTP server.
func NewHTTPServer(c *conf.Server, svc RouteRegistrar, logger log.Logger) *http.Server {
	var opts = []http.ServerOption{
		http.Middleware(
			recovery.Recovery(),
			middleware.Logging(logger),
		),
	}
	if c.Http.Network != "" {
		opts = append(opts, http.Network(c.Http.Network))
	}
	if c.Http.Addr != "" {
		opts = append(opts, http.Address(c.Http.Addr))
	}
	if c.Http.Timeout != nil {
		opts = append(opts, http.Timeout(c.Http.Timeout.AsDuration()))
	}
	srv := http.NewServer(opts...)

	svc.RegisterRoutes(srv)

	return srv
}
