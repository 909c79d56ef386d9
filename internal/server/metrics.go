package server

import (
	stdhttp "net/http"

	"flightwatch/internal/conf"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/go-kratos/kratos/v2/transport/http"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsServer exposes the Prometheus scrape endpoint and a liveness
// probe on a separate listener, so operational traffic never mixes with
// the API.
type MetricsServer struct {
	*http.Server
}

// NewMetricsServer new the metrics HTTP server.
func NewMetricsServer(c *conf.Server, logger log.Logger) *MetricsServer {
	addr := c.MetricsAddr
	if addr == "" {
		addr = ":8000"
	}

	srv := http.NewServer(http.Address(addr))
	srv.Handle("/metrics", promhttp.Handler())
	srv.HandleFunc("/healthz", func(w stdhttp.ResponseWriter, _ *stdhttp.Request) {
		w.WriteHeader(stdhttp.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	log.NewHelper(logger).Infow("msg", "metrics endpoint ready", "addr", addr)
	return &MetricsServer{Server: srv}
}
