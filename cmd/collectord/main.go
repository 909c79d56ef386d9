// Package main is the entry point of the data-collector service.
// It polls the OpenSky Network for every monitored airport, stores the
// flights, and publishes collection results to the durable log.
package main

import (
	"flag"
	"os"

	"flightwatch/internal/broker"
	"flightwatch/internal/conf"
	"flightwatch/internal/server"
	zaplog "flightwatch/pkg/log"

	"github.com/go-kratos/kratos/v2"
	"github.com/go-kratos/kratos/v2/log"
	"github.com/go-kratos/kratos/v2/transport/http"

	_ "go.uber.org/automaxprocs"
)

// go build -ldflags "-X main.Version=x.y.z"
var (
	// Name is the name of the compiled software.
	Name = "collectord"
	// Version is the version of the compiled software.
	Version string
	// flagconf is the config flag.
	flagconf string

	id, _ = os.Hostname()
)

func init() {
	flag.StringVar(&flagconf, "conf", "../../configs/config.yaml", "config path, eg: -conf config.yaml")
}

func newApp(logger log.Logger, hs *http.Server, ms *server.MetricsServer, cs *server.CronServer) *kratos.App {
	return kratos.New(
		kratos.ID(id),
		kratos.Name(Name),
		kratos.Version(Version),
		kratos.Metadata(map[string]string{}),
		kratos.Logger(logger),
		kratos.Server(
			hs,
			ms,
			cs,
		),
	)
}

// newResultsProducer creates the producer for the collection-results topic.
func newResultsProducer(c *conf.Kafka, logger log.Logger) (*broker.Producer, func()) {
	p := broker.NewProducer(c, c.ResultsTopic, logger)
	return p, func() { _ = p.Close() }
}

func main() {
	flag.Parse()

	bc, err := conf.NewBootstrap(flagconf)
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	zapLog, err := zaplog.NewZapLogger(bc.Log, Name)
	if err != nil {
		log.Fatalf("failed to initialize zap logger: %v", err)
	}
	defer zapLog.Sync()

	logger := log.With(zaplog.NewKratosAdapter(zapLog),
		"service.id", id,
		"service.name", Name,
		"service.version", Version,
	)

	log.NewHelper(logger).Infow(
		"msg", "data-collector starting",
		"http.addr", bc.Server.Http.Addr,
		"collector.interval", bc.Collector.Interval.AsDuration().String(),
		"collector.workers", bc.Collector.Workers,
		"kafka.results_topic", bc.Kafka.ResultsTopic,
	)

	app, cleanup, err := wireApp(bc.Server, bc.Data, bc.Upstream, bc.Kafka, bc.Rpc, bc.Collector, logger)
	if err != nil {
		panic(err)
	}
	defer cleanup()

	if err := app.Run(); err != nil {
		panic(err)
	}
}
