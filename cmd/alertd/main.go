// Package main is the entry point of the alert-evaluator service.
// It consumes collection results, checks each against the subscriber's
// thresholds, and publishes notifications for the crossings.
package main

import (
	"context"
	"flag"
	"os"

	"flightwatch/internal/biz"
	"flightwatch/internal/broker"
	"flightwatch/internal/conf"
	"flightwatch/internal/rpc"
	"flightwatch/internal/server"
	zaplog "flightwatch/pkg/log"

	"github.com/go-kratos/kratos/v2"
	"github.com/go-kratos/kratos/v2/log"
	"github.com/segmentio/kafka-go"

	_ "go.uber.org/automaxprocs"
)

// go build -ldflags "-X main.Version=x.y.z"
var (
	// Name is the name of the compiled software.
	Name = "alertd"
	// Version is the version of the compiled software.
	Version string
	// flagconf is the config flag.
	flagconf string

	id, _ = os.Hostname()
)

func init() {
	flag.StringVar(&flagconf, "conf", "../../configs/config.yaml", "config path, eg: -conf config.yaml")
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

	users, err := rpc.NewUserManagerClient(bc.Rpc, logger)
	if err != nil {
		log.NewHelper(logger).Fatalf("failed to dial user-manager: %v", err)
	}

	notifications := broker.NewProducer(bc.Kafka, bc.Kafka.NotificationsTopic, logger)
	defer notifications.Close()

	uc := biz.NewAlertUsecase(users, notifications, logger)

	consumer := broker.NewConsumer(bc.Kafka, bc.Kafka.ResultsTopic, bc.Kafka.EvaluatorGroup, logger)
	consumerServer := server.NewConsumerServer(consumer, func(ctx context.Context, msg kafka.Message) error {
		return uc.HandleResult(ctx, msg.Value)
	})

	log.NewHelper(logger).Infow(
		"msg", "alert-evaluator starting",
		"kafka.results_topic", bc.Kafka.ResultsTopic,
		"kafka.group", bc.Kafka.EvaluatorGroup,
		"metrics.addr", bc.Server.MetricsAddr,
	)

	app := kratos.New(
		kratos.ID(id),
		kratos.Name(Name),
		kratos.Version(Version),
		kratos.Metadata(map[string]string{}),
		kratos.Logger(logger),
		kratos.Server(
			consumerServer,
			server.NewMetricsServer(bc.Server, logger),
		),
	)

	if err := app.Run(); err != nil {
		panic(err)
	}
}
