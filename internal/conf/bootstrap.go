// Package conf provides configuration management using Viper.
// It supports loading configuration from YAML files and environment variables,
// with CLI flag overrides.
package conf

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
	"google.golang.org/protobuf/types/known/durationpb"
)

// Bootstrap is the root configuration shared by all FlightWatch binaries.
// Each binary reads the sections it needs and ignores the rest.
type Bootstrap struct {
	Server      *Server
	Data        *Data
	Upstream    *Upstream
	Kafka       *Kafka
	Rpc         *RPC
	Collector   *Collector
	Idempotency *Idempotency
	Smtp        *SMTP
	Auth        *Auth
	Log         *Log
}

// Server holds transport server configuration.
type Server struct {
	Http *ServerHTTP
	// MetricsAddr is where the Prometheus scrape endpoint listens.
	MetricsAddr string
}

// ServerHTTP holds the HTTP server configuration.
type ServerHTTP struct {
	Network string
	Addr    string
	Timeout *durationpb.Duration
}

// Data holds storage configuration.
type Data struct {
	Database *Database
	Redis    *Redis
}

// Database holds the MySQL connection configuration.
type Database struct {
	Driver string
	Source string
}

// Redis holds the Redis connection configuration.
type Redis struct {
	Network      string
	Addr         string
	ReadTimeout  *durationpb.Duration
	WriteTimeout *durationpb.Duration
}

// Upstream configures the OpenSky Network client.
type Upstream struct {
	ApiUrl            string
	AuthUrl           string
	ClientId          string
	ClientSecret      string
	Timeout           *durationpb.Duration
	TokenSafetyMargin *durationpb.Duration
	BreakerThreshold  int32
	BreakerRecovery   *durationpb.Duration
}

// Kafka configures the durable alert log.
type Kafka struct {
	Brokers            []string
	ResultsTopic       string
	NotificationsTopic string
	EvaluatorGroup     string
	NotifierGroup      string
	MaxBatch           int32
	SessionTimeout     *durationpb.Duration
	HeartbeatInterval  *durationpb.Duration
}

// RPC configures the inter-service request/response clients.
type RPC struct {
	UserManagerAddr string
	CollectorAddr   string
	CallTimeout     *durationpb.Duration
}

// Collector configures the collection coordinator.
type Collector struct {
	Interval      *durationpb.Duration
	Window        *durationpb.Duration
	Workers       int32
	UpsertRetries int32
}

// Idempotency configures the registration idempotency cache.
type Idempotency struct {
	Ttl           *durationpb.Duration
	SweepInterval *durationpb.Duration
}

// SMTP configures outbound notification delivery.
type SMTP struct {
	Host     string
	Port     int32
	Username string
	Password string
	Sender   string
}

// Auth holds secrets for data-at-rest protection.
type Auth struct {
	Encryption *Encryption
}

// Encryption holds the AES key used for IBAN encryption.
type Encryption struct {
	Key string
}

// Log holds logging configuration.
type Log struct {
	Level      string
	Format     string
	Env        string
	OutputFile string
}

// NewBootstrap creates and initializes a Bootstrap configuration.
// It loads configuration from the specified config file path, applies defaults,
// and allows overrides from environment variables prefixed with FLIGHTWATCH_.
//
// Configuration priority: CLI flags > Environment variables > Config file > Defaults
//
// Required environment variables:
//   - MYSQL_DSN or FLIGHTWATCH_DATA_DATABASE_SOURCE: MySQL connection string
//   - ENCRYPTION_KEY or FLIGHTWATCH_AUTH_ENCRYPTION_KEY: IBAN encryption key
func NewBootstrap(configPath string) (*Bootstrap, error) {
	v := viper.New()

	setDefaults(v)

	v.SetEnvPrefix("FLIGHTWATCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Direct environment variable names kept for compatibility with the
	// deployment manifests.
	_ = v.BindEnv("data.database.source", "MYSQL_DSN", "FLIGHTWATCH_DATA_DATABASE_SOURCE")
	_ = v.BindEnv("data.redis.addr", "FLIGHTWATCH_DATA_REDIS_ADDR")
	_ = v.BindEnv("kafka.brokers", "KAFKA_BOOTSTRAP_SERVERS", "FLIGHTWATCH_KAFKA_BROKERS")
	_ = v.BindEnv("upstream.client_id", "CLIENT_ID", "FLIGHTWATCH_UPSTREAM_CLIENT_ID")
	_ = v.BindEnv("upstream.client_secret", "CLIENT_SECRET", "FLIGHTWATCH_UPSTREAM_CLIENT_SECRET")
	_ = v.BindEnv("smtp.password", "SMTP_PASSWORD", "FLIGHTWATCH_SMTP_PASSWORD")
	_ = v.BindEnv("auth.encryption.key", "ENCRYPTION_KEY", "FLIGHTWATCH_AUTH_ENCRYPTION_KEY")

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
		}
	}

	bc := &Bootstrap{
		Server: &Server{
			Http: &ServerHTTP{
				Network: v.GetString("server.http.network"),
				Addr:    v.GetString("server.http.addr"),
				Timeout: durationpb.New(v.GetDuration("server.http.timeout")),
			},
			MetricsAddr: v.GetString("server.metrics_addr"),
		},
		Data: &Data{
			Database: &Database{
				Driver: v.GetString("data.database.driver"),
				Source: v.GetString("data.database.source"),
			},
			Redis: &Redis{
				Network:      v.GetString("data.redis.network"),
				Addr:         v.GetString("data.redis.addr"),
				ReadTimeout:  durationpb.New(v.GetDuration("data.redis.read_timeout")),
				WriteTimeout: durationpb.New(v.GetDuration("data.redis.write_timeout")),
			},
		},
		Upstream: &Upstream{
			ApiUrl:            v.GetString("upstream.api_url"),
			AuthUrl:           v.GetString("upstream.auth_url"),
			ClientId:          v.GetString("upstream.client_id"),
			ClientSecret:      v.GetString("upstream.client_secret"),
			Timeout:           durationpb.New(v.GetDuration("upstream.timeout")),
			TokenSafetyMargin: durationpb.New(v.GetDuration("upstream.token_safety_margin")),
			BreakerThreshold:  v.GetInt32("upstream.breaker_threshold"),
			BreakerRecovery:   durationpb.New(v.GetDuration("upstream.breaker_recovery")),
		},
		Kafka: &Kafka{
			Brokers:            v.GetStringSlice("kafka.brokers"),
			ResultsTopic:       v.GetString("kafka.results_topic"),
			NotificationsTopic: v.GetString("kafka.notifications_topic"),
			EvaluatorGroup:     v.GetString("kafka.evaluator_group"),
			NotifierGroup:      v.GetString("kafka.notifier_group"),
			MaxBatch:           v.GetInt32("kafka.max_batch"),
			SessionTimeout:     durationpb.New(v.GetDuration("kafka.session_timeout")),
			HeartbeatInterval:  durationpb.New(v.GetDuration("kafka.heartbeat_interval")),
		},
		Rpc: &RPC{
			UserManagerAddr: v.GetString("rpc.user_manager_addr"),
			CollectorAddr:   v.GetString("rpc.collector_addr"),
			CallTimeout:     durationpb.New(v.GetDuration("rpc.call_timeout")),
		},
		Collector: &Collector{
			Interval:      durationpb.New(v.GetDuration("collector.interval")),
			Window:        durationpb.New(v.GetDuration("collector.window")),
			Workers:       v.GetInt32("collector.workers"),
			UpsertRetries: v.GetInt32("collector.upsert_retries"),
		},
		Idempotency: &Idempotency{
			Ttl:           durationpb.New(v.GetDuration("idempotency.ttl")),
			SweepInterval: durationpb.New(v.GetDuration("idempotency.sweep_interval")),
		},
		Smtp: &SMTP{
			Host:     v.GetString("smtp.host"),
			Port:     v.GetInt32("smtp.port"),
			Username: v.GetString("smtp.username"),
			Password: v.GetString("smtp.password"),
			Sender:   v.GetString("smtp.sender"),
		},
		Auth: &Auth{
			Encryption: &Encryption{
				Key: v.GetString("auth.encryption.key"),
			},
		},
		Log: &Log{
			Level:      v.GetString("log.level"),
			Format:     v.GetString("log.format"),
			Env:        v.GetString("log.env"),
			OutputFile: v.GetString("log.output_file"),
		},
	}

	if err := Validate(bc); err != nil {
		return nil, err
	}

	return bc, nil
}

// setDefaults sets default configuration values.
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.http.network", "tcp")
	v.SetDefault("server.http.addr", ":8080")
	v.SetDefault("server.http.timeout", time.Minute)
	v.SetDefault("server.metrics_addr", ":8000")

	v.SetDefault("data.database.driver", "mysql")
	// Note: data.database.source (MYSQL_DSN) is required from environment

	v.SetDefault("data.redis.network", "tcp")
	v.SetDefault("data.redis.addr", "127.0.0.1:6379")
	v.SetDefault("data.redis.read_timeout", 200*time.Millisecond)
	v.SetDefault("data.redis.write_timeout", 200*time.Millisecond)

	v.SetDefault("upstream.api_url", "https://opensky-network.org/api")
	v.SetDefault("upstream.auth_url", "https://auth.opensky-network.org/auth/realms/opensky-network/protocol/openid-connect/token")
	v.SetDefault("upstream.timeout", 30*time.Second)
	v.SetDefault("upstream.token_safety_margin", 5*time.Minute)
	v.SetDefault("upstream.breaker_threshold", 3)
	v.SetDefault("upstream.breaker_recovery", 60*time.Second)

	v.SetDefault("kafka.brokers", []string{"kafka:9092"})
	v.SetDefault("kafka.results_topic", "flightwatch.collection-results")
	v.SetDefault("kafka.notifications_topic", "flightwatch.notifications")
	v.SetDefault("kafka.evaluator_group", "alert-evaluator-group")
	v.SetDefault("kafka.notifier_group", "alert-notifier-group")
	v.SetDefault("kafka.max_batch", 10)
	v.SetDefault("kafka.session_timeout", 30*time.Second)
	// Heartbeat is about a third of the session timeout so a slow per-message
	// side effect does not get the consumer evicted from its group.
	v.SetDefault("kafka.heartbeat_interval", 10*time.Second)

	v.SetDefault("rpc.user_manager_addr", "user-manager:8080")
	v.SetDefault("rpc.collector_addr", "data-collector:8080")
	v.SetDefault("rpc.call_timeout", 10*time.Second)

	v.SetDefault("collector.interval", 12*time.Hour)
	v.SetDefault("collector.window", 24*time.Hour)
	v.SetDefault("collector.workers", 5)
	v.SetDefault("collector.upsert_retries", 3)

	v.SetDefault("idempotency.ttl", 24*time.Hour)
	v.SetDefault("idempotency.sweep_interval", 10*time.Minute)

	v.SetDefault("smtp.host", "smtp.gmail.com")
	v.SetDefault("smtp.port", 465)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
}

// Validate checks that all required configuration fields are present and valid.
// It returns an error listing all missing required fields.
func Validate(bc *Bootstrap) error {
	var missingFields []string

	if bc.Data == nil || bc.Data.Database == nil || bc.Data.Database.Source == "" {
		missingFields = append(missingFields, "data.database.source (MYSQL_DSN)")
	}
	if bc.Auth == nil || bc.Auth.Encryption == nil || bc.Auth.Encryption.Key == "" {
		missingFields = append(missingFields, "auth.encryption.key (ENCRYPTION_KEY)")
	}

	if len(missingFields) > 0 {
		return fmt.Errorf("missing required configuration: %s", strings.Join(missingFields, ", "))
	}

	if bc.Kafka != nil && bc.Kafka.MaxBatch <= 0 {
		return fmt.Errorf("kafka.max_batch must be positive, got %d", bc.Kafka.MaxBatch)
	}
	if bc.Collector != nil && bc.Collector.Workers <= 0 {
		return fmt.Errorf("collector.workers must be positive, got %d", bc.Collector.Workers)
	}

	return nil
}
