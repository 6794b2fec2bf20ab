package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	ServiceName string
	Environment string
	HTTPAddr    string

	PostgresURL    string
	MigrationsPath string
	DBTimeout      time.Duration

	RedisAddr      string
	StatusCacheTTL time.Duration

	KafkaBrokers      []string
	NotificationTopic string
	OrderEventsTopic  string
	WorkerGroupID     string

	MidtransServerKey  string
	MidtransProduction bool
	ClientURL          string
	PaymentTimeout     time.Duration

	OTLPEndpoint    string
	ShutdownTimeout time.Duration
}

// Load reads the configuration from the environment. A .env file in the
// working directory is loaded first when present; real env vars win.
func Load() (Config, error) {
	_ = godotenv.Load()

	var errs []error
	cfg := Config{
		ServiceName:       getenv("SERVICE_NAME", "flowershop-api"),
		Environment:       getenv("APP_ENV", "development"),
		HTTPAddr:          getenv("HTTP_ADDR", ":8080"),
		PostgresURL:       os.Getenv("POSTGRES_URL"),
		MigrationsPath:    getenv("MIGRATIONS_PATH", "file://migrations"),
		RedisAddr:         os.Getenv("REDIS_ADDR"),
		KafkaBrokers:      splitCSV(os.Getenv("KAFKA_BROKERS")),
		NotificationTopic: getenv("NOTIFICATION_TOPIC", "payment.notifications"),
		OrderEventsTopic:  getenv("ORDER_EVENTS_TOPIC", "order.events"),
		WorkerGroupID:     getenv("WORKER_GROUP_ID", "payment-notification-worker"),
		MidtransServerKey: os.Getenv("MIDTRANS_SERVER_KEY"),
		ClientURL:         strings.TrimRight(getenv("CLIENT_URL", "http://localhost:3000"), "/"),
		OTLPEndpoint:      os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
	}

	cfg.DBTimeout = durationEnv("DB_TIMEOUT", 5*time.Second, &errs)
	cfg.StatusCacheTTL = durationEnv("STATUS_CACHE_TTL", 30*time.Second, &errs)
	cfg.PaymentTimeout = durationEnv("PAYMENT_TIMEOUT", 10*time.Second, &errs)
	cfg.ShutdownTimeout = durationEnv("SHUTDOWN_TIMEOUT", 10*time.Second, &errs)
	cfg.MidtransProduction = boolEnv("MIDTRANS_PRODUCTION", false, &errs)

	if cfg.PostgresURL == "" {
		errs = append(errs, errors.New("POSTGRES_URL environment variable is required"))
	}
	if cfg.MidtransServerKey == "" {
		errs = append(errs, errors.New("MIDTRANS_SERVER_KEY environment variable is required"))
	}

	if err := errors.Join(errs...); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// KafkaEnabled reports whether a broker list was configured.
func (c Config) KafkaEnabled() bool { return len(c.KafkaBrokers) > 0 }

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func durationEnv(k string, def time.Duration, errs *[]error) time.Duration {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		*errs = append(*errs, fmt.Errorf("%s: invalid duration %q", k, v))
		return def
	}
	return d
}

func boolEnv(k string, def bool, errs *[]error) bool {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s: invalid boolean %q", k, v))
		return def
	}
	return b
}

func splitCSV(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	return out
}
