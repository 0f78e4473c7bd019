package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	AppEnv   string
	LogLevel string

	HTTPPort       int
	GRPCPort       int
	RequestTimeout time.Duration

	Postgres Postgres

	MongoURI    string
	MongoDBName string

	RedisAddr     string
	RedisPassword string

	KafkaBrokers      []string
	OrderEventsTopic  string
	CartConsumerGroup string

	Payment Payment

	Currency          string
	DeliveryCharge    int64
	PendingPaymentTTL time.Duration

	OTelEndpoint string
}

type Postgres struct {
	Host           string
	Port           int
	User           string
	Password       string
	DBName         string
	MigrationsPath string
}

type Payment struct {
	GatewayURL    string
	KeyID         string
	KeySecret     string
	WebhookSecret string
	Timeout       time.Duration
}

func Load() Config {
	return Config{
		AppEnv:         getEnv("APP_ENV", "dev"),
		LogLevel:       getEnv("LOG_LEVEL", "info"),
		HTTPPort:       getEnvInt("HTTP_PORT", 8080),
		GRPCPort:       getEnvInt("GRPC_PORT", 8081),
		RequestTimeout: getEnvDuration("REQUEST_TIMEOUT", 30*time.Second),

		Postgres: Postgres{
			Host:           getEnv("POSTGRES_HOST", "localhost"),
			Port:           getEnvInt("POSTGRES_PORT", 5432),
			User:           getEnv("POSTGRES_USER", "postgres"),
			Password:       getEnv("POSTGRES_PASSWORD", "postgres"),
			DBName:         getEnv("POSTGRES_DB", "freshmilk"),
			MigrationsPath: getEnv("MIGRATIONS_PATH", "migrations/postgres"),
		},

		MongoURI:    getEnv("MONGO_URI", "mongodb://localhost:27017"),
		MongoDBName: getEnv("MONGO_DB_NAME", "cartdb"),

		RedisAddr:     getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),

		KafkaBrokers:      getEnvList("KAFKA_BROKERS", []string{"localhost:9092"}),
		OrderEventsTopic:  getEnv("ORDER_EVENTS_TOPIC", "order-events"),
		CartConsumerGroup: getEnv("CART_CONSUMER_GROUP", "cart-clearer"),

		Payment: Payment{
			GatewayURL:    getEnv("PAYMENT_GATEWAY_URL", "http://localhost:8090"),
			KeyID:         getEnv("PAYMENT_KEY_ID", "rzp_test_key"),
			KeySecret:     getEnv("PAYMENT_KEY_SECRET", "rzp_test_secret"),
			WebhookSecret: getEnv("PAYMENT_WEBHOOK_SECRET", "whsec_test"),
			Timeout:       getEnvDuration("PAYMENT_TIMEOUT", 10*time.Second),
		},

		Currency:          getEnv("CURRENCY", "INR"),
		DeliveryCharge:    int64(getEnvInt("DELIVERY_CHARGE", 0)),
		PendingPaymentTTL: getEnvDuration("PENDING_PAYMENT_TTL", 30*time.Minute),

		OTelEndpoint: getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
	}
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func getEnvDuration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}

// getEnvList reads a comma separated list.
func getEnvList(key string, def []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return def
	}
	return out
}
