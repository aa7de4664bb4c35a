package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Kafka     KafkaConfig
	Redis     RedisConfig
	Stripe    StripeConfig
	Ledger    LedgerConfig
	RateLimit RateLimitConfig
	CORS      CORSConfig
}

type ServerConfig struct {
	Port         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

type DatabaseConfig struct {
	Host         string
	Port         string
	Username     string
	Password     string
	Database     string
	MaxOpenConns int
	MaxIdleConns int
	MaxLifetime  time.Duration
	TxRetries    int
}

type KafkaConfig struct {
	Brokers  []string
	GroupID  string
	Topic    string
	MockMode bool
}

type RedisConfig struct {
	Addr      string
	SubmitTTL time.Duration
}

type StripeConfig struct {
	SecretKey string
	Currency  string
}

// LedgerConfig selects the session store backend ("mysql" or "memory").
type LedgerConfig struct {
	Store      string
	InstanceID string
}

type RateLimitConfig struct {
	RequestsPerSecond float64
	Burst             int
}

type CORSConfig struct {
	AllowedOrigins []string
}

// Load reads configuration from the environment. Callers load .env first.
func Load() *Config {
	v := viper.New()
	v.AutomaticEnv()
	setDefaults(v)

	return &Config{
		Server: ServerConfig{
			Port:         v.GetString("SERVER_PORT"),
			ReadTimeout:  v.GetDuration("SERVER_READ_TIMEOUT"),
			WriteTimeout: v.GetDuration("SERVER_WRITE_TIMEOUT"),
			IdleTimeout:  v.GetDuration("SERVER_IDLE_TIMEOUT"),
		},
		Database: DatabaseConfig{
			Host:         v.GetString("DB_HOST"),
			Port:         v.GetString("DB_PORT"),
			Username:     v.GetString("DB_USER"),
			Password:     v.GetString("DB_PASS"),
			Database:     v.GetString("DB_NAME"),
			MaxOpenConns: v.GetInt("DB_MAX_OPEN_CONNS"),
			MaxIdleConns: v.GetInt("DB_MAX_IDLE_CONNS"),
			MaxLifetime:  v.GetDuration("DB_MAX_LIFETIME"),
			TxRetries:    v.GetInt("DB_TX_RETRIES"),
		},
		Kafka: KafkaConfig{
			Brokers:  splitList(v.GetString("KAFKA_BROKERS")),
			GroupID:  v.GetString("KAFKA_GROUP_ID"),
			Topic:    v.GetString("KAFKA_TOPIC"),
			MockMode: v.GetBool("KAFKA_MOCK_MODE"),
		},
		Redis: RedisConfig{
			Addr:      v.GetString("REDIS_ADDR"),
			SubmitTTL: v.GetDuration("REDIS_SUBMIT_TTL"),
		},
		Stripe: StripeConfig{
			SecretKey: v.GetString("STRIPE_SECRET_KEY"),
			Currency:  v.GetString("STRIPE_CURRENCY"),
		},
		Ledger: LedgerConfig{
			Store:      v.GetString("LEDGER_STORE"),
			InstanceID: v.GetString("LEDGER_INSTANCE_ID"),
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: v.GetFloat64("RATE_LIMIT_RPS"),
			Burst:             v.GetInt("RATE_LIMIT_BURST"),
		},
		CORS: CORSConfig{
			AllowedOrigins: splitList(v.GetString("CORS_ALLOWED_ORIGINS")),
		},
	}
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("SERVER_PORT", ":8085")
	v.SetDefault("SERVER_READ_TIMEOUT", "15s")
	v.SetDefault("SERVER_WRITE_TIMEOUT", "0s") // SSE streams stay open
	v.SetDefault("SERVER_IDLE_TIMEOUT", "60s")

	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", "3306")
	v.SetDefault("DB_USER", "root")
	v.SetDefault("DB_PASS", "password")
	v.SetDefault("DB_NAME", "pos_ledger")
	v.SetDefault("DB_MAX_OPEN_CONNS", 25)
	v.SetDefault("DB_MAX_IDLE_CONNS", 10)
	v.SetDefault("DB_MAX_LIFETIME", "5m")
	v.SetDefault("DB_TX_RETRIES", 5)

	v.SetDefault("KAFKA_BROKERS", "localhost:29092")
	v.SetDefault("KAFKA_GROUP_ID", "pos-ledger")
	v.SetDefault("KAFKA_TOPIC", "session-events")
	v.SetDefault("KAFKA_MOCK_MODE", true)

	v.SetDefault("REDIS_ADDR", "")
	v.SetDefault("REDIS_SUBMIT_TTL", "30s")

	v.SetDefault("STRIPE_SECRET_KEY", "")
	v.SetDefault("STRIPE_CURRENCY", "mxn")

	v.SetDefault("LEDGER_STORE", "memory")
	v.SetDefault("LEDGER_INSTANCE_ID", "ledger-1")

	v.SetDefault("RATE_LIMIT_RPS", 100)
	v.SetDefault("RATE_LIMIT_BURST", 100)

	v.SetDefault("CORS_ALLOWED_ORIGINS", "*")
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
