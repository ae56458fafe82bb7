package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	HTTPAddr           string
	LogLevel           string
	CallbackBaseURL    string
	AdminJWTSecret     string
	CORSAllowedOrigins []string

	Database  DatabaseConfig
	Gateway   GatewayConfig
	Kafka     KafkaConfig
	Reconcile ReconcileConfig
}

type DatabaseConfig struct {
	URL      string
	Host     string
	Port     string
	Username string
	Password string
	Database string
	Schema   string
}

type GatewayConfig struct {
	BaseURL        string
	SecretKey      string
	MerchantPrefix string
	Timeout        time.Duration
	MaxAttempts    int
	MaxBackoff     time.Duration
}

type KafkaConfig struct {
	Brokers []string
	Topic   string
}

type ReconcileConfig struct {
	Interval   time.Duration
	StaleAfter time.Duration
	BatchSize  int
}

var defaults = map[string]any{
	"HTTP_ADDR":             ":8080",
	"LOG_LEVEL":             "info",
	"CALLBACK_BASE_URL":     "http://localhost:8080",
	"CORS_ALLOWED_ORIGINS":  "http://localhost:3000",
	"BLUEPRINT_DB_HOST":     "localhost",
	"BLUEPRINT_DB_PORT":     "5432",
	"BLUEPRINT_DB_SCHEMA":   "public",
	"GATEWAY_BASE_URL":      "https://api.paystack.co",
	"MERCHANT_PREFIX":       "BRAN",
	"GATEWAY_TIMEOUT":       "5s",
	"GATEWAY_MAX_ATTEMPTS":  4,
	"GATEWAY_MAX_BACKOFF":   "2s",
	"KAFKA_TOPIC":           "order-events",
	"RECONCILE_INTERVAL":    "1m",
	"RECONCILE_STALE_AFTER": "10m",
	"RECONCILE_BATCH_SIZE":  50,
}

// Load reads .env files (if present), then the environment, then an optional
// YAML file named by SETTLEMENT_CONFIG. Environment wins over the file.
func Load(envFiles ...string) (*Config, error) {
	if err := godotenv.Load(envFiles...); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("godotenv.Load: %w", err)
	}

	v := viper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}
	v.AutomaticEnv()

	if path := os.Getenv("SETTLEMENT_CONFIG"); path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("v.ReadInConfig: %w", err)
		}
	}

	cfg := &Config{
		HTTPAddr:           v.GetString("HTTP_ADDR"),
		LogLevel:           v.GetString("LOG_LEVEL"),
		CallbackBaseURL:    strings.TrimRight(v.GetString("CALLBACK_BASE_URL"), "/"),
		AdminJWTSecret:     v.GetString("ADMIN_JWT_SECRET"),
		CORSAllowedOrigins: splitList(v.GetString("CORS_ALLOWED_ORIGINS")),
		Database: DatabaseConfig{
			URL:      v.GetString("DATABASE_URL"),
			Host:     v.GetString("BLUEPRINT_DB_HOST"),
			Port:     v.GetString("BLUEPRINT_DB_PORT"),
			Username: v.GetString("BLUEPRINT_DB_USERNAME"),
			Password: v.GetString("BLUEPRINT_DB_PASSWORD"),
			Database: v.GetString("BLUEPRINT_DB_DATABASE"),
			Schema:   v.GetString("BLUEPRINT_DB_SCHEMA"),
		},
		Gateway: GatewayConfig{
			BaseURL:        strings.TrimRight(v.GetString("GATEWAY_BASE_URL"), "/"),
			SecretKey:      v.GetString("GATEWAY_SECRET_KEY"),
			MerchantPrefix: v.GetString("MERCHANT_PREFIX"),
			Timeout:        v.GetDuration("GATEWAY_TIMEOUT"),
			MaxAttempts:    v.GetInt("GATEWAY_MAX_ATTEMPTS"),
			MaxBackoff:     v.GetDuration("GATEWAY_MAX_BACKOFF"),
		},
		Kafka: KafkaConfig{
			Brokers: splitList(v.GetString("KAFKA_BROKERS")),
			Topic:   v.GetString("KAFKA_TOPIC"),
		},
		Reconcile: ReconcileConfig{
			Interval:   v.GetDuration("RECONCILE_INTERVAL"),
			StaleAfter: v.GetDuration("RECONCILE_STALE_AFTER"),
			BatchSize:  v.GetInt("RECONCILE_BATCH_SIZE"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if c.Gateway.SecretKey == "" {
		return errors.New("GATEWAY_SECRET_KEY is required")
	}
	if c.Gateway.Timeout <= 0 || c.Gateway.Timeout >= 10*time.Second {
		return fmt.Errorf("GATEWAY_TIMEOUT must be between 0 and 10s, got %s", c.Gateway.Timeout)
	}
	if c.Gateway.MaxAttempts < 1 {
		return errors.New("GATEWAY_MAX_ATTEMPTS must be at least 1")
	}
	if c.Reconcile.Interval <= 0 {
		return errors.New("RECONCILE_INTERVAL must be positive")
	}
	if c.Reconcile.BatchSize < 1 {
		return fmt.Errorf("RECONCILE_BATCH_SIZE must be at least 1, got %d", c.Reconcile.BatchSize)
	}
	return nil
}

// DSN returns DATABASE_URL when set, otherwise builds one from the BLUEPRINT_DB_* parts.
func (c DatabaseConfig) DSN() string {
	if c.URL != "" {
		return c.URL
	}
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s?sslmode=disable&search_path=%s",
		c.Username, c.Password, c.Host, c.Port, c.Database, c.Schema,
	)
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
