package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("GATEWAY_SECRET_KEY", "sk_test_123")

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.env"))

	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.HTTPAddr)
	assert.Equal(t, 5*time.Second, cfg.Gateway.Timeout)
	assert.Equal(t, 4, cfg.Gateway.MaxAttempts)
	assert.Equal(t, "BRAN", cfg.Gateway.MerchantPrefix)
	assert.Equal(t, time.Minute, cfg.Reconcile.Interval)
	assert.Empty(t, cfg.Kafka.Brokers)
	assert.Equal(t, []string{"http://localhost:3000"}, cfg.CORSAllowedOrigins)
}

func TestLoad_RequiresSecret(t *testing.T) {
	t.Setenv("GATEWAY_SECRET_KEY", "")

	_, err := Load(filepath.Join(t.TempDir(), "missing.env"))

	assert.ErrorContains(t, err, "GATEWAY_SECRET_KEY")
}

func TestLoad_EnvFileAndOverrides(t *testing.T) {
	dir := t.TempDir()
	envFile := filepath.Join(dir, "test.env")
	require.NoError(t, os.WriteFile(envFile, []byte("GATEWAY_SECRET_KEY=from_file\nKAFKA_BROKERS=k1:9092, k2:9092\n"), 0o600))
	t.Setenv("CALLBACK_BASE_URL", "https://shop.example.com/")
	t.Setenv("GATEWAY_TIMEOUT", "3s")
	// godotenv never overrides variables that are already set
	t.Setenv("KAFKA_BROKERS", "")
	os.Unsetenv("KAFKA_BROKERS")
	t.Setenv("GATEWAY_SECRET_KEY", "")
	os.Unsetenv("GATEWAY_SECRET_KEY")

	cfg, err := Load(envFile)

	require.NoError(t, err)
	assert.Equal(t, "from_file", cfg.Gateway.SecretKey)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, "https://shop.example.com", cfg.CallbackBaseURL)
	assert.Equal(t, 3*time.Second, cfg.Gateway.Timeout)
}

func TestLoad_RejectsOutOfRangeSettings(t *testing.T) {
	tests := []struct {
		key, value string
	}{
		{"GATEWAY_TIMEOUT", "30s"},
		{"GATEWAY_MAX_ATTEMPTS", "0"},
		{"RECONCILE_INTERVAL", "0s"},
		{"RECONCILE_BATCH_SIZE", "0"},
		{"RECONCILE_BATCH_SIZE", "-5"},
	}
	for _, tt := range tests {
		t.Run(tt.key+"="+tt.value, func(t *testing.T) {
			t.Setenv("GATEWAY_SECRET_KEY", "sk")
			t.Setenv(tt.key, tt.value)

			_, err := Load(filepath.Join(t.TempDir(), "missing.env"))

			assert.ErrorContains(t, err, tt.key)
		})
	}
}

func TestDatabaseConfig_DSN(t *testing.T) {
	db := DatabaseConfig{Host: "db", Port: "5432", Username: "u", Password: "p", Database: "shop", Schema: "public"}
	assert.Equal(t, "postgres://u:p@db:5432/shop?sslmode=disable&search_path=public", db.DSN())

	db.URL = "postgres://override"
	assert.Equal(t, "postgres://override", db.DSN())
}
