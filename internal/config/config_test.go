package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("JWT_SECRET", "secret")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, BackendMemory, cfg.StoreBackend)
	assert.Equal(t, 24*time.Hour, cfg.JWTExpiry)
	assert.Equal(t, int64(10_000_000), cfg.TxLimitMinor)
	assert.Equal(t, 5, cfg.ConflictRetries)
	assert.Equal(t, "ledger.entries", cfg.KafkaTopic)
	assert.Empty(t, cfg.KafkaBrokers)
	assert.False(t, cfg.SeedDemoData)
	assert.Equal(t, 300*time.Second, cfg.ConnMaxLifetime())
	assert.Equal(t, time.Minute, cfg.ConnMaxIdleTime())
	assert.Equal(t, 2*time.Second, cfg.KafkaPublishTimeout)
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("JWT_SECRET", "secret")
	t.Setenv("STORE_BACKEND", "postgres")
	t.Setenv("DATABASE_URL", "postgres://localhost/ledger")
	t.Setenv("KAFKA_BROKERS", "k1:9092,k2:9092")
	t.Setenv("JWT_EXPIRY", "90m")
	t.Setenv("SEED_DEMO_DATA", "true")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, BackendPostgres, cfg.StoreBackend)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.KafkaBrokers)
	assert.Equal(t, 90*time.Minute, cfg.JWTExpiry)
	assert.True(t, cfg.SeedDemoData)
}

func TestLoad_MissingSecret(t *testing.T) {
	t.Setenv("JWT_SECRET", "")

	_, err := Load()
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	valid := func() Config {
		return Config{
			Port:                8080,
			StoreBackend:        BackendMemory,
			JWTSecret:           "secret",
			JWTExpiry:           time.Hour,
			AuthRateLimitPerMin: 10,
		}
	}

	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{name: "valid memory", mutate: func(*Config) {}},
		{
			name:    "postgres without url",
			mutate:  func(c *Config) { c.StoreBackend = BackendPostgres },
			wantErr: "DATABASE_URL",
		},
		{
			name:    "sqlite without path",
			mutate:  func(c *Config) { c.StoreBackend = BackendSQLite },
			wantErr: "SQLITE_PATH",
		},
		{
			name:    "unknown backend",
			mutate:  func(c *Config) { c.StoreBackend = "mongo" },
			wantErr: "STORE_BACKEND",
		},
		{
			name:    "negative limit",
			mutate:  func(c *Config) { c.TxLimitMinor = -1 },
			wantErr: "TX_LIMIT_MINOR",
		},
		{
			name:    "negative retries",
			mutate:  func(c *Config) { c.ConflictRetries = -1 },
			wantErr: "CONFLICT_RETRIES",
		},
		{
			name:    "zero expiry",
			mutate:  func(c *Config) { c.JWTExpiry = 0 },
			wantErr: "JWT_EXPIRY",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(&cfg)

			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
