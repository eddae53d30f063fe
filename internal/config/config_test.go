package config

import (
	"testing"
	"time"

	"FleetRiskAPI/internal/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_MemoryBackendDefaults(t *testing.T) {
	t.Setenv("STORAGE_BACKEND", "MEMORY")
	t.Setenv("JWT_SECRET", "s3cret")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, StorageMemory, cfg.Storage.Backend)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 50.0, cfg.Risk.MinConfidence)
	assert.Equal(t, 5*time.Second, cfg.Risk.ScorerTimeout)
	assert.Equal(t, 3, cfg.Risk.AlertWriteAttempts)
	assert.Equal(t, "fleet/assets/+/features", cfg.MQTT.FeaturesTopic)
	assert.Equal(t, 15*time.Second, cfg.MQTT.HandlerTimeout)
	assert.Equal(t, []string{"GET", "POST", "PUT", "OPTIONS"}, cfg.Security.CORSAllowedMethods)
	assert.Equal(t, logger.INFO, cfg.Logging.Level)
	assert.NoError(t, cfg.Validate())
}

func TestLoad_PostgresRequiresDatabaseVars(t *testing.T) {
	t.Setenv("STORAGE_BACKEND", "postgres")
	for _, key := range requiredPostgresEnvVars {
		t.Setenv(key, "")
	}
	t.Setenv("DB_HOST", "db")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "DB_PASSWORD")
	assert.NotContains(t, err.Error(), "DB_HOST")
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("STORAGE_BACKEND", "memory")
	t.Setenv("MIN_CONFIDENCE", "65.5")
	t.Setenv("CHANNEL_TIMEOUT", "3s")
	t.Setenv("REQUIRE_AUTH", "false")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("SERVER_PORT", "not-a-number")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 65.5, cfg.Risk.MinConfidence)
	assert.Equal(t, 3*time.Second, cfg.Risk.ChannelTimeout)
	assert.False(t, cfg.Security.RequireAuth)
	assert.Equal(t, logger.DEBUG, cfg.Logging.Level)
	assert.Equal(t, 8080, cfg.Server.Port, "unparseable values fall back to the default")
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			Server:       ServerConfig{Port: 8080},
			Database:     DatabaseConfig{Port: 5432, Password: "pw"},
			Storage:      StorageConfig{Backend: StoragePostgres},
			MQTT:         MQTTConfig{Enabled: true, Port: 1883},
			Security:     SecurityConfig{RequireAuth: true, JWTSecret: "k"},
			Risk:         RiskConfig{MinConfidence: 50, AlertWriteAttempts: 3, ScorerTimeout: time.Second, LedgerTimeout: time.Second, ChannelTimeout: time.Second},
			Notification: NotificationConfig{DispatchConcurrency: 4},
		}
	}

	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{"valid", func(c *Config) {}, ""},
		{"unknown backend", func(c *Config) { c.Storage.Backend = "sqlite" }, "STORAGE_BACKEND"},
		{"empty db password", func(c *Config) { c.Database.Password = "" }, "DB_PASSWORD"},
		{"memory ignores db password", func(c *Config) { c.Storage.Backend = StorageMemory; c.Database.Password = "" }, ""},
		{"missing jwt secret", func(c *Config) { c.Security.JWTSecret = "" }, "JWT_SECRET"},
		{"auth disabled needs no secret", func(c *Config) { c.Security.RequireAuth = false; c.Security.JWTSecret = "" }, ""},
		{"confidence out of range", func(c *Config) { c.Risk.MinConfidence = 120 }, "MIN_CONFIDENCE"},
		{"zero attempts", func(c *Config) { c.Risk.AlertWriteAttempts = 0 }, "ALERT_WRITE_ATTEMPTS"},
		{"zero channel timeout", func(c *Config) { c.Risk.ChannelTimeout = 0 }, "CHANNEL_TIMEOUT"},
		{"mqtt port ignored when disabled", func(c *Config) { c.MQTT.Enabled = false; c.MQTT.Port = 0 }, ""},
		{"bad mqtt port", func(c *Config) { c.MQTT.Port = 70000 }, "MQTT_PORT"},
		{"zero concurrency", func(c *Config) { c.Notification.DispatchConcurrency = 0 }, "DISPATCH_CONCURRENCY"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
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

func TestGetDSN(t *testing.T) {
	cfg := &Config{Database: DatabaseConfig{Host: "db", Port: 5432, User: "u", Password: "p", Database: "fleet", SSLMode: "disable"}}
	assert.Equal(t, "host=db port=5432 user=u password=p dbname=fleet sslmode=disable", cfg.GetDSN())
}
