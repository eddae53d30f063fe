package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"FleetRiskAPI/internal/logger"

	"github.com/joho/godotenv"
)

const (
	StoragePostgres = "postgres"
	StorageMemory   = "memory"
)

type Config struct {
	Server       ServerConfig
	Database     DatabaseConfig
	Storage      StorageConfig
	MQTT         MQTTConfig
	Redis        RedisConfig
	Security     SecurityConfig
	Logging      LoggingConfig
	Risk         RiskConfig
	Model        ModelConfig
	Notification NotificationConfig
}

type ServerConfig struct {
	Host            string
	Port            int
	Environment     string
	ShutdownTimeout time.Duration
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	MaxHeaderBytes  int
}

type DatabaseConfig struct {
	Host            string
	Port            int
	User            string
	Password        string
	Database        string
	SSLMode         string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

type StorageConfig struct {
	Backend string
}

type MQTTConfig struct {
	Enabled        bool
	Broker         string
	Port           int
	ClientID       string
	Username       string
	Password       string
	FeaturesTopic  string
	EventsPrefix   string
	QoS            byte
	RetainMessages bool
	KeepAlive      time.Duration
	ConnectTimeout time.Duration
	HandlerTimeout time.Duration
	AutoReconnect  bool
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	LockTTL  time.Duration
}

type SecurityConfig struct {
	JWTSecret          string
	JWTIssuer          string
	RequireAuth        bool
	CORSAllowedOrigins []string
	CORSAllowedMethods []string
	RateLimitPerMinute int
	EnableRateLimit    bool
}

type LoggingConfig struct {
	Level     logger.Level
	Mode      logger.Mode
	FilePath  string
	UseColors bool
}

// RiskConfig holds the scoring and alerting knobs.
type RiskConfig struct {
	MinConfidence        float64
	ScorerTimeout        time.Duration
	LedgerTimeout        time.Duration
	ChannelTimeout       time.Duration
	AlertWriteAttempts   int
	AlertRetryBackoff    time.Duration
	PendingSweepInterval time.Duration
	PendingSweepBatch    int
}

type ModelConfig struct {
	Endpoint string
	APIKey   string
	Version  string
}

type NotificationConfig struct {
	InAppEnabled        bool
	EmailURL            string
	ChatURL             string
	DispatchConcurrency int
}

var requiredPostgresEnvVars = []string{
	"DB_HOST",
	"DB_PORT",
	"DB_USER",
	"DB_PASSWORD",
	"DB_NAME",
}

func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		fmt.Println("No .env file found, using environment variables")
	}

	storage := loadStorageConfig()
	if storage.Backend == StoragePostgres {
		if err := validateRequired(requiredPostgresEnvVars); err != nil {
			return nil, err
		}
	}

	cfg := &Config{
		Server:       loadServerConfig(),
		Database:     loadDatabaseConfig(),
		Storage:      storage,
		MQTT:         loadMQTTConfig(),
		Redis:        loadRedisConfig(),
		Security:     loadSecurityConfig(),
		Logging:      loadLoggingConfig(),
		Risk:         loadRiskConfig(),
		Model:        loadModelConfig(),
		Notification: loadNotificationConfig(),
	}

	return cfg, nil
}

func validateRequired(keys []string) error {
	var missing []string

	for _, key := range keys {
		if os.Getenv(key) == "" {
			missing = append(missing, key)
		}
	}

	if len(missing) > 0 {
		return fmt.Errorf("missing required environment variables: %s", strings.Join(missing, ", "))
	}

	return nil
}

func loadServerConfig() ServerConfig {
	return ServerConfig{
		Host:            getEnv("SERVER_HOST", "0.0.0.0"),
		Port:            getEnvAsInt("SERVER_PORT", 8080),
		Environment:     getEnv("ENVIRONMENT", "development"),
		ShutdownTimeout: getEnvAsDuration("SHUTDOWN_TIMEOUT", "15s"),
		ReadTimeout:     getEnvAsDuration("READ_TIMEOUT", "10s"),
		WriteTimeout:    getEnvAsDuration("WRITE_TIMEOUT", "45s"),
		MaxHeaderBytes:  getEnvAsInt("MAX_HEADER_BYTES", 1048576),
	}
}

func loadDatabaseConfig() DatabaseConfig {
	return DatabaseConfig{
		Host:            getEnv("DB_HOST", "localhost"),
		Port:            getEnvAsInt("DB_PORT", 5432),
		User:            getEnv("DB_USER", "fleet_admin"),
		Password:        getEnv("DB_PASSWORD", ""),
		Database:        getEnv("DB_NAME", "fleet_cmms"),
		SSLMode:         getEnv("DB_SSL_MODE", "disable"),
		MaxOpenConns:    getEnvAsInt("DB_MAX_OPEN_CONNS", 25),
		MaxIdleConns:    getEnvAsInt("DB_MAX_IDLE_CONNS", 5),
		ConnMaxLifetime: getEnvAsDuration("DB_CONN_MAX_LIFETIME", "5m"),
		ConnMaxIdleTime: getEnvAsDuration("DB_CONN_MAX_IDLE_TIME", "5m"),
	}
}

func loadStorageConfig() StorageConfig {
	return StorageConfig{
		Backend: strings.ToLower(getEnv("STORAGE_BACKEND", StoragePostgres)),
	}
}

func loadMQTTConfig() MQTTConfig {
	return MQTTConfig{
		Enabled:        getEnvAsBool("MQTT_ENABLED", true),
		Broker:         getEnv("MQTT_BROKER", "localhost"),
		Port:           getEnvAsInt("MQTT_PORT", 1883),
		ClientID:       getEnv("MQTT_CLIENT_ID", "fleet-risk-engine"),
		Username:       getEnv("MQTT_USERNAME", ""),
		Password:       getEnv("MQTT_PASSWORD", ""),
		FeaturesTopic:  getEnv("MQTT_FEATURES_TOPIC", "fleet/assets/+/features"),
		EventsPrefix:   getEnv("MQTT_EVENTS_PREFIX", "fleet/assets"),
		QoS:            byte(getEnvAsInt("MQTT_QOS", 1)),
		RetainMessages: getEnvAsBool("MQTT_RETAIN", false),
		KeepAlive:      getEnvAsDuration("MQTT_KEEP_ALIVE", "60s"),
		ConnectTimeout: getEnvAsDuration("MQTT_CONNECT_TIMEOUT", "10s"),
		HandlerTimeout: getEnvAsDuration("MQTT_HANDLER_TIMEOUT", "15s"),
		AutoReconnect:  getEnvAsBool("MQTT_AUTO_RECONNECT", true),
	}
}

func loadRedisConfig() RedisConfig {
	return RedisConfig{
		Addr:     getEnv("REDIS_ADDR", ""),
		Password: getEnv("REDIS_PASSWORD", ""),
		DB:       getEnvAsInt("REDIS_DB", 0),
		LockTTL:  getEnvAsDuration("LOCK_TTL", "30s"),
	}
}

func loadSecurityConfig() SecurityConfig {
	origins := getEnv("CORS_ALLOWED_ORIGINS", "*")
	methods := getEnv("CORS_ALLOWED_METHODS", "GET,POST,PUT,OPTIONS")

	return SecurityConfig{
		JWTSecret:          getEnv("JWT_SECRET", ""),
		JWTIssuer:          getEnv("JWT_ISSUER", "fleet-cmms"),
		RequireAuth:        getEnvAsBool("REQUIRE_AUTH", true),
		CORSAllowedOrigins: strings.Split(origins, ","),
		CORSAllowedMethods: strings.Split(methods, ","),
		RateLimitPerMinute: getEnvAsInt("RATE_LIMIT_PER_MINUTE", 100),
		EnableRateLimit:    getEnvAsBool("ENABLE_RATE_LIMIT", true),
	}
}

func loadLoggingConfig() LoggingConfig {
	return LoggingConfig{
		Level:     logger.ParseLevel(getEnv("LOG_LEVEL", "info")),
		Mode:      logger.ParseMode(getEnv("LOG_MODE", "normal")),
		FilePath:  getEnv("LOG_FILE_PATH", ""),
		UseColors: getEnvAsBool("LOG_USE_COLORS", true),
	}
}

func loadRiskConfig() RiskConfig {
	return RiskConfig{
		MinConfidence:        getEnvAsFloat("MIN_CONFIDENCE", 50),
		ScorerTimeout:        getEnvAsDuration("SCORER_TIMEOUT", "5s"),
		LedgerTimeout:        getEnvAsDuration("LEDGER_TIMEOUT", "10s"),
		ChannelTimeout:       getEnvAsDuration("CHANNEL_TIMEOUT", "30s"),
		AlertWriteAttempts:   getEnvAsInt("ALERT_WRITE_ATTEMPTS", 3),
		AlertRetryBackoff:    getEnvAsDuration("ALERT_RETRY_BACKOFF", "200ms"),
		PendingSweepInterval: getEnvAsDuration("PENDING_SWEEP_INTERVAL", "1m"),
		PendingSweepBatch:    getEnvAsInt("PENDING_SWEEP_BATCH", 100),
	}
}

func loadModelConfig() ModelConfig {
	return ModelConfig{
		Endpoint: getEnv("MODEL_ENDPOINT", ""),
		APIKey:   getEnv("MODEL_API_KEY", ""),
		Version:  getEnv("MODEL_VERSION", "heuristic-v1"),
	}
}

func loadNotificationConfig() NotificationConfig {
	return NotificationConfig{
		InAppEnabled:        getEnvAsBool("NOTIFY_INAPP_ENABLED", true),
		EmailURL:            getEnv("NOTIFY_EMAIL_URL", ""),
		ChatURL:             getEnv("NOTIFY_CHAT_URL", ""),
		DispatchConcurrency: getEnvAsInt("DISPATCH_CONCURRENCY", 8),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue string) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	duration, _ := time.ParseDuration(defaultValue)
	return duration
}

func (c *Config) GetDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Database.Host,
		c.Database.Port,
		c.Database.User,
		c.Database.Password,
		c.Database.Database,
		c.Database.SSLMode,
	)
}

func (c *Config) Validate() error {
	var errors []string

	if c.Storage.Backend != StoragePostgres && c.Storage.Backend != StorageMemory {
		errors = append(errors, "STORAGE_BACKEND must be 'postgres' or 'memory'")
	}

	if c.Storage.Backend == StoragePostgres && c.Database.Password == "" {
		errors = append(errors, "DB_PASSWORD cannot be empty")
	}

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errors = append(errors, "SERVER_PORT must be between 1 and 65535")
	}

	if c.Database.Port < 1 || c.Database.Port > 65535 {
		errors = append(errors, "DB_PORT must be between 1 and 65535")
	}

	if c.MQTT.Enabled && (c.MQTT.Port < 1 || c.MQTT.Port > 65535) {
		errors = append(errors, "MQTT_PORT must be between 1 and 65535")
	}

	if c.Security.RequireAuth && c.Security.JWTSecret == "" {
		errors = append(errors, "JWT_SECRET is required when REQUIRE_AUTH is true")
	}

	if c.Risk.MinConfidence < 0 || c.Risk.MinConfidence > 100 {
		errors = append(errors, "MIN_CONFIDENCE must be between 0 and 100")
	}

	if c.Risk.AlertWriteAttempts < 1 {
		errors = append(errors, "ALERT_WRITE_ATTEMPTS must be at least 1")
	}

	if c.Risk.ScorerTimeout <= 0 || c.Risk.LedgerTimeout <= 0 || c.Risk.ChannelTimeout <= 0 {
		errors = append(errors, "SCORER_TIMEOUT, LEDGER_TIMEOUT and CHANNEL_TIMEOUT must be positive")
	}

	if c.Notification.DispatchConcurrency < 1 {
		errors = append(errors, "DISPATCH_CONCURRENCY must be at least 1")
	}

	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed:\n  - %s", strings.Join(errors, "\n  - "))
	}

	return nil
}

func (c *Config) Print() {
	fmt.Println("╔══════════════════════════════════════════════════════════╗")
	fmt.Println("║           Fleet Risk Engine - Configuration              ║")
	fmt.Println("╚══════════════════════════════════════════════════════════╝")
	fmt.Printf("Environment:     %s\n", c.Server.Environment)
	fmt.Printf("Server:          %s:%d\n", c.Server.Host, c.Server.Port)
	fmt.Printf("Storage:         %s\n", c.Storage.Backend)
	if c.Storage.Backend == StoragePostgres {
		fmt.Printf("Database:        %s:%d/%s\n", c.Database.Host, c.Database.Port, c.Database.Database)
	}
	if c.MQTT.Enabled {
		fmt.Printf("MQTT Broker:     %s:%d\n", c.MQTT.Broker, c.MQTT.Port)
	}
	if c.Redis.Addr != "" {
		fmt.Printf("Asset Lock:      redis %s\n", c.Redis.Addr)
	} else {
		fmt.Println("Asset Lock:      in-process")
	}
	if c.Model.Endpoint != "" {
		fmt.Printf("Model:           %s (%s)\n", c.Model.Endpoint, c.Model.Version)
	} else {
		fmt.Printf("Model:           heuristic (%s)\n", c.Model.Version)
	}
	fmt.Printf("Min Confidence:  %.0f\n", c.Risk.MinConfidence)
	fmt.Println("──────────────────────────────────────────────────────────")
}
