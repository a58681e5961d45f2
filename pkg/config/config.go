package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/platinummonkey/permitdesk/pkg/observability"
)

// Config holds all application configuration
type Config struct {
	Server        ServerConfig
	Database      DatabaseConfig
	Redis         RedisConfig
	Authz         AuthzConfig
	Notifications NotificationsConfig
	Scheduler     SchedulerConfig
	RateLimit     RateLimitConfig
	Observability ObservabilityConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration

	// Health/metrics server (separate port for k8s probes)
	HealthPort string
}

// DatabaseConfig holds PostgreSQL connection settings
type DatabaseConfig struct {
	URL         string
	MaxConns    int
	MinConns    int
	Timeout     time.Duration
	MaxLifetime time.Duration
	MaxIdleTime time.Duration
	AutoMigrate bool
}

// RedisConfig holds Redis settings. An empty URL disables Redis.
type RedisConfig struct {
	URL        string
	Password   string
	DB         int
	MaxRetries int
	PoolSize   int
}

// AuthzConfig holds authorization and assignment settings
type AuthzConfig struct {
	RoleCacheSize int
	RoleCacheTTL  time.Duration

	// HierarchyFile is a YAML canAssignTo graph; empty uses the built-in graph
	HierarchyFile  string
	WatchHierarchy bool

	// AutoAssignRole receives newly created permits through the load balancer
	AutoAssignRole string
	// ChalanAutoAssignRole does the same for chalans; empty leaves them unassigned
	ChalanAutoAssignRole string
	// AssignRetries bounds optimistic retries of the load balancer transaction
	AssignRetries int

	DefaultRole   string
	BootstrapUser string
}

// NotificationsConfig holds notification hook settings
type NotificationsConfig struct {
	Enabled       bool
	RedisChannel  string
	BacklogKey    string
	BacklogLength int64
	WebhookURL    string
	WebhookSecret string
	Workers       int64
	RetryAttempts int
	RetryDelay    time.Duration
}

// SchedulerConfig holds cron schedules for background jobs
type SchedulerConfig struct {
	Enabled       bool
	ExpirePermit  string
	CleanupTokens string
}

// RateLimitConfig holds request rate limits. Limits are shared through Redis
// when it is configured.
type RateLimitConfig struct {
	Enabled         bool
	AnonymousPerMin int
	AnonymousBurst  int
	UserPerMin      int
	UserBurst       int
	FailOpen        bool
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	LogLevel observability.LogLevel

	MetricsEnabled bool

	OTelEnabled        bool
	OTelEndpoint       string
	OTelServiceName    string
	OTelServiceVersion string
	OTelInsecure       bool
}

// LoadConfig loads configuration from environment variables
func LoadConfig() (*Config, error) {
	cfg := &Config{
		Server:        loadServerConfig(),
		Database:      loadDatabaseConfig(),
		Redis:         loadRedisConfig(),
		Authz:         loadAuthzConfig(),
		Notifications: loadNotificationsConfig(),
		Scheduler:     loadSchedulerConfig(),
		RateLimit:     loadRateLimitConfig(),
		Observability: loadObservabilityConfig(),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

func loadServerConfig() ServerConfig {
	return ServerConfig{
		Host:            getEnv("PERMITDESK_HOST", "0.0.0.0"),
		Port:            getEnv("PERMITDESK_PORT", "8080"),
		ReadTimeout:     getEnvDuration("PERMITDESK_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:    getEnvDuration("PERMITDESK_WRITE_TIMEOUT", 15*time.Second),
		IdleTimeout:     getEnvDuration("PERMITDESK_IDLE_TIMEOUT", 60*time.Second),
		ShutdownTimeout: getEnvDuration("PERMITDESK_SHUTDOWN_TIMEOUT", 30*time.Second),
		HealthPort:      getEnv("PERMITDESK_HEALTH_PORT", "9090"),
	}
}

func loadDatabaseConfig() DatabaseConfig {
	return DatabaseConfig{
		URL:         getEnv("PERMITDESK_POSTGRES_URL", "postgres://localhost/permitdesk?sslmode=disable"),
		MaxConns:    getEnvInt("PERMITDESK_POSTGRES_MAX_CONNS", 20),
		MinConns:    getEnvInt("PERMITDESK_POSTGRES_MIN_CONNS", 2),
		Timeout:     getEnvDuration("PERMITDESK_POSTGRES_TIMEOUT", 5*time.Second),
		MaxLifetime: getEnvDuration("PERMITDESK_POSTGRES_MAX_LIFETIME", 30*time.Minute),
		MaxIdleTime: getEnvDuration("PERMITDESK_POSTGRES_MAX_IDLE_TIME", 5*time.Minute),
		AutoMigrate: getEnvBool("PERMITDESK_AUTO_MIGRATE", true),
	}
}

func loadRedisConfig() RedisConfig {
	return RedisConfig{
		URL:        getEnv("PERMITDESK_REDIS_URL", ""),
		Password:   getEnv("PERMITDESK_REDIS_PASSWORD", ""),
		DB:         getEnvInt("PERMITDESK_REDIS_DB", -1),
		MaxRetries: getEnvInt("PERMITDESK_REDIS_MAX_RETRIES", 3),
		PoolSize:   getEnvInt("PERMITDESK_REDIS_POOL_SIZE", 10),
	}
}

func loadAuthzConfig() AuthzConfig {
	return AuthzConfig{
		RoleCacheSize:        getEnvInt("PERMITDESK_ROLE_CACHE_SIZE", 64),
		RoleCacheTTL:         getEnvDuration("PERMITDESK_ROLE_CACHE_TTL", 30*time.Second),
		HierarchyFile:        getEnv("PERMITDESK_HIERARCHY_FILE", ""),
		WatchHierarchy:       getEnvBool("PERMITDESK_WATCH_HIERARCHY", true),
		AutoAssignRole:       getEnv("PERMITDESK_AUTO_ASSIGN_ROLE", "junior_clerk"),
		ChalanAutoAssignRole: getEnv("PERMITDESK_CHALAN_AUTO_ASSIGN_ROLE", ""),
		AssignRetries:        getEnvInt("PERMITDESK_ASSIGN_RETRIES", 3),
		DefaultRole:          getEnv("PERMITDESK_DEFAULT_ROLE", "end_user"),
		BootstrapUser:        getEnv("PERMITDESK_BOOTSTRAP_ADMIN", "admin"),
	}
}

func loadNotificationsConfig() NotificationsConfig {
	return NotificationsConfig{
		Enabled:       getEnvBool("PERMITDESK_NOTIFICATIONS_ENABLED", true),
		RedisChannel:  getEnv("PERMITDESK_NOTIFY_CHANNEL", "permitdesk:notifications"),
		BacklogKey:    getEnv("PERMITDESK_NOTIFY_BACKLOG_KEY", "permitdesk:notifications:backlog"),
		BacklogLength: getEnvInt64("PERMITDESK_NOTIFY_BACKLOG_LENGTH", 1000),
		WebhookURL:    getEnv("PERMITDESK_NOTIFY_WEBHOOK_URL", ""),
		WebhookSecret: getEnv("PERMITDESK_NOTIFY_WEBHOOK_SECRET", ""),
		Workers:       getEnvInt64("PERMITDESK_NOTIFY_WORKERS", 8),
		RetryAttempts: getEnvInt("PERMITDESK_NOTIFY_RETRY_ATTEMPTS", 3),
		RetryDelay:    getEnvDuration("PERMITDESK_NOTIFY_RETRY_DELAY", 500*time.Millisecond),
	}
}

func loadSchedulerConfig() SchedulerConfig {
	return SchedulerConfig{
		Enabled:       getEnvBool("PERMITDESK_SCHEDULER_ENABLED", true),
		ExpirePermit:  getEnv("PERMITDESK_EXPIRE_SCHEDULE", "10 0 * * *"),
		CleanupTokens: getEnv("PERMITDESK_TOKEN_CLEANUP_SCHEDULE", "@hourly"),
	}
}

func loadRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		Enabled:         getEnvBool("PERMITDESK_RATE_LIMIT_ENABLED", true),
		AnonymousPerMin: getEnvInt("PERMITDESK_RATE_LIMIT_ANON_PER_MIN", 60),
		AnonymousBurst:  getEnvInt("PERMITDESK_RATE_LIMIT_ANON_BURST", 10),
		UserPerMin:      getEnvInt("PERMITDESK_RATE_LIMIT_USER_PER_MIN", 1000),
		UserBurst:       getEnvInt("PERMITDESK_RATE_LIMIT_USER_BURST", 50),
		FailOpen:        getEnvBool("PERMITDESK_RATE_LIMIT_FAIL_OPEN", true),
	}
}

func loadObservabilityConfig() ObservabilityConfig {
	return ObservabilityConfig{
		LogLevel:           observability.ParseLogLevel(getEnv("PERMITDESK_LOG_LEVEL", "info")),
		MetricsEnabled:     getEnvBool("PERMITDESK_METRICS_ENABLED", true),
		OTelEnabled:        getEnvBool("PERMITDESK_OTEL_ENABLED", false),
		OTelEndpoint:       getEnv("PERMITDESK_OTEL_ENDPOINT", "localhost:4317"),
		OTelServiceName:    getEnv("PERMITDESK_OTEL_SERVICE_NAME", "permitdesk"),
		OTelServiceVersion: getEnv("PERMITDESK_OTEL_SERVICE_VERSION", "1.0.0"),
		OTelInsecure:       getEnvBool("PERMITDESK_OTEL_INSECURE", true),
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}
	if c.Server.HealthPort == "" {
		return fmt.Errorf("health port is required")
	}
	if c.Server.Port == c.Server.HealthPort {
		return fmt.Errorf("server port and health port must be different")
	}

	if c.Database.URL == "" {
		return fmt.Errorf("postgres URL is required")
	}
	if c.Database.MaxConns <= 0 {
		return fmt.Errorf("postgres max connections must be positive")
	}
	if c.Database.MinConns > c.Database.MaxConns {
		return fmt.Errorf("postgres min connections (%d) exceeds max connections (%d)", c.Database.MinConns, c.Database.MaxConns)
	}

	if c.Authz.RoleCacheSize < 0 {
		return fmt.Errorf("role cache size must not be negative")
	}
	if c.Authz.AssignRetries < 1 {
		return fmt.Errorf("assign retries must be at least 1")
	}
	if c.Authz.DefaultRole == "" {
		return fmt.Errorf("default role is required")
	}

	if c.Notifications.Enabled && c.Notifications.Workers <= 0 {
		return fmt.Errorf("notification workers must be positive when notifications are enabled")
	}

	if c.Scheduler.Enabled && c.Scheduler.ExpirePermit == "" {
		return fmt.Errorf("permit expiry schedule is required when the scheduler is enabled")
	}

	if c.RateLimit.Enabled && (c.RateLimit.AnonymousPerMin <= 0 || c.RateLimit.UserPerMin <= 0) {
		return fmt.Errorf("rate limits must be positive when rate limiting is enabled")
	}

	if c.Observability.OTelEnabled {
		if c.Observability.OTelEndpoint == "" {
			return fmt.Errorf("OpenTelemetry endpoint is required when OTel is enabled")
		}
		if c.Observability.OTelServiceName == "" {
			return fmt.Errorf("OpenTelemetry service name is required when OTel is enabled")
		}
	}

	return nil
}

// OTel returns the OpenTelemetry settings in the form observability expects
func (c *Config) OTel() observability.OTelConfig {
	return observability.OTelConfig{
		Enabled:        c.Observability.OTelEnabled,
		Endpoint:       c.Observability.OTelEndpoint,
		ServiceName:    c.Observability.OTelServiceName,
		ServiceVersion: c.Observability.OTelServiceVersion,
		Insecure:       c.Observability.OTelInsecure,
	}
}

// getEnv returns an environment variable value or a default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBool returns a boolean environment variable or a default
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return strings.ToLower(value) == "true" || value == "1"
	}
	return defaultValue
}

// getEnvInt returns an integer environment variable or a default
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvInt64 returns an int64 environment variable or a default
func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvDuration returns a duration environment variable or a default
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
