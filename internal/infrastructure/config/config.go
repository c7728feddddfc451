package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration
type Config struct {
	App         AppConfig
	Database    DatabaseConfig
	Redis       RedisConfig
	Kafka       KafkaConfig
	Log         LogConfig
	HTTP        HTTPConfig
	Engine      EngineConfig
	Reservation ReservationConfig
	Event       EventConfig
	Telemetry   TelemetryConfig
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level  string // debug, info, warn, error
	Format string // json, console
	Output string // stdout, stderr, or file path
}

// AppConfig holds application-specific settings
type AppConfig struct {
	Name string
	Env  string
	Port string
}

// DatabaseConfig holds database connection settings
type DatabaseConfig struct {
	Host            string
	Port            int
	User            string
	Password        string
	DBName          string
	SSLMode         string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime int // in minutes
	ConnMaxIdleTime int // in minutes
	// IsolationLevel of engine transactions: repeatable_read or serializable
	IsolationLevel string
	LockTimeout    time.Duration
}

// RedisConfig holds Redis connection settings
type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

// Addr returns host:port
func (r *RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

// KafkaConfig holds the event transport settings
type KafkaConfig struct {
	Brokers      []string
	Topic        string
	ClientID     string
	RequiredAcks int // -1 all, 0 none, 1 leader
	BatchTimeout time.Duration
	WriteTimeout time.Duration
}

// HTTPConfig holds HTTP server configuration
type HTTPConfig struct {
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	IdleTimeout    time.Duration
	MaxHeaderBytes int
	MaxBodySize    int64
	TrustedProxies []string
	// RateLimit is the per-actor request budget per RateWindow; zero disables limiting
	RateLimit  int
	RateWindow time.Duration
	// CORSOrigins lists browser origins allowed to call the API; "*" allows any
	CORSOrigins []string
	// HSTSMaxAge enables Strict-Transport-Security when positive
	HSTSMaxAge time.Duration
}

// EngineConfig holds operation deadlines and retry budgets
type EngineConfig struct {
	SingleCellTimeout  time.Duration
	TransferTimeout    time.Duration
	DeadlockRetries    int
	DeadlockBackoff    time.Duration
	DeadlockMultiplier float64
	ConflictRetries    int
	ConflictBackoff    time.Duration
	ConflictJitter     float64
	PublishTimeout     time.Duration
	WorkerPoolSize     int
}

// ReservationConfig holds reservation lifetime and sweeper settings
type ReservationConfig struct {
	DefaultTTL       time.Duration // zero means reservations never expire by default
	SweeperEnabled   bool
	SweeperInterval  time.Duration
	SweeperBatchSize int
}

// EventConfig holds event publication and journal reconciliation settings
type EventConfig struct {
	Publisher         string // memory or kafka
	IdempotencyTTL    time.Duration
	ReconcilerEnabled bool
	ReconcilerName    string
	ReconcilerPoll    time.Duration
	ReconcilerBatch   int
	ReconcilerLag     time.Duration
}

// TelemetryConfig holds OpenTelemetry configuration
type TelemetryConfig struct {
	Enabled           bool    // Whether to enable OpenTelemetry
	CollectorEndpoint string  // OTEL Collector endpoint (e.g., "localhost:4317")
	SamplingRatio     float64 // Sampling ratio (0.0-1.0, 1.0 = 100%)
	ServiceName       string  // Service name for traces
	Insecure          bool    // Use insecure (non-TLS) connection (development only)
	MetricsInterval   time.Duration
	LogsEnabled       bool
	// Database tracing options
	DBTraceEnabled    bool          // Enable database query tracing (otelgorm)
	DBLogFullSQL      bool          // Log full SQL statements (dev only, disable in prod for security)
	DBSlowQueryThresh time.Duration // Slow query threshold for warnings (default: 200ms)
}

// Load loads configuration from TOML file and environment variables
// Priority (highest to lowest):
// 1. Environment variables with ICC_ prefix (e.g., ICC_DATABASE_PASSWORD)
// 2. config.toml
// 3. Built-in defaults
func Load() (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("toml")
	v.AddConfigPath(".")
	v.AddConfigPath("/app")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	v.SetEnvPrefix("ICC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	cfg := &Config{
		App: AppConfig{
			Name: v.GetString("app.name"),
			Env:  v.GetString("app.env"),
			Port: v.GetString("app.port"),
		},
		Database: DatabaseConfig{
			Host:            v.GetString("database.host"),
			Port:            v.GetInt("database.port"),
			User:            v.GetString("database.user"),
			Password:        v.GetString("database.password"),
			DBName:          v.GetString("database.dbname"),
			SSLMode:         v.GetString("database.sslmode"),
			MaxOpenConns:    v.GetInt("database.max_open_conns"),
			MaxIdleConns:    v.GetInt("database.max_idle_conns"),
			ConnMaxLifetime: v.GetInt("database.conn_max_lifetime"),
			ConnMaxIdleTime: v.GetInt("database.conn_max_idle_time"),
			IsolationLevel:  v.GetString("database.isolation_level"),
			LockTimeout:     v.GetDuration("database.lock_timeout"),
		},
		Redis: RedisConfig{
			Host:     v.GetString("redis.host"),
			Port:     v.GetInt("redis.port"),
			Password: v.GetString("redis.password"),
			DB:       v.GetInt("redis.db"),
		},
		Kafka: KafkaConfig{
			Brokers:      v.GetStringSlice("kafka.brokers"),
			Topic:        v.GetString("kafka.topic"),
			ClientID:     v.GetString("kafka.client_id"),
			RequiredAcks: v.GetInt("kafka.required_acks"),
			BatchTimeout: v.GetDuration("kafka.batch_timeout"),
			WriteTimeout: v.GetDuration("kafka.write_timeout"),
		},
		Log: LogConfig{
			Level:  v.GetString("log.level"),
			Format: v.GetString("log.format"),
			Output: v.GetString("log.output"),
		},
		HTTP: HTTPConfig{
			ReadTimeout:    v.GetDuration("http.read_timeout"),
			WriteTimeout:   v.GetDuration("http.write_timeout"),
			IdleTimeout:    v.GetDuration("http.idle_timeout"),
			MaxHeaderBytes: v.GetInt("http.max_header_bytes"),
			MaxBodySize:    v.GetInt64("http.max_body_size"),
			TrustedProxies: v.GetStringSlice("http.trusted_proxies"),
			RateLimit:      v.GetInt("http.rate_limit"),
			RateWindow:     v.GetDuration("http.rate_window"),
			CORSOrigins:    v.GetStringSlice("http.cors_origins"),
			HSTSMaxAge:     v.GetDuration("http.hsts_max_age"),
		},
		Engine: EngineConfig{
			SingleCellTimeout:  v.GetDuration("engine.single_cell_timeout"),
			TransferTimeout:    v.GetDuration("engine.transfer_timeout"),
			DeadlockRetries:    v.GetInt("engine.deadlock_retries"),
			DeadlockBackoff:    v.GetDuration("engine.deadlock_backoff"),
			DeadlockMultiplier: v.GetFloat64("engine.deadlock_multiplier"),
			ConflictRetries:    v.GetInt("engine.conflict_retries"),
			ConflictBackoff:    v.GetDuration("engine.conflict_backoff"),
			ConflictJitter:     v.GetFloat64("engine.conflict_jitter"),
			PublishTimeout:     v.GetDuration("engine.publish_timeout"),
			WorkerPoolSize:     v.GetInt("engine.worker_pool_size"),
		},
		Reservation: ReservationConfig{
			DefaultTTL:       v.GetDuration("reservation.default_ttl"),
			SweeperEnabled:   v.GetBool("reservation.sweeper_enabled"),
			SweeperInterval:  v.GetDuration("reservation.sweeper_interval"),
			SweeperBatchSize: v.GetInt("reservation.sweeper_batch_size"),
		},
		Event: EventConfig{
			Publisher:         v.GetString("event.publisher"),
			IdempotencyTTL:    v.GetDuration("event.idempotency_ttl"),
			ReconcilerEnabled: v.GetBool("event.reconciler_enabled"),
			ReconcilerName:    v.GetString("event.reconciler_name"),
			ReconcilerPoll:    v.GetDuration("event.reconciler_interval"),
			ReconcilerBatch:   v.GetInt("event.reconciler_batch_size"),
			ReconcilerLag:     v.GetDuration("event.reconciler_lag"),
		},
		Telemetry: TelemetryConfig{
			Enabled:           v.GetBool("telemetry.enabled"),
			CollectorEndpoint: v.GetString("telemetry.collector_endpoint"),
			SamplingRatio:     v.GetFloat64("telemetry.sampling_ratio"),
			ServiceName:       v.GetString("telemetry.service_name"),
			Insecure:          v.GetBool("telemetry.insecure"),
			MetricsInterval:   v.GetDuration("telemetry.metrics_interval"),
			LogsEnabled:       v.GetBool("telemetry.logs_enabled"),
			DBTraceEnabled:    v.GetBool("telemetry.db_trace_enabled"),
			DBLogFullSQL:      v.GetBool("telemetry.db_log_full_sql"),
			DBSlowQueryThresh: v.GetDuration("telemetry.db_slow_query_threshold"),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// defaults are the built-in values. Keys absent here default to the zero
// value, which for http.rate_limit, reservation.default_ttl and
// http.hsts_max_age means the feature is off.
var defaults = map[string]any{
	"app.name": "inventory-core",
	"app.env":  "development",
	"app.port": "8080",

	"database.host":               "localhost",
	"database.port":               5432,
	"database.user":               "postgres",
	"database.dbname":             "inventory",
	"database.sslmode":            "disable",
	"database.max_open_conns":     25,
	"database.max_idle_conns":     5,
	"database.conn_max_lifetime":  60,
	"database.conn_max_idle_time": 30,
	"database.isolation_level":    "repeatable_read",
	"database.lock_timeout":       "10s",

	"redis.host": "localhost",
	"redis.port": 6379,

	"kafka.brokers":       []string{"localhost:9092"},
	"kafka.topic":         "inventory.events",
	"kafka.client_id":     "inventory-core",
	"kafka.required_acks": -1,
	"kafka.batch_timeout": "10ms",
	"kafka.write_timeout": "10s",

	"log.level":  "info",
	"log.format": "console",
	"log.output": "stdout",

	"http.read_timeout": "15s",
	// outlasts the transfer deadline
	"http.write_timeout":    "75s",
	"http.idle_timeout":     "60s",
	"http.max_header_bytes": 1 << 20,
	"http.max_body_size":    1 << 20,
	"http.rate_window":      "1m",

	"engine.single_cell_timeout": "30s",
	"engine.transfer_timeout":    "60s",
	"engine.deadlock_retries":    3,
	"engine.deadlock_backoff":    "50ms",
	"engine.deadlock_multiplier": 4.0,
	"engine.conflict_retries":    3,
	"engine.conflict_backoff":    "25ms",
	"engine.conflict_jitter":     0.5,
	"engine.publish_timeout":     "5s",
	"engine.worker_pool_size":    8,

	"reservation.sweeper_interval":   "1m",
	"reservation.sweeper_batch_size": 100,

	"event.publisher":             "memory",
	"event.idempotency_ttl":       "24h",
	"event.reconciler_name":       "default",
	"event.reconciler_interval":   "5s",
	"event.reconciler_batch_size": 500,
	// two transfer deadlines plus margin for clock skew
	"event.reconciler_lag": "150s",

	"telemetry.collector_endpoint":      "localhost:4317",
	"telemetry.sampling_ratio":          1.0,
	"telemetry.service_name":            "inventory-core",
	"telemetry.metrics_interval":        "60s",
	"telemetry.db_slow_query_threshold": "200ms",
}

func setDefaults(v *viper.Viper) {
	for key, value := range defaults {
		v.SetDefault(key, value)
	}
}

var validIsolationLevels = map[string]bool{
	"repeatable_read": true,
	"serializable":    true,
}

// validate performs validation on the configuration
func (c *Config) validate() error {
	if c.Database.MaxOpenConns <= 0 {
		return fmt.Errorf("database.max_open_conns must be positive")
	}
	if c.Database.MaxIdleConns < 0 {
		return fmt.Errorf("database.max_idle_conns cannot be negative")
	}
	if c.Database.MaxIdleConns > c.Database.MaxOpenConns {
		return fmt.Errorf("database.max_idle_conns (%d) cannot exceed database.max_open_conns (%d)",
			c.Database.MaxIdleConns, c.Database.MaxOpenConns)
	}
	if !validIsolationLevels[c.Database.IsolationLevel] {
		return fmt.Errorf("database.isolation_level must be repeatable_read or serializable, got %q",
			c.Database.IsolationLevel)
	}

	if c.Engine.DeadlockRetries < 0 || c.Engine.ConflictRetries < 0 {
		return fmt.Errorf("engine retry counts cannot be negative")
	}
	if c.Engine.TransferTimeout < c.Engine.SingleCellTimeout {
		return fmt.Errorf("engine.transfer_timeout (%s) cannot be shorter than engine.single_cell_timeout (%s)",
			c.Engine.TransferTimeout, c.Engine.SingleCellTimeout)
	}
	if c.Engine.ConflictJitter < 0 || c.Engine.ConflictJitter > 1 {
		return fmt.Errorf("engine.conflict_jitter must be between 0.0 and 1.0, got %f", c.Engine.ConflictJitter)
	}
	if c.Reservation.DefaultTTL < 0 {
		return fmt.Errorf("reservation.default_ttl cannot be negative")
	}

	// an entry commits at most one deadline after its stamp, and may hold an
	// id below an entry stamped up to one deadline earlier
	if minLag := 2 * c.Engine.TransferTimeout; c.Event.ReconcilerLag < minLag {
		return fmt.Errorf("event.reconciler_lag (%s) must be at least twice engine.transfer_timeout (%s)",
			c.Event.ReconcilerLag, c.Engine.TransferTimeout)
	}

	switch c.Event.Publisher {
	case "memory":
	case "kafka":
		if len(c.Kafka.Brokers) == 0 || c.Kafka.Topic == "" {
			return fmt.Errorf("kafka.brokers and kafka.topic are required when event.publisher is kafka")
		}
	default:
		return fmt.Errorf("event.publisher must be memory or kafka, got %q", c.Event.Publisher)
	}

	if c.App.Env == "production" {
		if c.Database.Password == "" {
			return fmt.Errorf("database.password is required in production")
		}
		if c.Database.SSLMode == "disable" {
			return fmt.Errorf("database.sslmode cannot be 'disable' in production")
		}
		if c.Telemetry.DBLogFullSQL {
			return fmt.Errorf("telemetry.db_log_full_sql must be false in production to prevent sensitive data exposure in traces")
		}
	}

	if c.Telemetry.SamplingRatio < 0.0 || c.Telemetry.SamplingRatio > 1.0 {
		return fmt.Errorf("telemetry.sampling_ratio must be between 0.0 and 1.0, got %f", c.Telemetry.SamplingRatio)
	}

	return nil
}

// DSN returns the database connection string with properly escaped values
func (d *DatabaseConfig) DSN() string {
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(d.User, d.Password),
		Host:   fmt.Sprintf("%s:%d", d.Host, d.Port),
		Path:   d.DBName,
	}
	q := u.Query()
	q.Set("sslmode", d.SSLMode)
	u.RawQuery = q.Encode()
	return u.String()
}
