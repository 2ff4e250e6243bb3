package config

import (
	"context"
	"time"
)

// Config represents the complete configuration for the idc-core engine.
// It provides type-safe access to all configuration values with validation.
type Config struct {
	Server     ServerConfig     `koanf:"server"    validate:"required"`
	Database   DatabaseConfig   `koanf:"database"  validate:"required"`
	Redis      RedisConfig      `koanf:"redis"     validate:"required"`
	Lock       LockConfig       `koanf:"lock"      validate:"required"`
	Bus        BusConfig        `koanf:"bus"       validate:"required"`
	Templates  TemplatesConfig  `koanf:"templates"`
	Tasks      TasksConfig      `koanf:"tasks"`
	Monitoring MonitoringConfig `koanf:"monitoring"`
	Runtime    RuntimeConfig    `koanf:"runtime"   validate:"required"`
}

// ServerConfig contains HTTP server configuration.
type ServerConfig struct {
	Host            string        `koanf:"host"             validate:"required"        env:"HTTP_HOST"`
	Port            int           `koanf:"port"             validate:"min=1,max=65535" env:"HTTP_PORT"`
	Timeout         time.Duration `koanf:"timeout"                                     env:"HTTP_TIMEOUT"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"                            env:"HTTP_SHUTDOWN_TIMEOUT"`
}

// DatabaseConfig contains document store connection configuration.
type DatabaseConfig struct {
	Driver          string          `koanf:"driver"             validate:"oneof=postgres sqlite" env:"DB_DRIVER"`
	ConnString      string          `koanf:"conn_string"                                         env:"DB_CONN_STRING"`
	Host            string          `koanf:"host"                                                env:"DB_HOST"`
	Port            string          `koanf:"port"                                                env:"DB_PORT"`
	User            string          `koanf:"user"                                                env:"DB_USER"`
	Password        SensitiveString `koanf:"password"                                            env:"DB_PASSWORD"        sensitive:"true"`
	DBName          string          `koanf:"name"                                                env:"DB_NAME"`
	SSLMode         string          `koanf:"ssl_mode"                                            env:"DB_SSL_MODE"`
	Path            string          `koanf:"path"                                                env:"DB_SQLITE_PATH"`
	MaxOpenConns    int             `koanf:"max_open_conns"     validate:"min=0"                 env:"DB_MAX_OPEN_CONNS"`
	MaxIdleConns    int             `koanf:"max_idle_conns"     validate:"min=0"                 env:"DB_MAX_IDLE_CONNS"`
	ConnMaxLifetime time.Duration   `koanf:"conn_max_lifetime"                                   env:"DB_CONN_MAX_LIFETIME"`
	ConnMaxIdleTime time.Duration   `koanf:"conn_max_idle_time"                                  env:"DB_CONN_MAX_IDLE_TIME"`
	BusyTimeout     time.Duration   `koanf:"busy_timeout"                                        env:"DB_BUSY_TIMEOUT"`
	AutoMigrate     bool            `koanf:"auto_migrate"                                        env:"DB_AUTO_MIGRATE"`
}

// RedisConfig contains the lock backend and pub/sub connection settings.
type RedisConfig struct {
	Mode         string          `koanf:"mode"          validate:"oneof=embedded external" env:"REDIS_MODE"`
	URL          string          `koanf:"url"                                              env:"REDIS_CLIENT_URL"`
	Host         string          `koanf:"host"                                             env:"REDIS_HOST"`
	Port         string          `koanf:"port"                                             env:"REDIS_PORT"`
	Password     SensitiveString `koanf:"password"                                         env:"REDIS_PASSWORD"   sensitive:"true"`
	DB           int             `koanf:"db"            validate:"min=0"                   env:"REDIS_DB"`
	PoolSize     int             `koanf:"pool_size"     validate:"min=0"                   env:"REDIS_POOL_SIZE"`
	PingTimeout  time.Duration   `koanf:"ping_timeout"                                     env:"REDIS_PING_TIMEOUT"`
	DialTimeout  time.Duration   `koanf:"dial_timeout"                                     env:"REDIS_DIAL_TIMEOUT"`
	ReadTimeout  time.Duration   `koanf:"read_timeout"                                     env:"REDIS_READ_TIMEOUT"`
	WriteTimeout time.Duration   `koanf:"write_timeout"                                    env:"REDIS_WRITE_TIMEOUT"`
}

// LockConfig controls per-document lease acquisition.
type LockConfig struct {
	TTL         time.Duration `koanf:"ttl"          env:"LOCK_TTL"`
	RetryCount  uint64        `koanf:"retry_count"  env:"LOCK_RETRY_COUNT"`
	RetryDelay  time.Duration `koanf:"retry_delay"  env:"LOCK_RETRY_DELAY"`
	RetryJitter time.Duration `koanf:"retry_jitter" env:"LOCK_RETRY_JITTER"`
}

// BusConfig selects where task results are fanned out.
type BusConfig struct {
	Driver         string        `koanf:"driver"          validate:"oneof=redis nats" env:"BUS_DRIVER"`
	NATSURL        string        `koanf:"nats_url"                                    env:"NATS_URL"`
	NATSStoreDir   string        `koanf:"nats_store_dir"                              env:"NATS_STORE_DIR"`
	StreamName     string        `koanf:"stream_name"                                 env:"BUS_STREAM_NAME"`
	MaxInFlight    int64         `koanf:"max_in_flight"   validate:"min=1"            env:"BUS_MAX_IN_FLIGHT"`
	PublishTimeout time.Duration `koanf:"publish_timeout"                             env:"BUS_PUBLISH_TIMEOUT"`
}

// TemplatesConfig sizes the compiled template caches.
type TemplatesConfig struct {
	CacheSize    int    `koanf:"cache_size"     validate:"min=0" env:"TEMPLATES_CACHE_SIZE"`
	CELCostLimit uint64 `koanf:"cel_cost_limit"                  env:"TEMPLATES_CEL_COST_LIMIT"`
}

// TasksConfig tunes the builtin task handlers.
type TasksConfig struct {
	HTTPTimeout time.Duration `koanf:"http_timeout" env:"TASKS_HTTP_TIMEOUT"`
}

// MonitoringConfig controls the Prometheus metrics endpoint.
type MonitoringConfig struct {
	Enabled bool   `koanf:"enabled" env:"MONITORING_ENABLED"`
	Path    string `koanf:"path"    env:"MONITORING_PATH"`
}

// RuntimeConfig contains runtime behavior configuration.
type RuntimeConfig struct {
	Environment   string `koanf:"environment"     validate:"oneof=development staging production" env:"RUNTIME_ENVIRONMENT"`
	LogLevel      string `koanf:"log_level"       validate:"oneof=debug info warn error"          env:"RUNTIME_LOG_LEVEL"`
	LogJSON       bool   `koanf:"log_json"                                                        env:"RUNTIME_LOG_JSON"`
	ShowTimerLogs bool   `koanf:"show_timer_logs"                                                 env:"SHOW_TIMER_LOGS"`
}

// Service defines the configuration management interface.
type Service interface {
	// Load loads configuration from the specified sources with precedence order.
	Load(ctx context.Context, sources ...Source) (*Config, error)
	// Validate checks if the configuration meets all validation requirements.
	Validate(config *Config) error
	// GetSource returns the source type for a specific configuration key.
	GetSource(key string) SourceType
}

// Source defines the interface for configuration sources.
type Source interface {
	// Load reads configuration from the source.
	Load() (map[string]any, error)
	// Type returns the source type identifier.
	Type() SourceType
	// Close releases any resources held by the source.
	Close() error
}

// SourceType identifies the type of configuration source.
type SourceType string

const (
	SourceCLI     SourceType = "cli"
	SourceYAML    SourceType = "yaml"
	SourceEnv     SourceType = "env"
	SourceDefault SourceType = "default"
)

// Metadata contains metadata about configuration sources.
type Metadata struct {
	Sources  map[string]SourceType `json:"sources"`
	LoadedAt time.Time             `json:"loaded_at"`
}

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"

	RedisModeEmbedded = "embedded"
	RedisModeExternal = "external"

	BusDriverRedis = "redis"
	BusDriverNATS  = "nats"
)

// Default returns the built-in configuration used before any source is applied.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            5001,
			Timeout:         30 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		Database: DatabaseConfig{
			Driver:          DriverSQLite,
			Path:            "idc.db",
			SSLMode:         "disable",
			MaxOpenConns:    20,
			MaxIdleConns:    2,
			ConnMaxLifetime: 5 * time.Minute,
			ConnMaxIdleTime: time.Minute,
			BusyTimeout:     5 * time.Second,
			AutoMigrate:     true,
		},
		Redis: RedisConfig{
			Mode:         RedisModeEmbedded,
			Host:         "localhost",
			Port:         "6379",
			PoolSize:     10,
			PingTimeout:  5 * time.Second,
			DialTimeout:  5 * time.Second,
			ReadTimeout:  3 * time.Second,
			WriteTimeout: 3 * time.Second,
		},
		Lock: LockConfig{
			TTL:         10 * time.Second,
			RetryCount:  10,
			RetryDelay:  200 * time.Millisecond,
			RetryJitter: 200 * time.Millisecond,
		},
		Bus: BusConfig{
			Driver:         BusDriverRedis,
			StreamName:     "IDC_TASKS",
			MaxInFlight:    64,
			PublishTimeout: 5 * time.Second,
		},
		Templates: TemplatesConfig{
			CacheSize:    512,
			CELCostLimit: 1000,
		},
		Tasks: TasksConfig{
			HTTPTimeout: 30 * time.Second,
		},
		Monitoring: MonitoringConfig{
			Enabled: true,
			Path:    "/metrics",
		},
		Runtime: RuntimeConfig{
			Environment: "development",
			LogLevel:    "info",
		},
	}
}
