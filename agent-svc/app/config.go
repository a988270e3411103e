package app

import (
	"fmt"
	"strings"
	"time"

	"dockfleet/pkg/logger"

	"github.com/spf13/viper"
)

// Config holds controller configuration
type Config struct {
	Server    ServerConfig         `mapstructure:"server"`
	Storage   StorageConfig        `mapstructure:"storage"`
	Database  DatabaseConfig       `mapstructure:"database"`
	Auth      AuthConfig           `mapstructure:"auth"`
	Liveness  LivenessConfig       `mapstructure:"liveness"`
	Heartbeat HeartbeatConfig      `mapstructure:"heartbeat"`
	Tasks     TasksConfig          `mapstructure:"tasks"`
	Proxy     ProxyConfig          `mapstructure:"proxy"`
	Logging   logger.LoggingConfig `mapstructure:"logging"`
}

// ServerConfig holds HTTP server settings
type ServerConfig struct {
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"readTimeout"`
	WriteTimeout time.Duration `mapstructure:"writeTimeout"`
	CORSOrigins  []string      `mapstructure:"corsOrigins"`
}

// StorageConfig selects the store backend: memory or postgres
type StorageConfig struct {
	Driver string `mapstructure:"driver"`
}

// DatabaseConfig holds Postgres settings
type DatabaseConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbname"`
	SSLMode  string `mapstructure:"sslmode"`
	MaxConns int32  `mapstructure:"maxConns"`
}

// AuthConfig holds agent token settings
type AuthConfig struct {
	JWTSecret string        `mapstructure:"jwtSecret"`
	TokenTTL  time.Duration `mapstructure:"tokenTTL"`
}

// LivenessConfig holds the heartbeat staleness threshold
type LivenessConfig struct {
	Timeout time.Duration `mapstructure:"timeout"`
}

// HeartbeatConfig holds the heartbeat route's token bucket
type HeartbeatConfig struct {
	RateLimit float64 `mapstructure:"rateLimit"`
	Burst     int     `mapstructure:"burst"`
}

// TasksConfig holds task retention settings
type TasksConfig struct {
	RetentionDays   int           `mapstructure:"retentionDays"`
	CleanupInterval time.Duration `mapstructure:"cleanupInterval"`
}

// ProxyConfig holds remote agent API settings
type ProxyConfig struct {
	Timeout time.Duration `mapstructure:"timeout"`
}

// Retention returns the retention window, zero when disabled.
func (t TasksConfig) Retention() time.Duration {
	return time.Duration(t.RetentionDays) * 24 * time.Hour
}

// DSN returns the PostgreSQL connection string.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.DBName, d.SSLMode,
	)
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.readTimeout", "10s")
	// long-polled task delivery holds a request for up to 60s
	v.SetDefault("server.writeTimeout", "75s")
	v.SetDefault("server.corsOrigins", []string{"http://localhost:5173", "http://localhost:3000"})

	v.SetDefault("storage.driver", "memory")

	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.password", "postgres")
	v.SetDefault("database.dbname", "dockfleet")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.maxConns", 10)

	v.SetDefault("auth.jwtSecret", "")
	v.SetDefault("auth.tokenTTL", "24h")

	v.SetDefault("liveness.timeout", "5m")

	v.SetDefault("heartbeat.rateLimit", 50.0)
	v.SetDefault("heartbeat.burst", 100)

	v.SetDefault("tasks.retentionDays", 7)
	v.SetDefault("tasks.cleanupInterval", "1h")

	v.SetDefault("proxy.timeout", "10s")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.outputPath", "stdout")
}

// LoadConfig reads configuration from defaults, an optional config.yaml and DOCKFLEET_* env vars
func LoadConfig(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("DOCKFLEET")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	_ = v.BindEnv("auth.jwtSecret", "DOCKFLEET_AUTH_JWT_SECRET", "JWT_SIGNING_SECRET")
	_ = v.BindEnv("tasks.retentionDays", "DOCKFLEET_TASKS_RETENTION_DAYS")
	_ = v.BindEnv("liveness.timeout", "DOCKFLEET_LIVENESS_TIMEOUT")

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	if configPath != "" {
		v.AddConfigPath(configPath)
	}
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/dockfleet/")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

func validate(cfg *Config) error {
	var errs []string

	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		errs = append(errs, "server.port must be between 1 and 65535")
	}

	switch cfg.Storage.Driver {
	case "memory":
	case "postgres":
		if cfg.Database.Host == "" || cfg.Database.DBName == "" {
			errs = append(errs, "database.host and database.dbname are required for the postgres driver")
		}
		if cfg.Database.MaxConns <= 0 {
			errs = append(errs, "database.maxConns must be positive")
		}
	default:
		errs = append(errs, "storage.driver must be one of: memory, postgres")
	}

	if cfg.Auth.JWTSecret == "" {
		errs = append(errs, "auth.jwtSecret must be set")
	}
	if cfg.Auth.TokenTTL <= 0 {
		errs = append(errs, "auth.tokenTTL must be positive")
	}
	if cfg.Liveness.Timeout <= 0 {
		errs = append(errs, "liveness.timeout must be positive")
	}
	if cfg.Heartbeat.RateLimit <= 0 || cfg.Heartbeat.Burst <= 0 {
		errs = append(errs, "heartbeat.rateLimit and heartbeat.burst must be positive")
	}
	if cfg.Tasks.RetentionDays < 0 {
		errs = append(errs, "tasks.retentionDays cannot be negative")
	}
	if cfg.Tasks.RetentionDays > 0 && cfg.Tasks.CleanupInterval <= 0 {
		errs = append(errs, "tasks.cleanupInterval must be positive when retention is enabled")
	}
	if cfg.Proxy.Timeout <= 0 {
		errs = append(errs, "proxy.timeout must be positive")
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(cfg.Logging.Level)] {
		errs = append(errs, "logging.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "console": true}
	if !validFormats[strings.ToLower(cfg.Logging.Format)] {
		errs = append(errs, "logging.format must be one of: json, console")
	}

	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}
