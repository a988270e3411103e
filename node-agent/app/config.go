package app

import (
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"dockfleet/pkg/logger"

	"github.com/spf13/viper"
)

// Config holds node agent configuration
type Config struct {
	Controller ControllerConfig     `mapstructure:"controller"`
	Agent      AgentConfig          `mapstructure:"agent"`
	Docker     DockerConfig         `mapstructure:"docker"`
	Result     ResultConfig         `mapstructure:"result"`
	Logging    logger.LoggingConfig `mapstructure:"logging"`
}

// ControllerConfig locates the controller API
type ControllerConfig struct {
	URL string `mapstructure:"url"`
}

// AgentConfig holds identity, scheduling and local paths
type AgentConfig struct {
	ID                string        `mapstructure:"id"`
	Version           string        `mapstructure:"version"`
	IdentityPath      string        `mapstructure:"identityPath"`
	AdvertiseURL      string        `mapstructure:"advertiseURL"`
	ListenPort        int           `mapstructure:"listenPort"`
	HeartbeatInterval time.Duration `mapstructure:"heartbeatInterval"`
	PollInterval      time.Duration `mapstructure:"pollInterval"`
	PollWait          time.Duration `mapstructure:"pollWait"`
	Workers           int           `mapstructure:"workers"`
	QueueSize         int           `mapstructure:"queueSize"`
	DBPath            string        `mapstructure:"dbPath"`
	StacksDir         string        `mapstructure:"stacksDir"`
}

// DockerConfig selects the engine endpoint; empty uses DOCKER_HOST or the default socket
type DockerConfig struct {
	Host string `mapstructure:"host"`
}

// ResultConfig holds the outbox delivery policy
type ResultConfig struct {
	Retry RetryConfig `mapstructure:"retry"`
}

// RetryConfig is an exponential backoff policy. MaxAttempts 0 retries forever.
type RetryConfig struct {
	MaxAttempts int           `mapstructure:"maxAttempts"`
	BaseDelay   time.Duration `mapstructure:"baseDelay"`
	MaxDelay    time.Duration `mapstructure:"maxDelay"`
}

func setDefaults(v *viper.Viper) {
	// HOSTNAME keeps paths unique per container replica
	hostname := os.Getenv("HOSTNAME")
	if hostname == "" {
		hostname = "node-agent"
	}
	basePath := "/var/lib/node-agent/" + hostname

	v.SetDefault("controller.url", "http://localhost:8080")

	v.SetDefault("agent.id", "")
	v.SetDefault("agent.version", "dev")
	v.SetDefault("agent.identityPath", basePath+"/identity.json")
	v.SetDefault("agent.advertiseURL", "")
	v.SetDefault("agent.listenPort", 9090)
	v.SetDefault("agent.heartbeatInterval", "30s")
	v.SetDefault("agent.pollInterval", "5s")
	v.SetDefault("agent.pollWait", "20s")
	v.SetDefault("agent.workers", 2)
	v.SetDefault("agent.queueSize", 100)
	v.SetDefault("agent.dbPath", basePath+"/agent.db")
	v.SetDefault("agent.stacksDir", basePath+"/stacks")

	v.SetDefault("docker.host", "")

	v.SetDefault("result.retry.maxAttempts", 0)
	v.SetDefault("result.retry.baseDelay", "1s")
	v.SetDefault("result.retry.maxDelay", "5m")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.outputPath", "stdout")
}

// LoadConfig reads configuration from defaults, an optional agent.yaml and NODE_AGENT_* env vars
func LoadConfig(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("NODE_AGENT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	_ = v.BindEnv("controller.url", "NODE_AGENT_CONTROLLER_URL", "AGENT_SVC_URL")
	_ = v.BindEnv("docker.host", "NODE_AGENT_DOCKER_HOST", "DOCKER_HOST")

	v.SetConfigName("agent")
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

	if u, err := url.Parse(cfg.Controller.URL); err != nil || u.Scheme == "" || u.Host == "" {
		errs = append(errs, "controller.url must be an absolute URL")
	}
	if cfg.Agent.IdentityPath == "" || cfg.Agent.DBPath == "" || cfg.Agent.StacksDir == "" {
		errs = append(errs, "agent.identityPath, agent.dbPath and agent.stacksDir are required")
	}
	if cfg.Agent.ListenPort < 0 || cfg.Agent.ListenPort > 65535 {
		errs = append(errs, "agent.listenPort must be between 0 and 65535")
	}
	if cfg.Agent.HeartbeatInterval <= 0 || cfg.Agent.PollInterval <= 0 {
		errs = append(errs, "agent.heartbeatInterval and agent.pollInterval must be positive")
	}
	if cfg.Agent.PollWait < 0 || cfg.Agent.PollWait > time.Minute {
		errs = append(errs, "agent.pollWait must be between 0 and 60s")
	}
	if cfg.Agent.Workers <= 0 || cfg.Agent.QueueSize <= 0 {
		errs = append(errs, "agent.workers and agent.queueSize must be positive")
	}
	if cfg.Result.Retry.MaxAttempts < 0 {
		errs = append(errs, "result.retry.maxAttempts cannot be negative")
	}
	if cfg.Result.Retry.BaseDelay <= 0 || cfg.Result.Retry.MaxDelay < cfg.Result.Retry.BaseDelay {
		errs = append(errs, "result.retry.baseDelay must be positive and not exceed maxDelay")
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
