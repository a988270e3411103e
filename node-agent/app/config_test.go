package app

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig_Defaults(t *testing.T) {
	t.Setenv("HOSTNAME", "edge-1")

	cfg, err := LoadConfig(t.TempDir())
	require.NoError(t, err)

	assert.Equal(t, "http://localhost:8080", cfg.Controller.URL)
	assert.Equal(t, "/var/lib/node-agent/edge-1/identity.json", cfg.Agent.IdentityPath)
	assert.Equal(t, "/var/lib/node-agent/edge-1/agent.db", cfg.Agent.DBPath)
	assert.Equal(t, 30*time.Second, cfg.Agent.HeartbeatInterval)
	assert.Equal(t, 20*time.Second, cfg.Agent.PollWait)
	assert.Equal(t, 2, cfg.Agent.Workers)
	assert.Equal(t, time.Second, cfg.Result.Retry.BaseDelay)
	assert.Equal(t, 5*time.Minute, cfg.Result.Retry.MaxDelay)
}

func TestLoadConfig_FileAndEnv(t *testing.T) {
	dir := t.TempDir()
	yaml := "controller:\n  url: http://controller:8080\nagent:\n  workers: 4\n  heartbeatInterval: 10s\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "agent.yaml"), []byte(yaml), 0644))

	t.Setenv("NODE_AGENT_AGENT_WORKERS", "8")
	t.Setenv("DOCKER_HOST", "tcp://docker:2375")

	cfg, err := LoadConfig(dir)
	require.NoError(t, err)
	assert.Equal(t, "http://controller:8080", cfg.Controller.URL)
	assert.Equal(t, 8, cfg.Agent.Workers)
	assert.Equal(t, 10*time.Second, cfg.Agent.HeartbeatInterval)
	assert.Equal(t, "tcp://docker:2375", cfg.Docker.Host)
}

func TestLoadConfig_LegacyControllerEnv(t *testing.T) {
	t.Setenv("AGENT_SVC_URL", "http://legacy:9000")

	cfg, err := LoadConfig(t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, "http://legacy:9000", cfg.Controller.URL)
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		cfg := &Config{}
		cfg.Controller.URL = "http://controller:8080"
		cfg.Agent = AgentConfig{
			IdentityPath:      "/tmp/id.json",
			DBPath:            "/tmp/agent.db",
			StacksDir:         "/tmp/stacks",
			ListenPort:        9090,
			HeartbeatInterval: time.Second,
			PollInterval:      time.Second,
			PollWait:          20 * time.Second,
			Workers:           1,
			QueueSize:         1,
		}
		cfg.Result.Retry = RetryConfig{BaseDelay: time.Second, MaxDelay: time.Minute}
		cfg.Logging.Level = "info"
		cfg.Logging.Format = "json"
		return cfg
	}
	require.NoError(t, validate(valid()))

	cases := map[string]func(*Config){
		"relative controller url": func(c *Config) { c.Controller.URL = "controller:8080/x" },
		"no workers":              func(c *Config) { c.Agent.Workers = 0 },
		"poll wait too long":      func(c *Config) { c.Agent.PollWait = 2 * time.Minute },
		"base delay above max":    func(c *Config) { c.Result.Retry.BaseDelay = time.Hour },
		"bad log format":          func(c *Config) { c.Logging.Format = "xml" },
		"missing stacks dir":      func(c *Config) { c.Agent.StacksDir = "" },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := valid()
			mutate(cfg)
			assert.Error(t, validate(cfg))
		})
	}
}
