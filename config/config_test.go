package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func validConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Transport:    "http",
			HTTPPort:     8080,
			MaxBodyBytes: 1 << 20,
			RateLimit:    RateLimitConfig{Requests: 10, WindowSec: 60},
		},
		Sandbox: SandboxConfig{
			Runtime:           "docker",
			TimeoutSec:        10,
			DeadlineSec:       60,
			MaxDeadlineSec:    120,
			MemoryMB:          256,
			CPUs:              1,
			PidsLimit:         64,
			MaxConcurrent:     4,
			QueueTimeoutSec:   30,
			CleanupTimeoutSec: 30,
			MaxLogBytes:       4096,
			MaxCodeBytes:      4096,
		},
		Logging: LoggingConfig{
			Mode:  "production",
			Level: "info",
		},
	}
}

func TestConfigValidation(t *testing.T) {
	t.Run("ValidConfig", func(t *testing.T) {
		require.NoError(t, validConfig().validate())
	})

	tests := []struct {
		name    string
		mutate  func(*Config)
		message string
	}{
		{"InvalidServerTransport", func(c *Config) { c.Server.Transport = "invalid" }, "invalid server.transport"},
		{"InvalidHTTPPort", func(c *Config) { c.Server.HTTPPort = 0 }, "server.http_port must be in 1..65535"},
		{"InvalidMaxBody", func(c *Config) { c.Server.MaxBodyBytes = 0 }, "server.max_body_bytes must be positive"},
		{"InvalidRateWindow", func(c *Config) { c.Server.RateLimit.WindowSec = 0 }, "server.rate_limit.window_sec must be positive"},
		{"InvalidRuntime", func(c *Config) { c.Sandbox.Runtime = "lxc" }, "unsupported sandbox.runtime"},
		{"InvalidSandboxTimeout", func(c *Config) { c.Sandbox.TimeoutSec = 0 }, "sandbox.timeout_sec must be positive"},
		{"DeadlineShorterThanTimeout", func(c *Config) { c.Sandbox.DeadlineSec = 5 }, "sandbox.deadline_sec must be at least"},
		{"MaxDeadlineShorterThanDeadline", func(c *Config) { c.Sandbox.MaxDeadlineSec = 30 }, "sandbox.max_deadline_sec must be at least"},
		{"InvalidSandboxMemory", func(c *Config) { c.Sandbox.MemoryMB = 0 }, "sandbox.memory_mb must be positive"},
		{"InvalidCPUs", func(c *Config) { c.Sandbox.CPUs = 0 }, "sandbox.cpus must be positive"},
		{"InvalidPidsLimit", func(c *Config) { c.Sandbox.PidsLimit = -1 }, "sandbox.pids_limit must be positive"},
		{"InvalidMaxConcurrent", func(c *Config) { c.Sandbox.MaxConcurrent = 0 }, "sandbox.max_concurrent must be positive"},
		{"InvalidManifestURL", func(c *Config) {
			c.Manifest = ManifestConfig{Enabled: true, TimeoutSec: 5, MaxBytes: 10}
		}, "manifest.base_url is required"},
		{"InvalidLoggingMode", func(c *Config) { c.Logging.Mode = "invalid_mode" }, "invalid logging.mode"},
		{"InvalidLogLevel", func(c *Config) { c.Logging.Level = "invalid_level" }, "invalid logging.level"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := cfg.validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.message)
		})
	}

	t.Run("RateLimitDisabled", func(t *testing.T) {
		cfg := validConfig()
		cfg.Server.RateLimit = RateLimitConfig{}
		require.NoError(t, cfg.validate())
	})

	t.Run("StdioIgnoresPort", func(t *testing.T) {
		cfg := validConfig()
		cfg.Server.Transport = "stdio"
		cfg.Server.HTTPPort = 0
		require.NoError(t, cfg.validate())
	})
}

func TestLoadDefaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := New()
	require.NoError(t, err)

	assert.Equal(t, "http", cfg.Server.Transport)
	assert.Equal(t, 8080, cfg.Server.HTTPPort)
	assert.Equal(t, "docker", cfg.Sandbox.Runtime)
	assert.Equal(t, 10, cfg.Sandbox.TimeoutSec)
	assert.Equal(t, 120, cfg.Sandbox.DeadlineSec)
	assert.Equal(t, 4, cfg.Sandbox.MaxConcurrent)
	assert.False(t, cfg.Sandbox.NetworkEnabled)
	assert.False(t, cfg.Manifest.Enabled)
	assert.Equal(t, "docker", cfg.ContainerBinary())
}

func TestLoadFromFile(t *testing.T) {
	t.Setenv("TEST_MANIFEST_KEY", "secret")

	path := filepath.Join(t.TempDir(), "runbox.yaml")
	content := `
server:
  http_port: 9090
sandbox:
  runtime: podman
  binary: /usr/bin/podman
  timeout_sec: 5
  max_concurrent: 2
manifest:
  enabled: true
  api_key: ${TEST_MANIFEST_KEY}
languages:
  python:
    image: python:3.12-slim
  go:
    runtime_image: registry.local/alpine:3.20
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.HTTPPort)
	assert.Equal(t, "podman", cfg.Sandbox.Runtime)
	assert.Equal(t, "/usr/bin/podman", cfg.ContainerBinary())
	assert.Equal(t, 2, cfg.Sandbox.MaxConcurrent)
	assert.Equal(t, "secret", cfg.Manifest.APIKey)
	assert.Equal(t, "python:3.12-slim", cfg.Languages["python"].Image)
	assert.Equal(t, "registry.local/alpine:3.20", cfg.Languages["go"].RuntimeImage)
}

func TestLoadEnvOverride(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("RUNBOX_SANDBOX_MEMORY_MB", "128")

	cfg, err := New()
	require.NoError(t, err)
	assert.Equal(t, 128, cfg.Sandbox.MemoryMB)
}

func TestLoadMissingExplicitFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "error reading config file")
}

func TestConfigYAML(t *testing.T) {
	cfg := validConfig()
	cfg.Manifest.APIKey = "do-not-print"

	out, err := cfg.YAML()
	require.NoError(t, err)
	assert.NotContains(t, string(out), "do-not-print")

	var decoded Config
	require.NoError(t, yaml.Unmarshal(out, &decoded))
	assert.Equal(t, cfg.Sandbox.MemoryMB, decoded.Sandbox.MemoryMB)
}
