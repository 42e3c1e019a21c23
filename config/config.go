package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Config represents the application configuration
type Config struct {
	Server    ServerConfig              `mapstructure:"server" yaml:"server"`
	Sandbox   SandboxConfig             `mapstructure:"sandbox" yaml:"sandbox"`
	Manifest  ManifestConfig            `mapstructure:"manifest" yaml:"manifest"`
	Logging   LoggingConfig             `mapstructure:"logging" yaml:"logging"`
	Languages map[string]LanguageConfig `mapstructure:"languages" yaml:"languages"`
}

// ServerConfig holds server configuration
type ServerConfig struct {
	Transport    string          `mapstructure:"transport" yaml:"transport"`
	HTTPPort     int             `mapstructure:"http_port" yaml:"http_port"`
	MaxBodyBytes int64           `mapstructure:"max_body_bytes" yaml:"max_body_bytes"`
	RateLimit    RateLimitConfig `mapstructure:"rate_limit" yaml:"rate_limit"`
}

// RateLimitConfig bounds requests per client IP. Requests <= 0 disables limiting.
type RateLimitConfig struct {
	Requests  int `mapstructure:"requests" yaml:"requests"`
	WindowSec int `mapstructure:"window_sec" yaml:"window_sec"`
}

// SandboxConfig holds sandbox configuration
type SandboxConfig struct {
	Runtime             string   `mapstructure:"runtime" yaml:"runtime"`
	Binary              string   `mapstructure:"binary" yaml:"binary"`
	BaseDir             string   `mapstructure:"base_dir" yaml:"base_dir"`
	TimeoutSec          int      `mapstructure:"timeout_sec" yaml:"timeout_sec"`
	DeadlineSec         int      `mapstructure:"deadline_sec" yaml:"deadline_sec"`
	MaxDeadlineSec      int      `mapstructure:"max_deadline_sec" yaml:"max_deadline_sec"`
	MemoryMB            int      `mapstructure:"memory_mb" yaml:"memory_mb"`
	CPUs                float64  `mapstructure:"cpus" yaml:"cpus"`
	PidsLimit           int      `mapstructure:"pids_limit" yaml:"pids_limit"`
	NetworkEnabled      bool     `mapstructure:"network_enabled" yaml:"network_enabled"`
	BuildNetworkEnabled bool     `mapstructure:"build_network_enabled" yaml:"build_network_enabled"`
	MaxConcurrent       int      `mapstructure:"max_concurrent" yaml:"max_concurrent"`
	QueueTimeoutSec     int      `mapstructure:"queue_timeout_sec" yaml:"queue_timeout_sec"`
	CleanupTimeoutSec   int      `mapstructure:"cleanup_timeout_sec" yaml:"cleanup_timeout_sec"`
	MaxLogBytes         int      `mapstructure:"max_log_bytes" yaml:"max_log_bytes"`
	MaxCodeBytes        int      `mapstructure:"max_code_bytes" yaml:"max_code_bytes"`
	BuildArgs           []string `mapstructure:"build_args" yaml:"build_args"`
	ReapOrphans         bool     `mapstructure:"reap_orphans" yaml:"reap_orphans"`
}

// ManifestConfig configures the dependency manifest generator
type ManifestConfig struct {
	Enabled    bool   `mapstructure:"enabled" yaml:"enabled"`
	BaseURL    string `mapstructure:"base_url" yaml:"base_url"`
	APIKey     string `mapstructure:"api_key" yaml:"-"`
	Model      string `mapstructure:"model" yaml:"model"`
	TimeoutSec int    `mapstructure:"timeout_sec" yaml:"timeout_sec"`
	MaxBytes   int    `mapstructure:"max_bytes" yaml:"max_bytes"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Mode  string `mapstructure:"mode" yaml:"mode"`
	Level string `mapstructure:"level" yaml:"level"`
}

// LanguageConfig overrides the built-in settings of one language
type LanguageConfig struct {
	Image string `mapstructure:"image" yaml:"image,omitempty"`
	// RuntimeImage is the final stage of compiled languages
	RuntimeImage string `mapstructure:"runtime_image" yaml:"runtime_image,omitempty"`
	Dockerfile   string `mapstructure:"dockerfile" yaml:"dockerfile,omitempty"`
}

// New loads the configuration from ./config.yaml or ./config/config.yaml
func New() (*Config, error) {
	return Load("")
}

// Load loads and validates the configuration. An empty path searches the default locations.
func Load(path string) (*Config, error) {
	v := viper.New()
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}

	v.SetEnvPrefix("RUNBOX")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok || path != "" {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// If config file not found, continue with defaults
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	config.Manifest.APIKey = expandEnv(config.Manifest.APIKey)

	if err := config.validate(); err != nil {
		return nil, fmt.Errorf("config validation error: %w", err)
	}

	return &config, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.transport", "http")
	v.SetDefault("server.http_port", 8080)
	v.SetDefault("server.max_body_bytes", 1<<20)
	v.SetDefault("server.rate_limit.requests", 10)
	v.SetDefault("server.rate_limit.window_sec", 60)

	v.SetDefault("sandbox.runtime", "docker")
	v.SetDefault("sandbox.binary", "")
	v.SetDefault("sandbox.base_dir", os.TempDir())
	v.SetDefault("sandbox.timeout_sec", 10)
	v.SetDefault("sandbox.deadline_sec", 120)
	v.SetDefault("sandbox.max_deadline_sec", 300)
	v.SetDefault("sandbox.memory_mb", 256)
	v.SetDefault("sandbox.cpus", 1.0)
	v.SetDefault("sandbox.pids_limit", 64)
	v.SetDefault("sandbox.network_enabled", false)
	v.SetDefault("sandbox.build_network_enabled", true)
	v.SetDefault("sandbox.max_concurrent", 4)
	v.SetDefault("sandbox.queue_timeout_sec", 30)
	v.SetDefault("sandbox.cleanup_timeout_sec", 30)
	v.SetDefault("sandbox.max_log_bytes", 64*1024)
	v.SetDefault("sandbox.max_code_bytes", 256*1024)
	v.SetDefault("sandbox.build_args", []string{})
	v.SetDefault("sandbox.reap_orphans", true)

	// Gemini exposes an OpenAI compatible endpoint
	v.SetDefault("manifest.enabled", false)
	v.SetDefault("manifest.base_url", "https://generativelanguage.googleapis.com/v1beta/openai/")
	v.SetDefault("manifest.api_key", "${GEMINI_API_KEY}")
	v.SetDefault("manifest.model", "gemini-2.0-flash")
	v.SetDefault("manifest.timeout_sec", 20)
	v.SetDefault("manifest.max_bytes", 16*1024)

	v.SetDefault("logging.mode", "production")
	v.SetDefault("logging.level", "info")
}

// expandEnv resolves values of the form ${NAME} from the environment
func expandEnv(value string) string {
	if strings.HasPrefix(value, "${") && strings.HasSuffix(value, "}") {
		return os.Getenv(value[2 : len(value)-1])
	}
	return value
}

// validate ensures the configuration is valid
//
//nolint:gocyclo // flat list of independent checks
func (c *Config) validate() error {
	if c.Server.Transport != "stdio" && c.Server.Transport != "http" {
		return fmt.Errorf("invalid server.transport: %s, must be 'stdio' or 'http'", c.Server.Transport)
	}

	if c.Server.Transport == "http" && (c.Server.HTTPPort <= 0 || c.Server.HTTPPort > 65535) {
		return fmt.Errorf("server.http_port must be in 1..65535, got: %d", c.Server.HTTPPort)
	}

	if c.Server.MaxBodyBytes <= 0 {
		return fmt.Errorf("server.max_body_bytes must be positive, got: %d", c.Server.MaxBodyBytes)
	}

	if c.Server.RateLimit.Requests > 0 && c.Server.RateLimit.WindowSec <= 0 {
		return fmt.Errorf("server.rate_limit.window_sec must be positive, got: %d", c.Server.RateLimit.WindowSec)
	}

	if c.Sandbox.Runtime != "docker" && c.Sandbox.Runtime != "podman" {
		return fmt.Errorf("unsupported sandbox.runtime: %s", c.Sandbox.Runtime)
	}

	if c.Sandbox.TimeoutSec <= 0 {
		return fmt.Errorf("sandbox.timeout_sec must be positive, got: %d", c.Sandbox.TimeoutSec)
	}

	if c.Sandbox.DeadlineSec < c.Sandbox.TimeoutSec {
		return fmt.Errorf("sandbox.deadline_sec must be at least sandbox.timeout_sec, got: %d", c.Sandbox.DeadlineSec)
	}

	if c.Sandbox.MaxDeadlineSec < c.Sandbox.DeadlineSec {
		return fmt.Errorf("sandbox.max_deadline_sec must be at least sandbox.deadline_sec, got: %d", c.Sandbox.MaxDeadlineSec)
	}

	if c.Sandbox.MemoryMB <= 0 {
		return fmt.Errorf("sandbox.memory_mb must be positive, got: %d", c.Sandbox.MemoryMB)
	}

	if c.Sandbox.CPUs <= 0 {
		return fmt.Errorf("sandbox.cpus must be positive, got: %g", c.Sandbox.CPUs)
	}

	if c.Sandbox.PidsLimit <= 0 {
		return fmt.Errorf("sandbox.pids_limit must be positive, got: %d", c.Sandbox.PidsLimit)
	}

	if c.Sandbox.MaxConcurrent <= 0 {
		return fmt.Errorf("sandbox.max_concurrent must be positive, got: %d", c.Sandbox.MaxConcurrent)
	}

	if c.Sandbox.QueueTimeoutSec <= 0 {
		return fmt.Errorf("sandbox.queue_timeout_sec must be positive, got: %d", c.Sandbox.QueueTimeoutSec)
	}

	if c.Sandbox.CleanupTimeoutSec <= 0 {
		return fmt.Errorf("sandbox.cleanup_timeout_sec must be positive, got: %d", c.Sandbox.CleanupTimeoutSec)
	}

	if c.Sandbox.MaxLogBytes <= 0 {
		return fmt.Errorf("sandbox.max_log_bytes must be positive, got: %d", c.Sandbox.MaxLogBytes)
	}

	if c.Sandbox.MaxCodeBytes <= 0 {
		return fmt.Errorf("sandbox.max_code_bytes must be positive, got: %d", c.Sandbox.MaxCodeBytes)
	}

	if c.Manifest.Enabled {
		if c.Manifest.BaseURL == "" {
			return fmt.Errorf("manifest.base_url is required when manifest.enabled is set")
		}
		if c.Manifest.TimeoutSec <= 0 {
			return fmt.Errorf("manifest.timeout_sec must be positive, got: %d", c.Manifest.TimeoutSec)
		}
		if c.Manifest.MaxBytes <= 0 {
			return fmt.Errorf("manifest.max_bytes must be positive, got: %d", c.Manifest.MaxBytes)
		}
	}

	validModes := map[string]bool{"production": true, "development": true}
	if !validModes[c.Logging.Mode] {
		return fmt.Errorf("invalid logging.mode: %s, must be 'production' or 'development'", c.Logging.Mode)
	}

	validLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
		"dpanic": true, "panic": true, "fatal": true,
	}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("invalid logging.level: %s", c.Logging.Level)
	}

	return nil
}

// GetTimeout returns the run timeout as a duration
func (c *Config) GetTimeout() time.Duration {
	return time.Duration(c.Sandbox.TimeoutSec) * time.Second
}

// GetDeadline returns the overall build+run deadline as a duration
func (c *Config) GetDeadline() time.Duration {
	return time.Duration(c.Sandbox.DeadlineSec) * time.Second
}

// ContainerBinary returns the CLI used for the configured runtime
func (c *Config) ContainerBinary() string {
	if c.Sandbox.Binary != "" {
		return c.Sandbox.Binary
	}
	return c.Sandbox.Runtime
}

// YAML renders the effective configuration. Secrets are omitted.
func (c *Config) YAML() ([]byte, error) {
	out, err := yaml.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("error marshaling config: %w", err)
	}
	return out, nil
}
