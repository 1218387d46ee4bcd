// Package config loads and validates the chatline configuration.
//
// Configuration sources, highest precedence first:
//  1. Environment variables (CHATLINE_*)
//  2. Configuration file (YAML)
//  3. Default values
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Config is the chatline configuration shared by the server and client
// binaries.
type Config struct {
	// Logging controls log output behavior
	Logging LoggingConfig `mapstructure:"logging" yaml:"logging"`

	// Server configures the relay server
	Server ServerConfig `mapstructure:"server" yaml:"server"`

	// Client configures the chat agent
	Client ClientConfig `mapstructure:"client" yaml:"client"`

	// Discovery configures the UDP presence beacon
	Discovery DiscoveryConfig `mapstructure:"discovery" yaml:"discovery"`

	// Metrics configures the Prometheus metrics endpoint
	Metrics MetricsConfig `mapstructure:"metrics" yaml:"metrics"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	// Level is the minimum log level to output.
	// Valid values: DEBUG, INFO, WARN, ERROR (case-insensitive)
	Level string `mapstructure:"level" validate:"required,oneof=DEBUG INFO WARN ERROR debug info warn error" yaml:"level"`

	// Format specifies the log output format: text or json
	Format string `mapstructure:"format" validate:"required,oneof=text json" yaml:"format"`

	// Output is where logs are written: stdout, stderr, or a file path
	Output string `mapstructure:"output" validate:"required" yaml:"output"`
}

// ServerConfig configures the relay server.
type ServerConfig struct {
	// Host is the bind address. Empty binds all interfaces.
	Host string `mapstructure:"host" yaml:"host"`

	// Port is the TCP listen port. Default 50000.
	Port int `mapstructure:"port" validate:"required,min=1,max=65535" yaml:"port"`

	// Name is the service name announced on the discovery beacon.
	Name string `mapstructure:"name" validate:"required" yaml:"name"`

	// ShutdownTimeout is the maximum time to wait for graceful shutdown.
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"required,gt=0" yaml:"shutdown_timeout"`
}

// ClientConfig configures the chat agent.
type ClientConfig struct {
	// Connections is the slave pool size. Default 4.
	Connections int `mapstructure:"connections" validate:"required,min=1,max=1024" yaml:"connections"`

	// QueueSize bounds the receive buffer. Default 64.
	QueueSize int `mapstructure:"queue_size" validate:"required,min=1" yaml:"queue_size"`

	// RetryBackoff is the wait between connection attempts. Minimum 1s.
	RetryBackoff time.Duration `mapstructure:"retry_backoff" validate:"required,gte=1s" yaml:"retry_backoff"`

	// DownloadDir is where received files are saved.
	DownloadDir string `mapstructure:"download_dir" validate:"required" yaml:"download_dir"`
}

// DiscoveryConfig configures the UDP presence beacon.
type DiscoveryConfig struct {
	// Enabled controls whether the beacon runs at all.
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// Port is the UDP discovery port. Default 50001.
	Port int `mapstructure:"port" validate:"omitempty,min=1,max=65535" yaml:"port"`

	// Period is the announcement interval. Default 1s.
	Period time.Duration `mapstructure:"period" validate:"omitempty,gt=0" yaml:"period"`
}

// MetricsConfig configures the Prometheus metrics HTTP server.
// When Enabled is false no metrics are collected.
type MetricsConfig struct {
	// Enabled controls whether metrics collection and the HTTP server run.
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// Port is the HTTP port for the metrics endpoint. Default 9090.
	Port int `mapstructure:"port" validate:"omitempty,min=1,max=65535" yaml:"port"`
}

// Load loads configuration from file, environment, and defaults. An empty
// configPath uses the default location and falls back to pure defaults when
// no file exists there.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setupViper(v, configPath)

	configFileFound, err := readConfigFile(v)
	if err != nil {
		return nil, err
	}
	if !configFileFound {
		cfg := GetDefaultConfig()
		return cfg, nil
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(durationDecodeHook())); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	ApplyDefaults(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

// SaveConfig writes the configuration to path in YAML, creating parent
// directories as needed.
func SaveConfig(cfg *Config, path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// setupViper configures environment variable support and the config file
// search path.
func setupViper(v *viper.Viper, configPath string) {
	// Example: CHATLINE_LOGGING_LEVEL=DEBUG
	v.SetEnvPrefix("CHATLINE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.AddConfigPath(getConfigDir())
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}
}

// readConfigFile reads the configuration file if it exists. A missing file is
// not an error.
func readConfigFile(v *viper.Viper) (bool, error) {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return false, nil
		}
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to read config file: %w", err)
	}
	return true, nil
}

// durationDecodeHook converts strings like "30s" or "5m" to time.Duration.
func durationDecodeHook() mapstructure.DecodeHookFunc {
	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != reflect.TypeOf(time.Duration(0)) {
			return data, nil
		}

		switch v := data.(type) {
		case string:
			return time.ParseDuration(v)
		case int:
			return time.Duration(v), nil
		case int64:
			return time.Duration(v), nil
		case float64:
			return time.Duration(v), nil
		default:
			return data, nil
		}
	}
}

// getConfigDir returns the configuration directory: $XDG_CONFIG_HOME/chatline,
// ~/.config/chatline, or "." when no home directory is available.
func getConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "chatline")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".config", "chatline")
}

// GetDefaultConfigPath returns the default configuration file path.
func GetDefaultConfigPath() string {
	return filepath.Join(getConfigDir(), "config.yaml")
}
