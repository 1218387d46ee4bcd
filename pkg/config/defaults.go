package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Well-known defaults.
const (
	DefaultServerPort    = 50000
	DefaultDiscoveryPort = 50001
	DefaultMetricsPort   = 9090
	DefaultConnections   = 4
	DefaultQueueSize     = 64
)

// GetDefaultConfig returns a fully populated configuration.
func GetDefaultConfig() *Config {
	cfg := &Config{}
	ApplyDefaults(cfg)
	return cfg
}

// ApplyDefaults fills any unset field with its default. Explicit values are
// preserved; only zero values are replaced.
func ApplyDefaults(cfg *Config) {
	applyLoggingDefaults(&cfg.Logging)
	applyServerDefaults(&cfg.Server)
	applyClientDefaults(&cfg.Client)
	applyDiscoveryDefaults(&cfg.Discovery)
	applyMetricsDefaults(&cfg.Metrics)
}

func applyLoggingDefaults(cfg *LoggingConfig) {
	if cfg.Level == "" {
		cfg.Level = "INFO"
	}
	cfg.Level = strings.ToUpper(cfg.Level)

	if cfg.Format == "" {
		cfg.Format = "text"
	}
	if cfg.Output == "" {
		cfg.Output = "stdout"
	}
}

func applyServerDefaults(cfg *ServerConfig) {
	if cfg.Port == 0 {
		cfg.Port = DefaultServerPort
	}
	if cfg.Name == "" {
		cfg.Name = "chatline"
	}
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 10 * time.Second
	}
}

func applyClientDefaults(cfg *ClientConfig) {
	if cfg.Connections == 0 {
		cfg.Connections = DefaultConnections
	}
	if cfg.QueueSize == 0 {
		cfg.QueueSize = DefaultQueueSize
	}
	if cfg.RetryBackoff == 0 {
		cfg.RetryBackoff = time.Second
	}
	if cfg.DownloadDir == "" {
		cfg.DownloadDir = defaultDownloadDir()
	}
}

func applyDiscoveryDefaults(cfg *DiscoveryConfig) {
	if cfg.Port == 0 {
		cfg.Port = DefaultDiscoveryPort
	}
	if cfg.Period == 0 {
		cfg.Period = time.Second
	}
}

func applyMetricsDefaults(cfg *MetricsConfig) {
	if cfg.Port == 0 {
		cfg.Port = DefaultMetricsPort
	}
}

// defaultDownloadDir is ~/Downloads/chatline, or ./downloads without a home.
func defaultDownloadDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "downloads"
	}
	return filepath.Join(home, "Downloads", "chatline")
}
