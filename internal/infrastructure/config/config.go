package config

import (
	"fmt"

	"github.com/kelseyhightower/envconfig"
)

// Config holds all kernelkit configuration.
type Config struct {
	IPC     IPCConfig
	Port    PortConfig
	Logging LogConfig
	Metrics MetricsConfig
	Soak    SoakConfig
}

// IPCConfig controls where named shared-memory objects live.
type IPCConfig struct {
	SHMDir string `envconfig:"KIT_SHM_DIR" default:"/dev/shm"`
	Prefix string `envconfig:"KIT_SHM_PREFIX" default:"kit"`
}

// PortConfig holds message port limits fixed at port creation.
type PortConfig struct {
	MaxBufferSize int `envconfig:"KIT_PORT_MAX_BUFFER" default:"4096"`
	QueueLength   int `envconfig:"KIT_PORT_QUEUE_LENGTH" default:"300"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level       string `envconfig:"LOG_LEVEL" default:"warn"`
	Development bool   `envconfig:"LOG_DEV" default:"false"`
}

// MetricsConfig holds the inspection endpoint configuration.
type MetricsConfig struct {
	Address string `envconfig:"METRICS_ADDR" default:":9464"`
	Enabled bool   `envconfig:"METRICS_ENABLED" default:"true"`
}

// SoakConfig drives the kitstat background workload.
type SoakConfig struct {
	Enabled  bool `envconfig:"KIT_SOAK_ENABLED" default:"true"`
	Workers  int  `envconfig:"KIT_SOAK_WORKERS" default:"4"`
	Capacity int  `envconfig:"KIT_SOAK_CAPACITY" default:"16"`
	IPC      bool `envconfig:"KIT_SOAK_IPC" default:"false"`
}

// Load loads configuration from environment variables.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadOrDefault loads configuration from environment or returns default.
func LoadOrDefault() *Config {
	cfg, err := Load()
	if err != nil {
		return Default()
	}
	return cfg
}

// Validate rejects limits the primitives cannot honour.
func (c *Config) Validate() error {
	if c.Port.MaxBufferSize <= 0 {
		return fmt.Errorf("invalid KIT_PORT_MAX_BUFFER: %d", c.Port.MaxBufferSize)
	}
	if c.Port.QueueLength <= 0 {
		return fmt.Errorf("invalid KIT_PORT_QUEUE_LENGTH: %d", c.Port.QueueLength)
	}
	if c.IPC.Prefix == "" {
		return fmt.Errorf("KIT_SHM_PREFIX must not be empty")
	}
	return nil
}

// Default returns default configuration.
func Default() *Config {
	return &Config{
		IPC: IPCConfig{
			SHMDir: "/dev/shm",
			Prefix: "kit",
		},
		Port: PortConfig{
			MaxBufferSize: 4096,
			QueueLength:   300,
		},
		Logging: LogConfig{
			Level:       "warn",
			Development: false,
		},
		Metrics: MetricsConfig{
			Address: ":9464",
			Enabled: true,
		},
		Soak: SoakConfig{
			Enabled:  true,
			Workers:  4,
			Capacity: 16,
			IPC:      false,
		},
	}
}
