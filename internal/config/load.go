package config

import (
	"log"
	"strings"

	"github.com/spf13/viper"
)

// App is the file/env-facing configuration consumed by a host binary. The
// Capture block maps onto the library Config; the rest wires the host itself.
type App struct {
	Server  ServerConfig  `mapstructure:"server"`
	Logging LoggingConfig `mapstructure:"logging"`
	Storage StorageConfig `mapstructure:"storage"`
	Metrics MetricsConfig `mapstructure:"metrics"`
	Capture CaptureConfig `mapstructure:"capture"`
}

type ServerConfig struct {
	Port string `mapstructure:"port"`
}

type LoggingConfig struct {
	Level string `mapstructure:"level"`
}

type StorageConfig struct {
	Kind          string `mapstructure:"kind"`
	URL           string `mapstructure:"url"`
	RetentionDays int    `mapstructure:"retention_days"`
}

type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

type CaptureConfig struct {
	Enabled              bool                `mapstructure:"enabled"`
	DebugLogging         bool                `mapstructure:"debug_logging"`
	MaxBodySize          int                 `mapstructure:"max_body_size"`
	ExcludedPaths        []string            `mapstructure:"excluded_paths"`
	ExcludedContentTypes []string            `mapstructure:"excluded_content_types"`
	SensitiveHeaders     []string            `mapstructure:"sensitive_headers"`
	SensitiveBodyKeys    []string            `mapstructure:"sensitive_body_keys"`
	ExcludedControllers  []string            `mapstructure:"excluded_controllers"`
	ExcludedActions      map[string][]string `mapstructure:"excluded_actions"`
	Secondary            *SinkConfig         `mapstructure:"secondary"`
}

// Config converts the file-facing capture block into a library Config,
// overlaying only the knobs the file actually set.
func (c CaptureConfig) Config() *Config {
	cfg := Default()
	cfg.Enabled = c.Enabled
	cfg.DebugLogging = c.DebugLogging
	if c.MaxBodySize > 0 {
		cfg.MaxBodySize = c.MaxBodySize
	}
	if c.ExcludedPaths != nil {
		cfg.ExcludedPaths = copyStrings(c.ExcludedPaths)
	}
	if c.ExcludedContentTypes != nil {
		cfg.ExcludedContentTypes = copyStrings(c.ExcludedContentTypes)
	}
	if c.SensitiveHeaders != nil {
		cfg.SensitiveHeaders = copyStrings(c.SensitiveHeaders)
	}
	if c.SensitiveBodyKeys != nil {
		cfg.SensitiveBodyKeys = copyStrings(c.SensitiveBodyKeys)
	}
	if c.ExcludedControllers != nil {
		cfg.ExcludedControllers = copyStrings(c.ExcludedControllers)
	}
	if c.ExcludedActions != nil {
		cfg.ExcludedActions = copyActionMap(c.ExcludedActions)
	}
	if c.Secondary != nil {
		s := *c.Secondary
		cfg.Secondary = &s
	}
	return cfg
}

// Load reads the host configuration from file and environment.
func Load() (*App, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./configs")

	// Environment variables support
	// e.g. INBOUND_LOGGER_STORAGE_URL
	viper.SetEnvPrefix("inbound_logger")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	// Defaults
	viper.SetDefault("server.port", "8080")
	viper.SetDefault("logging.level", "info")
	viper.SetDefault("storage.kind", "sqlite")
	viper.SetDefault("storage.url", "./inbound_requests.db")
	viper.SetDefault("storage.retention_days", 30)
	viper.SetDefault("metrics.enabled", true)
	viper.SetDefault("metrics.path", "/metrics")
	viper.SetDefault("capture.enabled", true)
	viper.SetDefault("capture.max_body_size", DefaultMaxBodySize)

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			log.Println("No config file found, using defaults and env vars")
		} else {
			return nil, err
		}
	}

	var app App
	if err := viper.Unmarshal(&app); err != nil {
		return nil, err
	}

	return &app, nil
}
