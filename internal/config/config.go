// Package config loads supportq configuration from an optional YAML file,
// an optional .env file, and SUPPORTQ_-prefixed environment variables.
// Environment variables win over the file; every key has a usable default
// so the binary runs with no configuration at all.
package config

import (
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/lotusit/supportq/internal/errors"
	"github.com/lotusit/supportq/internal/logging"
)

// Config holds the full supportq configuration.
type Config struct {
	Server ServerConfig `mapstructure:"server"`
	Queue  QueueConfig  `mapstructure:"queue"`
	HTTP   HTTPConfig   `mapstructure:"http"`
	Log    LogConfig    `mapstructure:"log"`
}

// ServerConfig points at the portal backend.
type ServerConfig struct {
	BaseURL string        `mapstructure:"base_url"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// QueueConfig controls the durable queue and its sync controller.
type QueueConfig struct {
	DataDir       string        `mapstructure:"data_dir"`
	SyncInterval  time.Duration `mapstructure:"sync_interval"`
	MaxAttempts   int           `mapstructure:"max_attempts"`
	ProbeInterval time.Duration `mapstructure:"probe_interval"`
}

// HTTPConfig configures the local admin/submission HTTP server.
type HTTPConfig struct {
	Addr           string   `mapstructure:"addr"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level string `mapstructure:"level"`
}

// Load reads configuration. configPath may be empty; a missing config file
// or .env file is not an error.
func Load(configPath string) (*Config, error) {
	// .env is a developer convenience, absence is normal
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("SUPPORTQ")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, errors.Wrap(errors.ErrConfig, "failed to read config file", err)
		}
	} else {
		v.SetConfigName("supportq")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/supportq")
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, errors.Wrap(errors.ErrConfig, "failed to read config file", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, errors.Wrap(errors.ErrConfig, "failed to parse configuration", err)
	}

	return &cfg, nil
}

// SetupLogger points the global logger at stdout with the configured level.
func (c *Config) SetupLogger() {
	logging.Init(os.Stdout, logging.ParseLevel(c.Log.Level))
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.base_url", "http://localhost:8000")
	v.SetDefault("server.timeout", 10*time.Second)

	v.SetDefault("queue.data_dir", defaultDataDir())
	v.SetDefault("queue.sync_interval", 30*time.Second)
	v.SetDefault("queue.max_attempts", 10)
	v.SetDefault("queue.probe_interval", 15*time.Second)

	v.SetDefault("http.addr", ":8090")
	v.SetDefault("http.allowed_origins", []string{"*"})

	v.SetDefault("log.level", "INFO")
}

// defaultDataDir resolves the per-user data directory, falling back to a
// relative directory when the home directory is unknown.
func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".supportq"
	}
	return home + string(os.PathSeparator) + ".supportq"
}
