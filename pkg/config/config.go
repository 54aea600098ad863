// Package config loads daemon configuration from the environment and an
// optional config file.
package config

import (
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/viper"
)

// Config is the daemon configuration.
type Config struct {
	// Addr is the HTTP listen address.
	Addr string `mapstructure:"addr"`
	// TokensPath is the base directory for per-session credential storage.
	TokensPath string `mapstructure:"tokens_path"`
	// DatabasePath is the sqlite recorder file. Empty disables durable
	// recording.
	DatabasePath string `mapstructure:"database_path"`

	GroqAPIKey  string `mapstructure:"groq_api_key"`
	GroqBaseURL string `mapstructure:"groq_base_url"`
	GroqModel   string `mapstructure:"groq_model"`

	LogLevel  string `mapstructure:"log_level"`
	LogFormat string `mapstructure:"log_format"` // "console" or "json"
}

// Load reads configuration from WPP_* environment variables and, when path is
// non-empty, a YAML config file. Environment variables win over the file.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("WPP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("addr", ":3000")
	v.SetDefault("tokens_path", "./tokens")
	v.SetDefault("database_path", "")
	v.SetDefault("groq_api_key", "")
	v.SetDefault("groq_base_url", "")
	v.SetDefault("groq_model", "")
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "console")

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, errors.Wrapf(err, "read config file %s", path)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, errors.Wrap(err, "unmarshal config")
	}
	return cfg, nil
}
