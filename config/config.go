// Package config loads application configuration from file, environment
// and defaults.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config represents the application configuration
type Config struct {
	Provider            string        `mapstructure:"provider"`
	Model               string        `mapstructure:"model"`
	SystemPrompt        string        `mapstructure:"system_prompt"`
	MaxRounds           int           `mapstructure:"max_rounds"`
	ToolTimeout         time.Duration `mapstructure:"tool_timeout"`
	TurnTimeout         time.Duration `mapstructure:"turn_timeout"`
	CommentBetweenTools bool          `mapstructure:"comment_between_tools"`
	Temperature         float32       `mapstructure:"temperature"`
	MaxTokens           int           `mapstructure:"max_tokens"`
	DBPath              string        `mapstructure:"db_path"`
	ListenAddr          string        `mapstructure:"listen_addr"`
	LogLevel            string        `mapstructure:"log_level"`
}

// Load reads configuration from $HOME/.agentloop/config.yaml, overlaid by
// AGENTLOOP_* environment variables. A missing config file is not an error;
// defaults apply.
func Load() (*Config, error) {
	v := viper.New()

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("get home directory: %w", err)
	}
	configDir := filepath.Join(homeDir, ".agentloop")

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(configDir)
	v.AddConfigPath(".")

	v.SetEnvPrefix("AGENTLOOP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("provider", "openai")
	v.SetDefault("max_rounds", 8)
	v.SetDefault("tool_timeout", 15*time.Second)
	v.SetDefault("turn_timeout", 5*time.Minute)
	v.SetDefault("comment_between_tools", true)
	v.SetDefault("db_path", filepath.Join(configDir, "history.db"))
	v.SetDefault("listen_addr", ":8080")
	v.SetDefault("log_level", "info")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return &cfg, nil
}

// EnsureDataDir creates the directory holding the database file.
func (c *Config) EnsureDataDir() error {
	dir := filepath.Dir(c.DBPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create data directory: %w", err)
	}
	return nil
}
