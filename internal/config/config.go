package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

const (
	DefaultRegion  = "us-east-1"
	DefaultModelID = "mistral.mistral-large-2402-v1:0"
)

type Config struct {
	// Persistence
	TableName  string `env:"TABLE_NAME"`
	SQLitePath string `env:"SQLITE_PATH"`

	// Model
	Region            string `env:"CHAT_REGION" envDefault:"us-east-1"`
	ModelID           string `env:"MODEL_ID" envDefault:"mistral.mistral-large-2402-v1:0"`
	SystemPromptParam string `env:"SYSTEM_PROMPT_PARAM"`
	MaxPromptLength   int    `env:"MAX_PROMPT_LENGTH" envDefault:"4000"`

	// Runtime
	LocalAddr string `env:"LOCAL_ADDR"`
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
}

// Load reads the configuration from the environment. A .env file in the
// working directory, when present, fills variables that are not already set.
func Load() (*Config, error) {
	_ = godotenv.Load()
	return parse()
}

func parse() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	c.TableName = strings.TrimSpace(c.TableName)
	c.SQLitePath = strings.TrimSpace(c.SQLitePath)
	if c.TableName == "" && c.SQLitePath == "" {
		return errors.New("config: TABLE_NAME is required unless SQLITE_PATH is set")
	}
	if c.MaxPromptLength <= 0 {
		return fmt.Errorf("config: MAX_PROMPT_LENGTH must be positive, got %d", c.MaxPromptLength)
	}
	if _, err := c.SlogLevel(); err != nil {
		return err
	}
	return nil
}

// Local reports whether the process should serve HTTP itself instead of
// running as a Lambda function.
func (c *Config) Local() bool {
	return c.LocalAddr != ""
}

// SlogLevel parses LogLevel (debug, info, warn, error).
func (c *Config) SlogLevel() (slog.Level, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return 0, fmt.Errorf("config: invalid LOG_LEVEL %q: %w", c.LogLevel, err)
	}
	return lvl, nil
}
