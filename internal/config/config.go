// Package config provides application configuration.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v9"
)

// Config holds all application configuration, read from the environment.
type Config struct {
	Port        string `env:"PORT" envDefault:"8080"`
	FrontendURL string `env:"FRONTEND_URL"`
	DBPath      string `env:"DB_PATH" envDefault:"./data/image_chat.db"`

	// Gemini API. An empty key disables generation: the protocol stays up
	// and answers generation requests with a typed error frame.
	GeminiAPIKey string `env:"GEMINI_API_KEY"`
	GeminiModel  string `env:"GEMINI_MODEL" envDefault:"gemini-3-pro-image-preview"`

	// GenerationTimeout bounds every call to the generation backend.
	GenerationTimeout time.Duration `env:"GENERATION_TIMEOUT" envDefault:"2m"`
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parsing env config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT cannot be empty")
	}
	if c.DBPath == "" {
		return fmt.Errorf("DB_PATH cannot be empty")
	}
	if c.GeminiModel == "" {
		return fmt.Errorf("GEMINI_MODEL cannot be empty")
	}
	if c.GenerationTimeout <= 0 {
		return fmt.Errorf("GENERATION_TIMEOUT must be > 0")
	}
	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.FrontendURL == "" ||
		strings.Contains(c.FrontendURL, "localhost") ||
		strings.Contains(c.FrontendURL, "127.0.0.1")
}
