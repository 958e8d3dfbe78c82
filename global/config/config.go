package config

import (
	"fmt"

	"github.com/caarlos0/env/v11"
)

// ParseEnv loads configuration from environment variables.
func ParseEnv(target any) error {
	if err := env.Parse(target); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

// LoadApp parses the relay configuration and applies defaults.
func LoadApp() (*AppConfig, error) {
	var c AppConfig
	if err := ParseEnv(&c); err != nil {
		return nil, err
	}
	c.norm()
	if c.Secret == "" {
		return nil, fmt.Errorf("RELAY_SECRET must not be blank")
	}
	return &c, nil
}

// LoadDiag parses the diagnostic CLI defaults. Call Finish after flag overrides.
func LoadDiag() (*DiagConfig, error) {
	var c DiagConfig
	if err := ParseEnv(&c); err != nil {
		return nil, err
	}
	return &c, nil
}

// Finish applies defaults once flags have been merged in.
func (c *DiagConfig) Finish() *DiagConfig {
	c.norm()
	return c
}
