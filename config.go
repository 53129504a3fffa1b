package erpauth

import (
	"fmt"

	"github.com/caarlos0/env/v11"
)

// ConfigFromEnv builds a Config from ERPAUTH_* environment variables.
// Unset variables fall back to the struct defaults.
func ConfigFromEnv() (Config, error) {
	cfg, err := env.ParseAs[Config]()
	if err != nil {
		return Config{}, fmt.Errorf("erpauth: failed to parse environment: %w", err)
	}
	return cfg, nil
}
