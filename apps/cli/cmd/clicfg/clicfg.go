// Package clicfg loads the environment shared by CLI subcommands. Flags override it.
package clicfg

import (
	"errors"
	"os"

	"github.com/caarlos0/env/v11"
	"go.uber.org/zap"

	platformlogging "github.com/zenGate-Global/palmyra-provisioning/platform/go/logging"
)

type Config struct {
	DatabaseURL string `env:"DATABASE_URL"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"warn"`
}

// Load parses the environment and applies a non-empty databaseURL flag on top.
func Load(databaseURL string) (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, err
	}
	if databaseURL != "" {
		cfg.DatabaseURL = databaseURL
	}
	if cfg.DatabaseURL == "" {
		return Config{}, errors.New("database url is required (--database-url or DATABASE_URL)")
	}
	return cfg, nil
}

// Logger writes to stderr so table and JSON output on stdout stay clean.
func (c Config) Logger() (*zap.Logger, error) {
	return platformlogging.NewLogger(platformlogging.Config{
		Component: "provisioning-cli",
		Level:     c.LogLevel,
		Output:    os.Stderr,
	})
}
