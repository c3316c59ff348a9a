package clicfg

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadPrefersFlag(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://env")

	cfg, err := Load("postgres://flag")
	require.NoError(t, err)
	require.Equal(t, "postgres://flag", cfg.DatabaseURL)
	require.Equal(t, "warn", cfg.LogLevel)
}

func TestLoadFallsBackToEnv(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://env")

	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, "postgres://env", cfg.DatabaseURL)
}

func TestLoadRequiresDatabaseURL(t *testing.T) {
	t.Setenv("DATABASE_URL", "")

	_, err := Load("")
	require.Error(t, err)
}
