package main

import (
	"os"
	"path/filepath"
	"testing"

	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

func TestParseLogLevel(t *testing.T) {
	cases := map[string]log.Level{
		"":        log.InfoLevel,
		"debug":   log.DebugLevel,
		" WARN ":  log.WarnLevel,
		"error":   log.ErrorLevel,
		"warning": log.WarnLevel,
	}
	for input, want := range cases {
		got, err := parseLogLevel(input)
		require.NoError(t, err, input)
		require.Equal(t, want, got, input)
	}

	got, err := parseLogLevel("loud")
	require.Error(t, err)
	require.Equal(t, log.InfoLevel, got)
}

func TestSetupLoggerFallsBackToInfo(t *testing.T) {
	prev := log.GetLevel()
	t.Cleanup(func() { log.SetLevel(prev) })

	require.Error(t, setupLogger("loud"))
	require.Equal(t, log.InfoLevel, log.GetLevel())

	require.NoError(t, setupLogger("debug"))
	require.Equal(t, log.DebugLevel, log.GetLevel())
}

func TestLoadDotEnv(t *testing.T) {
	require.NoError(t, loadDotEnv(filepath.Join(t.TempDir(), "missing.env")))

	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("CHECKOUT_DOTENV_MARKER=loaded\n"), 0o600))
	t.Cleanup(func() { _ = os.Unsetenv("CHECKOUT_DOTENV_MARKER") })

	require.NoError(t, loadDotEnv(path))
	require.Equal(t, "loaded", os.Getenv("CHECKOUT_DOTENV_MARKER"))
}
