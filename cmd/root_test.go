package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootCommand_HasSubcommands(t *testing.T) {
	names := make(map[string]bool)
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}

	for _, name := range []string{"serve", "migrate", "evict", "reclaim", "settings", "stats", "config"} {
		assert.True(t, names[name], "expected subcommand %q not found", name)
	}
}

func TestRootCommand_Metadata(t *testing.T) {
	assert.Equal(t, "checkpool", rootCmd.Use)
	assert.NotEmpty(t, rootCmd.Short)
	assert.NotEmpty(t, rootCmd.Long)
}

func TestServeCommand_Flags(t *testing.T) {
	flag := serveCmd.Flags().Lookup("port")
	require.NotNil(t, flag, "serve command should have --port flag")
	assert.Equal(t, "0", flag.DefValue)
}

func TestSettingsCommand_HasSubcommands(t *testing.T) {
	names := make(map[string]bool)
	for _, c := range settingsCmd.Commands() {
		names[c.Name()] = true
	}
	assert.True(t, names["get"])
	assert.True(t, names["set"])
	assert.NotNil(t, settingsSetCmd.Flags().Lookup("file"))
	assert.NotNil(t, settingsGetCmd.Flags().Lookup("show-secret"))
}

func TestEvictCommand_RequiresSessionID(t *testing.T) {
	assert.Error(t, evictCmd.Args(evictCmd, nil))
	assert.NoError(t, evictCmd.Args(evictCmd, []string{"s1"}))
}

func TestLoadDotenv(t *testing.T) {
	assert.NoError(t, loadDotenv(filepath.Join(t.TempDir(), "missing.env")))

	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("CHECKPOOL_TEST_DOTENV=from-file\n"), 0o600))
	t.Setenv("CHECKPOOL_TEST_DOTENV", "")
	require.NoError(t, os.Unsetenv("CHECKPOOL_TEST_DOTENV"))

	require.NoError(t, loadDotenv(path))
	assert.Equal(t, "from-file", os.Getenv("CHECKPOOL_TEST_DOTENV"))
}

func TestLoadDotenv_KeepsExistingEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("CHECKPOOL_TEST_DOTENV_KEEP=from-file\n"), 0o600))
	t.Setenv("CHECKPOOL_TEST_DOTENV_KEEP", "from-env")

	require.NoError(t, loadDotenv(path))
	assert.Equal(t, "from-env", os.Getenv("CHECKPOOL_TEST_DOTENV_KEEP"))
}
