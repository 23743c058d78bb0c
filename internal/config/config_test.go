// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewWritesDefaultConfig(t *testing.T) {
	dir := t.TempDir()

	c, err := New(dir, "test")
	require.NoError(t, err)

	assert.FileExists(t, filepath.Join(dir, "config.toml"))
	assert.Equal(t, "127.0.0.1", c.Config.Host)
	assert.Equal(t, 7575, c.Config.Port)
	assert.Equal(t, "INFO", c.Config.LogLevel)
	assert.Equal(t, 1000, c.Config.ScanBatchSize)
	assert.Equal(t, int64(1024), c.Config.DuplicateMinSize)

	// Database defaults next to the config file.
	assert.Equal(t, filepath.Join(dir, "drivedex.db"), c.Config.DatabasePath)
}

func TestNewReadsExistingConfig(t *testing.T) {
	dir := t.TempDir()
	configFile := filepath.Join(dir, "config.toml")
	require.NoError(t, os.WriteFile(configFile, []byte(`
host = "0.0.0.0"
port = 9999
logLevel = "DEBUG"
databasePath = "/var/lib/drivedex/catalog.db"
scanBatchSize = 250
`), 0o644))

	c, err := New(configFile, "test")
	require.NoError(t, err)
	assert.Equal(t, "0.0.0.0", c.Config.Host)
	assert.Equal(t, 9999, c.Config.Port)
	assert.Equal(t, "/var/lib/drivedex/catalog.db", c.Config.DatabasePath)
	assert.Equal(t, 250, c.Config.ScanBatchSize)
}

func TestEnvOverridesConfigFile(t *testing.T) {
	dir := t.TempDir()
	configFile := filepath.Join(dir, "config.toml")
	require.NoError(t, os.WriteFile(configFile, []byte(`port = 9999`), 0o644))

	t.Setenv("DRIVEDEX__PORT", "8123")
	t.Setenv("DRIVEDEX__DATABASEPATH", "/override/catalog.db")

	c, err := New(configFile, "test")
	require.NoError(t, err)
	assert.Equal(t, 8123, c.Config.Port)
	assert.Equal(t, "/override/catalog.db", c.Config.DatabasePath)
}

func TestInvalidConfigRejected(t *testing.T) {
	dir := t.TempDir()
	configFile := filepath.Join(dir, "config.toml")
	require.NoError(t, os.WriteFile(configFile, []byte(`port = -1`), 0o644))

	_, err := New(configFile, "test")
	assert.Error(t, err)

	require.NoError(t, os.WriteFile(configFile, []byte(`logLevel = "LOUD"`), 0o644))
	_, err = New(configFile, "test")
	assert.Error(t, err)
}
