// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package config loads the application configuration from a TOML file with
// DRIVEDEX__ environment overrides, writing a commented default file on
// first run.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/autobrr/drivedex/internal/domain"
)

// Trailing underscore gives DRIVEDEX__ prefixed variables, e.g.
// DRIVEDEX__PORT, DRIVEDEX__DATABASEPATH.
const envPrefix = "DRIVEDEX_"

type AppConfig struct {
	Config *domain.Config
	viper  *viper.Viper
}

// New loads configuration from configPath (a file or a directory holding
// config.toml). An empty configPath uses the default location. Missing config
// files are created with defaults.
func New(configPath, version string) (*AppConfig, error) {
	c := &AppConfig{
		viper: viper.New(),
		Config: &domain.Config{
			Version: version,
		},
	}

	if err := c.load(configPath); err != nil {
		return nil, err
	}
	if err := c.Config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return c, nil
}

func (c *AppConfig) defaults() {
	c.viper.SetDefault("host", "127.0.0.1")
	c.viper.SetDefault("port", 7575)
	c.viper.SetDefault("baseUrl", "/")
	c.viper.SetDefault("logLevel", "INFO")
	c.viper.SetDefault("logPath", "")
	c.viper.SetDefault("logMaxSize", 50)
	c.viper.SetDefault("logMaxBackups", 3)
	c.viper.SetDefault("databasePath", "")
	c.viper.SetDefault("scanBatchSize", 1000)
	c.viper.SetDefault("duplicateMinSize", 1024)
	c.viper.SetDefault("fsckPath", "")
	c.viper.SetDefault("smartctlPath", "")
}

func (c *AppConfig) load(configPath string) error {
	c.defaults()

	c.viper.SetConfigType("toml")
	c.viper.SetEnvPrefix(envPrefix)
	c.viper.SetEnvKeyReplacer(strings.NewReplacer(".", "__"))
	c.viper.AutomaticEnv()

	configFile, err := resolveConfigFile(configPath)
	if err != nil {
		return err
	}
	c.viper.SetConfigFile(configFile)

	if _, err := os.Stat(configFile); os.IsNotExist(err) {
		if err := writeDefaultConfig(configFile); err != nil {
			return fmt.Errorf("write default config: %w", err)
		}
		log.Info().Str("path", configFile).Msg("Created default config file")
	}

	if err := c.viper.ReadInConfig(); err != nil {
		return fmt.Errorf("read config %s: %w", configFile, err)
	}

	if err := c.viper.Unmarshal(c.Config); err != nil {
		return fmt.Errorf("unmarshal config: %w", err)
	}

	// Database lives next to the config file unless pointed elsewhere.
	if c.Config.DatabasePath == "" {
		c.Config.DatabasePath = filepath.Join(filepath.Dir(configFile), "drivedex.db")
	}

	return nil
}

func resolveConfigFile(configPath string) (string, error) {
	if configPath == "" {
		dir, err := os.UserConfigDir()
		if err != nil {
			return "", fmt.Errorf("locate config dir: %w", err)
		}
		return filepath.Join(dir, "drivedex", "config.toml"), nil
	}

	if info, err := os.Stat(configPath); err == nil && info.IsDir() {
		return filepath.Join(configPath, "config.toml"), nil
	}
	return configPath, nil
}

func writeDefaultConfig(configFile string) error {
	if err := os.MkdirAll(filepath.Dir(configFile), 0o755); err != nil {
		return err
	}

	content := `# drivedex configuration
# Values can be overridden with DRIVEDEX__ environment variables,
# e.g. DRIVEDEX__PORT=8080

# Address the API listens on
host = "127.0.0.1"
port = 7575

# Base URL for serving behind a reverse proxy subfolder
baseUrl = "/"

# TRACE, DEBUG, INFO, WARN, ERROR
logLevel = "INFO"

# Optional log file (rotated). Empty logs to stderr only.
#logPath = "drivedex.log"
logMaxSize = 50
logMaxBackups = 3

# Catalog database location. Defaults to drivedex.db next to this file.
#databasePath = ""

# Rows committed per batch during catalog scans
scanBatchSize = 1000

# Files smaller than this many bytes are ignored by duplicate detection
duplicateMinSize = 1024

# Health probe tool overrides. Empty uses $PATH.
#fsckPath = ""
#smartctlPath = ""
`
	return os.WriteFile(configFile, []byte(content), 0o644)
}

// SetupLogger configures the global zerolog logger from the loaded config.
// Worker processes must log to stderr only; stdout carries their terminal
// JSON document.
func (c *AppConfig) SetupLogger() {
	level, err := zerolog.ParseLevel(strings.ToLower(c.Config.LogLevel))
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	console := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "2006-01-02 15:04:05"}

	if c.Config.LogPath != "" {
		rotated := &lumberjack.Logger{
			Filename:   c.Config.LogPath,
			MaxSize:    c.Config.LogMaxSize,
			MaxBackups: c.Config.LogMaxBackups,
			Compress:   true,
		}
		log.Logger = log.Output(zerolog.MultiLevelWriter(console, rotated))
		return
	}

	log.Logger = log.Output(console)
}
