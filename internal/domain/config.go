// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package domain

import (
	"errors"
	"fmt"
	"strings"
)

// Config represents the application configuration
type Config struct {
	Version       string
	Host          string `toml:"host" mapstructure:"host"`
	Port          int    `toml:"port" mapstructure:"port"`
	BaseURL       string `toml:"baseUrl" mapstructure:"baseUrl"`
	LogLevel      string `toml:"logLevel" mapstructure:"logLevel"`
	LogPath       string `toml:"logPath" mapstructure:"logPath"`
	LogMaxSize    int    `toml:"logMaxSize" mapstructure:"logMaxSize"`
	LogMaxBackups int    `toml:"logMaxBackups" mapstructure:"logMaxBackups"`
	DatabasePath  string `toml:"databasePath" mapstructure:"databasePath"`

	// ScanBatchSize is how many catalog rows are committed per batch
	// during a scan. Larger batches are faster but lose more progress on
	// interruption.
	ScanBatchSize int `toml:"scanBatchSize" mapstructure:"scanBatchSize"`

	// DuplicateMinSize excludes files smaller than this many bytes from
	// duplicate detection.
	DuplicateMinSize int64 `toml:"duplicateMinSize" mapstructure:"duplicateMinSize"`

	// FsckPath and SmartctlPath override where the health probes look for
	// their tools. Empty means $PATH lookup.
	FsckPath     string `toml:"fsckPath" mapstructure:"fsckPath"`
	SmartctlPath string `toml:"smartctlPath" mapstructure:"smartctlPath"`
}

var validLogLevels = map[string]struct{}{
	"TRACE": {}, "DEBUG": {}, "INFO": {}, "WARN": {}, "ERROR": {},
}

func (c *Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Port)
	}
	if _, ok := validLogLevels[strings.ToUpper(c.LogLevel)]; !ok {
		return fmt.Errorf("invalid logLevel: %q", c.LogLevel)
	}
	if c.DatabasePath == "" {
		return errors.New("databasePath must not be empty")
	}
	if c.ScanBatchSize <= 0 {
		return fmt.Errorf("scanBatchSize must be positive, got %d", c.ScanBatchSize)
	}
	return nil
}
