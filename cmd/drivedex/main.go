// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package main

import (
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/autobrr/drivedex/internal/buildinfo"
)

func main() {
	rootCmd := &cobra.Command{
		Use:          "drivedex",
		Short:        "Drive catalog and inspection engine",
		Version:      buildinfo.Version,
		SilenceUsage: true,
	}

	rootCmd.AddCommand(RunServeCommand())
	rootCmd.AddCommand(RunScanCommand())
	rootCmd.AddCommand(RunInspectCommand())
	rootCmd.AddCommand(RunVersionCommand())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// setupWorkerLogger configures logging for worker and operator commands that
// run without a config file. Stdout is reserved for the terminal JSON
// document, so everything goes to stderr.
func setupWorkerLogger(levelName string) {
	level, err := zerolog.ParseLevel(strings.ToLower(levelName))
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "2006-01-02 15:04:05"})
}
