// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/autobrr/drivedex/internal/api"
	"github.com/autobrr/drivedex/internal/buildinfo"
	"github.com/autobrr/drivedex/internal/config"
	"github.com/autobrr/drivedex/internal/services/supervisor"
)

func RunServeCommand() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the drivedex API server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), configPath)
		},
	}

	cmd.Flags().StringVar(&configPath, "config", "", "Path to config file or directory (default: user config dir)")
	return cmd
}

func runServe(ctx context.Context, configPath string) error {
	cfg, err := config.New(configPath, buildinfo.Version)
	if err != nil {
		return err
	}
	cfg.SetupLogger()

	log.Info().
		Str("version", buildinfo.Version).
		Str("commit", buildinfo.Commit).
		Str("database", cfg.Config.DatabasePath).
		Msg("Starting drivedex")

	cat, err := openCatalog(cfg.Config.DatabasePath)
	if err != nil {
		return err
	}
	defer cat.Close()

	cat.scanner.SetBatchSize(cfg.Config.ScanBatchSize)
	cat.duplicates.SetMinCandidateSize(cfg.Config.DuplicateMinSize)
	cat.prober.SetTools(cfg.Config.FsckPath, cfg.Config.SmartctlPath)

	// Scan and pass work runs in child processes of this same binary.
	executable, err := os.Executable()
	if err != nil {
		return fmt.Errorf("locate executable: %w", err)
	}
	super := supervisor.New(executable)

	server := api.NewServer(cfg.Config, api.Deps{
		Drives:     cat.drives,
		Scans:      cat.scans,
		Sessions:   cat.sessions,
		Duplicates: cat.dups,
		Inspection: cat.inspection,
		Supervisor: super,
		Resolver:   cat.resolver,
	})

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start()
	}()

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info().Msg("Shutting down")

	if n := super.CancelPrefix(""); n > 0 {
		log.Info().Int("workers", n).Msg("Signalled running workers")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}
