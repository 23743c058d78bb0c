// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/autobrr/drivedex/internal/driveident"
	"github.com/autobrr/drivedex/internal/services/supervisor"
)

// RunScanCommand is the scan worker. The API server spawns it through the
// supervisor with --json-output; it also works standalone for one-off scans
// from a shell.
func RunScanCommand() *cobra.Command {
	var (
		dbPath      string
		mountPoint  string
		jsonOutput  bool
		logLevel    string
		batchSize   int
		driveSerial string
		driveModel  string
		driveNotes  string
	)

	cmd := &cobra.Command{
		Use:   "scan",
		Short: "Catalog all files on a mounted drive",
		RunE: func(cmd *cobra.Command, _ []string) error {
			setupWorkerLogger(logLevel)

			cat, err := openCatalog(dbPath)
			if err != nil {
				return workerFailure(jsonOutput, err)
			}
			defer cat.Close()
			cat.scanner.SetBatchSize(batchSize)

			var override *driveident.Override
			if driveSerial != "" || driveModel != "" || driveNotes != "" {
				override = &driveident.Override{Serial: driveSerial, Model: driveModel, Notes: driveNotes}
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			summary, err := cat.scanner.Run(ctx, mountPoint, override)
			if err != nil && (summary == nil || !errors.Is(err, context.Canceled)) {
				return workerFailure(jsonOutput, err)
			}

			// A cancelled scan closed its row and kept committed batches;
			// report what was catalogued.
			if jsonOutput {
				return supervisor.WriteSuccess(os.Stdout, summary)
			}

			cmd.Printf("Scan %d: %s\n", summary.ScanID, summary.Status)
			cmd.Printf("  Drive:    %s (id %d)\n", summary.SerialNumber, summary.DriveID)
			cmd.Printf("  Files:    %s\n", humanize.Comma(summary.FileCount))
			cmd.Printf("  Size:     %s\n", humanize.Bytes(uint64(summary.TotalSizeBytes)))
			cmd.Printf("  Errors:   %d\n", summary.ErrorCount)
			cmd.Printf("  Duration: %ds\n", summary.DurationSeconds)
			return nil
		},
	}

	cmd.Flags().StringVar(&dbPath, "db", "", "Path to the catalog database")
	cmd.Flags().StringVar(&mountPoint, "mount", "", "Mount point of the drive to scan")
	cmd.Flags().BoolVar(&jsonOutput, "json-output", false, "Emit a terminal JSON document on stdout")
	cmd.Flags().StringVar(&logLevel, "log-level", "INFO", "Log level for stderr output")
	cmd.Flags().IntVar(&batchSize, "batch-size", 0, "Catalog rows committed per batch (0 uses the default)")
	cmd.Flags().StringVar(&driveSerial, "drive-serial", "", "Override the detected drive serial number")
	cmd.Flags().StringVar(&driveModel, "drive-model", "", "Override the detected drive model")
	cmd.Flags().StringVar(&driveNotes, "drive-notes", "", "Operator notes to store on the drive")
	_ = cmd.MarkFlagRequired("mount")

	return cmd
}

// workerFailure writes the failure document when running under the
// supervisor, then surfaces the error for a non-zero exit.
func workerFailure(jsonOutput bool, err error) error {
	if jsonOutput {
		if werr := supervisor.WriteFailure(os.Stdout, err); werr != nil {
			return werr
		}
	}
	return err
}
