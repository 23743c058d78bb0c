// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package main

import (
	"encoding/json"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/autobrr/drivedex/internal/driveident"
	"github.com/autobrr/drivedex/internal/models"
	"github.com/autobrr/drivedex/internal/services/supervisor"
)

func RunInspectCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "inspect",
		Short: "Inspection session operations",
	}

	cmd.AddCommand(runInspectStartCommand())
	cmd.AddCommand(runInspectRunCommand())
	cmd.AddCommand(runInspectSkipCommand())
	cmd.AddCommand(runInspectCancelCommand())
	return cmd
}

func runInspectStartCommand() *cobra.Command {
	var (
		dbPath      string
		mountPoint  string
		logLevel    string
		driveSerial string
		driveModel  string
		driveNotes  string
	)

	cmd := &cobra.Command{
		Use:   "start",
		Short: "Open a new inspection session for a mounted drive",
		RunE: func(cmd *cobra.Command, _ []string) error {
			setupWorkerLogger(logLevel)

			cat, err := openCatalog(dbPath)
			if err != nil {
				return err
			}
			defer cat.Close()

			var override *driveident.Override
			if driveSerial != "" || driveModel != "" || driveNotes != "" {
				override = &driveident.Override{Serial: driveSerial, Model: driveModel, Notes: driveNotes}
			}

			session, err := cat.inspection.Start(cmd.Context(), mountPoint, override)
			if err != nil {
				return err
			}

			cmd.Printf("Session %d opened for drive %d\n", session.ID, session.DriveID)
			for _, pass := range session.Passes {
				cmd.Printf("  pass %d (%s): %s\n", pass.PassNumber, pass.PassName, pass.Status)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&dbPath, "db", "", "Path to the catalog database")
	cmd.Flags().StringVar(&mountPoint, "mount", "", "Mount point of the drive to inspect")
	cmd.Flags().StringVar(&logLevel, "log-level", "INFO", "Log level for stderr output")
	cmd.Flags().StringVar(&driveSerial, "drive-serial", "", "Override the detected drive serial number")
	cmd.Flags().StringVar(&driveModel, "drive-model", "", "Override the detected drive model")
	cmd.Flags().StringVar(&driveNotes, "drive-notes", "", "Operator notes to store on the drive")
	_ = cmd.MarkFlagRequired("mount")

	return cmd
}

// runInspectRunCommand is the pass worker. The API server spawns it through
// the supervisor with --json-output.
func runInspectRunCommand() *cobra.Command {
	var (
		dbPath     string
		sessionID  int64
		passNumber int
		jsonOutput bool
		logLevel   string
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Execute one inspection pass",
		RunE: func(cmd *cobra.Command, _ []string) error {
			setupWorkerLogger(logLevel)

			cat, err := openCatalog(dbPath)
			if err != nil {
				return workerFailure(jsonOutput, err)
			}
			defer cat.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			report, err := cat.inspection.RunPass(ctx, sessionID, passNumber)
			if err != nil {
				return workerFailure(jsonOutput, err)
			}

			if jsonOutput {
				return supervisor.WriteSuccess(os.Stdout, report)
			}

			pretty, err := json.MarshalIndent(report, "", "  ")
			if err != nil {
				return err
			}
			cmd.Printf("Pass %d (%s) completed\n%s\n", passNumber, models.PassName(passNumber), pretty)
			return nil
		},
	}

	cmd.Flags().StringVar(&dbPath, "db", "", "Path to the catalog database")
	cmd.Flags().Int64Var(&sessionID, "session", 0, "Inspection session ID")
	cmd.Flags().IntVar(&passNumber, "pass", 0, "Pass number to run (1-4)")
	cmd.Flags().BoolVar(&jsonOutput, "json-output", false, "Emit a terminal JSON document on stdout")
	cmd.Flags().StringVar(&logLevel, "log-level", "INFO", "Log level for stderr output")
	_ = cmd.MarkFlagRequired("session")
	_ = cmd.MarkFlagRequired("pass")

	return cmd
}

func runInspectSkipCommand() *cobra.Command {
	var (
		dbPath     string
		sessionID  int64
		passNumber int
		reason     string
		logLevel   string
	)

	cmd := &cobra.Command{
		Use:   "skip",
		Short: "Skip an optional inspection pass",
		RunE: func(cmd *cobra.Command, _ []string) error {
			setupWorkerLogger(logLevel)

			cat, err := openCatalog(dbPath)
			if err != nil {
				return err
			}
			defer cat.Close()

			if err := cat.sessions.SkipPass(cmd.Context(), sessionID, passNumber, reason); err != nil {
				return err
			}
			cmd.Printf("Pass %d (%s) skipped\n", passNumber, models.PassName(passNumber))
			return nil
		},
	}

	cmd.Flags().StringVar(&dbPath, "db", "", "Path to the catalog database")
	cmd.Flags().Int64Var(&sessionID, "session", 0, "Inspection session ID")
	cmd.Flags().IntVar(&passNumber, "pass", 0, "Pass number to skip (2 or 3)")
	cmd.Flags().StringVar(&reason, "reason", "", "Why the pass is being skipped")
	cmd.Flags().StringVar(&logLevel, "log-level", "INFO", "Log level for stderr output")
	_ = cmd.MarkFlagRequired("session")
	_ = cmd.MarkFlagRequired("pass")
	_ = cmd.MarkFlagRequired("reason")

	return cmd
}

func runInspectCancelCommand() *cobra.Command {
	var (
		dbPath    string
		sessionID int64
		logLevel  string
	)

	cmd := &cobra.Command{
		Use:   "cancel",
		Short: "Cancel an active inspection session",
		RunE: func(cmd *cobra.Command, _ []string) error {
			setupWorkerLogger(logLevel)

			cat, err := openCatalog(dbPath)
			if err != nil {
				return err
			}
			defer cat.Close()

			if err := cat.sessions.CancelSession(cmd.Context(), sessionID); err != nil {
				return err
			}
			cmd.Printf("Session %d cancelled\n", sessionID)
			return nil
		},
	}

	cmd.Flags().StringVar(&dbPath, "db", "", "Path to the catalog database")
	cmd.Flags().Int64Var(&sessionID, "session", 0, "Inspection session ID")
	cmd.Flags().StringVar(&logLevel, "log-level", "INFO", "Log level for stderr output")
	_ = cmd.MarkFlagRequired("session")

	return cmd
}
