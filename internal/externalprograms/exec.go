// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package externalprograms runs host utilities (lsblk, smartctl, fsck) with
// discrete argument vectors. Arguments are never passed through a shell, so
// mount points and device paths cannot be interpreted as shell syntax.
package externalprograms

import (
	"bytes"
	"context"
	"errors"
	"os/exec"
	"time"

	"github.com/rs/zerolog/log"
)

// Result contains the outcome of one external program run.
type Result struct {
	// Started indicates whether the command was successfully started.
	Started bool

	// ExitCode is the process exit code. -1 means unknown or the process
	// did not complete.
	ExitCode int

	// Stdout and Stderr contain the captured output.
	Stdout string
	Stderr string

	// Duration is how long the command ran.
	Duration time.Duration
}

// ErrNotFound reports that the program binary is not installed on the host.
// Probes treat this as "tool unavailable", not as a drive problem.
var ErrNotFound = errors.New("program not found")

// Run executes a program with a discrete argv vector, waits for it to exit,
// and captures both output streams. A non-zero exit code is not an error
// here; callers interpret exit codes per tool (fsck in particular encodes
// findings in its exit status).
func Run(ctx context.Context, program string, args ...string) (Result, error) {
	if program == "" {
		return Result{}, errors.New("program must not be empty")
	}

	if _, err := exec.LookPath(program); err != nil {
		return Result{}, ErrNotFound
	}

	cmd := exec.CommandContext(ctx, program, args...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	log.Debug().
		Str("program", program).
		Strs("args", args).
		Msg("Executing external program")

	startTime := time.Now()
	if err := cmd.Start(); err != nil {
		return Result{Duration: time.Since(startTime)}, err
	}

	waitErr := cmd.Wait()
	duration := time.Since(startTime)

	result := Result{
		Started:  true,
		ExitCode: -1,
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Duration: duration,
	}
	if cmd.ProcessState != nil {
		result.ExitCode = cmd.ProcessState.ExitCode()
	}

	if waitErr != nil {
		var exitErr *exec.ExitError
		if errors.As(waitErr, &exitErr) {
			// The process ran and exited non-zero; the caller decides
			// what that means.
			return result, nil
		}
		return result, waitErr
	}

	return result, nil
}
