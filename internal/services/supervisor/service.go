// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package supervisor spawns and tracks worker processes. Each scan or
// inspection pass runs in its own process: the control plane re-invokes its
// own executable with a worker subcommand and a discrete argument vector,
// captures stdout for the terminal JSON document, and never blocks a request
// on a running worker.
package supervisor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

var (
	ErrAlreadyRunning = errors.New("a worker is already running for this target")
	ErrNotRunning     = errors.New("no worker is running for this target")
)

// Outcome is the parsed end state of one worker, delivered to the completion
// callback registered at start.
type Outcome struct {
	JobID    string
	Key      string
	ExitCode int
	Duration time.Duration

	// Terminal is the parsed stdout document, nil when the worker exited
	// without producing one.
	Terminal *TerminalResult

	// Err summarizes spawn/parse/exit failures. A worker that reported
	// success cleanly has Err == nil.
	Err error

	// Stderr is the captured log stream, kept for failure diagnostics.
	Stderr string
}

// JobInfo describes one running worker.
type JobInfo struct {
	JobID     string    `json:"jobId"`
	Key       string    `json:"key"`
	StartedAt time.Time `json:"startedAt"`
}

type handle struct {
	info   JobInfo
	cmd    *exec.Cmd
	cancel context.CancelFunc
}

// Supervisor tracks running workers keyed by target (one per scan mount, one
// per session pass). Duplicate starts are rejected before any process spawns.
type Supervisor struct {
	executable string

	mu      sync.Mutex
	running map[string]*handle
}

// New creates a supervisor that re-invokes executable for worker runs.
func New(executable string) *Supervisor {
	return &Supervisor{
		executable: executable,
		running:    map[string]*handle{},
	}
}

// Start spawns a worker for key with the given argument vector. It returns
// as soon as the process is running; completion is delivered to onDone (which
// may be nil) from a background goroutine. State of record lives in the
// store, written by the worker itself, never here. There is no context
// parameter: the worker outlives the request that started it, and only
// Cancel stops it.
func (s *Supervisor) Start(key string, args []string, onDone func(Outcome)) (string, error) {
	s.mu.Lock()
	if _, exists := s.running[key]; exists {
		s.mu.Unlock()
		return "", fmt.Errorf("%w: %s", ErrAlreadyRunning, key)
	}

	workerCtx, cancel := context.WithCancel(context.Background())
	cmd := exec.CommandContext(workerCtx, s.executable, args...)
	cmd.Cancel = func() error {
		// Ask nicely first so the worker can mark its row cancelled.
		return cmd.Process.Signal(syscall.SIGTERM)
	}
	cmd.WaitDelay = 30 * time.Second

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	jobID := uuid.NewString()
	h := &handle{
		info:   JobInfo{JobID: jobID, Key: key, StartedAt: time.Now()},
		cmd:    cmd,
		cancel: cancel,
	}

	if err := cmd.Start(); err != nil {
		s.mu.Unlock()
		cancel()
		return "", fmt.Errorf("spawn worker: %w", err)
	}
	s.running[key] = h
	s.mu.Unlock()

	log.Info().
		Str("jobId", jobID).
		Str("key", key).
		Strs("args", args).
		Int("pid", cmd.Process.Pid).
		Msg("Worker started")

	go s.wait(h, &stdout, &stderr, onDone)
	return jobID, nil
}

func (s *Supervisor) wait(h *handle, stdout, stderr *bytes.Buffer, onDone func(Outcome)) {
	waitErr := h.cmd.Wait()

	s.mu.Lock()
	delete(s.running, h.info.Key)
	s.mu.Unlock()
	h.cancel()

	outcome := Outcome{
		JobID:    h.info.JobID,
		Key:      h.info.Key,
		ExitCode: -1,
		Duration: time.Since(h.info.StartedAt),
		Stderr:   stderr.String(),
	}
	if h.cmd.ProcessState != nil {
		outcome.ExitCode = h.cmd.ProcessState.ExitCode()
	}

	terminal, parseErr := ParseTerminal(stdout.Bytes())
	outcome.Terminal = terminal

	switch {
	case waitErr != nil && terminal == nil:
		outcome.Err = fmt.Errorf("worker exited %d: %s", outcome.ExitCode, firstLine(outcome.Stderr))
	case parseErr != nil:
		outcome.Err = parseErr
	case !terminal.Success:
		outcome.Err = fmt.Errorf("worker reported failure: %s", terminal.Error)
	case waitErr != nil:
		// A success document with a non-zero exit is a contract breach.
		outcome.Err = fmt.Errorf("worker exited %d after reporting success", outcome.ExitCode)
	}

	event := log.Info()
	if outcome.Err != nil {
		event = log.Error().Err(outcome.Err)
	}
	event.
		Str("jobId", outcome.JobID).
		Str("key", outcome.Key).
		Int("exitCode", outcome.ExitCode).
		Dur("duration", outcome.Duration).
		Msg("Worker finished")

	if onDone != nil {
		onDone(outcome)
	}
}

// Cancel signals the worker for key to stop. The worker is expected to close
// out its own rows; the handle is removed when the process exits.
func (s *Supervisor) Cancel(key string) error {
	s.mu.Lock()
	h, exists := s.running[key]
	s.mu.Unlock()
	if !exists {
		return fmt.Errorf("%w: %s", ErrNotRunning, key)
	}

	log.Info().Str("jobId", h.info.JobID).Str("key", h.info.Key).Msg("Cancelling worker")
	h.cancel()
	return nil
}

// CancelPrefix cancels every running worker whose key starts with prefix and
// returns how many were signalled. Used when a whole session is cancelled.
func (s *Supervisor) CancelPrefix(prefix string) int {
	s.mu.Lock()
	var matched []*handle
	for key, h := range s.running {
		if strings.HasPrefix(key, prefix) {
			matched = append(matched, h)
		}
	}
	s.mu.Unlock()

	for _, h := range matched {
		log.Info().Str("jobId", h.info.JobID).Str("key", h.info.Key).Msg("Cancelling worker")
		h.cancel()
	}
	return len(matched)
}

// IsRunning reports whether a worker currently holds key.
func (s *Supervisor) IsRunning(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, exists := s.running[key]
	return exists
}

// Running lists all active workers.
func (s *Supervisor) Running() []JobInfo {
	s.mu.Lock()
	defer s.mu.Unlock()

	jobs := make([]JobInfo, 0, len(s.running))
	for _, h := range s.running {
		jobs = append(jobs, h.info)
	}
	return jobs
}

// Keys for the registry. One writer per target at a time.

func ScanKey(mountPoint string) string {
	return "scan:" + mountPoint
}

func PassKey(sessionID int64, passNumber int) string {
	return fmt.Sprintf("session:%d:pass:%d", sessionID, passNumber)
}

func SessionKeyPrefix(sessionID int64) string {
	return fmt.Sprintf("session:%d:", sessionID)
}

func firstLine(s string) string {
	for i, c := range s {
		if c == '\n' {
			return s[:i]
		}
	}
	return s
}
