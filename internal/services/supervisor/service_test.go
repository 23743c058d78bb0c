// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package supervisor

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeWorker writes a shell script acting as a worker binary.
func fakeWorker(t *testing.T, script string) *Supervisor {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell script fixture is unix-only")
	}

	path := filepath.Join(t.TempDir(), "worker")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+script), 0o755))
	return New(path)
}

func waitOutcome(t *testing.T, ch <-chan Outcome) Outcome {
	t.Helper()
	select {
	case o := <-ch:
		return o
	case <-time.After(10 * time.Second):
		t.Fatal("worker did not finish in time")
		return Outcome{}
	}
}

func TestStartParsesSuccessDocument(t *testing.T) {
	s := fakeWorker(t, `echo '{"success":true,"result":{"scanId":7}}'`)

	done := make(chan Outcome, 1)
	jobID, err := s.Start(ScanKey("/mnt/a"), []string{"scan"}, func(o Outcome) { done <- o })
	require.NoError(t, err)
	assert.NotEmpty(t, jobID)

	outcome := waitOutcome(t, done)
	assert.NoError(t, outcome.Err)
	assert.Equal(t, 0, outcome.ExitCode)
	require.NotNil(t, outcome.Terminal)
	assert.True(t, outcome.Terminal.Success)
	assert.JSONEq(t, `{"scanId":7}`, string(outcome.Terminal.Result))

	assert.False(t, s.IsRunning(ScanKey("/mnt/a")))
}

func TestStartRejectsDuplicateKey(t *testing.T) {
	s := fakeWorker(t, `sleep 5`)

	done := make(chan Outcome, 1)
	_, err := s.Start(ScanKey("/mnt/a"), nil, func(o Outcome) { done <- o })
	require.NoError(t, err)

	_, err = s.Start(ScanKey("/mnt/a"), nil, nil)
	assert.ErrorIs(t, err, ErrAlreadyRunning)

	// A different key is fine.
	_, err = s.Start(ScanKey("/mnt/b"), nil, nil)
	assert.NoError(t, err)

	require.NoError(t, s.Cancel(ScanKey("/mnt/a")))
	require.NoError(t, s.Cancel(ScanKey("/mnt/b")))
	waitOutcome(t, done)
}

func TestWorkerFailureDocument(t *testing.T) {
	s := fakeWorker(t, `echo '{"success":false,"error":"mount point disappeared"}'; exit 1`)

	done := make(chan Outcome, 1)
	_, err := s.Start("scan:/mnt/x", nil, func(o Outcome) { done <- o })
	require.NoError(t, err)

	outcome := waitOutcome(t, done)
	require.Error(t, outcome.Err)
	assert.Contains(t, outcome.Err.Error(), "mount point disappeared")
}

func TestWorkerCrashWithoutDocument(t *testing.T) {
	s := fakeWorker(t, `echo "panic: boom" >&2; exit 2`)

	done := make(chan Outcome, 1)
	_, err := s.Start("scan:/mnt/x", nil, func(o Outcome) { done <- o })
	require.NoError(t, err)

	outcome := waitOutcome(t, done)
	require.Error(t, outcome.Err)
	assert.Equal(t, 2, outcome.ExitCode)
	assert.Contains(t, outcome.Err.Error(), "panic: boom")
}

func TestStdoutPollutionIsAnError(t *testing.T) {
	s := fakeWorker(t, `echo "progress: 50%"; echo '{"success":true}'`)

	done := make(chan Outcome, 1)
	_, err := s.Start("scan:/mnt/x", nil, func(o Outcome) { done <- o })
	require.NoError(t, err)

	outcome := waitOutcome(t, done)
	assert.Error(t, outcome.Err)
}

func TestCancelSignalsWorker(t *testing.T) {
	s := fakeWorker(t, `trap 'echo "{\"success\":false,\"error\":\"cancelled\"}"; exit 0' TERM
sleep 30 &
wait $!`)

	done := make(chan Outcome, 1)
	key := PassKey(3, 1)
	_, err := s.Start(key, nil, func(o Outcome) { done <- o })
	require.NoError(t, err)
	require.True(t, s.IsRunning(key))

	require.NoError(t, s.Cancel(key))
	outcome := waitOutcome(t, done)
	require.NotNil(t, outcome.Terminal)
	assert.Equal(t, "cancelled", outcome.Terminal.Error)
	assert.False(t, s.IsRunning(key))

	assert.ErrorIs(t, s.Cancel(key), ErrNotRunning)
}

func TestCancelPrefix(t *testing.T) {
	s := fakeWorker(t, `sleep 30`)

	done := make(chan Outcome, 2)
	_, err := s.Start(PassKey(9, 1), nil, func(o Outcome) { done <- o })
	require.NoError(t, err)
	_, err = s.Start(PassKey(9, 2), nil, func(o Outcome) { done <- o })
	require.NoError(t, err)

	assert.Equal(t, 2, s.CancelPrefix(SessionKeyPrefix(9)))
	waitOutcome(t, done)
	waitOutcome(t, done)
	assert.Equal(t, 0, s.CancelPrefix(SessionKeyPrefix(9)))
}

func TestRunningList(t *testing.T) {
	s := fakeWorker(t, `sleep 30`)

	done := make(chan Outcome, 1)
	jobID, err := s.Start(ScanKey("/mnt/c"), nil, func(o Outcome) { done <- o })
	require.NoError(t, err)

	jobs := s.Running()
	require.Len(t, jobs, 1)
	assert.Equal(t, jobID, jobs[0].JobID)
	assert.Equal(t, ScanKey("/mnt/c"), jobs[0].Key)

	require.NoError(t, s.Cancel(ScanKey("/mnt/c")))
	waitOutcome(t, done)
}

func TestParseTerminal(t *testing.T) {
	result, err := ParseTerminal([]byte("  {\"success\":true,\"result\":{\"x\":1}}\n"))
	require.NoError(t, err)
	assert.True(t, result.Success)

	_, err = ParseTerminal([]byte("not json"))
	assert.Error(t, err)

	_, err = ParseTerminal(nil)
	assert.Error(t, err)
}

func TestWriteHelpers(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteSuccess(&buf, map[string]int{"scanId": 4}))
	result, err := ParseTerminal(buf.Bytes())
	require.NoError(t, err)
	assert.True(t, result.Success)

	buf.Reset()
	require.NoError(t, WriteFailure(&buf, errors.New("boom")))
	result, err = ParseTerminal(buf.Bytes())
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.Equal(t, "boom", result.Error)
}
