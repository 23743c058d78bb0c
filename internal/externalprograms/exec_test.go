// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package externalprograms

import (
	"context"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunCapturesOutput(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("unix-only test helper")
	}

	result, err := Run(context.Background(), "sh", "-c", "echo out; echo err >&2")
	require.NoError(t, err)
	assert.True(t, result.Started)
	assert.Equal(t, 0, result.ExitCode)
	assert.Equal(t, "out\n", result.Stdout)
	assert.Equal(t, "err\n", result.Stderr)
}

func TestRunNonZeroExitIsNotAnError(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("unix-only test helper")
	}

	result, err := Run(context.Background(), "sh", "-c", "exit 3")
	require.NoError(t, err)
	assert.Equal(t, 3, result.ExitCode)
}

func TestRunMissingProgram(t *testing.T) {
	_, err := Run(context.Background(), "definitely-not-a-real-binary-xyz")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRunArgsAreNotShellInterpreted(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("unix-only test helper")
	}

	result, err := Run(context.Background(), "echo", "$(touch /tmp/pwned); rm -rf /")
	require.NoError(t, err)
	assert.Equal(t, "$(touch /tmp/pwned); rm -rf /\n", result.Stdout)
}
