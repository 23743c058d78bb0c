// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package fsutil

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSameFilesystemSiblingDirs(t *testing.T) {
	base := t.TempDir()
	a := filepath.Join(base, "a")
	b := filepath.Join(base, "b")
	require.NoError(t, os.Mkdir(a, 0o755))
	require.NoError(t, os.Mkdir(b, 0o755))

	same, err := SameFilesystem(a, b)
	require.NoError(t, err)
	assert.True(t, same)
}

func TestSameFilesystemRejectsEmptyPath(t *testing.T) {
	_, err := SameFilesystem("", t.TempDir())
	assert.Error(t, err)
}

func TestSameFilesystemRejectsMissingPath(t *testing.T) {
	_, err := SameFilesystem(t.TempDir(), filepath.Join(t.TempDir(), "missing"))
	assert.Error(t, err)
}
