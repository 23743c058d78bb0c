// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package hashutil

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}

func TestQuickHashIdenticalContent(t *testing.T) {
	data := bytes.Repeat([]byte("drivedex"), 2048)
	a := writeFile(t, "a.bin", data)
	b := writeFile(t, "b.bin", data)

	ha, err := QuickHash(a)
	require.NoError(t, err)
	hb, err := QuickHash(b)
	require.NoError(t, err)
	assert.Equal(t, ha, hb)
}

func TestQuickHashDifferentSizes(t *testing.T) {
	a := writeFile(t, "a.bin", bytes.Repeat([]byte{0}, 100))
	b := writeFile(t, "b.bin", bytes.Repeat([]byte{0}, 101))

	ha, err := QuickHash(a)
	require.NoError(t, err)
	hb, err := QuickHash(b)
	require.NoError(t, err)
	assert.NotEqual(t, ha, hb)
}

func TestQuickHashMiddleBlind(t *testing.T) {
	// Sampling only reads the ends, so a middle-byte change on a large
	// file is invisible to the quick hash. That is the contract: quick
	// hash prunes, the full digest decides.
	data := bytes.Repeat([]byte{0xAA}, 32*1024)
	a := writeFile(t, "a.bin", data)

	data[16*1024] = 0xBB
	b := writeFile(t, "b.bin", data)

	ha, err := QuickHash(a)
	require.NoError(t, err)
	hb, err := QuickHash(b)
	require.NoError(t, err)
	assert.Equal(t, ha, hb)

	fa, err := FullHash(a)
	require.NoError(t, err)
	fb, err := FullHash(b)
	require.NoError(t, err)
	assert.NotEqual(t, fa, fb)
}

func TestQuickHashSmallFileWhole(t *testing.T) {
	a := writeFile(t, "a.txt", []byte("tiny"))
	b := writeFile(t, "b.txt", []byte("tinX"))

	ha, err := QuickHash(a)
	require.NoError(t, err)
	hb, err := QuickHash(b)
	require.NoError(t, err)
	assert.NotEqual(t, ha, hb)
}

func TestQuickHashEmptyFile(t *testing.T) {
	a := writeFile(t, "empty.bin", nil)

	h, err := QuickHash(a)
	require.NoError(t, err)
	assert.NotEmpty(t, h)
}

func TestFullHashKnownDigest(t *testing.T) {
	path := writeFile(t, "known.txt", []byte("hello world"))

	h, err := FullHash(path)
	require.NoError(t, err)
	assert.Equal(t, "b94d27b9934d3e08a52e52d7da7dabfac484efe37a5380ee9088f7ace2efcde9", h)
}

func TestHashMissingFile(t *testing.T) {
	_, err := QuickHash(filepath.Join(t.TempDir(), "missing"))
	assert.Error(t, err)

	_, err = FullHash(filepath.Join(t.TempDir(), "missing"))
	assert.Error(t, err)
}
