// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package fsutil provides filesystem boundary checks.
package fsutil

import (
	"errors"
	"fmt"
	"os"
)

// SameFilesystem reports whether two paths live on the same filesystem.
// Scans use this to stay on the drive being cataloged instead of descending
// into nested mounts.
//
// Implementation is platform-specific:
//   - Unix: compares device IDs from stat(2)
//   - elsewhere: always true (no reliable check available)
func SameFilesystem(path1, path2 string) (bool, error) {
	if path1 == "" || path2 == "" {
		return false, errors.New("path must not be empty")
	}
	if _, err := os.Stat(path1); err != nil {
		return false, fmt.Errorf("path does not exist: %s: %w", path1, err)
	}
	if _, err := os.Stat(path2); err != nil {
		return false, fmt.Errorf("path does not exist: %s: %w", path2, err)
	}
	return sameFilesystem(path1, path2)
}
