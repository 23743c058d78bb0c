// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

//go:build unix

package fsutil

import (
	"fmt"
	"syscall"
)

func sameFilesystem(path1, path2 string) (bool, error) {
	var stat1, stat2 syscall.Stat_t
	if err := syscall.Stat(path1, &stat1); err != nil {
		return false, fmt.Errorf("stat %s: %w", path1, err)
	}
	if err := syscall.Stat(path2, &stat2); err != nil {
		return false, fmt.Errorf("stat %s: %w", path2, err)
	}
	return stat1.Dev == stat2.Dev, nil
}
