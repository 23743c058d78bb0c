// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

//go:build !unix

package fsutil

func sameFilesystem(path1, path2 string) (bool, error) {
	return true, nil
}
