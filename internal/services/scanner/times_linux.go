// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package scanner

import (
	"io/fs"
	"syscall"
	"time"
)

// platformTimes extracts change and access times from the underlying stat
// structure. Linux has no true creation time on most filesystems, so the
// inode change time stands in, matching what most tooling reports.
func platformTimes(info fs.FileInfo) (created, accessed *time.Time) {
	stat, ok := info.Sys().(*syscall.Stat_t)
	if !ok {
		return nil, nil
	}

	c := time.Unix(stat.Ctim.Sec, stat.Ctim.Nsec)
	a := time.Unix(stat.Atim.Sec, stat.Atim.Nsec)
	return &c, &a
}
