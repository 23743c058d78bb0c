// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

//go:build !linux

package scanner

import (
	"io/fs"
	"time"
)

func platformTimes(info fs.FileInfo) (created, accessed *time.Time) {
	return nil, nil
}
