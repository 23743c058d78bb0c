// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package scanner

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/autobrr/drivedex/internal/models"
	"github.com/autobrr/drivedex/pkg/fsutil"
)

// skipDirNames are junk or pseudo-filesystem directories that never belong in
// a catalog. Matched case-insensitively against the directory basename.
var skipDirNames = map[string]struct{}{
	"$recycle.bin":              {},
	"system volume information": {},
	".trash":                    {},
	".trashes":                  {},
	".trash-1000":               {},
	".cache":                    {},
	".tmp":                      {},
	"lost+found":                {},
	"proc":                      {},
	"sys":                       {},
	"dev":                       {},
	".fseventsd":                {},
	".spotlight-v100":           {},
}

// systemDirNames mark files as system files when any path component matches.
var systemDirNames = map[string]struct{}{
	"windows":                {},
	"winnt":                  {},
	"program files":          {},
	"program files (x86)":    {},
	"programdata":            {},
	"boot":                   {},
	"system32":               {},
	"documents and settings": {},
}

// walkResult is the rollup after the walk completes or stops early.
type walkResult struct {
	FileCount  int64
	TotalSize  int64
	ErrorCount int64
}

// walkTree walks the mount point, converting each regular file into a catalog
// entry and handing full batches to emit. Per-entry failures are counted and
// skipped; only walk-level failures abort. Cancellation surfaces as
// ctx.Err().
func walkTree(ctx context.Context, root string, batchSize int, emit func([]*models.FileEntry) error) (walkResult, error) {
	var result walkResult
	batch := make([]*models.FileEntry, 0, batchSize)

	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if err := emit(batch); err != nil {
			return err
		}
		batch = batch[:0]
		return nil
	}

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if err != nil {
			if os.IsPermission(err) {
				result.ErrorCount++
				return nil // Skip inaccessible, continue walk
			}
			if path == root {
				return err
			}
			result.ErrorCount++
			return nil
		}

		// Don't follow symlink directories
		if d.Type()&fs.ModeSymlink != 0 {
			if d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}

		if d.IsDir() {
			if path != root {
				if shouldSkipDir(d.Name()) {
					return fs.SkipDir
				}
				// Stay on the drive's filesystem; a different device
				// means another mount is nested under this tree.
				if same, err := fsutil.SameFilesystem(root, path); err == nil && !same {
					return fs.SkipDir
				}
			}
			return nil
		}

		if !d.Type().IsRegular() {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			result.ErrorCount++
			return nil
		}

		entry := newFileEntry(path, info)
		result.FileCount++
		result.TotalSize += entry.SizeBytes

		batch = append(batch, entry)
		if len(batch) >= batchSize {
			return flush()
		}
		return nil
	})
	if err != nil {
		return result, err
	}

	return result, flush()
}

func shouldSkipDir(name string) bool {
	_, skip := skipDirNames[strings.ToLower(name)]
	return skip
}

func newFileEntry(path string, info fs.FileInfo) *models.FileEntry {
	modTime := info.ModTime()
	entry := &models.FileEntry{
		Path:         path,
		SizeBytes:    info.Size(),
		ModifiedDate: &modTime,
		Extension:    extensionOf(path),
		IsHidden:     strings.HasPrefix(filepath.Base(path), "."),
		IsSystem:     isSystemPath(path),
	}

	// Creation and access times depend on the platform and filesystem;
	// unavailable ones stay nil.
	created, accessed := platformTimes(info)
	entry.CreatedDate = created
	entry.AccessedDate = accessed

	return entry
}

// extensionOf returns the lowercased extension without the leading dot, or
// "" for files without one.
func extensionOf(path string) string {
	ext := filepath.Ext(path)
	if ext == "" {
		return ""
	}
	return strings.ToLower(strings.TrimPrefix(ext, "."))
}

func isSystemPath(path string) bool {
	for _, part := range strings.Split(filepath.ToSlash(path), "/") {
		if _, ok := systemDirNames[strings.ToLower(part)]; ok {
			return true
		}
	}
	return false
}
