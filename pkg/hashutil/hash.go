// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package hashutil provides the two content digests used for duplicate
// detection: a cheap sampling hash to prune candidates and a full streaming
// digest to confirm matches.
package hashutil

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"io"
	"os"

	"github.com/cespare/xxhash/v2"
)

const (
	// sampleSize is how much is read from each end of the file for the
	// quick hash.
	sampleSize = 4096

	// smallFileThreshold is the size at or below which the quick hash
	// covers the whole file instead of sampling.
	smallFileThreshold = 64

	// fullHashChunkSize is the read buffer for the streaming digest.
	fullHashChunkSize = 64 * 1024
)

// QuickHash computes a sampling hash over the file: size plus the first and
// last 4KiB. Files of 64 bytes or less are hashed whole. Two files with
// different quick hashes cannot be duplicates; equal quick hashes only make
// them candidates for the full digest.
func QuickHash(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return "", fmt.Errorf("stat %s: %w", path, err)
	}
	size := info.Size()

	h := xxhash.New()

	var sizeBuf [8]byte
	binary.LittleEndian.PutUint64(sizeBuf[:], uint64(size))
	h.Write(sizeBuf[:])

	if size <= smallFileThreshold {
		if _, err := io.Copy(h, f); err != nil {
			return "", fmt.Errorf("read %s: %w", path, err)
		}
		return fmt.Sprintf("%016x", h.Sum64()), nil
	}

	head := make([]byte, sampleSize)
	n, err := io.ReadFull(f, head)
	if err != nil && err != io.ErrUnexpectedEOF {
		return "", fmt.Errorf("read head of %s: %w", path, err)
	}
	h.Write(head[:n])

	tailOffset := size - sampleSize
	if tailOffset < 0 {
		tailOffset = 0
	}
	tail := make([]byte, sampleSize)
	n, err = f.ReadAt(tail, tailOffset)
	if err != nil && err != io.EOF {
		return "", fmt.Errorf("read tail of %s: %w", path, err)
	}
	h.Write(tail[:n])

	return fmt.Sprintf("%016x", h.Sum64()), nil
}

// FullHash computes the SHA-256 digest of the file, streamed in 64KiB chunks
// so memory stays flat regardless of file size.
func FullHash(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	h := sha256.New()
	buf := make([]byte, fullHashChunkSize)
	if _, err := io.CopyBuffer(h, f, buf); err != nil {
		return "", fmt.Errorf("hash %s: %w", path, err)
	}

	return hex.EncodeToString(h.Sum(nil)), nil
}
