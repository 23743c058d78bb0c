// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package duplicates finds files with identical content within one scan's
// catalog. Detection is staged: size buckets, then a cheap sampling hash,
// then a full SHA-256 digest. Only the final digest decides group membership.
package duplicates

import (
	"context"
	"fmt"
	"runtime"
	"sort"
	"sync"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/semaphore"

	"github.com/autobrr/drivedex/internal/models"
	"github.com/autobrr/drivedex/pkg/hashutil"
)

const (
	// MinCandidateSize excludes tiny files; near-empty files collide
	// constantly and are never worth deduplicating.
	MinCandidateSize = 1024

	maxHashWorkers = 4
)

// Stats summarizes one detection run.
type Stats struct {
	CandidateFiles int   `json:"candidateFiles"`
	GroupCount     int   `json:"groupCount"`
	DuplicateFiles int   `json:"duplicateFiles"`
	WastedBytes    int64 `json:"wastedBytes"`
	HashErrors     int   `json:"hashErrors"`
}

type Service struct {
	scans   *models.ScanStore
	dups    *models.DuplicateStore
	workers int64
	minSize int64
}

func New(scans *models.ScanStore, dups *models.DuplicateStore) *Service {
	workers := int64(runtime.NumCPU())
	if workers > maxHashWorkers {
		workers = maxHashWorkers
	}
	return &Service{scans: scans, dups: dups, workers: workers, minSize: MinCandidateSize}
}

// SetMinCandidateSize overrides the minimum file size considered for
// duplicate detection. Values below 1 are ignored.
func (s *Service) SetMinCandidateSize(size int64) {
	if size > 0 {
		s.minSize = size
	}
}

// Detect computes duplicate groups for a completed scan and replaces any
// prior result set. Files that cannot be read are dropped from consideration
// and counted, never failing the run.
func (s *Service) Detect(ctx context.Context, scanID int64) (*Stats, error) {
	candidates, err := s.dups.CandidateFiles(ctx, scanID, s.minSize)
	if err != nil {
		return nil, fmt.Errorf("load candidates: %w", err)
	}

	stats := &Stats{CandidateFiles: len(candidates)}

	// Stage 1: only sizes that occur more than once can hold duplicates.
	bySize := make(map[int64][]*models.FileEntry)
	for _, f := range candidates {
		bySize[f.SizeBytes] = append(bySize[f.SizeBytes], f)
	}

	var sizeMatched []*models.FileEntry
	for _, group := range bySize {
		if len(group) >= 2 {
			sizeMatched = append(sizeMatched, group...)
		}
	}
	if len(sizeMatched) == 0 {
		return stats, s.dups.ReplaceGroupsForScan(ctx, scanID, nil)
	}

	// Stage 2: sampling hash prunes same-size files with different ends.
	quickBuckets, errs := s.hashConcurrently(ctx, sizeMatched, hashutil.QuickHash)
	stats.HashErrors += errs

	var quickMatched []*models.FileEntry
	for _, group := range quickBuckets {
		if len(group) >= 2 {
			quickMatched = append(quickMatched, group...)
		}
	}

	// Stage 3: full digest decides.
	fullBuckets, errs := s.hashConcurrently(ctx, quickMatched, hashutil.FullHash)
	stats.HashErrors += errs
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	fullHashes := make(map[int64]string, len(quickMatched))
	var groups []*models.DuplicateGroup
	for hash, group := range fullBuckets {
		if len(group) < 2 {
			continue
		}
		for _, f := range group {
			fullHashes[f.ID] = hash.digest
		}
		groups = append(groups, buildGroup(scanID, hash.digest, group))
	}

	// Deterministic persist order.
	sort.Slice(groups, func(i, j int) bool {
		if groups[i].TotalWastedBytes != groups[j].TotalWastedBytes {
			return groups[i].TotalWastedBytes > groups[j].TotalWastedBytes
		}
		return groups[i].HashValue < groups[j].HashValue
	})

	for _, g := range groups {
		stats.GroupCount++
		stats.DuplicateFiles += g.FileCount
		stats.WastedBytes += g.TotalWastedBytes
	}

	for fileID, digest := range fullHashes {
		if err := s.scans.SetFileHash(ctx, fileID, digest); err != nil {
			return nil, fmt.Errorf("record file hash: %w", err)
		}
	}

	if err := s.dups.ReplaceGroupsForScan(ctx, scanID, groups); err != nil {
		return nil, fmt.Errorf("persist groups: %w", err)
	}

	log.Info().
		Int64("scanId", scanID).
		Int("groups", stats.GroupCount).
		Int64("wastedBytes", stats.WastedBytes).
		Int("hashErrors", stats.HashErrors).
		Msg("Duplicate detection complete")
	return stats, nil
}

// bucketKey separates hash buckets by size as well, so a sampling collision
// across different sizes can never merge groups.
type bucketKey struct {
	digest string
	size   int64
}

// hashConcurrently hashes files with bounded parallelism and buckets them by
// (digest, size). Unreadable files are counted and dropped.
func (s *Service) hashConcurrently(ctx context.Context, files []*models.FileEntry, hashFn func(string) (string, error)) (map[bucketKey][]*models.FileEntry, int) {
	sem := semaphore.NewWeighted(s.workers)

	type outcome struct {
		file   *models.FileEntry
		digest string
		err    error
	}

	results := make([]outcome, len(files))
	var wg sync.WaitGroup
	for i, f := range files {
		if err := sem.Acquire(ctx, 1); err != nil {
			results[i] = outcome{file: f, err: err}
			continue
		}
		wg.Add(1)
		go func(i int, f *models.FileEntry) {
			defer wg.Done()
			defer sem.Release(1)
			digest, err := hashFn(f.Path)
			results[i] = outcome{file: f, digest: digest, err: err}
		}(i, f)
	}
	wg.Wait()

	buckets := make(map[bucketKey][]*models.FileEntry)
	errCount := 0
	for _, r := range results {
		if r.err != nil {
			errCount++
			log.Debug().Err(r.err).Str("path", r.file.Path).Msg("Skipping unhashable file")
			continue
		}
		key := bucketKey{digest: r.digest, size: r.file.SizeBytes}
		buckets[key] = append(buckets[key], r.file)
	}
	return buckets, errCount
}

// buildGroup assembles one duplicate group with a deterministic primary: the
// member with the earliest modified time, ties broken by the smallest path.
func buildGroup(scanID int64, digest string, members []*models.FileEntry) *models.DuplicateGroup {
	sort.Slice(members, func(i, j int) bool {
		mi, mj := members[i].ModifiedDate, members[j].ModifiedDate
		switch {
		case mi != nil && mj != nil && !mi.Equal(*mj):
			return mi.Before(*mj)
		case mi != nil && mj == nil:
			return true
		case mi == nil && mj != nil:
			return false
		}
		return members[i].Path < members[j].Path
	})

	size := members[0].SizeBytes
	group := &models.DuplicateGroup{
		ScanID:           scanID,
		HashValue:        digest,
		FileSize:         size,
		FileCount:        len(members),
		TotalWastedBytes: size * int64(len(members)-1),
	}
	for i, m := range members {
		group.Members = append(group.Members, &models.DuplicateMember{
			FileID:    m.ID,
			ScanID:    scanID,
			IsPrimary: i == 0,
		})
	}
	return group
}
