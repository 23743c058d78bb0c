// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package scanner builds the file catalog for a mounted drive: a full
// filesystem walk with per-entry metadata, persisted in batches so progress
// survives interruption.
package scanner

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/autobrr/drivedex/internal/driveident"
	"github.com/autobrr/drivedex/internal/models"
)

const DefaultBatchSize = 1000

// Summary is the terminal result of one scan run.
type Summary struct {
	ScanID          int64  `json:"scanId"`
	DriveID         int64  `json:"driveId"`
	SerialNumber    string `json:"serialNumber"`
	MountPoint      string `json:"mountPoint"`
	FileCount       int64  `json:"fileCount"`
	TotalSizeBytes  int64  `json:"totalSizeBytes"`
	ErrorCount      int64  `json:"errorCount"`
	DurationSeconds int64  `json:"durationSeconds"`
	Status          string `json:"status"`
}

type Service struct {
	drives    *models.DriveStore
	scans     *models.ScanStore
	resolver  *driveident.Resolver
	batchSize int
}

func New(drives *models.DriveStore, scans *models.ScanStore, resolver *driveident.Resolver) *Service {
	return &Service{
		drives:    drives,
		scans:     scans,
		resolver:  resolver,
		batchSize: DefaultBatchSize,
	}
}

// SetBatchSize overrides the commit batch size. Values below 1 are ignored.
func (s *Service) SetBatchSize(n int) {
	if n > 0 {
		s.batchSize = n
	}
}

// Run performs one complete catalog scan of mountPoint. The drive identity is
// resolved (or synthesized) first so the scan always attaches to a drive row.
// Cancellation closes the scan as cancelled; committed batches are kept.
func (s *Service) Run(ctx context.Context, mountPoint string, override *driveident.Override) (*Summary, error) {
	if err := driveident.ValidateMountPoint(mountPoint); err != nil {
		return nil, err
	}

	identity := s.resolver.Resolve(ctx, mountPoint, override)
	driveID, err := s.drives.Upsert(ctx, identity.ToDrive(override))
	if err != nil {
		return nil, fmt.Errorf("resolve drive: %w", err)
	}

	return s.RunForDrive(ctx, driveID, identity.SerialNumber, mountPoint)
}

// RunForDrive scans mountPoint against an already-resolved drive row. Used by
// the inspection workflow, which resolves identity once when the session
// opens and must not attach later passes to a different row.
func (s *Service) RunForDrive(ctx context.Context, driveID int64, serial, mountPoint string) (*Summary, error) {
	if err := driveident.ValidateMountPoint(mountPoint); err != nil {
		return nil, err
	}

	scan, err := s.scans.Create(ctx, driveID, mountPoint)
	if err != nil {
		return nil, fmt.Errorf("create scan: %w", err)
	}

	log.Info().
		Int64("scanId", scan.ID).
		Int64("driveId", driveID).
		Str("serial", serial).
		Str("mountPoint", mountPoint).
		Msg("Starting catalog scan")

	start := time.Now()
	result, walkErr := walkTree(ctx, mountPoint, s.batchSize, func(batch []*models.FileEntry) error {
		return s.scans.InsertFilesBatch(ctx, scan.ID, batch)
	})

	summary := &Summary{
		ScanID:          scan.ID,
		DriveID:         driveID,
		SerialNumber:    serial,
		MountPoint:      mountPoint,
		FileCount:       result.FileCount,
		TotalSizeBytes:  result.TotalSize,
		ErrorCount:      result.ErrorCount,
		DurationSeconds: int64(time.Since(start).Seconds()),
	}

	switch {
	case walkErr == nil:
		if err := s.scans.Complete(ctx, scan.ID, result.FileCount, result.TotalSize, result.ErrorCount); err != nil {
			return nil, fmt.Errorf("complete scan: %w", err)
		}
		summary.Status = string(models.ScanStatusComplete)
		log.Info().
			Int64("scanId", scan.ID).
			Int64("files", result.FileCount).
			Int64("bytes", result.TotalSize).
			Int64("errors", result.ErrorCount).
			Msg("Catalog scan complete")
		return summary, nil

	case errors.Is(walkErr, context.Canceled) || errors.Is(walkErr, context.DeadlineExceeded):
		// Close out with a fresh context; the scan's own context is done.
		closeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := s.scans.Cancel(closeCtx, scan.ID); err != nil {
			log.Error().Err(err).Int64("scanId", scan.ID).Msg("Failed to mark scan cancelled")
		}
		summary.Status = string(models.ScanStatusCancelled)
		log.Warn().Int64("scanId", scan.ID).Msg("Catalog scan cancelled")
		return summary, walkErr

	default:
		if err := s.scans.Fail(ctx, scan.ID, walkErr.Error()); err != nil {
			log.Error().Err(err).Int64("scanId", scan.ID).Msg("Failed to mark scan failed")
		}
		summary.Status = string(models.ScanStatusFailed)
		return summary, fmt.Errorf("walk %s: %w", mountPoint, walkErr)
	}
}
