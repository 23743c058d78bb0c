// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package inspection orchestrates the four-pass drive inspection workflow:
// health probe, OS detection, metadata cataloging, and review. Pass ordering
// and state transitions are enforced by the store; this service executes the
// work of each pass and records its report.
package inspection

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/autobrr/drivedex/internal/driveident"
	"github.com/autobrr/drivedex/internal/models"
	"github.com/autobrr/drivedex/internal/services/duplicates"
	"github.com/autobrr/drivedex/internal/services/health"
	"github.com/autobrr/drivedex/internal/services/osdetect"
	"github.com/autobrr/drivedex/internal/services/scanner"
)

type Service struct {
	drives     *models.DriveStore
	scans      *models.ScanStore
	sessions   *models.InspectionStore
	dups       *models.DuplicateStore
	scanner    *scanner.Service
	duplicates *duplicates.Service
	prober     *health.Prober
	resolver   *driveident.Resolver
}

func New(
	drives *models.DriveStore,
	scans *models.ScanStore,
	sessions *models.InspectionStore,
	dups *models.DuplicateStore,
	scannerSvc *scanner.Service,
	duplicatesSvc *duplicates.Service,
	prober *health.Prober,
	resolver *driveident.Resolver,
) *Service {
	return &Service{
		drives:     drives,
		scans:      scans,
		sessions:   sessions,
		dups:       dups,
		scanner:    scannerSvc,
		duplicates: duplicatesSvc,
		prober:     prober,
		resolver:   resolver,
	}
}

// Start resolves the drive behind mountPoint and opens a new inspection
// session with all four passes pending. No pass work runs here.
func (s *Service) Start(ctx context.Context, mountPoint string, override *driveident.Override) (*models.InspectionSession, error) {
	if err := driveident.ValidateMountPoint(mountPoint); err != nil {
		return nil, err
	}

	identity := s.resolver.Resolve(ctx, mountPoint, override)
	driveID, err := s.drives.Upsert(ctx, identity.ToDrive(override))
	if err != nil {
		return nil, fmt.Errorf("resolve drive: %w", err)
	}

	session, err := s.sessions.CreateSession(ctx, driveID, mountPoint)
	if err != nil {
		return nil, err
	}

	log.Info().
		Int64("sessionId", session.ID).
		Int64("driveId", driveID).
		Str("serial", identity.SerialNumber).
		Str("mountPoint", mountPoint).
		Msg("Inspection session opened")
	return session, nil
}

// RunPass executes one pass of a session end to end: the ordering-guarded
// transition to running, the pass work, and the terminal report or
// failure. Completing the review pass closes the session.
func (s *Service) RunPass(ctx context.Context, sessionID int64, passNumber int) (*models.PassReport, error) {
	if err := s.sessions.StartPass(ctx, sessionID, passNumber); err != nil {
		return nil, err
	}

	session, err := s.sessions.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	report, runErr := s.executePass(ctx, session, passNumber)
	if runErr != nil {
		if errors.Is(runErr, context.Canceled) || errors.Is(runErr, context.DeadlineExceeded) {
			// The pass context is done; close out on a fresh one.
			closeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			ctx = closeCtx
		}
		if err := s.sessions.FailPass(ctx, sessionID, passNumber, runErr.Error()); err != nil {
			log.Error().Err(err).Int64("sessionId", sessionID).Int("pass", passNumber).Msg("Failed to mark pass failed")
		}
		return nil, fmt.Errorf("pass %d (%s): %w", passNumber, models.PassName(passNumber), runErr)
	}

	var payload any
	switch passNumber {
	case 1:
		payload = report.Health
	case 2:
		payload = report.OS
	case 3:
		payload = report.Metadata
	case 4:
		payload = report.Review
	}
	encoded, err := models.EncodeReport(passNumber, payload)
	if err != nil {
		return nil, err
	}

	if err := s.sessions.CompletePass(ctx, sessionID, passNumber, encoded); err != nil {
		return nil, err
	}

	if passNumber == models.PassCount {
		if err := s.sessions.CompleteSession(ctx, sessionID); err != nil {
			return nil, fmt.Errorf("close session after review: %w", err)
		}
		log.Info().Int64("sessionId", sessionID).Msg("Inspection session completed")
	}

	return report, nil
}

func (s *Service) executePass(ctx context.Context, session *models.InspectionSession, passNumber int) (*models.PassReport, error) {
	report := &models.PassReport{PassNumber: passNumber}

	switch passNumber {
	case 1:
		identity := s.resolver.Resolve(ctx, session.MountPoint, nil)
		report.Health = s.prober.Probe(ctx, identity.DevicePath)
		return report, nil

	case 2:
		report.OS = osdetect.Detect(session.MountPoint)
		return report, nil

	case 3:
		metadata, err := s.runMetadataPass(ctx, session)
		if err != nil {
			return nil, err
		}
		report.Metadata = metadata
		return report, nil

	case 4:
		review, err := s.buildReview(ctx, session)
		if err != nil {
			return nil, err
		}
		report.Review = review
		return report, nil
	}

	return nil, models.ErrPassNotFound
}

// runMetadataPass catalogs the drive, runs duplicate detection, and carries
// the OS fingerprint from pass 2 onto the scan row.
func (s *Service) runMetadataPass(ctx context.Context, session *models.InspectionSession) (*models.MetadataReport, error) {
	drive, err := s.drives.Get(ctx, session.DriveID)
	if err != nil {
		return nil, err
	}

	summary, err := s.scanner.RunForDrive(ctx, session.DriveID, drive.SerialNumber, session.MountPoint)
	if err != nil {
		return nil, err
	}

	stats, err := s.duplicates.Detect(ctx, summary.ScanID)
	if err != nil {
		return nil, fmt.Errorf("duplicate detection: %w", err)
	}

	if osReport := s.decodedOSReport(ctx, session.ID); osReport != nil && osReport.Detected {
		if err := s.scans.SetOSInfo(ctx, &models.OSInfo{
			ScanID:          summary.ScanID,
			OSType:          osReport.OSType,
			OSName:          osReport.OSName,
			Version:         osReport.Version,
			BuildNumber:     osReport.BuildNumber,
			Edition:         osReport.Edition,
			InstallDate:     osReport.InstallDate,
			BootCapable:     osReport.BootCapable,
			DetectionMethod: osReport.DetectionMethod,
			Confidence:      osReport.Confidence,
		}); err != nil {
			return nil, err
		}
	}

	return &models.MetadataReport{
		ScanID:          summary.ScanID,
		FileCount:       summary.FileCount,
		TotalSizeBytes:  summary.TotalSizeBytes,
		ErrorCount:      summary.ErrorCount,
		DuplicateGroups: stats.GroupCount,
		WastedBytes:     stats.WastedBytes,
		DurationSeconds: summary.DurationSeconds,
	}, nil
}

// buildReview compiles the review pass: summaries of the earlier passes plus
// the open decision points an operator should resolve.
func (s *Service) buildReview(ctx context.Context, session *models.InspectionSession) (*models.ReviewReport, error) {
	passes, err := s.sessions.ListPasses(ctx, session.ID)
	if err != nil {
		return nil, err
	}

	review := &models.ReviewReport{}
	for _, pass := range passes {
		if pass.PassNumber == models.PassCount {
			continue
		}
		if pass.Status == models.PassStatusSkipped {
			review.SkippedPasses = append(review.SkippedPasses, pass.PassNumber)
			continue
		}
		if pass.Status != models.PassStatusCompleted {
			continue
		}

		decoded, err := models.DecodeReport(pass.PassNumber, pass.ReportJSON)
		if err != nil {
			return nil, err
		}
		switch pass.PassNumber {
		case 1:
			review.Health = decoded.Health
		case 2:
			review.OS = decoded.OS
		case 3:
			review.Metadata = decoded.Metadata
		}
	}

	review.DecisionPoints = s.decisionPoints(ctx, session, review)

	decisions, err := s.sessions.ListDecisions(ctx, session.ID)
	if err != nil {
		return nil, err
	}
	review.DecisionCount = len(decisions)

	return review, nil
}

// decisionPoints derives the open questions surfaced to the operator.
func (s *Service) decisionPoints(ctx context.Context, session *models.InspectionSession, review *models.ReviewReport) []models.DecisionPoint {
	var points []models.DecisionPoint

	if review.Metadata != nil && review.Metadata.DuplicateGroups > 0 {
		groups, err := s.dups.ListGroups(ctx, review.Metadata.ScanID)
		if err == nil {
			for _, g := range groups {
				points = append(points, models.DecisionPoint{
					Key:  fmt.Sprintf("dup:group:%d", g.ID),
					Type: "duplicate_handling",
					Description: fmt.Sprintf("%d identical copies of %d-byte content, %d bytes reclaimable",
						g.FileCount, g.FileSize, g.TotalWastedBytes),
					Suggested: "keep_primary",
				})
			}
		}
	}

	if review.OS != nil && review.OS.Detected {
		suggested := "archive"
		if review.OS.BootCapable {
			suggested = "preserve"
		}
		points = append(points, models.DecisionPoint{
			Key:         "os:preservation",
			Type:        "os_preservation",
			Description: fmt.Sprintf("drive contains %s (%s confidence)", review.OS.OSName, review.OS.Confidence),
			Suggested:   suggested,
		})
	}

	if review.Health != nil && review.Health.Score < 50 {
		points = append(points, models.DecisionPoint{
			Key:         "drive:retirement",
			Type:        "drive_retirement",
			Description: fmt.Sprintf("health scored %d (%s), copy data off before reuse", review.Health.Score, review.Health.Label),
			Suggested:   "migrate_and_retire",
		})
	}

	return points
}

// decodedOSReport loads pass 2's report if it completed; nil otherwise.
func (s *Service) decodedOSReport(ctx context.Context, sessionID int64) *models.OSReport {
	pass, err := s.sessions.GetPass(ctx, sessionID, 2)
	if err != nil || pass.Status != models.PassStatusCompleted {
		return nil
	}
	decoded, err := models.DecodeReport(2, pass.ReportJSON)
	if err != nil {
		return nil
	}
	return decoded.OS
}
