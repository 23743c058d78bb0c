// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package inspection

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/autobrr/drivedex/internal/database"
	"github.com/autobrr/drivedex/internal/driveident"
	"github.com/autobrr/drivedex/internal/models"
	"github.com/autobrr/drivedex/internal/services/duplicates"
	"github.com/autobrr/drivedex/internal/services/health"
	"github.com/autobrr/drivedex/internal/services/scanner"
)

type fixture struct {
	svc      *Service
	sessions *models.InspectionStore
	scans    *models.ScanStore
	root     string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	db, err := database.NewInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	drives := models.NewDriveStore(db)
	scans := models.NewScanStore(db, db)
	sessions := models.NewInspectionStore(db, db)
	dups := models.NewDuplicateStore(db, db)
	resolver := driveident.NewResolver()

	scannerSvc := scanner.New(drives, scans, resolver)
	duplicatesSvc := duplicates.New(scans, dups)

	return &fixture{
		svc: New(drives, scans, sessions, dups, scannerSvc, duplicatesSvc,
			health.NewProber(), resolver),
		sessions: sessions,
		scans:    scans,
		root:     t.TempDir(),
	}
}

func (f *fixture) writeFile(t *testing.T, rel string, content []byte) {
	t.Helper()
	path := filepath.Join(f.root, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, content, 0o644))
}

func TestStartOpensSessionWithPendingPasses(t *testing.T) {
	f := newFixture(t)

	session, err := f.svc.Start(context.Background(), f.root, nil)
	require.NoError(t, err)
	assert.Equal(t, models.SessionStatusActive, session.Status)
	require.Len(t, session.Passes, 4)
}

func TestStartRejectsMissingMountPoint(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.Start(context.Background(), filepath.Join(f.root, "missing"), nil)
	assert.ErrorIs(t, err, driveident.ErrMountPointMissing)
}

func TestRunPassRejectsOutOfOrder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	session, err := f.svc.Start(ctx, f.root, nil)
	require.NoError(t, err)

	_, err = f.svc.RunPass(ctx, session.ID, 3)
	assert.ErrorIs(t, err, models.ErrPassOrder)
}

func TestFullInspectionFlow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// A small Linux-looking tree with one duplicate pair.
	f.writeFile(t, "etc/os-release", []byte("PRETTY_NAME=\"Debian GNU/Linux 12\"\nVERSION_ID=\"12\"\n"))
	dup := bytes.Repeat([]byte("dupdata!"), 512)
	f.writeFile(t, "media/a.iso", dup)
	f.writeFile(t, "media/b.iso", dup)

	session, err := f.svc.Start(ctx, f.root, &driveident.Override{Serial: "INSPECT-1"})
	require.NoError(t, err)

	// Pass 1: health. Device path is unknown for a temp dir, so probes are
	// skipped with a warning but the pass still completes.
	report, err := f.svc.RunPass(ctx, session.ID, 1)
	require.NoError(t, err)
	require.NotNil(t, report.Health)
	assert.NotEmpty(t, report.Health.Label)

	// Pass 2: OS detection.
	report, err = f.svc.RunPass(ctx, session.ID, 2)
	require.NoError(t, err)
	require.NotNil(t, report.OS)
	assert.True(t, report.OS.Detected)
	assert.Equal(t, "linux", report.OS.OSType)

	// Pass 3: metadata catalog + duplicates.
	report, err = f.svc.RunPass(ctx, session.ID, 3)
	require.NoError(t, err)
	require.NotNil(t, report.Metadata)
	assert.Equal(t, int64(3), report.Metadata.FileCount)
	assert.Equal(t, 1, report.Metadata.DuplicateGroups)
	assert.Equal(t, int64(4096), report.Metadata.WastedBytes)

	// The OS fingerprint landed on the scan row.
	osInfo, err := f.scans.GetOSInfo(ctx, report.Metadata.ScanID)
	require.NoError(t, err)
	require.NotNil(t, osInfo)
	assert.Equal(t, "linux", osInfo.OSType)

	// Pass 4: review compiles the earlier passes and closes the session.
	report, err = f.svc.RunPass(ctx, session.ID, 4)
	require.NoError(t, err)
	require.NotNil(t, report.Review)
	require.NotNil(t, report.Review.Health)
	require.NotNil(t, report.Review.OS)
	require.NotNil(t, report.Review.Metadata)

	var types []string
	for _, p := range report.Review.DecisionPoints {
		types = append(types, p.Type)
	}
	assert.Contains(t, types, "duplicate_handling")
	assert.Contains(t, types, "os_preservation")

	got, err := f.sessions.GetSession(ctx, session.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SessionStatusCompleted, got.Status)
}

func TestReviewRecordsSkippedPasses(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.writeFile(t, "data.txt", []byte("plain data drive"))

	session, err := f.svc.Start(ctx, f.root, &driveident.Override{Serial: "INSPECT-2"})
	require.NoError(t, err)

	_, err = f.svc.RunPass(ctx, session.ID, 1)
	require.NoError(t, err)
	require.NoError(t, f.sessions.SkipPass(ctx, session.ID, 2, "data-only drive"))
	require.NoError(t, f.sessions.SkipPass(ctx, session.ID, 3, "catalog not needed"))

	report, err := f.svc.RunPass(ctx, session.ID, 4)
	require.NoError(t, err)
	assert.ElementsMatch(t, []int{2, 3}, report.Review.SkippedPasses)
	assert.Nil(t, report.Review.OS)
	assert.Nil(t, report.Review.Metadata)
}

func TestRunPassOnCancelledSession(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	session, err := f.svc.Start(ctx, f.root, &driveident.Override{Serial: "INSPECT-3"})
	require.NoError(t, err)
	require.NoError(t, f.sessions.CancelSession(ctx, session.ID))

	_, err = f.svc.RunPass(ctx, session.ID, 1)
	assert.ErrorIs(t, err, models.ErrSessionNotActive)
}
