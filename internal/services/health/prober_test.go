// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package health

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeTool writes an executable that prints payload and exits with code.
func fakeTool(t *testing.T, dir, name, payload string, code int) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell script fixture is unix-only")
	}

	path := filepath.Join(dir, name)
	script := fmt.Sprintf("#!/bin/sh\ncat <<'JSON'\n%s\nJSON\nexit %d\n", payload, code)
	require.NoError(t, os.WriteFile(path, []byte(script), 0o755))
	return path
}

func smartPayload(passed bool, reallocated, pending, uncorrectable int64) string {
	return fmt.Sprintf(`{
  "smart_status": {"passed": %t},
  "power_on_time": {"hours": 12345},
  "ata_smart_attributes": {"table": [
    {"id": 5, "raw": {"value": %d}},
    {"id": 197, "raw": {"value": %d}},
    {"id": 198, "raw": {"value": %d}}
  ]}
}`, passed, reallocated, pending, uncorrectable)
}

func TestProbeHealthyDrive(t *testing.T) {
	dir := t.TempDir()
	p := &Prober{
		fsckPath:     fakeTool(t, dir, "fsck", "", 0),
		smartctlPath: fakeTool(t, dir, "smartctl", smartPayload(true, 0, 0, 0), 0),
	}

	report := p.Probe(context.Background(), "/dev/sdx")
	assert.Equal(t, 100, report.Score)
	assert.Equal(t, "Excellent", report.Label)
	assert.True(t, report.FsckRun)
	assert.True(t, report.SmartAvailable)
	assert.Equal(t, "PASSED", report.SmartStatus)
	assert.Equal(t, int64(12345), report.PowerOnHours)
	assert.Empty(t, report.Warnings)
}

func TestProbeFsckErrorsDeduct(t *testing.T) {
	dir := t.TempDir()
	p := &Prober{
		fsckPath:     fakeTool(t, dir, "fsck", "", 4),
		smartctlPath: fakeTool(t, dir, "smartctl", smartPayload(true, 0, 0, 0), 0),
	}

	report := p.Probe(context.Background(), "/dev/sdx")
	assert.Equal(t, 80, report.Score)
	assert.Equal(t, "Good", report.Label)
	assert.Equal(t, 1, report.FsckErrors)
}

func TestProbeSmartFailureDeducts(t *testing.T) {
	dir := t.TempDir()
	p := &Prober{
		fsckPath:     fakeTool(t, dir, "fsck", "", 0),
		smartctlPath: fakeTool(t, dir, "smartctl", smartPayload(false, 0, 0, 0), 0),
	}

	report := p.Probe(context.Background(), "/dev/sdx")
	assert.Equal(t, 75, report.Score)
	assert.Equal(t, "FAILED", report.SmartStatus)
}

func TestProbeSectorDeductionsAreCapped(t *testing.T) {
	dir := t.TempDir()
	p := &Prober{
		fsckPath:     fakeTool(t, dir, "fsck", "", 0),
		smartctlPath: fakeTool(t, dir, "smartctl", smartPayload(true, 500, 500, 500), 0),
	}

	// 100 - 20 (reallocated cap) - 25 (pending cap) - 30 (uncorrectable cap)
	report := p.Probe(context.Background(), "/dev/sdx")
	assert.Equal(t, 25, report.Score)
	assert.Equal(t, "Poor", report.Label)
	assert.Equal(t, int64(500), report.ReallocatedSectors)
}

func TestProbeScoreClampedAtZero(t *testing.T) {
	dir := t.TempDir()
	p := &Prober{
		fsckPath:     fakeTool(t, dir, "fsck", "", 4),
		smartctlPath: fakeTool(t, dir, "smartctl", smartPayload(false, 500, 500, 500), 0),
	}

	report := p.Probe(context.Background(), "/dev/sdx")
	assert.Equal(t, 0, report.Score)
	assert.Equal(t, "Critical", report.Label)
}

func TestProbeMissingToolsOnlyWarn(t *testing.T) {
	p := &Prober{
		fsckPath:     "no-such-fsck-binary",
		smartctlPath: "no-such-smartctl-binary",
	}

	report := p.Probe(context.Background(), "/dev/sdx")
	assert.Equal(t, 100, report.Score)
	assert.False(t, report.FsckRun)
	assert.False(t, report.SmartAvailable)
	assert.Len(t, report.Warnings, 2)
}

func TestProbeNoDevice(t *testing.T) {
	p := NewProber()

	report := p.Probe(context.Background(), "")
	assert.Equal(t, 90, report.Score)
	assert.Equal(t, "Excellent", report.Label)
	assert.NotEmpty(t, report.Warnings)
}

func TestLabelBands(t *testing.T) {
	assert.Equal(t, "Excellent", Label(90))
	assert.Equal(t, "Good", Label(89))
	assert.Equal(t, "Good", Label(70))
	assert.Equal(t, "Fair", Label(69))
	assert.Equal(t, "Fair", Label(50))
	assert.Equal(t, "Poor", Label(49))
	assert.Equal(t, "Poor", Label(25))
	assert.Equal(t, "Critical", Label(24))
	assert.Equal(t, "Critical", Label(0))
}
