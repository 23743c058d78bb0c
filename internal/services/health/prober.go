// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package health scores a drive's condition from read-only probes: a dry-run
// filesystem check and SMART reliability counters. Both tools are optional;
// missing tools reduce confidence, not the score.
package health

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/autobrr/drivedex/internal/externalprograms"
	"github.com/autobrr/drivedex/internal/models"
)

// Score deductions. The score starts at 100 and is clamped to [0, 100].
const (
	deductFsckErrors     = 20
	deductSmartNotPassed = 25
	deductProbeFailure   = 10

	perReallocatedSector = 2
	reallocatedCap       = 20
	perPendingSector     = 3
	pendingCap           = 25
	perUncorrectable     = 5
	uncorrectableCap     = 30
)

// Label maps a score to its human band.
func Label(score int) string {
	switch {
	case score >= 90:
		return "Excellent"
	case score >= 70:
		return "Good"
	case score >= 50:
		return "Fair"
	case score >= 25:
		return "Poor"
	default:
		return "Critical"
	}
}

type Prober struct {
	fsckPath     string
	smartctlPath string
}

func NewProber() *Prober {
	return &Prober{fsckPath: "fsck", smartctlPath: "smartctl"}
}

// SetTools overrides the probe binaries. Empty values keep the defaults.
func (p *Prober) SetTools(fsckPath, smartctlPath string) {
	if fsckPath != "" {
		p.fsckPath = fsckPath
	}
	if smartctlPath != "" {
		p.smartctlPath = smartctlPath
	}
}

// Probe runs the available checks against devicePath and computes the health
// report. devicePath may be empty (identity was synthesized); only the checks
// that can run contribute.
func (p *Prober) Probe(ctx context.Context, devicePath string) *models.HealthReport {
	report := &models.HealthReport{Score: 100}

	if devicePath == "" {
		report.Warnings = append(report.Warnings, "no backing device known, probes skipped")
		report.Score -= deductProbeFailure
	} else {
		p.runFsck(ctx, devicePath, report)
		p.runSmart(ctx, devicePath, report)
	}

	report.Score -= scaledDeduction(report.ReallocatedSectors, perReallocatedSector, reallocatedCap)
	report.Score -= scaledDeduction(report.PendingSectors, perPendingSector, pendingCap)
	report.Score -= scaledDeduction(report.UncorrectableCount, perUncorrectable, uncorrectableCap)

	if report.Score < 0 {
		report.Score = 0
	}
	report.Label = Label(report.Score)

	log.Info().
		Str("device", devicePath).
		Int("score", report.Score).
		Str("label", report.Label).
		Msg("Health probe complete")
	return report
}

func scaledDeduction(count, per, limit int64) int {
	d := count * per
	if d > limit {
		d = limit
	}
	return int(d)
}

// runFsck performs a read-only check (-n never repairs). fsck encodes its
// findings in the exit status: bit 2 means uncorrected errors remain.
func (p *Prober) runFsck(ctx context.Context, devicePath string, report *models.HealthReport) {
	result, err := externalprograms.Run(ctx, p.fsckPath, "-n", devicePath)
	if err != nil {
		if errors.Is(err, externalprograms.ErrNotFound) {
			report.Warnings = append(report.Warnings, "fsck not installed")
			return
		}
		report.Warnings = append(report.Warnings, fmt.Sprintf("fsck failed to run: %v", err))
		report.Score -= deductProbeFailure
		return
	}

	report.FsckRun = true
	if result.ExitCode&4 != 0 {
		report.FsckErrors = 1
		report.Score -= deductFsckErrors
		report.Warnings = append(report.Warnings, "filesystem errors left uncorrected")
	} else if result.ExitCode != 0 && result.ExitCode != 1 {
		report.Warnings = append(report.Warnings, fmt.Sprintf("fsck exited %d", result.ExitCode))
	}
}

// smartctl -j output, reduced to the fields the score uses.
type smartOutput struct {
	SmartStatus struct {
		Passed bool `json:"passed"`
	} `json:"smart_status"`
	PowerOnTime struct {
		Hours int64 `json:"hours"`
	} `json:"power_on_time"`
	AtaSmartAttributes struct {
		Table []struct {
			ID  int `json:"id"`
			Raw struct {
				Value int64 `json:"value"`
			} `json:"raw"`
		} `json:"table"`
	} `json:"ata_smart_attributes"`
}

// SMART attribute ids.
const (
	attrReallocatedSectors = 5
	attrPendingSectors     = 197
	attrUncorrectable      = 198
)

func (p *Prober) runSmart(ctx context.Context, devicePath string, report *models.HealthReport) {
	result, err := externalprograms.Run(ctx, p.smartctlPath, "-A", "-H", "-j", devicePath)
	if err != nil {
		if errors.Is(err, externalprograms.ErrNotFound) {
			report.Warnings = append(report.Warnings, "smartctl not installed")
			return
		}
		report.Warnings = append(report.Warnings, fmt.Sprintf("smartctl failed to run: %v", err))
		report.Score -= deductProbeFailure
		return
	}

	// smartctl sets bit 1 for usage errors and bit 2 for open failures;
	// higher bits still carry valid JSON alongside failing checks.
	if result.ExitCode&3 != 0 || result.Stdout == "" {
		report.Warnings = append(report.Warnings, "smartctl could not read the device")
		report.Score -= deductProbeFailure
		return
	}

	var out smartOutput
	if err := json.Unmarshal([]byte(result.Stdout), &out); err != nil {
		report.Warnings = append(report.Warnings, "smartctl output did not parse")
		report.Score -= deductProbeFailure
		return
	}

	report.SmartAvailable = true
	report.PowerOnHours = out.PowerOnTime.Hours
	if out.SmartStatus.Passed {
		report.SmartStatus = "PASSED"
	} else {
		report.SmartStatus = "FAILED"
		report.Score -= deductSmartNotPassed
		report.Warnings = append(report.Warnings, "SMART overall health check failed")
	}

	for _, attr := range out.AtaSmartAttributes.Table {
		switch attr.ID {
		case attrReallocatedSectors:
			report.ReallocatedSectors = attr.Raw.Value
		case attrPendingSectors:
			report.PendingSectors = attr.Raw.Value
		case attrUncorrectable:
			report.UncorrectableCount = attr.Raw.Value
		}
	}
}
