// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package models

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Pass reports form a closed set of variants, one per pass number. They are
// stored as opaque JSON on the pass row and validated against the variant for
// that pass when decoded.

var ErrReportMismatch = errors.New("report payload does not match pass")

// HealthReport is the pass 1 payload.
type HealthReport struct {
	Score              int      `json:"score"`
	Label              string   `json:"label"`
	FsckRun            bool     `json:"fsckRun"`
	FsckErrors         int      `json:"fsckErrors"`
	SmartAvailable     bool     `json:"smartAvailable"`
	SmartStatus        string   `json:"smartStatus,omitempty"`
	ReallocatedSectors int64    `json:"reallocatedSectors"`
	PendingSectors     int64    `json:"pendingSectors"`
	UncorrectableCount int64    `json:"uncorrectableCount"`
	PowerOnHours       int64    `json:"powerOnHours,omitempty"`
	Warnings           []string `json:"warnings,omitempty"`
}

// OSReport is the pass 2 payload.
type OSReport struct {
	Detected        bool   `json:"detected"`
	OSType          string `json:"osType"`
	OSName          string `json:"osName,omitempty"`
	Version         string `json:"version,omitempty"`
	Edition         string `json:"edition,omitempty"`
	BuildNumber     string `json:"buildNumber,omitempty"`
	InstallDate     string `json:"installDate,omitempty"`
	BootCapable     bool   `json:"bootCapable"`
	DetectionMethod string `json:"detectionMethod,omitempty"`
	Confidence      string `json:"confidence"`
}

// MetadataReport is the pass 3 payload.
type MetadataReport struct {
	ScanID          int64 `json:"scanId"`
	FileCount       int64 `json:"fileCount"`
	TotalSizeBytes  int64 `json:"totalSizeBytes"`
	ErrorCount      int64 `json:"errorCount"`
	DuplicateGroups int   `json:"duplicateGroups"`
	WastedBytes     int64 `json:"wastedBytes"`
	DurationSeconds int64 `json:"durationSeconds"`
}

// ReviewReport is the pass 4 payload: a compiled summary of passes 1-3 plus
// the open decision points an operator should resolve.
type ReviewReport struct {
	Health         *HealthReport   `json:"health,omitempty"`
	OS             *OSReport       `json:"os,omitempty"`
	Metadata       *MetadataReport `json:"metadata,omitempty"`
	SkippedPasses  []int           `json:"skippedPasses,omitempty"`
	DecisionPoints []DecisionPoint `json:"decisionPoints,omitempty"`
	DecisionCount  int             `json:"decisionCount"`
}

// DecisionPoint is an open question surfaced to the operator during review.
type DecisionPoint struct {
	Key         string `json:"key"`
	Type        string `json:"type"`
	Description string `json:"description"`
	Suggested   string `json:"suggested,omitempty"`
}

// PassReport pairs a pass number with its decoded variant. Exactly one of the
// variant fields is set.
type PassReport struct {
	PassNumber int             `json:"passNumber"`
	Health     *HealthReport   `json:"health,omitempty"`
	OS         *OSReport       `json:"os,omitempty"`
	Metadata   *MetadataReport `json:"metadata,omitempty"`
	Review     *ReviewReport   `json:"review,omitempty"`
}

// EncodeReport serializes the variant payload for a pass row. The payload
// type must match the pass number.
func EncodeReport(passNumber int, payload any) (string, error) {
	var ok bool
	switch passNumber {
	case 1:
		_, ok = payload.(*HealthReport)
	case 2:
		_, ok = payload.(*OSReport)
	case 3:
		_, ok = payload.(*MetadataReport)
	case 4:
		_, ok = payload.(*ReviewReport)
	}
	if !ok {
		return "", fmt.Errorf("%w: pass %d given %T", ErrReportMismatch, passNumber, payload)
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("encode report: %w", err)
	}
	return string(data), nil
}

// DecodeReport decodes a stored report into the variant for its pass number.
func DecodeReport(passNumber int, reportJSON string) (*PassReport, error) {
	if reportJSON == "" {
		return nil, fmt.Errorf("%w: pass %d has no report", ErrReportMismatch, passNumber)
	}

	report := &PassReport{PassNumber: passNumber}
	var target any
	switch passNumber {
	case 1:
		report.Health = &HealthReport{}
		target = report.Health
	case 2:
		report.OS = &OSReport{}
		target = report.OS
	case 3:
		report.Metadata = &MetadataReport{}
		target = report.Metadata
	case 4:
		report.Review = &ReviewReport{}
		target = report.Review
	default:
		return nil, fmt.Errorf("%w: unknown pass %d", ErrReportMismatch, passNumber)
	}

	if err := json.Unmarshal([]byte(reportJSON), target); err != nil {
		return nil, fmt.Errorf("decode pass %d report: %w", passNumber, err)
	}
	return report, nil
}
