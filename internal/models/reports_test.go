// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeReportRejectsWrongVariant(t *testing.T) {
	_, err := EncodeReport(1, &OSReport{})
	assert.ErrorIs(t, err, ErrReportMismatch)

	_, err = EncodeReport(4, &HealthReport{})
	assert.ErrorIs(t, err, ErrReportMismatch)
}

func TestReportRoundTripPerPass(t *testing.T) {
	encoded, err := EncodeReport(1, &HealthReport{Score: 72, Label: "Good", SmartAvailable: true})
	require.NoError(t, err)

	report, err := DecodeReport(1, encoded)
	require.NoError(t, err)
	require.NotNil(t, report.Health)
	assert.Nil(t, report.OS)
	assert.Equal(t, 72, report.Health.Score)
	assert.Equal(t, "Good", report.Health.Label)

	encoded, err = EncodeReport(4, &ReviewReport{
		SkippedPasses: []int{2},
		DecisionPoints: []DecisionPoint{
			{Key: "dup:group:1", Type: "duplicate_handling", Description: "2 identical ISOs"},
		},
		DecisionCount: 1,
	})
	require.NoError(t, err)

	report, err = DecodeReport(4, encoded)
	require.NoError(t, err)
	require.NotNil(t, report.Review)
	assert.Equal(t, []int{2}, report.Review.SkippedPasses)
}

func TestDecodeReportEmpty(t *testing.T) {
	_, err := DecodeReport(2, "")
	assert.ErrorIs(t, err, ErrReportMismatch)
}

func TestPassName(t *testing.T) {
	assert.Equal(t, "health", PassName(1))
	assert.Equal(t, "review", PassName(4))
	assert.Equal(t, "", PassName(0))
	assert.Equal(t, "", PassName(5))
}
