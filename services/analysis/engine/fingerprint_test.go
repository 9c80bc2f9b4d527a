// Copyright (C) 2026 GembaWorks (oss@gembaworks.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gembaworks/gembaflow/services/analysis/datatypes"
)

func sampleSnapshot() datatypes.InputSnapshot {
	return datatypes.InputSnapshot{
		Observations: []datatypes.Observation{
			{ID: "obs-2", Text: "handoff waits on approval", WasteTypeIDs: []string{"wt-2", "wt-1"}},
			{ID: "obs-1", Text: "duplicate data entry", WasteTypeIDs: []string{"wt-1"}},
		},
		ProcessSteps: []datatypes.ProcessStep{
			{ID: "step-2", Name: "Approve"},
			{ID: "step-1", Name: "Intake"},
		},
		WasteTypes: []datatypes.WasteType{
			{ID: "wt-1", Name: "Waiting"},
			{ID: "wt-2", Name: "Overprocessing"},
		},
	}
}

func TestFingerprint_Deterministic(t *testing.T) {
	snap := sampleSnapshot()

	fp1, err := Fingerprint(datatypes.StageSynthesis, "session-1", snap)
	require.NoError(t, err)
	fp2, err := Fingerprint(datatypes.StageSynthesis, "session-1", snap)
	require.NoError(t, err)

	assert.Equal(t, fp1, fp2)
	assert.Len(t, fp1, 64)
}

func TestFingerprint_OrderIndependent(t *testing.T) {
	snap := sampleSnapshot()

	reordered := datatypes.InputSnapshot{
		Observations: []datatypes.Observation{snap.Observations[1], snap.Observations[0]},
		ProcessSteps: []datatypes.ProcessStep{snap.ProcessSteps[1], snap.ProcessSteps[0]},
		WasteTypes:   []datatypes.WasteType{snap.WasteTypes[1], snap.WasteTypes[0]},
	}
	// Reverse a nested ID list too.
	reordered.Observations[1].WasteTypeIDs = []string{"wt-1", "wt-2"}

	fp1, err := Fingerprint(datatypes.StageSynthesis, "session-1", snap)
	require.NoError(t, err)
	fp2, err := Fingerprint(datatypes.StageSynthesis, "session-1", reordered)
	require.NoError(t, err)

	assert.Equal(t, fp1, fp2, "slice order must not change the fingerprint")
}

func TestFingerprint_SensitiveToStageAndSession(t *testing.T) {
	snap := sampleSnapshot()

	base, err := Fingerprint(datatypes.StageSynthesis, "session-1", snap)
	require.NoError(t, err)

	otherStage, err := Fingerprint(datatypes.StageSolutions, "session-1", snap)
	require.NoError(t, err)
	assert.NotEqual(t, base, otherStage)

	otherSession, err := Fingerprint(datatypes.StageSynthesis, "session-2", snap)
	require.NoError(t, err)
	assert.NotEqual(t, base, otherSession)
}

func TestFingerprint_SensitiveToContent(t *testing.T) {
	snap := sampleSnapshot()
	base, err := Fingerprint(datatypes.StageSynthesis, "session-1", snap)
	require.NoError(t, err)

	snap.Observations[0].Text = "handoff waits on legal review"
	changed, err := Fingerprint(datatypes.StageSynthesis, "session-1", snap)
	require.NoError(t, err)

	assert.NotEqual(t, base, changed)
}

func TestFingerprint_DoesNotMutateInput(t *testing.T) {
	snap := sampleSnapshot()

	_, err := Fingerprint(datatypes.StageSynthesis, "session-1", snap)
	require.NoError(t, err)

	assert.Equal(t, "obs-2", snap.Observations[0].ID, "caller's slice order must survive")
	assert.Equal(t, []string{"wt-2", "wt-1"}, snap.Observations[0].WasteTypeIDs)
}
