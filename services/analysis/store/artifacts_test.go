// Copyright (C) 2026 GembaWorks (oss@gembaworks.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package store

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gembaworks/gembaflow/services/analysis/datatypes"
)

func draftTheme(sessionID, name string) datatypes.Theme {
	now := time.Now().UTC()
	return datatypes.Theme{
		ID:                  uuid.NewString(),
		SessionID:           sessionID,
		Name:                name,
		Summary:             "summary of " + name,
		Confidence:          0.7,
		RootCauseHypotheses: []string{"hypothesis"},
		Status:              datatypes.StatusDraft,
		CreatedBy:           "user-1",
		Revision:            1,
		RunID:               "run-1",
		ObservationIDs:      []string{"obs-1"},
		CreatedAt:           now,
		UpdatedAt:           now,
	}
}

func draftWave(sessionID string, seq int, cardIDs []string) datatypes.ImplementationWave {
	now := time.Now().UTC()
	w := datatypes.ImplementationWave{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		Sequence:  seq,
		Name:      "Wave",
		Objective: "objective",
		Status:    datatypes.StatusDraft,
		CreatedBy: "user-1",
		Revision:  1,
		RunID:     "run-1",
		CreatedAt: now,
		UpdatedAt: now,
	}
	for pos, cardID := range cardIDs {
		w.Items = append(w.Items, datatypes.ImplementationItem{
			ID:             uuid.NewString(),
			WaveID:         w.ID,
			SolutionCardID: cardID,
			Position:       pos,
		})
	}
	return w
}

// =============================================================================
// Replace-and-Persist
// =============================================================================

func TestReplaceThemes_ReplacesNotAccumulates(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	n, err := s.ReplaceThemes(ctx, "session-1", []datatypes.Theme{
		draftTheme("session-1", "Alpha"),
		draftTheme("session-1", "Beta"),
	})
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = s.ReplaceThemes(ctx, "session-1", []datatypes.Theme{
		draftTheme("session-1", "Gamma"),
	})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	themes, err := s.GetThemes(ctx, "session-1")
	require.NoError(t, err)
	require.Len(t, themes, 1)
	assert.Equal(t, "Gamma", themes[0].Name)
	assert.Equal(t, []string{"obs-1"}, themes[0].ObservationIDs)
}

func TestReplaceThemes_ScopedToSession(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.ReplaceThemes(ctx, "session-1", []datatypes.Theme{draftTheme("session-1", "Mine")})
	require.NoError(t, err)
	_, err = s.ReplaceThemes(ctx, "session-2", []datatypes.Theme{draftTheme("session-2", "Theirs")})
	require.NoError(t, err)

	mine, err := s.GetThemes(ctx, "session-1")
	require.NoError(t, err)
	require.Len(t, mine, 1)
	assert.Equal(t, "Mine", mine[0].Name)
}

func TestReplaceThemes_StaleLinksGoWithTheirThemes(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.ReplaceThemes(ctx, "session-1", []datatypes.Theme{draftTheme("session-1", "Old")})
	require.NoError(t, err)
	_, err = s.ReplaceThemes(ctx, "session-1", nil)
	require.NoError(t, err)

	var links int
	require.NoError(t, s.DB().QueryRow(`SELECT COUNT(*) FROM theme_links`).Scan(&links))
	assert.Zero(t, links, "cascade must remove orphaned link rows")
}

func TestReplaceWaves_RoundTripWithDependencies(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	w1 := draftWave("session-1", 1, []string{"card-1"})
	w2 := draftWave("session-1", 2, []string{"card-2"})
	w2.Items[0].DependsOn = []string{"card-1"}

	n, err := s.ReplaceWaves(ctx, "session-1", []datatypes.ImplementationWave{w1, w2})
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	waves, err := s.GetWaves(ctx, "session-1")
	require.NoError(t, err)
	require.Len(t, waves, 2)
	assert.Equal(t, 1, waves[0].Sequence)
	require.Len(t, waves[1].Items, 1)
	assert.Equal(t, []string{"card-1"}, waves[1].Items[0].DependsOn)
}

// =============================================================================
// Optimistic Concurrency Guard
// =============================================================================

func seedTheme(t *testing.T, s *Store) datatypes.Theme {
	t.Helper()
	theme := draftTheme("session-1", "Guarded")
	_, err := s.ReplaceThemes(context.Background(), "session-1", []datatypes.Theme{theme})
	require.NoError(t, err)
	return theme
}

func TestUpdateStatusWithRevision_IncrementsByOne(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	theme := seedTheme(t, s)

	rev, err := s.UpdateStatusWithRevision(ctx, datatypes.KindTheme, theme.ID, 1, datatypes.StatusConfirmed)
	require.NoError(t, err)
	assert.Equal(t, int64(2), rev)

	rev, err = s.UpdateStatusWithRevision(ctx, datatypes.KindTheme, theme.ID, 2, datatypes.StatusAccepted)
	require.NoError(t, err)
	assert.Equal(t, int64(3), rev)

	themes, err := s.GetThemes(ctx, "session-1")
	require.NoError(t, err)
	require.Len(t, themes, 1)
	assert.Equal(t, datatypes.StatusAccepted, themes[0].Status)
	assert.Equal(t, int64(3), themes[0].Revision)
}

func TestUpdateStatusWithRevision_StaleRevisionConflicts(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	theme := seedTheme(t, s)

	_, err := s.UpdateStatusWithRevision(ctx, datatypes.KindTheme, theme.ID, 1, datatypes.StatusConfirmed)
	require.NoError(t, err)

	_, err = s.UpdateStatusWithRevision(ctx, datatypes.KindTheme, theme.ID, 1, datatypes.StatusRejected)
	var conflict *ConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, theme.ID, conflict.ArtifactID)
	assert.Equal(t, int64(1), conflict.ExpectedRevision)
	assert.Equal(t, int64(2), conflict.CurrentRevision)

	// The conflicting write must not have moved the row.
	themes, err := s.GetThemes(ctx, "session-1")
	require.NoError(t, err)
	assert.Equal(t, datatypes.StatusConfirmed, themes[0].Status)
	assert.Equal(t, int64(2), themes[0].Revision)
}

func TestUpdateStatusWithRevision_IllegalTransition(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	theme := seedTheme(t, s)

	// Themes cannot be accepted straight from draft.
	_, err := s.UpdateStatusWithRevision(ctx, datatypes.KindTheme, theme.ID, 1, datatypes.StatusAccepted)
	assert.ErrorIs(t, err, ErrIllegalTransition)

	// Rejected is terminal.
	_, err = s.UpdateStatusWithRevision(ctx, datatypes.KindTheme, theme.ID, 1, datatypes.StatusRejected)
	require.NoError(t, err)
	_, err = s.UpdateStatusWithRevision(ctx, datatypes.KindTheme, theme.ID, 2, datatypes.StatusDraft)
	assert.ErrorIs(t, err, ErrIllegalTransition)
}

func TestUpdateStatusWithRevision_NotFound(t *testing.T) {
	s := newTestStore(t)

	_, err := s.UpdateStatusWithRevision(context.Background(), datatypes.KindTheme,
		"missing", 1, datatypes.StatusConfirmed)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestUpdateStatusWithRevision_UnknownKind(t *testing.T) {
	s := newTestStore(t)

	_, err := s.UpdateStatusWithRevision(context.Background(), datatypes.ArtifactKind("note"),
		"id", 1, datatypes.StatusConfirmed)
	assert.Error(t, err)
}

func TestCountArtifacts(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedTheme(t, s)

	n, err := s.CountArtifacts(ctx, datatypes.KindTheme, "session-1")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = s.CountArtifacts(ctx, datatypes.KindTheme, "session-other")
	require.NoError(t, err)
	assert.Zero(t, n)
}
