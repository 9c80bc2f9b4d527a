// Copyright (C) 2026 GembaWorks (oss@gembaworks.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/gembaworks/gembaflow/services/analysis/datatypes"
	"github.com/gembaworks/gembaflow/services/analysis/store"
)

// Writer is the replace-and-persist path: it materializes validated stage
// output into draft artifacts and commits them through the store, fully
// replacing the session's prior set for that stage. Artifacts are created
// exclusively here; curators only ever mutate status and revision afterward.
type Writer struct {
	store *store.Store
}

// NewWriter creates a writer over the given store.
func NewWriter(s *store.Store) *Writer {
	return &Writer{store: s}
}

// Commit persists one stage's validated output for a session, discarding
// the stage's previously committed artifact set. Only references that
// survived validation reach the link tables. Returns the number of
// artifacts actually inserted (per-item failures are skipped, not fatal).
func (w *Writer) Commit(ctx context.Context, sessionID, userID, runID string, output StageOutput) (int, error) {
	now := time.Now().UTC()

	switch out := output.(type) {
	case *SynthesisOutput:
		themes := make([]datatypes.Theme, 0, len(out.Themes))
		for _, d := range out.Themes {
			themes = append(themes, datatypes.Theme{
				ID:                  uuid.NewString(),
				SessionID:           sessionID,
				Name:                d.Name,
				Summary:             d.Summary,
				Confidence:          d.Confidence,
				RootCauseHypotheses: d.RootCauseHypotheses,
				Status:              datatypes.StatusDraft,
				CreatedBy:           userID,
				Revision:            1,
				RunID:               runID,
				ObservationIDs:      d.ObservationIDs,
				ProcessStepIDs:      d.ProcessStepIDs,
				WasteTypeIDs:        d.WasteTypeIDs,
				CreatedAt:           now,
				UpdatedAt:           now,
			})
		}
		return w.store.ReplaceThemes(ctx, sessionID, themes)

	case *SolutionsOutput:
		cards := make([]datatypes.SolutionCard, 0, len(out.Cards))
		for _, d := range out.Cards {
			cards = append(cards, datatypes.SolutionCard{
				ID:              uuid.NewString(),
				SessionID:       sessionID,
				Bucket:          d.Bucket,
				Title:           d.Title,
				Description:     d.Description,
				ExpectedImpact:  d.ExpectedImpact,
				EffortLevel:     d.EffortLevel,
				Risks:           d.Risks,
				Dependencies:    d.Dependencies,
				RecommendedWave: d.RecommendedWave,
				Status:          datatypes.StatusDraft,
				CreatedBy:       userID,
				Revision:        1,
				RunID:           runID,
				ThemeIDs:        d.ThemeIDs,
				ProcessStepIDs:  d.ProcessStepIDs,
				ObservationIDs:  d.ObservationIDs,
				CreatedAt:       now,
				UpdatedAt:       now,
			})
		}
		return w.store.ReplaceSolutionCards(ctx, sessionID, cards)

	case *SequencingOutput:
		waves := make([]datatypes.ImplementationWave, 0, len(out.Waves))
		for _, d := range out.Waves {
			wave := datatypes.ImplementationWave{
				ID:        uuid.NewString(),
				SessionID: sessionID,
				Sequence:  d.Sequence,
				Name:      d.Name,
				Objective: d.Objective,
				Status:    datatypes.StatusDraft,
				CreatedBy: userID,
				Revision:  1,
				RunID:     runID,
				CreatedAt: now,
				UpdatedAt: now,
			}
			for pos, item := range d.Items {
				wave.Items = append(wave.Items, datatypes.ImplementationItem{
					ID:             uuid.NewString(),
					WaveID:         wave.ID,
					SolutionCardID: item.SolutionCardID,
					Position:       pos,
					Notes:          item.Notes,
					DependsOn:      item.DependsOn,
				})
			}
			waves = append(waves, wave)
		}
		return w.store.ReplaceWaves(ctx, sessionID, waves)

	default:
		return 0, fmt.Errorf("commit: unsupported output type %T", output)
	}
}
