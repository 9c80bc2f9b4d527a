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

import "github.com/gembaworks/gembaflow/services/analysis/datatypes"

// StageOutput is the structured result of one provider call, shaped per
// stage. Implementations carry the reference-filtering behavior used by
// Validate so the orchestrator stays stage-agnostic.
type StageOutput interface {
	// Stage reports which pipeline stage produced this output.
	Stage() datatypes.Stage

	// filterRefs removes every entity reference not present in allow,
	// mutating the output in place, and returns per-item drop records.
	filterRefs(allow Allowlists) []ItemDrops
}

// =============================================================================
// Synthesis
// =============================================================================

// ThemeDraft is one provider-proposed theme before persistence.
type ThemeDraft struct {
	Name                string   `json:"name"`
	Summary             string   `json:"summary"`
	Confidence          float64  `json:"confidence"`
	RootCauseHypotheses []string `json:"root_cause_hypotheses"`
	ObservationIDs      []string `json:"observation_ids"`
	ProcessStepIDs      []string `json:"process_step_ids"`
	WasteTypeIDs        []string `json:"waste_type_ids"`
}

// SynthesisOutput is the synthesis stage's structured output.
type SynthesisOutput struct {
	Themes []ThemeDraft `json:"themes"`
}

func (o *SynthesisOutput) Stage() datatypes.Stage { return datatypes.StageSynthesis }

// =============================================================================
// Solutions
// =============================================================================

// SolutionCardDraft is one provider-proposed solution card before persistence.
type SolutionCardDraft struct {
	Bucket          string   `json:"bucket"`
	Title           string   `json:"title"`
	Description     string   `json:"description"`
	ExpectedImpact  string   `json:"expected_impact"`
	EffortLevel     string   `json:"effort_level"`
	Risks           []string `json:"risks"`
	Dependencies    []string `json:"dependencies"`
	RecommendedWave int      `json:"recommended_wave"`
	ThemeIDs        []string `json:"theme_ids"`
	ProcessStepIDs  []string `json:"process_step_ids"`
	ObservationIDs  []string `json:"observation_ids"`
}

// SolutionsOutput is the solutions stage's structured output.
type SolutionsOutput struct {
	Cards []SolutionCardDraft `json:"cards"`
}

func (o *SolutionsOutput) Stage() datatypes.Stage { return datatypes.StageSolutions }

// =============================================================================
// Sequencing
// =============================================================================

// WaveItemDraft schedules one accepted solution card inside a wave.
// DependsOn lists solution card IDs that must land before this one.
type WaveItemDraft struct {
	SolutionCardID string   `json:"solution_card_id"`
	Notes          string   `json:"notes,omitempty"`
	DependsOn      []string `json:"depends_on,omitempty"`
}

// WaveDraft is one provider-proposed implementation wave.
type WaveDraft struct {
	Sequence  int             `json:"sequence"`
	Name      string          `json:"name"`
	Objective string          `json:"objective"`
	Items     []WaveItemDraft `json:"items"`
}

// SequencingOutput is the sequencing stage's structured output.
type SequencingOutput struct {
	Waves []WaveDraft `json:"waves"`
}

func (o *SequencingOutput) Stage() datatypes.Stage { return datatypes.StageSequencing }
