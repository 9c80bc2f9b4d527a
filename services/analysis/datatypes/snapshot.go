// Copyright (C) 2026 GembaWorks (oss@gembaworks.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package datatypes

// Observation is one human-collected workflow observation supplied to a run.
// The core never loads these itself; the caller assembles them from the
// session's workflow data.
type Observation struct {
	ID            string   `json:"id"`
	ProcessStepID string   `json:"process_step_id,omitempty"`
	Text          string   `json:"text"`
	WasteTypeIDs  []string `json:"waste_type_ids,omitempty"`
	ObservedBy    string   `json:"observed_by,omitempty"`
}

// ProcessStep is one node of the session's workflow map.
type ProcessStep struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Sequence    int    `json:"sequence,omitempty"`
}

// WasteType is one entry of the waste-type taxonomy catalog.
type WasteType struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// ThemeInput is a previously committed theme carried into the solutions
// stage. Only confirmed themes qualify.
type ThemeInput struct {
	ID                  string   `json:"id"`
	Name                string   `json:"name"`
	Summary             string   `json:"summary"`
	RootCauseHypotheses []string `json:"root_cause_hypotheses,omitempty"`
}

// SolutionCardInput is a previously committed solution card carried into the
// sequencing stage. Only accepted cards qualify.
type SolutionCardInput struct {
	ID              string   `json:"id"`
	Title           string   `json:"title"`
	Bucket          string   `json:"bucket,omitempty"`
	EffortLevel     string   `json:"effort_level,omitempty"`
	RecommendedWave int      `json:"recommended_wave,omitempty"`
	Dependencies    []string `json:"dependencies,omitempty"`
}

// InputSnapshot is the ephemeral, per-invocation view of everything a stage
// may reason over. It is assembled by the caller, fingerprinted by the
// orchestrator, and used to build both the prompt and the ID allowlists.
// Snapshots are never persisted; only their fingerprint survives in the
// run ledger.
type InputSnapshot struct {
	Observations  []Observation       `json:"observations,omitempty"`
	ProcessSteps  []ProcessStep       `json:"process_steps,omitempty"`
	WasteTypes    []WasteType         `json:"waste_types,omitempty"`
	Themes        []ThemeInput        `json:"themes,omitempty"`
	SolutionCards []SolutionCardInput `json:"solution_cards,omitempty"`
}
