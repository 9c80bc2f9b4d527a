// Copyright (C) 2026 GembaWorks (oss@gembaworks.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package datatypes defines the shared data model for the analysis service.
//
// It contains the agent-produced artifact types (themes, solution cards,
// implementation waves), the run ledger record, and the request/response
// payloads exposed by the HTTP surface. Types here carry no behavior beyond
// small enum helpers; persistence lives in the store package and business
// rules in the engine package.
package datatypes

import "time"

// =============================================================================
// Stage Enum
// =============================================================================

// Stage identifies one agent pipeline stage.
type Stage string

const (
	// StageSynthesis turns observations into themes.
	StageSynthesis Stage = "synthesis"

	// StageSolutions turns confirmed themes into solution cards.
	StageSolutions Stage = "solutions"

	// StageSequencing groups accepted solution cards into implementation waves.
	StageSequencing Stage = "sequencing"
)

// ValidStage reports whether s names a known pipeline stage.
func ValidStage(s Stage) bool {
	switch s {
	case StageSynthesis, StageSolutions, StageSequencing:
		return true
	}
	return false
}

// Stages lists all pipeline stages in execution order.
func Stages() []Stage {
	return []Stage{StageSynthesis, StageSolutions, StageSequencing}
}

// =============================================================================
// Artifact Status
// =============================================================================

// ArtifactStatus is the curation state of a persisted artifact.
// Every artifact is created as draft by the writer; only curator actions
// move it through the state machine.
type ArtifactStatus string

const (
	StatusDraft     ArtifactStatus = "draft"
	StatusConfirmed ArtifactStatus = "confirmed"
	StatusAccepted  ArtifactStatus = "accepted"
	StatusRejected  ArtifactStatus = "rejected"
)

// ArtifactKind identifies which artifact table a curator update targets.
type ArtifactKind string

const (
	KindTheme        ArtifactKind = "theme"
	KindSolutionCard ArtifactKind = "solution_card"
	KindWave         ArtifactKind = "wave"
)

// ValidKind reports whether k names a known artifact kind.
func ValidKind(k ArtifactKind) bool {
	switch k {
	case KindTheme, KindSolutionCard, KindWave:
		return true
	}
	return false
}

// =============================================================================
// Run Ledger
// =============================================================================

// RunStatus is the lifecycle state of a run ledger entry.
type RunStatus string

const (
	RunPending   RunStatus = "pending"
	RunSucceeded RunStatus = "succeeded"
	RunFailed    RunStatus = "failed"
)

// RunRecord is one appended ledger entry per invocation attempt.
//
// A record is created in pending status before the reasoning provider is
// called and finalized exactly once to succeeded or failed. Records are
// never reused or mutated after finalization.
type RunRecord struct {
	ID          string     `json:"id"`
	SessionID   string     `json:"session_id"`
	Stage       Stage      `json:"stage"`
	Status      RunStatus  `json:"status"`
	Fingerprint string     `json:"fingerprint"`
	Model       string     `json:"model,omitempty"`
	Provider    string     `json:"provider,omitempty"`
	Error       string     `json:"error,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// =============================================================================
// Artifacts
// =============================================================================

// Theme is a synthesis-stage artifact: a cluster of observations that share
// a hypothesized root cause. Links reference entities from the input
// snapshot that produced the theme, never global storage.
type Theme struct {
	ID                  string         `json:"id"`
	SessionID           string         `json:"session_id"`
	Name                string         `json:"name"`
	Summary             string         `json:"summary"`
	Confidence          float64        `json:"confidence"`
	RootCauseHypotheses []string       `json:"root_cause_hypotheses"`
	Status              ArtifactStatus `json:"status"`
	CreatedBy           string         `json:"created_by"`
	Revision            int64          `json:"revision"`
	RunID               string         `json:"run_id"`
	ObservationIDs      []string       `json:"observation_ids"`
	ProcessStepIDs      []string       `json:"process_step_ids"`
	WasteTypeIDs        []string       `json:"waste_type_ids"`
	CreatedAt           time.Time      `json:"created_at"`
	UpdatedAt           time.Time      `json:"updated_at"`
}

// SolutionCard is a solutions-stage artifact: one proposed intervention.
type SolutionCard struct {
	ID              string         `json:"id"`
	SessionID       string         `json:"session_id"`
	Bucket          string         `json:"bucket"`
	Title           string         `json:"title"`
	Description     string         `json:"description"`
	ExpectedImpact  string         `json:"expected_impact"`
	EffortLevel     string         `json:"effort_level"`
	Risks           []string       `json:"risks"`
	Dependencies    []string       `json:"dependencies"`
	RecommendedWave int            `json:"recommended_wave"`
	Status          ArtifactStatus `json:"status"`
	CreatedBy       string         `json:"created_by"`
	Revision        int64          `json:"revision"`
	RunID           string         `json:"run_id"`
	ThemeIDs        []string       `json:"theme_ids"`
	ProcessStepIDs  []string       `json:"process_step_ids"`
	ObservationIDs  []string       `json:"observation_ids"`
	CreatedAt       time.Time      `json:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at"`
}

// ImplementationWave is a sequencing-stage artifact: an ordered group of
// accepted solution cards scheduled together.
type ImplementationWave struct {
	ID        string               `json:"id"`
	SessionID string               `json:"session_id"`
	Sequence  int                  `json:"sequence"`
	Name      string               `json:"name"`
	Objective string               `json:"objective"`
	Status    ArtifactStatus       `json:"status"`
	CreatedBy string               `json:"created_by"`
	Revision  int64                `json:"revision"`
	RunID     string               `json:"run_id"`
	Items     []ImplementationItem `json:"items"`
	CreatedAt time.Time            `json:"created_at"`
	UpdatedAt time.Time            `json:"updated_at"`
}

// ImplementationItem places one solution card inside a wave. DependsOn
// lists solution card IDs that must land first; edges may cross waves.
type ImplementationItem struct {
	ID             string   `json:"id"`
	WaveID         string   `json:"wave_id"`
	SolutionCardID string   `json:"solution_card_id"`
	Position       int      `json:"position"`
	Notes          string   `json:"notes,omitempty"`
	DependsOn      []string `json:"depends_on,omitempty"`
}
