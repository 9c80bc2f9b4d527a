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
	"encoding/json"
	"fmt"

	"github.com/gembaworks/gembaflow/services/analysis/datatypes"
)

// StageSpec is the pluggable per-stage strategy: input preconditions,
// prompt construction, and output decoding. The orchestrator is generic
// over stages; everything stage-shaped lives behind this interface.
type StageSpec interface {
	// Stage names the pipeline stage this spec implements.
	Stage() datatypes.Stage

	// CheckPreconditions rejects a snapshot that lacks the rows the stage
	// needs, before any ledger entry is created. Returns ErrEmptyInput
	// (wrapped) on rejection.
	CheckPreconditions(snap datatypes.InputSnapshot) error

	// BuildPrompt serializes the snapshot into the stage's reasoning prompt.
	BuildPrompt(snap datatypes.InputSnapshot) (string, error)

	// Decode validates raw provider JSON against the stage's output schema
	// and unmarshals it. Schema violations are provider failures.
	Decode(raw json.RawMessage) (StageOutput, error)
}

// StageFor returns the strategy for a stage, or ErrUnknownStage.
func StageFor(stage datatypes.Stage) (StageSpec, error) {
	switch stage {
	case datatypes.StageSynthesis:
		return synthesisStage{}, nil
	case datatypes.StageSolutions:
		return solutionsStage{}, nil
	case datatypes.StageSequencing:
		return sequencingStage{}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownStage, stage)
	}
}

// =============================================================================
// Synthesis
// =============================================================================

type synthesisStage struct{}

func (synthesisStage) Stage() datatypes.Stage { return datatypes.StageSynthesis }

func (synthesisStage) CheckPreconditions(snap datatypes.InputSnapshot) error {
	if len(snap.Observations) == 0 {
		return fmt.Errorf("%w: synthesis requires at least one observation", ErrEmptyInput)
	}
	return nil
}

func (synthesisStage) BuildPrompt(snap datatypes.InputSnapshot) (string, error) {
	ctx, err := json.Marshal(datatypes.InputSnapshot{
		Observations: snap.Observations,
		ProcessSteps: snap.ProcessSteps,
		WasteTypes:   snap.WasteTypes,
	})
	if err != nil {
		return "", fmt.Errorf("synthesis prompt: %w", err)
	}
	return "Cluster the workflow observations below into themes with root-cause hypotheses.\n" +
		"Reference entities strictly by the IDs given in the context.\n" +
		"Respond with JSON matching the synthesis output schema.\n\n" +
		"Context:\n" + string(ctx), nil
}

func (synthesisStage) Decode(raw json.RawMessage) (StageOutput, error) {
	if err := validateSchema(datatypes.StageSynthesis, raw); err != nil {
		return nil, err
	}
	var out SynthesisOutput
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("%w: decode synthesis output: %v", ErrProvider, err)
	}
	return &out, nil
}

// =============================================================================
// Solutions
// =============================================================================

type solutionsStage struct{}

func (solutionsStage) Stage() datatypes.Stage { return datatypes.StageSolutions }

func (solutionsStage) CheckPreconditions(snap datatypes.InputSnapshot) error {
	if len(snap.Themes) == 0 {
		return fmt.Errorf("%w: solutions requires at least one confirmed theme", ErrEmptyInput)
	}
	return nil
}

func (solutionsStage) BuildPrompt(snap datatypes.InputSnapshot) (string, error) {
	ctx, err := json.Marshal(datatypes.InputSnapshot{
		Themes:       snap.Themes,
		Observations: snap.Observations,
		ProcessSteps: snap.ProcessSteps,
	})
	if err != nil {
		return "", fmt.Errorf("solutions prompt: %w", err)
	}
	return "Propose solution cards addressing the confirmed themes below.\n" +
		"Reference entities strictly by the IDs given in the context.\n" +
		"Respond with JSON matching the solutions output schema.\n\n" +
		"Context:\n" + string(ctx), nil
}

func (solutionsStage) Decode(raw json.RawMessage) (StageOutput, error) {
	if err := validateSchema(datatypes.StageSolutions, raw); err != nil {
		return nil, err
	}
	var out SolutionsOutput
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("%w: decode solutions output: %v", ErrProvider, err)
	}
	return &out, nil
}

// =============================================================================
// Sequencing
// =============================================================================

type sequencingStage struct{}

func (sequencingStage) Stage() datatypes.Stage { return datatypes.StageSequencing }

func (sequencingStage) CheckPreconditions(snap datatypes.InputSnapshot) error {
	if len(snap.SolutionCards) == 0 {
		return fmt.Errorf("%w: sequencing requires at least one accepted solution card", ErrEmptyInput)
	}
	return nil
}

func (sequencingStage) BuildPrompt(snap datatypes.InputSnapshot) (string, error) {
	ctx, err := json.Marshal(datatypes.InputSnapshot{
		SolutionCards: snap.SolutionCards,
	})
	if err != nil {
		return "", fmt.Errorf("sequencing prompt: %w", err)
	}
	return "Group the accepted solution cards below into ordered implementation waves\n" +
		"with dependency edges between items.\n" +
		"Reference cards strictly by the IDs given in the context.\n" +
		"Respond with JSON matching the sequencing output schema.\n\n" +
		"Context:\n" + string(ctx), nil
}

func (sequencingStage) Decode(raw json.RawMessage) (StageOutput, error) {
	if err := validateSchema(datatypes.StageSequencing, raw); err != nil {
		return nil, err
	}
	var out SequencingOutput
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("%w: decode sequencing output: %v", ErrProvider, err)
	}
	return &out, nil
}
