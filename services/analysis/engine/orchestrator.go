// Copyright (C) 2026 GembaWorks (oss@gembaworks.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package engine implements the analysis-agent orchestration core: the run
// orchestrator, input fingerprinting and cache lookup, the ID-allowlist
// output validator, the replace-and-persist writer, and the per-user rate
// limiter.
//
// # Description
//
// One Orchestrator composes the whole pipeline behind a single entry point,
// RunStage. Stage-specific behavior (input preconditions, prompt building,
// output decoding) is pluggable via StageSpec, so the three pipeline stages
// share one orchestration path instead of three copies of it.
//
// # Concurrency
//
// RunStage is invoked by independent, stateless request handlers; there is
// no in-process run queue. "One committed artifact set per session and
// stage" is enforced by the writer's delete-then-insert transaction at the
// storage layer. Concurrent invocations of the same stage for the same
// session are possible and tolerated: each proceeds independently and the
// last commit wins. Invocation is rate-limited and user-gated, so this is
// not a hot path.
package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/gembaworks/gembaflow/services/analysis/cache"
	"github.com/gembaworks/gembaflow/services/analysis/datatypes"
	"github.com/gembaworks/gembaflow/services/analysis/observability"
	"github.com/gembaworks/gembaflow/services/analysis/store"
	"github.com/gembaworks/gembaflow/services/reasoning"
)

// RunResult is the outcome of one RunStage call.
type RunResult struct {
	RunID    string
	Stage    datatypes.Stage
	Cached   bool
	Model    string
	Provider string

	// Output is the validated, committed structured output as JSON.
	Output json.RawMessage

	// RateLimit reports the caller's remaining quota. Nil on cache hits,
	// which do not consume quota.
	RateLimit *datatypes.RateLimitInfo
}

// Orchestrator composes fingerprinting, cache lookup, provider invocation,
// output validation, and the replace-and-persist commit into one operation
// per stage invocation. All dependencies are injected; there are no
// process-wide singletons, so each test can run against its own stores.
type Orchestrator struct {
	store    *store.Store
	cache    *cache.OutputCache
	provider reasoning.Provider
	writer   *Writer
	limiter  *RateLimiter
	policies map[datatypes.Stage]RatePolicy
}

// NewOrchestrator wires the orchestration core. policies may be nil or
// partial; missing stages fall back to DefaultRatePolicy.
func NewOrchestrator(s *store.Store, c *cache.OutputCache, p reasoning.Provider,
	policies map[datatypes.Stage]RatePolicy) *Orchestrator {
	return &Orchestrator{
		store:    s,
		cache:    c,
		provider: p,
		writer:   NewWriter(s),
		limiter:  NewRateLimiter(),
		policies: policies,
	}
}

func (o *Orchestrator) policyFor(stage datatypes.Stage) RatePolicy {
	if p, ok := o.policies[stage]; ok {
		return p
	}
	return DefaultRatePolicy()
}

// RunStage executes one agent pipeline stage for a session.
//
// # Description
//
// The call fingerprints the input snapshot and, unless forceRerun is set,
// replays the stored output of the most recent succeeded run with the same
// fingerprint. On a miss it checks the caller's rate quota, appends a
// pending ledger entry, invokes the reasoning provider, validates the
// output structurally (JSON Schema) and referentially (ID allowlists built
// from the snapshot), commits the filtered artifact set through the
// replace-and-persist writer, stores the output blob, and finalizes the
// ledger entry. After a successful return exactly one committed artifact
// set exists for the session and stage.
//
// # Inputs
//
//   - ctx: Cancels the provider call and storage operations.
//   - stage: Pipeline stage to run.
//   - sessionID: Owning session; scopes artifacts and the cache lookup.
//   - userID: Authenticated curator; recorded as artifact creator and used
//     as the rate-limit key.
//   - snap: Full entity set the stage may reason over.
//   - forceRerun: Skip the cache lookup and invoke the provider afresh.
//
// # Outputs
//
//   - *RunResult: Output, cache disposition, ledger ID, model identity.
//   - error: ErrUnknownStage, ErrEmptyInput (precondition, no ledger entry
//     created), *RateLimitError, or ErrProvider-wrapped failures (ledger
//     entry marked failed, no writer effects).
func (o *Orchestrator) RunStage(ctx context.Context, stage datatypes.Stage, sessionID, userID string,
	snap datatypes.InputSnapshot, forceRerun bool) (*RunResult, error) {

	spec, err := StageFor(stage)
	if err != nil {
		return nil, err
	}

	if err := spec.CheckPreconditions(snap); err != nil {
		observability.RecordRun(string(stage), "precondition", false, 0)
		return nil, err
	}

	fp, err := Fingerprint(stage, sessionID, snap)
	if err != nil {
		return nil, err
	}

	if !forceRerun {
		if res, ok := o.lookupCached(ctx, stage, sessionID, fp); ok {
			return res, nil
		}
	}

	policy := o.policyFor(stage)
	allowed, remaining, reset := o.limiter.Allow(userID, stage, policy)
	if !allowed {
		observability.RecordRateLimitDenied(string(stage))
		return nil, &RateLimitError{Limit: policy.Limit, Remaining: remaining, ResetSeconds: reset}
	}
	rateInfo := &datatypes.RateLimitInfo{Limit: policy.Limit, Remaining: remaining, ResetSeconds: reset}

	runID := ulid.Make().String()
	started := time.Now()
	if err := o.store.CreateRun(ctx, datatypes.RunRecord{
		ID:          runID,
		SessionID:   sessionID,
		Stage:       stage,
		Fingerprint: fp,
		CreatedAt:   started,
	}); err != nil {
		return nil, fmt.Errorf("append run ledger: %w", err)
	}

	slog.Info("Starting agent stage run",
		"run_id", runID, "stage", stage, "session_id", sessionID, "fingerprint", fp[:12])

	output, meta, err := o.invoke(ctx, spec, snap)
	if err != nil {
		o.finalize(ctx, runID, datatypes.RunFailed, meta, err.Error())
		observability.RecordRun(string(stage), "failed", false, time.Since(started))
		return nil, err
	}

	report := Validate(output, BuildAllowlists(snap))
	for _, item := range report.Items {
		for refType, count := range item.Dropped {
			observability.RecordDroppedRefs(string(stage), refType, count)
		}
	}

	written, err := o.writer.Commit(ctx, sessionID, userID, runID, output)
	if err != nil {
		o.finalize(ctx, runID, datatypes.RunFailed, meta, err.Error())
		observability.RecordRun(string(stage), "failed", false, time.Since(started))
		return nil, fmt.Errorf("commit artifacts: %w", err)
	}
	observability.RecordArtifactsWritten(string(stage), written)

	blob, err := json.Marshal(output)
	if err != nil {
		// Artifacts are committed; a lost blob only costs a future cache hit.
		slog.Warn("Failed to serialize run output for cache", "run_id", runID, "error", err)
	} else if err := o.cache.PutOutput(runID, blob); err != nil {
		slog.Warn("Failed to cache run output", "run_id", runID, "error", err)
	}

	o.finalize(ctx, runID, datatypes.RunSucceeded, meta, "")
	observability.RecordRun(string(stage), "succeeded", false, time.Since(started))

	slog.Info("Agent stage run committed",
		"run_id", runID, "stage", stage, "session_id", sessionID,
		"artifacts", written, "dropped_refs", report.Total,
		"duration", time.Since(started).String())

	return &RunResult{
		RunID:     runID,
		Stage:     stage,
		Cached:    false,
		Model:     meta.Model,
		Provider:  meta.Provider,
		Output:    blob,
		RateLimit: rateInfo,
	}, nil
}

// lookupCached resolves fingerprint -> succeeded ledger row -> output blob.
// A ledger hit whose blob is gone falls through to a fresh run rather than
// failing the invocation.
func (o *Orchestrator) lookupCached(ctx context.Context, stage datatypes.Stage, sessionID, fp string) (*RunResult, bool) {
	rec, err := o.store.FindSucceededRun(ctx, sessionID, stage, fp)
	if errors.Is(err, store.ErrNotFound) {
		return nil, false
	}
	if err != nil {
		slog.Warn("Cache lookup failed, treating as miss", "stage", stage, "error", err)
		return nil, false
	}

	blob, err := o.cache.GetOutput(rec.ID)
	if err != nil {
		slog.Warn("Succeeded run has no cached output, treating as miss",
			"run_id", rec.ID, "error", err)
		return nil, false
	}

	observability.RecordRun(string(stage), "succeeded", true, 0)
	slog.Info("Replaying cached agent stage run",
		"run_id", rec.ID, "stage", stage, "session_id", sessionID)

	return &RunResult{
		RunID:    rec.ID,
		Stage:    stage,
		Cached:   true,
		Model:    rec.Model,
		Provider: rec.Provider,
		Output:   blob,
	}, true
}

// invoke builds the stage prompt, calls the provider, and decodes the
// structured output. Every failure along this path is a provider-class
// error: the caller marks the ledger entry failed and surfaces it.
func (o *Orchestrator) invoke(ctx context.Context, spec StageSpec, snap datatypes.InputSnapshot) (StageOutput, reasoning.Meta, error) {
	prompt, err := spec.BuildPrompt(snap)
	if err != nil {
		return nil, reasoning.Meta{}, fmt.Errorf("%w: %v", ErrProvider, err)
	}

	callStart := time.Now()
	raw, meta, err := o.provider.Complete(ctx, prompt)
	observability.RecordProviderCall(meta.Provider, string(spec.Stage()), time.Since(callStart))
	if err != nil {
		return nil, meta, fmt.Errorf("%w: %v", ErrProvider, err)
	}

	output, err := spec.Decode(raw)
	if err != nil {
		return nil, meta, err
	}
	return output, meta, nil
}

// finalize moves the ledger entry to its terminal status. Ledger failures
// here are logged, not surfaced: the artifact commit already succeeded or
// failed on its own terms.
func (o *Orchestrator) finalize(ctx context.Context, runID string, status datatypes.RunStatus, meta reasoning.Meta, errMsg string) {
	if err := o.store.FinalizeRun(ctx, runID, status, meta.Model, meta.Provider, errMsg); err != nil {
		slog.Error("Failed to finalize run ledger entry",
			"run_id", runID, "status", status, "error", err)
	}
}

// =============================================================================
// Artifact surface
// =============================================================================

// GetArtifacts returns the session's committed artifact set for a stage.
func (o *Orchestrator) GetArtifacts(ctx context.Context, sessionID string, stage datatypes.Stage) (datatypes.ArtifactsResponse, error) {
	resp := datatypes.ArtifactsResponse{SessionID: sessionID, Stage: stage}
	var err error

	switch stage {
	case datatypes.StageSynthesis:
		resp.Themes, err = o.store.GetThemes(ctx, sessionID)
	case datatypes.StageSolutions:
		resp.SolutionCards, err = o.store.GetSolutionCards(ctx, sessionID)
	case datatypes.StageSequencing:
		resp.Waves, err = o.store.GetWaves(ctx, sessionID)
	default:
		return resp, fmt.Errorf("%w: %q", ErrUnknownStage, stage)
	}
	return resp, err
}

// UpdateArtifactStatus applies a curator status change through the state
// machine and the optimistic concurrency guard. A *store.ConflictError is
// returned unwrapped so callers can surface the distinct conflict signal.
func (o *Orchestrator) UpdateArtifactStatus(ctx context.Context, kind datatypes.ArtifactKind,
	artifactID string, expectedRevision int64, newStatus datatypes.ArtifactStatus) (int64, error) {

	rev, err := o.store.UpdateStatusWithRevision(ctx, kind, artifactID, expectedRevision, newStatus)
	var conflict *store.ConflictError
	if errors.As(err, &conflict) {
		observability.RecordRevisionConflict(string(kind))
	}
	return rev, err
}

// ListRuns returns the session's run ledger, newest first.
func (o *Orchestrator) ListRuns(ctx context.Context, sessionID string) ([]datatypes.RunRecord, error) {
	return o.store.ListRuns(ctx, sessionID)
}
