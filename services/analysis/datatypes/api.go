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

import "encoding/json"

// RunStageRequest is the payload for POST /v1/sessions/:sessionID/stages/:stage/run.
// The snapshot carries every entity the stage may reason over; the core
// trusts the caller to have scoped it to the session.
type RunStageRequest struct {
	Snapshot   InputSnapshot `json:"snapshot" binding:"required"`
	ForceRerun bool          `json:"force_rerun"`
}

// RateLimitInfo is the structured limit metadata returned on every run
// response and on 429 denials so clients can schedule retries.
type RateLimitInfo struct {
	Limit        int `json:"limit"`
	Remaining    int `json:"remaining"`
	ResetSeconds int `json:"reset_seconds"`
}

// RunStageResponse is the result of a stage invocation. Output is the
// stage-shaped structured output (see engine stage types); Cached reports
// whether it was replayed from a prior succeeded run.
type RunStageResponse struct {
	RunID     string          `json:"run_id"`
	Stage     Stage           `json:"stage"`
	Cached    bool            `json:"cached"`
	Model     string          `json:"model,omitempty"`
	Provider  string          `json:"provider,omitempty"`
	Output    json.RawMessage `json:"output"`
	RateLimit *RateLimitInfo  `json:"rate_limit,omitempty"`
}

// UpdateStatusRequest is the payload for PATCH /v1/artifacts/:kind/:id/status.
// ExpectedRevision must be the revision the client last read; a mismatch is
// answered with 409 and the current revision.
type UpdateStatusRequest struct {
	NewStatus        ArtifactStatus `json:"new_status" binding:"required,artifactstatus"`
	ExpectedRevision int64          `json:"expected_revision" binding:"required,gt=0"`
}

// UpdateStatusResponse echoes the artifact identity with its post-update
// revision.
type UpdateStatusResponse struct {
	ID       string         `json:"id"`
	Kind     ArtifactKind   `json:"kind"`
	Status   ArtifactStatus `json:"status"`
	Revision int64          `json:"revision"`
}

// ConflictResponse is the distinct payload for optimistic-concurrency
// conflicts, deliberately separate from generic errors so clients can tell
// "reload and retry" apart from "give up".
type ConflictResponse struct {
	Error            string `json:"error"`
	CurrentRevision  int64  `json:"current_revision"`
	ExpectedRevision int64  `json:"expected_revision"`
}

// ArtifactsResponse is the result of GET /v1/sessions/:sessionID/artifacts/:stage.
// Exactly one of the slices is populated, matching the requested stage.
type ArtifactsResponse struct {
	SessionID     string               `json:"session_id"`
	Stage         Stage                `json:"stage"`
	Themes        []Theme              `json:"themes,omitempty"`
	SolutionCards []SolutionCard       `json:"solution_cards,omitempty"`
	Waves         []ImplementationWave `json:"waves,omitempty"`
}

// RunsResponse is the result of GET /v1/sessions/:sessionID/runs.
type RunsResponse struct {
	SessionID string      `json:"session_id"`
	Runs      []RunRecord `json:"runs"`
}
