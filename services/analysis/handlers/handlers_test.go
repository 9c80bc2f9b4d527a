// Copyright (C) 2026 GembaWorks (oss@gembaworks.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gembaworks/gembaflow/services/analysis/cache"
	"github.com/gembaworks/gembaflow/services/analysis/datatypes"
	"github.com/gembaworks/gembaflow/services/analysis/engine"
	"github.com/gembaworks/gembaflow/services/analysis/middleware"
	"github.com/gembaworks/gembaflow/services/analysis/store"
	"github.com/gembaworks/gembaflow/services/reasoning"
)

// ============================================================================
// Test Setup
// ============================================================================

func init() {
	gin.SetMode(gin.TestMode)
}

// stubProvider returns canned JSON for every completion.
type stubProvider struct {
	response json.RawMessage
}

func (p *stubProvider) Complete(_ context.Context, _ string) (json.RawMessage, reasoning.Meta, error) {
	return p.response, reasoning.Meta{Model: "stub-model", Provider: "stub"}, nil
}

type testEnv struct {
	router   *gin.Engine
	store    *store.Store
	provider *stubProvider
}

func newTestEnv(t *testing.T, policies map[datatypes.Stage]engine.RatePolicy) *testEnv {
	t.Helper()

	s, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	c, err := cache.Open(cache.InMemoryConfig())
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })

	provider := &stubProvider{response: json.RawMessage(`{
		"themes": [{"name": "Handoff delays", "summary": "s", "observation_ids": ["obs-1"]}]
	}`)}

	orc := engine.NewOrchestrator(s, c, provider, policies)

	router := gin.New()
	v1 := router.Group("/v1")
	v1.Use(middleware.RequireIdentity())
	v1.POST("/sessions/:sessionId/stages/:stage/run", RunStage(orc))
	v1.GET("/sessions/:sessionId/artifacts/:stage", GetArtifacts(orc))
	v1.GET("/sessions/:sessionId/runs", ListRuns(orc))
	v1.PATCH("/artifacts/:kind/:id/status", UpdateArtifactStatus(orc))

	return &testEnv{router: router, store: s, provider: provider}
}

func (e *testEnv) do(method, path, userID string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req, _ := http.NewRequest(method, path, &buf)
	if userID != "" {
		req.Header.Set(middleware.HeaderUserID, userID)
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func runRequest() datatypes.RunStageRequest {
	return datatypes.RunStageRequest{
		Snapshot: datatypes.InputSnapshot{
			Observations: []datatypes.Observation{{ID: "obs-1", Text: "waiting on approvals"}},
		},
	}
}

// ============================================================================
// RunStage Tests
// ============================================================================

func TestRunStage_RequiresIdentity(t *testing.T) {
	env := newTestEnv(t, nil)

	w := env.do("POST", "/v1/sessions/s-1/stages/synthesis/run", "", runRequest())
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestRunStage_UnknownStage(t *testing.T) {
	env := newTestEnv(t, nil)

	w := env.do("POST", "/v1/sessions/s-1/stages/deploy/run", "user-1", runRequest())
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "unknown stage")
}

func TestRunStage_EmptyInput(t *testing.T) {
	env := newTestEnv(t, nil)

	w := env.do("POST", "/v1/sessions/s-1/stages/synthesis/run", "user-1",
		datatypes.RunStageRequest{})
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
}

func TestRunStage_Success(t *testing.T) {
	env := newTestEnv(t, nil)

	w := env.do("POST", "/v1/sessions/s-1/stages/synthesis/run", "user-1", runRequest())
	require.Equal(t, http.StatusOK, w.Code)

	var resp datatypes.RunStageResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp.RunID)
	assert.False(t, resp.Cached)
	assert.Equal(t, "stub-model", resp.Model)
	require.NotNil(t, resp.RateLimit)

	assert.NotEmpty(t, w.Header().Get("X-RateLimit-Limit"))
	assert.NotEmpty(t, w.Header().Get("X-RateLimit-Remaining"))
	assert.NotEmpty(t, w.Header().Get("X-RateLimit-Reset"))
}

func TestRunStage_CachedReplay(t *testing.T) {
	env := newTestEnv(t, nil)

	first := env.do("POST", "/v1/sessions/s-1/stages/synthesis/run", "user-1", runRequest())
	require.Equal(t, http.StatusOK, first.Code)

	second := env.do("POST", "/v1/sessions/s-1/stages/synthesis/run", "user-1", runRequest())
	require.Equal(t, http.StatusOK, second.Code)

	var resp datatypes.RunStageResponse
	require.NoError(t, json.Unmarshal(second.Body.Bytes(), &resp))
	assert.True(t, resp.Cached)
	assert.Nil(t, resp.RateLimit)
}

func TestRunStage_RateLimited(t *testing.T) {
	env := newTestEnv(t, map[datatypes.Stage]engine.RatePolicy{
		datatypes.StageSynthesis: {Limit: 1, Window: time.Minute},
	})

	first := env.do("POST", "/v1/sessions/s-1/stages/synthesis/run", "user-1", runRequest())
	require.Equal(t, http.StatusOK, first.Code)

	req := runRequest()
	req.ForceRerun = true
	second := env.do("POST", "/v1/sessions/s-1/stages/synthesis/run", "user-1", req)
	assert.Equal(t, http.StatusTooManyRequests, second.Code)
	assert.Equal(t, "1", second.Header().Get("X-RateLimit-Limit"))
	assert.Equal(t, "0", second.Header().Get("X-RateLimit-Remaining"))
	assert.NotEmpty(t, second.Header().Get("X-RateLimit-Reset"))
	assert.Contains(t, second.Body.String(), "rate_limit")
}

// ============================================================================
// Artifact Tests
// ============================================================================

// seedThemes runs synthesis once and returns the committed themes.
func seedThemes(t *testing.T, env *testEnv) []datatypes.Theme {
	t.Helper()
	w := env.do("POST", "/v1/sessions/s-1/stages/synthesis/run", "user-1", runRequest())
	require.Equal(t, http.StatusOK, w.Code)

	themes, err := env.store.GetThemes(context.Background(), "s-1")
	require.NoError(t, err)
	require.NotEmpty(t, themes)
	return themes
}

func TestGetArtifacts(t *testing.T) {
	env := newTestEnv(t, nil)
	seedThemes(t, env)

	w := env.do("GET", "/v1/sessions/s-1/artifacts/synthesis", "user-1", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp datatypes.ArtifactsResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "s-1", resp.SessionID)
	require.Len(t, resp.Themes, 1)
	assert.Equal(t, datatypes.StatusDraft, resp.Themes[0].Status)
}

func TestGetArtifacts_UnknownStage(t *testing.T) {
	env := newTestEnv(t, nil)

	w := env.do("GET", "/v1/sessions/s-1/artifacts/retro", "user-1", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestUpdateArtifactStatus_Success(t *testing.T) {
	env := newTestEnv(t, nil)
	themes := seedThemes(t, env)

	w := env.do("PATCH", "/v1/artifacts/theme/"+themes[0].ID+"/status", "user-1",
		datatypes.UpdateStatusRequest{NewStatus: datatypes.StatusConfirmed, ExpectedRevision: 1})
	require.Equal(t, http.StatusOK, w.Code)

	var resp datatypes.UpdateStatusResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, int64(2), resp.Revision)
	assert.Equal(t, datatypes.StatusConfirmed, resp.Status)
}

func TestUpdateArtifactStatus_Conflict(t *testing.T) {
	env := newTestEnv(t, nil)
	themes := seedThemes(t, env)

	first := env.do("PATCH", "/v1/artifacts/theme/"+themes[0].ID+"/status", "user-1",
		datatypes.UpdateStatusRequest{NewStatus: datatypes.StatusConfirmed, ExpectedRevision: 1})
	require.Equal(t, http.StatusOK, first.Code)

	stale := env.do("PATCH", "/v1/artifacts/theme/"+themes[0].ID+"/status", "user-2",
		datatypes.UpdateStatusRequest{NewStatus: datatypes.StatusRejected, ExpectedRevision: 1})
	require.Equal(t, http.StatusConflict, stale.Code)

	var resp datatypes.ConflictResponse
	require.NoError(t, json.Unmarshal(stale.Body.Bytes(), &resp))
	assert.Equal(t, int64(2), resp.CurrentRevision)
	assert.Equal(t, int64(1), resp.ExpectedRevision)
	assert.Contains(t, resp.Error, "modified by someone else")
}

func TestUpdateArtifactStatus_IllegalTransition(t *testing.T) {
	env := newTestEnv(t, nil)
	themes := seedThemes(t, env)

	w := env.do("PATCH", "/v1/artifacts/theme/"+themes[0].ID+"/status", "user-1",
		datatypes.UpdateStatusRequest{NewStatus: datatypes.StatusAccepted, ExpectedRevision: 1})
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
}

func TestUpdateArtifactStatus_NotFound(t *testing.T) {
	env := newTestEnv(t, nil)

	w := env.do("PATCH", "/v1/artifacts/theme/missing/status", "user-1",
		datatypes.UpdateStatusRequest{NewStatus: datatypes.StatusConfirmed, ExpectedRevision: 1})
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestUpdateArtifactStatus_UnknownKind(t *testing.T) {
	env := newTestEnv(t, nil)

	w := env.do("PATCH", "/v1/artifacts/observation/some-id/status", "user-1",
		datatypes.UpdateStatusRequest{NewStatus: datatypes.StatusConfirmed, ExpectedRevision: 1})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestUpdateArtifactStatus_BogusStatusRejectedAtBind(t *testing.T) {
	env := newTestEnv(t, nil)
	themes := seedThemes(t, env)

	w := env.do("PATCH", "/v1/artifacts/theme/"+themes[0].ID+"/status", "user-1",
		map[string]any{"new_status": "archived", "expected_revision": 1})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestUpdateArtifactStatus_MissingRevision(t *testing.T) {
	env := newTestEnv(t, nil)
	themes := seedThemes(t, env)

	w := env.do("PATCH", "/v1/artifacts/theme/"+themes[0].ID+"/status", "user-1",
		map[string]any{"new_status": "confirmed"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

// ============================================================================
// Runs Tests
// ============================================================================

func TestListRuns(t *testing.T) {
	env := newTestEnv(t, nil)
	seedThemes(t, env)

	w := env.do("GET", "/v1/sessions/s-1/runs", "user-1", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp datatypes.RunsResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Runs, 1)
	assert.Equal(t, datatypes.RunSucceeded, resp.Runs[0].Status)
}

func TestListRuns_EmptySession(t *testing.T) {
	env := newTestEnv(t, nil)

	w := env.do("GET", "/v1/sessions/empty/runs", "user-1", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp datatypes.RunsResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Empty(t, resp.Runs)
}
