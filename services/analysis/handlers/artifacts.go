// Copyright (C) 2026 GembaWorks (oss@gembaworks.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package handlers

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/gembaworks/gembaflow/services/analysis/datatypes"
	"github.com/gembaworks/gembaflow/services/analysis/engine"
	"github.com/gembaworks/gembaflow/services/analysis/store"
)

// GetArtifacts handles GET /v1/sessions/:sessionId/artifacts/:stage.
func GetArtifacts(orc *engine.Orchestrator) gin.HandlerFunc {
	return func(c *gin.Context) {
		sessionID := c.Param("sessionId")
		stage := datatypes.Stage(c.Param("stage"))
		if !datatypes.ValidStage(stage) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "unknown stage: " + string(stage)})
			return
		}

		resp, err := orc.GetArtifacts(c.Request.Context(), sessionID, stage)
		if err != nil {
			slog.Error("Failed to load artifacts",
				"session_id", sessionID, "stage", stage, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load artifacts"})
			return
		}
		c.JSON(http.StatusOK, resp)
	}
}

// UpdateArtifactStatus handles PATCH /v1/artifacts/:kind/:id/status.
//
// A revision mismatch answers 409 with the current revision — the distinct
// "modified by someone else, please reload" signal — while state machine
// violations answer 422 and missing artifacts 404.
func UpdateArtifactStatus(orc *engine.Orchestrator) gin.HandlerFunc {
	return func(c *gin.Context) {
		kind := datatypes.ArtifactKind(c.Param("kind"))
		if !datatypes.ValidKind(kind) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "unknown artifact kind: " + string(kind)})
			return
		}
		artifactID := c.Param("id")

		var req datatypes.UpdateStatusRequest
		if err := c.BindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
			return
		}

		rev, err := orc.UpdateArtifactStatus(c.Request.Context(), kind, artifactID,
			req.ExpectedRevision, req.NewStatus)
		if err != nil {
			writeStatusError(c, req.ExpectedRevision, err)
			return
		}

		c.JSON(http.StatusOK, datatypes.UpdateStatusResponse{
			ID:       artifactID,
			Kind:     kind,
			Status:   req.NewStatus,
			Revision: rev,
		})
	}
}

func writeStatusError(c *gin.Context, expectedRevision int64, err error) {
	var conflict *store.ConflictError
	switch {
	case errors.As(err, &conflict):
		c.JSON(http.StatusConflict, datatypes.ConflictResponse{
			Error:            "artifact was modified by someone else, please reload",
			CurrentRevision:  conflict.CurrentRevision,
			ExpectedRevision: expectedRevision,
		})

	case errors.Is(err, store.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "artifact not found"})

	case errors.Is(err, store.ErrIllegalTransition):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})

	default:
		slog.Error("Failed to update artifact status", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to update artifact status"})
	}
}
