// Copyright (C) 2026 GembaWorks (oss@gembaworks.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package handlers contains the Gin handlers for the analysis service.
// Handlers are thin: they bind and validate requests, resolve identity,
// call the orchestrator, and translate engine errors to HTTP signals.
package handlers

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/gembaworks/gembaflow/services/analysis/datatypes"
	"github.com/gembaworks/gembaflow/services/analysis/engine"
	"github.com/gembaworks/gembaflow/services/analysis/middleware"
)

// RunStage handles POST /v1/sessions/:sessionId/stages/:stage/run.
func RunStage(orc *engine.Orchestrator) gin.HandlerFunc {
	return func(c *gin.Context) {
		sessionID := c.Param("sessionId")
		stage := datatypes.Stage(c.Param("stage"))
		if !datatypes.ValidStage(stage) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "unknown stage: " + string(stage)})
			return
		}

		userID, ok := middleware.UserID(c)
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "identity not resolved"})
			return
		}

		var req datatypes.RunStageRequest
		if err := c.BindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
			return
		}

		res, err := orc.RunStage(c.Request.Context(), stage, sessionID, userID, req.Snapshot, req.ForceRerun)
		if err != nil {
			writeRunError(c, stage, err)
			return
		}

		resp := datatypes.RunStageResponse{
			RunID:     res.RunID,
			Stage:     res.Stage,
			Cached:    res.Cached,
			Model:     res.Model,
			Provider:  res.Provider,
			Output:    res.Output,
			RateLimit: res.RateLimit,
		}
		if res.RateLimit != nil {
			setRateHeaders(c, res.RateLimit.Limit, res.RateLimit.Remaining, res.RateLimit.ResetSeconds)
		}
		c.JSON(http.StatusOK, resp)
	}
}

// ListRuns handles GET /v1/sessions/:sessionId/runs.
func ListRuns(orc *engine.Orchestrator) gin.HandlerFunc {
	return func(c *gin.Context) {
		sessionID := c.Param("sessionId")

		runs, err := orc.ListRuns(c.Request.Context(), sessionID)
		if err != nil {
			slog.Error("Failed to list runs", "session_id", sessionID, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list runs"})
			return
		}
		c.JSON(http.StatusOK, datatypes.RunsResponse{SessionID: sessionID, Runs: runs})
	}
}

// writeRunError maps engine failures onto the HTTP error taxonomy:
// precondition and unknown-stage failures are the caller's to fix, quota
// denials carry retry metadata, provider failures are retryable upstream
// errors.
func writeRunError(c *gin.Context, stage datatypes.Stage, err error) {
	var rateErr *engine.RateLimitError
	switch {
	case errors.Is(err, engine.ErrUnknownStage):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})

	case errors.Is(err, engine.ErrEmptyInput):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})

	case errors.As(err, &rateErr):
		setRateHeaders(c, rateErr.Limit, rateErr.Remaining, rateErr.ResetSeconds)
		c.JSON(http.StatusTooManyRequests, gin.H{
			"error": err.Error(),
			"rate_limit": datatypes.RateLimitInfo{
				Limit:        rateErr.Limit,
				Remaining:    rateErr.Remaining,
				ResetSeconds: rateErr.ResetSeconds,
			},
		})

	case errors.Is(err, engine.ErrProvider):
		slog.Error("Stage run failed at reasoning provider", "stage", stage, "error", err)
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})

	default:
		slog.Error("Stage run failed", "stage", stage, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "stage run failed"})
	}
}

func setRateHeaders(c *gin.Context, limit, remaining, reset int) {
	c.Header("X-RateLimit-Limit", strconv.Itoa(limit))
	c.Header("X-RateLimit-Remaining", strconv.Itoa(remaining))
	c.Header("X-RateLimit-Reset", strconv.Itoa(reset))
}
