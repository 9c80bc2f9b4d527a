// Copyright (C) 2026 GembaWorks (oss@gembaworks.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package routes

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/gembaworks/gembaflow/services/analysis/engine"
	"github.com/gembaworks/gembaflow/services/analysis/handlers"
	"github.com/gembaworks/gembaflow/services/analysis/middleware"
)

func SetupRoutes(router *gin.Engine, orc *engine.Orchestrator) {

	router.GET("/health", handlers.HealthCheck)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// API version 1 group. Everything under it acts on behalf of a user, so
	// identity is required across the board.
	v1 := router.Group("/v1")
	v1.Use(middleware.RequireIdentity())
	{
		sessions := v1.Group("/sessions")
		{
			sessions.POST("/:sessionId/stages/:stage/run", handlers.RunStage(orc))
			sessions.GET("/:sessionId/artifacts/:stage", handlers.GetArtifacts(orc))
			sessions.GET("/:sessionId/runs", handlers.ListRuns(orc))
		}
		artifacts := v1.Group("/artifacts")
		{
			artifacts.PATCH("/:kind/:id/status", handlers.UpdateArtifactStatus(orc))
		}
	}
}
