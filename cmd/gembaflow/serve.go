// Copyright (C) 2026 GembaWorks (oss@gembaworks.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"log"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/gembaworks/gembaflow/services/analysis"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the analysis-agent HTTP server",
	Long: `Starts the HTTP server that accepts stage run requests, serves
committed artifacts, and exposes the run ledger. Blocks until shutdown.`,
	Run: runServe,
}

func runServe(cmd *cobra.Command, args []string) {
	cfg, err := fileConfig.toServiceConfig()
	if err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	slog.Info("Starting analysis agent",
		"port", cfg.Port,
		"reasoning_backend", cfg.ReasoningBackend,
		"db_path", cfg.DBPath,
		"cache_path", cfg.CachePath,
	)

	svc, err := analysis.New(cfg)
	if err != nil {
		log.Fatalf("Failed to create analysis service: %v", err)
	}

	if err := svc.Run(); err != nil {
		log.Fatalf("Analysis service error: %v", err)
	}
}
