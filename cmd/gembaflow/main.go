// Copyright (C) 2026 GembaWorks (oss@gembaworks.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command gembaflow starts the GembaFlow analysis-agent HTTP server.
//
// It reads configuration from an optional config.yaml plus environment
// variables and exposes serve and migrate subcommands.
//
// # Environment Variables
//
//   - GEMBAFLOW_PORT: HTTP server port (default: 12310)
//   - REASONING_BACKEND: reasoning provider - openai, claude (default: openai)
//   - GEMBAFLOW_DB_PATH: SQLite ledger path (default: ./data/gembaflow.db)
//   - GEMBAFLOW_CACHE_PATH: Badger output cache dir (default: ./data/output_cache)
//   - OTEL_EXPORTER_OTLP_ENDPOINT: OpenTelemetry collector (default: gembaflow-otel-collector:4317)
//
// # Usage
//
//	# Build
//	go build -o gembaflow ./cmd/gembaflow
//
//	# Apply schema migrations then serve
//	./gembaflow migrate
//	./gembaflow serve
package main

import (
	"errors"
	"log"
	"log/slog"
	"os"
	"strconv"

	"github.com/spf13/cobra"
)

var fileConfig FileConfig

var rootCmd = &cobra.Command{
	Use:   "gembaflow",
	Short: "GembaFlow analysis-agent service",
	Long: `GembaFlow runs the analysis agent that turns workflow-mapping session
snapshots into themes, solution cards, and implementation waves.`,
}

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	if err := rootCmd.Execute(); err != nil {
		log.Fatalf("Error executing command: %v", err)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "config.yaml",
		"path to the YAML configuration file")
	rootCmd.PersistentPreRun = func(cmd *cobra.Command, args []string) {
		cfg, err := LoadFileConfig(configPath)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				slog.Info("No config file found, using defaults and environment",
					"path", configPath)
				return
			}
			log.Fatalf("Error loading %s: %v", configPath, err)
		}
		fileConfig = cfg
		slog.Info("Configuration loaded", "path", configPath)
	}

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(versionCmd)
}

var configPath string

// getEnvString returns the environment variable value or a default.
func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt returns the environment variable as an int or a default.
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
		slog.Warn("Invalid integer in environment, using default",
			"key", key, "value", value, "default", defaultValue)
	}
	return defaultValue
}
