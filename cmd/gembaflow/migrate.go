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
	"context"
	"fmt"
	"log"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/gembaworks/gembaflow/services/analysis/store"
)

var versionString = "dev"

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply the ledger schema to the configured SQLite database",
	Long: `Opens the SQLite database and applies the schema. The schema is
idempotent, so running migrate against an existing database is safe.`,
	Run: runMigrate,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the gembaflow version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("gembaflow", versionString)
	},
}

func runMigrate(cmd *cobra.Command, args []string) {
	cfg, err := fileConfig.toServiceConfig()
	if err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}
	dbPath := cfg.DBPath
	if dbPath == "" {
		dbPath = "./data/gembaflow.db"
	}

	s, err := store.Open(dbPath)
	if err != nil {
		log.Fatalf("Failed to open database %s: %v", dbPath, err)
	}
	defer s.Close()

	if err := s.Migrate(context.Background()); err != nil {
		log.Fatalf("Migration failed: %v", err)
	}

	slog.Info("Schema applied", "db_path", dbPath)
}
