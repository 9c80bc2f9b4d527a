// Copyright (C) 2026 GembaWorks (oss@gembaworks.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package analysis

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestApplyConfigDefaults_ZeroValue(t *testing.T) {
	cfg := applyConfigDefaults(Config{})

	assert.Equal(t, 12310, cfg.Port)
	assert.Equal(t, "openai", cfg.ReasoningBackend)
	assert.Equal(t, "./data/gembaflow.db", cfg.DBPath)
	assert.Equal(t, "./data/output_cache", cfg.CachePath)
	assert.Equal(t, "gembaflow-otel-collector:4317", cfg.OTelEndpoint)
	assert.True(t, cfg.EnableMetrics)
	assert.False(t, cfg.EnableTracing, "tracing is opt-in; embedded use must not need a collector")
	assert.Equal(t, 2.0, cfg.ProviderQPS)
}

func TestApplyConfigDefaults_PreservesExplicitValues(t *testing.T) {
	cfg := applyConfigDefaults(Config{
		Port:             9000,
		ReasoningBackend: "claude",
		EnableTracing:    true,
		ProviderQPS:      0.5,
	})

	assert.Equal(t, 9000, cfg.Port)
	assert.Equal(t, "claude", cfg.ReasoningBackend)
	assert.True(t, cfg.EnableTracing)
	assert.Equal(t, 0.5, cfg.ProviderQPS)
}
