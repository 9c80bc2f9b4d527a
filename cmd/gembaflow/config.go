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
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/gembaworks/gembaflow/services/analysis"
	"github.com/gembaworks/gembaflow/services/analysis/datatypes"
	"github.com/gembaworks/gembaflow/services/analysis/engine"
)

// FileConfig mirrors config.yaml. Durations are strings ("10m", "1h") so the
// file stays hand-editable; they are parsed on conversion.
type FileConfig struct {
	Port             int     `yaml:"port"`
	ReasoningBackend string  `yaml:"reasoning_backend"`
	DBPath           string  `yaml:"db_path"`
	CachePath        string  `yaml:"cache_path"`
	OTelEndpoint     string  `yaml:"otel_endpoint"`
	GinMode          string  `yaml:"gin_mode"`
	ProviderQPS      float64 `yaml:"provider_qps"`

	// RateLimits maps stage name to its run rate policy. Stages not listed
	// use the service default.
	RateLimits map[string]RateLimitConfig `yaml:"rate_limits"`
}

// RateLimitConfig is one stage's run budget in the config file.
type RateLimitConfig struct {
	Limit  int    `yaml:"limit"`
	Window string `yaml:"window"`
}

// LoadFileConfig reads and parses the YAML config file.
func LoadFileConfig(path string) (FileConfig, error) {
	var cfg FileConfig

	raw, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return cfg, fmt.Errorf("parsing %s: %w", path, err)
	}
	return cfg, nil
}

// toServiceConfig merges the file config with environment overrides into the
// analysis service configuration. Environment variables win over the file so
// container deployments can override a baked-in config.yaml.
func (fc FileConfig) toServiceConfig() (analysis.Config, error) {
	cfg := analysis.Config{
		Port:             getEnvInt("GEMBAFLOW_PORT", fc.Port),
		ReasoningBackend: getEnvString("REASONING_BACKEND", fc.ReasoningBackend),
		DBPath:           getEnvString("GEMBAFLOW_DB_PATH", fc.DBPath),
		CachePath:        getEnvString("GEMBAFLOW_CACHE_PATH", fc.CachePath),
		OTelEndpoint:     getEnvString("OTEL_EXPORTER_OTLP_ENDPOINT", fc.OTelEndpoint),
		GinMode:          getEnvString("GIN_MODE", fc.GinMode),
		ProviderQPS:      fc.ProviderQPS,
		EnableTracing:    true,
	}

	if len(fc.RateLimits) > 0 {
		policies := make(map[datatypes.Stage]engine.RatePolicy, len(fc.RateLimits))
		for name, rl := range fc.RateLimits {
			stage := datatypes.Stage(name)
			if !datatypes.ValidStage(stage) {
				return cfg, fmt.Errorf("rate_limits: unknown stage %q", name)
			}
			window, err := time.ParseDuration(rl.Window)
			if err != nil {
				return cfg, fmt.Errorf("rate_limits.%s.window: %w", name, err)
			}
			if rl.Limit <= 0 {
				return cfg, fmt.Errorf("rate_limits.%s.limit must be positive", name)
			}
			policies[stage] = engine.RatePolicy{Limit: rl.Limit, Window: window}
		}
		cfg.RatePolicies = policies
	}

	return cfg, nil
}
