// Copyright (C) 2026 GembaWorks (oss@gembaworks.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package engine

import (
	"bytes"
	"embed"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/gembaworks/gembaflow/services/analysis/datatypes"
)

//go:embed schemas/*.json
var schemaFS embed.FS

// stageSchemas holds the compiled output schema per stage. Compiled once at
// package load; the schemas are embedded, so failure here is a build defect
// and panics.
var stageSchemas = map[datatypes.Stage]*jsonschema.Schema{}

func init() {
	files := map[datatypes.Stage]string{
		datatypes.StageSynthesis:  "schemas/synthesis.json",
		datatypes.StageSolutions:  "schemas/solutions.json",
		datatypes.StageSequencing: "schemas/sequencing.json",
	}
	for stage, path := range files {
		data, err := schemaFS.ReadFile(path)
		if err != nil {
			panic(fmt.Sprintf("engine: missing embedded schema %s: %v", path, err))
		}
		c := jsonschema.NewCompiler()
		if err := c.AddResource(path, bytes.NewReader(data)); err != nil {
			panic(fmt.Sprintf("engine: add schema resource %s: %v", path, err))
		}
		s, err := c.Compile(path)
		if err != nil {
			panic(fmt.Sprintf("engine: compile schema %s: %v", path, err))
		}
		stageSchemas[stage] = s
	}
}

// validateSchema checks raw provider JSON against the stage's output schema.
// A violation is classed as a provider failure (malformed output).
func validateSchema(stage datatypes.Stage, raw json.RawMessage) error {
	schema, ok := stageSchemas[stage]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownStage, stage)
	}

	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return fmt.Errorf("%w: output is not valid JSON: %v", ErrProvider, err)
	}
	if err := schema.Validate(doc); err != nil {
		return fmt.Errorf("%w: output violates %s schema: %v", ErrProvider, stage, err)
	}
	return nil
}
