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
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/zeebo/blake3"

	"github.com/gembaworks/gembaflow/services/analysis/datatypes"
)

// Fingerprint derives a reproducible key for one stage invocation from the
// stage name, session ID, and a canonicalized form of the input snapshot.
//
// # Description
//
// Two invocations with the same logical inputs must produce the same
// fingerprint regardless of the order the caller assembled the snapshot
// slices in, so every slice is sorted by entity ID before hashing. The
// snapshot is then serialized to JSON (struct field order is fixed, so the
// encoding is deterministic) and hashed with BLAKE3.
//
// # Inputs
//
//   - stage: Pipeline stage being invoked.
//   - sessionID: Owning session.
//   - snap: Input snapshot. Not mutated; slices are copied before sorting.
//
// # Outputs
//
//   - string: 64-char lowercase hex BLAKE3 digest.
//   - error: Non-nil only on JSON encoding failure.
func Fingerprint(stage datatypes.Stage, sessionID string, snap datatypes.InputSnapshot) (string, error) {
	canonical := canonicalizeSnapshot(snap)

	payload, err := json.Marshal(struct {
		Stage     datatypes.Stage         `json:"stage"`
		SessionID string                  `json:"session_id"`
		Snapshot  datatypes.InputSnapshot `json:"snapshot"`
	}{stage, sessionID, canonical})
	if err != nil {
		return "", fmt.Errorf("fingerprint: marshal snapshot: %w", err)
	}

	sum := blake3.Sum256(payload)
	return hex.EncodeToString(sum[:]), nil
}

// canonicalizeSnapshot returns a copy of snap with every slice sorted by ID
// and every nested ID list sorted, so slice order never leaks into the hash.
func canonicalizeSnapshot(snap datatypes.InputSnapshot) datatypes.InputSnapshot {
	out := datatypes.InputSnapshot{
		Observations:  append([]datatypes.Observation(nil), snap.Observations...),
		ProcessSteps:  append([]datatypes.ProcessStep(nil), snap.ProcessSteps...),
		WasteTypes:    append([]datatypes.WasteType(nil), snap.WasteTypes...),
		Themes:        append([]datatypes.ThemeInput(nil), snap.Themes...),
		SolutionCards: append([]datatypes.SolutionCardInput(nil), snap.SolutionCards...),
	}

	sort.Slice(out.Observations, func(i, j int) bool { return out.Observations[i].ID < out.Observations[j].ID })
	sort.Slice(out.ProcessSteps, func(i, j int) bool { return out.ProcessSteps[i].ID < out.ProcessSteps[j].ID })
	sort.Slice(out.WasteTypes, func(i, j int) bool { return out.WasteTypes[i].ID < out.WasteTypes[j].ID })
	sort.Slice(out.Themes, func(i, j int) bool { return out.Themes[i].ID < out.Themes[j].ID })
	sort.Slice(out.SolutionCards, func(i, j int) bool { return out.SolutionCards[i].ID < out.SolutionCards[j].ID })

	for i := range out.Observations {
		out.Observations[i].WasteTypeIDs = sortedCopy(out.Observations[i].WasteTypeIDs)
	}
	for i := range out.Themes {
		out.Themes[i].RootCauseHypotheses = sortedCopy(out.Themes[i].RootCauseHypotheses)
	}
	for i := range out.SolutionCards {
		out.SolutionCards[i].Dependencies = sortedCopy(out.SolutionCards[i].Dependencies)
	}

	return out
}

func sortedCopy(in []string) []string {
	if len(in) == 0 {
		return in
	}
	cp := append([]string(nil), in...)
	sort.Strings(cp)
	return cp
}
