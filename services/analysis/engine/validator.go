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
	"log/slog"

	"github.com/gembaworks/gembaflow/services/analysis/datatypes"
)

// Reference types counted in drop reports.
const (
	RefObservation  = "observation"
	RefProcessStep  = "process_step"
	RefWasteType    = "waste_type"
	RefTheme        = "theme"
	RefSolutionCard = "solution_card"
)

// Allowlists holds the per-entity-type ID sets a stage output may legally
// reference. Lists are built from the input snapshot only, never from
// global storage, so the provider cannot link to data outside the current
// session even if it fabricates plausible-looking IDs.
type Allowlists struct {
	Observations  map[string]struct{}
	ProcessSteps  map[string]struct{}
	WasteTypes    map[string]struct{}
	Themes        map[string]struct{}
	SolutionCards map[string]struct{}
}

// BuildAllowlists derives the allowed ID sets from an input snapshot.
func BuildAllowlists(snap datatypes.InputSnapshot) Allowlists {
	a := Allowlists{
		Observations:  make(map[string]struct{}, len(snap.Observations)),
		ProcessSteps:  make(map[string]struct{}, len(snap.ProcessSteps)),
		WasteTypes:    make(map[string]struct{}, len(snap.WasteTypes)),
		Themes:        make(map[string]struct{}, len(snap.Themes)),
		SolutionCards: make(map[string]struct{}, len(snap.SolutionCards)),
	}
	for _, o := range snap.Observations {
		a.Observations[o.ID] = struct{}{}
	}
	for _, s := range snap.ProcessSteps {
		a.ProcessSteps[s.ID] = struct{}{}
	}
	for _, w := range snap.WasteTypes {
		a.WasteTypes[w.ID] = struct{}{}
	}
	for _, t := range snap.Themes {
		a.Themes[t.ID] = struct{}{}
	}
	for _, c := range snap.SolutionCards {
		a.SolutionCards[c.ID] = struct{}{}
	}
	return a
}

// ItemDrops records how many references were stripped from one output item,
// keyed by reference type. Item is the artifact's human-readable name so a
// discrepancy can be traced without IDs (the item has none yet).
type ItemDrops struct {
	Item    string         `json:"item"`
	Dropped map[string]int `json:"dropped"`
}

// DropReport aggregates the validator's filtering results for one run.
type DropReport struct {
	Items []ItemDrops `json:"items,omitempty"`
	Total int         `json:"total"`
}

// Validate cross-checks every entity reference in a stage output against the
// allowlists built from the run's input snapshot, stripping anything not
// present.
//
// # Description
//
// The provider reasons over serialized context and may fabricate or
// misremember identifiers; a single hallucinated ID would otherwise create a
// dangling or cross-session relationship link at persist time. Validation is
// purely structural: content fields (names, summaries) pass through
// untouched. Dropped references are a warning-level signal, never a hard
// error; processing continues with the filtered set.
//
// # Inputs
//
//   - output: Stage output to filter. Mutated in place.
//   - allow: Allowlists from the same snapshot that built the prompt.
//
// # Outputs
//
//   - DropReport: Per-item and total dropped-reference counts.
func Validate(output StageOutput, allow Allowlists) DropReport {
	items := output.filterRefs(allow)

	report := DropReport{}
	for _, it := range items {
		n := 0
		for _, c := range it.Dropped {
			n += c
		}
		if n == 0 {
			continue
		}
		report.Items = append(report.Items, it)
		report.Total += n
	}

	if report.Total > 0 {
		slog.Warn("Stripped hallucinated references from stage output",
			"stage", output.Stage(),
			"dropped_total", report.Total,
			"items_affected", len(report.Items))
	}

	return report
}

// keepAllowed filters ids to members of allow, returning the survivors and
// the count removed.
func keepAllowed(ids []string, allow map[string]struct{}) ([]string, int) {
	kept := ids[:0:0]
	dropped := 0
	for _, id := range ids {
		if _, ok := allow[id]; ok {
			kept = append(kept, id)
		} else {
			dropped++
		}
	}
	return kept, dropped
}

func (o *SynthesisOutput) filterRefs(allow Allowlists) []ItemDrops {
	drops := make([]ItemDrops, 0, len(o.Themes))
	for i := range o.Themes {
		t := &o.Themes[i]
		d := map[string]int{}
		t.ObservationIDs, d[RefObservation] = keepAllowed(t.ObservationIDs, allow.Observations)
		t.ProcessStepIDs, d[RefProcessStep] = keepAllowed(t.ProcessStepIDs, allow.ProcessSteps)
		t.WasteTypeIDs, d[RefWasteType] = keepAllowed(t.WasteTypeIDs, allow.WasteTypes)
		drops = append(drops, ItemDrops{Item: t.Name, Dropped: d})
	}
	return drops
}

func (o *SolutionsOutput) filterRefs(allow Allowlists) []ItemDrops {
	drops := make([]ItemDrops, 0, len(o.Cards))
	for i := range o.Cards {
		c := &o.Cards[i]
		d := map[string]int{}
		c.ThemeIDs, d[RefTheme] = keepAllowed(c.ThemeIDs, allow.Themes)
		c.ProcessStepIDs, d[RefProcessStep] = keepAllowed(c.ProcessStepIDs, allow.ProcessSteps)
		c.ObservationIDs, d[RefObservation] = keepAllowed(c.ObservationIDs, allow.Observations)
		drops = append(drops, ItemDrops{Item: c.Title, Dropped: d})
	}
	return drops
}

// filterRefs for sequencing removes whole items whose solution card is not
// in the allowlist, then restricts dependency edges to surviving cards.
// Dependencies may cross waves, so survivors are collected globally before
// edges are filtered.
func (o *SequencingOutput) filterRefs(allow Allowlists) []ItemDrops {
	drops := make([]ItemDrops, len(o.Waves))
	survivors := make(map[string]struct{})

	for i := range o.Waves {
		w := &o.Waves[i]
		drops[i] = ItemDrops{Item: w.Name, Dropped: map[string]int{}}

		kept := w.Items[:0:0]
		for _, item := range w.Items {
			if _, ok := allow.SolutionCards[item.SolutionCardID]; ok {
				kept = append(kept, item)
				survivors[item.SolutionCardID] = struct{}{}
			} else {
				drops[i].Dropped[RefSolutionCard]++
			}
		}
		w.Items = kept
	}

	for i := range o.Waves {
		w := &o.Waves[i]
		for j := range w.Items {
			item := &w.Items[j]
			deps := item.DependsOn[:0:0]
			for _, dep := range item.DependsOn {
				if _, ok := survivors[dep]; ok {
					deps = append(deps, dep)
				} else {
					drops[i].Dropped[RefSolutionCard]++
				}
			}
			item.DependsOn = deps
		}
	}

	return drops
}
