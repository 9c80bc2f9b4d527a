// Copyright (C) 2026 GembaWorks (oss@gembaworks.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package datatypes

// transitions is the status state machine per artifact kind. Transitions
// are curator-triggered only; the writer always creates artifacts as draft.
// rejected is terminal everywhere; accepted is terminal; confirmed themes
// stay editable (fields, not status regressions) until accepted or rejected.
var transitions = map[ArtifactKind]map[ArtifactStatus][]ArtifactStatus{
	KindTheme: {
		StatusDraft:     {StatusConfirmed, StatusRejected},
		StatusConfirmed: {StatusAccepted, StatusRejected},
	},
	KindSolutionCard: {
		StatusDraft: {StatusAccepted, StatusRejected},
	},
	KindWave: {
		StatusDraft: {StatusConfirmed},
	},
}

// CanTransition reports whether a curator may move an artifact of kind k
// from one status to another.
func CanTransition(k ArtifactKind, from, to ArtifactStatus) bool {
	for _, allowed := range transitions[k][from] {
		if allowed == to {
			return true
		}
	}
	return false
}
