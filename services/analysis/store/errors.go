// Copyright (C) 2026 GembaWorks (oss@gembaworks.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package store

import (
	"errors"
	"fmt"
)

// Sentinel errors for the analysis store.
var (
	// ErrNotFound indicates the referenced row does not exist.
	ErrNotFound = errors.New("record not found")

	// ErrIllegalTransition indicates a status change the state machine
	// does not permit for the artifact's kind and current status.
	ErrIllegalTransition = errors.New("illegal status transition")

	// ErrRunFinalized indicates an attempt to finalize a ledger entry twice.
	ErrRunFinalized = errors.New("run already finalized")
)

// ConflictError signals an optimistic-concurrency mismatch: the stored
// revision no longer matches what the caller read. It is surfaced to users
// as a distinct "modified by someone else, please reload" signal, never
// silently merged.
type ConflictError struct {
	ArtifactID       string
	ExpectedRevision int64
	CurrentRevision  int64
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("artifact %s modified concurrently: expected revision %d, current %d",
		e.ArtifactID, e.ExpectedRevision, e.CurrentRevision)
}
