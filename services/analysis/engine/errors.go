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
	"errors"
	"fmt"
)

// Sentinel errors for the analysis engine.
var (
	// ErrUnknownStage indicates a stage name outside the pipeline enum.
	ErrUnknownStage = errors.New("unknown pipeline stage")

	// ErrEmptyInput indicates the snapshot lacks the rows a stage requires.
	// This is a precondition failure: no run record is created.
	ErrEmptyInput = errors.New("input snapshot has no qualifying rows for stage")

	// ErrProvider wraps any reasoning-provider failure (network, timeout,
	// schema-malformed output). The run record is marked failed.
	ErrProvider = errors.New("reasoning provider failure")
)

// RateLimitError signals that the per-user invocation quota is exhausted.
// It carries the metadata clients need to schedule a retry.
type RateLimitError struct {
	Limit        int
	Remaining    int
	ResetSeconds int
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limit exceeded: %d requests per window, retry in %ds",
		e.Limit, e.ResetSeconds)
}
