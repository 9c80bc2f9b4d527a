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
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/gembaworks/gembaflow/services/analysis/datatypes"
)

// CreateRun appends a pending ledger entry for one invocation attempt.
// The ledger is append-only: nothing but FinalizeRun ever touches the row
// again, and only once.
func (s *Store) CreateRun(ctx context.Context, rec datatypes.RunRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO runs (id, session_id, stage, status, fingerprint, model, provider, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`,
		rec.ID,
		rec.SessionID,
		string(rec.Stage),
		string(datatypes.RunPending),
		rec.Fingerprint,
		rec.Model,
		rec.Provider,
		rec.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("create run: %w", err)
	}
	return nil
}

// FinalizeRun moves a pending run to succeeded or failed exactly once.
// Model and provider are recorded at finalization time because the invoker
// resolves them per call. A second finalization returns ErrRunFinalized.
func (s *Store) FinalizeRun(ctx context.Context, runID string, status datatypes.RunStatus, model, provider, errMsg string) error {
	if status != datatypes.RunSucceeded && status != datatypes.RunFailed {
		return fmt.Errorf("finalize run %s: %q is not a terminal status", runID, status)
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE runs
		SET status = ?, model = ?, provider = ?, error = ?, completed_at = ?
		WHERE id = ? AND status = 'pending'
	`, string(status), model, provider, errMsg, time.Now().UTC(), runID)
	if err != nil {
		return fmt.Errorf("finalize run %s: %w", runID, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("finalize run %s: %w", runID, err)
	}
	if n == 0 {
		var exists bool
		if err := s.db.QueryRowContext(ctx,
			`SELECT EXISTS(SELECT 1 FROM runs WHERE id = ?)`, runID).Scan(&exists); err != nil {
			return fmt.Errorf("finalize run %s: %w", runID, err)
		}
		if !exists {
			return fmt.Errorf("finalize run %s: %w", runID, ErrNotFound)
		}
		return fmt.Errorf("finalize run %s: %w", runID, ErrRunFinalized)
	}
	return nil
}

// FindSucceededRun returns the most recent succeeded run for the
// session/stage pair with a matching fingerprint, or ErrNotFound. This is
// the cache lookup: a hit means the stage already ran over identical inputs.
func (s *Store) FindSucceededRun(ctx context.Context, sessionID string, stage datatypes.Stage, fingerprint string) (datatypes.RunRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, session_id, stage, status, fingerprint, model, provider, error, created_at, completed_at
		FROM runs
		WHERE session_id = ? AND stage = ? AND fingerprint = ? AND status = 'succeeded'
		ORDER BY id DESC
		LIMIT 1
	`, sessionID, string(stage), fingerprint)

	rec, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return datatypes.RunRecord{}, ErrNotFound
	}
	if err != nil {
		return datatypes.RunRecord{}, fmt.Errorf("find succeeded run: %w", err)
	}
	return rec, nil
}

// GetRun returns one ledger entry by ID.
func (s *Store) GetRun(ctx context.Context, runID string) (datatypes.RunRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, session_id, stage, status, fingerprint, model, provider, error, created_at, completed_at
		FROM runs WHERE id = ?
	`, runID)

	rec, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return datatypes.RunRecord{}, ErrNotFound
	}
	if err != nil {
		return datatypes.RunRecord{}, fmt.Errorf("get run %s: %w", runID, err)
	}
	return rec, nil
}

// ListRuns returns a session's ledger entries, newest first. ULID keys sort
// lexically by creation time, so ordering by id is ordering by time.
func (s *Store) ListRuns(ctx context.Context, sessionID string) ([]datatypes.RunRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, session_id, stage, status, fingerprint, model, provider, error, created_at, completed_at
		FROM runs
		WHERE session_id = ?
		ORDER BY id DESC
	`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var out []datatypes.RunRecord
	for rows.Next() {
		rec, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("list runs: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	return out, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (datatypes.RunRecord, error) {
	var rec datatypes.RunRecord
	var stage, status string
	var completed sql.NullTime

	err := row.Scan(&rec.ID, &rec.SessionID, &stage, &status, &rec.Fingerprint,
		&rec.Model, &rec.Provider, &rec.Error, &rec.CreatedAt, &completed)
	if err != nil {
		return datatypes.RunRecord{}, err
	}

	rec.Stage = datatypes.Stage(stage)
	rec.Status = datatypes.RunStatus(status)
	if completed.Valid {
		t := completed.Time
		rec.CompletedAt = &t
	}
	return rec, nil
}
