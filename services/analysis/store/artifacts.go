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
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/gembaworks/gembaflow/services/analysis/datatypes"
)

// artifactTables maps artifact kinds to their table names for the generic
// revision-guarded update. Tables listed here must carry status, revision
// and updated_at columns.
var artifactTables = map[datatypes.ArtifactKind]string{
	datatypes.KindTheme:        "themes",
	datatypes.KindSolutionCard: "solution_cards",
	datatypes.KindWave:         "waves",
}

// =============================================================================
// Replace-and-Persist
// =============================================================================

// replaceCommit runs the delete-then-insert commit for one stage inside a
// single transaction, so a re-run can never leave a mixed old/new artifact
// set. If the delete itself fails, the commit is retried once insert-only:
// a transient cleanup failure must never leave a session permanently unable
// to re-run a stage, even at the cost of a possibly-duplicated set.
func (s *Store) replaceCommit(ctx context.Context, label string,
	deleteStale func(*sql.Tx) error, insertNew func(*sql.Tx) (int, error)) (int, error) {

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("%s: begin: %w", label, err)
	}

	if err := deleteStale(tx); err != nil {
		slog.Warn("Stale artifact cleanup failed, retrying commit insert-only",
			"stage", label, "error", err)
		_ = tx.Rollback()
		tx, err = s.db.BeginTx(ctx, nil)
		if err != nil {
			return 0, fmt.Errorf("%s: begin insert-only: %w", label, err)
		}
	}

	inserted, err := insertNew(tx)
	if err != nil {
		_ = tx.Rollback()
		return 0, fmt.Errorf("%s: insert: %w", label, err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("%s: commit: %w", label, err)
	}
	return inserted, nil
}

// ReplaceThemes atomically swaps the session's committed theme set for the
// given one. Per-item insert failures are logged with the theme name and
// skipped; the rest of the batch still commits.
func (s *Store) ReplaceThemes(ctx context.Context, sessionID string, themes []datatypes.Theme) (int, error) {
	return s.replaceCommit(ctx, "replace themes",
		func(tx *sql.Tx) error {
			// Link rows cascade via the foreign key.
			_, err := tx.ExecContext(ctx, `DELETE FROM themes WHERE session_id = ?`, sessionID)
			return err
		},
		func(tx *sql.Tx) (int, error) {
			inserted := 0
			for _, t := range themes {
				hypotheses, err := json.Marshal(t.RootCauseHypotheses)
				if err != nil {
					slog.Error("Skipping theme with unserializable hypotheses",
						"theme", t.Name, "error", err)
					continue
				}
				_, err = tx.ExecContext(ctx, `
					INSERT INTO themes
					(id, session_id, name, summary, confidence, root_cause_hypotheses,
					 status, created_by, revision, run_id, created_at, updated_at)
					VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
				`, t.ID, t.SessionID, t.Name, t.Summary, t.Confidence, string(hypotheses),
					string(t.Status), t.CreatedBy, t.Revision, t.RunID,
					t.CreatedAt.UTC(), t.UpdatedAt.UTC())
				if err != nil {
					slog.Error("Failed to insert theme, continuing with batch",
						"theme", t.Name, "error", err)
					continue
				}

				insertLinks(ctx, tx, `INSERT INTO theme_links (theme_id, ref_type, ref_id) VALUES (?, ?, ?)`,
					t.ID, map[string][]string{
						"observation":  t.ObservationIDs,
						"process_step": t.ProcessStepIDs,
						"waste_type":   t.WasteTypeIDs,
					})
				inserted++
			}
			return inserted, nil
		})
}

// ReplaceSolutionCards atomically swaps the session's committed solution
// card set.
func (s *Store) ReplaceSolutionCards(ctx context.Context, sessionID string, cards []datatypes.SolutionCard) (int, error) {
	return s.replaceCommit(ctx, "replace solution cards",
		func(tx *sql.Tx) error {
			_, err := tx.ExecContext(ctx, `DELETE FROM solution_cards WHERE session_id = ?`, sessionID)
			return err
		},
		func(tx *sql.Tx) (int, error) {
			inserted := 0
			for _, c := range cards {
				risks, errR := json.Marshal(c.Risks)
				deps, errD := json.Marshal(c.Dependencies)
				if errR != nil || errD != nil {
					slog.Error("Skipping solution card with unserializable fields",
						"card", c.Title)
					continue
				}
				_, err := tx.ExecContext(ctx, `
					INSERT INTO solution_cards
					(id, session_id, bucket, title, description, expected_impact, effort_level,
					 risks, dependencies, recommended_wave, status, created_by, revision,
					 run_id, created_at, updated_at)
					VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
				`, c.ID, c.SessionID, c.Bucket, c.Title, c.Description, c.ExpectedImpact,
					c.EffortLevel, string(risks), string(deps), c.RecommendedWave,
					string(c.Status), c.CreatedBy, c.Revision, c.RunID,
					c.CreatedAt.UTC(), c.UpdatedAt.UTC())
				if err != nil {
					slog.Error("Failed to insert solution card, continuing with batch",
						"card", c.Title, "error", err)
					continue
				}

				insertLinks(ctx, tx, `INSERT INTO solution_links (card_id, ref_type, ref_id) VALUES (?, ?, ?)`,
					c.ID, map[string][]string{
						"theme":        c.ThemeIDs,
						"process_step": c.ProcessStepIDs,
						"observation":  c.ObservationIDs,
					})
				inserted++
			}
			return inserted, nil
		})
}

// ReplaceWaves atomically swaps the session's committed implementation
// waves, their items and dependency edges.
func (s *Store) ReplaceWaves(ctx context.Context, sessionID string, waves []datatypes.ImplementationWave) (int, error) {
	return s.replaceCommit(ctx, "replace waves",
		func(tx *sql.Tx) error {
			// Items and dependency edges cascade via foreign keys.
			_, err := tx.ExecContext(ctx, `DELETE FROM waves WHERE session_id = ?`, sessionID)
			return err
		},
		func(tx *sql.Tx) (int, error) {
			inserted := 0
			for _, w := range waves {
				_, err := tx.ExecContext(ctx, `
					INSERT INTO waves
					(id, session_id, sequence, name, objective, status, created_by,
					 revision, run_id, created_at, updated_at)
					VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
				`, w.ID, w.SessionID, w.Sequence, w.Name, w.Objective, string(w.Status),
					w.CreatedBy, w.Revision, w.RunID, w.CreatedAt.UTC(), w.UpdatedAt.UTC())
				if err != nil {
					slog.Error("Failed to insert wave, continuing with batch",
						"wave", w.Name, "error", err)
					continue
				}

				for _, item := range w.Items {
					_, err := tx.ExecContext(ctx, `
						INSERT INTO wave_items (id, wave_id, solution_card_id, position, notes)
						VALUES (?, ?, ?, ?, ?)
					`, item.ID, w.ID, item.SolutionCardID, item.Position, item.Notes)
					if err != nil {
						slog.Error("Failed to insert wave item, continuing with batch",
							"wave", w.Name, "card", item.SolutionCardID, "error", err)
						continue
					}
					for _, dep := range item.DependsOn {
						if _, err := tx.ExecContext(ctx, `
							INSERT INTO wave_item_deps (item_id, depends_on_card_id) VALUES (?, ?)
						`, item.ID, dep); err != nil {
							slog.Error("Failed to insert wave item dependency",
								"wave", w.Name, "card", item.SolutionCardID, "error", err)
						}
					}
				}
				inserted++
			}
			return inserted, nil
		})
}

// insertLinks writes relationship link rows for one artifact. Only IDs that
// survived allowlist validation reach this point; a relation type with zero
// valid IDs writes zero rows. Individual failures are logged and skipped.
func insertLinks(ctx context.Context, tx *sql.Tx, query, artifactID string, refs map[string][]string) {
	for refType, ids := range refs {
		for _, id := range ids {
			if _, err := tx.ExecContext(ctx, query, artifactID, refType, id); err != nil {
				slog.Error("Failed to insert relationship link",
					"artifact_id", artifactID, "ref_type", refType, "ref_id", id, "error", err)
			}
		}
	}
}

// =============================================================================
// Reads
// =============================================================================

// GetThemes returns the session's committed themes with their links.
func (s *Store) GetThemes(ctx context.Context, sessionID string) ([]datatypes.Theme, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, session_id, name, summary, confidence, root_cause_hypotheses,
		       status, created_by, revision, run_id, created_at, updated_at
		FROM themes WHERE session_id = ? ORDER BY name
	`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("get themes: %w", err)
	}
	defer rows.Close()

	byID := map[string]*datatypes.Theme{}
	var order []string
	for rows.Next() {
		var t datatypes.Theme
		var status, hypotheses string
		if err := rows.Scan(&t.ID, &t.SessionID, &t.Name, &t.Summary, &t.Confidence,
			&hypotheses, &status, &t.CreatedBy, &t.Revision, &t.RunID,
			&t.CreatedAt, &t.UpdatedAt); err != nil {
			return nil, fmt.Errorf("get themes: %w", err)
		}
		t.Status = datatypes.ArtifactStatus(status)
		if err := json.Unmarshal([]byte(hypotheses), &t.RootCauseHypotheses); err != nil {
			slog.Warn("Dropping unreadable root cause hypotheses", "theme_id", t.ID, "error", err)
		}
		byID[t.ID] = &t
		order = append(order, t.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("get themes: %w", err)
	}

	linkRows, err := s.db.QueryContext(ctx, `
		SELECT l.theme_id, l.ref_type, l.ref_id
		FROM theme_links l JOIN themes t ON t.id = l.theme_id
		WHERE t.session_id = ?
	`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("get theme links: %w", err)
	}
	defer linkRows.Close()

	for linkRows.Next() {
		var themeID, refType, refID string
		if err := linkRows.Scan(&themeID, &refType, &refID); err != nil {
			return nil, fmt.Errorf("get theme links: %w", err)
		}
		t := byID[themeID]
		if t == nil {
			continue
		}
		switch refType {
		case "observation":
			t.ObservationIDs = append(t.ObservationIDs, refID)
		case "process_step":
			t.ProcessStepIDs = append(t.ProcessStepIDs, refID)
		case "waste_type":
			t.WasteTypeIDs = append(t.WasteTypeIDs, refID)
		}
	}
	if err := linkRows.Err(); err != nil {
		return nil, fmt.Errorf("get theme links: %w", err)
	}

	out := make([]datatypes.Theme, 0, len(order))
	for _, id := range order {
		out = append(out, *byID[id])
	}
	return out, nil
}

// GetSolutionCards returns the session's committed solution cards with links.
func (s *Store) GetSolutionCards(ctx context.Context, sessionID string) ([]datatypes.SolutionCard, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, session_id, bucket, title, description, expected_impact, effort_level,
		       risks, dependencies, recommended_wave, status, created_by, revision,
		       run_id, created_at, updated_at
		FROM solution_cards WHERE session_id = ? ORDER BY title
	`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("get solution cards: %w", err)
	}
	defer rows.Close()

	byID := map[string]*datatypes.SolutionCard{}
	var order []string
	for rows.Next() {
		var c datatypes.SolutionCard
		var status, risks, deps string
		if err := rows.Scan(&c.ID, &c.SessionID, &c.Bucket, &c.Title, &c.Description,
			&c.ExpectedImpact, &c.EffortLevel, &risks, &deps, &c.RecommendedWave,
			&status, &c.CreatedBy, &c.Revision, &c.RunID, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, fmt.Errorf("get solution cards: %w", err)
		}
		c.Status = datatypes.ArtifactStatus(status)
		if err := json.Unmarshal([]byte(risks), &c.Risks); err != nil {
			slog.Warn("Dropping unreadable risks", "card_id", c.ID, "error", err)
		}
		if err := json.Unmarshal([]byte(deps), &c.Dependencies); err != nil {
			slog.Warn("Dropping unreadable dependencies", "card_id", c.ID, "error", err)
		}
		byID[c.ID] = &c
		order = append(order, c.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("get solution cards: %w", err)
	}

	linkRows, err := s.db.QueryContext(ctx, `
		SELECT l.card_id, l.ref_type, l.ref_id
		FROM solution_links l JOIN solution_cards c ON c.id = l.card_id
		WHERE c.session_id = ?
	`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("get solution links: %w", err)
	}
	defer linkRows.Close()

	for linkRows.Next() {
		var cardID, refType, refID string
		if err := linkRows.Scan(&cardID, &refType, &refID); err != nil {
			return nil, fmt.Errorf("get solution links: %w", err)
		}
		c := byID[cardID]
		if c == nil {
			continue
		}
		switch refType {
		case "theme":
			c.ThemeIDs = append(c.ThemeIDs, refID)
		case "process_step":
			c.ProcessStepIDs = append(c.ProcessStepIDs, refID)
		case "observation":
			c.ObservationIDs = append(c.ObservationIDs, refID)
		}
	}
	if err := linkRows.Err(); err != nil {
		return nil, fmt.Errorf("get solution links: %w", err)
	}

	out := make([]datatypes.SolutionCard, 0, len(order))
	for _, id := range order {
		out = append(out, *byID[id])
	}
	return out, nil
}

// GetWaves returns the session's committed implementation waves with their
// items and dependency edges, ordered by sequence.
func (s *Store) GetWaves(ctx context.Context, sessionID string) ([]datatypes.ImplementationWave, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, session_id, sequence, name, objective, status, created_by,
		       revision, run_id, created_at, updated_at
		FROM waves WHERE session_id = ? ORDER BY sequence
	`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("get waves: %w", err)
	}
	defer rows.Close()

	byID := map[string]*datatypes.ImplementationWave{}
	var order []string
	for rows.Next() {
		var w datatypes.ImplementationWave
		var status string
		if err := rows.Scan(&w.ID, &w.SessionID, &w.Sequence, &w.Name, &w.Objective,
			&status, &w.CreatedBy, &w.Revision, &w.RunID, &w.CreatedAt, &w.UpdatedAt); err != nil {
			return nil, fmt.Errorf("get waves: %w", err)
		}
		w.Status = datatypes.ArtifactStatus(status)
		byID[w.ID] = &w
		order = append(order, w.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("get waves: %w", err)
	}

	itemRows, err := s.db.QueryContext(ctx, `
		SELECT i.id, i.wave_id, i.solution_card_id, i.position, i.notes
		FROM wave_items i JOIN waves w ON w.id = i.wave_id
		WHERE w.session_id = ?
		ORDER BY i.position
	`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("get wave items: %w", err)
	}
	defer itemRows.Close()

	itemsByID := map[string]*datatypes.ImplementationItem{}
	for itemRows.Next() {
		var item datatypes.ImplementationItem
		if err := itemRows.Scan(&item.ID, &item.WaveID, &item.SolutionCardID,
			&item.Position, &item.Notes); err != nil {
			return nil, fmt.Errorf("get wave items: %w", err)
		}
		itemsByID[item.ID] = &item
	}
	if err := itemRows.Err(); err != nil {
		return nil, fmt.Errorf("get wave items: %w", err)
	}

	depRows, err := s.db.QueryContext(ctx, `
		SELECT d.item_id, d.depends_on_card_id
		FROM wave_item_deps d
		JOIN wave_items i ON i.id = d.item_id
		JOIN waves w ON w.id = i.wave_id
		WHERE w.session_id = ?
	`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("get wave item deps: %w", err)
	}
	defer depRows.Close()

	for depRows.Next() {
		var itemID, cardID string
		if err := depRows.Scan(&itemID, &cardID); err != nil {
			return nil, fmt.Errorf("get wave item deps: %w", err)
		}
		if item := itemsByID[itemID]; item != nil {
			item.DependsOn = append(item.DependsOn, cardID)
		}
	}
	if err := depRows.Err(); err != nil {
		return nil, fmt.Errorf("get wave item deps: %w", err)
	}

	for _, item := range itemsByID {
		if w := byID[item.WaveID]; w != nil {
			w.Items = append(w.Items, *item)
		}
	}

	out := make([]datatypes.ImplementationWave, 0, len(order))
	for _, id := range order {
		out = append(out, *byID[id])
	}
	return out, nil
}

// =============================================================================
// Optimistic Concurrency Guard
// =============================================================================

// UpdateStatusWithRevision applies a curator status change if and only if
// the stored revision equals expectedRevision, incrementing the revision by
// exactly 1.
//
// # Description
//
// The guard is generic over artifact kinds via the table registry; every
// multi-editor-visible mutation goes through it. A revision mismatch yields
// *ConflictError carrying the current revision — never a silent merge or
// overwrite. The state machine is checked against the row's current status
// before the conditional update.
//
// # Outputs
//
//   - int64: The new revision (expectedRevision + 1) on success.
//   - error: ErrNotFound, ErrIllegalTransition, *ConflictError, or a
//     wrapped storage error.
func (s *Store) UpdateStatusWithRevision(ctx context.Context, kind datatypes.ArtifactKind,
	artifactID string, expectedRevision int64, newStatus datatypes.ArtifactStatus) (int64, error) {

	table, ok := artifactTables[kind]
	if !ok {
		return 0, fmt.Errorf("update status: unknown artifact kind %q", kind)
	}

	var current string
	var revision int64
	err := s.db.QueryRowContext(ctx,
		`SELECT status, revision FROM `+table+` WHERE id = ?`, artifactID).
		Scan(&current, &revision)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("update status %s: %w", artifactID, ErrNotFound)
	}
	if err != nil {
		return 0, fmt.Errorf("update status %s: %w", artifactID, err)
	}

	if !datatypes.CanTransition(kind, datatypes.ArtifactStatus(current), newStatus) {
		return 0, fmt.Errorf("update status %s: %w: %s -> %s for %s",
			artifactID, ErrIllegalTransition, current, newStatus, kind)
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE `+table+`
		SET status = ?, revision = revision + 1, updated_at = ?
		WHERE id = ? AND revision = ?
	`, string(newStatus), time.Now().UTC(), artifactID, expectedRevision)
	if err != nil {
		return 0, fmt.Errorf("update status %s: %w", artifactID, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("update status %s: %w", artifactID, err)
	}
	if n == 0 {
		// The row existed above, so zero rows means the revision moved
		// underneath us. Re-read for the conflict detail.
		var currentRev int64
		if err := s.db.QueryRowContext(ctx,
			`SELECT revision FROM `+table+` WHERE id = ?`, artifactID).Scan(&currentRev); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return 0, fmt.Errorf("update status %s: %w", artifactID, ErrNotFound)
			}
			return 0, fmt.Errorf("update status %s: %w", artifactID, err)
		}
		return 0, &ConflictError{
			ArtifactID:       artifactID,
			ExpectedRevision: expectedRevision,
			CurrentRevision:  currentRev,
		}
	}

	return expectedRevision + 1, nil
}

// CountArtifacts reports the committed artifact count for a session and
// stage output type. Used by the run handlers for logging and by tests.
func (s *Store) CountArtifacts(ctx context.Context, kind datatypes.ArtifactKind, sessionID string) (int, error) {
	table, ok := artifactTables[kind]
	if !ok {
		return 0, fmt.Errorf("count artifacts: unknown artifact kind %q", kind)
	}
	var n int
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM `+table+` WHERE session_id = ?`, sessionID).Scan(&n); err != nil {
		return 0, fmt.Errorf("count artifacts: %w", err)
	}
	return n, nil
}
