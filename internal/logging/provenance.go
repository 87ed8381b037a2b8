package logging

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// #region log-decision
// LogDecision writes a provenance entry to the provenance_log table.
func LogDecision(ctx context.Context, db *sql.DB, entry ProvenanceEntry) error {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	_, err := db.ExecContext(ctx,
		`INSERT INTO provenance_log (run_id, model_path, trigger_type, record_json, decision, reason, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		entry.RunID,
		nullIfEmpty(entry.ModelPath),
		entry.TriggerType,
		nullIfEmpty(entry.RecordJSON),
		entry.Decision,
		nullIfEmpty(entry.Reason),
		entry.CreatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("log decision: %w", err)
	}
	return nil
}

// Decisions returns the entries for runID, oldest first.
func Decisions(ctx context.Context, db *sql.DB, runID string) ([]ProvenanceEntry, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT run_id, model_path, trigger_type, record_json, decision, reason, created_at
		 FROM provenance_log WHERE run_id = ? ORDER BY id`, runID)
	if err != nil {
		return nil, fmt.Errorf("query decisions: %w", err)
	}
	defer rows.Close()

	var out []ProvenanceEntry
	for rows.Next() {
		var e ProvenanceEntry
		var modelPath, record, reason sql.NullString
		var created string
		if err := rows.Scan(&e.RunID, &modelPath, &e.TriggerType, &record, &e.Decision, &reason, &created); err != nil {
			return nil, fmt.Errorf("scan decision: %w", err)
		}
		e.ModelPath, e.RecordJSON, e.Reason = modelPath.String, record.String, reason.String
		e.CreatedAt, _ = time.Parse(time.RFC3339Nano, created)
		out = append(out, e)
	}
	return out, rows.Err()
}
// #endregion log-decision

// #region helpers
func nullIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
// #endregion helpers
