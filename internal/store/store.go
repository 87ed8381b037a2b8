package store

import (
	"context"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/danielpatrickdp/kryptictrack/internal/action"
)

// #region schema
const schema = `
CREATE TABLE IF NOT EXISTS actions (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	timestamp     REAL NOT NULL,
	source        TEXT NOT NULL,
	action_type   TEXT NOT NULL,
	context_json  TEXT,
	state_vector  BLOB,
	action_vector BLOB,
	session_id    TEXT,
	created_at    TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_actions_timestamp ON actions(timestamp);
CREATE INDEX IF NOT EXISTS idx_actions_type ON actions(action_type);

CREATE TABLE IF NOT EXISTS training_runs (
	id                 INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id             TEXT NOT NULL UNIQUE,
	started_at         TEXT NOT NULL,
	completed_at       TEXT,
	num_epochs         INTEGER,
	best_epoch         INTEGER,
	final_loss         REAL,
	model_path         TEXT,
	status             TEXT NOT NULL,
	notes              TEXT,
	first_action_id    INTEGER,
	last_action_id     INTEGER,
	first_timestamp    REAL,
	last_timestamp     REAL,
	total_actions_used INTEGER,
	data_sources       TEXT
);

CREATE TABLE IF NOT EXISTS predictions (
	id               INTEGER PRIMARY KEY AUTOINCREMENT,
	prediction_id    TEXT NOT NULL UNIQUE,
	timestamp        TEXT NOT NULL,
	state_json       TEXT,
	predicted_action TEXT NOT NULL,
	confidence       REAL,
	reward           REAL,
	actual_action    TEXT,
	was_correct      INTEGER,
	model_path       TEXT
);

CREATE TABLE IF NOT EXISTS provenance_log (
	id           INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id       TEXT NOT NULL,
	model_path   TEXT,
	trigger_type TEXT NOT NULL,
	record_json  TEXT,
	decision     TEXT NOT NULL,
	reason       TEXT,
	created_at   TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_provenance_run ON provenance_log(run_id);
`
// #endregion schema

// #region store-struct
// Store is the SQLite-backed action log plus training and prediction records.
type Store struct {
	db *sql.DB
}
// #endregion store-struct

// #region constructor
// NewStore opens a SQLite database and runs migrations.
func NewStore(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("pragma: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("pragma busy_timeout: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB returns the underlying *sql.DB.
func (s *Store) DB() *sql.DB {
	return s.db
}
// #endregion constructor

// #region actions
// AppendAction inserts a into the log and returns its row ID. A zero
// timestamp is stamped with the current time.
func (s *Store) AppendAction(ctx context.Context, a action.Action) (int64, error) {
	if a.Timestamp == 0 {
		a.Timestamp = action.Seconds(time.Now())
	}
	ctxJSON, err := json.Marshal(a.Context)
	if err != nil {
		return 0, fmt.Errorf("marshal context: %w", err)
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO actions (timestamp, source, action_type, context_json, session_id, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		a.Timestamp, a.Source, a.ActionType, string(ctxJSON), nullString(a.SessionID),
		time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return 0, fmt.Errorf("insert action: %w", err)
	}
	return res.LastInsertId()
}

// LoadActions returns the matching actions in timestamp order.
func (s *Store) LoadActions(ctx context.Context, q ActionQuery) ([]action.Action, error) {
	var where []string
	var args []any
	if q.Since != 0 {
		where = append(where, "timestamp > ?")
		args = append(args, q.Since)
	}
	if len(q.ExcludeTypes) > 0 {
		where = append(where, "action_type NOT IN (?"+strings.Repeat(", ?", len(q.ExcludeTypes)-1)+")")
		for _, t := range q.ExcludeTypes {
			args = append(args, t)
		}
	}

	query := `SELECT id, timestamp, source, action_type, context_json, session_id FROM actions`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	if q.Limit > 0 {
		query = `SELECT * FROM (` + query + ` ORDER BY timestamp DESC, id DESC LIMIT ?) ORDER BY timestamp, id`
		args = append(args, q.Limit)
	} else {
		query += ` ORDER BY timestamp, id`
	}
	return s.queryActions(ctx, query, args...)
}

// RecentActions returns up to n actions, most recent first.
func (s *Store) RecentActions(ctx context.Context, n int) ([]action.Action, error) {
	return s.queryActions(ctx,
		`SELECT id, timestamp, source, action_type, context_json, session_id
		 FROM actions ORDER BY timestamp DESC, id DESC LIMIT ?`, n)
}

// CountActions returns the number of logged actions.
func (s *Store) CountActions(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM actions`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count actions: %w", err)
	}
	return n, nil
}

func (s *Store) queryActions(ctx context.Context, query string, args ...any) ([]action.Action, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query actions: %w", err)
	}
	defer rows.Close()

	var out []action.Action
	for rows.Next() {
		var a action.Action
		var ctxJSON, session sql.NullString
		if err := rows.Scan(&a.ID, &a.Timestamp, &a.Source, &a.ActionType, &ctxJSON, &session); err != nil {
			return nil, fmt.Errorf("scan action: %w", err)
		}
		a.Context = decodeContext(ctxJSON.String)
		a.SessionID = session.String
		out = append(out, a)
	}
	return out, rows.Err()
}

// decodeContext tolerates malformed rows: anything that is not a JSON object
// reads as an empty context.
func decodeContext(raw string) action.Context {
	c := action.Context{}
	if raw == "" {
		return c
	}
	if err := json.Unmarshal([]byte(raw), &c); err != nil || c == nil {
		return action.Context{}
	}
	return c
}

// SaveVectors stores the encoded state and action vectors for action id.
func (s *Store) SaveVectors(ctx context.Context, id int64, state, act []float32) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE actions SET state_vector = ?, action_vector = ? WHERE id = ?`,
		encodeVector(state), encodeVector(act), id,
	)
	if err != nil {
		return fmt.Errorf("save vectors: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("action %d: %w", id, ErrNotFound)
	}
	return nil
}

// Vectors reads back the vectors stored by SaveVectors.
func (s *Store) Vectors(ctx context.Context, id int64) (state, act []float32, err error) {
	var sb, ab []byte
	err = s.db.QueryRowContext(ctx,
		`SELECT state_vector, action_vector FROM actions WHERE id = ?`, id,
	).Scan(&sb, &ab)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil, fmt.Errorf("action %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("get vectors: %w", err)
	}
	return decodeVector(sb), decodeVector(ab), nil
}
// #endregion actions

// #region training-runs
// RecordTrainingRun inserts or updates the row for run.RunID.
func (s *Store) RecordTrainingRun(ctx context.Context, run TrainingRun) error {
	sources, err := json.Marshal(run.DataSources)
	if err != nil {
		return fmt.Errorf("marshal data sources: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO training_runs (run_id, started_at, completed_at, num_epochs, best_epoch, final_loss,
			model_path, status, notes, first_action_id, last_action_id, first_timestamp, last_timestamp,
			total_actions_used, data_sources)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(run_id) DO UPDATE SET
			completed_at = excluded.completed_at,
			num_epochs = excluded.num_epochs,
			best_epoch = excluded.best_epoch,
			final_loss = excluded.final_loss,
			model_path = excluded.model_path,
			status = excluded.status,
			notes = excluded.notes,
			first_action_id = excluded.first_action_id,
			last_action_id = excluded.last_action_id,
			first_timestamp = excluded.first_timestamp,
			last_timestamp = excluded.last_timestamp,
			total_actions_used = excluded.total_actions_used,
			data_sources = excluded.data_sources`,
		run.RunID, formatTime(run.StartedAt), nullTime(run.CompletedAt), run.NumEpochs, run.BestEpoch,
		run.FinalLoss, nullString(run.ModelPath), run.Status, nullString(run.Notes),
		run.FirstActionID, run.LastActionID, run.FirstTimestamp, run.LastTimestamp,
		run.TotalActionsUsed, string(sources),
	)
	if err != nil {
		return fmt.Errorf("record training run: %w", err)
	}
	return nil
}

const runColumns = `run_id, started_at, completed_at, num_epochs, best_epoch, final_loss, model_path, status,
	notes, first_action_id, last_action_id, first_timestamp, last_timestamp, total_actions_used, data_sources`

// LastCompletedRun returns the most recent completed run, or ErrNotFound.
func (s *Store) LastCompletedRun(ctx context.Context) (TrainingRun, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+runColumns+` FROM training_runs WHERE status = ? ORDER BY completed_at DESC, id DESC LIMIT 1`,
		RunCompleted)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return TrainingRun{}, fmt.Errorf("completed run: %w", ErrNotFound)
	}
	if err != nil {
		return TrainingRun{}, fmt.Errorf("last completed run: %w", err)
	}
	return run, nil
}

// TrainingRun returns the run with runID, or ErrNotFound.
func (s *Store) TrainingRun(ctx context.Context, runID string) (TrainingRun, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM training_runs WHERE run_id = ?`, runID)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return TrainingRun{}, fmt.Errorf("run %s: %w", runID, ErrNotFound)
	}
	if err != nil {
		return TrainingRun{}, fmt.Errorf("training run: %w", err)
	}
	return run, nil
}

// ListTrainingRuns returns up to limit runs of any status, most recent first.
func (s *Store) ListTrainingRuns(ctx context.Context, limit int) ([]TrainingRun, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+runColumns+` FROM training_runs ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list training runs: %w", err)
	}
	defer rows.Close()

	var out []TrainingRun
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan training run: %w", err)
		}
		out = append(out, run)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(sc scanner) (TrainingRun, error) {
	var run TrainingRun
	var started string
	var completed, modelPath, notes, sources sql.NullString
	err := sc.Scan(&run.RunID, &started, &completed, &run.NumEpochs, &run.BestEpoch, &run.FinalLoss, &modelPath,
		&run.Status, &notes, &run.FirstActionID, &run.LastActionID, &run.FirstTimestamp, &run.LastTimestamp,
		&run.TotalActionsUsed, &sources)
	if err != nil {
		return TrainingRun{}, err
	}
	run.StartedAt, _ = time.Parse(time.RFC3339Nano, started)
	if completed.Valid {
		run.CompletedAt, _ = time.Parse(time.RFC3339Nano, completed.String)
	}
	run.ModelPath = modelPath.String
	run.Notes = notes.String
	if sources.Valid {
		_ = json.Unmarshal([]byte(sources.String), &run.DataSources)
	}
	return run, nil
}
// #endregion training-runs

// #region predictions
// RecordPrediction stores a served prediction.
func (s *Store) RecordPrediction(ctx context.Context, p PredictionRecord) error {
	if p.Timestamp.IsZero() {
		p.Timestamp = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO predictions (prediction_id, timestamp, state_json, predicted_action, confidence, reward, model_path)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		p.PredictionID, formatTime(p.Timestamp), nullString(p.StateJSON), p.PredictedAction,
		p.Confidence, p.Reward, nullString(p.ModelPath),
	)
	if err != nil {
		return fmt.Errorf("record prediction: %w", err)
	}
	return nil
}

// ResolvePrediction records the action that actually followed a prediction.
func (s *Store) ResolvePrediction(ctx context.Context, predictionID, actual string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE predictions SET actual_action = ?, was_correct = (predicted_action = ?) WHERE prediction_id = ?`,
		actual, actual, predictionID,
	)
	if err != nil {
		return fmt.Errorf("resolve prediction: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("prediction %s: %w", predictionID, ErrNotFound)
	}
	return nil
}

// Prediction reads one prediction row back.
func (s *Store) Prediction(ctx context.Context, predictionID string) (PredictionRecord, error) {
	var p PredictionRecord
	var ts string
	var stateJSON, actual, modelPath sql.NullString
	var correct sql.NullBool
	err := s.db.QueryRowContext(ctx,
		`SELECT prediction_id, timestamp, state_json, predicted_action, confidence, reward,
			actual_action, was_correct, model_path
		 FROM predictions WHERE prediction_id = ?`, predictionID,
	).Scan(&p.PredictionID, &ts, &stateJSON, &p.PredictedAction, &p.Confidence, &p.Reward,
		&actual, &correct, &modelPath)
	if errors.Is(err, sql.ErrNoRows) {
		return PredictionRecord{}, fmt.Errorf("prediction %s: %w", predictionID, ErrNotFound)
	}
	if err != nil {
		return PredictionRecord{}, fmt.Errorf("get prediction: %w", err)
	}
	p.Timestamp, _ = time.Parse(time.RFC3339Nano, ts)
	p.StateJSON = stateJSON.String
	p.ActualAction = actual.String
	p.WasCorrect = correct.Bool
	p.ModelPath = modelPath.String
	return p, nil
}
// #endregion predictions

// #region helpers
func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func nullTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return formatTime(t)
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
// #endregion helpers

// #region vector-encoding
func encodeVector(v []float32) []byte {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

func decodeVector(b []byte) []float32 {
	v := make([]float32, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return v
}
// #endregion vector-encoding
