package logging

import "time"

// Provenance decisions.
const (
	DecisionCommit = "commit" // checkpoint saved and offered for serving
	DecisionReject = "reject" // trained, but validation failed
	DecisionNoOp   = "no_op"  // nothing worth saving
)

// #region provenance-entry
// ProvenanceEntry is a single row in the provenance_log table.
type ProvenanceEntry struct {
	RunID       string
	ModelPath   string
	TriggerType string // "manual" | "incremental" | "scheduled"
	RecordJSON  string
	Decision    string // "commit" | "reject" | "no_op"
	Reason      string
	CreatedAt   time.Time
}
// #endregion provenance-entry

// #region run-record
// RunRecord captures what a training run saw and produced.
// Serialized as JSON into provenance_log.record_json for later inspection.
type RunRecord struct {
	RunID string `json:"run_id"`

	// Data window
	FirstActionID  int64    `json:"first_action_id"`
	LastActionID   int64    `json:"last_action_id"`
	FirstTimestamp float64  `json:"first_timestamp"`
	LastTimestamp  float64  `json:"last_timestamp"`
	Pairs          int      `json:"pairs"`
	DataSources    []string `json:"data_sources,omitempty"`

	// Training outcome
	EpochsRun int     `json:"epochs_run"`
	BestEpoch int     `json:"best_epoch"`
	BestLoss  float64 `json:"best_loss"`
	WarmStart string  `json:"warm_start,omitempty"`

	// Validation
	EvalPassed  bool               `json:"eval_passed"`
	EvalMetrics map[string]float64 `json:"eval_metrics,omitempty"`
	Thresholds  RunThresholds      `json:"thresholds"`
}

// RunThresholds captures the validation config active at decision time.
type RunThresholds struct {
	MinRewardStd       float64 `json:"min_reward_std"`
	MinRankingAccuracy float64 `json:"min_ranking_accuracy"`
}
// #endregion run-record
