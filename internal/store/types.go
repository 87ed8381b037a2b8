package store

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a looked-up row does not exist.
var ErrNotFound = errors.New("not found")

// Training run statuses.
const (
	RunRunning   = "running"
	RunCompleted = "completed"
	RunStopped   = "stopped"
	RunFailed    = "failed"
)

// #region action-query
// ActionQuery filters LoadActions. Zero values mean no filter.
type ActionQuery struct {
	Since        float64  // only actions strictly after this timestamp
	ExcludeTypes []string // action types to drop
	Limit        int      // keep the most recent Limit matches
}
// #endregion action-query

// #region training-run
// TrainingRun is one row of training_runs.
type TrainingRun struct {
	RunID       string
	StartedAt   time.Time
	CompletedAt time.Time
	NumEpochs   int
	BestEpoch   int
	FinalLoss   float64
	ModelPath   string
	Status      string
	Notes       string

	FirstActionID    int64
	LastActionID     int64
	FirstTimestamp   float64
	LastTimestamp    float64
	TotalActionsUsed int
	DataSources      []string
}
// #endregion training-run

// #region prediction-record
// PredictionRecord is one served prediction. ActualAction and WasCorrect are
// filled in later by ResolvePrediction.
type PredictionRecord struct {
	PredictionID    string
	Timestamp       time.Time
	StateJSON       string
	PredictedAction string
	Confidence      float64
	Reward          float64
	ModelPath       string
	ActualAction    string
	WasCorrect      bool
}
// #endregion prediction-record
