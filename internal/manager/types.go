package manager

import (
	"context"
	"time"

	"github.com/danielpatrickdp/kryptictrack/internal/checkpoint"
	"github.com/danielpatrickdp/kryptictrack/internal/explain"
	"github.com/danielpatrickdp/kryptictrack/internal/features"
	"github.com/danielpatrickdp/kryptictrack/internal/store"
)

// Messages carried by results that hold no prediction.
const (
	MsgNotLoaded = "Model not loaded"
	MsgOK        = "Prediction successful"
	MsgEvaluated = "Evaluation complete"
)

// #region config
// Config controls model discovery and the inference window.
type Config struct {
	CheckpointDir string          // searched by LoadLatestModel
	Window        int             // recent actions replayed per request (default 10)
	Features      features.Config // Location is taken from here; widths come from the checkpoint
}

// DefaultConfig returns the standard manager settings.
func DefaultConfig() Config {
	return Config{
		CheckpointDir: "models/checkpoints",
		Window:        10,
		Features:      features.DefaultConfig(),
	}
}
// #endregion config

// #region recorder
// Recorder persists served predictions. *store.Store satisfies it.
type Recorder interface {
	RecordPrediction(ctx context.Context, p store.PredictionRecord) error
}
// #endregion recorder

// #region prediction
// Candidate is one scored action type.
type Candidate struct {
	ActionType string  `json:"action_type"`
	Reward     float64 `json:"reward"`
}

// CurrentState is the plain-language summary of where the user is now.
type CurrentState struct {
	App             string  `json:"app"`
	DurationMinutes float64 `json:"duration_minutes"`
	Context         string  `json:"context"`
}

// Prediction is one inference response. Available is false when no
// prediction could be produced, and Message says why.
type Prediction struct {
	PredictionID     string                 `json:"prediction_id,omitempty"`
	Available        bool                   `json:"available"`
	PredictedAction  string                 `json:"predicted_action,omitempty"`
	Confidence       float64                `json:"confidence"`
	Reward           float64                `json:"reward"`
	Top3             []Candidate            `json:"top_3,omitempty"`
	CurrentState     *CurrentState          `json:"current_state,omitempty"`
	RecentHistory    []explain.HistoryEntry `json:"recent_history,omitempty"`
	TimeEstimate     string                 `json:"time_estimate,omitempty"`
	CountdownSeconds int                    `json:"countdown_seconds,omitempty"`
	Explanation      string                 `json:"explanation,omitempty"`
	Message          string                 `json:"message"`
}
// #endregion prediction

// #region evaluation
// Evaluation summarizes next-action accuracy over a held-out sequence.
type Evaluation struct {
	Available          bool    `json:"available"`
	Accuracy           float64 `json:"accuracy"` // percent
	AvgReward          float64 `json:"avg_reward"`
	CorrectPredictions int     `json:"correct_predictions"`
	TotalPredictions   int     `json:"total_predictions"`
	Message            string  `json:"message"`
}
// #endregion evaluation

// #region info
// Info describes the loaded model.
type Info struct {
	Loaded        bool                    `json:"loaded"`
	Path          string                  `json:"model_path,omitempty"`
	LoadedAt      time.Time               `json:"load_time,omitzero"`
	StateDim      int                     `json:"state_dim,omitempty"`
	ActionDim     int                     `json:"action_dim,omitempty"`
	Hidden        []int                   `json:"hidden,omitempty"`
	CatalogDigest string                  `json:"catalog_digest,omitempty"`
	HasPolicy     bool                    `json:"has_policy"`
	Training      checkpoint.TrainingInfo `json:"training,omitzero"`
	Message       string                  `json:"message,omitempty"`
}
// #endregion info
