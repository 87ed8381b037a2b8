package jobs

import (
	"context"
	"errors"
	"time"

	"github.com/danielpatrickdp/kryptictrack/internal/action"
	"github.com/danielpatrickdp/kryptictrack/internal/eval"
	"github.com/danielpatrickdp/kryptictrack/internal/irl"
	"github.com/danielpatrickdp/kryptictrack/internal/store"
	"github.com/danielpatrickdp/kryptictrack/internal/trajectory"
)

// ErrAlreadyRunning is returned by Start while a run is in progress.
var ErrAlreadyRunning = errors.New("training already running")

// Run phases reported by Status and progress events.
const (
	PhaseIdle       = "idle"
	PhaseLoading    = "loading"
	PhaseBuilding   = "building"
	PhaseTraining   = "training"
	PhaseEvaluating = "evaluating"
	PhaseSaving     = "saving"
	PhaseCompleted  = "completed"
	PhaseStopped    = "stopped"
	PhaseFailed     = "failed"
)

// #region dependencies
// Store is the persistence the runner reads actions from and records runs in.
// *store.Store satisfies it.
type Store interface {
	LoadActions(ctx context.Context, q store.ActionQuery) ([]action.Action, error)
	LastCompletedRun(ctx context.Context) (store.TrainingRun, error)
	RecordTrainingRun(ctx context.Context, run store.TrainingRun) error
}

// ProgressSink receives progress events. *events.Publisher satisfies it.
type ProgressSink interface {
	PublishJSON(ctx context.Context, v any) error
}

// Reloader picks up a freshly saved checkpoint. *manager.Manager satisfies it.
type Reloader interface {
	LoadModel(path string) bool
}
// #endregion dependencies

// #region config
// Config fixes what every run trains and where it writes.
type Config struct {
	CheckpointDir string
	Trainer       irl.Config
	Options       irl.Options
	Trajectory    trajectory.Config
	Eval          eval.EvalConfig
	MaxActions    int // most recent actions loaded per run (0 = all)
}

// DefaultConfig returns the standard job settings.
func DefaultConfig() Config {
	return Config{
		CheckpointDir: "models/checkpoints",
		Trainer:       irl.DefaultConfig(),
		Options:       irl.DefaultOptions(),
		Trajectory:    trajectory.DefaultConfig(),
		Eval:          eval.DefaultEvalConfig(),
	}
}
// #endregion config

// #region request
// Request starts one run.
type Request struct {
	Epochs int // overrides Config.Options.Epochs when > 0
	// Incremental trains only on actions after the last completed run and
	// continues from that run's checkpoint.
	Incremental bool
	Notes       string
}
// #endregion request

// #region status
// Status is a polling snapshot of the current or last run.
type Status struct {
	RunID       string           `json:"run_id,omitempty"`
	Phase       string           `json:"phase"`
	Running     bool             `json:"running"`
	Epoch       int              `json:"epoch"`
	TotalEpochs int              `json:"total_epochs"`
	Loss        float64          `json:"loss"`
	Actions     int              `json:"actions"`
	Pairs       int              `json:"pairs"`
	ModelPath   string           `json:"model_path,omitempty"`
	Eval        *eval.EvalResult `json:"eval,omitempty"`
	Error       string           `json:"error,omitempty"`
	StartedAt   time.Time        `json:"started_at,omitzero"`
	FinishedAt  time.Time        `json:"finished_at,omitzero"`
}

// Event is published to every ProgressSink on phase changes and epochs.
type Event struct {
	RunID        string    `json:"run_id"`
	Phase        string    `json:"phase"`
	Epoch        int       `json:"epoch,omitempty"`
	TotalEpochs  int       `json:"total_epochs,omitempty"`
	Loss         float64   `json:"loss,omitempty"`
	ValLoss      float64   `json:"val_loss,omitempty"`
	RewardMean   float64   `json:"reward_mean,omitempty"`
	RewardStd    float64   `json:"reward_std,omitempty"`
	LearningRate float64   `json:"learning_rate,omitempty"`
	Message      string    `json:"message,omitempty"`
	Time         time.Time `json:"time"`
}
// #endregion status
