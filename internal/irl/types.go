package irl

import (
	"errors"
	"time"

	"github.com/danielpatrickdp/kryptictrack/internal/optim"
	"github.com/danielpatrickdp/kryptictrack/internal/reward"
)

var (
	// ErrInsufficientData is returned before any update when the pool is too small.
	ErrInsufficientData = errors.New("insufficient training data")
	// ErrStopped is returned when Stop was called or the context ended mid-run.
	ErrStopped = errors.New("training stopped")
)

// #region config
// Config fixes the network and optimizer for a Trainer.
type Config struct {
	Reward    reward.Config
	Optimizer optim.AdamWConfig
	Scheduler optim.PlateauConfig
}

// DefaultConfig returns the default network, AdamW and plateau settings.
func DefaultConfig() Config {
	return Config{
		Reward:    reward.DefaultConfig(),
		Optimizer: optim.DefaultAdamWConfig(),
		Scheduler: optim.DefaultPlateauConfig(),
	}
}
// #endregion config

// #region options
// Options control one call to Train.
type Options struct {
	Epochs            int     // default 50
	BatchSize         int     // default 64
	Patience          int     // early-stopping window in epochs (default 10)
	MinDelta          float64 // smallest loss drop that counts as improvement (default 1e-6)
	ValidationSplit   float64 // held-out fraction, clamped to [0, 0.3] (default 0.1)
	MinSamples        int     // fewer pairs fail with ErrInsufficientData (default 100)
	AccumulationSteps int     // batches per optimizer step (default 1)
	Margin            float64 // hinge margin (default 1.0)
	ContrastWeight    float64 // weight of the same-state alternative hinge, 0 disables (default 1.0)
	Temperature       float64 // score-gap scale (default 0.1)
	RewardL2          float64 // weight of mean squared expert reward (default 0.01)
	SpreadBonus       float64 // weight of the expert reward std bonus (default 0.01)
	MaxGradNorm       float64 // global clipping threshold (default 1.0)
	Seed              int64   // split, init, negatives and dropout (default 42)

	TrainPolicy  bool
	PolicyEpochs int     // default 10
	PolicyHidden int     // default 64
	PolicyLR     float64 // default 0.01

	// Progress is called after every completed epoch.
	Progress func(EpochStats)
}

// DefaultOptions returns the standard training options.
func DefaultOptions() Options {
	return Options{
		Epochs:            50,
		BatchSize:         64,
		Patience:          10,
		MinDelta:          1e-6,
		ValidationSplit:   0.1,
		MinSamples:        100,
		AccumulationSteps: 1,
		Margin:            1.0,
		ContrastWeight:    1.0,
		Temperature:       0.1,
		RewardL2:          0.01,
		SpreadBonus:       0.01,
		MaxGradNorm:       1.0,
		Seed:              42,
		PolicyEpochs:      10,
		PolicyHidden:      64,
		PolicyLR:          0.01,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.Epochs <= 0 {
		o.Epochs = d.Epochs
	}
	if o.BatchSize <= 0 {
		o.BatchSize = d.BatchSize
	}
	if o.AccumulationSteps <= 0 {
		o.AccumulationSteps = 1
	}
	if o.ContrastWeight < 0 {
		o.ContrastWeight = 0
	}
	if o.Temperature <= 0 {
		o.Temperature = d.Temperature
	}
	if o.ValidationSplit < 0 {
		o.ValidationSplit = 0
	}
	if o.ValidationSplit > 0.3 {
		o.ValidationSplit = 0.3
	}
	if o.PolicyEpochs <= 0 {
		o.PolicyEpochs = d.PolicyEpochs
	}
	if o.PolicyHidden <= 0 {
		o.PolicyHidden = d.PolicyHidden
	}
	if o.PolicyLR <= 0 {
		o.PolicyLR = d.PolicyLR
	}
	return o
}
// #endregion options

// #region history
// EpochStats summarizes one completed epoch.
type EpochStats struct {
	Epoch         int     `json:"epoch"`
	TotalEpochs   int     `json:"total_epochs"`
	Loss          float64 `json:"loss"`
	RewardMean    float64 `json:"reward_mean"`
	RewardStd     float64 `json:"reward_std"`
	LearningRate  float64 `json:"learning_rate"`
	HasValidation bool    `json:"has_validation"`
	ValLoss       float64 `json:"val_loss,omitempty"`
	ValRewardMean float64 `json:"val_reward_mean,omitempty"`
	ValRewardStd  float64 `json:"val_reward_std,omitempty"`
	Improved      bool    `json:"improved"`
}

// History is the per-epoch record of a Train call.
type History struct {
	Loss          []float64 `json:"loss"`
	RewardMean    []float64 `json:"reward_mean"`
	RewardStd     []float64 `json:"reward_std"`
	LearningRate  []float64 `json:"learning_rate"`
	ValLoss       []float64 `json:"val_loss,omitempty"`
	ValRewardMean []float64 `json:"val_reward_mean,omitempty"`
	ValRewardStd  []float64 `json:"val_reward_std,omitempty"`

	EpochsRun    int     `json:"epochs_run"`
	BestEpoch    int     `json:"best_epoch"`
	BestLoss     float64 `json:"best_loss"`
	EarlyStopped bool    `json:"early_stopped"`
	Stopped      bool    `json:"stopped"`
	// Improved is true when at least one epoch produced a best loss, i.e. the
	// restored parameters are worth checkpointing.
	Improved bool `json:"improved"`
	Updates  int  `json:"updates"`

	TrainSamples int `json:"train_samples"`
	ValSamples   int `json:"val_samples"`

	PolicyLoss     float64 `json:"policy_loss,omitempty"`
	PolicyAccuracy float64 `json:"policy_accuracy,omitempty"`
}
// #endregion history

// #region status
// Training states reported by Status.
const (
	StateIdle      = "idle"
	StateTraining  = "training"
	StateCompleted = "completed"
	StateStopped   = "stopped"
	StateFailed    = "failed"
)

// Status is a polling snapshot of the trainer.
type Status struct {
	State        string    `json:"state"`
	Epoch        int       `json:"epoch"`
	TotalEpochs  int       `json:"total_epochs"`
	Loss         float64   `json:"loss"`
	RewardMean   float64   `json:"reward_mean"`
	RewardStd    float64   `json:"reward_std"`
	LearningRate float64   `json:"learning_rate"`
	Updates      int       `json:"updates"`
	UpdatedAt    time.Time `json:"updated_at"`
}
// #endregion status
