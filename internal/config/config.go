package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"
	_ "time/tzdata"

	"gopkg.in/yaml.v3"

	"github.com/danielpatrickdp/kryptictrack/internal/eval"
	"github.com/danielpatrickdp/kryptictrack/internal/events"
	"github.com/danielpatrickdp/kryptictrack/internal/explain"
	"github.com/danielpatrickdp/kryptictrack/internal/features"
	"github.com/danielpatrickdp/kryptictrack/internal/irl"
	"github.com/danielpatrickdp/kryptictrack/internal/jobs"
	"github.com/danielpatrickdp/kryptictrack/internal/logging"
	"github.com/danielpatrickdp/kryptictrack/internal/manager"
	"github.com/danielpatrickdp/kryptictrack/internal/trajectory"
)

// #region types
// Config is the full application configuration.
type Config struct {
	Database    DatabaseConfig   `yaml:"database"`
	Checkpoints CheckpointConfig `yaml:"checkpoints"`
	Features    FeatureConfig    `yaml:"features"`
	Training    TrainingConfig   `yaml:"training"`
	Eval        EvalConfig       `yaml:"eval"`
	Inference   InferenceConfig  `yaml:"inference"`
	Explainer   explain.Config   `yaml:"explainer"`
	Metrics     MetricsConfig    `yaml:"metrics"`
	NATS        events.Config    `yaml:"nats"`
	Logging     logging.Config   `yaml:"logging"`
}

// DatabaseConfig locates the action log.
type DatabaseConfig struct {
	Path string `yaml:"path"` // SQLite file (default data/actions.db)
}

// CheckpointConfig locates saved models.
type CheckpointConfig struct {
	Dir string `yaml:"dir"` // default models/checkpoints
}

// FeatureConfig shapes the state and action vectors.
type FeatureConfig struct {
	StateDim  int    `yaml:"state_dim"`  // default 192
	ActionDim int    `yaml:"action_dim"` // default 48
	Timezone  string `yaml:"timezone"`   // IANA name for hour/weekday features (default UTC)
}

// TrainingConfig covers the network, optimizer and Train options.
type TrainingConfig struct {
	Hidden            []int   `yaml:"hidden"`             // default [256, 128, 64]
	Dropout           float64 `yaml:"dropout"`            // default 0.1
	LearningRate      float64 `yaml:"learning_rate"`      // default 1e-3
	WeightDecay       float64 `yaml:"weight_decay"`       // default 1e-4
	Epochs            int     `yaml:"epochs"`             // default 50
	BatchSize         int     `yaml:"batch_size"`         // default 64
	Patience          int     `yaml:"patience"`           // default 10
	ValidationSplit   float64 `yaml:"validation_split"`   // default 0.1
	MinSamples        int     `yaml:"min_samples"`        // default 100
	AccumulationSteps int     `yaml:"accumulation_steps"` // default 1
	MaxGradNorm       float64 `yaml:"max_grad_norm"`      // default 1.0
	Seed              int64   `yaml:"seed"`               // default 42
	TrainPolicy       bool    `yaml:"train_policy"`       // default false
	MaxActions        int     `yaml:"max_actions"`        // most recent actions per run (0 = all)
}

// EvalConfig holds the post-training validation thresholds.
type EvalConfig struct {
	MinRewardStd       float64 `yaml:"min_reward_std"`       // default 1e-4
	MinRankingAccuracy float64 `yaml:"min_ranking_accuracy"` // default 0.5, informational
	MaxSamples         int     `yaml:"max_samples"`          // default 500
}

// InferenceConfig controls serving.
type InferenceConfig struct {
	Window int `yaml:"window"` // recent actions per prediction (default 10)
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Addr string `yaml:"addr"` // listen address, empty disables (default "")
}
// #endregion types

// #region defaults
// DefaultConfig returns the built-in configuration.
func DefaultConfig() *Config {
	irlCfg := irl.DefaultConfig()
	opts := irl.DefaultOptions()
	ev := eval.DefaultEvalConfig()
	feat := features.DefaultConfig()
	return &Config{
		Database:    DatabaseConfig{Path: "data/actions.db"},
		Checkpoints: CheckpointConfig{Dir: "models/checkpoints"},
		Features: FeatureConfig{
			StateDim:  feat.StateDim,
			ActionDim: feat.ActionDim,
			Timezone:  "UTC",
		},
		Training: TrainingConfig{
			Hidden:            irlCfg.Reward.Hidden,
			Dropout:           irlCfg.Reward.Dropout,
			LearningRate:      irlCfg.Optimizer.LearningRate,
			WeightDecay:       irlCfg.Optimizer.WeightDecay,
			Epochs:            opts.Epochs,
			BatchSize:         opts.BatchSize,
			Patience:          opts.Patience,
			ValidationSplit:   opts.ValidationSplit,
			MinSamples:        opts.MinSamples,
			AccumulationSteps: opts.AccumulationSteps,
			MaxGradNorm:       opts.MaxGradNorm,
			Seed:              opts.Seed,
		},
		Eval: EvalConfig{
			MinRewardStd:       ev.MinRewardStd,
			MinRankingAccuracy: ev.MinRankingAccuracy,
			MaxSamples:         ev.MaxSamples,
		},
		Inference: InferenceConfig{Window: 10},
		Explainer: explain.Config{Provider: "template", Timeout: 10 * time.Second},
		NATS:      events.Config{Subject: events.DefaultSubject, Timeout: 10 * time.Second},
		Logging:   logging.Config{Level: "info", Format: "json"},
	}
}
// #endregion defaults

// #region load
// Load reads path over the defaults, then applies environment overrides.
// An empty path skips the file. ${VAR} references in the file are expanded
// before parsing.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		expanded := os.ExpandEnv(string(data))
		if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	c.Database.Path = envOr("KRYPTICTRACK_DB", c.Database.Path)
	c.Checkpoints.Dir = envOr("KRYPTICTRACK_CHECKPOINTS", c.Checkpoints.Dir)
	c.Features.Timezone = envOr("KRYPTICTRACK_TZ", c.Features.Timezone)
	c.Metrics.Addr = envOr("KRYPTICTRACK_METRICS_ADDR", c.Metrics.Addr)
	c.NATS.URL = envOr("NATS_URL", c.NATS.URL)
	c.Logging.Level = envOr("KRYPTICTRACK_LOG_LEVEL", c.Logging.Level)
	c.Explainer.Provider = envOr("KRYPTICTRACK_EXPLAINER", c.Explainer.Provider)
	if c.Explainer.APIKey == "" {
		c.Explainer.APIKey = os.Getenv("OPENAI_API_KEY")
	}
	if v := os.Getenv("KRYPTICTRACK_EPOCHS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("KRYPTICTRACK_EPOCHS: %w", err)
		}
		c.Training.Epochs = n
	}
	return nil
}

// Validate rejects settings no component can run with.
func (c *Config) Validate() error {
	var errs []error
	if c.Database.Path == "" {
		errs = append(errs, errors.New("database.path is required"))
	}
	if c.Checkpoints.Dir == "" {
		errs = append(errs, errors.New("checkpoints.dir is required"))
	}
	if c.Features.StateDim <= 0 || c.Features.ActionDim <= 0 {
		errs = append(errs, errors.New("features.state_dim and features.action_dim must be positive"))
	}
	if _, err := c.Location(); err != nil {
		errs = append(errs, err)
	}
	if len(c.Training.Hidden) == 0 {
		errs = append(errs, errors.New("training.hidden needs at least one layer"))
	}
	for _, h := range c.Training.Hidden {
		if h <= 0 {
			errs = append(errs, fmt.Errorf("training.hidden: layer width %d must be positive", h))
		}
	}
	if c.Training.Dropout < 0 || c.Training.Dropout >= 1 {
		errs = append(errs, fmt.Errorf("training.dropout %.2f outside [0, 1)", c.Training.Dropout))
	}
	if c.Inference.Window <= 0 {
		errs = append(errs, errors.New("inference.window must be positive"))
	}
	return errors.Join(errs...)
}
// #endregion load

// #region derived
// Location resolves features.timezone.
func (c *Config) Location() (*time.Location, error) {
	if c.Features.Timezone == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(c.Features.Timezone)
	if err != nil {
		return nil, fmt.Errorf("features.timezone: %w", err)
	}
	return loc, nil
}

// FeaturesConfig returns the extractor settings.
func (c *Config) FeaturesConfig() features.Config {
	loc, err := c.Location()
	if err != nil {
		loc = time.UTC
	}
	return features.Config{
		StateDim:  c.Features.StateDim,
		ActionDim: c.Features.ActionDim,
		Location:  loc,
	}
}

// TrainerConfig returns the network and optimizer settings.
func (c *Config) TrainerConfig() irl.Config {
	t := irl.DefaultConfig()
	t.Reward.StateDim = c.Features.StateDim
	t.Reward.ActionDim = c.Features.ActionDim
	t.Reward.Hidden = append([]int(nil), c.Training.Hidden...)
	t.Reward.Dropout = c.Training.Dropout
	if c.Training.LearningRate > 0 {
		t.Optimizer.LearningRate = c.Training.LearningRate
	}
	t.Optimizer.WeightDecay = c.Training.WeightDecay
	return t
}

// TrainOptions returns the Train options.
func (c *Config) TrainOptions() irl.Options {
	o := irl.DefaultOptions()
	o.Epochs = c.Training.Epochs
	o.BatchSize = c.Training.BatchSize
	o.Patience = c.Training.Patience
	o.ValidationSplit = c.Training.ValidationSplit
	o.MinSamples = c.Training.MinSamples
	o.AccumulationSteps = c.Training.AccumulationSteps
	o.MaxGradNorm = c.Training.MaxGradNorm
	o.Seed = c.Training.Seed
	o.TrainPolicy = c.Training.TrainPolicy
	return o
}

// JobsConfig returns the training job settings.
func (c *Config) JobsConfig() jobs.Config {
	traj := trajectory.DefaultConfig()
	traj.Features = c.FeaturesConfig()
	return jobs.Config{
		CheckpointDir: c.Checkpoints.Dir,
		Trainer:       c.TrainerConfig(),
		Options:       c.TrainOptions(),
		Trajectory:    traj,
		Eval: eval.EvalConfig{
			MinRewardStd:       c.Eval.MinRewardStd,
			MinRankingAccuracy: c.Eval.MinRankingAccuracy,
			MaxSamples:         c.Eval.MaxSamples,
		},
		MaxActions: c.Training.MaxActions,
	}
}

// ManagerConfig returns the serving settings.
func (c *Config) ManagerConfig() manager.Config {
	return manager.Config{
		CheckpointDir: c.Checkpoints.Dir,
		Window:        c.Inference.Window,
		Features:      c.FeaturesConfig(),
	}
}
// #endregion derived

// #region helpers
func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
// #endregion helpers
