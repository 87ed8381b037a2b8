package irl

import (
	"context"
	"errors"
	"math/rand"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/danielpatrickdp/kryptictrack/internal/action"
	"github.com/danielpatrickdp/kryptictrack/internal/features"
	"github.com/danielpatrickdp/kryptictrack/internal/reward"
	"github.com/danielpatrickdp/kryptictrack/internal/trajectory"
)

const start = 1_704_099_600.0

// skewedActions logs n actions where every tenth is the decoy type.
func skewedActions(n int, frequent, decoy string) []action.Action {
	out := make([]action.Action, n)
	for i := range out {
		a := action.Action{ID: int64(i + 1), Timestamp: start + float64(i)*45}
		if i%10 == 9 {
			a.Source, a.ActionType = "chrome", decoy
			a.Context = action.Context{"domain": "news.example.com", "timeOnPage": 30}
		} else {
			a.Source, a.ActionType = "vscode", frequent
			a.Context = action.Context{"file": "main.go", "language": "go", "linesChanged": 5}
		}
		out[i] = a
	}
	return out
}

func buildTrajectory(n int) trajectory.Trajectory {
	traj, _ := trajectory.Build(skewedActions(n, "file_edit", "tab_visit"), trajectory.DefaultConfig())
	return traj
}

func quickOptions(seed int64) Options {
	opts := DefaultOptions()
	opts.Epochs = 5
	opts.BatchSize = 32
	opts.Seed = seed
	return opts
}

func TestTrainRecordsHistory(t *testing.T) {
	tr := NewTrainer(DefaultConfig())
	var seen []int
	opts := quickOptions(1)
	opts.Progress = func(s EpochStats) { seen = append(seen, s.Epoch) }

	hist, err := tr.Train(context.Background(), []trajectory.Trajectory{buildTrajectory(120)}, opts)
	require.NoError(t, err)

	assert.Equal(t, []int{1, 2, 3, 4, 5}, seen)
	assert.Equal(t, 5, hist.EpochsRun)
	assert.Len(t, hist.Loss, 5)
	assert.Len(t, hist.RewardMean, 5)
	assert.Len(t, hist.RewardStd, 5)
	assert.Len(t, hist.LearningRate, 5)
	assert.Len(t, hist.ValLoss, 5, "default split holds out 10%")
	assert.Equal(t, 12, hist.ValSamples)
	assert.Equal(t, 108, hist.TrainSamples)
	assert.Equal(t, 5*4, hist.Updates, "four batches of 32 per epoch")
	assert.True(t, hist.Improved)

	st := tr.Status()
	assert.Equal(t, StateCompleted, st.State)
	assert.Equal(t, 5, st.Epoch)
	params := tr.Model().Params()
	assert.True(t, params.Finite())
}

func TestInsufficientDataPerformsNoUpdates(t *testing.T) {
	tr := NewTrainer(DefaultConfig())
	opts := quickOptions(1)

	hist, err := tr.Train(context.Background(), []trajectory.Trajectory{buildTrajectory(50)}, opts)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInsufficientData))
	assert.Nil(t, hist)
	assert.Nil(t, tr.Model(), "no model was created or updated")

	_, err = tr.Train(context.Background(), nil, opts)
	assert.ErrorIs(t, err, ErrInsufficientData)
}

func TestTrainRejectsMisshapenPairs(t *testing.T) {
	tr := NewTrainer(DefaultConfig())
	traj := buildTrajectory(120)
	traj[3].Action = traj[3].Action[:10]

	_, err := tr.Train(context.Background(), []trajectory.Trajectory{traj}, quickOptions(1))
	assert.ErrorIs(t, err, reward.ErrDimensionMismatch)
}

func TestEarlyStoppingRestoresBestEpoch(t *testing.T) {
	tr := NewTrainer(DefaultConfig())
	opts := quickOptions(3)
	opts.Epochs = 10
	opts.Patience = 1
	opts.MinDelta = 1e9

	var bestParams reward.Params
	opts.Progress = func(s EpochStats) {
		if s.Improved {
			bestParams = tr.Model().Params()
		}
	}

	hist, err := tr.Train(context.Background(), []trajectory.Trajectory{buildTrajectory(120)}, opts)
	require.NoError(t, err)

	assert.True(t, hist.EarlyStopped)
	assert.LessOrEqual(t, hist.EpochsRun, 2)
	assert.Equal(t, 0, hist.BestEpoch)
	assert.Equal(t, bestParams, tr.Model().Params(), "weights are the best epoch's, not the last epoch's")

	// the saved checkpoint carries the same weights
	path := filepath.Join(t.TempDir(), "reward_model_test.json")
	require.NoError(t, tr.SaveModel(path))
	other := NewTrainer(DefaultConfig())
	require.NoError(t, other.LoadModel(path))
	assert.Equal(t, bestParams, other.Model().Params())
}

func TestStopReturnsErrStoppedWithBestSoFar(t *testing.T) {
	tr := NewTrainer(DefaultConfig())
	opts := quickOptions(4)
	opts.Epochs = 20
	opts.Progress = func(s EpochStats) {
		if s.Epoch == 2 {
			tr.Stop()
		}
	}

	hist, err := tr.Train(context.Background(), []trajectory.Trajectory{buildTrajectory(120)}, opts)
	require.ErrorIs(t, err, ErrStopped)
	require.NotNil(t, hist)
	assert.True(t, hist.Stopped)
	assert.Equal(t, 2, hist.EpochsRun)
	assert.True(t, hist.Improved)
	assert.Equal(t, StateStopped, tr.Status().State)
}

func TestCancelledContextStopsBeforeFirstUpdate(t *testing.T) {
	tr := NewTrainer(DefaultConfig())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	hist, err := tr.Train(ctx, []trajectory.Trajectory{buildTrajectory(120)}, quickOptions(1))
	require.ErrorIs(t, err, ErrStopped)
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, hist.Improved)
	assert.Zero(t, hist.Updates)
}

func TestNoValidationSplitTracksTrainingLoss(t *testing.T) {
	tr := NewTrainer(DefaultConfig())
	opts := quickOptions(5)
	opts.ValidationSplit = 0
	opts.Epochs = 2

	hist, err := tr.Train(context.Background(), []trajectory.Trajectory{buildTrajectory(120)}, opts)
	require.NoError(t, err)
	assert.Empty(t, hist.ValLoss)
	assert.Equal(t, 120, hist.TrainSamples)
	assert.Equal(t, hist.Loss[hist.BestEpoch], hist.BestLoss)
}

func TestGradientAccumulationFlushesAtEpochEnd(t *testing.T) {
	tr := NewTrainer(DefaultConfig())
	opts := quickOptions(6)
	opts.Epochs = 2
	opts.ValidationSplit = 0
	opts.AccumulationSteps = 3 // 120/32 = 4 batches: one full step plus a flush

	hist, err := tr.Train(context.Background(), []trajectory.Trajectory{buildTrajectory(120)}, opts)
	require.NoError(t, err)
	assert.Equal(t, 4, hist.Updates)
}

func TestSameSeedIsReproducible(t *testing.T) {
	run := func() reward.Params {
		tr := NewTrainer(DefaultConfig())
		opts := quickOptions(9)
		opts.Epochs = 2
		_, err := tr.Train(context.Background(), []trajectory.Trajectory{buildTrajectory(120)}, opts)
		require.NoError(t, err)
		return tr.Model().Params()
	}
	assert.Equal(t, run(), run())
}

func TestFrequentTypeBeatsRandomVectors(t *testing.T) {
	traj := buildTrajectory(150)
	wins := 0
	const runs = 5
	for seed := int64(1); seed <= runs; seed++ {
		tr := NewTrainer(DefaultConfig())
		_, err := tr.Train(context.Background(), []trajectory.Trajectory{traj}, quickOptions(seed))
		require.NoError(t, err)

		model, norm := tr.Model(), tr.Normalization()
		rng := rand.New(rand.NewSource(seed * 100))
		var expertSum, randomSum float64
		for _, p := range traj {
			if p.ActionType != "file_edit" {
				continue
			}
			expert, err := norm.Input(p.State, p.Action)
			require.NoError(t, err)
			random := append(norm.State(p.State), make([]float64, len(p.Action))...)
			for j := len(p.State); j < len(random); j++ {
				random[j] = rng.NormFloat64()
			}
			expertSum += model.Predict(expert)
			randomSum += model.Predict(random)
		}
		if expertSum > randomSum {
			wins++
		}
	}
	assert.GreaterOrEqual(t, wins, runs-1)
}

func TestPolicyTrainingIsOptional(t *testing.T) {
	tr := NewTrainer(DefaultConfig())
	opts := quickOptions(7)
	opts.Epochs = 1
	_, err := tr.Train(context.Background(), []trajectory.Trajectory{buildTrajectory(120)}, opts)
	require.NoError(t, err)
	assert.Nil(t, tr.Policy())

	c, err := tr.Checkpoint()
	require.NoError(t, err)
	assert.Nil(t, c.Policy)

	tr2 := NewTrainer(DefaultConfig())
	opts.TrainPolicy = true
	opts.PolicyEpochs = 3
	hist, err := tr2.Train(context.Background(), []trajectory.Trajectory{buildTrajectory(120)}, opts)
	require.NoError(t, err)
	require.NotNil(t, tr2.Policy())
	assert.Greater(t, hist.PolicyAccuracy, 0.5)

	c, err = tr2.Checkpoint()
	require.NoError(t, err)
	require.NotNil(t, c.Policy)
	assert.Equal(t, action.Catalog, c.Policy.Labels)
}

func TestLoadModelRejectsOtherWidths(t *testing.T) {
	tr := NewTrainer(DefaultConfig())
	opts := quickOptions(8)
	opts.Epochs = 1
	_, err := tr.Train(context.Background(), []trajectory.Trajectory{buildTrajectory(120)}, opts)
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "reward_model_w.json")
	require.NoError(t, tr.SaveModel(path))

	cfg := DefaultConfig()
	cfg.Reward.StateDim = 64
	other := NewTrainer(cfg)
	assert.ErrorIs(t, other.LoadModel(path), reward.ErrDimensionMismatch)
}

func TestIncrementalTrainingKeepsNormalization(t *testing.T) {
	tr := NewTrainer(DefaultConfig())
	opts := quickOptions(10)
	opts.Epochs = 1
	_, err := tr.Train(context.Background(), []trajectory.Trajectory{buildTrajectory(120)}, opts)
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "reward_model_inc.json")
	require.NoError(t, tr.SaveModel(path))

	next := NewTrainer(DefaultConfig())
	require.NoError(t, next.LoadModel(path))
	norm := next.Normalization()

	ext := features.NewExtractor(features.DefaultConfig())
	more, _ := trajectory.BuildWith(ext, skewedActions(110, "file_save", "scroll"), trajectory.DefaultConfig())
	_, err = next.Train(context.Background(), []trajectory.Trajectory{more}, opts)
	require.NoError(t, err)
	assert.Equal(t, norm, next.Normalization())
}

func TestExpertOutranksSameStateAlternatives(t *testing.T) {
	traj := buildTrajectory(150)
	for seed := int64(1); seed <= 3; seed++ {
		tr := NewTrainer(DefaultConfig())
		_, err := tr.Train(context.Background(), []trajectory.Trajectory{traj}, quickOptions(seed))
		require.NoError(t, err)

		model, norm := tr.Model(), tr.Normalization()
		var wins, total int
		for _, p := range traj {
			if p.ActionType != "file_edit" {
				continue
			}
			expert, err := norm.Input(p.State, p.Action)
			require.NoError(t, err)
			re := model.Predict(expert)
			for _, alt := range p.Alternatives {
				x, err := norm.Input(p.State, alt)
				require.NoError(t, err)
				if re > model.Predict(x) {
					wins++
				}
				total++
			}
		}
		require.NotZero(t, total)
		assert.Greater(t, float64(wins)/float64(total), 0.8, "seed %d", seed)
	}
}

func TestContrastWeightZeroIgnoresAlternatives(t *testing.T) {
	run := func(strip bool) reward.Params {
		traj := buildTrajectory(120)
		if strip {
			for i := range traj {
				traj[i].Alternatives = nil
			}
		}
		tr := NewTrainer(DefaultConfig())
		opts := quickOptions(11)
		opts.Epochs = 1
		opts.ContrastWeight = 0
		_, err := tr.Train(context.Background(), []trajectory.Trajectory{traj}, opts)
		require.NoError(t, err)
		return tr.Model().Params()
	}
	assert.Equal(t, run(true), run(false))
}

func TestTrainRejectsMisshapenAlternatives(t *testing.T) {
	tr := NewTrainer(DefaultConfig())
	traj := buildTrajectory(120)
	traj[5].Alternatives[2] = traj[5].Alternatives[2][:7]

	_, err := tr.Train(context.Background(), []trajectory.Trajectory{traj}, quickOptions(1))
	assert.ErrorIs(t, err, reward.ErrDimensionMismatch)
	assert.Nil(t, tr.Model())
}
