package eval

import (
	"fmt"

	"gonum.org/v1/gonum/stat"

	"github.com/danielpatrickdp/kryptictrack/internal/checkpoint"
	"github.com/danielpatrickdp/kryptictrack/internal/reward"
	"github.com/danielpatrickdp/kryptictrack/internal/trajectory"
)

// Metric names reported by Run.
const (
	MetricFiniteParams    = "finite_params"
	MetricRewardMean      = "reward_mean"
	MetricRewardStd       = "reward_std"
	MetricRankingAccuracy = "ranking_accuracy"
)

// #region eval-harness
// EvalHarness runs lightweight validation on a freshly trained checkpoint
// before it is written out.
type EvalHarness struct {
	config EvalConfig
}

// NewEvalHarness creates an eval harness with the given configuration.
func NewEvalHarness(config EvalConfig) *EvalHarness {
	return &EvalHarness{config: config}
}

// Run scores the expert pairs with the checkpoint and reports pass/fail with
// metrics. Ranking accuracy compares each expert action against the next pair
// of a different type replayed from the same state.
func (h *EvalHarness) Run(c *checkpoint.Checkpoint, pairs []trajectory.Pair) EvalResult {
	var metrics []EvalMetric
	var failReasons []string

	// 1. Parameters must be finite
	finite := c.Reward.Finite()
	metrics = append(metrics, EvalMetric{Name: MetricFiniteParams, Value: boolValue(finite), Pass: finite})
	if !finite {
		return result(metrics, []string{"reward params contain NaN or Inf"})
	}

	model, err := reward.NewModelFromParams(c.RewardConfig(), c.Reward)
	if err != nil {
		return result(metrics, []string{err.Error()})
	}
	scorer := &reward.Scorer{Model: model, Norm: c.Normalization}

	sample := stride(pairs, h.config.MaxSamples)
	rewards := make([]float64, 0, len(sample))
	ranked, correct := 0, 0
	for i, p := range sample {
		r, err := scorer.Score(p.State, p.Action)
		if err != nil {
			return result(metrics, []string{fmt.Sprintf("score pair %d: %v", i, err)})
		}
		rewards = append(rewards, r)

		contrast, ok := nextOtherType(sample, i)
		if !ok {
			continue
		}
		rc, err := scorer.Score(p.State, contrast.Action)
		if err != nil {
			continue
		}
		ranked++
		if r > rc {
			correct++
		}
	}

	// 2. Reward spread: a collapsed model scores everything alike
	var mean, std float64
	if len(rewards) > 0 {
		mean, std = stat.MeanStdDev(rewards, nil)
	}
	metrics = append(metrics, EvalMetric{Name: MetricRewardMean, Value: mean, Pass: true})
	stdPass := len(rewards) > 1 && std >= h.config.MinRewardStd
	metrics = append(metrics, EvalMetric{Name: MetricRewardStd, Value: std, Pass: stdPass})
	if !stdPass {
		failReasons = append(failReasons, fmt.Sprintf("reward std %.6f below %.6f", std, h.config.MinRewardStd))
	}

	// 3. Ranking accuracy: informational only
	var acc float64
	if ranked > 0 {
		acc = float64(correct) / float64(ranked)
	}
	metrics = append(metrics, EvalMetric{
		Name:  MetricRankingAccuracy,
		Value: acc,
		Pass:  ranked > 0 && acc >= h.config.MinRankingAccuracy,
	})

	return result(metrics, failReasons)
}

// #endregion eval-harness

// #region helpers
func result(metrics []EvalMetric, failReasons []string) EvalResult {
	reason := "all checks passed"
	if len(failReasons) == 1 {
		reason = fmt.Sprintf("eval failed: %s", failReasons[0])
	} else if len(failReasons) > 1 {
		reason = fmt.Sprintf("eval failed: %d checks: %s", len(failReasons), failReasons[0])
	}
	return EvalResult{
		Passed:  len(failReasons) == 0,
		Metrics: metrics,
		Reason:  reason,
	}
}

// stride keeps at most max pairs, evenly spaced.
func stride(pairs []trajectory.Pair, max int) []trajectory.Pair {
	if max <= 0 || len(pairs) <= max {
		return pairs
	}
	out := make([]trajectory.Pair, 0, max)
	step := float64(len(pairs)) / float64(max)
	for i := 0; i < max; i++ {
		out = append(out, pairs[int(float64(i)*step)])
	}
	return out
}

func nextOtherType(pairs []trajectory.Pair, i int) (trajectory.Pair, bool) {
	for k := 1; k < len(pairs); k++ {
		p := pairs[(i+k)%len(pairs)]
		if p.ActionType != pairs[i].ActionType {
			return p, true
		}
	}
	return trajectory.Pair{}, false
}

func boolValue(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

// #endregion helpers
