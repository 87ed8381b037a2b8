package replay

import (
	"context"
	"fmt"

	"github.com/danielpatrickdp/kryptictrack/internal/action"
	"github.com/danielpatrickdp/kryptictrack/internal/manager"
)

// #region types
// Evaluator scores next-action accuracy over a sequence. *manager.Manager
// satisfies it.
type Evaluator interface {
	EvaluateModel(ctx context.Context, testActions []action.Action) manager.Evaluation
}

// ReplayResult captures the outcome of replaying one fixture.
type ReplayResult struct {
	Description string             `json:"description"`
	Evaluation  manager.Evaluation `json:"evaluation"`
	ByType      map[string]int     `json:"by_type"`
	// Baseline is the accuracy, in percent, of always predicting the most
	// frequent type in the fixture.
	Baseline float64 `json:"baseline"`
	Passed   bool    `json:"passed"`
	Reason   string  `json:"reason"`
}

// #endregion types

// #region replay
// Replay evaluates the fixture's actions and checks the result against the
// fixture's expectations.
func Replay(ctx context.Context, ev Evaluator, f *Fixture) ReplayResult {
	res := ReplayResult{
		Description: f.Description,
		Evaluation:  ev.EvaluateModel(ctx, f.Actions),
		ByType:      countTypes(f.Actions),
	}
	res.Baseline = baseline(f.Actions)

	e := res.Evaluation
	minPredictions := f.Expected.MinPredictions
	if minPredictions <= 0 {
		minPredictions = len(f.Actions) - 1
	}
	switch {
	case !e.Available:
		res.Reason = fmt.Sprintf("evaluation unavailable: %s", e.Message)
	case e.TotalPredictions < minPredictions:
		res.Reason = fmt.Sprintf("only %d predictions, need %d", e.TotalPredictions, minPredictions)
	case e.Accuracy < f.Expected.MinAccuracy:
		res.Reason = fmt.Sprintf("accuracy %.1f%% below %.1f%%", e.Accuracy, f.Expected.MinAccuracy)
	default:
		res.Passed = true
		res.Reason = fmt.Sprintf("accuracy %.1f%% over %d predictions", e.Accuracy, e.TotalPredictions)
	}
	return res
}

func countTypes(actions []action.Action) map[string]int {
	out := make(map[string]int)
	for _, a := range actions {
		out[a.ActionType]++
	}
	return out
}

// baseline scores the majority-type guess over the predicted positions.
func baseline(actions []action.Action) float64 {
	if len(actions) < 2 {
		return 0
	}
	targets := countTypes(actions[1:])
	var top int
	for _, n := range targets {
		top = max(top, n)
	}
	return float64(top) / float64(len(actions)-1) * 100
}

// #endregion replay
