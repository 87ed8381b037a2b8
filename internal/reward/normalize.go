package reward

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/stat"
)

// StdFloor is the smallest standard deviation treated as real spread. Flatter
// dimensions get a unit scale so constant features pass through centered.
const StdFloor = 1e-8

// #region normalization
// Normalization holds per-dimension mean and scale for states and actions.
// It is fitted on training data and travels with the checkpoint so inference
// applies exactly the same transform.
type Normalization struct {
	StateMean  []float64 `json:"state_mean"`
	StateStd   []float64 `json:"state_std"`
	ActionMean []float64 `json:"action_mean"`
	ActionStd  []float64 `json:"action_std"`
}

// IdentityNormalization leaves inputs unchanged.
func IdentityNormalization(stateDim, actionDim int) Normalization {
	ones := func(n int) []float64 {
		out := make([]float64, n)
		for i := range out {
			out[i] = 1
		}
		return out
	}
	return Normalization{
		StateMean:  make([]float64, stateDim),
		StateStd:   ones(stateDim),
		ActionMean: make([]float64, actionDim),
		ActionStd:  ones(actionDim),
	}
}

// FitNormalization computes population mean and std per dimension.
func FitNormalization(states, actions [][]float32) Normalization {
	var n Normalization
	n.StateMean, n.StateStd = fitColumns(states)
	n.ActionMean, n.ActionStd = fitColumns(actions)
	return n
}

func fitColumns(rows [][]float32) (mean, scale []float64) {
	if len(rows) == 0 {
		return nil, nil
	}
	dim := len(rows[0])
	mean = make([]float64, dim)
	scale = make([]float64, dim)
	col := make([]float64, len(rows))
	for d := 0; d < dim; d++ {
		for i, r := range rows {
			col[i] = float64(r[d])
		}
		m, v := stat.PopMeanVariance(col, nil)
		mean[d] = m
		if sd := math.Sqrt(v); sd >= StdFloor {
			scale[d] = sd + StdFloor
		} else {
			scale[d] = 1
		}
	}
	return mean, scale
}

// Validate checks the statistics against the expected widths.
func (n Normalization) Validate(stateDim, actionDim int) error {
	if len(n.StateMean) != stateDim || len(n.StateStd) != stateDim {
		return fmt.Errorf("state normalization: %w", ErrDimensionMismatch)
	}
	if len(n.ActionMean) != actionDim || len(n.ActionStd) != actionDim {
		return fmt.Errorf("action normalization: %w", ErrDimensionMismatch)
	}
	for _, s := range [][]float64{n.StateStd, n.ActionStd} {
		for _, v := range s {
			if v <= 0 || math.IsNaN(v) || math.IsInf(v, 0) {
				return errors.New("normalization scale must be positive and finite")
			}
		}
	}
	return nil
}

// State normalizes a state vector.
func (n Normalization) State(state []float32) []float64 {
	return apply(state, n.StateMean, n.StateStd)
}

// Action normalizes an action vector.
func (n Normalization) Action(action []float32) []float64 {
	return apply(action, n.ActionMean, n.ActionStd)
}

// Input normalizes and concatenates a pair into a model input.
func (n Normalization) Input(state, action []float32) ([]float64, error) {
	if len(state) != len(n.StateMean) || len(action) != len(n.ActionMean) {
		return nil, fmt.Errorf("%w: got %d+%d, want %d+%d",
			ErrDimensionMismatch, len(state), len(action), len(n.StateMean), len(n.ActionMean))
	}
	return append(n.State(state), n.Action(action)...), nil
}

func apply(v []float32, mean, scale []float64) []float64 {
	out := make([]float64, len(v))
	for i, x := range v {
		out[i] = (float64(x) - mean[i]) / scale[i]
	}
	return out
}
// #endregion normalization

// #region scorer
// Scorer pairs a model with the normalization it was trained under.
type Scorer struct {
	Model *Model
	Norm  Normalization
}

// Score normalizes a raw pair and evaluates it in inference mode.
func (s *Scorer) Score(state, action []float32) (float64, error) {
	x, err := s.Norm.Input(state, action)
	if err != nil {
		return 0, err
	}
	if len(x) != s.Model.cfg.InputDim() {
		return 0, fmt.Errorf("%w: normalized input %d, model wants %d",
			ErrDimensionMismatch, len(x), s.Model.cfg.InputDim())
	}
	return s.Model.Predict(x), nil
}
// #endregion scorer
