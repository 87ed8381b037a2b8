package optim

import (
	"math"

	"gonum.org/v1/gonum/floats"
)

// #region adamw
// AdamW is Adam with decoupled weight decay. It keeps moment buffers shaped
// like the parameter tensors it was created for.
type AdamW struct {
	cfg  AdamWConfig
	lr   float64
	step int
	m    [][]float64
	v    [][]float64
}

// NewAdamW allocates moment buffers for params.
func NewAdamW(cfg AdamWConfig, params [][]float64) *AdamW {
	o := &AdamW{cfg: cfg, lr: cfg.LearningRate}
	o.m = make([][]float64, len(params))
	o.v = make([][]float64, len(params))
	for i, p := range params {
		o.m[i] = make([]float64, len(p))
		o.v[i] = make([]float64, len(p))
	}
	return o
}

// LearningRate returns the current step size.
func (o *AdamW) LearningRate() float64 { return o.lr }

// SetLearningRate changes the step size, e.g. from a scheduler.
func (o *AdamW) SetLearningRate(lr float64) { o.lr = lr }

// Steps returns the number of updates applied.
func (o *AdamW) Steps() int { return o.step }

// Step updates params in place from grads. Both must have the shapes the
// optimizer was created with.
func (o *AdamW) Step(params, grads [][]float64) {
	o.step++
	b1, b2 := o.cfg.Beta1, o.cfg.Beta2
	c1 := 1 - math.Pow(b1, float64(o.step))
	c2 := 1 - math.Pow(b2, float64(o.step))
	decay := 1 - o.lr*o.cfg.WeightDecay

	for i, p := range params {
		g, m, v := grads[i], o.m[i], o.v[i]
		for j := range p {
			p[j] *= decay
			m[j] = b1*m[j] + (1-b1)*g[j]
			v[j] = b2*v[j] + (1-b2)*g[j]*g[j]
			mHat := m[j] / c1
			vHat := v[j] / c2
			p[j] -= o.lr * mHat / (math.Sqrt(vHat) + o.cfg.Epsilon)
		}
	}
}
// #endregion adamw

// #region clip
// ClipGradNorm rescales grads in place so their global L2 norm is at most
// maxNorm. It returns the norm before clipping. maxNorm <= 0 disables clipping.
func ClipGradNorm(grads [][]float64, maxNorm float64) float64 {
	var sumSq float64
	for _, g := range grads {
		sumSq += floats.Dot(g, g)
	}
	norm := math.Sqrt(sumSq)
	if maxNorm > 0 && norm > maxNorm {
		scale := maxNorm / (norm + 1e-6)
		for _, g := range grads {
			floats.Scale(scale, g)
		}
	}
	return norm
}
// #endregion clip

// #region plateau
// PlateauScheduler halves the learning rate (by default) when the tracked
// metric has not improved for more than Patience epochs.
type PlateauScheduler struct {
	cfg  PlateauConfig
	best float64
	bad  int
}

// NewPlateauScheduler returns a scheduler in "min" mode.
func NewPlateauScheduler(cfg PlateauConfig) *PlateauScheduler {
	return &PlateauScheduler{cfg: cfg, best: math.Inf(1)}
}

// Step records metric and returns the learning rate to use next.
func (s *PlateauScheduler) Step(metric, lr float64) float64 {
	if metric < s.best*(1-s.cfg.Threshold) || math.IsInf(s.best, 1) {
		s.best = metric
		s.bad = 0
		return lr
	}
	s.bad++
	if s.bad > s.cfg.Patience {
		s.bad = 0
		return math.Max(lr*s.cfg.Factor, s.cfg.MinLR)
	}
	return lr
}
// #endregion plateau

// #region early-stop
// EarlyStopper tracks the best loss and signals when training should stop.
// An epoch improves when best - loss >= MinDelta.
type EarlyStopper struct {
	MinDelta float64
	Patience int

	best      float64
	bestEpoch int
	bad       int
}

// NewEarlyStopper returns a stopper with no best loss yet.
func NewEarlyStopper(minDelta float64, patience int) *EarlyStopper {
	return &EarlyStopper{MinDelta: minDelta, Patience: patience, best: math.Inf(1), bestEpoch: -1}
}

// Observe records the loss for epoch and reports whether it is a new best.
func (e *EarlyStopper) Observe(epoch int, loss float64) bool {
	if math.IsInf(e.best, 1) || e.best-loss >= e.MinDelta {
		e.best = loss
		e.bestEpoch = epoch
		e.bad = 0
		return true
	}
	e.bad++
	return false
}

// ShouldStop reports whether Patience non-improving epochs have passed.
func (e *EarlyStopper) ShouldStop() bool {
	return e.Patience > 0 && e.bad >= e.Patience
}

// Best returns the best loss and the epoch it was seen in (-1 when none).
func (e *EarlyStopper) Best() (float64, int) {
	return e.best, e.bestEpoch
}
// #endregion early-stop
