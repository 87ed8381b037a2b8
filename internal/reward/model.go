package reward

import (
	"fmt"
	"math"
	"math/rand"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

const layerNormEps = 1e-5

// #region model
// Model scores (state, action) pairs with a small MLP:
// [dense -> ReLU -> dropout -> layer norm] x N -> dense(1).
//
// A Model is not safe for concurrent training; concurrent Predict calls are
// fine as long as no one mutates the parameters.
type Model struct {
	cfg    Config
	params Params
	rng    *rand.Rand
}

// NewModel returns a freshly initialized model. rng drives initialization and
// dropout; nil uses a fixed seed.
func NewModel(cfg Config, rng *rand.Rand) *Model {
	if rng == nil {
		rng = rand.New(rand.NewSource(1))
	}
	if len(cfg.Hidden) == 0 {
		cfg.Hidden = DefaultConfig().Hidden
	}
	cfg.Hidden = append([]int(nil), cfg.Hidden...)

	p := Params{Layers: make([]Layer, len(cfg.Hidden))}
	in := cfg.InputDim()
	for i, out := range cfg.Hidden {
		std := math.Sqrt(2.0 / float64(in))
		l := Layer{
			In:    in,
			Out:   out,
			W:     make([]float64, in*out),
			B:     make([]float64, out),
			Gamma: make([]float64, out),
			Beta:  make([]float64, out),
		}
		for j := range l.W {
			l.W[j] = rng.NormFloat64() * std
		}
		for j := range l.Gamma {
			l.Gamma[j] = 1
		}
		p.Layers[i] = l
		in = out
	}
	p.HeadW = make([]float64, in)
	std := math.Sqrt(1.0 / float64(in))
	for j := range p.HeadW {
		p.HeadW[j] = rng.NormFloat64() * std
	}
	p.HeadB = []float64{0}

	return &Model{cfg: cfg, params: p, rng: rng}
}

// NewModelFromParams wraps existing parameters after checking their shapes.
func NewModelFromParams(cfg Config, p Params) (*Model, error) {
	if err := p.Validate(cfg); err != nil {
		return nil, fmt.Errorf("reward params: %w", err)
	}
	return &Model{cfg: cfg, params: p.Clone(), rng: rand.New(rand.NewSource(1))}, nil
}

// Config returns the model shape.
func (m *Model) Config() Config {
	return m.cfg
}

// Params returns a copy of the current parameters.
func (m *Model) Params() Params {
	return m.params.Clone()
}

// SetParams replaces the parameters with a copy of p.
func (m *Model) SetParams(p Params) error {
	if err := p.Validate(m.cfg); err != nil {
		return fmt.Errorf("set params: %w", err)
	}
	m.params = p.Clone()
	return nil
}

// Tensors exposes the live parameter slices for in-place optimizer updates.
func (m *Model) Tensors() [][]float64 {
	return m.params.Tensors()
}

// NewGrads returns a zeroed gradient buffer shaped like the parameters.
func (m *Model) NewGrads() Params {
	return m.params.ZerosLike()
}

// SetRNG replaces the dropout source.
func (m *Model) SetRNG(rng *rand.Rand) {
	if rng != nil {
		m.rng = rng
	}
}
// #endregion model

// #region inference
// Score evaluates one raw (state, action) pair in inference mode. Inputs are
// not normalized here; see Scorer.
func (m *Model) Score(state, action []float32) (float64, error) {
	if len(state) != m.cfg.StateDim || len(action) != m.cfg.ActionDim {
		return 0, fmt.Errorf("%w: got %d+%d, want %d+%d",
			ErrDimensionMismatch, len(state), len(action), m.cfg.StateDim, m.cfg.ActionDim)
	}
	x := make([]float64, 0, m.cfg.InputDim())
	for _, v := range state {
		x = append(x, float64(v))
	}
	for _, v := range action {
		x = append(x, float64(v))
	}
	return m.Predict(x), nil
}

// Predict evaluates a prepared input vector in inference mode. x must have length InputDim.
func (m *Model) Predict(x []float64) float64 {
	score, _ := m.Forward(x, false)
	return score
}
// #endregion inference

// #region forward
// Cache keeps the intermediate values of one forward pass for Backward.
type Cache struct {
	layers []layerCache
	last   []float64
}

type layerCache struct {
	in     []float64
	pre    []float64
	mask   []float64
	xhat   []float64
	invStd float64
}

// Forward runs one sample. Dropout is active only when train is true.
func (m *Model) Forward(x []float64, train bool) (float64, *Cache) {
	c := &Cache{layers: make([]layerCache, len(m.params.Layers))}
	h := x
	for i := range m.params.Layers {
		l := &m.params.Layers[i]
		lc := &c.layers[i]
		lc.in = h

		pre := make([]float64, l.Out)
		act := make([]float64, l.Out)
		for o := 0; o < l.Out; o++ {
			pre[o] = floats.Dot(l.W[o*l.In:(o+1)*l.In], h) + l.B[o]
			if pre[o] > 0 {
				act[o] = pre[o]
			}
		}
		lc.pre = pre

		if train && m.cfg.Dropout > 0 {
			keep := 1 - m.cfg.Dropout
			lc.mask = make([]float64, l.Out)
			for o := range act {
				if m.rng.Float64() < keep {
					lc.mask[o] = 1 / keep
				}
			}
			floats.Mul(act, lc.mask)
		}

		mean, variance := stat.PopMeanVariance(act, nil)
		lc.invStd = 1 / math.Sqrt(variance+layerNormEps)
		lc.xhat = make([]float64, l.Out)
		out := make([]float64, l.Out)
		for o := range act {
			lc.xhat[o] = (act[o] - mean) * lc.invStd
			out[o] = l.Gamma[o]*lc.xhat[o] + l.Beta[o]
		}
		h = out
	}
	c.last = h
	return floats.Dot(m.params.HeadW, h) + m.params.HeadB[0], c
}
// #endregion forward

// #region backward
// Backward accumulates d(score)*grad into g for the pass recorded in c.
func (m *Model) Backward(c *Cache, grad float64, g *Params) {
	if grad == 0 {
		return
	}
	floats.AddScaled(g.HeadW, grad, c.last)
	g.HeadB[0] += grad

	dy := make([]float64, len(c.last))
	floats.AddScaled(dy, grad, m.params.HeadW)

	for i := len(m.params.Layers) - 1; i >= 0; i-- {
		l := &m.params.Layers[i]
		gl := &g.Layers[i]
		lc := &c.layers[i]
		n := float64(l.Out)

		// layer norm
		dxhat := make([]float64, l.Out)
		for o := range dy {
			gl.Gamma[o] += dy[o] * lc.xhat[o]
			gl.Beta[o] += dy[o]
			dxhat[o] = dy[o] * l.Gamma[o]
		}
		sum := floats.Sum(dxhat)
		dot := floats.Dot(dxhat, lc.xhat)
		da := make([]float64, l.Out)
		for o := range da {
			da[o] = lc.invStd / n * (n*dxhat[o] - sum - lc.xhat[o]*dot)
		}

		if lc.mask != nil {
			floats.Mul(da, lc.mask)
		}

		var dx []float64
		if i > 0 {
			dx = make([]float64, l.In)
		}
		for o, d := range da {
			if lc.pre[o] <= 0 || d == 0 {
				continue
			}
			row := l.W[o*l.In : (o+1)*l.In]
			floats.AddScaled(gl.W[o*l.In:(o+1)*l.In], d, lc.in)
			gl.B[o] += d
			if dx != nil {
				floats.AddScaled(dx, d, row)
			}
		}
		dy = dx
	}
}
// #endregion backward
