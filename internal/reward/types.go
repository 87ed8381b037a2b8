package reward

import (
	"errors"
	"math"
	"slices"
)

// ErrDimensionMismatch is returned when an input vector has the wrong length.
var ErrDimensionMismatch = errors.New("dimension mismatch")

// #region config
// Config shapes the reward network.
type Config struct {
	StateDim  int
	ActionDim int
	Hidden    []int
	Dropout   float64
}

// DefaultConfig returns a 192+48 input, [256,128,64] hidden, 0.1 dropout network.
func DefaultConfig() Config {
	return Config{
		StateDim:  192,
		ActionDim: 48,
		Hidden:    []int{256, 128, 64},
		Dropout:   0.1,
	}
}

// InputDim is StateDim + ActionDim.
func (c Config) InputDim() int {
	return c.StateDim + c.ActionDim
}
// #endregion config

// #region params
// Layer is one hidden block: dense, ReLU, dropout, layer norm.
// W is row-major with Out rows of In columns.
type Layer struct {
	In    int       `json:"in"`
	Out   int       `json:"out"`
	W     []float64 `json:"w"`
	B     []float64 `json:"b"`
	Gamma []float64 `json:"gamma"`
	Beta  []float64 `json:"beta"`
}

// Params holds every trainable value of a Model.
type Params struct {
	Layers []Layer   `json:"layers"`
	HeadW  []float64 `json:"head_w"`
	HeadB  []float64 `json:"head_b"`
}

// Tensors lists the parameter slices in a fixed order. The slices alias p.
func (p *Params) Tensors() [][]float64 {
	out := make([][]float64, 0, 4*len(p.Layers)+2)
	for i := range p.Layers {
		l := &p.Layers[i]
		out = append(out, l.W, l.B, l.Gamma, l.Beta)
	}
	return append(out, p.HeadW, p.HeadB)
}

// Clone deep-copies p.
func (p Params) Clone() Params {
	out := Params{
		Layers: make([]Layer, len(p.Layers)),
		HeadW:  slices.Clone(p.HeadW),
		HeadB:  slices.Clone(p.HeadB),
	}
	for i, l := range p.Layers {
		out.Layers[i] = Layer{
			In:    l.In,
			Out:   l.Out,
			W:     slices.Clone(l.W),
			B:     slices.Clone(l.B),
			Gamma: slices.Clone(l.Gamma),
			Beta:  slices.Clone(l.Beta),
		}
	}
	return out
}

// ZerosLike returns a parameter set of the same shape filled with zeros.
func (p Params) ZerosLike() Params {
	out := Params{
		Layers: make([]Layer, len(p.Layers)),
		HeadW:  make([]float64, len(p.HeadW)),
		HeadB:  make([]float64, len(p.HeadB)),
	}
	for i, l := range p.Layers {
		out.Layers[i] = Layer{
			In:    l.In,
			Out:   l.Out,
			W:     make([]float64, len(l.W)),
			B:     make([]float64, len(l.B)),
			Gamma: make([]float64, len(l.Gamma)),
			Beta:  make([]float64, len(l.Beta)),
		}
	}
	return out
}

// Zero resets every value to 0 in place.
func (p *Params) Zero() {
	for _, t := range p.Tensors() {
		clear(t)
	}
}

// Finite reports whether every value is neither NaN nor Inf.
func (p *Params) Finite() bool {
	for _, t := range p.Tensors() {
		for _, v := range t {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return false
			}
		}
	}
	return true
}

// Validate checks that p matches cfg.
func (p *Params) Validate(cfg Config) error {
	if len(p.Layers) != len(cfg.Hidden) {
		return errors.New("layer count does not match hidden widths")
	}
	in := cfg.InputDim()
	for i, l := range p.Layers {
		out := cfg.Hidden[i]
		if l.In != in || l.Out != out || len(l.W) != in*out || len(l.B) != out ||
			len(l.Gamma) != out || len(l.Beta) != out {
			return errors.New("layer shape does not match config")
		}
		in = out
	}
	if len(p.HeadW) != in || len(p.HeadB) != 1 {
		return errors.New("head shape does not match config")
	}
	return nil
}
// #endregion params
