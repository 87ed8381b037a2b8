package reward

import (
	"errors"
	"math"
	"math/rand"

	"gonum.org/v1/gonum/floats"
)

// #region policy
// PolicyParams are the weights of a Policy.
type PolicyParams struct {
	StateDim int       `json:"state_dim"`
	Hidden   int       `json:"hidden"`
	Labels   []string  `json:"labels"`
	W1       []float64 `json:"w1"`
	B1       []float64 `json:"b1"`
	W2       []float64 `json:"w2"`
	B2       []float64 `json:"b2"`
}

// Policy is a one-hidden-layer classifier from state to a softmax over labels.
// It is trained by behavioral cloning next to the reward model and kept for
// inspection.
type Policy struct {
	p PolicyParams
}

// NewPolicy initializes a policy over labels.
func NewPolicy(stateDim, hidden int, labels []string, rng *rand.Rand) *Policy {
	if rng == nil {
		rng = rand.New(rand.NewSource(1))
	}
	k := len(labels)
	p := PolicyParams{
		StateDim: stateDim,
		Hidden:   hidden,
		Labels:   append([]string(nil), labels...),
		W1:       make([]float64, hidden*stateDim),
		B1:       make([]float64, hidden),
		W2:       make([]float64, k*hidden),
		B2:       make([]float64, k),
	}
	s1 := math.Sqrt(2.0 / float64(stateDim))
	for i := range p.W1 {
		p.W1[i] = rng.NormFloat64() * s1
	}
	s2 := math.Sqrt(1.0 / float64(hidden))
	for i := range p.W2 {
		p.W2[i] = rng.NormFloat64() * s2
	}
	return &Policy{p: p}
}

// PolicyFromParams restores a policy after checking shapes.
func PolicyFromParams(p PolicyParams) (*Policy, error) {
	k := len(p.Labels)
	if p.StateDim <= 0 || p.Hidden <= 0 || k == 0 ||
		len(p.W1) != p.Hidden*p.StateDim || len(p.B1) != p.Hidden ||
		len(p.W2) != k*p.Hidden || len(p.B2) != k {
		return nil, errors.New("policy params: shape mismatch")
	}
	return &Policy{p: clonePolicyParams(p)}, nil
}

// Params returns a copy of the weights.
func (pl *Policy) Params() PolicyParams {
	return clonePolicyParams(pl.p)
}

func clonePolicyParams(p PolicyParams) PolicyParams {
	p.Labels = append([]string(nil), p.Labels...)
	p.W1 = append([]float64(nil), p.W1...)
	p.B1 = append([]float64(nil), p.B1...)
	p.W2 = append([]float64(nil), p.W2...)
	p.B2 = append([]float64(nil), p.B2...)
	return p
}

// Probabilities returns the softmax distribution over labels for a normalized state.
func (pl *Policy) Probabilities(state []float64) []float64 {
	_, probs := pl.forward(state)
	return probs
}

// Predict returns the most likely label and its probability.
func (pl *Policy) Predict(state []float64) (string, float64) {
	probs := pl.Probabilities(state)
	best := floats.MaxIdx(probs)
	return pl.p.Labels[best], probs[best]
}

func (pl *Policy) forward(state []float64) (hidden, probs []float64) {
	p := &pl.p
	hidden = make([]float64, p.Hidden)
	for j := range hidden {
		v := floats.Dot(p.W1[j*p.StateDim:(j+1)*p.StateDim], state) + p.B1[j]
		if v > 0 {
			hidden[j] = v
		}
	}
	k := len(p.Labels)
	logits := make([]float64, k)
	for c := 0; c < k; c++ {
		logits[c] = floats.Dot(p.W2[c*p.Hidden:(c+1)*p.Hidden], hidden) + p.B2[c]
	}
	maxLogit := floats.Max(logits)
	var sum float64
	for c := range logits {
		logits[c] = math.Exp(logits[c] - maxLogit)
		sum += logits[c]
	}
	floats.Scale(1/sum, logits)
	return hidden, logits
}

// TrainEpoch runs one shuffled pass of per-sample SGD with cross-entropy loss.
// It returns the mean loss and accuracy measured before each update.
func (pl *Policy) TrainEpoch(states [][]float64, labels []int, lr float64, rng *rand.Rand) (loss, accuracy float64) {
	if len(states) == 0 {
		return 0, 0
	}
	p := &pl.p
	order := rng.Perm(len(states))
	correct := 0
	dh := make([]float64, p.Hidden)

	for _, idx := range order {
		x, y := states[idx], labels[idx]
		hidden, probs := pl.forward(x)
		loss -= math.Log(math.Max(probs[y], 1e-12))
		if floats.MaxIdx(probs) == y {
			correct++
		}

		// d(logits) = probs - onehot
		probs[y] -= 1
		clear(dh)
		for c, g := range probs {
			row := p.W2[c*p.Hidden : (c+1)*p.Hidden]
			floats.AddScaled(dh, g, row)
			floats.AddScaled(row, -lr*g, hidden)
			p.B2[c] -= lr * g
		}
		for j, g := range dh {
			if hidden[j] <= 0 {
				continue
			}
			floats.AddScaled(p.W1[j*p.StateDim:(j+1)*p.StateDim], -lr*g, x)
			p.B1[j] -= lr * g
		}
	}
	n := float64(len(states))
	return loss / n, float64(correct) / n
}
// #endregion policy
