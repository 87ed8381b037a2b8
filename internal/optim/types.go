package optim

// #region adamw-config
// AdamWConfig holds optimizer hyperparameters.
type AdamWConfig struct {
	LearningRate float64 // step size (default 1e-3)
	Beta1        float64 // first-moment decay (default 0.9)
	Beta2        float64 // second-moment decay (default 0.999)
	Epsilon      float64 // denominator guard (default 1e-8)
	WeightDecay  float64 // decoupled decay coefficient (default 1e-4)
}

// DefaultAdamWConfig returns the standard AdamW settings.
func DefaultAdamWConfig() AdamWConfig {
	return AdamWConfig{
		LearningRate: 1e-3,
		Beta1:        0.9,
		Beta2:        0.999,
		Epsilon:      1e-8,
		WeightDecay:  1e-4,
	}
}
// #endregion adamw-config

// #region plateau-config
// PlateauConfig controls learning-rate reduction when the tracked loss stalls.
type PlateauConfig struct {
	Factor    float64 // multiplier applied on plateau (default 0.5)
	Patience  int     // epochs without improvement tolerated (default 5)
	Threshold float64 // relative improvement that counts (default 1e-4)
	MinLR     float64 // floor (default 1e-7)
}

// DefaultPlateauConfig returns the scheduler defaults.
func DefaultPlateauConfig() PlateauConfig {
	return PlateauConfig{
		Factor:    0.5,
		Patience:  5,
		Threshold: 1e-4,
		MinLR:     1e-7,
	}
}
// #endregion plateau-config
