package eval

// #region eval-config
// EvalConfig holds thresholds for post-training validation.
type EvalConfig struct {
	MinRewardStd       float64 // reject if expert rewards have collapsed below this spread
	MinRankingAccuracy float64 // warn if experts outrank contrast actions less often than this
	MaxSamples         int     // pairs scored per run, evenly strided (0 = all)
}

// DefaultEvalConfig returns the standard post-training thresholds.
func DefaultEvalConfig() EvalConfig {
	return EvalConfig{
		MinRewardStd:       1e-4,
		MinRankingAccuracy: 0.5,
		MaxSamples:         500,
	}
}

// #endregion eval-config

// #region eval-metric
// EvalMetric captures a single validation check result.
type EvalMetric struct {
	Name  string  `json:"name"`
	Value float64 `json:"value"`
	Pass  bool    `json:"pass"`
}

// #endregion eval-metric

// #region eval-result
// EvalResult is the output of post-training validation.
type EvalResult struct {
	Passed  bool         `json:"passed"`
	Metrics []EvalMetric `json:"metrics"`
	Reason  string       `json:"reason"`
}

// Metric returns the named metric, if present.
func (r EvalResult) Metric(name string) (EvalMetric, bool) {
	for _, m := range r.Metrics {
		if m.Name == name {
			return m, true
		}
	}
	return EvalMetric{}, false
}

// #endregion eval-result
