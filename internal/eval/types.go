package eval

// #region eval-config
// EvalConfig holds thresholds for post-production validation.
type EvalConfig struct {
	MinCoverage    float64 `yaml:"min_coverage" json:"min_coverage"`       // warn if fewer observed counts fall in the envelope
	MaxCorrelation float64 `yaml:"max_correlation" json:"max_correlation"` // warn if |corr(tau_add, tau_obs)| exceeds this
}

// DefaultEvalConfig returns the thresholds used when none are configured.
func DefaultEvalConfig() EvalConfig {
	return EvalConfig{
		MinCoverage:    0.9,
		MaxCorrelation: 0.7,
	}
}

// #endregion eval-config

// #region eval-metric
// EvalMetric captures a single validation check result.
type EvalMetric struct {
	Name          string  `json:"name"`
	Value         float64 `json:"value"`
	Pass          bool    `json:"pass"`
	Informational bool    `json:"informational,omitempty"`
}

// #endregion eval-metric

// #region eval-result
// EvalResult is the output of post-production validation.
type EvalResult struct {
	Passed  bool         `json:"passed"`
	Metrics []EvalMetric `json:"metrics"`
	Reason  string       `json:"reason"`
}

// Metric returns the named metric.
func (r EvalResult) Metric(name string) (EvalMetric, bool) {
	for _, m := range r.Metrics {
		if m.Name == name {
			return m, true
		}
	}
	return EvalMetric{}, false
}

// #endregion eval-result
