package eval

import (
	"fmt"
	"math"

	"github.com/danielpatrickdp/waterbird-state/go-estimator/internal/engine"
	"github.com/danielpatrickdp/waterbird-state/go-estimator/internal/model"
	"github.com/danielpatrickdp/waterbird-state/go-estimator/internal/summary"
)

// #region eval-harness
// EvalHarness validates a production run before it is committed.
type EvalHarness struct {
	config EvalConfig
}

// NewEvalHarness creates an eval harness with the given configuration.
func NewEvalHarness(config EvalConfig) *EvalHarness {
	return &EvalHarness{config: config}
}

// Run checks the sample matrix against the specification it was drawn for
// and the summary derived from it. Coverage and correlation are reported but
// never fail the run.
func (h *EvalHarness) Run(spec *model.Specification, samples *engine.Samples, sum *summary.Summary) EvalResult {
	var metrics []EvalMetric
	passed := true
	var failReasons []string

	fail := func(format string, args ...any) {
		passed = false
		failReasons = append(failReasons, fmt.Sprintf(format, args...))
	}

	// 1. One latent column per time step
	latent := samples.VectorLen(model.VarX)
	latentPass := latent == spec.N
	metrics = append(metrics, EvalMetric{Name: "latent_columns", Value: float64(latent), Pass: latentPass})
	if !latentPass {
		fail("%d latent columns, want %d", latent, spec.N)
	}

	// 2. Precisions strictly positive
	for _, name := range []string{model.VarTauAdd, model.VarTauObs} {
		col, err := samples.Column(name)
		minimum := 0.0
		for i, v := range col {
			if i == 0 || v < minimum {
				minimum = v
			}
		}
		ok := err == nil && len(col) > 0 && minimum > 0
		metrics = append(metrics, EvalMetric{Name: name + "_min", Value: minimum, Pass: ok})
		if !ok {
			fail("%s has non-positive or missing draws", name)
		}
	}

	// 3. No NaN or Inf anywhere in the matrix
	bad := nonFinite(samples)
	metrics = append(metrics, EvalMetric{Name: "non_finite_draws", Value: float64(bad), Pass: bad == 0})
	if bad > 0 {
		fail("%d non-finite draws", bad)
	}

	// 4. Coverage of observed counts: informational
	if sum != nil {
		metrics = append(metrics, EvalMetric{
			Name:          "coverage",
			Value:         sum.Coverage,
			Pass:          sum.Coverage >= h.config.MinCoverage,
			Informational: true,
		})
		metrics = append(metrics, EvalMetric{
			Name:          "precision_correlation",
			Value:         sum.Correlation,
			Pass:          math.Abs(sum.Correlation) < h.config.MaxCorrelation,
			Informational: true,
		})
	}

	reason := "all checks passed"
	if !passed {
		reason = fmt.Sprintf("eval failed: %s", failReasons[0])
		if len(failReasons) > 1 {
			reason = fmt.Sprintf("eval failed: %d checks: %s", len(failReasons), failReasons[0])
		}
	}

	return EvalResult{
		Passed:  passed,
		Metrics: metrics,
		Reason:  reason,
	}
}

// #endregion eval-harness

// #region helpers
func nonFinite(s *engine.Samples) int {
	n := 0
	for _, chain := range s.Chains {
		for _, row := range chain {
			for _, v := range row {
				if math.IsNaN(v) || math.IsInf(v, 0) {
					n++
				}
			}
		}
	}
	return n
}

// #endregion helpers
