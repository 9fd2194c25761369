package gate

import (
	"fmt"
	"math"

	"github.com/danielpatrickdp/waterbird-state/go-estimator/internal/engine"
	"github.com/danielpatrickdp/waterbird-state/go-estimator/internal/model"
	"github.com/danielpatrickdp/waterbird-state/go-estimator/internal/summary"
)

// #region gate
// Gate decides whether a burn-in run has mixed well enough for the
// production run to start.
type Gate struct {
	config GateConfig
}

// NewGate creates a gate with the given configuration.
func NewGate(config GateConfig) *Gate {
	return &Gate{config: config}
}

// Config returns the active thresholds.
func (g *Gate) Config() GateConfig {
	return g.config
}

// Evaluate checks hard vetoes first, then records soft warnings.
// Takes the burn-in samples, which hold only scalar columns.
func (g *Gate) Evaluate(burnIn *engine.Samples) (GateDecision, error) {
	columns := summary.ScalarColumns(burnIn)
	diags, err := summary.Diagnose(burnIn, columns)
	if err != nil {
		return GateDecision{}, fmt.Errorf("gate: %w", err)
	}

	var vetoes []VetoSignal
	checks, passed := 0, 0

	// --- Hard veto pass ---
	for _, d := range diags {
		checks += 3

		// 1. Split R-hat
		if d.RHat >= g.config.MaxRHat || math.IsNaN(d.RHat) {
			vetoes = append(vetoes, VetoSignal{
				Type:      VetoRHat,
				Parameter: d.Column,
				Reason:    fmt.Sprintf("%s rhat %.4f exceeds %.2f", d.Column, d.RHat, g.config.MaxRHat),
			})
		} else {
			passed++
		}

		// 2. Effective sample size
		if d.EffectiveSize < g.config.MinEffectiveSize {
			vetoes = append(vetoes, VetoSignal{
				Type:      VetoEffectiveSize,
				Parameter: d.Column,
				Reason:    fmt.Sprintf("%s effective size %.1f below %.0f", d.Column, d.EffectiveSize, g.config.MinEffectiveSize),
			})
		} else {
			passed++
		}

		// 3. First half vs second half
		if math.Abs(d.Stationarity) >= g.config.MaxStationarityZ {
			vetoes = append(vetoes, VetoSignal{
				Type:      VetoStationarity,
				Parameter: d.Column,
				Reason:    fmt.Sprintf("%s half-split z %.2f exceeds %.1f", d.Column, d.Stationarity, g.config.MaxStationarityZ),
			})
		} else {
			passed++
		}
	}

	// 4. Precisions must stay strictly positive
	for _, name := range []string{model.VarTauAdd, model.VarTauObs} {
		col, err := burnIn.Column(name)
		if err != nil {
			return GateDecision{}, fmt.Errorf("gate: %w", err)
		}
		checks++
		if v, ok := firstNonPositive(col); ok {
			vetoes = append(vetoes, VetoSignal{
				Type:      VetoPrecision,
				Parameter: name,
				Reason:    fmt.Sprintf("%s draw %g is not positive", name, v),
			})
		} else {
			passed++
		}
	}

	// --- Soft signals ---
	decision := GateDecision{Diagnostics: diags, SoftScore: float64(passed) / float64(checks)}
	tauAdd, _ := burnIn.Column(model.VarTauAdd)
	tauObs, _ := burnIn.Column(model.VarTauObs)
	if r, err := summary.Correlation(tauAdd, tauObs); err == nil && !math.IsNaN(r) {
		decision.Correlation = r
		if w := summary.CorrelationWarning(r, g.config.CorrelationThreshold); w != nil {
			decision.Warnings = append(decision.Warnings, *w)
		}
	}

	if len(vetoes) > 0 {
		decision.Action = ActionExtend
		decision.Reason = fmt.Sprintf("hard veto: %s", vetoes[0].Reason)
		if len(vetoes) > 1 {
			decision.Reason = fmt.Sprintf("hard veto: %d checks: %s", len(vetoes), vetoes[0].Reason)
		}
		decision.Vetoed = true
		decision.VetoSignals = vetoes
		return decision, nil
	}

	decision.Action = ActionProceed
	decision.Reason = fmt.Sprintf("passed gate: soft_score=%.4f", decision.SoftScore)
	return decision, nil
}

// #endregion gate

// #region helpers
// AsWarnings turns veto signals into warnings for a fit that proceeds
// without convergence.
func AsWarnings(vetoes []VetoSignal) []summary.ConvergenceWarning {
	out := make([]summary.ConvergenceWarning, len(vetoes))
	for i, v := range vetoes {
		out[i] = summary.ConvergenceWarning{Parameter: v.Parameter, Check: string(v.Type), Reason: v.Reason}
	}
	return out
}

func firstNonPositive(v []float64) (float64, bool) {
	for _, x := range v {
		if !(x > 0) {
			return x, true
		}
	}
	return 0, false
}

// #endregion helpers
