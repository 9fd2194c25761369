package gate

import "github.com/danielpatrickdp/waterbird-state/go-estimator/internal/summary"

// Gate actions.
const (
	ActionProceed = "proceed"
	ActionExtend  = "extend"
)

// #region veto-type
// VetoType enumerates hard veto categories.
type VetoType string

const (
	VetoRHat          VetoType = "rhat"
	VetoEffectiveSize VetoType = "effective_size"
	VetoStationarity  VetoType = "stationarity"
	VetoPrecision     VetoType = "non_positive_precision"
)

// #endregion veto-type

// #region veto-signal
// VetoSignal represents a detected hard veto condition.
type VetoSignal struct {
	Type      VetoType `json:"type"`
	Parameter string   `json:"parameter"`
	Reason    string   `json:"reason"`
}

// #endregion veto-signal

// #region gate-config
// GateConfig holds thresholds for the burn-in convergence check.
type GateConfig struct {
	MaxRHat              float64 `yaml:"max_rhat" json:"max_rhat"`
	MinEffectiveSize     float64 `yaml:"min_ess" json:"min_ess"`
	MaxStationarityZ     float64 `yaml:"max_z" json:"max_z"`
	CorrelationThreshold float64 `yaml:"correlation_threshold" json:"correlation_threshold"`
}

// DefaultGateConfig returns the thresholds used when none are configured.
func DefaultGateConfig() GateConfig {
	return GateConfig{
		MaxRHat:              1.1,
		MinEffectiveSize:     100,
		MaxStationarityZ:     3,
		CorrelationThreshold: summary.DefaultCorrelationThreshold,
	}
}

// #endregion gate-config

// #region gate-decision
// GateDecision is the output of the gate evaluation.
type GateDecision struct {
	Action      string                       `json:"action"` // "proceed" | "extend"
	Reason      string                       `json:"reason"`
	Vetoed      bool                         `json:"vetoed"`
	VetoSignals []VetoSignal                 `json:"veto_signals,omitempty"`
	Warnings    []summary.ConvergenceWarning `json:"warnings,omitempty"`
	Diagnostics []summary.Diagnostic         `json:"diagnostics"`
	Correlation float64                      `json:"correlation"`
	SoftScore   float64                      `json:"soft_score"` // fraction of checks passed, for logging
}

// Converged reports whether the decision lets production start as is.
func (d GateDecision) Converged() bool {
	return d.Action == ActionProceed
}

// #endregion gate-decision
