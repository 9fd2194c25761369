package logging

import (
	"time"

	"github.com/danielpatrickdp/waterbird-state/go-estimator/internal/gate"
	"github.com/danielpatrickdp/waterbird-state/go-estimator/internal/summary"
)

// Trigger types recorded with each decision.
const (
	TriggerInit       = "init"
	TriggerBurnIn     = "burn_in"
	TriggerProduction = "production"
	TriggerRollback   = "rollback"
)

// #region provenance-entry
// ProvenanceEntry is a single row in the provenance_log table.
type ProvenanceEntry struct {
	FitID           string
	SeriesKey       string
	Stage           string
	TriggerType     string
	DiagnosticsJSON string
	Decision        string // "proceed" | "extend" | "commit" | "fail" | "rollback"
	Reason          string
	CreatedAt       time.Time
}

// #endregion provenance-entry

// #region gate-record
// GateRecord captures the complete convergence-gate inputs for one burn-in
// attempt. Serialized as JSON into provenance_log.diagnostics_json so the
// decision can be replayed.
type GateRecord struct {
	Attempt int    `json:"attempt"`
	BurnIn  int    `json:"burn_in"`
	Chains  int    `json:"chains"`
	Seed    uint64 `json:"seed"`

	// Chain statistics as evaluated at runtime
	Diagnostics []summary.Diagnostic `json:"diagnostics"`
	Correlation float64              `json:"correlation"`

	// Gate thresholds active at decision time
	Thresholds gate.GateConfig `json:"thresholds"`

	// Gate output
	GateAction    string                       `json:"gate_action"`
	GateSoftScore float64                      `json:"gate_soft_score"`
	GateVetoed    bool                         `json:"gate_vetoed"`
	GateReason    string                       `json:"gate_reason"`
	VetoSignals   []gate.VetoSignal            `json:"veto_signals,omitempty"`
	Warnings      []summary.ConvergenceWarning `json:"warnings,omitempty"`
}

// NewGateRecord flattens a gate decision for logging.
func NewGateRecord(attempt, burnIn, chains int, seed uint64, cfg gate.GateConfig, d gate.GateDecision) GateRecord {
	return GateRecord{
		Attempt:       attempt,
		BurnIn:        burnIn,
		Chains:        chains,
		Seed:          seed,
		Diagnostics:   d.Diagnostics,
		Correlation:   d.Correlation,
		Thresholds:    cfg,
		GateAction:    d.Action,
		GateSoftScore: d.SoftScore,
		GateVetoed:    d.Vetoed,
		GateReason:    d.Reason,
		VetoSignals:   d.VetoSignals,
		Warnings:      d.Warnings,
	}
}

// #endregion gate-record
