package fit

import (
	"errors"
	"fmt"

	"github.com/danielpatrickdp/waterbird-state/go-estimator/internal/engine"
	"github.com/danielpatrickdp/waterbird-state/go-estimator/internal/eval"
	"github.com/danielpatrickdp/waterbird-state/go-estimator/internal/gate"
	"github.com/danielpatrickdp/waterbird-state/go-estimator/internal/model"
	"github.com/danielpatrickdp/waterbird-state/go-estimator/internal/series"
	"github.com/danielpatrickdp/waterbird-state/go-estimator/internal/summary"
)

var (
	// ErrNotConverged is returned in strict mode when burn-in extensions run
	// out before the gate passes.
	ErrNotConverged = errors.New("burn-in did not converge")
	// ErrEvalFailed is returned when the production matrix fails a hard
	// posterior check.
	ErrEvalFailed = errors.New("posterior checks failed")
)

// #region config
// Config controls one fit.
type Config struct {
	Chains        int    `yaml:"chains" json:"chains"`
	BurnIn        int    `yaml:"burn_in" json:"burn_in"`
	Iterations    int    `yaml:"iterations" json:"iterations"`
	Thin          int    `yaml:"thin" json:"thin"`
	MaxExtensions int    `yaml:"max_extensions" json:"max_extensions"`
	Strict        bool   `yaml:"strict" json:"strict"`
	Seed          uint64 `yaml:"seed" json:"seed,string"`
	Link          string `yaml:"link" json:"link"`

	// InitialScale, when positive, centres the initial state prior on
	// ln(InitialScale) instead of the median count.
	InitialScale float64       `yaml:"initial_scale" json:"initial_scale,omitempty"`
	Priors       *model.Priors `yaml:"priors" json:"priors,omitempty"`

	Gate gate.GateConfig `yaml:"gate" json:"gate"`
	Eval eval.EvalConfig `yaml:"eval" json:"eval"`
}

// DefaultConfig returns three chains, a 1000 iteration burn-in and a 5000
// iteration production run on a random walk.
func DefaultConfig() Config {
	return Config{
		Chains:        model.RecommendedChains,
		BurnIn:        1000,
		Iterations:    5000,
		Thin:          1,
		MaxExtensions: 2,
		Seed:          1,
		Link:          model.LinkRandomWalk,
		Gate:          gate.DefaultGateConfig(),
		Eval:          eval.DefaultEvalConfig(),
	}
}

// Validate rejects configurations no fit could run with.
func (c Config) Validate() error {
	switch {
	case c.Chains < 1:
		return fmt.Errorf("fit config: chains must be positive, got %d", c.Chains)
	case c.BurnIn < 4:
		return fmt.Errorf("fit config: burn-in must be at least 4, got %d", c.BurnIn)
	case c.Iterations < 1:
		return fmt.Errorf("fit config: iterations must be positive, got %d", c.Iterations)
	case c.Thin < 0:
		return fmt.Errorf("fit config: negative thin %d", c.Thin)
	case c.MaxExtensions < 0:
		return fmt.Errorf("fit config: negative max extensions %d", c.MaxExtensions)
	}
	if _, err := model.LinkByName(c.Link); err != nil {
		return fmt.Errorf("fit config: %w", err)
	}
	if c.Priors != nil {
		if err := c.Priors.Validate(); err != nil {
			return fmt.Errorf("fit config: %w", err)
		}
	}
	return nil
}

// #endregion config

// #region attempt
// Attempt is one burn-in run and the gate decision on it.
type Attempt struct {
	Number   int               `json:"number"`
	BurnIn   int               `json:"burn_in"`
	Seed     uint64            `json:"seed,string"`
	Decision gate.GateDecision `json:"decision"`
}

// #endregion attempt

// #region result
// Result is the outcome of a fit. On failure Stage is StageFailed and only
// the fields filled before the failure are set.
type Result struct {
	FitID       string                       `json:"fit_id"`
	Series      series.Series                `json:"-"`
	Spec        *model.Specification         `json:"spec,omitempty"`
	Inits       []model.ChainInit            `json:"inits,omitempty"`
	Stage       Stage                        `json:"stage"`
	History     []Stage                      `json:"history"`
	Attempts    []Attempt                    `json:"attempts"`
	BurnIn      int                          `json:"burn_in"`
	Provisional bool                         `json:"provisional"`
	Warnings    []summary.ConvergenceWarning `json:"warnings,omitempty"`
	Samples     *engine.Samples              `json:"-"`
	Summary     *summary.Summary             `json:"summary,omitempty"`
	Eval        eval.EvalResult              `json:"eval"`
}

// Converged reports whether the last burn-in attempt passed the gate.
func (r *Result) Converged() bool {
	return len(r.Attempts) > 0 && r.Attempts[len(r.Attempts)-1].Decision.Converged()
}

// #endregion result
