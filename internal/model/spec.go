package model

import (
	"errors"
	"fmt"
	"math"
	"strings"
)

// Variable names shared by specifications, engines and summaries.
const (
	VarTauAdd = "tau_add"
	VarTauObs = "tau_obs"
	VarX      = "x"
	VarBeta   = "beta"
)

// ErrInvalidSpec is wrapped by every static validation failure.
var ErrInvalidSpec = errors.New("invalid model specification")

// #region priors
// NormalPrior is a Normal distribution parameterised by precision.
type NormalPrior struct {
	Mean      float64 `json:"mean" yaml:"mean"`
	Precision float64 `json:"precision" yaml:"precision"`
}

// GammaPrior is a Gamma distribution with shape a and rate r.
type GammaPrior struct {
	Shape float64 `json:"shape" yaml:"shape"`
	Rate  float64 `json:"rate" yaml:"rate"`
}

// Mean returns a/r.
func (g GammaPrior) Mean() float64 {
	return g.Shape / g.Rate
}

// Priors holds the fixed hyperparameters of a fit.
type Priors struct {
	InitialState         NormalPrior `json:"initial_state" yaml:"initial_state"`
	ProcessPrecision     GammaPrior  `json:"process_precision" yaml:"process_precision"`
	ObservationPrecision GammaPrior  `json:"observation_precision" yaml:"observation_precision"`
	Coefficient          NormalPrior `json:"coefficient" yaml:"coefficient"`
}

// DefaultPriors returns weak priors: Gamma(1, 1) on both precisions, an
// initial state centred on ln(1000) with precision 100, and N(0, 100) on
// covariate coefficients.
func DefaultPriors() Priors {
	return Priors{
		InitialState:         NormalPrior{Mean: math.Log(1000), Precision: 100},
		ProcessPrecision:     GammaPrior{Shape: 1, Rate: 1},
		ObservationPrecision: GammaPrior{Shape: 1, Rate: 1},
		Coefficient:          NormalPrior{Mean: 0, Precision: 0.01},
	}
}

// Validate checks every hyperparameter is finite and positive where needed.
func (p Priors) Validate() error {
	if !finite(p.InitialState.Mean) || !(p.InitialState.Precision > 0) {
		return fmt.Errorf("%w: initial state prior N(%g, %g)", ErrInvalidSpec, p.InitialState.Mean, p.InitialState.Precision)
	}
	for name, g := range map[string]GammaPrior{"process": p.ProcessPrecision, "observation": p.ObservationPrecision} {
		if !(g.Shape > 0) || !(g.Rate > 0) || !finite(g.Shape) || !finite(g.Rate) {
			return fmt.Errorf("%w: %s precision prior Gamma(%g, %g)", ErrInvalidSpec, name, g.Shape, g.Rate)
		}
	}
	if !finite(p.Coefficient.Mean) || !(p.Coefficient.Precision > 0) {
		return fmt.Errorf("%w: coefficient prior N(%g, %g)", ErrInvalidSpec, p.Coefficient.Mean, p.Coefficient.Precision)
	}
	return nil
}

// #endregion priors

// #region relations
// ObservationRelation is y_t ~ Normal(x_t, tau_obs) for one observed step.
type ObservationRelation struct {
	T int     `json:"t"`
	Y float64 `json:"y"`
}

// TransitionRelation is x_t ~ Normal(x_{t-1} + beta·Design, tau_add).
// Design is empty for a plain random walk.
type TransitionRelation struct {
	T      int       `json:"t"`
	Design []float64 `json:"design,omitempty"`
}

// Specification is the declarative state-space model handed to a sampling
// engine. It is plain data so it can be validated before dispatch and sent
// over the wire unchanged.
type Specification struct {
	N            int                   `json:"n"`
	Link         string                `json:"link"`
	Coefficients int                   `json:"coefficients"`
	Observations []ObservationRelation `json:"observations"`
	Transitions  []TransitionRelation  `json:"transitions"`
	Priors       Priors                `json:"priors"`
}

// Validate performs the static checks an engine relies on.
func (s *Specification) Validate() error {
	if s == nil {
		return fmt.Errorf("%w: nil specification", ErrInvalidSpec)
	}
	if s.N < 2 {
		return fmt.Errorf("%w: need at least 2 time steps, got %d", ErrInvalidSpec, s.N)
	}
	if len(s.Observations) == 0 {
		return fmt.Errorf("%w: no observation relations", ErrInvalidSpec)
	}
	prev := 0
	for _, o := range s.Observations {
		if o.T <= prev || o.T > s.N {
			return fmt.Errorf("%w: observation index %d out of order or range", ErrInvalidSpec, o.T)
		}
		if !finite(o.Y) {
			return fmt.Errorf("%w: observation y[%d] is not finite", ErrInvalidSpec, o.T)
		}
		prev = o.T
	}
	if len(s.Transitions) != s.N-1 {
		return fmt.Errorf("%w: expected %d transition relations, got %d", ErrInvalidSpec, s.N-1, len(s.Transitions))
	}
	if s.Coefficients < 0 {
		return fmt.Errorf("%w: negative coefficient count", ErrInvalidSpec)
	}
	for i, tr := range s.Transitions {
		if tr.T != i+2 {
			return fmt.Errorf("%w: transition %d has index %d, want %d", ErrInvalidSpec, i, tr.T, i+2)
		}
		if len(tr.Design) != s.Coefficients {
			return fmt.Errorf("%w: transition x[%d] has %d design terms, want %d", ErrInvalidSpec, tr.T, len(tr.Design), s.Coefficients)
		}
		for _, d := range tr.Design {
			if !finite(d) {
				return fmt.Errorf("%w: transition x[%d] has a non-finite design term", ErrInvalidSpec, tr.T)
			}
		}
	}
	return s.Priors.Validate()
}

// Observed reports, per step, whether a likelihood term exists and its y.
func (s *Specification) Observed() ([]bool, []float64) {
	mask := make([]bool, s.N)
	y := make([]float64, s.N)
	for _, o := range s.Observations {
		mask[o.T-1] = true
		y[o.T-1] = o.Y
	}
	return mask, y
}

// Variables lists the sampled variable names of this specification.
func (s *Specification) Variables() []string {
	vars := []string{VarTauAdd, VarTauObs, VarX}
	if s.Coefficients > 0 {
		vars = append(vars, VarBeta)
	}
	return vars
}

// #endregion relations

// #region relation-list
// RelationKind tags an entry of the relation list.
type RelationKind string

const (
	KindLikelihood RelationKind = "likelihood"
	KindTransition RelationKind = "transition"
	KindPrior      RelationKind = "prior"
)

// Relation is one stochastic node in the model graph.
type Relation struct {
	Kind         RelationKind
	Node         string
	Distribution string
	Args         []string
}

func (r Relation) String() string {
	return fmt.Sprintf("%s ~ %s(%s)", r.Node, r.Distribution, strings.Join(r.Args, ", "))
}

// Relations expands the specification into its tagged relation list: one
// likelihood per observed step, one transition per step t >= 2, and the
// priors.
func (s *Specification) Relations() []Relation {
	out := make([]Relation, 0, len(s.Observations)+len(s.Transitions)+3+s.Coefficients)
	for _, o := range s.Observations {
		out = append(out, Relation{
			Kind: KindLikelihood, Node: fmt.Sprintf("y[%d]", o.T),
			Distribution: "dnorm", Args: []string{fmt.Sprintf("x[%d]", o.T), VarTauObs},
		})
	}
	for _, tr := range s.Transitions {
		mean := fmt.Sprintf("x[%d]", tr.T-1)
		for k, d := range tr.Design {
			mean += fmt.Sprintf(" + beta[%d]*%g", k+1, d)
		}
		out = append(out, Relation{
			Kind: KindTransition, Node: fmt.Sprintf("x[%d]", tr.T),
			Distribution: "dnorm", Args: []string{mean, VarTauAdd},
		})
	}
	p := s.Priors
	out = append(out,
		Relation{Kind: KindPrior, Node: "x[1]", Distribution: "dnorm",
			Args: []string{fmtF(p.InitialState.Mean), fmtF(p.InitialState.Precision)}},
		Relation{Kind: KindPrior, Node: VarTauObs, Distribution: "dgamma",
			Args: []string{fmtF(p.ObservationPrecision.Shape), fmtF(p.ObservationPrecision.Rate)}},
		Relation{Kind: KindPrior, Node: VarTauAdd, Distribution: "dgamma",
			Args: []string{fmtF(p.ProcessPrecision.Shape), fmtF(p.ProcessPrecision.Rate)}},
	)
	for k := 1; k <= s.Coefficients; k++ {
		out = append(out, Relation{Kind: KindPrior, Node: fmt.Sprintf("beta[%d]", k), Distribution: "dnorm",
			Args: []string{fmtF(p.Coefficient.Mean), fmtF(p.Coefficient.Precision)}})
	}
	return out
}

// Count returns how many relations of the given kind the model contains.
func (s *Specification) Count(kind RelationKind) int {
	switch kind {
	case KindLikelihood:
		return len(s.Observations)
	case KindTransition:
		return len(s.Transitions)
	case KindPrior:
		return 3 + s.Coefficients
	}
	return 0
}

// #endregion relation-list

// #region text
// Text renders the model in BUGS/JAGS syntax for engines that consume model
// text. The names match the keys of Data.
func (s *Specification) Text() string {
	var b strings.Builder
	b.WriteString("model{\n")
	b.WriteString("  #### Data Model\n")
	b.WriteString("  for(i in 1:n_obs){\n    y_obs[i] ~ dnorm(x[obs_t[i]], tau_obs)\n  }\n")
	b.WriteString("  #### Process Model\n")
	b.WriteString("  for(t in 2:n){\n")
	if s.Coefficients > 0 {
		b.WriteString("    mu[t] <- x[t-1] + inprod(beta[], d[t,])\n")
	} else {
		b.WriteString("    mu[t] <- x[t-1]\n")
	}
	b.WriteString("    x[t] ~ dnorm(mu[t], tau_add)\n  }\n")
	b.WriteString("  #### Priors\n")
	b.WriteString("  x[1] ~ dnorm(x_ic, tau_ic)\n")
	b.WriteString("  tau_obs ~ dgamma(a_obs, r_obs)\n")
	b.WriteString("  tau_add ~ dgamma(a_add, r_add)\n")
	if s.Coefficients > 0 {
		b.WriteString("  for(k in 1:n_beta){\n    beta[k] ~ dnorm(b_mean, b_prec)\n  }\n")
	}
	b.WriteString("}\n")
	return b.String()
}

// Data returns the numeric payload keyed by the names used in Text.
func (s *Specification) Data() map[string]any {
	obsT := make([]int, len(s.Observations))
	yObs := make([]float64, len(s.Observations))
	for i, o := range s.Observations {
		obsT[i], yObs[i] = o.T, o.Y
	}
	p := s.Priors
	data := map[string]any{
		"n":      s.N,
		"n_obs":  len(s.Observations),
		"obs_t":  obsT,
		"y_obs":  yObs,
		"x_ic":   p.InitialState.Mean,
		"tau_ic": p.InitialState.Precision,
		"a_obs":  p.ObservationPrecision.Shape,
		"r_obs":  p.ObservationPrecision.Rate,
		"a_add":  p.ProcessPrecision.Shape,
		"r_add":  p.ProcessPrecision.Rate,
	}
	if s.Coefficients > 0 {
		d := make([][]float64, s.N)
		d[0] = make([]float64, s.Coefficients)
		for _, tr := range s.Transitions {
			d[tr.T-1] = append([]float64(nil), tr.Design...)
		}
		data["n_beta"] = s.Coefficients
		data["d"] = d
		data["b_mean"] = p.Coefficient.Mean
		data["b_prec"] = p.Coefficient.Precision
	}
	return data
}

// #endregion text

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

func fmtF(v float64) string {
	return fmt.Sprintf("%g", v)
}
