package model

import (
	"fmt"

	"github.com/danielpatrickdp/waterbird-state/go-estimator/internal/series"
)

// #region link
// Link turns the covariate of step t into the design terms of the process
// relation x_t ~ Normal(x_{t-1} + beta·d_t, tau_add). The link is a
// modelling choice of the caller; the builder only evaluates it.
type Link interface {
	Name() string
	Coefficients() int
	Design(o series.Observation) ([]float64, error)
}

// Link names accepted by LinkByName and configuration.
const (
	LinkRandomWalk = "random_walk"
	LinkLinear     = "linear"
	LinkSeasonal   = "seasonal"
)

// RandomWalk is the covariate-free process x_t ~ Normal(x_{t-1}, tau_add).
type RandomWalk struct{}

func (RandomWalk) Name() string      { return LinkRandomWalk }
func (RandomWalk) Coefficients() int { return 0 }
func (RandomWalk) Design(series.Observation) ([]float64, error) {
	return nil, nil
}

// LinearCovariate adds beta1·c_t on the log scale.
type LinearCovariate struct{}

func (LinearCovariate) Name() string      { return LinkLinear }
func (LinearCovariate) Coefficients() int { return 1 }
func (LinearCovariate) Design(o series.Observation) ([]float64, error) {
	if !o.HasCovariate {
		return nil, missingCovariate(o)
	}
	return []float64{o.Covariate}, nil
}

// SeasonalCovariate adds beta1·c_t plus a winter offset beta2.
type SeasonalCovariate struct{}

func (SeasonalCovariate) Name() string      { return LinkSeasonal }
func (SeasonalCovariate) Coefficients() int { return 2 }
func (SeasonalCovariate) Design(o series.Observation) ([]float64, error) {
	if !o.HasCovariate {
		return nil, missingCovariate(o)
	}
	winter := 0.0
	if o.Visit == series.Winter {
		winter = 1
	}
	return []float64{o.Covariate, winter}, nil
}

// LinkByName resolves a configured link name.
func LinkByName(name string) (Link, error) {
	switch name {
	case "", LinkRandomWalk:
		return RandomWalk{}, nil
	case LinkLinear:
		return LinearCovariate{}, nil
	case LinkSeasonal:
		return SeasonalCovariate{}, nil
	default:
		return nil, fmt.Errorf("unknown link %q", name)
	}
}

// RequiresCovariate reports whether a link needs a covariate on every step.
func RequiresCovariate(l Link) bool {
	return l != nil && l.Coefficients() > 0 && l.Name() != LinkRandomWalk
}

func missingCovariate(o series.Observation) error {
	return series.NewDataError("design", "step %d (%s) has no covariate value", o.T, o.Date.Format("2006-01"))
}

// #endregion link
