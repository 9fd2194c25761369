package model

import (
	"fmt"
	"math"
	"sort"

	"github.com/danielpatrickdp/waterbird-state/go-estimator/internal/series"
)

// #region build-options
// BuildOptions controls how a prepared series becomes a Specification.
type BuildOptions struct {
	// Link defaults to RandomWalk.
	Link Link
	// Priors defaults to DefaultPriors with x_ic derived from the data.
	Priors *Priors
	// InitialScale, when positive, sets x_ic = ln(InitialScale).
	InitialScale float64
}

// #endregion build-options

// #region build
// Build turns a prepared series into a validated model specification. Each
// observed step gets one likelihood relation; each step t >= 2 gets one
// process relation whose design terms come from the link.
func Build(s series.Series, opts BuildOptions) (*Specification, error) {
	if err := s.Usable(); err != nil {
		return nil, err
	}
	link := opts.Link
	if link == nil {
		link = RandomWalk{}
	}

	priors := DefaultPriors()
	if opts.Priors != nil {
		priors = *opts.Priors
	} else {
		priors.InitialState.Mean = InitialStateMean(s, opts.InitialScale)
	}
	if opts.Priors != nil && opts.InitialScale > 0 {
		priors.InitialState.Mean = math.Log(opts.InitialScale)
	}

	spec := &Specification{
		N:            s.Len(),
		Link:         link.Name(),
		Coefficients: link.Coefficients(),
		Priors:       priors,
	}
	for _, o := range s.Observations {
		if o.Observed {
			spec.Observations = append(spec.Observations, ObservationRelation{T: o.T, Y: o.Y})
		}
		if o.T == 1 {
			continue
		}
		design, err := link.Design(o)
		if err != nil {
			return nil, err
		}
		if len(design) != link.Coefficients() {
			return nil, fmt.Errorf("build: link %s returned %d design terms, want %d", link.Name(), len(design), link.Coefficients())
		}
		spec.Transitions = append(spec.Transitions, TransitionRelation{T: o.T, Design: design})
	}

	if err := spec.Validate(); err != nil {
		return nil, fmt.Errorf("build %s: %w", s.Key(), err)
	}
	return spec, nil
}

// InitialStateMean returns ln(scale) when scale is positive, otherwise the
// log of the median observed count (plus the series' zero offset) floored
// at 1.
func InitialStateMean(s series.Series, scale float64) float64 {
	if scale > 0 {
		return math.Log(scale)
	}
	counts := s.ObservedCounts()
	if len(counts) == 0 {
		return 0
	}
	sorted := append([]float64(nil), counts...)
	sort.Float64s(sorted)
	mid := len(sorted) / 2
	median := sorted[mid]
	if len(sorted)%2 == 0 {
		median = (sorted[mid-1] + sorted[mid]) / 2
	}
	return math.Log(math.Max(1, median+s.ZeroOffset))
}

// #endregion build
