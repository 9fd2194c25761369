package series

import "math"

// #region snapshot
// Snapshot is the JSON form of a series. Counts that do not enter the
// likelihood and missing covariates are null so the document stays valid
// JSON. ZeroOffset is kept so zero counts rebuild with the same y.
type Snapshot struct {
	Site       string     `json:"site"`
	Taxon      string     `json:"taxon,omitempty"`
	StartYear  int        `json:"start_year"`
	StartVisit Visit      `json:"start_visit,omitempty"`
	ZeroOffset float64    `json:"zero_offset,omitempty"`
	Counts     []*float64 `json:"counts"`
	Covariates []*float64 `json:"covariates,omitempty"`
}

// Snapshot captures the counts and covariates of s.
func (s Series) Snapshot() Snapshot {
	sn := Snapshot{Site: s.Site, Taxon: s.Taxon, ZeroOffset: s.ZeroOffset, Counts: make([]*float64, len(s.Observations))}
	if len(s.Observations) > 0 {
		sn.StartYear = s.Observations[0].Year
		sn.StartVisit = s.Observations[0].Visit
	}
	hasCov := false
	covs := make([]*float64, len(s.Observations))
	for i, o := range s.Observations {
		if o.Observed {
			c := o.Count
			sn.Counts[i] = &c
		}
		if o.HasCovariate {
			v := o.Covariate
			covs[i] = &v
			hasCov = true
		}
	}
	if hasCov {
		sn.Covariates = covs
	}
	return sn
}

// Series rebuilds the series. Dates are the nominal dates of each visit.
func (sn Snapshot) Series() Series {
	counts := make([]float64, len(sn.Counts))
	for i, c := range sn.Counts {
		counts[i] = math.NaN()
		if c != nil {
			counts[i] = *c
		}
	}
	visit := sn.StartVisit
	if visit != Winter {
		visit = Summer
	}
	s := fromCounts(sn.Site, sn.StartYear, visit, counts, sn.ZeroOffset)
	s.Taxon = sn.Taxon
	for i, v := range sn.Covariates {
		if v != nil && i < len(s.Observations) {
			s.Observations[i].Covariate = *v
			s.Observations[i].HasCovariate = true
		}
	}
	return s
}

// #endregion snapshot
