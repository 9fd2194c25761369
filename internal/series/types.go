package series

import (
	"fmt"
	"math"
	"time"
)

// #region count-record
// CountRecord is a single raw survey count as delivered by a count provider.
// HasCount is false when the survey happened but no count was recorded.
type CountRecord struct {
	Date     time.Time
	Site     string
	Taxon    string
	Count    float64
	HasCount bool
}

// #endregion count-record

// #region visit
// Visit is the within-year survey occasion.
type Visit int

const (
	Summer Visit = 1
	Winter Visit = 2
)

func (v Visit) String() string {
	switch v {
	case Summer:
		return "summer"
	case Winter:
		return "winter"
	default:
		return fmt.Sprintf("visit(%d)", int(v))
	}
}

// #endregion visit

// #region observation
// Observation is one evenly spaced step of a prepared series. Missing counts
// keep their slot in the latent chain but carry Observed=false.
type Observation struct {
	T         int // 1-based step index
	Date      time.Time
	Year      int
	Visit     Visit
	SiteIndex int
	YearIndex int

	Count       float64
	Observed    bool
	Placeholder bool    // inserted by gap filling
	Y           float64 // ln(count [+ offset]), valid only when Observed

	Covariate    float64
	HasCovariate bool
}

// #endregion observation

// #region series
// Series is the univariate, gap-filled count series of one site and taxon.
type Series struct {
	Site         string
	Taxon        string
	SiteIndex    int
	ZeroOffset   float64 // added to counts before taking logs
	Observations []Observation
}

// Len returns the number of time steps, including missing ones.
func (s Series) Len() int {
	return len(s.Observations)
}

// ObservedCount returns how many steps carry a usable count.
func (s Series) ObservedCount() int {
	n := 0
	for _, o := range s.Observations {
		if o.Observed {
			n++
		}
	}
	return n
}

// ObservedCounts returns the linear-scale counts of the observed steps in order.
func (s Series) ObservedCounts() []float64 {
	out := make([]float64, 0, len(s.Observations))
	for _, o := range s.Observations {
		if o.Observed {
			out = append(out, o.Count)
		}
	}
	return out
}

// ObservedLogs returns y_t of the observed steps in order.
func (s Series) ObservedLogs() []float64 {
	out := make([]float64, 0, len(s.Observations))
	for _, o := range s.Observations {
		if o.Observed {
			out = append(out, o.Y)
		}
	}
	return out
}

// LogCounts returns y_t for every step, NaN where the count is missing.
func (s Series) LogCounts() []float64 {
	out := make([]float64, len(s.Observations))
	for i, o := range s.Observations {
		if o.Observed {
			out[i] = o.Y
		} else {
			out[i] = math.NaN()
		}
	}
	return out
}

// Clone returns a deep copy so joins never mutate a caller's series.
func (s Series) Clone() Series {
	c := s
	c.Observations = make([]Observation, len(s.Observations))
	copy(c.Observations, s.Observations)
	return c
}

// Key identifies the series in stores and logs.
func (s Series) Key() string {
	return s.Site + "/" + s.Taxon
}

// Usable checks the minimum a state-space fit needs: at least two time
// steps and at least two observed counts.
func (s Series) Usable() error {
	if s.ObservedCount() == 0 {
		return NewDataError("usable", "series %s has no non-missing counts", s.Key())
	}
	if s.Len() < 2 {
		return NewDataError("usable", "series %s has %d time points, need at least 2", s.Key(), s.Len())
	}
	if s.ObservedCount() < 2 {
		return NewDataError("usable", "series %s has %d observed counts, need at least 2", s.Key(), s.ObservedCount())
	}
	return nil
}

// #endregion series

// #region from-counts
// FromCounts builds a series directly from a count vector, NaN marking a
// missing count. Steps alternate summer/winter starting in the given year.
// Zero counts are treated as missing on the log scale.
func FromCounts(site string, startYear int, counts []float64) Series {
	return FromCountsAt(site, startYear, Summer, counts)
}

// FromCountsAt is FromCounts with an explicit first visit.
func FromCountsAt(site string, startYear int, startVisit Visit, counts []float64) Series {
	return fromCounts(site, startYear, startVisit, counts, 0)
}

func fromCounts(site string, startYear int, startVisit Visit, counts []float64, offset float64) Series {
	s := Series{Site: site, SiteIndex: 1, ZeroOffset: offset}
	seasons := DefaultSeasons()
	year, visit := startYear, startVisit
	for i, c := range counts {
		obs := Observation{
			T:         i + 1,
			Date:      seasons.NominalDate(year, visit),
			Year:      year,
			Visit:     visit,
			SiteIndex: 1,
			YearIndex: year - startYear + 1,
		}
		if !math.IsNaN(c) {
			obs.Count = c
			obs.Observed, obs.Y = logCount(c, offset)
		}
		s.Observations = append(s.Observations, obs)
		year, visit = nextOccasion(year, visit)
	}
	return s
}

// #endregion from-counts
