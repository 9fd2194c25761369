package series

import (
	"fmt"
	"math"
	"slices"
	"sort"
	"strings"
	"time"
)

// #region seasons
// Seasons defines the calendar months of the two survey windows. Every
// summer month must precede every winter month within a calendar year.
type Seasons struct {
	Summer []time.Month `yaml:"summer" json:"summer"`
	Winter []time.Month `yaml:"winter" json:"winter"`
}

// DefaultSeasons returns the bi-annual waterbird count windows:
// summer counts in January to March, winter counts in June to August.
func DefaultSeasons() Seasons {
	return Seasons{
		Summer: []time.Month{time.January, time.February, time.March},
		Winter: []time.Month{time.June, time.July, time.August},
	}
}

// Validate checks that both windows are non-empty, valid and ordered.
func (s Seasons) Validate() error {
	if len(s.Summer) == 0 || len(s.Winter) == 0 {
		return fmt.Errorf("seasons: both summer and winter windows need at least one month")
	}
	for _, m := range append(slices.Clone(s.Summer), s.Winter...) {
		if m < time.January || m > time.December {
			return fmt.Errorf("seasons: invalid month %d", int(m))
		}
	}
	if slices.Max(s.Summer) >= slices.Min(s.Winter) {
		return fmt.Errorf("seasons: summer window must end before the winter window starts")
	}
	return nil
}

// VisitOf maps a month to its survey window.
func (s Seasons) VisitOf(m time.Month) (Visit, bool) {
	if slices.Contains(s.Summer, m) {
		return Summer, true
	}
	if slices.Contains(s.Winter, m) {
		return Winter, true
	}
	return 0, false
}

// NominalDate is the date given to a gap-filled placeholder: the first day
// of the window's first month.
func (s Seasons) NominalDate(year int, v Visit) time.Time {
	months := s.Summer
	if v == Winter {
		months = s.Winter
	}
	return time.Date(year, slices.Min(months), 1, 0, 0, 0, 0, time.UTC)
}

// #endregion seasons

// #region options
// Options controls data preparation.
type Options struct {
	Seasons Seasons
	// ZeroOffset, when positive, is added to every count before taking logs
	// so that zero counts contribute to the likelihood. When zero, zero
	// counts keep their slot but are excluded from the likelihood.
	ZeroOffset float64
}

// DefaultOptions returns the standard seasonal windows and no zero offset.
func DefaultOptions() Options {
	return Options{Seasons: DefaultSeasons()}
}

// #endregion options

// #region table
// Table holds the prepared series of every site present in the input.
type Table struct {
	Taxon  string
	Sites  []string // sorted; SiteIndex = position + 1
	series []Series
}

// Series returns the prepared series of one site.
func (t *Table) Series(site string) (Series, error) {
	for _, s := range t.series {
		if s.Site == site {
			return s, nil
		}
	}
	return Series{}, fmt.Errorf("site %q not in prepared table", site)
}

// All returns the prepared series ordered by site index.
func (t *Table) All() []Series {
	return slices.Clone(t.series)
}

// Rows returns every observation across sites, ordered by site then time.
func (t *Table) Rows() []Observation {
	var rows []Observation
	for _, s := range t.series {
		rows = append(rows, s.Observations...)
	}
	return rows
}

// #endregion table

// #region prepare

type occasion struct {
	year  int
	visit Visit
}

func (o occasion) before(other occasion) bool {
	if o.year != other.year {
		return o.year < other.year
	}
	return o.visit < other.visit
}

func nextOccasion(year int, v Visit) (int, Visit) {
	if v == Summer {
		return year, Winter
	}
	return year + 1, Summer
}

type occasionRecord struct {
	date     time.Time
	count    float64
	hasCount bool
}

// Prepare filters raw records to the seasonal windows, merges duplicates per
// survey occasion (maximum count wins), fills every missing occasion between
// the first and last retained one with a null placeholder, and assigns
// 1-based site, year, visit and step indices in chronological order.
// Records must all belong to one taxon. A site without any non-missing count
// stays in the table so its own fit reports the DataError; Prepare fails
// only when no site is usable.
func Prepare(records []CountRecord, opts Options) (*Table, error) {
	if err := opts.Seasons.Validate(); err != nil {
		return nil, err
	}
	if opts.ZeroOffset < 0 {
		return nil, fmt.Errorf("prepare: zero offset must be >= 0, got %g", opts.ZeroOffset)
	}

	bySite := make(map[string]map[occasion]*occasionRecord)
	taxon := ""
	firstYear := math.MaxInt
	retained := 0

	for _, r := range records {
		visit, ok := opts.Seasons.VisitOf(r.Date.Month())
		if !ok {
			continue
		}
		retained++
		if retained == 1 {
			taxon = r.Taxon
		} else if !strings.EqualFold(r.Taxon, taxon) {
			return nil, NewDataError("prepare", "records mix taxa %q and %q, prepare one taxon at a time", taxon, r.Taxon)
		}
		occ := occasion{year: r.Date.Year(), visit: visit}
		if occ.year < firstYear {
			firstYear = occ.year
		}
		occs, ok := bySite[r.Site]
		if !ok {
			occs = make(map[occasion]*occasionRecord)
			bySite[r.Site] = occs
		}
		cur, ok := occs[occ]
		if !ok {
			occs[occ] = &occasionRecord{date: r.Date, count: r.Count, hasCount: r.HasCount}
			continue
		}
		if r.HasCount && (!cur.hasCount || r.Count > cur.count) {
			cur.date, cur.count, cur.hasCount = r.Date, r.Count, true
		}
	}

	if retained == 0 {
		return nil, NewDataError("prepare", "no records fall inside the seasonal survey windows")
	}

	sites := make([]string, 0, len(bySite))
	for site := range bySite {
		sites = append(sites, site)
	}
	sort.Strings(sites)

	table := &Table{Taxon: taxon, Sites: sites}
	usable := 0
	for i, site := range sites {
		s := buildSiteSeries(site, i+1, taxon, firstYear, bySite[site], opts)
		if s.ObservedCount() > 0 {
			usable++
		}
		table.series = append(table.series, s)
	}
	if usable == 0 {
		return nil, NewDataError("prepare", "none of %d sites has a non-missing count", len(sites))
	}
	return table, nil
}

func buildSiteSeries(site string, siteIndex int, taxon string, firstYear int, occs map[occasion]*occasionRecord, opts Options) Series {
	keys := make([]occasion, 0, len(occs))
	for k := range occs {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].before(keys[j]) })
	first, last := keys[0], keys[len(keys)-1]

	s := Series{Site: site, Taxon: taxon, SiteIndex: siteIndex, ZeroOffset: opts.ZeroOffset}
	t := 0
	for occ := first; !last.before(occ); {
		t++
		obs := Observation{
			T:         t,
			Year:      occ.year,
			Visit:     occ.visit,
			SiteIndex: siteIndex,
			YearIndex: occ.year - firstYear + 1,
		}
		if rec, ok := occs[occ]; ok {
			obs.Date = rec.date
			if rec.hasCount {
				obs.Count = rec.count
				obs.Observed, obs.Y = logCount(rec.count, opts.ZeroOffset)
			}
		} else {
			obs.Date = opts.Seasons.NominalDate(occ.year, occ.visit)
			obs.Placeholder = true
		}
		s.Observations = append(s.Observations, obs)
		occ.year, occ.visit = nextOccasion(occ.year, occ.visit)
	}
	return s
}

func logCount(count, offset float64) (bool, float64) {
	v := count + offset
	if v <= 0 || math.IsNaN(v) || math.IsInf(v, 0) {
		return false, 0
	}
	return true, math.Log(v)
}

// ExpectedOccasions counts the survey occasions between two occasions,
// inclusive of both ends.
func ExpectedOccasions(firstYear int, firstVisit Visit, lastYear int, lastVisit Visit) int {
	first := (firstYear * 2) + int(firstVisit)
	last := (lastYear * 2) + int(lastVisit)
	if last < first {
		return 0
	}
	return last - first + 1
}

// #endregion prepare
