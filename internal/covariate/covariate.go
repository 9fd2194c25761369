package covariate

import (
	"context"
	"fmt"
	"time"

	"github.com/danielpatrickdp/waterbird-state/go-estimator/internal/series"
)

// #region types
// Record is one monthly environmental covariate value.
type Record struct {
	Year  int     `json:"year"`
	Month int     `json:"month"`
	Value float64 `json:"value"`
}

// Key is the (year, month) join key.
type Key struct {
	Year  int
	Month int
}

// KeyOf extracts the join key of a date.
func KeyOf(t time.Time) Key {
	return Key{Year: t.Year(), Month: int(t.Month())}
}

// Provider delivers covariate records covering at least [from, to] in years.
type Provider interface {
	Covariates(ctx context.Context, fromYear, toYear int) ([]Record, error)
}

// #endregion types

// #region join
// Join left-joins covariate values onto a copy of the series by the (year,
// month) of each observation's date. Unmatched rows keep a null covariate
// unless mandatory is set, in which case they are a DataError. Duplicate
// covariate keys resolve to the last record.
func Join(s series.Series, records []Record, mandatory bool) (series.Series, error) {
	index := make(map[Key]float64, len(records))
	for _, r := range records {
		index[Key{Year: r.Year, Month: r.Month}] = r.Value
	}

	out := s.Clone()
	var unmatched []string
	for i := range out.Observations {
		o := &out.Observations[i]
		v, ok := index[KeyOf(o.Date)]
		if !ok {
			o.Covariate, o.HasCovariate = 0, false
			unmatched = append(unmatched, o.Date.Format("2006-01"))
			continue
		}
		o.Covariate, o.HasCovariate = v, true
	}

	if mandatory && len(unmatched) > 0 {
		return series.Series{}, series.NewDataError("covariate join",
			"%d of %d steps of %s have no covariate (first missing %s)",
			len(unmatched), len(out.Observations), s.Key(), unmatched[0])
	}
	return out, nil
}

// #endregion join

// #region coverage
// Missing lists the (year, month) keys in [fromYear, toYear] that have no
// record, in chronological order.
func Missing(records []Record, fromYear, toYear int) []Key {
	have := make(map[Key]bool, len(records))
	for _, r := range records {
		have[Key{Year: r.Year, Month: r.Month}] = true
	}
	var out []Key
	for y := fromYear; y <= toYear; y++ {
		for m := 1; m <= 12; m++ {
			k := Key{Year: y, Month: m}
			if !have[k] {
				out = append(out, k)
			}
		}
	}
	return out
}

// YearSpan returns the first and last calendar years of a series.
func YearSpan(s series.Series) (int, int, error) {
	if s.Len() == 0 {
		return 0, 0, fmt.Errorf("year span: empty series %s", s.Key())
	}
	return s.Observations[0].Date.Year(), s.Observations[s.Len()-1].Date.Year(), nil
}

// #endregion coverage
