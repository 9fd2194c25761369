package series

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"
)

// #region provider
// Query selects the records of one taxon, optionally restricted to one site.
type Query struct {
	Taxon string
	Site  string
}

// Provider delivers raw count records. Implementations must support
// filtering by taxon and site; callers sort by date.
type Provider interface {
	Counts(ctx context.Context, q Query) ([]CountRecord, error)
}

// Filter keeps the records matching q. Empty query fields match everything.
func Filter(records []CountRecord, q Query) []CountRecord {
	out := make([]CountRecord, 0, len(records))
	for _, r := range records {
		if q.Taxon != "" && !strings.EqualFold(r.Taxon, q.Taxon) {
			continue
		}
		if q.Site != "" && r.Site != q.Site {
			continue
		}
		out = append(out, r)
	}
	return out
}

// SortByDate orders records chronologically, stable on ties.
func SortByDate(records []CountRecord) {
	sort.SliceStable(records, func(i, j int) bool {
		return records[i].Date.Before(records[j].Date)
	})
}

// #endregion provider

// #region csv-provider
// CSVProvider reads counts from a local CSV export with a header containing
// at least date, site, taxon and count columns.
type CSVProvider struct {
	path string
}

// NewCSVProvider returns a provider reading the given file on every call.
func NewCSVProvider(path string) *CSVProvider {
	return &CSVProvider{path: path}
}

// Counts reads, filters and date-sorts the file's records.
func (p *CSVProvider) Counts(ctx context.Context, q Query) ([]CountRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f, err := os.Open(p.path)
	if err != nil {
		return nil, fmt.Errorf("open counts %s: %w", p.path, err)
	}
	defer f.Close()

	records, err := ReadCSV(f)
	if err != nil {
		return nil, fmt.Errorf("read counts %s: %w", p.path, err)
	}
	records = Filter(records, q)
	SortByDate(records)
	return records, nil
}

var dateLayouts = []string{"2006-01-02", "2006/01/02", time.RFC3339, "02/01/2006"}

// ReadCSV parses count records. Empty, "NA" and "NaN" counts are read as
// missing.
func ReadCSV(r io.Reader) ([]CountRecord, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	cols := make(map[string]int, len(header))
	for i, h := range header {
		cols[strings.ToLower(strings.TrimSpace(h))] = i
	}
	for _, name := range []string{"date", "site", "taxon", "count"} {
		if _, ok := cols[name]; !ok {
			return nil, fmt.Errorf("missing column %q", name)
		}
	}

	var records []CountRecord
	line := 1
	for {
		row, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		line++
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		date, err := parseDate(row[cols["date"]])
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		rec := CountRecord{
			Date:  date,
			Site:  strings.TrimSpace(row[cols["site"]]),
			Taxon: strings.TrimSpace(row[cols["taxon"]]),
		}
		raw := strings.TrimSpace(row[cols["count"]])
		switch strings.ToUpper(raw) {
		case "", "NA", "NAN":
		default:
			v, err := strconv.ParseFloat(raw, 64)
			if err != nil {
				return nil, fmt.Errorf("line %d: parse count %q: %w", line, raw, err)
			}
			if v < 0 {
				return nil, fmt.Errorf("line %d: negative count %g", line, v)
			}
			rec.Count, rec.HasCount = v, true
		}
		records = append(records, rec)
	}
	return records, nil
}

func parseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised date %q", s)
}

// #endregion csv-provider
