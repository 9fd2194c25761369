package store

import "time"

// Fit stages as persisted.
const (
	StageSummarized = "summarized"
	StageFailed     = "failed"
)

// #region fit-record
// FitRecord is one persisted fit of a site/taxon series. ParentID links to
// the fit that was active for the same series when this one was committed.
type FitRecord struct {
	FitID           string
	ParentID        string
	SeriesKey       string
	Site            string
	Taxon           string
	Link            string
	Stage           string
	Provisional     bool
	Seed            uint64
	SeriesJSON      string
	ConfigJSON      string
	SpecJSON        string
	InitsJSON       string
	SummaryJSON     string
	DiagnosticsJSON string
	CreatedAt       time.Time
}

// #endregion fit-record

// #region fit-with-provenance
// FitWithProvenance pairs a fit with its latest provenance row.
type FitWithProvenance struct {
	FitRecord
	Decision       string
	Reason         string
	GateRecordJSON string
}

// #endregion fit-with-provenance
