package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// ErrNotFound is wrapped when a fit or active pointer does not exist.
var ErrNotFound = errors.New("not found")

// #region schema
const schema = `
CREATE TABLE IF NOT EXISTS fits (
	fit_id           TEXT PRIMARY KEY,
	parent_id        TEXT,
	series_key       TEXT NOT NULL,
	site             TEXT NOT NULL,
	taxon            TEXT NOT NULL,
	link             TEXT NOT NULL,
	stage            TEXT NOT NULL,
	provisional      INTEGER NOT NULL DEFAULT 0,
	seed             TEXT NOT NULL,
	series_json      TEXT,
	config_json      TEXT,
	spec_json        TEXT,
	inits_json       TEXT,
	summary_json     TEXT,
	diagnostics_json TEXT,
	created_at       TEXT NOT NULL,
	FOREIGN KEY (parent_id) REFERENCES fits(fit_id)
);

CREATE INDEX IF NOT EXISTS fits_series_key ON fits(series_key, created_at);

CREATE TABLE IF NOT EXISTS provenance_log (
	id               INTEGER PRIMARY KEY AUTOINCREMENT,
	fit_id           TEXT NOT NULL,
	series_key       TEXT NOT NULL,
	stage            TEXT NOT NULL,
	trigger_type     TEXT NOT NULL,
	diagnostics_json TEXT,
	decision         TEXT NOT NULL,
	reason           TEXT,
	created_at       TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS active_fit (
	series_key TEXT PRIMARY KEY,
	fit_id     TEXT NOT NULL,
	FOREIGN KEY (fit_id) REFERENCES fits(fit_id)
);

CREATE TABLE IF NOT EXISTS covariate_cache (
	year  INTEGER NOT NULL,
	month INTEGER NOT NULL,
	value REAL NOT NULL,
	PRIMARY KEY (year, month)
);
`

// #endregion schema

// #region store-struct
// Store persists fits, provenance and cached covariates in SQLite.
type Store struct {
	db *sql.DB
}

// #endregion store-struct

// #region constructor
// NewStore opens a SQLite database and runs migrations.
func NewStore(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		return nil, fmt.Errorf("pragma: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		return nil, fmt.Errorf("pragma fk: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		return nil, fmt.Errorf("pragma busy: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &Store{db: db}, nil
}

// #endregion constructor

// #region close
// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// #endregion close

// #region db-accessor
// DB returns the underlying *sql.DB for use by other packages (e.g. logging).
func (s *Store) DB() *sql.DB {
	return s.db
}

// #endregion db-accessor

// #region commit-fit
// CommitFit inserts a fit and makes it the active fit of its series
// atomically. An empty FitID gets a fresh UUID, an empty ParentID the
// currently active fit of the series, and a zero CreatedAt the current time.
// The stored record is returned.
func (s *Store) CommitFit(rec FitRecord) (FitRecord, error) {
	if rec.SeriesKey == "" {
		return FitRecord{}, fmt.Errorf("commit fit: empty series key")
	}
	if rec.FitID == "" {
		rec.FitID = uuid.New().String()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}

	tx, err := s.db.Begin()
	if err != nil {
		return FitRecord{}, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if rec.ParentID == "" {
		var parent string
		err := tx.QueryRow(`SELECT fit_id FROM active_fit WHERE series_key = ?`, rec.SeriesKey).Scan(&parent)
		switch {
		case err == nil:
			rec.ParentID = parent
		case !errors.Is(err, sql.ErrNoRows):
			return FitRecord{}, fmt.Errorf("read active: %w", err)
		}
	}

	_, err = tx.Exec(
		`INSERT INTO fits (fit_id, parent_id, series_key, site, taxon, link, stage, provisional, seed,
		                   series_json, config_json, spec_json, inits_json, summary_json, diagnostics_json, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.FitID, nullIfEmpty(rec.ParentID), rec.SeriesKey, rec.Site, rec.Taxon, rec.Link, rec.Stage,
		boolToInt(rec.Provisional), fmt.Sprintf("%d", rec.Seed),
		nullIfEmpty(rec.SeriesJSON), nullIfEmpty(rec.ConfigJSON), nullIfEmpty(rec.SpecJSON), nullIfEmpty(rec.InitsJSON),
		nullIfEmpty(rec.SummaryJSON), nullIfEmpty(rec.DiagnosticsJSON),
		rec.CreatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return FitRecord{}, fmt.Errorf("insert fit: %w", err)
	}

	_, err = tx.Exec(
		`INSERT INTO active_fit (series_key, fit_id) VALUES (?, ?)
		 ON CONFLICT(series_key) DO UPDATE SET fit_id = excluded.fit_id`,
		rec.SeriesKey, rec.FitID,
	)
	if err != nil {
		return FitRecord{}, fmt.Errorf("set active: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return FitRecord{}, fmt.Errorf("commit: %w", err)
	}
	return rec, nil
}

// #endregion commit-fit

// #region get-active
// GetActive reads the active fit of a series.
func (s *Store) GetActive(seriesKey string) (FitRecord, error) {
	var fitID string
	err := s.db.QueryRow(`SELECT fit_id FROM active_fit WHERE series_key = ?`, seriesKey).Scan(&fitID)
	if errors.Is(err, sql.ErrNoRows) {
		return FitRecord{}, fmt.Errorf("get active %s: %w", seriesKey, ErrNotFound)
	}
	if err != nil {
		return FitRecord{}, fmt.Errorf("get active: %w", err)
	}
	return s.GetFit(fitID)
}

// #endregion get-active

// #region get-fit
const fitColumns = `fit_id, parent_id, series_key, site, taxon, link, stage, provisional, seed,
	series_json, config_json, spec_json, inits_json, summary_json, diagnostics_json, created_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanFit(row scanner) (FitRecord, error) {
	var rec FitRecord
	var parentID, seriesJSON, configJSON, specJSON, initsJSON, summaryJSON, diagJSON sql.NullString
	var provisional int
	var seed, createdStr string

	err := row.Scan(&rec.FitID, &parentID, &rec.SeriesKey, &rec.Site, &rec.Taxon, &rec.Link, &rec.Stage,
		&provisional, &seed, &seriesJSON, &configJSON, &specJSON, &initsJSON, &summaryJSON, &diagJSON, &createdStr)
	if err != nil {
		return FitRecord{}, err
	}
	rec.ParentID = parentID.String
	rec.Provisional = provisional != 0
	if _, err := fmt.Sscanf(seed, "%d", &rec.Seed); err != nil {
		return FitRecord{}, fmt.Errorf("parse seed %q: %w", seed, err)
	}
	rec.SeriesJSON = seriesJSON.String
	rec.ConfigJSON = configJSON.String
	rec.SpecJSON = specJSON.String
	rec.InitsJSON = initsJSON.String
	rec.SummaryJSON = summaryJSON.String
	rec.DiagnosticsJSON = diagJSON.String
	rec.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdStr)
	return rec, nil
}

// GetFit retrieves a specific fit by ID.
func (s *Store) GetFit(id string) (FitRecord, error) {
	rec, err := scanFit(s.db.QueryRow(`SELECT `+fitColumns+` FROM fits WHERE fit_id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return FitRecord{}, fmt.Errorf("get fit %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return FitRecord{}, fmt.Errorf("get fit %s: %w", id, err)
	}
	return rec, nil
}

// #endregion get-fit

// #region rollback
// Rollback sets the active pointer of a series to a previous fit of the same
// series.
func (s *Store) Rollback(seriesKey, targetFitID string) error {
	var key string
	err := s.db.QueryRow(`SELECT series_key FROM fits WHERE fit_id = ?`, targetFitID).Scan(&key)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("fit %s: %w", targetFitID, ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("check fit: %w", err)
	}
	if key != seriesKey {
		return fmt.Errorf("fit %s belongs to %s, not %s", targetFitID, key, seriesKey)
	}

	_, err = s.db.Exec(
		`INSERT INTO active_fit (series_key, fit_id) VALUES (?, ?)
		 ON CONFLICT(series_key) DO UPDATE SET fit_id = excluded.fit_id`,
		seriesKey, targetFitID,
	)
	if err != nil {
		return fmt.Errorf("rollback: %w", err)
	}
	return nil
}

// #endregion rollback

// #region list-fits
// ListFits returns the most recent fits across all series.
func (s *Store) ListFits(limit int) ([]FitRecord, error) {
	rows, err := s.db.Query(`SELECT `+fitColumns+` FROM fits ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list fits: %w", err)
	}
	defer rows.Close()

	var records []FitRecord
	for rows.Next() {
		rec, err := scanFit(rows)
		if err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// ListFitsWithProvenance returns the most recent fits paired with the last
// provenance decision logged for each.
func (s *Store) ListFitsWithProvenance(limit int) ([]FitWithProvenance, error) {
	fits, err := s.ListFits(limit)
	if err != nil {
		return nil, err
	}
	out := make([]FitWithProvenance, 0, len(fits))
	for _, f := range fits {
		fp, err := s.withProvenance(f)
		if err != nil {
			return nil, err
		}
		out = append(out, fp)
	}
	return out, nil
}

// GetFitWithProvenance retrieves one fit and its last provenance decision.
func (s *Store) GetFitWithProvenance(id string) (FitWithProvenance, error) {
	f, err := s.GetFit(id)
	if err != nil {
		return FitWithProvenance{}, err
	}
	return s.withProvenance(f)
}

func (s *Store) withProvenance(f FitRecord) (FitWithProvenance, error) {
	fp := FitWithProvenance{FitRecord: f}
	var reason, diag sql.NullString
	err := s.db.QueryRow(
		`SELECT decision, reason, diagnostics_json FROM provenance_log
		 WHERE fit_id = ? ORDER BY id DESC LIMIT 1`, f.FitID,
	).Scan(&fp.Decision, &reason, &diag)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return FitWithProvenance{}, fmt.Errorf("read provenance %s: %w", f.FitID, err)
	}
	fp.Reason = reason.String
	fp.GateRecordJSON = diag.String
	return fp, nil
}

// #endregion list-fits

// #region helpers
func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// #endregion helpers
