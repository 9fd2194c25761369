package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"github.com/danielpatrickdp/waterbird-state/go-estimator/internal/covariate"
	"github.com/danielpatrickdp/waterbird-state/go-estimator/internal/logging"
)

func tempDB(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	s, err := NewStore(filepath.Join(dir, "test.db"))
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func fit(key string, at time.Time) FitRecord {
	return FitRecord{
		SeriesKey:   key,
		Site:        "lake",
		Taxon:       "grebe",
		Link:        "random_walk",
		Stage:       StageSummarized,
		Seed:        18446744073709551615,
		ConfigJSON:  `{"chains":3}`,
		SummaryJSON: `{"chains":3}`,
		CreatedAt:   at,
	}
}

func TestCommitAndGetActive(t *testing.T) {
	s := tempDB(t)
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	v1, err := s.CommitFit(fit("lake/grebe", base))
	if err != nil {
		t.Fatalf("CommitFit: %v", err)
	}
	if v1.FitID == "" {
		t.Fatal("expected generated fit ID")
	}
	if v1.ParentID != "" {
		t.Fatalf("expected empty parent, got %s", v1.ParentID)
	}

	cur, err := s.GetActive("lake/grebe")
	if err != nil {
		t.Fatalf("GetActive: %v", err)
	}
	if cur.FitID != v1.FitID {
		t.Fatalf("expected %s, got %s", v1.FitID, cur.FitID)
	}
	if cur.ConfigJSON != `{"chains":3}` {
		t.Fatalf("config not round-tripped: %q", cur.ConfigJSON)
	}
	if cur.Seed != 18446744073709551615 {
		t.Fatalf("seed did not round trip: %d", cur.Seed)
	}
	if cur.SummaryJSON != `{"chains":3}` {
		t.Fatalf("unexpected summary %q", cur.SummaryJSON)
	}
	if !cur.CreatedAt.Equal(base) {
		t.Fatalf("expected created_at %v, got %v", base, cur.CreatedAt)
	}
}

func TestCommitChainsParentsAndRollback(t *testing.T) {
	s := tempDB(t)
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	v1, err := s.CommitFit(fit("lake/grebe", base))
	if err != nil {
		t.Fatalf("CommitFit v1: %v", err)
	}
	rec := fit("lake/grebe", base.Add(time.Hour))
	rec.Provisional = true
	v2, err := s.CommitFit(rec)
	if err != nil {
		t.Fatalf("CommitFit v2: %v", err)
	}
	if v2.ParentID != v1.FitID {
		t.Fatalf("expected parent %s, got %s", v1.FitID, v2.ParentID)
	}

	cur, _ := s.GetActive("lake/grebe")
	if cur.FitID != v2.FitID || !cur.Provisional {
		t.Fatalf("expected provisional v2 active, got %+v", cur)
	}

	if err := s.Rollback("lake/grebe", v1.FitID); err != nil {
		t.Fatalf("Rollback: %v", err)
	}
	cur, _ = s.GetActive("lake/grebe")
	if cur.FitID != v1.FitID {
		t.Fatalf("expected rollback to %s, got %s", v1.FitID, cur.FitID)
	}
}

func TestActivePointersArePerSeries(t *testing.T) {
	s := tempDB(t)
	now := time.Now().UTC()

	a, _ := s.CommitFit(fit("lake/grebe", now))
	b, _ := s.CommitFit(fit("bay/tern", now))

	if b.ParentID != "" {
		t.Fatalf("fits of different series must not chain, got parent %s", b.ParentID)
	}
	curA, _ := s.GetActive("lake/grebe")
	curB, _ := s.GetActive("bay/tern")
	if curA.FitID != a.FitID || curB.FitID != b.FitID {
		t.Fatal("active pointers crossed between series")
	}

	if err := s.Rollback("bay/tern", a.FitID); err == nil {
		t.Fatal("expected error rolling back to another series' fit")
	}
}

func TestRollbackNonExistent(t *testing.T) {
	s := tempDB(t)
	err := s.Rollback("lake/grebe", "nope")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestGetActiveMissing(t *testing.T) {
	s := tempDB(t)
	if _, err := s.GetActive("lake/grebe"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, err := s.GetFit("nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestCommitRequiresSeriesKey(t *testing.T) {
	s := tempDB(t)
	if _, err := s.CommitFit(FitRecord{}); err == nil {
		t.Fatal("expected error for empty series key")
	}
}

func TestListFitsWithProvenance(t *testing.T) {
	s := tempDB(t)
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	var ids []string
	for i := 0; i < 3; i++ {
		rec, err := s.CommitFit(fit("lake/grebe", base.Add(time.Duration(i)*time.Minute)))
		if err != nil {
			t.Fatalf("CommitFit: %v", err)
		}
		ids = append(ids, rec.FitID)
	}
	err := logging.LogDecision(s.DB(), logging.ProvenanceEntry{
		FitID: ids[2], SeriesKey: "lake/grebe", Stage: "convergence_checked",
		TriggerType: logging.TriggerBurnIn, DiagnosticsJSON: `{"attempt":0}`,
		Decision: "proceed", Reason: "passed gate",
	})
	if err != nil {
		t.Fatalf("LogDecision: %v", err)
	}

	list, err := s.ListFitsWithProvenance(2)
	if err != nil {
		t.Fatalf("ListFitsWithProvenance: %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("expected 2 fits, got %d", len(list))
	}
	if list[0].FitID != ids[2] {
		t.Fatalf("expected newest first, got %s", list[0].FitID)
	}
	if list[0].Decision != "proceed" || list[0].GateRecordJSON != `{"attempt":0}` {
		t.Fatalf("unexpected provenance %+v", list[0])
	}
	if list[1].Decision != "" {
		t.Fatalf("expected no provenance for older fit, got %q", list[1].Decision)
	}

	one, err := s.GetFitWithProvenance(ids[2])
	if err != nil {
		t.Fatalf("GetFitWithProvenance: %v", err)
	}
	if one.Reason != "passed gate" {
		t.Fatalf("unexpected reason %q", one.Reason)
	}
}

func TestCovariateCacheIsIdempotent(t *testing.T) {
	s := tempDB(t)
	ctx := context.Background()
	cache := s.CovariateCache()

	records := []covariate.Record{{Year: 2000, Month: 1, Value: 0.5}, {Year: 2000, Month: 2, Value: 0.7}, {Year: 2001, Month: 1, Value: 1}}
	if err := cache.Store(ctx, records); err != nil {
		t.Fatalf("Store: %v", err)
	}
	records[0].Value = 0.6
	if err := cache.Store(ctx, records); err != nil {
		t.Fatalf("Store again: %v", err)
	}

	got, err := cache.Load(ctx, 2000, 2000)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 records, got %d", len(got))
	}
	if got[0].Value != 0.6 {
		t.Fatalf("expected latest value 0.6, got %f", got[0].Value)
	}
}

func TestNewStoreInvalidPath(t *testing.T) {
	_, err := NewStore(filepath.Join(t.TempDir(), "missing", "dir", "x.db"))
	if err == nil {
		t.Fatal("expected error for invalid path")
	}
}

func TestOperationsOnClosedDB(t *testing.T) {
	s := tempDB(t)
	s.Close()

	if _, err := s.CommitFit(fit("k", time.Now())); err == nil {
		t.Fatal("expected CommitFit error on closed db")
	}
	if _, err := s.ListFits(5); err == nil {
		t.Fatal("expected ListFits error on closed db")
	}
	if err := s.Rollback("k", "x"); err == nil {
		t.Fatal("expected Rollback error on closed db")
	}
}
