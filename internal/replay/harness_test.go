package replay

import (
	"context"
	"errors"
	"testing"

	"github.com/danielpatrickdp/waterbird-state/go-estimator/internal/engine"
	"github.com/danielpatrickdp/waterbird-state/go-estimator/internal/fit"
	"github.com/danielpatrickdp/waterbird-state/go-estimator/internal/series"
)

type brokenEngine struct{}

func (brokenEngine) Sample(context.Context, *engine.Request) (*engine.Samples, error) {
	return nil, errors.New("engine offline")
}

func countsFixture(expected FixtureExpected) *Fixture {
	one, two, three := 10.0, 12.0, 11.0
	return &Fixture{
		Config: fit.DefaultConfig(),
		Scenarios: []FixtureScenario{{
			Name:     "tiny",
			Series:   &series.Snapshot{Site: "pond", StartYear: 2000, Counts: []*float64{&one, &two, nil, &three}},
			Expected: expected,
		}},
	}
}

// 1. An engine failure is an outcome, not a replay error.
func TestReplay_EngineFailureIsCompared(t *testing.T) {
	results, err := Replay(context.Background(), countsFixture(FixtureExpected{Stage: fit.StageFailed}), brokenEngine{}, nil)
	if err != nil {
		t.Fatalf("Replay: %v", err)
	}
	r := results[0]
	if !r.Match {
		t.Fatalf("expected match, diffs: %v", r.Diffs)
	}
	if r.Reason != "engine offline" {
		t.Errorf("expected engine error as reason, got %q", r.Reason)
	}
}

// 2. A stage mismatch is reported as a divergence.
func TestReplay_StageDivergence(t *testing.T) {
	results, err := Replay(context.Background(), countsFixture(FixtureExpected{}), brokenEngine{}, nil)
	if err != nil {
		t.Fatalf("Replay: %v", err)
	}
	if results[0].Match {
		t.Fatal("expected divergence")
	}
	if len(results[0].Diffs) != 1 {
		t.Fatalf("expected 1 diff, got %v", results[0].Diffs)
	}
	sum := Summarize(results)
	if sum.Diverged != 1 || sum.Failed != 1 {
		t.Fatalf("unexpected summary %+v", sum)
	}
}

// 3. A data error expectation fails when the fit fails for another reason.
func TestReplay_DataErrorExpectation(t *testing.T) {
	results, err := Replay(context.Background(), countsFixture(FixtureExpected{Stage: fit.StageFailed, DataError: true}), brokenEngine{}, nil)
	if err != nil {
		t.Fatalf("Replay: %v", err)
	}
	if results[0].Match {
		t.Fatal("engine failure must not satisfy a data error expectation")
	}
}

// 4. Cancellation stops the replay.
func TestReplay_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	results, err := Replay(ctx, countsFixture(FixtureExpected{}), brokenEngine{}, nil)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if len(results) != 0 {
		t.Fatalf("expected no results, got %d", len(results))
	}
}

// 5. An invalid scenario config is a replay error.
func TestReplay_InvalidConfig(t *testing.T) {
	f := countsFixture(FixtureExpected{})
	f.Config.Chains = 0
	if _, err := Replay(context.Background(), f, brokenEngine{}, nil); err == nil {
		t.Fatal("expected config error")
	}
}

func TestSummarize_CountsProvisional(t *testing.T) {
	sum := Summarize([]ReplayResult{
		{Stage: fit.StageSummarized, Provisional: true, Match: true},
		{Stage: fit.StageSummarized, Match: true},
		{Stage: fit.StageFailed},
	})
	if sum.Total != 3 || sum.Matches != 2 || sum.Diverged != 1 || sum.Provisional != 1 || sum.Summarized != 2 || sum.Failed != 1 {
		t.Fatalf("unexpected summary %+v", sum)
	}
}
