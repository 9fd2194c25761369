package replay

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/danielpatrickdp/waterbird-state/go-estimator/internal/fit"
	"github.com/danielpatrickdp/waterbird-state/go-estimator/internal/model"
	"github.com/danielpatrickdp/waterbird-state/go-estimator/internal/series"
	"github.com/danielpatrickdp/waterbird-state/go-estimator/internal/store"
)

// #region fixture-types

// Fixture is the top-level JSON structure for a replay fixture.
type Fixture struct {
	Description string            `json:"description"`
	Config      fit.Config        `json:"config"`
	Scenarios   []FixtureScenario `json:"scenarios"`
}

// FixtureScenario is one series to fit. Exactly one of Series and
// Simulation is set. A scenario Config replaces the fixture config entirely.
type FixtureScenario struct {
	Name       string             `json:"name"`
	Series     *series.Snapshot   `json:"series,omitempty"`
	Simulation *FixtureSimulation `json:"simulation,omitempty"`
	Config     *fit.Config        `json:"config,omitempty"`
	Expected   FixtureExpected    `json:"expected"`
}

// FixtureSimulation mirrors model.SimulationParams with JSON tags.
type FixtureSimulation struct {
	Site      string  `json:"site"`
	N         int     `json:"n"`
	StartYear int     `json:"start_year"`
	X0        float64 `json:"x0"`
	TauAdd    float64 `json:"tau_add"`
	TauObs    float64 `json:"tau_obs"`
	Missing   []int   `json:"missing,omitempty"`
	Seed      uint64  `json:"seed,string"`
}

// FixtureExpected captures the expected outcome of a scenario. Zero values
// are not checked, except Stage which defaults to summarized.
type FixtureExpected struct {
	Stage        fit.Stage `json:"stage,omitempty"`
	Provisional  *bool     `json:"provisional,omitempty"`
	MinCoverage  float64   `json:"min_coverage,omitempty"`
	DataError    bool      `json:"data_error,omitempty"`
	NotConverged bool      `json:"not_converged,omitempty"`
}

// #endregion fixture-types

// #region fixture-loader

// LoadFixture reads and parses a JSON fixture file. Keys missing from the
// fixture config keep their defaults.
func LoadFixture(path string) (*Fixture, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read fixture %s: %w", path, err)
	}
	f := Fixture{Config: fit.DefaultConfig()}
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse fixture %s: %w", path, err)
	}
	if err := f.Validate(); err != nil {
		return nil, fmt.Errorf("fixture %s: %w", path, err)
	}
	return &f, nil
}

// Validate checks every scenario names exactly one data source.
func (f *Fixture) Validate() error {
	if len(f.Scenarios) == 0 {
		return fmt.Errorf("no scenarios")
	}
	for i, sc := range f.Scenarios {
		if (sc.Series == nil) == (sc.Simulation == nil) {
			return fmt.Errorf("scenario %d (%s): need exactly one of series and simulation", i, sc.Name)
		}
	}
	return nil
}

// ToSeries builds the scenario's series.
func (sc *FixtureScenario) ToSeries() (series.Series, error) {
	if sc.Series != nil {
		return sc.Series.Series(), nil
	}
	sim := sc.Simulation
	out, err := model.Simulate(sim.N, sim.StartYear, model.SimulationParams{
		X0: sim.X0, TauAdd: sim.TauAdd, TauObs: sim.TauObs, Missing: sim.Missing,
	}, sim.Seed)
	if err != nil {
		return series.Series{}, fmt.Errorf("scenario %s: %w", sc.Name, err)
	}
	if sim.Site != "" {
		out.Series.Site = sim.Site
	}
	return out.Series, nil
}

// ConfigFor returns the fit configuration of a scenario.
func (f *Fixture) ConfigFor(sc FixtureScenario) fit.Config {
	if sc.Config != nil {
		return *sc.Config
	}
	return f.Config
}

// #endregion fixture-loader

// #region from-store

// ScenarioFromFit turns a stored fit into a scenario that expects the
// stored outcome.
func ScenarioFromFit(rec store.FitRecord) (FixtureScenario, error) {
	if rec.SeriesJSON == "" {
		return FixtureScenario{}, fmt.Errorf("fit %s has no stored series", rec.FitID)
	}
	var snap series.Snapshot
	if err := json.Unmarshal([]byte(rec.SeriesJSON), &snap); err != nil {
		return FixtureScenario{}, fmt.Errorf("parse series of fit %s: %w", rec.FitID, err)
	}
	sc := FixtureScenario{
		Name:   rec.SeriesKey + "@" + rec.FitID,
		Series: &snap,
		Expected: FixtureExpected{
			Stage:       fit.Stage(rec.Stage),
			Provisional: &rec.Provisional,
		},
	}
	if rec.ConfigJSON != "" {
		cfg := fit.DefaultConfig()
		if err := json.Unmarshal([]byte(rec.ConfigJSON), &cfg); err != nil {
			return FixtureScenario{}, fmt.Errorf("parse config of fit %s: %w", rec.FitID, err)
		}
		sc.Config = &cfg
	}
	return sc, nil
}

// #endregion from-store
