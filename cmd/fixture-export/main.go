package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/danielpatrickdp/waterbird-state/go-estimator/internal/config"
	"github.com/danielpatrickdp/waterbird-state/go-estimator/internal/fit"
	"github.com/danielpatrickdp/waterbird-state/go-estimator/internal/replay"
	"github.com/danielpatrickdp/waterbird-state/go-estimator/internal/store"
)

// #region main

func main() {
	var dbPath, outPath, seriesKey string
	var last int

	cmd := &cobra.Command{
		Use:          "fixture-export",
		Short:        "Export stored fits as a replay fixture",
		SilenceUsage: true,
		RunE: func(_ *cobra.Command, _ []string) error {
			if dbPath == "" {
				return fmt.Errorf("no database: pass --db or set %s", config.EnvDB)
			}
			return run(dbPath, last, seriesKey, outPath)
		},
	}
	cmd.Flags().StringVar(&dbPath, "db", os.Getenv(config.EnvDB), "fit store database")
	cmd.Flags().IntVar(&last, "last", 4, "number of most recent fits to export")
	cmd.Flags().StringVar(&seriesKey, "series", "", "only export fits of this series key")
	cmd.Flags().StringVar(&outPath, "out", "", "output fixture JSON path")
	_ = cmd.MarkFlagRequired("out")

	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// #endregion main

// #region extract

func run(dbPath string, last int, seriesKey, outPath string) error {
	st, err := store.NewStore(dbPath)
	if err != nil {
		return fmt.Errorf("open db: %w", err)
	}
	defer st.Close()

	recs, err := st.ListFits(last)
	if err != nil {
		return err
	}

	// Store returns DESC, reverse for chronological
	var kept []store.FitRecord
	for i := len(recs) - 1; i >= 0; i-- {
		if seriesKey != "" && recs[i].SeriesKey != seriesKey {
			continue
		}
		kept = append(kept, recs[i])
	}
	if len(kept) == 0 {
		return fmt.Errorf("no fits found in last %d", last)
	}
	fmt.Printf("Found %d fits\n", len(kept))

	fixture, err := buildFixture(kept)
	if err != nil {
		return err
	}
	return writeFixture(fixture, outPath)
}

// #endregion extract

// #region output

func buildFixture(recs []store.FitRecord) (replay.Fixture, error) {
	fixture := replay.Fixture{
		Description: fmt.Sprintf("Stored fit export: %d fits", len(recs)),
		Config:      fit.DefaultConfig(),
	}
	for _, rec := range recs {
		sc, err := replay.ScenarioFromFit(rec)
		if err != nil {
			return replay.Fixture{}, err
		}
		fixture.Scenarios = append(fixture.Scenarios, sc)
	}
	return fixture, nil
}

func writeFixture(fixture replay.Fixture, outPath string) error {
	data, err := json.MarshalIndent(fixture, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal fixture: %w", err)
	}

	if err := os.WriteFile(outPath, data, 0644); err != nil {
		return fmt.Errorf("write %s: %w", outPath, err)
	}

	fmt.Printf("Wrote fixture to %s (%d bytes, %d scenarios)\n", outPath, len(data), len(fixture.Scenarios))
	return nil
}

// #endregion output
