package main

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/danielpatrickdp/waterbird-state/go-estimator/internal/codec"
	"github.com/danielpatrickdp/waterbird-state/go-estimator/internal/config"
	"github.com/danielpatrickdp/waterbird-state/go-estimator/internal/engine"
	"github.com/danielpatrickdp/waterbird-state/go-estimator/internal/engine/gibbs"
	"github.com/danielpatrickdp/waterbird-state/go-estimator/internal/fit"
	"github.com/danielpatrickdp/waterbird-state/go-estimator/internal/logging"
	"github.com/danielpatrickdp/waterbird-state/go-estimator/internal/replay"
	"github.com/danielpatrickdp/waterbird-state/go-estimator/internal/store"
)

// exitError carries the process exit code out of RunE.
type exitError struct{ code int }

func (e exitError) Error() string { return fmt.Sprintf("exit %d", e.code) }

// #region main

func main() {
	err := rootCmd().Execute()
	if err == nil {
		return
	}
	var e exitError
	if errors.As(err, &e) {
		os.Exit(e.code)
	}
	fmt.Fprintf(os.Stderr, "error: %v\n", err)
	os.Exit(2)
}

func rootCmd() *cobra.Command {
	var dbPath, fixturePath, engineAddr, logLevel string
	var last int

	cmd := &cobra.Command{
		Use:           "replay",
		Short:         "Refit stored or fixture series and compare outcomes",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if (dbPath == "") == (fixturePath == "") {
				return fmt.Errorf("pass exactly one of --db or --fixture")
			}
			logger, err := logging.New(logLevel)
			if err != nil {
				return err
			}
			defer logger.Sync()

			var f *replay.Fixture
			if fixturePath != "" {
				f, err = replay.LoadFixture(fixturePath)
			} else {
				f, err = fixtureFromDB(dbPath, last)
			}
			if err != nil {
				return err
			}

			eng, closeEngine, err := openEngine(engineAddr, logger)
			if err != nil {
				return err
			}
			defer closeEngine()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			results, err := replay.Replay(ctx, f, eng, logger)
			if err != nil {
				return err
			}
			if code := printComparison(results); code != 0 {
				return exitError{code: code}
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&dbPath, "db", "", "fit store to replay (DB mode)")
	cmd.Flags().StringVar(&fixturePath, "fixture", "", "fixture JSON to replay (fixture mode)")
	cmd.Flags().IntVar(&last, "last", 20, "number of most recent fits to replay in DB mode")
	cmd.Flags().StringVar(&engineAddr, "engine-addr", os.Getenv(config.EnvEngineAddr), "remote sampling engine (default: in-process)")
	cmd.Flags().StringVar(&logLevel, "log-level", "warn", "log level")
	return cmd
}

// #endregion main

// #region db-extract

// fixtureFromDB builds scenarios from the most recent stored fits, oldest
// first. Fits stored without a series snapshot are skipped.
func fixtureFromDB(dbPath string, last int) (*replay.Fixture, error) {
	st, err := store.NewStore(dbPath)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	defer st.Close()

	recs, err := st.ListFits(last)
	if err != nil {
		return nil, err
	}
	f := &replay.Fixture{
		Description: fmt.Sprintf("stored fits from %s", dbPath),
		Config:      fit.DefaultConfig(),
	}
	for i := len(recs) - 1; i >= 0; i-- {
		sc, err := replay.ScenarioFromFit(recs[i])
		if err != nil {
			fmt.Fprintf(os.Stderr, "skip: %v\n", err)
			continue
		}
		f.Scenarios = append(f.Scenarios, sc)
	}
	if len(f.Scenarios) == 0 {
		return nil, fmt.Errorf("no replayable fits in last %d", last)
	}
	return f, f.Validate()
}

func openEngine(addr string, logger *zap.Logger) (engine.Engine, func(), error) {
	if addr == "" {
		return gibbs.New(gibbs.WithLogger(logger)), func() {}, nil
	}
	remote, err := codec.NewRemoteEngine(addr)
	if err != nil {
		return nil, nil, err
	}
	return remote, func() { remote.Close() }, nil
}

// #endregion db-extract

// #region output

// printComparison outputs a comparison table and returns the exit code.
func printComparison(results []replay.ReplayResult) int {
	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"Scenario", "Expected", "Replayed", "Provisional", "Coverage", "Attempts", "Match"})
	for _, r := range results {
		match := "OK"
		if !r.Match {
			match = "DIFF: " + strings.Join(r.Diffs, "; ")
		}
		t.AppendRow(table.Row{r.Scenario, r.Expected, r.Stage, r.Provisional,
			fmt.Sprintf("%.2f", r.Coverage), r.Attempts, match})
	}
	t.Render()

	s := replay.Summarize(results)
	fmt.Printf("\nSummary: %d total, %d match, %d diverge (%d summarized, %d failed, %d provisional)\n",
		s.Total, s.Matches, s.Diverged, s.Summarized, s.Failed, s.Provisional)
	if s.Diverged > 0 {
		return 1
	}
	return 0
}

// #endregion output
