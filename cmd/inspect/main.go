package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/danielpatrickdp/waterbird-state/go-estimator/internal/config"
	"github.com/danielpatrickdp/waterbird-state/go-estimator/internal/fit"
	"github.com/danielpatrickdp/waterbird-state/go-estimator/internal/logging"
	"github.com/danielpatrickdp/waterbird-state/go-estimator/internal/store"
	"github.com/danielpatrickdp/waterbird-state/go-estimator/internal/summary"
)

// #region main

func main() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var dbPath, fitID, seriesKey string
	var last int
	var jsonOut bool

	root := &cobra.Command{
		Use:          "inspect",
		Short:        "List stored fits or show one fit in detail",
		SilenceUsage: true,
		RunE: func(_ *cobra.Command, _ []string) error {
			st, err := openStore(dbPath)
			if err != nil {
				return err
			}
			defer st.Close()
			if fitID != "" {
				return runDetailMode(st, fitID, jsonOut)
			}
			return runListMode(st, last, jsonOut)
		},
	}
	root.PersistentFlags().StringVar(&dbPath, "db", os.Getenv(config.EnvDB), "fit store database ("+config.EnvDB+")")
	root.Flags().IntVar(&last, "last", 20, "show N most recent fits")
	root.Flags().StringVar(&fitID, "fit", "", "show single fit detail")
	root.Flags().BoolVar(&jsonOut, "json", false, "output as JSON instead of table")

	rollback := &cobra.Command{
		Use:   "rollback",
		Short: "Make an earlier fit the active fit of its series",
		RunE: func(_ *cobra.Command, _ []string) error {
			st, err := openStore(dbPath)
			if err != nil {
				return err
			}
			defer st.Close()
			return runRollback(st, seriesKey, fitID)
		},
	}
	rollback.Flags().StringVar(&seriesKey, "series", "", "series key (site/taxon)")
	rollback.Flags().StringVar(&fitID, "fit", "", "fit to activate")
	_ = rollback.MarkFlagRequired("series")
	_ = rollback.MarkFlagRequired("fit")
	root.AddCommand(rollback)
	return root
}

func openStore(dbPath string) (*store.Store, error) {
	if dbPath == "" {
		return nil, fmt.Errorf("no database: pass --db or set %s", config.EnvDB)
	}
	return store.NewStore(dbPath)
}

// #endregion main

// #region list-mode

type listRow struct {
	FitID       string  `json:"fit_id"`
	Series      string  `json:"series"`
	Link        string  `json:"link"`
	Stage       string  `json:"stage"`
	Provisional bool    `json:"provisional"`
	Active      bool    `json:"active"`
	Coverage    float64 `json:"coverage"`
	ProcessSD   float64 `json:"process_sd"`
	Decision    string  `json:"decision"`
	CreatedAt   string  `json:"created_at"`
}

func runListMode(st *store.Store, last int, jsonOut bool) error {
	fits, err := st.ListFitsWithProvenance(last)
	if err != nil {
		return err
	}
	if len(fits) == 0 {
		fmt.Fprintln(os.Stderr, "no fits found")
		return nil
	}

	// Store returns DESC, reverse for chronological
	rows := make([]listRow, len(fits))
	for i, fp := range fits {
		r := listRow{
			FitID:       fp.FitID,
			Series:      fp.SeriesKey,
			Link:        fp.Link,
			Stage:       fp.Stage,
			Provisional: fp.Provisional,
			Decision:    fp.Decision,
			CreatedAt:   fp.CreatedAt.Format(time.RFC3339),
		}
		if active, err := st.GetActive(fp.SeriesKey); err == nil {
			r.Active = active.FitID == fp.FitID
		}
		if sum := parseSummary(fp.SummaryJSON); sum != nil {
			r.Coverage = sum.Coverage
			r.ProcessSD = sum.ProcessSD.Median
		}
		rows[len(fits)-1-i] = r
	}

	if jsonOut {
		return printJSON(rows)
	}
	t := newTable()
	t.AppendHeader(table.Row{"Fit", "Series", "Link", "Stage", "Provisional", "Active", "Coverage", "Process SD", "Decision", "Time"})
	for _, r := range rows {
		active := ""
		if r.Active {
			active = "*"
		}
		t.AppendRow(table.Row{
			shortID(r.FitID), r.Series, r.Link, r.Stage, r.Provisional, active,
			fmt.Sprintf("%.2f", r.Coverage), fmt.Sprintf("%.3f", r.ProcessSD), r.Decision, r.CreatedAt,
		})
	}
	t.Render()
	return nil
}

// #endregion list-mode

// #region detail-mode

type detailOutput struct {
	FitID       string           `json:"fit_id"`
	ParentID    string           `json:"parent_id"`
	Series      string           `json:"series"`
	Link        string           `json:"link"`
	Stage       string           `json:"stage"`
	Provisional bool             `json:"provisional"`
	Seed        uint64           `json:"seed,string"`
	CreatedAt   string           `json:"created_at"`
	Decision    string           `json:"decision"`
	Reason      string           `json:"reason"`
	Attempts    []fit.Attempt    `json:"attempts,omitempty"`
	Summary     *summary.Summary `json:"summary,omitempty"`
}

func runDetailMode(st *store.Store, fitID string, jsonOut bool) error {
	fp, err := st.GetFitWithProvenance(fitID)
	if err != nil {
		return err
	}
	out := detailOutput{
		FitID:       fp.FitID,
		ParentID:    fp.ParentID,
		Series:      fp.SeriesKey,
		Link:        fp.Link,
		Stage:       fp.Stage,
		Provisional: fp.Provisional,
		Seed:        fp.Seed,
		CreatedAt:   fp.CreatedAt.Format(time.RFC3339),
		Decision:    fp.Decision,
		Reason:      fp.Reason,
		Summary:     parseSummary(fp.SummaryJSON),
	}
	if fp.DiagnosticsJSON != "" {
		_ = json.Unmarshal([]byte(fp.DiagnosticsJSON), &out.Attempts)
	}

	if jsonOut {
		return printJSON(out)
	}

	fmt.Printf("Fit:         %s\n", out.FitID)
	fmt.Printf("Parent:      %s\n", out.ParentID)
	fmt.Printf("Series:      %s\n", out.Series)
	fmt.Printf("Link:        %s\n", out.Link)
	fmt.Printf("Stage:       %s\n", out.Stage)
	fmt.Printf("Provisional: %v\n", out.Provisional)
	fmt.Printf("Seed:        %d\n", out.Seed)
	fmt.Printf("Created:     %s\n", out.CreatedAt)
	fmt.Printf("Decision:    %s\n", out.Decision)
	fmt.Printf("Reason:      %s\n", out.Reason)

	if len(out.Attempts) > 0 {
		fmt.Printf("\nBurn-in attempts:\n")
		t := newTable()
		t.AppendHeader(table.Row{"#", "Burn-in", "Action", "Soft Score", "Corr", "Reason"})
		for _, a := range out.Attempts {
			t.AppendRow(table.Row{a.Number, a.BurnIn, a.Decision.Action,
				fmt.Sprintf("%.2f", a.Decision.SoftScore), fmt.Sprintf("%.2f", a.Decision.Correlation), a.Decision.Reason})
		}
		t.Render()
	}

	if s := out.Summary; s != nil {
		fmt.Printf("\nProcess SD:     %s\n", formatInterval(s.ProcessSD))
		fmt.Printf("Observation SD: %s\n", formatInterval(s.ObservationSD))
		for k, c := range s.Coefficients {
			fmt.Printf("beta[%d]:        %s\n", k+1, formatInterval(c))
		}
		fmt.Printf("Coverage:       %.2f\n", s.Coverage)
		for _, w := range s.Warnings {
			fmt.Printf("Warning:        %s\n", w.Error())
		}

		fmt.Printf("\nPredictive envelope:\n")
		t := newTable()
		t.AppendHeader(table.Row{"t", "Date", "Lower", "Median", "Upper", "Count"})
		for _, step := range s.Predictive {
			count := ""
			if step.Observed {
				count = fmt.Sprintf("%.0f", step.Count)
			}
			t.AppendRow(table.Row{step.T, step.Date,
				fmt.Sprintf("%.1f", step.Interval.Lower), fmt.Sprintf("%.1f", step.Interval.Median),
				fmt.Sprintf("%.1f", step.Interval.Upper), count})
		}
		t.Render()
	}
	return nil
}

// #endregion detail-mode

// #region rollback

func runRollback(st *store.Store, seriesKey, fitID string) error {
	if err := st.Rollback(seriesKey, fitID); err != nil {
		return err
	}
	err := logging.LogDecision(st.DB(), logging.ProvenanceEntry{
		FitID:       fitID,
		SeriesKey:   seriesKey,
		Stage:       string(fit.StageSummarized),
		TriggerType: logging.TriggerRollback,
		Decision:    "rollback",
		Reason:      "manual rollback",
		CreatedAt:   time.Now().UTC(),
	})
	if err != nil {
		return err
	}
	fmt.Printf("%s now active for %s\n", fitID, seriesKey)
	return nil
}

// #endregion rollback

// #region output

func parseSummary(raw string) *summary.Summary {
	if raw == "" {
		return nil
	}
	var s summary.Summary
	if err := json.Unmarshal([]byte(raw), &s); err != nil {
		return nil
	}
	return &s
}

func formatInterval(iv summary.Interval) string {
	return fmt.Sprintf("%.4f [%.4f, %.4f]", iv.Median, iv.Lower, iv.Upper)
}

func newTable() table.Writer {
	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.SetStyle(table.StyleLight)
	return t
}

func printJSON(v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal json: %w", err)
	}
	fmt.Println(string(data))
	return nil
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// #endregion output
