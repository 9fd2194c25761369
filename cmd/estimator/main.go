package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/danielpatrickdp/waterbird-state/go-estimator/internal/codec"
	"github.com/danielpatrickdp/waterbird-state/go-estimator/internal/config"
	"github.com/danielpatrickdp/waterbird-state/go-estimator/internal/covariate"
	"github.com/danielpatrickdp/waterbird-state/go-estimator/internal/engine"
	"github.com/danielpatrickdp/waterbird-state/go-estimator/internal/engine/gibbs"
	"github.com/danielpatrickdp/waterbird-state/go-estimator/internal/fit"
	"github.com/danielpatrickdp/waterbird-state/go-estimator/internal/logging"
	"github.com/danielpatrickdp/waterbird-state/go-estimator/internal/model"
	"github.com/danielpatrickdp/waterbird-state/go-estimator/internal/series"
	"github.com/danielpatrickdp/waterbird-state/go-estimator/internal/store"
	"github.com/danielpatrickdp/waterbird-state/go-estimator/internal/summary"
)

// #region main

func main() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

type fitFlags struct {
	configPath string
	counts     string
	covariates string
	taxon      string
	sites      []string
	outDir     string
	db         string
	parallel   int
	seed       uint64
	jsonOut    bool
	bins       int
}

func rootCmd() *cobra.Command {
	var fl fitFlags
	root := &cobra.Command{
		Use:          "estimator",
		Short:        "Bayesian state-space estimates of waterbird abundance",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&fl.configPath, "config", config.Path(), "YAML config file ("+config.EnvConfigPath+")")

	fitCmd := &cobra.Command{
		Use:   "fit",
		Short: "Fit every selected site of one taxon and write credible envelopes",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runFit(cmd, fl)
		},
	}
	f := fitCmd.Flags()
	f.StringVar(&fl.counts, "counts", "", "count CSV (date,site,taxon,count)")
	f.StringVar(&fl.covariates, "covariates", "", "covariate CSV (year,month,value)")
	f.StringVar(&fl.taxon, "taxon", "", "taxon to fit (required)")
	f.StringSliceVar(&fl.sites, "site", nil, "site to fit, repeatable (default all)")
	f.StringVar(&fl.outDir, "out", "", "directory for envelope CSV files")
	f.StringVar(&fl.db, "db", "", "fit store database ("+config.EnvDB+")")
	f.IntVar(&fl.parallel, "parallel", 0, "concurrent fits")
	f.Uint64Var(&fl.seed, "seed", 0, "fit seed ("+config.EnvSeed+")")
	f.BoolVar(&fl.jsonOut, "json", false, "print results as JSON instead of a table")
	f.IntVar(&fl.bins, "histogram", 0, "also write noise SD histograms with N bins to --out")

	root.AddCommand(fitCmd)
	return root
}

// #endregion main

// #region fit

func runFit(cmd *cobra.Command, fl fitFlags) error {
	cfg, err := config.Load(fl.configPath)
	if err != nil {
		return err
	}
	flags := cmd.Flags()
	if flags.Changed("counts") {
		cfg.Counts = fl.counts
	}
	if flags.Changed("covariates") {
		cfg.Covariates = fl.covariates
	}
	if flags.Changed("taxon") {
		cfg.Taxon = fl.taxon
	}
	if flags.Changed("site") {
		cfg.Sites = fl.sites
	}
	if flags.Changed("db") {
		cfg.DBPath = fl.db
	}
	if flags.Changed("parallel") {
		cfg.Parallel = fl.parallel
	}
	if flags.Changed("seed") {
		cfg.Fit.Seed = fl.seed
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	if cfg.Counts == "" {
		return fmt.Errorf("no count file: set counts in the config or pass --counts")
	}
	if cfg.Taxon == "" {
		return fmt.Errorf("no taxon: set taxon in the config or pass --taxon")
	}

	logger, err := logging.New(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if cfg.TimeoutSecs > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(cfg.TimeoutSecs)*time.Second)
		defer cancel()
	}

	var st *store.Store
	if cfg.DBPath != "" {
		if st, err = store.NewStore(cfg.DBPath); err != nil {
			return err
		}
		defer st.Close()
	}

	src := fit.JobSource{
		Counts:  series.NewCSVProvider(cfg.Counts),
		Query:   series.Query{Taxon: cfg.Taxon},
		Sites:   cfg.Sites,
		Prepare: cfg.PrepareOptions(),
		Link:    cfg.Fit.Link,
	}
	if cfg.Covariates != "" {
		src.Covariates = covariateProvider(cfg, st, logger)
	}
	jobs, err := fit.LoadJobs(ctx, src)
	if err != nil {
		return err
	}
	logger.Info("series prepared", zap.Int("series", len(jobs)), zap.String("taxon", cfg.Taxon))

	eng, closeEngine, err := openEngine(cfg.EngineAddr, logger)
	if err != nil {
		return err
	}
	defer closeEngine()

	opts := []fit.Option{fit.WithLogger(logger)}
	if st != nil {
		opts = append(opts, fit.WithStore(st))
	}
	fitter, err := fit.NewFitter(eng, cfg.Fit, opts...)
	if err != nil {
		return err
	}

	outcomes, err := fitter.RunAll(ctx, jobs, cfg.Parallel)
	if err != nil {
		return err
	}
	if fl.outDir != "" {
		if err := writeEnvelopes(fl.outDir, outcomes); err != nil {
			return err
		}
		if fl.bins > 0 {
			if err := writeHistograms(fl.outDir, outcomes, fl.bins); err != nil {
				return err
			}
		}
	}
	if fl.jsonOut {
		err = printJSON(outcomes)
	} else {
		printTable(outcomes)
	}
	if err != nil {
		return err
	}

	if n := countFailed(outcomes); n > 0 {
		return fmt.Errorf("%d of %d fits failed", n, len(outcomes))
	}
	return nil
}

func covariateProvider(cfg config.Config, st *store.Store, logger *zap.Logger) covariate.Provider {
	upstream := covariate.NewCSVProvider(cfg.Covariates)
	switch {
	case cfg.CovariateCache == "store" && st != nil:
		return covariate.NewCachedProvider(upstream, st.CovariateCache(), logger)
	case cfg.CovariateCache != "" && cfg.CovariateCache != "store":
		return covariate.NewCachedProvider(upstream, covariate.NewFileCache(cfg.CovariateCache), logger)
	}
	return upstream
}

func openEngine(addr string, logger *zap.Logger) (engine.Engine, func(), error) {
	if addr == "" {
		return gibbs.New(gibbs.WithLogger(logger)), func() {}, nil
	}
	remote, err := codec.NewRemoteEngine(addr)
	if err != nil {
		return nil, nil, err
	}
	logger.Info("using remote sampling engine", zap.String("addr", addr))
	return remote, func() { remote.Close() }, nil
}

// #endregion fit

// #region output

func writeEnvelopes(dir string, outcomes []fit.Outcome) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create %s: %w", dir, err)
	}
	for _, o := range outcomes {
		if o.Err != nil || o.Result == nil || o.Result.Summary == nil {
			continue
		}
		path := filepath.Join(dir, fileName(o.Key)+".csv")
		f, err := os.Create(path)
		if err != nil {
			return fmt.Errorf("create %s: %w", path, err)
		}
		err = summary.WriteEnvelopeCSV(f, o.Result.Summary.Predictive)
		if cerr := f.Close(); err == nil {
			err = cerr
		}
		if err != nil {
			return fmt.Errorf("write %s: %w", path, err)
		}
	}
	return nil
}

// sdHistograms is the presentation payload for the two noise terms.
type sdHistograms struct {
	Series      string            `json:"series"`
	Process     summary.Histogram `json:"process_sd"`
	Observation summary.Histogram `json:"observation_sd"`
}

func writeHistograms(dir string, outcomes []fit.Outcome, bins int) error {
	for _, o := range outcomes {
		if o.Err != nil || o.Result == nil || o.Result.Samples == nil {
			continue
		}
		h := sdHistograms{Series: o.Key}
		for _, v := range []struct {
			column string
			dst    *summary.Histogram
		}{
			{model.VarTauAdd, &h.Process},
			{model.VarTauObs, &h.Observation},
		} {
			draws, err := o.Result.Samples.Column(v.column)
			if err != nil {
				return err
			}
			if *v.dst, err = summary.NewHistogram(summary.SDs(draws), bins); err != nil {
				return fmt.Errorf("%s: %w", o.Key, err)
			}
		}
		data, err := json.MarshalIndent(h, "", "  ")
		if err != nil {
			return fmt.Errorf("marshal histogram: %w", err)
		}
		path := filepath.Join(dir, fileName(o.Key)+"_sd.json")
		if err := os.WriteFile(path, data, 0o644); err != nil {
			return fmt.Errorf("write %s: %w", path, err)
		}
	}
	return nil
}

func fileName(key string) string {
	r := strings.NewReplacer("/", "_", " ", "_")
	return strings.Trim(r.Replace(key), "_")
}

type outcomeJSON struct {
	Series string      `json:"series"`
	Error  string      `json:"error,omitempty"`
	Result *fit.Result `json:"result,omitempty"`
}

func printJSON(outcomes []fit.Outcome) error {
	out := make([]outcomeJSON, len(outcomes))
	for i, o := range outcomes {
		out[i] = outcomeJSON{Series: o.Key, Result: o.Result}
		if o.Err != nil {
			out[i].Error = o.Err.Error()
		}
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

func printTable(outcomes []fit.Outcome) {
	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"Series", "Stage", "Provisional", "Attempts", "Coverage", "Process SD", "Obs SD", "Corr", "Fit"})
	for _, o := range outcomes {
		res := o.Result
		if o.Err != nil || res == nil || res.Summary == nil {
			stage := string(fit.StageFailed)
			if res != nil {
				stage = string(res.Stage)
			}
			t.AppendRow(table.Row{o.Key, stage, "", "", "", "", "", "", errText(o.Err)})
			continue
		}
		s := res.Summary
		t.AppendRow(table.Row{
			o.Key, res.Stage, res.Provisional, len(res.Attempts),
			fmt.Sprintf("%.2f", s.Coverage),
			fmt.Sprintf("%.3f", s.ProcessSD.Median),
			fmt.Sprintf("%.3f", s.ObservationSD.Median),
			fmt.Sprintf("%.2f", s.Correlation),
			res.FitID,
		})
	}
	t.Render()
}

func errText(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

func countFailed(outcomes []fit.Outcome) int {
	n := 0
	for _, o := range outcomes {
		if o.Err != nil {
			n++
		}
	}
	return n
}

// #endregion output
