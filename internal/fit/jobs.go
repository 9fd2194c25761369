package fit

import (
	"context"
	"fmt"
	"slices"

	"github.com/danielpatrickdp/waterbird-state/go-estimator/internal/covariate"
	"github.com/danielpatrickdp/waterbird-state/go-estimator/internal/model"
	"github.com/danielpatrickdp/waterbird-state/go-estimator/internal/series"
)

// #region jobs
// JobSource describes where the series of a batch come from.
type JobSource struct {
	Counts     series.Provider
	Covariates covariate.Provider // nil skips the covariate join
	Query      series.Query
	Sites      []string // empty selects every site of the taxon
	Prepare    series.Options
	Link       string
}

// LoadJobs reads the counts of one taxon, keeps the selected sites,
// prepares one series per site and joins covariates when a provider is set.
// The join is mandatory when the link needs a covariate on every step. A
// selected site without usable counts is still returned; its fit fails on
// its own.
func LoadJobs(ctx context.Context, src JobSource) ([]series.Series, error) {
	if src.Query.Taxon == "" {
		return nil, fmt.Errorf("load jobs: a taxon is required")
	}
	records, err := src.Counts.Counts(ctx, src.Query)
	if err != nil {
		return nil, fmt.Errorf("load counts: %w", err)
	}
	if len(src.Sites) > 0 {
		records = slices.DeleteFunc(records, func(r series.CountRecord) bool {
			return !slices.Contains(src.Sites, r.Site)
		})
	}
	if len(records) == 0 {
		return nil, series.NewDataError("load jobs", "no records for sites %v of taxon %q", src.Sites, src.Query.Taxon)
	}
	table, err := series.Prepare(records, src.Prepare)
	if err != nil {
		return nil, err
	}
	jobs := table.All()

	link, err := model.LinkByName(src.Link)
	if err != nil {
		return nil, err
	}
	mandatory := model.RequiresCovariate(link)
	if src.Covariates == nil {
		if mandatory {
			return nil, fmt.Errorf("load jobs: link %s needs covariates but none are configured", link.Name())
		}
		return jobs, nil
	}

	from, to := 0, 0
	for i, s := range jobs {
		a, b, err := covariate.YearSpan(s)
		if err != nil {
			return nil, err
		}
		if i == 0 || a < from {
			from = a
		}
		if i == 0 || b > to {
			to = b
		}
	}
	covs, err := src.Covariates.Covariates(ctx, from, to)
	if err != nil {
		return nil, fmt.Errorf("load covariates: %w", err)
	}
	for i, s := range jobs {
		if jobs[i], err = covariate.Join(s, covs, mandatory); err != nil {
			return nil, err
		}
	}
	return jobs, nil
}

// #endregion jobs
