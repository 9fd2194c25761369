package store

import (
	"context"
	"fmt"

	"github.com/danielpatrickdp/waterbird-state/go-estimator/internal/covariate"
)

// #region covariate-cache
// CovariateCache returns a covariate.Cache backed by the covariate_cache
// table.
func (s *Store) CovariateCache() covariate.Cache {
	return &covariateCache{s: s}
}

type covariateCache struct {
	s *Store
}

func (c *covariateCache) Load(ctx context.Context, fromYear, toYear int) ([]covariate.Record, error) {
	rows, err := c.s.db.QueryContext(ctx,
		`SELECT year, month, value FROM covariate_cache
		 WHERE year BETWEEN ? AND ? ORDER BY year, month`, fromYear, toYear)
	if err != nil {
		return nil, fmt.Errorf("load covariates: %w", err)
	}
	defer rows.Close()

	var out []covariate.Record
	for rows.Next() {
		var r covariate.Record
		if err := rows.Scan(&r.Year, &r.Month, &r.Value); err != nil {
			return nil, fmt.Errorf("scan covariate: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (c *covariateCache) Store(ctx context.Context, records []covariate.Record) error {
	tx, err := c.s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO covariate_cache (year, month, value) VALUES (?, ?, ?)
		 ON CONFLICT(year, month) DO UPDATE SET value = excluded.value`)
	if err != nil {
		return fmt.Errorf("prepare covariate insert: %w", err)
	}
	defer stmt.Close()

	for _, r := range records {
		if _, err := stmt.ExecContext(ctx, r.Year, r.Month, r.Value); err != nil {
			return fmt.Errorf("store covariate %d-%02d: %w", r.Year, r.Month, err)
		}
	}
	return tx.Commit()
}

// #endregion covariate-cache
