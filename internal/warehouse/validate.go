package warehouse

import (
	"context"

	"gorm.io/gorm"
)

// CheckResult is one integrity check over a warehouse table.
type CheckResult struct {
	Name       string
	Violations int64
}

// Report is the outcome of a validation pass.
type Report struct {
	Checks []CheckResult
}

// OK reports whether every check passed.
func (r Report) OK() bool {
	for _, c := range r.Checks {
		if c.Violations > 0 {
			return false
		}
	}
	return true
}

// Validate runs integrity checks over the warehouse: required columns must
// never be empty, and natural keys must be unique. It reads only; fixing is
// left to reruns of the loaders.
func Validate(ctx context.Context, db *gorm.DB) (Report, error) {
	var report Report

	add := func(name string, n int64, err error) error {
		if err != nil {
			return err
		}
		report.Checks = append(report.Checks, CheckResult{Name: name, Violations: n})
		return nil
	}

	var n int64

	err := db.WithContext(ctx).Model(&Movie{}).Where("title IS NULL OR title = ''").Count(&n).Error
	if err = add("movies.title present", n, err); err != nil {
		return report, err
	}

	err = db.WithContext(ctx).Model(&Movie{}).Where("last_updated IS NULL").Count(&n).Error
	if err = add("movies.last_updated present", n, err); err != nil {
		return report, err
	}

	err = db.WithContext(ctx).Model(&DailySnapshot{}).Where("ingestion_timestamp IS NULL").Count(&n).Error
	if err = add("snapshots.ingestion_timestamp present", n, err); err != nil {
		return report, err
	}

	n, qerr := countDuplicates(ctx, db, DailySnapshot{}.TableName(), "snapshot_date")
	if err = add("snapshots natural key unique", n, qerr); err != nil {
		return report, err
	}

	n, qerr = countDuplicates(ctx, db, AggregatedMetric{}.TableName(), "calculation_date")
	if err = add("aggregates natural key unique", n, qerr); err != nil {
		return report, err
	}

	return report, nil
}

func countDuplicates(ctx context.Context, db *gorm.DB, table, dateCol string) (int64, error) {
	var n int64
	err := db.WithContext(ctx).Raw(
		"SELECT COUNT(*) FROM (SELECT movie_id FROM "+table+
			" GROUP BY movie_id, "+dateCol+" HAVING COUNT(*) > 1) d").Scan(&n).Error
	return n, err
}
