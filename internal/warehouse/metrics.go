package warehouse

import (
	"context"
	"math"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// MetricsEngine derives trend metrics from the snapshot history. It is the
// sole writer of the derived snapshot columns and of the aggregated table.
type MetricsEngine struct {
	db  *gorm.DB
	log *zap.SugaredLogger
}

func NewMetricsEngine(db *gorm.DB, log *zap.SugaredLogger) *MetricsEngine {
	return &MetricsEngine{db: db, log: log}
}

// ComputeDerivedMetrics recomputes the 1-day and 7-day deltas and percent
// deltas for every snapshot row, partitioned by movie and ordered by date,
// and writes them back in place. It is a full-history recomputation: given
// the same raw history it always converges to the same values, so reruns
// are safe.
func (e *MetricsEngine) ComputeDerivedMetrics(ctx context.Context) error {
	var snaps []DailySnapshot
	if err := e.db.WithContext(ctx).Order("movie_id, snapshot_date").Find(&snaps).Error; err != nil {
		return err
	}

	updated := 0
	for _, series := range groupByMovie(snaps) {
		for i := range series {
			cur := &series[i]

			values := map[string]any{
				"popularity_change_1d":     nil,
				"popularity_pct_change_1d": nil,
				"vote_count_change_1d":     nil,
				"vote_count_pct_change_1d": nil,
				"popularity_change_7d":     nil,
				"popularity_pct_change_7d": nil,
				"vote_count_change_7d":     nil,
				"vote_count_pct_change_7d": nil,
			}
			if i >= 1 {
				prev := series[i-1]
				values["popularity_change_1d"] = cur.Popularity - prev.Popularity
				values["popularity_pct_change_1d"] = pctChange(cur.Popularity, prev.Popularity)
				values["vote_count_change_1d"] = cur.VoteCount - prev.VoteCount
				values["vote_count_pct_change_1d"] = pctChange(float64(cur.VoteCount), float64(prev.VoteCount))
			}
			if i >= 7 {
				prev := series[i-7]
				values["popularity_change_7d"] = cur.Popularity - prev.Popularity
				values["popularity_pct_change_7d"] = pctChange(cur.Popularity, prev.Popularity)
				values["vote_count_change_7d"] = cur.VoteCount - prev.VoteCount
				values["vote_count_pct_change_7d"] = pctChange(float64(cur.VoteCount), float64(prev.VoteCount))
			}

			err := e.db.WithContext(ctx).Model(&DailySnapshot{}).
				Where("movie_id = ? AND snapshot_date = ?", cur.MovieID, cur.SnapshotDate).
				Updates(values).Error
			if err != nil {
				return err
			}
			updated++
		}
	}

	e.log.Infow("derived metrics updated", "rows", updated)
	return nil
}

// ComputeAggregatedMetrics appends one aggregated row per movie observed on
// the calculation day. Lags and the moving average use each movie's full
// history up to and including that day. Rows already present for the day
// are replaced, so reruns do not duplicate.
func (e *MetricsEngine) ComputeAggregatedMetrics(ctx context.Context, calcDate time.Time) error {
	day := Day(calcDate)

	var snaps []DailySnapshot
	err := e.db.WithContext(ctx).
		Where("snapshot_date <= ?", day).
		Order("movie_id, snapshot_date").
		Find(&snaps).Error
	if err != nil {
		return err
	}

	var rows []AggregatedMetric
	for _, series := range groupByMovie(snaps) {
		last := len(series) - 1
		if !series[last].SnapshotDate.Equal(day) {
			continue
		}
		rows = append(rows, aggregateRow(series, last, day))
	}

	if len(rows) == 0 {
		e.log.Warnw("no snapshots for calculation date", "date", day.Format("2006-01-02"))
		return nil
	}

	ids := make([]int64, len(rows))
	for i, r := range rows {
		ids[i] = r.MovieID
	}

	err = e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Where("calculation_date = ? AND movie_id IN ?", day, ids).Delete(&AggregatedMetric{})
		if res.Error != nil {
			return res.Error
		}
		return tx.CreateInBatches(rows, loadBatchSize).Error
	})
	if err != nil {
		return err
	}

	e.log.Infow("aggregated metrics computed", "date", day.Format("2006-01-02"), "rows", len(rows))
	return nil
}

// aggregateRow computes the aggregate for series[i], whose snapshot falls on
// the calculation day. Lag references that reach before the start of the
// history yield nil, never an error.
func aggregateRow(series []DailySnapshot, i int, day time.Time) AggregatedMetric {
	cur := series[i]
	row := AggregatedMetric{
		MovieID:         cur.MovieID,
		CalculationDate: day,
	}

	// Trailing 7-row moving average; shorter when history is shorter.
	start := i - 6
	if start < 0 {
		start = 0
	}
	sum := 0.0
	for _, s := range series[start : i+1] {
		sum += s.Popularity
	}
	ma := sum / float64(i+1-start)
	row.Popularity7dMA = &ma

	if i >= 7 {
		prev := series[i-7]

		wow := cur.Popularity - prev.Popularity
		row.PopularityWowChange = &wow
		row.PopularityWowPctChange = pctChange(cur.Popularity, prev.Popularity)

		vel := float64(cur.VoteCount-prev.VoteCount) / 7
		row.VoteVelocity7d = &vel

		if i >= 14 {
			prevVel := float64(prev.VoteCount-series[i-14].VoteCount) / 7
			accel := vel - prevVel
			row.VoteAcceleration7d = &accel
		}

		coef := viralCoefficient(cur.VoteCount, prev.VoteCount, cur.Popularity, prev.Popularity)
		row.ViralCoefficient = &coef
	}

	row.TrendCategory = trendCategory(row.VoteVelocity7d, row.PopularityWowChange)
	return row
}

// viralCoefficient blends normalized vote-count growth (weight 0.6) and
// normalized popularity growth (weight 0.4), clamped to [0, 100].
func viralCoefficient(curVotes, prevVotes int64, curPop, prevPop float64) float64 {
	voteGrowth := float64(curVotes-prevVotes) / math.Max(float64(prevVotes), 1) * 100
	popGrowth := (curPop - prevPop) / math.Max(prevPop, 1) * 100
	score := voteGrowth*0.6 + popGrowth*0.4
	return math.Min(100, math.Max(0, score))
}

// trendCategory classifies a movie's week. Precedence: Viral, then Rising,
// then Declining, then Stable. Missing inputs (insufficient history) never
// satisfy a comparison, so young movies land on Stable.
func trendCategory(voteVelocity, popChange7d *float64) string {
	switch {
	case voteVelocity != nil && popChange7d != nil && *voteVelocity > 50 && *popChange7d > 10:
		return TrendViral
	case popChange7d != nil && *popChange7d > 5:
		return TrendRising
	case popChange7d != nil && *popChange7d < -5:
		return TrendDeclining
	default:
		return TrendStable
	}
}

// pctChange is (cur-prev)/prev * 100, or nil when prev is zero.
func pctChange(cur, prev float64) *float64 {
	if prev == 0 {
		return nil
	}
	v := (cur - prev) / prev * 100
	return &v
}

// groupByMovie splits date-ordered snapshots into per-movie series,
// preserving input order within each series.
func groupByMovie(snaps []DailySnapshot) [][]DailySnapshot {
	var out [][]DailySnapshot
	for i := 0; i < len(snaps); {
		j := i
		for j < len(snaps) && snaps[j].MovieID == snaps[i].MovieID {
			j++
		}
		out = append(out, snaps[i:j])
		i = j
	}
	return out
}
