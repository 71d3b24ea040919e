package warehouse

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

const loadBatchSize = 500

// TableMissingError means a target table has not been provisioned. It is
// fatal and never retried: run the setup command first.
type TableMissingError struct {
	Table string
}

func (e *TableMissingError) Error() string {
	return fmt.Sprintf("warehouse: table %q does not exist, run setup first", e.Table)
}

// Loader writes movie and snapshot rows into the warehouse. It is the sole
// writer of both tables; upserts are implemented as delete-then-append keyed
// by natural key, inside one transaction, so reruns converge to the same
// end state.
type Loader struct {
	db  *gorm.DB
	log *zap.SugaredLogger
}

func NewLoader(db *gorm.DB, log *zap.SugaredLogger) *Loader {
	return &Loader{db: db, log: log}
}

// UpsertMovies replaces the current-state rows for every movie in the input.
// Input is deduplicated by movie_id (last wins). The column set is read live
// from the warehouse, so additive schema drift on the table does not break
// the append. Returns the number of rows written.
func (l *Loader) UpsertMovies(ctx context.Context, movies []Movie) (int, error) {
	if len(movies) == 0 {
		l.log.Warnw("no movies to load")
		return 0, nil
	}

	movies = dedupeMovies(movies)
	cols, err := l.liveColumns(&Movie{})
	if err != nil {
		return 0, err
	}

	ids := make([]int64, len(movies))
	for i, m := range movies {
		ids[i] = m.MovieID
	}

	err = l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Where("movie_id IN ?", ids).Delete(&Movie{})
		if res.Error != nil {
			return res.Error
		}
		l.log.Infow("deleted existing movie rows", "rows", res.RowsAffected)
		return tx.Select(cols).CreateInBatches(movies, loadBatchSize).Error
	})
	if err != nil {
		return 0, err
	}

	l.log.Infow("loaded movies", "rows", len(movies))
	return len(movies), nil
}

// InsertSnapshots writes one day's observation rows. The delete predicate is
// scoped to (snapshot_date, movie_id) so other days' history is untouched
// while a rerun for the same day replaces instead of duplicating.
func (l *Loader) InsertSnapshots(ctx context.Context, snapshots []DailySnapshot, day time.Time) (int, error) {
	if len(snapshots) == 0 {
		l.log.Warnw("no snapshots to load")
		return 0, nil
	}

	day = Day(day)
	snapshots = dedupeSnapshots(snapshots)
	cols, err := l.liveColumns(&DailySnapshot{})
	if err != nil {
		return 0, err
	}

	ids := make([]int64, len(snapshots))
	for i, s := range snapshots {
		ids[i] = s.MovieID
	}

	err = l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Where("snapshot_date = ? AND movie_id IN ?", day, ids).Delete(&DailySnapshot{})
		if res.Error != nil {
			return res.Error
		}
		l.log.Infow("deleted existing snapshot rows", "date", day.Format("2006-01-02"), "rows", res.RowsAffected)
		return tx.Select(cols).CreateInBatches(snapshots, loadBatchSize).Error
	})
	if err != nil {
		return 0, err
	}

	l.log.Infow("loaded snapshots", "date", day.Format("2006-01-02"), "rows", len(snapshots))
	return len(snapshots), nil
}

// TrackedMovieIDs returns every movie_id currently in the dimension table,
// used by the weekly refresh to re-observe movies whose metadata is quiet.
func (l *Loader) TrackedMovieIDs(ctx context.Context) ([]int64, error) {
	var ids []int64
	err := l.db.WithContext(ctx).Model(&Movie{}).Order("movie_id").Pluck("movie_id", &ids).Error
	if err != nil {
		return nil, err
	}
	return ids, nil
}

// liveColumns reads the target table's current schema and returns the model
// columns that exist on it, in model field order. The append never assumes
// the compiled-in schema matches the table exactly.
func (l *Loader) liveColumns(model any) ([]string, error) {
	stmt := &gorm.Statement{DB: l.db}
	if err := stmt.Parse(model); err != nil {
		return nil, err
	}

	m := l.db.Migrator()
	if !m.HasTable(model) {
		return nil, &TableMissingError{Table: stmt.Table}
	}
	types, err := m.ColumnTypes(model)
	if err != nil {
		return nil, err
	}

	live := make(map[string]bool, len(types))
	for _, ct := range types {
		live[ct.Name()] = true
	}

	var cols []string
	for _, f := range stmt.Schema.Fields {
		if f.DBName != "" && live[f.DBName] {
			cols = append(cols, f.DBName)
		}
	}
	return cols, nil
}

// dedupeMovies keeps the last-seen row per movie_id, preserving
// first-occurrence order.
func dedupeMovies(in []Movie) []Movie {
	byID := make(map[int64]Movie, len(in))
	order := make([]int64, 0, len(in))
	for _, m := range in {
		if _, seen := byID[m.MovieID]; !seen {
			order = append(order, m.MovieID)
		}
		byID[m.MovieID] = m
	}
	out := make([]Movie, 0, len(order))
	for _, id := range order {
		out = append(out, byID[id])
	}
	return out
}

func dedupeSnapshots(in []DailySnapshot) []DailySnapshot {
	byID := make(map[int64]DailySnapshot, len(in))
	order := make([]int64, 0, len(in))
	for _, s := range in {
		if _, seen := byID[s.MovieID]; !seen {
			order = append(order, s.MovieID)
		}
		byID[s.MovieID] = s
	}
	out := make([]DailySnapshot, 0, len(order))
	for _, id := range order {
		out = append(out, byID[id])
	}
	return out
}
