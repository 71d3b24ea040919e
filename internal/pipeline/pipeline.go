package pipeline

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"moviepulse/internal/ops"
	"moviepulse/internal/tmdb"
	"moviepulse/internal/transform"
	"moviepulse/internal/warehouse"
)

// Fetcher is the upstream surface the pipeline depends on. Satisfied by
// *tmdb.Client; tests substitute a stub.
type Fetcher interface {
	ChangedMovieIDs(ctx context.Context, start, end time.Time) ([]int64, error)
	MovieDetailsBatch(ctx context.Context, ids []int64) (tmdb.BatchResult, error)
	TopMovies(ctx context.Context, limit int) ([]transform.RawMovie, error)
}

// Pipeline sequences the ingestion stages. Each run is a single-threaded
// pass: fetch, transform, load, derive. An empty stage output short-circuits
// the rest of the run as a cheap no-op.
type Pipeline struct {
	fetcher Fetcher
	loader  *warehouse.Loader
	engine  *warehouse.MetricsEngine
	log     *zap.SugaredLogger
}

func New(fetcher Fetcher, loader *warehouse.Loader, engine *warehouse.MetricsEngine, log *zap.SugaredLogger) *Pipeline {
	return &Pipeline{fetcher: fetcher, loader: loader, engine: engine, log: log}
}

// RunDaily ingests the movies that changed upstream in the 24 hours before
// execDate, then recomputes derived and aggregated metrics.
func (p *Pipeline) RunDaily(ctx context.Context, execDate time.Time) error {
	day := warehouse.Day(execDate)
	start := day.AddDate(0, 0, -1)
	p.log.Infow("daily run", "start", start.Format("2006-01-02"), "end", day.Format("2006-01-02"))

	var ids []int64
	err := p.timed("get_changed_movies", func() error {
		var err error
		ids, err = p.fetcher.ChangedMovieIDs(ctx, start, day)
		return err
	})
	if err != nil {
		return err
	}
	if len(ids) == 0 {
		p.log.Infow("no changed movies, skipping downstream stages")
		return nil
	}
	p.log.Infow("changed movies found", "count", len(ids))

	batch, err := p.fetchBatch(ctx, ids)
	if err != nil {
		return err
	}
	if len(batch.Movies) == 0 {
		p.log.Infow("no movie details fetched, skipping downstream stages")
		return nil
	}

	if err := p.load(ctx, batch.Movies, day, true); err != nil {
		return err
	}
	return p.computeMetrics(ctx, day)
}

// RunWeekly re-observes every tracked movie regardless of upstream change
// detection, so gradual metric drift is captured. The dimension table is
// left untouched; only snapshots are written.
func (p *Pipeline) RunWeekly(ctx context.Context, execDate time.Time) error {
	day := warehouse.Day(execDate)
	p.log.Infow("weekly refresh", "date", day.Format("2006-01-02"))

	ids, err := p.loader.TrackedMovieIDs(ctx)
	if err != nil {
		return err
	}
	if len(ids) == 0 {
		p.log.Infow("no tracked movies, skipping refresh")
		return nil
	}
	p.log.Infow("refreshing tracked movies", "count", len(ids))

	batch, err := p.fetchBatch(ctx, ids)
	if err != nil {
		return err
	}
	if len(batch.Movies) == 0 {
		p.log.Infow("no movie details fetched, skipping downstream stages")
		return nil
	}

	if err := p.load(ctx, batch.Movies, day, false); err != nil {
		return err
	}
	return p.computeMetrics(ctx, day)
}

// RunInitialLoad seeds the warehouse with the top-N most popular movies and
// computes an initial set of metrics.
func (p *Pipeline) RunInitialLoad(ctx context.Context, execDate time.Time, limit int) error {
	day := warehouse.Day(execDate)
	p.log.Infow("initial load", "limit", limit)

	var summaries []transform.RawMovie
	err := p.timed("fetch_top_movies", func() error {
		var err error
		summaries, err = p.fetcher.TopMovies(ctx, limit)
		return err
	})
	if err != nil {
		return err
	}
	if len(summaries) == 0 {
		p.log.Infow("no movies discovered, nothing to load")
		return nil
	}

	ids := make([]int64, 0, len(summaries))
	for _, raw := range summaries {
		if id, ok := raw.ID(); ok {
			ids = append(ids, id)
		}
	}

	batch, err := p.fetchBatch(ctx, ids)
	if err != nil {
		return err
	}
	if len(batch.Movies) == 0 {
		p.log.Infow("no movie details fetched, nothing to load")
		return nil
	}

	if err := p.load(ctx, batch.Movies, day, true); err != nil {
		return err
	}
	return p.computeMetrics(ctx, day)
}

// ComputeMetrics reruns the metrics stages alone, without ingesting.
func (p *Pipeline) ComputeMetrics(ctx context.Context, execDate time.Time) error {
	return p.computeMetrics(ctx, warehouse.Day(execDate))
}

func (p *Pipeline) fetchBatch(ctx context.Context, ids []int64) (tmdb.BatchResult, error) {
	var batch tmdb.BatchResult
	err := p.timed("fetch_movie_details", func() error {
		var err error
		batch, err = p.fetcher.MovieDetailsBatch(ctx, ids)
		return err
	})
	if err != nil {
		return batch, err
	}
	ops.MoviesFetched.Add(float64(len(batch.Movies)))
	ops.MoviesSkipped.Add(float64(len(batch.Skipped)))
	return batch, nil
}

// load transforms the raw batch and writes it. An invalid record aborts the
// whole load: transformation runs before anything touches the warehouse.
func (p *Pipeline) load(ctx context.Context, raws []transform.RawMovie, day time.Time, withMovies bool) error {
	raws = transform.Dedupe(raws)

	movies := make([]warehouse.Movie, 0, len(raws))
	snapshots := make([]warehouse.DailySnapshot, 0, len(raws))
	for _, raw := range raws {
		if withMovies {
			m, err := transform.ToMovie(raw)
			if err != nil {
				return fmt.Errorf("transform movie: %w", err)
			}
			movies = append(movies, m)
		}
		s, err := transform.ToSnapshot(raw, day)
		if err != nil {
			return fmt.Errorf("transform snapshot: %w", err)
		}
		snapshots = append(snapshots, s)
	}

	return p.timed("load_warehouse", func() error {
		if withMovies {
			n, err := p.loader.UpsertMovies(ctx, movies)
			if err != nil {
				return err
			}
			ops.RowsLoaded.WithLabelValues(warehouse.Movie{}.TableName()).Add(float64(n))
		}
		n, err := p.loader.InsertSnapshots(ctx, snapshots, day)
		if err != nil {
			return err
		}
		ops.RowsLoaded.WithLabelValues(warehouse.DailySnapshot{}.TableName()).Add(float64(n))
		return nil
	})
}

func (p *Pipeline) computeMetrics(ctx context.Context, day time.Time) error {
	return p.timed("compute_metrics", func() error {
		if err := p.engine.ComputeDerivedMetrics(ctx); err != nil {
			return err
		}
		return p.engine.ComputeAggregatedMetrics(ctx, day)
	})
}

func (p *Pipeline) timed(stage string, fn func() error) error {
	start := time.Now()
	err := fn()
	elapsed := time.Since(start)
	ops.StageDuration.WithLabelValues(stage).Observe(elapsed.Seconds())
	if err != nil {
		p.log.Errorw("stage failed", "stage", stage, "elapsed", elapsed, "error", err)
		return err
	}
	p.log.Infow("stage done", "stage", stage, "elapsed", elapsed)
	return nil
}
