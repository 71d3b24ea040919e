package warehouse

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func testDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "warehouse.db")), &gorm.Config{})
	if err != nil {
		t.Fatal(err)
	}
	return db
}

func provisionedDB(t *testing.T) *gorm.DB {
	t.Helper()
	db := testDB(t)
	if err := Setup(db, ""); err != nil {
		t.Fatal(err)
	}
	return db
}

func testLoader(db *gorm.DB) *Loader {
	return NewLoader(db, zap.NewNop().Sugar())
}

func testMovie(id int64, title string) Movie {
	return Movie{MovieID: id, Title: title, LastUpdated: time.Now().UTC()}
}

func testSnapshot(id int64, day time.Time, popularity float64, votes int64) DailySnapshot {
	return DailySnapshot{
		MovieID:            id,
		SnapshotDate:       Day(day),
		Popularity:         popularity,
		VoteCount:          votes,
		VoteAverage:        7.0,
		IngestionTimestamp: time.Now().UTC(),
	}
}

func countRows(t *testing.T, db *gorm.DB, model any) int64 {
	t.Helper()
	var n int64
	if err := db.Model(model).Count(&n).Error; err != nil {
		t.Fatal(err)
	}
	return n
}

func TestUpsertMoviesIdempotent(t *testing.T) {
	db := provisionedDB(t)
	loader := testLoader(db)
	ctx := context.Background()

	movies := []Movie{testMovie(1, "one"), testMovie(2, "two")}
	for i := 0; i < 3; i++ {
		n, err := loader.UpsertMovies(ctx, movies)
		if err != nil {
			t.Fatal(err)
		}
		if n != 2 {
			t.Fatalf("run %d: expected 2 rows written, got %d", i, n)
		}
	}

	if n := countRows(t, db, &Movie{}); n != 2 {
		t.Fatalf("expected 2 live rows after reruns, got %d", n)
	}
}

func TestUpsertMoviesReplacesCurrentState(t *testing.T) {
	db := provisionedDB(t)
	loader := testLoader(db)
	ctx := context.Background()

	if _, err := loader.UpsertMovies(ctx, []Movie{testMovie(1, "old title")}); err != nil {
		t.Fatal(err)
	}
	if _, err := loader.UpsertMovies(ctx, []Movie{testMovie(1, "new title")}); err != nil {
		t.Fatal(err)
	}

	var m Movie
	if err := db.First(&m, "movie_id = ?", 1).Error; err != nil {
		t.Fatal(err)
	}
	if m.Title != "new title" {
		t.Fatalf("expected row fully replaced, got title %q", m.Title)
	}
}

func TestUpsertMoviesDedupesInput(t *testing.T) {
	db := provisionedDB(t)
	loader := testLoader(db)

	n, err := loader.UpsertMovies(context.Background(), []Movie{
		testMovie(1, "first"),
		testMovie(1, "last"),
	})
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Fatalf("expected 1 row after dedupe, got %d", n)
	}

	var m Movie
	if err := db.First(&m, "movie_id = ?", 1).Error; err != nil {
		t.Fatal(err)
	}
	if m.Title != "last" {
		t.Fatalf("expected last-seen record to win, got %q", m.Title)
	}
}

func TestLoadersTreatEmptyInputAsNoOp(t *testing.T) {
	loader := testLoader(provisionedDB(t))
	ctx := context.Background()

	if n, err := loader.UpsertMovies(ctx, nil); err != nil || n != 0 {
		t.Fatalf("expected (0, nil) for empty movies, got (%d, %v)", n, err)
	}
	if n, err := loader.InsertSnapshots(ctx, nil, time.Now()); err != nil || n != 0 {
		t.Fatalf("expected (0, nil) for empty snapshots, got (%d, %v)", n, err)
	}
}

func TestUpsertMoviesFailsOnMissingTable(t *testing.T) {
	loader := testLoader(testDB(t)) // no Setup

	_, err := loader.UpsertMovies(context.Background(), []Movie{testMovie(1, "x")})
	var missing *TableMissingError
	if !errors.As(err, &missing) {
		t.Fatalf("expected TableMissingError, got %v", err)
	}
	if missing.Table != "movies" {
		t.Fatalf("expected movies table in error, got %q", missing.Table)
	}
}

func TestUpsertMoviesToleratesAdditiveSchemaDrift(t *testing.T) {
	db := provisionedDB(t)
	if err := db.Exec("ALTER TABLE movies ADD COLUMN drifted_note TEXT").Error; err != nil {
		t.Fatal(err)
	}

	loader := testLoader(db)
	if _, err := loader.UpsertMovies(context.Background(), []Movie{testMovie(1, "x")}); err != nil {
		t.Fatalf("load against drifted schema failed: %v", err)
	}
}

func TestInsertSnapshotsIdempotentPerDay(t *testing.T) {
	db := provisionedDB(t)
	loader := testLoader(db)
	ctx := context.Background()

	day1 := time.Date(2026, 8, 30, 0, 0, 0, 0, time.UTC)
	day2 := day1.AddDate(0, 0, 1)

	if _, err := loader.InsertSnapshots(ctx, []DailySnapshot{
		testSnapshot(1, day1, 10, 100),
		testSnapshot(2, day1, 20, 200),
	}, day1); err != nil {
		t.Fatal(err)
	}

	// Rerun for the same day with a corrected value: replaces, no duplicates.
	if _, err := loader.InsertSnapshots(ctx, []DailySnapshot{
		testSnapshot(1, day1, 11, 101),
		testSnapshot(2, day1, 20, 200),
	}, day1); err != nil {
		t.Fatal(err)
	}

	// A different day coexists per id.
	if _, err := loader.InsertSnapshots(ctx, []DailySnapshot{
		testSnapshot(1, day2, 12, 110),
	}, day2); err != nil {
		t.Fatal(err)
	}

	if n := countRows(t, db, &DailySnapshot{}); n != 3 {
		t.Fatalf("expected 3 snapshot rows, got %d", n)
	}

	var s DailySnapshot
	if err := db.First(&s, "movie_id = ? AND snapshot_date = ?", 1, Day(day1)).Error; err != nil {
		t.Fatal(err)
	}
	if s.Popularity != 11 {
		t.Fatalf("expected rerun to replace day's row, got popularity %v", s.Popularity)
	}
}

func TestTrackedMovieIDs(t *testing.T) {
	db := provisionedDB(t)
	loader := testLoader(db)
	ctx := context.Background()

	if _, err := loader.UpsertMovies(ctx, []Movie{
		testMovie(30, "c"), testMovie(10, "a"), testMovie(20, "b"),
	}); err != nil {
		t.Fatal(err)
	}

	ids, err := loader.TrackedMovieIDs(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(ids) != 3 || ids[0] != 10 || ids[1] != 20 || ids[2] != 30 {
		t.Fatalf("expected sorted ids [10 20 30], got %v", ids)
	}
}
