package warehouse

import (
	"time"

	"gorm.io/datatypes"
)

// Movie is the dimension table row for a tracked movie: current state only,
// one live row per movie_id. Rows are fully replaced on every sighting.
type Movie struct {
	MovieID int64  `gorm:"column:movie_id;primaryKey;autoIncrement:false"`
	Title   string `gorm:"not null"`

	OriginalTitle    string
	OriginalLanguage string
	Overview         string
	ReleaseDate      string
	Runtime          *int64
	Budget           *int64
	Revenue          *int64
	Status           string
	Tagline          string
	Homepage         string
	IMDBID           string `gorm:"column:imdb_id"`
	Adult            bool
	Video            bool

	// Nested repeated sub-records from the upstream payload, stored as JSON
	// the same way flexible event attributes are.
	Genres              datatypes.JSON `gorm:"type:json"`
	ProductionCompanies datatypes.JSON `gorm:"type:json"`
	ProductionCountries datatypes.JSON `gorm:"type:json"`
	SpokenLanguages     datatypes.JSON `gorm:"type:json"`

	PosterPath   string
	BackdropPath string

	// LastUpdated is stamped with ingestion wall-clock time on every load.
	LastUpdated time.Time `gorm:"not null;index"`
}

func (Movie) TableName() string { return "movies" }

// DailySnapshot is one day's measured metrics for one movie. Raw metrics are
// immutable once written for a (movie_id, snapshot_date); the derived columns
// are rewritten in place by the metrics engine.
type DailySnapshot struct {
	MovieID      int64     `gorm:"column:movie_id;primaryKey;autoIncrement:false"`
	SnapshotDate time.Time `gorm:"primaryKey;index"`

	Popularity  float64 `gorm:"not null"`
	VoteCount   int64   `gorm:"not null"`
	VoteAverage float64 `gorm:"not null"`

	PopularityChange1d    *float64 `gorm:"column:popularity_change_1d"`
	PopularityChange7d    *float64 `gorm:"column:popularity_change_7d"`
	PopularityPctChange1d *float64 `gorm:"column:popularity_pct_change_1d"`
	PopularityPctChange7d *float64 `gorm:"column:popularity_pct_change_7d"`
	VoteCountChange1d     *int64   `gorm:"column:vote_count_change_1d"`
	VoteCountChange7d     *int64   `gorm:"column:vote_count_change_7d"`
	VoteCountPctChange1d  *float64 `gorm:"column:vote_count_pct_change_1d"`
	VoteCountPctChange7d  *float64 `gorm:"column:vote_count_pct_change_7d"`

	IngestionTimestamp time.Time `gorm:"not null"`
}

func (DailySnapshot) TableName() string { return "movie_daily_snapshots" }

// Trend categories assigned by the metrics engine, in precedence order.
const (
	TrendViral     = "Viral"
	TrendRising    = "Rising"
	TrendDeclining = "Declining"
	TrendStable    = "Stable"
)

// AggregatedMetric is one derived metrics row per movie per calculation day.
type AggregatedMetric struct {
	MovieID         int64     `gorm:"column:movie_id;primaryKey;autoIncrement:false"`
	CalculationDate time.Time `gorm:"primaryKey;index"`

	Popularity7dMA         *float64 `gorm:"column:popularity_7d_ma"`
	PopularityWowChange    *float64
	PopularityWowPctChange *float64
	VoteVelocity7d         *float64 `gorm:"column:vote_velocity_7d"`
	VoteAcceleration7d     *float64 `gorm:"column:vote_acceleration_7d"`
	ViralCoefficient       *float64
	TrendCategory          string `gorm:"index"`
}

func (AggregatedMetric) TableName() string { return "movie_metrics_aggregated" }

// Day truncates t to its UTC calendar day. All snapshot and calculation
// dates are stored in this normalized form so date equality is exact.
func Day(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
