package transform

import (
	"encoding/json"
	"fmt"
	"time"

	"gorm.io/datatypes"

	"moviepulse/internal/warehouse"
)

// RawMovie is an upstream payload as decoded from JSON. Key presence is
// arbitrary; nothing loosely typed crosses past this package.
type RawMovie map[string]any

// InvalidRecordError reports a raw record missing a field the target shape
// requires.
type InvalidRecordError struct {
	MovieID int64
	Field   string
}

func (e *InvalidRecordError) Error() string {
	if e.MovieID == 0 {
		return fmt.Sprintf("record missing required field %q", e.Field)
	}
	return fmt.Sprintf("movie %d missing required field %q", e.MovieID, e.Field)
}

// ID returns the record's id field, if present.
func (r RawMovie) ID() (int64, bool) { return intField(r, "id") }

// Dedupe groups records by id, keeping the last-seen record per id while
// preserving first-occurrence order. Records without an id are dropped.
func Dedupe(raws []RawMovie) []RawMovie {
	byID := make(map[int64]RawMovie, len(raws))
	order := make([]int64, 0, len(raws))
	for _, r := range raws {
		id, ok := r.ID()
		if !ok {
			continue
		}
		if _, seen := byID[id]; !seen {
			order = append(order, id)
		}
		byID[id] = r
	}
	out := make([]RawMovie, 0, len(order))
	for _, id := range order {
		out = append(out, byID[id])
	}
	return out
}

// ToMovie converts a raw detail record into a dimension row. Only id and
// title are required; everything else is carried over when present.
// LastUpdated is always stamped with the current wall-clock time.
func ToMovie(raw RawMovie) (warehouse.Movie, error) {
	id, ok := raw.ID()
	if !ok {
		return warehouse.Movie{}, &InvalidRecordError{Field: "id"}
	}
	title, ok := stringField(raw, "title")
	if !ok || title == "" {
		return warehouse.Movie{}, &InvalidRecordError{MovieID: id, Field: "title"}
	}

	m := warehouse.Movie{
		MovieID:             id,
		Title:               title,
		OriginalTitle:       optString(raw, "original_title"),
		OriginalLanguage:    optString(raw, "original_language"),
		Overview:            optString(raw, "overview"),
		ReleaseDate:         optString(raw, "release_date"),
		Runtime:             optInt(raw, "runtime"),
		Budget:              optInt(raw, "budget"),
		Revenue:             optInt(raw, "revenue"),
		Status:              optString(raw, "status"),
		Tagline:             optString(raw, "tagline"),
		Homepage:            optString(raw, "homepage"),
		IMDBID:              optString(raw, "imdb_id"),
		Adult:               optBool(raw, "adult"),
		Video:               optBool(raw, "video"),
		Genres:              jsonField(raw, "genres"),
		ProductionCompanies: jsonField(raw, "production_companies"),
		ProductionCountries: jsonField(raw, "production_countries"),
		SpokenLanguages:     jsonField(raw, "spoken_languages"),
		PosterPath:          optString(raw, "poster_path"),
		BackdropPath:        optString(raw, "backdrop_path"),
		LastUpdated:         time.Now().UTC(),
	}
	return m, nil
}

// ToSnapshot converts a raw detail record into a daily observation row for
// the given calendar day. The ingestion timestamp is stamped here and is
// never zero in the output, regardless of caller input.
func ToSnapshot(raw RawMovie, day time.Time) (warehouse.DailySnapshot, error) {
	id, ok := raw.ID()
	if !ok {
		return warehouse.DailySnapshot{}, &InvalidRecordError{Field: "id"}
	}
	popularity, ok := floatField(raw, "popularity")
	if !ok {
		return warehouse.DailySnapshot{}, &InvalidRecordError{MovieID: id, Field: "popularity"}
	}
	voteCount, ok := intField(raw, "vote_count")
	if !ok {
		return warehouse.DailySnapshot{}, &InvalidRecordError{MovieID: id, Field: "vote_count"}
	}
	voteAverage, ok := floatField(raw, "vote_average")
	if !ok {
		return warehouse.DailySnapshot{}, &InvalidRecordError{MovieID: id, Field: "vote_average"}
	}

	return warehouse.DailySnapshot{
		MovieID:            id,
		SnapshotDate:       warehouse.Day(day),
		Popularity:         popularity,
		VoteCount:          voteCount,
		VoteAverage:        voteAverage,
		IngestionTimestamp: time.Now().UTC(),
	}, nil
}

func intField(r RawMovie, key string) (int64, bool) {
	switch v := r[key].(type) {
	case float64:
		return int64(v), true
	case int:
		return int64(v), true
	case int64:
		return v, true
	case json.Number:
		if n, err := v.Int64(); err == nil {
			return n, true
		}
	}
	return 0, false
}

func floatField(r RawMovie, key string) (float64, bool) {
	switch v := r[key].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case json.Number:
		if f, err := v.Float64(); err == nil {
			return f, true
		}
	}
	return 0, false
}

func stringField(r RawMovie, key string) (string, bool) {
	s, ok := r[key].(string)
	return s, ok
}

func optString(r RawMovie, key string) string {
	s, _ := stringField(r, key)
	return s
}

func optInt(r RawMovie, key string) *int64 {
	if n, ok := intField(r, key); ok {
		return &n
	}
	return nil
}

func optBool(r RawMovie, key string) bool {
	b, _ := r[key].(bool)
	return b
}

// jsonField re-encodes a nested repeated sub-record list for storage.
// Absent or unencodable values become an empty list.
func jsonField(r RawMovie, key string) datatypes.JSON {
	v, ok := r[key]
	if !ok || v == nil {
		return datatypes.JSON("[]")
	}
	b, err := json.Marshal(v)
	if err != nil {
		return datatypes.JSON("[]")
	}
	return datatypes.JSON(b)
}
