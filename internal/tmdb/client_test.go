package tmdb

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"
)

func testClient(t *testing.T, baseURL string) *Client {
	t.Helper()
	c, err := New(Config{
		APIKey:         "test-key",
		BaseURL:        baseURL,
		Timeout:        2 * time.Second,
		Pace:           -1, // no pacing in tests
		RetryBaseDelay: time.Millisecond,
	}, zap.NewNop().Sugar())
	if err != nil {
		t.Fatal(err)
	}
	return c
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func TestNewRequiresAPIKey(t *testing.T) {
	if _, err := New(Config{}, zap.NewNop().Sugar()); err == nil {
		t.Fatal("expected error for missing API key")
	}
}

func TestMovieDetailsRetriesThenSucceeds(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) <= 2 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		writeJSON(w, map[string]any{"id": 603, "title": "The Matrix"})
	}))
	defer srv.Close()

	raw, err := testClient(t, srv.URL).MovieDetails(context.Background(), 603)
	if err != nil {
		t.Fatal(err)
	}
	if id, _ := raw.ID(); id != 603 {
		t.Fatalf("expected id 603, got %d", id)
	}
	if n := atomic.LoadInt32(&calls); n != 3 {
		t.Fatalf("expected 3 attempts, got %d", n)
	}
}

func TestMovieDetailsExhaustsRetries(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := testClient(t, srv.URL).MovieDetails(context.Background(), 603)
	var reqErr *RequestError
	if !errors.As(err, &reqErr) {
		t.Fatalf("expected RequestError, got %v", err)
	}
	if reqErr.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("expected status 503 in error, got %d", reqErr.StatusCode)
	}
	if n := atomic.LoadInt32(&calls); n != 3 {
		t.Fatalf("expected 3 attempts, got %d", n)
	}
}

func TestChangedMovieIDsPaginates(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/movie/changes" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Errorf("unexpected auth header %q", got)
		}
		page, _ := strconv.Atoi(r.URL.Query().Get("page"))
		switch page {
		case 1:
			writeJSON(w, map[string]any{
				"page":        1,
				"total_pages": 2,
				"results":     []map[string]any{{"id": 1}, {"id": 2}},
			})
		default:
			writeJSON(w, map[string]any{
				"page":        2,
				"total_pages": 2,
				"results":     []map[string]any{{"id": 3}, {"adult": false}},
			})
		}
	}))
	defer srv.Close()

	start := time.Date(2026, 8, 30, 0, 0, 0, 0, time.UTC)
	ids, err := testClient(t, srv.URL).ChangedMovieIDs(context.Background(), start, start.AddDate(0, 0, 1))
	if err != nil {
		t.Fatal(err)
	}
	if len(ids) != 3 || ids[0] != 1 || ids[1] != 2 || ids[2] != 3 {
		t.Fatalf("expected ids [1 2 3], got %v", ids)
	}
}

func TestMovieDetailsBatchSkipsFailures(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/movie/2" {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		writeJSON(w, map[string]any{"id": pathID(r.URL.Path), "title": "x"})
	}))
	defer srv.Close()

	res, err := testClient(t, srv.URL).MovieDetailsBatch(context.Background(), []int64{1, 2, 3})
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Movies) != 2 {
		t.Fatalf("expected 2 fetched movies, got %d", len(res.Movies))
	}
	if len(res.Skipped) != 1 || res.Skipped[0].MovieID != 2 {
		t.Fatalf("expected movie 2 skipped, got %+v", res.Skipped)
	}
	if res.Skipped[0].Err == nil {
		t.Fatal("expected skip reason to be recorded")
	}
}

func TestTopMoviesTruncatesToLimit(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		page, _ := strconv.Atoi(r.URL.Query().Get("page"))
		results := make([]map[string]any, 3)
		for i := range results {
			results[i] = map[string]any{"id": (page-1)*3 + i + 1}
		}
		writeJSON(w, map[string]any{"page": page, "total_pages": 5, "results": results})
	}))
	defer srv.Close()

	movies, err := testClient(t, srv.URL).TopMovies(context.Background(), 4)
	if err != nil {
		t.Fatal(err)
	}
	if len(movies) != 4 {
		t.Fatalf("expected exactly 4 movies, got %d", len(movies))
	}
	if id, _ := movies[3].ID(); id != 4 {
		t.Fatalf("expected truncation to keep feed order, got id %d last", id)
	}
}

func TestTopMoviesStopsOnExhaustedFeed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{"page": 1, "total_pages": 1, "results": []map[string]any{{"id": 1}}})
	}))
	defer srv.Close()

	movies, err := testClient(t, srv.URL).TopMovies(context.Background(), 100)
	if err != nil {
		t.Fatal(err)
	}
	if len(movies) != 1 {
		t.Fatalf("expected the feed's single movie, got %d", len(movies))
	}
}

func pathID(path string) int {
	var id int
	_, _ = fmt.Sscanf(path, "/movie/%d", &id)
	return id
}
