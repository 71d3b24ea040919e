package tmdb

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"moviepulse/internal/transform"
)

const defaultBaseURL = "https://api.themoviedb.org/3"

// RequestError is a failed upstream call, reported after the retry budget
// for that call is exhausted.
type RequestError struct {
	Endpoint   string
	StatusCode int
	Err        error
}

func (e *RequestError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("tmdb: %s returned status %d", e.Endpoint, e.StatusCode)
	}
	return fmt.Sprintf("tmdb: %s failed: %v", e.Endpoint, e.Err)
}

func (e *RequestError) Unwrap() error { return e.Err }

// Config controls client behavior. Zero values get production defaults;
// tests lower the pacing and backoff.
type Config struct {
	APIKey  string
	BaseURL string
	Timeout time.Duration

	// Pace is the fixed delay between consecutive requests in paged and
	// batched fetches (~4 req/s upstream limit).
	Pace time.Duration

	// Retries is the per-call attempt budget; RetryBaseDelay doubles after
	// each failed attempt.
	Retries        int
	RetryBaseDelay time.Duration
}

// Client is an authenticated TMDB API session. It holds no state between
// calls beyond the connection pool.
type Client struct {
	cfg  Config
	http *fasthttp.Client
	log  *zap.SugaredLogger
}

// New builds a client. A missing API key fails here, before any request.
func New(cfg Config, log *zap.SugaredLogger) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("tmdb: API key is required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.Pace < 0 {
		cfg.Pace = 0
	} else if cfg.Pace == 0 {
		cfg.Pace = 250 * time.Millisecond
	}
	if cfg.Retries <= 0 {
		cfg.Retries = 3
	}
	if cfg.RetryBaseDelay <= 0 {
		cfg.RetryBaseDelay = time.Second
	}
	return &Client{
		cfg: cfg,
		http: &fasthttp.Client{
			ReadTimeout:  cfg.Timeout,
			WriteTimeout: cfg.Timeout,
		},
		log: log,
	}, nil
}

// ChangedMovieIDs pages through the changes feed and returns every movie id
// reported for the date range. Ids may repeat across pages; callers dedupe
// before loading.
func (c *Client) ChangedMovieIDs(ctx context.Context, start, end time.Time) ([]int64, error) {
	var ids []int64
	page := 1
	for {
		params := url.Values{}
		params.Set("start_date", start.Format("2006-01-02"))
		params.Set("end_date", end.Format("2006-01-02"))
		params.Set("page", fmt.Sprint(page))

		resp, err := c.get(ctx, "movie/changes", params)
		if err != nil {
			return nil, err
		}

		results := resultList(resp)
		if len(results) == 0 {
			break
		}
		for _, item := range results {
			if raw, ok := item.(map[string]any); ok {
				if id, ok := transform.RawMovie(raw).ID(); ok {
					ids = append(ids, id)
				}
			}
		}
		c.log.Infow("fetched changes page", "page", page, "ids", len(ids))

		if page >= totalPages(resp, 1) {
			break
		}
		page++
		if err := c.pause(ctx); err != nil {
			return ids, err
		}
	}
	return ids, nil
}

// MovieDetails fetches the full detail record for one movie.
func (c *Client) MovieDetails(ctx context.Context, id int64) (transform.RawMovie, error) {
	resp, err := c.get(ctx, fmt.Sprintf("movie/%d", id), nil)
	if err != nil {
		return nil, err
	}
	return transform.RawMovie(resp), nil
}

// SkippedFetch records one id dropped from a batch and why.
type SkippedFetch struct {
	MovieID int64
	Err     error
}

// BatchResult is the outcome of a batched detail fetch: the records that
// succeeded plus the ids that were skipped after their retries ran out.
type BatchResult struct {
	Movies  []transform.RawMovie
	Skipped []SkippedFetch
}

// MovieDetailsBatch fetches details for each id sequentially with a fixed
// inter-request pacing delay. A failed fetch is logged and skipped; a single
// bad id never fails the batch.
func (c *Client) MovieDetailsBatch(ctx context.Context, ids []int64) (BatchResult, error) {
	var res BatchResult
	total := len(ids)
	c.log.Infow("fetching movie details", "count", total)

	for i, id := range ids {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		raw, err := c.MovieDetails(ctx, id)
		if err != nil {
			c.log.Warnw("skipping movie after failed fetch", "movie_id", id, "error", err)
			res.Skipped = append(res.Skipped, SkippedFetch{MovieID: id, Err: err})
		} else {
			res.Movies = append(res.Movies, raw)
		}

		if (i+1)%100 == 0 {
			c.log.Infow("batch fetch progress", "fetched", i+1, "total", total)
		}
		if i < total-1 {
			if err := c.pause(ctx); err != nil {
				return res, err
			}
		}
	}

	c.log.Infow("batch fetch done", "fetched", len(res.Movies), "skipped", len(res.Skipped), "total", total)
	return res, nil
}

// TopMovies pages through the popularity-sorted discover feed until limit
// summary records are collected or the feed is exhausted.
func (c *Client) TopMovies(ctx context.Context, limit int) ([]transform.RawMovie, error) {
	var movies []transform.RawMovie
	page := 1
	for len(movies) < limit {
		params := url.Values{}
		params.Set("page", fmt.Sprint(page))
		params.Set("sort_by", "popularity.desc")
		params.Set("include_adult", "false")
		params.Set("include_video", "false")

		resp, err := c.get(ctx, "discover/movie", params)
		if err != nil {
			return nil, err
		}

		results := resultList(resp)
		if len(results) == 0 {
			break
		}
		for _, item := range results {
			if raw, ok := item.(map[string]any); ok {
				movies = append(movies, transform.RawMovie(raw))
			}
		}
		c.log.Infow("fetched discover page", "page", page, "movies", len(movies))

		if page >= totalPages(resp, 0) {
			break
		}
		page++
		if err := c.pause(ctx); err != nil {
			return movies, err
		}
	}
	if len(movies) > limit {
		movies = movies[:limit]
	}
	return movies, nil
}

// get performs one authenticated GET with the per-call retry budget.
// Each failed attempt backs off exponentially before the next.
func (c *Client) get(ctx context.Context, endpoint string, params url.Values) (map[string]any, error) {
	uri := c.cfg.BaseURL + "/" + endpoint
	if len(params) > 0 {
		uri += "?" + params.Encode()
	}

	var lastErr error
	for attempt := 0; attempt < c.cfg.Retries; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		body, err := c.do(uri)
		if err == nil {
			var out map[string]any
			if jerr := json.Unmarshal(body, &out); jerr != nil {
				err = &RequestError{Endpoint: endpoint, Err: jerr}
			} else {
				return out, nil
			}
		}

		lastErr = err
		if attempt < c.cfg.Retries-1 {
			delay := c.cfg.RetryBaseDelay << attempt
			c.log.Warnw("request failed, retrying", "endpoint", endpoint, "attempt", attempt+1, "delay", delay, "error", err)
			if err := sleep(ctx, delay); err != nil {
				return nil, err
			}
		}
	}

	var reqErr *RequestError
	if errors.As(lastErr, &reqErr) {
		return nil, lastErr
	}
	return nil, &RequestError{Endpoint: endpoint, Err: lastErr}
}

func (c *Client) do(uri string) ([]byte, error) {
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(uri)
	req.Header.SetMethod(fasthttp.MethodGet)
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	req.Header.Set("Accept", "application/json")

	if err := c.http.DoTimeout(req, resp, c.cfg.Timeout); err != nil {
		return nil, err
	}
	if code := resp.StatusCode(); code != fasthttp.StatusOK {
		return nil, &RequestError{Endpoint: string(req.URI().Path()), StatusCode: code}
	}

	// The response body is pooled with the response; copy it out.
	body := make([]byte, len(resp.Body()))
	copy(body, resp.Body())
	return body, nil
}

func (c *Client) pause(ctx context.Context) error {
	return sleep(ctx, c.cfg.Pace)
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func resultList(resp map[string]any) []any {
	list, _ := resp["results"].([]any)
	return list
}

func totalPages(resp map[string]any, def int) int {
	if f, ok := resp["total_pages"].(float64); ok {
		return int(f)
	}
	return def
}
