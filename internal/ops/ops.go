package ops

import (
	"bytes"

	"github.com/fasthttp/router"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"
	"github.com/valyala/fasthttp"
	"go.uber.org/zap"
)

var (
	MoviesFetched = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "moviepulse",
		Name:      "movies_fetched_total",
		Help:      "Total number of movie detail records fetched from upstream.",
	})
	MoviesSkipped = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "moviepulse",
		Name:      "movies_skipped_total",
		Help:      "Total number of movie ids skipped after exhausted fetch retries.",
	})
	RowsLoaded = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "moviepulse",
		Name:      "rows_loaded_total",
		Help:      "Total number of rows written to the warehouse, by table.",
	}, []string{"table"})
	StageDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "moviepulse",
		Name:      "stage_duration_seconds",
		Help:      "Duration of pipeline stages in seconds.",
		Buckets:   []float64{0.1, 0.5, 1, 5, 15, 60, 300, 900, 3600},
	}, []string{"stage"})
)

// Register adds the pipeline metrics to the default registry. Call once
// from main before serving /metrics.
func Register() {
	prometheus.MustRegister(MoviesFetched, MoviesSkipped, RowsLoaded, StageDuration)
}

// Serve exposes /metrics and /healthz for the duration of a run, so a
// scraper can observe long batch executions. It blocks; run it in a
// goroutine.
func Serve(addr string, log *zap.SugaredLogger) error {
	r := router.New()

	r.GET("/healthz", func(ctx *fasthttp.RequestCtx) {
		ctx.SetStatusCode(fasthttp.StatusOK)
		ctx.SetBodyString("ok")
	})

	r.GET("/metrics", func(ctx *fasthttp.RequestCtx) {
		families, err := prometheus.DefaultGatherer.Gather()
		if err != nil {
			ctx.SetStatusCode(fasthttp.StatusInternalServerError)
			ctx.SetBodyString("failed to gather metrics")
			return
		}
		var buf bytes.Buffer
		encoder := expfmt.NewEncoder(&buf, expfmt.FmtText)
		for _, mf := range families {
			if err := encoder.Encode(mf); err != nil {
				ctx.SetStatusCode(fasthttp.StatusInternalServerError)
				ctx.SetBodyString("failed to encode metrics")
				return
			}
		}
		ctx.SetContentType(string(expfmt.FmtText))
		ctx.SetBody(buf.Bytes())
	})

	log.Infow("ops listener started", "addr", addr)
	return fasthttp.ListenAndServe(addr, r.Handler)
}
