package telemetry

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	once sync.Once

	PostingsIngested = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "jobsync_postings_ingested_total", Help: "Postings processed by resolution (created, updated, failed)"}, []string{"resolution"})
	ForwardOutcomes  = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "jobsync_forwards_total", Help: "Webhook forward attempts by outcome"}, []string{"outcome"})
	SyncPasses       = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "jobsync_sync_passes_total", Help: "Sync passes by result (advanced, noop, busy, error)"}, []string{"result"})
	RateLimitRejects = prometheus.NewCounter(prometheus.CounterOpts{Name: "jobsync_rate_limit_rejects_total", Help: "Requests rejected by rate limiter"})
	BacklogGauge     = prometheus.NewGauge(prometheus.GaugeOpts{Name: "jobsync_sync_backlog", Help: "Postings not yet covered by a completed sync pass"})
)

// Handler exposes /metrics HTTP handler with a singleton registry.
func Handler() http.Handler {
	once.Do(func() {
		prometheus.MustRegister(
			PostingsIngested,
			ForwardOutcomes,
			SyncPasses,
			RateLimitRejects,
			BacklogGauge,
		)
	})
	return promhttp.Handler()
}
