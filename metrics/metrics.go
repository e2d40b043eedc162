// Package metrics holds the prometheus collectors of the ingest and delivery
// paths. They register on the default registry, served at /metrics.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// IngestUnits counts processed upload units by outcome
	// (stored, skipped, failed, rolled_back).
	IngestUnits = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tunevault",
		Name:      "ingest_units_total",
		Help:      "Upload units processed, by outcome",
	}, []string{"outcome"})

	// CompensatingDeletes counts rollback blob deletes by result.
	CompensatingDeletes = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tunevault",
		Name:      "compensating_deletes_total",
		Help:      "Best-effort blob deletes after a metadata write failed",
	}, []string{"result"})

	TranscodeDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "tunevault",
		Name:      "transcode_duration_seconds",
		Help:      "Time spent probing and encoding one track",
		Buckets:   []float64{1, 2, 5, 10, 20, 30, 60, 120, 300, 600},
	}, []string{"result"})

	// RangeRequests counts content fetches by kind (full, partial).
	RangeRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tunevault",
		Name:      "content_requests_total",
		Help:      "Track content fetches, full or partial",
	}, []string{"kind"})

	// PlaybackVerifications counts token checks by result.
	PlaybackVerifications = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tunevault",
		Name:      "playback_verifications_total",
		Help:      "Playback token verifications by result",
	}, []string{"result"})
)

// ObserveTranscode records one transcode run.
func ObserveTranscode(err error, took time.Duration) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	TranscodeDuration.WithLabelValues(result).Observe(took.Seconds())
}
