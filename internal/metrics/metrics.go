// Package metrics holds the Prometheus collectors for the map engine.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "forestsync"

var (
	// Overlay reconciliation
	ReconcilePasses = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "overlay",
		Name:      "reconcile_passes_total",
		Help:      "Total overlay reconciliation passes",
	})

	ReconcileDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "overlay",
		Name:      "reconcile_duration_seconds",
		Help:      "Duration of a single reconciliation pass",
		Buckets:   []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1},
	})

	OverlayOps = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "overlay",
		Name:      "ops_total",
		Help:      "Map surface operations applied, by action and item kind",
	}, []string{"action", "kind"})

	RenderErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "overlay",
		Name:      "render_errors_total",
		Help:      "Overlay items the map surface rejected",
	}, []string{"kind"})

	// Views
	ActiveViews = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "view",
		Name:      "active",
		Help:      "Currently mounted views",
	})

	// Feed
	FeedFetches = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "feed",
		Name:      "fetches_total",
		Help:      "Feed document fetches by sheet and result",
	}, []string{"sheet", "result"})

	FeedFetchDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "feed",
		Name:      "refresh_duration_seconds",
		Help:      "Duration of a full feed refresh",
		Buckets:   []float64{0.05, 0.1, 0.5, 1, 2, 5, 10},
	})

	FeedRecords = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "feed",
		Name:      "records",
		Help:      "Records in the current snapshot",
	}, []string{"sheet"})
)

// Handler serves the Prometheus exposition format.
func Handler() http.Handler {
	return promhttp.Handler()
}
