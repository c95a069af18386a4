// Package metrics registers the engine's Prometheus instrumentation,
// grounded on zhilong1115-Aspen's metrics package: package-level
// promauto-registered collectors, served over a plain net/http mux.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// DispatchDropped counts records the dispatcher discarded, by reason
	// ("full_inbox" or "decode_drop").
	DispatchDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "perpx_dispatch_dropped_total",
			Help: "Records dropped before or during shard dispatch.",
		},
		[]string{"reason"},
	)

	// EventsEmitted counts events the detectors produced and handed to the
	// queue adapter, by event type. It is incremented before the push, so
	// events whose push fails are counted here as well as in
	// QueuePushErrors.
	EventsEmitted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "perpx_events_emitted_total",
			Help: "Detector events handed to the queue adapter.",
		},
		[]string{"event_type"},
	)

	// QueuePushErrors counts failed Redis writes from the queue adapter.
	QueuePushErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "perpx_queue_push_errors_total",
			Help: "Errors writing an event to the durable queue.",
		},
	)

	// KlineRollovers counts bar closes, by interval.
	KlineRollovers = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "perpx_kline_rollovers_total",
			Help: "Interval bucket rollovers observed by the aggregator.",
		},
		[]string{"interval"},
	)

	// WorkerInboxDepth reports how many messages are buffered in a
	// worker's inbox, by worker id.
	WorkerInboxDepth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "perpx_worker_inbox_depth",
			Help: "Number of buffered messages in a shard's inbox.",
		},
		[]string{"worker"},
	)
)

// Handler returns the HTTP handler that serves the Prometheus exposition
// format for scraping.
func Handler() http.Handler {
	return promhttp.Handler()
}
