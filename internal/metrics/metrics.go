// Package metrics holds the process-wide Prometheus collectors.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "water_monitor"

var (
	FeedEmissions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "feed",
		Name:      "emissions_total",
		Help:      "Values emitted by a feed listener.",
	}, []string{"feed"})

	FeedDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "feed",
		Name:      "dropped_total",
		Help:      "Values discarded because a consumer buffer was full.",
	}, []string{"feed"})

	FeedFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "feed",
		Name:      "failures_total",
		Help:      "Terminal listener errors.",
	}, []string{"feed"})

	FeedSubscribers = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "feed",
		Name:      "subscribers",
		Help:      "Attached consumers.",
	}, []string{"feed"})

	RemoteListeners = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "remote",
		Name:      "listeners",
		Help:      "Registered remote store listeners.",
	}, []string{"feed"})

	SkippedChildren = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "telemetry",
		Name:      "skipped_children_total",
		Help:      "Telemetry children skipped as malformed.",
	})

	Commands = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "command",
		Name:      "dispatched_total",
		Help:      "Operator commands by outcome.",
	}, []string{"command", "result"})

	BridgeMessages = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "bridge",
		Name:      "messages_total",
		Help:      "MQTT messages relayed between the device and the store.",
	}, []string{"direction", "result"})

	HTTPRequests = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "http",
		Name:      "request_duration_seconds",
		Help:      "API request latency by route and status.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"route", "status"})
)

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
