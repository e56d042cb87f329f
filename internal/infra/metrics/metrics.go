// Package metrics holds the process-wide prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Gauges
var (
	ActiveSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "vcjukebox_active_sessions",
		Help: "Number of chats holding playback state",
	})
	AnnouncementSubscribers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "vcjukebox_announcement_subscribers",
		Help: "Number of connected announcement subscribers",
	})
)

// Counters
var (
	CommandsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vcjukebox_commands_total",
		Help: "Total chat commands by command and reply kind",
	}, []string{"command", "kind"})
	TransportCallsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vcjukebox_transport_calls_total",
		Help: "Total transport calls by operation and outcome",
	}, []string{"op", "outcome"})
	TransportEventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vcjukebox_transport_events_total",
		Help: "Total transport events handled by type and outcome",
	}, []string{"type", "outcome"})
	TracksStartedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "vcjukebox_tracks_started_total",
		Help: "Total tracks that started streaming",
	})
	TracksDroppedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "vcjukebox_tracks_dropped_total",
		Help: "Total queued tracks discarded because they failed to start",
	})
	FilterRejectionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vcjukebox_filter_rejections_total",
		Help: "Total tracks rejected by filter",
	}, []string{"filter"})
)

// Histograms
var (
	ResolveLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "vcjukebox_resolve_duration_seconds",
		Help:    "Query resolution duration in seconds by outcome",
		Buckets: []float64{0.25, 0.5, 1, 2, 5, 10, 20, 30},
	}, []string{"outcome"})
)

// Outcome returns the outcome label for err.
func Outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
