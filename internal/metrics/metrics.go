// Package metrics defines the Prometheus instrumentation surface for
// the playback controller: state transitions, seek latency, packet
// transfer and drop counts, and buffer/prebuffer health.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// StateTransitionsTotal counts every StateChanged publication by
	// the state entered.
	StateTransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "esctl_state_transitions_total",
			Help: "Total StreamController state transitions by state entered.",
		},
		[]string{"state"},
	)

	// SeekDuration observes wall-clock time from SeekStarted to
	// SeekCompleted, labelled by outcome.
	SeekDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "esctl_seek_duration_seconds",
			Help:    "Time from SeekStarted to SeekCompleted, by outcome.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
		},
		[]string{"outcome"}, // ok, failed, cancelled
	)

	// PacketsForwardedTotal counts packets an EsStream successfully
	// submitted to the native player.
	PacketsForwardedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "esctl_packets_forwarded_total",
			Help: "Total packets forwarded from PacketStorage to the native player.",
		},
		[]string{"stream"},
	)

	// PacketsDroppedTotal counts packets discarded for carrying a stale
	// seek generation.
	PacketsDroppedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "esctl_packets_dropped_total",
			Help: "Total packets discarded for predating the current seek generation.",
		},
		[]string{"stream"},
	)

	// ReconfigureTotal counts destructive reconfigurations, by trigger.
	ReconfigureTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "esctl_reconfigure_total",
			Help: "Total destructive reconfigurations performed.",
		},
		[]string{"trigger"}, // stream_config_change, seek_restart_required
	)

	// PrebufferWaitDuration observes time spent blocked in the
	// Prepare/Seek/Reconfigure prebuffer loop.
	PrebufferWaitDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "esctl_prebuffer_wait_seconds",
			Help:    "Time spent waiting for streams to reach PreBufferDuration.",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"operation"}, // prepare, seek, reconfigure
	)

	// BufferUnderrunsTotal counts native BufferStatusChanged(Underrun)
	// events, by stream.
	BufferUnderrunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "esctl_buffer_underruns_total",
			Help: "Total buffer underrun events reported by the native player.",
		},
		[]string{"stream"},
	)

	// PlaybackErrorsTotal counts PlaybackError publications by tag.
	PlaybackErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "esctl_playback_errors_total",
			Help: "Total PlaybackError events published, by tag.",
		},
		[]string{"tag"},
	)
)

// ObserveSeek records a completed Seek's outcome and latency in one call.
func ObserveSeek(outcome string, d time.Duration) {
	SeekDuration.WithLabelValues(outcome).Observe(d.Seconds())
}
