// Package metrics provides Prometheus instrumentation for the chat and voice
// clients.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ChatRequestDuration tracks REST chat turn latency.
	ChatRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "gridlink_chat_request_duration_seconds",
			Help:    "Chat REST request duration in seconds",
			Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
		},
		[]string{"endpoint", "status"},
	)

	// ChatErrorsTotal counts failed chat turns by class.
	ChatErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gridlink_chat_errors_total",
			Help: "Failed chat turns by error class",
		},
		[]string{"class"},
	)

	// SSEEventsTotal counts agent events received over SSE.
	SSEEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gridlink_sse_events_total",
			Help: "Agent events received over SSE",
		},
		[]string{"type"},
	)

	// SSEParseErrorsTotal counts SSE payloads that were not valid JSON.
	SSEParseErrorsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "gridlink_sse_parse_errors_total",
			Help: "SSE payloads that failed to decode",
		},
	)

	// SSEConnectionsActive tracks open event streams.
	SSEConnectionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "gridlink_sse_connections_active",
			Help: "Number of open SSE connections",
		},
	)

	// VoiceSessionsActive tracks connected voice calls.
	VoiceSessionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "gridlink_voice_sessions_active",
			Help: "Number of connected voice sessions",
		},
	)

	// VoiceFramesTotal counts voice frames by direction and outcome.
	VoiceFramesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gridlink_voice_frames_total",
			Help: "Voice frames by direction (in, out) and outcome (sent, played, dropped, muted)",
		},
		[]string{"direction", "outcome"},
	)

	// BargeInsTotal counts playback interruptions by source.
	BargeInsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gridlink_barge_ins_total",
			Help: "Playback interruptions by source (vad, server)",
		},
		[]string{"source"},
	)

	// PlaybackUnderrunsTotal counts times the playback cursor fell behind.
	PlaybackUnderrunsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "gridlink_playback_underruns_total",
			Help: "Playback cursor snapped forward to the current time",
		},
	)

	// VoiceDisconnectsTotal counts socket closes by kind.
	VoiceDisconnectsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gridlink_voice_disconnects_total",
			Help: "Voice socket closes by kind (normal, abnormal)",
		},
		[]string{"kind"},
	)
)

// RecordVoiceFrame increments the frame counter.
func RecordVoiceFrame(direction, outcome string) {
	VoiceFramesTotal.WithLabelValues(direction, outcome).Inc()
}

// RecordSSEEvent increments the SSE counter for an event type. Unknown
// types share one label to bound cardinality.
func RecordSSEEvent(eventType string, known bool) {
	if !known {
		eventType = "other"
	}
	SSEEventsTotal.WithLabelValues(eventType).Inc()
}
