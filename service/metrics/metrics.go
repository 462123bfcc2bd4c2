package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus collectors for the application.
// Following the explicit dependency injection pattern, this struct
// is passed to all components that need to record metrics.
type Metrics struct {
	// Dataset Metrics
	datasetLoadDuration *prometheus.HistogramVec
	datasetLoadsTotal   *prometheus.CounterVec
	datasetRows         *prometheus.GaugeVec

	// Replay Metrics
	replayFramesTotal     prometheus.Counter
	replayFrameDuration   prometheus.Histogram
	replayAdmittedTotal   prometheus.Counter
	replayRestartsTotal   prometheus.Counter
	replayControlsTotal   *prometheus.CounterVec
	replayElapsed         prometheus.Gauge
	replayPlaying         prometheus.Gauge
	replayLiveNodes       prometheus.Gauge
	replayActiveEdges     prometheus.Gauge
	replayVolume          prometheus.Gauge
	replayDroppedSnapshot prometheus.Counter

	// HTTP Metrics
	httpRequestDuration  *prometheus.HistogramVec
	httpRequestsTotal    *prometheus.CounterVec
	sseActiveConnections prometheus.Gauge
	sseEventsSent        *prometheus.CounterVec

	// NATS Metrics
	natsMessagesPublished *prometheus.CounterVec
	natsPublishDuration   prometheus.Histogram
}

// NewMetrics creates a new Metrics instance and registers all collectors.
// If registry is nil, prometheus.DefaultRegisterer is used.
func NewMetrics(registry prometheus.Registerer) *Metrics {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}

	factory := promauto.With(registry)

	return &Metrics{
		// Dataset Metrics
		datasetLoadDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "dataset_load_duration_seconds",
				Help:    "Duration of dataset fetch and preprocessing in seconds",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30},
			},
			[]string{"source"},
		),
		datasetLoadsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dataset_loads_total",
				Help: "Total number of dataset loads by source and status",
			},
			[]string{"source", "status"},
		),
		datasetRows: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "dataset_rows",
				Help: "Rows in the loaded dataset by outcome (records, skipped, filtered) plus node count",
			},
			[]string{"kind"},
		),

		// Replay Metrics
		replayFramesTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "replay_frames_total",
				Help: "Total number of frames the replay session was advanced",
			},
		),
		replayFrameDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "replay_frame_duration_seconds",
				Help:    "Time spent advancing the session and broadcasting one frame",
				Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.016, 0.05},
			},
		),
		replayAdmittedTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "replay_records_admitted_total",
				Help: "Total number of transfer records admitted into the replay",
			},
		),
		replayRestartsTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "replay_restarts_total",
				Help: "Total number of playback restarts",
			},
		),
		replayControlsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "replay_controls_total",
				Help: "Total number of playback control commands by action and status",
			},
			[]string{"action", "status"},
		),
		replayElapsed: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "replay_elapsed_milliseconds",
				Help: "Current elapsed playback time in milliseconds",
			},
		),
		replayPlaying: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "replay_playing",
				Help: "1 while playback is running, 0 while paused",
			},
		),
		replayLiveNodes: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "replay_live_nodes",
				Help: "Number of nodes touched by a live edge in the latest frame",
			},
		),
		replayActiveEdges: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "replay_active_edges",
				Help: "Number of admitted edges retained by the session",
			},
		),
		replayVolume: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "replay_total_volume",
				Help: "Cumulative value of admitted transfers",
			},
		),
		replayDroppedSnapshot: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "replay_snapshots_dropped_total",
				Help: "Snapshots not delivered because a subscriber was behind",
			},
		),

		// HTTP Metrics
		httpRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Duration of HTTP requests in seconds",
				Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5},
			},
			[]string{"handler", "method", "status"},
		),
		httpRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"handler", "method", "status"},
		),
		sseActiveConnections: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "sse_active_connections",
				Help: "Number of active SSE connections",
			},
		),
		sseEventsSent: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sse_events_sent_total",
				Help: "Total number of SSE events sent",
			},
			[]string{"event_type"},
		),

		// NATS Metrics
		natsMessagesPublished: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "nats_messages_published_total",
				Help: "Total number of NATS messages published",
			},
			[]string{"status"},
		),
		natsPublishDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "nats_publish_duration_seconds",
				Help:    "Duration of NATS publish operations in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
			},
		),
	}
}

// Dataset metric helpers

// RecordDatasetLoad records one dataset load attempt.
func (m *Metrics) RecordDatasetLoad(source string, duration float64, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	m.datasetLoadDuration.WithLabelValues(source).Observe(duration)
	m.datasetLoadsTotal.WithLabelValues(source, status).Inc()
}

// RecordDatasetShape records the size of the loaded dataset.
func (m *Metrics) RecordDatasetShape(records, nodes, skipped, filtered int) {
	m.datasetRows.WithLabelValues("records").Set(float64(records))
	m.datasetRows.WithLabelValues("nodes").Set(float64(nodes))
	m.datasetRows.WithLabelValues("skipped").Set(float64(skipped))
	m.datasetRows.WithLabelValues("filtered").Set(float64(filtered))
}

// Replay metric helpers

// RecordFrame records one advanced frame and the state it produced.
func (m *Metrics) RecordFrame(duration, elapsed float64, liveNodes, activeEdges int, volume float64) {
	m.replayFramesTotal.Inc()
	m.replayFrameDuration.Observe(duration)
	m.replayElapsed.Set(elapsed)
	m.replayLiveNodes.Set(float64(liveNodes))
	m.replayActiveEdges.Set(float64(activeEdges))
	m.replayVolume.Set(volume)
}

// RecordAdmitted records a transfer admitted into the replay.
func (m *Metrics) RecordAdmitted() {
	m.replayAdmittedTotal.Inc()
}

// RecordRestart records a playback restart.
func (m *Metrics) RecordRestart() {
	m.replayRestartsTotal.Inc()
}

// RecordControl records a playback control command.
func (m *Metrics) RecordControl(action string, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	m.replayControlsTotal.WithLabelValues(action, status).Inc()
}

// RecordPlaying records whether playback is running.
func (m *Metrics) RecordPlaying(playing bool) {
	if playing {
		m.replayPlaying.Set(1)
		return
	}
	m.replayPlaying.Set(0)
}

// RecordSnapshotDropped records a snapshot skipped for a slow subscriber.
func (m *Metrics) RecordSnapshotDropped() {
	m.replayDroppedSnapshot.Inc()
}

// HTTP metric helpers

// RecordHTTPRequest records an HTTP request with duration.
func (m *Metrics) RecordHTTPRequest(handler, method string, statusCode int, duration float64) {
	status := statusCodeToString(statusCode)
	m.httpRequestDuration.WithLabelValues(handler, method, status).Observe(duration)
	m.httpRequestsTotal.WithLabelValues(handler, method, status).Inc()
}

// RecordSSEConnectionChange records a change in SSE connection count.
func (m *Metrics) RecordSSEConnectionChange(delta float64) {
	m.sseActiveConnections.Add(delta)
}

// RecordSSEEventSent records an SSE event being sent.
func (m *Metrics) RecordSSEEventSent(eventType string) {
	m.sseEventsSent.WithLabelValues(eventType).Inc()
}

// NATS metric helpers

// RecordNATSPublish records a NATS publish operation.
func (m *Metrics) RecordNATSPublish(err error, duration float64) {
	status := "success"
	if err != nil {
		status = "error"
	}
	m.natsMessagesPublished.WithLabelValues(status).Inc()
	m.natsPublishDuration.Observe(duration)
}

// Helper functions

func statusCodeToString(code int) string {
	// Group status codes by class
	switch {
	case code >= 200 && code < 300:
		return "2xx"
	case code >= 300 && code < 400:
		return "3xx"
	case code >= 400 && code < 500:
		return "4xx"
	case code >= 500 && code < 600:
		return "5xx"
	default:
		return "unknown"
	}
}
