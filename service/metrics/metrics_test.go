package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordReplayMetrics(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.RecordAdmitted()
	m.RecordAdmitted()
	m.RecordRestart()
	m.RecordFrame(0.001, 1200, 3, 2, 15)
	m.RecordPlaying(true)
	m.RecordControl("play", nil)
	m.RecordControl("play", errors.New("empty"))

	assert.Equal(t, 2.0, testutil.ToFloat64(m.replayAdmittedTotal))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.replayRestartsTotal))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.replayFramesTotal))
	assert.Equal(t, 1200.0, testutil.ToFloat64(m.replayElapsed))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.replayLiveNodes))
	assert.Equal(t, 15.0, testutil.ToFloat64(m.replayVolume))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.replayPlaying))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.replayControlsTotal.WithLabelValues("play", "error")))

	m.RecordPlaying(false)
	assert.Equal(t, 0.0, testutil.ToFloat64(m.replayPlaying))
}

func TestRecordDatasetMetrics(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.RecordDatasetLoad("file", 0.2, nil)
	m.RecordDatasetLoad("http", 0.2, errors.New("404"))
	m.RecordDatasetShape(10, 4, 2, 1)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.datasetLoadsTotal.WithLabelValues("file", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.datasetLoadsTotal.WithLabelValues("http", "error")))
	assert.Equal(t, 10.0, testutil.ToFloat64(m.datasetRows.WithLabelValues("records")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.datasetRows.WithLabelValues("skipped")))
}

func TestStatusCodeToString(t *testing.T) {
	assert.Equal(t, "2xx", statusCodeToString(204))
	assert.Equal(t, "3xx", statusCodeToString(304))
	assert.Equal(t, "4xx", statusCodeToString(409))
	assert.Equal(t, "5xx", statusCodeToString(500))
	assert.Equal(t, "unknown", statusCodeToString(99))
}

func TestHTTPMetricsMiddleware(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	handler := HTTPMetricsMiddleware(m, "/api/v1/playback/play")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, ok := w.(http.Flusher)
		assert.True(t, ok, "wrapped writer must stay flushable")
		w.WriteHeader(http.StatusConflict)
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest("POST", "/api/v1/playback/play", nil))
	require.Equal(t, http.StatusConflict, rec.Code)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.httpRequestsTotal.WithLabelValues("/api/v1/playback/play", "POST", "4xx")))
}
