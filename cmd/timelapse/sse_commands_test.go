package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	natspkg "github.com/2mur/transfers-timelapse-nc/service/nats"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func snapshotStreamServer(t *testing.T) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/stream/snapshots", r.URL.Path)
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "event: connected\ndata: {\"records\":3,\"nodes\":3,\"interval_ms\":100}\n\n")
		for i := 1; i <= 3; i++ {
			fmt.Fprintf(w, "event: snapshot\ndata: {\"playing\":true,\"elapsed\":%d,\"snapshot\":{\"admitted\":%d,\"total\":3,\"activeCount\":%d,\"currentBlock\":\"%d\"}}\n\n",
				i*600, i, i, 100+i)
		}
	}))
}

func TestStreamCommand_All(t *testing.T) {
	server := snapshotStreamServer(t)
	defer server.Close()

	out, err := runApp(t, "--server-url", server.URL, "--json", "sse", "stream")
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 3)

	var st playbackState
	require.NoError(t, json.Unmarshal([]byte(lines[2]), &st))
	assert.Equal(t, 1800.0, st.Elapsed)
	assert.Equal(t, 3, st.Admitted)
	assert.Equal(t, "103", st.CurrentBlock)
}

func TestStreamCommand_MustJQ(t *testing.T) {
	server := snapshotStreamServer(t)
	defer server.Close()

	out, err := runApp(t, "--server-url", server.URL, "--json", "sse", "stream",
		"--must-jq", ".snapshot.admitted >= 2",
		"--must-jq", ".playing",
		"--count", "1",
	)
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 1)

	var st playbackState
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &st))
	assert.Equal(t, 2, st.Admitted)
}

func TestStreamCommand_Text(t *testing.T) {
	server := snapshotStreamServer(t)
	defer server.Close()

	out, err := runApp(t, "--server-url", server.URL, "sse", "stream", "--jq", ".snapshot.activeCount == 1")
	require.NoError(t, err)
	assert.Contains(t, out, "admitted=1/3 active=1 block=101")
	assert.NotContains(t, out, "block=102")
}

func TestStreamCommand_InvalidJQ(t *testing.T) {
	_, err := runApp(t, "sse", "stream", "--must-jq", ".snapshot[")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse jq filter")
}

func TestTransferConsumerConfig(t *testing.T) {
	cfg := transferConsumerConfig(natspkg.Subject("0xabc"), false, "ignored", false)
	assert.Equal(t, "transfers.0xabc", cfg.FilterSubject)
	assert.Equal(t, jetstream.DeliverNewPolicy, cfg.DeliverPolicy)
	assert.Equal(t, jetstream.AckExplicitPolicy, cfg.AckPolicy)
	assert.Empty(t, cfg.Durable)
	assert.Equal(t, time.Minute, cfg.InactiveThreshold)

	cfg = transferConsumerConfig(natspkg.StreamSubjects, true, "replayer", true)
	assert.Equal(t, "transfers.*", cfg.FilterSubject)
	assert.Equal(t, jetstream.DeliverAllPolicy, cfg.DeliverPolicy)
	assert.Equal(t, "replayer", cfg.Durable)
	assert.Equal(t, "replayer", cfg.Name)
	assert.Zero(t, cfg.InactiveThreshold)
}
