package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/2mur/transfers-timelapse-nc/client"
	"github.com/2mur/transfers-timelapse-nc/service/replay"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHealthCommand_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/health", r.URL.Path)
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	}))
	defer server.Close()

	t.Setenv("SERVER_URL", server.URL)

	out, err := runApp(t, "server", "health")
	require.NoError(t, err)
	assert.Contains(t, out, "Server is healthy")
	assert.Contains(t, out, server.URL)
}

func TestHealthCommand_Failure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	_, err := runApp(t, "--server-url", server.URL, "server", "health")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "health check failed")
}

func TestHealthCommand_MissingServerURL(t *testing.T) {
	_, err := runApp(t, "--server-url", "", "server", "health")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "server-url is required")
}

func TestVersionCommand(t *testing.T) {
	out, err := runApp(t, "server", "version")
	require.NoError(t, err)
	assert.Contains(t, out, "timelapse CLI")
	assert.Contains(t, out, "Version: dev")
}

func stateServer(t *testing.T, paths *[]string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		*paths = append(*paths, r.Method+" "+r.URL.Path)
		json.NewEncoder(w).Encode(client.State{
			Playing: r.URL.Path != "/api/v1/playback/pause",
			Elapsed: 1800,
			Replay:  2,
			Snapshot: replay.Snapshot{
				Nodes:        []replay.NodeState{{ID: "a"}, {ID: "b"}},
				Admitted:     3,
				Total:        10,
				ActiveCount:  2,
				TotalVolume:  1234.5,
				CurrentBlock: "99",
			},
		})
	}))
}

func TestPlaybackCommands(t *testing.T) {
	var paths []string
	server := stateServer(t, &paths)
	defer server.Close()

	for _, action := range []string{"play", "pause", "toggle", "restart"} {
		_, err := runApp(t, "--server-url", server.URL, "playback", action)
		require.NoError(t, err, action)
	}
	_, err := runApp(t, "--server-url", server.URL, "playback", "status")
	require.NoError(t, err)

	assert.Equal(t, []string{
		"POST /api/v1/playback/play",
		"POST /api/v1/playback/pause",
		"POST /api/v1/playback/toggle",
		"POST /api/v1/playback/restart",
		"GET /api/v1/snapshot",
	}, paths)
}

func TestPlaybackCommands_Output(t *testing.T) {
	var paths []string
	server := stateServer(t, &paths)
	defer server.Close()

	out, err := runApp(t, "--server-url", server.URL, "playback", "pause")
	require.NoError(t, err)
	assert.Contains(t, out, "paused at 1,800 ms (replay 2)")
	assert.Contains(t, out, "Admitted:  3 / 10")
	assert.Contains(t, out, "Volume:    1,234.50")

	out, err = runApp(t, "--server-url", server.URL, "--json", "playback", "status")
	require.NoError(t, err)

	var st playbackState
	require.NoError(t, json.Unmarshal([]byte(out), &st))
	assert.True(t, st.Playing)
	assert.Equal(t, 2, st.Nodes)
	assert.Equal(t, "99", st.CurrentBlock)
}

func TestPlaybackCommands_EmptyDataset(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		fmt.Fprint(w, `{"error":"dataset is empty"}`)
	}))
	defer server.Close()

	_, err := runApp(t, "--server-url", server.URL, "playback", "play")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no transfers to play")
}
