package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/2mur/transfers-timelapse-nc/service/replay"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSnapshot_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "GET", r.Method)
		assert.Equal(t, "/api/v1/snapshot", r.URL.Path)

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(State{
			Playing: true,
			Elapsed: 1200,
			Snapshot: replay.Snapshot{
				TotalVolume:  15,
				CurrentBlock: "101",
				Admitted:     2,
				Total:        3,
			},
		})
	}))
	defer server.Close()

	client := NewClient(server.URL, nil, nil)
	st, err := client.Snapshot(context.Background())
	require.NoError(t, err)
	assert.True(t, st.Playing)
	assert.Equal(t, 1200.0, st.Elapsed)
	assert.Equal(t, 15.0, st.Snapshot.TotalVolume)
	assert.Equal(t, "101", st.Snapshot.CurrentBlock)
}

func TestDataset_Records(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/dataset", r.URL.Path)
		if r.URL.Query().Get("records") == "true" {
			fmt.Fprint(w, `{"records":1,"nodes":2,"constants":{"tx_interval_ms":600},"transfers":[{"from":"a","to":"b","value":3}],"node_list":[{"id":"a"},{"id":"b"}]}`)
			return
		}
		fmt.Fprint(w, `{"records":1,"nodes":2,"skipped":4,"constants":{"tx_interval_ms":600}}`)
	}))
	defer server.Close()

	client := NewClient(server.URL+"/", nil, nil)

	summary, err := client.Dataset(context.Background(), false)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Records)
	assert.Equal(t, 4, summary.Skipped)
	assert.Equal(t, 600.0, summary.Constants.TxInterval)
	assert.Empty(t, summary.Transfers)

	summary, err = client.Dataset(context.Background(), true)
	require.NoError(t, err)
	require.Len(t, summary.Transfers, 1)
	assert.Equal(t, "a", summary.Transfers[0].From)
	assert.Len(t, summary.NodeList, 2)
}

func TestPlaybackControls(t *testing.T) {
	var paths []string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "POST", r.Method)
		paths = append(paths, r.URL.Path)
		json.NewEncoder(w).Encode(State{Playing: r.URL.Path != "/api/v1/playback/pause"})
	}))
	defer server.Close()

	client := NewClient(server.URL, nil, nil)
	ctx := context.Background()

	st, err := client.Play(ctx)
	require.NoError(t, err)
	assert.True(t, st.Playing)

	st, err = client.Pause(ctx)
	require.NoError(t, err)
	assert.False(t, st.Playing)

	_, err = client.Toggle(ctx)
	require.NoError(t, err)
	_, err = client.Restart(ctx)
	require.NoError(t, err)

	assert.Equal(t, []string{
		"/api/v1/playback/play",
		"/api/v1/playback/pause",
		"/api/v1/playback/toggle",
		"/api/v1/playback/restart",
	}, paths)
}

func TestPlaybackControls_EmptyDataset(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		json.NewEncoder(w).Encode(map[string]string{"error": "dataset is empty"})
	}))
	defer server.Close()

	client := NewClient(server.URL, nil, nil)
	_, err := client.Play(context.Background())
	assert.ErrorIs(t, err, ErrEmptyDataset)
}

func TestServerError(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		wantErr string
	}{
		{"json error", `{"error":"playback is not running"}`, "request failed: playback is not running"},
		{"plain body", `upstream down`, "request failed with status 503: upstream down"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusServiceUnavailable)
				fmt.Fprint(w, tt.body)
			}))
			defer server.Close()

			client := NewClient(server.URL, nil, nil)
			_, err := client.Snapshot(context.Background())
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestHealth(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/health", r.URL.Path)
		w.Write([]byte("OK"))
	}))
	defer server.Close()

	client := NewClient(server.URL, nil, nil)
	assert.NoError(t, client.Health(context.Background()))

	server.Close()
	assert.Error(t, client.Health(context.Background()))
}

func TestStreamSnapshots(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/stream/snapshots", r.URL.Path)
		assert.Equal(t, "text/event-stream", r.Header.Get("Accept"))

		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "event: connected\ndata: {\"records\":2}\n\n")
		fmt.Fprint(w, ": keepalive\n\n")
		fmt.Fprint(w, "event: snapshot\ndata: {\"playing\":true,\"elapsed\":100}\n\n")
		fmt.Fprint(w, "event: snapshot\ndata: not json\n\n")
		fmt.Fprint(w, "event: snapshot\ndata: {\"playing\":false,\"elapsed\":250}\n\n")
	}))
	defer server.Close()

	client := NewClient(server.URL, nil, nil)

	var got []float64
	err := client.StreamSnapshots(context.Background(), func(st *State) error {
		got = append(got, st.Elapsed)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []float64{100, 250}, got)
}

func TestStreamSnapshots_CallbackStops(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		for i := 0; i < 5; i++ {
			fmt.Fprintf(w, "event: snapshot\ndata: {\"elapsed\":%d}\n\n", i)
		}
	}))
	defer server.Close()

	client := NewClient(server.URL, nil, nil)
	stop := errors.New("enough")

	calls := 0
	err := client.StreamSnapshots(context.Background(), func(st *State) error {
		calls++
		if calls == 2 {
			return stop
		}
		return nil
	})
	assert.ErrorIs(t, err, stop)
	assert.Equal(t, 2, calls)
}
