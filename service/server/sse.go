package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/2mur/transfers-timelapse-nc/service/metrics"
	"github.com/2mur/transfers-timelapse-nc/service/playback"
)

const (
	defaultSSEInterval = 100 * time.Millisecond
	sseKeepalive       = 10 * time.Second

	// Frames arrive far faster than they are sent; only the newest matters.
	sseSubscriberBuffer = 4
)

type connectedEvent struct {
	Records    int     `json:"records"`
	Nodes      int     `json:"nodes"`
	IntervalMS float64 `json:"interval_ms"`
}

// handleStreamSnapshots streams playback state over Server-Sent Events.
// GET /api/v1/stream/snapshots
//
// The stream opens with a "connected" event and the current state, then sends
// at most one "snapshot" event per interval carrying the newest frame. Frames
// produced between sends are coalesced. A keepalive comment goes out every
// 10 seconds. The stream ends when the client disconnects or streams is
// cancelled by server shutdown.
func handleStreamSnapshots(streams context.Context, player Player, interval time.Duration, m *metrics.Metrics, logger *slog.Logger) http.Handler {
	if interval <= 0 {
		interval = defaultSSEInterval
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		rc := http.NewResponseController(w)

		// The server's WriteTimeout would otherwise cut the stream.
		_ = rc.SetWriteDeadline(time.Time{})

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.WriteHeader(http.StatusOK)
		_ = rc.Flush()

		if m != nil {
			m.RecordSSEConnectionChange(1)
			defer m.RecordSSEConnectionChange(-1)
		}

		logger.DebugContext(ctx, "SSE client connected", "remote_addr", r.RemoteAddr)

		frames, unsubscribe := player.Subscribe(sseSubscriberBuffer)
		defer unsubscribe()

		send := func(event string, data any) bool {
			if err := writeEvent(w, rc, event, data); err != nil {
				logger.DebugContext(ctx, "SSE write failed", "event", event, "error", err)
				return false
			}
			if m != nil {
				m.RecordSSEEventSent(event)
			}
			return true
		}

		ds := player.Dataset()
		nodes := 0
		if ds != nil {
			nodes = len(ds.Nodes)
		}
		if !send("connected", connectedEvent{
			Records:    ds.Len(),
			Nodes:      nodes,
			IntervalMS: float64(interval) / float64(time.Millisecond),
		}) {
			return
		}

		if st, err := player.State(ctx); err == nil {
			if !send("snapshot", st) {
				return
			}
		}

		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		keepalive := time.NewTicker(sseKeepalive)
		defer keepalive.Stop()

		var (
			pending playback.State
			dirty   bool
		)

		for {
			select {
			case st, ok := <-frames:
				if !ok {
					return
				}
				pending = st
				dirty = true

			case <-ticker.C:
				if !dirty {
					continue
				}
				if !send("snapshot", pending) {
					return
				}
				dirty = false

			case <-keepalive.C:
				if _, err := fmt.Fprintf(w, ": keepalive\n\n"); err != nil {
					return
				}
				_ = rc.Flush()

			case <-ctx.Done():
				logger.DebugContext(ctx, "SSE client disconnected", "remote_addr", r.RemoteAddr)
				return

			case <-streams.Done():
				logger.DebugContext(ctx, "closing SSE stream for shutdown", "remote_addr", r.RemoteAddr)
				return
			}
		}
	})
}

// writeEvent writes one SSE frame and flushes it.
func writeEvent(w http.ResponseWriter, rc *http.ResponseController, event string, data any) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to marshal %s event: %w", event, err)
	}
	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, payload); err != nil {
		return err
	}
	return rc.Flush()
}
