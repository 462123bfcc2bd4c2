package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/2mur/transfers-timelapse-nc/service/config"
	"github.com/2mur/transfers-timelapse-nc/service/dataset"
	"github.com/2mur/transfers-timelapse-nc/service/playback"
)

// constantsResponse echoes the timing and layout constants the dataset was
// processed with, so a renderer can reproduce edge geometry.
type constantsResponse struct {
	TxInterval      float64 `json:"tx_interval_ms"`
	EdgePersistence float64 `json:"edge_persistence_ms"`
	EdgeSpeed       float64 `json:"edge_speed"`
	EdgeRetention   float64 `json:"edge_retention_ms"`
	LayoutExtent    float64 `json:"layout_extent"`
}

type datasetResponse struct {
	Records     int               `json:"records"`
	Nodes       int               `json:"nodes"`
	Rows        int               `json:"rows"`
	Filtered    int               `json:"filtered"`
	Skipped     int               `json:"skipped"`
	LastEndTime float64           `json:"last_end_time"`
	TotalValue  float64           `json:"total_value"`
	Constants   constantsResponse `json:"constants"`

	Transfers []dataset.Record `json:"transfers,omitempty"`
	NodeList  []dataset.Node   `json:"node_list,omitempty"`
}

func newConstantsResponse(cfg *config.Config) constantsResponse {
	if cfg == nil {
		return constantsResponse{
			TxInterval:      dataset.DefaultInterval,
			EdgePersistence: dataset.DefaultPersistence,
			EdgeSpeed:       dataset.DefaultSpeed,
			LayoutExtent:    dataset.DefaultExtent,
		}
	}
	return constantsResponse{
		TxInterval:      cfg.TxInterval,
		EdgePersistence: cfg.EdgePersistence,
		EdgeSpeed:       cfg.EdgeSpeed,
		EdgeRetention:   cfg.EdgeRetention,
		LayoutExtent:    cfg.LayoutExtent,
	}
}

// handleGetSnapshot returns a handler that reports the current playback state.
// GET /api/v1/snapshot
func handleGetSnapshot(player Player, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		st, err := player.State(r.Context())
		if err != nil {
			writeStateError(w, r, err, logger)
			return
		}
		writeJSON(w, st, http.StatusOK)
	})
}

// handleGetDataset returns a handler that summarises the loaded dataset.
// GET /api/v1/dataset?records=true
// The processed transfers and node list are only included when records=true.
func handleGetDataset(player Player, cfg *config.Config, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		includeRecords := false
		if v := r.URL.Query().Get("records"); v != "" {
			parsed, err := strconv.ParseBool(v)
			if err != nil {
				writeError(w, "records must be a boolean", http.StatusBadRequest)
				return
			}
			includeRecords = parsed
		}

		ds := player.Dataset()
		resp := datasetResponse{
			Records:     ds.Len(),
			LastEndTime: ds.LastEndTime(),
			TotalValue:  ds.TotalValue(),
			Constants:   newConstantsResponse(cfg),
		}
		if ds != nil {
			resp.Nodes = len(ds.Nodes)
			resp.Rows = ds.Rows
			resp.Filtered = ds.Filtered
			resp.Skipped = ds.Skipped
			if includeRecords {
				resp.Transfers = ds.Records
				resp.NodeList = ds.Nodes
			}
		}

		logger.Debug("dataset summary served", "records", resp.Records, "include_records", includeRecords)
		writeJSON(w, resp, http.StatusOK)
	})
}

// handlePlaybackControl returns a handler for the playback controls.
// POST /api/v1/playback/{action} where action is play, pause, toggle or restart.
// Responds 409 Conflict when there is no data to play.
func handlePlaybackControl(player Player, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		action := r.PathValue("action")

		var control func(context.Context) (playback.State, error)
		switch action {
		case "play":
			control = player.Play
		case "pause":
			control = player.Pause
		case "toggle":
			control = player.Toggle
		case "restart":
			control = player.Restart
		default:
			writeError(w, "unknown playback action: "+action, http.StatusNotFound)
			return
		}

		st, err := control(r.Context())
		if err != nil {
			writeStateError(w, r, err, logger)
			return
		}

		logger.Info("playback control applied",
			"action", action,
			"playing", st.Playing,
			"elapsed", st.Elapsed,
			"replay", st.Replay,
		)
		writeJSON(w, st, http.StatusOK)
	})
}

// writeStateError maps controller errors onto HTTP status codes.
func writeStateError(w http.ResponseWriter, r *http.Request, err error, logger *slog.Logger) {
	switch {
	case errors.Is(err, playback.ErrEmptyDataset):
		writeError(w, err.Error(), http.StatusConflict)
	case errors.Is(err, playback.ErrStopped):
		writeError(w, "playback is not running", http.StatusServiceUnavailable)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		logger.Debug("request ended before playback replied", "path", r.URL.Path, "error", err)
		writeError(w, "request cancelled", http.StatusServiceUnavailable)
	default:
		logger.Error("playback request failed", "path", r.URL.Path, "error", err)
		writeError(w, "internal server error", http.StatusInternalServerError)
	}
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, data interface{}, statusCode int) {
	payload, err := json.Marshal(data)
	if err != nil {
		writeError(w, "failed to encode response", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	w.Write(append(payload, '\n'))
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(map[string]string{
		"error": message,
	})
}
