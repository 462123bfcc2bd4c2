package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/2mur/transfers-timelapse-nc/service/config"
	"github.com/2mur/transfers-timelapse-nc/service/dataset"
	"github.com/2mur/transfers-timelapse-nc/service/metrics"
	"github.com/2mur/transfers-timelapse-nc/service/playback"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Player is the playback surface the HTTP layer drives.
// *playback.Controller implements it.
type Player interface {
	Dataset() *dataset.Dataset
	State(ctx context.Context) (playback.State, error)
	Play(ctx context.Context) (playback.State, error)
	Pause(ctx context.Context) (playback.State, error)
	Toggle(ctx context.Context) (playback.State, error)
	Restart(ctx context.Context) (playback.State, error)
	Subscribe(buffer int) (<-chan playback.State, func())
}

// Server represents the HTTP server for the timelapse service.
type Server struct {
	addr     string
	cfg      *config.Config
	player   Player
	renderer *TemplateRenderer
	metrics  *metrics.Metrics
	gatherer prometheus.Gatherer
	logger   *slog.Logger
	server   *http.Server

	// streams is cancelled on shutdown so open SSE connections return.
	streams     context.Context
	stopStreams context.CancelFunc
}

// New creates a new HTTP server with the given dependencies.
// The metrics is optional - if nil, the metrics endpoint won't be available.
func New(addr string, cfg *config.Config, player Player, m *metrics.Metrics, logger *slog.Logger) *Server {
	streams, stop := context.WithCancel(context.Background())
	return &Server{
		addr:        addr,
		cfg:         cfg,
		player:      player,
		metrics:     m,
		gatherer:    prometheus.DefaultGatherer,
		logger:      logger,
		streams:     streams,
		stopStreams: stop,
	}
}

// WithGatherer serves /metrics from g instead of the default registry.
func (s *Server) WithGatherer(g prometheus.Gatherer) *Server {
	s.gatherer = g
	return s
}

// WithTemplates adds template rendering support to the server using embedded files
func (s *Server) WithTemplates() error {
	renderer, err := NewTemplateRenderer(s.logger)
	if err != nil {
		return fmt.Errorf("failed to initialize templates: %w", err)
	}
	s.renderer = renderer
	s.logger.Info("HTML templates loaded from embedded files")
	return nil
}

// Handler builds the routed, CORS-wrapped handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	route := func(pattern, name string, h http.Handler) {
		mux.Handle(pattern, metrics.HTTPMetricsMiddleware(s.metrics, name)(h))
	}

	// Replay state
	route("GET /api/v1/snapshot", "/api/v1/snapshot", handleGetSnapshot(s.player, s.logger))
	route("GET /api/v1/dataset", "/api/v1/dataset", handleGetDataset(s.player, s.cfg, s.logger))

	// Playback controls
	route("POST /api/v1/playback/{action}", "/api/v1/playback", handlePlaybackControl(s.player, s.logger))

	// SSE snapshot stream
	route("GET /api/v1/stream/snapshots", "/api/v1/stream/snapshots", handleStreamSnapshots(s.streams, s.player, s.sseInterval(), s.metrics, s.logger))

	// HTML pages (if template renderer is configured)
	if s.renderer != nil {
		mux.HandleFunc("GET /{$}", handleTimelapsePage(s.renderer, s.cfg))
		mux.HandleFunc("GET /favicon.ico", handleFavicon())
		mux.HandleFunc("GET /favicon.svg", handleFavicon())
	}

	// Health check endpoint
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	// Prometheus metrics endpoint (if metrics collector is configured)
	if s.metrics != nil {
		mux.Handle("GET /metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}

	// Wrap mux with CORS middleware
	return corsMiddleware(mux)
}

func (s *Server) sseInterval() time.Duration {
	if s.cfg != nil && s.cfg.SSEInterval > 0 {
		return s.cfg.SSEInterval
	}
	return defaultSSEInterval
}

// Start starts the HTTP server and blocks until it is shut down.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:        s.addr,
		Handler:     s.Handler(),
		ReadTimeout: 15 * time.Second,
		// Non-streaming handlers finish well within this; the SSE handler
		// lifts its own deadline.
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info("starting HTTP server",
		"addr", s.addr,
		"html", s.renderer != nil,
		"metrics", s.metrics != nil,
	)
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server failed: %w", err)
	}

	return nil
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP server")

	// Disconnect SSE clients first, Shutdown waits for active handlers.
	s.stopStreams()

	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

// corsMiddleware adds CORS headers to all responses and handles OPTIONS preflight requests.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Max-Age", "3600")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}
