package monitor

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/banshee-data/timealign/internal/align"
	"github.com/banshee-data/timealign/internal/recorder"
	"github.com/banshee-data/timealign/internal/version"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"tailscale.com/tsweb"
)

// DefaultAddress is the listen address used when Config.Address is empty.
const DefaultAddress = ":8089"

// Server handles the HTTP interface for monitoring a running engine.
// It provides endpoints for health checks, JSON status, Prometheus
// metrics, chart pages and the /debug/ admin surface.
type Server struct {
	address   string
	engine    *align.Engine
	db        *recorder.DB
	plotter   *DriftPlotter
	plotDir   string
	server    *http.Server
	startTime time.Time

	mu      sync.Mutex
	verbose bool
}

// Config contains configuration options for the monitor server.
type Config struct {
	// Address is the listen address. Empty selects DefaultAddress.
	Address string

	// Engine is the engine to report on. Required.
	Engine *align.Engine

	// DB enables the recorder-backed endpoints and the SQL console
	// under /debug/ when non-nil.
	DB *recorder.DB

	// Plotter enables the drift plot trigger under /debug/ when non-nil.
	Plotter *DriftPlotter

	// PlotDir is the base directory for generated drift plots.
	// Empty selects "plots".
	PlotDir string
}

// NewServer creates a new monitor server with the provided configuration.
func NewServer(config Config) *Server {
	s := &Server{
		address:   config.Address,
		engine:    config.Engine,
		db:        config.DB,
		plotter:   config.Plotter,
		plotDir:   config.PlotDir,
		startTime: time.Now(),
	}
	if s.address == "" {
		s.address = DefaultAddress
	}
	if s.plotDir == "" {
		s.plotDir = "plots"
	}

	s.server = &http.Server{
		Addr:    s.address,
		Handler: s.setupRoutes(),
	}

	return s
}

func (s *Server) writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

// Start begins the HTTP server in a goroutine and handles graceful shutdown
func (s *Server) Start(ctx context.Context) error {
	// Start server in a goroutine so it doesn't block
	go func() {
		log.Printf("Starting HTTP server on %s", s.address)
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("failed to start server: %v", err)
		}
	}()

	// Wait for context cancellation to shut down server
	<-ctx.Done()
	log.Println("shutting down HTTP server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.server.Shutdown(shutdownCtx); err != nil {
		log.Printf("HTTP server shutdown error: %v", err)
		// Force close the server if graceful shutdown fails
		if err := s.server.Close(); err != nil {
			log.Printf("HTTP server force close error: %v", err)
		}
	}

	log.Printf("HTTP server routine stopped")
	return nil
}

// setupRoutes configures the HTTP routes and handlers
func (s *Server) setupRoutes() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/api/status", s.handleStatus)
	mux.HandleFunc("/api/streams", s.handleStreams)
	mux.HandleFunc("/api/frames/recent", s.handleRecentFrames)
	mux.HandleFunc("/api/frames/", s.handleFrameResults)
	mux.HandleFunc("/api/quality", s.handleQuality)
	mux.HandleFunc("/api/events", s.handleEvents)
	mux.HandleFunc("/charts/quality", s.handleQualityChart)
	mux.HandleFunc("/charts/offsets", s.handleOffsetsChart)
	mux.Handle("/metrics", promhttp.Handler())

	if s.db != nil {
		s.db.AttachAdminRoutes(mux)
	}
	s.attachDebugRoutes(mux)

	return mux
}

// attachDebugRoutes extends the /debug/ index with engine-level toggles.
// tsweb.Debugger returns the handler AttachAdminRoutes already mounted
// when a recorder is configured, so both route sets share one index.
func (s *Server) attachDebugRoutes(mux *http.ServeMux) {
	debug := tsweb.Debugger(mux)

	if s.plotter != nil {
		debug.Handle("drift-plots", "Record per-pass drift samples and generate PNG plots", http.HandlerFunc(s.handleDriftPlots))
	}
	debug.Handle("verbose-log", "Toggle verbose engine logging", http.HandlerFunc(s.handleVerboseLog))
}

// handleHealth handles the health check endpoint
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	fmt.Fprintf(w, `{"status": "ok", "service": "timealign", "timestamp": "%s"}`, time.Now().UTC().Format(time.RFC3339))
}

type statusResponse struct {
	Service         string  `json:"service"`
	Version         string  `json:"version"`
	GitSHA          string  `json:"git_sha"`
	Uptime          string  `json:"uptime"`
	Strategy        string  `json:"strategy"`
	ToleranceMs     float64 `json:"tolerance_ms"`
	Running         bool    `json:"running"`
	StreamCount     int     `json:"stream_count"`
	SamplesIngested uint64  `json:"samples_ingested"`
	DeferredPasses  uint64  `json:"deferred_passes"`
	Quality         float64 `json:"quality"`
	LatencyMs       float64 `json:"latency_ms"`
	JitterMs        float64 `json:"jitter_ms"`
	Accuracy        float64 `json:"alignment_accuracy"`
	DroppedSamples  uint64  `json:"dropped_samples"`
	Recording       bool    `json:"recording"`
}

// handleStatus returns engine statistics, uptime and build information.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	stats := s.engine.Stats()
	resp := statusResponse{
		Service:         "timealign",
		Version:         version.Version,
		GitSHA:          version.GitSHA,
		Uptime:          time.Since(s.startTime).Round(time.Second).String(),
		Strategy:        string(stats.Strategy),
		ToleranceMs:     stats.Tolerance,
		Running:         stats.Running,
		StreamCount:     stats.StreamCount,
		SamplesIngested: stats.SamplesIngested,
		DeferredPasses:  stats.DeferredPasses,
		Quality:         stats.Metrics.Quality,
		LatencyMs:       stats.Metrics.Latency,
		JitterMs:        stats.Metrics.Jitter,
		Accuracy:        stats.Metrics.AlignmentAccuracy,
		DroppedSamples:  stats.Metrics.DroppedSamples,
		Recording:       s.db != nil,
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

type streamResponse struct {
	StreamID      string  `json:"stream_id"`
	Kind          string  `json:"kind"`
	Buffered      int     `json:"buffered"`
	Evicted       uint64  `json:"evicted"`
	LastSeen      float64 `json:"last_seen_ms"`
	LastTimestamp float64 `json:"last_timestamp_ms"`
	Results       uint64  `json:"results"`
	Errors        uint64  `json:"errors"`
}

// handleStreams returns the per-stream registration and buffer state.
func (s *Server) handleStreams(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	infos := s.engine.Streams()
	out := make([]streamResponse, 0, len(infos))
	for _, info := range infos {
		out = append(out, streamResponse{
			StreamID:      info.StreamID,
			Kind:          info.Kind,
			Buffered:      info.Buffered,
			Evicted:       info.Evicted,
			LastSeen:      info.LastSeen,
			LastTimestamp: info.LastTimestamp,
			Results:       info.Results,
			Errors:        info.Errors,
		})
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(out)
}

// queryLimit parses a bounded integer query parameter, falling back to
// def when absent or out of range.
func queryLimit(r *http.Request, param string, def, ceiling int) int {
	limit := def
	if l := r.URL.Query().Get(param); l != "" {
		fmt.Sscanf(l, "%d", &limit)
		if limit <= 0 || limit > ceiling {
			limit = def
		}
	}
	return limit
}

// handleRecentFrames returns the most recently recorded composite frames.
// Query params:
//
//	n (optional, default 20, max 500)
func (s *Server) handleRecentFrames(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	if s.db == nil {
		s.writeJSONError(w, http.StatusInternalServerError, "no recorder database configured")
		return
	}

	limit := queryLimit(r, "n", 20, 500)
	frames, err := s.db.RecentFrames(r.Context(), limit)
	if err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("recent frames: %v", err))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(frames)
}

// handleFrameResults returns the per-stream results of one recorded frame,
// addressed as /api/frames/{frame_id}.
func (s *Server) handleFrameResults(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	frameID := strings.TrimPrefix(r.URL.Path, "/api/frames/")
	if frameID == "" || strings.Contains(frameID, "/") {
		http.NotFound(w, r)
		return
	}
	if s.db == nil {
		s.writeJSONError(w, http.StatusInternalServerError, "no recorder database configured")
		return
	}

	results, err := s.db.FrameResults(r.Context(), frameID)
	if err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("frame results: %v", err))
		return
	}
	if len(results) == 0 {
		s.writeJSONError(w, http.StatusNotFound, fmt.Sprintf("no results for frame '%s'", frameID))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(results)
}

// handleQuality returns the recorded quality history, oldest first.
// Query params:
//
//	n (optional, default 200, max 2000)
func (s *Server) handleQuality(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	if s.db == nil {
		s.writeJSONError(w, http.StatusInternalServerError, "no recorder database configured")
		return
	}

	limit := queryLimit(r, "n", 200, 2000)
	points, err := s.db.QualityHistory(r.Context(), limit)
	if err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("quality history: %v", err))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(points)
}

// handleEvents returns recently registered synchronization events.
// Query params:
//
//	n (optional, default 50, max 500)
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	if s.db == nil {
		s.writeJSONError(w, http.StatusInternalServerError, "no recorder database configured")
		return
	}

	limit := queryLimit(r, "n", 50, 500)
	events, err := s.db.RecentEvents(r.Context(), limit)
	if err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("recent events: %v", err))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(events)
}

// handleDriftPlots controls the drift plotter.
// Query params:
//
//	action (optional) - "start", "stop" or "generate"; empty reports state
func (s *Server) handleDriftPlots(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	w.Header().Set("Content-Type", "application/json")

	switch r.URL.Query().Get("action") {
	case "start":
		dir := MakePlotOutputDir(s.plotDir, "")
		if err := s.plotter.Start(dir); err != nil {
			s.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("start plotter: %v", err))
			return
		}
		log.Printf("drift plot capture started, output dir %s", dir)
		json.NewEncoder(w).Encode(map[string]string{"status": "recording", "dir": dir})
	case "stop":
		s.plotter.Stop()
		json.NewEncoder(w).Encode(map[string]string{"status": "stopped"})
	case "generate":
		n, err := s.plotter.GeneratePlots()
		if err != nil {
			s.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("generate plots: %v", err))
			return
		}
		log.Printf("generated %d drift plots in %s", n, s.plotter.OutputDir())
		json.NewEncoder(w).Encode(map[string]interface{}{"status": "ok", "plots": n, "dir": s.plotter.OutputDir()})
	default:
		json.NewEncoder(w).Encode(map[string]interface{}{
			"recording": s.plotter.IsEnabled(),
			"passes":    s.plotter.PassCount(),
			"samples":   s.plotter.SampleCount(),
			"dir":       s.plotter.OutputDir(),
		})
	}
}

// handleVerboseLog toggles the engine's verbose debug logging.
// Query params:
//
//	enable (optional) - "true" or "false"; empty reports state
func (s *Server) handleVerboseLog(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	s.mu.Lock()
	switch r.URL.Query().Get("enable") {
	case "true":
		align.SetDebugLogger(os.Stderr)
		s.verbose = true
	case "false":
		align.SetDebugLogger(nil)
		s.verbose = false
	}
	verbose := s.verbose
	s.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]bool{"verbose": verbose})
}

// Close shuts down the web server
func (s *Server) Close() error {
	if s.server != nil {
		return s.server.Close()
	}
	return nil
}
