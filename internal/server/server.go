// Package server exposes the field unit's local HTTP surface: health and
// version probes, the latest captured frame, a manual cloud upload
// trigger, and the engine status.
package server

import (
	"bytes"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/farmguard/farmguard/internal/pkg/ctxlog"
	"github.com/farmguard/farmguard/internal/pkg/httputil"
	"github.com/farmguard/farmguard/internal/version"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// Config holds the status server settings.
type Config struct {
	UploadURL     string
	RateLimitRPS  float64
	RateLimitBurst int
}

// Server is the local status/image server.
type Server struct {
	cfg    Config
	frames *FrameStore
	engine EngineStatus
	client *http.Client
	logger *slog.Logger
}

// New creates the server. client may be nil.
func New(cfg Config, frames *FrameStore, engine EngineStatus, client *http.Client, logger *slog.Logger) *Server {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	if cfg.RateLimitRPS <= 0 {
		cfg.RateLimitRPS = 10
	}
	if cfg.RateLimitBurst <= 0 {
		cfg.RateLimitBurst = 20
	}
	return &Server{
		cfg:    cfg,
		frames: frames,
		engine: engine,
		client: client,
		logger: logger,
	}
}

// Router builds the HTTP handler.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(httputil.MetricsMiddleware)
	r.Use(middleware.RequestID)
	r.Use(httputil.RequestLoggerMiddleware(s.logger))
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(httputil.RateLimitMiddleware(s.cfg.RateLimitRPS, s.cfg.RateLimitBurst))

	r.Get("/", s.indexHandler)
	r.Get("/healthz", s.healthzHandler)
	r.Get("/version", s.versionHandler)
	r.Get("/latest.jpg", s.latestImageHandler)
	r.Post("/upload", s.uploadHandler)
	r.Get("/status", s.statusHandler)

	return r
}

func (s *Server) indexHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/html")
	_, _ = w.Write([]byte(`<!DOCTYPE html>
<html>
<head><title>FarmGuard Field Unit</title></head>
<body>
    <h2>FarmGuard Field Unit</h2>
    <ul>
        <li><a href="/status">Engine status</a></li>
        <li><a href="/latest.jpg">Latest captured frame</a></li>
    </ul>
</body>
</html>`))
}

func (s *Server) healthzHandler(w http.ResponseWriter, _ *http.Request) {
	httputil.Text(w, http.StatusOK, "OK")
}

func (s *Server) versionHandler(w http.ResponseWriter, _ *http.Request) {
	httputil.JSON(w, http.StatusOK, map[string]string{
		"version":    version.Version,
		"commit":     version.GitCommit,
		"build_date": version.BuildDate,
	})
}

func (s *Server) latestImageHandler(w http.ResponseWriter, _ *http.Request) {
	data, _, ok := s.frames.Latest()
	if !ok {
		httputil.Error(w, http.StatusNotFound, "no image captured yet")
		return
	}

	w.Header().Set("Content-Type", "image/jpeg")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

// uploadHandler pushes the latest frame to the remote image endpoint so
// the operator's app can show what triggered an alert.
func (s *Server) uploadHandler(w http.ResponseWriter, r *http.Request) {
	if s.cfg.UploadURL == "" {
		httputil.Error(w, http.StatusServiceUnavailable, "no upload endpoint configured")
		return
	}

	data, _, ok := s.frames.Latest()
	if !ok {
		httputil.Error(w, http.StatusNotFound, "no image captured yet")
		return
	}

	req, err := http.NewRequestWithContext(r.Context(), http.MethodPost, s.cfg.UploadURL, bytes.NewReader(data))
	if err != nil {
		httputil.Error(w, http.StatusInternalServerError, "build upload request")
		return
	}
	req.Header.Set("Content-Type", "image/jpeg")

	resp, err := s.client.Do(req)
	if err != nil {
		ctxlog.FromContext(r.Context()).Error("image upload failed", "error", err)
		httputil.Error(w, http.StatusBadGateway, "upload failed")
		return
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		httputil.Error(w, http.StatusBadGateway, fmt.Sprintf("upload endpoint returned %d", resp.StatusCode))
		return
	}

	httputil.JSON(w, http.StatusOK, map[string]string{"status": "success"})
}

func (s *Server) statusHandler(w http.ResponseWriter, _ *http.Request) {
	_, capturedAt, hasImage := s.frames.Latest()

	body := map[string]any{
		"status":       "running",
		"engine_state": string(s.engine.State()),
		"image_exists": hasImage,
	}
	if hasImage {
		body["image_captured_at"] = capturedAt.UTC().Format(time.RFC3339)
	}

	if incident := s.engine.LastIncident(); incident != nil {
		last := map[string]any{
			"id":           incident.ID,
			"animal":       incident.Label,
			"confidence":   incident.Confidence,
			"channel":      string(incident.Channel),
			"sound_played": incident.SoundPlayed,
			"created_at":   incident.CreatedAt.UTC().Format(time.RFC3339),
		}
		if incident.Resolved() {
			last["resolution"] = string(incident.Resolution)
			last["resolved_at"] = incident.ResolvedAt.UTC().Format(time.RFC3339)
		}
		body["last_incident"] = last
	}

	httputil.JSON(w, http.StatusOK, body)
}
