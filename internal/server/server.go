// Package server exposes the render engine over HTTP.
package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/sells-group/livability/internal/engine"
	"github.com/sells-group/livability/internal/geo"
	"github.com/sells-group/livability/internal/layer"
	"github.com/sells-group/livability/internal/present"
	"github.com/sells-group/livability/internal/scorer"
)

// maxBodyBytes bounds PUT request bodies.
const maxBodyBytes = 1 << 20

// Options configures the HTTP surface.
type Options struct {
	CORSOrigins []string
	// RenderTimeout bounds a single /render request. Zero means no limit
	// beyond the client's own.
	RenderTimeout time.Duration
}

// Server routes HTTP requests to an Engine.
type Server struct {
	engine *engine.Engine
	opts   Options
	router chi.Router
}

// New builds the router for e.
func New(e *engine.Engine, opts Options) *Server {
	s := &Server{engine: e, opts: opts}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger)
	if len(opts.CORSOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: opts.CORSOrigins,
			AllowedMethods: []string{http.MethodGet, http.MethodPut, http.MethodOptions},
			AllowedHeaders: []string{"Content-Type"},
			ExposedHeaders: []string{"X-Bounds", "X-Frame-ID", "X-Fine-Zoom"},
			MaxAge:         300,
		}))
	}

	r.Get("/health", s.handleHealth)
	r.Get("/render", s.handleRender)
	r.Get("/sample", s.handleSample)
	r.Get("/regions", s.handleRegions)
	r.Get("/layers", s.handleGetLayers)
	r.Put("/layers", s.handlePutLayers)
	r.Get("/ramps", s.handleRamps)
	r.Get("/stats", s.handleStats)

	s.router = r
	return s
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleRender serves one frame as PNG.
// Query: bbox=w,s,e,n and either width+height or zoom. Optional resident=1
// renders from resident tiles only; normalize=global|frame overrides the
// configured mode.
func (s *Server) handleRender(w http.ResponseWriter, r *http.Request) {
	req, err := parseRenderRequest(r, s.engine.Extent())
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	ctx := r.Context()
	if s.opts.RenderTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.opts.RenderTimeout)
		defer cancel()
	}

	frame, err := s.engine.Render(ctx, req)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			status = http.StatusServiceUnavailable
		}
		zap.L().Warn("server: render failed", zap.Stringer("bounds", req.Bounds), zap.Error(err))
		writeError(w, status, "render failed")
		return
	}
	defer frame.Release()

	var buf bytes.Buffer
	if err := present.EncodePNG(&buf, frame.Width, frame.Height, frame.RGBA); err != nil {
		zap.L().Error("server: encode png", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "encode failed")
		return
	}

	h := w.Header()
	h.Set("Content-Type", "image/png")
	h.Set("Cache-Control", "no-store")
	h.Set("X-Bounds", frame.Bounds.String())
	h.Set("X-Frame-ID", frame.ID.String())
	h.Set("X-Fine-Zoom", strconv.Itoa(frame.Stats.FineZoom))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf.Bytes())
}

func parseRenderRequest(r *http.Request, extent geo.Bounds) (engine.Request, error) {
	q := r.URL.Query()
	req := engine.Request{Bounds: extent}

	if raw := q.Get("bbox"); raw != "" {
		b, err := geo.ParseBounds(raw)
		if err != nil {
			return req, errors.New("invalid bbox")
		}
		req.Bounds = b
	}

	var err error
	if req.Width, err = intParam(q.Get("width")); err != nil {
		return req, errors.New("invalid width")
	}
	if req.Height, err = intParam(q.Get("height")); err != nil {
		return req, errors.New("invalid height")
	}
	if req.Zoom, err = intParam(q.Get("zoom")); err != nil {
		return req, errors.New("invalid zoom")
	}
	if req.Width < 0 || req.Height < 0 || req.Zoom < 0 {
		return req, errors.New("width, height and zoom must be >= 0")
	}

	if raw := q.Get("resident"); raw != "" {
		if req.ResidentOnly, err = strconv.ParseBool(raw); err != nil {
			return req, errors.New("invalid resident")
		}
	}
	if raw := q.Get("normalize"); raw != "" {
		mode, err := scorer.ParseNormalizeMode(raw)
		if err != nil {
			return req, errors.New("invalid normalize")
		}
		req.Normalize = &mode
	}
	return req, nil
}

func intParam(raw string) (int, error) {
	if raw == "" {
		return 0, nil
	}
	return strconv.Atoi(strings.TrimSpace(raw))
}

func (s *Server) handleSample(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	lon, err := strconv.ParseFloat(q.Get("lon"), 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid lon")
		return
	}
	lat, err := strconv.ParseFloat(q.Get("lat"), 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid lat")
		return
	}
	writeJSON(w, http.StatusOK, s.engine.Sample(r.Context(), lon, lat))
}

func (s *Server) handleRegions(w http.ResponseWriter, _ *http.Request) {
	scores := s.engine.RegionScores()
	if scores == nil {
		scores = []scorer.RegionScore{}
	}
	writeJSON(w, http.StatusOK, scores)
}

func (s *Server) handleGetLayers(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.engine.Layers())
}

func (s *Server) handlePutLayers(w http.ResponseWriter, r *http.Request) {
	var specs []layer.Spec
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&specs); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := s.engine.SetLayers(specs); err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	zap.L().Info("server: layers replaced", zap.Int("layers", len(specs)))
	writeJSON(w, http.StatusOK, s.engine.Layers())
}

func (s *Server) handleRamps(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, present.RampNames())
}

func (s *Server) handleStats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.engine.Stats())
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Warn("server: encode response", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// requestLogger logs each request at debug level.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		zap.L().Debug("server: request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Int("bytes", ww.BytesWritten()),
			zap.String("request_id", middleware.GetReqID(r.Context())),
			zap.Duration("elapsed", time.Since(start)),
		)
	})
}
