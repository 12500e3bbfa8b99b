// Package httpserver hosts the relay's HTTP surface: health and readiness
// probes, build info, metrics and room diagnostics, plus whatever routes the
// signaling layer registers on the shared mux.
package httpserver

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"log/slog"
	"net"
	"net/http"
	"runtime/debug"
	"sync/atomic"
	"time"

	"github.com/screenbeam/relay/internal/config"
	"github.com/screenbeam/relay/internal/room"
)

var ErrServerClosed = http.ErrServerClosed

type BuildInfo struct {
	Commit    string `json:"commit"`
	BuildTime string `json:"buildTime"`
}

// Stats is the live-state view the diagnostic endpoints report. All methods
// must be safe for concurrent use.
type Stats interface {
	Connections() int
	Rooms() int
	RoomSnapshots() []room.Snapshot
}

type Server struct {
	log   *slog.Logger
	cfg   config.Config
	build BuildInfo
	stats Stats

	started time.Time
	ready   atomic.Bool

	mux *http.ServeMux
	srv *http.Server
}

func New(cfg config.Config, logger *slog.Logger, build BuildInfo, stats Stats) *Server {
	s := &Server{
		log:     logger,
		cfg:     cfg,
		build:   build,
		stats:   stats,
		started: time.Now(),
		mux:     http.NewServeMux(),
	}

	s.registerRoutes()

	handler := chain(s.mux,
		recoverMiddleware(s.log),
		requestIDMiddleware(),
		requestLoggerMiddleware(s.log),
	)

	s.srv = &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		// Other timeouts stay zero: /ws connections are long-lived.
	}

	return s
}

// Mux returns the underlying ServeMux for registering additional routes.
// It must only be used during startup before Serve is called.
func (s *Server) Mux() *http.ServeMux {
	return s.mux
}

func (s *Server) Serve(l net.Listener) error {
	s.ready.Store(true)
	s.log.Info("http server serving", "addr", l.Addr().String())
	return s.srv.Serve(l)
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.ready.Store(false)
	return s.srv.Shutdown(ctx)
}

func (s *Server) Close() error {
	s.ready.Store(false)
	return s.srv.Close()
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		body := map[string]any{
			"ok":            true,
			"uptimeSeconds": int64(time.Since(s.started).Seconds()),
		}
		if s.stats != nil {
			body["connections"] = s.stats.Connections()
			body["rooms"] = s.stats.Rooms()
		}
		WriteJSON(w, http.StatusOK, body)
	})

	s.mux.HandleFunc("GET /readyz", func(w http.ResponseWriter, r *http.Request) {
		if !s.ready.Load() {
			WriteJSON(w, http.StatusServiceUnavailable, map[string]any{"ready": false})
			return
		}
		WriteJSON(w, http.StatusOK, map[string]any{"ready": true})
	})

	s.mux.HandleFunc("GET /version", func(w http.ResponseWriter, r *http.Request) {
		WriteJSON(w, http.StatusOK, s.build)
	})

	s.mux.HandleFunc("GET /rooms", s.handleRooms)
}

// handleRooms reports a point-in-time view of every live room. Member ids
// are internal session identifiers, not secrets; room codes are the only
// join credential and are shown truncated.
func (s *Server) handleRooms(w http.ResponseWriter, r *http.Request) {
	if s.stats == nil {
		WriteJSON(w, http.StatusOK, map[string]any{"rooms": []any{}})
		return
	}

	type roomView struct {
		Code         string `json:"code"`
		HostAttached bool   `json:"hostAttached"`
		ViewerCount  int    `json:"viewerCount"`
		MaxViewers   int    `json:"maxViewers"`
		IsStreaming  bool   `json:"isStreaming"`
		CreatedAt    int64  `json:"createdAt"`
	}

	snaps := s.stats.RoomSnapshots()
	views := make([]roomView, 0, len(snaps))
	for _, snap := range snaps {
		views = append(views, roomView{
			Code:         truncateCode(snap.Code),
			HostAttached: snap.HostAttached,
			ViewerCount:  len(snap.Viewers),
			MaxViewers:   snap.MaxViewers,
			IsStreaming:  snap.Streaming,
			CreatedAt:    snap.CreatedAt.UnixMilli(),
		})
	}
	WriteJSON(w, http.StatusOK, map[string]any{"rooms": views})
}

func truncateCode(code string) string {
	if len(code) <= 2 {
		return code
	}
	return code[:2] + "****"
}

type Middleware func(http.Handler) http.Handler

func chain(handler http.Handler, middlewares ...Middleware) http.Handler {
	h := handler
	for i := len(middlewares) - 1; i >= 0; i-- {
		h = middlewares[i](h)
	}
	return h
}

func recoverMiddleware(logger *slog.Logger) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					logger.Error("panic in http handler", "recover", rec, "stack", string(debug.Stack()))
					http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

func requestIDMiddleware() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			reqID := r.Header.Get("X-Request-ID")
			if reqID == "" {
				var buf [16]byte
				if _, err := rand.Read(buf[:]); err == nil {
					reqID = hex.EncodeToString(buf[:])
				}
			}
			if reqID != "" {
				r.Header.Set("X-Request-ID", reqID)
				w.Header().Set("X-Request-ID", reqID)
			}
			next.ServeHTTP(w, r)
		})
	}
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

func requestLoggerMiddleware(logger *slog.Logger) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
			start := time.Now()

			next.ServeHTTP(sw, r)

			logger.Info("http_request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", sw.status,
				"duration_ms", time.Since(start).Milliseconds(),
				"remote_addr", r.RemoteAddr,
				"request_id", r.Header.Get("X-Request-ID"),
			)
		})
	}
}

// WriteJSON writes a JSON response body and sets the Content-Type header.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(true)
	_ = enc.Encode(v)
}
