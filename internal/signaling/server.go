package signaling

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/screenbeam/relay/internal/config"
	"github.com/screenbeam/relay/internal/metrics"
	"github.com/screenbeam/relay/internal/relay"
	"github.com/screenbeam/relay/internal/room"
)

// Server implements the relay's WebSocket signaling surface.
//
// Endpoints:
//   - GET /ws : room membership, chat and WebRTC signal relaying
type Server struct {
	cfg      config.Config
	log      *slog.Logger
	registry *room.Registry
	router   *relay.Router
	metrics  *metrics.Metrics
	upgrader websocket.Upgrader
}

func NewServer(cfg config.Config, log *slog.Logger, registry *room.Registry, router *relay.Router, m *metrics.Metrics) *Server {
	if log == nil {
		log = slog.Default()
	}
	if m == nil {
		m = metrics.New()
	}
	return &Server{
		cfg:      cfg,
		log:      log,
		registry: registry,
		router:   router,
		metrics:  m,
		upgrader: websocket.Upgrader{
			CheckOrigin: originChecker(cfg.AllowedOrigins),
		},
	}
}

// originChecker admits requests without an Origin header (non-browser
// clients) and, when an allow-list is configured, browser requests whose
// Origin matches it. An empty allow-list admits every origin.
func originChecker(allowed []string) func(*http.Request) bool {
	if len(allowed) == 0 {
		return func(*http.Request) bool { return true }
	}
	set := make(map[string]struct{}, len(allowed))
	for _, o := range allowed {
		set[normalizeOrigin(o)] = struct{}{}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		_, ok := set[normalizeOrigin(origin)]
		return ok
	}
}

func normalizeOrigin(o string) string {
	return strings.ToLower(strings.TrimRight(strings.TrimSpace(o), "/"))
}

func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /ws", s.handleWS)
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.RegisterRoutes(mux)
	return mux
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already replied (e.g. 403 on origin mismatch).
		return
	}

	id := uuid.NewString()
	sess, err := s.router.Register(id)
	if err != nil {
		_ = ws.Close()
		return
	}

	c := newConn(s, ws, sess)
	c.log.Debug("connection opened", "remote_addr", r.RemoteAddr)
	c.run()
}
