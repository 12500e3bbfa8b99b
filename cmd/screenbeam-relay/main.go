package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"
	"time"

	"github.com/screenbeam/relay/internal/config"
	"github.com/screenbeam/relay/internal/httpserver"
	"github.com/screenbeam/relay/internal/metrics"
	"github.com/screenbeam/relay/internal/relay"
	"github.com/screenbeam/relay/internal/room"
	"github.com/screenbeam/relay/internal/signaling"
)

var (
	// Set via -ldflags at build time. Values may be empty in local/dev builds.
	buildCommit = ""
	buildTime   = ""
)

func main() {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	logger, err := config.NewLogger(cfg)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	slog.SetDefault(logger)

	logger.Info("starting screenbeam-relay",
		"listen_addr", cfg.ListenAddr,
		"public_base_url", cfg.PublicBaseURL,
		"mode", cfg.Mode,
		"max_rooms", cfg.MaxRooms,
		"default_max_viewers", cfg.DefaultMaxViewers,
		"room_idle_ttl", cfg.RoomIdleTTL,
		"room_sweep_interval", cfg.RoomSweepInterval,
		"allowed_origins", len(cfg.AllowedOrigins),
	)

	if len(cfg.AllowedOrigins) == 0 && cfg.Mode == config.ModeProd {
		logger.Warn("no ALLOWED_ORIGINS configured; any browser origin may connect")
	}

	m := metrics.New()
	router := relay.NewRouter(m, cfg.OutboxMessages)
	registry := room.NewRegistry(room.Options{
		MaxRooms:      cfg.MaxRooms,
		IdleTTL:       cfg.RoomIdleTTL,
		Metrics:       m,
		HostConnected: router.Connected,
	})

	ln, err := net.Listen("tcp", cfg.ListenAddr)
	if err != nil {
		logger.Error("failed to listen", "err", err)
		os.Exit(1)
	}

	commit, built := resolveBuildInfo(buildCommit, buildTime)
	srv := httpserver.New(cfg, logger, httpserver.BuildInfo{Commit: commit, BuildTime: built}, stats{
		router:   router,
		registry: registry,
	})

	sig := signaling.NewServer(cfg, logger, registry, router, m)
	sig.RegisterRoutes(srv.Mux())

	// Expose internal counters in Prometheus' text format.
	srv.Mux().Handle("GET /metrics", metrics.PrometheusHandler(m))

	sweepCtx, stopSweeper := context.WithCancel(context.Background())
	defer stopSweeper()
	go sweepLoop(sweepCtx, logger, registry, cfg.RoomSweepInterval)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server exited", "err", err)
			os.Exit(1)
		}
		return
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown failed", "err", err)
	}

	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("http server exited after shutdown", "err", err)
		os.Exit(1)
	}
}

// sweepLoop periodically removes rooms that sat idle with zero viewers.
func sweepLoop(ctx context.Context, logger *slog.Logger, registry *room.Registry, interval time.Duration) {
	if interval <= 0 {
		return
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-t.C:
			if n := registry.Sweep(now); n > 0 {
				logger.Info("swept idle rooms", "count", n)
			}
		}
	}
}

type stats struct {
	router   *relay.Router
	registry *room.Registry
}

func (s stats) Connections() int               { return s.router.Len() }
func (s stats) Rooms() int                     { return s.registry.Len() }
func (s stats) RoomSnapshots() []room.Snapshot { return s.registry.Snapshots() }

func resolveBuildInfo(commit, built string) (string, string) {
	// Prefer ldflags-injected values (production builds) but fall back to the Go
	// build info when available (useful for `go run` / dev builds).
	if bi, ok := debug.ReadBuildInfo(); ok {
		for _, s := range bi.Settings {
			switch s.Key {
			case "vcs.revision":
				if commit == "" {
					commit = s.Value
				}
			case "vcs.time":
				if built == "" {
					built = s.Value
				}
			}
		}
	}
	return commit, built
}
