package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/christopherjohns/drawboard/internal/board"
	"github.com/christopherjohns/drawboard/internal/config"
	"github.com/christopherjohns/drawboard/internal/ratelimit"
	"github.com/christopherjohns/drawboard/internal/stroke"
	"github.com/christopherjohns/drawboard/internal/web"
	"github.com/christopherjohns/drawboard/internal/ws"
)

const (
	// shutdownTimeout bounds how long in-flight HTTP requests may drain.
	shutdownTimeout = 10 * time.Second

	// pruneInterval is how often idle rate limiter entries are dropped.
	pruneInterval = time.Minute
)

// Server is the main HTTP server for Drawboard.
type Server struct {
	cfg     *config.Config
	logger  zerolog.Logger
	router  *chi.Mux
	hub     *ws.Hub
	relay   *board.Relay
	limiter *ratelimit.IPLimiter
}

// New creates a Server that keeps strokes in store.
func New(cfg *config.Config, store stroke.Store, logger zerolog.Logger) *Server {
	hub := ws.NewHub(
		ws.WithMaxConns(cfg.MaxConns),
		ws.WithIdleTimeout(cfg.IdleTimeout),
		ws.WithSendBuffer(cfg.SendBuffer),
		ws.WithLogger(logger.With().Str("component", "conns").Logger()),
	)
	s := &Server{
		cfg:     cfg,
		logger:  logger,
		router:  chi.NewRouter(),
		hub:     hub,
		relay:   board.New(hub, store, logger, board.WithEvictAfter(cfg.RoomEvictAfter)),
		limiter: ratelimit.NewIPLimiter(cfg.ConnectRateLimit, time.Minute),
	}
	s.routes()
	return s
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run listens on the configured port and serves until ctx is cancelled,
// then drains HTTP requests and closes every WebSocket.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Addr())
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.cfg.Addr(), err)
	}
	return s.Serve(ctx, ln)
}

// Serve is Run on an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	pruneCtx, stopPrune := context.WithCancel(ctx)
	defer stopPrune()
	go s.pruneLoop(pruneCtx)

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().Str("addr", ln.Addr().String()).Msg("server listening")
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		s.close()
		return err
	case <-ctx.Done():
	}

	s.logger.Info().Msg("shutting down")
	drainCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	err := srv.Shutdown(drainCtx)
	s.close()
	if err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// close drops every WebSocket and stops pending room evictions.
func (s *Server) close() {
	s.hub.Shutdown()
	s.relay.Close()
}

func (s *Server) pruneLoop(ctx context.Context) {
	ticker := time.NewTicker(pruneInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.limiter.Prune()
		}
	}
}

func (s *Server) routes() {
	r := s.router

	// Metrics middleware (first to capture all requests)
	r.Use(Metrics)

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(Logger(s.logger.With().Str("component", "http").Logger()))
	r.Use(chimw.Recoverer)

	pages := web.NewPages(s.logger)
	r.Get("/", pages.Index)
	r.Get("/drawing-board", pages.Board)
	r.Handle("/static/*", web.Static())

	r.Handle("/metrics", promhttp.Handler())
	r.Get("/health", s.handleHealth)

	wsHandler := ws.NewHandler(s.hub, s.relay, s.logger,
		ws.WithOriginPatterns(s.cfg.AllowedOrigins...),
		ws.WithReadLimit(s.cfg.MaxFrameBytes),
	)
	r.With(s.limiter.Middleware(s.logger)).Get("/ws", wsHandler.ServeHTTP)

	r.Route("/api", func(r chi.Router) {
		if len(s.cfg.AllowedOrigins) > 0 {
			r.Use(cors.Handler(cors.Options{
				AllowedOrigins: corsOrigins(s.cfg.AllowedOrigins),
				AllowedMethods: []string{"GET", "OPTIONS"},
				AllowedHeaders: []string{"Accept", "Content-Type"},
				MaxAge:         300,
			}))
		}
		r.Get("/rooms", s.handleListRooms)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":      "ok",
		"connections": s.hub.ConnMgr().Count(),
		"rooms":       s.relay.RoomCount(),
		"conns":       s.hub.ConnMgr().Stats(),
	})
}

func (s *Server) handleListRooms(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.relay.Rooms(r.Context()))
}

// corsOrigins turns host patterns such as "draw.example.com" into the
// origins the CORS handler matches against.
func corsOrigins(hosts []string) []string {
	origins := make([]string, 0, 2*len(hosts))
	for _, h := range hosts {
		origins = append(origins, "http://"+h, "https://"+h)
	}
	return origins
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
