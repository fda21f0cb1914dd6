package web

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/vitos/crypto_signal_trader/internal/domain"
	"github.com/vitos/crypto_signal_trader/internal/metrics"
	"github.com/vitos/crypto_signal_trader/internal/usecase"
)

// Server is the ops surface: JSON status endpoints, halt/resume controls and
// the Prometheus scrape handler. It never touches the venue directly; every
// answer comes from in-memory state or the trade history store.
type Server struct {
	router  chi.Router
	server  *http.Server
	risk    *usecase.RiskManager
	store   *usecase.SignalStore
	matcher *usecase.ConfluenceMatcher
	trades  domain.TradeRepository
	logger  *zap.Logger
}

func NewServer(
	port int,
	risk *usecase.RiskManager,
	store *usecase.SignalStore,
	matcher *usecase.ConfluenceMatcher,
	trades domain.TradeRepository,
	logger *zap.Logger,
) *Server {
	s := &Server{
		router:  chi.NewRouter(),
		risk:    risk,
		store:   store,
		matcher: matcher,
		trades:  trades,
		logger:  logger,
	}
	s.routes()
	s.server = &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: s.router,
	}
	return s
}

func (s *Server) routes() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.Timeout(30 * time.Second))
	s.router.Use(metrics.Middleware)

	s.router.Get("/healthz", s.handleHealth)
	s.router.Handle("/metrics", metrics.Handler())

	s.router.Route("/api", func(r chi.Router) {
		r.Get("/status", s.handleStatus)
		r.Get("/positions", s.handlePositions)
		r.Get("/signals", s.handleSignals)
		r.Get("/trades", s.handleTrades)
		r.Post("/halt", s.handleHalt)
		r.Post("/resume", s.handleResume)
	})
}

// Handler exposes the routed mux for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) Start() error {
	s.logger.Info("Starting web server", zap.String("addr", s.server.Addr))
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}
