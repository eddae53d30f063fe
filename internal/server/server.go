// internal/server/server.go

package server

import (
	"context"
	"fmt"
	"net/http"

	"FleetRiskAPI/internal/config"
	"FleetRiskAPI/internal/handler"
	"FleetRiskAPI/internal/logger"
	"FleetRiskAPI/internal/metrics"
	"FleetRiskAPI/internal/middleware"
	"FleetRiskAPI/internal/websocket"

	"github.com/gorilla/mux"
)

type Server struct {
	httpServer *http.Server
	router     *mux.Router
	cfg        *config.Config
	metrics    *metrics.Metrics
	log        *logger.Logger
}

func New(cfg *config.Config, m *metrics.Metrics, log *logger.Logger) *Server {
	router := mux.NewRouter()

	server := &Server{
		router:  router,
		cfg:     cfg,
		metrics: m,
		log:     log,
		httpServer: &http.Server{
			Addr:           fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
			// CORS wraps the router itself: mux runs subrouter middleware only
			// after a route matches, and no route accepts OPTIONS.
			Handler:        middleware.CORS(cfg.Security.CORSAllowedOrigins, cfg.Security.CORSAllowedMethods)(router),
			ReadTimeout:    cfg.Server.ReadTimeout,
			WriteTimeout:   cfg.Server.WriteTimeout,
			MaxHeaderBytes: cfg.Server.MaxHeaderBytes,
		},
	}

	return server
}

func (s *Server) authConfig() middleware.AuthConfig {
	return middleware.AuthConfig{
		Secret:   s.cfg.Security.JWTSecret,
		Issuer:   s.cfg.Security.JWTIssuer,
		Required: s.cfg.Security.RequireAuth,
	}
}

// RegisterHandlers mounts the API under /api/v1.
func (s *Server) RegisterHandlers(
	riskHandler *handler.RiskHandler,
	alertHandler *handler.AlertHandler,
	recipientHandler *handler.RecipientHandler,
	healthHandler *handler.HealthHandler,
) {
	api := s.router.PathPrefix("/api/v1").Subrouter()

	api.Use(middleware.Recovery(s.log))

	if s.cfg.Security.EnableRateLimit {
		api.Use(middleware.RateLimit(s.cfg.Security.RateLimitPerMinute))
	}

	api.Use(middleware.Auth(s.authConfig(), s.log.With("auth")))
	api.Use(middleware.RequestLogger(s.log.With("http")))
	api.Use(middleware.Metrics(s.metrics))

	riskHandler.RegisterRoutes(api)
	alertHandler.RegisterRoutes(api)
	recipientHandler.RegisterRoutes(api)
	healthHandler.RegisterRoutes(s.router)

	if s.metrics != nil {
		s.router.Handle("/metrics", s.metrics.Handler()).Methods("GET")
	}

	s.log.Info("All handlers registered")
}

// RegisterWebSocket serves in-app notifications at /ws. The session is bound
// to the authenticated user so targeted alerts reach them.
func (s *Server) RegisterWebSocket(hub *websocket.Hub) {
	ws := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID := ""
		if p, ok := middleware.PrincipalFromContext(r.Context()); ok && p.UserID != middleware.AnonymousUser {
			userID = p.UserID
		}
		websocket.ServeWs(hub, w, r, userID, s.log.With("ws"))
	})
	s.router.Handle("/ws", middleware.Auth(s.authConfig(), s.log.With("auth"))(ws))
}

func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

func (s *Server) Start() error {
	s.log.Info("Starting HTTP server on %s", s.httpServer.Addr)

	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server failed to start: %w", err)
	}

	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info("Shutting down HTTP server...")

	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	s.log.Info("HTTP server stopped")
	return nil
}
