package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/opensource-finance/momoguard/internal/domain"
	"github.com/opensource-finance/momoguard/internal/rules"
)

// Server represents the HTTP API server.
type Server struct {
	router  *chi.Mux
	handler *Handler
	server  *http.Server
	config  domain.ServerConfig
}

// NewServer creates a new API server. The forwarder secret guards POST /sms
// when set; POST /parse is mounted only when test endpoints are enabled.
func NewServer(cfg domain.ServerConfig, verifyCfg domain.VerifyConfig, handler *Handler) *Server {
	router := chi.NewRouter()

	router.Use(CORSMiddleware)
	router.Use(RecoverMiddleware)
	router.Use(TracingMiddleware)
	router.Use(LoggingMiddleware)
	router.Use(middleware.RealIP)
	router.Use(middleware.Compress(5))

	// Health endpoints (no tenant required)
	router.Get("/health", handler.Health)
	router.Get("/ready", handler.Ready)

	router.Route("/", func(r chi.Router) {
		r.Use(TenantMiddleware)

		r.With(ForwarderAuth(verifyCfg.ForwarderSecret)).Post("/sms", handler.ReceiveSMS)
		r.Post("/verify", handler.Verify)

		r.Get("/payments/{id}", handler.GetPayment)
		r.Get("/verifications/{id}", handler.GetVerification)
		r.Get("/stats", handler.GetStats)

		r.Get("/rules", handler.ListRules)
		r.Post("/rules", handler.CreateRule)
		r.Post("/rules/reload", handler.ReloadRules)

		if verifyCfg.EnableTestEndpoints {
			r.Post("/parse", handler.Parse)
		}
	})

	return &Server{
		router:  router,
		handler: handler,
		config:  cfg,
	}
}

// LoadRules replaces the engine's rules with the enabled global rules
// stored in repo, returning how many were read.
func LoadRules(ctx context.Context, repo domain.Repository, engine *rules.Engine) (int, error) {
	configs, err := repo.ListRuleConfigs(ctx, GlobalTenantID)
	if err != nil {
		return 0, fmt.Errorf("failed to list rules: %w", err)
	}
	if err := engine.ReloadRules(configs); err != nil {
		return 0, err
	}
	return len(configs), nil
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)

	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  time.Duration(s.config.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(s.config.WriteTimeout) * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// Router returns the Chi router for testing.
func (s *Server) Router() *chi.Mux {
	return s.router
}
