package gateway

import (
	"context"
	"fmt"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/promptgate/promptgate/internal/backend"
	"github.com/promptgate/promptgate/internal/config"
	"github.com/promptgate/promptgate/internal/injection"
	"github.com/promptgate/promptgate/internal/logger"
	"github.com/promptgate/promptgate/internal/metrics"
	"github.com/promptgate/promptgate/internal/pii"
	"github.com/promptgate/promptgate/internal/pipeline"
	"github.com/promptgate/promptgate/internal/ratelimit"
	"go.uber.org/zap"
)

var (
	version = "0.1.0"
)

// Server represents the main gateway server
type Server struct {
	config   *config.Config
	logger   *logger.Logger
	pipeline *pipeline.Pipeline
	backend  backend.Client
	metrics  *metrics.Metrics
	apiKeys  map[string]bool
	router   *mux.Router
	server   *http.Server
}

// New creates a new gateway server instance. All components are
// constructed here, once, and passed by reference into the pipeline.
func New(cfg *config.Config, log *logger.Logger) (*Server, error) {
	m := metrics.New()

	limiter := ratelimit.New(cfg.Security.RateLimit, cfg.Redis, log.WithComponent("ratelimit"))
	detector := injection.New(cfg.Security.Injection, log.WithComponent("injection"))
	redactor := pii.New(cfg.Security.PII, log.WithComponent("pii"))

	admission := pipeline.New(cfg.Security, limiter, detector, redactor, m, log.WithComponent("pipeline"))

	llmClient, err := backend.NewClient(cfg.Backend, log.WithComponent("backend"))
	if err != nil {
		return nil, fmt.Errorf("failed to create backend client: %w", err)
	}

	apiKeys := make(map[string]bool, len(cfg.Security.APIKeys))
	for _, key := range cfg.Security.APIKeys {
		apiKeys[key] = true
	}

	router := mux.NewRouter()

	server := &Server{
		config:   cfg,
		logger:   log.WithComponent("gateway"),
		pipeline: admission,
		backend:  llmClient,
		metrics:  m,
		apiKeys:  apiKeys,
		router:   router,
	}

	server.setupRoutes()

	server.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      server.router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	return server, nil
}

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes() {
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")
	s.router.HandleFunc("/info", s.handleInfo).Methods("GET")

	if s.config.Metrics.Enabled {
		s.router.Handle(s.config.Metrics.Path, s.metrics.Handler()).Methods("GET")
	}

	chat := s.router.PathPrefix("/v1").Subrouter()
	chat.Use(s.loggingMiddleware)
	chat.HandleFunc("/chat", s.handleChat).Methods("POST")
}

// Start starts the HTTP server
func (s *Server) Start() error {
	s.logger.Info("Starting PromptGate server",
		zap.Int("port", s.config.Server.Port),
		zap.String("backend", s.config.Backend.Type),
		zap.String("model", s.config.Backend.Model),
	)

	return s.server.ListenAndServe()
}

// Stop gracefully stops the HTTP server
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("Stopping PromptGate server")
	return s.server.Shutdown(ctx)
}
