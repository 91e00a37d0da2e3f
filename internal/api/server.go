// Package api exposes the pipeline over HTTP: generation, stock, A/B
// tests, outcome ingestion, a live event stream, and Prometheus metrics.
package api

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/postmint/postmint/internal/abtest"
	"github.com/postmint/postmint/internal/auth"
	"github.com/postmint/postmint/internal/generator"
	"github.com/postmint/postmint/internal/inventory"
	"github.com/postmint/postmint/internal/messagebus"
	"github.com/postmint/postmint/internal/metrics"
	"github.com/postmint/postmint/internal/patterns"
	"github.com/postmint/postmint/internal/scoring"
	"github.com/postmint/postmint/internal/store"
	"github.com/postmint/postmint/pkg/config"
	"github.com/postmint/postmint/pkg/models"
)

// Server is the HTTP API server.
type Server struct {
	cfg       *config.Config
	store     store.Store
	generator *generator.Generator
	inventory *inventory.Manager
	abtests   *abtest.Engine
	patterns  *patterns.Store
	auth      *auth.Manager
	bus       messagebus.Bus
	bridge    *messagebus.Bridge
	hub       *EventHub
	scorer    scoring.Strategy
	metrics   *metrics.Metrics

	httpServer *http.Server
}

// NewServer wires the API server. m may be nil.
func NewServer(cfg *config.Config, st store.Store, gen *generator.Generator, inv *inventory.Manager,
	ab *abtest.Engine, pat *patterns.Store, am *auth.Manager, bus messagebus.Bus, bridge *messagebus.Bridge,
	m *metrics.Metrics) *Server {
	return &Server{
		cfg:       cfg,
		store:     st,
		generator: gen,
		inventory: inv,
		abtests:   ab,
		patterns:  pat,
		auth:      am,
		bus:       bus,
		bridge:    bridge,
		hub:       NewEventHub(),
		scorer: scoring.NewHeuristic(scoring.Config{
			Profile:       cfg.Scoring.Profile,
			PassThreshold: cfg.Scoring.PassThreshold,
		}),
		metrics: m,
	}
}

// SetupRoutes configures the HTTP routes. Mutating routes sit behind the
// auth middleware; health, metrics, login and the event stream stay open.
func (s *Server) SetupRoutes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/api/v1/health", s.handleHealth)
	mux.HandleFunc("/api/v1/auth/login", s.handleLogin)
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/api/v1/events", s.handleEvents)

	protected := http.NewServeMux()
	protected.HandleFunc("/api/v1/generate/", s.handleGenerate)
	protected.HandleFunc("/api/v1/score", s.handleScore)
	protected.HandleFunc("/api/v1/stock", s.handleStockStatus)
	protected.HandleFunc("/api/v1/stock/refill-all", s.handleRefillAll)
	protected.HandleFunc("/api/v1/stock/", s.handleStockAccount)
	protected.HandleFunc("/api/v1/patterns/", s.handlePatterns)
	protected.HandleFunc("/api/v1/abtests", s.handleStartTest)
	protected.HandleFunc("/api/v1/abtests/", s.handleTestAccount)
	protected.HandleFunc("/api/v1/outcomes/good", s.handleOutcome("good"))
	protected.HandleFunc("/api/v1/outcomes/bad", s.handleOutcome("bad"))
	mux.Handle("/api/v1/", s.auth.Middleware(protected))

	handler := s.loggingMiddleware(mux)
	handler = s.corsMiddleware(handler)
	return otelhttp.NewHandler(handler, "postmint-api")
}

// Start runs the HTTP server until the context is canceled.
func (s *Server) Start(ctx context.Context) error {
	s.subscribeBusEvents()

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", s.cfg.Server.HTTPPort),
		Handler:      s.SetupRoutes(),
		ReadTimeout:  s.cfg.Server.ReadTimeout,
		WriteTimeout: s.cfg.Server.WriteTimeout,
		IdleTimeout:  s.cfg.Server.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Printf("[API] listening on %s", s.httpServer.Addr)
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		s.hub.Close()
		return s.httpServer.Shutdown(shutdownCtx)
	}
}

// subscribeBusEvents relays bus events into the websocket hub so events
// published by other processes reach dashboard clients too.
func (s *Server) subscribeBusEvents() {
	if err := s.bus.SubscribeEvents(func(ev *models.PipelineEvent) {
		s.hub.Broadcast(ev)
	}); err != nil {
		log.Printf("[API] event subscription failed: %v", err)
	}
}

// publishEvent announces a pipeline event. With a broker the event echoes
// back through the bus subscription and reaches the hub there; without one
// it goes to local websocket clients directly. Broadcasting on both paths
// would hand every event to each client twice.
func (s *Server) publishEvent(ctx context.Context, eventType models.EventType, account string, payload map[string]interface{}) {
	ev := &models.PipelineEvent{
		Type:      eventType,
		Account:   account,
		Timestamp: time.Now(),
		Payload:   payload,
	}
	if s.metrics != nil {
		s.metrics.EventsPublished.WithLabelValues(string(eventType)).Inc()
	}

	if _, standalone := s.bus.(messagebus.Noop); standalone {
		s.hub.Broadcast(ev)
		return
	}
	if err := s.bus.PublishEvent(ctx, ev); err != nil {
		log.Printf("[API] event publish failed: %v", err)
		s.hub.Broadcast(ev)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	status := map[string]string{"status": "ok"}
	if err := s.bus.Health(); err != nil {
		status["bus"] = err.Error()
	}
	s.respondJSON(w, http.StatusOK, status)
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		log.Printf("[API] %s %s %s", r.Method, r.URL.Path, time.Since(start))
	})
}

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
