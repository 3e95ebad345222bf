// Copyright 2025 Kadir Pekel
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package server exposes an executor over the A2A protocol.
//
// Routes:
//   - GET  /.well-known/agent-card.json  agent card
//   - POST /                             JSON-RPC (message/send, message/stream, tasks/get)
//   - GET  /health                       liveness
//   - GET  /metrics                      Prometheus scrape, when metrics are enabled
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/a2aproject/a2a-go/a2a"
	"github.com/a2aproject/a2a-go/a2asrv"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/sync/errgroup"

	"github.com/kadirpekel/stratus/pkg/config"
	"github.com/kadirpekel/stratus/pkg/executor"
	"github.com/kadirpekel/stratus/pkg/observability"
)

// Server is the stratus A2A HTTP server.
type Server struct {
	cfg  *config.ServerConfig
	card *a2a.AgentCard
	exec *executor.Executor

	tracer      *observability.Tracer
	metrics     *observability.Metrics
	metricsPath string
	taskStore   a2asrv.TaskStore

	handler http.Handler
}

// Option configures the server.
type Option func(*Server)

// WithTracer traces every HTTP request.
func WithTracer(t *observability.Tracer) Option {
	return func(s *Server) {
		s.tracer = t
	}
}

// WithMetrics records HTTP metrics and serves the scrape endpoint at path.
func WithMetrics(m *observability.Metrics, path string) Option {
	return func(s *Server) {
		s.metrics = m
		if path != "" {
			s.metricsPath = path
		}
	}
}

// WithTaskStore sets the store a2asrv keeps protocol tasks in.
// If not set, a2a-go uses its internal in-memory store.
func WithTaskStore(store a2asrv.TaskStore) Option {
	return func(s *Server) {
		s.taskStore = store
	}
}

// New creates a server for exec. The agent card advertises cfg.PublicURL().
func New(cfg *config.ServerConfig, agentCfg *config.AgentConfig, exec *executor.Executor, opts ...Option) *Server {
	s := &Server{
		cfg:         cfg,
		card:        BuildAgentCard(agentCfg, cfg.PublicURL()),
		exec:        exec,
		metricsPath: observability.DefaultMetricsPath,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.handler = s.routes()
	return s
}

// Card returns the served agent card.
func (s *Server) Card() *a2a.AgentCard {
	return s.card
}

// Handler returns the HTTP handler with all routes mounted.
func (s *Server) Handler() http.Handler {
	return s.handler
}

func (s *Server) routes() http.Handler {
	var handlerOpts []a2asrv.RequestHandlerOption
	if s.taskStore != nil {
		handlerOpts = append(handlerOpts, a2asrv.WithTaskStore(s.taskStore))
	}
	requestHandler := a2asrv.NewHandler(NewAgentExecutor(s.exec), handlerOpts...)

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(observability.HTTPMiddleware(s.tracer, s.metrics))
	r.Use(RateLimitMiddleware(s.cfg.RateLimit))

	r.Get(a2asrv.WellKnownAgentCardPath, a2asrv.NewStaticAgentCardHandler(s.card).ServeHTTP)
	r.Post("/", a2asrv.NewJSONRPCHandler(requestHandler).ServeHTTP)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{
			"status": "ok",
			"agent":  s.card.Name,
		})
	})

	if s.metrics.Enabled() {
		r.Get(s.metricsPath, s.metrics.Handler().ServeHTTP)
	}

	return r
}

// Run listens on the configured address and serves until ctx ends.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Address())
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.cfg.Address(), err)
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx ends, then shuts down gracefully within
// the configured shutdown timeout.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	slog.Info("A2A server listening",
		"address", ln.Addr().String(),
		"agent", s.card.Name,
		"url", s.card.URL)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		slog.Info("Shutting down A2A server", "timeout", s.cfg.ShutdownTimeout)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
		return nil
	})
	return g.Wait()
}
