// SPDX-License-Identifier: AGPL-3.0
// Copyright 2025 Kadir Pekel
//
// Licensed under the GNU Affero General Public License v3.0 (AGPL-3.0) (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.gnu.org/licenses/agpl-3.0.en.html
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

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

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/kadirpekel/docqa/pkg/agent"
	"github.com/kadirpekel/docqa/pkg/cache"
	"github.com/kadirpekel/docqa/pkg/chunkstore"
	"github.com/kadirpekel/docqa/pkg/config"
	"github.com/kadirpekel/docqa/pkg/index"
	"github.com/kadirpekel/docqa/pkg/observability"
	"github.com/kadirpekel/docqa/pkg/retrieval"
	"github.com/kadirpekel/docqa/pkg/service"
)

// maxBodyBytes bounds request bodies.
const maxBodyBytes = 1 << 20

// HTTPServer exposes a Service over a JSON API.
type HTTPServer struct {
	cfg           config.ServerConfig
	service       *service.Service
	observability *observability.Manager
	server        *http.Server
	listener      net.Listener
}

// HTTPServerOption configures the HTTP server.
type HTTPServerOption func(*HTTPServer)

// WithObservability traces and measures requests and serves /metrics.
func WithObservability(obs *observability.Manager) HTTPServerOption {
	return func(s *HTTPServer) {
		s.observability = obs
	}
}

// NewHTTPServer creates an HTTP server for svc.
func NewHTTPServer(cfg config.ServerConfig, svc *service.Service, opts ...HTTPServerOption) *HTTPServer {
	cfg.SetDefaults()
	s := &HTTPServer{cfg: cfg, service: svc}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler returns the routed handler with middleware applied.
//
//	POST   /v1/query
//	POST   /v1/documents/prepare
//	GET    /v1/documents
//	DELETE /v1/documents[?path=...]
//	GET    /v1/stats
//	GET    /health
//	GET    /metrics
func (s *HTTPServer) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.Recoverer)
	if s.observability != nil {
		r.Use(observability.HTTPMiddleware(s.observability.Tracer(), s.observability.Metrics()))
	}
	r.Use(s.loggingMiddleware)
	r.Use(s.corsMiddleware)

	r.Get("/health", s.handleHealth)
	if s.observability != nil {
		if h := s.observability.MetricsHandler(); h != nil {
			r.Method(http.MethodGet, "/metrics", h)
		}
	}

	r.Route("/v1", func(r chi.Router) {
		r.Post("/query", s.handleQuery)
		r.Get("/stats", s.handleStats)

		r.Route("/documents", func(r chi.Router) {
			r.Get("/", s.handleListDocuments)
			r.Delete("/", s.handleDeleteDocuments)
			r.Post("/prepare", s.handlePrepare)
		})
	})

	return r
}

// Start serves until ctx is cancelled, then shuts down.
func (s *HTTPServer) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Address)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.cfg.Address, err)
	}
	s.listener = ln

	s.server = &http.Server{
		Handler:      s.Handler(),
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
		IdleTimeout:  120 * time.Second,
	}

	slog.Info("HTTP server starting", "address", ln.Addr().String())

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
		defer cancel()
		return s.Shutdown(shutdownCtx)
	}
}

// Shutdown gracefully stops the server.
func (s *HTTPServer) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	slog.Info("HTTP server shutting down")
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("HTTP shutdown error: %w", err)
	}
	return nil
}

// Address returns the bound address once started, else the configured one.
func (s *HTTPServer) Address() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.cfg.Address
}

type queryRequest struct {
	Query     string   `json:"query"`
	Documents []string `json:"documents"`
	Mode      string   `json:"mode,omitempty"`
}

type prepareRequest struct {
	Documents []string `json:"documents"`
}

type prepareResponse struct {
	Prepared []string          `json:"prepared"`
	Failed   map[string]string `json:"failed,omitempty"`
}

type statsResponse struct {
	Store chunkstore.Stats `json:"store"`
	Cache *cache.Stats     `json:"cache,omitempty"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *HTTPServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *HTTPServer) handleQuery(w http.ResponseWriter, r *http.Request) {
	var req queryRequest
	if !decode(w, r, &req) {
		return
	}
	mode, err := service.ParseMode(req.Mode)
	if err != nil {
		writeError(w, err)
		return
	}

	resp, err := s.service.Query(r.Context(), service.Request{
		Query:         req.Query,
		DocumentPaths: req.Documents,
		Mode:          mode,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *HTTPServer) handlePrepare(w http.ResponseWriter, r *http.Request) {
	var req prepareRequest
	if !decode(w, r, &req) {
		return
	}
	if len(req.Documents) == 0 {
		writeError(w, fmt.Errorf("%w: documents is required", service.ErrInvalidRequest))
		return
	}

	result := s.service.Prepare(r.Context(), req.Documents)
	out := prepareResponse{Prepared: result.Succeeded}
	if out.Prepared == nil {
		out.Prepared = []string{}
	}
	if len(result.Failed) > 0 {
		out.Failed = make(map[string]string, len(result.Failed))
		for p, err := range result.Failed {
			out.Failed[p] = err.Error()
		}
	}

	status := http.StatusOK
	if len(result.Succeeded) == 0 && len(result.Failed) > 0 {
		status = http.StatusUnprocessableEntity
	}
	writeJSON(w, status, out)
}

func (s *HTTPServer) handleListDocuments(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.service.Documents())
}

func (s *HTTPServer) handleDeleteDocuments(w http.ResponseWriter, r *http.Request) {
	var err error
	if path := r.URL.Query().Get("path"); path != "" {
		err = s.service.Forget(r.Context(), path)
	} else {
		err = s.service.Clear(r.Context())
	}
	if err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *HTTPServer) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.service.Stats(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	out := statsResponse{Store: stats}
	if cs, ok := s.service.CacheStats(); ok {
		out.Cache = &cs
	}
	writeJSON(w, http.StatusOK, out)
}

// StatusCode maps a service error to an HTTP status.
func StatusCode(err error) int {
	var (
		parseErr     *index.ParseError
		buildErr     *index.BuildError
		retrievalErr *retrieval.Error
		timeoutErr   *agent.TimeoutError
		toolErr      *agent.ToolExecutionError
		complErr     *agent.CompletionError
	)
	switch {
	case errors.Is(err, service.ErrInvalidRequest):
		return http.StatusBadRequest
	case errors.As(err, &timeoutErr):
		return http.StatusGatewayTimeout
	case errors.As(err, &toolErr), errors.As(err, &complErr),
		errors.As(err, &buildErr), errors.As(err, &retrievalErr):
		return http.StatusBadGateway
	case errors.As(err, &parseErr):
		return http.StatusUnprocessableEntity
	case errors.Is(err, context.Canceled):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid JSON body: " + err.Error()})
		return false
	}
	return true
}

func writeError(w http.ResponseWriter, err error) {
	status := StatusCode(err)
	if status >= http.StatusInternalServerError {
		slog.Error("Request failed", "status", status, "error", err)
	}
	writeJSON(w, status, errorResponse{Error: err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// corsMiddleware allows the configured origins; none configured allows all.
func (s *HTTPServer) corsMiddleware(next http.Handler) http.Handler {
	origins := s.cfg.CORSOrigins
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if len(origins) == 0 {
			w.Header().Set("Access-Control-Allow-Origin", "*")
		} else if origin := r.Header.Get("Origin"); origin != "" {
			for _, allowed := range origins {
				if allowed == "*" || allowed == origin {
					w.Header().Set("Access-Control-Allow-Origin", origin)
					break
				}
			}
		}
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *HTTPServer) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		slog.Debug("HTTP request",
			"method", r.Method,
			"path", r.URL.Path,
			"duration", time.Since(start),
		)
	})
}
