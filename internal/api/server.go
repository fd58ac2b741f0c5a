package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
	"paratest/internal/persistence"
)

const shutdownTimeout = 5 * time.Second

type Server struct {
	store  *persistence.Store
	router *chi.Mux
}

type Config struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
}

// Addr joins host and port into a listen address
func (c *Config) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// New creates a new API server instance serving the timing store
func New(store *persistence.Store) *Server {
	s := &Server{
		store:  store,
		router: chi.NewRouter(),
	}

	// Set up middleware
	s.router.Use(middleware.RequestID)
	s.router.Use(requestLogger)
	s.router.Use(middleware.Recoverer)

	s.router.Route("/api", func(r chi.Router) {
		r.Get("/timings", s.GetTimings)
		r.Get("/executions", s.GetExecutions)
	})
	s.router.Handle("/metrics", promhttp.Handler())

	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// ListenAndServe is a blocking function. It serves on addr until ctx is done and then shuts the
// server down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", addr).Msg("Serving timings")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("listen on %s: %w", addr, err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// GetTimings returns the average duration of every test, grouped by source
func (s *Server) GetTimings(w http.ResponseWriter, r *http.Request) {
	report, err := s.store.Report(r.Context())
	if err != nil {
		http.Error(w, "Failed to fetch timings", http.StatusInternalServerError)
		log.Error().Err(err).Msg("Failed to fetch timings")
		return
	}
	if report == nil {
		report = []persistence.SourceReport{}
	}
	serveJson(w, report)
}

// GetExecutions returns the retained executions of the source given in the query string
func (s *Server) GetExecutions(w http.ResponseWriter, r *http.Request) {
	source := r.URL.Query().Get("source")
	if source == "" {
		http.Error(w, "source query parameter is required", http.StatusBadRequest)
		return
	}

	executions, err := s.store.Executions(r.Context(), source)
	if err != nil {
		http.Error(w, "Failed to fetch executions", http.StatusInternalServerError)
		log.Error().Err(err).Str("source", source).Msg("Failed to fetch executions")
		return
	}
	serveJson(w, executions)
}

func serveJson(w http.ResponseWriter, payload any) {
	w.Header().Set("Content-Type", "application/json")
	err := json.NewEncoder(w).Encode(payload)
	if err != nil {
		http.Error(w, "Failed to encode payload", http.StatusInternalServerError)
		log.Error().Err(err).Msg("JSON encoding issue")
	}
}

// requestLogger logs every request with its status and duration
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		log.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("duration", time.Since(start)).
			Str("request_id", middleware.GetReqID(r.Context())).
			Msg("Request")
	})
}
