package web

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/example/coursegrab/internal/course"
	"github.com/example/coursegrab/internal/obs"
)

// Server exposes health, metrics and the live selection while a run is in
// progress. It is read-only.
type Server struct {
	Record  *course.SelectionRecord
	Metrics *obs.Metrics
	Status  func() Status
	Log     zerolog.Logger
}

// Status is the run progress reported on /healthz.
type Status struct {
	State string `json:"state,omitempty"`
	Round int64  `json:"round"`
	RunID string `json:"run_id,omitempty"`
}

func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(s.logRequests)

	r.Get("/healthz", s.handleHealth)
	r.Get("/selection", s.handleSelection)
	if s.Metrics != nil {
		r.Handle("/metrics", s.Metrics.Handler())
	}
	return r
}

type healthResponse struct {
	Health string `json:"status"`
	Status
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{Health: "ok", Status: s.status()})
}

func (s *Server) status() Status {
	if s.Status == nil {
		return Status{}
	}
	return s.Status()
}

type selectionResponse struct {
	RunID   string         `json:"run_id,omitempty"`
	Entries []course.Entry `json:"entries"`
}

func (s *Server) handleSelection(w http.ResponseWriter, r *http.Request) {
	entries := []course.Entry{}
	if s.Record != nil {
		entries = s.Record.Entries()
	}
	writeJSON(w, http.StatusOK, selectionResponse{RunID: s.status().RunID, Entries: entries})
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.Log.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("took", time.Since(start)).
			Msg("http")
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// Start serves h on addr until ctx is cancelled.
func Start(ctx context.Context, addr string, h http.Handler, log zerolog.Logger) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	log.Info().Str("addr", addr).Msg("status server listening")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
