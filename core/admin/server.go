// Package admin exposes the operational HTTP surface: health, metrics, and
// read/validate access to loaded scenario definitions.
package admin

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/m3rciful/flowbot/core/logger"
	"github.com/m3rciful/flowbot/core/scenario"
)

const maxValidateBody = 1 << 20

// Options configure the admin server.
type Options struct {
	Listen    string
	Scenarios *scenario.Registry
	Gatherer  prometheus.Gatherer
}

// Server serves the administration endpoints.
type Server struct {
	srv       *http.Server
	scenarios *scenario.Registry
}

// New builds the admin server and its routes.
func New(opts Options) *Server {
	s := &Server{scenarios: opts.Scenarios}

	r := chi.NewRouter()
	r.Use(chimw.Recoverer)

	r.Get("/healthz", s.handleHealth)
	if opts.Gatherer != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(opts.Gatherer, promhttp.HandlerOpts{}))
	}
	r.Route("/scenarios", func(r chi.Router) {
		r.Get("/", s.handleList)
		r.Post("/validate", s.handleValidate)
		r.Post("/reload", s.handleReload)
		r.Get("/{id}", s.handleGet)
	})

	s.srv = &http.Server{
		Addr:              opts.Listen,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		logger.Info(ctx, "admin", "listening", slog.String("addr", s.srv.Addr))
		errCh <- s.srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		<-errCh
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleList(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.scenarios.List())
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	sc, err := s.scenarios.Resolve(id)
	if err != nil {
		if errors.Is(err, scenario.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "scenario not found"})
			return
		}
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, sc)
}

// handleReload re-reads the scenarios directory. Definitions that fail
// validation are reported and skipped; valid ones replace the current set.
func (s *Server) handleReload(w http.ResponseWriter, r *http.Request) {
	err := s.scenarios.LoadDir(r.Context())
	resp := map[string]any{"scenarios": len(s.scenarios.List())}
	if err != nil {
		resp["error"] = err.Error()
		writeJSON(w, http.StatusUnprocessableEntity, resp)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

type validateResponse struct {
	Valid      bool             `json:"valid"`
	ScenarioID string           `json:"scenario_id,omitempty"`
	Issues     []scenario.Issue `json:"issues,omitempty"`
}

// handleValidate runs the full definition pipeline on the posted document
// without registering it.
func (s *Server) handleValidate(w http.ResponseWriter, r *http.Request) {
	data, err := io.ReadAll(io.LimitReader(r.Body, maxValidateBody))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "cannot read body"})
		return
	}

	sc, issues := scenario.Parse(data)
	resp := validateResponse{Issues: issues}
	if sc != nil {
		resp.ScenarioID = sc.ID
	}
	resp.Valid = true
	for _, i := range issues {
		if i.Severity == "error" {
			resp.Valid = false
			break
		}
	}

	status := http.StatusOK
	if !resp.Valid {
		status = http.StatusUnprocessableEntity
	}
	writeJSON(w, status, resp)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Warn(context.Background(), "admin", "write_response_failed",
			slog.String("err", err.Error()))
	}
}
