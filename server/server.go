// Package server exposes the research workflow over HTTP: a chi-routed REST
// surface for objectives, tasks, steps, workflows and the scheduler, plus the
// SSE stream endpoint that drives a live multiagent run.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/arclabs-io/researchgraph/flow"
	"github.com/arclabs-io/researchgraph/graph/emit"
	"github.com/arclabs-io/researchgraph/research"
	"github.com/arclabs-io/researchgraph/resource"
	"github.com/arclabs-io/researchgraph/store"
)

// Server bundles the handlers with the layers they call into. Scheduler and
// resources may be nil when the service runs without the background scheduler
// (tests, one-shot invocations); the scheduler endpoints then report that.
type Server struct {
	store      store.Store
	controller *flow.Controller
	resources  *resource.Manager
	scheduler  *resource.Scheduler
	history    *emit.BufferedEmitter
	log        *slog.Logger
}

// New wires a Server. Only store and controller are required.
func New(st store.Store, ctrl *flow.Controller, resources *resource.Manager, sched *resource.Scheduler, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	return &Server{store: st, controller: ctrl, resources: resources, scheduler: sched, log: log}
}

// UseHistory attaches the buffered emitter whose per-run event history the
// workflow state endpoint reports. The same emitter must be registered on the
// controller for the history to fill.
func (s *Server) UseHistory(h *emit.BufferedEmitter) { s.history = h }

// Router builds the full route table.
func (s *Server) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(s.logRequests)
	r.Use(middleware.Recoverer)

	r.Get("/health", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/multiagent/stream", s.handleStream)

		r.Route("/objectives", func(r chi.Router) {
			r.Post("/", s.handleCreateObjective)
			r.Get("/{id}", s.handleGetObjective)
			r.Get("/{id}/tasks", s.handleListObjectiveTasks)
			r.Post("/{id}/cancel", s.handleCancelObjective)
		})

		r.Route("/tasks", func(r chi.Router) {
			r.Get("/{id}", s.handleGetTask)
			r.Get("/{id}/steps", s.handleListTaskSteps)
		})

		r.Route("/steps", func(r chi.Router) {
			r.Get("/{id}", s.handleGetStep)
			r.Get("/{id}/results", s.handleGetStepResults)
		})

		r.Route("/workflows", func(r chi.Router) {
			r.Get("/{id}/state", s.handleWorkflowState)
			r.Post("/{id}/pause", s.handlePauseWorkflow)
			r.Post("/{id}/resume", s.handleResumeWorkflow)
			r.Get("/{id}/checkpoints", s.handleListCheckpoints)
			r.Post("/checkpoints/{id}/restore", s.handleRestoreCheckpoint)
		})

		r.Route("/scheduler", func(r chi.Router) {
			r.Get("/status", s.handleSchedulerStatus)
			r.Get("/resources", s.handleSchedulerResources)
			r.Post("/steps/schedule", s.handleScheduleSteps)
		})
	})

	return r
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.log.Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()))
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := s.store.Ping(ctx); err != nil {
		s.writeError(w, http.StatusServiceUnavailable, research.ErrTypeDatabase, "store unreachable: "+err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// errorEnvelope is the JSON body of every non-2xx response.
type errorEnvelope struct {
	Error errorBody `json:"error"`
}

type errorBody struct {
	Type    research.ErrorType `json:"type"`
	Message string             `json:"message"`
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Error("write response", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, typ research.ErrorType, msg string) {
	s.writeJSON(w, status, errorEnvelope{Error: errorBody{Type: typ, Message: msg}})
}

// respondError maps domain errors onto HTTP statuses with the JSON envelope.
func (s *Server) respondError(w http.ResponseWriter, err error) {
	var ve *research.ValidationError
	var se *research.StateError
	switch {
	case errors.Is(err, store.ErrNotFound) || errors.Is(err, research.ErrNotFound):
		s.writeError(w, http.StatusNotFound, research.ErrTypeNotFound, err.Error())
	case errors.As(err, &ve):
		s.writeError(w, http.StatusBadRequest, research.ErrTypeValidation, ve.Message)
	case errors.As(err, &se):
		s.writeError(w, http.StatusConflict, research.ErrTypeWorkflowState, se.Message)
	default:
		s.writeError(w, http.StatusInternalServerError, research.ErrTypeTemporary, err.Error())
	}
}

func decodeBody(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(v); err != nil {
		return &research.ValidationError{Message: "invalid request body: " + err.Error()}
	}
	return nil
}
