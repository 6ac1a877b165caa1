package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/arclabs-io/researchgraph/flow"
	"github.com/arclabs-io/researchgraph/research"
)

// handleStream opens a multiagent workflow and streams its events. Request
// validation happens before any SSE header is written, so bad requests still
// get a JSON 4xx.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	var req flow.StreamRequest
	if err := decodeBody(r, &req); err != nil {
		s.respondError(w, err)
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	events, err := s.controller.Stream(ctx, req)
	if err != nil {
		s.respondError(w, err)
		return
	}
	s.streamEvents(w, events, cancel)
}

// handleRestoreCheckpoint starts a fresh workflow from a stored checkpoint
// and streams the new run.
func (s *Server) handleRestoreCheckpoint(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	events, err := s.controller.RestoreCheckpoint(ctx, chi.URLParam(r, "id"))
	if err != nil {
		s.respondError(w, err)
		return
	}
	s.streamEvents(w, events, cancel)
}

// streamEvents writes the SSE frames. Each event is one `event:` line and one
// single-line JSON `data:` line, flushed immediately. A failed write means the
// client went away: the run context is cancelled and the channel drained so
// the producer can finish.
func (s *Server) streamEvents(w http.ResponseWriter, events <-chan flow.Event, cancel context.CancelFunc) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		s.writeError(w, http.StatusInternalServerError, research.ErrTypeTemporary, "streaming unsupported by connection")
		for range events {
		}
		return
	}

	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for e := range events {
		data, err := json.Marshal(e.Data)
		if err != nil {
			s.log.Error("marshal sse event", "type", e.Type, "error", err)
			continue
		}
		if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", e.Type, data); err != nil {
			s.log.Warn("sse client gone, cancelling run", "error", err)
			cancel()
			for range events {
			}
			return
		}
		flusher.Flush()
	}
}
