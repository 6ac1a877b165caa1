package server

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/arclabs-io/researchgraph/graph/emit"
	"github.com/arclabs-io/researchgraph/research"
)

// createObjectiveRequest is the body of POST /api/v1/objectives.
type createObjectiveRequest struct {
	Title       string         `json:"title"`
	Description string         `json:"description,omitempty"`
	Query       string         `json:"query"`
	Priority    int            `json:"priority,omitempty"`
	UserID      string         `json:"user_id,omitempty"`
	Tags        []string       `json:"tags,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

func (s *Server) handleCreateObjective(w http.ResponseWriter, r *http.Request) {
	var req createObjectiveRequest
	if err := decodeBody(r, &req); err != nil {
		s.respondError(w, err)
		return
	}
	if req.Query == "" {
		s.respondError(w, &research.ValidationError{Message: "query is required"})
		return
	}
	title := req.Title
	if title == "" {
		title = req.Query
	}
	obj := research.NewObjective(title, req.Query, req.Priority)
	obj.Description = req.Description
	obj.UserID = req.UserID
	obj.Tags = req.Tags
	obj.Metadata = req.Metadata

	if err := s.store.UpsertObjective(r.Context(), obj); err != nil {
		s.respondError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, obj)
}

// objectiveView adds the aggregated progress percentage to the stored row.
type objectiveView struct {
	*research.Objective
	Progress int `json:"progress"`
}

func (s *Server) handleGetObjective(w http.ResponseWriter, r *http.Request) {
	obj, err := s.store.GetObjective(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.respondError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, objectiveView{Objective: obj, Progress: obj.Progress()})
}

func (s *Server) handleListObjectiveTasks(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := s.store.GetObjective(r.Context(), id); err != nil {
		s.respondError(w, err)
		return
	}
	tasks, err := s.store.ListTasks(r.Context(), id)
	if err != nil {
		s.respondError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"tasks": tasks})
}

func (s *Server) handleCancelObjective(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.controller.Cancel(r.Context(), id); err != nil {
		s.respondError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"objective_id": id,
		"status":       research.ObjectiveCancelled,
	})
}

func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request) {
	t, err := s.store.GetTask(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.respondError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, t)
}

func (s *Server) handleListTaskSteps(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := s.store.GetTask(r.Context(), id); err != nil {
		s.respondError(w, err)
		return
	}
	steps, err := s.store.ListSteps(r.Context(), id)
	if err != nil {
		s.respondError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"steps": steps})
}

func (s *Server) handleGetStep(w http.ResponseWriter, r *http.Request) {
	st, err := s.store.GetStep(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.respondError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, st)
}

func (s *Server) handleGetStepResults(w http.ResponseWriter, r *http.Request) {
	st, err := s.store.GetStep(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.respondError(w, err)
		return
	}
	if st.Status != research.StepCompleted {
		s.respondError(w, &research.StateError{
			Message: "step " + st.ID + " is " + string(st.Status) + ", results require COMPLETED",
		})
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"step_id":            st.ID,
		"output_data":        st.OutputData,
		"quality_assessment": st.Quality,
		"completed_at":       st.CompletedAt,
	})
}

// workflowView augments the stored workflow row with the run's emitted event
// history when the server tracks one.
type workflowView struct {
	*research.Workflow
	History []emit.Event `json:"history,omitempty"`
}

func (s *Server) handleWorkflowState(w http.ResponseWriter, r *http.Request) {
	wf, err := s.store.GetWorkflow(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.respondError(w, err)
		return
	}
	view := workflowView{Workflow: wf}
	if s.history != nil {
		view.History = s.history.History(wf.ID)
	}
	s.writeJSON(w, http.StatusOK, view)
}

func (s *Server) setPaused(w http.ResponseWriter, r *http.Request, paused bool) {
	wf, err := s.store.GetWorkflow(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.respondError(w, err)
		return
	}
	if wf.Status.Terminal() {
		s.respondError(w, &research.StateError{
			Message: "workflow " + wf.ID + " is " + string(wf.Status) + ", cannot change pause state",
		})
		return
	}
	wf.IsPaused = paused
	if err := s.store.UpdateWorkflow(r.Context(), wf); err != nil {
		s.respondError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, wf)
}

func (s *Server) handlePauseWorkflow(w http.ResponseWriter, r *http.Request) {
	s.setPaused(w, r, true)
}

func (s *Server) handleResumeWorkflow(w http.ResponseWriter, r *http.Request) {
	s.setPaused(w, r, false)
}

// checkpointSummary omits the serialized state blob from listings.
type checkpointSummary struct {
	ID         string    `json:"checkpoint_id"`
	WorkflowID string    `json:"workflow_id"`
	NodeName   string    `json:"node_name"`
	CreatedAt  time.Time `json:"created_at"`
}

func (s *Server) handleListCheckpoints(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := s.store.GetWorkflow(r.Context(), id); err != nil {
		s.respondError(w, err)
		return
	}
	cps, err := s.store.ListCheckpoints(r.Context(), id)
	if err != nil {
		s.respondError(w, err)
		return
	}
	out := make([]checkpointSummary, len(cps))
	for i, cp := range cps {
		out[i] = checkpointSummary{
			ID:         cp.ID,
			WorkflowID: cp.WorkflowID,
			NodeName:   cp.NodeName,
			CreatedAt:  cp.CreatedAt,
		}
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"checkpoints": out})
}

func (s *Server) handleSchedulerStatus(w http.ResponseWriter, r *http.Request) {
	if s.scheduler == nil {
		s.writeJSON(w, http.StatusOK, map[string]any{"running": false})
		return
	}
	s.writeJSON(w, http.StatusOK, s.scheduler.Status())
}

func (s *Server) handleSchedulerResources(w http.ResponseWriter, r *http.Request) {
	if s.resources == nil {
		s.writeJSON(w, http.StatusOK, map[string]any{})
		return
	}
	s.writeJSON(w, http.StatusOK, s.resources.Status())
}

// scheduleStepsRequest is the body of POST /api/v1/scheduler/steps/schedule.
type scheduleStepsRequest struct {
	StepIDs []string `json:"step_ids"`
}

// handleScheduleSteps re-readies the named steps and their parent tasks so
// the next scheduler pass picks them up, then forces a pass.
func (s *Server) handleScheduleSteps(w http.ResponseWriter, r *http.Request) {
	var req scheduleStepsRequest
	if err := decodeBody(r, &req); err != nil {
		s.respondError(w, err)
		return
	}
	if len(req.StepIDs) == 0 {
		s.respondError(w, &research.ValidationError{Message: "step_ids is required"})
		return
	}

	scheduled := 0
	for _, id := range req.StepIDs {
		st, err := s.store.GetStep(r.Context(), id)
		if err != nil {
			s.respondError(w, err)
			return
		}
		if err := st.Transition(research.StepReady); err != nil {
			s.respondError(w, err)
			return
		}
		if err := s.store.UpsertStep(r.Context(), st); err != nil {
			s.respondError(w, err)
			return
		}
		task, err := s.store.GetTask(r.Context(), st.TaskID)
		if err != nil {
			s.respondError(w, err)
			return
		}
		if task.Status == research.TaskPending || task.Status == research.TaskFailed {
			if err := s.store.UpdateTaskStatus(r.Context(), task.ID, research.TaskReady, ""); err != nil {
				s.respondError(w, err)
				return
			}
		}
		scheduled++
	}

	if s.scheduler != nil {
		s.scheduler.Tick(r.Context())
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"scheduled": scheduled})
}
