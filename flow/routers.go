package flow

import "github.com/arclabs-io/researchgraph/research"

// Routing labels. Labels naming a node route straight to it; the executor
// variants use this for the improve/continue loops where the destination
// depends on the current task's type.
const (
	LabelPass       = "pass"
	LabelFail       = "fail"
	LabelNext       = "next"
	LabelSynthesize = "synthesize"
)

// TaskTypeRouter routes out of task_analyzer to the execution node for the
// current task.
func (n *Nodes) TaskTypeRouter(s research.State) string {
	return n.execNodeFor(s.CurrentTask())
}

// EvaluatorRouter reads the verdict the quality evaluator just applied:
// a completed (or skipped) step passes, a failed step goes back to the task
// analyzer for replanning, and a still-running step is re-executed with the
// improvement feedback.
func (n *Nodes) EvaluatorRouter(s research.State) string {
	hist := s.Intermediate.EvalHistory
	if len(hist) == 0 {
		return LabelPass
	}
	last := hist[len(hist)-1]
	step := stepByID(s.Objective, last.TargetID)
	if step == nil {
		return LabelPass
	}
	switch step.Status {
	case research.StepFailed:
		return LabelFail
	case research.StepCompleted, research.StepSkipped:
		return LabelPass
	default:
		return n.execNodeFor(s.Objective.Task(step.TaskID))
	}
}

// SelectRouter routes out of select_next_task: continue the running task's
// current step, plan the newly selected task, synthesize when every task is
// terminal, or wait for dependencies to complete.
func (n *Nodes) SelectRouter(s research.State) string {
	o := s.Objective
	if o.Status == research.ObjectiveSynthesizing {
		return LabelSynthesize
	}
	if t := s.CurrentTask(); t != nil {
		if t.Status == research.TaskRunning {
			if st := s.CurrentStep(); st != nil && !st.Status.Terminal() {
				return n.execNodeFor(t)
			}
		}
		if t.Status == research.TaskReady || t.Status == research.TaskScheduled {
			return LabelNext
		}
	}
	return WaitLabel
}
