package flow

import (
	"strings"

	"github.com/arclabs-io/researchgraph/graph"
	"github.com/arclabs-io/researchgraph/research"
)

// BuildGraph compiles the workflow graph for the handler set's variant.
//
// All variants share the spine
//
//	initialize → context_analyzer → objective_decomposer → task_analyzer →
//	<execution> → quality_evaluator → select_next_task → synthesis → finalize
//
// and differ only in the execution lane: the research variant always runs the
// research node, the analysis variant always runs processing, and the
// executor/multiagent variants carry both and route by task type.
func (n *Nodes) BuildGraph() (*graph.Compiled[research.State], error) {
	b := graph.NewBuilder[research.State]()

	b.AddNode(NodeInitialize, graph.NodeFunc[research.State](n.Initialize))
	b.AddNode(NodeContextAnalyzer, graph.NodeFunc[research.State](n.ContextAnalyzer))
	b.AddNode(NodeDecomposer, graph.NodeFunc[research.State](n.ObjectiveDecomposer))
	b.AddNode(NodeTaskAnalyzer, graph.NodeFunc[research.State](n.TaskAnalyzer))
	b.AddNode(NodeQualityEvaluator, graph.NodeFunc[research.State](n.QualityEvaluator))
	b.AddNode(NodeSelectNextTask, graph.NodeFunc[research.State](n.SelectNextTask))
	b.AddNode(NodeSynthesis, graph.NodeFunc[research.State](n.Synthesis))
	b.AddNode(NodeFinalize, graph.NodeFunc[research.State](n.Finalize))
	b.AddNode(NodeErrorHandler, graph.NodeFunc[research.State](n.ErrorHandler))

	evalTargets := map[string]string{
		LabelPass: NodeSelectNextTask,
		LabelFail: NodeTaskAnalyzer,
	}
	selectTargets := map[string]string{
		LabelNext:       NodeTaskAnalyzer,
		LabelSynthesize: NodeSynthesis,
		WaitLabel:       NodeSelectNextTask,
	}

	switch n.kind {
	case research.GraphResearch:
		b.AddNode(NodeResearch, graph.NodeFunc[research.State](n.Research))
		b.AddEdge(NodeTaskAnalyzer, NodeResearch)
		b.AddEdge(NodeResearch, NodeQualityEvaluator)
		evalTargets[NodeResearch] = NodeResearch
		selectTargets[NodeResearch] = NodeResearch
	case research.GraphAnalysis:
		b.AddNode(NodeProcessing, graph.NodeFunc[research.State](n.Processing))
		b.AddEdge(NodeTaskAnalyzer, NodeProcessing)
		b.AddEdge(NodeProcessing, NodeQualityEvaluator)
		evalTargets[NodeProcessing] = NodeProcessing
		selectTargets[NodeProcessing] = NodeProcessing
	default: // executor and multiagent
		b.AddNode(NodeResearch, graph.NodeFunc[research.State](n.Research))
		b.AddNode(NodeProcessing, graph.NodeFunc[research.State](n.Processing))
		b.AddConditionalEdge(NodeTaskAnalyzer, n.TaskTypeRouter, map[string]string{
			NodeResearch:   NodeResearch,
			NodeProcessing: NodeProcessing,
		}, NodeResearch)
		b.AddEdge(NodeResearch, NodeQualityEvaluator)
		b.AddEdge(NodeProcessing, NodeQualityEvaluator)
		evalTargets[NodeResearch] = NodeResearch
		evalTargets[NodeProcessing] = NodeProcessing
		selectTargets[NodeResearch] = NodeResearch
		selectTargets[NodeProcessing] = NodeProcessing
	}

	b.AddEdge(NodeInitialize, NodeContextAnalyzer)
	b.AddEdge(NodeContextAnalyzer, NodeDecomposer)
	b.AddEdge(NodeDecomposer, NodeTaskAnalyzer)
	b.AddConditionalEdge(NodeQualityEvaluator, n.EvaluatorRouter, evalTargets, "")
	b.AddConditionalEdge(NodeSelectNextTask, n.SelectRouter, selectTargets, "")
	b.AddEdge(NodeSynthesis, NodeFinalize)

	b.SetEntry(NodeInitialize)
	b.SetFinish(NodeFinalize)
	return b.Compile()
}

// DetectKind picks a graph variant from the query text. The heuristic is
// coarse on purpose: analysis-flavored verbs select the analysis lane,
// explicitly investigative queries the research lane, and anything mixed gets
// the executor graph with per-task routing. Deterministic for a given query.
func DetectKind(query string) research.GraphKind {
	q := strings.ToLower(query)
	analysis := containsAny(q, "analyze", "analyse", "analysis", "compare", "comparison", "evaluate", "review", "assess")
	investigative := containsAny(q, "research", "investigate", "find", "survey", "explore", "sources", "literature")
	switch {
	case analysis && !investigative:
		return research.GraphAnalysis
	case investigative && !analysis:
		return research.GraphResearch
	default:
		return research.GraphExecutor
	}
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
