package flow

import (
	"testing"

	"github.com/arclabs-io/researchgraph/research"
	"github.com/arclabs-io/researchgraph/store"
)

func TestBuildGraph_AllVariantsCompile(t *testing.T) {
	kinds := []research.GraphKind{
		research.GraphResearch,
		research.GraphAnalysis,
		research.GraphExecutor,
		research.GraphMultiAgent,
	}
	for _, kind := range kinds {
		t.Run(string(kind), func(t *testing.T) {
			n := newTestNodes(t, kind, store.NewMemoryStore(), chat())
			g, err := n.BuildGraph()
			if err != nil {
				t.Fatalf("BuildGraph(%s) failed: %v", kind, err)
			}
			if g.Entry() != NodeInitialize {
				t.Errorf("entry = %q, want %q", g.Entry(), NodeInitialize)
			}
			if g.Finish() != NodeFinalize {
				t.Errorf("finish = %q, want %q", g.Finish(), NodeFinalize)
			}
			if !g.Has(NodeErrorHandler) {
				t.Error("error handler node missing")
			}
		})
	}
}

func TestBuildGraph_VariantLanes(t *testing.T) {
	st := store.NewMemoryStore()

	g, err := newTestNodes(t, research.GraphResearch, st, chat()).BuildGraph()
	if err != nil {
		t.Fatalf("research variant: %v", err)
	}
	if g.Has(NodeProcessing) {
		t.Error("research variant should not carry the processing node")
	}

	g, err = newTestNodes(t, research.GraphAnalysis, st, chat()).BuildGraph()
	if err != nil {
		t.Fatalf("analysis variant: %v", err)
	}
	if g.Has(NodeResearch) {
		t.Error("analysis variant should not carry the research node")
	}

	g, err = newTestNodes(t, research.GraphExecutor, st, chat()).BuildGraph()
	if err != nil {
		t.Fatalf("executor variant: %v", err)
	}
	if !g.Has(NodeResearch) || !g.Has(NodeProcessing) {
		t.Error("executor variant should carry both execution nodes")
	}
}

func TestDetectKind(t *testing.T) {
	cases := []struct {
		query string
		want  research.GraphKind
	}{
		{"Compare the two caching strategies and evaluate trade-offs", research.GraphAnalysis},
		{"Research the history of distributed consensus protocols", research.GraphResearch},
		{"Research and then analyze the market for vector databases", research.GraphExecutor},
		{"Build me a summary", research.GraphExecutor},
	}
	for _, tc := range cases {
		if got := DetectKind(tc.query); got != tc.want {
			t.Errorf("DetectKind(%q) = %s, want %s", tc.query, got, tc.want)
		}
	}
}

func TestDetectKind_Deterministic(t *testing.T) {
	const q = "investigate and compare approaches"
	first := DetectKind(q)
	for i := 0; i < 5; i++ {
		if got := DetectKind(q); got != first {
			t.Fatalf("DetectKind not deterministic: %s then %s", first, got)
		}
	}
}

func TestProgress(t *testing.T) {
	if got := Progress(nil); got != 0 {
		t.Errorf("empty progress = %d, want 0", got)
	}

	visited := []string{NodeInitialize, NodeContextAnalyzer, NodeDecomposer}
	if got := Progress(visited); got != 15 {
		t.Errorf("progress = %d, want 15", got)
	}

	// Looping through a node does not double-count its weight.
	visited = append(visited, NodeTaskAnalyzer, NodeResearch, NodeQualityEvaluator, NodeResearch, NodeQualityEvaluator)
	if got := Progress(visited); got != 70 {
		t.Errorf("progress after loop = %d, want 70", got)
	}

	visited = append(visited, NodeSynthesis)
	if got := Progress(visited); got != 80 {
		t.Errorf("progress with synthesis = %d, want 80", got)
	}

	visited = append(visited, NodeFinalize)
	if got := Progress(visited); got != 100 {
		t.Errorf("finalized progress = %d, want 100", got)
	}

	// An executor run that touched both lanes clamps at 100.
	all := []string{NodeContextAnalyzer, NodeDecomposer, NodeTaskAnalyzer,
		NodeResearch, NodeProcessing, NodeQualityEvaluator, NodeSynthesis}
	if got := Progress(all); got != 100 {
		t.Errorf("clamped progress = %d, want 100", got)
	}
}
