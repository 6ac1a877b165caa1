package flow

// progressWeights assigns each stage its share of the 0-100 streamed
// progress. The weights sum to 100 for a run that touches every stage;
// Progress clamps variants that skip one.
var progressWeights = map[string]int{
	NodeContextAnalyzer:  5,
	NodeDecomposer:       10,
	NodeTaskAnalyzer:     15,
	NodeResearch:         30,
	NodeQualityEvaluator: 10,
	NodeProcessing:       20,
	NodeSynthesis:        10,
}

// Progress computes the streamed progress percentage from the visited node
// list. Each weighted stage counts once no matter how many times the graph
// looped through it; finalize forces 100.
func Progress(visited []string) int {
	seen := make(map[string]bool, len(visited))
	total := 0
	for _, node := range visited {
		if node == NodeFinalize {
			return 100
		}
		if seen[node] {
			continue
		}
		seen[node] = true
		total += progressWeights[node]
	}
	if total > 100 {
		total = 100
	}
	return total
}
