package domain

// Retrieval strategy labels. Used as map keys for weights and as
// SearchResult.Strategies entries.
const (
	StrategyLocal    = "local"
	StrategyKeyword  = "keyword"
	StrategySemantic = "semantic"
	StrategyGraph    = "graph"
)

// SearchResult is one fused retrieval hit. Score is the combined
// rank-fusion score and is the ranking key; RawScore is the best raw
// strategy score across merged duplicates, kept for display.
type SearchResult struct {
	ID         string            `json:"id,omitempty"`
	Content    string            `json:"content"`
	Source     Tier              `json:"source"`
	RawScore   float64           `json:"raw_score"`
	Score      float64           `json:"score"`
	Strategies []string          `json:"strategies"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

// StrategyWeights holds the relative weight of each retrieval strategy.
type StrategyWeights struct {
	Local    float64 `json:"local"`
	Keyword  float64 `json:"keyword"`
	Semantic float64 `json:"semantic"`
	Graph    float64 `json:"graph"`
}

// Normalized returns weights scaled to sum to 1. Negative weights are
// treated as zero; an all-zero set becomes equal weights.
func (w StrategyWeights) Normalized() StrategyWeights {
	clamp := func(v float64) float64 {
		if v < 0 {
			return 0
		}
		return v
	}
	local, keyword, semantic, graph := clamp(w.Local), clamp(w.Keyword), clamp(w.Semantic), clamp(w.Graph)

	total := local + keyword + semantic + graph
	if total == 0 {
		return StrategyWeights{Local: 0.25, Keyword: 0.25, Semantic: 0.25, Graph: 0.25}
	}
	return StrategyWeights{
		Local:    local / total,
		Keyword:  keyword / total,
		Semantic: semantic / total,
		Graph:    graph / total,
	}
}

func (w StrategyWeights) For(strategy string) float64 {
	switch strategy {
	case StrategyLocal:
		return w.Local
	case StrategyKeyword:
		return w.Keyword
	case StrategySemantic:
		return w.Semantic
	case StrategyGraph:
		return w.Graph
	}
	return 0
}
