package graph

import (
	"sort"

	"bloom-graph/src/core/chunking"
	"bloom-graph/src/domain"
)

// SequenceConfig параметры графа порядка чтения фрагментов
type SequenceConfig struct {
	IncludeSimilarity   bool    `yaml:"include_similarity"`
	SimilarityThreshold float64 `yaml:"similarity_threshold"`
	MaxEdges            int     `yaml:"max_edges"`
}

// DefaultSequenceConfig значения по умолчанию
func DefaultSequenceConfig() SequenceConfig {
	return SequenceConfig{IncludeSimilarity: false, SimilarityThreshold: 0.3, MaxEdges: 200}
}

// BuildChunkGraph соединяет соседние фрагменты последовательными ребрами с весом 1.0
// и при необходимости добавляет ребра текстового сходства (Jaccard) между всеми парами.
// В отличие от Builder.Build, ребра сходства здесь обрезаются по убыванию веса.
func BuildChunkGraph(chunks []string, cfg SequenceConfig) []domain.Edge {
	edges := make([]domain.Edge, 0, len(chunks))
	for i := 0; i+1 < len(chunks); i++ {
		edges = append(edges, domain.Edge{
			Source: int64(i),
			Target: int64(i + 1),
			Weight: 1.0,
			Method: domain.EdgeSequential,
		})
	}
	if !cfg.IncludeSimilarity || cfg.MaxEdges <= 0 {
		return edges
	}

	sets := make([]map[string]struct{}, len(chunks))
	for i, c := range chunks {
		sets[i] = chunking.TokenSet(c)
	}
	var similar []domain.Edge
	for i := 0; i < len(chunks); i++ {
		for j := i + 1; j < len(chunks); j++ {
			w := roundTo(chunking.Jaccard(sets[i], sets[j]), 4)
			if w <= 0 || w < cfg.SimilarityThreshold {
				continue
			}
			similar = append(similar, domain.Edge{
				Source: int64(i),
				Target: int64(j),
				Weight: w,
				Method: domain.EdgeSimilarity,
			})
		}
	}
	sort.SliceStable(similar, func(a, b int) bool {
		return similar[a].Weight > similar[b].Weight
	})
	if len(similar) > cfg.MaxEdges {
		similar = similar[:cfg.MaxEdges]
	}
	return append(edges, similar...)
}
