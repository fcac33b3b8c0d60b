package graph

import (
	"context"
	"math"
	"sort"

	"bloom-graph/src/domain"
)

// MemoryIndex поиск ближайших соседей полным перебором в памяти.
// Расстояние евклидово, как оператор <-> в pgvector.
type MemoryIndex struct {
	nodes []domain.KnowledgeNode
}

// NewMemoryIndex индексирует узлы с эмбеддингами
func NewMemoryIndex(nodes []domain.KnowledgeNode) *MemoryIndex {
	idx := &MemoryIndex{}
	for _, n := range nodes {
		if len(n.Embedding) > 0 {
			idx.nodes = append(idx.nodes, n)
		}
	}
	return idx
}

// NearestNeighbors возвращает до k узлов, ближайших к vector и прошедших фильтр
func (m *MemoryIndex) NearestNeighbors(ctx context.Context, vector []float32, filter domain.NodeFilter, k int) ([]domain.Neighbor, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if k <= 0 || len(vector) == 0 {
		return nil, nil
	}
	var out []domain.Neighbor
	for _, n := range m.nodes {
		if n.ID == filter.ExcludeID || !matches(n, filter) || len(n.Embedding) != len(vector) {
			continue
		}
		out = append(out, domain.Neighbor{ID: n.ID, Distance: Euclidean(vector, n.Embedding)})
	}
	return rank(out, k), nil
}

// NearestChunks возвращает до k фрагментов, ближайших к vector; векторы другой размерности пропускаются
func NearestChunks(vector []float32, embs []domain.ChunkEmbedding, k int) []domain.Neighbor {
	if k <= 0 || len(vector) == 0 {
		return nil
	}
	var out []domain.Neighbor
	for _, e := range embs {
		if len(e.Vector) != len(vector) {
			continue
		}
		out = append(out, domain.Neighbor{ID: e.ChunkID, Distance: Euclidean(vector, e.Vector)})
	}
	return rank(out, k)
}

// rank сортирует по расстоянию, при равенстве по ID, и оставляет первые k
func rank(out []domain.Neighbor, k int) []domain.Neighbor {
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Distance == out[j].Distance {
			return out[i].ID < out[j].ID
		}
		return out[i].Distance < out[j].Distance
	})
	if len(out) > k {
		out = out[:k]
	}
	return out
}

func matches(n domain.KnowledgeNode, f domain.NodeFilter) bool {
	if f.DatasetID != nil && n.DatasetID != *f.DatasetID {
		return false
	}
	if f.DocumentID != nil && (n.DocumentID == nil || *n.DocumentID != *f.DocumentID) {
		return false
	}
	if f.EmbeddingModel != nil && n.EmbeddingModel != *f.EmbeddingModel {
		return false
	}
	return true
}

// Euclidean расстояние L2 между векторами одинаковой длины
func Euclidean(a, b []float32) float64 {
	var sum float64
	for i := range a {
		d := float64(a[i]) - float64(b[i])
		sum += d * d
	}
	return math.Sqrt(sum)
}
