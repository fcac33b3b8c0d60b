package graph

import "bloom-graph/src/domain"

type edgeKey struct {
	a, b   int64
	method domain.EdgeMethod
}

// EdgeSet упорядоченное множество ребер: не более одного ребра на
// неупорядоченную пару узлов и метод. Не потокобезопасно, пишет один владелец.
type EdgeSet struct {
	index map[edgeKey]int
	edges []domain.Edge
}

// NewEdgeSet создает пустое множество ребер
func NewEdgeSet() *EdgeSet {
	return &EdgeSet{index: make(map[edgeKey]int)}
}

// Add добавляет ребро между a и b. Петли отбрасываются; для существующей пары
// остается больший вес, позиция ребра в порядке вставки не меняется.
func (s *EdgeSet) Add(a, b int64, weight float64, method domain.EdgeMethod) bool {
	if a == b {
		return false
	}
	if a > b {
		a, b = b, a
	}
	key := edgeKey{a: a, b: b, method: method}
	if i, ok := s.index[key]; ok {
		if weight > s.edges[i].Weight {
			s.edges[i].Weight = weight
			return true
		}
		return false
	}
	s.index[key] = len(s.edges)
	s.edges = append(s.edges, domain.Edge{Source: a, Target: b, Weight: weight, Method: method})
	return true
}

// Len возвращает число ребер
func (s *EdgeSet) Len() int {
	return len(s.edges)
}

// Edges возвращает копию ребер в порядке вставки
func (s *EdgeSet) Edges() []domain.Edge {
	out := make([]domain.Edge, len(s.edges))
	copy(out, s.edges)
	return out
}
