package graph

import (
	"context"
	"fmt"
	"math"
	"sort"

	"golang.org/x/sync/errgroup"

	"bloom-graph/src/domain"
)

// CoOccurrenceWeight вес ребра между узлами одного документа
const CoOccurrenceWeight = 0.5

// Config параметры построения графа знаний
type Config struct {
	TopK                int     `yaml:"top_k"`
	MinScore            float64 `yaml:"min_score"`
	MaxEdges            int     `yaml:"max_edges"`
	IncludeCooccurrence bool    `yaml:"include_cooccurrence"`
	// Concurrency число параллельных запросов соседей; <= 1 выполняет их последовательно
	Concurrency int `yaml:"concurrency"`
}

// DefaultConfig значения по умолчанию
func DefaultConfig() Config {
	return Config{
		TopK:                5,
		MinScore:            0.2,
		MaxEdges:            200,
		IncludeCooccurrence: true,
		Concurrency:         1,
	}
}

// Validate проверяет диапазоны параметров
func (c Config) Validate() error {
	if c.TopK < 1 {
		return domain.NewConfigError("top_k должен быть >= 1: %d", c.TopK)
	}
	if c.MinScore < 0 || c.MinScore > 1 {
		return domain.NewConfigError("min_score вне диапазона [0,1]: %v", c.MinScore)
	}
	if c.MaxEdges < 1 {
		return domain.NewConfigError("max_edges должен быть >= 1: %d", c.MaxEdges)
	}
	return nil
}

// Builder собирает граф знаний из сходства эмбеддингов и совместной встречаемости
type Builder struct {
	searcher domain.NeighborSearcher
}

// NewBuilder создает построитель с источником ближайших соседей
func NewBuilder(searcher domain.NeighborSearcher) *Builder {
	return &Builder{searcher: searcher}
}

// Build строит граф по узлам, упорядоченным по возрастанию ID.
//
// Ребра сходства добавляются, пока их число не достигнет MaxEdges; проверка
// выполняется после каждого соседа, поэтому отсечение жадное по узлам, а не по весу.
// Итоговый список ребер обрезается по порядку вставки, а не по весу.
func (b *Builder) Build(ctx context.Context, nodes []domain.KnowledgeNode, cfg Config, filter domain.NodeFilter) (domain.Graph, error) {
	if err := cfg.Validate(); err != nil {
		return domain.Graph{}, err
	}

	edges := NewEdgeSet()
	if b.searcher != nil {
		if err := b.addSimilarityEdges(ctx, edges, nodes, cfg, filter); err != nil {
			return domain.Graph{}, err
		}
	}
	if cfg.IncludeCooccurrence && edges.Len() < cfg.MaxEdges {
		addCooccurrenceEdges(edges, nodes, cfg.MaxEdges)
	}

	present := make(map[int64]struct{}, len(nodes))
	for _, n := range nodes {
		present[n.ID] = struct{}{}
	}
	all := edges.Edges()
	if len(all) > cfg.MaxEdges {
		all = all[:cfg.MaxEdges]
	}
	out := make([]domain.Edge, 0, len(all))
	for _, e := range all {
		_, okA := present[e.Source]
		_, okB := present[e.Target]
		if okA && okB {
			out = append(out, e)
		}
	}

	graphNodes := make([]domain.KnowledgeNode, len(nodes))
	copy(graphNodes, nodes)
	return domain.Graph{Nodes: graphNodes, Edges: out}, nil
}

func (b *Builder) addSimilarityEdges(ctx context.Context, edges *EdgeSet, nodes []domain.KnowledgeNode, cfg Config, filter domain.NodeFilter) error {
	query := func(ctx context.Context, n domain.KnowledgeNode) ([]domain.Neighbor, error) {
		f := filter
		f.ExcludeID = n.ID
		neighbors, err := b.searcher.NearestNeighbors(ctx, n.Embedding, f, cfg.TopK)
		if err != nil {
			return nil, fmt.Errorf("ошибка поиска соседей узла %d: %w", n.ID, err)
		}
		return neighbors, nil
	}

	var prefetched [][]domain.Neighbor
	if cfg.Concurrency > 1 {
		prefetched = make([][]domain.Neighbor, len(nodes))
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(cfg.Concurrency)
		for i := range nodes {
			i := i
			if len(nodes[i].Embedding) == 0 {
				continue
			}
			g.Go(func() error {
				res, err := query(gctx, nodes[i])
				if err != nil {
					return err
				}
				prefetched[i] = res
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return err
		}
	}

	// вставка всегда идет в одном потоке в порядке узлов
	for i, n := range nodes {
		if len(n.Embedding) == 0 {
			continue
		}
		var neighbors []domain.Neighbor
		if prefetched != nil {
			neighbors = prefetched[i]
		} else {
			res, err := query(ctx, n)
			if err != nil {
				return err
			}
			neighbors = res
		}
		for _, nb := range neighbors {
			score := 1.0 - nb.Distance
			if score < cfg.MinScore {
				continue
			}
			edges.Add(n.ID, nb.ID, roundTo(score, 4), domain.EdgeSimilarity)
			if edges.Len() >= cfg.MaxEdges {
				break
			}
		}
		if edges.Len() >= cfg.MaxEdges {
			break
		}
	}
	return nil
}

func addCooccurrenceEdges(edges *EdgeSet, nodes []domain.KnowledgeNode, maxEdges int) {
	byDoc := make(map[int64][]int64)
	var docOrder []int64
	for _, n := range nodes {
		if n.DocumentID == nil {
			continue
		}
		doc := *n.DocumentID
		if _, ok := byDoc[doc]; !ok {
			docOrder = append(docOrder, doc)
		}
		byDoc[doc] = append(byDoc[doc], n.ID)
	}
	for _, doc := range docOrder {
		ids := byDoc[doc]
		sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
		for i := 0; i+1 < len(ids); i++ {
			edges.Add(ids[i], ids[i+1], CoOccurrenceWeight, domain.EdgeCoOccurrence)
			if edges.Len() >= maxEdges {
				return
			}
		}
	}
}

func roundTo(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}
