package neo4jgraph

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"bloom-graph/src/domain"
	"bloom-graph/src/infrastructure/config"
	"bloom-graph/src/infrastructure/logger"
)

// Sink выгружает граф знаний в Neo4j: узлы :Concept и связи :RELATED с методом и весом
type Sink struct {
	driver   neo4j.DriverWithContext
	database string
	log      *logger.Logger
}

// New подключается к Neo4j; пустой URI возвращает nil без ошибки
func New(ctx context.Context, cfg config.Neo4jConfig, log *logger.Logger) (*Sink, error) {
	uri := strings.TrimSpace(cfg.URI)
	if uri == "" {
		return nil, nil
	}
	if log == nil {
		log = logger.NewNop()
	}
	driver, err := neo4j.NewDriverWithContext(uri, neo4j.BasicAuth(cfg.User, cfg.Password, ""), func(c *neo4j.Config) {
		c.SocketConnectTimeout = 10 * time.Second
	})
	if err != nil {
		return nil, fmt.Errorf("neo4j: не удалось создать драйвер: %w", err)
	}
	vctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := driver.VerifyConnectivity(vctx); err != nil {
		_ = driver.Close(ctx)
		return nil, fmt.Errorf("neo4j: нет соединения: %w", err)
	}
	return &Sink{driver: driver, database: cfg.Database, log: log.With("client", "neo4j")}, nil
}

// Close закрывает драйвер
func (s *Sink) Close(ctx context.Context) error {
	if s == nil || s.driver == nil {
		return nil
	}
	return s.driver.Close(ctx)
}

var schemaStatements = []string{
	`CREATE CONSTRAINT concept_id_unique IF NOT EXISTS FOR (c:Concept) REQUIRE c.id IS UNIQUE`,
	`CREATE INDEX concept_dataset IF NOT EXISTS FOR (c:Concept) ON (c.dataset_id)`,
}

// UpsertGraph сливает узлы и ребра графа набора данных
func (s *Sink) UpsertGraph(ctx context.Context, datasetID int64, g domain.Graph) error {
	if s == nil || s.driver == nil {
		return nil
	}
	syncedAt := time.Now().UTC().Format(time.RFC3339Nano)
	nodes := nodeRecords(datasetID, g.Nodes, syncedAt)
	edges := edgeRecords(g.Edges, syncedAt)

	session := s.driver.NewSession(ctx, neo4j.SessionConfig{
		AccessMode:   neo4j.AccessModeWrite,
		DatabaseName: s.database,
	})
	defer session.Close(ctx)

	for _, q := range schemaStatements {
		res, err := session.Run(ctx, q, nil)
		if err != nil {
			s.log.Warn("не удалось создать схему neo4j, продолжаем", "error", err)
			continue
		}
		_, _ = res.Consume(ctx)
	}

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		if len(nodes) > 0 {
			res, err := tx.Run(ctx, `
UNWIND $nodes AS n
MERGE (c:Concept {id: n.id})
SET c += n
`, map[string]any{"nodes": nodes})
			if err != nil {
				return nil, err
			}
			if _, err := res.Consume(ctx); err != nil {
				return nil, err
			}
		}
		if len(edges) > 0 {
			res, err := tx.Run(ctx, `
UNWIND $edges AS e
MATCH (a:Concept {id: e.source})
MATCH (b:Concept {id: e.target})
MERGE (a)-[r:RELATED {method: e.method}]->(b)
SET r.weight = e.weight,
    r.synced_at = e.synced_at
`, map[string]any{"edges": edges})
			if err != nil {
				return nil, err
			}
			if _, err := res.Consume(ctx); err != nil {
				return nil, err
			}
		}
		return nil, nil
	})
	if err != nil {
		return fmt.Errorf("neo4j: ошибка записи графа набора %d: %w", datasetID, err)
	}
	s.log.Info("граф выгружен в neo4j", "dataset_id", datasetID, "nodes", len(nodes), "edges", len(edges))
	return nil
}

// nodeRecords переводит узлы в параметры Cypher; типы ограничены поддерживаемыми драйвером
func nodeRecords(datasetID int64, nodes []domain.KnowledgeNode, syncedAt string) []map[string]any {
	out := make([]map[string]any, 0, len(nodes))
	for _, n := range nodes {
		top := make([]string, len(n.TopLevels))
		for i, l := range n.TopLevels {
			top[i] = string(l)
		}
		rec := map[string]any{
			"id":         n.ID,
			"dataset_id": datasetID,
			"title":      n.Title,
			"key":        n.Key,
			"node_type":  string(n.NodeType),
			"frequency":  int64(n.Frequency),
			"top_levels": top,
			"synced_at":  syncedAt,
		}
		if n.DocumentID != nil {
			rec["document_id"] = *n.DocumentID
		}
		for _, lp := range n.ProbVector.Ordered() {
			rec["p_"+string(lp.Level)] = lp.Prob
		}
		out = append(out, rec)
	}
	return out
}

func edgeRecords(edges []domain.Edge, syncedAt string) []map[string]any {
	out := make([]map[string]any, 0, len(edges))
	for _, e := range edges {
		out = append(out, map[string]any{
			"source":    e.Source,
			"target":    e.Target,
			"weight":    e.Weight,
			"method":    string(e.Method),
			"synced_at": syncedAt,
		})
	}
	return out
}
