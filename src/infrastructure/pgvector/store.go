package pgvector

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgv "github.com/pgvector/pgvector-go"

	"bloom-graph/src/domain"
	"bloom-graph/src/infrastructure/logger"
)

const (
	tableName      = "knowledge_node_vectors"
	chunkTableName = "chunk_vectors"
)

// Store векторы узлов и фрагментов в PostgreSQL с расширением pgvector; поиск по L2 (оператор <->)
type Store struct {
	pool *pgxpool.Pool
	log  *logger.Logger
}

// New подключается к PostgreSQL по DSN
func New(ctx context.Context, dsn string, log *logger.Logger) (*Store, error) {
	if log == nil {
		log = logger.NewNop()
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("pgvector: не удалось создать пул: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pgvector: нет соединения: %w", err)
	}
	return &Store{pool: pool, log: log.With("client", "pgvector")}, nil
}

// Close закрывает пул соединений
func (s *Store) Close() {
	s.pool.Close()
}

// EnsureSchema создает расширение, таблицы векторов размерности dim и индексы
func (s *Store) EnsureSchema(ctx context.Context, dim int) error {
	stmts := []string{
		`CREATE EXTENSION IF NOT EXISTS vector`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			node_id BIGINT PRIMARY KEY,
			dataset_id BIGINT NOT NULL,
			document_id BIGINT,
			embedding_model TEXT NOT NULL,
			vec vector(%d) NOT NULL
		)`, tableName, dim),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s_dataset_idx ON %s (dataset_id)`, tableName, tableName),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s_vec_idx ON %s USING ivfflat (vec vector_l2_ops)`, tableName, tableName),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			chunk_id BIGINT NOT NULL,
			dataset_id BIGINT NOT NULL,
			embedding_model TEXT NOT NULL,
			vec vector(%d) NOT NULL,
			PRIMARY KEY (chunk_id, embedding_model)
		)`, chunkTableName, dim),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s_dataset_idx ON %s (dataset_id)`, chunkTableName, chunkTableName),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s_vec_idx ON %s USING ivfflat (vec vector_l2_ops)`, chunkTableName, chunkTableName),
	}
	for _, q := range stmts {
		if _, err := s.pool.Exec(ctx, q); err != nil {
			return fmt.Errorf("pgvector: ошибка инициализации схемы: %w", err)
		}
	}
	return nil
}

// UpsertNodeVectors сохраняет векторы узлов с эмбеддингами одним пакетом
func (s *Store) UpsertNodeVectors(ctx context.Context, nodes []domain.KnowledgeNode) (int, error) {
	batch := &pgx.Batch{}
	for _, n := range nodes {
		if len(n.Embedding) == 0 {
			continue
		}
		batch.Queue(`
			INSERT INTO `+tableName+` (node_id, dataset_id, document_id, embedding_model, vec)
			VALUES ($1, $2, $3, $4, $5::vector)
			ON CONFLICT (node_id) DO UPDATE SET
				dataset_id = EXCLUDED.dataset_id,
				document_id = EXCLUDED.document_id,
				embedding_model = EXCLUDED.embedding_model,
				vec = EXCLUDED.vec`,
			n.ID, n.DatasetID, n.DocumentID, n.EmbeddingModel, pgv.NewVector(n.Embedding))
	}
	if batch.Len() == 0 {
		return 0, nil
	}
	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()
	for i := 0; i < batch.Len(); i++ {
		if _, err := br.Exec(); err != nil {
			return i, fmt.Errorf("pgvector: ошибка сохранения вектора: %w", err)
		}
	}
	s.log.Debug("векторы узлов сохранены", "count", batch.Len())
	return batch.Len(), nil
}

// NearestNeighbors возвращает до k ближайших узлов по евклидову расстоянию
func (s *Store) NearestNeighbors(ctx context.Context, vector []float32, filter domain.NodeFilter, k int) ([]domain.Neighbor, error) {
	if k <= 0 || len(vector) == 0 {
		return nil, nil
	}
	query, args := neighborQuery(pgv.NewVector(vector), filter, k)
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("pgvector: ошибка поиска соседей: %w", err)
	}
	defer rows.Close()

	var out []domain.Neighbor
	for rows.Next() {
		var nb domain.Neighbor
		if err := rows.Scan(&nb.ID, &nb.Distance); err != nil {
			return nil, fmt.Errorf("pgvector: ошибка чтения строки: %w", err)
		}
		out = append(out, nb)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("pgvector: ошибка чтения результата: %w", err)
	}
	return out, nil
}

// neighborQuery строит запрос поиска соседей; vec всегда первый параметр
func neighborQuery(vec any, filter domain.NodeFilter, k int) (string, []any) {
	args := []any{vec}
	var conds []string
	add := func(cond string, v any) {
		args = append(args, v)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}
	if filter.DatasetID != nil {
		add("dataset_id = $%d", *filter.DatasetID)
	}
	if filter.DocumentID != nil {
		add("document_id = $%d", *filter.DocumentID)
	}
	if filter.EmbeddingModel != nil {
		add("embedding_model = $%d", *filter.EmbeddingModel)
	}
	if filter.ExcludeID != 0 {
		add("node_id <> $%d", filter.ExcludeID)
	}

	var b strings.Builder
	b.WriteString("SELECT node_id, vec <-> $1::vector AS distance FROM " + tableName)
	if len(conds) > 0 {
		b.WriteString(" WHERE " + strings.Join(conds, " AND "))
	}
	args = append(args, k)
	fmt.Fprintf(&b, " ORDER BY vec <-> $1::vector, node_id LIMIT $%d", len(args))
	return b.String(), args
}

// UpsertChunkVectors сохраняет векторы фрагментов одним пакетом
func (s *Store) UpsertChunkVectors(ctx context.Context, embs []domain.ChunkEmbedding) (int, error) {
	batch := &pgx.Batch{}
	for _, e := range embs {
		if len(e.Vector) == 0 {
			continue
		}
		batch.Queue(`
			INSERT INTO `+chunkTableName+` (chunk_id, dataset_id, embedding_model, vec)
			VALUES ($1, $2, $3, $4::vector)
			ON CONFLICT (chunk_id, embedding_model) DO UPDATE SET
				dataset_id = EXCLUDED.dataset_id,
				vec = EXCLUDED.vec`,
			e.ChunkID, e.DatasetID, e.Model, pgv.NewVector(e.Vector))
	}
	if batch.Len() == 0 {
		return 0, nil
	}
	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()
	for i := 0; i < batch.Len(); i++ {
		if _, err := br.Exec(); err != nil {
			return i, fmt.Errorf("pgvector: ошибка сохранения вектора фрагмента: %w", err)
		}
	}
	s.log.Debug("векторы фрагментов сохранены", "count", batch.Len())
	return batch.Len(), nil
}

// NearestChunks возвращает до k ближайших фрагментов модели; datasetID nil означает все наборы
func (s *Store) NearestChunks(ctx context.Context, vector []float32, datasetID *int64, model string, k int) ([]domain.Neighbor, error) {
	if k <= 0 || len(vector) == 0 {
		return nil, nil
	}
	query, args := chunkQuery(pgv.NewVector(vector), datasetID, model, k)
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("pgvector: ошибка поиска фрагментов: %w", err)
	}
	defer rows.Close()

	var out []domain.Neighbor
	for rows.Next() {
		var nb domain.Neighbor
		if err := rows.Scan(&nb.ID, &nb.Distance); err != nil {
			return nil, fmt.Errorf("pgvector: ошибка чтения строки: %w", err)
		}
		out = append(out, nb)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("pgvector: ошибка чтения результата: %w", err)
	}
	return out, nil
}

func chunkQuery(vec any, datasetID *int64, model string, k int) (string, []any) {
	args := []any{vec, model}
	var b strings.Builder
	b.WriteString("SELECT chunk_id, vec <-> $1::vector AS distance FROM " + chunkTableName + " WHERE embedding_model = $2")
	if datasetID != nil {
		args = append(args, *datasetID)
		fmt.Fprintf(&b, " AND dataset_id = $%d", len(args))
	}
	args = append(args, k)
	fmt.Fprintf(&b, " ORDER BY vec <-> $1::vector, chunk_id LIMIT $%d", len(args))
	return b.String(), args
}
