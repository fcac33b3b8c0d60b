package infrastructure

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"bloom-graph/src/domain"
)

// UpsertAnnotation сохраняет аннотацию; повторная запись пары (chunk, level) увеличивает версию
func (r *SQLiteRepository) UpsertAnnotation(ctx context.Context, a domain.Annotation) (domain.Annotation, error) {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO annotations (chunk_id, level, label, rationale, score, rubric_id, provider, version)
		VALUES (?, ?, ?, ?, ?, ?, ?, 1)
		ON CONFLICT(chunk_id, level) DO UPDATE SET
			label = excluded.label,
			rationale = excluded.rationale,
			score = excluded.score,
			rubric_id = excluded.rubric_id,
			provider = excluded.provider,
			version = annotations.version + 1,
			created_at = CURRENT_TIMESTAMP`,
		a.ChunkID, a.Level, a.Label, a.Rationale, a.Score, a.RubricID, a.Provider)
	if err != nil {
		return domain.Annotation{}, fmt.Errorf("не удалось сохранить аннотацию: %w", err)
	}
	var saved domain.Annotation
	err = r.db.GetContext(ctx, &saved, `
		SELECT id, chunk_id, level, label, rationale, score, rubric_id, version, provider, created_at
		FROM annotations WHERE chunk_id = ? AND level = ?`, a.ChunkID, a.Level)
	if err != nil {
		return domain.Annotation{}, fmt.Errorf("не удалось прочитать аннотацию: %w", err)
	}
	return saved, nil
}

// ListChunkAnnotations возвращает аннотации фрагмента
func (r *SQLiteRepository) ListChunkAnnotations(ctx context.Context, chunkID int64) ([]domain.Annotation, error) {
	var out []domain.Annotation
	err := r.db.SelectContext(ctx, &out, `
		SELECT id, chunk_id, level, label, rationale, score, rubric_id, version, provider, created_at
		FROM annotations WHERE chunk_id = ? ORDER BY id`, chunkID)
	if err != nil {
		return nil, fmt.Errorf("ошибка выполнения запроса: %w", err)
	}
	return out, nil
}

// ListDatasetAnnotations возвращает аннотации всех фрагментов набора
func (r *SQLiteRepository) ListDatasetAnnotations(ctx context.Context, datasetID int64) ([]domain.Annotation, error) {
	var out []domain.Annotation
	err := r.db.SelectContext(ctx, &out, `
		SELECT a.id, a.chunk_id, a.level, a.label, a.rationale, a.score, a.rubric_id, a.version, a.provider, a.created_at
		FROM annotations a
		JOIN chunks c ON c.id = a.chunk_id
		JOIN documents d ON d.id = c.document_id
		WHERE d.dataset_id = ?
		ORDER BY a.id`, datasetID)
	if err != nil {
		return nil, fmt.Errorf("ошибка выполнения запроса: %w", err)
	}
	return out, nil
}

// CountChunks возвращает число фрагментов набора и число различных аннотированных фрагментов
func (r *SQLiteRepository) CountChunks(ctx context.Context, datasetID int64) (int, int, error) {
	var total, annotated int
	err := r.db.GetContext(ctx, &total, `
		SELECT COUNT(*) FROM chunks c JOIN documents d ON d.id = c.document_id
		WHERE d.dataset_id = ?`, datasetID)
	if err != nil {
		return 0, 0, fmt.Errorf("ошибка подсчета фрагментов: %w", err)
	}
	err = r.db.GetContext(ctx, &annotated, `
		SELECT COUNT(DISTINCT a.chunk_id) FROM annotations a
		JOIN chunks c ON c.id = a.chunk_id
		JOIN documents d ON d.id = c.document_id
		WHERE d.dataset_id = ?`, datasetID)
	if err != nil {
		return 0, 0, fmt.Errorf("ошибка подсчета аннотированных фрагментов: %w", err)
	}
	return total, annotated, nil
}

// SaveRubric сохраняет новую версию рубрики уровня; предыдущие активные версии деактивируются
func (r *SQLiteRepository) SaveRubric(ctx context.Context, rb domain.Rubric) (domain.Rubric, error) {
	if !rb.Level.Valid() {
		return domain.Rubric{}, domain.NewValidationError("неизвестный уровень рубрики: %q", rb.Level)
	}
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return domain.Rubric{}, fmt.Errorf("не удалось начать транзакцию: %w", err)
	}
	defer tx.Rollback()

	var version int
	if err := tx.GetContext(ctx, &version, `SELECT COALESCE(MAX(version), 0) FROM rubrics WHERE level = ?`, rb.Level); err != nil {
		return domain.Rubric{}, fmt.Errorf("ошибка чтения версии рубрики: %w", err)
	}
	if rb.IsActive {
		if _, err := tx.ExecContext(ctx, `UPDATE rubrics SET is_active = 0 WHERE level = ?`, rb.Level); err != nil {
			return domain.Rubric{}, fmt.Errorf("ошибка деактивации рубрик: %w", err)
		}
	}
	rb.Version = version + 1
	res, err := tx.ExecContext(ctx,
		`INSERT INTO rubrics (level, name, description, is_active, version) VALUES (?, ?, ?, ?, ?)`,
		rb.Level, rb.Name, rb.Description, rb.IsActive, rb.Version)
	if err != nil {
		return domain.Rubric{}, fmt.Errorf("не удалось сохранить рубрику: %w", err)
	}
	if rb.ID, err = res.LastInsertId(); err != nil {
		return domain.Rubric{}, fmt.Errorf("не удалось получить ID рубрики: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return domain.Rubric{}, fmt.Errorf("не удалось зафиксировать транзакцию: %w", err)
	}
	return rb, nil
}

// ActiveRubric возвращает активную рубрику уровня с наибольшей версией
func (r *SQLiteRepository) ActiveRubric(ctx context.Context, level domain.Level) (domain.Rubric, error) {
	var rb domain.Rubric
	err := r.db.GetContext(ctx, &rb, `
		SELECT id, level, name, description, is_active, version FROM rubrics
		WHERE level = ? AND is_active = 1
		ORDER BY version DESC LIMIT 1`, level)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Rubric{}, fmt.Errorf("рубрика уровня %s: %w", level, domain.ErrNotFound)
	}
	if err != nil {
		return domain.Rubric{}, fmt.Errorf("ошибка выполнения запроса: %w", err)
	}
	return rb, nil
}

type nodeRow struct {
	ID             int64          `db:"id"`
	DatasetID      int64          `db:"dataset_id"`
	DocumentID     sql.NullInt64  `db:"document_id"`
	ChunkID        sql.NullInt64  `db:"chunk_id"`
	Title          string         `db:"title"`
	TitleKey       string         `db:"title_key"`
	ContextText    string         `db:"context_text"`
	Frequency      int            `db:"frequency"`
	NodeType       string         `db:"node_type"`
	ProbVector     string         `db:"prob_vector"`
	TopLevels      string         `db:"top_levels"`
	Embedding      sql.NullString `db:"embedding"`
	EmbeddingModel string         `db:"embedding_model"`
	EmbeddingDim   int            `db:"embedding_dim"`
	Version        int            `db:"version"`
}

const nodeColumns = `id, dataset_id, document_id, chunk_id, title, title_key, context_text, frequency,
	node_type, prob_vector, top_levels, embedding, embedding_model, embedding_dim, version`

func (row nodeRow) toDomain() (domain.KnowledgeNode, error) {
	n := domain.KnowledgeNode{
		ID:             row.ID,
		DatasetID:      row.DatasetID,
		Title:          row.Title,
		Key:            row.TitleKey,
		ContextSnippet: row.ContextText,
		Frequency:      row.Frequency,
		NodeType:       domain.NodeType(row.NodeType),
		EmbeddingModel: row.EmbeddingModel,
		EmbeddingDim:   row.EmbeddingDim,
		Version:        row.Version,
	}
	if row.DocumentID.Valid {
		v := row.DocumentID.Int64
		n.DocumentID = &v
	}
	if row.ChunkID.Valid {
		v := row.ChunkID.Int64
		n.ChunkID = &v
	}
	if err := json.Unmarshal([]byte(row.ProbVector), &n.ProbVector); err != nil {
		return n, fmt.Errorf("поврежден prob_vector узла %d: %w", row.ID, err)
	}
	if err := json.Unmarshal([]byte(row.TopLevels), &n.TopLevels); err != nil {
		return n, fmt.Errorf("поврежден top_levels узла %d: %w", row.ID, err)
	}
	if row.Embedding.Valid && row.Embedding.String != "" {
		if err := json.Unmarshal([]byte(row.Embedding.String), &n.Embedding); err != nil {
			return n, fmt.Errorf("поврежден embedding узла %d: %w", row.ID, err)
		}
	}
	return n, nil
}

// UpsertNodes сохраняет узлы; повторное сохранение того же ключа обновляет узел и увеличивает версию
func (r *SQLiteRepository) UpsertNodes(ctx context.Context, nodes []domain.KnowledgeNode) ([]domain.KnowledgeNode, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("не удалось начать транзакцию: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PreparexContext(ctx, `
		INSERT INTO knowledge_nodes (dataset_id, document_id, doc_key, chunk_id, title, title_key, context_text,
			frequency, node_type, prob_vector, top_levels, embedding, embedding_model, embedding_dim, version)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 1)
		ON CONFLICT(dataset_id, doc_key, title_key) DO UPDATE SET
			chunk_id = excluded.chunk_id,
			title = excluded.title,
			context_text = excluded.context_text,
			frequency = excluded.frequency,
			node_type = excluded.node_type,
			prob_vector = excluded.prob_vector,
			top_levels = excluded.top_levels,
			embedding = excluded.embedding,
			embedding_model = excluded.embedding_model,
			embedding_dim = excluded.embedding_dim,
			version = knowledge_nodes.version + 1`)
	if err != nil {
		return nil, fmt.Errorf("не удалось подготовить SQL для узла: %w", err)
	}
	defer stmt.Close()

	out := make([]domain.KnowledgeNode, 0, len(nodes))
	for _, n := range nodes {
		key := n.Key
		if key == "" {
			key = strings.ToLower(n.Title)
		}
		var docKey int64
		if n.DocumentID != nil {
			docKey = *n.DocumentID
		}
		prob, err := json.Marshal(n.ProbVector)
		if err != nil {
			return nil, fmt.Errorf("ошибка маршалинга prob_vector: %w", err)
		}
		top, err := json.Marshal(n.TopLevels)
		if err != nil {
			return nil, fmt.Errorf("ошибка маршалинга top_levels: %w", err)
		}
		var emb sql.NullString
		if len(n.Embedding) > 0 {
			raw, err := json.Marshal(n.Embedding)
			if err != nil {
				return nil, fmt.Errorf("ошибка маршалинга embedding: %w", err)
			}
			emb = sql.NullString{String: string(raw), Valid: true}
		}
		if _, err := stmt.ExecContext(ctx, n.DatasetID, n.DocumentID, docKey, n.ChunkID, n.Title, key,
			n.ContextSnippet, n.Frequency, string(n.NodeType), string(prob), string(top), emb,
			n.EmbeddingModel, n.EmbeddingDim); err != nil {
			return nil, fmt.Errorf("не удалось сохранить узел %q: %w", n.Title, err)
		}

		var row nodeRow
		if err := tx.GetContext(ctx, &row, `SELECT `+nodeColumns+` FROM knowledge_nodes
			WHERE dataset_id = ? AND doc_key = ? AND title_key = ?`, n.DatasetID, docKey, key); err != nil {
			return nil, fmt.Errorf("не удалось прочитать узел %q: %w", n.Title, err)
		}
		saved, err := row.toDomain()
		if err != nil {
			return nil, err
		}
		out = append(out, saved)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("не удалось зафиксировать транзакцию: %w", err)
	}
	return out, nil
}

// ListNodes возвращает узлы по фильтру в порядке возрастания ID
func (r *SQLiteRepository) ListNodes(ctx context.Context, filter domain.NodeFilter, onlyEmbedded bool, limit int) ([]domain.KnowledgeNode, error) {
	var (
		conds []string
		args  []any
	)
	if filter.DatasetID != nil {
		conds = append(conds, "dataset_id = ?")
		args = append(args, *filter.DatasetID)
	}
	if filter.DocumentID != nil {
		conds = append(conds, "document_id = ?")
		args = append(args, *filter.DocumentID)
	}
	if filter.EmbeddingModel != nil {
		conds = append(conds, "embedding_model = ?")
		args = append(args, *filter.EmbeddingModel)
	}
	if filter.ExcludeID != 0 {
		conds = append(conds, "id <> ?")
		args = append(args, filter.ExcludeID)
	}
	if onlyEmbedded {
		conds = append(conds, "embedding IS NOT NULL")
	}

	query := `SELECT ` + nodeColumns + ` FROM knowledge_nodes`
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY id"
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	var rows []nodeRow
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("ошибка выполнения запроса: %w", err)
	}
	out := make([]domain.KnowledgeNode, 0, len(rows))
	for _, row := range rows {
		n, err := row.toDomain()
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, nil
}

type jobRow struct {
	ID         uuid.UUID    `db:"id"`
	Type       string       `db:"type"`
	Status     string       `db:"status"`
	Payload    string       `db:"payload"`
	Error      string       `db:"error"`
	CreatedAt  time.Time    `db:"created_at"`
	FinishedAt sql.NullTime `db:"finished_at"`
}

// SaveJob создает или обновляет запись о задаче
func (r *SQLiteRepository) SaveJob(ctx context.Context, job domain.Job) error {
	payload := job.Payload
	if payload == nil {
		payload = map[string]any{}
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("ошибка маршалинга payload: %w", err)
	}
	if job.CreatedAt.IsZero() {
		job.CreatedAt = time.Now().UTC()
	}
	var datasetID sql.NullInt64
	if id, ok := job.DatasetID(); ok {
		datasetID = sql.NullInt64{Int64: id, Valid: true}
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO jobs (id, type, dataset_id, status, payload, error, created_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			dataset_id = excluded.dataset_id,
			payload = excluded.payload,
			error = excluded.error,
			finished_at = excluded.finished_at`,
		job.ID.String(), string(job.Type), datasetID, string(job.Status), string(raw), job.Error, job.CreatedAt, job.FinishedAt)
	if err != nil {
		return fmt.Errorf("не удалось сохранить задачу %s: %w", job.ID, err)
	}
	return nil
}

// GetJob возвращает задачу по ID
func (r *SQLiteRepository) GetJob(ctx context.Context, id uuid.UUID) (domain.Job, error) {
	var row jobRow
	err := r.db.GetContext(ctx, &row,
		`SELECT id, type, status, payload, error, created_at, finished_at FROM jobs WHERE id = ?`, id.String())
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Job{}, fmt.Errorf("задача %s: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return domain.Job{}, fmt.Errorf("ошибка выполнения запроса: %w", err)
	}
	return row.toDomain()
}

func (row jobRow) toDomain() (domain.Job, error) {
	id := row.ID
	job := domain.Job{
		ID:        row.ID,
		Type:      domain.JobType(row.Type),
		Status:    domain.JobStatus(row.Status),
		Error:     row.Error,
		CreatedAt: row.CreatedAt,
	}
	if err := json.Unmarshal([]byte(row.Payload), &job.Payload); err != nil {
		return domain.Job{}, fmt.Errorf("поврежден payload задачи %s: %w", id, err)
	}
	if row.FinishedAt.Valid {
		t := row.FinishedAt.Time
		job.FinishedAt = &t
	}
	return job, nil
}

type chunkEmbeddingRow struct {
	ChunkID   int64  `db:"chunk_id"`
	DatasetID int64  `db:"dataset_id"`
	Model     string `db:"model"`
	Dim       int    `db:"dim"`
	Vec       string `db:"vec"`
}

// UpsertChunkEmbeddings сохраняет векторы фрагментов в одной транзакции
func (r *SQLiteRepository) UpsertChunkEmbeddings(ctx context.Context, embs []domain.ChunkEmbedding) error {
	if len(embs) == 0 {
		return nil
	}
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("не удалось начать транзакцию: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PreparexContext(ctx, `
		INSERT INTO chunk_embeddings (chunk_id, model, dim, vec) VALUES (?, ?, ?, ?)
		ON CONFLICT(chunk_id, model) DO UPDATE SET dim = excluded.dim, vec = excluded.vec`)
	if err != nil {
		return fmt.Errorf("не удалось подготовить SQL для вектора: %w", err)
	}
	defer stmt.Close()

	for _, e := range embs {
		if len(e.Vector) == 0 {
			return domain.NewValidationError("пустой вектор фрагмента %d", e.ChunkID)
		}
		raw, err := json.Marshal(e.Vector)
		if err != nil {
			return fmt.Errorf("ошибка маршалинга вектора: %w", err)
		}
		if _, err := stmt.ExecContext(ctx, e.ChunkID, e.Model, len(e.Vector), string(raw)); err != nil {
			return fmt.Errorf("не удалось сохранить вектор фрагмента %d: %w", e.ChunkID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("не удалось зафиксировать транзакцию: %w", err)
	}
	return nil
}

// ListChunkEmbeddings возвращает векторы модели в порядке ID фрагментов
func (r *SQLiteRepository) ListChunkEmbeddings(ctx context.Context, datasetID *int64, model string) ([]domain.ChunkEmbedding, error) {
	query := `
		SELECT e.chunk_id, d.dataset_id, e.model, e.dim, e.vec
		FROM chunk_embeddings e
		JOIN chunks c ON c.id = e.chunk_id
		JOIN documents d ON d.id = c.document_id
		WHERE e.model = ?`
	args := []any{model}
	if datasetID != nil {
		query += ` AND d.dataset_id = ?`
		args = append(args, *datasetID)
	}
	query += ` ORDER BY e.chunk_id`

	var rows []chunkEmbeddingRow
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("ошибка выполнения запроса: %w", err)
	}
	out := make([]domain.ChunkEmbedding, 0, len(rows))
	for _, row := range rows {
		e := domain.ChunkEmbedding{ChunkID: row.ChunkID, DatasetID: row.DatasetID, Model: row.Model, Dim: row.Dim}
		if err := json.Unmarshal([]byte(row.Vec), &e.Vector); err != nil {
			return nil, fmt.Errorf("поврежден вектор фрагмента %d: %w", row.ChunkID, err)
		}
		out = append(out, e)
	}
	return out, nil
}

// ChunkHits возвращает текст фрагментов и заголовки их документов
func (r *SQLiteRepository) ChunkHits(ctx context.Context, ids []int64) (map[int64]domain.ChunkHit, error) {
	out := make(map[int64]domain.ChunkHit, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	query, args, err := sqlx.In(`
		SELECT c.id AS chunk_id, c.text, c.document_id, d.title AS document_title
		FROM chunks c JOIN documents d ON d.id = c.document_id
		WHERE c.id IN (?)`, ids)
	if err != nil {
		return nil, fmt.Errorf("ошибка построения запроса: %w", err)
	}
	var rows []struct {
		ChunkID       int64  `db:"chunk_id"`
		Text          string `db:"text"`
		DocumentID    int64  `db:"document_id"`
		DocumentTitle string `db:"document_title"`
	}
	if err := r.db.SelectContext(ctx, &rows, r.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("ошибка выполнения запроса: %w", err)
	}
	for _, row := range rows {
		out[row.ChunkID] = domain.ChunkHit{
			ChunkID:       row.ChunkID,
			Text:          row.Text,
			DocumentID:    row.DocumentID,
			DocumentTitle: row.DocumentTitle,
		}
	}
	return out, nil
}

// DatasetStatus возвращает число документов, фрагментов, векторов, аннотаций и последнюю задачу набора
func (r *SQLiteRepository) DatasetStatus(ctx context.Context, datasetID int64) (domain.DatasetStatus, error) {
	var exists int
	err := r.db.GetContext(ctx, &exists, `SELECT COUNT(*) FROM datasets WHERE id = ?`, datasetID)
	if err != nil {
		return domain.DatasetStatus{}, fmt.Errorf("ошибка выполнения запроса: %w", err)
	}
	if exists == 0 {
		return domain.DatasetStatus{}, fmt.Errorf("набор %d: %w", datasetID, domain.ErrNotFound)
	}

	st := domain.DatasetStatus{DatasetID: datasetID}
	err = r.db.QueryRowxContext(ctx, `
		SELECT
			(SELECT COUNT(*) FROM documents WHERE dataset_id = ?),
			(SELECT COUNT(*) FROM chunks c JOIN documents d ON d.id = c.document_id WHERE d.dataset_id = ?),
			(SELECT COUNT(*) FROM chunk_embeddings e JOIN chunks c ON c.id = e.chunk_id
				JOIN documents d ON d.id = c.document_id WHERE d.dataset_id = ?),
			(SELECT COUNT(*) FROM annotations a JOIN chunks c ON c.id = a.chunk_id
				JOIN documents d ON d.id = c.document_id WHERE d.dataset_id = ?)`,
		datasetID, datasetID, datasetID, datasetID).Scan(&st.Documents, &st.Chunks, &st.Embeddings, &st.Annotations)
	if err != nil {
		return domain.DatasetStatus{}, fmt.Errorf("ошибка подсчета набора %d: %w", datasetID, err)
	}

	var row jobRow
	err = r.db.GetContext(ctx, &row, `
		SELECT id, type, status, payload, error, created_at, finished_at
		FROM jobs WHERE dataset_id = ? ORDER BY created_at DESC LIMIT 1`, datasetID)
	if errors.Is(err, sql.ErrNoRows) {
		return st, nil
	}
	if err != nil {
		return domain.DatasetStatus{}, fmt.Errorf("ошибка выполнения запроса: %w", err)
	}
	job, err := row.toDomain()
	if err != nil {
		return domain.DatasetStatus{}, err
	}
	st.LastJob = &job
	return st, nil
}
