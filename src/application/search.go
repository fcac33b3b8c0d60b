package application

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"bloom-graph/src/core/graph"
	"bloom-graph/src/domain"
)

const (
	// DefaultTopK число результатов поиска по умолчанию
	DefaultTopK = 5
	// embedBatchSize размер пакета запроса к сервису эмбеддингов
	embedBatchSize = 64
)

// EmbedReport итог расчета эмбеддингов фрагментов
type EmbedReport struct {
	JobID     uuid.UUID `json:"job_id"`
	DatasetID int64     `json:"dataset_id"`
	Model     string    `json:"model"`
	Chunks    int       `json:"chunks"`
	Vectors   int       `json:"vectors"`
}

// IndexEmbeddings вычисляет эмбеддинги всех фрагментов набора пакетами и сохраняет их
func (s *BloomService) IndexEmbeddings(ctx context.Context, datasetID int64) (EmbedReport, error) {
	if s.embedder == nil || s.chunks == nil {
		return EmbedReport{}, domain.NewConfigError("не задан источник или хранилище эмбеддингов")
	}
	job, err := s.startJob(ctx, domain.JobIndex, map[string]any{"dataset_id": datasetID})
	if err != nil {
		return EmbedReport{}, err
	}

	report := EmbedReport{JobID: job.ID, DatasetID: datasetID, Model: s.embedder.Model()}
	err = s.embedChunks(ctx, datasetID, &report)
	s.finishJob(ctx, job, err)
	return report, err
}

func (s *BloomService) embedChunks(ctx context.Context, datasetID int64, report *EmbedReport) error {
	chunks, err := s.docs.ListChunks(ctx, datasetID)
	if err != nil {
		return fmt.Errorf("ошибка получения фрагментов: %w", err)
	}
	report.Chunks = len(chunks)

	for start := 0; start < len(chunks); start += embedBatchSize {
		end := min(start+embedBatchSize, len(chunks))
		batch := chunks[start:end]
		texts := make([]string, len(batch))
		for i, c := range batch {
			texts[i] = c.Text
		}
		vectors, err := s.embedder.Embed(ctx, texts)
		if err != nil {
			return fmt.Errorf("ошибка вычисления эмбеддингов: %w", err)
		}
		if len(vectors) != len(texts) {
			return domain.NewValidationError("эмбеддингов %d, ожидалось %d", len(vectors), len(texts))
		}

		embs := make([]domain.ChunkEmbedding, len(batch))
		for i, c := range batch {
			embs[i] = domain.ChunkEmbedding{
				ChunkID:   c.ID,
				DatasetID: datasetID,
				Model:     report.Model,
				Dim:       len(vectors[i]),
				Vector:    vectors[i],
			}
		}
		if err := s.chunks.UpsertChunkEmbeddings(ctx, embs); err != nil {
			return fmt.Errorf("ошибка сохранения эмбеддингов: %w", err)
		}
		if s.chunkIndex != nil {
			if _, err := s.chunkIndex.UpsertChunkVectors(ctx, embs); err != nil {
				return fmt.Errorf("ошибка сохранения векторов фрагментов: %w", err)
			}
		}
		report.Vectors += len(embs)
	}
	s.log.Info("эмбеддинги фрагментов сохранены", "dataset_id", datasetID, "model", report.Model, "vectors", report.Vectors)
	return nil
}

// SearchChunks возвращает до topK фрагментов, ближайших к запросу.
// Score = 1 - евклидово расстояние; topK <= 0 заменяется на DefaultTopK.
func (s *BloomService) SearchChunks(ctx context.Context, query string, datasetID *int64, topK int) ([]domain.ChunkHit, error) {
	if strings.TrimSpace(query) == "" {
		return nil, domain.NewValidationError("пустой поисковый запрос")
	}
	if s.embedder == nil || s.chunks == nil {
		return nil, domain.NewConfigError("не задан источник или хранилище эмбеддингов")
	}
	if topK <= 0 {
		topK = DefaultTopK
	}

	vectors, err := s.embedder.Embed(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("ошибка вычисления эмбеддинга запроса: %w", err)
	}
	if len(vectors) != 1 || len(vectors[0]) == 0 {
		return nil, domain.NewValidationError("пустой эмбеддинг запроса")
	}

	model := s.embedder.Model()
	var neighbors []domain.Neighbor
	if s.chunkIndex != nil {
		neighbors, err = s.chunkIndex.NearestChunks(ctx, vectors[0], datasetID, model, topK)
		if err != nil {
			return nil, fmt.Errorf("ошибка поиска фрагментов: %w", err)
		}
	} else {
		embs, err := s.chunks.ListChunkEmbeddings(ctx, datasetID, model)
		if err != nil {
			return nil, fmt.Errorf("ошибка получения эмбеддингов: %w", err)
		}
		neighbors = graph.NearestChunks(vectors[0], embs, topK)
	}
	if len(neighbors) == 0 {
		return []domain.ChunkHit{}, nil
	}

	ids := make([]int64, len(neighbors))
	for i, nb := range neighbors {
		ids[i] = nb.ID
	}
	found, err := s.chunks.ChunkHits(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения фрагментов: %w", err)
	}

	hits := make([]domain.ChunkHit, 0, len(neighbors))
	for _, nb := range neighbors {
		hit, ok := found[nb.ID]
		if !ok {
			// вектор во внешнем индексе пережил удаленный фрагмент
			continue
		}
		hit.Score = 1 - nb.Distance
		hits = append(hits, hit)
	}
	return hits, nil
}

// DatasetStatus возвращает счетчики набора и его последнюю задачу
func (s *BloomService) DatasetStatus(ctx context.Context, datasetID int64) (domain.DatasetStatus, error) {
	if s.status == nil {
		return domain.DatasetStatus{}, domain.NewConfigError("не задано хранилище статуса")
	}
	return s.status.DatasetStatus(ctx, datasetID)
}
