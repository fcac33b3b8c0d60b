package application

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bloom-graph/src/domain"
	"bloom-graph/src/domain/mocks"
)

// stubChunkIndex запоминает сохраненные векторы и возвращает заданных соседей
type stubChunkIndex struct {
	saved     []domain.ChunkEmbedding
	neighbors []domain.Neighbor
	gotModel  string
	gotK      int
}

func (s *stubChunkIndex) UpsertChunkVectors(_ context.Context, embs []domain.ChunkEmbedding) (int, error) {
	s.saved = append(s.saved, embs...)
	return len(embs), nil
}

func (s *stubChunkIndex) NearestChunks(_ context.Context, _ []float32, _ *int64, model string, k int) ([]domain.Neighbor, error) {
	s.gotModel, s.gotK = model, k
	return s.neighbors, nil
}

func searchEmbedder() *mocks.MockEmbedder {
	return &mocks.MockEmbedder{
		ModelName: "mock-emb",
		Default:   []float32{0, 0},
		Vectors: map[string][]float32{
			"Перечислите основные определения темы урока.":    {1, 0},
			"Объясните своими словами смысл каждого термина.": {0, 1},
			"Сравните два подхода и найдите их различия.":     {0.6, 0.8},
			"определения":                                     {1, 0},
		},
	}
}

func TestIndexEmbeddings(t *testing.T) {
	svc, store := newTestService(t, nil, searchEmbedder(), nil)
	ds, _ := seedDocument(t, svc, store, threeSentences)

	report, err := svc.IndexEmbeddings(context.Background(), ds.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, report.Chunks)
	assert.Equal(t, 3, report.Vectors)
	assert.Equal(t, "mock-emb", report.Model)

	embs, err := store.ListChunkEmbeddings(context.Background(), &ds.ID, "mock-emb")
	require.NoError(t, err)
	require.Len(t, embs, 3)
	assert.Equal(t, 2, embs[0].Dim)

	job, err := svc.GetJob(context.Background(), report.JobID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobIndex, job.Type)
	assert.Equal(t, domain.JobDone, job.Status)

	// повторный расчет перезаписывает векторы
	_, err = svc.IndexEmbeddings(context.Background(), ds.ID)
	require.NoError(t, err)
	assert.Len(t, store.ChunkEmbeddings, 3)
}

func TestIndexEmbeddingsBatchesRequests(t *testing.T) {
	var batches []int
	emb := &mocks.MockEmbedder{
		ModelName: "mock-emb",
		EmbedFn: func(_ context.Context, texts []string) ([][]float32, error) {
			batches = append(batches, len(texts))
			out := make([][]float32, len(texts))
			for i := range out {
				out[i] = []float32{1}
			}
			return out, nil
		},
	}
	svc, store := newTestService(t, nil, emb, nil)
	ds, err := store.CreateDataset(context.Background(), "big")
	require.NoError(t, err)
	parts := make([]string, embedBatchSize+6)
	for i := range parts {
		parts[i] = "фрагмент"
	}
	_, err = store.SaveDocument(context.Background(), domain.Document{DatasetID: ds.ID, Title: "doc"}, parts)
	require.NoError(t, err)

	report, err := svc.IndexEmbeddings(context.Background(), ds.ID)
	require.NoError(t, err)
	assert.Equal(t, []int{embedBatchSize, 6}, batches)
	assert.Equal(t, embedBatchSize+6, report.Vectors)
}

func TestIndexEmbeddingsFailureMarksJobFailed(t *testing.T) {
	emb := &mocks.MockEmbedder{
		ModelName: "mock-emb",
		EmbedFn: func(context.Context, []string) ([][]float32, error) {
			return nil, errors.New("rate limited")
		},
	}
	svc, store := newTestService(t, nil, emb, nil)
	ds, _ := seedDocument(t, svc, store, threeSentences)

	report, err := svc.IndexEmbeddings(context.Background(), ds.ID)
	require.Error(t, err)
	job, err := svc.GetJob(context.Background(), report.JobID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobFailed, job.Status)
	assert.Contains(t, job.Error, "rate limited")
}

func TestIndexEmbeddingsRequiresEmbedder(t *testing.T) {
	svc, _ := newTestService(t, nil, nil, nil)

	_, err := svc.IndexEmbeddings(context.Background(), 1)
	assert.ErrorIs(t, err, domain.ErrInvalidConfig)
}

func TestSearchChunksInMemory(t *testing.T) {
	svc, store := newTestService(t, nil, searchEmbedder(), nil)
	ds, doc := seedDocument(t, svc, store, threeSentences)
	_, err := svc.IndexEmbeddings(context.Background(), ds.ID)
	require.NoError(t, err)

	hits, err := svc.SearchChunks(context.Background(), "определения", &ds.ID, 2)
	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.Equal(t, "Перечислите основные определения темы урока.", hits[0].Text)
	assert.Equal(t, doc.ID, hits[0].DocumentID)
	assert.Equal(t, "doc", hits[0].DocumentTitle)
	assert.InDelta(t, 1.0, hits[0].Score, 1e-9)
	// |(1,0) - (0.6,0.8)| = sqrt(0.8)
	assert.InDelta(t, 1-0.894427, hits[1].Score, 1e-6)
	assert.GreaterOrEqual(t, hits[0].Score, hits[1].Score)

	all, err := svc.SearchChunks(context.Background(), "определения", nil, 0)
	require.NoError(t, err)
	assert.Len(t, all, 3, "topK по умолчанию больше числа фрагментов")

	other := ds.ID + 100
	none, err := svc.SearchChunks(context.Background(), "определения", &other, 5)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestSearchChunksUsesExternalIndex(t *testing.T) {
	svc, store := newTestService(t, nil, searchEmbedder(), nil)
	idx := &stubChunkIndex{}
	svc.chunkIndex = idx
	ds, _ := seedDocument(t, svc, store, threeSentences)

	report, err := svc.IndexEmbeddings(context.Background(), ds.ID)
	require.NoError(t, err)
	require.Len(t, idx.saved, report.Vectors)
	assert.Equal(t, ds.ID, idx.saved[0].DatasetID)

	idx.neighbors = []domain.Neighbor{{ID: idx.saved[1].ChunkID, Distance: 0.25}, {ID: 9999, Distance: 0.5}}
	hits, err := svc.SearchChunks(context.Background(), "термин", &ds.ID, 3)
	require.NoError(t, err)
	require.Len(t, hits, 1, "удаленный фрагмент пропущен")
	assert.Equal(t, 0.75, hits[0].Score)
	assert.Equal(t, "mock-emb", idx.gotModel)
	assert.Equal(t, 3, idx.gotK)
}

func TestSearchChunksValidation(t *testing.T) {
	svc, _ := newTestService(t, nil, searchEmbedder(), nil)

	_, err := svc.SearchChunks(context.Background(), "   ", nil, 5)
	assert.ErrorIs(t, err, domain.ErrValidation)

	noEmb, _ := newTestService(t, nil, nil, nil)
	_, err = noEmb.SearchChunks(context.Background(), "запрос", nil, 5)
	assert.ErrorIs(t, err, domain.ErrInvalidConfig)
}

func TestDatasetStatus(t *testing.T) {
	svc, store := newTestService(t, nil, searchEmbedder(), nil)
	ds, _ := seedDocument(t, svc, store, threeSentences)

	st, err := svc.DatasetStatus(context.Background(), ds.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, st.Documents)
	assert.Equal(t, 3, st.Chunks)
	assert.Zero(t, st.Embeddings)
	assert.Nil(t, st.LastJob)

	report, err := svc.IndexEmbeddings(context.Background(), ds.ID)
	require.NoError(t, err)
	_, err = svc.AnnotateDataset(context.Background(), ds.ID, domain.LevelApply)
	require.NoError(t, err)

	st, err = svc.DatasetStatus(context.Background(), ds.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, st.Embeddings)
	assert.Equal(t, 3, st.Annotations)
	require.NotNil(t, st.LastJob)
	assert.Equal(t, domain.JobAnnotate, st.LastJob.Type)
	assert.NotEqual(t, report.JobID, st.LastJob.ID)

	_, err = svc.DatasetStatus(context.Background(), ds.ID+100)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}
