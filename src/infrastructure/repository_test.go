package infrastructure

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bloom-graph/src/domain"
)

func newTestRepo(t *testing.T) *SQLiteRepository {
	t.Helper()
	repo, err := NewSQLiteRepository(filepath.Join(t.TempDir(), "test.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { repo.Close() })
	return repo
}

func seedDocument(t *testing.T, repo *SQLiteRepository, chunks ...string) (domain.Dataset, domain.Document, []domain.Chunk) {
	t.Helper()
	ctx := context.Background()
	ds, err := repo.CreateDataset(ctx, "dataset-1")
	require.NoError(t, err)
	doc, err := repo.SaveDocument(ctx, domain.Document{DatasetID: ds.ID, Title: "doc", Source: "test", Content: "текст"}, chunks)
	require.NoError(t, err)
	saved, err := repo.ListChunks(ctx, ds.ID)
	require.NoError(t, err)
	return ds, doc, saved
}

func TestSQLiteRepositoryDocuments(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	ds, doc, chunks := seedDocument(t, repo, "первый фрагмент", "второй фрагмент")
	assert.NotZero(t, doc.ID)
	assert.Equal(t, ds.ID, doc.DatasetID)
	assert.False(t, doc.CreatedAt.IsZero())
	require.Len(t, chunks, 2)
	assert.Equal(t, 0, chunks[0].Index)
	assert.Equal(t, "второй фрагмент", chunks[1].Text)

	again, err := repo.CreateDataset(ctx, "dataset-1")
	require.NoError(t, err)
	assert.Equal(t, ds.ID, again.ID, "повторное создание возвращает существующий набор")

	docs, err := repo.ListDocuments(ctx, ds.ID)
	require.NoError(t, err)
	assert.Len(t, docs, 1)

	require.NoError(t, repo.DeleteDocument(ctx, doc.ID))
	_, err = repo.GetDocument(ctx, doc.ID)
	assert.True(t, errors.Is(err, domain.ErrNotFound))
	chunks, err = repo.ListChunks(ctx, ds.ID)
	require.NoError(t, err)
	assert.Empty(t, chunks)

	assert.True(t, errors.Is(repo.DeleteDocument(ctx, doc.ID), domain.ErrNotFound))
	_, err = repo.CreateDataset(ctx, "  ")
	assert.True(t, errors.Is(err, domain.ErrValidation))
}

func TestSQLiteRepositoryAnnotationVersioning(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	ds, _, chunks := seedDocument(t, repo, "A", "B")

	first, err := repo.UpsertAnnotation(ctx, domain.Annotation{
		ChunkID: chunks[0].ID, Level: domain.LevelApply, Label: "a", Rationale: "r", Score: 0.1, Provider: "heuristic",
	})
	require.NoError(t, err)
	assert.Equal(t, 1, first.Version)
	assert.Nil(t, first.RubricID)

	second, err := repo.UpsertAnnotation(ctx, domain.Annotation{
		ChunkID: chunks[0].ID, Level: domain.LevelApply, Label: "b", Rationale: "r2", Score: 0.4, Provider: "openai",
	})
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, 2, second.Version)
	assert.Equal(t, "b", second.Label)
	assert.Equal(t, "openai", second.Provider)

	_, err = repo.UpsertAnnotation(ctx, domain.Annotation{
		ChunkID: chunks[0].ID, Level: domain.LevelRemember, Label: "c", Rationale: "r", Score: 0.9,
	})
	require.NoError(t, err)

	list, err := repo.ListChunkAnnotations(ctx, chunks[0].ID)
	require.NoError(t, err)
	assert.Len(t, list, 2)

	all, err := repo.ListDatasetAnnotations(ctx, ds.ID)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	total, annotated, err := repo.CountChunks(ctx, ds.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	assert.Equal(t, 1, annotated)
}

func TestSQLiteRepositoryRubrics(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	_, err := repo.ActiveRubric(ctx, domain.LevelApply)
	assert.True(t, errors.Is(err, domain.ErrNotFound))

	v1, err := repo.SaveRubric(ctx, domain.Rubric{Level: domain.LevelApply, Name: "v1", Description: "d1", IsActive: true})
	require.NoError(t, err)
	assert.Equal(t, 1, v1.Version)
	v2, err := repo.SaveRubric(ctx, domain.Rubric{Level: domain.LevelApply, Name: "v2", Description: "d2", IsActive: true})
	require.NoError(t, err)
	assert.Equal(t, 2, v2.Version)

	active, err := repo.ActiveRubric(ctx, domain.LevelApply)
	require.NoError(t, err)
	assert.Equal(t, v2.ID, active.ID)
	assert.True(t, active.IsActive)

	_, err = repo.SaveRubric(ctx, domain.Rubric{Level: "unknown", Name: "x"})
	assert.True(t, errors.Is(err, domain.ErrValidation))
}

func TestSQLiteRepositoryNodes(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	ds, doc, _ := seedDocument(t, repo, "A")
	docID := doc.ID
	model := "hash-v1"

	saved, err := repo.UpsertNodes(ctx, []domain.KnowledgeNode{
		{
			DatasetID: ds.ID, DocumentID: &docID, Title: "Пушкин", Key: "пушкин", ContextSnippet: "Пушкин написал роман",
			Frequency: 1, NodeType: domain.NodeTypeProperNoun,
			ProbVector: domain.ProbabilityVector{domain.LevelRemember: 1},
			TopLevels:  domain.TopLevels{domain.LevelRemember},
			Embedding:  []float32{0.5, -0.25}, EmbeddingModel: model, EmbeddingDim: 2,
		},
		{DatasetID: ds.ID, Title: "роман", NodeType: domain.NodeTypeKeyword, Frequency: 3},
	})
	require.NoError(t, err)
	require.Len(t, saved, 2)
	assert.Equal(t, 1, saved[0].Version)
	assert.Equal(t, []float32{0.5, -0.25}, saved[0].Embedding)
	assert.Equal(t, "роман", saved[1].Key, "ключ по умолчанию строится из заголовка")
	assert.Nil(t, saved[1].DocumentID)

	updated, err := repo.UpsertNodes(ctx, []domain.KnowledgeNode{
		{DatasetID: ds.ID, DocumentID: &docID, Title: "Пушкин", Key: "пушкин", Frequency: 2, NodeType: domain.NodeTypeProperNoun},
	})
	require.NoError(t, err)
	assert.Equal(t, saved[0].ID, updated[0].ID)
	assert.Equal(t, 2, updated[0].Version)
	assert.Equal(t, 2, updated[0].Frequency)

	all, err := repo.ListNodes(ctx, domain.NodeFilter{DatasetID: &ds.ID}, false, 0)
	require.NoError(t, err)
	assert.Len(t, all, 2)
	assert.Less(t, all[0].ID, all[1].ID)

	// после обновления без эмбеддинга узел выпадает из выборки с эмбеддингами
	embedded, err := repo.ListNodes(ctx, domain.NodeFilter{DatasetID: &ds.ID}, true, 0)
	require.NoError(t, err)
	assert.Empty(t, embedded)

	_, err = repo.UpsertNodes(ctx, []domain.KnowledgeNode{{
		DatasetID: ds.ID, DocumentID: &docID, Title: "Пушкин", Key: "пушкин", NodeType: domain.NodeTypeProperNoun,
		Embedding: []float32{1, 0}, EmbeddingModel: model, EmbeddingDim: 2,
	}})
	require.NoError(t, err)
	embedded, err = repo.ListNodes(ctx, domain.NodeFilter{DocumentID: &docID, EmbeddingModel: &model}, true, 1)
	require.NoError(t, err)
	require.Len(t, embedded, 1)
	assert.Equal(t, []float32{1, 0}, embedded[0].Embedding)
}

func TestSQLiteRepositoryJobs(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	job := domain.Job{
		ID:      uuid.New(),
		Type:    domain.JobAnnotate,
		Status:  domain.JobRunning,
		Payload: map[string]any{"dataset_id": float64(1), "level": "apply"},
	}
	require.NoError(t, repo.SaveJob(ctx, job))

	finished := time.Now().UTC().Truncate(time.Second)
	job.Status = domain.JobDone
	job.FinishedAt = &finished
	job.Payload["processed"] = float64(3)
	require.NoError(t, repo.SaveJob(ctx, job))

	got, err := repo.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobDone, got.Status)
	assert.Equal(t, float64(3), got.Payload["processed"])
	require.NotNil(t, got.FinishedAt)
	assert.True(t, finished.Equal(*got.FinishedAt))

	_, err = repo.GetJob(ctx, uuid.New())
	assert.True(t, errors.Is(err, domain.ErrNotFound))
}

func TestSQLiteRepositoryChunkEmbeddings(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	ds, doc, chunks := seedDocument(t, repo, "первый фрагмент", "второй фрагмент")
	require.Len(t, chunks, 2)

	require.NoError(t, repo.UpsertChunkEmbeddings(ctx, []domain.ChunkEmbedding{
		{ChunkID: chunks[0].ID, Model: "hash-v1", Vector: []float32{1, 0}},
		{ChunkID: chunks[1].ID, Model: "hash-v1", Vector: []float32{0, 1}},
		{ChunkID: chunks[0].ID, Model: "other", Vector: []float32{1, 1, 1}},
	}))
	// повторная запись заменяет вектор
	require.NoError(t, repo.UpsertChunkEmbeddings(ctx, []domain.ChunkEmbedding{
		{ChunkID: chunks[1].ID, Model: "hash-v1", Vector: []float32{0.5, 0.5}},
	}))

	embs, err := repo.ListChunkEmbeddings(ctx, &ds.ID, "hash-v1")
	require.NoError(t, err)
	require.Len(t, embs, 2)
	assert.Equal(t, chunks[0].ID, embs[0].ChunkID)
	assert.Equal(t, ds.ID, embs[0].DatasetID)
	assert.Equal(t, 2, embs[1].Dim)
	assert.Equal(t, []float32{0.5, 0.5}, embs[1].Vector)

	all, err := repo.ListChunkEmbeddings(ctx, nil, "other")
	require.NoError(t, err)
	assert.Len(t, all, 1)

	other := int64(999)
	none, err := repo.ListChunkEmbeddings(ctx, &other, "hash-v1")
	require.NoError(t, err)
	assert.Empty(t, none)

	hits, err := repo.ChunkHits(ctx, []int64{chunks[1].ID, 12345})
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "второй фрагмент", hits[chunks[1].ID].Text)
	assert.Equal(t, doc.ID, hits[chunks[1].ID].DocumentID)
	assert.Equal(t, "doc", hits[chunks[1].ID].DocumentTitle)

	err = repo.UpsertChunkEmbeddings(ctx, []domain.ChunkEmbedding{{ChunkID: chunks[0].ID, Model: "hash-v1"}})
	assert.True(t, errors.Is(err, domain.ErrValidation))

	require.NoError(t, repo.DeleteDocument(ctx, doc.ID))
	embs, err = repo.ListChunkEmbeddings(ctx, nil, "hash-v1")
	require.NoError(t, err)
	assert.Empty(t, embs)
}

func TestSQLiteRepositoryDatasetStatus(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	ds, _, chunks := seedDocument(t, repo, "первый фрагмент", "второй фрагмент", "третий фрагмент")

	st, err := repo.DatasetStatus(ctx, ds.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, st.Documents)
	assert.Equal(t, 3, st.Chunks)
	assert.Zero(t, st.Embeddings)
	assert.Nil(t, st.LastJob)

	require.NoError(t, repo.UpsertChunkEmbeddings(ctx, []domain.ChunkEmbedding{
		{ChunkID: chunks[0].ID, Model: "hash-v1", Vector: []float32{1}},
		{ChunkID: chunks[1].ID, Model: "hash-v1", Vector: []float32{1}},
	}))
	_, err = repo.UpsertAnnotation(ctx, domain.Annotation{
		ChunkID: chunks[0].ID, Level: domain.LevelApply, Label: "apply", Rationale: "r", Score: 0.7,
	})
	require.NoError(t, err)

	base := time.Now().UTC().Truncate(time.Second)
	older := domain.Job{ID: uuid.New(), Type: domain.JobIndex, Status: domain.JobDone,
		Payload: map[string]any{"dataset_id": ds.ID}, CreatedAt: base.Add(-time.Minute)}
	newer := domain.Job{ID: uuid.New(), Type: domain.JobAnnotate, Status: domain.JobRunning,
		Payload: map[string]any{"dataset_id": ds.ID, "level": "apply"}, CreatedAt: base}
	foreign := domain.Job{ID: uuid.New(), Type: domain.JobNodes, Status: domain.JobDone,
		Payload: map[string]any{"dataset_id": ds.ID + 1}, CreatedAt: base.Add(time.Minute)}
	for _, j := range []domain.Job{older, newer, foreign} {
		require.NoError(t, repo.SaveJob(ctx, j))
	}

	st, err = repo.DatasetStatus(ctx, ds.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, st.Embeddings)
	assert.Equal(t, 1, st.Annotations)
	require.NotNil(t, st.LastJob)
	assert.Equal(t, newer.ID, st.LastJob.ID)
	assert.Equal(t, domain.JobAnnotate, st.LastJob.Type)

	_, err = repo.DatasetStatus(ctx, ds.ID+100)
	assert.True(t, errors.Is(err, domain.ErrNotFound))
}
