package domain

import (
	"context"

	"github.com/google/uuid"
)

// DocumentRepository интерфейс для работы с наборами, документами и фрагментами
type DocumentRepository interface {
	// CreateDataset создает набор данных или возвращает существующий с тем же именем
	CreateDataset(ctx context.Context, name string) (Dataset, error)

	// SaveDocument сохраняет документ вместе с фрагментами
	SaveDocument(ctx context.Context, doc Document, chunks []string) (Document, error)

	// GetDocument возвращает документ по ID
	GetDocument(ctx context.Context, id int64) (Document, error)

	// ListDocuments возвращает документы набора
	ListDocuments(ctx context.Context, datasetID int64) ([]Document, error)

	// ListChunks возвращает фрагменты набора в порядке документов и индексов
	ListChunks(ctx context.Context, datasetID int64) ([]Chunk, error)

	// DeleteDocument удаляет документ и его фрагменты
	DeleteDocument(ctx context.Context, id int64) error
}

// AnnotationRepository хранилище аннотаций
type AnnotationRepository interface {
	// UpsertAnnotation сохраняет аннотацию; версия растет при каждом обновлении пары (chunk, level)
	UpsertAnnotation(ctx context.Context, a Annotation) (Annotation, error)

	// ListChunkAnnotations возвращает аннотации фрагмента
	ListChunkAnnotations(ctx context.Context, chunkID int64) ([]Annotation, error)

	// ListDatasetAnnotations возвращает аннотации всех фрагментов набора
	ListDatasetAnnotations(ctx context.Context, datasetID int64) ([]Annotation, error)

	// CountChunks возвращает общее число фрагментов и число различных аннотированных фрагментов
	CountChunks(ctx context.Context, datasetID int64) (total int, annotated int, err error)
}

// NodeRepository хранилище узлов знаний
type NodeRepository interface {
	// UpsertNodes сохраняет узлы; ключ дедупликации (dataset, document, key)
	UpsertNodes(ctx context.Context, nodes []KnowledgeNode) ([]KnowledgeNode, error)

	// ListNodes возвращает узлы по фильтру в порядке возрастания ID; limit <= 0 без ограничения
	ListNodes(ctx context.Context, filter NodeFilter, onlyEmbedded bool, limit int) ([]KnowledgeNode, error)
}

// RubricRepository хранилище рубрик
type RubricRepository interface {
	SaveRubric(ctx context.Context, r Rubric) (Rubric, error)
	// ActiveRubric возвращает последнюю активную рубрику уровня или ErrNotFound
	ActiveRubric(ctx context.Context, level Level) (Rubric, error)
}

// JobRepository хранилище пакетных задач
type JobRepository interface {
	SaveJob(ctx context.Context, job Job) error
	GetJob(ctx context.Context, id uuid.UUID) (Job, error)
}

// ChunkEmbeddingRepository хранилище векторов фрагментов
type ChunkEmbeddingRepository interface {
	// UpsertChunkEmbeddings сохраняет векторы; ключ (chunk, model)
	UpsertChunkEmbeddings(ctx context.Context, embs []ChunkEmbedding) error

	// ListChunkEmbeddings возвращает векторы модели; datasetID nil означает все наборы
	ListChunkEmbeddings(ctx context.Context, datasetID *int64, model string) ([]ChunkEmbedding, error)

	// ChunkHits возвращает текст и документ фрагментов по ID; Score не заполняется
	ChunkHits(ctx context.Context, ids []int64) (map[int64]ChunkHit, error)
}

// StatusRepository сводные счетчики набора
type StatusRepository interface {
	// DatasetStatus возвращает счетчики и последнюю задачу набора или ErrNotFound
	DatasetStatus(ctx context.Context, datasetID int64) (DatasetStatus, error)
}

// Embedder внешний сервис эмбеддингов
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	Model() string
	Dim() int
}

// NeighborSearcher запрос ближайших соседей по вектору
type NeighborSearcher interface {
	NearestNeighbors(ctx context.Context, vector []float32, filter NodeFilter, k int) ([]Neighbor, error)
}

// Classifier аннотирует фрагмент для заданного уровня
type Classifier interface {
	Annotate(ctx context.Context, chunk string, level Level, rubric string) (AnnotationResult, error)
	Name() string
}

// GraphSink получатель построенного графа
type GraphSink interface {
	UpsertGraph(ctx context.Context, datasetID int64, g Graph) error
}
