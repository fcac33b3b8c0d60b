package application

import (
	"context"

	"bloom-graph/src/core/quality"
	"bloom-graph/src/domain"
)

// GraphService интерфейс сервиса анализа текстов по таксономии Блума и построения графа знаний
type GraphService interface {
	// Analyze размечает фрагменты текста и строит граф порядка чтения
	Analyze(text string) AnalysisResult

	// IndexDocument разбивает документ на фрагменты и сохраняет его
	IndexDocument(ctx context.Context, doc domain.Document) (domain.Document, int, error)

	// AnnotateDataset аннотирует все фрагменты набора на заданном уровне
	AnnotateDataset(ctx context.Context, datasetID int64, level domain.Level) (AnnotateReport, error)

	// ExtractNodes выделяет узлы знаний из документов набора
	ExtractNodes(ctx context.Context, datasetID int64, documentID *int64) (ExtractReport, error)

	// BuildGraph строит граф знаний по сохраненным узлам
	BuildGraph(ctx context.Context, req GraphRequest) (domain.Graph, error)

	// ChunkConsistency метрики согласованности аннотаций фрагмента
	ChunkConsistency(ctx context.Context, chunkID int64) (quality.ConsistencyMetrics, error)

	// DatasetCoverage доля аннотированных фрагментов набора
	DatasetCoverage(ctx context.Context, datasetID int64) (quality.CoverageMetrics, error)

	// DatasetQuality сводка покрытия и распределений оценок
	DatasetQuality(ctx context.Context, datasetID int64) (QualityReport, error)

	// IndexEmbeddings вычисляет эмбеддинги всех фрагментов набора
	IndexEmbeddings(ctx context.Context, datasetID int64) (EmbedReport, error)

	// SearchChunks семантический поиск фрагментов по запросу
	SearchChunks(ctx context.Context, query string, datasetID *int64, topK int) ([]domain.ChunkHit, error)

	// DatasetStatus счетчики набора и последняя задача
	DatasetStatus(ctx context.Context, datasetID int64) (domain.DatasetStatus, error)
}

var _ GraphService = (*BloomService)(nil)
