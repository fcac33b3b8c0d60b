package application

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"bloom-graph/src/core/chunking"
	"bloom-graph/src/core/graph"
	"bloom-graph/src/core/nodes"
	"bloom-graph/src/core/quality"
	"bloom-graph/src/core/taxonomy"
	"bloom-graph/src/domain"
	"bloom-graph/src/infrastructure/logger"
)

// DefaultLimitNodes ограничение числа узлов при построении графа
const DefaultLimitNodes = 500

// VectorIndex внешнее хранилище векторов узлов с поиском соседей
type VectorIndex interface {
	domain.NeighborSearcher
	UpsertNodeVectors(ctx context.Context, nodes []domain.KnowledgeNode) (int, error)
}

// ChunkIndex внешнее хранилище векторов фрагментов с поиском ближайших
type ChunkIndex interface {
	UpsertChunkVectors(ctx context.Context, embs []domain.ChunkEmbedding) (int, error)
	NearestChunks(ctx context.Context, vector []float32, datasetID *int64, model string, k int) ([]domain.Neighbor, error)
}

// Deps зависимости сервиса; Vectors, ChunkIndex и Sink необязательны
type Deps struct {
	Documents   domain.DocumentRepository
	Annotations domain.AnnotationRepository
	Nodes       domain.NodeRepository
	Rubrics     domain.RubricRepository
	Jobs        domain.JobRepository
	Chunks      domain.ChunkEmbeddingRepository
	Status      domain.StatusRepository
	Classifier  domain.Classifier
	Embedder    domain.Embedder
	Vectors     VectorIndex
	ChunkIndex  ChunkIndex
	Sink        domain.GraphSink
	Scorer      *taxonomy.Scorer
	Extractor   *nodes.Extractor
	Log         *logger.Logger
}

// Options параметры алгоритмов
type Options struct {
	ChunkMinLen int
	MinProb     float64
	MaxLevels   int
	MaxNodes    int
	MinFreq     int
	// Concurrency число параллельных вызовов классификатора
	Concurrency int
	Graph       graph.Config
	Sequence    graph.SequenceConfig
}

// DefaultOptions значения по умолчанию
func DefaultOptions() Options {
	return Options{
		ChunkMinLen: chunking.DefaultMinLen,
		MinProb:     taxonomy.DefaultMinProb,
		MaxLevels:   taxonomy.DefaultMaxLevels,
		MaxNodes:    nodes.DefaultMaxNodes,
		MinFreq:     nodes.DefaultMinFreq,
		Concurrency: 4,
		Graph:       graph.DefaultConfig(),
		Sequence:    graph.DefaultSequenceConfig(),
	}
}

// BloomService реализация сервиса таксономии и графа знаний
type BloomService struct {
	docs        domain.DocumentRepository
	annotations domain.AnnotationRepository
	nodeRepo    domain.NodeRepository
	rubrics     domain.RubricRepository
	jobs        domain.JobRepository
	chunks      domain.ChunkEmbeddingRepository
	status      domain.StatusRepository
	classifier  domain.Classifier
	embedder    domain.Embedder
	vectors     VectorIndex
	chunkIndex  ChunkIndex
	sink        domain.GraphSink
	scorer      *taxonomy.Scorer
	extractor   *nodes.Extractor
	log         *logger.Logger
	opts        Options
}

// NewBloomService создает новый экземпляр сервиса
func NewBloomService(deps Deps, opts Options) *BloomService {
	if deps.Scorer == nil {
		deps.Scorer = taxonomy.NewScorer(nil)
	}
	if deps.Extractor == nil {
		deps.Extractor = nodes.NewExtractor(nil)
	}
	if deps.Classifier == nil {
		deps.Classifier = taxonomy.NewHeuristicAnnotator()
	}
	if deps.Log == nil {
		deps.Log = logger.NewNop()
	}
	if opts.Concurrency < 1 {
		opts.Concurrency = 1
	}
	return &BloomService{
		docs:        deps.Documents,
		annotations: deps.Annotations,
		nodeRepo:    deps.Nodes,
		rubrics:     deps.Rubrics,
		jobs:        deps.Jobs,
		chunks:      deps.Chunks,
		status:      deps.Status,
		classifier:  deps.Classifier,
		embedder:    deps.Embedder,
		vectors:     deps.Vectors,
		chunkIndex:  deps.ChunkIndex,
		sink:        deps.Sink,
		scorer:      deps.Scorer,
		extractor:   deps.Extractor,
		log:         deps.Log,
		opts:        opts,
	}
}

// ChunkAnalysis разметка одного фрагмента
type ChunkAnalysis struct {
	Index      int                      `json:"idx"`
	Text       string                   `json:"text"`
	Probs      domain.ProbabilityVector `json:"probs"`
	ProbVector domain.ProbabilityVector `json:"prob_vector"`
	TopLevels  domain.TopLevels         `json:"top_levels"`
}

// AnalysisResult результат анализа текста
type AnalysisResult struct {
	Chunks []ChunkAnalysis `json:"chunks"`
	Edges  []domain.Edge   `json:"edges"`
}

// Analyze размечает фрагменты текста без обращения к хранилищу
func (s *BloomService) Analyze(text string) AnalysisResult {
	parts := chunking.SplitIntoChunks(text, s.opts.ChunkMinLen)
	out := AnalysisResult{Chunks: make([]ChunkAnalysis, 0, len(parts))}
	for i, part := range parts {
		ml := s.scorer.ClassifyMultilabel(part, s.opts.MinProb, s.opts.MaxLevels)
		out.Chunks = append(out.Chunks, ChunkAnalysis{
			Index:      i,
			Text:       part,
			Probs:      s.scorer.BloomProbabilities(part),
			ProbVector: ml.ProbVector,
			TopLevels:  ml.TopLevels,
		})
	}
	out.Edges = graph.BuildChunkGraph(parts, s.opts.Sequence)
	return out
}

// IndexDocument разбивает документ на фрагменты и сохраняет его вместе с ними
func (s *BloomService) IndexDocument(ctx context.Context, doc domain.Document) (domain.Document, int, error) {
	if strings.TrimSpace(doc.Content) == "" {
		return domain.Document{}, 0, domain.NewValidationError("пустой документ %q", doc.Title)
	}
	if strings.TrimSpace(doc.Title) == "" {
		doc.Title = "untitled"
	}
	parts := chunking.SplitIntoChunks(doc.Content, s.opts.ChunkMinLen)
	saved, err := s.docs.SaveDocument(ctx, doc, parts)
	if err != nil {
		return domain.Document{}, 0, fmt.Errorf("ошибка индексации документа: %w", err)
	}
	s.log.Info("документ проиндексирован", "document_id", saved.ID, "chunks", len(parts))
	return saved, len(parts), nil
}

// AnnotateReport итог пакетной аннотации
type AnnotateReport struct {
	JobID     uuid.UUID    `json:"job_id"`
	DatasetID int64        `json:"dataset_id"`
	Level     domain.Level `json:"level"`
	Total     int          `json:"total"`
	Written   int          `json:"written"`
	Skipped   int          `json:"skipped"`
	Fallbacks int          `json:"fallbacks"`
}

type annotated struct {
	chunk    domain.Chunk
	result   domain.AnnotationResult
	provider string
	fallback bool
	err      error
}

// outcomeClassifier классификатор, сообщающий фактического провайдера
type outcomeClassifier interface {
	Classify(ctx context.Context, chunk string, level domain.Level, rubric string) (Outcome, error)
}

// AnnotateDataset классифицирует фрагменты параллельно; запись выполняет
// единственный читатель канала в вызывающей горутине
func (s *BloomService) AnnotateDataset(ctx context.Context, datasetID int64, level domain.Level) (AnnotateReport, error) {
	if !level.Valid() {
		return AnnotateReport{}, domain.NewValidationError("неизвестный уровень таксономии: %q", level)
	}
	report := AnnotateReport{DatasetID: datasetID, Level: level}

	job, err := s.startJob(ctx, domain.JobAnnotate, map[string]any{"dataset_id": datasetID, "level": string(level)})
	if err != nil {
		return report, err
	}
	report.JobID = job.ID

	err = s.annotate(ctx, datasetID, level, &report)
	s.finishJob(ctx, job, err)
	return report, err
}

func (s *BloomService) annotate(ctx context.Context, datasetID int64, level domain.Level, report *AnnotateReport) error {
	chunks, err := s.docs.ListChunks(ctx, datasetID)
	if err != nil {
		return fmt.Errorf("ошибка получения фрагментов: %w", err)
	}
	report.Total = len(chunks)

	rubricText, rubricID, err := s.rubricFor(ctx, level)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	results := make(chan annotated)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.opts.Concurrency)

	var fanErr error
	go func() {
		for _, c := range chunks {
			c := c
			g.Go(func() error {
				r := s.classify(gctx, c, level, rubricText)
				select {
				case results <- r:
					return nil
				case <-gctx.Done():
					return gctx.Err()
				}
			})
		}
		fanErr = g.Wait()
		close(results)
	}()

	var writeErr error
	for r := range results {
		if writeErr != nil {
			continue
		}
		if r.err != nil {
			if ctx.Err() == nil && isValidation(r.err) {
				report.Skipped++
				s.log.Warn("аннотация пропущена", "chunk_id", r.chunk.ID, "level", level, "error", r.err)
				continue
			}
			writeErr = fmt.Errorf("ошибка классификации фрагмента %d: %w", r.chunk.ID, r.err)
			cancel()
			continue
		}
		if _, err := s.annotations.UpsertAnnotation(ctx, domain.Annotation{
			ChunkID:   r.chunk.ID,
			Level:     r.result.Level,
			Label:     r.result.Label,
			Rationale: r.result.Rationale,
			Score:     r.result.Score,
			RubricID:  rubricID,
			Provider:  r.provider,
		}); err != nil {
			writeErr = fmt.Errorf("ошибка сохранения аннотации фрагмента %d: %w", r.chunk.ID, err)
			cancel()
			continue
		}
		report.Written++
		if r.fallback {
			report.Fallbacks++
		}
	}

	if writeErr != nil {
		return writeErr
	}
	if fanErr != nil {
		return fanErr
	}
	s.log.Info("аннотация завершена",
		"dataset_id", datasetID, "level", level,
		"total", report.Total, "written", report.Written, "skipped", report.Skipped)
	return nil
}

func (s *BloomService) classify(ctx context.Context, c domain.Chunk, level domain.Level, rubric string) annotated {
	r := annotated{chunk: c}
	if oc, ok := s.classifier.(outcomeClassifier); ok {
		out, err := oc.Classify(ctx, c.Text, level, rubric)
		r.result, r.provider, r.fallback, r.err = out.Result, out.Provider, out.Fallback, err
		return r
	}
	res, err := s.classifier.Annotate(ctx, c.Text, level, rubric)
	if err == nil {
		err = taxonomy.ValidateAnnotation(res)
	}
	r.result, r.provider, r.err = res, s.classifier.Name(), err
	return r
}

// rubricFor возвращает активную рубрику уровня или встроенное описание
func (s *BloomService) rubricFor(ctx context.Context, level domain.Level) (string, *int64, error) {
	if s.rubrics != nil {
		r, err := s.rubrics.ActiveRubric(ctx, level)
		switch {
		case err == nil:
			id := r.ID
			return r.Description, &id, nil
		case !errors.Is(err, domain.ErrNotFound):
			return "", nil, fmt.Errorf("ошибка получения рубрики: %w", err)
		}
	}
	return taxonomy.DefaultRubrics()[level], nil, nil
}

// SetRubric сохраняет новую активную версию рубрики уровня
func (s *BloomService) SetRubric(ctx context.Context, level domain.Level, name, description string) (domain.Rubric, error) {
	if !level.Valid() {
		return domain.Rubric{}, domain.NewValidationError("неизвестный уровень таксономии: %q", level)
	}
	if strings.TrimSpace(description) == "" {
		return domain.Rubric{}, domain.NewValidationError("пустое описание рубрики")
	}
	return s.rubrics.SaveRubric(ctx, domain.Rubric{Level: level, Name: name, Description: description, IsActive: true})
}

// ExtractReport итог выделения узлов
type ExtractReport struct {
	JobID   uuid.UUID              `json:"job_id"`
	Nodes   []domain.KnowledgeNode `json:"nodes"`
	Vectors int                    `json:"vectors"`
}

// ExtractNodes выделяет узлы из документа или всех документов набора,
// классифицирует их контекст, вычисляет эмбеддинги и сохраняет
func (s *BloomService) ExtractNodes(ctx context.Context, datasetID int64, documentID *int64) (ExtractReport, error) {
	if s.embedder == nil {
		return ExtractReport{}, domain.NewConfigError("не задан источник эмбеддингов")
	}
	payload := map[string]any{"dataset_id": datasetID}
	if documentID != nil {
		payload["document_id"] = *documentID
	}
	job, err := s.startJob(ctx, domain.JobNodes, payload)
	if err != nil {
		return ExtractReport{}, err
	}

	report := ExtractReport{JobID: job.ID}
	err = s.extract(ctx, datasetID, documentID, &report)
	s.finishJob(ctx, job, err)
	return report, err
}

func (s *BloomService) extract(ctx context.Context, datasetID int64, documentID *int64, report *ExtractReport) error {
	var docs []domain.Document
	if documentID != nil {
		doc, err := s.docs.GetDocument(ctx, *documentID)
		if err != nil {
			return err
		}
		if doc.DatasetID != datasetID {
			return domain.NewValidationError("документ %d не принадлежит набору %d", doc.ID, datasetID)
		}
		docs = append(docs, doc)
	} else {
		list, err := s.docs.ListDocuments(ctx, datasetID)
		if err != nil {
			return fmt.Errorf("ошибка получения документов: %w", err)
		}
		docs = list
	}

	for _, doc := range docs {
		batch, err := s.nodesFor(ctx, doc)
		if err != nil {
			return err
		}
		if len(batch) == 0 {
			continue
		}
		saved, err := s.nodeRepo.UpsertNodes(ctx, batch)
		if err != nil {
			return fmt.Errorf("ошибка сохранения узлов документа %d: %w", doc.ID, err)
		}
		report.Nodes = append(report.Nodes, saved...)
	}

	if s.vectors != nil && len(report.Nodes) > 0 {
		n, err := s.vectors.UpsertNodeVectors(ctx, report.Nodes)
		if err != nil {
			return fmt.Errorf("ошибка сохранения векторов: %w", err)
		}
		report.Vectors = n
	}
	s.log.Info("узлы выделены", "dataset_id", datasetID, "documents", len(docs), "nodes", len(report.Nodes))
	return nil
}

func (s *BloomService) nodesFor(ctx context.Context, doc domain.Document) ([]domain.KnowledgeNode, error) {
	candidates := s.extractor.Extract(doc.Content, s.opts.MaxNodes, s.opts.MinFreq)
	if len(candidates) == 0 {
		return nil, nil
	}
	texts := make([]string, len(candidates))
	for i, c := range candidates {
		texts[i] = c.ContextSnippet
		if strings.TrimSpace(texts[i]) == "" {
			texts[i] = c.Title
		}
	}
	vectors, err := s.embedder.Embed(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("ошибка вычисления эмбеддингов: %w", err)
	}
	if len(vectors) != len(texts) {
		return nil, domain.NewValidationError("эмбеддингов %d, ожидалось %d", len(vectors), len(texts))
	}

	docID := doc.ID
	out := make([]domain.KnowledgeNode, 0, len(candidates))
	for i, c := range candidates {
		ml := s.scorer.ClassifyMultilabel(texts[i], s.opts.MinProb, s.opts.MaxLevels)
		out = append(out, domain.KnowledgeNode{
			DatasetID:      doc.DatasetID,
			DocumentID:     &docID,
			Title:          c.Title,
			Key:            c.Key,
			ContextSnippet: c.ContextSnippet,
			Frequency:      c.Frequency,
			NodeType:       c.NodeType,
			ProbVector:     ml.ProbVector,
			TopLevels:      ml.TopLevels,
			Embedding:      vectors[i],
			EmbeddingModel: s.embedder.Model(),
			EmbeddingDim:   len(vectors[i]),
		})
	}
	return out, nil
}

// ListNodes возвращает узлы по фильтру
func (s *BloomService) ListNodes(ctx context.Context, filter domain.NodeFilter, limit int) ([]domain.KnowledgeNode, error) {
	return s.nodeRepo.ListNodes(ctx, filter, false, limit)
}

// GraphRequest параметры построения графа; nil-фильтры не ограничивают выборку
type GraphRequest struct {
	DatasetID      *int64
	DocumentID     *int64
	EmbeddingModel *string
	LimitNodes     int
	// Config переопределяет параметры графа из Options
	Config *graph.Config
	// Sync выгружает граф во внешнее хранилище, если оно подключено
	Sync bool
}

// BuildGraph загружает узлы с эмбеддингами и строит по ним граф знаний
func (s *BloomService) BuildGraph(ctx context.Context, req GraphRequest) (domain.Graph, error) {
	cfg := s.opts.Graph
	if req.Config != nil {
		cfg = *req.Config
	}
	if err := cfg.Validate(); err != nil {
		return domain.Graph{}, err
	}
	if req.Sync && req.DatasetID == nil {
		return domain.Graph{}, domain.NewValidationError("для выгрузки графа нужен dataset_id")
	}
	limit := req.LimitNodes
	if limit <= 0 {
		limit = DefaultLimitNodes
	}

	filter := domain.NodeFilter{
		DatasetID:      req.DatasetID,
		DocumentID:     req.DocumentID,
		EmbeddingModel: req.EmbeddingModel,
	}
	list, err := s.nodeRepo.ListNodes(ctx, filter, true, limit)
	if err != nil {
		return domain.Graph{}, fmt.Errorf("ошибка получения узлов: %w", err)
	}

	var searcher domain.NeighborSearcher = graph.NewMemoryIndex(list)
	if s.vectors != nil {
		searcher = s.vectors
	}
	g, err := graph.NewBuilder(searcher).Build(ctx, list, cfg, filter)
	if err != nil {
		return domain.Graph{}, err
	}

	if req.Sync && s.sink != nil {
		if err := s.sink.UpsertGraph(ctx, *req.DatasetID, g); err != nil {
			return domain.Graph{}, fmt.Errorf("ошибка выгрузки графа: %w", err)
		}
	}
	s.log.Debug("граф построен", "nodes", len(g.Nodes), "edges", len(g.Edges))
	return g, nil
}

// QualityReport сводные метрики качества аннотаций набора
type QualityReport struct {
	Coverage quality.CoverageMetrics `json:"coverage"`
	Scores   quality.ScoreStats      `json:"scores"`
	Levels   map[domain.Level]int    `json:"levels"`
}

// ChunkConsistency вычисляет согласованность аннотаций фрагмента
func (s *BloomService) ChunkConsistency(ctx context.Context, chunkID int64) (quality.ConsistencyMetrics, error) {
	anns, err := s.annotations.ListChunkAnnotations(ctx, chunkID)
	if err != nil {
		return quality.ConsistencyMetrics{}, fmt.Errorf("ошибка получения аннотаций: %w", err)
	}
	return quality.Consistency(chunkID, anns), nil
}

// DatasetCoverage вычисляет долю аннотированных фрагментов
func (s *BloomService) DatasetCoverage(ctx context.Context, datasetID int64) (quality.CoverageMetrics, error) {
	total, annotatedCount, err := s.annotations.CountChunks(ctx, datasetID)
	if err != nil {
		return quality.CoverageMetrics{}, fmt.Errorf("ошибка подсчета фрагментов: %w", err)
	}
	return quality.Coverage(datasetID, total, annotatedCount), nil
}

// DatasetQuality объединяет покрытие и распределения оценок и уровней
func (s *BloomService) DatasetQuality(ctx context.Context, datasetID int64) (QualityReport, error) {
	cov, err := s.DatasetCoverage(ctx, datasetID)
	if err != nil {
		return QualityReport{}, err
	}
	anns, err := s.annotations.ListDatasetAnnotations(ctx, datasetID)
	if err != nil {
		return QualityReport{}, fmt.Errorf("ошибка получения аннотаций: %w", err)
	}
	return QualityReport{
		Coverage: cov,
		Scores:   quality.ScoreDistribution(anns),
		Levels:   quality.LevelDistribution(anns),
	}, nil
}

// GetJob возвращает запись о задаче
func (s *BloomService) GetJob(ctx context.Context, id uuid.UUID) (domain.Job, error) {
	return s.jobs.GetJob(ctx, id)
}

func (s *BloomService) startJob(ctx context.Context, typ domain.JobType, payload map[string]any) (domain.Job, error) {
	job := domain.Job{
		ID:        uuid.New(),
		Type:      typ,
		Status:    domain.JobRunning,
		Payload:   payload,
		CreatedAt: time.Now().UTC(),
	}
	if s.jobs == nil {
		return job, nil
	}
	if err := s.jobs.SaveJob(ctx, job); err != nil {
		return domain.Job{}, fmt.Errorf("ошибка сохранения задачи: %w", err)
	}
	return job, nil
}

// finishJob фиксирует итог задачи; ошибка записи только логируется
func (s *BloomService) finishJob(ctx context.Context, job domain.Job, runErr error) {
	now := time.Now().UTC()
	job.FinishedAt = &now
	job.Status = domain.JobDone
	if runErr != nil {
		job.Status = domain.JobFailed
		job.Error = runErr.Error()
	}
	if s.jobs == nil {
		return
	}
	if err := s.jobs.SaveJob(context.WithoutCancel(ctx), job); err != nil {
		s.log.Error("не удалось обновить задачу", "job_id", job.ID, "error", err)
	}
}
