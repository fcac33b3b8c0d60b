package domain

import (
	"time"

	"github.com/google/uuid"
)

// Dataset объединяет документы одного корпуса
type Dataset struct {
	ID        int64     `json:"id" db:"id"`
	Name      string    `json:"name" db:"name"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// Document представляет документ, который будет разбит на фрагменты
type Document struct {
	ID        int64     `json:"id" db:"id"`
	DatasetID int64     `json:"dataset_id" db:"dataset_id"`
	Title     string    `json:"title" db:"title"`
	Source    string    `json:"source" db:"source"`
	Content   string    `json:"content" db:"content"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// Chunk представляет фрагмент документа; порядок фрагментов значим
type Chunk struct {
	ID         int64  `json:"id" db:"id"`
	DocumentID int64  `json:"document_id" db:"document_id"`
	Index      int    `json:"idx" db:"idx"`
	Text       string `json:"text" db:"text"`
}

// Level уровень таксономии Блума
type Level string

const (
	LevelRemember   Level = "remember"
	LevelUnderstand Level = "understand"
	LevelApply      Level = "apply"
	LevelAnalyze    Level = "analyze"
	LevelEvaluate   Level = "evaluate"
	LevelCreate     Level = "create"
)

// Levels канонический порядок уровней
var Levels = []Level{
	LevelRemember,
	LevelUnderstand,
	LevelApply,
	LevelAnalyze,
	LevelEvaluate,
	LevelCreate,
}

// Rank возвращает позицию уровня в каноническом порядке или -1
func (l Level) Rank() int {
	for i, lvl := range Levels {
		if lvl == l {
			return i
		}
	}
	return -1
}

// Valid сообщает, входит ли уровень в таксономию
func (l Level) Valid() bool {
	return l.Rank() >= 0
}

// ParseLevel разбирает строковое имя уровня
func ParseLevel(s string) (Level, error) {
	l := Level(s)
	if !l.Valid() {
		return "", NewValidationError("неизвестный уровень таксономии: %q", s)
	}
	return l, nil
}

// ProbabilityVector распределение вероятностей по уровням
type ProbabilityVector map[Level]float64

// Sum возвращает сумму вероятностей
func (p ProbabilityVector) Sum() float64 {
	var total float64
	for _, lvl := range Levels {
		total += p[lvl]
	}
	return total
}

// LevelProb пара уровень/вероятность
type LevelProb struct {
	Level Level   `json:"level"`
	Prob  float64 `json:"prob"`
}

// Ordered возвращает вероятности в каноническом порядке уровней
func (p ProbabilityVector) Ordered() []LevelProb {
	out := make([]LevelProb, 0, len(Levels))
	for _, lvl := range Levels {
		out = append(out, LevelProb{Level: lvl, Prob: p[lvl]})
	}
	return out
}

// TopLevels упорядоченное подмножество уровней с наибольшей вероятностью
type TopLevels []Level

// NodeType тип узла знаний
type NodeType string

const (
	NodeTypeProperNoun NodeType = "proper_noun"
	NodeTypeKeyword    NodeType = "keyword"
)

// KnowledgeNode узел графа знаний
type KnowledgeNode struct {
	ID             int64             `json:"id"`
	DatasetID      int64             `json:"dataset_id"`
	DocumentID     *int64            `json:"document_id,omitempty"`
	ChunkID        *int64            `json:"chunk_id,omitempty"`
	Title          string            `json:"title"`
	Key            string            `json:"key"` // заголовок в нижнем регистре, ключ дедупликации
	ContextSnippet string            `json:"context_text"`
	Frequency      int               `json:"frequency"`
	NodeType       NodeType          `json:"node_type"`
	ProbVector     ProbabilityVector `json:"prob_vector"`
	TopLevels      TopLevels         `json:"top_levels"`
	Embedding      []float32         `json:"embedding,omitempty"`
	EmbeddingModel string            `json:"embedding_model,omitempty"`
	EmbeddingDim   int               `json:"embedding_dim,omitempty"`
	Version        int               `json:"version"`
}

// EdgeMethod способ получения ребра
type EdgeMethod string

const (
	EdgeSimilarity   EdgeMethod = "similarity"
	EdgeCoOccurrence EdgeMethod = "co_occurrence"
	EdgeSequential   EdgeMethod = "sequential"
)

// Edge ребро графа; для similarity и co_occurrence Source < Target
type Edge struct {
	Source int64      `json:"source"`
	Target int64      `json:"target"`
	Weight float64    `json:"weight"`
	Method EdgeMethod `json:"method"`
}

// Graph узлы и ребра графа знаний
type Graph struct {
	Nodes []KnowledgeNode `json:"nodes"`
	Edges []Edge          `json:"edges"`
}

// AnnotationResult результат классификатора: контракт {level, label, rationale, score}
type AnnotationResult struct {
	Level     Level   `json:"level"`
	Label     string  `json:"label"`
	Rationale string  `json:"rationale"`
	Score     float64 `json:"score"`
}

// Annotation сохраненная аннотация фрагмента; одна активная на пару (chunk, level)
type Annotation struct {
	ID        int64     `json:"id" db:"id"`
	ChunkID   int64     `json:"chunk_id" db:"chunk_id"`
	Level     Level     `json:"level" db:"level"`
	Label     string    `json:"label" db:"label"`
	Rationale string    `json:"rationale" db:"rationale"`
	Score     float64   `json:"score" db:"score"`
	RubricID  *int64    `json:"rubric_id,omitempty" db:"rubric_id"`
	Version   int       `json:"version" db:"version"`
	Provider  string    `json:"provider" db:"provider"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// Rubric критерии оценивания для уровня
type Rubric struct {
	ID          int64  `json:"id" db:"id"`
	Level       Level  `json:"level" db:"level"`
	Name        string `json:"name" db:"name"`
	Description string `json:"description" db:"description"`
	IsActive    bool   `json:"is_active" db:"is_active"`
	Version     int    `json:"version" db:"version"`
}

// JobType тип пакетной задачи
type JobType string

const (
	JobIndex    JobType = "index"
	JobAnnotate JobType = "annotate"
	JobNodes    JobType = "nodes"
)

// JobStatus состояние пакетной задачи
type JobStatus string

const (
	JobQueued  JobStatus = "queued"
	JobRunning JobStatus = "running"
	JobDone    JobStatus = "done"
	JobFailed  JobStatus = "failed"
)

// Job запись о пакетной задаче
type Job struct {
	ID         uuid.UUID      `json:"id"`
	Type       JobType        `json:"type"`
	Status     JobStatus      `json:"status"`
	Payload    map[string]any `json:"payload"`
	Error      string         `json:"error,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
	FinishedAt *time.Time     `json:"finished_at,omitempty"`
}

// DatasetID извлекает dataset_id из payload задачи; после чтения из JSON число приходит как float64
func (j Job) DatasetID() (int64, bool) {
	switch v := j.Payload["dataset_id"].(type) {
	case int64:
		return v, true
	case int:
		return int64(v), true
	case float64:
		return int64(v), true
	}
	return 0, false
}

// ChunkEmbedding вектор фрагмента для модели эмбеддингов
type ChunkEmbedding struct {
	ChunkID   int64     `json:"chunk_id"`
	DatasetID int64     `json:"dataset_id"`
	Model     string    `json:"model"`
	Dim       int       `json:"dim"`
	Vector    []float32 `json:"vector"`
}

// ChunkHit результат семантического поиска по фрагментам
type ChunkHit struct {
	ChunkID       int64   `json:"chunk_id"`
	Text          string  `json:"text"`
	DocumentID    int64   `json:"document_id"`
	DocumentTitle string  `json:"document_title"`
	Score         float64 `json:"score"`
}

// DatasetStatus сводка по набору данных
type DatasetStatus struct {
	DatasetID   int64 `json:"dataset_id"`
	Documents   int   `json:"documents"`
	Chunks      int   `json:"chunks"`
	Embeddings  int   `json:"embeddings"`
	Annotations int   `json:"annotations"`
	LastJob     *Job  `json:"last_job"`
}

// NodeFilter фильтр выборки узлов; nil-поля не ограничивают выборку
type NodeFilter struct {
	DatasetID      *int64
	DocumentID     *int64
	EmbeddingModel *string
	// ExcludeID исключает узел из результатов поиска соседей
	ExcludeID int64
}

// Neighbor результат поиска ближайших соседей
type Neighbor struct {
	ID       int64   `json:"id"`
	Distance float64 `json:"distance"`
}
