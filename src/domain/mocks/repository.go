package mocks

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"bloom-graph/src/domain"
)

// MockStore имитация всех репозиториев в памяти для тестирования сервисов
type MockStore struct {
	mu sync.Mutex

	Datasets    map[int64]domain.Dataset
	Documents   map[int64]domain.Document
	Chunks      map[int64]domain.Chunk
	Annotations map[int64]domain.Annotation
	Nodes       map[int64]domain.KnowledgeNode
	Rubrics     map[int64]domain.Rubric
	Jobs        map[uuid.UUID]domain.Job
	// ChunkEmbeddings ключ "chunk/model"
	ChunkEmbeddings map[string]domain.ChunkEmbedding

	nextID int64

	SaveDocumentFn     func(doc domain.Document, chunks []string) (domain.Document, error)
	UpsertAnnotationFn func(a domain.Annotation) (domain.Annotation, error)
	ListNodesFn        func(filter domain.NodeFilter, onlyEmbedded bool, limit int) ([]domain.KnowledgeNode, error)
}

// NewMockStore создает пустое хранилище
func NewMockStore() *MockStore {
	return &MockStore{
		Datasets:    make(map[int64]domain.Dataset),
		Documents:   make(map[int64]domain.Document),
		Chunks:      make(map[int64]domain.Chunk),
		Annotations: make(map[int64]domain.Annotation),
		Nodes:       make(map[int64]domain.KnowledgeNode),
		Rubrics:     make(map[int64]domain.Rubric),
		Jobs:        make(map[uuid.UUID]domain.Job),

		ChunkEmbeddings: make(map[string]domain.ChunkEmbedding),
	}
}

func (m *MockStore) id() int64 {
	m.nextID++
	return m.nextID
}

func (m *MockStore) CreateDataset(_ context.Context, name string) (domain.Dataset, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, ds := range m.Datasets {
		if ds.Name == name {
			return ds, nil
		}
	}
	ds := domain.Dataset{ID: m.id(), Name: name, CreatedAt: time.Now()}
	m.Datasets[ds.ID] = ds
	return ds, nil
}

func (m *MockStore) SaveDocument(_ context.Context, doc domain.Document, chunks []string) (domain.Document, error) {
	if m.SaveDocumentFn != nil {
		return m.SaveDocumentFn(doc, chunks)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	doc.ID = m.id()
	doc.CreatedAt = time.Now()
	m.Documents[doc.ID] = doc
	for i, text := range chunks {
		c := domain.Chunk{ID: m.id(), DocumentID: doc.ID, Index: i, Text: text}
		m.Chunks[c.ID] = c
	}
	return doc, nil
}

func (m *MockStore) GetDocument(_ context.Context, id int64) (domain.Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	doc, ok := m.Documents[id]
	if !ok {
		return domain.Document{}, fmt.Errorf("документ %d: %w", id, domain.ErrNotFound)
	}
	return doc, nil
}

func (m *MockStore) ListDocuments(_ context.Context, datasetID int64) ([]domain.Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Document
	for _, d := range m.Documents {
		if d.DatasetID == datasetID {
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *MockStore) ListChunks(_ context.Context, datasetID int64) ([]domain.Chunk, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.datasetChunks(datasetID), nil
}

func (m *MockStore) datasetChunks(datasetID int64) []domain.Chunk {
	var out []domain.Chunk
	for _, c := range m.Chunks {
		if m.Documents[c.DocumentID].DatasetID == datasetID {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].DocumentID != out[j].DocumentID {
			return out[i].DocumentID < out[j].DocumentID
		}
		return out[i].Index < out[j].Index
	})
	return out
}

func (m *MockStore) DeleteDocument(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.Documents[id]; !ok {
		return fmt.Errorf("документ %d: %w", id, domain.ErrNotFound)
	}
	for cid, c := range m.Chunks {
		if c.DocumentID == id {
			delete(m.Chunks, cid)
		}
	}
	delete(m.Documents, id)
	return nil
}

func (m *MockStore) UpsertAnnotation(_ context.Context, a domain.Annotation) (domain.Annotation, error) {
	if m.UpsertAnnotationFn != nil {
		return m.UpsertAnnotationFn(a)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, existing := range m.Annotations {
		if existing.ChunkID == a.ChunkID && existing.Level == a.Level {
			a.ID = id
			a.Version = existing.Version + 1
			a.CreatedAt = time.Now()
			m.Annotations[id] = a
			return a, nil
		}
	}
	a.ID = m.id()
	a.Version = 1
	a.CreatedAt = time.Now()
	m.Annotations[a.ID] = a
	return a, nil
}

func (m *MockStore) ListChunkAnnotations(_ context.Context, chunkID int64) ([]domain.Annotation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Annotation
	for _, a := range m.Annotations {
		if a.ChunkID == chunkID {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *MockStore) ListDatasetAnnotations(_ context.Context, datasetID int64) ([]domain.Annotation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Annotation
	for _, a := range m.Annotations {
		if c, ok := m.Chunks[a.ChunkID]; ok && m.Documents[c.DocumentID].DatasetID == datasetID {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *MockStore) CountChunks(_ context.Context, datasetID int64) (int, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	chunks := m.datasetChunks(datasetID)
	annotated := make(map[int64]struct{})
	for _, a := range m.Annotations {
		for _, c := range chunks {
			if c.ID == a.ChunkID {
				annotated[c.ID] = struct{}{}
			}
		}
	}
	return len(chunks), len(annotated), nil
}

func (m *MockStore) UpsertNodes(_ context.Context, nodes []domain.KnowledgeNode) ([]domain.KnowledgeNode, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.KnowledgeNode, 0, len(nodes))
	for _, n := range nodes {
		if n.Key == "" {
			n.Key = strings.ToLower(n.Title)
		}
		n.ID, n.Version = 0, 1
		for id, existing := range m.Nodes {
			if existing.DatasetID == n.DatasetID && sameDoc(existing.DocumentID, n.DocumentID) && existing.Key == n.Key {
				n.ID = id
				n.Version = existing.Version + 1
				break
			}
		}
		if n.ID == 0 {
			n.ID = m.id()
		}
		m.Nodes[n.ID] = n
		out = append(out, n)
	}
	return out, nil
}

func sameDoc(a, b *int64) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

func (m *MockStore) ListNodes(_ context.Context, filter domain.NodeFilter, onlyEmbedded bool, limit int) ([]domain.KnowledgeNode, error) {
	if m.ListNodesFn != nil {
		return m.ListNodesFn(filter, onlyEmbedded, limit)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.KnowledgeNode
	for _, n := range m.Nodes {
		if filter.DatasetID != nil && n.DatasetID != *filter.DatasetID {
			continue
		}
		if filter.DocumentID != nil && !sameDoc(n.DocumentID, filter.DocumentID) {
			continue
		}
		if filter.EmbeddingModel != nil && n.EmbeddingModel != *filter.EmbeddingModel {
			continue
		}
		if filter.ExcludeID != 0 && n.ID == filter.ExcludeID {
			continue
		}
		if onlyEmbedded && len(n.Embedding) == 0 {
			continue
		}
		out = append(out, n)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MockStore) SaveRubric(_ context.Context, r domain.Rubric) (domain.Rubric, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r.ID = m.id()
	r.Version = 1
	for id, existing := range m.Rubrics {
		if existing.Level != r.Level {
			continue
		}
		if existing.Version >= r.Version {
			r.Version = existing.Version + 1
		}
		if r.IsActive {
			existing.IsActive = false
			m.Rubrics[id] = existing
		}
	}
	m.Rubrics[r.ID] = r
	return r, nil
}

func (m *MockStore) ActiveRubric(_ context.Context, level domain.Level) (domain.Rubric, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var best *domain.Rubric
	for _, r := range m.Rubrics {
		if r.Level == level && r.IsActive && (best == nil || r.Version > best.Version) {
			r := r
			best = &r
		}
	}
	if best == nil {
		return domain.Rubric{}, fmt.Errorf("рубрика уровня %s: %w", level, domain.ErrNotFound)
	}
	return *best, nil
}

func (m *MockStore) SaveJob(_ context.Context, job domain.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Jobs[job.ID] = job
	return nil
}

func (m *MockStore) GetJob(_ context.Context, id uuid.UUID) (domain.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.Jobs[id]
	if !ok {
		return domain.Job{}, fmt.Errorf("задача %s: %w", id, domain.ErrNotFound)
	}
	return job, nil
}

func (m *MockStore) UpsertChunkEmbeddings(_ context.Context, embs []domain.ChunkEmbedding) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range embs {
		if len(e.Vector) == 0 {
			return domain.NewValidationError("пустой вектор фрагмента %d", e.ChunkID)
		}
		e.Dim = len(e.Vector)
		m.ChunkEmbeddings[fmt.Sprintf("%d/%s", e.ChunkID, e.Model)] = e
	}
	return nil
}

func (m *MockStore) ListChunkEmbeddings(_ context.Context, datasetID *int64, model string) ([]domain.ChunkEmbedding, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.ChunkEmbedding
	for _, e := range m.ChunkEmbeddings {
		c, ok := m.Chunks[e.ChunkID]
		if !ok || e.Model != model {
			continue
		}
		e.DatasetID = m.Documents[c.DocumentID].DatasetID
		if datasetID != nil && e.DatasetID != *datasetID {
			continue
		}
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ChunkID < out[j].ChunkID })
	return out, nil
}

func (m *MockStore) ChunkHits(_ context.Context, ids []int64) (map[int64]domain.ChunkHit, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[int64]domain.ChunkHit, len(ids))
	for _, id := range ids {
		c, ok := m.Chunks[id]
		if !ok {
			continue
		}
		out[id] = domain.ChunkHit{
			ChunkID:       id,
			Text:          c.Text,
			DocumentID:    c.DocumentID,
			DocumentTitle: m.Documents[c.DocumentID].Title,
		}
	}
	return out, nil
}

func (m *MockStore) DatasetStatus(_ context.Context, datasetID int64) (domain.DatasetStatus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.Datasets[datasetID]; !ok {
		return domain.DatasetStatus{}, fmt.Errorf("набор %d: %w", datasetID, domain.ErrNotFound)
	}
	st := domain.DatasetStatus{DatasetID: datasetID}
	for _, d := range m.Documents {
		if d.DatasetID == datasetID {
			st.Documents++
		}
	}
	chunks := m.datasetChunks(datasetID)
	st.Chunks = len(chunks)
	inDataset := make(map[int64]bool, len(chunks))
	for _, c := range chunks {
		inDataset[c.ID] = true
	}
	for _, e := range m.ChunkEmbeddings {
		if inDataset[e.ChunkID] {
			st.Embeddings++
		}
	}
	for _, a := range m.Annotations {
		if inDataset[a.ChunkID] {
			st.Annotations++
		}
	}
	for _, j := range m.Jobs {
		if id, ok := j.DatasetID(); !ok || id != datasetID {
			continue
		}
		if st.LastJob == nil || j.CreatedAt.After(st.LastJob.CreatedAt) {
			j := j
			st.LastJob = &j
		}
	}
	return st, nil
}
