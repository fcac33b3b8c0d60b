package mocks

import (
	"context"
	"sync"

	"bloom-graph/src/domain"
)

// MockClassifier классификатор с подменяемым поведением
type MockClassifier struct {
	mu         sync.Mutex
	NameValue  string
	AnnotateFn func(ctx context.Context, chunk string, level domain.Level, rubric string) (domain.AnnotationResult, error)
	Calls      int
}

func (m *MockClassifier) Name() string {
	if m.NameValue == "" {
		return "mock"
	}
	return m.NameValue
}

func (m *MockClassifier) Annotate(ctx context.Context, chunk string, level domain.Level, rubric string) (domain.AnnotationResult, error) {
	m.mu.Lock()
	m.Calls++
	m.mu.Unlock()
	if m.AnnotateFn != nil {
		return m.AnnotateFn(ctx, chunk, level, rubric)
	}
	return domain.AnnotationResult{Level: level, Label: "mock", Rationale: "mock", Score: 0.5}, nil
}

// CallCount возвращает число вызовов Annotate
func (m *MockClassifier) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.Calls
}

// MockEmbedder возвращает заданные векторы по тексту, остальным одинаковый вектор
type MockEmbedder struct {
	ModelName string
	Vectors   map[string][]float32
	Default   []float32
	EmbedFn   func(ctx context.Context, texts []string) ([][]float32, error)
}

func (m *MockEmbedder) Model() string { return m.ModelName }

func (m *MockEmbedder) Dim() int { return len(m.Default) }

func (m *MockEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if m.EmbedFn != nil {
		return m.EmbedFn(ctx, texts)
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		if v, ok := m.Vectors[t]; ok {
			out[i] = v
			continue
		}
		out[i] = m.Default
	}
	return out, nil
}

// MockGraphSink запоминает выгруженные графы
type MockGraphSink struct {
	Graphs map[int64]domain.Graph
	Err    error
}

func (m *MockGraphSink) UpsertGraph(_ context.Context, datasetID int64, g domain.Graph) error {
	if m.Err != nil {
		return m.Err
	}
	if m.Graphs == nil {
		m.Graphs = make(map[int64]domain.Graph)
	}
	m.Graphs[datasetID] = g
	return nil
}
