package ai

import (
	"context"
	"fmt"
	"math"

	"github.com/minio/highwayhash"
	"github.com/sashabaranov/go-openai"

	"bloom-graph/src/core/chunking"
	"bloom-graph/src/domain"
	"bloom-graph/src/infrastructure/config"
)

// OpenAIEmbedder эмбеддинги через OpenAI-совместимый API
type OpenAIEmbedder struct {
	api   *openai.Client
	model openai.EmbeddingModel
	name  string
	dim   int
}

// embeddingModel сопоставляет имя модели перечислению клиента;
// неизвестные клиенту имена отклоняются, иначе в запрос ушла бы пустая модель
func embeddingModel(name string) (openai.EmbeddingModel, error) {
	var m openai.EmbeddingModel
	if err := m.UnmarshalText([]byte(name)); err != nil || m == openai.Unknown {
		return openai.Unknown, domain.NewConfigError("неподдерживаемая модель эмбеддингов %q", name)
	}
	return m, nil
}

// NewOpenAIEmbedder создает клиент эмбеддингов; размерность проверяется на каждом ответе
func NewOpenAIEmbedder(ai config.AIConfig, emb config.EmbeddingConfig) (*OpenAIEmbedder, error) {
	if ai.APIKey == "" {
		return nil, domain.NewConfigError("не задан ключ API для эмбеддингов")
	}
	if emb.Dim < config.MinEmbeddingDim || emb.Dim > config.MaxEmbeddingDim {
		return nil, domain.NewConfigError("неподдерживаемая размерность эмбеддинга %d", emb.Dim)
	}
	model, err := embeddingModel(emb.Model)
	if err != nil {
		return nil, err
	}
	return &OpenAIEmbedder{
		api:   openai.NewClientWithConfig(clientConfig(ai)),
		model: model,
		name:  model.String(),
		dim:   emb.Dim,
	}, nil
}

func (e *OpenAIEmbedder) Model() string { return e.name }
func (e *OpenAIEmbedder) Dim() int      { return e.dim }

// Embed возвращает векторы в порядке входных текстов
func (e *OpenAIEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	resp, err := e.api.CreateEmbeddings(ctx, openai.EmbeddingRequestStrings{
		Input: texts,
		Model: e.model,
	})
	if err != nil {
		return nil, fmt.Errorf("ошибка запроса эмбеддингов: %w", err)
	}
	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("%w: получено %d векторов из %d", domain.ErrEmptyResponse, len(resp.Data), len(texts))
	}
	out := make([][]float32, len(texts))
	for _, d := range resp.Data {
		if d.Index < 0 || d.Index >= len(texts) {
			return nil, domain.NewValidationError("индекс эмбеддинга вне диапазона: %d", d.Index)
		}
		if len(d.Embedding) != e.dim {
			return nil, domain.NewValidationError("размерность эмбеддинга %d, ожидалась %d", len(d.Embedding), e.dim)
		}
		out[d.Index] = d.Embedding
	}
	return out, nil
}

var hashKey = []byte("bloom-graph/feature-hashing/0001")

// HashEmbedder детерминированные эмбеддинги хешированием признаков без внешних вызовов.
// Каждая словоформа попадает в одну из dim координат со знаком из старшего бита хеша;
// вектор нормируется по L2.
type HashEmbedder struct {
	model string
	dim   int
}

// NewHashEmbedder создает эмбеддер размерности dim
func NewHashEmbedder(model string, dim int) (*HashEmbedder, error) {
	if dim < config.MinEmbeddingDim || dim > config.MaxEmbeddingDim {
		return nil, domain.NewConfigError("неподдерживаемая размерность эмбеддинга %d", dim)
	}
	if model == "" {
		model = "hash-v1"
	}
	return &HashEmbedder{model: model, dim: dim}, nil
}

func (h *HashEmbedder) Model() string { return h.model }
func (h *HashEmbedder) Dim() int      { return h.dim }

// Embed не обращается к сети; пустой текст дает нулевой вектор
func (h *HashEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = h.vector(t)
	}
	return out, nil
}

func (h *HashEmbedder) vector(text string) []float32 {
	acc := make([]float64, h.dim)
	for _, tok := range chunking.Tokens(text) {
		sum := highwayhash.Sum64([]byte(tok), hashKey)
		idx := sum % uint64(h.dim)
		if sum>>63 == 1 {
			acc[idx]--
		} else {
			acc[idx]++
		}
	}
	var norm float64
	for _, v := range acc {
		norm += v * v
	}
	vec := make([]float32, h.dim)
	if norm == 0 {
		return vec
	}
	norm = math.Sqrt(norm)
	for i, v := range acc {
		vec[i] = float32(v / norm)
	}
	return vec
}
