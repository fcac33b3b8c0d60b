package ai

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bloom-graph/src/domain"
	"bloom-graph/src/infrastructure/config"
)

func chatServer(t *testing.T, status int, body string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func chatBody(content string) string {
	raw, _ := json.Marshal(map[string]any{
		"choices": []map[string]any{{"index": 0, "message": map[string]string{"role": "assistant", "content": content}}},
	})
	return string(raw)
}

func testAIConfig(url string) config.AIConfig {
	return config.AIConfig{BaseURL: url, APIKey: "test-key", Model: "test-model", TimeoutSecs: 5, MaxTokens: 100}
}

func TestClientAnnotateFencedJSON(t *testing.T) {
	content := "Вот ответ:\n```json\n{\"level\":\"apply\",\"label\":\"Применение\",\"rationale\":\"есть задача\",\"score\":0.8}\n```"
	srv := chatServer(t, http.StatusOK, chatBody(content))

	client, err := NewClient(testAIConfig(srv.URL), nil)
	require.NoError(t, err)
	res, err := client.Annotate(context.Background(), "Решите задачу.", domain.LevelApply, "")
	require.NoError(t, err)
	assert.Equal(t, domain.AnnotationResult{Level: domain.LevelApply, Label: "Применение", Rationale: "есть задача", Score: 0.8}, res)
	assert.Equal(t, "openai", client.Name())
}

func TestClientAnnotateErrors(t *testing.T) {
	t.Run("server error", func(t *testing.T) {
		srv := chatServer(t, http.StatusInternalServerError, `{"error":{"message":"Internal server error"}}`)
		client, err := NewClient(testAIConfig(srv.URL), nil)
		require.NoError(t, err)
		_, err = client.Annotate(context.Background(), "текст", domain.LevelApply, "")
		assert.Error(t, err)
	})
	t.Run("empty choices", func(t *testing.T) {
		srv := chatServer(t, http.StatusOK, `{"choices":[]}`)
		client, err := NewClient(testAIConfig(srv.URL), nil)
		require.NoError(t, err)
		_, err = client.Annotate(context.Background(), "текст", domain.LevelApply, "")
		assert.True(t, errors.Is(err, domain.ErrEmptyResponse))
	})
	t.Run("no json", func(t *testing.T) {
		srv := chatServer(t, http.StatusOK, chatBody("не знаю"))
		client, err := NewClient(testAIConfig(srv.URL), nil)
		require.NoError(t, err)
		_, err = client.Annotate(context.Background(), "текст", domain.LevelApply, "")
		assert.Error(t, err)
	})
}

func TestNewClientRequiresKey(t *testing.T) {
	_, err := NewClient(config.AIConfig{}, nil)
	assert.True(t, errors.Is(err, domain.ErrInvalidConfig))
}

func TestExtractJSONBlock(t *testing.T) {
	block, err := ExtractJSONBlock("  {\"a\": 1}  ")
	require.NoError(t, err)
	assert.Equal(t, `{"a": 1}`, block)

	block, err = ExtractJSONBlock("текст ```\n{\"b\":2}\n``` хвост")
	require.NoError(t, err)
	assert.Equal(t, `{"b":2}`, block)

	block, err = ExtractJSONBlock("```python\nx=1\n``` и ```json {\"c\":3}```")
	require.NoError(t, err)
	assert.Equal(t, `{"c":3}`, block)

	_, err = ExtractJSONBlock("```json\nnot json\n```")
	assert.Error(t, err)
}

func TestParseAnnotationSchemaMismatch(t *testing.T) {
	_, err := ParseAnnotation(`{"level":"apply","score":"high"}`)
	assert.True(t, errors.Is(err, domain.ErrValidation))
}

func TestBuildPrompt(t *testing.T) {
	prompt := BuildPrompt("Фрагмент с\x00нулевым байтом", domain.LevelAnalyze, "глубина анализа")
	assert.Contains(t, prompt, "уровня: analyze")
	assert.Contains(t, prompt, "Критерии оценки: глубина анализа")
	assert.Contains(t, prompt, "Выделите части, связи и причины.")
	assert.NotContains(t, prompt, "\x00")

	noRubric := BuildPrompt("текст", domain.LevelCreate, "  ")
	assert.NotContains(t, noRubric, "Критерии оценки")
}

func TestHashEmbedder(t *testing.T) {
	e, err := NewHashEmbedder("", 64)
	require.NoError(t, err)
	assert.Equal(t, "hash-v1", e.Model())
	assert.Equal(t, 64, e.Dim())

	vecs, err := e.Embed(context.Background(), []string{"Пушкин написал роман", "пушкин написал РОМАН", "", "совсем другой текст"})
	require.NoError(t, err)
	require.Len(t, vecs, 4)
	assert.Equal(t, vecs[0], vecs[1], "регистр не влияет на вектор")
	assert.Len(t, vecs[2], 64)
	for _, v := range vecs[2] {
		assert.Zero(t, v)
	}

	var norm float64
	for _, v := range vecs[0] {
		norm += float64(v) * float64(v)
	}
	assert.InDelta(t, 1.0, math.Sqrt(norm), 1e-5)
	assert.NotEqual(t, vecs[0], vecs[3])

	_, err = NewHashEmbedder("x", 4)
	assert.True(t, errors.Is(err, domain.ErrInvalidConfig))
}

func TestOpenAIEmbedder(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/embeddings", r.URL.Path)
		var req struct {
			Input []string `json:"input"`
			Model string   `json:"model"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "text-embedding-ada-002", req.Model)
		data := make([]map[string]any, 0, len(req.Input))
		// ответ в обратном порядке: клиент должен расставить векторы по index
		for i := len(req.Input) - 1; i >= 0; i-- {
			vec := make([]float32, 8)
			vec[0] = float32(i)
			data = append(data, map[string]any{"object": "embedding", "index": i, "embedding": vec})
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{"object": "list", "data": data, "model": req.Model})
	}))
	defer srv.Close()

	e, err := NewOpenAIEmbedder(testAIConfig(srv.URL), config.EmbeddingConfig{Provider: "openai", Model: "text-embedding-ada-002", Dim: 8})
	require.NoError(t, err)
	assert.Equal(t, "text-embedding-ada-002", e.Model())
	vecs, err := e.Embed(context.Background(), []string{"a", "b", "c"})
	require.NoError(t, err)
	require.Len(t, vecs, 3)
	assert.Equal(t, float32(2), vecs[2][0])

	wrongDim, err := NewOpenAIEmbedder(testAIConfig(srv.URL), config.EmbeddingConfig{Model: "text-embedding-ada-002", Dim: 16})
	require.NoError(t, err)
	_, err = wrongDim.Embed(context.Background(), []string{"a"})
	assert.True(t, errors.Is(err, domain.ErrValidation))
}

func TestOpenAIEmbedderRejectsUnknownModel(t *testing.T) {
	for _, name := range []string{"", "emb-model", "hash-v1"} {
		_, err := NewOpenAIEmbedder(testAIConfig("http://localhost"), config.EmbeddingConfig{Provider: "openai", Model: name, Dim: 8})
		assert.True(t, errors.Is(err, domain.ErrInvalidConfig), "модель %q", name)
	}
}
