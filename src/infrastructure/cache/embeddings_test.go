package cache

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memCache struct {
	data   map[string][]float32
	getErr error
}

func (m *memCache) GetMany(_ context.Context, keys []string) (map[string][]float32, error) {
	if m.getErr != nil {
		return nil, m.getErr
	}
	out := map[string][]float32{}
	for _, k := range keys {
		if v, ok := m.data[k]; ok {
			out[k] = v
		}
	}
	return out, nil
}

func (m *memCache) SetMany(_ context.Context, items map[string][]float32) error {
	for k, v := range items {
		m.data[k] = v
	}
	return nil
}

type countingEmbedder struct {
	calls [][]string
}

func (c *countingEmbedder) Model() string { return "m" }
func (c *countingEmbedder) Dim() int      { return 2 }
func (c *countingEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	c.calls = append(c.calls, texts)
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = []float32{float32(len(t)), 1}
	}
	return out, nil
}

func TestKeyIsStable(t *testing.T) {
	a := Key("bloom:emb", "m", 2, "текст")
	assert.Equal(t, a, Key("bloom:emb", "m", 2, "текст"))
	assert.NotEqual(t, a, Key("bloom:emb", "m", 3, "текст"))
	assert.NotEqual(t, a, Key("bloom:emb", "m", 2, "другой"))
	assert.Contains(t, a, "bloom:emb:m:2:")
}

func TestCachedEmbedderOnlyEmbedsMisses(t *testing.T) {
	store := &memCache{data: map[string][]float32{}}
	inner := &countingEmbedder{}
	e := NewCachedEmbedder(inner, store, "p", nil)
	ctx := context.Background()

	first, err := e.Embed(ctx, []string{"a", "bb"})
	require.NoError(t, err)
	assert.Equal(t, [][]float32{{1, 1}, {2, 1}}, first)

	second, err := e.Embed(ctx, []string{"bb", "ccc", "a"})
	require.NoError(t, err)
	assert.Equal(t, [][]float32{{2, 1}, {3, 1}, {1, 1}}, second)
	require.Len(t, inner.calls, 2)
	assert.Equal(t, []string{"ccc"}, inner.calls[1])
	assert.Equal(t, "m", e.Model())
	assert.Equal(t, 2, e.Dim())
}

func TestCachedEmbedderSurvivesCacheErrors(t *testing.T) {
	store := &memCache{data: map[string][]float32{}, getErr: errors.New("down")}
	inner := &countingEmbedder{}
	vecs, err := NewCachedEmbedder(inner, store, "p", nil).Embed(context.Background(), []string{"a"})
	require.NoError(t, err)
	assert.Len(t, vecs, 1)
}

func TestCachedEmbedderIgnoresWrongDimension(t *testing.T) {
	store := &memCache{data: map[string][]float32{Key("p", "m", 2, "a"): {9}}}
	inner := &countingEmbedder{}
	vecs, err := NewCachedEmbedder(inner, store, "p", nil).Embed(context.Background(), []string{"a"})
	require.NoError(t, err)
	assert.Equal(t, []float32{1, 1}, vecs[0])
}
