package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/minio/highwayhash"
	"github.com/redis/go-redis/v9"

	"bloom-graph/src/domain"
	"bloom-graph/src/infrastructure/config"
	"bloom-graph/src/infrastructure/logger"
)

var hashKey = []byte("bloom-graph/embedding-cache/0001")

// VectorCache хранилище векторов по ключу
type VectorCache interface {
	GetMany(ctx context.Context, keys []string) (map[string][]float32, error)
	SetMany(ctx context.Context, items map[string][]float32) error
}

// Key ключ кэша вида prefix:model:dim:hash(text)
func Key(prefix, model string, dim int, text string) string {
	sum := highwayhash.Sum64([]byte(text), hashKey)
	return prefix + ":" + model + ":" + strconv.Itoa(dim) + ":" + strconv.FormatUint(sum, 16)
}

// RedisEmbeddingCache кэш эмбеддингов в Redis
type RedisEmbeddingCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisEmbeddingCache создает клиент Redis; пустой адрес возвращает nil
func NewRedisEmbeddingCache(ctx context.Context, cfg config.RedisConfig) (*RedisEmbeddingCache, error) {
	if cfg.Addr == "" {
		return nil, nil
	}
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis: нет соединения с %s: %w", cfg.Addr, err)
	}
	return &RedisEmbeddingCache{client: client, ttl: time.Duration(cfg.TTLSeconds) * time.Second}, nil
}

// Close закрывает клиент
func (c *RedisEmbeddingCache) Close() error {
	return c.client.Close()
}

// GetMany возвращает найденные векторы; отсутствующие ключи пропускаются
func (c *RedisEmbeddingCache) GetMany(ctx context.Context, keys []string) (map[string][]float32, error) {
	out := make(map[string][]float32, len(keys))
	if len(keys) == 0 {
		return out, nil
	}
	vals, err := c.client.MGet(ctx, keys...).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("redis mget: %w", err)
	}
	for i, v := range vals {
		s, ok := v.(string)
		if !ok {
			continue
		}
		var vec []float32
		if err := json.Unmarshal([]byte(s), &vec); err != nil {
			continue
		}
		out[keys[i]] = vec
	}
	return out, nil
}

// SetMany сохраняет векторы с TTL одним конвейером
func (c *RedisEmbeddingCache) SetMany(ctx context.Context, items map[string][]float32) error {
	if len(items) == 0 {
		return nil
	}
	pipe := c.client.Pipeline()
	for k, vec := range items {
		data, err := json.Marshal(vec)
		if err != nil {
			return fmt.Errorf("ошибка маршалинга вектора: %w", err)
		}
		pipe.Set(ctx, k, data, c.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis pipeline: %w", err)
	}
	return nil
}

// CachedEmbedder оборачивает Embedder кэшем; ошибки кэша не прерывают вычисление
type CachedEmbedder struct {
	inner  domain.Embedder
	cache  VectorCache
	prefix string
	log    *logger.Logger
}

// NewCachedEmbedder создает эмбеддер с кэшем
func NewCachedEmbedder(inner domain.Embedder, cache VectorCache, prefix string, log *logger.Logger) *CachedEmbedder {
	if log == nil {
		log = logger.NewNop()
	}
	return &CachedEmbedder{inner: inner, cache: cache, prefix: prefix, log: log}
}

func (e *CachedEmbedder) Model() string { return e.inner.Model() }
func (e *CachedEmbedder) Dim() int      { return e.inner.Dim() }

// Embed берет векторы из кэша и досчитывает только промахи
func (e *CachedEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	keys := make([]string, len(texts))
	for i, t := range texts {
		keys[i] = Key(e.prefix, e.inner.Model(), e.inner.Dim(), t)
	}
	hits, err := e.cache.GetMany(ctx, keys)
	if err != nil {
		e.log.Warn("кэш эмбеддингов недоступен", "error", err)
		hits = map[string][]float32{}
	}

	out := make([][]float32, len(texts))
	var (
		missTexts []string
		missIdx   []int
	)
	for i, k := range keys {
		if vec, ok := hits[k]; ok && len(vec) == e.inner.Dim() {
			out[i] = vec
			continue
		}
		missTexts = append(missTexts, texts[i])
		missIdx = append(missIdx, i)
	}
	if len(missTexts) == 0 {
		return out, nil
	}

	vecs, err := e.inner.Embed(ctx, missTexts)
	if err != nil {
		return nil, err
	}
	if len(vecs) != len(missTexts) {
		return nil, fmt.Errorf("%w: получено %d векторов из %d", domain.ErrEmptyResponse, len(vecs), len(missTexts))
	}
	fresh := make(map[string][]float32, len(vecs))
	for j, vec := range vecs {
		out[missIdx[j]] = vec
		fresh[keys[missIdx[j]]] = vec
	}
	if err := e.cache.SetMany(ctx, fresh); err != nil {
		e.log.Warn("не удалось записать эмбеддинги в кэш", "error", err)
	}
	e.log.Debug("эмбеддинги вычислены", "hits", len(texts)-len(missTexts), "misses", len(missTexts))
	return out, nil
}
