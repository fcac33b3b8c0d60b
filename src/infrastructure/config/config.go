package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"

	"bloom-graph/src/core/graph"
	"bloom-graph/src/domain"
)

// Допустимый диапазон размерности эмбеддингов
const (
	MinEmbeddingDim = 8
	MaxEmbeddingDim = 4096
)

// AIConfig параметры LLM-провайдера
type AIConfig struct {
	BaseURL     string  `yaml:"base_url"`
	APIKey      string  `yaml:"api_key"`
	Model       string  `yaml:"model"`
	TimeoutSecs int     `yaml:"timeout"`
	MaxTokens   int     `yaml:"max_tokens"`
	Temperature float64 `yaml:"temperature"`
}

// EmbeddingConfig параметры эмбеддингов; provider "hash" не требует сети
type EmbeddingConfig struct {
	Provider string `yaml:"provider"`
	Model    string `yaml:"model"`
	Dim      int    `yaml:"dim"`
}

// ClassifierConfig выбор классификатора и политика повторов
type ClassifierConfig struct {
	Provider      string `yaml:"provider"` // heuristic или openai
	MaxRetries    int    `yaml:"max_retries"`
	BackoffMillis int    `yaml:"backoff_ms"`
	Concurrency   int    `yaml:"concurrency"`
	KeywordsPath  string `yaml:"keywords_path"`
}

// TaxonomyConfig параметры мульти-меточной классификации
type TaxonomyConfig struct {
	MinProb   float64 `yaml:"min_prob"`
	MaxLevels int     `yaml:"max_levels"`
}

// NodesConfig параметры извлечения узлов
type NodesConfig struct {
	MaxNodes int `yaml:"max_nodes"`
	MinFreq  int `yaml:"min_freq"`
}

// ChunkingConfig параметры разбиения текста
type ChunkingConfig struct {
	MinLen int `yaml:"min_len"`
}

// StorageConfig реляционное и векторное хранилища
type StorageConfig struct {
	SQLitePath  string `yaml:"sqlite_path"`
	PostgresDSN string `yaml:"postgres_dsn"`
}

// Neo4jConfig подключение к Neo4j; пустой URI отключает синхронизацию графа
type Neo4jConfig struct {
	URI      string `yaml:"uri"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
}

// RedisConfig кэш эмбеддингов; пустой адрес отключает кэш
type RedisConfig struct {
	Addr       string `yaml:"addr"`
	Password   string `yaml:"password"`
	DB         int    `yaml:"db"`
	Prefix     string `yaml:"prefix"`
	TTLSeconds int    `yaml:"ttl"`
}

// LoggingConfig режим логирования
type LoggingConfig struct {
	Mode string `yaml:"mode"`
}

// Config корневая конфигурация приложения
type Config struct {
	AI         AIConfig             `yaml:"ai"`
	Embedding  EmbeddingConfig      `yaml:"embedding"`
	Classifier ClassifierConfig     `yaml:"classifier"`
	Taxonomy   TaxonomyConfig       `yaml:"taxonomy"`
	Chunking   ChunkingConfig       `yaml:"chunking"`
	Nodes      NodesConfig          `yaml:"nodes"`
	Graph      graph.Config         `yaml:"graph"`
	Sequence   graph.SequenceConfig `yaml:"sequence"`
	Storage    StorageConfig        `yaml:"storage"`
	Neo4j      Neo4jConfig          `yaml:"neo4j"`
	Redis      RedisConfig          `yaml:"redis"`
	Logging    LoggingConfig        `yaml:"logging"`
}

// Defaults значения по умолчанию для всех параметров
func Defaults() Config {
	return Config{
		AI: AIConfig{
			BaseURL:     "https://api.openai.com/v1",
			Model:       "gpt-4o-mini",
			TimeoutSecs: 30,
			MaxTokens:   512,
			Temperature: 0.0,
		},
		Embedding:  EmbeddingConfig{Provider: "hash", Model: "hash-v1", Dim: 384},
		Classifier: ClassifierConfig{Provider: "heuristic", MaxRetries: 2, BackoffMillis: 500, Concurrency: 4},
		Taxonomy:   TaxonomyConfig{MinProb: 0.2, MaxLevels: 2},
		Chunking:   ChunkingConfig{MinLen: 20},
		Nodes:      NodesConfig{MaxNodes: 30, MinFreq: 1},
		Graph:      graph.DefaultConfig(),
		Sequence:   graph.DefaultSequenceConfig(),
		Storage:    StorageConfig{SQLitePath: "./bloom_graph.db"},
		Neo4j:      Neo4jConfig{User: "neo4j", Database: "neo4j"},
		Redis:      RedisConfig{Prefix: "bloom:emb", TTLSeconds: 86400},
		Logging:    LoggingConfig{Mode: "dev"},
	}
}

// LoadConfig загружает конфигурацию из YAML поверх значений по умолчанию,
// применяет переменные окружения и проверяет результат
func LoadConfig(path string) (Config, error) {
	cfg := Defaults()

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("ошибка чтения файла конфигурации: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("ошибка парсинга YAML: %w", err)
	}
	applyEnv(&cfg)
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// LoadOrDefault как LoadConfig, но отсутствие файла не является ошибкой
func LoadOrDefault(path string) (Config, error) {
	cfg, err := LoadConfig(path)
	if errors.Is(err, fs.ErrNotExist) {
		cfg = Defaults()
		applyEnv(&cfg)
		return cfg, cfg.Validate()
	}
	return cfg, err
}

func applyEnv(cfg *Config) {
	setString := func(dst *string, key string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	setString(&cfg.AI.APIKey, "AI_API_KEY")
	setString(&cfg.AI.Model, "AI_MODEL")
	setString(&cfg.AI.BaseURL, "AI_BASE_URL")
	setString(&cfg.Storage.SQLitePath, "BLOOM_DB_PATH")
	setString(&cfg.Storage.PostgresDSN, "BLOOM_POSTGRES_DSN")
	setString(&cfg.Neo4j.URI, "NEO4J_URI")
	setString(&cfg.Neo4j.User, "NEO4J_USER")
	setString(&cfg.Neo4j.Password, "NEO4J_PASSWORD")
	setString(&cfg.Redis.Addr, "REDIS_ADDR")
	setString(&cfg.Logging.Mode, "BLOOM_LOG_MODE")
	if v := os.Getenv("BLOOM_EMBEDDING_DIM"); v != "" {
		if dim, err := strconv.Atoi(v); err == nil {
			cfg.Embedding.Dim = dim
		}
	}
}

// Validate проверяет диапазоны; ошибки оборачивают domain.ErrInvalidConfig
func (c Config) Validate() error {
	if c.Embedding.Dim < MinEmbeddingDim || c.Embedding.Dim > MaxEmbeddingDim {
		return domain.NewConfigError("неподдерживаемая размерность эмбеддинга %d (допустимо %d..%d)",
			c.Embedding.Dim, MinEmbeddingDim, MaxEmbeddingDim)
	}
	switch c.Embedding.Provider {
	case "hash", "openai":
	default:
		return domain.NewConfigError("неизвестный провайдер эмбеддингов %q", c.Embedding.Provider)
	}
	switch c.Classifier.Provider {
	case "heuristic", "openai":
	default:
		return domain.NewConfigError("неизвестный классификатор %q", c.Classifier.Provider)
	}
	if c.Classifier.MaxRetries < 0 || c.Classifier.BackoffMillis < 0 {
		return domain.NewConfigError("параметры повторов не могут быть отрицательными")
	}
	if c.Taxonomy.MinProb < 0 || c.Taxonomy.MinProb > 1 {
		return domain.NewConfigError("min_prob вне диапазона [0,1]: %v", c.Taxonomy.MinProb)
	}
	if c.Taxonomy.MaxLevels < 1 {
		return domain.NewConfigError("max_levels должен быть >= 1: %d", c.Taxonomy.MaxLevels)
	}
	if c.Chunking.MinLen < 0 {
		return domain.NewConfigError("min_len не может быть отрицательным: %d", c.Chunking.MinLen)
	}
	if c.Nodes.MaxNodes < 1 {
		return domain.NewConfigError("max_nodes должен быть >= 1: %d", c.Nodes.MaxNodes)
	}
	if c.Nodes.MinFreq < 1 {
		return domain.NewConfigError("min_freq должен быть >= 1: %d", c.Nodes.MinFreq)
	}
	if err := c.Graph.Validate(); err != nil {
		return err
	}
	if c.Sequence.SimilarityThreshold < 0 || c.Sequence.SimilarityThreshold > 1 {
		return domain.NewConfigError("similarity_threshold вне диапазона [0,1]: %v", c.Sequence.SimilarityThreshold)
	}
	if c.Sequence.MaxEdges < 1 {
		return domain.NewConfigError("sequence.max_edges должен быть >= 1: %d", c.Sequence.MaxEdges)
	}
	return nil
}
