package ai

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/sashabaranov/go-openai"

	"bloom-graph/src/domain"
	"bloom-graph/src/infrastructure/config"
	"bloom-graph/src/infrastructure/logger"
)

// ProviderName имя LLM-провайдера в аннотациях
const ProviderName = "openai"

// Client LLM-классификатор поверх OpenAI-совместимого API
type Client struct {
	api         *openai.Client
	model       string
	maxTokens   int
	temperature float32
	log         *logger.Logger
}

// NewClient создает клиент с явным таймаутом HTTP
func NewClient(cfg config.AIConfig, log *logger.Logger) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, domain.NewConfigError("не задан ключ API (ai.api_key или AI_API_KEY)")
	}
	if log == nil {
		log = logger.NewNop()
	}
	return &Client{
		api:         openai.NewClientWithConfig(clientConfig(cfg)),
		model:       cfg.Model,
		maxTokens:   cfg.MaxTokens,
		temperature: float32(cfg.Temperature),
		log:         log,
	}, nil
}

func clientConfig(cfg config.AIConfig) openai.ClientConfig {
	oc := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		oc.BaseURL = cfg.BaseURL
	}
	timeout := time.Duration(cfg.TimeoutSecs) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	oc.HTTPClient = &http.Client{Timeout: timeout}
	return oc
}

func (c *Client) Name() string { return ProviderName }

// Annotate запрашивает у модели аннотацию фрагмента и разбирает JSON из ответа.
// Проверку схемы выполняет вызывающая сторона.
func (c *Client) Annotate(ctx context.Context, chunk string, level domain.Level, rubric string) (domain.AnnotationResult, error) {
	resp, err := c.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: BuildPrompt(chunk, level, rubric)},
		},
		MaxTokens:   c.maxTokens,
		Temperature: c.temperature,
	})
	if err != nil {
		return domain.AnnotationResult{}, fmt.Errorf("ошибка выполнения запроса: %w", err)
	}
	if len(resp.Choices) == 0 {
		return domain.AnnotationResult{}, fmt.Errorf("API вернул пустой ответ: %w", domain.ErrEmptyResponse)
	}
	content := resp.Choices[0].Message.Content
	c.log.Debug("ответ модели получен", "model", c.model, "level", level, "tokens", resp.Usage.TotalTokens)
	return ParseAnnotation(content)
}
