package application

import (
	"context"
	"errors"
	"fmt"
	"time"

	"bloom-graph/src/core/taxonomy"
	"bloom-graph/src/domain"
	"bloom-graph/src/infrastructure/logger"
)

// Outcome результат классификации с указанием сработавшего провайдера
type Outcome struct {
	Result   domain.AnnotationResult
	Provider string
	Attempts int
	Fallback bool
}

// ResilientClassifier вызывает основной классификатор с повторами,
// проверяет ответ и при неудаче переходит на эвристику
type ResilientClassifier struct {
	primary    domain.Classifier
	fallback   domain.Classifier
	maxRetries int
	backoff    time.Duration
	log        *logger.Logger
	sleep      func(ctx context.Context, d time.Duration) error
}

// NewResilientClassifier создает классификатор; primary может быть nil,
// тогда сразу используется fallback (по умолчанию эвристический)
func NewResilientClassifier(primary, fallback domain.Classifier, maxRetries int, backoff time.Duration, log *logger.Logger) *ResilientClassifier {
	if fallback == nil {
		fallback = taxonomy.NewHeuristicAnnotator()
	}
	if log == nil {
		log = logger.NewNop()
	}
	if maxRetries < 0 {
		maxRetries = 0
	}
	return &ResilientClassifier{
		primary:    primary,
		fallback:   fallback,
		maxRetries: maxRetries,
		backoff:    backoff,
		log:        log,
		sleep:      sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Name возвращает имя основного провайдера
func (c *ResilientClassifier) Name() string {
	if c.primary != nil {
		return c.primary.Name()
	}
	return c.fallback.Name()
}

// Annotate реализует domain.Classifier
func (c *ResilientClassifier) Annotate(ctx context.Context, chunk string, level domain.Level, rubric string) (domain.AnnotationResult, error) {
	out, err := c.Classify(ctx, chunk, level, rubric)
	if err != nil {
		return domain.AnnotationResult{}, err
	}
	return out.Result, nil
}

// Classify делает до maxRetries+1 попыток с паузой backoff*(номер попытки),
// затем обращается к запасному классификатору
func (c *ResilientClassifier) Classify(ctx context.Context, chunk string, level domain.Level, rubric string) (Outcome, error) {
	attempts := 0
	if c.primary != nil {
		var lastErr error
		for i := 0; i <= c.maxRetries; i++ {
			attempts++
			res, err := c.primary.Annotate(ctx, chunk, level, rubric)
			if err == nil {
				err = taxonomy.ValidateAnnotation(res)
			}
			if err == nil {
				return Outcome{Result: res, Provider: c.primary.Name(), Attempts: attempts}, nil
			}
			if ctxErr := ctx.Err(); ctxErr != nil {
				return Outcome{}, ctxErr
			}
			lastErr = err
			if i < c.maxRetries {
				if err := c.sleep(ctx, c.backoff*time.Duration(i+1)); err != nil {
					return Outcome{}, err
				}
			}
		}
		c.log.Warn("основной классификатор недоступен, используется эвристика",
			"provider", c.primary.Name(), "attempts", attempts, "error", lastErr)
	}

	res, err := c.fallback.Annotate(ctx, chunk, level, rubric)
	if err != nil {
		return Outcome{}, fmt.Errorf("ошибка запасного классификатора: %w", err)
	}
	if err := taxonomy.ValidateAnnotation(res); err != nil {
		return Outcome{}, fmt.Errorf("некорректный ответ запасного классификатора: %w", err)
	}
	return Outcome{Result: res, Provider: c.fallback.Name(), Attempts: attempts, Fallback: true}, nil
}

// isValidation сообщает, что ошибка вызвана некорректным ответом, а не сбоем
func isValidation(err error) bool {
	return errors.Is(err, domain.ErrValidation) || errors.Is(err, domain.ErrEmptyResponse)
}
