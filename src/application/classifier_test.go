package application

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bloom-graph/src/domain"
	"bloom-graph/src/domain/mocks"
)

func recordSleeps(c *ResilientClassifier) *[]time.Duration {
	var sleeps []time.Duration
	c.sleep = func(_ context.Context, d time.Duration) error {
		sleeps = append(sleeps, d)
		return nil
	}
	return &sleeps
}

func TestResilientClassifierRetriesThenSucceeds(t *testing.T) {
	calls := 0
	primary := &mocks.MockClassifier{
		NameValue: "openai",
		AnnotateFn: func(_ context.Context, _ string, level domain.Level, _ string) (domain.AnnotationResult, error) {
			calls++
			if calls < 3 {
				return domain.AnnotationResult{}, errors.New("timeout")
			}
			return domain.AnnotationResult{Level: level, Label: "ok", Rationale: "ok", Score: 0.8}, nil
		},
	}
	c := NewResilientClassifier(primary, nil, 2, 800*time.Millisecond, nil)
	sleeps := recordSleeps(c)

	out, err := c.Classify(context.Background(), "text", domain.LevelApply, "")
	require.NoError(t, err)
	assert.Equal(t, "openai", out.Provider)
	assert.Equal(t, 3, out.Attempts)
	assert.False(t, out.Fallback)
	assert.Equal(t, []time.Duration{800 * time.Millisecond, 1600 * time.Millisecond}, *sleeps)
}

func TestResilientClassifierFallsBackOnInvalidOutput(t *testing.T) {
	primary := &mocks.MockClassifier{
		NameValue: "openai",
		AnnotateFn: func(_ context.Context, _ string, level domain.Level, _ string) (domain.AnnotationResult, error) {
			return domain.AnnotationResult{Level: level, Label: "", Rationale: "r", Score: 0.4}, nil
		},
	}
	c := NewResilientClassifier(primary, nil, 2, time.Second, nil)
	sleeps := recordSleeps(c)

	out, err := c.Classify(context.Background(), "Короткий фрагмент", domain.LevelRemember, "")
	require.NoError(t, err)
	assert.True(t, out.Fallback)
	assert.Equal(t, "heuristic", out.Provider)
	assert.Equal(t, 3, out.Attempts)
	assert.Len(t, *sleeps, 2)
	assert.Equal(t, domain.LevelRemember, out.Result.Level)
	assert.GreaterOrEqual(t, out.Result.Score, 0.5)
}

func TestResilientClassifierWithoutPrimary(t *testing.T) {
	c := NewResilientClassifier(nil, nil, 2, time.Second, nil)

	res, err := c.Annotate(context.Background(), "текст", domain.LevelCreate, "")
	require.NoError(t, err)
	assert.Equal(t, domain.LevelCreate, res.Level)
	assert.Equal(t, "heuristic", c.Name())
}

func TestResilientClassifierInvalidFallback(t *testing.T) {
	fallback := &mocks.MockClassifier{
		AnnotateFn: func(context.Context, string, domain.Level, string) (domain.AnnotationResult, error) {
			return domain.AnnotationResult{Level: "bogus", Label: "x", Rationale: "y", Score: 0.1}, nil
		},
	}
	c := NewResilientClassifier(nil, fallback, 0, 0, nil)

	_, err := c.Classify(context.Background(), "text", domain.LevelApply, "")
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestResilientClassifierStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	primary := &mocks.MockClassifier{
		AnnotateFn: func(context.Context, string, domain.Level, string) (domain.AnnotationResult, error) {
			cancel()
			return domain.AnnotationResult{}, errors.New("boom")
		},
	}
	c := NewResilientClassifier(primary, nil, 5, time.Hour, nil)

	_, err := c.Classify(ctx, "text", domain.LevelApply, "")
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, primary.CallCount())
}
