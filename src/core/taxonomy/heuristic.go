package taxonomy

import (
	"context"
	"fmt"
	"math"
	"strings"
	"unicode/utf8"

	"bloom-graph/src/domain"
)

// HeuristicName имя детерминированного провайдера
const HeuristicName = "heuristic"

var heuristicLabels = map[domain.Level]string{
	domain.LevelRemember:   "Факты",
	domain.LevelUnderstand: "Понимание",
	domain.LevelApply:      "Применение",
	domain.LevelAnalyze:    "Анализ",
	domain.LevelEvaluate:   "Оценивание",
	domain.LevelCreate:     "Создание",
}

// HeuristicAnnotator детерминированный аннотатор без LLM
type HeuristicAnnotator struct{}

// NewHeuristicAnnotator создает эвристический аннотатор
func NewHeuristicAnnotator() *HeuristicAnnotator {
	return &HeuristicAnnotator{}
}

// Name возвращает имя провайдера
func (h *HeuristicAnnotator) Name() string { return HeuristicName }

// Annotate оценивает фрагмент по длине текста; рубрика не учитывается
func (h *HeuristicAnnotator) Annotate(_ context.Context, chunk string, level domain.Level, _ string) (domain.AnnotationResult, error) {
	length := utf8.RuneCountInString(strings.TrimSpace(chunk))
	score := math.Min(1.0, 0.5+float64(length)/2000.0)

	label, ok := heuristicLabels[level]
	if !ok {
		label = "N/A"
	}
	return domain.AnnotationResult{
		Level:     level,
		Label:     label,
		Rationale: fmt.Sprintf("Эвристика: длина текста=%d; уровень=%s", utf8.RuneCountInString(chunk), level),
		Score:     round(score, 3),
	}, nil
}
