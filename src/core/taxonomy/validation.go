package taxonomy

import (
	"math"
	"unicode/utf8"

	"bloom-graph/src/domain"
)

const (
	MaxLabelLen     = 200
	MaxRationaleLen = 4000
)

// ValidateAnnotation проверяет результат классификатора по схеме контракта
func ValidateAnnotation(r domain.AnnotationResult) error {
	if !r.Level.Valid() {
		return domain.NewValidationError("неизвестный уровень %q", r.Level)
	}
	if math.IsNaN(r.Score) || r.Score < 0 || r.Score > 1 {
		return domain.NewValidationError("score вне диапазона [0,1]: %v", r.Score)
	}
	if n := utf8.RuneCountInString(r.Label); n < 1 || n > MaxLabelLen {
		return domain.NewValidationError("длина label вне диапазона 1..%d: %d", MaxLabelLen, n)
	}
	if n := utf8.RuneCountInString(r.Rationale); n < 1 || n > MaxRationaleLen {
		return domain.NewValidationError("длина rationale вне диапазона 1..%d: %d", MaxRationaleLen, n)
	}
	return nil
}
