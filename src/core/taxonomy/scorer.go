package taxonomy

import (
	"math"
	"sort"
	"strings"

	"bloom-graph/src/domain"
)

const (
	DefaultMinProb   = 0.2
	DefaultMaxLevels = 2
)

// Multilabel результат многоуровневой классификации
type Multilabel struct {
	ProbVector domain.ProbabilityVector `json:"prob_vector"`
	TopLevels  domain.TopLevels         `json:"top_levels"`
}

// Scorer эвристический классификатор по ключевым словам.
// Безопасен для параллельного использования: таблица только читается.
type Scorer struct {
	keywords KeywordTable
}

// NewScorer создает классификатор; nil таблица заменяется встроенной.
// Ключевые слова приводятся к нижнему регистру, как и проверяемый текст.
func NewScorer(table KeywordTable) *Scorer {
	if table == nil {
		table = DefaultKeywords()
	}
	return &Scorer{keywords: table.normalized()}
}

// hits считает для каждого уровня число ключевых слов, входящих в текст
func (s *Scorer) hits(text string) (map[domain.Level]int, int) {
	lowered := strings.ToLower(text)
	counts := make(map[domain.Level]int, len(domain.Levels))
	total := 0
	for _, lvl := range domain.Levels {
		for _, word := range s.keywords[lvl] {
			if strings.Contains(lowered, word) {
				counts[lvl]++
				total++
			}
		}
	}
	return counts, total
}

// BloomProbabilities нормирует попадания по уровням; без попаданий распределение равномерное
func (s *Scorer) BloomProbabilities(text string) domain.ProbabilityVector {
	counts, total := s.hits(text)
	probs := make(domain.ProbabilityVector, len(domain.Levels))
	if total == 0 {
		base := 1.0 / float64(len(domain.Levels))
		for _, lvl := range domain.Levels {
			probs[lvl] = base
		}
		return probs
	}
	for _, lvl := range domain.Levels {
		probs[lvl] = round(float64(counts[lvl])/float64(total), 4)
	}
	return probs
}

// ClassifyMultilabel строит сглаженное распределение и выбирает до maxLevels уровней
// с вероятностью не ниже minProb. Ошибка округления целиком добавляется к последнему уровню.
func (s *Scorer) ClassifyMultilabel(text string, minProb float64, maxLevels int) Multilabel {
	if maxLevels < 1 {
		maxLevels = 1
	}
	counts, total := s.hits(text)
	n := float64(len(domain.Levels))

	probs := make(domain.ProbabilityVector, len(domain.Levels))
	var sum float64
	for _, lvl := range domain.Levels {
		p := round((float64(counts[lvl])+1)/(float64(total)+n), 3)
		probs[lvl] = p
		sum += p
	}
	last := domain.Levels[len(domain.Levels)-1]
	if drift := 1.0 - sum; drift != 0 {
		probs[last] = round(probs[last]+drift, 3)
	}

	return Multilabel{ProbVector: probs, TopLevels: SelectTopLevels(probs, minProb, maxLevels)}
}

// SelectTopLevels сортирует уровни по убыванию вероятности (при равенстве канонический порядок)
// и берет прошедшие порог; если порог не прошел никто, возвращает один лучший уровень
func SelectTopLevels(probs domain.ProbabilityVector, minProb float64, maxLevels int) domain.TopLevels {
	if maxLevels < 1 {
		maxLevels = 1
	}
	ordered := make([]domain.Level, len(domain.Levels))
	copy(ordered, domain.Levels)
	sort.SliceStable(ordered, func(i, j int) bool {
		return probs[ordered[i]] > probs[ordered[j]]
	})

	top := make(domain.TopLevels, 0, maxLevels)
	for _, lvl := range ordered {
		if len(top) == maxLevels {
			break
		}
		if probs[lvl] >= minProb {
			top = append(top, lvl)
		}
	}
	if len(top) == 0 {
		top = append(top, ordered[0])
	}
	return top
}

func round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}
