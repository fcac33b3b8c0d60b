package taxonomy

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"bloom-graph/src/domain"
)

// Sample размеченный пример для оценки качества
type Sample struct {
	Text   string   `json:"text"`
	Labels []string `json:"labels"`
}

// EvaluationReport метрики многоуровневой классификации
type EvaluationReport struct {
	Samples     int     `json:"samples"`
	HammingLoss float64 `json:"hamming_loss"`
	F1Micro     float64 `json:"f1_micro"`
	F1Macro     float64 `json:"f1_macro"`
	MinProb     float64 `json:"min_prob"`
	MaxLevels   int     `json:"max_levels"`
}

// LoadSamples читает JSONL с полями text и labels; пустые строки пропускаются
func LoadSamples(r io.Reader) ([]Sample, error) {
	var samples []Sample
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		raw := strings.TrimSpace(scanner.Text())
		if raw == "" {
			continue
		}
		var s Sample
		if err := json.Unmarshal([]byte(raw), &s); err != nil {
			return nil, fmt.Errorf("строка %d: ошибка парсинга JSON: %w", line, err)
		}
		samples = append(samples, s)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("ошибка чтения выборки: %w", err)
	}
	return samples, nil
}

// Evaluate прогоняет классификатор по выборке; примеры без текста пропускаются
func Evaluate(samples []Sample, scorer *Scorer, minProb float64, maxLevels int) EvaluationReport {
	var yTrue, yPred [][]int
	for _, s := range samples {
		if s.Text == "" {
			continue
		}
		res := scorer.ClassifyMultilabel(s.Text, minProb, maxLevels)
		pred := make([]string, len(res.TopLevels))
		for i, lvl := range res.TopLevels {
			pred[i] = string(lvl)
		}
		yTrue = append(yTrue, vectorize(s.Labels))
		yPred = append(yPred, vectorize(pred))
	}
	return EvaluationReport{
		Samples:     len(yTrue),
		HammingLoss: round(hammingLoss(yTrue, yPred), 4),
		F1Micro:     round(f1Micro(yTrue, yPred), 4),
		F1Macro:     round(f1Macro(yTrue, yPred), 4),
		MinProb:     minProb,
		MaxLevels:   maxLevels,
	}
}

func vectorize(labels []string) []int {
	set := make(map[string]struct{}, len(labels))
	for _, l := range labels {
		set[l] = struct{}{}
	}
	out := make([]int, len(domain.Levels))
	for i, lvl := range domain.Levels {
		if _, ok := set[string(lvl)]; ok {
			out[i] = 1
		}
	}
	return out
}

func hammingLoss(yTrue, yPred [][]int) float64 {
	if len(yTrue) == 0 {
		return 0
	}
	mismatches := 0
	for i := range yTrue {
		for j := range yTrue[i] {
			if yTrue[i][j] != yPred[i][j] {
				mismatches++
			}
		}
	}
	return float64(mismatches) / float64(len(yTrue)*len(domain.Levels))
}

// confusion считает tp/fp/fn по столбцу idx или по всем столбцам при idx < 0
func confusion(yTrue, yPred [][]int, idx int) (tp, fp, fn int) {
	for i := range yTrue {
		for j := range yTrue[i] {
			if idx >= 0 && j != idx {
				continue
			}
			t, p := yTrue[i][j], yPred[i][j]
			switch {
			case t == 1 && p == 1:
				tp++
			case t == 0 && p == 1:
				fp++
			case t == 1 && p == 0:
				fn++
			}
		}
	}
	return tp, fp, fn
}

func f1(tp, fp, fn int) float64 {
	denom := 2*tp + fp + fn
	if denom == 0 {
		return 0
	}
	return float64(2*tp) / float64(denom)
}

func f1Micro(yTrue, yPred [][]int) float64 {
	return f1(confusion(yTrue, yPred, -1))
}

func f1Macro(yTrue, yPred [][]int) float64 {
	var sum float64
	for idx := range domain.Levels {
		sum += f1(confusion(yTrue, yPred, idx))
	}
	return sum / float64(len(domain.Levels))
}
