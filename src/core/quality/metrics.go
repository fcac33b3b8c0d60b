package quality

import (
	"math"
	"sort"

	"bloom-graph/src/domain"
)

// ScoreStats статистика оценок; поля nil, если аннотаций нет
type ScoreStats struct {
	Count  int      `json:"count"`
	Min    *float64 `json:"min"`
	Max    *float64 `json:"max"`
	Mean   *float64 `json:"mean"`
	Median *float64 `json:"median"`
	Stdev  *float64 `json:"stdev"`
}

// ConsistencyMetrics полнота разметки одного фрагмента по уровням.
// Coverage показывает долю уровней с хотя бы одной аннотацией, а не качество классификации.
type ConsistencyMetrics struct {
	ChunkID         int64   `json:"chunk_id"`
	AnnotationCount int     `json:"annotations"`
	LevelsPresent   int     `json:"levels_present"`
	LevelsTotal     int     `json:"levels_total"`
	Coverage        float64 `json:"coverage"`
	ScoreStdev      float64 `json:"score_stdev"`
}

// CoverageMetrics доля аннотированных фрагментов набора данных
type CoverageMetrics struct {
	DatasetID       int64   `json:"dataset_id"`
	ChunksTotal     int     `json:"chunks_total"`
	ChunksAnnotated int     `json:"chunks_annotated"`
	Coverage        float64 `json:"coverage"`
}

// ScoreDistribution считает min, max, mean, median и популяционное стандартное отклонение
func ScoreDistribution(annotations []domain.Annotation) ScoreStats {
	if len(annotations) == 0 {
		return ScoreStats{}
	}
	scores := scoresOf(annotations)

	sorted := make([]float64, len(scores))
	copy(sorted, scores)
	sort.Float64s(sorted)

	minV, maxV := sorted[0], sorted[len(sorted)-1]
	meanV := mean(scores)
	medianV := median(sorted)
	stdevV := pstdev(scores)

	return ScoreStats{
		Count:  len(scores),
		Min:    &minV,
		Max:    &maxV,
		Mean:   &meanV,
		Median: &medianV,
		Stdev:  &stdevV,
	}
}

// LevelDistribution считает аннотации по уровням; все шесть уровней присутствуют в результате
func LevelDistribution(annotations []domain.Annotation) map[domain.Level]int {
	dist := make(map[domain.Level]int, len(domain.Levels))
	for _, lvl := range domain.Levels {
		dist[lvl] = 0
	}
	for _, a := range annotations {
		dist[a.Level]++
	}
	return dist
}

// Consistency метрики согласованности аннотаций одного фрагмента
func Consistency(chunkID int64, annotations []domain.Annotation) ConsistencyMetrics {
	present := make(map[domain.Level]struct{})
	for _, a := range annotations {
		present[a.Level] = struct{}{}
	}
	total := len(domain.Levels)
	return ConsistencyMetrics{
		ChunkID:         chunkID,
		AnnotationCount: len(annotations),
		LevelsPresent:   len(present),
		LevelsTotal:     total,
		Coverage:        float64(len(present)) / float64(total),
		ScoreStdev:      pstdev(scoresOf(annotations)),
	}
}

// Coverage доля аннотированных фрагментов; 0 при пустом наборе
func Coverage(datasetID int64, total, annotated int) CoverageMetrics {
	m := CoverageMetrics{DatasetID: datasetID, ChunksTotal: total, ChunksAnnotated: annotated}
	if total > 0 {
		m.Coverage = float64(annotated) / float64(total)
	}
	return m
}

func scoresOf(annotations []domain.Annotation) []float64 {
	out := make([]float64, len(annotations))
	for i, a := range annotations {
		out[i] = a.Score
	}
	return out
}

func mean(xs []float64) float64 {
	var sum float64
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

// median ожидает отсортированный непустой срез
func median(sorted []float64) float64 {
	n := len(sorted)
	if n%2 == 1 {
		return sorted[n/2]
	}
	return (sorted[n/2-1] + sorted[n/2]) / 2
}

// pstdev делит на N; для менее чем двух значений 0
func pstdev(xs []float64) float64 {
	if len(xs) < 2 {
		return 0
	}
	m := mean(xs)
	var ss float64
	for _, x := range xs {
		d := x - m
		ss += d * d
	}
	return math.Sqrt(ss / float64(len(xs)))
}
