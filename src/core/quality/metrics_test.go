package quality

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bloom-graph/src/domain"
)

func ann(chunk int64, level domain.Level, score float64) domain.Annotation {
	return domain.Annotation{ChunkID: chunk, Level: level, Label: "l", Rationale: "r", Score: score}
}

func TestScoreDistribution(t *testing.T) {
	stats := ScoreDistribution([]domain.Annotation{
		ann(1, domain.LevelApply, 0.2),
		ann(1, domain.LevelApply, 0.6),
		ann(2, domain.LevelRemember, 0.8),
	})

	assert.Equal(t, 3, stats.Count)
	require.NotNil(t, stats.Min)
	assert.Equal(t, 0.2, *stats.Min)
	assert.Equal(t, 0.8, *stats.Max)
	assert.InDelta(t, 0.5333, *stats.Mean, 1e-4)
	assert.Equal(t, 0.6, *stats.Median)
	// популяционное отклонение: sqrt(((0.2-m)^2 + (0.6-m)^2 + (0.8-m)^2) / 3)
	assert.InDelta(t, 0.2494, *stats.Stdev, 1e-4)
}

func TestScoreDistributionEvenMedianAndSingle(t *testing.T) {
	stats := ScoreDistribution([]domain.Annotation{ann(1, domain.LevelApply, 0.1), ann(1, domain.LevelApply, 0.9)})
	assert.InDelta(t, 0.5, *stats.Median, 1e-9)
	assert.InDelta(t, 0.4, *stats.Stdev, 1e-9)

	single := ScoreDistribution([]domain.Annotation{ann(1, domain.LevelApply, 0.7)})
	assert.Equal(t, 0.0, *single.Stdev)
	assert.Equal(t, 0.7, *single.Median)
}

func TestScoreDistributionEmpty(t *testing.T) {
	stats := ScoreDistribution(nil)
	assert.Equal(t, 0, stats.Count)
	assert.Nil(t, stats.Min)
	assert.Nil(t, stats.Max)
	assert.Nil(t, stats.Mean)
	assert.Nil(t, stats.Median)
	assert.Nil(t, stats.Stdev)
}

func TestLevelDistributionHasAllLevels(t *testing.T) {
	dist := LevelDistribution([]domain.Annotation{
		ann(1, domain.LevelApply, 0.2),
		ann(1, domain.LevelApply, 0.6),
		ann(2, domain.LevelRemember, 0.8),
	})
	assert.Len(t, dist, 6)
	assert.Equal(t, 2, dist[domain.LevelApply])
	assert.Equal(t, 1, dist[domain.LevelRemember])
	assert.Equal(t, 0, dist[domain.LevelCreate])

	empty := LevelDistribution(nil)
	assert.Len(t, empty, 6)
}

func TestConsistency(t *testing.T) {
	m := Consistency(7, []domain.Annotation{
		ann(7, domain.LevelApply, 0.1),
		ann(7, domain.LevelRemember, 0.9),
	})
	assert.Equal(t, int64(7), m.ChunkID)
	assert.Equal(t, 2, m.AnnotationCount)
	assert.Equal(t, 2, m.LevelsPresent)
	assert.Equal(t, 6, m.LevelsTotal)
	assert.InDelta(t, 2.0/6.0, m.Coverage, 1e-9)
	assert.InDelta(t, 0.4, m.ScoreStdev, 1e-9)

	none := Consistency(8, nil)
	assert.Equal(t, 0, none.LevelsPresent)
	assert.Equal(t, 0.0, none.Coverage)
	assert.Equal(t, 0.0, none.ScoreStdev)
}

func TestCoverage(t *testing.T) {
	m := Coverage(1, 2, 1)
	assert.Equal(t, 0.5, m.Coverage)
	assert.Equal(t, 2, m.ChunksTotal)
	assert.Equal(t, 1, m.ChunksAnnotated)

	zero := Coverage(1, 0, 0)
	assert.Equal(t, 0.0, zero.Coverage)
}
