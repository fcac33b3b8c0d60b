package neo4jgraph

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bloom-graph/src/domain"
	"bloom-graph/src/infrastructure/config"
)

func TestNodeRecords(t *testing.T) {
	doc := int64(4)
	recs := nodeRecords(2, []domain.KnowledgeNode{
		{
			ID: 10, DocumentID: &doc, Title: "Пушкин", Key: "пушкин", NodeType: domain.NodeTypeProperNoun, Frequency: 3,
			ProbVector: domain.ProbabilityVector{domain.LevelRemember: 0.5, domain.LevelCreate: 0.5},
			TopLevels:  domain.TopLevels{domain.LevelRemember, domain.LevelCreate},
		},
		{ID: 11, Title: "роман", NodeType: domain.NodeTypeKeyword},
	}, "now")

	require.Len(t, recs, 2)
	assert.Equal(t, int64(10), recs[0]["id"])
	assert.Equal(t, int64(2), recs[0]["dataset_id"])
	assert.Equal(t, int64(4), recs[0]["document_id"])
	assert.Equal(t, int64(3), recs[0]["frequency"])
	assert.Equal(t, []string{"remember", "create"}, recs[0]["top_levels"])
	assert.Equal(t, 0.5, recs[0]["p_remember"])
	assert.Equal(t, 0.0, recs[0]["p_apply"])
	_, hasDoc := recs[1]["document_id"]
	assert.False(t, hasDoc)
}

func TestEdgeRecords(t *testing.T) {
	recs := edgeRecords([]domain.Edge{{Source: 1, Target: 2, Weight: 0.93, Method: domain.EdgeSimilarity}}, "now")
	require.Len(t, recs, 1)
	assert.Equal(t, "similarity", recs[0]["method"])
	assert.Equal(t, 0.93, recs[0]["weight"])
}

func TestNewWithoutURIDisablesSink(t *testing.T) {
	s, err := New(context.Background(), config.Neo4jConfig{}, nil)
	require.NoError(t, err)
	assert.Nil(t, s)
	assert.NoError(t, s.UpsertGraph(context.Background(), 1, domain.Graph{}))
	assert.NoError(t, s.Close(context.Background()))
}
