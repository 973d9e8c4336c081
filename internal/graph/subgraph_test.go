package graph

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCommonFollowSimilarity(t *testing.T) {
	g := mustGraph(t, corpus(
		"A", []string{"B", "C"},
		"B", []string{"C"},
		"C", []string{},
	))

	edges, err := CommonFollowSimilarity(g, "A", DefaultSimilarityThreshold)
	require.NoError(t, err)
	assert.Equal(t, []WeightedEdge{{Source: "A", Target: "B", Weight: 0.5}}, edges)
}

func TestCommonFollowSimilarity_RoundsAndSorts(t *testing.T) {
	g := mustGraph(t, corpus(
		"F", []string{"a", "b", "c"},
		"a", []string{"b"},
		"b", []string{"a", "c"},
		"c", []string{"a", "b"},
	))

	edges, err := CommonFollowSimilarity(g, "F", 0)
	require.NoError(t, err)
	assert.Equal(t, []WeightedEdge{
		{Source: "F", Target: "b", Weight: 0.67},
		{Source: "F", Target: "c", Weight: 0.67},
		{Source: "F", Target: "a", Weight: 0.33},
	}, edges)

	// Weights equal to the threshold are dropped
	edges, err = CommonFollowSimilarity(g, "F", 0.67)
	require.NoError(t, err)
	assert.Empty(t, edges)
}

func TestCommonFollowSimilarity_HalvesRoundToEven(t *testing.T) {
	follows := []string{"a", "b", "c", "d", "e", "f", "g", "h"}
	pairs := []any{"F", follows, "a", []string{"b"}}
	for _, id := range follows[1:] {
		pairs = append(pairs, id, nil)
	}
	g := mustGraph(t, corpus(pairs...))

	edges, err := CommonFollowSimilarity(g, "F", DefaultSimilarityThreshold)
	require.NoError(t, err)
	// 1/8 = 0.125 rounds down to the even 0.12
	assert.Equal(t, []WeightedEdge{{Source: "F", Target: "a", Weight: 0.12}}, edges)
}

func TestCommonFollowSimilarity_NoFollows(t *testing.T) {
	g := mustGraph(t, corpus("A", nil))

	edges, err := CommonFollowSimilarity(g, "A", DefaultSimilarityThreshold)
	require.NoError(t, err)
	assert.NotNil(t, edges)
	assert.Empty(t, edges)
}

func TestDirectFollowOverlap(t *testing.T) {
	g := mustGraph(t, corpus(
		"A", []string{"B", "C", "D"},
		"B", []string{"C", "A"},
		"C", []string{"D", "B"},
		"D", []string{"A"},
	))

	edges, err := DirectFollowOverlap(g, "A", 2)
	require.NoError(t, err)
	assert.Equal(t, []WeightedEdge{
		{Source: "A", Target: "B", Weight: 1},
		{Source: "A", Target: "C", Weight: 1},
		{Source: "B", Target: "C", Weight: 1},
		{Source: "C", Target: "B", Weight: 1},
	}, edges)

	all, err := DirectFollowOverlap(g, "A", DefaultOverlapSize)
	require.NoError(t, err)
	assert.Len(t, all, 3+3)
}

func TestDerivedViews_UnknownFocal(t *testing.T) {
	g := mustGraph(t, corpus("A", nil))

	_, err := CommonFollowSimilarity(g, "Z", DefaultSimilarityThreshold)
	assert.ErrorIs(t, err, ErrUnknownNode)
	_, err = DirectFollowOverlap(g, "Z", DefaultOverlapSize)
	assert.ErrorIs(t, err, ErrUnknownNode)
}

func TestDerivedViews_Deterministic(t *testing.T) {
	g := mustGraph(t, corpus(
		"A", []string{"B", "C"},
		"B", []string{"C"},
		"C", []string{"B"},
	))

	first, err := CommonFollowSimilarity(g, "A", 0)
	require.NoError(t, err)
	second, err := CommonFollowSimilarity(g, "A", 0)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}
