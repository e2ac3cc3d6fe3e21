package regionews

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSeparateContent(t *testing.T) {
	docs := []Document{{ID: "a"}, {ID: "b"}, {ID: "c"}}
	scores := SyndicationScores{Lambdas: []float64{0, 0.15, 0.4}}

	syndicated, local := SeparateContent(docs, scores)
	assert.Equal(t, []Document{{ID: "a"}}, syndicated)
	assert.Equal(t, []Document{{ID: "b"}, {ID: "c"}}, local)
}

func TestNationalBaselineOf(t *testing.T) {
	assert.Nil(t, NationalBaselineOf(nil))

	docs := []Document{
		{Title: "Budget deal", Source: "outlet-a", LocationName: "Albany", Outcome: f64(0.5)},
		{Title: "Budget deal", Source: "outlet-b", LocationName: "Austin", Outcome: f64(-0.5)},
		{Title: "Budget deal", Source: "outlet-a", LocationName: "Albany", Outcome: f64(0.05)},
		{Title: "Storm warning", Source: "outlet-c"},
	}
	b := NationalBaselineOf(docs)
	require.NotNil(t, b)

	assert.Equal(t, 4, b.TotalArticles)
	assert.Equal(t, 2, b.UniqueStories)
	assert.InDelta(t, 0.5, b.DuplicationRate, 1e-12)
	assert.Equal(t, 2, b.GeographicSpread)
	require.NotNil(t, b.AvgOutcome)
	assert.InDelta(t, 0.05/3, *b.AvgOutcome, 1e-12)
	assert.Equal(t, Tone{Positive: 1, Neutral: 1, Negative: 1}, b.Tone)
	assert.Equal(t, []Count{{"Budget deal", 3}, {"Storm warning", 1}}, b.TopStories)
	assert.Equal(t, []Count{{"outlet-a", 2}, {"outlet-b", 1}, {"outlet-c", 1}}, b.TopSources)
}

func TestNationalBaselineWithoutOutcomes(t *testing.T) {
	b := NationalBaselineOf([]Document{{Title: "x"}})
	require.NotNil(t, b)
	assert.Nil(t, b.AvgOutcome)
	assert.Equal(t, 0.0, b.DuplicationRate)
}

func TestTopCountsLimit(t *testing.T) {
	counts := map[string]int{"a": 1, "b": 5, "c": 5, "d": 2}
	assert.Equal(t, []Count{{"b", 5}, {"c", 5}}, topCounts(counts, 2))
}
