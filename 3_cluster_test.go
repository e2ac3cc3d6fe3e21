package regionews

import (
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// twoGroups has d0..d2 close together, d3..d4 close together and d5 far from
// everything.
func twoGroups(t *testing.T) *DistanceMatrix {
	return matrixFrom(t, [][]float64{
		{0, 0.1, 0.2, 0.9, 0.8, 0.95},
		{0.1, 0, 0.15, 0.85, 0.9, 0.95},
		{0.2, 0.15, 0, 0.9, 0.9, 0.95},
		{0.9, 0.85, 0.9, 0, 0.05, 0.95},
		{0.8, 0.9, 0.9, 0.05, 0, 0.95},
		{0.95, 0.95, 0.95, 0.95, 0.95, 0},
	})
}

func TestClusterGroupsAndDissolves(t *testing.T) {
	a, err := Cluster(twoGroups(t), ClusterConfig{DistanceThreshold: 0.5, MinClusterSize: 2})
	require.NoError(t, err)

	assert.Equal(t, []int{0, 0, 0, 1, 1, Unclustered}, a.Labels)
	assert.Equal(t, [][]string{{"d0", "d1", "d2"}, {"d3", "d4"}}, a.Clusters)
	assert.Equal(t, 1, a.Dissolved)
	assert.Equal(t, []int{3, 2}, a.Sizes())

	label, ok := a.Label("d4")
	require.True(t, ok)
	assert.Equal(t, 1, label)
	_, ok = a.Label("missing")
	assert.False(t, ok)
}

func TestClusterLabelsAreContiguous(t *testing.T) {
	a, err := Cluster(twoGroups(t), ClusterConfig{DistanceThreshold: 0.5, MinClusterSize: 1})
	require.NoError(t, err)

	seen := map[int]bool{}
	for _, l := range a.Labels {
		require.NotEqual(t, Unclustered, l)
		seen[l] = true
	}
	for l := 0; l < len(a.Clusters); l++ {
		assert.True(t, seen[l], "label %d unused", l)
	}
	assert.Len(t, a.Clusters, 3)
	assert.Equal(t, 0, a.Dissolved)
}

func TestClusterEmptyAndSingle(t *testing.T) {
	a, err := Cluster(nil, ClusterConfig{})
	require.NoError(t, err)
	assert.Empty(t, a.Labels)
	assert.Empty(t, a.Clusters)

	empty, err := NewDistanceMatrix(nil)
	require.NoError(t, err)
	a, err = Cluster(empty, ClusterConfig{})
	require.NoError(t, err)
	assert.Empty(t, a.Labels)

	single := matrixFrom(t, [][]float64{{0}})
	a, err = Cluster(single, ClusterConfig{MinClusterSize: 1})
	require.NoError(t, err)
	assert.Equal(t, []int{0}, a.Labels)
	assert.Equal(t, [][]string{{"d0"}}, a.Clusters)

	a, err = Cluster(single, ClusterConfig{})
	require.NoError(t, err)
	assert.Equal(t, []int{Unclustered}, a.Labels, "adaptive floor of 2 dissolves a singleton")
	assert.Equal(t, 1, a.Dissolved)
}

func TestClusterLinkages(t *testing.T) {
	// A chain: each neighbour is 0.3 apart, the ends are 0.9 apart.
	chain := matrixFrom(t, [][]float64{
		{0, 0.3, 0.6, 0.9},
		{0.3, 0, 0.3, 0.6},
		{0.6, 0.3, 0, 0.3},
		{0.9, 0.6, 0.3, 0},
	})

	single, err := Cluster(chain, ClusterConfig{Linkage: LinkageSingle, DistanceThreshold: 0.4, MinClusterSize: 1})
	require.NoError(t, err)
	assert.Len(t, single.Clusters, 1, "single linkage follows the chain")

	complete, err := Cluster(chain, ClusterConfig{Linkage: LinkageComplete, DistanceThreshold: 0.4, MinClusterSize: 1})
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"d0", "d1"}, {"d2", "d3"}}, complete.Clusters)

	average, err := Cluster(chain, ClusterConfig{Linkage: LinkageAverage, DistanceThreshold: 0.4, MinClusterSize: 1})
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"d0", "d1"}, {"d2", "d3"}}, average.Clusters)
}

func TestClusterUnknownLinkage(t *testing.T) {
	_, err := Cluster(twoGroups(t), ClusterConfig{Linkage: "ward"})
	require.Error(t, err)
	assert.True(t, eris.Is(err, ErrInvalidInput))
}

func TestParseLinkage(t *testing.T) {
	for in, want := range map[string]Linkage{
		"":          LinkageAverage,
		"average":   LinkageAverage,
		" Complete": LinkageComplete,
		"SINGLE":    LinkageSingle,
	} {
		got, err := ParseLinkage(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := ParseLinkage("centroid")
	assert.Error(t, err)
}

func TestAdaptiveMinClusterSize(t *testing.T) {
	assert.Equal(t, 2, AdaptiveMinClusterSize(5, 2))
	assert.Equal(t, 5, AdaptiveMinClusterSize(50, 2))
	assert.Equal(t, 10, AdaptiveMinClusterSize(109, 3))
	assert.Equal(t, 3, AdaptiveMinClusterSize(0, 3))
}

func TestClusterAdaptiveMinimum(t *testing.T) {
	a, err := Cluster(twoGroups(t), ClusterConfig{MinClusterFloor: 3})
	require.NoError(t, err)
	assert.Equal(t, 3, a.MinClusterSize)
	assert.Equal(t, [][]string{{"d0", "d1", "d2"}}, a.Clusters)
	assert.Equal(t, 3, a.Dissolved)
}

func TestSummarizeClusters(t *testing.T) {
	albany := GeoPoint{42.6526, -73.7562}
	troy := GeoPoint{42.7284, -73.6918}
	docs := []Document{
		{ID: "d0", Title: "Bridge repair", LocationName: "Albany, New York", Location: &albany},
		{ID: "d1", Title: "Bridge detour", LocationName: "Troy, New York", Location: &troy},
		{ID: "d2", Title: "Bridge cost", LocationName: "Albany, New York"},
		{ID: "d3", Title: "Park"},
		{ID: "d4"},
	}
	assignment := Assignment{
		IDs:      []string{"d0", "d1", "d2", "d3", "d4"},
		Labels:   []int{0, 0, 0, 1, 1},
		Clusters: [][]string{{"d0", "d1", "d2"}, {"d3", "d4"}},
	}

	summaries := SummarizeClusters(assignment, docs)
	require.Len(t, summaries, 2)

	s := summaries[0]
	assert.Equal(t, 3, s.Size)
	assert.Equal(t, "Albany, New York", s.PrimaryLocation)
	assert.Equal(t, 2, s.Located)
	require.NotNil(t, s.Center)
	require.NotNil(t, s.RadiusKm)
	assert.InDelta(t, haversineKm(albany, troy)/2, *s.RadiusKm, 0.5)
	assert.Equal(t, []string{"Bridge repair", "Bridge detour", "Bridge cost"}, s.SampleHeadlines)

	s = summaries[1]
	assert.Equal(t, "", s.PrimaryLocation)
	assert.Nil(t, s.Center)
	assert.Nil(t, s.RadiusKm)
	assert.Equal(t, []string{"Park"}, s.SampleHeadlines)
}

func TestModeLocationBreaksTiesAlphabetically(t *testing.T) {
	assert.Equal(t, "Austin", modeLocation(map[string]int{"Fresno": 2, "Austin": 2, "Albany": 1}))
	assert.Equal(t, "", modeLocation(nil))
}
