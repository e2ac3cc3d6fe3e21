package regionews

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHaversineKm(t *testing.T) {
	london := GeoPoint{51.5074, -0.1278}
	paris := GeoPoint{48.8566, 2.3522}

	assert.InDelta(t, 343.5, haversineKm(london, paris), 1.0)
	assert.InDelta(t, 0.0, haversineKm(london, london), 1e-9)
	assert.InDelta(t, haversineKm(paris, london), haversineKm(london, paris), 1e-9)
}

func TestSpatialDistancesNormalized(t *testing.T) {
	docs := []Document{
		{ID: "a", Location: &GeoPoint{0, 0}},
		{ID: "b", Location: &GeoPoint{0, 1}},
		{ID: "c", Location: &GeoPoint{0, 3}},
		{ID: "d"},
	}
	m, err := SpatialDistances(docs)
	require.NoError(t, err)

	// Shortest geocoded pair maps to 0, longest to 1.
	assert.InDelta(t, 0.0, m.At(0, 1), 1e-9)
	assert.InDelta(t, 1.0, m.At(0, 2), 1e-9)
	assert.InDelta(t, 0.5, m.At(1, 2), 0.01)

	for j := 0; j < 3; j++ {
		assert.Equal(t, 0.0, m.At(3, j), "unlocated documents carry no spatial distance")
	}
}

func TestSpatialDistancesSingleLocation(t *testing.T) {
	p := GeoPoint{40, -75}
	docs := []Document{
		{ID: "a", Location: &p},
		{ID: "b", Location: &p},
		{ID: "c", Location: &p},
	}
	m, err := SpatialDistances(docs)
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			assert.Equal(t, 0.0, m.At(i, j))
		}
	}
}

func TestHasLocation(t *testing.T) {
	assert.False(t, Document{}.HasLocation())
	assert.True(t, Document{Location: &GeoPoint{10, 20}}.HasLocation())
	assert.False(t, Document{Location: &GeoPoint{95, 20}}.HasLocation())
	assert.False(t, Document{Location: &GeoPoint{10, 200}}.HasLocation())
}
