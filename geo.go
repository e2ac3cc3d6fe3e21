package regionews

import (
	"math"
)

const earthRadiusKm = 6371.0

// haversineKm returns the great-circle distance between two points.
func haversineKm(a, b GeoPoint) float64 {
	lat1 := a.Latitude * math.Pi / 180
	lat2 := b.Latitude * math.Pi / 180
	dLat := lat2 - lat1
	dLon := (b.Longitude - a.Longitude) * math.Pi / 180

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLon/2)*math.Sin(dLon/2)
	return 2 * earthRadiusKm * math.Asin(math.Min(1, math.Sqrt(h)))
}

// SpatialDistances builds the haversine distance matrix over docs, min-max
// normalized to [0,1] across the geocoded pairs of this document set.
// Pairs where either document lacks a location get distance 0; their
// spatial term is gated off by a zero lambda before fusion.
//
// Normalization depends on the subset, so the matrix must be rebuilt for
// every document set rather than sliced from a larger run.
func SpatialDistances(docs []Document) (*DistanceMatrix, error) {
	m, err := NewDistanceMatrix(documentIDs(docs))
	if err != nil {
		return nil, err
	}

	minDist, maxDist := math.Inf(1), math.Inf(-1)
	raw := make(map[[2]int]float64)
	for i := range docs {
		if !docs[i].HasLocation() {
			continue
		}
		for j := i + 1; j < len(docs); j++ {
			if !docs[j].HasLocation() {
				continue
			}
			d := haversineKm(*docs[i].Location, *docs[j].Location)
			raw[[2]int{i, j}] = d
			minDist = math.Min(minDist, d)
			maxDist = math.Max(maxDist, d)
		}
	}

	span := maxDist - minDist
	for pair, d := range raw {
		if span <= 0 {
			continue
		}
		m.Set(pair[0], pair[1], clamp01((d-minDist)/span))
	}
	return m, nil
}

// geoCentroid returns the arithmetic mean of the given points.
func geoCentroid(points []GeoPoint) GeoPoint {
	var c GeoPoint
	for _, p := range points {
		c.Latitude += p.Latitude
		c.Longitude += p.Longitude
	}
	n := float64(len(points))
	c.Latitude /= n
	c.Longitude /= n
	return c
}
