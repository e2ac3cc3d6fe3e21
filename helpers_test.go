package regionews

import (
	"fmt"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

// corpusDim is the embedding size of the synthetic corpus: four topic axes,
// two wire-story axes, one private axis per local article and a spare axis
// for perturbations.
const (
	corpusTopics   = 4
	corpusArticles = 11
	corpusDim      = 6 + corpusTopics*corpusArticles + 1
	spareAxis      = corpusDim - 1
)

var testCities = []struct {
	name string
	geo  GeoPoint
}{
	{"Springfield, Illinois", GeoPoint{39.7817, -89.6501}},
	{"Fresno, California", GeoPoint{36.7378, -119.7871}},
	{"Albany, New York", GeoPoint{42.6526, -73.7562}},
	{"Austin, Texas", GeoPoint{30.2672, -97.7431}},
}

func axis(i int, scale float64) []float64 {
	v := make([]float64, corpusDim)
	v[i] = scale
	return v
}

func add(a, b []float64) []float64 {
	out := make([]float64, len(a))
	for i := range a {
		out[i] = a[i] + b[i]
	}
	return out
}

func f64(v float64) *float64 { return &v }

// localDoc builds article k of topic t: its embedding leans on the topic axis
// with an axis of its own, so articles in a topic are similar (cosine 0.8)
// but never near-duplicates, and articles of different topics are orthogonal.
func localDoc(t, k int) Document {
	city := testCities[k%len(testCities)]
	loc := city.geo
	outcome := 0.1*float64(t) - 0.15 + 0.01*float64(k%3)
	return Document{
		ID:           fmt.Sprintf("local-%d-%02d", t, k),
		Title:        fmt.Sprintf("Neighbourhood report %d on theme %d", k, t),
		Text:         fmt.Sprintf("Residents gathered to talk about theme %d, item %d, at the library on Tuesday evening.", t, k),
		Source:       fmt.Sprintf("site-%d-%d.example", t, k),
		LocationName: city.name,
		Location:     &loc,
		PublishedAt:  time.Date(2026, 9, 1+k, 12, 0, 0, 0, time.UTC),
		Embedding:    add(axis(t, 1), axis(6+t*corpusArticles+k, 0.5)),
		Outcome:      f64(outcome),
	}
}

// wireCopy builds copy c of wire story s, republished verbatim by a local
// outlet in one of three cities.
func wireCopy(s, c int) Document {
	city := testCities[c%len(testCities)]
	loc := city.geo
	return Document{
		ID:           fmt.Sprintf("wire-%d-%d", s, c),
		Title:        fmt.Sprintf("Statewide budget story %d", s),
		Text:         fmt.Sprintf("Lawmakers reached a deal on budget item %d late on Friday night after weeks of talks.", s),
		Source:       fmt.Sprintf("outlet-%d-%d.example", s, c),
		LocationName: city.name,
		Location:     &loc,
		PublishedAt:  time.Date(2026, 9, 20, 9, 0, 0, 0, time.UTC),
		Embedding:    axis(4+s, 1),
		Outcome:      f64(-0.2),
	}
}

// syntheticCorpus returns 44 local articles in four topics followed by two
// wire stories copied into three cities each.
func syntheticCorpus() []Document {
	var docs []Document
	for t := 0; t < corpusTopics; t++ {
		for k := 0; k < corpusArticles; k++ {
			docs = append(docs, localDoc(t, k))
		}
	}
	for s := 0; s < 2; s++ {
		for c := 0; c < 3; c++ {
			docs = append(docs, wireCopy(s, c))
		}
	}
	return docs
}

// observeLogs swaps the global logger for an observer for the duration of
// the test.
func observeLogs(t *testing.T, level zapcore.Level) *observer.ObservedLogs {
	t.Helper()
	core, logs := observer.New(level)
	restore := zap.ReplaceGlobals(zap.New(core))
	t.Cleanup(restore)
	return logs
}

func matrixFrom(t *testing.T, rows [][]float64) *DistanceMatrix {
	t.Helper()
	ids := make([]string, len(rows))
	for i := range rows {
		ids[i] = fmt.Sprintf("d%d", i)
	}
	m, err := NewDistanceMatrix(ids)
	if err != nil {
		t.Fatal(err)
	}
	for i := range rows {
		for j := i + 1; j < len(rows); j++ {
			m.Set(i, j, rows[i][j])
		}
	}
	return m
}
