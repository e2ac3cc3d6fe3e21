package regionews

import (
	"sort"

	"gonum.org/v1/gonum/stat"
)

// SeparateContent splits docs into syndicated (lambda 0) and local
// (lambda > 0) documents. scores must be aligned with docs.
func SeparateContent(docs []Document, scores SyndicationScores) (syndicated, local []Document) {
	for i, doc := range docs {
		if i < len(scores.Lambdas) && scores.Lambdas[i] > 0 {
			local = append(local, doc)
			continue
		}
		syndicated = append(syndicated, doc)
	}
	return syndicated, local
}

// Count is a value with its number of occurrences.
type Count struct {
	Value string `json:"value"`
	Count int    `json:"count"`
}

// Tone counts outcomes above, below and within the neutral band.
type Tone struct {
	Positive int `json:"positive"`
	Neutral  int `json:"neutral"`
	Negative int `json:"negative"`
}

const toneBand = 0.1

// NationalBaseline describes the syndicated content of a corpus, the
// national narrative that local coverage is compared against.
type NationalBaseline struct {
	TotalArticles    int      `json:"total_articles"`
	UniqueStories    int      `json:"unique_stories"`
	DuplicationRate  float64  `json:"duplication_rate"`
	GeographicSpread int      `json:"geographic_spread"`
	AvgOutcome       *float64 `json:"avg_outcome"`
	Tone             Tone     `json:"tone"`
	TopStories       []Count  `json:"top_stories"`
	TopSources       []Count  `json:"top_sources"`
}

// NationalBaselineOf summarizes syndicated documents. It returns nil when
// there are none.
func NationalBaselineOf(syndicated []Document) *NationalBaseline {
	if len(syndicated) == 0 {
		return nil
	}

	titles := make(map[string]int)
	sources := make(map[string]int)
	locations := make(map[string]bool)
	var outcomes []float64
	var tone Tone
	for _, doc := range syndicated {
		titles[doc.Title]++
		if doc.Source != "" {
			sources[doc.Source]++
		}
		if doc.LocationName != "" {
			locations[doc.LocationName] = true
		}
		if doc.Outcome != nil {
			v := *doc.Outcome
			outcomes = append(outcomes, v)
			switch {
			case v > toneBand:
				tone.Positive++
			case v < -toneBand:
				tone.Negative++
			default:
				tone.Neutral++
			}
		}
	}

	baseline := &NationalBaseline{
		TotalArticles:    len(syndicated),
		UniqueStories:    len(titles),
		DuplicationRate:  1 - float64(len(titles))/float64(len(syndicated)),
		GeographicSpread: len(locations),
		Tone:             tone,
		TopStories:       topCounts(titles, 10),
		TopSources:       topCounts(sources, 5),
	}
	if len(outcomes) > 0 {
		baseline.AvgOutcome = ptr(stat.Mean(outcomes, nil))
	}
	return baseline
}

// topCounts returns the n most frequent values, ties broken alphabetically.
func topCounts(counts map[string]int, n int) []Count {
	out := make([]Count, 0, len(counts))
	for v, c := range counts {
		out = append(out, Count{Value: v, Count: c})
	}
	sort.Slice(out, func(a, b int) bool {
		if out[a].Count != out[b].Count {
			return out[a].Count > out[b].Count
		}
		return out[a].Value < out[b].Value
	})
	if len(out) > n {
		out = out[:n]
	}
	return out
}
