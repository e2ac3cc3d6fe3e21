package regionews

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteMarkdownReport(t *testing.T) {
	analysis, err := Analyze(context.Background(), syntheticCorpus(), testOptions())
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, WriteMarkdownReport(&buf, analysis))
	out := buf.String()

	assert.True(t, strings.HasPrefix(out, "# Regional News Narratives\n"))
	for _, section := range []string{"## Syndication", "## Clustering quality", "## Regional narratives", "## National baseline", "## Regional outcomes"} {
		assert.Contains(t, out, section)
	}
	assert.Contains(t, out, "- Syndicated (λ = 0): 6 (12.0%)")
	assert.Contains(t, out, "| Silhouette (higher is better) | 0.800 |")
	assert.Contains(t, out, "| Largest cluster | 25.0% |")
	assert.Contains(t, out, "### Cluster 0: ")
	assert.Contains(t, out, "| Statewide budget story 0 | 3 |")
	assert.Contains(t, out, "vs the rest of the corpus:** mean")
	assert.Contains(t, out, "permutation p = ")
	assert.NotContains(t, out, "Not enough data")
}

func TestWriteMarkdownReportEmptyDataset(t *testing.T) {
	analysis := &Analysis{
		CreatedAt:  time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC),
		Evaluation: emptyEvaluation("No valid clusters to evaluate", 0, 0, 0),
		Scores:     SyndicationScores{Degraded: []string{"duplicate"}},
	}

	var buf bytes.Buffer
	require.NoError(t, WriteMarkdownReport(&buf, analysis))
	out := buf.String()

	assert.Contains(t, out, "> Not enough data: No valid clusters to evaluate (empty_dataset)")
	assert.Contains(t, out, "| Silhouette (higher is better) | N/A |")
	assert.Contains(t, out, "| Largest cluster | N/A |")
	assert.Contains(t, out, "- Syndicated (λ = 0): 0 (N/A)")
	assert.Contains(t, out, "- Degraded detectors: duplicate")
	assert.Contains(t, out, "No cluster survived the minimum size.")
	assert.Contains(t, out, "No syndicated content found.")
	assert.Contains(t, out, "No scored documents.")
	assert.NotContains(t, out, "NaN")
}

func TestWriteComparisonReport(t *testing.T) {
	c := Compare(
		Evaluation{Silhouette: f64(0.5), DaviesBouldin: f64(1.0), NClusters: 4},
		Evaluation{Silhouette: f64(0.6), NClusters: 5},
		"Fixed λ=0.15", "Adaptive λ",
	)

	var buf bytes.Buffer
	require.NoError(t, WriteComparisonReport(&buf, c))
	out := buf.String()

	assert.Contains(t, out, "| silhouette | 0.500 | 0.600 | Adaptive λ |")
	assert.Contains(t, out, "| davies_bouldin | 1.000 | N/A | N/A |")
	assert.Contains(t, out, "| clusters | 4 | 5 | |")
	assert.Contains(t, out, "**Adaptive λ wins** (1/1 metrics).")
}

func TestWriteRegionalContrast(t *testing.T) {
	analysis := &Analysis{
		CreatedAt: time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC),
		Regional: RegionalSummary{
			Baseline:   Baseline{N: 24, Mean: 0.2},
			Estimates:  []RegionalEstimate{{LocationID: "Springfield", N: 6, PointEstimate: 0.8, EffectLabel: "large", Significant: true}},
			Confidence: 0.95,
			Contrast: &RegionalContrast{
				LocationID: "Springfield",
				PermutationResult: PermutationResult{
					PValue: 0.001, Significant: true, CohensD: 2.5,
					MeanA: 0.8, MeanB: 0.0033, NA: 6, NB: 18,
				},
			},
		},
	}

	var buf bytes.Buffer
	require.NoError(t, WriteMarkdownReport(&buf, analysis))
	assert.Contains(t, buf.String(),
		"**Springfield vs the rest of the corpus:** mean 0.800 against 0.003 (n = 6 and 18), permutation p = 0.001, Cohen's d = 2.50 (large), significant.")
}

func TestWriteRunReport(t *testing.T) {
	run := RunRecord{ID: "run-1", CreatedAt: time.Date(2026, 10, 1, 8, 0, 0, 0, time.UTC), Documents: 50, Syndicated: 6, Clusters: 4}

	var buf bytes.Buffer
	require.NoError(t, WriteRunReport(&buf, run, []RegionalEstimate{{LocationID: "Albany", N: 12, EffectLabel: "small"}}))
	out := buf.String()
	assert.True(t, strings.HasPrefix(out, "# Run run-1\n"))
	assert.Contains(t, out, "50 documents, 6 syndicated, 4 clusters.")
	assert.Contains(t, out, "| Albany | 12 | 0.000 |")

	buf.Reset()
	require.NoError(t, WriteRunReport(&buf, run, nil))
	assert.Contains(t, buf.String(), "No regional estimates were stored for this run.")
}

func TestEscapeMarkdown(t *testing.T) {
	assert.Equal(t, `a \| b c`, escapeMarkdown("a | b\nc"))
}

func TestRenderHTML(t *testing.T) {
	md := "# Regional News Narratives\n\n## Syndication\n\n| Metric | Value |\n|---|---|\n| Silhouette | N/A |\n"
	page, err := RenderHTML(md, time.Date(2026, 10, 18, 9, 0, 0, 0, time.UTC))
	require.NoError(t, err)

	assert.Contains(t, page, "<title>Regional News Narratives</title>")
	assert.Equal(t, 1, strings.Count(page, "<h1>"), "title is printed once")
	assert.Contains(t, page, `<h2 id="syndication">Syndication</h2>`)
	assert.Contains(t, page, "<table>")
	assert.Contains(t, page, "<td>N/A</td>")
	assert.Contains(t, page, "18 October 2026")
	assert.Contains(t, page, "<style>")
}
