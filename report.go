package regionews

import (
	"bytes"
	_ "embed"
	"fmt"
	"html/template"
	"io"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/parser"
	"github.com/yuin/goldmark/renderer/html"
)

//go:embed templates/report.html
var htmlTemplate string

//go:embed templates/styles.css
var cssStyles string

const reportTitle = "Regional News Narratives"

// WriteMarkdownReport renders an analysis as markdown. Every missing metric
// is written as N/A.
func WriteMarkdownReport(w io.Writer, a *Analysis) error {
	var b strings.Builder

	fmt.Fprintf(&b, "# %s\n\n", reportTitle)
	fmt.Fprintf(&b, "Generated %s from %d clustered documents", a.CreatedAt.Format(time.RFC1123), len(a.Documents))
	if a.Skipped > 0 {
		fmt.Fprintf(&b, " (%d skipped without embeddings)", a.Skipped)
	}
	b.WriteString(".\n\n")

	writeSyndicationSection(&b, a)
	writeEvaluationSection(&b, a.Evaluation)
	writeClusterSection(&b, a.Clusters)
	writeNationalSection(&b, a.National)
	writeRegionalSection(&b, a.Regional)

	if _, err := io.WriteString(w, b.String()); err != nil {
		return eris.Wrap(err, "report: write markdown")
	}
	return nil
}

func writeSyndicationSection(b *strings.Builder, a *Analysis) {
	b.WriteString("## Syndication\n\n")
	total := len(a.Scores.IDs)
	syndicated := a.Scores.SyndicatedCount()
	fmt.Fprintf(b, "- Scored documents: %d\n", total)
	if total > 0 {
		share := float64(syndicated) / float64(total)
		fmt.Fprintf(b, "- Syndicated (λ = 0): %d (%s)\n", syndicated, FormatPercent(&share))
	} else {
		fmt.Fprintf(b, "- Syndicated (λ = 0): %d (N/A)\n", syndicated)
	}
	if len(a.Scores.Degraded) > 0 {
		fmt.Fprintf(b, "- Degraded detectors: %s\n", strings.Join(a.Scores.Degraded, ", "))
	}
	b.WriteString("\n")
}

func writeEvaluationSection(b *strings.Builder, e Evaluation) {
	b.WriteString("## Clustering quality\n\n")
	if !e.OK() {
		fmt.Fprintf(b, "> Not enough data: %s (%s)\n\n", e.Message, e.Error)
	}
	b.WriteString("| Metric | Value |\n|---|---|\n")
	fmt.Fprintf(b, "| Clusters | %d |\n", e.NClusters)
	fmt.Fprintf(b, "| Noise documents | %d |\n", e.NoiseCount)
	rows := []struct {
		name  string
		value string
	}{
		{"Silhouette (higher is better)", FormatFloat(e.Silhouette, 3)},
		{"Davies-Bouldin (lower is better)", FormatFloat(e.DaviesBouldin, 3)},
		{"Calinski-Harabasz (higher is better)", FormatFloat(e.CalinskiHarabasz, 1)},
		{"Mean intra-cluster distance", FormatFloat(e.IntraDistance, 3)},
		{"Mean inter-cluster distance", FormatFloat(e.InterDistance, 3)},
		{"Mean cluster size", FormatFloat(e.AvgClusterSize, 1)},
		{"Median cluster size", FormatFloat(e.MedianClusterSize, 1)},
		{"Cluster size std dev", FormatFloat(e.StdClusterSize, 1)},
		{"Largest cluster", FormatPercent(e.LargestFraction)},
		{"Balance entropy", FormatFloat(e.BalanceEntropy, 2)},
		{"Balance ratio", FormatPercent(e.BalanceRatio)},
	}
	for _, r := range rows {
		fmt.Fprintf(b, "| %s | %s |\n", r.name, r.value)
	}
	if e.WorstCluster != nil && e.BestCluster != nil {
		fmt.Fprintf(b, "| Worst cluster | %d (silhouette %s) |\n", e.WorstCluster.Label, FormatFloat(&e.WorstCluster.Silhouette, 3))
		fmt.Fprintf(b, "| Best cluster | %d (silhouette %s) |\n", e.BestCluster.Label, FormatFloat(&e.BestCluster.Silhouette, 3))
	}
	b.WriteString("\n")
	if e.Assessment != "" {
		fmt.Fprintf(b, "**Assessment:** %s.\n\n", e.Assessment)
	}
}

func writeClusterSection(b *strings.Builder, clusters []ClusterSummary) {
	b.WriteString("## Regional narratives\n\n")
	if len(clusters) == 0 {
		b.WriteString("No cluster survived the minimum size.\n\n")
		return
	}
	for _, c := range clusters {
		location := c.PrimaryLocation
		if location == "" {
			location = "N/A"
		}
		fmt.Fprintf(b, "### Cluster %d: %s\n\n", c.Label, location)
		fmt.Fprintf(b, "- Articles: %d (%d located)\n", c.Size, c.Located)
		if c.Center != nil {
			fmt.Fprintf(b, "- Centre: %.3f, %.3f\n", c.Center.Latitude, c.Center.Longitude)
		} else {
			b.WriteString("- Centre: N/A\n")
		}
		fmt.Fprintf(b, "- Radius: %s km\n", FormatFloat(c.RadiusKm, 0))
		for _, h := range c.SampleHeadlines {
			fmt.Fprintf(b, "  - %s\n", escapeMarkdown(h))
		}
		b.WriteString("\n")
	}
}

func writeNationalSection(b *strings.Builder, n *NationalBaseline) {
	b.WriteString("## National baseline\n\n")
	if n == nil {
		b.WriteString("No syndicated content found.\n\n")
		return
	}
	fmt.Fprintf(b, "- Syndicated articles: %d\n", n.TotalArticles)
	fmt.Fprintf(b, "- Unique stories: %d\n", n.UniqueStories)
	fmt.Fprintf(b, "- Duplication rate: %s\n", FormatPercent(&n.DuplicationRate))
	fmt.Fprintf(b, "- Locations covered: %d\n", n.GeographicSpread)
	fmt.Fprintf(b, "- Mean outcome: %s\n", FormatFloat(n.AvgOutcome, 3))
	fmt.Fprintf(b, "- Tone: %d positive, %d neutral, %d negative\n\n", n.Tone.Positive, n.Tone.Neutral, n.Tone.Negative)
	if len(n.TopStories) > 0 {
		b.WriteString("| Top story | Copies |\n|---|---|\n")
		for _, s := range n.TopStories {
			fmt.Fprintf(b, "| %s | %d |\n", escapeMarkdown(s.Value), s.Count)
		}
		b.WriteString("\n")
	}
	if len(n.TopSources) > 0 {
		b.WriteString("| Top source | Articles |\n|---|---|\n")
		for _, s := range n.TopSources {
			fmt.Fprintf(b, "| %s | %d |\n", escapeMarkdown(s.Value), s.Count)
		}
		b.WriteString("\n")
	}
}

func writeRegionalSection(b *strings.Builder, r RegionalSummary) {
	b.WriteString("## Regional outcomes\n\n")
	if r.Baseline.N == 0 {
		b.WriteString("No scored documents.\n\n")
		return
	}
	confidence := r.Confidence
	fmt.Fprintf(b, "Baseline over %d documents: mean %s, std %s, %s CI [%s, %s].\n\n",
		r.Baseline.N,
		FormatFloat(&r.Baseline.Mean, 3),
		FormatFloat(&r.Baseline.Std, 3),
		FormatPercent(&confidence),
		FormatFloat(&r.Baseline.CILower, 3),
		FormatFloat(&r.Baseline.CIUpper, 3),
	)
	if len(r.Estimates) == 0 {
		b.WriteString("No location has enough documents for an estimate.\n\n")
	} else {
		writeEstimateTable(b, r.Estimates)
	}
	if c := r.Contrast; c != nil {
		verdict := "not significant"
		if c.Significant {
			verdict = "significant"
		}
		fmt.Fprintf(b, "**%s vs the rest of the corpus:** mean %s against %s (n = %d and %d), permutation p = %s, Cohen's d = %s (%s), %s.\n\n",
			escapeMarkdown(c.LocationID),
			FormatFloat(&c.MeanA, 3), FormatFloat(&c.MeanB, 3),
			c.NA, c.NB,
			FormatFloat(&c.PValue, 3),
			FormatFloat(&c.CohensD, 2), EffectLabel(c.CohensD),
			verdict,
		)
	}
	if r.Excluded > 0 {
		fmt.Fprintf(b, "%d locations had too few documents and were left out.\n\n", r.Excluded)
	}
}

func writeEstimateTable(b *strings.Builder, estimates []RegionalEstimate) {
	b.WriteString("| Location | N | Estimate | CI | Deviation | Effect | Significant |\n|---|---|---|---|---|---|---|\n")
	for _, e := range estimates {
		sig := ""
		if e.Significant {
			sig = "yes"
		}
		fmt.Fprintf(b, "| %s | %d | %s | [%s, %s] | %s | %s (%s) | %s |\n",
			escapeMarkdown(e.LocationID), e.N,
			FormatFloat(&e.PointEstimate, 3),
			FormatFloat(&e.CILower, 3), FormatFloat(&e.CIUpper, 3),
			FormatFloat(&e.Deviation, 3),
			FormatFloat(&e.EffectSize, 2), e.EffectLabel,
			sig,
		)
	}
	b.WriteString("\n")
}

// WriteRunReport renders the stored estimates of a past run as markdown.
func WriteRunReport(w io.Writer, run RunRecord, estimates []RegionalEstimate) error {
	var b strings.Builder
	fmt.Fprintf(&b, "# Run %s\n\n", run.ID)
	fmt.Fprintf(&b, "Analyzed %s: %d documents, %d syndicated, %d clusters.\n\n",
		run.CreatedAt.Format(time.RFC1123), run.Documents, run.Syndicated, run.Clusters)
	if len(estimates) == 0 {
		b.WriteString("No regional estimates were stored for this run.\n")
	} else {
		writeEstimateTable(&b, estimates)
	}
	if _, err := io.WriteString(w, b.String()); err != nil {
		return eris.Wrap(err, "report: write run")
	}
	return nil
}

// WriteComparisonReport renders a weighting comparison as markdown.
func WriteComparisonReport(w io.Writer, c Comparison) error {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s vs %s\n\n", c.NameA, c.NameB)
	fmt.Fprintf(&b, "| Metric | %s | %s | Winner |\n|---|---|---|---|\n", c.NameA, c.NameB)
	for _, m := range c.Metrics {
		winner := m.Winner
		if winner == "" {
			winner = "N/A"
		}
		fmt.Fprintf(&b, "| %s | %s | %s | %s |\n", m.Metric, FormatFloat(m.A, 3), FormatFloat(m.B, 3), winner)
	}
	fmt.Fprintf(&b, "| clusters | %d | %d | |\n\n", c.A.NClusters, c.B.NClusters)
	switch c.Winner {
	case "tie":
		fmt.Fprintf(&b, "**Tie** (%d/%d metrics each).\n", c.WinsA, c.WinsA+c.WinsB)
	case c.NameA:
		fmt.Fprintf(&b, "**%s wins** (%d/%d metrics).\n", c.NameA, c.WinsA, c.WinsA+c.WinsB)
	default:
		fmt.Fprintf(&b, "**%s wins** (%d/%d metrics).\n", c.NameB, c.WinsB, c.WinsA+c.WinsB)
	}
	if _, err := io.WriteString(w, b.String()); err != nil {
		return eris.Wrap(err, "report: write comparison")
	}
	return nil
}

var markdownEscaper = strings.NewReplacer("|", `\|`, "\n", " ")

func escapeMarkdown(s string) string {
	return markdownEscaper.Replace(s)
}

// RenderHTML converts a markdown report into a standalone HTML page.
func RenderHTML(markdown string, generated time.Time) (string, error) {
	// The page template prints its own title
	markdown = strings.TrimPrefix(markdown, "# "+reportTitle+"\n")

	md := goldmark.New(
		goldmark.WithExtensions(
			extension.GFM,
			extension.Table,
			extension.Linkify,
		),
		goldmark.WithParserOptions(
			parser.WithAutoHeadingID(),
		),
		goldmark.WithRendererOptions(
			html.WithXHTML(),
		),
	)

	var buf bytes.Buffer
	if err := md.Convert([]byte(markdown), &buf); err != nil {
		return "", eris.Wrap(err, "report: convert markdown")
	}

	tmpl, err := template.New("report").Parse(htmlTemplate)
	if err != nil {
		return "", eris.Wrap(err, "report: parse template")
	}

	data := struct {
		Title string
		Date  string
		Body  template.HTML
		CSS   template.CSS
	}{
		Title: reportTitle,
		Date:  generated.Format("2 January 2006"),
		Body:  template.HTML(buf.String()),
		CSS:   template.CSS(cssStyles),
	}

	var result bytes.Buffer
	if err := tmpl.Execute(&result, data); err != nil {
		return "", eris.Wrap(err, "report: execute template")
	}
	return result.String(), nil
}
