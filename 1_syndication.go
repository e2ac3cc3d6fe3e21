package regionews

import (
	"context"
	"net/url"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Detector votes on which documents of a batch are syndicated. The returned
// slice is aligned with docs. An error means the detector could not run at
// all and its votes are ignored.
type Detector interface {
	Name() string
	Detect(ctx context.Context, docs []Document) ([]bool, error)
}

// LambdaLadder holds the spatial weights given to documents that no detector
// flagged.
type LambdaLadder struct {
	Baseline float64 `json:"baseline"`
	Boosted  float64 `json:"boosted"` // local outlet or local quotes
	Strong   float64 `json:"strong"`  // local outlet and local quotes
}

// DefaultLambdaLadder returns the ladder with the given baseline and the
// standard boosted/strong steps.
func DefaultLambdaLadder(baseline float64) LambdaLadder {
	return LambdaLadder{Baseline: baseline, Boosted: 0.25, Strong: 0.40}
}

// SyndicationScores is the per-document result of SyndicationWeighter.Score.
type SyndicationScores struct {
	IDs     []string  `json:"ids"`
	Lambdas []float64 `json:"lambdas"`
	// Verdicts holds, per document, the name of the first detector that
	// flagged it, or "" when the document is treated as local reporting.
	Verdicts []string `json:"verdicts"`
	// Degraded lists detectors that could not run on this batch.
	Degraded []string `json:"degraded,omitempty"`
}

// Syndicated reports whether document i was flagged.
func (s SyndicationScores) Syndicated(i int) bool {
	return s.Verdicts[i] != ""
}

// SyndicatedCount returns the number of flagged documents.
func (s SyndicationScores) SyndicatedCount() int {
	n := 0
	for _, v := range s.Verdicts {
		if v != "" {
			n++
		}
	}
	return n
}

// SyndicationConfig tunes the three detection layers.
type SyndicationConfig struct {
	WireDomains         []string `yaml:"wire_domains" mapstructure:"wire_domains"`
	PrefixChars         int      `yaml:"prefix_chars" mapstructure:"prefix_chars"`
	FormulaicThreshold  int      `yaml:"formulaic_threshold" mapstructure:"formulaic_threshold"`
	SimilarityThreshold float64  `yaml:"similarity_threshold" mapstructure:"similarity_threshold"`
	MinDuplicates       int      `yaml:"min_duplicates" mapstructure:"min_duplicates"`
	Workers             int      `yaml:"workers" mapstructure:"workers"`
}

// SyndicationWeighter assigns each document a spatial-weight lambda. Any
// detector flagging a document sets its lambda to 0.
type SyndicationWeighter struct {
	Detectors []Detector
	Ladder    LambdaLadder
}

// NewSyndicationWeighter returns a weighter with the source, lexical and
// duplicate detectors in that order.
func NewSyndicationWeighter(cfg SyndicationConfig, baseWeight float64) *SyndicationWeighter {
	return &SyndicationWeighter{
		Detectors: []Detector{
			NewSourceDetector(cfg.WireDomains),
			&LexicalDetector{PrefixChars: cfg.PrefixChars, FormulaicThreshold: cfg.FormulaicThreshold},
			&DuplicateDetector{
				SimilarityThreshold: cfg.SimilarityThreshold,
				MinDuplicates:       cfg.MinDuplicates,
				Workers:             cfg.Workers,
			},
		},
		Ladder: DefaultLambdaLadder(baseWeight),
	}
}

// Score runs every detector over docs and reduces their votes into lambdas.
// It never fails: a detector that errors is logged, recorded in Degraded and
// skipped.
func (w *SyndicationWeighter) Score(ctx context.Context, docs []Document) SyndicationScores {
	scores := SyndicationScores{
		IDs:      documentIDs(docs),
		Lambdas:  make([]float64, len(docs)),
		Verdicts: make([]string, len(docs)),
	}

	for _, det := range w.Detectors {
		votes, err := det.Detect(ctx, docs)
		if err != nil {
			zap.L().Warn("syndication detector degraded, continuing without it",
				zap.String("detector", det.Name()),
				zap.Int("documents", len(docs)),
				zap.Error(err),
			)
			scores.Degraded = append(scores.Degraded, det.Name())
			continue
		}
		if len(votes) != len(docs) {
			zap.L().Warn("syndication detector returned misaligned votes",
				zap.String("detector", det.Name()),
				zap.Int("votes", len(votes)),
				zap.Int("documents", len(docs)),
			)
			scores.Degraded = append(scores.Degraded, det.Name())
			continue
		}
		for i, flagged := range votes {
			if flagged && scores.Verdicts[i] == "" {
				scores.Verdicts[i] = det.Name()
			}
		}
	}

	for i, doc := range docs {
		if scores.Verdicts[i] != "" {
			continue
		}
		outlet := isLocalOutlet(doc.Source, doc.LocationName)
		quotes := hasLocalQuotes(doc.ClusteringText())
		switch {
		case outlet && quotes:
			scores.Lambdas[i] = w.Ladder.Strong
		case outlet || quotes:
			scores.Lambdas[i] = w.Ladder.Boosted
		default:
			scores.Lambdas[i] = w.Ladder.Baseline
		}
	}

	zap.L().Info("scored syndication",
		zap.Int("documents", len(docs)),
		zap.Int("syndicated", scores.SyndicatedCount()),
		zap.Strings("degraded", scores.Degraded),
	)
	return scores
}

// defaultWireDomains are wire services and large syndicators whose copy is
// republished verbatim by local outlets.
var defaultWireDomains = []string{
	"ap.org", "apnews.com", "reuters.com", "bloomberg.com", "afp.com",
	"upi.com", "prnewswire.com", "businesswire.com", "marketwatch.com",
	"cnbc.com", "cnn.com", "foxnews.com", "nbcnews.com", "abcnews.go.com",
	"cbsnews.com",
}

// SourceDetector flags documents whose source or URL host is a known wire
// domain.
type SourceDetector struct {
	domains []string
}

// NewSourceDetector builds a detector over domains, or the built-in list
// when domains is empty.
func NewSourceDetector(domains []string) *SourceDetector {
	if len(domains) == 0 {
		domains = defaultWireDomains
	}
	normalized := make([]string, 0, len(domains))
	for _, d := range domains {
		d = strings.ToLower(strings.TrimSpace(d))
		if d != "" {
			normalized = append(normalized, d)
		}
	}
	return &SourceDetector{domains: normalized}
}

func (d *SourceDetector) Name() string { return "source" }

func (d *SourceDetector) Detect(_ context.Context, docs []Document) ([]bool, error) {
	votes := make([]bool, len(docs))
	for i, doc := range docs {
		votes[i] = d.matches(doc.Source) || d.matches(urlHost(doc.URL))
	}
	return votes, nil
}

func (d *SourceDetector) matches(host string) bool {
	host = strings.ToLower(strings.TrimSpace(host))
	if host == "" {
		return false
	}
	host = strings.TrimPrefix(host, "www.")
	for _, domain := range d.domains {
		if host == domain || strings.HasSuffix(host, "."+domain) {
			return true
		}
	}
	return false
}

func urlHost(raw string) string {
	if raw == "" {
		return ""
	}
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	return u.Hostname()
}

const (
	minPrefixChars        = 1000
	defaultPrefixChars    = 1500
	titlePatternChars     = 200
	defaultFormulaicCount = 4
)

var wireMarkers = []string{
	"associated press",
	"(ap)",
	"reuters",
	"bloomberg news",
	"agence france-presse",
	"united press international",
	"this story was originally published",
	"originally appeared on",
	"originally published by",
	"distributed by",
	"staff and wire reports",
	"wire reports",
	"contributing:",
}

var templatedTitlePatterns = []string{
	"fact check team",
	"fact check:",
	"fact-check:",
	"breaking news:",
	"breaking:",
	"update:",
	"exclusive:",
}

var formulaicPhrases = []string{
	"according to",
	"officials said",
	"in a statement",
	"announced today",
	"reported that",
	"sources told",
	"spokesperson said",
	"press release",
	"issued a statement",
}

// LexicalDetector flags documents carrying wire attribution markers,
// templated headline prefixes or a pile of formulaic phrasing within the
// first PrefixChars characters.
type LexicalDetector struct {
	PrefixChars        int
	FormulaicThreshold int
}

func (d *LexicalDetector) Name() string { return "lexical" }

func (d *LexicalDetector) Detect(_ context.Context, docs []Document) ([]bool, error) {
	prefix := d.PrefixChars
	if prefix == 0 {
		prefix = defaultPrefixChars
	}
	prefix = max(prefix, minPrefixChars)
	threshold := d.FormulaicThreshold
	if threshold <= 0 {
		threshold = defaultFormulaicCount
	}

	votes := make([]bool, len(docs))
	for i, doc := range docs {
		votes[i] = lexicallySyndicated(doc, prefix, threshold)
	}
	return votes, nil
}

func lexicallySyndicated(doc Document, prefix, threshold int) bool {
	body := strings.ToLower(truncateRunes(doc.Title+"\n"+doc.ClusteringText(), prefix))
	for _, marker := range wireMarkers {
		if strings.Contains(body, marker) {
			return true
		}
	}

	head := strings.ToLower(truncateRunes(doc.Title+" "+doc.Text, titlePatternChars))
	for _, pattern := range templatedTitlePatterns {
		if strings.Contains(head, pattern) {
			return true
		}
	}

	distinct := 0
	for _, phrase := range formulaicPhrases {
		if strings.Contains(body, phrase) {
			distinct++
		}
	}
	return distinct >= threshold
}

func truncateRunes(s string, n int) string {
	if len(s) <= n {
		return s
	}
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}

const (
	defaultSimilarityThreshold = 0.95
	defaultMinDuplicates       = 5
)

// DuplicateDetector flags documents with at least MinDuplicates other
// documents whose embedding cosine similarity reaches SimilarityThreshold.
// It overrides the heuristic layers because republished copy from outlets
// missing from the wire list is only visible here.
type DuplicateDetector struct {
	SimilarityThreshold float64
	MinDuplicates       int
	Workers             int
}

func (d *DuplicateDetector) Name() string { return "duplicate" }

func (d *DuplicateDetector) Detect(ctx context.Context, docs []Document) ([]bool, error) {
	threshold := d.SimilarityThreshold
	if threshold == 0 {
		threshold = defaultSimilarityThreshold
	}
	minDup := d.MinDuplicates
	if minDup <= 0 {
		minDup = defaultMinDuplicates
	}

	if len(docs) < 2 {
		return nil, eris.Wrapf(ErrDegradedDetection, "need at least 2 documents, got %d", len(docs))
	}
	normalized := make([][]float64, len(docs))
	for i, doc := range docs {
		if len(doc.Embedding) == 0 {
			return nil, eris.Wrapf(ErrDegradedDetection, "document %q has no embedding", doc.ID)
		}
		if len(doc.Embedding) != len(docs[0].Embedding) {
			return nil, eris.Wrapf(ErrDegradedDetection, "document %q has %d embedding dimensions, want %d",
				doc.ID, len(doc.Embedding), len(docs[0].Embedding))
		}
		normalized[i] = normalizeEmbedding(doc.Embedding)
	}

	counts := make([]int, len(docs))
	g, ctx := errgroup.WithContext(ctx)
	if d.Workers > 0 {
		g.SetLimit(d.Workers)
	}
	for i := range normalized {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			n := 0
			for j := range normalized {
				if j != i && cosineSimilarity(normalized[i], normalized[j]) >= threshold {
					n++
				}
			}
			counts[i] = n
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, eris.Wrap(ErrDegradedDetection, err.Error())
	}

	votes := make([]bool, len(docs))
	for i, n := range counts {
		votes[i] = n >= minDup
	}
	return votes, nil
}

var ignoredLocationParts = map[string]bool{
	"united": true, "states": true, "america": true, "county": true,
	"north": true, "south": true, "east": true, "west": true,
}

var localPressIndicators = []string{
	"local", "city", "town", "county", "daily", "tribune", "gazette",
	"herald", "times", "post", "chronicle", "journal", "news", "observer",
	"sentinel", "dispatch",
}

// isLocalOutlet guesses whether source is a local newspaper, either because
// it names the document's location or because it reads like a local masthead.
func isLocalOutlet(source, location string) bool {
	src := strings.ToLower(source)
	if src == "" {
		return false
	}
	for _, part := range strings.FieldsFunc(strings.ToLower(location), func(r rune) bool {
		return r == ',' || r == ' ' || r == '-'
	}) {
		if len(part) > 4 && !ignoredLocationParts[part] && strings.Contains(src, part) {
			return true
		}
	}
	hits := 0
	for _, ind := range localPressIndicators {
		if strings.Contains(src, ind) {
			hits++
		}
	}
	return hits >= 2
}

var localOfficialTitles = []string{
	"mayor", "councilmember", "council member", "alderman", "supervisor",
	"commissioner", "local official", "city manager", "town manager",
	"selectman", "city council", "town council", "board of supervisors",
}

const minQuoteTextChars = 100

// hasLocalQuotes reports whether text quotes or attributes a local official.
func hasLocalQuotes(text string) bool {
	if len(text) < minQuoteTextChars {
		return false
	}
	lower := strings.ToLower(text)
	for _, title := range localOfficialTitles {
		if strings.Contains(lower, title) {
			return true
		}
	}
	return false
}
