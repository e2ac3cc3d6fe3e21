package regionews

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// Regional scopes decide what a "region" is for outcome estimates.
const (
	ScopeLocation = "location"
	ScopeCluster  = "cluster"
)

// Options carries every tunable of one analysis run.
type Options struct {
	// SpatialWeight is the base lambda of local documents and the fixed
	// lambda of the non-adaptive comparison.
	SpatialWeight float64
	Fusion        FusionConfig
	Syndication   SyndicationConfig
	Cluster       ClusterConfig
	Regional      RegionalConfig
	// LocalOnly clusters only documents that were not flagged syndicated.
	LocalOnly     bool
	RegionalScope string
}

// DefaultOptions returns the options used when nothing is configured.
func DefaultOptions() Options {
	return Options{
		SpatialWeight: 0.15,
		Fusion:        FusionConfig{Scale: 1},
		Syndication: SyndicationConfig{
			PrefixChars:         defaultPrefixChars,
			FormulaicThreshold:  defaultFormulaicCount,
			SimilarityThreshold: defaultSimilarityThreshold,
			MinDuplicates:       defaultMinDuplicates,
		},
		Cluster: ClusterConfig{
			Linkage:           LinkageAverage,
			DistanceThreshold: defaultDistanceThreshold,
			MinClusterFloor:   defaultMinClusterFloor,
		},
		Regional: RegionalConfig{
			MinN:          5,
			NBootstrap:    1000,
			Confidence:    0.95,
			NPermutations: 10000,
		},
		RegionalScope: ScopeLocation,
	}
}

// Analysis is the full output of one run.
type Analysis struct {
	CreatedAt time.Time `json:"created_at"`
	Options   Options   `json:"-"`

	// Documents are the clustered documents, aligned with Assignment and
	// Lambdas.
	Documents []Document `json:"-"`
	// Skipped counts input documents without an embedding.
	Skipped int `json:"skipped"`

	Scores     SyndicationScores `json:"syndication"`
	Lambdas    []float64         `json:"lambdas"`
	Assignment Assignment        `json:"assignment"`
	Evaluation Evaluation        `json:"evaluation"`
	Clusters   []ClusterSummary  `json:"clusters"`
	National   *NationalBaseline `json:"national_baseline"`
	Regional   RegionalSummary   `json:"regional"`
}

// Analyze runs syndication weighting, distance fusion, clustering,
// evaluation and regional estimation over docs.
func Analyze(ctx context.Context, docs []Document, opts Options) (*Analysis, error) {
	if opts.SpatialWeight < 0 || opts.SpatialWeight > 1 {
		return nil, eris.Wrapf(ErrInvalidInput, "analyze: spatial weight %v outside [0,1]", opts.SpatialWeight)
	}

	usable, skipped := withEmbeddings(docs)
	if skipped > 0 {
		zap.L().Warn("excluding documents without embeddings from clustering",
			zap.Int("skipped", skipped),
			zap.Int("usable", len(usable)),
		)
	}

	weighter := NewSyndicationWeighter(opts.Syndication, opts.SpatialWeight)
	scores := weighter.Score(ctx, usable)
	syndicated, local := SeparateContent(usable, scores)

	clusterDocs, lambdas := usable, scores.Lambdas
	if opts.LocalOnly {
		clusterDocs = local
		lambdas = make([]float64, 0, len(local))
		for _, l := range scores.Lambdas {
			if l > 0 {
				lambdas = append(lambdas, l)
			}
		}
		zap.L().Info("clustering local content only",
			zap.Int("local", len(local)),
			zap.Int("syndicated", len(syndicated)),
		)
	}

	run, err := clusterWith(clusterDocs, lambdas, opts)
	if err != nil {
		return nil, err
	}

	analysis := &Analysis{
		CreatedAt:  time.Now().UTC(),
		Options:    opts,
		Documents:  clusterDocs,
		Skipped:    skipped,
		Scores:     scores,
		Lambdas:    run.lambdas,
		Assignment: run.assignment,
		Evaluation: run.evaluation,
		Clusters:   SummarizeClusters(run.assignment, clusterDocs),
		National:   NationalBaselineOf(syndicated),
	}

	var key LocationKey = ByLocationName
	regionalDocs := docs
	if opts.RegionalScope == ScopeCluster {
		key = ByCluster(run.assignment)
		regionalDocs = clusterDocs
	}
	analysis.Regional, err = RegionalEstimates(ctx, ObservationsFrom(regionalDocs, key), opts.Regional)
	if err != nil {
		return nil, eris.Wrap(err, "analyze: regional estimates")
	}

	zap.L().Info("analysis complete",
		zap.Int("documents", len(docs)),
		zap.Int("clustered", len(clusterDocs)),
		zap.Int("syndicated", scores.SyndicatedCount()),
		zap.Int("clusters", len(run.assignment.Clusters)),
		zap.String("evaluation_error", run.evaluation.Error),
		zap.Int("regional_estimates", len(analysis.Regional.Estimates)),
	)
	return analysis, nil
}

type clusterRun struct {
	lambdas    []float64
	assignment Assignment
	evaluation Evaluation
}

// clusterWith fuses distances under lambdas, clusters and evaluates. The
// evaluation is computed on semantic distances so runs with different
// weightings are scored in the same space.
func clusterWith(docs []Document, lambdas []float64, opts Options) (clusterRun, error) {
	semantic, err := SemanticDistances(docs)
	if err != nil {
		return clusterRun{}, eris.Wrap(err, "semantic distances")
	}
	spatial, err := SpatialDistances(docs)
	if err != nil {
		return clusterRun{}, eris.Wrap(err, "spatial distances")
	}
	gated := gateUnlocated(docs, lambdas)
	combined, err := Fuse(semantic, spatial, gated, opts.Fusion)
	if err != nil {
		return clusterRun{}, eris.Wrap(err, "fuse distances")
	}
	assignment, err := Cluster(combined, opts.Cluster)
	if err != nil {
		return clusterRun{}, eris.Wrap(err, "cluster")
	}

	embeddings := make([][]float64, len(docs))
	for i, doc := range docs {
		embeddings[i] = doc.Embedding
	}
	evaluation, err := Evaluate(assignment.Labels, semantic, embeddings)
	if err != nil {
		return clusterRun{}, eris.Wrap(err, "evaluate")
	}
	return clusterRun{lambdas: gated, assignment: assignment, evaluation: evaluation}, nil
}

// CompareWeighting clusters docs twice, once with every document at the
// fixed base spatial weight and once with adaptive syndication-aware
// lambdas, and compares the two evaluations.
func CompareWeighting(ctx context.Context, docs []Document, opts Options) (Comparison, error) {
	usable, skipped := withEmbeddings(docs)
	if skipped > 0 {
		zap.L().Warn("excluding documents without embeddings from comparison", zap.Int("skipped", skipped))
	}

	fixed, err := clusterWith(usable, FixedLambdas(len(usable), opts.SpatialWeight), opts)
	if err != nil {
		return Comparison{}, eris.Wrap(err, "compare: fixed weighting")
	}

	scores := NewSyndicationWeighter(opts.Syndication, opts.SpatialWeight).Score(ctx, usable)
	adaptive, err := clusterWith(usable, scores.Lambdas, opts)
	if err != nil {
		return Comparison{}, eris.Wrap(err, "compare: adaptive weighting")
	}

	c := Compare(fixed.evaluation, adaptive.evaluation, FixedName(opts.SpatialWeight), "Adaptive λ")
	zap.L().Info("compared weighting", zap.String("winner", c.Winner), zap.Int("wins_fixed", c.WinsA), zap.Int("wins_adaptive", c.WinsB))
	return c, nil
}

// FixedName labels the non-adaptive side of a comparison.
func FixedName(weight float64) string {
	return "Fixed λ=" + FormatFloat(&weight, 2)
}
