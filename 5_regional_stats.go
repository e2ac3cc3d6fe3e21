package regionews

import (
	"context"
	"math"
	"math/rand/v2"
	"sort"
	"strconv"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/stat"
)

// Observation is one outcome value attributed to a location.
type Observation struct {
	LocationID string  `json:"location_id"`
	Value      float64 `json:"value"`
}

// LocationKey maps a document to the location its outcome is attributed to.
// An empty key leaves the document out.
type LocationKey func(Document) string

// ByLocationName groups documents by their resolved location name.
func ByLocationName(doc Document) string {
	return doc.LocationName
}

// ByCluster groups documents by cluster label. Unclustered documents are
// left out.
func ByCluster(a Assignment) LocationKey {
	labels := make(map[string]int, len(a.IDs))
	for i, id := range a.IDs {
		labels[id] = a.Labels[i]
	}
	return func(doc Document) string {
		l, ok := labels[doc.ID]
		if !ok || l == Unclustered {
			return ""
		}
		return "cluster-" + strconv.Itoa(l)
	}
}

// ObservationsFrom collects the outcome of every scored document under key.
func ObservationsFrom(docs []Document, key LocationKey) []Observation {
	obs := make([]Observation, 0, len(docs))
	for _, doc := range docs {
		if doc.Outcome == nil {
			continue
		}
		loc := key(doc)
		if loc == "" {
			continue
		}
		obs = append(obs, Observation{LocationID: loc, Value: *doc.Outcome})
	}
	return obs
}

// RegionalConfig controls bootstrap estimation.
type RegionalConfig struct {
	MinN       int     `yaml:"min_n" mapstructure:"min_n"`
	NBootstrap int     `yaml:"n_bootstrap" mapstructure:"n_bootstrap"`
	Confidence float64 `yaml:"confidence" mapstructure:"confidence"`
	// Seed makes resampling reproducible. Nil draws a fresh seed.
	Seed    *uint64 `yaml:"seed" mapstructure:"seed"`
	Workers int     `yaml:"workers" mapstructure:"workers"`
	// NPermutations drives the contrast of the most deviating location
	// against the rest of the corpus.
	NPermutations int `yaml:"n_permutations" mapstructure:"n_permutations"`
}

func (c RegionalConfig) withDefaults() RegionalConfig {
	if c.MinN <= 0 {
		c.MinN = 5
	}
	if c.NBootstrap <= 0 {
		c.NBootstrap = 1000
	}
	if c.Confidence == 0 {
		c.Confidence = 0.95
	}
	if c.NPermutations <= 0 {
		c.NPermutations = 10000
	}
	return c
}

// Baseline is the bootstrap estimate over every observation.
type Baseline struct {
	N             int     `json:"n"`
	Mean          float64 `json:"mean"`
	Std           float64 `json:"std"`
	PointEstimate float64 `json:"point_estimate"`
	CILower       float64 `json:"ci_lower"`
	CIUpper       float64 `json:"ci_upper"`
}

// RegionalEstimate is the bootstrap estimate for one location.
type RegionalEstimate struct {
	LocationID    string  `json:"location_id"`
	N             int     `json:"n"`
	PointEstimate float64 `json:"point_estimate"`
	SampleMean    float64 `json:"sample_mean"`
	CILower       float64 `json:"ci_lower"`
	CIUpper       float64 `json:"ci_upper"`
	Deviation     float64 `json:"deviation"`
	EffectSize    float64 `json:"effect_size"`
	EffectLabel   string  `json:"effect_label"`
	Significant   bool    `json:"significant"`
}

// CIWidth returns the width of the confidence interval.
func (e RegionalEstimate) CIWidth() float64 {
	return e.CIUpper - e.CILower
}

// RegionalSummary is the result of RegionalEstimates. An empty summary (no
// estimates, zero baseline) means there was nothing to estimate.
type RegionalSummary struct {
	Baseline          Baseline           `json:"baseline"`
	Estimates         []RegionalEstimate `json:"estimates"`
	Excluded          int                `json:"excluded"`
	ExcludedLocations []string           `json:"excluded_locations,omitempty"`
	Confidence        float64            `json:"confidence"`
	// Contrast tests the first estimate against every other observation.
	// Nil when there is no estimate or fewer than two other observations.
	Contrast *RegionalContrast `json:"contrast,omitempty"`
}

// RegionalContrast is a permutation test of one location against the rest
// of the corpus.
type RegionalContrast struct {
	LocationID string `json:"location_id"`
	PermutationResult
}

// SignificantCount returns how many locations deviate from the baseline.
func (s RegionalSummary) SignificantCount() int {
	n := 0
	for _, e := range s.Estimates {
		if e.Significant {
			n++
		}
	}
	return n
}

// EffectLabel bands a standardized mean difference.
func EffectLabel(effect float64) string {
	switch a := math.Abs(effect); {
	case a > 0.8:
		return "large"
	case a > 0.5:
		return "medium"
	case a > 0.2:
		return "small"
	default:
		return "negligible"
	}
}

// RegionalEstimates bootstraps a confidence interval of the mean outcome for
// every location with at least MinN observations and flags locations whose
// interval does not overlap the corpus-wide baseline interval. Each location
// resamples from its own random stream, so results for a fixed seed do not
// depend on Workers.
func RegionalEstimates(ctx context.Context, obs []Observation, cfg RegionalConfig) (RegionalSummary, error) {
	cfg = cfg.withDefaults()
	if !(cfg.Confidence > 0 && cfg.Confidence < 1) {
		return RegionalSummary{}, eris.Wrapf(ErrInvalidInput, "regional: confidence %v outside (0,1)", cfg.Confidence)
	}
	summary := RegionalSummary{Estimates: []RegionalEstimate{}, Confidence: cfg.Confidence}
	if len(obs) == 0 {
		return summary, nil
	}

	all := make([]float64, len(obs))
	byLocation := make(map[string][]float64)
	for i, o := range obs {
		if math.IsNaN(o.Value) || math.IsInf(o.Value, 0) {
			return RegionalSummary{}, eris.Wrapf(ErrInvalidInput, "regional: non-finite value for location %q", o.LocationID)
		}
		all[i] = o.Value
		byLocation[o.LocationID] = append(byLocation[o.LocationID], o.Value)
	}

	var seed uint64
	if cfg.Seed != nil {
		seed = *cfg.Seed
	} else {
		seed = rand.Uint64()
	}

	mean, lower, upper := bootstrapMean(all, cfg.NBootstrap, cfg.Confidence, rand.New(rand.NewPCG(seed, 0)))
	summary.Baseline = Baseline{
		N:             len(all),
		Mean:          stat.Mean(all, nil),
		PointEstimate: mean,
		CILower:       lower,
		CIUpper:       upper,
	}
	if len(all) > 1 {
		summary.Baseline.Std = stat.StdDev(all, nil)
	}

	locations := make([]string, 0, len(byLocation))
	for loc := range byLocation {
		locations = append(locations, loc)
	}
	sort.Strings(locations)

	baseline := summary.Baseline
	estimates := make([]*RegionalEstimate, len(locations))
	g, gctx := errgroup.WithContext(ctx)
	if cfg.Workers > 0 {
		g.SetLimit(cfg.Workers)
	}
	for i, loc := range locations {
		values := byLocation[loc]
		if len(values) < cfg.MinN {
			summary.Excluded++
			summary.ExcludedLocations = append(summary.ExcludedLocations, loc)
			continue
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			rng := rand.New(rand.NewPCG(seed, uint64(i)+1))
			est := estimateLocation(loc, values, baseline, cfg, rng)
			estimates[i] = &est
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return RegionalSummary{}, eris.Wrap(err, "regional: bootstrap")
	}

	for _, est := range estimates {
		if est != nil {
			summary.Estimates = append(summary.Estimates, *est)
		}
	}
	sort.SliceStable(summary.Estimates, func(a, b int) bool {
		da, db := math.Abs(summary.Estimates[a].Deviation), math.Abs(summary.Estimates[b].Deviation)
		if da != db {
			return da > db
		}
		return summary.Estimates[a].LocationID < summary.Estimates[b].LocationID
	})

	if len(summary.Estimates) > 0 {
		contrast, err := contrastLocation(ctx, summary.Estimates[0].LocationID, obs, cfg.NPermutations, seed+uint64(len(locations))+1)
		if err != nil {
			return RegionalSummary{}, err
		}
		summary.Contrast = contrast
	}

	zap.L().Info("estimated regional outcomes",
		zap.Int("observations", len(obs)),
		zap.Int("locations", len(locations)),
		zap.Int("estimated", len(summary.Estimates)),
		zap.Int("excluded", summary.Excluded),
		zap.Int("significant", summary.SignificantCount()),
	)
	return summary, nil
}

// contrastLocation runs a permutation test of loc against every other
// observation.
func contrastLocation(ctx context.Context, loc string, obs []Observation, nPermutations int, seed uint64) (*RegionalContrast, error) {
	if err := ctx.Err(); err != nil {
		return nil, eris.Wrap(err, "regional: contrast")
	}
	var in, rest []float64
	for _, o := range obs {
		if o.LocationID == loc {
			in = append(in, o.Value)
		} else {
			rest = append(rest, o.Value)
		}
	}
	if len(in) < 2 || len(rest) < 2 {
		return nil, nil
	}
	res, err := PermutationTest(in, rest, nPermutations, &seed)
	if err != nil {
		return nil, err
	}
	zap.L().Debug("contrasted location with the rest of the corpus",
		zap.String("location", loc),
		zap.Float64("p_value", res.PValue),
		zap.Float64("cohens_d", res.CohensD),
	)
	return &RegionalContrast{LocationID: loc, PermutationResult: res}, nil
}

func estimateLocation(loc string, values []float64, baseline Baseline, cfg RegionalConfig, rng *rand.Rand) RegionalEstimate {
	point, lower, upper := bootstrapMean(values, cfg.NBootstrap, cfg.Confidence, rng)
	deviation := point - baseline.Mean
	effect := 0.0
	if baseline.Std > 0 {
		effect = deviation / baseline.Std
	}
	return RegionalEstimate{
		LocationID:    loc,
		N:             len(values),
		PointEstimate: point,
		SampleMean:    stat.Mean(values, nil),
		CILower:       lower,
		CIUpper:       upper,
		Deviation:     deviation,
		EffectSize:    effect,
		EffectLabel:   EffectLabel(effect),
		Significant:   upper < baseline.CILower || lower > baseline.CIUpper,
	}
}

// bootstrapMean resamples values with replacement n times and returns the
// mean of the resample means with the central confidence interval of them.
func bootstrapMean(values []float64, n int, confidence float64, rng *rand.Rand) (float64, float64, float64) {
	means := make([]float64, n)
	sample := make([]float64, len(values))
	for b := range means {
		for k := range sample {
			sample[k] = values[rng.IntN(len(values))]
		}
		means[b] = stat.Mean(sample, nil)
	}
	sort.Float64s(means)

	alpha := 1 - confidence
	lower := stat.Quantile(alpha/2, stat.LinInterp, means, nil)
	upper := stat.Quantile(1-alpha/2, stat.LinInterp, means, nil)
	return stat.Mean(means, nil), lower, upper
}

// PermutationResult is a two-sided difference-in-means permutation test.
type PermutationResult struct {
	ObservedDifference float64 `json:"observed_difference"`
	PValue             float64 `json:"p_value"`
	Significant        bool    `json:"significant"`
	CohensD            float64 `json:"effect_size"`
	MeanA              float64 `json:"group_a_mean"`
	MeanB              float64 `json:"group_b_mean"`
	NA                 int     `json:"group_a_n"`
	NB                 int     `json:"group_b_n"`
}

// PermutationTest compares the means of a and b by reshuffling group
// membership nPermutations times. Significance is p < 0.05.
func PermutationTest(a, b []float64, nPermutations int, seed *uint64) (PermutationResult, error) {
	if len(a) < 2 || len(b) < 2 {
		return PermutationResult{}, eris.Wrapf(ErrInvalidInput, "permutation test: need at least 2 values per group, got %d and %d", len(a), len(b))
	}
	if nPermutations <= 0 {
		nPermutations = 10000
	}
	var s uint64
	if seed != nil {
		s = *seed
	} else {
		s = rand.Uint64()
	}
	rng := rand.New(rand.NewPCG(s, 0))

	meanA, meanB := stat.Mean(a, nil), stat.Mean(b, nil)
	observed := meanA - meanB

	combined := append(append([]float64(nil), a...), b...)
	extreme := 0
	for range nPermutations {
		rng.Shuffle(len(combined), func(i, j int) {
			combined[i], combined[j] = combined[j], combined[i]
		})
		diff := stat.Mean(combined[:len(a)], nil) - stat.Mean(combined[len(a):], nil)
		if math.Abs(diff) >= math.Abs(observed) {
			extreme++
		}
	}
	pValue := float64(extreme) / float64(nPermutations)

	na, nb := float64(len(a)), float64(len(b))
	pooled := math.Sqrt(((na-1)*stat.Variance(a, nil) + (nb-1)*stat.Variance(b, nil)) / (na + nb - 2))
	d := 0.0
	if pooled > 0 {
		d = observed / pooled
	}

	return PermutationResult{
		ObservedDifference: observed,
		PValue:             pValue,
		Significant:        pValue < 0.05,
		CohensD:            d,
		MeanA:              meanA,
		MeanB:              meanB,
		NA:                 len(a),
		NB:                 len(b),
	}, nil
}
