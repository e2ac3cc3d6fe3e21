package regionews

import (
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// ClusterQuality is the mean silhouette of one cluster.
type ClusterQuality struct {
	Label      int     `json:"label"`
	Silhouette float64 `json:"silhouette"`
}

// Evaluation holds clustering quality metrics. Metric fields are nil when
// they could not be computed; Error is EmptyDataset when fewer than two
// clusters were available.
type Evaluation struct {
	Error   string `json:"error,omitempty"`
	Message string `json:"message,omitempty"`

	NClusters  int `json:"n_clusters"`
	NDocuments int `json:"n_documents"`
	NoiseCount int `json:"n_noise"`

	Silhouette       *float64 `json:"silhouette_score"`
	DaviesBouldin    *float64 `json:"davies_bouldin"`
	CalinskiHarabasz *float64 `json:"calinski_harabasz"`
	IntraDistance    *float64 `json:"avg_intra_cluster_distance"`
	InterDistance    *float64 `json:"avg_inter_cluster_distance"`

	AvgClusterSize    *float64 `json:"avg_cluster_size"`
	MedianClusterSize *float64 `json:"median_cluster_size"`
	StdClusterSize    *float64 `json:"std_cluster_size"`
	LargestFraction   *float64 `json:"largest_cluster_pct"`
	BalanceEntropy    *float64 `json:"balance_entropy"`
	BalanceRatio      *float64 `json:"balance_ratio"`

	ClusterSilhouettes map[int]float64 `json:"silhouette_per_cluster,omitempty"`
	WorstCluster       *ClusterQuality `json:"worst_cluster"`
	BestCluster        *ClusterQuality `json:"best_cluster"`

	Assessment string `json:"quality_assessment,omitempty"`
}

// OK reports whether the evaluation carries metrics.
func (e Evaluation) OK() bool {
	return e.Error == ""
}

// Metric returns a metric by its report name, or nil when the metric is
// unknown or was not computed.
func (e Evaluation) Metric(name string) *float64 {
	switch name {
	case "silhouette":
		return e.Silhouette
	case "davies_bouldin":
		return e.DaviesBouldin
	case "calinski_harabasz":
		return e.CalinskiHarabasz
	case "intra_distance":
		return e.IntraDistance
	case "inter_distance":
		return e.InterDistance
	case "avg_cluster_size":
		return e.AvgClusterSize
	case "median_cluster_size":
		return e.MedianClusterSize
	case "std_cluster_size":
		return e.StdClusterSize
	case "largest_fraction":
		return e.LargestFraction
	case "balance_entropy":
		return e.BalanceEntropy
	case "balance_ratio":
		return e.BalanceRatio
	}
	return nil
}

// FormatFloat renders v with the given precision, or "N/A" when v is nil or
// not finite.
func FormatFloat(v *float64, precision int) string {
	if v == nil || math.IsNaN(*v) || math.IsInf(*v, 0) {
		return "N/A"
	}
	return strconv.FormatFloat(*v, 'f', precision, 64)
}

// FormatPercent renders a fraction as a percentage, or "N/A".
func FormatPercent(v *float64) string {
	if v == nil || math.IsNaN(*v) || math.IsInf(*v, 0) {
		return "N/A"
	}
	return strconv.FormatFloat(*v*100, 'f', 1, 64) + "%"
}

func ptr[T any](v T) *T {
	return &v
}

func emptyEvaluation(message string, n, noise, clusters int) Evaluation {
	return Evaluation{
		Error:      EmptyDataset,
		Message:    message,
		NClusters:  clusters,
		NDocuments: n,
		NoiseCount: noise,
	}
}

// Evaluate scores a clustering. labels are aligned with the rows of
// distances and with embeddings; Unclustered documents are counted as noise
// and left out of every metric. Silhouette and the distance summaries use
// distances (cosine distances of the embeddings when distances is nil).
// Davies-Bouldin and Calinski-Harabasz need embeddings and are nil without
// them.
func Evaluate(labels []int, distances *DistanceMatrix, embeddings [][]float64) (Evaluation, error) {
	if len(labels) == 0 || (distances == nil && len(embeddings) == 0) {
		return emptyEvaluation("No valid clusters to evaluate", len(labels), 0, 0), nil
	}
	if distances != nil && distances.Len() != len(labels) {
		return Evaluation{}, eris.Wrapf(ErrShapeMismatch, "evaluate: %d labels for %d×%d distance matrix",
			len(labels), distances.Len(), distances.Len())
	}
	if len(embeddings) > 0 && len(embeddings) != len(labels) {
		return Evaluation{}, eris.Wrapf(ErrShapeMismatch, "evaluate: %d labels for %d embeddings", len(labels), len(embeddings))
	}
	for i, l := range labels {
		if l < Unclustered {
			return Evaluation{}, eris.Wrapf(ErrInvalidInput, "evaluate: label %d at row %d", l, i)
		}
	}

	var rows []int
	noise := 0
	for i, l := range labels {
		if l == Unclustered {
			noise++
			continue
		}
		rows = append(rows, i)
	}
	members := make(map[int][]int)
	for _, r := range rows {
		members[labels[r]] = append(members[labels[r]], r)
	}
	clusterLabels := make([]int, 0, len(members))
	for l := range members {
		clusterLabels = append(clusterLabels, l)
	}
	sort.Ints(clusterLabels)

	if len(clusterLabels) < 2 {
		return emptyEvaluation("Fewer than 2 clusters survived filtering", len(labels), noise, len(clusterLabels)), nil
	}

	dist, err := distanceFunc(distances, embeddings)
	if err != nil {
		return Evaluation{}, err
	}

	eval := Evaluation{
		NClusters:  len(clusterLabels),
		NDocuments: len(labels),
		NoiseCount: noise,
	}

	samples := silhouetteSamples(rows, labels, members, dist)
	eval.Silhouette = ptr(stat.Mean(samples, nil))
	eval.ClusterSilhouettes = make(map[int]float64, len(clusterLabels))
	sampleByRow := make(map[int]float64, len(rows))
	for k, r := range rows {
		sampleByRow[r] = samples[k]
	}
	for _, l := range clusterLabels {
		vals := make([]float64, len(members[l]))
		for k, r := range members[l] {
			vals[k] = sampleByRow[r]
		}
		q := stat.Mean(vals, nil)
		eval.ClusterSilhouettes[l] = q
		if eval.WorstCluster == nil || q < eval.WorstCluster.Silhouette {
			eval.WorstCluster = &ClusterQuality{Label: l, Silhouette: q}
		}
		if eval.BestCluster == nil || q > eval.BestCluster.Silhouette {
			eval.BestCluster = &ClusterQuality{Label: l, Silhouette: q}
		}
	}

	intra, inter := clusterDistances(rows, labels, dist)
	eval.IntraDistance, eval.InterDistance = intra, inter

	if len(embeddings) > 0 {
		points, err := clusteredPoints(rows, embeddings)
		if err != nil {
			return Evaluation{}, err
		}
		centroids := make(map[int][]float64, len(clusterLabels))
		for _, l := range clusterLabels {
			centroids[l] = centroidOf(members[l], embeddings)
		}
		eval.DaviesBouldin = ptr(daviesBouldin(clusterLabels, members, centroids, embeddings))
		eval.CalinskiHarabasz = ptr(calinskiHarabasz(clusterLabels, members, centroids, embeddings, points))
	}

	sizes := make([]float64, len(clusterLabels))
	for k, l := range clusterLabels {
		sizes[k] = float64(len(members[l]))
	}
	clustered := float64(len(rows))
	eval.AvgClusterSize = ptr(stat.Mean(sizes, nil))
	eval.MedianClusterSize = ptr(median(sizes))
	eval.StdClusterSize = ptr(stat.StdDev(sizes, nil))
	eval.LargestFraction = ptr(floats.Max(sizes) / clustered)

	probs := make([]float64, len(sizes))
	for k, s := range sizes {
		probs[k] = s / clustered
	}
	entropy := stat.Entropy(probs)
	eval.BalanceEntropy = ptr(entropy)
	eval.BalanceRatio = ptr(entropy / math.Log(float64(len(sizes))))

	eval.Assessment = assessClusteringQuality(eval.Silhouette, eval.DaviesBouldin, eval.NClusters, len(rows))
	return eval, nil
}

// distanceFunc returns a row-indexed distance lookup over the precomputed
// matrix, or over cosine distances of the embeddings.
func distanceFunc(distances *DistanceMatrix, embeddings [][]float64) (func(i, j int) float64, error) {
	if distances != nil {
		return distances.At, nil
	}
	dim := len(embeddings[0])
	normalized := make([][]float64, len(embeddings))
	for i, e := range embeddings {
		if len(e) != dim {
			return nil, eris.Wrapf(ErrShapeMismatch, "evaluate: embedding %d has %d dimensions, want %d", i, len(e), dim)
		}
		normalized[i] = normalizeEmbedding(e)
	}
	return func(i, j int) float64 {
		if i == j {
			return 0
		}
		return clamp01(1 - cosineSimilarity(normalized[i], normalized[j]))
	}, nil
}

// silhouetteSamples computes the silhouette of every clustered row. Members
// of single-document clusters score 0.
func silhouetteSamples(rows, labels []int, members map[int][]int, dist func(i, j int) float64) []float64 {
	samples := make([]float64, len(rows))
	for k, i := range rows {
		own := members[labels[i]]
		if len(own) <= 1 {
			continue
		}

		// Average distance to the rest of its own cluster (a)
		a := 0.0
		for _, j := range own {
			if j != i {
				a += dist(i, j)
			}
		}
		a /= float64(len(own) - 1)

		// Lowest average distance to another cluster (b)
		b := math.Inf(1)
		for l, other := range members {
			if l == labels[i] {
				continue
			}
			avg := 0.0
			for _, j := range other {
				avg += dist(i, j)
			}
			avg /= float64(len(other))
			b = math.Min(b, avg)
		}

		if m := math.Max(a, b); m > 0 {
			samples[k] = (b - a) / m
		}
	}
	return samples
}

// clusterDistances returns the mean pairwise distance within clusters and
// between clusters.
func clusterDistances(rows, labels []int, dist func(i, j int) float64) (*float64, *float64) {
	var intraSum, interSum float64
	var intraN, interN int
	for a := 0; a < len(rows); a++ {
		for b := a + 1; b < len(rows); b++ {
			d := dist(rows[a], rows[b])
			if labels[rows[a]] == labels[rows[b]] {
				intraSum += d
				intraN++
			} else {
				interSum += d
				interN++
			}
		}
	}
	var intra, inter *float64
	if intraN > 0 {
		intra = ptr(intraSum / float64(intraN))
	}
	if interN > 0 {
		inter = ptr(interSum / float64(interN))
	}
	return intra, inter
}

func clusteredPoints(rows []int, embeddings [][]float64) ([][]float64, error) {
	dim := len(embeddings[rows[0]])
	points := make([][]float64, len(rows))
	for k, r := range rows {
		if len(embeddings[r]) != dim {
			return nil, eris.Wrapf(ErrShapeMismatch, "evaluate: embedding %d has %d dimensions, want %d", r, len(embeddings[r]), dim)
		}
		points[k] = embeddings[r]
	}
	return points, nil
}

func centroidOf(rows []int, embeddings [][]float64) []float64 {
	centroid := make([]float64, len(embeddings[rows[0]]))
	for _, r := range rows {
		floats.Add(centroid, embeddings[r])
	}
	floats.Scale(1/float64(len(rows)), centroid)
	return centroid
}

// daviesBouldin averages, over clusters, the worst ratio of summed scatter to
// centroid separation. Coincident centroids are skipped.
func daviesBouldin(clusterLabels []int, members map[int][]int, centroids map[int][]float64, embeddings [][]float64) float64 {
	scatter := make(map[int]float64, len(clusterLabels))
	for _, l := range clusterLabels {
		s := 0.0
		for _, r := range members[l] {
			s += floats.Distance(embeddings[r], centroids[l], 2)
		}
		scatter[l] = s / float64(len(members[l]))
	}

	db := 0.0
	for _, i := range clusterLabels {
		maxRatio := 0.0
		for _, j := range clusterLabels {
			if i == j {
				continue
			}
			sep := floats.Distance(centroids[i], centroids[j], 2)
			if sep > 0 {
				maxRatio = math.Max(maxRatio, (scatter[i]+scatter[j])/sep)
			}
		}
		db += maxRatio
	}
	return db / float64(len(clusterLabels))
}

// calinskiHarabasz is the ratio of between-cluster to within-cluster
// dispersion, each normalized by its degrees of freedom. A clustering with no
// within-cluster dispersion scores 1.
func calinskiHarabasz(clusterLabels []int, members map[int][]int, centroids map[int][]float64, embeddings [][]float64, points [][]float64) float64 {
	overall := make([]float64, len(points[0]))
	for _, p := range points {
		floats.Add(overall, p)
	}
	floats.Scale(1/float64(len(points)), overall)

	var bcss, wcss float64
	for _, l := range clusterLabels {
		d := floats.Distance(centroids[l], overall, 2)
		bcss += float64(len(members[l])) * d * d
		for _, r := range members[l] {
			w := floats.Distance(embeddings[r], centroids[l], 2)
			wcss += w * w
		}
	}
	if wcss == 0 {
		return 1.0
	}
	k := float64(len(clusterLabels))
	n := float64(len(points))
	return (bcss / (k - 1)) / (wcss / (n - k))
}

func median(values []float64) float64 {
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	mid := len(sorted) / 2
	if len(sorted)%2 == 1 {
		return sorted[mid]
	}
	return (sorted[mid-1] + sorted[mid]) / 2
}

func assessClusteringQuality(silhouette, dbIndex *float64, numClusters, numDocs int) string {
	var assessment []string

	if silhouette != nil {
		switch s := *silhouette; {
		case s > 0.7:
			assessment = append(assessment, "Excellent cluster separation")
		case s > 0.5:
			assessment = append(assessment, "Good cluster separation")
		case s > 0.25:
			assessment = append(assessment, "Moderate cluster separation")
		case s > 0:
			assessment = append(assessment, "Weak cluster separation")
		default:
			assessment = append(assessment, "Poor cluster separation - clusters may overlap")
		}
	}

	// Davies-Bouldin index (lower is better)
	if dbIndex != nil {
		switch {
		case *dbIndex < 1.0:
			assessment = append(assessment, "well-defined clusters")
		case *dbIndex < 2.0:
			assessment = append(assessment, "moderately defined clusters")
		default:
			assessment = append(assessment, "poorly defined clusters")
		}
	}

	if numClusters > 0 {
		avgClusterSize := float64(numDocs) / float64(numClusters)
		switch {
		case avgClusterSize < 1.5:
			assessment = append(assessment, "too many micro-clusters")
		case avgClusterSize > 15:
			assessment = append(assessment, "dominant regional narratives")
		default:
			assessment = append(assessment, "balanced regional grouping")
		}
	}

	switch len(assessment) {
	case 0:
		return ""
	case 1:
		return assessment[0]
	}
	return strings.Join(assessment[:len(assessment)-1], ", ") + " with " + assessment[len(assessment)-1]
}

// MetricComparison is the head-to-head result on one metric. Winner is the
// name of the better side, "tie", or "" when either side is missing.
type MetricComparison struct {
	Metric         string   `json:"metric"`
	A              *float64 `json:"a"`
	B              *float64 `json:"b"`
	HigherIsBetter bool     `json:"higher_is_better"`
	Winner         string   `json:"winner"`
}

// Comparison summarizes two evaluations of the same corpus.
type Comparison struct {
	NameA   string             `json:"name_a"`
	NameB   string             `json:"name_b"`
	A       Evaluation         `json:"a"`
	B       Evaluation         `json:"b"`
	Metrics []MetricComparison `json:"metrics"`
	WinsA   int                `json:"wins_a"`
	WinsB   int                `json:"wins_b"`
	// Winner is NameA, NameB, or "tie".
	Winner string `json:"winner"`
}

// Compare decides silhouette, Davies-Bouldin and largest-cluster fraction
// between two evaluations. A metric counts only when both sides have it.
func Compare(a, b Evaluation, nameA, nameB string) Comparison {
	c := Comparison{NameA: nameA, NameB: nameB, A: a, B: b}
	for _, m := range []struct {
		name   string
		higher bool
	}{
		{"silhouette", true},
		{"davies_bouldin", false},
		{"largest_fraction", false},
	} {
		mc := MetricComparison{Metric: m.name, A: a.Metric(m.name), B: b.Metric(m.name), HigherIsBetter: m.higher}
		if mc.A != nil && mc.B != nil {
			va, vb := *mc.A, *mc.B
			if !m.higher {
				va, vb = -va, -vb
			}
			switch {
			case va > vb:
				mc.Winner = nameA
				c.WinsA++
			case vb > va:
				mc.Winner = nameB
				c.WinsB++
			default:
				mc.Winner = "tie"
			}
		}
		c.Metrics = append(c.Metrics, mc)
	}

	switch {
	case c.WinsA > c.WinsB:
		c.Winner = nameA
	case c.WinsB > c.WinsA:
		c.Winner = nameB
	default:
		c.Winner = "tie"
	}
	return c
}
