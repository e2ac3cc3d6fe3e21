package regionews

import (
	"math"
	"sort"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// Unclustered labels documents whose cluster was dissolved.
const Unclustered = -1

// Linkage selects how the distance between two clusters is derived from the
// distances between their members.
type Linkage string

const (
	LinkageAverage  Linkage = "average"
	LinkageComplete Linkage = "complete"
	LinkageSingle   Linkage = "single"
)

// ParseLinkage converts a configuration string into a Linkage.
func ParseLinkage(s string) (Linkage, error) {
	switch l := Linkage(strings.ToLower(strings.TrimSpace(s))); l {
	case "":
		return LinkageAverage, nil
	case LinkageAverage, LinkageComplete, LinkageSingle:
		return l, nil
	default:
		return "", eris.Wrapf(ErrInvalidInput, "unknown linkage %q", s)
	}
}

const (
	defaultDistanceThreshold = 0.5
	defaultMinClusterFloor   = 2
)

// ClusterConfig controls agglomerative clustering.
type ClusterConfig struct {
	Linkage Linkage `yaml:"linkage" mapstructure:"linkage"`
	// DistanceThreshold stops merging once the closest pair of clusters is
	// at least this far apart. Zero means 0.5.
	DistanceThreshold float64 `yaml:"distance_threshold" mapstructure:"distance_threshold"`
	// MinClusterSize dissolves smaller clusters. Zero selects
	// AdaptiveMinClusterSize with MinClusterFloor.
	MinClusterSize  int `yaml:"min_cluster_size" mapstructure:"min_cluster_size"`
	MinClusterFloor int `yaml:"min_cluster_floor" mapstructure:"min_cluster_floor"`
}

// AdaptiveMinClusterSize scales the minimum cluster size with the corpus:
// max(floor, n/10).
func AdaptiveMinClusterSize(n, floor int) int {
	return max(floor, n/10)
}

// Assignment maps each document id to a cluster label. Labels run from 0 to
// len(Clusters)-1, largest cluster first; dissolved documents are Unclustered.
type Assignment struct {
	IDs            []string   `json:"ids"`
	Labels         []int      `json:"labels"`
	Clusters       [][]string `json:"clusters"`
	Dissolved      int        `json:"dissolved"`
	MinClusterSize int        `json:"min_cluster_size"`
}

// Label returns the cluster label of id.
func (a Assignment) Label(id string) (int, bool) {
	for i, docID := range a.IDs {
		if docID == id {
			return a.Labels[i], true
		}
	}
	return 0, false
}

// Sizes returns the member count of each cluster in label order.
func (a Assignment) Sizes() []int {
	sizes := make([]int, len(a.Clusters))
	for i, members := range a.Clusters {
		sizes[i] = len(members)
	}
	return sizes
}

// Cluster runs agglomerative clustering over combined distances, merging the
// closest pair of clusters while their linkage distance is below the
// threshold, then dissolves clusters smaller than the minimum size.
func Cluster(combined *DistanceMatrix, cfg ClusterConfig) (Assignment, error) {
	linkage, err := ParseLinkage(string(cfg.Linkage))
	if err != nil {
		return Assignment{}, err
	}
	threshold := cfg.DistanceThreshold
	if threshold == 0 {
		threshold = defaultDistanceThreshold
	}

	var n int
	if combined != nil {
		n = combined.Len()
	}
	minSize := cfg.MinClusterSize
	if minSize <= 0 {
		floor := cfg.MinClusterFloor
		if floor <= 0 {
			floor = defaultMinClusterFloor
		}
		minSize = AdaptiveMinClusterSize(n, floor)
	}
	if n == 0 {
		return Assignment{IDs: []string{}, Labels: []int{}, Clusters: [][]string{}, MinClusterSize: minSize}, nil
	}

	groups := agglomerate(combined, linkage, threshold)

	sort.SliceStable(groups, func(a, b int) bool {
		if len(groups[a]) != len(groups[b]) {
			return len(groups[a]) > len(groups[b])
		}
		return groups[a][0] < groups[b][0]
	})

	result := Assignment{
		IDs:            combined.IDs(),
		Labels:         make([]int, n),
		Clusters:       [][]string{},
		MinClusterSize: minSize,
	}
	for i := range result.Labels {
		result.Labels[i] = Unclustered
	}
	for _, members := range groups {
		if len(members) < minSize {
			result.Dissolved += len(members)
			continue
		}
		label := len(result.Clusters)
		ids := make([]string, len(members))
		for k, m := range members {
			result.Labels[m] = label
			ids[k] = result.IDs[m]
		}
		result.Clusters = append(result.Clusters, ids)
	}

	zap.L().Info("clustered documents",
		zap.Int("documents", n),
		zap.String("linkage", string(linkage)),
		zap.Float64("distance_threshold", threshold),
		zap.Int("raw_clusters", len(groups)),
		zap.Int("clusters", len(result.Clusters)),
		zap.Int("min_cluster_size", minSize),
		zap.Int("dissolved", result.Dissolved),
	)
	return result, nil
}

// agglomerate merges clusters bottom-up with Lance-Williams distance updates
// and returns the member rows of each final cluster, sorted ascending.
func agglomerate(m *DistanceMatrix, linkage Linkage, threshold float64) [][]int {
	n := m.Len()
	dist := make([][]float64, n)
	for i := range dist {
		dist[i] = make([]float64, n)
		for j := range dist[i] {
			dist[i][j] = m.At(i, j)
		}
	}

	members := make([][]int, n)
	active := make([]bool, n)
	for i := range members {
		members[i] = []int{i}
		active[i] = true
	}

	for {
		minDist := math.Inf(1)
		mergeA, mergeB := -1, -1
		for i := 0; i < n; i++ {
			if !active[i] {
				continue
			}
			for j := i + 1; j < n; j++ {
				if active[j] && dist[i][j] < minDist {
					minDist = dist[i][j]
					mergeA, mergeB = i, j
				}
			}
		}
		if mergeA == -1 || minDist >= threshold {
			break
		}

		sizeA, sizeB := float64(len(members[mergeA])), float64(len(members[mergeB]))
		for k := 0; k < n; k++ {
			if !active[k] || k == mergeA || k == mergeB {
				continue
			}
			var d float64
			switch linkage {
			case LinkageSingle:
				d = math.Min(dist[mergeA][k], dist[mergeB][k])
			case LinkageComplete:
				d = math.Max(dist[mergeA][k], dist[mergeB][k])
			default:
				d = (sizeA*dist[mergeA][k] + sizeB*dist[mergeB][k]) / (sizeA + sizeB)
			}
			dist[mergeA][k] = d
			dist[k][mergeA] = d
		}
		members[mergeA] = append(members[mergeA], members[mergeB]...)
		members[mergeB] = nil
		active[mergeB] = false

		zap.L().Debug("merged clusters", zap.Int("into", mergeA), zap.Int("from", mergeB), zap.Float64("distance", minDist))
	}

	var groups [][]int
	for i, ok := range active {
		if ok {
			sort.Ints(members[i])
			groups = append(groups, members[i])
		}
	}
	return groups
}

// ClusterSummary describes one surviving cluster for reports.
type ClusterSummary struct {
	Label           int       `json:"label"`
	Size            int       `json:"size"`
	PrimaryLocation string    `json:"primary_location,omitempty"`
	Center          *GeoPoint `json:"center,omitempty"`
	RadiusKm        *float64  `json:"radius_km,omitempty"`
	Located         int       `json:"located"`
	SampleHeadlines []string  `json:"sample_headlines"`
}

const sampleHeadlines = 5

// SummarizeClusters describes every cluster of assignment using the matching
// documents: the most common location name, the geographic centre of the
// located members and the distance from it to the farthest member.
func SummarizeClusters(assignment Assignment, docs []Document) []ClusterSummary {
	byID := make(map[string]Document, len(docs))
	for _, doc := range docs {
		byID[doc.ID] = doc
	}

	summaries := make([]ClusterSummary, 0, len(assignment.Clusters))
	for label, ids := range assignment.Clusters {
		summary := ClusterSummary{Label: label, Size: len(ids), SampleHeadlines: []string{}}
		locationCounts := make(map[string]int)
		var points []GeoPoint
		for _, id := range ids {
			doc, ok := byID[id]
			if !ok {
				continue
			}
			if doc.LocationName != "" {
				locationCounts[doc.LocationName]++
			}
			if doc.HasLocation() {
				points = append(points, *doc.Location)
			}
			if len(summary.SampleHeadlines) < sampleHeadlines && doc.Title != "" {
				summary.SampleHeadlines = append(summary.SampleHeadlines, doc.Title)
			}
		}

		summary.PrimaryLocation = modeLocation(locationCounts)
		summary.Located = len(points)
		if len(points) > 0 {
			center := geoCentroid(points)
			radius := 0.0
			for _, p := range points {
				radius = math.Max(radius, haversineKm(center, p))
			}
			summary.Center = &center
			summary.RadiusKm = &radius
		}
		summaries = append(summaries, summary)
	}
	return summaries
}

// modeLocation returns the most frequent name, breaking ties alphabetically.
func modeLocation(counts map[string]int) string {
	best, bestCount := "", 0
	for name, c := range counts {
		if c > bestCount || (c == bestCount && name < best) {
			best, bestCount = name, c
		}
	}
	return best
}
