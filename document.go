package regionews

import (
	"math"
	"time"

	"gonum.org/v1/gonum/floats"
)

// GeoPoint is a resolved article location in decimal degrees.
type GeoPoint struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// Document represents one geotagged news article
type Document struct {
	ID           string    `json:"id"`
	Title        string    `json:"title"`
	Text         string    `json:"text"`
	URL          string    `json:"url,omitempty"`
	Source       string    `json:"source"`
	LocationName string    `json:"location,omitempty"`
	Location     *GeoPoint `json:"geo,omitempty"`
	PublishedAt  time.Time `json:"published_at"`
	Embedding    []float64 `json:"embedding,omitempty"`
	Outcome      *float64  `json:"outcome,omitempty"`
}

// HasLocation reports whether the document carries usable coordinates.
func (d Document) HasLocation() bool {
	if d.Location == nil {
		return false
	}
	lat, lon := d.Location.Latitude, d.Location.Longitude
	if math.IsNaN(lat) || math.IsNaN(lon) {
		return false
	}
	return lat >= -90 && lat <= 90 && lon >= -180 && lon <= 180
}

// ClusteringText returns the text used for lexical heuristics, falling back
// to the title when no enriched text is available.
func (d Document) ClusteringText() string {
	if d.Text != "" {
		return d.Text
	}
	return d.Title
}

// documentIDs returns the ids of docs in order.
func documentIDs(docs []Document) []string {
	ids := make([]string, len(docs))
	for i, doc := range docs {
		ids[i] = doc.ID
	}
	return ids
}

// withEmbeddings splits docs into those usable for clustering and the count
// of documents dropped for lacking an embedding.
func withEmbeddings(docs []Document) ([]Document, int) {
	kept := make([]Document, 0, len(docs))
	for _, doc := range docs {
		if len(doc.Embedding) == 0 {
			continue
		}
		kept = append(kept, doc)
	}
	return kept, len(docs) - len(kept)
}

// normalizeEmbedding returns an L2-normalized copy of v. Zero vectors are
// copied unchanged.
func normalizeEmbedding(v []float64) []float64 {
	out := make([]float64, len(v))
	copy(out, v)
	norm := floats.Norm(out, 2)
	if norm > 0 {
		floats.Scale(1/norm, out)
	}
	return out
}

// cosineSimilarity calculates cosine similarity between two vectors
func cosineSimilarity(a, b []float64) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	normA := floats.Norm(a, 2)
	normB := floats.Norm(b, 2)
	if normA == 0 || normB == 0 {
		return 0
	}
	return floats.Dot(a, b) / (normA * normB)
}
