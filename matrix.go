package regionews

import (
	"math"

	"github.com/rotisserie/eris"
	"gonum.org/v1/gonum/mat"
)

// DistanceMatrix is a square, symmetric, zero-diagonal distance matrix over
// an ordered set of document ids.
type DistanceMatrix struct {
	ids   []string
	index map[string]int
	sym   *mat.SymDense // nil for an empty matrix
}

// NewDistanceMatrix allocates a zero matrix over ids. Ids must be unique.
func NewDistanceMatrix(ids []string) (*DistanceMatrix, error) {
	index := make(map[string]int, len(ids))
	for i, id := range ids {
		if _, dup := index[id]; dup {
			return nil, eris.Wrapf(ErrInvalidInput, "duplicate document id %q", id)
		}
		index[id] = i
	}
	m := &DistanceMatrix{
		ids:   append([]string(nil), ids...),
		index: index,
	}
	if len(ids) > 0 {
		m.sym = mat.NewSymDense(len(ids), nil)
	}
	return m, nil
}

// Len returns the number of documents the matrix covers.
func (m *DistanceMatrix) Len() int {
	return len(m.ids)
}

// IDs returns a copy of the document ids in matrix order.
func (m *DistanceMatrix) IDs() []string {
	return append([]string(nil), m.ids...)
}

// At returns the distance between rows i and j.
func (m *DistanceMatrix) At(i, j int) float64 {
	if i == j {
		return 0
	}
	return m.sym.At(i, j)
}

// Set stores a symmetric distance. Writes to the diagonal are ignored.
func (m *DistanceMatrix) Set(i, j int, v float64) {
	if i == j {
		return
	}
	m.sym.SetSym(i, j, v)
}

// Subset returns a new matrix restricted to ids, in the given order.
func (m *DistanceMatrix) Subset(ids []string) (*DistanceMatrix, error) {
	rows := make([]int, len(ids))
	for k, id := range ids {
		i, ok := m.index[id]
		if !ok {
			return nil, eris.Wrapf(ErrShapeMismatch, "document %q not in matrix", id)
		}
		rows[k] = i
	}
	sub, err := NewDistanceMatrix(ids)
	if err != nil {
		return nil, err
	}
	for a := range rows {
		for b := a + 1; b < len(rows); b++ {
			sub.Set(a, b, m.At(rows[a], rows[b]))
		}
	}
	return sub, nil
}

// sameShape reports whether both matrices cover the same ids in the same order.
func (m *DistanceMatrix) sameShape(other *DistanceMatrix) bool {
	if m.Len() != other.Len() {
		return false
	}
	for i, id := range m.ids {
		if other.ids[i] != id {
			return false
		}
	}
	return true
}

// SemanticDistances builds the cosine distance matrix of the document
// embeddings. Distances are clamped to [0,1]: anti-correlated text embeddings
// are treated as maximally distant.
func SemanticDistances(docs []Document) (*DistanceMatrix, error) {
	m, err := NewDistanceMatrix(documentIDs(docs))
	if err != nil {
		return nil, err
	}
	if len(docs) == 0 {
		return m, nil
	}

	dim := len(docs[0].Embedding)
	normalized := make([][]float64, len(docs))
	for i, doc := range docs {
		if len(doc.Embedding) == 0 {
			return nil, eris.Wrapf(ErrInvalidInput, "document %q has no embedding", doc.ID)
		}
		if len(doc.Embedding) != dim {
			return nil, eris.Wrapf(ErrShapeMismatch, "document %q embedding has %d dimensions, want %d",
				doc.ID, len(doc.Embedding), dim)
		}
		normalized[i] = normalizeEmbedding(doc.Embedding)
	}

	for i := range normalized {
		for j := i + 1; j < len(normalized); j++ {
			m.Set(i, j, clamp01(1.0-cosineSimilarity(normalized[i], normalized[j])))
		}
	}
	return m, nil
}

func clamp01(v float64) float64 {
	switch {
	case math.IsNaN(v):
		return 0
	case v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}
