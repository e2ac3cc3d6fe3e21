package regionews

import (
	"math"

	"github.com/rotisserie/eris"
)

// FusionConfig scales how strongly lambdas let geography into the combined
// distance.
type FusionConfig struct {
	// Scale multiplies min(lambda_i, lambda_j). Zero means 1.
	Scale float64 `yaml:"scale" mapstructure:"scale"`
}

func (c FusionConfig) scale() float64 {
	if c.Scale == 0 {
		return 1
	}
	return c.Scale
}

// Fuse blends semantic and spatial distances pair by pair:
//
//	d_ij = (1 - w_ij)*semantic_ij + w_ij*spatial_ij,  w_ij = Scale*min(lambda_i, lambda_j)
//
// A pair containing a syndicated document (lambda 0) is compared on text
// alone. Both matrices must cover the same ids; the spatial matrix is
// realigned to the semantic order when needed, and lambdas follow the
// semantic order.
func Fuse(semantic, spatial *DistanceMatrix, lambdas []float64, cfg FusionConfig) (*DistanceMatrix, error) {
	if semantic == nil || spatial == nil {
		return nil, eris.Wrap(ErrInvalidInput, "fuse: nil distance matrix")
	}
	if semantic.Len() != spatial.Len() {
		return nil, eris.Wrapf(ErrShapeMismatch, "fuse: semantic matrix is %d×%d, spatial matrix is %d×%d",
			semantic.Len(), semantic.Len(), spatial.Len(), spatial.Len())
	}
	if !semantic.sameShape(spatial) {
		aligned, err := spatial.Subset(semantic.ids)
		if err != nil {
			return nil, eris.Wrap(err, "fuse: spatial matrix covers different documents")
		}
		spatial = aligned
	}
	if len(lambdas) != semantic.Len() {
		return nil, eris.Wrapf(ErrShapeMismatch, "fuse: %d lambdas for %d documents", len(lambdas), semantic.Len())
	}
	for i, l := range lambdas {
		if math.IsNaN(l) || l < 0 || l > 1 {
			return nil, eris.Wrapf(ErrInvalidInput, "fuse: lambda %v for document %q outside [0,1]", l, semantic.ids[i])
		}
	}
	scale := cfg.scale()
	if math.IsNaN(scale) || scale < 0 {
		return nil, eris.Wrapf(ErrInvalidInput, "fuse: scale %v must be non-negative", cfg.Scale)
	}

	combined, err := NewDistanceMatrix(semantic.ids)
	if err != nil {
		return nil, err
	}
	n := semantic.Len()
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			w := clamp01(scale * math.Min(lambdas[i], lambdas[j]))
			sem := semantic.At(i, j)
			if w == 0 {
				combined.Set(i, j, sem)
				continue
			}
			combined.Set(i, j, clamp01((1-w)*sem+w*spatial.At(i, j)))
		}
	}
	return combined, nil
}

// FixedLambdas returns n copies of weight, the non-adaptive weighting used as
// the comparison baseline.
func FixedLambdas(n int, weight float64) []float64 {
	lambdas := make([]float64, n)
	for i := range lambdas {
		lambdas[i] = weight
	}
	return lambdas
}

// gateUnlocated zeroes the lambda of every document without coordinates.
func gateUnlocated(docs []Document, lambdas []float64) []float64 {
	out := append([]float64(nil), lambdas...)
	for i, doc := range docs {
		if !doc.HasLocation() {
			out[i] = 0
		}
	}
	return out
}
