package regionews

import "github.com/rotisserie/eris"

var (
	// ErrShapeMismatch is returned when matrices, vectors or label slices
	// disagree in dimension or document order. The caller must fix its inputs.
	ErrShapeMismatch = eris.New("shape mismatch")

	// ErrInvalidInput is returned for structurally invalid values such as a
	// lambda outside [0,1] or a duplicate document id.
	ErrInvalidInput = eris.New("invalid input")

	// ErrDegradedDetection marks a syndication detector that could not run.
	// It is logged and recorded, never returned from SyndicationWeighter.Score.
	ErrDegradedDetection = eris.New("degraded detection")
)

// EmptyDataset is the error tag carried by an Evaluation computed over too
// little data.
const EmptyDataset = "empty_dataset"
