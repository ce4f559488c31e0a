package pkg

import (
	mat "github.com/nlpodyssey/spago/pkg/mat32"
	"github.com/nlpodyssey/spago/pkg/ml/ag"
)

// floatSource yields uniform values in [0, 1). Satisfied by the spago
// LockedRand; tests substitute a fixed sequence.
type floatSource interface {
	Float() mat.Float
}

// DropoutPreprocessor zeroes each input feature independently with the
// configured probability before the forward pass. It regularizes models
// trained on the comparatively small immunogenicity datasets. The masks
// of the latest batch are kept for inspection.
type DropoutPreprocessor struct {
	Probability  mat.Float
	CurrentMasks []mat.Matrix

	rnd floatSource
	dim int
}

func NewDropoutPreprocessor(probability mat.Float, rnd floatSource, dim int) *DropoutPreprocessor {
	return &DropoutPreprocessor{
		Probability: probability,
		rnd:         rnd,
		dim:         dim,
	}
}

func (d *DropoutPreprocessor) process(g *ag.Graph, xs []ag.Node) []ag.Node {
	d.CurrentMasks = make([]mat.Matrix, len(xs))
	out := make([]ag.Node, len(xs))
	for i, x := range xs {
		values := make([]mat.Float, d.dim)
		for j := range values {
			if d.rnd.Float() >= d.Probability {
				values[j] = 1
			}
		}
		mask := mat.NewVecDense(values)
		d.CurrentMasks[i] = mask
		out[i] = g.Prod(x, g.NewVariable(mask, false))
	}
	return out
}
