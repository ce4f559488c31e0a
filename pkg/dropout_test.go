package pkg

import (
	"testing"

	mat "github.com/nlpodyssey/spago/pkg/mat32"
	"github.com/nlpodyssey/spago/pkg/ml/ag"
	"github.com/stretchr/testify/require"
)

// fixedSource replays a predetermined sequence of uniform values.
type fixedSource struct {
	values []mat.Float
	index  int
}

func (f *fixedSource) Float() mat.Float {
	v := f.values[f.index%len(f.values)]
	f.index++
	return v
}

func TestDropoutPreprocessor(t *testing.T) {
	source := &fixedSource{values: []mat.Float{0.1, 0.5, 0.29, 0.3, 0.9, 0.0}}
	dropout := NewDropoutPreprocessor(0.3, source, 6)

	g := ag.NewGraph()
	defer g.Clear()
	x := g.NewVariable(mat.NewVecDense([]mat.Float{10, 10, 10, 10, 10, 10}), false)

	out := dropout.process(g, []ag.Node{x})
	require.Len(t, out, 1)
	require.Len(t, dropout.CurrentMasks, 1)

	// kept when the draw is >= the dropout probability
	expectedMask := []mat.Float{0, 1, 0, 1, 1, 0}
	require.Equal(t, expectedMask, dropout.CurrentMasks[0].Data())

	expected := []mat.Float{0, 10, 0, 10, 10, 0}
	require.Equal(t, expected, out[0].Value().Data())
}

func TestDropoutPreprocessorZeroProbability(t *testing.T) {
	source := &fixedSource{values: []mat.Float{0.99, 0.5, 0.0}}
	dropout := NewDropoutPreprocessor(0, source, 3)

	g := ag.NewGraph()
	defer g.Clear()
	x := g.NewVariable(mat.NewVecDense([]mat.Float{1, 2, 3}), false)

	out := dropout.process(g, []ag.Node{x})
	require.Equal(t, []mat.Float{1, 2, 3}, out[0].Value().Data())
}

func TestDropoutPreprocessorMasksPerSample(t *testing.T) {
	source := &fixedSource{values: []mat.Float{0.9, 0.1, 0.1, 0.9}}
	dropout := NewDropoutPreprocessor(0.5, source, 2)

	g := ag.NewGraph()
	defer g.Clear()
	xs := []ag.Node{
		g.NewVariable(mat.NewVecDense([]mat.Float{5, 5}), false),
		g.NewVariable(mat.NewVecDense([]mat.Float{7, 7}), false),
	}

	out := dropout.process(g, xs)
	require.Len(t, dropout.CurrentMasks, 2)
	require.Equal(t, []mat.Float{5, 0}, out[0].Value().Data())
	require.Equal(t, []mat.Float{0, 7}, out[1].Value().Data())
}
