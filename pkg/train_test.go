package pkg

import (
	"math"
	"testing"

	mat "github.com/nlpodyssey/spago/pkg/mat32"
	"github.com/nlpodyssey/spago/pkg/mat32/rand"
	"github.com/stretchr/testify/require"

	"xenoimm/pkg/config"
	"xenoimm/pkg/model"
)

func newTestTrainer(t *testing.T, optimizer string) (*Trainer, *model.GLU) {
	t.Helper()
	cfg := &config.Config{Train: config.Train{
		Optimizer:    optimizer,
		LearningRate: 0.1,
		GradientClip: 2000,
	}}
	clf := model.NewGLU(model.GLUConfig{
		EpitopeDimension: 2,
		HLADimension:     2,
		HiddenDimension:  2,
		NumBlocks:        1,
		BatchMomentum:    0.9,
	})
	clf.Init(rand.NewLockedRand(1))

	tr := &Trainer{cfg: cfg, clf: clf}
	tr.buildOptimizer()
	return tr, clf
}

// optimizerStep pushes a unit gradient through one parameter at the given
// learning rate and returns how far the first weight moved.
func optimizerStep(tr *Trainer, clf *model.GLU, lr float64) float64 {
	w := clf.Output.W
	before := w.Value().Data()[0]
	tr.setLR(lr)
	w.PropagateGrad(mat.NewInitDense(w.Value().Rows(), w.Value().Columns(), 1))
	tr.optimizer.Optimize()
	return math.Abs(float64(w.Value().Data()[0] - before))
}

func TestSetLRDrivesAdamUpdates(t *testing.T) {
	tr, clf := newTestTrainer(t, "adam")

	// a warmup step at rate zero must leave the weights untouched
	require.InDelta(t, 0, optimizerStep(tr, clf, 0), 1e-9)
	// and a real rate must move them
	require.Greater(t, optimizerStep(tr, clf, 0.05), 1e-4)
	// dropping the rate shrinks the applied delta accordingly
	large := optimizerStep(tr, clf, 0.05)
	small := optimizerStep(tr, clf, 0.005)
	require.Greater(t, large, small)
}

func TestSetLRDrivesRAdamUpdates(t *testing.T) {
	tr, clf := newTestTrainer(t, "radam")

	require.Greater(t, optimizerStep(tr, clf, 0.05), 1e-5)
	require.InDelta(t, 0, optimizerStep(tr, clf, 0), 1e-9)
}
