package pkg

import (
	"io/ioutil"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"xenoimm/pkg/data"
)

func TestROCCurvePerfectSeparation(t *testing.T) {
	targets := []bool{false, false, true, true}
	scores := []float64{0.1, 0.2, 0.8, 0.9}

	xs, ys, auc, err := rocCurve(targets, scores)
	require.NoError(t, err)
	require.InDelta(t, 1.0, auc, 1e-9)
	require.Equal(t, len(xs), len(ys))

	// FPR must come out ascending for the area integration
	for i := 1; i < len(xs); i++ {
		require.GreaterOrEqual(t, xs[i], xs[i-1])
	}
}

func TestROCCurveKnownArea(t *testing.T) {
	// one inversion: the 0.4 negative outranks the 0.35 positive
	targets := []bool{false, false, true, true}
	scores := []float64{0.1, 0.4, 0.35, 0.8}

	_, _, auc, err := rocCurve(targets, scores)
	require.NoError(t, err)
	require.InDelta(t, 0.75, auc, 1e-9)
}

func TestROCCurveSingleClass(t *testing.T) {
	_, _, _, err := rocCurve([]bool{true, true}, []float64{0.2, 0.8})
	require.Error(t, err)
	_, _, _, err = rocCurve([]bool{false, false}, []float64{0.2, 0.8})
	require.Error(t, err)
}

func TestPRCurvePerfectSeparation(t *testing.T) {
	targets := []bool{false, false, true, true}
	scores := []float64{0.1, 0.2, 0.8, 0.9}

	recalls, precisions, auc, err := prCurve(targets, scores)
	require.NoError(t, err)
	require.InDelta(t, 1.0, auc, 1e-9)

	// anchored at recall 0 / precision 1, recall never decreases
	require.Equal(t, 0.0, recalls[0])
	require.Equal(t, 1.0, precisions[0])
	for i := 1; i < len(recalls); i++ {
		require.GreaterOrEqual(t, recalls[i], recalls[i-1])
	}
	require.Equal(t, 1.0, recalls[len(recalls)-1])
}

func TestPRCurveKnownArea(t *testing.T) {
	targets := []bool{false, false, true, true}
	scores := []float64{0.1, 0.4, 0.35, 0.8}

	_, _, auc, err := prCurve(targets, scores)
	require.NoError(t, err)
	require.InDelta(t, 0.79167, auc, 1e-4)
}

func TestPRCurveTiedScores(t *testing.T) {
	// the three tied scores collapse into a single threshold point
	targets := []bool{true, false, true, false}
	scores := []float64{0.5, 0.5, 0.5, 0.1}

	recalls, precisions, _, err := prCurve(targets, scores)
	require.NoError(t, err)
	require.Equal(t, []float64{0, 1, 1}, recalls)
	require.Equal(t, []float64{1, 2.0 / 3.0, 0.5}, precisions)
}

func TestSigmoid(t *testing.T) {
	require.InDelta(t, 0.5, sigmoid(0), 1e-9)
	require.InDelta(t, 1.0, sigmoid(40), 1e-9)
	require.InDelta(t, 0.0, sigmoid(-40), 1e-9)
	require.InDelta(t, 1-sigmoid(2), sigmoid(-2), 1e-9)
}

func TestWritePredictions(t *testing.T) {
	records := []*data.Record{
		{Sample: data.Sample{Epitope: "KRKR", HLA: "DRB1*01:01", Target: 1}},
		{Sample: data.Sample{Epitope: "DEDE", HLA: "DQA1*05:01", Target: 0}},
	}
	scores := []float64{0.91234, 0.125}

	path := filepath.Join(t.TempDir(), "predictions.csv")
	require.NoError(t, writePredictions(path, records, scores))

	content, err := ioutil.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t,
		"epitope,hla,target,score\n"+
			"KRKR,DRB1*01:01,1,0.91234\n"+
			"DEDE,DQA1*05:01,0,0.12500\n",
		string(content))

	// no output file configured: predictions are silently dropped
	require.NoError(t, writePredictions("", records, scores))
}
