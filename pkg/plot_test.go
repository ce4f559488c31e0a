package pkg

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSavePlot(t *testing.T) {
	path := filepath.Join(t.TempDir(), "roc.png")
	err := savePlot(plotSpec{
		path:     path,
		title:    "Receiver Operating Characteristic",
		xLabel:   "False Positive Rate",
		yLabel:   "True Positive Rate",
		diagonal: true,
		curves: []curve{
			{label: "ROC curve (area = 0.88)", xs: []float64{0, 0.25, 1}, ys: []float64{0, 0.75, 1}},
			{label: "DRB1*01:01 (area = 0.75)", xs: []float64{0, 0.5, 1}, ys: []float64{0, 0.5, 1}},
		},
	})
	require.NoError(t, err)

	info, err := os.Stat(path)
	require.NoError(t, err)
	require.Greater(t, info.Size(), int64(0))
}
