package encoder

import (
	"testing"

	"github.com/stretchr/testify/require"

	"xenoimm/pkg/config"
)

func TestSanitizeKey(t *testing.T) {
	// "/" is the HDF5 group separator and never appears in dataset names
	require.Equal(t, "DRB1*01:01", SanitizeKey("DRB1*01:01"))
	require.Equal(t, "DQA1*05:01_DQB1*03:01", SanitizeKey("DQA1*05:01/DQB1*03:01"))
	require.Equal(t, "a_b_c", SanitizeKey("a/b/c"))
}

func TestPLMRequiresEmbeddingPaths(t *testing.T) {
	_, err := New(config.Plugin{Name: "plm", Args: config.Args{}})
	require.Error(t, err)

	_, err = New(config.Plugin{Name: "plm", Args: config.Args{
		"epi_single_path": "missing.h5",
	}})
	require.Error(t, err)
}
