package config

import (
	"fmt"
	"io/ioutil"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

const validConfig = `
checkpoint_name: demo
seed: 100
model:
  name: glu
  args:
    epitope_dimension: 21
    hla_dimension: 21
encoder:
  name: aacomp
data:
  epitope_file: train.csv
  epitope_columns:
    epitope: Epi_Seq
    hla: HLA_Name
    target: Target
    separator: ","
  hla_file: hla.csv
  hla_columns:
    hla: HLA_Name
    sequence: HLA_Seq
    separator: "\t"
train:
  batch_size: 32
  learning_rate: 0.001
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, ioutil.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoad(t *testing.T) {
	cfg, err := Load(writeConfig(t, validConfig))
	require.NoError(t, err)

	require.Equal(t, "demo", cfg.CheckpointName)
	require.Equal(t, uint64(100), cfg.Seed)
	require.Equal(t, "glu", cfg.Model.Name)
	require.Equal(t, 21, cfg.Model.Args.Int("epitope_dimension", 0))
	require.Equal(t, "aacomp", cfg.Encoder.Name)
	require.Equal(t, "Epi_Seq", cfg.Data.EpitopeColumns.Epitope)
	require.Equal(t, 32, cfg.Train.BatchSize)

	// defaults
	require.Equal(t, "models", cfg.CheckpointDir)
	require.Equal(t, "adam", cfg.Train.Optimizer)
	require.Equal(t, 2000.0, cfg.Train.GradientClip)
	require.Equal(t, 0.2, cfg.Data.ValidationSize)
	require.Equal(t, "best", cfg.Test.CheckpointPrefix)
	require.Equal(t, 10, cfg.Test.TopHLACount)
	require.Equal(t, 32, cfg.Test.BatchSize)

	require.Equal(t, filepath.Join("models", "demo-best.model"), cfg.CheckpointPath("best"))
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	_, err := Load(writeConfig(t, validConfig+"\nlearning_rte: 3\n"))
	require.Error(t, err)
}

func TestLoadValidation(t *testing.T) {
	const template = `
checkpoint_name: demo
model: {name: %s}
encoder: {name: aacomp}
data:
  epitope_file: train.csv
  epitope_columns: {epitope: a, hla: b, target: c, separator: "%s"}
  hla_file: hla.csv
  hla_columns: {hla: a, sequence: b}
  validation_size: %s
train:
  optimizer: %s
  input_dropout: %s
`
	type variant struct {
		model, separator, validation, optimizer, dropout string
	}
	valid := variant{"glu", ",", "0.2", "adam", "0"}

	cfg := valid
	render := func(v variant) string {
		return fmt.Sprintf(template, v.model, v.separator, v.validation, v.optimizer, v.dropout)
	}
	_, err := Load(writeConfig(t, render(cfg)))
	require.NoError(t, err)

	for name, v := range map[string]variant{
		"missing model":  {"\"\"", ",", "0.2", "adam", "0"},
		"bad separator":  {"glu", ";;", "0.2", "adam", "0"},
		"bad validation": {"glu", ",", "1.5", "adam", "0"},
		"bad optimizer":  {"glu", ",", "0.2", "adamw", "0"},
		"bad dropout":    {"glu", ",", "0.2", "adam", "1.5"},
	} {
		_, err := Load(writeConfig(t, render(v)))
		require.Error(t, err, name)
	}
}

func TestSeparator(t *testing.T) {
	for input, expected := range map[string]rune{
		"":    ',',
		",":   ',',
		"\t":  '\t',
		"tab": '\t',
		";":   ';',
	} {
		got, err := Separator(input)
		require.NoError(t, err)
		require.Equal(t, expected, got)
	}
	_, err := Separator("ab")
	require.Error(t, err)
}

func TestArgs(t *testing.T) {
	args := Args{"n": 3, "f": 0.5, "s": "x"}
	require.Equal(t, 3, args.Int("n", 1))
	require.Equal(t, 1, args.Int("missing", 1))
	require.Equal(t, 0.5, args.Float64("f", 0))
	require.Equal(t, 3.0, args.Float64("n", 0))
	require.Equal(t, "x", args.String("s", ""))

	_, err := args.RequiredString("missing")
	require.Error(t, err)
	_, err = args.RequiredInt("s")
	require.Error(t, err)
	n, err := args.RequiredInt("n")
	require.NoError(t, err)
	require.Equal(t, 3, n)
}
