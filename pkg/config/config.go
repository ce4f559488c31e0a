package config

import (
	"io/ioutil"
	"path/filepath"
	"runtime"
	"unicode/utf8"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v2"
)

// Config mirrors the YAML configuration file passed to the train and test
// commands. A config selects the model and encoder by registry name and
// carries the dataset column layout, so the same binary can be pointed at
// differently shaped CSV files without code changes.
type Config struct {
	CheckpointName string `yaml:"checkpoint_name"`
	CheckpointDir  string `yaml:"checkpoint_dir"`
	LogFile        string `yaml:"log_file"`
	PlotDir        string `yaml:"plot_dir"`
	Seed           uint64 `yaml:"seed"`

	Model   Plugin `yaml:"model"`
	Encoder Plugin `yaml:"encoder"`
	Data    Data   `yaml:"data"`
	Train   Train  `yaml:"train"`
	Test    Test   `yaml:"test"`
}

// Plugin selects a registered model or encoder implementation by name and
// holds its free-form arguments.
type Plugin struct {
	Name string `yaml:"name"`
	Args Args   `yaml:"args"`
}

// Args holds the plugin-specific arguments of a model or encoder section.
type Args map[string]interface{}

func (a Args) String(key, def string) string {
	v, ok := a[key]
	if !ok {
		return def
	}
	s, ok := v.(string)
	if !ok {
		return def
	}
	return s
}

func (a Args) Int(key string, def int) int {
	v, ok := a[key]
	if !ok {
		return def
	}
	i, ok := v.(int)
	if !ok {
		return def
	}
	return i
}

func (a Args) Float64(key string, def float64) float64 {
	switch v := a[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	default:
		return def
	}
}

func (a Args) RequiredString(key string) (string, error) {
	v, ok := a[key]
	if !ok {
		return "", errors.Errorf("missing required argument %q", key)
	}
	s, ok := v.(string)
	if !ok || s == "" {
		return "", errors.Errorf("argument %q must be a non-empty string", key)
	}
	return s, nil
}

func (a Args) RequiredInt(key string) (int, error) {
	v, ok := a[key]
	if !ok {
		return 0, errors.Errorf("missing required argument %q", key)
	}
	i, ok := v.(int)
	if !ok {
		return 0, errors.Errorf("argument %q must be an integer", key)
	}
	return i, nil
}

// EpitopeColumns names the header columns of an epitope dataset file.
type EpitopeColumns struct {
	Epitope   string `yaml:"epitope"`
	HLA       string `yaml:"hla"`
	Target    string `yaml:"target"`
	Separator string `yaml:"separator"`
}

// HLAColumns names the header columns of the HLA sequence file.
type HLAColumns struct {
	HLA       string `yaml:"hla"`
	Sequence  string `yaml:"sequence"`
	Separator string `yaml:"separator"`
}

type Data struct {
	EpitopeFile    string         `yaml:"epitope_file"`
	EpitopeColumns EpitopeColumns `yaml:"epitope_columns"`
	HLAFile        string         `yaml:"hla_file"`
	HLAColumns     HLAColumns     `yaml:"hla_columns"`
	TestFile       string         `yaml:"test_file"`
	TestColumns    EpitopeColumns `yaml:"test_columns"`
	NumWorkers     int            `yaml:"num_workers"`
	ValidationSize float64        `yaml:"validation_size"`
}

type Train struct {
	BatchSize          int     `yaml:"batch_size"`
	NumEpochs          int     `yaml:"num_epochs"`
	Patience           int     `yaml:"patience"`
	LearningRate       float64 `yaml:"learning_rate"`
	Optimizer          string  `yaml:"optimizer"`
	GradientClip       float64 `yaml:"gradient_clip"`
	InputDropout       float64 `yaml:"input_dropout"`
	UseScheduler       bool    `yaml:"use_scheduler"`
	CheckpointInterval int     `yaml:"checkpoint_interval"`
	Transfer           bool    `yaml:"transfer"`
}

type Test struct {
	BatchSize        int    `yaml:"batch_size"`
	CheckpointPrefix string `yaml:"checkpoint_prefix"`
	// HLA restricts the evaluation to the samples of a single allele
	HLA         string `yaml:"hla"`
	OutputFile  string `yaml:"output_file"`
	TopHLACount int    `yaml:"top_hla_count"`
}

// Separator translates the configured separator string into the rune
// expected by encoding/csv. "tab" and "\t" both select tab separation.
func Separator(s string) (rune, error) {
	switch s {
	case "", ",":
		return ',', nil
	case "\t", "\\t", "tab":
		return '\t', nil
	}
	if utf8.RuneCountInString(s) != 1 {
		return 0, errors.Errorf("separator %q must be a single character", s)
	}
	r, _ := utf8.DecodeRuneInString(s)
	return r, nil
}

// CheckpointPath returns the path of the checkpoint file for the given
// prefix, e.g. "best" or "epoch_10".
func (c *Config) CheckpointPath(prefix string) string {
	return filepath.Join(c.CheckpointDir, c.CheckpointName+"-"+prefix+".model")
}

// Load reads and validates a configuration file. Unknown keys are
// rejected so that typos in hand-edited configs surface immediately.
func Load(path string) (*Config, error) {
	raw, err := ioutil.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "reading config file %s", path)
	}
	cfg := &Config{}
	if err := yaml.UnmarshalStrict(raw, cfg); err != nil {
		return nil, errors.Wrapf(err, "parsing config file %s", path)
	}
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, errors.Wrapf(err, "invalid config %s", path)
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.CheckpointDir == "" {
		c.CheckpointDir = "models"
	}
	if c.PlotDir == "" {
		c.PlotDir = "plots"
	}
	if c.Data.NumWorkers <= 0 {
		c.Data.NumWorkers = runtime.NumCPU()
	}
	if c.Data.ValidationSize == 0 {
		c.Data.ValidationSize = 0.2
	}
	if c.Train.BatchSize == 0 {
		c.Train.BatchSize = 16
	}
	if c.Train.NumEpochs == 0 {
		c.Train.NumEpochs = 10
	}
	if c.Train.Patience == 0 {
		c.Train.Patience = c.Train.NumEpochs
	}
	if c.Train.LearningRate == 0 {
		c.Train.LearningRate = 0.001
	}
	if c.Train.Optimizer == "" {
		c.Train.Optimizer = "adam"
	}
	if c.Train.GradientClip == 0 {
		c.Train.GradientClip = 2000.0
	}
	if c.Test.BatchSize == 0 {
		c.Test.BatchSize = c.Train.BatchSize
	}
	if c.Test.CheckpointPrefix == "" {
		c.Test.CheckpointPrefix = "best"
	}
	if c.Test.TopHLACount == 0 {
		c.Test.TopHLACount = 10
	}
}

func (c *Config) validate() error {
	if c.CheckpointName == "" {
		return errors.New("checkpoint_name must be set")
	}
	if c.Model.Name == "" {
		return errors.New("model.name must be set")
	}
	if c.Encoder.Name == "" {
		return errors.New("encoder.name must be set")
	}
	if c.Data.EpitopeFile == "" {
		return errors.New("data.epitope_file must be set")
	}
	if c.Data.HLAFile == "" {
		return errors.New("data.hla_file must be set")
	}
	sections := map[string]EpitopeColumns{"data.epitope_columns": c.Data.EpitopeColumns}
	if c.Data.TestFile != "" {
		sections["data.test_columns"] = c.Data.TestColumns
	}
	for section, cols := range sections {
		if cols.Epitope == "" || cols.HLA == "" || cols.Target == "" {
			return errors.Errorf("%s must name the epitope, hla and target headers", section)
		}
		if _, err := Separator(cols.Separator); err != nil {
			return errors.Wrap(err, section)
		}
	}
	if c.Data.HLAColumns.HLA == "" || c.Data.HLAColumns.Sequence == "" {
		return errors.New("data.hla_columns must name the hla and sequence headers")
	}
	if _, err := Separator(c.Data.HLAColumns.Separator); err != nil {
		return errors.Wrap(err, "data.hla_columns")
	}
	if c.Data.ValidationSize <= 0 || c.Data.ValidationSize >= 1 {
		return errors.New("data.validation_size must be in (0, 1)")
	}
	if c.Train.LearningRate <= 0 {
		return errors.New("train.learning_rate must be positive")
	}
	switch c.Train.Optimizer {
	case "adam", "radam":
	default:
		return errors.Errorf("train.optimizer %q not supported (adam or radam)", c.Train.Optimizer)
	}
	if c.Train.InputDropout < 0 || c.Train.InputDropout >= 1 {
		return errors.New("train.input_dropout must be in [0, 1)")
	}
	return nil
}
