package model

import "time"

// NameMap implements a bidirectional mapping between a name and an index
type NameMap struct {
	NameToIndex map[string]int
	IndexToName map[int]string
}

func NewNameMap() NameMap {
	return NameMap{
		NameToIndex: map[string]int{},
		IndexToName: map[int]string{},
	}
}

func (f NameMap) Set(name string, index int) {
	f.NameToIndex[name] = index
	f.IndexToName[index] = name
}

func (f NameMap) Size() int {
	return len(f.IndexToName)
}

func (f NameMap) ContainsName(name string) (int, bool) {
	index, ok := f.NameToIndex[name]
	return index, ok
}

// ValueFor returns the index of name, assigning the next free index on
// first sight.
func (f NameMap) ValueFor(name string) int {
	if index, ok := f.NameToIndex[name]; ok {
		return index
	}
	index := f.Size()
	f.Set(name, index)
	return index
}

// Metadata travels with a trained classifier inside the checkpoint file.
// It records which encoder produced the features and which alleles were
// seen during training, so the test command can detect configs that do
// not match the checkpoint.
type Metadata struct {
	RunID       string
	ModelName   string
	EncoderName string

	// HLAMap indexes the alleles observed in the training data
	HLAMap NameMap

	EpitopeDimension   int
	HLADimension       int
	TrainSamples       int
	ValidationSamples  int
	EpochsTrained      int
	BestValidationLoss float64
	CreatedAt          time.Time
}

func NewMetadata() *Metadata {
	return &Metadata{HLAMap: NewNameMap()}
}
