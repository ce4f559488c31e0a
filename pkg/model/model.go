package model

import (
	"fmt"
	"sync"

	"github.com/nlpodyssey/spago/pkg/mat32/rand"
	"github.com/nlpodyssey/spago/pkg/ml/ag"
	"github.com/nlpodyssey/spago/pkg/ml/nn"

	"xenoimm/pkg/config"
)

// Classifier scores encoded epitope/HLA pairs. Forward takes one node per
// sample, the epitope vector concatenated with the HLA vector, and
// returns one logit node per sample. Implementations are registered by
// name and selected through the model section of the config file.
type Classifier interface {
	nn.Model
	Forward(xs ...ag.Node) []ag.Node
	Init(generator *rand.LockedRand)
	// Dimensions returns the expected epitope and HLA feature sizes.
	Dimensions() (epitope, hla int)
}

// Builder constructs a classifier from its config arguments.
type Builder func(args config.Args) (Classifier, error)

var (
	registryMu sync.RWMutex
	registry   = map[string]Builder{}
)

// Register makes a model constructor available under the given name.
func Register(name string, builder Builder) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[name] = builder
}

// New builds the classifier selected by the config.
func New(plugin config.Plugin) (Classifier, error) {
	registryMu.RLock()
	builder, ok := registry[plugin.Name]
	registryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown model %q", plugin.Name)
	}
	return builder(plugin.Args)
}

// pairDimensions reads the epitope/HLA input sizes every model needs.
// Configs carry these explicitly because the embedding width depends on
// which protein language model produced the files.
func pairDimensions(args config.Args) (int, int, error) {
	epi, err := args.RequiredInt("epitope_dimension")
	if err != nil {
		return 0, 0, err
	}
	hla, err := args.RequiredInt("hla_dimension")
	if err != nil {
		return 0, 0, err
	}
	if epi <= 0 || hla <= 0 {
		return 0, 0, fmt.Errorf("epitope_dimension and hla_dimension must be positive")
	}
	return epi, hla, nil
}
