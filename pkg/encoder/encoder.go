package encoder

import (
	"fmt"
	"sync"

	"github.com/cheggaaa/pb/v3"

	"xenoimm/pkg/config"
	"xenoimm/pkg/data"
)

// Encoder turns the raw epitope and HLA sequences of a sample into the
// feature vectors consumed by a model. Implementations are registered by
// name and selected through the encoder section of the config file.
type Encoder interface {
	Name() string
	Encode(sample data.Sample) (*data.Record, error)
	Close() error
}

// Builder constructs an encoder from its config arguments.
type Builder func(args config.Args) (Encoder, error)

var (
	registryMu sync.RWMutex
	registry   = map[string]Builder{}
)

// Register makes an encoder constructor available under the given name.
func Register(name string, builder Builder) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[name] = builder
}

// New builds the encoder selected by the config.
func New(plugin config.Plugin) (Encoder, error) {
	registryMu.RLock()
	builder, ok := registry[plugin.Name]
	registryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown encoder %q", plugin.Name)
	}
	return builder(plugin.Args)
}

// EncodeAll encodes every sample of the provider using a pool of
// workers. Samples that fail to encode (e.g. a missing embedding key)
// become DataErrors and are dropped from the result.
func EncodeAll(provider *data.Provider, enc Encoder, workers int, progress bool) ([]*data.Record, []data.DataError) {
	if workers < 1 {
		workers = 1
	}

	var bar *pb.ProgressBar
	if progress {
		bar = pb.StartNew(provider.Len())
	}

	records := make([]*data.Record, provider.Len())
	errs := make([]error, provider.Len())

	indices := make(chan int)
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range indices {
				records[i], errs[i] = enc.Encode(provider.Samples[i])
				if bar != nil {
					bar.Increment()
				}
			}
		}()
	}
	for i := range provider.Samples {
		indices <- i
	}
	close(indices)
	wg.Wait()
	if bar != nil {
		bar.Finish()
	}

	var result []*data.Record
	var dataErrors []data.DataError
	for i, r := range records {
		if errs[i] != nil {
			dataErrors = append(dataErrors, data.DataError{
				File:  enc.Name(),
				Line:  i + 1,
				Error: errs[i].Error(),
			})
			continue
		}
		result = append(result, r)
	}
	return result, dataErrors
}
