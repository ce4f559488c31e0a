package encoder

import (
	"strings"
	"sync"

	mat "github.com/nlpodyssey/spago/pkg/mat32"
	"github.com/pkg/errors"
	"gonum.org/v1/hdf5"

	"xenoimm/pkg/config"
	"xenoimm/pkg/data"
)

func init() {
	Register("plm", func(args config.Args) (Encoder, error) {
		return NewPLM(args)
	})
}

// PLM serves precomputed protein-language-model embeddings from HDF5
// files. Each file stores one dataset per key: epitope embeddings are
// keyed by the epitope sequence, HLA embeddings by the allele name. The
// single-representation files are required; the pair-representation files
// are optional and, when present, their vectors are concatenated onto the
// single ones.
type PLM struct {
	epiSingle *embeddingFile
	epiPair   *embeddingFile
	hlaSingle *embeddingFile
	hlaPair   *embeddingFile
}

func NewPLM(args config.Args) (*PLM, error) {
	epiSinglePath, err := args.RequiredString("epi_single_path")
	if err != nil {
		return nil, err
	}
	hlaSinglePath, err := args.RequiredString("hla_single_path")
	if err != nil {
		return nil, err
	}

	p := &PLM{}
	if p.epiSingle, err = openEmbeddingFile(epiSinglePath); err != nil {
		return nil, err
	}
	if p.hlaSingle, err = openEmbeddingFile(hlaSinglePath); err != nil {
		p.Close()
		return nil, err
	}
	if path := args.String("epi_pair_path", ""); path != "" {
		if p.epiPair, err = openEmbeddingFile(path); err != nil {
			p.Close()
			return nil, err
		}
	}
	if path := args.String("hla_pair_path", ""); path != "" {
		if p.hlaPair, err = openEmbeddingFile(path); err != nil {
			p.Close()
			return nil, err
		}
	}
	return p, nil
}

func (p *PLM) Name() string { return "plm" }

func (p *PLM) Encode(sample data.Sample) (*data.Record, error) {
	epi, err := lookupConcat(p.epiSingle, p.epiPair, sample.Epitope)
	if err != nil {
		return nil, errors.Wrapf(err, "epitope %s", sample.Epitope)
	}
	hla, err := lookupConcat(p.hlaSingle, p.hlaPair, sample.HLA)
	if err != nil {
		return nil, errors.Wrapf(err, "HLA %s", sample.HLA)
	}
	return &data.Record{
		Epitope: mat.NewVecDense(epi),
		HLA:     mat.NewVecDense(hla),
		Sample:  sample,
	}, nil
}

func (p *PLM) Close() error {
	var firstErr error
	for _, f := range []*embeddingFile{p.epiSingle, p.epiPair, p.hlaSingle, p.hlaPair} {
		if f == nil {
			continue
		}
		if err := f.close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func lookupConcat(single, pair *embeddingFile, key string) ([]mat.Float, error) {
	vec, err := single.lookup(key)
	if err != nil {
		return nil, err
	}
	if pair == nil {
		return vec, nil
	}
	pairVec, err := pair.lookup(key)
	if err != nil {
		return nil, err
	}
	out := make([]mat.Float, 0, len(vec)+len(pairVec))
	out = append(out, vec...)
	return append(out, pairVec...), nil
}

// embeddingFile wraps one HDF5 file. The HDF5 C library is not safe for
// concurrent access through a single handle, so reads are serialized and
// cached; EncodeAll workers mostly hit the cache.
type embeddingFile struct {
	mu    sync.Mutex
	file  *hdf5.File
	path  string
	cache map[string][]mat.Float
}

func openEmbeddingFile(path string) (*embeddingFile, error) {
	file, err := hdf5.OpenFile(path, hdf5.F_ACC_RDONLY)
	if err != nil {
		return nil, errors.Wrapf(err, "opening embedding file %s", path)
	}
	return &embeddingFile{file: file, path: path, cache: map[string][]mat.Float{}}, nil
}

func (e *embeddingFile) lookup(key string) ([]mat.Float, error) {
	name := SanitizeKey(key)

	e.mu.Lock()
	defer e.mu.Unlock()
	if vec, ok := e.cache[name]; ok {
		return vec, nil
	}

	dataset, err := e.file.OpenDataset(name)
	if err != nil {
		return nil, errors.Wrapf(err, "no embedding for key %q in %s", key, e.path)
	}
	defer dataset.Close()

	points := dataset.Space().SimpleExtentNPoints()
	if points <= 0 {
		return nil, errors.Errorf("embedding %q in %s is empty", key, e.path)
	}
	vec := make([]float32, points)
	if err := dataset.Read(&vec); err != nil {
		return nil, errors.Wrapf(err, "reading embedding %q from %s", key, e.path)
	}

	converted := make([]mat.Float, len(vec))
	for i, v := range vec {
		converted[i] = mat.Float(v)
	}
	e.cache[name] = converted
	return converted, nil
}

func (e *embeddingFile) close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.file.Close()
}

// SanitizeKey maps a lookup key to the HDF5 dataset name it was stored
// under. '/' is the HDF5 group separator and cannot appear in a dataset
// name, so allele names such as HLA-DPA1/DPB1 are stored with '_'
// instead.
func SanitizeKey(key string) string {
	return strings.ReplaceAll(key, "/", "_")
}
