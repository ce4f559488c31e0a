package encoder

import (
	"strings"

	mat "github.com/nlpodyssey/spago/pkg/mat32"
	"github.com/pkg/errors"

	"xenoimm/pkg/config"
	"xenoimm/pkg/data"
)

// canonical amino acid alphabet, alphabetical by one-letter code
const aminoAcids = "ACDEFGHIKLMNPQRSTVWY"

// AACompDimension is the feature vector size the composition encoder
// produces per protein: one frequency per amino acid plus the scaled
// sequence length.
const AACompDimension = len(aminoAcids) + 1

func init() {
	Register("aacomp", func(args config.Args) (Encoder, error) {
		scale := args.Float64("length_scale", 100)
		if scale <= 0 {
			return nil, errors.New("length_scale must be positive")
		}
		return &AAComp{lengthScale: scale}, nil
	})
}

// AAComp encodes a protein as its amino-acid composition: the relative
// frequency of each of the twenty canonical residues plus the sequence
// length divided by length_scale. It requires no external embedding
// files, which makes it the encoder of choice for smoke tests and
// baselines.
type AAComp struct {
	lengthScale float64
}

func (e *AAComp) Name() string { return "aacomp" }

func (e *AAComp) Encode(sample data.Sample) (*data.Record, error) {
	epi, err := e.encodeSequence(sample.Epitope)
	if err != nil {
		return nil, errors.Wrapf(err, "epitope %s", sample.Epitope)
	}
	hla, err := e.encodeSequence(sample.HLASequence)
	if err != nil {
		return nil, errors.Wrapf(err, "HLA %s", sample.HLA)
	}
	return &data.Record{Epitope: epi, HLA: hla, Sample: sample}, nil
}

func (e *AAComp) encodeSequence(seq string) (*mat.Dense, error) {
	if seq == "" {
		return nil, errors.New("empty sequence")
	}
	features := make([]mat.Float, AACompDimension)
	for _, r := range strings.ToUpper(seq) {
		index := strings.IndexRune(aminoAcids, r)
		if index < 0 {
			// non-canonical residues (X, B, Z, ...) count toward the
			// length but not toward any composition bucket
			continue
		}
		features[index]++
	}
	length := mat.Float(len(seq))
	for i := 0; i < len(aminoAcids); i++ {
		features[i] /= length
	}
	features[len(aminoAcids)] = length / mat.Float(e.lengthScale)
	return mat.NewVecDense(features), nil
}

func (e *AAComp) Close() error { return nil }
