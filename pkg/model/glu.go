package model

import (
	"math"

	mat "github.com/nlpodyssey/spago/pkg/mat32"
	"github.com/nlpodyssey/spago/pkg/mat32/rand"
	"github.com/nlpodyssey/spago/pkg/ml/ag"
	"github.com/nlpodyssey/spago/pkg/ml/initializers"
	"github.com/nlpodyssey/spago/pkg/ml/nn"
	"github.com/nlpodyssey/spago/pkg/ml/nn/linear"
	"github.com/nlpodyssey/spago/pkg/ml/nn/normalization/batchnorm"

	"xenoimm/pkg/config"
)

var (
	_ nn.Model   = &GLU{}
	_ Classifier = &GLU{}
)

func init() {
	Register("glu", func(args config.Args) (Classifier, error) {
		epi, hla, err := pairDimensions(args)
		if err != nil {
			return nil, err
		}
		return NewGLU(GLUConfig{
			EpitopeDimension: epi,
			HLADimension:     hla,
			HiddenDimension:  args.Int("hidden_dimension", 64),
			NumBlocks:        args.Int("num_blocks", 2),
			BatchMomentum:    args.Float64("batch_momentum", 0.9),
		}), nil
	})
}

type GLUConfig struct {
	EpitopeDimension int
	HLADimension     int
	HiddenDimension  int
	NumBlocks        int
	BatchMomentum    float64
}

// GLU is a gated feed-forward classifier over the concatenated
// epitope/HLA features: an input block projects into the hidden space,
// followed by residual gated blocks and a single-logit output layer.
type GLU struct {
	nn.BaseModel
	Config GLUConfig
	Input  *GatedBlock
	Blocks []*GatedBlock
	Output *linear.Model
}

var squareRootHalf = mat.Float(math.Sqrt(0.5))

func NewGLU(cfg GLUConfig) *GLU {
	inputDim := cfg.EpitopeDimension + cfg.HLADimension
	blocks := make([]*GatedBlock, cfg.NumBlocks)
	for i := range blocks {
		blocks[i] = NewGatedBlock(cfg.HiddenDimension, cfg.HiddenDimension, cfg.BatchMomentum)
	}
	return &GLU{
		Config: cfg,
		Input:  NewGatedBlock(inputDim, cfg.HiddenDimension, cfg.BatchMomentum),
		Blocks: blocks,
		Output: linear.New(cfg.HiddenDimension, 1, linear.BiasGrad(false)),
	}
}

func (m *GLU) Dimensions() (int, int) {
	return m.Config.EpitopeDimension, m.Config.HLADimension
}

func (m *GLU) Init(generator *rand.LockedRand) {
	m.Input.Init(generator)
	for _, block := range m.Blocks {
		block.Init(generator)
	}
	initializers.XavierUniform(m.Output.W.Value(), initializers.Gain(ag.OpIdentity), generator)
}

func (m *GLU) Forward(xs ...ag.Node) []ag.Node {
	g := m.Graph()
	theta := g.Constant(squareRootHalf)

	ys := m.Input.Forward(xs...)
	for _, block := range m.Blocks {
		zs := block.Forward(ys...)
		for i := range ys {
			ys[i] = g.Mul(g.Add(ys[i], zs[i]), theta)
		}
	}
	return m.Output.Forward(ys...)
}

// GatedBlock is one gated linear unit layer: a dense projection into
// twice the hidden size, batch normalization, then the first half gated
// by the sigmoid of the second half.
type GatedBlock struct {
	nn.BaseModel
	Hidden int
	Dense  *linear.Model
	Norm   *batchnorm.Model
}

func NewGatedBlock(inputDim, hidden int, momentum float64) *GatedBlock {
	return &GatedBlock{
		Hidden: hidden,
		Dense:  linear.New(inputDim, 2*hidden, linear.BiasGrad(false)),
		Norm:   batchnorm.NewWithMomentum(2*hidden, mat.Float(momentum)),
	}
}

func (m *GatedBlock) Init(generator *rand.LockedRand) {
	initializers.XavierUniform(m.Dense.W.Value(), initializers.Gain(ag.OpSigmoid), generator)
}

func (m *GatedBlock) Forward(xs ...ag.Node) []ag.Node {
	g := m.Graph()
	ys := m.Norm.Forward(m.Dense.Forward(xs...)...)
	out := make([]ag.Node, len(ys))
	for i, y := range ys {
		out[i] = gatedLinearUnit(g, 2*m.Hidden, y)
	}
	return out
}

func gatedLinearUnit(g *ag.Graph, dim int, x ag.Node) ag.Node {
	half := dim / 2
	value := g.View(x, 0, 0, half, 1)
	gate := g.View(x, half, 0, half, 1)
	return g.Prod(value, g.Sigmoid(gate))
}
