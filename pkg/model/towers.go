package model

import (
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
	_ nn.Model   = &Towers{}
	_ Classifier = &Towers{}
)

func init() {
	Register("towers", func(args config.Args) (Classifier, error) {
		epi, hla, err := pairDimensions(args)
		if err != nil {
			return nil, err
		}
		return NewTowers(TowersConfig{
			EpitopeDimension: epi,
			HLADimension:     hla,
			TowerDimension:   args.Int("tower_dimension", 64),
			HiddenDimension:  args.Int("hidden_dimension", 64),
			BatchMomentum:    args.Float64("batch_momentum", 0.9),
		}), nil
	})
}

type TowersConfig struct {
	EpitopeDimension int
	HLADimension     int
	TowerDimension   int
	HiddenDimension  int
	BatchMomentum    float64
}

// Towers embeds the epitope and the HLA through separate dense towers and
// scores the concatenated embeddings with a shared head. Keeping the two
// proteins apart until the head lets each tower specialize on its own
// input statistics.
type Towers struct {
	nn.BaseModel
	Config       TowersConfig
	EpitopeTower *Tower
	HLATower     *Tower
	Head         *linear.Model
	HeadNorm     *batchnorm.Model
	Output       *linear.Model
}

func NewTowers(cfg TowersConfig) *Towers {
	return &Towers{
		Config:       cfg,
		EpitopeTower: NewTower(cfg.EpitopeDimension, cfg.TowerDimension, cfg.BatchMomentum),
		HLATower:     NewTower(cfg.HLADimension, cfg.TowerDimension, cfg.BatchMomentum),
		Head:         linear.New(2*cfg.TowerDimension, cfg.HiddenDimension, linear.BiasGrad(false)),
		HeadNorm:     batchnorm.NewWithMomentum(cfg.HiddenDimension, mat.Float(cfg.BatchMomentum)),
		Output:       linear.New(cfg.HiddenDimension, 1, linear.BiasGrad(false)),
	}
}

func (m *Towers) Dimensions() (int, int) {
	return m.Config.EpitopeDimension, m.Config.HLADimension
}

func (m *Towers) Init(generator *rand.LockedRand) {
	m.EpitopeTower.Init(generator)
	m.HLATower.Init(generator)
	gain := initializers.Gain(ag.OpIdentity)
	initializers.XavierUniform(m.Head.W.Value(), gain, generator)
	initializers.XavierUniform(m.Output.W.Value(), gain, generator)
}

func (m *Towers) Forward(xs ...ag.Node) []ag.Node {
	g := m.Graph()

	epitopes := make([]ag.Node, len(xs))
	hlas := make([]ag.Node, len(xs))
	for i, x := range xs {
		epitopes[i] = g.View(x, 0, 0, m.Config.EpitopeDimension, 1)
		hlas[i] = g.View(x, m.Config.EpitopeDimension, 0, m.Config.HLADimension, 1)
	}

	epiEmbedded := m.EpitopeTower.Forward(epitopes...)
	hlaEmbedded := m.HLATower.Forward(hlas...)

	joint := make([]ag.Node, len(xs))
	for i := range xs {
		joint[i] = g.Concat(epiEmbedded[i], hlaEmbedded[i])
	}

	ys := m.HeadNorm.Forward(m.Head.Forward(joint...)...)
	for i := range ys {
		ys[i] = g.ReLU(ys[i])
	}
	return m.Output.Forward(ys...)
}

// Tower is a two-layer dense encoder for a single protein.
type Tower struct {
	nn.BaseModel
	Dense1 *linear.Model
	Norm   *batchnorm.Model
	Dense2 *linear.Model
}

func NewTower(inputDim, towerDim int, momentum float64) *Tower {
	return &Tower{
		Dense1: linear.New(inputDim, towerDim, linear.BiasGrad(false)),
		Norm:   batchnorm.NewWithMomentum(towerDim, mat.Float(momentum)),
		Dense2: linear.New(towerDim, towerDim, linear.BiasGrad(false)),
	}
}

func (m *Tower) Init(generator *rand.LockedRand) {
	gain := initializers.Gain(ag.OpIdentity)
	initializers.XavierUniform(m.Dense1.W.Value(), gain, generator)
	initializers.XavierUniform(m.Dense2.W.Value(), gain, generator)
}

func (m *Tower) Forward(xs ...ag.Node) []ag.Node {
	g := m.Graph()
	ys := m.Norm.Forward(m.Dense1.Forward(xs...)...)
	for i := range ys {
		ys[i] = g.ReLU(ys[i])
	}
	return m.Dense2.Forward(ys...)
}
