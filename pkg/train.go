package pkg

import (
	"fmt"
	mrand "math/rand"
	"os"
	"time"

	"github.com/google/uuid"
	mat "github.com/nlpodyssey/spago/pkg/mat32"
	"github.com/nlpodyssey/spago/pkg/mat32/rand"
	"github.com/nlpodyssey/spago/pkg/ml/ag"
	"github.com/nlpodyssey/spago/pkg/ml/nn"
	"github.com/nlpodyssey/spago/pkg/ml/optimizers/gd"
	"github.com/nlpodyssey/spago/pkg/ml/optimizers/gd/adam"
	"github.com/nlpodyssey/spago/pkg/ml/optimizers/gd/radam"
	"github.com/rs/zerolog/log"

	"xenoimm/pkg/config"
	"xenoimm/pkg/data"
	"xenoimm/pkg/encoder"
	"xenoimm/pkg/model"
)

const lossEpsilon = 1e-7

type Trainer struct {
	cfg       *config.Config
	clf       model.Classifier
	optimizer *gd.GradientDescent
	setLR     func(float64)
	schedule  *WarmupCosineSchedule
	dropout   *DropoutPreprocessor
	rndSeed   uint64
	step      int
}

// Train runs the full training pipeline described by the config file:
// load and join the datasets, encode them, fit the selected model with
// early stopping, and save the best checkpoint.
func Train(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	runID := uuid.New().String()
	log.Info().Str("run", runID).Str("config", configPath).Msg("Starting training")

	enc, err := encoder.New(cfg.Encoder)
	if err != nil {
		return err
	}
	defer enc.Close()

	clf, err := model.New(cfg.Model)
	if err != nil {
		return err
	}

	records, err := loadRecords(cfg.Data.EpitopeFile, cfg.Data.EpitopeColumns, "", cfg, enc, clf)
	if err != nil {
		return err
	}

	metaData := model.NewMetadata()
	metaData.RunID = runID
	metaData.ModelName = cfg.Model.Name
	metaData.EncoderName = cfg.Encoder.Name
	metaData.EpitopeDimension, metaData.HLADimension = clf.Dimensions()
	metaData.CreatedAt = time.Now()
	for _, r := range records {
		metaData.HLAMap.ValueFor(r.Sample.HLA)
	}

	rndGen := rand.NewLockedRand(cfg.Seed)
	clf.Init(rndGen)

	if cfg.Train.Transfer {
		clf, err = transferWeights(cfg, clf)
		if err != nil {
			return err
		}
	}

	shuffler := mrand.New(mrand.NewSource(int64(cfg.Seed)))
	trainSet, valSet := data.StratifiedSplit(records, cfg.Train.BatchSize, cfg.Data.ValidationSize, shuffler)
	if trainSet.Size() == 0 || valSet.Size() == 0 {
		return fmt.Errorf("dataset too small to split: %d train / %d validation samples",
			trainSet.Size(), valSet.Size())
	}
	metaData.TrainSamples = trainSet.Size()
	metaData.ValidationSamples = valSet.Size()
	log.Info().Int("train", trainSet.Size()).Int("validation", valSet.Size()).
		Int("alleles", metaData.HLAMap.Size()).Msg("Dataset loaded")

	t := &Trainer{cfg: cfg, clf: clf, rndSeed: cfg.Seed}
	t.buildOptimizer()
	if cfg.Train.UseScheduler {
		t.schedule = NewWarmupCosineSchedule(cfg.Train.NumEpochs * trainSet.NumBatches())
	}
	if cfg.Train.InputDropout > 0 {
		epiDim, hlaDim := clf.Dimensions()
		t.dropout = NewDropoutPreprocessor(mat.Float(cfg.Train.InputDropout), rndGen, epiDim+hlaDim)
	}

	trainLog, err := openTrainLog(cfg.LogFile)
	if err != nil {
		return err
	}
	defer trainLog.Close()

	bestLoss := mat.Float(0)
	haveBest := false
	epochsNoImprove := 0
	for epoch := 0; epoch < cfg.Train.NumEpochs; epoch++ {
		start := time.Now()
		trainLoss, trainAcc := t.runEpoch(trainSet)
		valLoss, valAcc := t.evaluate(valSet)
		t.optimizer.IncEpoch()
		metaData.EpochsTrained = epoch + 1

		elapsed := int(time.Since(start).Seconds())
		log.Info().Int("epoch", epoch+1).Int("seconds", elapsed).
			Float64("trainAcc", trainAcc).Float64("valAcc", valAcc).
			Float64("trainLoss", float64(trainLoss)).Float64("valLoss", float64(valLoss)).
			Msg("")
		trainLog.Printf("[%s]-[Epoch %03d/%03d] - Time: %d s, Train Acc: %.5f, Val Acc: %.5f, Train Loss: %.5f, Val Loss: %.5f",
			cfg.CheckpointName, epoch+1, cfg.Train.NumEpochs, elapsed, trainAcc, valAcc, trainLoss, valLoss)

		if cfg.Train.CheckpointInterval > 0 && (epoch+1)%cfg.Train.CheckpointInterval == 0 {
			path := cfg.CheckpointPath(fmt.Sprintf("epoch_%d", epoch+1))
			if err := model.SaveFile(&model.Checkpoint{MetaData: metaData, Classifier: t.clf}, path); err != nil {
				return err
			}
		}

		if !haveBest || valLoss < bestLoss {
			bestLoss = valLoss
			haveBest = true
			epochsNoImprove = 0
			metaData.BestValidationLoss = float64(bestLoss)
			path := cfg.CheckpointPath("best")
			if err := model.SaveFile(&model.Checkpoint{MetaData: metaData, Classifier: t.clf}, path); err != nil {
				return err
			}
			log.Info().Int("epoch", epoch+1).Str("checkpoint", path).Msg("Best model updated")
			continue
		}
		epochsNoImprove++
		if epochsNoImprove >= cfg.Train.Patience {
			log.Info().Int("epoch", epoch+1).Msg("Early stopping")
			break
		}
	}

	log.Info().Float64("bestValLoss", float64(bestLoss)).Str("run", runID).Msg("Training finished")
	return nil
}

// loadRecords reads and joins the CSV inputs, encodes every sample and
// checks the feature sizes against the model. A non-empty hlaFilter
// restricts the records to that allele.
func loadRecords(epiFile string, epiCols config.EpitopeColumns, hlaFilter string,
	cfg *config.Config, enc encoder.Encoder, clf model.Classifier) ([]*data.Record, error) {

	provider, dataErrors, err := data.Load(epiFile, epiCols, cfg.Data.HLAFile, cfg.Data.HLAColumns)
	if err != nil {
		return nil, err
	}
	printDataErrors(dataErrors)
	if hlaFilter != "" {
		provider = provider.FilterHLA(hlaFilter)
		if provider.Len() == 0 {
			return nil, fmt.Errorf("no samples of HLA %s in %s", hlaFilter, epiFile)
		}
	}
	if provider.Len() == 0 {
		return nil, fmt.Errorf("no usable samples in %s", epiFile)
	}

	records, encodeErrors := encoder.EncodeAll(provider, enc, cfg.Data.NumWorkers, true)
	printDataErrors(encodeErrors)
	if len(records) == 0 {
		return nil, fmt.Errorf("no sample of %s could be encoded", epiFile)
	}

	epiDim, hlaDim := clf.Dimensions()
	if got := records[0].Epitope.Size(); got != epiDim {
		return nil, fmt.Errorf("encoder produces epitope vectors of size %d, model expects %d", got, epiDim)
	}
	if got := records[0].HLA.Size(); got != hlaDim {
		return nil, fmt.Errorf("encoder produces HLA vectors of size %d, model expects %d", got, hlaDim)
	}
	return records, nil
}

func transferWeights(cfg *config.Config, clf model.Classifier) (model.Classifier, error) {
	path := cfg.CheckpointPath(cfg.Test.CheckpointPrefix)
	if _, err := os.Stat(path); os.IsNotExist(err) {
		log.Info().Str("checkpoint", path).Msg("No checkpoint to transfer from, training from scratch")
		return clf, nil
	}
	checkpoint, err := model.LoadFile(path)
	if err != nil {
		return nil, err
	}
	if checkpoint.MetaData.ModelName != cfg.Model.Name {
		return nil, fmt.Errorf("checkpoint %s holds model %q, config selects %q",
			path, checkpoint.MetaData.ModelName, cfg.Model.Name)
	}
	log.Info().Str("checkpoint", path).Msg("Transferred model weights")
	return checkpoint.Classifier, nil
}

func (t *Trainer) buildOptimizer() {
	clip := gd.ClipGradByValue(mat.Float(t.cfg.Train.GradientClip))
	params := nn.NewDefaultParamsIterator(t.clf)
	switch t.cfg.Train.Optimizer {
	case "radam":
		updaterConfig := radam.NewDefaultConfig()
		updaterConfig.StepSize = mat.Float(t.cfg.Train.LearningRate)
		updater := radam.New(updaterConfig)
		t.optimizer = gd.NewOptimizer(updater, params, clip)
		t.setLR = func(lr float64) { updater.StepSize = mat.Float(lr) }
	default:
		updaterConfig := adam.NewDefaultConfig()
		updaterConfig.StepSize = mat.Float(t.cfg.Train.LearningRate)
		updater := adam.New(updaterConfig)
		t.optimizer = gd.NewOptimizer(updater, params, clip)
		t.setLR = func(lr float64) {
			updater.StepSize = mat.Float(lr)
			// adam applies a cached alpha, not StepSize directly; advancing
			// the time step recomputes the alpha from the new rate
			updater.IncExample()
		}
	}
}

func (t *Trainer) runEpoch(trainSet *data.DataSet) (mat.Float, float64) {
	trainSet.ResetOrder(data.RandomOrder)
	var epochLoss mat.Float
	batches := 0
	correct := 0
	total := 0
	for batch := trainSet.Next(); len(batch) > 0; batch = trainSet.Next() {
		if t.schedule != nil {
			t.setLR(t.schedule.LR(t.step))
		}
		loss, batchCorrect := t.trainBatch(batch)
		t.optimizer.Optimize()
		t.step++
		epochLoss += loss
		batches++
		correct += batchCorrect
		total += len(batch)
	}
	return epochLoss / mat.Float(batches), float64(correct) / float64(total)
}

func (t *Trainer) trainBatch(batch data.Batch) (mat.Float, int) {
	t.optimizer.IncBatch()

	g := ag.NewGraph(ag.Rand(rand.NewLockedRand(t.rndSeed)))
	defer g.Clear()

	input := inputNodes(g, batch)
	if t.dropout != nil {
		input = t.dropout.process(g, input)
	}

	proc := nn.Reify(nn.Context{Graph: g, Mode: nn.Training}, t.clf).(model.Classifier)
	logits := proc.Forward(input...)

	var loss ag.Node
	correct := 0
	for i := range batch {
		loss = g.Add(loss, bceWithLogits(g, logits[i], batch[i].Sample.Target))
		if predictsPositive(logits[i]) == (batch[i].Sample.Target == 1) {
			correct++
		}
	}
	loss = g.Div(loss, g.NewScalar(mat.Float(len(batch))))

	g.Backward(loss)
	return loss.ScalarValue(), correct
}

func (t *Trainer) evaluate(ds *data.DataSet) (mat.Float, float64) {
	ds.ResetOrder(data.OriginalOrder)
	var totalLoss mat.Float
	batches := 0
	correct := 0
	total := 0
	for batch := ds.Next(); len(batch) > 0; batch = ds.Next() {
		g := ag.NewGraph(ag.Rand(rand.NewLockedRand(t.rndSeed)))
		input := inputNodes(g, batch)
		proc := nn.Reify(nn.Context{Graph: g, Mode: nn.Inference}, t.clf).(model.Classifier)
		logits := proc.Forward(input...)

		var loss ag.Node
		for i := range batch {
			loss = g.Add(loss, bceWithLogits(g, logits[i], batch[i].Sample.Target))
			if predictsPositive(logits[i]) == (batch[i].Sample.Target == 1) {
				correct++
			}
		}
		loss = g.Div(loss, g.NewScalar(mat.Float(len(batch))))
		totalLoss += loss.ScalarValue()
		batches++
		total += len(batch)
		g.Clear()
	}
	return totalLoss / mat.Float(batches), float64(correct) / float64(total)
}

func inputNodes(g *ag.Graph, batch data.Batch) []ag.Node {
	input := make([]ag.Node, len(batch))
	for i, record := range batch {
		epi := g.NewVariable(record.Epitope, false)
		hla := g.NewVariable(record.HLA, false)
		input[i] = g.Concat(epi, hla)
	}
	return input
}

// bceWithLogits is binary cross-entropy on a single-logit output. The
// prediction is clamped away from 0 and 1 before the log.
func bceWithLogits(g *ag.Graph, logit ag.Node, target mat.Float) ag.Node {
	p := g.Sigmoid(logit)
	if target == 1 {
		return g.Neg(g.Log(g.AddScalar(p, g.Constant(lossEpsilon))))
	}
	// 1-p, written as -(p-1)
	oneMinus := g.Neg(g.SubScalar(p, g.Constant(1)))
	return g.Neg(g.Log(g.AddScalar(oneMinus, g.Constant(lossEpsilon))))
}

// predictsPositive applies the 0.5 probability threshold, which on the
// logit scale is 0.
func predictsPositive(logit ag.Node) bool {
	return logit.ScalarValue() > 0
}

// trainLogger appends the per-epoch summary lines to the configured log
// file, so training history survives console scrollback.
type trainLogger struct {
	file *os.File
}

func openTrainLog(path string) (*trainLogger, error) {
	if path == "" {
		return &trainLogger{}, nil
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("error opening log file %s: %w", path, err)
	}
	return &trainLogger{file: file}, nil
}

func (l *trainLogger) Printf(format string, args ...interface{}) {
	if l.file == nil {
		return
	}
	fmt.Fprintf(l.file, time.Now().Format("2006-01-02 15:04:05")+" - [Training process]: "+format+"\n", args...)
}

func (l *trainLogger) Close() error {
	if l.file == nil {
		return nil
	}
	return l.file.Close()
}
