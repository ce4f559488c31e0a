package pkg

import (
	"fmt"
	gio "io"
	"math"
	"os"
	"path/filepath"
	"sort"

	"github.com/nlpodyssey/spago/pkg/mat32/rand"
	"github.com/nlpodyssey/spago/pkg/ml/ag"
	"github.com/nlpodyssey/spago/pkg/ml/nn"
	"github.com/nlpodyssey/spago/pkg/ml/stats"
	"github.com/rs/zerolog/log"
	"gonum.org/v1/gonum/integrate"
	"gonum.org/v1/gonum/stat"

	"xenoimm/pkg/config"
	"xenoimm/pkg/data"
	"xenoimm/pkg/encoder"
	"xenoimm/pkg/model"
)

type NoopWriter struct{}

func (x NoopWriter) Write(p []byte) (n int, err error) {
	return len(p), nil
}

// Test evaluates the trained checkpoint on the configured test file:
// per-class threshold metrics, ROC and precision/recall curves with their
// areas, the same curves for the most frequent alleles, and optionally a
// CSV of raw predictions.
func Test(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if cfg.Data.TestFile == "" {
		return fmt.Errorf("data.test_file must be set to run the test command")
	}

	checkpointPath := cfg.CheckpointPath(cfg.Test.CheckpointPrefix)
	checkpoint, err := model.LoadFile(checkpointPath)
	if err != nil {
		return err
	}
	clf := checkpoint.Classifier
	log.Info().Str("checkpoint", checkpointPath).Str("run", checkpoint.MetaData.RunID).
		Str("model", checkpoint.MetaData.ModelName).Msg("Checkpoint loaded")

	if cfg.Encoder.Name != checkpoint.MetaData.EncoderName {
		return fmt.Errorf("checkpoint was trained with encoder %q, config selects %q",
			checkpoint.MetaData.EncoderName, cfg.Encoder.Name)
	}
	enc, err := encoder.New(cfg.Encoder)
	if err != nil {
		return err
	}
	defer enc.Close()

	records, err := loadRecords(cfg.Data.TestFile, cfg.Data.TestColumns, cfg.Test.HLA, cfg, enc, clf)
	if err != nil {
		return err
	}
	warnUnseenHLAs(records, checkpoint.MetaData)

	scores := predictScores(clf, records, cfg.Test.BatchSize, cfg.Seed)

	if err := writePredictions(cfg.Test.OutputFile, records, scores); err != nil {
		return err
	}

	targets := make([]bool, len(records))
	for i, r := range records {
		targets[i] = r.Sample.Target == 1
	}

	logThresholdMetrics(targets, scores)

	rocX, rocY, rocAUC, err := rocCurve(targets, scores)
	if err != nil {
		return err
	}
	prX, prY, prAUC, err := prCurve(targets, scores)
	if err != nil {
		return err
	}
	log.Info().Float64("rocAUC", rocAUC).Float64("prAUC", prAUC).Msg("")

	if err := os.MkdirAll(cfg.PlotDir, 0o755); err != nil {
		return fmt.Errorf("error creating plot directory %s: %w", cfg.PlotDir, err)
	}
	name := cfg.CheckpointName
	err = savePlot(plotSpec{
		path:   filepath.Join(cfg.PlotDir, "roc_curve-"+name+".png"),
		title:  "Receiver Operating Characteristic (All HLAs)",
		xLabel: "False Positive Rate", yLabel: "True Positive Rate",
		diagonal: true,
		curves:   []curve{{label: fmt.Sprintf("ROC curve (area = %.2f)", rocAUC), xs: rocX, ys: rocY}},
	})
	if err != nil {
		return err
	}
	err = savePlot(plotSpec{
		path:   filepath.Join(cfg.PlotDir, "pr_curve-"+name+".png"),
		title:  "Precision-Recall Curve (All HLAs)",
		xLabel: "Recall", yLabel: "Precision",
		curves: []curve{{label: fmt.Sprintf("PR curve (area = %.2f)", prAUC), xs: prX, ys: prY}},
	})
	if err != nil {
		return err
	}

	return evaluateTopHLAs(cfg, records, scores)
}

// evaluateTopHLAs draws one ROC and one PR plot holding a curve per
// frequent allele. Alleles whose test samples are all of one class are
// skipped, since their curves are undefined.
func evaluateTopHLAs(cfg *config.Config, records []*data.Record, scores []float64) error {
	provider := &data.Provider{}
	for _, r := range records {
		provider.Samples = append(provider.Samples, r.Sample)
	}

	var rocCurves, prCurves []curve
	for _, hla := range provider.TopHLAs(cfg.Test.TopHLACount) {
		var hlaTargets []bool
		var hlaScores []float64
		positives := 0
		for i, r := range records {
			if r.Sample.HLA != hla {
				continue
			}
			hlaTargets = append(hlaTargets, r.Sample.Target == 1)
			hlaScores = append(hlaScores, scores[i])
			if r.Sample.Target == 1 {
				positives++
			}
		}
		if positives == 0 || positives == len(hlaTargets) {
			log.Info().Str("HLA", hla).Msg("Skipping single-class allele")
			continue
		}
		log.Info().Str("HLA", hla).Int("samples", len(hlaTargets)).Msg("")

		rocX, rocY, rocAUC, err := rocCurve(hlaTargets, hlaScores)
		if err != nil {
			return err
		}
		prX, prY, prAUC, err := prCurve(hlaTargets, hlaScores)
		if err != nil {
			return err
		}
		rocCurves = append(rocCurves, curve{
			label: fmt.Sprintf("%s (area = %.2f)", hla, rocAUC), xs: rocX, ys: rocY})
		prCurves = append(prCurves, curve{
			label: fmt.Sprintf("%s (area = %.2f)", hla, prAUC), xs: prX, ys: prY})
	}
	if len(rocCurves) == 0 {
		return nil
	}

	name := cfg.CheckpointName
	err := savePlot(plotSpec{
		path:   filepath.Join(cfg.PlotDir, "roc_curve_hla-"+name+".png"),
		title:  "Receiver Operating Characteristic (Top HLAs)",
		xLabel: "False Positive Rate", yLabel: "True Positive Rate",
		diagonal: true,
		curves:   rocCurves,
	})
	if err != nil {
		return err
	}
	return savePlot(plotSpec{
		path:   filepath.Join(cfg.PlotDir, "pr_curve_hla-"+name+".png"),
		title:  "Precision-Recall Curve (Top HLAs)",
		xLabel: "Recall", yLabel: "Precision",
		curves: prCurves,
	})
}

// predictScores runs inference in batches and returns the sigmoid
// probability for every record, in record order.
func predictScores(clf model.Classifier, records []*data.Record, batchSize int, seed uint64) []float64 {
	ds := data.NewDataSet(records, batchSize, nil)
	scores := make([]float64, 0, len(records))
	for batch := ds.Next(); len(batch) > 0; batch = ds.Next() {
		g := ag.NewGraph(ag.Rand(rand.NewLockedRand(seed)))
		input := inputNodes(g, batch)
		proc := nn.Reify(nn.Context{Graph: g, Mode: nn.Inference}, clf).(model.Classifier)
		logits := proc.Forward(input...)
		for i := range batch {
			scores = append(scores, sigmoid(float64(logits[i].ScalarValue())))
		}
		g.Clear()
	}
	return scores
}

func writePredictions(path string, records []*data.Record, scores []float64) error {
	var writer gio.Writer = NoopWriter{}
	if path != "" {
		file, err := os.Create(path)
		if err != nil {
			return fmt.Errorf("error creating output file %s: %w", path, err)
		}
		defer file.Close()
		writer = file
	}
	fmt.Fprintln(writer, "epitope,hla,target,score")
	for i, r := range records {
		fmt.Fprintf(writer, "%s,%s,%.0f,%.5f\n", r.Sample.Epitope, r.Sample.HLA, r.Sample.Target, scores[i])
	}
	return nil
}

func logThresholdMetrics(targets []bool, scores []float64) {
	metrics := map[string]*stats.ClassMetrics{
		"positive": stats.NewMetricCounter(),
		"negative": stats.NewMetricCounter(),
	}
	for i, target := range targets {
		predicted := scores[i] >= 0.5
		switch {
		case predicted && target:
			metrics["positive"].IncTruePos()
			metrics["negative"].IncTrueNeg()
		case predicted && !target:
			metrics["positive"].IncFalsePos()
			metrics["negative"].IncFalseNeg()
		case !predicted && target:
			metrics["positive"].IncFalseNeg()
			metrics["negative"].IncFalsePos()
		default:
			metrics["positive"].IncTrueNeg()
			metrics["negative"].IncTruePos()
		}
	}

	for _, class := range sortClasses(metrics) {
		result := metrics[class]
		log.Info().Str("Class", class).
			Int("TP", result.TruePos).
			Int("FP", result.FalsePos).
			Int("TN", result.TrueNeg).
			Int("FN", result.FalseNeg).
			Float64("Precision", float64(result.Precision())).
			Float64("Recall", float64(result.Recall())).
			Float64("F1", float64(result.F1Score())).
			Msg("")
	}
	microF1, macroF1 := computeOverallF1(metrics)
	pos := metrics["positive"]
	accuracy := float64(pos.TruePos+pos.TrueNeg) / float64(len(targets))
	log.Info().Float64("Accuracy", accuracy).Float64("MacroF1", macroF1).Float64("MicroF1", microF1).Msg("")
}

func computeOverallF1(metrics map[string]*stats.ClassMetrics) (float64, float64) {
	macroF1 := 0.0
	for _, metric := range metrics {
		macroF1 += float64(metric.F1Score())
	}
	macroF1 /= float64(len(metrics))

	micro := stats.NewMetricCounter()
	for _, result := range metrics {
		micro.TruePos += result.TruePos
		micro.FalsePos += result.FalsePos
		micro.FalseNeg += result.FalseNeg
		micro.TrueNeg += result.TrueNeg
	}
	return float64(micro.F1Score()), macroF1
}

func sortClasses(metrics map[string]*stats.ClassMetrics) []string {
	result := make([]string, 0, len(metrics))
	for class := range metrics {
		result = append(result, class)
	}
	sort.Strings(result)
	return result
}

func warnUnseenHLAs(records []*data.Record, metaData *model.Metadata) {
	unseen := map[string]bool{}
	for _, r := range records {
		if _, ok := metaData.HLAMap.ContainsName(r.Sample.HLA); !ok {
			unseen[r.Sample.HLA] = true
		}
	}
	if len(unseen) > 0 {
		log.Warn().Int("alleles", len(unseen)).Msg("Test set contains alleles never seen in training")
	}
}

// rocCurve returns the ROC curve points (x=FPR, y=TPR) and its area.
func rocCurve(targets []bool, scores []float64) (xs, ys []float64, auc float64, err error) {
	if err := checkBothClasses(targets); err != nil {
		return nil, nil, 0, err
	}
	y := make([]float64, len(scores))
	copy(y, scores)
	classes := make([]bool, len(targets))
	copy(classes, targets)
	// stat.ROC wants the scores in ascending order
	sort.Sort(scoredClasses{y: y, classes: classes})

	tpr, fpr, _ := stat.ROC(nil, y, classes, nil)
	if len(fpr) > 1 && fpr[0] > fpr[len(fpr)-1] {
		reverse(fpr)
		reverse(tpr)
	}
	return fpr, tpr, integrate.Trapezoidal(fpr, tpr), nil
}

// prCurve sweeps the scores from high to low and returns the
// precision/recall points (x=recall, y=precision) and the area under
// them.
func prCurve(targets []bool, scores []float64) (xs, ys []float64, auc float64, err error) {
	if err := checkBothClasses(targets); err != nil {
		return nil, nil, 0, err
	}
	order := make([]int, len(scores))
	for i := range order {
		order[i] = i
	}
	sort.Slice(order, func(i, j int) bool { return scores[order[i]] > scores[order[j]] })

	positives := 0
	for _, t := range targets {
		if t {
			positives++
		}
	}

	recalls := []float64{0}
	precisions := []float64{1}
	tp, fp := 0, 0
	for k, idx := range order {
		if targets[idx] {
			tp++
		} else {
			fp++
		}
		// emit a point only where the score changes, so ties are handled
		// as a single threshold
		if k+1 < len(order) && scores[order[k+1]] == scores[idx] {
			continue
		}
		recalls = append(recalls, float64(tp)/float64(positives))
		precisions = append(precisions, float64(tp)/float64(tp+fp))
	}
	return recalls, precisions, integrate.Trapezoidal(recalls, precisions), nil
}

func checkBothClasses(targets []bool) error {
	positives := 0
	for _, t := range targets {
		if t {
			positives++
		}
	}
	if positives == 0 || positives == len(targets) {
		return fmt.Errorf("cannot compute curves: all %d samples are of one class", len(targets))
	}
	return nil
}

type scoredClasses struct {
	y       []float64
	classes []bool
}

func (s scoredClasses) Len() int           { return len(s.y) }
func (s scoredClasses) Less(i, j int) bool { return s.y[i] < s.y[j] }
func (s scoredClasses) Swap(i, j int) {
	s.y[i], s.y[j] = s.y[j], s.y[i]
	s.classes[i], s.classes[j] = s.classes[j], s.classes[i]
}

func reverse(values []float64) {
	for i, j := 0, len(values)-1; i < j; i, j = i+1, j-1 {
		values[i], values[j] = values[j], values[i]
	}
}

func sigmoid(x float64) float64 {
	if x >= 0 {
		return 1 / (1 + math.Exp(-x))
	}
	e := math.Exp(x)
	return e / (1 + e)
}
