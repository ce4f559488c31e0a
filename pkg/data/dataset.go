package data

import (
	"math/rand"

	mat "github.com/nlpodyssey/spago/pkg/mat32"
)

// Record is an encoded sample ready to feed the model: the epitope and
// HLA feature vectors produced by the encoder, plus the original sample
// for reporting.
type Record struct {
	Epitope *mat.Dense
	HLA     *mat.Dense
	Sample  Sample
}

// Batch is a slice of records processed through a single computation
// graph.
type Batch []*Record

func (b Batch) Size() int {
	return len(b)
}

type Order int

const (
	OriginalOrder Order = iota
	RandomOrder
)

// DataSet iterates over encoded records in batches of at most BatchSize,
// optionally in a shuffled order.
type DataSet struct {
	Data         []*Record
	BatchSize    int
	Rand         *rand.Rand
	dataIndices  []int
	currentOrder []int
	currentIndex int
}

func NewDataSet(data []*Record, batchSize int, rnd *rand.Rand) *DataSet {
	indices := make([]int, len(data))
	for i := range indices {
		indices[i] = i
	}
	return newSplit(data, batchSize, rnd, indices)
}

func newSplit(data []*Record, batchSize int, rnd *rand.Rand, indices []int) *DataSet {
	ds := &DataSet{Data: data, BatchSize: batchSize, Rand: rnd, dataIndices: indices}
	ds.ResetOrder(OriginalOrder)
	return ds
}

func (d *DataSet) ResetOrder(order Order) {
	if d.currentOrder == nil {
		d.currentOrder = make([]int, len(d.dataIndices))
	}
	switch order {
	case OriginalOrder:
		copy(d.currentOrder, d.dataIndices)
	case RandomOrder:
		perm := d.Rand.Perm(len(d.currentOrder))
		for i := range perm {
			d.currentOrder[i] = d.dataIndices[perm[i]]
		}
	}
	d.currentIndex = 0
}

// Next returns the next batch, or an empty batch once the set is
// exhausted for the current order.
func (d *DataSet) Next() Batch {
	batch := make(Batch, 0, d.BatchSize)
	for ; d.currentIndex < len(d.currentOrder) && len(batch) < d.BatchSize; d.currentIndex++ {
		batch = append(batch, d.Data[d.currentOrder[d.currentIndex]])
	}
	return batch
}

func (d *DataSet) Size() int {
	return len(d.dataIndices)
}

// NumBatches returns how many batches one full pass yields.
func (d *DataSet) NumBatches() int {
	if d.BatchSize <= 0 {
		return 0
	}
	return (d.Size() + d.BatchSize - 1) / d.BatchSize
}

// StratifiedSplit partitions the records into a training and a validation
// set, drawing validationSize of each target class so that both splits
// keep the class balance of the full set.
func StratifiedSplit(data []*Record, batchSize int, validationSize float64, rnd *rand.Rand) (train, validation *DataSet) {
	byClass := map[float32][]int{}
	for i, r := range data {
		byClass[r.Sample.Target] = append(byClass[r.Sample.Target], i)
	}

	classes := make([]float32, 0, len(byClass))
	for class := range byClass {
		classes = append(classes, class)
	}
	// map iteration order is random; fix it so the split depends only on rnd
	for i := 1; i < len(classes); i++ {
		for j := i; j > 0 && classes[j] < classes[j-1]; j-- {
			classes[j], classes[j-1] = classes[j-1], classes[j]
		}
	}

	var trainIndices, valIndices []int
	for _, class := range classes {
		indices := byClass[class]
		rnd.Shuffle(len(indices), func(i, j int) {
			indices[i], indices[j] = indices[j], indices[i]
		})
		valCount := int(float64(len(indices)) * validationSize)
		valIndices = append(valIndices, indices[:valCount]...)
		trainIndices = append(trainIndices, indices[valCount:]...)
	}

	return newSplit(data, batchSize, rnd, trainIndices),
		newSplit(data, batchSize, rnd, valIndices)
}
