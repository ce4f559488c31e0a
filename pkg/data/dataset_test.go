package data

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"
)

func makeRecords(targets ...float32) []*Record {
	records := make([]*Record, len(targets))
	for i, target := range targets {
		records[i] = &Record{Sample: Sample{Target: target}}
	}
	return records
}

func TestDataSetBatching(t *testing.T) {
	records := makeRecords(0, 1, 0, 1, 0, 1, 0)
	ds := NewDataSet(records, 3, rand.New(rand.NewSource(42)))

	require.Equal(t, 7, ds.Size())
	require.Equal(t, 3, ds.NumBatches())

	var sizes []int
	var seen []*Record
	for batch := ds.Next(); batch.Size() > 0; batch = ds.Next() {
		sizes = append(sizes, batch.Size())
		seen = append(seen, batch...)
	}
	require.Equal(t, []int{3, 3, 1}, sizes)
	require.Equal(t, records, seen)
}

func TestDataSetRandomOrder(t *testing.T) {
	records := makeRecords(0, 0, 0, 0, 0, 0, 0, 0, 0, 0)
	ds := NewDataSet(records, 4, rand.New(rand.NewSource(42)))
	ds.ResetOrder(RandomOrder)

	seen := map[*Record]bool{}
	count := 0
	for batch := ds.Next(); batch.Size() > 0; batch = ds.Next() {
		for _, r := range batch {
			seen[r] = true
			count++
		}
	}
	// shuffling permutes, never drops or duplicates
	require.Equal(t, len(records), count)
	require.Len(t, seen, len(records))

	// same seed reproduces the same order
	first := drainOrder(NewDataSet(records, 4, rand.New(rand.NewSource(7))))
	second := drainOrder(NewDataSet(records, 4, rand.New(rand.NewSource(7))))
	require.Equal(t, first, second)
}

func drainOrder(ds *DataSet) []*Record {
	ds.ResetOrder(RandomOrder)
	var out []*Record
	for batch := ds.Next(); batch.Size() > 0; batch = ds.Next() {
		out = append(out, batch...)
	}
	return out
}

func TestResetOrderRestoresOriginal(t *testing.T) {
	records := makeRecords(0, 1, 0, 1)
	ds := NewDataSet(records, 2, rand.New(rand.NewSource(1)))
	ds.ResetOrder(RandomOrder)
	drainOrder(ds)

	ds.ResetOrder(OriginalOrder)
	var out []*Record
	for batch := ds.Next(); batch.Size() > 0; batch = ds.Next() {
		out = append(out, batch...)
	}
	require.Equal(t, records, out)
}

func TestStratifiedSplit(t *testing.T) {
	// 12 positives, 8 negatives
	targets := make([]float32, 0, 20)
	for i := 0; i < 12; i++ {
		targets = append(targets, 1)
	}
	for i := 0; i < 8; i++ {
		targets = append(targets, 0)
	}
	records := makeRecords(targets...)

	train, validation := StratifiedSplit(records, 4, 0.25, rand.New(rand.NewSource(42)))
	require.Equal(t, 15, train.Size())
	require.Equal(t, 5, validation.Size())

	countClasses := func(ds *DataSet) (pos, neg int) {
		ds.ResetOrder(OriginalOrder)
		for batch := ds.Next(); batch.Size() > 0; batch = ds.Next() {
			for _, r := range batch {
				if r.Sample.Target == 1 {
					pos++
				} else {
					neg++
				}
			}
		}
		return pos, neg
	}

	trainPos, trainNeg := countClasses(train)
	require.Equal(t, 9, trainPos)
	require.Equal(t, 6, trainNeg)
	valPos, valNeg := countClasses(validation)
	require.Equal(t, 3, valPos)
	require.Equal(t, 2, valNeg)

	// no record lands in both splits
	inValidation := map[*Record]bool{}
	validation.ResetOrder(OriginalOrder)
	for batch := validation.Next(); batch.Size() > 0; batch = validation.Next() {
		for _, r := range batch {
			inValidation[r] = true
		}
	}
	train.ResetOrder(OriginalOrder)
	for batch := train.Next(); batch.Size() > 0; batch = train.Next() {
		for _, r := range batch {
			require.False(t, inValidation[r])
		}
	}
}
