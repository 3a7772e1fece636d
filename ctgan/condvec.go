package ctgan

import (
	"fmt"
	"math"
	"math/rand"
)

// CondBatch is a batch of conditional vectors: one category of one
// discrete column selected per sample. Parallel slices, all of length
// batch.
type CondBatch struct {
	// Vec[i] is the sparse one-hot vector of width CondVecWidth(metas)
	Vec [][]float64
	// ColIdx[i] indexes the conditioned column among the discrete columns
	ColIdx []int
	// CatIdx[i] is the selected category within that column
	CatIdx []int
}

// Len returns the batch size.
func (cb *CondBatch) Len() int { return len(cb.Vec) }

// condSpan places one discrete column inside the conditional vector.
type condSpan struct {
	metaIdx    int // index into the full meta slice
	condOffset int // offset of this column's block in the cond vector
	nCat       int
}

func condSpans(metas []ColumnMeta) []condSpan {
	spans := []condSpan{}
	offset := 0
	for j := range metas {
		if metas[j].Kind != KindDiscrete {
			continue
		}
		spans = append(spans, condSpan{metaIdx: j, condOffset: offset, nCat: metas[j].NumCategories()})
		offset += metas[j].NumCategories()
	}
	return spans
}

// CondVecWidth returns the conditional-vector width: the sum of the
// discrete category counts.
func CondVecWidth(metas []ColumnMeta) int {
	w := 0
	for j := range metas {
		if metas[j].Kind == KindDiscrete {
			w += metas[j].NumCategories()
		}
	}
	return w
}

// AssertValidCondVec checks that exactly one bit is set across the
// entire vector.
func AssertValidCondVec(vec []float64, metas []ColumnMeta) error {
	if len(vec) != CondVecWidth(metas) {
		return fmt.Errorf("conditional vector width (%v) != expected (%v)", len(vec), CondVecWidth(metas))
	}
	set := 0
	for _, v := range vec {
		switch v {
		case 0:
		case 1:
			set++
		default:
			return fmt.Errorf("conditional vector contains non-binary value %v", v)
		}
	}
	if set != 1 {
		return fmt.Errorf("conditional vector has %v set bits, want exactly 1", set)
	}
	return nil
}

// sampleFrequencyCondVec draws conditional vectors for generation time:
// the column is uniform among discrete columns and the category follows
// the raw fitted frequencies. Returns nil when no discrete column exists.
func sampleFrequencyCondVec(metas []ColumnMeta, batch int, rng *rand.Rand) *CondBatch {
	spans := condSpans(metas)
	if len(spans) == 0 {
		return nil
	}
	width := CondVecWidth(metas)
	cb := &CondBatch{
		Vec:    make([][]float64, batch),
		ColIdx: make([]int, batch),
		CatIdx: make([]int, batch),
	}
	for i := 0; i < batch; i++ {
		ci := rng.Intn(len(spans))
		span := spans[ci]
		cat := drawIndex(rng, metas[span.metaIdx].Frequencies)
		vec := make([]float64, width)
		vec[span.condOffset+cat] = 1
		cb.Vec[i] = vec
		cb.ColIdx[i] = ci
		cb.CatIdx[i] = cat
	}
	return cb
}

// fixedCondVec builds a batch conditioned on a single (column, value)
// pair for every sample.
func fixedCondVec(metas []ColumnMeta, batch int, column, value string) (*CondBatch, error) {
	spans := condSpans(metas)
	for ci, span := range spans {
		meta := &metas[span.metaIdx]
		if meta.Name != column {
			continue
		}
		cat := meta.CategoryIndex(value)
		if cat < 0 {
			return nil, &OutOfVocabularyError{Column: column, Value: value}
		}
		width := CondVecWidth(metas)
		cb := &CondBatch{
			Vec:    make([][]float64, batch),
			ColIdx: make([]int, batch),
			CatIdx: make([]int, batch),
		}
		for i := 0; i < batch; i++ {
			vec := make([]float64, width)
			vec[span.condOffset+cat] = 1
			cb.Vec[i] = vec
			cb.ColIdx[i] = ci
			cb.CatIdx[i] = cat
		}
		return cb, nil
	}
	return nil, &SchemaError{Column: column, Reason: "not a fitted discrete column"}
}

// condMatrix lays a CondBatch out as a (width x batch) column-major
// constant for network input, optionally reordered by perm.
func condMatrix(cb *CondBatch, width int, perm []int) []float64 {
	batch := cb.Len()
	w := make([]float64, width*batch)
	for j := 0; j < batch; j++ {
		src := cb.Vec[j]
		if perm != nil {
			src = cb.Vec[perm[j]]
		}
		for i, v := range src {
			if v != 0 {
				w[i*batch+j] = v
			}
		}
	}
	return w
}

// finite reports whether v is a usable loss value.
func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
