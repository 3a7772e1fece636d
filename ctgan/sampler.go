package ctgan

import (
	"fmt"
	"math"
	"math/rand"

	"gonum.org/v1/gonum/mat"
)

// DataSampler indexes the transformed matrix by (discrete column,
// category) and implements training-by-sampling: conditional vectors
// drawn with log-frequency smoothing, paired with real rows that carry
// the conditioned category. The index is built once and read-only
// afterwards.
type DataSampler struct {
	data  *mat.Dense
	nRows int
	spans []condSpan
	metas []ColumnMeta
	// buckets[ci][cat] lists the row indices with that category
	buckets [][][]int
	// trainProb[ci] is the log(1+count) smoothed category distribution
	trainProb [][]float64
	condWidth int
	rng       *rand.Rand
}

// NewDataSampler returns a DataSampler instance over the transformed
// matrix. Every category present in the metas must appear in the data;
// an empty bucket is a logic error.
func NewDataSampler(data *mat.Dense, metas []ColumnMeta, rng *rand.Rand) *DataSampler {
	nRows, _ := data.Dims()
	s := &DataSampler{
		data:      data,
		nRows:     nRows,
		spans:     condSpans(metas),
		metas:     metas,
		condWidth: CondVecWidth(metas),
		rng:       rng,
	}
	for _, span := range s.spans {
		meta := &metas[span.metaIdx]
		buckets := make([][]int, span.nCat)
		for r := 0; r < nRows; r++ {
			row := data.RawRowView(r)
			cat := argmax(row[meta.Offset : meta.Offset+meta.Width])
			if row[meta.Offset+cat] != 1 {
				panic(fmt.Sprintf("NewDataSampler error. row %v has no set bit in column %q", r, meta.Name))
			}
			buckets[cat] = append(buckets[cat], r)
		}
		probs := make([]float64, span.nCat)
		total := 0.0
		for cat, bucket := range buckets {
			if len(bucket) == 0 {
				panic(fmt.Sprintf("NewDataSampler error. category %q of column %q has no rows", meta.Categories[cat], meta.Name))
			}
			probs[cat] = math.Log1p(float64(len(bucket)))
			total += probs[cat]
		}
		for cat := range probs {
			probs[cat] /= total
		}
		s.buckets = append(s.buckets, buckets)
		s.trainProb = append(s.trainProb, probs)
	}
	return s
}

// CondVecWidth returns the conditional-vector width.
func (s *DataSampler) CondVecWidth() int { return s.condWidth }

// NumDiscrete returns the number of discrete columns.
func (s *DataSampler) NumDiscrete() int { return len(s.spans) }

// NumRows returns the number of indexed rows.
func (s *DataSampler) NumRows() int { return s.nRows }

// SampleCondVec draws a training batch of conditional vectors: the
// column uniform among discrete columns, the category proportional to
// log(1+count) within the column. Rare categories are deliberately
// over-represented relative to their raw frequency. Returns nil when the
// data has no discrete columns.
func (s *DataSampler) SampleCondVec(batch int) *CondBatch {
	if len(s.spans) == 0 {
		return nil
	}
	cb := &CondBatch{
		Vec:    make([][]float64, batch),
		ColIdx: make([]int, batch),
		CatIdx: make([]int, batch),
	}
	for i := 0; i < batch; i++ {
		ci := s.rng.Intn(len(s.spans))
		cat := drawIndex(s.rng, s.trainProb[ci])
		vec := make([]float64, s.condWidth)
		vec[s.spans[ci].condOffset+cat] = 1
		cb.Vec[i] = vec
		cb.ColIdx[i] = ci
		cb.CatIdx[i] = cat
	}
	return cb
}

// SampleRows draws, for each conditional vector in cb (reordered by perm
// when non-nil), one row uniformly at random from the matching bucket.
// With a nil cb it draws rows uniformly from the whole matrix.
func (s *DataSampler) SampleRows(cb *CondBatch, perm []int, batch int) [][]float64 {
	rows := make([][]float64, batch)
	for i := 0; i < batch; i++ {
		var r int
		if cb == nil {
			r = s.rng.Intn(s.nRows)
		} else {
			j := i
			if perm != nil {
				j = perm[i]
			}
			bucket := s.buckets[cb.ColIdx[j]][cb.CatIdx[j]]
			r = bucket[s.rng.Intn(len(bucket))]
		}
		row := make([]float64, s.data.RawMatrix().Cols)
		copy(row, s.data.RawRowView(r))
		rows[i] = row
	}
	return rows
}
