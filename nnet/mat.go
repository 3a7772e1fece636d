package nnet

import (
	"fmt"
	"math/rand"
	"runtime"
	"sync"
)

// Mat is a dense row-major matrix with a gradient buffer. Rows are
// features and columns are batch samples, so one column holds one sample.
type Mat struct {
	N  int // rows (features)
	D  int // cols (batch size, or 1 for parameters)
	W  []float64
	Dw []float64
}

// NewMat returns a zero Mat instance.
func NewMat(n, d int) *Mat {
	if n < 0 || d < 0 {
		panic(fmt.Sprintf("NewMat error. invalid shape (%v, %v)", n, d))
	}
	return &Mat{N: n, D: d, W: make([]float64, n*d), Dw: make([]float64, n*d)}
}

// NewRandMat returns a Mat filled with gaussian values scaled by stddev.
func NewRandMat(n, d int, stddev float64, rng *rand.Rand) *Mat {
	m := NewMat(n, d)
	for i := range m.W {
		m.W[i] = rng.NormFloat64() * stddev
	}
	return m
}

// NewConstMat wraps an existing value slice. The data is copied so the
// caller keeps ownership of w.
func NewConstMat(n, d int, w []float64) *Mat {
	if len(w) != n*d {
		panic(fmt.Sprintf("NewConstMat error. len(w) (%v) != %v * %v", len(w), n, d))
	}
	m := NewMat(n, d)
	copy(m.W, w)
	return m
}

// At returns element (i, j).
func (m *Mat) At(i, j int) float64 { return m.W[i*m.D+j] }

// Set sets element (i, j).
func (m *Mat) Set(i, j int, v float64) { m.W[i*m.D+j] = v }

// ZeroGrads clears the gradient buffer.
func (m *Mat) ZeroGrads() {
	for i := range m.Dw {
		m.Dw[i] = 0
	}
}

// Clone deep-copies values (not gradients).
func (m *Mat) Clone() *Mat {
	n := NewMat(m.N, m.D)
	copy(n.W, m.W)
	return n
}

// minimum work per goroutine before matMulInto bothers splitting rows.
const parallelRowThreshold = 64 * 64

// matMulInto computes out = a * b, chunking rows of a across goroutines.
// Each worker writes a disjoint row range of out, so results do not
// depend on scheduling order.
func matMulInto(out, a, b *Mat) {
	if a.D != b.N || out.N != a.N || out.D != b.D {
		panic(fmt.Sprintf("matMulInto error. shapes (%v,%v) x (%v,%v) -> (%v,%v)", a.N, a.D, b.N, b.D, out.N, out.D))
	}
	workers := runtime.GOMAXPROCS(0)
	if a.N*a.D*b.D < parallelRowThreshold || workers == 1 {
		mulRows(out, a, b, 0, a.N)
		return
	}
	if workers > a.N {
		workers = a.N
	}
	chunk := (a.N + workers - 1) / workers
	wg := sync.WaitGroup{}
	for w := 0; w < workers; w++ {
		rs := w * chunk
		re := rs + chunk
		if re > a.N {
			re = a.N
		}
		if rs >= re {
			continue
		}
		wg.Add(1)
		go func(rs, re int) {
			mulRows(out, a, b, rs, re)
			wg.Done()
		}(rs, re)
	}
	wg.Wait()
}

func mulRows(out, a, b *Mat, rs, re int) {
	for i := rs; i < re; i++ {
		for l := 0; l < a.D; l++ {
			av := a.W[i*a.D+l]
			if av == 0 {
				continue
			}
			for j := 0; j < b.D; j++ {
				out.W[i*out.D+j] += av * b.W[l*b.D+j]
			}
		}
	}
}
