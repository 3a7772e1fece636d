package nnet

import (
	"fmt"
	"math"
	"math/rand"
)

// Graph is a reverse-mode tape. Every op appends its backward closure;
// Backward runs them in reverse order. Losses are seeded by writing into
// the Dw of the top nodes before calling Backward.
type Graph struct {
	NeedsBackprop bool
	tape          []func()
}

// NewGraph returns a Graph instance.
func NewGraph(needsBackprop bool) *Graph {
	return &Graph{NeedsBackprop: needsBackprop}
}

// Backward replays the tape in reverse.
func (g *Graph) Backward() {
	for i := len(g.tape) - 1; i >= 0; i-- {
		g.tape[i]()
	}
}

func (g *Graph) addBackward(f func()) {
	if g.NeedsBackprop {
		g.tape = append(g.tape, f)
	}
}

// Mul returns a*b. a is (N x K), b is (K x D).
func (g *Graph) Mul(a, b *Mat) *Mat {
	out := NewMat(a.N, b.D)
	matMulInto(out, a, b)
	g.addBackward(func() {
		for i := 0; i < a.N; i++ {
			for j := 0; j < b.D; j++ {
				d := out.Dw[i*out.D+j]
				if d == 0 {
					continue
				}
				for l := 0; l < a.D; l++ {
					a.Dw[i*a.D+l] += b.W[l*b.D+j] * d
					b.Dw[l*b.D+j] += a.W[i*a.D+l] * d
				}
			}
		}
	})
	return out
}

// MulT returns transpose(a)*b. a is (K x N), b is (K x D), out is (N x D).
func (g *Graph) MulT(a, b *Mat) *Mat {
	if a.N != b.N {
		panic(fmt.Sprintf("MulT error. shapes (%v,%v)^T x (%v,%v)", a.N, a.D, b.N, b.D))
	}
	out := NewMat(a.D, b.D)
	for l := 0; l < a.N; l++ {
		for i := 0; i < a.D; i++ {
			av := a.W[l*a.D+i]
			if av == 0 {
				continue
			}
			for j := 0; j < b.D; j++ {
				out.W[i*out.D+j] += av * b.W[l*b.D+j]
			}
		}
	}
	g.addBackward(func() {
		for i := 0; i < out.N; i++ {
			for j := 0; j < out.D; j++ {
				d := out.Dw[i*out.D+j]
				if d == 0 {
					continue
				}
				for l := 0; l < a.N; l++ {
					a.Dw[l*a.D+i] += b.W[l*b.D+j] * d
					b.Dw[l*b.D+j] += a.W[l*a.D+i] * d
				}
			}
		}
	})
	return out
}

// Add returns a+b element-wise.
func (g *Graph) Add(a, b *Mat) *Mat {
	if a.N != b.N || a.D != b.D {
		panic(fmt.Sprintf("Add error. shapes (%v,%v) and (%v,%v)", a.N, a.D, b.N, b.D))
	}
	out := NewMat(a.N, a.D)
	for i := range a.W {
		out.W[i] = a.W[i] + b.W[i]
	}
	g.addBackward(func() {
		for i := range a.W {
			a.Dw[i] += out.Dw[i]
			b.Dw[i] += out.Dw[i]
		}
	})
	return out
}

// AddBias broadcasts a column vector bias (N x 1) over every column of m.
func (g *Graph) AddBias(m, bias *Mat) *Mat {
	if bias.N != m.N || bias.D != 1 {
		panic(fmt.Sprintf("AddBias error. m (%v,%v), bias (%v,%v)", m.N, m.D, bias.N, bias.D))
	}
	out := NewMat(m.N, m.D)
	for i := 0; i < m.N; i++ {
		bv := bias.W[i]
		for j := 0; j < m.D; j++ {
			out.W[i*m.D+j] = m.W[i*m.D+j] + bv
		}
	}
	g.addBackward(func() {
		for i := 0; i < m.N; i++ {
			for j := 0; j < m.D; j++ {
				d := out.Dw[i*m.D+j]
				m.Dw[i*m.D+j] += d
				bias.Dw[i] += d
			}
		}
	})
	return out
}

// Eltmul returns a.*b with gradients to both inputs.
func (g *Graph) Eltmul(a, b *Mat) *Mat {
	if a.N != b.N || a.D != b.D {
		panic(fmt.Sprintf("Eltmul error. shapes (%v,%v) and (%v,%v)", a.N, a.D, b.N, b.D))
	}
	out := NewMat(a.N, a.D)
	for i := range a.W {
		out.W[i] = a.W[i] * b.W[i]
	}
	g.addBackward(func() {
		for i := range a.W {
			a.Dw[i] += b.W[i] * out.Dw[i]
			b.Dw[i] += a.W[i] * out.Dw[i]
		}
	})
	return out
}

// EltmulConst multiplies m element-wise by a constant mask.
func (g *Graph) EltmulConst(m *Mat, mask []float64) *Mat {
	if len(mask) != len(m.W) {
		panic(fmt.Sprintf("EltmulConst error. len(mask) (%v) != len(m.W) (%v)", len(mask), len(m.W)))
	}
	out := NewMat(m.N, m.D)
	for i := range m.W {
		out.W[i] = m.W[i] * mask[i]
	}
	g.addBackward(func() {
		for i := range m.W {
			m.Dw[i] += mask[i] * out.Dw[i]
		}
	})
	return out
}

// AddConst adds a constant slice (e.g. sampled noise) element-wise.
func (g *Graph) AddConst(m *Mat, c []float64) *Mat {
	if len(c) != len(m.W) {
		panic(fmt.Sprintf("AddConst error. len(c) (%v) != len(m.W) (%v)", len(c), len(m.W)))
	}
	out := NewMat(m.N, m.D)
	for i := range m.W {
		out.W[i] = m.W[i] + c[i]
	}
	g.addBackward(func() {
		for i := range m.W {
			m.Dw[i] += out.Dw[i]
		}
	})
	return out
}

// Scale returns s*m.
func (g *Graph) Scale(m *Mat, s float64) *Mat {
	out := NewMat(m.N, m.D)
	for i := range m.W {
		out.W[i] = s * m.W[i]
	}
	g.addBackward(func() {
		for i := range m.W {
			m.Dw[i] += s * out.Dw[i]
		}
	})
	return out
}

// Tanh applies tanh element-wise.
func (g *Graph) Tanh(m *Mat) *Mat {
	out := NewMat(m.N, m.D)
	for i := range m.W {
		out.W[i] = math.Tanh(m.W[i])
	}
	g.addBackward(func() {
		for i := range m.W {
			m.Dw[i] += (1 - out.W[i]*out.W[i]) * out.Dw[i]
		}
	})
	return out
}

// Relu applies max(0, x) element-wise.
func (g *Graph) Relu(m *Mat) *Mat {
	out := NewMat(m.N, m.D)
	for i := range m.W {
		if m.W[i] > 0 {
			out.W[i] = m.W[i]
		}
	}
	g.addBackward(func() {
		for i := range m.W {
			if m.W[i] > 0 {
				m.Dw[i] += out.Dw[i]
			}
		}
	})
	return out
}

// LeakyRelu applies x for x>0 and slope*x otherwise.
func (g *Graph) LeakyRelu(m *Mat, slope float64) *Mat {
	out := NewMat(m.N, m.D)
	for i := range m.W {
		if m.W[i] > 0 {
			out.W[i] = m.W[i]
		} else {
			out.W[i] = slope * m.W[i]
		}
	}
	g.addBackward(func() {
		for i := range m.W {
			if m.W[i] > 0 {
				m.Dw[i] += out.Dw[i]
			} else {
				m.Dw[i] += slope * out.Dw[i]
			}
		}
	})
	return out
}

// Exp applies exp element-wise.
func (g *Graph) Exp(m *Mat) *Mat {
	out := NewMat(m.N, m.D)
	for i := range m.W {
		out.W[i] = math.Exp(m.W[i])
	}
	g.addBackward(func() {
		for i := range m.W {
			m.Dw[i] += out.W[i] * out.Dw[i]
		}
	})
	return out
}

// Dropout zeroes each element with probability rate and rescales the
// survivors by 1/(1-rate). The returned mask is the constant multiplier
// actually applied, so callers can reuse it in derived expressions.
func (g *Graph) Dropout(m *Mat, rate float64, rng *rand.Rand) (*Mat, []float64) {
	mask := make([]float64, len(m.W))
	if rate <= 0 {
		for i := range mask {
			mask[i] = 1
		}
		return g.EltmulConst(m, mask), mask
	}
	keep := 1.0 / (1.0 - rate)
	for i := range mask {
		if rng.Float64() >= rate {
			mask[i] = keep
		}
	}
	return g.EltmulConst(m, mask), mask
}

// SliceRows returns rows [from, to) of m.
func (g *Graph) SliceRows(m *Mat, from, to int) *Mat {
	if from < 0 || to > m.N || from >= to {
		panic(fmt.Sprintf("SliceRows error. range [%v, %v) of %v rows", from, to, m.N))
	}
	out := NewMat(to-from, m.D)
	copy(out.W, m.W[from*m.D:to*m.D])
	g.addBackward(func() {
		for i := range out.W {
			m.Dw[from*m.D+i] += out.Dw[i]
		}
	})
	return out
}

// ConcatRows stacks matrices with equal column counts on top of each other.
func (g *Graph) ConcatRows(ms ...*Mat) *Mat {
	if len(ms) == 0 {
		panic("ConcatRows error. no inputs")
	}
	d := ms[0].D
	n := 0
	for _, m := range ms {
		if m.D != d {
			panic(fmt.Sprintf("ConcatRows error. column counts %v and %v", d, m.D))
		}
		n += m.N
	}
	out := NewMat(n, d)
	row := 0
	for _, m := range ms {
		copy(out.W[row*d:], m.W)
		row += m.N
	}
	g.addBackward(func() {
		row := 0
		for _, m := range ms {
			for i := range m.W {
				m.Dw[i] += out.Dw[row*d+i]
			}
			row += m.N
		}
	})
	return out
}

// PackColumns concatenates each run of pac consecutive columns
// feature-wise: (N x D) becomes (N*pac x D/pac).
func (g *Graph) PackColumns(m *Mat, pac int) *Mat {
	if pac <= 0 || m.D%pac != 0 {
		panic(fmt.Sprintf("PackColumns error. %v columns not divisible by pac (%v)", m.D, pac))
	}
	groups := m.D / pac
	out := NewMat(m.N*pac, groups)
	for i := 0; i < m.N; i++ {
		for j := 0; j < m.D; j++ {
			q := j / pac
			p := j % pac
			out.W[(p*m.N+i)*groups+q] = m.W[i*m.D+j]
		}
	}
	g.addBackward(func() {
		for i := 0; i < m.N; i++ {
			for j := 0; j < m.D; j++ {
				q := j / pac
				p := j % pac
				m.Dw[i*m.D+j] += out.Dw[(p*m.N+i)*groups+q]
			}
		}
	})
	return out
}

// SoftmaxT applies a column-wise softmax with temperature tau across all
// rows of m.
func (g *Graph) SoftmaxT(m *Mat, tau float64) *Mat {
	if tau <= 0 {
		panic(fmt.Sprintf("SoftmaxT error. tau (%v) must be positive", tau))
	}
	out := NewMat(m.N, m.D)
	for j := 0; j < m.D; j++ {
		maxv := math.Inf(-1)
		for i := 0; i < m.N; i++ {
			if v := m.W[i*m.D+j] / tau; v > maxv {
				maxv = v
			}
		}
		sum := 0.0
		for i := 0; i < m.N; i++ {
			e := math.Exp(m.W[i*m.D+j]/tau - maxv)
			out.W[i*m.D+j] = e
			sum += e
		}
		for i := 0; i < m.N; i++ {
			out.W[i*m.D+j] /= sum
		}
	}
	g.addBackward(func() {
		for j := 0; j < m.D; j++ {
			dot := 0.0
			for i := 0; i < m.N; i++ {
				dot += out.Dw[i*m.D+j] * out.W[i*m.D+j]
			}
			for i := 0; i < m.N; i++ {
				m.Dw[i*m.D+j] += out.W[i*m.D+j] * (out.Dw[i*m.D+j] - dot) / tau
			}
		}
	})
	return out
}

// ColNorm returns the per-column L2 norm of m as a (1 x D) matrix.
func (g *Graph) ColNorm(m *Mat) *Mat {
	const eps = 1e-12
	out := NewMat(1, m.D)
	for j := 0; j < m.D; j++ {
		s := 0.0
		for i := 0; i < m.N; i++ {
			s += m.W[i*m.D+j] * m.W[i*m.D+j]
		}
		out.W[j] = math.Sqrt(s + eps)
	}
	g.addBackward(func() {
		for j := 0; j < m.D; j++ {
			d := out.Dw[j] / out.W[j]
			if d == 0 {
				continue
			}
			for i := 0; i < m.N; i++ {
				m.Dw[i*m.D+j] += m.W[i*m.D+j] * d
			}
		}
	})
	return out
}
