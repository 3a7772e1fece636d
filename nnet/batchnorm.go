package nnet

import (
	"fmt"
	"math"
)

// BNState holds the running statistics of one batch-normalization layer.
type BNState struct {
	RunningMean []float64
	RunningVar  []float64
	Momentum    float64
	Eps         float64
}

// NewBNState returns a BNState instance for n features.
func NewBNState(n int) *BNState {
	st := &BNState{
		RunningMean: make([]float64, n),
		RunningVar:  make([]float64, n),
		Momentum:    0.1,
		Eps:         1e-5,
	}
	for i := range st.RunningVar {
		st.RunningVar[i] = 1
	}
	return st
}

// BatchNorm normalizes each feature over the batch dimension. In train
// mode it uses batch statistics and updates the running estimates; in
// eval mode it uses the running estimates.
func (g *Graph) BatchNorm(m, gamma, beta *Mat, st *BNState, train bool) *Mat {
	if gamma.N != m.N || beta.N != m.N || len(st.RunningMean) != m.N {
		panic(fmt.Sprintf("BatchNorm error. m has %v features, gamma %v, beta %v, state %v",
			m.N, gamma.N, beta.N, len(st.RunningMean)))
	}
	out := NewMat(m.N, m.D)
	if !train || m.D == 1 {
		for i := 0; i < m.N; i++ {
			invstd := 1.0 / math.Sqrt(st.RunningVar[i]+st.Eps)
			for j := 0; j < m.D; j++ {
				xhat := (m.W[i*m.D+j] - st.RunningMean[i]) * invstd
				out.W[i*m.D+j] = gamma.W[i]*xhat + beta.W[i]
			}
		}
		g.addBackward(func() {
			for i := 0; i < m.N; i++ {
				invstd := 1.0 / math.Sqrt(st.RunningVar[i]+st.Eps)
				for j := 0; j < m.D; j++ {
					d := out.Dw[i*m.D+j]
					xhat := (m.W[i*m.D+j] - st.RunningMean[i]) * invstd
					gamma.Dw[i] += d * xhat
					beta.Dw[i] += d
					m.Dw[i*m.D+j] += d * gamma.W[i] * invstd
				}
			}
		})
		return out
	}

	dn := float64(m.D)
	xhat := make([]float64, len(m.W))
	invstds := make([]float64, m.N)
	for i := 0; i < m.N; i++ {
		mean := 0.0
		for j := 0; j < m.D; j++ {
			mean += m.W[i*m.D+j]
		}
		mean /= dn
		variance := 0.0
		for j := 0; j < m.D; j++ {
			dv := m.W[i*m.D+j] - mean
			variance += dv * dv
		}
		variance /= dn
		invstd := 1.0 / math.Sqrt(variance+st.Eps)
		invstds[i] = invstd
		for j := 0; j < m.D; j++ {
			xhat[i*m.D+j] = (m.W[i*m.D+j] - mean) * invstd
			out.W[i*m.D+j] = gamma.W[i]*xhat[i*m.D+j] + beta.W[i]
		}
		unbiased := variance
		if m.D > 1 {
			unbiased = variance * dn / (dn - 1)
		}
		st.RunningMean[i] = (1-st.Momentum)*st.RunningMean[i] + st.Momentum*mean
		st.RunningVar[i] = (1-st.Momentum)*st.RunningVar[i] + st.Momentum*unbiased
	}
	g.addBackward(func() {
		for i := 0; i < m.N; i++ {
			sumD := 0.0
			sumDX := 0.0
			for j := 0; j < m.D; j++ {
				d := out.Dw[i*m.D+j]
				gamma.Dw[i] += d * xhat[i*m.D+j]
				beta.Dw[i] += d
				sumD += d
				sumDX += d * xhat[i*m.D+j]
			}
			for j := 0; j < m.D; j++ {
				d := out.Dw[i*m.D+j]
				m.Dw[i*m.D+j] += gamma.W[i] * invstds[i] / dn *
					(dn*d - sumD - xhat[i*m.D+j]*sumDX)
			}
		}
	})
	return out
}
