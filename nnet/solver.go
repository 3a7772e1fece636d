package nnet

import (
	"math"
	"sort"
)

// SolverAdam is an Adam optimizer with decoupled weight decay. Each
// network carries its own solver so the two adversaries never share
// optimizer state.
type SolverAdam struct {
	LR    float64
	Beta1 float64
	Beta2 float64
	Eps   float64
	WD    float64
	T     int
	M     map[string][]float64
	V     map[string][]float64
}

// NewSolverAdam returns a SolverAdam instance.
func NewSolverAdam(lr, beta1, beta2, weightDecay float64) *SolverAdam {
	return &SolverAdam{
		LR:    lr,
		Beta1: beta1,
		Beta2: beta2,
		Eps:   1e-8,
		WD:    weightDecay,
		M:     make(map[string][]float64),
		V:     make(map[string][]float64),
	}
}

// Step applies one Adam update to every parameter and clears its
// gradients. Keys are visited in sorted order so updates are
// reproducible.
func (s *SolverAdam) Step(params map[string]*Mat) {
	s.T++
	t := float64(s.T)
	lrT := s.LR * math.Sqrt(1.0-math.Pow(s.Beta2, t)) / (1.0 - math.Pow(s.Beta1, t))

	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		p := params[k]
		m, ok := s.M[k]
		if !ok || len(m) != len(p.W) {
			m = make([]float64, len(p.W))
			s.M[k] = m
		}
		v, ok := s.V[k]
		if !ok || len(v) != len(p.W) {
			v = make([]float64, len(p.W))
			s.V[k] = v
		}
		for i := range p.W {
			grad := p.Dw[i]
			if math.IsNaN(grad) || math.IsInf(grad, 0) {
				grad = 0
			}
			m[i] = s.Beta1*m[i] + (1.0-s.Beta1)*grad
			v[i] = s.Beta2*v[i] + (1.0-s.Beta2)*grad*grad
			p.W[i] -= lrT * m[i] / (math.Sqrt(v[i]) + s.Eps)
			if s.WD != 0 {
				p.W[i] -= s.LR * s.WD * p.W[i]
			}
		}
		p.ZeroGrads()
	}
}

// ZeroGrads clears the gradients of every parameter without stepping.
func ZeroGrads(params map[string]*Mat) {
	for _, p := range params {
		p.ZeroGrads()
	}
}
