// Package gmm fits bounded one-dimensional Gaussian mixtures. It is the
// normalization backend for continuous columns: callers hand it a column
// of values and a maximum component count, and get back per-component
// (weight, mean, std) triples with weights summing to 1.
package gmm

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"
)

const (
	maxIterations = 100
	tolerance     = 1e-6
	stdFloor      = 1e-6
	// components below this weight are treated as unused and pruned,
	// mimicking the effective-component behavior of a variational fit.
	weightFloor = 0.005
)

// Model is a fitted mixture. Weights sum to 1.
type Model struct {
	Weights []float64
	Means   []float64
	Stds    []float64
}

// NumComponents returns the number of retained components.
func (m Model) NumComponents() int { return len(m.Weights) }

// Fit runs EM on values with at most maxComponents gaussians. The fit is
// deterministic: components are seeded from quantiles of the sorted data.
func Fit(values []float64, maxComponents int) (Model, error) {
	if len(values) == 0 {
		return Model{}, errors.New("gmm: no values to fit")
	}
	if maxComponents < 1 {
		return Model{}, fmt.Errorf("gmm: maxComponents (%v) must be >= 1", maxComponents)
	}
	for _, v := range values {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return Model{}, errors.New("gmm: values contain non-finite entries")
		}
	}

	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	k := maxComponents
	if distinct := countDistinct(sorted); distinct < k {
		k = distinct
	}

	mean := stat.Mean(values, nil)
	std := stat.StdDev(values, nil)
	if math.IsNaN(std) || std < stdFloor {
		std = stdFloor
	}
	if k == 1 {
		return Model{Weights: []float64{1}, Means: []float64{mean}, Stds: []float64{std}}, nil
	}

	model := Model{
		Weights: make([]float64, k),
		Means:   make([]float64, k),
		Stds:    make([]float64, k),
	}
	for c := 0; c < k; c++ {
		model.Weights[c] = 1.0 / float64(k)
		// quantile seed: spread the initial means across the data range
		q := float64(2*c+1) / float64(2*k)
		model.Means[c] = stat.Quantile(q, stat.Empirical, sorted, nil)
		model.Stds[c] = std
	}

	resp := make([]float64, k)
	sumResp := make([]float64, k)
	sumX := make([]float64, k)
	sumXX := make([]float64, k)
	prevLL := math.Inf(-1)
	for iter := 0; iter < maxIterations; iter++ {
		for c := 0; c < k; c++ {
			sumResp[c] = 0
			sumX[c] = 0
			sumXX[c] = 0
		}
		ll := 0.0
		for _, v := range values {
			model.responsibilities(v, resp)
			total := 0.0
			for c := 0; c < k; c++ {
				total += model.Weights[c] * distuv.Normal{Mu: model.Means[c], Sigma: model.Stds[c]}.Prob(v)
			}
			ll += math.Log(total + math.SmallestNonzeroFloat64)
			for c := 0; c < k; c++ {
				sumResp[c] += resp[c]
				sumX[c] += resp[c] * v
				sumXX[c] += resp[c] * v * v
			}
		}
		n := float64(len(values))
		for c := 0; c < k; c++ {
			if sumResp[c] < math.SmallestNonzeroFloat64 {
				model.Weights[c] = 0
				continue
			}
			model.Weights[c] = sumResp[c] / n
			model.Means[c] = sumX[c] / sumResp[c]
			variance := sumXX[c]/sumResp[c] - model.Means[c]*model.Means[c]
			if variance < stdFloor*stdFloor {
				variance = stdFloor * stdFloor
			}
			model.Stds[c] = math.Sqrt(variance)
		}
		if math.Abs(ll-prevLL) < tolerance*math.Abs(ll) {
			break
		}
		prevLL = ll
	}

	return model.prune(), nil
}

// Posterior fills out with the normalized component responsibilities for v.
func (m Model) Posterior(v float64, out []float64) {
	if len(out) != len(m.Weights) {
		panic(fmt.Sprintf("gmm: Posterior buffer length (%v) != components (%v)", len(out), len(m.Weights)))
	}
	m.responsibilities(v, out)
}

func (m Model) responsibilities(v float64, out []float64) {
	total := 0.0
	for c := range m.Weights {
		out[c] = m.Weights[c] * distuv.Normal{Mu: m.Means[c], Sigma: m.Stds[c]}.Prob(v)
		total += out[c]
	}
	if total < math.SmallestNonzeroFloat64 {
		// v is far outside all components; fall back to the closest mean
		best := 0
		for c := range m.Means {
			if math.Abs(v-m.Means[c]) < math.Abs(v-m.Means[best]) {
				best = c
			}
		}
		for c := range out {
			out[c] = 0
		}
		out[best] = 1
		return
	}
	for c := range out {
		out[c] /= total
	}
}

func (m Model) prune() Model {
	kept := Model{}
	for c := range m.Weights {
		if m.Weights[c] >= weightFloor {
			kept.Weights = append(kept.Weights, m.Weights[c])
			kept.Means = append(kept.Means, m.Means[c])
			kept.Stds = append(kept.Stds, m.Stds[c])
		}
	}
	if len(kept.Weights) == 0 {
		best := floats.MaxIdx(m.Weights)
		kept.Weights = []float64{1}
		kept.Means = []float64{m.Means[best]}
		kept.Stds = []float64{m.Stds[best]}
		return kept
	}
	total := floats.Sum(kept.Weights)
	for c := range kept.Weights {
		kept.Weights[c] /= total
	}
	return kept
}

func countDistinct(sorted []float64) int {
	n := 0
	for i, v := range sorted {
		if i == 0 || v != sorted[i-1] {
			n++
		}
	}
	return n
}
