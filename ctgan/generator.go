package ctgan

import (
	"fmt"
	"math"
	"math/rand"

	"github.com/zhangshuang1224/CTGAN-main/nnet"
)

// Generator maps (noise, conditional vector) to a synthetic transformed
// row. Conditioning enters only by concatenation with the noise before
// the first layer. Each hidden block is a concat-residual:
// cat(relu(batchnorm(linear(h))), h).
type Generator struct {
	params map[string]*nnet.Mat
	bns    []*nnet.BNState
	hidden []int
	inDim  int
	outDim int
}

// NewGenerator returns a Generator instance. inDim is noise width plus
// conditional-vector width; outDim is the transformed row width.
func NewGenerator(inDim int, hidden []int, outDim int, rng *rand.Rand) *Generator {
	g := &Generator{
		params: make(map[string]*nnet.Mat),
		hidden: hidden,
		inDim:  inDim,
		outDim: outDim,
	}
	width := inDim
	for i, h := range hidden {
		g.params[key("gen_w", i)] = nnet.NewRandMat(h, width, math.Sqrt(2.0/float64(width)), rng)
		g.params[key("gen_b", i)] = nnet.NewMat(h, 1)
		gamma := nnet.NewMat(h, 1)
		for j := range gamma.W {
			gamma.W[j] = 1
		}
		g.params[key("gen_gamma", i)] = gamma
		g.params[key("gen_beta", i)] = nnet.NewMat(h, 1)
		g.bns = append(g.bns, nnet.NewBNState(h))
		width += h // residual concat grows the width
	}
	g.params["gen_wout"] = nnet.NewRandMat(outDim, width, math.Sqrt(2.0/float64(width)), rng)
	g.params["gen_bout"] = nnet.NewMat(outDim, 1)
	return g
}

// Params returns the parameter set, exclusively owned by the training
// loop during fitting.
func (g *Generator) Params() map[string]*nnet.Mat { return g.params }

// Forward produces the raw (pre-activation) output for a batch laid out
// as one sample per column.
func (g *Generator) Forward(gr *nnet.Graph, input *nnet.Mat, train bool) *nnet.Mat {
	if input.N != g.inDim {
		panic(fmt.Sprintf("Generator.Forward error. input has %v features, want %v", input.N, g.inDim))
	}
	h := input
	for i := range g.hidden {
		lin := gr.AddBias(gr.Mul(g.params[key("gen_w", i)], h), g.params[key("gen_b", i)])
		bn := gr.BatchNorm(lin, g.params[key("gen_gamma", i)], g.params[key("gen_beta", i)], g.bns[i], train)
		h = gr.ConcatRows(gr.Relu(bn), h)
	}
	return gr.AddBias(gr.Mul(g.params["gen_wout"], h), g.params["gen_bout"])
}

// ApplyActivations maps raw generator output through the per-block
// output activations: tanh for continuous mode scalars and a
// gumbel-softmax (temperature tau) for every one-hot block, so gradients
// flow through category choices during training. Downstream argmax
// hardens the one-hot blocks at export time.
func ApplyActivations(gr *nnet.Graph, raw *nnet.Mat, metas []ColumnMeta, tau float64, rng *rand.Rand) *nnet.Mat {
	parts := []*nnet.Mat{}
	for j := range metas {
		meta := &metas[j]
		if meta.Kind == KindContinuous {
			scalar := gr.Tanh(gr.SliceRows(raw, meta.Offset, meta.Offset+1))
			selector := gumbelSoftmax(gr, gr.SliceRows(raw, meta.Offset+1, meta.Offset+meta.Width), tau, rng)
			parts = append(parts, scalar, selector)
			continue
		}
		parts = append(parts, gumbelSoftmax(gr, gr.SliceRows(raw, meta.Offset, meta.Offset+meta.Width), tau, rng))
	}
	return gr.ConcatRows(parts...)
}

func gumbelSoftmax(gr *nnet.Graph, logits *nnet.Mat, tau float64, rng *rand.Rand) *nnet.Mat {
	noise := make([]float64, logits.N*logits.D)
	for i := range noise {
		u := rng.Float64()
		for u == 0 {
			u = rng.Float64()
		}
		noise[i] = -math.Log(-math.Log(u))
	}
	return gr.SoftmaxT(gr.AddConst(logits, noise), tau)
}

func key(prefix string, i int) string { return fmt.Sprintf("%s%d", prefix, i) }
