package ctgan

import (
	"fmt"
	"math"
	"math/rand"

	"github.com/zhangshuang1224/CTGAN-main/nnet"
)

const (
	criticLeakySlope  = 0.2
	criticDropoutRate = 0.5
)

// Critic scores packed groups of rows (PacGAN). Its input width is
// (row width + cond width) * pac; P consecutive samples are concatenated
// feature-wise before scoring, which lets the critic see mode collapse
// as near-identical rows within a pack. The score is an unconstrained
// real (Wasserstein critic, no sigmoid).
type Critic struct {
	params map[string]*nnet.Mat
	hidden []int
	inDim  int
	pac    int
}

// NewCritic returns a Critic instance.
func NewCritic(inDim, pac int, hidden []int, rng *rand.Rand) *Critic {
	c := &Critic{
		params: make(map[string]*nnet.Mat),
		hidden: hidden,
		inDim:  inDim,
		pac:    pac,
	}
	width := inDim
	for i, h := range hidden {
		c.params[key("dis_w", i)] = nnet.NewRandMat(h, width, math.Sqrt(2.0/float64(width)), rng)
		c.params[key("dis_b", i)] = nnet.NewMat(h, 1)
		width = h
	}
	c.params["dis_wout"] = nnet.NewRandMat(1, width, math.Sqrt(2.0/float64(width)), rng)
	c.params["dis_bout"] = nnet.NewMat(1, 1)
	return c
}

// Params returns the parameter set, exclusively owned by the training
// loop during fitting.
func (c *Critic) Params() map[string]*nnet.Mat { return c.params }

// Pac returns the pack size.
func (c *Critic) Pac() int { return c.pac }

// Forward scores a packed batch (one pack per column).
func (c *Critic) Forward(gr *nnet.Graph, x *nnet.Mat, train bool, rng *rand.Rand) *nnet.Mat {
	score, _ := c.forward(gr, x, train, rng)
	return score
}

// ForwardWithGradNorm scores a packed batch and additionally builds the
// per-pack L2 norm of the critic's gradient with respect to its input.
// The gradient is expressed in closed form with tape ops (transposed
// matmuls through constant activation and dropout masks), so the
// gradient penalty back-propagates into the critic parameters exactly
// the way framework double-backward treats piecewise-linear
// activations.
func (c *Critic) ForwardWithGradNorm(gr *nnet.Graph, x *nnet.Mat, rng *rand.Rand) (*nnet.Mat, *nnet.Mat) {
	score, masks := c.forward(gr, x, true, rng)

	ones := nnet.NewMat(1, x.D)
	for i := range ones.W {
		ones.W[i] = 1
	}
	t := gr.MulT(c.params["dis_wout"], ones)
	for i := len(c.hidden) - 1; i >= 0; i-- {
		t = gr.EltmulConst(t, masks[i])
		t = gr.MulT(c.params[key("dis_w", i)], t)
	}
	return score, gr.ColNorm(t)
}

func (c *Critic) forward(gr *nnet.Graph, x *nnet.Mat, train bool, rng *rand.Rand) (*nnet.Mat, [][]float64) {
	if x.N != c.inDim {
		panic(fmt.Sprintf("Critic.forward error. input has %v features, want %v", x.N, c.inDim))
	}
	h := x
	masks := make([][]float64, len(c.hidden))
	for i := range c.hidden {
		z := gr.AddBias(gr.Mul(c.params[key("dis_w", i)], h), c.params[key("dis_b", i)])
		a := gr.LeakyRelu(z, criticLeakySlope)
		rate := 0.0
		if train {
			rate = criticDropoutRate
		}
		dropped, dropMask := gr.Dropout(a, rate, rng)
		// combined local derivative of leaky-relu + dropout, kept as a
		// constant for the input-gradient expression
		mask := make([]float64, len(z.W))
		for j := range z.W {
			d := 1.0
			if z.W[j] <= 0 {
				d = criticLeakySlope
			}
			mask[j] = d * dropMask[j]
		}
		masks[i] = mask
		h = dropped
	}
	score := gr.AddBias(gr.Mul(c.params["dis_wout"], h), c.params["dis_bout"])
	return score, masks
}
