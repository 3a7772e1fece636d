package ctgan

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"

	"github.com/cheggaaa/pb/v3"
	"go.uber.org/zap"
	"gonum.org/v1/gonum/mat"

	"github.com/zhangshuang1224/CTGAN-main/nnet"
)

const (
	tvaeLR          = 1e-3
	tvaeBeta1       = 0.9
	tvaeBeta2       = 0.999
	tvaeWeightDecay = 1e-5
	tvaeLossFactor  = 2.0
	sigmaMin        = 0.01
	sigmaMax        = 1.0
)

// TVAE is a variational-autoencoder synthesizer over the same
// transformed representation as CTGAN: an encoder maps transformed rows
// to a gaussian latent, a decoder reconstructs rows with a learned
// per-feature output deviation for the continuous scalars.
type TVAE struct {
	cfg Config

	transformer *DataTransformer
	rng         *rand.Rand

	params map[string]*nnet.Mat
	sigma  *nnet.Mat

	dataWidth int
	fitted    bool
	Diverged  bool
}

// NewTVAE returns a TVAE instance, or a ConfigError for invalid
// hyperparameter combinations.
func NewTVAE(cfg Config) (*TVAE, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &TVAE{cfg: cfg, rng: rand.New(rand.NewSource(cfg.Seed))}, nil
}

// Fitted reports whether the model holds trained parameters.
func (t *TVAE) Fitted() bool { return t.fitted }

// Metas returns the fitted column metadata.
func (t *TVAE) Metas() []ColumnMeta {
	if t.transformer == nil {
		return nil
	}
	return t.transformer.Metas()
}

func (t *TVAE) buildEncoder() {
	width := t.dataWidth
	for i, h := range t.cfg.GeneratorDims {
		t.params[key("enc_w", i)] = nnet.NewRandMat(h, width, math.Sqrt(2.0/float64(width)), t.rng)
		t.params[key("enc_b", i)] = nnet.NewMat(h, 1)
		width = h
	}
	t.params["enc_wmu"] = nnet.NewRandMat(t.cfg.EmbeddingDim, width, math.Sqrt(2.0/float64(width)), t.rng)
	t.params["enc_bmu"] = nnet.NewMat(t.cfg.EmbeddingDim, 1)
	t.params["enc_wlv"] = nnet.NewRandMat(t.cfg.EmbeddingDim, width, math.Sqrt(2.0/float64(width)), t.rng)
	t.params["enc_blv"] = nnet.NewMat(t.cfg.EmbeddingDim, 1)
}

func (t *TVAE) buildDecoder() {
	if t.params == nil {
		t.params = make(map[string]*nnet.Mat)
	}
	width := t.cfg.EmbeddingDim
	for i, h := range t.cfg.GeneratorDims {
		t.params[key("dec_w", i)] = nnet.NewRandMat(h, width, math.Sqrt(2.0/float64(width)), t.rng)
		t.params[key("dec_b", i)] = nnet.NewMat(h, 1)
		width = h
	}
	t.params["dec_wout"] = nnet.NewRandMat(t.dataWidth, width, math.Sqrt(2.0/float64(width)), t.rng)
	t.params["dec_bout"] = nnet.NewMat(t.dataWidth, 1)
	t.sigma = nnet.NewMat(t.dataWidth, 1)
	for i := range t.sigma.W {
		t.sigma.W[i] = 0.1
	}
}

func (t *TVAE) decoderParams() map[string]*nnet.Mat {
	out := make(map[string]*nnet.Mat)
	for k, m := range t.params {
		if len(k) >= 4 && k[:4] == "dec_" {
			out[k] = m
		}
	}
	return out
}

func (t *TVAE) encode(gr *nnet.Graph, x *nnet.Mat) (*nnet.Mat, *nnet.Mat) {
	h := x
	for i := range t.cfg.GeneratorDims {
		h = gr.Relu(gr.AddBias(gr.Mul(t.params[key("enc_w", i)], h), t.params[key("enc_b", i)]))
	}
	mu := gr.AddBias(gr.Mul(t.params["enc_wmu"], h), t.params["enc_bmu"])
	logvar := gr.AddBias(gr.Mul(t.params["enc_wlv"], h), t.params["enc_blv"])
	return mu, logvar
}

func (t *TVAE) decode(gr *nnet.Graph, z *nnet.Mat) *nnet.Mat {
	h := z
	for i := range t.cfg.GeneratorDims {
		h = gr.Relu(gr.AddBias(gr.Mul(t.params[key("dec_w", i)], h), t.params[key("dec_b", i)]))
	}
	return gr.AddBias(gr.Mul(t.params["dec_wout"], h), t.params["dec_bout"])
}

// Fit trains the autoencoder on dc. The context is checked between
// epochs.
func (t *TVAE) Fit(ctx context.Context, dc *DataContainer, discreteColumns []string) error {
	t.transformer = NewDataTransformer(t.cfg.MaxModes, t.cfg.Seed)
	if err := t.transformer.Fit(dc, discreteColumns); err != nil {
		return err
	}
	data, err := t.transformer.Transform(dc, OOVError)
	if err != nil {
		return err
	}
	t.dataWidth = t.transformer.Width()
	t.params = make(map[string]*nnet.Mat)
	t.buildEncoder()
	t.buildDecoder()
	t.params["sigma"] = t.sigma
	t.fitted = true
	t.Diverged = false

	solver := nnet.NewSolverAdam(tvaeLR, tvaeBeta1, tvaeBeta2, tvaeWeightDecay)
	rows, _ := data.Dims()
	steps := rows / t.cfg.BatchSize
	if steps < 1 {
		steps = 1
	}

	var bar *pb.ProgressBar
	if t.cfg.Verbose {
		bar = pb.StartNew(t.cfg.Epochs)
		defer bar.Finish()
	}
	for epoch := 0; epoch < t.cfg.Epochs; epoch++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		var loss float64
		for step := 0; step < steps; step++ {
			loss, err = t.trainStep(solver, data, rows, epoch, step)
			if err != nil {
				t.Diverged = true
				return err
			}
		}
		t.cfg.Logger.Info("epoch finished", zap.Int("epoch", epoch), zap.Float64("loss", loss))
		if bar != nil {
			bar.Increment()
		}
	}
	return nil
}

func (t *TVAE) trainStep(solver *nnet.SolverAdam, data *mat.Dense, rows, epoch, step int) (float64, error) {
	b := t.cfg.BatchSize
	w := t.dataWidth
	x := make([]float64, w*b)
	for j := 0; j < b; j++ {
		row := data.RawRowView(t.rng.Intn(rows))
		for i := 0; i < w; i++ {
			x[i*b+j] = row[i]
		}
	}
	xm := nnet.NewConstMat(w, b, x)

	gr := nnet.NewGraph(true)
	mu, logvar := t.encode(gr, xm)
	std := gr.Exp(gr.Scale(logvar, 0.5))
	eps := make([]float64, len(std.W))
	for i := range eps {
		eps[i] = t.rng.NormFloat64()
	}
	z := gr.Add(mu, gr.Eltmul(std, nnet.NewConstMat(std.N, std.D, eps)))
	rec := t.decode(gr, z)

	recon := t.seedReconstruction(gr, rec, xm, b)
	kld := t.seedKLD(mu, logvar, b)
	loss := recon + kld
	if !finite(loss) {
		return 0, &DivergenceError{Epoch: epoch, Step: step, Loss: "elbo", Value: loss}
	}
	gr.Backward()
	solver.Step(t.params)
	for i := range t.sigma.W {
		t.sigma.W[i] = clip(t.sigma.W[i], sigmaMin, sigmaMax)
	}
	return loss, nil
}

// seedReconstruction writes the reconstruction gradients onto the
// decoder output and the sigma parameter, returning the loss value.
// Continuous scalars use a gaussian likelihood against tanh(rec) with
// learned deviation; every one-hot block uses cross-entropy against the
// argmax of the input block.
func (t *TVAE) seedReconstruction(gr *nnet.Graph, rec, xm *nnet.Mat, b int) float64 {
	metas := t.transformer.Metas()
	inv := 1.0 / float64(b)
	total := 0.0
	for ci := range metas {
		meta := &metas[ci]
		if meta.Kind == KindContinuous {
			off := meta.Offset
			sg := clip(t.sigma.W[off], sigmaMin, sigmaMax)
			th := gr.Tanh(gr.SliceRows(rec, off, off+1))
			for j := 0; j < b; j++ {
				eq := xm.W[off*b+j] - th.W[j]
				total += tvaeLossFactor * (eq*eq/(2*sg*sg) + math.Log(sg)) * inv
				th.Dw[j] += tvaeLossFactor * (th.W[j] - xm.W[off*b+j]) / (sg * sg) * inv
				t.sigma.Dw[off] += tvaeLossFactor * (1/sg - eq*eq/(sg*sg*sg)) * inv
			}
			total += t.seedCrossEntropy(rec, xm, off+1, meta.Width-1, b)
			continue
		}
		total += t.seedCrossEntropy(rec, xm, meta.Offset, meta.Width, b)
	}
	return total
}

func (t *TVAE) seedCrossEntropy(rec, xm *nnet.Mat, off, k, b int) float64 {
	inv := 1.0 / float64(b)
	total := 0.0
	probs := make([]float64, k)
	for j := 0; j < b; j++ {
		target := 0
		maxv := math.Inf(-1)
		for i := 0; i < k; i++ {
			if xm.W[(off+i)*b+j] > xm.W[(off+target)*b+j] {
				target = i
			}
			if v := rec.W[(off+i)*b+j]; v > maxv {
				maxv = v
			}
		}
		sum := 0.0
		for i := 0; i < k; i++ {
			probs[i] = math.Exp(rec.W[(off+i)*b+j] - maxv)
			sum += probs[i]
		}
		for i := 0; i < k; i++ {
			probs[i] /= sum
			tv := 0.0
			if i == target {
				tv = 1
			}
			rec.Dw[(off+i)*b+j] += (probs[i] - tv) * inv
		}
		total += -math.Log(probs[target]+math.SmallestNonzeroFloat64) * inv
	}
	return total
}

// seedKLD writes the KL-divergence gradients onto mu and logvar,
// returning the loss value.
func (t *TVAE) seedKLD(mu, logvar *nnet.Mat, b int) float64 {
	inv := 1.0 / float64(b)
	total := 0.0
	for i := range mu.W {
		ev := math.Exp(logvar.W[i])
		total += -0.5 * (1 + logvar.W[i] - mu.W[i]*mu.W[i] - ev) * inv
		mu.Dw[i] += mu.W[i] * inv
		logvar.Dw[i] += -0.5 * (1 - ev) * inv
	}
	return total
}

// Sample draws n synthetic rows by decoding standard-normal latents.
func (t *TVAE) Sample(n int) (*DataContainer, error) {
	if !t.fitted {
		return nil, errors.New("tvae: model is not fitted")
	}
	if n <= 0 {
		return nil, fmt.Errorf("tvae: sample count (%v) must be positive", n)
	}
	b := t.cfg.BatchSize
	steps := n/b + 1
	metas := t.transformer.Metas()

	data := mat.NewDense(steps*b, t.dataWidth, nil)
	for s := 0; s < steps; s++ {
		zv := make([]float64, t.cfg.EmbeddingDim*b)
		for i := range zv {
			zv[i] = t.rng.NormFloat64()
		}
		gr := nnet.NewGraph(false)
		rec := t.decode(gr, nnet.NewConstMat(t.cfg.EmbeddingDim, b, zv))
		for j := 0; j < b; j++ {
			for ci := range metas {
				meta := &metas[ci]
				if meta.Kind == KindContinuous {
					data.Set(s*b+j, meta.Offset, math.Tanh(rec.W[meta.Offset*b+j]))
					for i := 1; i < meta.Width; i++ {
						data.Set(s*b+j, meta.Offset+i, rec.W[(meta.Offset+i)*b+j])
					}
					continue
				}
				for i := 0; i < meta.Width; i++ {
					data.Set(s*b+j, meta.Offset+i, rec.W[(meta.Offset+i)*b+j])
				}
			}
		}
	}
	full := t.transformer.InverseTransform(data)
	full.Rows = full.Rows[:n]
	full.Size = n
	return full, nil
}
