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

// Config holds the synthesizer hyperparameters.
type Config struct {
	EmbeddingDim  int
	GeneratorDims []int
	CriticDims    []int
	Epochs        int
	BatchSize     int
	Pac           int

	GeneratorLR float64
	CriticLR    float64
	Beta1       float64
	Beta2       float64
	WeightDecay float64

	GradPenaltyLambda float64
	Tau               float64
	MaxModes          int

	Seed    int64
	Verbose bool
	Logger  *zap.Logger `json:"-"`
}

// DefaultConfig returns the standard CTGAN hyperparameters.
func DefaultConfig() Config {
	return Config{
		EmbeddingDim:      128,
		GeneratorDims:     []int{256, 256},
		CriticDims:        []int{256, 256},
		Epochs:            300,
		BatchSize:         500,
		Pac:               10,
		GeneratorLR:       2e-4,
		CriticLR:          2e-4,
		Beta1:             0.5,
		Beta2:             0.9,
		WeightDecay:       1e-6,
		GradPenaltyLambda: 10,
		Tau:               0.2,
		MaxModes:          10,
		Seed:              1,
	}
}

func (cfg *Config) validate() error {
	if cfg.Epochs <= 0 {
		return &ConfigError{Reason: fmt.Sprintf("epochs (%v) must be positive", cfg.Epochs)}
	}
	if cfg.BatchSize <= 0 {
		return &ConfigError{Reason: fmt.Sprintf("batch size (%v) must be positive", cfg.BatchSize)}
	}
	if cfg.BatchSize%2 != 0 {
		return &ConfigError{Reason: fmt.Sprintf("batch size (%v) must be even", cfg.BatchSize)}
	}
	if cfg.Pac <= 0 {
		return &ConfigError{Reason: fmt.Sprintf("pac (%v) must be positive", cfg.Pac)}
	}
	if cfg.BatchSize%cfg.Pac != 0 {
		return &ConfigError{Reason: fmt.Sprintf("batch size (%v) must be divisible by pac (%v)", cfg.BatchSize, cfg.Pac)}
	}
	if cfg.EmbeddingDim <= 0 {
		return &ConfigError{Reason: fmt.Sprintf("embedding dimension (%v) must be positive", cfg.EmbeddingDim)}
	}
	if cfg.MaxModes < 1 {
		return &ConfigError{Reason: fmt.Sprintf("max modes (%v) must be >= 1", cfg.MaxModes)}
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return nil
}

// Synthesizer is a tabular generative model: fit on a raw table, then
// sample synthetic tables with the same schema.
type Synthesizer interface {
	Fit(ctx context.Context, dc *DataContainer, discreteColumns []string) error
	Sample(n int) (*DataContainer, error)
	Save(filePath string, saveFormat string) error
}

// GenerateSynthesizer returns a Synthesizer instance by model name.
func GenerateSynthesizer(modelName string, cfg Config) (Synthesizer, bool) {
	switch modelName {
	case "ctgan":
		model, err := NewCTGAN(cfg)
		if err != nil {
			return nil, false
		}
		return model, true
	case "tvae":
		model, err := NewTVAE(cfg)
		if err != nil {
			return nil, false
		}
		return model, true
	}
	return nil, false
}

// CTGAN is a conditional GAN synthesizer for mixed-type tabular data.
type CTGAN struct {
	cfg Config

	transformer *DataTransformer
	sampler     *DataSampler
	generator   *Generator
	critic      *Critic
	rng         *rand.Rand

	dataWidth int
	condWidth int

	fitted bool
	// Diverged flags that training aborted on a non-finite loss; the
	// parameters of the last finite step are still loaded.
	Diverged bool
}

// NewCTGAN returns a CTGAN instance, or a ConfigError for invalid
// hyperparameter combinations.
func NewCTGAN(cfg Config) (*CTGAN, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &CTGAN{cfg: cfg, rng: rand.New(rand.NewSource(cfg.Seed))}, nil
}

// Fitted reports whether the model holds trained parameters.
func (c *CTGAN) Fitted() bool { return c.fitted }

// Metas returns the fitted column metadata.
func (c *CTGAN) Metas() []ColumnMeta {
	if c.transformer == nil {
		return nil
	}
	return c.transformer.Metas()
}

// Fit trains the synthesizer on dc. Columns named in discreteColumns are
// treated as discrete, all others as continuous. The context is checked
// between epochs; cancelling leaves the last completed epoch's
// parameters on the model.
func (c *CTGAN) Fit(ctx context.Context, dc *DataContainer, discreteColumns []string) error {
	c.transformer = NewDataTransformer(c.cfg.MaxModes, c.cfg.Seed)
	if err := c.transformer.Fit(dc, discreteColumns); err != nil {
		return err
	}
	data, err := c.transformer.Transform(dc, OOVError)
	if err != nil {
		return err
	}
	c.sampler = NewDataSampler(data, c.transformer.Metas(), c.rng)
	c.dataWidth = c.transformer.Width()
	c.condWidth = c.sampler.CondVecWidth()

	c.generator = NewGenerator(c.cfg.EmbeddingDim+c.condWidth, c.cfg.GeneratorDims, c.dataWidth, c.rng)
	c.critic = NewCritic((c.dataWidth+c.condWidth)*c.cfg.Pac, c.cfg.Pac, c.cfg.CriticDims, c.rng)
	c.fitted = true
	c.Diverged = false

	solverG := nnet.NewSolverAdam(c.cfg.GeneratorLR, c.cfg.Beta1, c.cfg.Beta2, c.cfg.WeightDecay)
	solverD := nnet.NewSolverAdam(c.cfg.CriticLR, c.cfg.Beta1, c.cfg.Beta2, c.cfg.WeightDecay)

	steps := c.sampler.NumRows() / c.cfg.BatchSize
	if steps < 1 {
		steps = 1
	}

	var bar *pb.ProgressBar
	if c.cfg.Verbose {
		bar = pb.StartNew(c.cfg.Epochs)
		defer bar.Finish()
	}
	for epoch := 0; epoch < c.cfg.Epochs; epoch++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		var lossD, lossG, lossCE float64
		for step := 0; step < steps; step++ {
			lossD, err = c.criticStep(solverD, epoch, step)
			if err != nil {
				c.Diverged = true
				return err
			}
			lossG, lossCE, err = c.generatorStep(solverG, epoch, step)
			if err != nil {
				c.Diverged = true
				return err
			}
		}
		c.cfg.Logger.Info("epoch finished",
			zap.Int("epoch", epoch),
			zap.Float64("critic_loss", lossD),
			zap.Float64("generator_loss", lossG),
			zap.Float64("conditional_loss", lossCE))
		if bar != nil {
			bar.Increment()
		}
	}
	return nil
}

func (c *CTGAN) criticStep(solver *nnet.SolverAdam, epoch, step int) (float64, error) {
	b := c.cfg.BatchSize
	pac := c.cfg.Pac
	groups := b / pac
	metas := c.transformer.Metas()

	cb := c.sampler.SampleCondVec(b)

	// fake rows come from a no-backprop pass: the generator is frozen
	// during the critic update
	forward := nnet.NewGraph(false)
	input := c.genInput(forward, cb, b)
	raw := c.generator.Forward(forward, input, true)
	fakeAct := ApplyActivations(forward, raw, metas, c.cfg.Tau, c.rng)

	var perm []int
	var condFake, condReal []float64
	if cb != nil {
		perm = c.rng.Perm(b)
		condFake = condMatrix(cb, c.condWidth, nil)
		condReal = condMatrix(cb, c.condWidth, perm)
	}
	realRows := c.sampler.SampleRows(cb, perm, b)

	packedFake := packColumnsData(appendCond(fakeAct.W, condFake, c.dataWidth, c.condWidth, b), c.dataWidth+c.condWidth, b, pac)
	packedReal := packColumnsData(appendCond(flattenRows(realRows, c.dataWidth, b), condReal, c.dataWidth, c.condWidth, b), c.dataWidth+c.condWidth, b, pac)

	interp := nnet.NewMat(packedReal.N, groups)
	for q := 0; q < groups; q++ {
		alpha := c.rng.Float64()
		for i := 0; i < packedReal.N; i++ {
			interp.W[i*groups+q] = alpha*packedReal.W[i*groups+q] + (1-alpha)*packedFake.W[i*groups+q]
		}
	}

	gr := nnet.NewGraph(true)
	scoreFake := c.critic.Forward(gr, packedFake, true, c.rng)
	scoreReal := c.critic.Forward(gr, packedReal, true, c.rng)
	_, gradNorm := c.critic.ForwardWithGradNorm(gr, interp, c.rng)

	loss := meanRow(scoreFake.W) - meanRow(scoreReal.W)
	penalty := 0.0
	for q := 0; q < groups; q++ {
		d := gradNorm.W[q] - 1
		penalty += d * d
	}
	penalty *= c.cfg.GradPenaltyLambda / float64(groups)
	if !finite(loss + penalty) {
		return 0, &DivergenceError{Epoch: epoch, Step: step, Loss: "critic", Value: loss + penalty}
	}

	inv := 1.0 / float64(groups)
	for q := 0; q < groups; q++ {
		scoreFake.Dw[q] = inv
		scoreReal.Dw[q] = -inv
		gradNorm.Dw[q] = 2 * c.cfg.GradPenaltyLambda * (gradNorm.W[q] - 1) * inv
	}
	gr.Backward()
	solver.Step(c.critic.Params())
	return loss + penalty, nil
}

func (c *CTGAN) generatorStep(solver *nnet.SolverAdam, epoch, step int) (float64, float64, error) {
	b := c.cfg.BatchSize
	pac := c.cfg.Pac
	groups := b / pac
	metas := c.transformer.Metas()

	cb := c.sampler.SampleCondVec(b)

	gr := nnet.NewGraph(true)
	input := c.genInput(gr, cb, b)
	raw := c.generator.Forward(gr, input, true)
	fakeAct := ApplyActivations(gr, raw, metas, c.cfg.Tau, c.rng)

	full := fakeAct
	if cb != nil {
		cond := nnet.NewConstMat(c.condWidth, b, condMatrix(cb, c.condWidth, nil))
		full = gr.ConcatRows(fakeAct, cond)
	}
	packed := gr.PackColumns(full, pac)
	score := c.critic.Forward(gr, packed, true, c.rng)

	adv := -meanRow(score.W)
	ce := c.conditionalLoss(raw, cb, b)
	if !finite(adv + ce) {
		return 0, 0, &DivergenceError{Epoch: epoch, Step: step, Loss: "generator", Value: adv + ce}
	}

	inv := 1.0 / float64(groups)
	for q := 0; q < groups; q++ {
		score.Dw[q] = -inv
	}
	gr.Backward()
	solver.Step(c.generator.Params())
	// the critic accumulated gradients on this tape but must not move
	nnet.ZeroGrads(c.critic.Params())
	return adv + ce, ce, nil
}

// conditionalLoss computes the cross-entropy between the generator's raw
// logits at the conditioned discrete block and the conditioning target,
// masked so only the conditioned column contributes. It seeds the
// gradient directly on raw.
func (c *CTGAN) conditionalLoss(raw *nnet.Mat, cb *CondBatch, b int) float64 {
	if cb == nil {
		return 0
	}
	metas := c.transformer.Metas()
	spans := condSpans(metas)
	total := 0.0
	inv := 1.0 / float64(b)
	for j := 0; j < b; j++ {
		meta := &metas[spans[cb.ColIdx[j]].metaIdx]
		off := meta.Offset
		k := meta.Width
		maxv := math.Inf(-1)
		for i := 0; i < k; i++ {
			if v := raw.W[(off+i)*b+j]; v > maxv {
				maxv = v
			}
		}
		sum := 0.0
		probs := make([]float64, k)
		for i := 0; i < k; i++ {
			probs[i] = math.Exp(raw.W[(off+i)*b+j] - maxv)
			sum += probs[i]
		}
		cat := cb.CatIdx[j]
		for i := 0; i < k; i++ {
			probs[i] /= sum
			target := 0.0
			if i == cat {
				target = 1
			}
			raw.Dw[(off+i)*b+j] += (probs[i] - target) * inv
		}
		total += -math.Log(probs[cat] + math.SmallestNonzeroFloat64)
	}
	return total * inv
}

// Sample draws n synthetic rows with frequency-aware random
// conditioning.
func (c *CTGAN) Sample(n int) (*DataContainer, error) {
	return c.sampleWith(n, func(batch int) (*CondBatch, error) {
		return sampleFrequencyCondVec(c.transformer.Metas(), batch, c.rng), nil
	})
}

// SampleCondition draws n rows all conditioned on the same
// (column, value) pair.
func (c *CTGAN) SampleCondition(n int, column, value string) (*DataContainer, error) {
	return c.sampleWith(n, func(batch int) (*CondBatch, error) {
		return fixedCondVec(c.transformer.Metas(), batch, column, value)
	})
}

func (c *CTGAN) sampleWith(n int, draw func(batch int) (*CondBatch, error)) (*DataContainer, error) {
	if !c.fitted {
		return nil, errors.New("ctgan: model is not fitted")
	}
	if n <= 0 {
		return nil, fmt.Errorf("ctgan: sample count (%v) must be positive", n)
	}
	b := c.cfg.BatchSize
	steps := n/b + 1
	metas := c.transformer.Metas()

	data := mat.NewDense(steps*b, c.dataWidth, nil)
	for s := 0; s < steps; s++ {
		cb, err := draw(b)
		if err != nil {
			return nil, err
		}
		gr := nnet.NewGraph(false)
		input := c.genInput(gr, cb, b)
		raw := c.generator.Forward(gr, input, false)
		act := ApplyActivations(gr, raw, metas, c.cfg.Tau, c.rng)
		for j := 0; j < b; j++ {
			for i := 0; i < c.dataWidth; i++ {
				data.Set(s*b+j, i, act.W[i*b+j])
			}
		}
	}
	full := c.transformer.InverseTransform(data)
	full.Rows = full.Rows[:n]
	full.Size = n
	return full, nil
}

// genInput concatenates fresh gaussian noise with the conditional
// vectors, one sample per column.
func (c *CTGAN) genInput(gr *nnet.Graph, cb *CondBatch, b int) *nnet.Mat {
	emb := c.cfg.EmbeddingDim
	noise := make([]float64, emb*b)
	for i := range noise {
		noise[i] = c.rng.NormFloat64()
	}
	z := nnet.NewConstMat(emb, b, noise)
	if cb == nil {
		return z
	}
	cond := nnet.NewConstMat(c.condWidth, b, condMatrix(cb, c.condWidth, nil))
	return gr.ConcatRows(z, cond)
}

func meanRow(vs []float64) float64 {
	sum := 0.0
	for _, v := range vs {
		sum += v
	}
	return sum / float64(len(vs))
}

// flattenRows lays row-major sample rows out column-major (one sample
// per column).
func flattenRows(rows [][]float64, width, b int) []float64 {
	w := make([]float64, width*b)
	for j, row := range rows {
		for i := 0; i < width; i++ {
			w[i*b+j] = row[i]
		}
	}
	return w
}

// appendCond stacks cond rows below data rows in column-major layout.
func appendCond(data, cond []float64, dataWidth, condWidth, b int) []float64 {
	if cond == nil {
		return data
	}
	w := make([]float64, (dataWidth+condWidth)*b)
	copy(w, data[:dataWidth*b])
	copy(w[dataWidth*b:], cond)
	return w
}

// packColumnsData is the constant-data variant of Graph.PackColumns.
func packColumnsData(w []float64, width, b, pac int) *nnet.Mat {
	groups := b / pac
	out := nnet.NewMat(width*pac, groups)
	for i := 0; i < width; i++ {
		for j := 0; j < b; j++ {
			out.W[((j%pac)*width+i)*groups+j/pac] = w[i*b+j]
		}
	}
	return out
}
