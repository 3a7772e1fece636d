package ctgan

import (
	"encoding/json"
	"fmt"
	"math/rand"
	"os"

	"github.com/zhangshuang1224/CTGAN-main/gmm"
	"github.com/zhangshuang1224/CTGAN-main/nnet"
)

type matJSON struct {
	N int
	D int
	W []float64
}

type bnJSON struct {
	RunningMean []float64
	RunningVar  []float64
	Momentum    float64
	Eps         float64
}

type columnMetaJSON struct {
	Name        string
	Kind        int
	Weights     []float64
	Means       []float64
	Stds        []float64
	Categories  []string
	Frequencies []float64
	Offset      int
	Width       int
}

type ctganJSON struct {
	Model     string
	Config    Config
	Metas     []columnMetaJSON
	DataWidth int
	CondWidth int
	Generator map[string]matJSON
	GenBN     []bnJSON
	Diverged  bool
}

type tvaeJSON struct {
	Model     string
	Config    Config
	Metas     []columnMetaJSON
	DataWidth int
	Decoder   map[string]matJSON
	Sigma     []float64
	Diverged  bool
}

func matsToJSON(params map[string]*nnet.Mat) map[string]matJSON {
	out := make(map[string]matJSON, len(params))
	for k, m := range params {
		out[k] = matJSON{N: m.N, D: m.D, W: append([]float64(nil), m.W...)}
	}
	return out
}

func matsFromJSON(src map[string]matJSON, dst map[string]*nnet.Mat) error {
	for k, m := range dst {
		j, ok := src[k]
		if !ok {
			return fmt.Errorf("persisted model is missing parameter %q", k)
		}
		if j.N != m.N || j.D != m.D {
			return fmt.Errorf("persisted parameter %q has shape (%v,%v), want (%v,%v)", k, j.N, j.D, m.N, m.D)
		}
		copy(m.W, j.W)
	}
	return nil
}

func metasToJSON(metas []ColumnMeta) []columnMetaJSON {
	out := make([]columnMetaJSON, len(metas))
	for i, m := range metas {
		out[i] = columnMetaJSON{
			Name:        m.Name,
			Kind:        int(m.Kind),
			Weights:     m.Mixture.Weights,
			Means:       m.Mixture.Means,
			Stds:        m.Mixture.Stds,
			Categories:  m.Categories,
			Frequencies: m.Frequencies,
			Offset:      m.Offset,
			Width:       m.Width,
		}
	}
	return out
}

func metasFromJSON(src []columnMetaJSON) []ColumnMeta {
	out := make([]ColumnMeta, len(src))
	for i, j := range src {
		out[i] = ColumnMeta{
			Name:        j.Name,
			Kind:        ColumnKind(j.Kind),
			Mixture:     gmm.Model{Weights: j.Weights, Means: j.Means, Stds: j.Stds},
			Categories:  j.Categories,
			Frequencies: j.Frequencies,
			Offset:      j.Offset,
			Width:       j.Width,
		}
	}
	return out
}

func writeModel(filePath, saveFormat string, model interface{}) error {
	var raw []byte
	var err error
	switch saveFormat {
	case "indent":
		raw, err = json.MarshalIndent(model, "", " ")
	case "notindent", "":
		raw, err = json.Marshal(model)
	default:
		return fmt.Errorf("unknown saveFormat (%v), want indent or notindent", saveFormat)
	}
	if err != nil {
		return err
	}
	return os.WriteFile(filePath, raw, 0644)
}

// Save persists the fitted column metadata and generator parameters.
// Loading restores everything needed for Sample; the training-time
// critic and data index are not persisted.
func (c *CTGAN) Save(filePath string, saveFormat string) error {
	if !c.fitted {
		return fmt.Errorf("ctgan: cannot save an unfitted model")
	}
	model := ctganJSON{
		Model:     "ctgan",
		Config:    c.cfg,
		Metas:     metasToJSON(c.transformer.Metas()),
		DataWidth: c.dataWidth,
		CondWidth: c.condWidth,
		Generator: matsToJSON(c.generator.Params()),
		Diverged:  c.Diverged,
	}
	for _, st := range c.generator.bns {
		model.GenBN = append(model.GenBN, bnJSON{
			RunningMean: st.RunningMean,
			RunningVar:  st.RunningVar,
			Momentum:    st.Momentum,
			Eps:         st.Eps,
		})
	}
	return writeModel(filePath, saveFormat, model)
}

// Save persists the fitted column metadata, decoder parameters and
// output deviations.
func (t *TVAE) Save(filePath string, saveFormat string) error {
	if !t.fitted {
		return fmt.Errorf("tvae: cannot save an unfitted model")
	}
	model := tvaeJSON{
		Model:     "tvae",
		Config:    t.cfg,
		Metas:     metasToJSON(t.transformer.Metas()),
		DataWidth: t.dataWidth,
		Decoder:   matsToJSON(t.decoderParams()),
		Sigma:     append([]float64(nil), t.sigma.W...),
		Diverged:  t.Diverged,
	}
	return writeModel(filePath, saveFormat, model)
}

// LoadSynthesizer restores a persisted CTGAN or TVAE model.
func LoadSynthesizer(filePath string) (Synthesizer, error) {
	raw, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("cannot read filePath (%v): %w", filePath, err)
	}
	var header struct{ Model string }
	if err := json.Unmarshal(raw, &header); err != nil {
		return nil, err
	}
	switch header.Model {
	case "ctgan":
		return loadCTGAN(raw)
	case "tvae":
		return loadTVAE(raw)
	}
	return nil, fmt.Errorf("unknown persisted model name (%v)", header.Model)
}

func loadCTGAN(raw []byte) (*CTGAN, error) {
	var model ctganJSON
	if err := json.Unmarshal(raw, &model); err != nil {
		return nil, err
	}
	c, err := NewCTGAN(model.Config)
	if err != nil {
		return nil, err
	}
	metas := metasFromJSON(model.Metas)
	c.transformer = newFittedTransformer(metas, model.Config.MaxModes, model.Config.Seed)
	c.dataWidth = model.DataWidth
	c.condWidth = model.CondWidth
	c.generator = NewGenerator(model.Config.EmbeddingDim+model.CondWidth, model.Config.GeneratorDims, model.DataWidth, c.rng)
	if err := matsFromJSON(model.Generator, c.generator.Params()); err != nil {
		return nil, err
	}
	if len(model.GenBN) != len(c.generator.bns) {
		return nil, fmt.Errorf("persisted model has %v batchnorm states, want %v", len(model.GenBN), len(c.generator.bns))
	}
	for i, st := range model.GenBN {
		c.generator.bns[i] = &nnet.BNState{
			RunningMean: st.RunningMean,
			RunningVar:  st.RunningVar,
			Momentum:    st.Momentum,
			Eps:         st.Eps,
		}
	}
	c.fitted = true
	c.Diverged = model.Diverged
	return c, nil
}

func loadTVAE(raw []byte) (*TVAE, error) {
	var model tvaeJSON
	if err := json.Unmarshal(raw, &model); err != nil {
		return nil, err
	}
	t, err := NewTVAE(model.Config)
	if err != nil {
		return nil, err
	}
	metas := metasFromJSON(model.Metas)
	t.transformer = newFittedTransformer(metas, model.Config.MaxModes, model.Config.Seed)
	t.dataWidth = model.DataWidth
	t.buildDecoder()
	if err := matsFromJSON(model.Decoder, t.decoderParams()); err != nil {
		return nil, err
	}
	copy(t.sigma.W, model.Sigma)
	t.fitted = true
	t.Diverged = model.Diverged
	return t, nil
}

// newFittedTransformer rebuilds a transformer from persisted metadata.
func newFittedTransformer(metas []ColumnMeta, maxModes int, seed int64) *DataTransformer {
	t := &DataTransformer{MaxModes: maxModes, rng: rand.New(rand.NewSource(seed))}
	t.metas = metas
	for _, m := range metas {
		t.width += m.Width
	}
	t.fitted = true
	return t
}
