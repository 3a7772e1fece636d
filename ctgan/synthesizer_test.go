package ctgan

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/zhangshuang1224/CTGAN-main/nnet"
)

// trainTable builds a small mixed table with a skewed discrete column, a
// balanced discrete column and a bimodal continuous column.
func trainTable(n int, seed int64) *DataContainer {
	rng := rand.New(rand.NewSource(seed))
	rows := make([][]string, n)
	for i := range rows {
		a := "x"
		r := rng.Float64()
		switch {
		case r < 0.1:
			a = "z"
		case r < 0.3:
			a = "y"
		}
		b := "p"
		if rng.Float64() < 0.5 {
			b = "q"
		}
		v := 0.0 + 0.5*rng.NormFloat64()
		if a != "x" {
			v = 10.0 + 0.5*rng.NormFloat64()
		}
		rows[i] = []string{a, b, strconv.FormatFloat(v, 'g', -1, 64)}
	}
	return NewDataContainer([]string{"A", "B", "amount"}, rows)
}

func smallConfig(seed int64) Config {
	cfg := DefaultConfig()
	cfg.EmbeddingDim = 32
	cfg.GeneratorDims = []int{64}
	cfg.CriticDims = []int{64}
	cfg.BatchSize = 60
	cfg.Pac = 6
	cfg.Epochs = 60
	cfg.GeneratorLR = 1e-3
	cfg.CriticLR = 1e-3
	cfg.MaxModes = 5
	cfg.Seed = seed
	return cfg
}

func TestConfigValidation(t *testing.T) {
	cases := []func(*Config){
		func(c *Config) { c.Epochs = 0 },
		func(c *Config) { c.BatchSize = 0 },
		func(c *Config) { c.BatchSize = 501 },
		func(c *Config) { c.Pac = 0 },
		func(c *Config) { c.BatchSize = 502; c.Pac = 10 },
		func(c *Config) { c.EmbeddingDim = 0 },
		func(c *Config) { c.MaxModes = 0 },
	}
	for i, mutate := range cases {
		cfg := DefaultConfig()
		mutate(&cfg)
		_, err := NewCTGAN(cfg)
		var cfgErr *ConfigError
		if !errors.As(err, &cfgErr) {
			t.Error("case = ", i, "err = ", err)
		}
	}

	if _, err := NewCTGAN(DefaultConfig()); err != nil {
		t.Error("default config rejected: ", err)
	}
}

func TestGenerateSynthesizer(t *testing.T) {
	cfg := DefaultConfig()
	model, ok := GenerateSynthesizer("ctgan", cfg)
	if !ok || model == nil {
		t.Error("ctgan not constructed")
	}
	if _, isCTGAN := model.(*CTGAN); !isCTGAN {
		t.Error("ctgan type mismatch")
	}
	model, ok = GenerateSynthesizer("tvae", cfg)
	if !ok || model == nil {
		t.Error("tvae not constructed")
	}
	if _, ok := GenerateSynthesizer("unknown", cfg); ok {
		t.Error("unknown model name accepted")
	}
	bad := DefaultConfig()
	bad.BatchSize = 3
	if _, ok := GenerateSynthesizer("ctgan", bad); ok {
		t.Error("invalid config accepted")
	}
}

func TestCTGANSampleBeforeFit(t *testing.T) {
	model, err := NewCTGAN(DefaultConfig())
	if err != nil {
		t.Fatal("err = ", err)
	}
	if _, err := model.Sample(10); err == nil {
		t.Error("no error sampling an unfitted model")
	}
}

func TestCTGANFitAndSample(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping training in short mode")
	}
	dc := trainTable(600, 1)
	model, err := NewCTGAN(smallConfig(1))
	if err != nil {
		t.Fatal("err = ", err)
	}
	if err := model.Fit(context.Background(), dc, []string{"A", "B"}); err != nil {
		t.Fatal("err = ", err)
	}
	if !model.Fitted() {
		t.Fatal("model not fitted")
	}
	if model.Diverged {
		t.Fatal("training diverged")
	}

	out, err := model.Sample(5000)
	if err != nil {
		t.Fatal("err = ", err)
	}
	if out.Size != 5000 || len(out.ColumnNames) != 3 {
		t.Fatal("size = ", out.Size, "columns = ", out.ColumnNames)
	}

	countA := map[string]int{}
	countB := map[string]int{}
	for _, row := range out.Rows {
		countA[row[0]]++
		countB[row[1]]++
		if _, err := strconv.ParseFloat(row[2], 64); err != nil {
			t.Fatal("non-numeric amount: ", row[2])
		}
	}
	for cat := range countA {
		if cat != "x" && cat != "y" && cat != "z" {
			t.Error("out-of-vocabulary category: ", cat)
		}
	}
	n := float64(out.Size)
	if f := float64(countA["x"]) / n; math.Abs(f-0.7) > 0.25 {
		t.Error("freq of x = ", f)
	}
	if countA["x"] <= countA["y"] || countA["x"] <= countA["z"] {
		t.Error("dominant category not preserved: ", countA)
	}
	if f := float64(countB["p"]) / n; math.Abs(f-0.5) > 0.25 {
		t.Error("freq of p = ", f)
	}
}

func TestCTGANSampleCondition(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping training in short mode")
	}
	dc := trainTable(600, 2)
	model, err := NewCTGAN(smallConfig(2))
	if err != nil {
		t.Fatal("err = ", err)
	}
	if err := model.Fit(context.Background(), dc, []string{"A", "B"}); err != nil {
		t.Fatal("err = ", err)
	}

	out, err := model.SampleCondition(1000, "A", "y")
	if err != nil {
		t.Fatal("err = ", err)
	}
	match := 0
	for _, row := range out.Rows {
		if row[0] == "y" {
			match++
		}
	}
	if float64(match)/float64(out.Size) < 0.5 {
		t.Error("conditioned matches = ", match, "of = ", out.Size)
	}

	if _, err := model.SampleCondition(10, "A", "nope"); err == nil {
		t.Error("no error for unknown category")
	}
	if _, err := model.SampleCondition(10, "amount", "1.0"); err == nil {
		t.Error("no error for continuous column condition")
	}
}

func TestCTGANFitCancelled(t *testing.T) {
	dc := trainTable(200, 3)
	model, err := NewCTGAN(smallConfig(3))
	if err != nil {
		t.Fatal("err = ", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err = model.Fit(ctx, dc, []string{"A", "B"})
	if !errors.Is(err, context.Canceled) {
		t.Fatal("err = ", err)
	}
	// the transformer and networks are in place, so the model is still
	// usable for sampling
	if !model.Fitted() {
		t.Error("model not fitted after cancel")
	}
	if _, err := model.Sample(10); err != nil {
		t.Error("err = ", err)
	}
}

func TestCTGANDivergenceDetected(t *testing.T) {
	dc := trainTable(200, 4)
	cfg := smallConfig(4)
	cfg.Epochs = 1
	model, err := NewCTGAN(cfg)
	if err != nil {
		t.Fatal("err = ", err)
	}
	if err := model.Fit(context.Background(), dc, []string{"A", "B"}); err != nil {
		t.Fatal("err = ", err)
	}
	if model.critic.Pac() != cfg.Pac {
		t.Fatal("pac = ", model.critic.Pac())
	}

	for _, p := range model.generator.Params() {
		for i := range p.W {
			p.W[i] = math.NaN()
		}
	}
	solver := nnet.NewSolverAdam(cfg.CriticLR, cfg.Beta1, cfg.Beta2, cfg.WeightDecay)
	_, err = model.criticStep(solver, 0, 0)
	var divErr *DivergenceError
	if !errors.As(err, &divErr) {
		t.Fatal("err = ", err)
	}
	if divErr.Loss != "critic" {
		t.Error("loss = ", divErr.Loss)
	}
}

func TestCTGANSaveLoad(t *testing.T) {
	dc := trainTable(200, 5)
	cfg := smallConfig(5)
	cfg.Epochs = 2
	model, err := NewCTGAN(cfg)
	if err != nil {
		t.Fatal("err = ", err)
	}
	if err := model.Fit(context.Background(), dc, []string{"A", "B"}); err != nil {
		t.Fatal("err = ", err)
	}

	path := filepath.Join(t.TempDir(), "model.json")
	if err := model.Save(path, "indent"); err != nil {
		t.Fatal("err = ", err)
	}

	loadedFirst, err := LoadSynthesizer(path)
	if err != nil {
		t.Fatal("err = ", err)
	}
	first, ok := loadedFirst.(*CTGAN)
	if !ok {
		t.Fatal("loaded model is not a CTGAN")
	}
	if !first.Fitted() {
		t.Fatal("loaded model not fitted")
	}
	if len(first.Metas()) != len(model.Metas()) {
		t.Fatal("metas = ", len(first.Metas()), "want = ", len(model.Metas()))
	}
	for j, meta := range first.Metas() {
		if meta.Name != model.Metas()[j].Name || meta.Kind != model.Metas()[j].Kind {
			t.Error("column = ", j, "meta mismatch")
		}
	}
	for k, p := range model.generator.Params() {
		q := first.generator.Params()[k]
		if q == nil {
			t.Fatal("missing parameter ", k)
		}
		for i := range p.W {
			if p.W[i] != q.W[i] {
				t.Fatal("parameter ", k, " index ", i, " differs")
			}
		}
	}

	// a second load starts from the same rng state, so sampling is
	// reproducible across loads
	loadedSecond, err := LoadSynthesizer(path)
	if err != nil {
		t.Fatal("err = ", err)
	}
	second := loadedSecond.(*CTGAN)
	outFirst, err := first.Sample(50)
	if err != nil {
		t.Fatal("err = ", err)
	}
	outSecond, err := second.Sample(50)
	if err != nil {
		t.Fatal("err = ", err)
	}
	for i := range outFirst.Rows {
		for j := range outFirst.Rows[i] {
			if outFirst.Rows[i][j] != outSecond.Rows[i][j] {
				t.Fatal("row = ", i, "col = ", j, "first = ", outFirst.Rows[i][j], "second = ", outSecond.Rows[i][j])
			}
		}
	}

	// fixed-condition sampling survives the round trip
	if _, err := first.SampleCondition(20, "B", "q"); err != nil {
		t.Error("err = ", err)
	}
}

func TestCTGANContinuousOnlyTable(t *testing.T) {
	rng := rand.New(rand.NewSource(6))
	rows := make([][]string, 200)
	for i := range rows {
		rows[i] = []string{strconv.FormatFloat(rng.NormFloat64(), 'g', -1, 64)}
	}
	dc := NewDataContainer([]string{"v"}, rows)
	cfg := smallConfig(6)
	cfg.Epochs = 2
	model, err := NewCTGAN(cfg)
	if err != nil {
		t.Fatal("err = ", err)
	}
	if err := model.Fit(context.Background(), dc, nil); err != nil {
		t.Fatal("err = ", err)
	}
	out, err := model.Sample(30)
	if err != nil {
		t.Fatal("err = ", err)
	}
	if out.Size != 30 {
		t.Fatal("size = ", out.Size)
	}
	for _, row := range out.Rows {
		if _, err := strconv.ParseFloat(row[0], 64); err != nil {
			t.Error("non-numeric sample: ", row[0])
		}
	}
}
