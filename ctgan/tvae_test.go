package ctgan

import (
	"context"
	"errors"
	"math"
	"path/filepath"
	"strconv"
	"testing"
)

func TestTVAESampleBeforeFit(t *testing.T) {
	model, err := NewTVAE(DefaultConfig())
	if err != nil {
		t.Fatal("err = ", err)
	}
	if _, err := model.Sample(10); err == nil {
		t.Error("no error sampling an unfitted model")
	}
}

func TestTVAEFitAndSample(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping training in short mode")
	}
	// two copies of the same categorical column: the decoder has to
	// learn that they always agree
	rows := make([][]string, 150)
	for i := range rows {
		cat := "a"
		switch {
		case i%3 == 1:
			cat = "b"
		case i%3 == 2:
			cat = "c"
		}
		rows[i] = []string{cat, cat}
	}
	dc := NewDataContainer([]string{"first", "second"}, rows)

	cfg := smallConfig(10)
	cfg.Epochs = 300
	model, err := NewTVAE(cfg)
	if err != nil {
		t.Fatal("err = ", err)
	}
	if err := model.Fit(context.Background(), dc, []string{"first", "second"}); err != nil {
		t.Fatal("err = ", err)
	}
	if !model.Fitted() || model.Diverged {
		t.Fatal("fitted = ", model.Fitted(), "diverged = ", model.Diverged)
	}

	out, err := model.Sample(100)
	if err != nil {
		t.Fatal("err = ", err)
	}
	if out.Size != 100 || len(out.ColumnNames) != 2 {
		t.Fatal("size = ", out.Size, "columns = ", out.ColumnNames)
	}
	match := 0
	for _, row := range out.Rows {
		for j := 0; j < 2; j++ {
			if row[j] != "a" && row[j] != "b" && row[j] != "c" {
				t.Fatal("out-of-vocabulary value: ", row[j])
			}
		}
		if row[0] == row[1] {
			match++
		}
	}
	if match < 70 {
		t.Error("agreeing rows = ", match, "of = ", out.Size)
	}
}

func TestTVAEContinuousColumn(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping training in short mode")
	}
	dc := trainTable(300, 11)
	cfg := smallConfig(11)
	cfg.Epochs = 50
	model, err := NewTVAE(cfg)
	if err != nil {
		t.Fatal("err = ", err)
	}
	if err := model.Fit(context.Background(), dc, []string{"A", "B"}); err != nil {
		t.Fatal("err = ", err)
	}
	out, err := model.Sample(500)
	if err != nil {
		t.Fatal("err = ", err)
	}
	for _, row := range out.Rows {
		v, err := strconv.ParseFloat(row[2], 64)
		if err != nil {
			t.Fatal("non-numeric amount: ", row[2])
		}
		if math.IsNaN(v) || math.IsInf(v, 0) {
			t.Fatal("non-finite amount: ", v)
		}
	}

	// the learned deviation stays inside its clamp window
	for _, s := range model.sigma.W {
		if s < 0.01 || s > 1.0 {
			t.Error("sigma = ", s)
		}
	}
}

func TestTVAEFitCancelled(t *testing.T) {
	dc := trainTable(200, 12)
	model, err := NewTVAE(smallConfig(12))
	if err != nil {
		t.Fatal("err = ", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err = model.Fit(ctx, dc, []string{"A", "B"})
	if !errors.Is(err, context.Canceled) {
		t.Fatal("err = ", err)
	}
	if !model.Fitted() {
		t.Error("model not fitted after cancel")
	}
}

func TestTVAESaveLoad(t *testing.T) {
	dc := trainTable(200, 13)
	cfg := smallConfig(13)
	cfg.Epochs = 2
	model, err := NewTVAE(cfg)
	if err != nil {
		t.Fatal("err = ", err)
	}
	if err := model.Fit(context.Background(), dc, []string{"A", "B"}); err != nil {
		t.Fatal("err = ", err)
	}

	path := filepath.Join(t.TempDir(), "tvae.json")
	if err := model.Save(path, "notindent"); err != nil {
		t.Fatal("err = ", err)
	}

	loaded, err := LoadSynthesizer(path)
	if err != nil {
		t.Fatal("err = ", err)
	}
	restored, ok := loaded.(*TVAE)
	if !ok {
		t.Fatal("loaded model is not a TVAE")
	}
	if !restored.Fitted() {
		t.Fatal("loaded model not fitted")
	}
	for k, p := range model.decoderParams() {
		q := restored.params[k]
		if q == nil {
			t.Fatal("missing parameter ", k)
		}
		for i := range p.W {
			if p.W[i] != q.W[i] {
				t.Fatal("parameter ", k, " index ", i, " differs")
			}
		}
	}
	for i := range model.sigma.W {
		if model.sigma.W[i] != restored.sigma.W[i] {
			t.Fatal("sigma index ", i, " differs")
		}
	}

	again, err := LoadSynthesizer(path)
	if err != nil {
		t.Fatal("err = ", err)
	}
	outFirst, err := restored.Sample(40)
	if err != nil {
		t.Fatal("err = ", err)
	}
	outSecond, err := again.Sample(40)
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
}
