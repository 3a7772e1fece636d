package ctgan

import (
	"errors"
	"fmt"
	"math"
	"math/rand"
	"strconv"
	"testing"
)

func makeMixedTable(n int, seed int64) *DataContainer {
	rng := rand.New(rand.NewSource(seed))
	rows := make([][]string, n)
	for i := range rows {
		v := 0.0 + 0.5*rng.NormFloat64()
		if rng.Float64() < 0.3 {
			v = 10.0 + 0.5*rng.NormFloat64()
		}
		cat := "x"
		switch {
		case rng.Float64() < 0.1:
			cat = "z"
		case rng.Float64() < 0.3:
			cat = "y"
		}
		rows[i] = []string{strconv.FormatFloat(v, 'g', -1, 64), cat}
	}
	return NewDataContainer([]string{"amount", "label"}, rows)
}

func TestTransformerFitWidth(t *testing.T) {
	dc := makeMixedTable(800, 1)
	tr := NewDataTransformer(10, 1)
	if err := tr.Fit(dc, []string{"label"}); err != nil {
		t.Fatal("err = ", err)
	}

	metas := tr.Metas()
	if len(metas) != 2 {
		t.Fatal("metas = ", len(metas))
	}
	if metas[0].Kind != KindContinuous || metas[1].Kind != KindDiscrete {
		t.Error("kinds = ", metas[0].Kind, metas[1].Kind)
	}
	if metas[0].Width != 1+metas[0].NumModes() {
		t.Error("continuous width = ", metas[0].Width, "modes = ", metas[0].NumModes())
	}
	if metas[1].Width != 3 {
		t.Error("discrete width = ", metas[1].Width)
	}
	if metas[1].Categories[0] != "x" {
		t.Error("first-seen category = ", metas[1].Categories[0])
	}
	want := 0
	for j := range metas {
		if metas[j].Offset != want {
			t.Error("column = ", j, "offset = ", metas[j].Offset, "want = ", want)
		}
		want += metas[j].Width
	}
	if tr.Width() != want {
		t.Error("width = ", tr.Width(), "want = ", want)
	}
}

func TestTransformerRoundTrip(t *testing.T) {
	dc := makeMixedTable(600, 2)
	tr := NewDataTransformer(10, 2)
	if err := tr.Fit(dc, []string{"label"}); err != nil {
		t.Fatal("err = ", err)
	}
	data, err := tr.Transform(dc, OOVError)
	if err != nil {
		t.Fatal("err = ", err)
	}
	rows, cols := data.Dims()
	if rows != dc.Size || cols != tr.Width() {
		t.Fatal("rows = ", rows, "cols = ", cols)
	}

	back := tr.InverseTransform(data)
	exact := 0
	for i := range back.Rows {
		if back.Rows[i][1] != dc.Rows[i][1] {
			t.Error("row = ", i, "label = ", back.Rows[i][1], "want = ", dc.Rows[i][1])
		}
		orig, _ := strconv.ParseFloat(dc.Rows[i][0], 64)
		got, _ := strconv.ParseFloat(back.Rows[i][0], 64)
		if math.Abs(got-orig) < 1e-6 {
			exact++
		}
		if math.Abs(got-orig) > 5.0 {
			t.Error("row = ", i, "amount = ", got, "want = ", orig)
		}
	}
	// values inside the 4-sigma window of their sampled mode decode
	// exactly; only clipped outliers lose precision
	if float64(exact) < 0.9*float64(len(back.Rows)) {
		t.Error("exact round trips = ", exact, "of = ", len(back.Rows))
	}
}

func TestTransformerOneHotBlocks(t *testing.T) {
	dc := makeMixedTable(200, 3)
	tr := NewDataTransformer(10, 3)
	if err := tr.Fit(dc, []string{"label"}); err != nil {
		t.Fatal("err = ", err)
	}
	data, err := tr.Transform(dc, OOVError)
	if err != nil {
		t.Fatal("err = ", err)
	}

	metas := tr.Metas()
	rows, _ := data.Dims()
	for i := 0; i < rows; i++ {
		row := data.RawRowView(i)
		// discrete block is exactly one-hot
		set := 0
		for _, v := range row[metas[1].Offset : metas[1].Offset+metas[1].Width] {
			if v == 1 {
				set++
			} else if v != 0 {
				t.Error("row = ", i, "non-binary one-hot value = ", v)
			}
		}
		if set != 1 {
			t.Error("row = ", i, "set bits = ", set)
		}
		// continuous scalar is clipped and its mode indicator one-hot
		if row[metas[0].Offset] < -1 || row[metas[0].Offset] > 1 {
			t.Error("row = ", i, "scalar = ", row[metas[0].Offset])
		}
		set = 0
		for _, v := range row[metas[0].Offset+1 : metas[0].Offset+metas[0].Width] {
			if v == 1 {
				set++
			}
		}
		if set != 1 {
			t.Error("row = ", i, "mode bits = ", set)
		}
	}
}

func TestTransformerSchemaErrors(t *testing.T) {
	dc := makeMixedTable(50, 4)
	tr := NewDataTransformer(10, 4)

	err := tr.Fit(dc, []string{"label", "missing"})
	var schemaErr *SchemaError
	if !errors.As(err, &schemaErr) {
		t.Fatal("err = ", err)
	}
	if schemaErr.Column != "missing" {
		t.Error("column = ", schemaErr.Column)
	}

	bad := NewDataContainer([]string{"amount"}, [][]string{{"1.5"}, {"oops"}, {"2.5"}})
	err = NewDataTransformer(10, 4).Fit(bad, nil)
	if !errors.As(err, &schemaErr) {
		t.Fatal("err = ", err)
	}
	if schemaErr.Column != "amount" {
		t.Error("column = ", schemaErr.Column)
	}

	empty := NewDataContainer([]string{"label"}, [][]string{{""}, {""}})
	err = NewDataTransformer(10, 4).Fit(empty, []string{"label"})
	if !errors.As(err, &schemaErr) {
		t.Fatal("err = ", err)
	}
}

func TestTransformerOOVPolicies(t *testing.T) {
	dc := makeMixedTable(100, 5)
	tr := NewDataTransformer(10, 5)
	if err := tr.Fit(dc, []string{"label"}); err != nil {
		t.Fatal("err = ", err)
	}

	unseen := NewDataContainer([]string{"amount", "label"}, [][]string{
		{"0.5", "x"},
		{"0.7", "never-seen"},
		{"0.9", "y"},
	})

	_, err := tr.Transform(unseen, OOVError)
	var oovErr *OutOfVocabularyError
	if !errors.As(err, &oovErr) {
		t.Fatal("err = ", err)
	}
	if oovErr.Column != "label" || oovErr.Value != "never-seen" {
		t.Error("column = ", oovErr.Column, "value = ", oovErr.Value)
	}

	data, err := tr.Transform(unseen, OOVDrop)
	if err != nil {
		t.Fatal("err = ", err)
	}
	rows, _ := data.Dims()
	if rows != 2 {
		t.Error("rows after drop = ", rows)
	}
}

func TestTransformerDiscreteFrequencies(t *testing.T) {
	rows := [][]string{}
	for i := 0; i < 80; i++ {
		rows = append(rows, []string{"a"})
	}
	for i := 0; i < 20; i++ {
		rows = append(rows, []string{"b"})
	}
	// missing cells are excluded from the frequency mass
	for i := 0; i < 10; i++ {
		rows = append(rows, []string{""})
	}
	dc := NewDataContainer([]string{"tier"}, rows)
	tr := NewDataTransformer(10, 6)
	if err := tr.Fit(dc, []string{"tier"}); err != nil {
		t.Fatal("err = ", err)
	}
	meta := tr.Metas()[0]
	if meta.NumCategories() != 2 {
		t.Fatal("categories = ", meta.Categories)
	}
	if math.Abs(meta.Frequencies[0]-0.8) > 1e-9 || math.Abs(meta.Frequencies[1]-0.2) > 1e-9 {
		t.Error("frequencies = ", meta.Frequencies)
	}
	if meta.CategoryIndex("b") != 1 || meta.CategoryIndex("zzz") != -1 {
		t.Error("category index = ", meta.CategoryIndex("b"), meta.CategoryIndex("zzz"))
	}
}

func TestDataContainerRaggedRowsPanics(t *testing.T) {
	defer func() {
		if r := recover(); r == nil {
			t.Error("no panic on ragged rows")
		}
	}()
	NewDataContainer([]string{"a", "b"}, [][]string{{"1", "2"}, {"3"}})
}

func TestDataContainerColumn(t *testing.T) {
	dc := NewDataContainer([]string{"a", "b"}, [][]string{{"1", "x"}, {"2", "y"}})
	col := dc.Column(1)
	if len(col) != 2 || col[0] != "x" || col[1] != "y" {
		t.Error("column = ", col)
	}
	if dc.ColumnIndex("b") != 1 || dc.ColumnIndex("c") != -1 {
		t.Error("index = ", dc.ColumnIndex("b"), dc.ColumnIndex("c"))
	}
	fmt.Println(dc.Size)
	if dc.Size != 2 {
		t.Error("size = ", dc.Size)
	}
}
