package ctgan

import (
	"fmt"
	"math/rand"
	"strconv"

	"github.com/spf13/cast"
	"gonum.org/v1/gonum/mat"

	"github.com/zhangshuang1224/CTGAN-main/gmm"
)

// ColumnKind tags a ColumnMeta variant.
type ColumnKind int

const (
	KindContinuous ColumnKind = iota
	KindDiscrete
)

// ColumnMeta describes one fitted column and its block in the
// transformed row. Block offsets and widths are frozen at fit time.
type ColumnMeta struct {
	Name string
	Kind ColumnKind

	// continuous: fitted mixture, block = [scalar, one-hot mode selector]
	Mixture gmm.Model

	// discrete: ordered vocabulary (first-seen order) and empirical
	// frequencies summing to 1
	Categories  []string
	Frequencies []float64

	Offset int
	Width  int
}

// NumModes returns the retained mixture component count.
func (m *ColumnMeta) NumModes() int { return m.Mixture.NumComponents() }

// NumCategories returns the vocabulary size.
func (m *ColumnMeta) NumCategories() int { return len(m.Categories) }

// CategoryIndex returns the position of value in the vocabulary, or -1.
func (m *ColumnMeta) CategoryIndex(value string) int {
	for i, c := range m.Categories {
		if c == value {
			return i
		}
	}
	return -1
}

// OOVPolicy selects what Transform does with unseen discrete values.
type OOVPolicy int

const (
	// OOVError surfaces an OutOfVocabularyError.
	OOVError OOVPolicy = iota
	// OOVDrop silently drops the offending row.
	OOVDrop
)

// DataTransformer encodes a raw table into the fixed-width numeric
// representation and back. Continuous columns get a mode-specific
// normalization against a fitted gaussian mixture; discrete columns get
// one-hot encoding. All parameters are fit once and frozen.
type DataTransformer struct {
	MaxModes int

	metas  []ColumnMeta
	width  int
	rng    *rand.Rand
	fitted bool
}

// NewDataTransformer returns a DataTransformer instance. The seed drives
// the posterior-proportional mode assignment, keeping Transform
// deterministic for a fixed seed.
func NewDataTransformer(maxModes int, seed int64) *DataTransformer {
	if maxModes < 1 {
		panic(fmt.Sprintf("NewDataTransformer error. maxModes (%v) must be >= 1", maxModes))
	}
	return &DataTransformer{MaxModes: maxModes, rng: rand.New(rand.NewSource(seed))}
}

// Metas returns the fitted per-column metadata in original column order.
func (t *DataTransformer) Metas() []ColumnMeta { return t.metas }

// Width returns the transformed row width.
func (t *DataTransformer) Width() int { return t.width }

// Fitted reports whether Fit has completed.
func (t *DataTransformer) Fitted() bool { return t.fitted }

// Fit learns mixture parameters for continuous columns and vocabularies
// for discrete columns. Columns named in discreteColumns are discrete,
// all others continuous.
func (t *DataTransformer) Fit(dc *DataContainer, discreteColumns []string) error {
	discrete := make(map[string]bool, len(discreteColumns))
	for _, name := range discreteColumns {
		if dc.ColumnIndex(name) < 0 {
			return &SchemaError{Column: name, Reason: "declared discrete but not present in the data"}
		}
		discrete[name] = true
	}

	t.metas = make([]ColumnMeta, 0, len(dc.ColumnNames))
	offset := 0
	for j, name := range dc.ColumnNames {
		col := dc.Column(j)
		var meta ColumnMeta
		var err error
		if discrete[name] {
			meta, err = fitDiscrete(name, col)
		} else {
			meta, err = t.fitContinuous(name, col)
		}
		if err != nil {
			return err
		}
		meta.Offset = offset
		offset += meta.Width
		t.metas = append(t.metas, meta)
	}
	t.width = offset
	t.fitted = true
	return nil
}

func (t *DataTransformer) fitContinuous(name string, col []string) (ColumnMeta, error) {
	values := make([]float64, len(col))
	for i, cell := range col {
		v, err := cast.ToFloat64E(cell)
		if err != nil {
			return ColumnMeta{}, &SchemaError{Column: name, Reason: fmt.Sprintf("non-numeric value %q at row %v", cell, i)}
		}
		values[i] = v
	}
	model, err := gmm.Fit(values, t.MaxModes)
	if err != nil {
		return ColumnMeta{}, &SchemaError{Column: name, Reason: err.Error()}
	}
	return ColumnMeta{
		Name:    name,
		Kind:    KindContinuous,
		Mixture: model,
		Width:   1 + model.NumComponents(),
	}, nil
}

func fitDiscrete(name string, col []string) (ColumnMeta, error) {
	seen := make(map[string]bool)
	categories := []string{}
	counts := []float64{}
	total := 0.0
	for _, cell := range col {
		if cell == "" {
			continue
		}
		if !seen[cell] {
			seen[cell] = true
			categories = append(categories, cell)
			counts = append(counts, 0)
		}
		for i, c := range categories {
			if c == cell {
				counts[i]++
				break
			}
		}
		total++
	}
	if len(categories) == 0 {
		return ColumnMeta{}, &SchemaError{Column: name, Reason: "contains only missing values"}
	}
	freqs := make([]float64, len(counts))
	for i, c := range counts {
		freqs[i] = c / total
	}
	return ColumnMeta{
		Name:        name,
		Kind:        KindDiscrete,
		Categories:  categories,
		Frequencies: freqs,
		Width:       len(categories),
	}, nil
}

// Transform encodes the table into an (rows x width) matrix. Rows whose
// discrete values were never fitted are handled per policy.
func (t *DataTransformer) Transform(dc *DataContainer, policy OOVPolicy) (*mat.Dense, error) {
	if !t.fitted {
		panic("Transform error. transformer is not fitted")
	}
	if len(dc.ColumnNames) != len(t.metas) {
		return nil, &SchemaError{Column: "", Reason: fmt.Sprintf("expected %v columns, got %v", len(t.metas), len(dc.ColumnNames))}
	}

	encoded := make([][]float64, 0, dc.Size)
	buf := make([]float64, t.MaxModes)
	for i, row := range dc.Rows {
		out := make([]float64, t.width)
		keep := true
		for j := range t.metas {
			meta := &t.metas[j]
			cell := row[j]
			if meta.Kind == KindDiscrete {
				idx := meta.CategoryIndex(cell)
				if idx < 0 {
					if policy == OOVDrop {
						keep = false
						break
					}
					return nil, &OutOfVocabularyError{Column: meta.Name, Value: cell}
				}
				out[meta.Offset+idx] = 1
				continue
			}
			v, err := cast.ToFloat64E(cell)
			if err != nil {
				return nil, &SchemaError{Column: meta.Name, Reason: fmt.Sprintf("non-numeric value %q at row %v", cell, i)}
			}
			k := meta.NumModes()
			post := buf[:k]
			meta.Mixture.Posterior(v, post)
			mode := drawIndex(t.rng, post)
			scalar := (v - meta.Mixture.Means[mode]) / (4 * meta.Mixture.Stds[mode])
			out[meta.Offset] = clip(scalar, -1, 1)
			out[meta.Offset+1+mode] = 1
		}
		if keep {
			encoded = append(encoded, out)
		}
	}

	data := mat.NewDense(len(encoded), t.width, nil)
	for i, row := range encoded {
		data.SetRow(i, row)
	}
	return data, nil
}

// InverseTransform decodes generated rows back to the original schema.
// One-hot blocks are resolved by argmax with ties broken by the first
// position in order.
func (t *DataTransformer) InverseTransform(data *mat.Dense) *DataContainer {
	if !t.fitted {
		panic("InverseTransform error. transformer is not fitted")
	}
	rows, cols := data.Dims()
	if cols != t.width {
		panic(fmt.Sprintf("InverseTransform error. row width (%v) != fitted width (%v)", cols, t.width))
	}

	names := make([]string, len(t.metas))
	for j := range t.metas {
		names[j] = t.metas[j].Name
	}
	out := make([][]string, rows)
	for i := 0; i < rows; i++ {
		row := data.RawRowView(i)
		decoded := make([]string, len(t.metas))
		for j := range t.metas {
			meta := &t.metas[j]
			if meta.Kind == KindDiscrete {
				idx := argmax(row[meta.Offset : meta.Offset+meta.Width])
				decoded[j] = meta.Categories[idx]
				continue
			}
			mode := argmax(row[meta.Offset+1 : meta.Offset+meta.Width])
			scalar := clip(row[meta.Offset], -1, 1)
			v := scalar*4*meta.Mixture.Stds[mode] + meta.Mixture.Means[mode]
			decoded[j] = strconv.FormatFloat(v, 'g', -1, 64)
		}
		out[i] = decoded
	}
	return NewDataContainer(names, out)
}

func clip(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func argmax(vs []float64) int {
	best := 0
	for i, v := range vs {
		if v > vs[best] {
			best = i
		}
	}
	return best
}

// drawIndex samples an index proportional to the (normalized) weights.
func drawIndex(rng *rand.Rand, probs []float64) int {
	r := rng.Float64()
	acc := 0.0
	for i, p := range probs {
		acc += p
		if r < acc {
			return i
		}
	}
	return len(probs) - 1
}
