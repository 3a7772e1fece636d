package ctgan

import (
	"encoding/csv"
	"fmt"
	"os"
)

// DataContainer holds a raw table: a header and string-valued rows.
// Typed interpretation (continuous vs. discrete) happens in the
// DataTransformer, not here.
type DataContainer struct {
	ColumnNames []string
	Rows        [][]string
	Size        int
}

// NewDataContainer returns a DataContainer instance over in-memory rows.
func NewDataContainer(columnNames []string, rows [][]string) *DataContainer {
	for i, row := range rows {
		if len(row) != len(columnNames) {
			panic(fmt.Sprintf("NewDataContainer error. row %v has %v cells, header has %v", i, len(row), len(columnNames)))
		}
	}
	return &DataContainer{ColumnNames: columnNames, Rows: rows, Size: len(rows)}
}

// NewDataContainerFromCSV returns a DataContainer instance read from a
// CSV file with a header row.
func NewDataContainerFromCSV(filePath string) (*DataContainer, error) {
	f, err := os.Open(filePath)
	if err != nil {
		return nil, fmt.Errorf("cannot open filePath (%v): %w", filePath, err)
	}
	defer f.Close()

	records, err := csv.NewReader(f).ReadAll()
	if err != nil {
		return nil, fmt.Errorf("read error in filePath (%v): %w", filePath, err)
	}
	if len(records) < 1 {
		return nil, fmt.Errorf("filePath (%v) has no header row", filePath)
	}
	return NewDataContainer(records[0], records[1:]), nil
}

// ColumnIndex returns the position of name, or -1.
func (dc *DataContainer) ColumnIndex(name string) int {
	for i, n := range dc.ColumnNames {
		if n == name {
			return i
		}
	}
	return -1
}

// Column returns column j as a slice.
func (dc *DataContainer) Column(j int) []string {
	col := make([]string, dc.Size)
	for i, row := range dc.Rows {
		col[i] = row[j]
	}
	return col
}

// WriteCSV writes the table with its header to filePath.
func (dc *DataContainer) WriteCSV(filePath string) error {
	f, err := os.Create(filePath)
	if err != nil {
		return fmt.Errorf("cannot create filePath (%v): %w", filePath, err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write(dc.ColumnNames); err != nil {
		return err
	}
	if err := w.WriteAll(dc.Rows); err != nil {
		return err
	}
	w.Flush()
	return w.Error()
}
