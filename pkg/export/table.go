// Package export renders tabular report data into downloadable documents.
package export

import "errors"

// ErrNoColumns is returned when a table declares no columns.
var ErrNoColumns = errors.New("export: table has no columns")

// Align controls horizontal placement of a column's cells in PDF output.
type Align string

const (
	AlignLeft   Align = "L"
	AlignCenter Align = "C"
	AlignRight  Align = "R"
)

// Column describes one table column. Width is relative to the other columns;
// zero means 1.
type Column struct {
	Key    string
	Header string
	Width  float64
	Align  Align
}

// Table is the format-independent report body.
type Table struct {
	Title    string
	Subtitle string
	Columns  []Column
	Rows     []map[string]string
}

// Headers returns the column headers in order.
func (t Table) Headers() []string {
	out := make([]string, len(t.Columns))
	for i, col := range t.Columns {
		out[i] = col.Header
	}
	return out
}

// Record returns row values ordered by column.
func (t Table) Record(row map[string]string) []string {
	out := make([]string, len(t.Columns))
	for i, col := range t.Columns {
		out[i] = row[col.Key]
	}
	return out
}

// Renderer turns a table into a document.
type Renderer interface {
	Render(t Table) ([]byte, error)
	ContentType() string
	Extension() string
}
