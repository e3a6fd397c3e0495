// Package table is the finalized, sink-ready form of a job's result.
package table

import (
	"fmt"
	"strconv"

	"marketscan/internal/field"
)

// Kind is the type of a cell.
type Kind int

const (
	KindAbsent Kind = iota
	KindText
	KindNumber
	KindBool
)

// Absent is how a missing value is rendered.
const Absent = "N/A"

// Cell is one value of a row.
type Cell struct {
	Kind   Kind
	Text   string
	Number float64
	Bool   bool

	// Precision is the number of decimals used when rendering a number as
	// text. Negative means the shortest exact representation.
	Precision int
}

// Text returns a text cell.
func Text(s string) Cell {
	return Cell{Kind: KindText, Text: s}
}

// Number returns a number cell rendered with the shortest representation.
func Number(f float64) Cell {
	return Cell{Kind: KindNumber, Number: f, Precision: -1}
}

// Fixed returns a number cell rendered with prec decimals.
func Fixed(f float64, prec int) Cell {
	return Cell{Kind: KindNumber, Number: f, Precision: prec}
}

// Int returns a number cell holding an integer.
func Int(n int64) Cell {
	return Cell{Kind: KindNumber, Number: float64(n), Precision: 0}
}

// Bool returns a boolean cell.
func Bool(b bool) Cell {
	return Cell{Kind: KindBool, Bool: b}
}

// Missing returns an absent cell.
func Missing() Cell {
	return Cell{Kind: KindAbsent}
}

// Opt returns a number cell for a present value, otherwise an absent cell.
func Opt(o field.Opt[float64], prec int) Cell {
	if v, ok := o.Get(); ok {
		return Fixed(v, prec)
	}
	return Missing()
}

// OptText returns a text cell for a present value, otherwise an absent cell.
func OptText(o field.Opt[string]) Cell {
	if v, ok := o.Get(); ok {
		return Text(v)
	}
	return Missing()
}

// String renders the cell for delimited output.
func (c Cell) String() string {
	switch c.Kind {
	case KindText:
		return c.Text
	case KindNumber:
		return strconv.FormatFloat(c.Number, 'f', c.Precision, 64)
	case KindBool:
		if c.Bool {
			return "True"
		}
		return "False"
	default:
		return Absent
	}
}

// Table is a named grid with a header row.
type Table struct {
	Name    string
	Columns []string
	Rows    [][]Cell
}

// New creates an empty table with the given columns.
func New(name string, columns ...string) *Table {
	return &Table{Name: name, Columns: columns}
}

// Append adds a row. The row must have one cell per column.
func (t *Table) Append(cells ...Cell) error {
	if len(cells) != len(t.Columns) {
		return fmt.Errorf("table %s: row has %d cells, want %d", t.Name, len(cells), len(t.Columns))
	}
	t.Rows = append(t.Rows, cells)
	return nil
}

// MustAppend is Append for rows built from a fixed column list.
func (t *Table) MustAppend(cells ...Cell) {
	if err := t.Append(cells...); err != nil {
		panic(err)
	}
}

// Strings renders every row as text.
func (t *Table) Strings() [][]string {
	out := make([][]string, len(t.Rows))
	for i, row := range t.Rows {
		line := make([]string, len(row))
		for j, c := range row {
			line[j] = c.String()
		}
		out[i] = line
	}
	return out
}
