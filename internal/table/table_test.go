package table

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"marketscan/internal/field"
)

func TestCell_String(t *testing.T) {
	tests := []struct {
		name string
		cell Cell
		want string
	}{
		{"text", Text("AAPL"), "AAPL"},
		{"number", Number(0.125), "0.125"},
		{"fixed", Fixed(2.0/3.0, 4), "0.6667"},
		{"int", Int(1500), "1500"},
		{"true", Bool(true), "True"},
		{"false", Bool(false), "False"},
		{"missing", Missing(), "N/A"},
		{"opt present", Opt(field.Some(1.5), 2), "1.50"},
		{"opt absent", Opt(field.None[float64](), 2), "N/A"},
		{"opt text absent", OptText(field.None[string]()), "N/A"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.cell.String())
		})
	}
}

func TestTable_Append(t *testing.T) {
	tbl := New("calls", "Ticker", "Strike")
	require.NoError(t, tbl.Append(Text("NU"), Number(12.5)))
	assert.Error(t, tbl.Append(Text("NU")))

	assert.Equal(t, [][]string{{"NU", "12.5"}}, tbl.Strings())
	assert.Panics(t, func() { tbl.MustAppend(Text("x")) })
}
