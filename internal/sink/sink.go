// Package sink writes finalized tables to delimited or spreadsheet files.
package sink

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/tealeg/xlsx/v2"
	"go.uber.org/zap"

	"marketscan/internal/table"
)

// Format is an output file format.
type Format string

const (
	FormatCSV  Format = "csv"
	FormatXLSX Format = "xlsx"
)

// FormatFor picks the format from a file extension.
func FormatFor(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv":
		return FormatCSV, nil
	case ".xlsx":
		return FormatXLSX, nil
	default:
		return "", fmt.Errorf("sink: unsupported output extension %q (want .csv or .xlsx)", filepath.Ext(path))
	}
}

// Save writes tables to path in the format its extension names. An XLSX
// file gets one sheet per table. A CSV path with several tables writes one
// file per table, suffixing each file name with the table name.
func Save(path string, tables ...*table.Table) error {
	if len(tables) == 0 {
		return fmt.Errorf("sink: no tables to write")
	}
	format, err := FormatFor(path)
	if err != nil {
		return err
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("sink: create output directory: %w", err)
		}
	}

	switch format {
	case FormatXLSX:
		return SaveXLSX(path, tables...)
	default:
		if len(tables) == 1 {
			return SaveCSV(path, tables[0])
		}
		base := strings.TrimSuffix(path, filepath.Ext(path))
		for _, t := range tables {
			if err := SaveCSV(fmt.Sprintf("%s_%s.csv", base, slug(t.Name)), t); err != nil {
				return err
			}
		}
		return nil
	}
}

// SaveCSV writes t to a CSV file at path.
func SaveCSV(path string, t *table.Table) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("sink: create %s: %w", path, err)
	}
	defer f.Close()

	if err := WriteCSV(f, t); err != nil {
		return err
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("sink: close %s: %w", path, err)
	}

	zap.L().Info("table written",
		zap.String("path", path),
		zap.String("table", t.Name),
		zap.Int("rows", len(t.Rows)),
	)
	return nil
}

// WriteCSV writes the header and every row of t to w.
func WriteCSV(w io.Writer, t *table.Table) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(t.Columns); err != nil {
		return fmt.Errorf("sink: write csv header: %w", err)
	}
	if err := cw.WriteAll(t.Strings()); err != nil {
		return fmt.Errorf("sink: write csv rows: %w", err)
	}
	return nil
}

// SaveXLSX writes each table to its own sheet of one workbook.
func SaveXLSX(path string, tables ...*table.Table) error {
	f, err := Workbook(tables...)
	if err != nil {
		return err
	}
	if err := f.Save(path); err != nil {
		return fmt.Errorf("sink: save %s: %w", path, err)
	}

	for _, t := range tables {
		zap.L().Info("table written",
			zap.String("path", path),
			zap.String("sheet", t.Name),
			zap.Int("rows", len(t.Rows)),
		)
	}
	return nil
}

// Workbook builds an in-memory workbook with one sheet per table.
func Workbook(tables ...*table.Table) (*xlsx.File, error) {
	f := xlsx.NewFile()
	for i, t := range tables {
		name := sheetName(t.Name, i)
		sheet, err := f.AddSheet(name)
		if err != nil {
			return nil, fmt.Errorf("sink: add sheet %q: %w", name, err)
		}

		header := sheet.AddRow()
		for _, col := range t.Columns {
			header.AddCell().SetString(col)
		}

		for _, row := range t.Rows {
			r := sheet.AddRow()
			for _, c := range row {
				setCell(r.AddCell(), c)
			}
		}
	}
	return f, nil
}

func setCell(cell *xlsx.Cell, c table.Cell) {
	switch c.Kind {
	case table.KindNumber:
		cell.SetFloat(c.Number)
	case table.KindBool:
		cell.SetBool(c.Bool)
	default:
		cell.SetString(c.String())
	}
}

// Excel sheet names are limited to 31 characters.
func sheetName(name string, index int) string {
	if name == "" {
		name = fmt.Sprintf("Sheet%d", index+1)
	}
	if len(name) > 31 {
		name = name[:31]
	}
	return name
}

func slug(name string) string {
	return strings.ToLower(strings.Join(strings.Fields(name), "_"))
}
