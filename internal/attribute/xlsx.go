package attribute

import (
	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"
)

// XLSXOptions configures ReadXLSX.
type XLSXOptions struct {
	RowOptions
	SheetIndex int    // default 0
	SheetName  string // if set, overrides SheetIndex
}

// ReadXLSX reads one sheet of a workbook into t. The first row is the header.
func ReadXLSX(t *Table, path string, opts XLSXOptions) error {
	f, err := xlsx.OpenFile(path)
	if err != nil {
		return eris.Wrap(err, "attribute: open xlsx")
	}

	sheet, err := getSheet(f, opts)
	if err != nil {
		return err
	}
	if len(sheet.Rows) == 0 {
		return eris.Errorf("attribute: sheet %q is empty", sheet.Name)
	}

	rows := make([][]string, 0, len(sheet.Rows)-1)
	for _, row := range sheet.Rows[1:] {
		rows = append(rows, rowToStrings(row))
	}
	return FromRows(t, rowToStrings(sheet.Rows[0]), rows, opts.RowOptions)
}

func getSheet(f *xlsx.File, opts XLSXOptions) (*xlsx.Sheet, error) {
	if opts.SheetName != "" {
		sheet, ok := f.Sheet[opts.SheetName]
		if !ok {
			return nil, eris.Errorf("attribute: sheet %q not found", opts.SheetName)
		}
		return sheet, nil
	}
	if opts.SheetIndex >= len(f.Sheets) {
		return nil, eris.Errorf("attribute: sheet index %d out of range (file has %d sheets)", opts.SheetIndex, len(f.Sheets))
	}
	return f.Sheets[opts.SheetIndex], nil
}

func rowToStrings(row *xlsx.Row) []string {
	cells := make([]string, len(row.Cells))
	for j, cell := range row.Cells {
		cells[j] = cell.String()
	}
	return cells
}
