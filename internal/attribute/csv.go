package attribute

import (
	"encoding/csv"
	"io"

	"github.com/rotisserie/eris"
)

// CSVOptions configures ReadCSV.
type CSVOptions struct {
	RowOptions
	Delimiter rune // default ','
	Comment   rune // comment character (0 = none)
}

// ReadCSV reads a long or wide format CSV with a header row into t.
func ReadCSV(t *Table, r io.Reader, opts CSVOptions) error {
	reader := csv.NewReader(r)
	if opts.Delimiter != 0 {
		reader.Comma = opts.Delimiter
	}
	reader.Comment = opts.Comment
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	records, err := reader.ReadAll()
	if err != nil {
		return eris.Wrap(err, "attribute: read csv")
	}
	if len(records) == 0 {
		return eris.New("attribute: csv is empty")
	}
	return FromRows(t, records[0], records[1:], opts.RowOptions)
}
