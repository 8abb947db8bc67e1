package attribute

import (
	"strings"

	"github.com/rotisserie/eris"
)

// RowOptions describes how a header plus rows maps onto a Table.
//
// A header of exactly key, variable and value columns (in any order) is read
// as long format: one value per row. Any other header is wide format: one
// region per row and one variable per non-key column.
type RowOptions struct {
	// KeyColumn names the region key column. Defaults to "key", falling
	// back to the first column.
	KeyColumn string
	// Category prefixes wide-format variable names as "category.column".
	Category string
}

// FromRows fills t from a header and data rows.
func FromRows(t *Table, header []string, rows [][]string, opts RowOptions) error {
	if len(header) < 2 {
		return eris.New("attribute: table needs a key column and at least one value column")
	}
	cols := make(map[string]int, len(header))
	for i, h := range header {
		cols[strings.ToLower(strings.TrimSpace(h))] = i
	}

	keyName := strings.ToLower(opts.KeyColumn)
	if keyName == "" {
		keyName = "key"
	}
	keyIdx, ok := cols[keyName]
	if !ok {
		if opts.KeyColumn != "" {
			return eris.Errorf("attribute: key column %q not found", opts.KeyColumn)
		}
		keyIdx = 0
	}

	varIdx, hasVar := cols["variable"]
	valIdx, hasVal := cols["value"]

	t.mu.Lock()
	defer t.mu.Unlock()

	if hasVar && hasVal && len(header) == 3 {
		for _, row := range rows {
			if len(row) < 3 {
				continue
			}
			v, ok := parseValue(row[valIdx])
			if !ok {
				continue
			}
			t.set(normalize(row[keyIdx]), strings.TrimSpace(row[varIdx]), v)
		}
		return nil
	}

	names := make([]string, len(header))
	for i, h := range header {
		name := strings.TrimSpace(h)
		if opts.Category != "" {
			name = opts.Category + "." + name
		}
		names[i] = name
	}
	for _, row := range rows {
		if keyIdx >= len(row) {
			continue
		}
		key := normalize(row[keyIdx])
		if key == "" {
			continue
		}
		for i, cell := range row {
			if i == keyIdx || i >= len(names) {
				continue
			}
			if v, ok := parseValue(cell); ok {
				t.set(key, names[i], v)
			}
		}
	}
	return nil
}
