package attribute

import (
	"encoding/json"
	"io"

	"github.com/rotisserie/eris"
)

// ReadJSON reads heterogeneous typed records into t. The document maps each
// region key to its record groups:
//
//	{"Bern": {"votes": {"yes": 52.1}, "economy": {"tax_rate": 1.54}}}
//
// Groups are flattened to "votes.yes" and "economy.tax_rate".
func ReadJSON(t *Table, r io.Reader) error {
	var doc map[string]map[string]any
	if err := json.NewDecoder(r).Decode(&doc); err != nil {
		return eris.Wrap(err, "attribute: decode json")
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	for key, groups := range doc {
		t.setGroup(normalize(key), "", groups)
	}
	return nil
}
