// Package attribute turns per-region data tables into flat lookup buffers
// indexed by region.
package attribute

import (
	"fmt"
	"math"
	"slices"
	"strconv"
	"strings"
	"sync"

	"github.com/sells-group/livability/internal/region"
)

// Table holds numeric variables per region key. Heterogeneous records are
// flattened into "category.field" variables.
type Table struct {
	mu        sync.RWMutex
	records   map[string]map[string]float64
	variables map[string]struct{}
	version   uint64
}

// NewTable creates an empty table.
func NewTable() *Table {
	return &Table{
		records:   make(map[string]map[string]float64),
		variables: make(map[string]struct{}),
	}
}

func normalize(key string) string { return region.NormalizeKey(key) }

// Set stores one value. Keys are normalized with region.NormalizeKey.
func (t *Table) Set(key, variable string, value float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.set(normalize(key), variable, value)
}

func (t *Table) set(key, variable string, value float64) {
	rec, ok := t.records[key]
	if !ok {
		rec = make(map[string]float64)
		t.records[key] = rec
	}
	rec[variable] = value
	t.variables[variable] = struct{}{}
	t.version++
}

// SetGroup flattens one typed record group into variables prefixed with
// category. Nested maps extend the prefix. Numbers are stored as is, booleans
// as 0 or 1 and numeric strings parsed; anything else is skipped.
func (t *Table) SetGroup(key, category string, fields map[string]any) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.setGroup(normalize(key), category, fields)
}

func (t *Table) setGroup(key, prefix string, fields map[string]any) {
	for name, raw := range fields {
		variable := name
		if prefix != "" {
			variable = prefix + "." + name
		}
		if nested, ok := raw.(map[string]any); ok {
			t.setGroup(key, variable, nested)
			continue
		}
		if v, ok := numeric(raw); ok {
			t.set(key, variable, v)
		}
	}
}

func numeric(raw any) (float64, bool) {
	switch v := raw.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int32:
		return float64(v), true
	case int64:
		return float64(v), true
	case bool:
		if v {
			return 1, true
		}
		return 0, true
	case string:
		return parseValue(v)
	default:
		return 0, false
	}
}

// parseValue parses a table cell. Empty cells and the usual missing-data
// markers are not values.
func parseValue(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	switch strings.ToLower(s) {
	case "", "na", "n/a", "nan", "null", "-":
		return 0, false
	}
	v, err := strconv.ParseFloat(strings.ReplaceAll(s, "'", ""), 64)
	if err != nil || math.IsInf(v, 0) {
		return 0, false
	}
	return v, true
}

// Get returns the value of variable for key.
func (t *Table) Get(key, variable string) (float64, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	v, ok := t.records[normalize(key)][variable]
	return v, ok
}

// Variables lists every variable in the table, sorted.
func (t *Table) Variables() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]string, 0, len(t.variables))
	for v := range t.variables {
		out = append(out, v)
	}
	slices.Sort(out)
	return out
}

// HasVariable reports whether any record carries variable.
func (t *Table) HasVariable(variable string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.variables[variable]
	return ok
}

// Len returns the number of region keys.
func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.records)
}

// Version increases on every mutation.
func (t *Table) Version() uint64 {
	if t == nil {
		return 0
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.version
}

// Each calls fn for every stored value in key then variable order.
func (t *Table) Each(fn func(key, variable string, value float64)) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	keys := make([]string, 0, len(t.records))
	for k := range t.records {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	for _, k := range keys {
		rec := t.records[k]
		vars := make([]string, 0, len(rec))
		for v := range rec {
			vars = append(vars, v)
		}
		slices.Sort(vars)
		for _, v := range vars {
			fn(k, v, rec[v])
		}
	}
}

// Merge copies every value of other into t.
func (t *Table) Merge(other *Table) {
	if other == nil || other == t {
		return
	}
	other.Each(func(key, variable string, value float64) {
		t.mu.Lock()
		t.set(key, variable, value)
		t.mu.Unlock()
	})
}

func (t *Table) String() string {
	return fmt.Sprintf("attribute table (%d regions, %d variables)", t.Len(), len(t.Variables()))
}
