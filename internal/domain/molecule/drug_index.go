package molecule

import (
	"encoding/csv"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/turtacn/DDI-Intelligence/pkg/errors"
)

// Reference table columns.
const (
	ColumnDrugName = "Name"
	ColumnDrugID   = "Drug name"
	ColumnSMILES   = "Smiles"
)

// MaxSearchResults caps DrugIndex.Search.
const MaxSearchResults = 20

// DrugIndex maps drug names and identifiers to structure strings. It is
// immutable after construction and safe for concurrent reads. Lookups are
// case-sensitive on the raw key.
type DrugIndex struct {
	entries map[string]string
	keys    []string // sorted
}

// NewDrugIndex copies entries into a new index. Empty keys and empty
// structures are dropped.
func NewDrugIndex(entries map[string]string) *DrugIndex {
	m := make(map[string]string, len(entries))
	for k, v := range entries {
		if k == "" || v == "" {
			continue
		}
		m[k] = v
	}
	return newDrugIndex(m)
}

func newDrugIndex(m map[string]string) *DrugIndex {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return &DrugIndex{entries: m, keys: keys}
}

// LoadDrugIndexCSV reads a reference table with Name, Drug name and Smiles
// columns. Both the name and the identifier of each row become keys; a later
// row overrides an earlier one for the same key.
func LoadDrugIndexCSV(r io.Reader) (*DrugIndex, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	header, err := cr.Read()
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeCorpusSchema, "read reference header")
	}
	cols, err := columnIndex(header, ColumnDrugName, ColumnDrugID, ColumnSMILES)
	if err != nil {
		return nil, err
	}
	nameCol, idCol, smilesCol := cols[0], cols[1], cols[2]

	m := make(map[string]string)
	line := 1
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		line++
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeCorpusSchema, "read reference row").
				WithDetailf("line=%d", line)
		}
		smiles := strings.TrimSpace(field(rec, smilesCol))
		if smiles == "" {
			continue
		}
		if name := field(rec, nameCol); name != "" {
			m[name] = smiles
		}
		if id := field(rec, idCol); id != "" {
			m[id] = smiles
		}
	}
	return newDrugIndex(m), nil
}

// Resolve returns the structure for a drug name or identifier.
func (d *DrugIndex) Resolve(nameOrID string) (string, error) {
	if s, ok := d.entries[nameOrID]; ok {
		return s, nil
	}
	return "", errors.UnknownDrug(nameOrID)
}

// Lookup is Resolve without an error value.
func (d *DrugIndex) Lookup(nameOrID string) (string, bool) {
	s, ok := d.entries[nameOrID]
	return s, ok
}

// Len returns the number of keys.
func (d *DrugIndex) Len() int { return len(d.entries) }

// Keys returns all keys in sorted order.
func (d *DrugIndex) Keys() []string {
	out := make([]string, len(d.keys))
	copy(out, d.keys)
	return out
}

// Entries returns a copy of the key → structure map.
func (d *DrugIndex) Entries() map[string]string {
	out := make(map[string]string, len(d.entries))
	for k, v := range d.entries {
		out[k] = v
	}
	return out
}

// Search returns up to limit keys containing query, case-insensitively, in
// sorted order. Queries shorter than two characters return nothing. A
// non-positive limit selects MaxSearchResults.
func (d *DrugIndex) Search(query string, limit int) []string {
	if len([]rune(query)) < 2 {
		return []string{}
	}
	if limit <= 0 || limit > MaxSearchResults {
		limit = MaxSearchResults
	}
	q := strings.ToLower(query)
	out := make([]string, 0, limit)
	for _, k := range d.keys {
		if strings.Contains(strings.ToLower(k), q) {
			out = append(out, k)
			if len(out) == limit {
				break
			}
		}
	}
	return out
}

// Equal reports whether both indexes hold the same mappings.
func (d *DrugIndex) Equal(other *DrugIndex) bool {
	if d == nil || other == nil {
		return d == other
	}
	if len(d.entries) != len(other.entries) {
		return false
	}
	for k, v := range d.entries {
		if other.entries[k] != v {
			return false
		}
	}
	return true
}

func columnIndex(header []string, names ...string) ([]int, error) {
	pos := make(map[string]int, len(header))
	for i, h := range header {
		pos[strings.TrimSpace(strings.TrimPrefix(h, "\ufeff"))] = i
	}
	out := make([]int, len(names))
	var missing []string
	for i, n := range names {
		idx, ok := pos[n]
		if !ok {
			missing = append(missing, n)
			continue
		}
		out[i] = idx
	}
	if len(missing) > 0 {
		return nil, errors.New(errors.ErrCodeCorpusSchema, "missing required columns").
			WithDetail(fmt.Sprintf("missing=%q", missing))
	}
	return out, nil
}

func field(rec []string, idx int) string {
	if idx >= len(rec) {
		return ""
	}
	return rec[idx]
}
