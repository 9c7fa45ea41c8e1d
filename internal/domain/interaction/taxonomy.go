package interaction

import (
	"fmt"
	"sort"

	"github.com/turtacn/DDI-Intelligence/pkg/errors"
	itypes "github.com/turtacn/DDI-Intelligence/pkg/types/interaction"
)

// Taxonomy is the frozen label ↔ index mapping. It is fitted once over the
// observed training labels (sorted unique order) and then only read.
type Taxonomy struct {
	labels []itypes.SeverityLabel
	index  map[itypes.SeverityLabel]int
}

// NewTaxonomy builds a taxonomy with the given order. Labels must be valid
// and unique.
func NewTaxonomy(labels []itypes.SeverityLabel) (*Taxonomy, error) {
	if len(labels) == 0 {
		return nil, errors.New(errors.ErrCodeTaxonomyMismatch, "taxonomy must not be empty")
	}
	t := &Taxonomy{
		labels: make([]itypes.SeverityLabel, len(labels)),
		index:  make(map[itypes.SeverityLabel]int, len(labels)),
	}
	for i, l := range labels {
		if !l.IsValid() {
			return nil, errors.New(errors.ErrCodeTaxonomyMismatch, "unknown label in taxonomy").
				WithDetailf("label=%q", l)
		}
		if _, dup := t.index[l]; dup {
			return nil, errors.New(errors.ErrCodeTaxonomyMismatch, "duplicate label in taxonomy").
				WithDetailf("label=%q", l)
		}
		t.labels[i] = l
		t.index[l] = i
	}
	return t, nil
}

// FitTaxonomy derives the taxonomy from observed labels: unique values in
// sorted order.
func FitTaxonomy(observed []itypes.SeverityLabel) (*Taxonomy, error) {
	seen := make(map[itypes.SeverityLabel]struct{})
	for _, l := range observed {
		seen[l] = struct{}{}
	}
	uniq := make([]itypes.SeverityLabel, 0, len(seen))
	for l := range seen {
		uniq = append(uniq, l)
	}
	sort.Slice(uniq, func(i, j int) bool { return uniq[i] < uniq[j] })
	return NewTaxonomy(uniq)
}

// Len returns the number of classes.
func (t *Taxonomy) Len() int { return len(t.labels) }

// Labels returns a copy of the ordered labels.
func (t *Taxonomy) Labels() []itypes.SeverityLabel {
	out := make([]itypes.SeverityLabel, len(t.labels))
	copy(out, t.labels)
	return out
}

// Label returns the label at index i.
func (t *Taxonomy) Label(i int) itypes.SeverityLabel { return t.labels[i] }

// Index returns the index of l.
func (t *Taxonomy) Index(l itypes.SeverityLabel) (int, bool) {
	i, ok := t.index[l]
	return i, ok
}

// Encode maps labels to indices.
func (t *Taxonomy) Encode(labels []itypes.SeverityLabel) ([]int, error) {
	out := make([]int, len(labels))
	for i, l := range labels {
		idx, ok := t.index[l]
		if !ok {
			return nil, errors.New(errors.ErrCodeTaxonomyMismatch, "label not in taxonomy").
				WithDetailf("label=%q", l)
		}
		out[i] = idx
	}
	return out, nil
}

// Equal reports whether both taxonomies have the same labels in the same order.
func (t *Taxonomy) Equal(other *Taxonomy) bool {
	if t == nil || other == nil {
		return t == other
	}
	if len(t.labels) != len(other.labels) {
		return false
	}
	for i := range t.labels {
		if t.labels[i] != other.labels[i] {
			return false
		}
	}
	return true
}

func (t *Taxonomy) String() string { return fmt.Sprint(t.labels) }

// Distribution counts occurrences of each taxonomy label in encoded targets.
func (t *Taxonomy) Distribution(y []int) []itypes.ClassCount {
	counts := make([]int, len(t.labels))
	for _, c := range y {
		if c >= 0 && c < len(counts) {
			counts[c]++
		}
	}
	out := make([]itypes.ClassCount, len(t.labels))
	for i, l := range t.labels {
		pct := 0.0
		if len(y) > 0 {
			pct = float64(counts[i]) / float64(len(y)) * 100
		}
		out[i] = itypes.ClassCount{Label: l, Count: counts[i], Percent: pct}
	}
	return out
}
