package ml

import (
	"errors"
	"sort"
)

// CategoryEncoding maps the closed set of labels observed for one field to codes 0..N-1.
// Codes follow the byte order of the canonical labels, so fitting is independent of row order.
// It is immutable once built and safe for concurrent readers.
type CategoryEncoding struct {
	field  string
	labels []string
	codes  map[string]int
}

// NewCategoryEncoding builds an encoding from every label observed for field. Empty labels are ignored;
// labels that differ only by case or alias collapse onto the first canonical spelling in sorted order.
func NewCategoryEncoding(field string, observed []string) (*CategoryEncoding, error) {
	canonical := make([]string, 0, len(observed))
	for _, raw := range observed {
		label := CanonicalLabel(field, raw)
		if label == "" {
			continue
		}
		canonical = append(canonical, label)
	}
	if len(canonical) == 0 {
		return nil, errors.New("no labels observed for " + field)
	}
	sort.Strings(canonical)

	enc := &CategoryEncoding{
		field:  field,
		labels: make([]string, 0, len(canonical)),
		codes:  make(map[string]int, len(canonical)),
	}
	for _, label := range canonical {
		key := foldKey(label)
		if _, seen := enc.codes[key]; seen {
			continue
		}
		enc.codes[key] = len(enc.labels)
		enc.labels = append(enc.labels, label)
	}
	return enc, nil
}

// Code looks raw up after normalization. Unseen labels fail; there is no fallback code.
func (c *CategoryEncoding) Code(raw string) (int, error) {
	label := CanonicalLabel(c.field, raw)
	if label == "" {
		return 0, missingField(c.field)
	}
	code, ok := c.codes[foldKey(label)]
	if !ok {
		return 0, &UnknownCategoryError{Field: c.field, Value: raw}
	}
	return code, nil
}

func (c *CategoryEncoding) Field() string {
	return c.field
}

func (c *CategoryEncoding) Len() int {
	return len(c.labels)
}

// Labels returns the canonical labels indexed by code.
func (c *CategoryEncoding) Labels() []string {
	return append([]string(nil), c.labels...)
}
