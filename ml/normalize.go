package ml

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

// fatContentAliases maps folded spellings seen in the historical data onto the two canonical labels.
var fatContentAliases = map[string]string{
	"lf":       "Low Fat",
	"low fat":  "Low Fat",
	"low-fat":  "Low Fat",
	"low_fat":  "Low Fat",
	"lowfat":   "Low Fat",
	"reg":      "Regular",
	"regular":  "Regular",
	"regular.": "Regular",
}

// CleanLabel applies NFKC normalization, trims the value and collapses runs of whitespace.
func CleanLabel(raw string) string {
	return strings.Join(strings.Fields(norm.NFKC.String(raw)), " ")
}

// CanonicalLabel returns the spelling a label is stored under for field.
func CanonicalLabel(field, raw string) string {
	label := CleanLabel(raw)
	if field == FieldItemFatContent {
		if alias, ok := fatContentAliases[foldKey(label)]; ok {
			return alias
		}
	}
	return label
}

// foldKey is the case-insensitive key labels are matched on. A Caser keeps state, so one is built per call.
func foldKey(label string) string {
	return cases.Fold().String(CleanLabel(label))
}
