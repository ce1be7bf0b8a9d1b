package ml

import "fmt"

// Variant selects which request shape and feature schema a process serves.
type Variant string

const (
	VariantRating    Variant = "rating"
	VariantOutletAge Variant = "outlet_age"
)

// Request field names. They double as feature names in a FeatureSchema.
const (
	FieldItemWeight              = "item_weight"
	FieldItemVisibility          = "item_visibility"
	FieldItemFatContent          = "item_fat_content"
	FieldItemType                = "item_type"
	FieldOutletSize              = "outlet_size"
	FieldOutletLocationType      = "outlet_location_type"
	FieldOutletType              = "outlet_type"
	FieldRating                  = "rating"
	FieldOutletEstablishmentYear = "outlet_establishment_year"
	FieldOutletAge               = "outlet_age"
)

// DefaultReferenceYear is the year outlet ages were computed against when the bundled model was trained.
const DefaultReferenceYear = 2025

// FeatureSchema pins the order and count of a FeatureVector. Models record the schema version they were
// trained with and are refused when it differs from the encoder's.
type FeatureSchema struct {
	Version     string   `json:"version"`
	Variant     Variant  `json:"variant"`
	Features    []string `json:"features"`
	Categorical []string `json:"categorical"`
}

var schemas = map[Variant]FeatureSchema{
	VariantRating: {
		Version: "v1-rating",
		Variant: VariantRating,
		Features: []string{
			FieldItemWeight,
			FieldItemVisibility,
			FieldItemType,
			FieldOutletSize,
			FieldOutletLocationType,
			FieldOutletType,
			FieldRating,
		},
		Categorical: []string{
			FieldItemType,
			FieldOutletSize,
			FieldOutletLocationType,
			FieldOutletType,
		},
	},
	VariantOutletAge: {
		Version: "v2-outlet-age",
		Variant: VariantOutletAge,
		Features: []string{
			FieldItemWeight,
			FieldItemVisibility,
			FieldItemFatContent,
			FieldItemType,
			FieldOutletSize,
			FieldOutletLocationType,
			FieldOutletType,
			FieldOutletAge,
		},
		Categorical: []string{
			FieldItemFatContent,
			FieldItemType,
			FieldOutletSize,
			FieldOutletLocationType,
			FieldOutletType,
		},
	},
}

// SchemaFor returns a copy of the schema registered for variant.
func SchemaFor(variant Variant) (FeatureSchema, error) {
	schema, ok := schemas[variant]
	if !ok {
		return FeatureSchema{}, fmt.Errorf("unknown variant %q", variant)
	}
	return schema.clone(), nil
}

// ParseVariant accepts the names used in configuration and CLI flags.
func ParseVariant(name string) (Variant, error) {
	v := Variant(name)
	if _, ok := schemas[v]; !ok {
		return "", fmt.Errorf("unknown variant %q (want %q or %q)", name, VariantRating, VariantOutletAge)
	}
	return v, nil
}

func (s FeatureSchema) clone() FeatureSchema {
	s.Features = append([]string(nil), s.Features...)
	s.Categorical = append([]string(nil), s.Categorical...)
	return s
}

// Matches reports whether names is exactly the schema's feature list.
func (s FeatureSchema) Matches(version string, names []string) bool {
	if version != s.Version || len(names) != len(s.Features) {
		return false
	}
	for i, name := range names {
		if s.Features[i] != name {
			return false
		}
	}
	return true
}

func (s FeatureSchema) isCategorical(field string) bool {
	for _, name := range s.Categorical {
		if name == field {
			return true
		}
	}
	return false
}
