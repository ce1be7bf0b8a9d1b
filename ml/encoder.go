package ml

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// FeatureVector is the fixed-order model input produced by an Encoder.
type FeatureVector struct {
	Schema string
	Values []float64
}

// Key is a stable textual form of the vector, used for result caching.
func (v FeatureVector) Key() string {
	parts := make([]string, len(v.Values))
	for i, value := range v.Values {
		parts[i] = strconv.FormatFloat(value, 'g', -1, 64)
	}
	return v.Schema + ":" + strings.Join(parts, ",")
}

type FitOptions struct {
	Variant       Variant
	ReferenceYear int
}

// Encoder turns PredictionRequests into FeatureVectors. It is built once by Fit and never mutated,
// so one instance can be shared by every request goroutine.
type Encoder struct {
	schema        FeatureSchema
	referenceYear int
	encodings     map[string]*CategoryEncoding
	weightMean    float64
	rows          int
}

// Fit scans the historical rows and builds one CategoryEncoding per categorical field of the variant.
func Fit(rows []HistoricalRow, opts FitOptions) (*Encoder, error) {
	if len(rows) == 0 {
		return nil, errors.New("historical rows is empty")
	}
	schema, err := SchemaFor(opts.Variant)
	if err != nil {
		return nil, err
	}
	if opts.ReferenceYear <= 0 {
		opts.ReferenceYear = DefaultReferenceYear
	}
	mean, ok := MeanWeight(rows)
	if !ok {
		return nil, errors.New("no item weights present in historical rows")
	}

	enc := &Encoder{
		schema:        schema,
		referenceYear: opts.ReferenceYear,
		encodings:     make(map[string]*CategoryEncoding, len(schema.Categorical)),
		weightMean:    mean,
		rows:          len(rows),
	}
	for _, field := range schema.Categorical {
		observed := make([]string, len(rows))
		for i, row := range rows {
			observed[i] = row.Category(field)
		}
		encoding, err := NewCategoryEncoding(field, observed)
		if err != nil {
			return nil, err
		}
		enc.encodings[field] = encoding
	}
	return enc, nil
}

// Encode validates req and produces its feature vector in schema order.
func (e *Encoder) Encode(req PredictionRequest) (FeatureVector, error) {
	if err := req.Validate(e.schema.Variant); err != nil {
		return FeatureVector{}, err
	}
	values := make([]float64, len(e.schema.Features))
	for i, name := range e.schema.Features {
		switch name {
		case FieldItemWeight:
			values[i] = req.ItemWeight
		case FieldItemVisibility:
			values[i] = req.ItemVisibility
		case FieldRating:
			values[i] = *req.Rating
		case FieldOutletAge:
			age, err := e.OutletAge(*req.OutletEstablishmentYear)
			if err != nil {
				return FeatureVector{}, err
			}
			values[i] = float64(age)
		default:
			code, err := e.encodings[name].Code(requestCategory(req, name))
			if err != nil {
				return FeatureVector{}, err
			}
			values[i] = float64(code)
		}
	}
	return FeatureVector{Schema: e.schema.Version, Values: values}, nil
}

// EncodeRow encodes a historical row the same way requests are encoded, filling a missing
// weight with the historical mean. Training uses it so both sides share one schema.
func (e *Encoder) EncodeRow(row HistoricalRow) (FeatureVector, error) {
	req := PredictionRequest{
		ItemWeight:         row.ItemWeight,
		ItemVisibility:     row.ItemVisibility,
		ItemType:           row.ItemType,
		OutletSize:         row.OutletSize,
		OutletLocationType: row.OutletLocationType,
		OutletType:         row.OutletType,
	}
	if row.WeightMissing {
		req.ItemWeight = e.weightMean
	}
	if e.schema.Variant == VariantOutletAge {
		req.ItemFatContent = row.ItemFatContent
		year := row.OutletEstablishmentYear
		req.OutletEstablishmentYear = &year
	} else {
		rating := row.Rating
		req.Rating = &rating
	}
	return e.Encode(req)
}

// OutletAge is reference year minus establishment year.
func (e *Encoder) OutletAge(establishmentYear int) (int, error) {
	if establishmentYear > e.referenceYear {
		return 0, &InvalidInputError{
			Field:  FieldOutletEstablishmentYear,
			Value:  strconv.Itoa(establishmentYear),
			Reason: fmt.Sprintf("must not be after %d", e.referenceYear),
		}
	}
	return e.referenceYear - establishmentYear, nil
}

func (e *Encoder) Schema() FeatureSchema {
	return e.schema.clone()
}

func (e *Encoder) ReferenceYear() int {
	return e.referenceYear
}

func (e *Encoder) WeightMean() float64 {
	return e.weightMean
}

// Encoding returns the fitted encoding for a categorical field, or nil.
func (e *Encoder) Encoding(field string) *CategoryEncoding {
	return e.encodings[field]
}

// EncoderSnapshot is the serializable description of a fitted encoder.
type EncoderSnapshot struct {
	Schema        FeatureSchema       `json:"schema"`
	ReferenceYear int                 `json:"reference_year"`
	Ordering      string              `json:"ordering"`
	Categories    map[string][]string `json:"categories"`
	WeightMean    float64             `json:"weight_mean"`
	Rows          int                 `json:"rows"`
}

func (e *Encoder) Snapshot() EncoderSnapshot {
	categories := make(map[string][]string, len(e.encodings))
	for field, encoding := range e.encodings {
		categories[field] = encoding.Labels()
	}
	return EncoderSnapshot{
		Schema:        e.Schema(),
		ReferenceYear: e.referenceYear,
		Ordering:      "sorted",
		Categories:    categories,
		WeightMean:    e.weightMean,
		Rows:          e.rows,
	}
}

// Fingerprint identifies everything that changes encoder output: schema, reference year and the
// code assignment of every categorical field. Models store it and are refused on mismatch.
func (e *Encoder) Fingerprint() string {
	payload, _ := json.Marshal(struct {
		Schema        FeatureSchema       `json:"schema"`
		ReferenceYear int                 `json:"reference_year"`
		Categories    map[string][]string `json:"categories"`
	}{e.schema, e.referenceYear, e.Snapshot().Categories})
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:])
}

func requestCategory(req PredictionRequest, field string) string {
	switch field {
	case FieldItemFatContent:
		return req.ItemFatContent
	case FieldItemType:
		return req.ItemType
	case FieldOutletSize:
		return req.OutletSize
	case FieldOutletLocationType:
		return req.OutletLocationType
	case FieldOutletType:
		return req.OutletType
	default:
		return ""
	}
}
