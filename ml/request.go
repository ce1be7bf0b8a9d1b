package ml

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
)

// PredictionRequest is the validated, typed form of an inference request.
// Exactly one of Rating and OutletEstablishmentYear is set, depending on the variant.
type PredictionRequest struct {
	ItemWeight              float64
	ItemVisibility          float64
	ItemFatContent          string
	ItemType                string
	OutletSize              string
	OutletLocationType      string
	OutletType              string
	Rating                  *float64
	OutletEstablishmentYear *int
}

// RequestFields lists the keys a request of the given variant must carry, in validation order.
func RequestFields(variant Variant) []string {
	fields := []string{FieldItemWeight, FieldItemVisibility}
	if variant == VariantOutletAge {
		fields = append(fields, FieldItemFatContent)
	}
	fields = append(fields, FieldItemType, FieldOutletSize, FieldOutletLocationType, FieldOutletType)
	if variant == VariantOutletAge {
		return append(fields, FieldOutletEstablishmentYear)
	}
	return append(fields, FieldRating)
}

// ParseRequest validates an untyped payload (decoded JSON or form values) into a PredictionRequest.
// Numbers may arrive as JSON numbers or numeric strings.
func ParseRequest(variant Variant, payload map[string]any) (PredictionRequest, error) {
	fields := RequestFields(variant)
	allowed := make(map[string]bool, len(fields))
	for _, f := range fields {
		allowed[f] = true
	}
	keys := make([]string, 0, len(payload))
	for key := range payload {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		if !allowed[key] {
			return PredictionRequest{}, &InvalidInputError{
				Field:  key,
				Reason: fmt.Sprintf("is not accepted by the %s model", variant),
			}
		}
	}

	var req PredictionRequest
	for _, field := range fields {
		var err error
		switch field {
		case FieldItemWeight:
			req.ItemWeight, err = numberField(payload, field)
		case FieldItemVisibility:
			req.ItemVisibility, err = numberField(payload, field)
		case FieldItemFatContent:
			req.ItemFatContent, err = stringField(payload, field)
		case FieldItemType:
			req.ItemType, err = stringField(payload, field)
		case FieldOutletSize:
			req.OutletSize, err = stringField(payload, field)
		case FieldOutletLocationType:
			req.OutletLocationType, err = stringField(payload, field)
		case FieldOutletType:
			req.OutletType, err = stringField(payload, field)
		case FieldRating:
			var rating float64
			rating, err = numberField(payload, field)
			req.Rating = &rating
		case FieldOutletEstablishmentYear:
			var year int
			year, err = intField(payload, field)
			req.OutletEstablishmentYear = &year
		}
		if err != nil {
			return PredictionRequest{}, err
		}
	}
	return req, req.Validate(variant)
}

// Validate checks presence and ranges. It does not consult category encodings.
func (r PredictionRequest) Validate(variant Variant) error {
	if err := checkFinite(FieldItemWeight, r.ItemWeight); err != nil {
		return err
	}
	if r.ItemWeight <= 0 {
		return outOfRange(FieldItemWeight, r.ItemWeight, "must be greater than 0")
	}
	if err := checkFinite(FieldItemVisibility, r.ItemVisibility); err != nil {
		return err
	}
	if r.ItemVisibility < 0 || r.ItemVisibility > 1 {
		return outOfRange(FieldItemVisibility, r.ItemVisibility, "must be between 0 and 1")
	}

	switch variant {
	case VariantRating:
		if r.OutletEstablishmentYear != nil {
			return &InvalidInputError{Field: FieldOutletEstablishmentYear, Reason: "is not accepted by the rating model"}
		}
		if r.Rating == nil {
			return missingField(FieldRating)
		}
		if err := checkFinite(FieldRating, *r.Rating); err != nil {
			return err
		}
		if *r.Rating < 0 || *r.Rating > 5 {
			return outOfRange(FieldRating, *r.Rating, "must be between 0 and 5")
		}
	case VariantOutletAge:
		if r.Rating != nil {
			return &InvalidInputError{Field: FieldRating, Reason: "is not accepted by the outlet_age model"}
		}
		if r.OutletEstablishmentYear == nil {
			return missingField(FieldOutletEstablishmentYear)
		}
		if *r.OutletEstablishmentYear <= 0 {
			return &InvalidInputError{
				Field:  FieldOutletEstablishmentYear,
				Value:  strconv.Itoa(*r.OutletEstablishmentYear),
				Reason: "must be a positive year",
			}
		}
	default:
		return fmt.Errorf("unknown variant %q", variant)
	}
	return nil
}

func numberField(payload map[string]any, field string) (float64, error) {
	raw, ok := payload[field]
	if !ok || raw == nil {
		return 0, missingField(field)
	}
	var value float64
	switch v := raw.(type) {
	case json.Number:
		f, err := v.Float64()
		if err != nil {
			return 0, &InvalidInputError{Field: field, Value: v.String(), Reason: "must be a number"}
		}
		value = f
	case float64:
		value = v
	case int:
		value = float64(v)
	case string:
		s := strings.TrimSpace(v)
		if s == "" {
			return 0, missingField(field)
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0, &InvalidInputError{Field: field, Value: v, Reason: "must be a number"}
		}
		value = f
	default:
		return 0, &InvalidInputError{Field: field, Value: fmt.Sprint(raw), Reason: "must be a number"}
	}
	return value, checkFinite(field, value)
}

func intField(payload map[string]any, field string) (int, error) {
	value, err := numberField(payload, field)
	if err != nil {
		return 0, err
	}
	if value != math.Trunc(value) || math.Abs(value) > math.MaxInt32 {
		return 0, outOfRange(field, value, "must be a whole number")
	}
	return int(value), nil
}

func stringField(payload map[string]any, field string) (string, error) {
	raw, ok := payload[field]
	if !ok || raw == nil {
		return "", missingField(field)
	}
	s, ok := raw.(string)
	if !ok {
		return "", &InvalidInputError{Field: field, Value: fmt.Sprint(raw), Reason: "must be a string"}
	}
	if strings.TrimSpace(s) == "" {
		return "", missingField(field)
	}
	return s, nil
}

func checkFinite(field string, v float64) error {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return outOfRange(field, v, "must be a finite number")
	}
	return nil
}

func outOfRange(field string, v float64, reason string) error {
	return &InvalidInputError{Field: field, Value: strconv.FormatFloat(v, 'g', -1, 64), Reason: reason}
}
