package ml

import (
	"errors"
	"reflect"
	"testing"
)

func TestFitAssignsSortedCodes(t *testing.T) {
	enc := fitSample(VariantOutletAge)

	itemTypes := enc.Encoding(FieldItemType)
	want := []string{"Baking Goods", "Dairy", "Frozen Foods", "Fruits and Vegetables", "Household", "Meat", "Snack Foods", "Soft Drinks"}
	if got := itemTypes.Labels(); !reflect.DeepEqual(got, want) {
		t.Fatalf("unexpected item type labels: %v", got)
	}
	for i, label := range want {
		code, err := itemTypes.Code(label)
		if err != nil {
			t.Fatalf("unexpected error for %q: %v", label, err)
		}
		if code != i {
			t.Fatalf("expected %q to encode to %d, got %d", label, i, code)
		}
		if code < 0 || code >= itemTypes.Len() {
			t.Fatalf("code %d out of range [0, %d)", code, itemTypes.Len())
		}
	}
}

func TestFitIsDeterministicAcrossRowOrder(t *testing.T) {
	rows := sampleRows()
	reversed := make([]HistoricalRow, len(rows))
	for i, row := range rows {
		reversed[len(rows)-1-i] = row
	}

	a, err := Fit(rows, FitOptions{Variant: VariantOutletAge})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	b, err := Fit(reversed, FitOptions{Variant: VariantOutletAge})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !reflect.DeepEqual(a.Snapshot().Categories, b.Snapshot().Categories) {
		t.Fatalf("encodings differ:\n%v\n%v", a.Snapshot().Categories, b.Snapshot().Categories)
	}
	if a.Fingerprint() != b.Fingerprint() {
		t.Fatal("expected identical fingerprints for the same data")
	}
}

func TestFatContentAliasFolding(t *testing.T) {
	enc := fitSample(VariantOutletAge)
	fat := enc.Encoding(FieldItemFatContent)

	if got := fat.Labels(); !reflect.DeepEqual(got, []string{"Low Fat", "Regular"}) {
		t.Fatalf("expected aliases folded into two labels, got %v", got)
	}

	lowFat, _ := fat.Code("Low Fat")
	for _, alias := range []string{"LF", "low fat", "Low Fat", "  LOW   FAT "} {
		code, err := fat.Code(alias)
		if err != nil {
			t.Fatalf("unexpected error for %q: %v", alias, err)
		}
		if code != lowFat {
			t.Fatalf("expected %q to encode to %d, got %d", alias, lowFat, code)
		}
	}

	regular, _ := fat.Code("Regular")
	for _, alias := range []string{"reg", "Regular", "REG"} {
		code, err := fat.Code(alias)
		if err != nil {
			t.Fatalf("unexpected error for %q: %v", alias, err)
		}
		if code != regular {
			t.Fatalf("expected %q to encode to %d, got %d", alias, regular, code)
		}
	}
	if lowFat == regular {
		t.Fatal("low fat and regular must not share a code")
	}
}

func TestEncodeUnknownCategory(t *testing.T) {
	enc := fitSample(VariantOutletAge)
	req := dairyRequest()
	req.ItemType = "Seafood"

	_, err := enc.Encode(req)
	var unknown *UnknownCategoryError
	if !errors.As(err, &unknown) {
		t.Fatalf("expected UnknownCategoryError, got %v", err)
	}
	if unknown.Field != FieldItemType || unknown.Value != "Seafood" {
		t.Fatalf("unexpected error fields: %+v", unknown)
	}
}

func TestEncodeOutletAgeVector(t *testing.T) {
	enc := fitSample(VariantOutletAge)

	vector, err := enc.Encode(dairyRequest())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []float64{9.3, 0.016, 0, 1, 1, 0, 1, 26}
	if !reflect.DeepEqual(vector.Values, want) {
		t.Fatalf("expected %v, got %v", want, vector.Values)
	}
	if vector.Schema != "v2-outlet-age" {
		t.Fatalf("unexpected schema %s", vector.Schema)
	}
}

func TestOutletAge(t *testing.T) {
	enc := fitSample(VariantOutletAge)

	age, err := enc.OutletAge(1999)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if age != 26 {
		t.Fatalf("expected outlet age 26, got %d", age)
	}
	if _, err := enc.OutletAge(2030); err == nil {
		t.Fatal("expected error for establishment year after reference year")
	}
}

func TestEncodeRatingVariant(t *testing.T) {
	enc := fitSample(VariantRating)
	if enc.Encoding(FieldItemFatContent) != nil {
		t.Fatal("rating variant should not encode fat content")
	}

	req := dairyRequest()
	req.ItemFatContent = ""
	req.OutletEstablishmentYear = nil
	req.Rating = float64Ptr(4.5)
	vector, err := enc.Encode(req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []float64{9.3, 0.016, 1, 1, 0, 1, 4.5}
	if !reflect.DeepEqual(vector.Values, want) {
		t.Fatalf("expected %v, got %v", want, vector.Values)
	}
}

func TestEncodeRejectsBothRatingAndYear(t *testing.T) {
	enc := fitSample(VariantOutletAge)
	req := dairyRequest()
	req.Rating = float64Ptr(4)

	_, err := enc.Encode(req)
	var invalid *InvalidInputError
	if !errors.As(err, &invalid) || invalid.Field != FieldRating {
		t.Fatalf("expected InvalidInputError for rating, got %v", err)
	}
}

func TestEncodeRowFillsMissingWeight(t *testing.T) {
	enc := fitSample(VariantOutletAge)
	rows := sampleRows()

	vector, err := enc.EncodeRow(rows[3])
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if vector.Values[0] != enc.WeightMean() {
		t.Fatalf("expected mean weight %f, got %f", enc.WeightMean(), vector.Values[0])
	}
}

func TestFitRejectsEmptyRows(t *testing.T) {
	if _, err := Fit(nil, FitOptions{Variant: VariantRating}); err == nil {
		t.Fatal("expected error for empty rows")
	}
	if _, err := Fit(sampleRows(), FitOptions{Variant: "bogus"}); err == nil {
		t.Fatal("expected error for unknown variant")
	}
}
