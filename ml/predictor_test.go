package ml

import (
	"context"
	"errors"
	"math"
	"os"
	"path/filepath"
	"sync"
	"testing"
)

type constantModel struct {
	value    float64
	features int
	calls    int
	mu       sync.Mutex
}

func (m *constantModel) Predict(features []float64) (float64, error) {
	m.mu.Lock()
	m.calls++
	m.mu.Unlock()
	return m.value, nil
}

func (m *constantModel) NumFeatures() int { return m.features }

type panicModel struct{ features int }

func (m panicModel) Predict([]float64) (float64, error) { panic("boom") }
func (m panicModel) NumFeatures() int                   { return m.features }

type mapCache struct {
	mu     sync.Mutex
	values map[string]float64
}

func (c *mapCache) Get(_ context.Context, key string) (float64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.values[key]
	return v, ok
}

func (c *mapCache) Set(_ context.Context, key string, value float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.values == nil {
		c.values = make(map[string]float64)
	}
	c.values[key] = value
}

func TestPredictorDegradedWithoutModel(t *testing.T) {
	p := NewPredictor(fitSample(VariantOutletAge), PredictorOptions{ModelPath: filepath.Join(t.TempDir(), "missing.json")})

	if ready, reason := p.Ready(); ready || reason == "" {
		t.Fatalf("expected degraded predictor with a reason, got ready=%v reason=%q", ready, reason)
	}
	_, _, err := p.PredictRequest(context.Background(), dairyRequest())
	var unavailable *ModelUnavailableError
	if !errors.As(err, &unavailable) {
		t.Fatalf("expected ModelUnavailableError, got %v", err)
	}
}

func TestPredictorEndToEnd(t *testing.T) {
	enc := fitSample(VariantOutletAge)
	model, meta, err := TrainModel(enc, sampleRows(), TrainOptions{Seed: 1, Boosting: BoostingParams{Trees: 10}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	path := filepath.Join(t.TempDir(), "model.json")
	if err := SaveModel(path, meta, model); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	p := NewPredictor(enc, PredictorOptions{ModelPath: path})
	if ready, reason := p.Ready(); !ready {
		t.Fatalf("expected ready predictor, reason %q", reason)
	}

	_, first, err := p.PredictRequest(context.Background(), dairyRequest())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !first.Success {
		t.Fatal("expected success")
	}
	if cents := first.PredictedSales * 100; math.Abs(cents-math.Round(cents)) > 1e-6 {
		t.Fatalf("expected two-decimal rounding, got %v", first.PredictedSales)
	}
	_, second, err := p.PredictRequest(context.Background(), dairyRequest())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if first != second {
		t.Fatalf("identical requests gave %v and %v", first, second)
	}
}

func TestPredictorCachesResults(t *testing.T) {
	enc := fitSample(VariantRating)
	model := &constantModel{value: 1234.5678, features: 7}
	cache := &mapCache{}
	p := NewPredictor(enc, PredictorOptions{Cache: cache})
	if err := p.SetModel(model, MetadataFor(enc, ModelRegressionTree)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	req := dairyRequest()
	req.ItemFatContent = ""
	req.OutletEstablishmentYear = nil
	req.Rating = float64Ptr(4)
	for i := 0; i < 3; i++ {
		_, result, err := p.PredictRequest(context.Background(), req)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if result.PredictedSales != 1234.57 {
			t.Fatalf("expected 1234.57, got %v", result.PredictedSales)
		}
	}
	if model.calls != 1 {
		t.Fatalf("expected one model call, got %d", model.calls)
	}
}

func TestPredictorRefusesMismatchedEncoder(t *testing.T) {
	enc := fitSample(VariantOutletAge)
	other, err := Fit(sampleRows()[:6], FitOptions{Variant: VariantOutletAge, ReferenceYear: 2025})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	p := NewPredictor(enc, PredictorOptions{})
	err = p.SetModel(&constantModel{features: 8}, MetadataFor(other, ModelRegressionTree))
	if err == nil {
		t.Fatal("expected fingerprint mismatch error")
	}
	if ready, _ := p.Ready(); ready {
		t.Fatal("predictor should remain degraded")
	}

	rating := fitSample(VariantRating)
	if err := p.SetModel(&constantModel{features: 7}, MetadataFor(rating, ModelRegressionTree)); err == nil {
		t.Fatal("expected schema mismatch error")
	}
}

func TestPredictorRecoversModelPanic(t *testing.T) {
	enc := fitSample(VariantOutletAge)
	p := NewPredictor(enc, PredictorOptions{})
	if err := p.SetModel(panicModel{features: 8}, MetadataFor(enc, ModelRegressionTree)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	_, _, err := p.PredictRequest(context.Background(), dairyRequest())
	var failed *PredictionError
	if !errors.As(err, &failed) {
		t.Fatalf("expected PredictionError, got %v", err)
	}
}

func TestPredictorReloadKeepsPreviousModel(t *testing.T) {
	enc := fitSample(VariantOutletAge)
	model, meta, err := TrainModel(enc, sampleRows(), TrainOptions{Seed: 3, Boosting: BoostingParams{Trees: 3}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	path := filepath.Join(t.TempDir(), "model.json")
	if err := SaveModel(path, meta, model); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	p := NewPredictor(enc, PredictorOptions{ModelPath: path})

	if err := os.WriteFile(path, []byte("not json"), 0o600); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := p.Reload(); err == nil {
		t.Fatal("expected reload error for corrupt artifact")
	}
	if ready, _ := p.Ready(); !ready {
		t.Fatal("previous model should stay in service")
	}
}
