package ml

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

const reloadDebounce = 250 * time.Millisecond

// ResultCache stores rounded predictions by model identity and vector key.
type ResultCache interface {
	Get(ctx context.Context, key string) (float64, bool)
	Set(ctx context.Context, key string, value float64)
}

type PredictionResult struct {
	Success        bool    `json:"success"`
	PredictedSales float64 `json:"predicted_sales"`
}

type PredictorOptions struct {
	ModelPath string
	Cache     ResultCache
	Logger    *zap.Logger
	// OnReload runs after the watcher installs a new model.
	OnReload  func(ModelMetadata)
}

type modelState struct {
	model  Regressor
	meta   ModelMetadata
	id     string
	reason string
}

// Predictor owns the regression model behind the encoder. Without a usable model it stays in
// degraded mode and every call fails with ModelUnavailableError.
type Predictor struct {
	encoder  *Encoder
	path     string
	cache    ResultCache
	logger   *zap.Logger
	onReload func(ModelMetadata)

	state    atomic.Pointer[modelState]
	reloadMu sync.Mutex
}

// NewPredictor loads the artifact at opts.ModelPath. A failed load is logged, not returned.
func NewPredictor(enc *Encoder, opts PredictorOptions) *Predictor {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	p := &Predictor{
		encoder:  enc,
		path:     opts.ModelPath,
		cache:    opts.Cache,
		logger:   logger.Named("predictor"),
		onReload: opts.OnReload,
	}
	p.state.Store(&modelState{reason: "no model loaded"})
	if p.path != "" {
		if err := p.Reload(); err != nil {
			p.logger.Warn("starting in degraded mode", zap.String("path", p.path), zap.Error(err))
		}
	}
	return p
}

// MetadataFor builds artifact metadata that matches enc.
func MetadataFor(enc *Encoder, modelType ModelType) ModelMetadata {
	schema := enc.Schema()
	return ModelMetadata{
		ModelType:          modelType,
		SchemaVersion:      schema.Version,
		FeatureNames:       schema.Features,
		ReferenceYear:      enc.ReferenceYear(),
		EncoderFingerprint: enc.Fingerprint(),
		TrainedAt:          time.Now().UTC(),
	}
}

// Reload reads the artifact again. On failure a previously loaded model stays in service.
func (p *Predictor) Reload() error {
	p.reloadMu.Lock()
	defer p.reloadMu.Unlock()

	if p.path == "" {
		return errors.New("model path not configured")
	}
	model, meta, err := LoadModel(p.path)
	if err == nil {
		err = p.install(model, meta)
	}
	if err != nil {
		if current := p.state.Load(); current.model == nil {
			p.state.Store(&modelState{reason: err.Error()})
		}
		return err
	}
	p.logger.Info("model loaded",
		zap.String("path", p.path),
		zap.String("model_type", string(meta.ModelType)),
		zap.String("schema", meta.SchemaVersion),
		zap.Time("trained_at", meta.TrainedAt),
	)
	return nil
}

// SetModel installs an in-memory model after the same checks Reload applies.
func (p *Predictor) SetModel(model Regressor, meta ModelMetadata) error {
	p.reloadMu.Lock()
	defer p.reloadMu.Unlock()
	return p.install(model, meta)
}

func (p *Predictor) install(model Regressor, meta ModelMetadata) error {
	if model == nil {
		return errors.New("model is nil")
	}
	if err := p.checkCompatible(model, meta); err != nil {
		return err
	}
	payload, err := json.Marshal(model)
	if err != nil {
		payload = []byte(fmt.Sprintf("%p", model))
	}
	sum := sha256.Sum256(payload)
	p.state.Store(&modelState{model: model, meta: meta, id: hex.EncodeToString(sum[:8])})
	return nil
}

func (p *Predictor) checkCompatible(model Regressor, meta ModelMetadata) error {
	schema := p.encoder.Schema()
	if !schema.Matches(meta.SchemaVersion, meta.FeatureNames) {
		return fmt.Errorf("model schema %s %v does not match encoder schema %s %v",
			meta.SchemaVersion, meta.FeatureNames, schema.Version, schema.Features)
	}
	if model.NumFeatures() != len(schema.Features) {
		return fmt.Errorf("model expects %d features, encoder produces %d", model.NumFeatures(), len(schema.Features))
	}
	if meta.ReferenceYear != p.encoder.ReferenceYear() {
		return fmt.Errorf("model reference year %d does not match encoder reference year %d",
			meta.ReferenceYear, p.encoder.ReferenceYear())
	}
	if meta.EncoderFingerprint != p.encoder.Fingerprint() {
		return errors.New("model was trained with different category encodings")
	}
	return nil
}

func (p *Predictor) Encoder() *Encoder {
	return p.encoder
}

// Ready reports whether a model is loaded and, if not, why.
func (p *Predictor) Ready() (bool, string) {
	state := p.state.Load()
	return state.model != nil, state.reason
}

func (p *Predictor) Metadata() (ModelMetadata, bool) {
	state := p.state.Load()
	return state.meta, state.model != nil
}

// PredictRequest encodes req and runs it through the model.
func (p *Predictor) PredictRequest(ctx context.Context, req PredictionRequest) (FeatureVector, PredictionResult, error) {
	vector, err := p.encoder.Encode(req)
	if err != nil {
		return FeatureVector{}, PredictionResult{}, err
	}
	result, err := p.Predict(ctx, vector)
	return vector, result, err
}

// Predict runs vector through the current model and rounds the output to 2 decimals.
func (p *Predictor) Predict(ctx context.Context, vector FeatureVector) (PredictionResult, error) {
	state := p.state.Load()
	if state.model == nil {
		return PredictionResult{}, &ModelUnavailableError{Reason: state.reason}
	}
	if vector.Schema != state.meta.SchemaVersion || len(vector.Values) != len(state.meta.FeatureNames) {
		return PredictionResult{}, &PredictionError{
			Err: fmt.Errorf("vector %s with %d values does not fit model schema %s",
				vector.Schema, len(vector.Values), state.meta.SchemaVersion),
		}
	}

	key := state.id + "|" + vector.Key()
	if p.cache != nil {
		if value, ok := p.cache.Get(ctx, key); ok {
			return PredictionResult{Success: true, PredictedSales: value}, nil
		}
	}

	value, err := safePredict(state.model, vector.Values)
	if err != nil {
		return PredictionResult{}, &PredictionError{Err: err}
	}
	if math.IsNaN(value) || math.IsInf(value, 0) {
		return PredictionResult{}, &PredictionError{Err: fmt.Errorf("model returned %v", value)}
	}
	rounded := math.Round(value*100) / 100
	if p.cache != nil {
		p.cache.Set(ctx, key, rounded)
	}
	return PredictionResult{Success: true, PredictedSales: rounded}, nil
}

func safePredict(model Regressor, values []float64) (out float64, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("model panicked: %v", r)
		}
	}()
	return model.Predict(values)
}

// Watch reloads the model whenever its file is written or recreated, until ctx is done.
func (p *Predictor) Watch(ctx context.Context) error {
	if p.path == "" {
		return errors.New("model path not configured")
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := watcher.Add(filepath.Dir(p.path)); err != nil {
		watcher.Close()
		return err
	}
	target := filepath.Clean(p.path)

	go func() {
		defer watcher.Close()
		var debounce <-chan time.Time
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != target || event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				debounce = time.After(reloadDebounce)
			case <-debounce:
				debounce = nil
				if err := p.Reload(); err != nil {
					p.logger.Error("model reload failed", zap.String("path", p.path), zap.Error(err))
					continue
				}
				if p.onReload != nil {
					meta, _ := p.Metadata()
					p.onReload(meta)
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				p.logger.Warn("model watcher error", zap.Error(err))
			}
		}
	}()
	return nil
}
