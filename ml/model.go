package ml

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"
)

// Regressor is a trained model that maps a feature vector to a scalar.
type Regressor interface {
	Predict(features []float64) (float64, error)
	NumFeatures() int
}

type ModelType string

const (
	ModelRegressionTree       ModelType = "regression_tree"
	ModelGradientBoostedTrees ModelType = "gradient_boosted_trees"
)

type Metrics struct {
	RMSE      float64 `json:"rmse"`
	R2        float64 `json:"r2"`
	TrainRows int     `json:"train_rows"`
	TestRows  int     `json:"test_rows"`
}

// ModelMetadata travels with every artifact so the server can check it against its encoder.
type ModelMetadata struct {
	ModelType          ModelType `json:"model_type"`
	SchemaVersion      string    `json:"schema_version"`
	FeatureNames       []string  `json:"feature_names"`
	ReferenceYear      int       `json:"reference_year"`
	EncoderFingerprint string    `json:"encoder_fingerprint"`
	TrainedAt          time.Time `json:"trained_at"`
	Metrics            Metrics   `json:"metrics"`
}

type artifactFile struct {
	ModelMetadata
	Model json.RawMessage `json:"model"`
}

// SaveModel writes meta and model as a single JSON artifact.
func SaveModel(path string, meta ModelMetadata, model Regressor) error {
	if model == nil {
		return errors.New("model is nil")
	}
	payload, err := json.Marshal(model)
	if err != nil {
		return err
	}
	file, err := json.MarshalIndent(artifactFile{ModelMetadata: meta, Model: payload}, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, file, 0o600)
}

// LoadModel reads an artifact written by SaveModel.
func LoadModel(path string) (Regressor, ModelMetadata, error) {
	payload, err := os.ReadFile(path)
	if err != nil {
		return nil, ModelMetadata{}, err
	}
	var file artifactFile
	if err := json.Unmarshal(payload, &file); err != nil {
		return nil, ModelMetadata{}, fmt.Errorf("decode artifact: %w", err)
	}

	var model Regressor
	switch file.ModelType {
	case ModelRegressionTree:
		model = &RegressionTree{}
	case ModelGradientBoostedTrees:
		model = &GradientBoostedTrees{}
	default:
		return nil, ModelMetadata{}, fmt.Errorf("unsupported model type %q", file.ModelType)
	}
	if err := json.Unmarshal(file.Model, model); err != nil {
		return nil, ModelMetadata{}, fmt.Errorf("decode %s: %w", file.ModelType, err)
	}
	if model.NumFeatures() != len(file.FeatureNames) {
		return nil, ModelMetadata{}, fmt.Errorf("model expects %d features but artifact lists %d",
			model.NumFeatures(), len(file.FeatureNames))
	}
	return model, file.ModelMetadata, nil
}
