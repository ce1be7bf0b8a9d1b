package ml

import (
	"errors"
	"fmt"
	"math"
	"math/rand"
)

// BuildTrainingSet encodes every historical row with enc; targets are the recorded sales.
func BuildTrainingSet(enc *Encoder, rows []HistoricalRow) (features [][]float64, targets []float64, err error) {
	if enc == nil {
		return nil, nil, errors.New("encoder is required")
	}
	if len(rows) == 0 {
		return nil, nil, errors.New("rows is empty")
	}
	features = make([][]float64, 0, len(rows))
	targets = make([]float64, 0, len(rows))
	for i, row := range rows {
		vector, err := enc.EncodeRow(row)
		if err != nil {
			return nil, nil, fmt.Errorf("row %d: %w", i, err)
		}
		features = append(features, vector.Values)
		targets = append(targets, row.Sales)
	}
	return features, targets, nil
}

// SplitDataset shuffles with a seeded source so the same seed always yields the same split.
func SplitDataset(features [][]float64, targets []float64, testRatio float64, seed int64) (trainX [][]float64, trainY []float64, testX [][]float64, testY []float64) {
	if testRatio <= 0 || testRatio >= 1 {
		testRatio = 0.2
	}
	rnd := rand.New(rand.NewSource(seed))
	indices := rnd.Perm(len(features))

	split := int(math.Round(float64(len(features)) * (1 - testRatio)))
	for i, idx := range indices {
		if i < split {
			trainX = append(trainX, features[idx])
			trainY = append(trainY, targets[idx])
		} else {
			testX = append(testX, features[idx])
			testY = append(testY, targets[idx])
		}
	}
	return trainX, trainY, testX, testY
}

// Evaluate reports RMSE and R² of model over the given rows.
func Evaluate(model Regressor, features [][]float64, targets []float64) (Metrics, error) {
	if len(features) == 0 {
		return Metrics{}, errors.New("no evaluation rows")
	}
	var sse, sst float64
	avg := mean(targets)
	for i, row := range features {
		predicted, err := model.Predict(row)
		if err != nil {
			return Metrics{}, err
		}
		d := targets[i] - predicted
		sse += d * d
		t := targets[i] - avg
		sst += t * t
	}
	metrics := Metrics{
		RMSE:     math.Sqrt(sse / float64(len(features))),
		TestRows: len(features),
	}
	if sst > 0 {
		metrics.R2 = 1 - sse/sst
	}
	return metrics, nil
}

type TrainOptions struct {
	ModelType ModelType
	TestRatio float64
	Seed      int64
	Tree      TreeParams
	Boosting  BoostingParams
}

// TrainModel fits a model on rows encoded with enc and returns it with metadata ready for SaveModel.
func TrainModel(enc *Encoder, rows []HistoricalRow, opts TrainOptions) (Regressor, ModelMetadata, error) {
	features, targets, err := BuildTrainingSet(enc, rows)
	if err != nil {
		return nil, ModelMetadata{}, err
	}
	trainX, trainY, testX, testY := SplitDataset(features, targets, opts.TestRatio, opts.Seed)
	if len(trainX) == 0 {
		return nil, ModelMetadata{}, errors.New("training split is empty")
	}

	var model Regressor
	switch opts.ModelType {
	case ModelRegressionTree:
		tree := &RegressionTree{}
		if err := tree.Train(trainX, trainY, opts.Tree); err != nil {
			return nil, ModelMetadata{}, err
		}
		model = tree
	case ModelGradientBoostedTrees, "":
		opts.ModelType = ModelGradientBoostedTrees
		gbt := &GradientBoostedTrees{}
		if err := gbt.Train(trainX, trainY, opts.Boosting); err != nil {
			return nil, ModelMetadata{}, err
		}
		model = gbt
	default:
		return nil, ModelMetadata{}, fmt.Errorf("unsupported model type %q", opts.ModelType)
	}

	metrics := Metrics{}
	if len(testX) > 0 {
		if metrics, err = Evaluate(model, testX, testY); err != nil {
			return nil, ModelMetadata{}, err
		}
	}
	metrics.TrainRows = len(trainX)

	meta := MetadataFor(enc, opts.ModelType)
	meta.Metrics = metrics
	return model, meta, nil
}
