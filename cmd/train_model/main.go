package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"salescast/logging"
	"salescast/ml"
	"salescast/pipeline"
)

func main() {
	dataset := flag.String("dataset", "data/blinkit_grocery_data.csv", "historical dataset (.csv or .xlsx)")
	sheet := flag.String("sheet", "", "worksheet name for .xlsx datasets (default: "+pipeline.DefaultSheet+")")
	variant := flag.String("variant", string(ml.VariantOutletAge), "feature variant: rating or outlet_age")
	modelType := flag.String("model_type", string(ml.ModelGradientBoostedTrees), "regression_tree or gradient_boosted_trees")
	modelPath := flag.String("model_path", "./models/model.json", "model output path")
	maxDepth := flag.Int("max_depth", 0, "max tree depth (0 uses the model default)")
	trees := flag.Int("trees", 100, "number of boosting rounds")
	learningRate := flag.Float64("learning_rate", 0.1, "boosting learning rate")
	minLeaf := flag.Int("min_samples_leaf", 0, "minimum rows per leaf (0 uses the model default)")
	testRatio := flag.Float64("test_ratio", 0.2, "test ratio")
	seed := flag.Int64("seed", 42, "shuffle seed for the train/test split")
	referenceYear := flag.Int("reference_year", ml.DefaultReferenceYear, "year outlet ages are computed against")
	flag.Parse()

	logger, err := logging.New(logging.Options{Level: "info", Format: "console"})
	if err != nil {
		log.Fatalf("failed to build logger: %v", err)
	}
	defer logger.Sync()

	v, err := ml.ParseVariant(*variant)
	if err != nil {
		logger.Fatal("invalid variant", zap.Error(err))
	}

	data, err := pipeline.LoadHistorical(*dataset, pipeline.LoadOptions{
		Sheet:         *sheet,
		Variant:       v,
		ReferenceYear: *referenceYear,
		Logger:        logger,
	})
	if err != nil {
		logger.Fatal("failed to load dataset", zap.Error(err))
	}
	if !data.HasSales {
		logger.Fatal("dataset has no sales column to train on", zap.String("path", *dataset))
	}

	// 训练与服务使用同一个编码器，保证特征顺序和类别编码一致
	enc, err := ml.Fit(data.Rows, ml.FitOptions{Variant: v, ReferenceYear: *referenceYear})
	if err != nil {
		logger.Fatal("failed to fit encoder", zap.Error(err))
	}

	tree := ml.TreeParams{MaxDepth: *maxDepth, MinSamplesLeaf: *minLeaf}
	model, meta, err := ml.TrainModel(enc, data.Rows, ml.TrainOptions{
		ModelType: ml.ModelType(*modelType),
		TestRatio: *testRatio,
		Seed:      *seed,
		Tree:      tree,
		Boosting: ml.BoostingParams{
			Trees:        *trees,
			LearningRate: *learningRate,
			Tree:         tree,
		},
	})
	if err != nil {
		logger.Fatal("failed to train model", zap.Error(err))
	}
	logger.Info("model trained",
		zap.String("model_type", string(meta.ModelType)),
		zap.String("schema", meta.SchemaVersion),
		zap.Int("train_rows", meta.Metrics.TrainRows),
		zap.Int("test_rows", meta.Metrics.TestRows),
		zap.Float64("rmse", meta.Metrics.RMSE),
		zap.Float64("r2", meta.Metrics.R2),
	)

	if err := os.MkdirAll(filepath.Dir(*modelPath), 0o755); err != nil {
		logger.Fatal("failed to create model dir", zap.Error(err))
	}
	if err := ml.SaveModel(*modelPath, meta, model); err != nil {
		logger.Fatal("failed to save model", zap.Error(err))
	}

	fmt.Printf("model saved to %s (rmse=%.2f r2=%.3f)\n", *modelPath, meta.Metrics.RMSE, meta.Metrics.R2)
}
