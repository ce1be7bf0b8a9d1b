package ml

import (
	"path/filepath"
	"reflect"
	"testing"
)

func TestSplitDatasetIsSeeded(t *testing.T) {
	enc := fitSample(VariantRating)
	features, targets, err := BuildTrainingSet(enc, sampleRows())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	trainA, _, testA, _ := SplitDataset(features, targets, 0.25, 7)
	trainB, _, testB, _ := SplitDataset(features, targets, 0.25, 7)
	if !reflect.DeepEqual(trainA, trainB) || !reflect.DeepEqual(testA, testB) {
		t.Fatal("same seed produced different splits")
	}
	if len(trainA) != 9 || len(testA) != 3 {
		t.Fatalf("expected 9/3 split, got %d/%d", len(trainA), len(testA))
	}
}

func TestTrainModelSaveLoad(t *testing.T) {
	enc := fitSample(VariantOutletAge)

	model, meta, err := TrainModel(enc, sampleRows(), TrainOptions{
		ModelType: ModelRegressionTree,
		TestRatio: 0.25,
		Seed:      42,
		Tree:      TreeParams{MaxDepth: 3, MinSamplesLeaf: 1},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if meta.SchemaVersion != "v2-outlet-age" || meta.EncoderFingerprint != enc.Fingerprint() {
		t.Fatalf("unexpected metadata: %+v", meta)
	}
	if meta.Metrics.TrainRows != 9 || meta.Metrics.TestRows != 3 {
		t.Fatalf("unexpected metrics: %+v", meta.Metrics)
	}

	path := filepath.Join(t.TempDir(), "model.json")
	if err := SaveModel(path, meta, model); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	loaded, loadedMeta, err := LoadModel(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if loadedMeta.ModelType != ModelRegressionTree || loadedMeta.EncoderFingerprint != meta.EncoderFingerprint {
		t.Fatalf("metadata not preserved: %+v", loadedMeta)
	}

	vector, err := enc.Encode(dairyRequest())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want, _ := model.Predict(vector.Values)
	got, err := loaded.Predict(vector.Values)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != want {
		t.Fatalf("loaded model predicts %f, original %f", got, want)
	}
}

func TestTrainModelRejectsUnknownType(t *testing.T) {
	enc := fitSample(VariantRating)
	if _, _, err := TrainModel(enc, sampleRows(), TrainOptions{ModelType: "svm"}); err == nil {
		t.Fatal("expected error for unsupported model type")
	}
}
