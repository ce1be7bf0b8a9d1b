package ml

import (
	"errors"
	"fmt"
)

// GradientBoostedTrees is an additive ensemble of regression trees fitted on squared-error residuals.
type GradientBoostedTrees struct {
	BaseScore    float64           `json:"base_score"`
	LearningRate float64           `json:"learning_rate"`
	Trees        []*RegressionTree `json:"trees"`
	Features     int               `json:"features"`
}

type BoostingParams struct {
	Trees        int
	LearningRate float64
	Tree         TreeParams
}

func (p BoostingParams) withDefaults() BoostingParams {
	if p.Trees <= 0 {
		p.Trees = 100
	}
	if p.LearningRate <= 0 || p.LearningRate > 1 {
		p.LearningRate = 0.1
	}
	if p.Tree.MaxDepth <= 0 {
		p.Tree.MaxDepth = 4
	}
	p.Tree = p.Tree.withDefaults()
	return p
}

func (g *GradientBoostedTrees) Train(features [][]float64, targets []float64, params BoostingParams) error {
	if len(features) == 0 || len(targets) == 0 {
		return errors.New("features or targets empty")
	}
	if len(features) != len(targets) {
		return errors.New("features and targets size mismatch")
	}
	params = params.withDefaults()

	g.BaseScore = mean(targets)
	g.LearningRate = params.LearningRate
	g.Features = len(features[0])
	g.Trees = make([]*RegressionTree, 0, params.Trees)

	predictions := make([]float64, len(targets))
	for i := range predictions {
		predictions[i] = g.BaseScore
	}
	residuals := make([]float64, len(targets))
	for round := 0; round < params.Trees; round++ {
		for i := range residuals {
			residuals[i] = targets[i] - predictions[i]
		}
		tree := &RegressionTree{}
		if err := tree.Train(features, residuals, params.Tree); err != nil {
			return fmt.Errorf("round %d: %w", round, err)
		}
		for i, row := range features {
			step, err := tree.Predict(row)
			if err != nil {
				return fmt.Errorf("round %d: %w", round, err)
			}
			predictions[i] += g.LearningRate * step
		}
		g.Trees = append(g.Trees, tree)
	}
	return nil
}

func (g *GradientBoostedTrees) Predict(features []float64) (float64, error) {
	if len(g.Trees) == 0 {
		return 0, errors.New("model not trained")
	}
	if len(features) != g.Features {
		return 0, fmt.Errorf("expected %d features, got %d", g.Features, len(features))
	}
	out := g.BaseScore
	for i, tree := range g.Trees {
		step, err := tree.Predict(features)
		if err != nil {
			return 0, fmt.Errorf("tree %d: %w", i, err)
		}
		out += g.LearningRate * step
	}
	return out, nil
}

func (g *GradientBoostedTrees) NumFeatures() int {
	return g.Features
}
