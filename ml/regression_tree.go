package ml

import (
	"errors"
	"fmt"
	"math"
	"sort"
)

const maxSplitCandidates = 32

// RegressionTree is a CART tree fitted by variance reduction. Nodes are stored in pre-order;
// children are referenced by index.
type RegressionTree struct {
	Nodes    []TreeNode `json:"nodes"`
	Features int        `json:"features"`
}

type TreeNode struct {
	FeatureIdx int     `json:"feature_idx"`
	Threshold  float64 `json:"threshold"`
	LeftChild  int     `json:"left_child"`
	RightChild int     `json:"right_child"`
	Value      float64 `json:"value"`
	IsLeaf     bool    `json:"is_leaf"`
}

type TreeParams struct {
	MaxDepth       int
	MinSamplesLeaf int
}

func (p TreeParams) withDefaults() TreeParams {
	if p.MaxDepth <= 0 {
		p.MaxDepth = 6
	}
	if p.MinSamplesLeaf <= 0 {
		p.MinSamplesLeaf = 5
	}
	return p
}

func (t *RegressionTree) Train(features [][]float64, targets []float64, params TreeParams) error {
	if len(features) == 0 || len(targets) == 0 {
		return errors.New("features or targets empty")
	}
	if len(features) != len(targets) {
		return errors.New("features and targets size mismatch")
	}
	width := len(features[0])
	for i, row := range features {
		if len(row) != width {
			return fmt.Errorf("row %d has %d features, want %d", i, len(row), width)
		}
	}
	params = params.withDefaults()

	t.Features = width
	t.Nodes = buildRegressionNode(features, targets, 0, params)
	return nil
}

func (t *RegressionTree) Predict(features []float64) (float64, error) {
	if len(t.Nodes) == 0 {
		return 0, errors.New("model not trained")
	}
	if len(features) != t.Features {
		return 0, fmt.Errorf("expected %d features, got %d", t.Features, len(features))
	}
	idx := 0
	for {
		node := t.Nodes[idx]
		if node.IsLeaf {
			return node.Value, nil
		}
		if node.FeatureIdx < 0 || node.FeatureIdx >= len(features) {
			return 0, errors.New("feature index out of range")
		}
		if features[node.FeatureIdx] <= node.Threshold {
			idx = node.LeftChild
		} else {
			idx = node.RightChild
		}
		if idx < 0 || idx >= len(t.Nodes) {
			return 0, errors.New("invalid tree state")
		}
	}
}

func (t *RegressionTree) NumFeatures() int {
	return t.Features
}

func leafNode(targets []float64) []TreeNode {
	return []TreeNode{{
		FeatureIdx: -1,
		LeftChild:  -1,
		RightChild: -1,
		Value:      mean(targets),
		IsLeaf:     true,
	}}
}

func buildRegressionNode(features [][]float64, targets []float64, depth int, params TreeParams) []TreeNode {
	if depth >= params.MaxDepth || len(targets) < 2*params.MinSamplesLeaf || variance(targets) == 0 {
		return leafNode(targets)
	}

	bestFeature, threshold, ok := findBestRegressionSplit(features, targets, params.MinSamplesLeaf)
	if !ok {
		return leafNode(targets)
	}

	leftFeatures, leftTargets, rightFeatures, rightTargets := splitRows(features, targets, bestFeature, threshold)
	leftNodes := buildRegressionNode(leftFeatures, leftTargets, depth+1, params)
	rightNodes := buildRegressionNode(rightFeatures, rightTargets, depth+1, params)

	root := TreeNode{
		FeatureIdx: bestFeature,
		Threshold:  threshold,
		LeftChild:  1,
		RightChild: 1 + len(leftNodes),
		Value:      mean(targets),
	}
	nodes := make([]TreeNode, 0, 1+len(leftNodes)+len(rightNodes))
	nodes = append(nodes, root)
	nodes = append(nodes, offsetNodes(leftNodes, 1)...)
	nodes = append(nodes, offsetNodes(rightNodes, 1+len(leftNodes))...)
	return nodes
}

// offsetNodes rebases child indexes of a subtree that is appended at position base.
func offsetNodes(nodes []TreeNode, base int) []TreeNode {
	out := make([]TreeNode, len(nodes))
	for i, node := range nodes {
		if !node.IsLeaf {
			node.LeftChild += base
			node.RightChild += base
		}
		out[i] = node
	}
	return out
}

func findBestRegressionSplit(features [][]float64, targets []float64, minLeaf int) (int, float64, bool) {
	bestFeature := -1
	bestThreshold := 0.0
	bestScore := math.MaxFloat64

	for featureIdx := 0; featureIdx < len(features[0]); featureIdx++ {
		for _, threshold := range splitCandidates(features, featureIdx) {
			left, right := splitTargets(features, targets, featureIdx, threshold)
			if len(left) < minLeaf || len(right) < minLeaf {
				continue
			}
			score := sumSquaredError(left) + sumSquaredError(right)
			if score < bestScore {
				bestScore = score
				bestFeature = featureIdx
				bestThreshold = threshold
			}
		}
	}
	if bestFeature == -1 {
		return -1, 0, false
	}
	return bestFeature, bestThreshold, true
}

// splitCandidates returns midpoints between distinct sorted values, thinned to at most maxSplitCandidates.
func splitCandidates(features [][]float64, featureIdx int) []float64 {
	values := make([]float64, len(features))
	for i := range features {
		values[i] = features[i][featureIdx]
	}
	sort.Float64s(values)
	distinct := values[:0]
	for i, v := range values {
		if i == 0 || v != distinct[len(distinct)-1] {
			distinct = append(distinct, v)
		}
	}
	if len(distinct) < 2 {
		return nil
	}
	midpoints := make([]float64, len(distinct)-1)
	for i := range midpoints {
		midpoints[i] = (distinct[i] + distinct[i+1]) / 2
	}
	if len(midpoints) <= maxSplitCandidates {
		return midpoints
	}
	thinned := make([]float64, maxSplitCandidates)
	step := float64(len(midpoints)-1) / float64(maxSplitCandidates-1)
	for i := range thinned {
		thinned[i] = midpoints[int(math.Round(float64(i)*step))]
	}
	return thinned
}

func splitRows(features [][]float64, targets []float64, featureIdx int, threshold float64) ([][]float64, []float64, [][]float64, []float64) {
	var leftFeatures, rightFeatures [][]float64
	var leftTargets, rightTargets []float64
	for i, row := range features {
		if row[featureIdx] <= threshold {
			leftFeatures = append(leftFeatures, row)
			leftTargets = append(leftTargets, targets[i])
		} else {
			rightFeatures = append(rightFeatures, row)
			rightTargets = append(rightTargets, targets[i])
		}
	}
	return leftFeatures, leftTargets, rightFeatures, rightTargets
}

func splitTargets(features [][]float64, targets []float64, featureIdx int, threshold float64) ([]float64, []float64) {
	var left, right []float64
	for i, row := range features {
		if row[featureIdx] <= threshold {
			left = append(left, targets[i])
		} else {
			right = append(right, targets[i])
		}
	}
	return left, right
}

func mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

func sumSquaredError(values []float64) float64 {
	m := mean(values)
	sse := 0.0
	for _, v := range values {
		d := v - m
		sse += d * d
	}
	return sse
}

func variance(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	return sumSquaredError(values) / float64(len(values))
}
