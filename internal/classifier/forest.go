package classifier

import (
	"encoding/json"
	"fmt"
	"io"
	"math"
	"os"
)

const (
	TypeRandomForest = "random_forest"
	TypeDecisionTree = "decision_tree"

	leafNode = -1
)

// tree is one fitted tree in parallel-array layout: node i is a leaf when
// ChildrenLeft[i] == -1, otherwise samples with x[Feature[i]] <= Threshold[i]
// go left. Value[i] holds the class distribution at node i.
type tree struct {
	ChildrenLeft  []int       `json:"children_left"`
	ChildrenRight []int       `json:"children_right"`
	Feature       []int       `json:"feature"`
	Threshold     []float64   `json:"threshold"`
	Value         [][]float64 `json:"value"`
}

type forestFile struct {
	Type      string `json:"type"`
	NFeatures int    `json:"n_features"`
	NClasses  int    `json:"n_classes"`
	Trees     []tree `json:"trees"`
}

// Forest is a tree ensemble. Class probabilities from every tree are
// averaged and the most probable class wins; ties go to the lowest index.
type Forest struct {
	nFeatures int
	nClasses  int
	trees     []tree
}

// LoadForestFile reads a classifier artifact from disk.
func LoadForestFile(path string) (*Forest, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open classifier: %w", err)
	}
	defer f.Close()
	forest, err := LoadForest(f)
	if err != nil {
		return nil, fmt.Errorf("load classifier %s: %w", path, err)
	}
	return forest, nil
}

// LoadForest decodes and validates a classifier artifact.
func LoadForest(r io.Reader) (*Forest, error) {
	var ff forestFile
	if err := json.NewDecoder(r).Decode(&ff); err != nil {
		return nil, fmt.Errorf("%w: parse: %v", ErrInvalidArtifact, err)
	}
	switch ff.Type {
	case TypeRandomForest:
		if len(ff.Trees) == 0 {
			return nil, fmt.Errorf("%w: random_forest has no trees", ErrInvalidArtifact)
		}
	case TypeDecisionTree:
		if len(ff.Trees) != 1 {
			return nil, fmt.Errorf("%w: decision_tree needs exactly one tree, got %d", ErrInvalidArtifact, len(ff.Trees))
		}
	default:
		return nil, fmt.Errorf("%w: unsupported type %q", ErrInvalidArtifact, ff.Type)
	}
	if ff.NFeatures <= 0 || ff.NClasses <= 0 {
		return nil, fmt.Errorf("%w: n_features and n_classes must be positive", ErrInvalidArtifact)
	}
	for i := range ff.Trees {
		if err := ff.Trees[i].validate(ff.NFeatures, ff.NClasses); err != nil {
			return nil, fmt.Errorf("%w: tree %d: %v", ErrInvalidArtifact, i, err)
		}
	}
	return &Forest{nFeatures: ff.NFeatures, nClasses: ff.NClasses, trees: ff.Trees}, nil
}

// NumFeatures returns the feature vector length the classifier expects.
func (f *Forest) NumFeatures() int { return f.nFeatures }

// NumClasses returns the number of classes the classifier can emit.
func (f *Forest) NumClasses() int { return f.nClasses }

// Predict implements Classifier.
func (f *Forest) Predict(features []float64) (int, error) {
	proba, err := f.PredictProba(features)
	if err != nil {
		return 0, err
	}
	best := 0
	for c := 1; c < len(proba); c++ {
		if proba[c] > proba[best] {
			best = c
		}
	}
	return best, nil
}

// PredictProba returns the averaged class distribution for features.
func (f *Forest) PredictProba(features []float64) ([]float64, error) {
	if len(features) != f.nFeatures {
		return nil, fmt.Errorf("%w: got %d, want %d", ErrFeatureCount, len(features), f.nFeatures)
	}
	for i, v := range features {
		if math.IsNaN(v) {
			return nil, fmt.Errorf("%w: feature %d is NaN", ErrInvalidFeature, i)
		}
		// Artifacts are trained on float32 inputs.
		if math.IsInf(v, 0) || math.Abs(v) > math.MaxFloat32 {
			return nil, fmt.Errorf("%w: feature %d is infinite or too large", ErrInvalidFeature, i)
		}
	}
	proba := make([]float64, f.nClasses)
	for i := range f.trees {
		leaf := f.trees[i].leafValue(features)
		var sum float64
		for _, v := range leaf {
			sum += v
		}
		if sum <= 0 {
			continue
		}
		for c, v := range leaf {
			proba[c] += v / sum
		}
	}
	n := float64(len(f.trees))
	for c := range proba {
		proba[c] /= n
	}
	return proba, nil
}

// leafValue walks from the root to a leaf. validate guarantees children
// have larger indices than their parent, so the walk terminates.
func (t *tree) leafValue(x []float64) []float64 {
	node := 0
	for t.ChildrenLeft[node] != leafNode {
		if x[t.Feature[node]] <= t.Threshold[node] {
			node = t.ChildrenLeft[node]
		} else {
			node = t.ChildrenRight[node]
		}
	}
	return t.Value[node]
}

func (t *tree) validate(nFeatures, nClasses int) error {
	n := len(t.ChildrenLeft)
	if n == 0 {
		return fmt.Errorf("no nodes")
	}
	if len(t.ChildrenRight) != n || len(t.Feature) != n || len(t.Threshold) != n || len(t.Value) != n {
		return fmt.Errorf("node arrays differ in length")
	}
	for i := 0; i < n; i++ {
		if len(t.Value[i]) != nClasses {
			return fmt.Errorf("node %d: value has %d classes, want %d", i, len(t.Value[i]), nClasses)
		}
		left, right := t.ChildrenLeft[i], t.ChildrenRight[i]
		if left == leafNode {
			if right != leafNode {
				return fmt.Errorf("node %d: leaf has a right child", i)
			}
			continue
		}
		if left <= i || left >= n || right <= i || right >= n {
			return fmt.Errorf("node %d: child index out of range", i)
		}
		if t.Feature[i] < 0 || t.Feature[i] >= nFeatures {
			return fmt.Errorf("node %d: feature %d out of range", i, t.Feature[i])
		}
	}
	return nil
}
