// Package classifier loads the pre-trained crop model and its label decoder.
// Both artifacts are produced outside this service; they are read once at
// startup and are safe for concurrent use afterwards.
package classifier

import (
	"errors"
	"fmt"
)

// Classifier maps a feature vector to an encoded class.
type Classifier interface {
	Predict(features []float64) (int, error)
}

// LabelDecoder maps an encoded class back to its crop name.
type LabelDecoder interface {
	Decode(label int) (string, error)
}

var (
	ErrInvalidArtifact = errors.New("invalid model artifact")
	ErrFeatureCount    = errors.New("wrong number of features")
	ErrInvalidFeature  = errors.New("feature is not a finite number")
	ErrUnknownLabel    = errors.New("y contains previously unseen labels")
)

// Model pairs a classifier with the decoder trained alongside it.
type Model struct {
	Classifier *Forest
	Labels     *Labels
}

// Load reads both artifacts and checks that every class the classifier can
// emit has a name.
func Load(classifierPath, labelsPath string) (*Model, error) {
	forest, err := LoadForestFile(classifierPath)
	if err != nil {
		return nil, err
	}
	labels, err := LoadLabelsFile(labelsPath)
	if err != nil {
		return nil, err
	}
	if labels.Len() < forest.NumClasses() {
		return nil, fmt.Errorf("%w: %s has %d classes, classifier emits %d",
			ErrInvalidArtifact, labelsPath, labels.Len(), forest.NumClasses())
	}
	return &Model{Classifier: forest, Labels: labels}, nil
}
