package service

import (
	"context"
	"fmt"
	"net/url"

	"go.uber.org/zap"

	"github.com/kjstillabower/crop-advisor/internal/classifier"
	"github.com/kjstillabower/crop-advisor/internal/models"
	"github.com/kjstillabower/crop-advisor/internal/observability"
	"github.com/kjstillabower/crop-advisor/internal/validation"
)

// CropService turns a submitted crop form into a recommendation using the
// classifier and label decoder loaded at startup. Both are read-only, so
// one CropService serves all requests.
type CropService struct {
	classifier classifier.Classifier
	decoder    classifier.LabelDecoder
}

func NewCropService(c classifier.Classifier, d classifier.LabelDecoder) *CropService {
	return &CropService{classifier: c, decoder: d}
}

// Features casts the inputs into the vector the model was trained on:
// N, P, K, temperature, humidity, pH, rainfall. This differs from the form
// order, where pH precedes temperature.
func Features(in models.CropInput) ([]float64, error) {
	raw := []string{
		in.Nitrogen,
		in.Phosphorus,
		in.Potassium,
		in.Temperature,
		in.Humidity,
		in.PH,
		in.Rainfall,
	}
	features := make([]float64, len(raw))
	for i, r := range raw {
		v, err := validation.ParseFloat(r)
		if err != nil {
			return nil, err
		}
		features[i] = v
	}
	return features, nil
}

// Recommend runs the whole crop flow for one POST. It always returns the
// submitted values for repopulation; failures are carried in the
// Prediction, never returned.
func (s *CropService) Recommend(ctx context.Context, form url.Values) (models.CropInput, models.Prediction) {
	logger := observability.LoggerFromContext(ctx)

	in, err := validation.CropInputFromForm(form)
	if err != nil {
		return in, s.reject(logger, "invalid_input", err)
	}
	features, err := Features(in)
	if err != nil {
		return in, s.reject(logger, "invalid_input", err)
	}

	crop, err := s.predict(features)
	if err != nil {
		return in, s.reject(logger, "model_error", err)
	}

	observability.PredictionsTotal.WithLabelValues("success").Inc()
	observability.RecommendedCropsTotal.WithLabelValues(crop).Inc()
	logger.Debug("crop recommended", zap.String("crop", crop), zap.Float64s("features", features))
	return in, models.Prediction{Crop: crop}
}

func (s *CropService) predict(features []float64) (string, error) {
	label, err := s.classifier.Predict(features)
	if err != nil {
		return "", fmt.Errorf("predict: %w", err)
	}
	crop, err := s.decoder.Decode(label)
	if err != nil {
		return "", err
	}
	return crop, nil
}

func (s *CropService) reject(logger *zap.Logger, outcome string, err error) models.Prediction {
	observability.PredictionsTotal.WithLabelValues(outcome).Inc()
	logger.Debug("crop recommendation failed", zap.String("outcome", outcome), zap.Error(err))
	return models.Prediction{Error: err.Error()}
}
