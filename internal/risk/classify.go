// Package risk turns failure-model output into risk levels and maintenance recommendations.
package risk

import (
	"math"

	"FleetRiskAPI/internal/models"
)

// Lower bounds of each level. A probability belongs to the highest level whose bound it reaches.
const (
	MediumThreshold   = 30.0
	HighThreshold     = 50.0
	CriticalThreshold = 70.0

	DefaultMinConfidence = 50.0
)

// Classify buckets a failure probability in [0,100] into a risk level.
func Classify(probability float64) (models.RiskLevel, error) {
	if err := validateRange("failure_probability", probability); err != nil {
		return "", err
	}

	switch {
	case probability >= CriticalThreshold:
		return models.RiskCritical, nil
	case probability >= HighThreshold:
		return models.RiskHigh, nil
	case probability >= MediumThreshold:
		return models.RiskMedium, nil
	default:
		return models.RiskLow, nil
	}
}

func ValidateConfidence(confidence float64) error {
	return validateRange("confidence_score", confidence)
}

// IsAdvisory reports whether a prediction is too uncertain to drive alerting.
func IsAdvisory(confidence, minConfidence float64) bool {
	return confidence < minConfidence
}

// RoundProbability keeps two decimals, the precision stored on predictions.
func RoundProbability(p float64) float64 {
	return math.Round(p*100) / 100
}

func validateRange(field string, v float64) error {
	if math.IsNaN(v) || v < 0 || v > 100 {
		return &models.InvalidScoreError{Field: field, Value: v}
	}
	return nil
}
