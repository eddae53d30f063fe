package risk

import (
	"context"
	"errors"
	"fmt"
	"time"

	"FleetRiskAPI/internal/models"

	"github.com/google/uuid"
)

const DefaultScorerTimeout = 5 * time.Second

// Scorer calls the model and classifies its output into an unsaved Prediction.
type Scorer struct {
	model         ModelClient
	timeout       time.Duration
	minConfidence float64
	now           func() time.Time
}

func NewScorer(model ModelClient, timeout time.Duration, minConfidence float64) *Scorer {
	if timeout <= 0 {
		timeout = DefaultScorerTimeout
	}
	return &Scorer{
		model:         model,
		timeout:       timeout,
		minConfidence: minConfidence,
		now:           func() time.Time { return time.Now().UTC() },
	}
}

func (s *Scorer) MinConfidence() float64 {
	return s.minConfidence
}

// Score runs the model under the scorer timeout. Nothing is persisted here; a
// timeout yields ErrScoringTimeout so the caller can retry the whole event.
func (s *Scorer) Score(ctx context.Context, snapshot models.FeatureSnapshot) (*models.Prediction, error) {
	if snapshot.AssetID == "" {
		return nil, fmt.Errorf("%w: asset_id is required", models.ErrInvalidSnapshot)
	}
	if snapshot.CapturedAt.IsZero() {
		return nil, fmt.Errorf("%w: captured_at is required", models.ErrInvalidSnapshot)
	}

	out, err := s.predict(ctx, snapshot)
	if err != nil {
		return nil, err
	}

	return s.Classify(snapshot, out)
}

// Classify converts raw model output into a prediction for the snapshot.
func (s *Scorer) Classify(snapshot models.FeatureSnapshot, out models.ModelOutput) (*models.Prediction, error) {
	probability := RoundProbability(out.FailureProbability)
	level, err := Classify(probability)
	if err != nil {
		return nil, err
	}
	if err := ValidateConfidence(out.ConfidenceScore); err != nil {
		return nil, err
	}

	advisory := IsAdvisory(out.ConfidenceScore, s.minConfidence)
	status := models.PolicyPending
	if advisory {
		status = models.PolicySkipped
	}

	return &models.Prediction{
		ID:                 uuid.NewString(),
		AssetID:            snapshot.AssetID,
		FailureProbability: probability,
		ConfidenceScore:    RoundProbability(out.ConfidenceScore),
		RiskLevel:          level,
		ModelVersion:       out.ModelVersion,
		Recommendations:    BuildRecommendation(snapshot.Features, level),
		Advisory:           advisory,
		PolicyStatus:       status,
		CapturedAt:         snapshot.CapturedAt.UTC(),
		CreatedAt:          s.now(),
	}, nil
}

type predictResult struct {
	out models.ModelOutput
	err error
}

func (s *Scorer) predict(ctx context.Context, snapshot models.FeatureSnapshot) (models.ModelOutput, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	done := make(chan predictResult, 1)
	go func() {
		out, err := s.model.Predict(ctx, snapshot)
		done <- predictResult{out: out, err: err}
	}()

	select {
	case res := <-done:
		if res.err != nil {
			if errors.Is(res.err, context.DeadlineExceeded) {
				return models.ModelOutput{}, fmt.Errorf("%w: asset %s after %s", models.ErrScoringTimeout, snapshot.AssetID, s.timeout)
			}
			return models.ModelOutput{}, fmt.Errorf("model prediction failed: %w", res.err)
		}
		return res.out, nil
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return models.ModelOutput{}, fmt.Errorf("%w: asset %s after %s", models.ErrScoringTimeout, snapshot.AssetID, s.timeout)
		}
		return models.ModelOutput{}, ctx.Err()
	}
}
