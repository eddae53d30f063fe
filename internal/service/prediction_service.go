package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"FleetRiskAPI/internal/events"
	"FleetRiskAPI/internal/logger"
	"FleetRiskAPI/internal/metrics"
	"FleetRiskAPI/internal/models"
	"FleetRiskAPI/internal/mqtt"
	"FleetRiskAPI/internal/repository"
	"FleetRiskAPI/internal/risk"
)

type IPredictionService interface {
	Process(ctx context.Context, snapshot models.FeatureSnapshot) (*ScoringOutcome, error)
	RiskStatus(ctx context.Context, assetID string) (*models.AssetRiskStatus, error)
	ListPredictions(ctx context.Context, assetID string, limit int) ([]models.Prediction, error)
	ListWorkOrders(ctx context.Context, assetID string) ([]models.WorkOrder, error)
}

type riskScorer interface {
	Score(ctx context.Context, snapshot models.FeatureSnapshot) (*models.Prediction, error)
}

type subscriberDispatcher interface {
	DispatchToSubscribers(ctx context.Context, alertID string) (*models.DispatchReport, error)
}

// ScoringOutcome is what Process reports back for one snapshot.
type ScoringOutcome struct {
	Prediction *models.Prediction     `json:"prediction"`
	Transition *TransitionResult      `json:"transition,omitempty"`
	Dispatch   *models.DispatchReport `json:"dispatch,omitempty"`
	// AlertingDeferred is set when the prediction was recorded but its alert
	// transition failed; the pending sweep retries it.
	AlertingDeferred bool `json:"alerting_deferred"`
}

type PredictionService struct {
	scorer     riskScorer
	ledger     repository.ILedger
	policy     *AlertingPolicy
	dispatcher subscriberDispatcher
	publisher  events.Publisher
	metrics    *metrics.Metrics
	log        *logger.Logger
}

func NewPredictionService(
	scorer riskScorer,
	ledger repository.ILedger,
	policy *AlertingPolicy,
	dispatcher subscriberDispatcher,
	publisher events.Publisher,
	m *metrics.Metrics,
	log *logger.Logger,
) *PredictionService {
	return &PredictionService{
		scorer:     scorer,
		ledger:     ledger,
		policy:     policy,
		dispatcher: dispatcher,
		publisher:  publisher,
		metrics:    m,
		log:        log.With("scoring"),
	}
}

// Process scores a snapshot, records the prediction and applies alerting.
// The asset lock covers the stale check, the prediction write and the state
// transition; notification and events run after it is released.
func (s *PredictionService) Process(ctx context.Context, snapshot models.FeatureSnapshot) (*ScoringOutcome, error) {
	pred, err := s.scorer.Score(ctx, snapshot)
	if err != nil {
		s.reject(snapshot, err)
		return nil, err
	}

	outcome := &ScoringOutcome{Prediction: pred}
	var alertErr error

	err = s.ledger.WithAssetLock(ctx, pred.AssetID, func(ctx context.Context) error {
		state, err := s.policy.checkStale(ctx, pred)
		if err != nil {
			return err
		}
		if err := s.ledger.RecordPrediction(ctx, pred); err != nil {
			return err
		}
		if pred.Advisory {
			return nil
		}
		outcome.Transition, alertErr = s.policy.applyLocked(ctx, pred, state)
		return nil
	})
	if err != nil {
		s.reject(snapshot, err)
		return nil, err
	}

	s.metrics.Predictions.WithLabelValues(string(pred.RiskLevel), strconv.FormatBool(pred.Advisory)).Inc()

	if pred.Advisory {
		s.log.Info("Advisory prediction %s for asset %s (confidence %.2f), alerting skipped",
			pred.ID, pred.AssetID, pred.ConfidenceScore)
		return outcome, nil
	}
	if alertErr != nil {
		s.log.Error("Prediction %s recorded, alerting deferred: %v", pred.ID, alertErr)
		outcome.AlertingDeferred = true
		return outcome, nil
	}

	outcome.Dispatch = s.followUp(ctx, outcome.Transition)
	return outcome, nil
}

// ApplyPending re-applies a recorded PENDING prediction. Nothing is
// dispatched when Process settled it in the meantime.
func (s *PredictionService) ApplyPending(ctx context.Context, pred *models.Prediction) (*TransitionResult, error) {
	result, err := s.policy.Apply(ctx, pred)
	if err != nil {
		switch {
		case errors.Is(err, models.ErrStalePrediction):
			s.log.Audit("pending prediction %s rejected: %v", pred.ID, err)
		case errors.Is(err, models.ErrPredictionSettled):
			s.log.Debug("Skipping %v", err)
		}
		return nil, err
	}
	s.followUp(ctx, result)
	return result, nil
}

func (s *PredictionService) followUp(ctx context.Context, result *TransitionResult) *models.DispatchReport {
	if result == nil {
		return nil
	}
	// Delivery must not inherit the caller's deadline (an MQTT message or
	// HTTP request); each send is bounded by the channel timeout instead.
	ctx = context.WithoutCancel(ctx)

	if result.Resolved != nil && s.publisher != nil {
		if err := s.publisher.PublishResolved(ctx, *result.Resolved); err != nil {
			s.log.Warn("Resolved event for alert %s not fully delivered: %v", result.Resolved.AlertID, err)
		}
	}

	if !result.AlertOpen() || s.dispatcher == nil {
		return nil
	}
	report, err := s.dispatcher.DispatchToSubscribers(ctx, result.Alert.ID)
	if err != nil {
		s.log.Error("Dispatch for alert %s failed: %v", result.Alert.ID, err)
		return nil
	}
	return report
}

func (s *PredictionService) reject(snapshot models.FeatureSnapshot, err error) {
	var reason string
	switch {
	case errors.Is(err, models.ErrInvalidScore):
		reason = "invalid_score"
	case errors.Is(err, models.ErrStalePrediction):
		reason = "stale"
	case errors.Is(err, models.ErrScoringTimeout):
		reason = "timeout"
	case errors.Is(err, models.ErrInvalidSnapshot):
		reason = "invalid_snapshot"
	default:
		reason = "error"
	}
	s.metrics.ScoringRejections.WithLabelValues(reason).Inc()

	if reason == "invalid_score" || reason == "stale" {
		s.log.Audit("asset=%s captured_at=%s rejected: %v",
			snapshot.AssetID, snapshot.CapturedAt.Format(time.RFC3339Nano), err)
		return
	}
	s.log.Error("Scoring asset %s failed: %v", snapshot.AssetID, err)
}

// RiskStatus returns the latest prediction, open alert and state for an asset.
func (s *PredictionService) RiskStatus(ctx context.Context, assetID string) (*models.AssetRiskStatus, error) {
	latest, err := s.ledger.LatestPrediction(ctx, assetID)
	if err != nil {
		return nil, err
	}
	state, err := s.ledger.GetAssetState(ctx, assetID)
	if err != nil {
		return nil, err
	}
	if latest == nil && state == nil {
		return nil, fmt.Errorf("asset %s: %w", assetID, models.ErrNotFound)
	}

	open, err := s.ledger.GetOpenAlert(ctx, assetID, models.AlertTypePrediction)
	if err != nil {
		return nil, err
	}

	status := &models.AssetRiskStatus{
		AssetID:          assetID,
		State:            models.StateNone,
		LatestPrediction: latest,
		OpenAlert:        open,
	}
	if state != nil {
		status.State = state.State
		applied := state.LastAppliedAt
		status.LastAppliedAt = &applied
	}
	return status, nil
}

func (s *PredictionService) ListPredictions(ctx context.Context, assetID string, limit int) ([]models.Prediction, error) {
	return s.ledger.ListPredictions(ctx, assetID, limit)
}

func (s *PredictionService) ListWorkOrders(ctx context.Context, assetID string) ([]models.WorkOrder, error) {
	return s.ledger.ListWorkOrders(ctx, assetID)
}

// FeatureHandler consumes snapshots published on {prefix}/{asset_id}/features.
// The asset id in the topic wins over one in the payload.
func (s *PredictionService) FeatureHandler() mqtt.AssetHandler {
	return func(ctx context.Context, assetID string, payload []byte) error {
		var req models.ScoreRequest
		if err := json.Unmarshal(payload, &req); err != nil {
			return fmt.Errorf("invalid feature payload for %s: %w", assetID, err)
		}
		req.AssetID = assetID

		outcome, err := s.Process(ctx, req.Snapshot())
		if err != nil {
			return err
		}
		s.log.Debug("Scored %s: %.2f%% %s", assetID, outcome.Prediction.FailureProbability, outcome.Prediction.RiskLevel)
		return nil
	}
}

var _ riskScorer = (*risk.Scorer)(nil)
