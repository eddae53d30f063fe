package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"FleetRiskAPI/internal/logger"
	"FleetRiskAPI/internal/metrics"
	"FleetRiskAPI/internal/models"
	"FleetRiskAPI/internal/repository"

	"github.com/cenkalti/backoff/v4"
)

const (
	DefaultAlertWriteAttempts = 3
	DefaultAlertRetryBackoff  = 200 * time.Millisecond
)

// TransitionResult describes one application of a prediction to an asset's
// alerting state.
type TransitionResult struct {
	AssetID          string             `json:"asset_id"`
	From             models.PolicyState `json:"from"`
	To               models.PolicyState `json:"to"`
	Alert            *models.Alert      `json:"alert,omitempty"`
	WorkOrder        *models.WorkOrder  `json:"work_order,omitempty"`
	WorkOrderCreated bool               `json:"work_order_created"`
	// Resolved is set when the transition closed an alert.
	Resolved *models.AlertResolvedEvent `json:"resolved,omitempty"`
}

// AlertOpen reports whether an unresolved alert remains after the transition.
func (r *TransitionResult) AlertOpen() bool {
	return r != nil && r.Alert != nil && !r.Alert.IsResolved
}

type PolicyOptions struct {
	Attempts int
	Backoff  time.Duration
}

// AlertingPolicy maps predictions onto the per-asset alert state machine.
type AlertingPolicy struct {
	ledger   repository.ILedger
	metrics  *metrics.Metrics
	log      *logger.Logger
	attempts int
	backoff  time.Duration
	now      func() time.Time
}

func NewAlertingPolicy(ledger repository.ILedger, opts PolicyOptions, m *metrics.Metrics, log *logger.Logger) *AlertingPolicy {
	if opts.Attempts <= 0 {
		opts.Attempts = DefaultAlertWriteAttempts
	}
	if opts.Backoff <= 0 {
		opts.Backoff = DefaultAlertRetryBackoff
	}
	return &AlertingPolicy{
		ledger:   ledger,
		metrics:  m,
		log:      log.With("policy"),
		attempts: opts.Attempts,
		backoff:  opts.Backoff,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Apply takes the asset lock, rejects stale predictions and applies the
// transition. A stale prediction is marked STALE and its error returned.
// pred may be a copy read before the lock; if the ledger no longer has it
// PENDING, Apply returns models.ErrPredictionSettled and changes nothing.
func (p *AlertingPolicy) Apply(ctx context.Context, pred *models.Prediction) (*TransitionResult, error) {
	var result *TransitionResult
	err := p.ledger.WithAssetLock(ctx, pred.AssetID, func(ctx context.Context) error {
		current, err := p.ledger.GetPrediction(ctx, pred.ID)
		if err != nil {
			return err
		}
		if current.PolicyStatus != models.PolicyPending {
			return fmt.Errorf("prediction %s is %s: %w", pred.ID, current.PolicyStatus, models.ErrPredictionSettled)
		}

		state, err := p.checkStale(ctx, pred)
		if err != nil {
			if errors.Is(err, models.ErrStalePrediction) {
				if serr := p.ledger.SetPolicyStatus(ctx, pred.ID, models.PolicyStale); serr != nil {
					p.log.Warn("Failed to mark prediction %s stale: %v", pred.ID, serr)
				}
			}
			return err
		}
		result, err = p.applyLocked(ctx, pred, state)
		return err
	})
	return result, err
}

// checkStale must run under the asset lock. Equal capture times are not stale.
func (p *AlertingPolicy) checkStale(ctx context.Context, pred *models.Prediction) (*models.AssetPolicyState, error) {
	state, err := p.ledger.GetAssetState(ctx, pred.AssetID)
	if err != nil {
		return nil, err
	}
	if state != nil && pred.CapturedAt.Before(state.LastAppliedAt) {
		return state, &models.StalePredictionError{
			AssetID:    pred.AssetID,
			CapturedAt: pred.CapturedAt,
			AppliedAt:  state.LastAppliedAt,
		}
	}
	return state, nil
}

// applyLocked retries the transition on ledger write failures. On final
// failure the prediction is left PENDING for the sweeper.
func (p *AlertingPolicy) applyLocked(ctx context.Context, pred *models.Prediction, state *models.AssetPolicyState) (*TransitionResult, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.backoff
	b.MaxElapsedTime = 0
	policy := backoff.WithContext(backoff.WithMaxRetries(b, uint64(p.attempts-1)), ctx)

	var result *TransitionResult
	attempt := 0
	op := func() error {
		attempt++
		current := state
		if attempt > 1 {
			// A failed attempt may have written part of the transition.
			reloaded, err := p.ledger.GetAssetState(ctx, pred.AssetID)
			if err != nil {
				return err
			}
			current = reloaded
		}

		res, err := p.transition(ctx, pred, current)
		if err != nil {
			if errors.Is(err, models.ErrLedgerWrite) {
				return err
			}
			return backoff.Permanent(err)
		}
		result = res
		return nil
	}
	notify := func(err error, wait time.Duration) {
		p.log.Warn("Alert write for asset %s failed (attempt %d/%d), retrying in %s: %v",
			pred.AssetID, attempt, p.attempts, wait, err)
	}

	if err := backoff.RetryNotify(op, policy, notify); err != nil {
		return nil, fmt.Errorf("alerting for prediction %s failed after %d attempt(s): %w", pred.ID, attempt, err)
	}

	p.metrics.AlertTransitions.WithLabelValues(string(result.From), string(result.To)).Inc()
	if result.WorkOrderCreated {
		p.metrics.WorkOrdersCreated.Inc()
	}
	if result.From != result.To {
		p.log.Info("Asset %s: %s -> %s (prediction %s, %s)", pred.AssetID, result.From, result.To, pred.ID, pred.RiskLevel)
	}
	return result, nil
}

// transition performs one attempt. Asset state is written last, so a retry
// starts from the previous committed state and repeats the idempotent writes.
func (p *AlertingPolicy) transition(ctx context.Context, pred *models.Prediction, state *models.AssetPolicyState) (*TransitionResult, error) {
	from := models.StateNone
	if state != nil {
		from = state.State
	}

	open, err := p.ledger.GetOpenAlert(ctx, pred.AssetID, models.AlertTypePrediction)
	if err != nil {
		return nil, err
	}
	if open == nil {
		from = models.StateNone
	}

	res := &TransitionResult{AssetID: pred.AssetID, From: from, To: models.StateNone}
	level := pred.RiskLevel

	switch {
	case level == models.RiskLow:
		if open != nil {
			resolved, err := p.ledger.ResolveAlert(ctx, open.ID, models.ResolvedBySystem, p.now())
			if err != nil {
				return nil, err
			}
			res.Alert = resolved
			res.Resolved = resolvedEvent(resolved)
		} else if prev := p.previouslyResolved(ctx, state); prev != nil {
			res.Alert = prev
			res.Resolved = resolvedEvent(prev)
		}

	case open != nil:
		open.Severity = level
		open.Title = alertTitle(pred)
		open.Message = alertMessage(pred)
		open.PredictionID = &pred.ID
		if err := p.ledger.UpsertAlert(ctx, open); err != nil {
			return nil, err
		}
		res.Alert = open
		res.To = models.StateForSeverity(level)

	case level.IsHighPriority():
		alert := &models.Alert{
			AssetID:      pred.AssetID,
			AlertType:    models.AlertTypePrediction,
			PredictionID: &pred.ID,
			Severity:     level,
			Title:        alertTitle(pred),
			Message:      alertMessage(pred),
		}
		if err := p.ledger.UpsertAlert(ctx, alert); err != nil {
			return nil, err
		}
		res.Alert = alert
		res.To = models.StateOpenHighPriority

	default:
		// MEDIUM with nothing open stays NONE.
	}

	if res.To == models.StateOpenHighPriority && from != models.StateOpenHighPriority {
		wo := &models.WorkOrder{
			AssetID:       pred.AssetID,
			WorkOrderType: models.WorkOrderTypePredictive,
			Priority:      workOrderPriority(level),
			SourceAlertID: res.Alert.ID,
			Title:         fmt.Sprintf("Predictive maintenance: %s", pred.AssetID),
			Description:   pred.Recommendations,
		}
		created, err := p.ledger.CreateWorkOrder(ctx, wo)
		if err != nil {
			return nil, err
		}
		res.WorkOrder = wo
		res.WorkOrderCreated = created
	}

	next := &models.AssetPolicyState{
		AssetID:          pred.AssetID,
		State:            res.To,
		LastAppliedAt:    pred.CapturedAt,
		LastPredictionID: pred.ID,
	}
	if res.AlertOpen() {
		id := res.Alert.ID
		next.OpenAlertID = &id
	}
	if err := p.ledger.SaveAssetState(ctx, next); err != nil {
		return nil, err
	}
	if err := p.ledger.SetPolicyStatus(ctx, pred.ID, models.PolicyApplied); err != nil {
		return nil, err
	}
	pred.PolicyStatus = models.PolicyApplied

	return res, nil
}

// previouslyResolved finds an alert the persisted state still points at but
// which is already resolved, i.e. an earlier attempt resolved it and then
// failed before saving state. Its resolved event has not been emitted yet.
func (p *AlertingPolicy) previouslyResolved(ctx context.Context, state *models.AssetPolicyState) *models.Alert {
	if state == nil || state.OpenAlertID == nil {
		return nil
	}
	alert, err := p.ledger.GetAlert(ctx, *state.OpenAlertID)
	if err != nil || !alert.IsResolved {
		return nil
	}
	return alert
}

func resolvedEvent(a *models.Alert) *models.AlertResolvedEvent {
	evt := &models.AlertResolvedEvent{
		AlertID:  a.ID,
		AssetID:  a.AssetID,
		Severity: a.Severity,
	}
	if a.ResolvedBy != nil {
		evt.ResolvedBy = *a.ResolvedBy
	}
	if a.ResolvedAt != nil {
		evt.ResolvedAt = *a.ResolvedAt
	}
	return evt
}

func alertTitle(pred *models.Prediction) string {
	return fmt.Sprintf("%s failure risk on asset %s", strings.ToLower(string(pred.RiskLevel)), pred.AssetID)
}

func alertMessage(pred *models.Prediction) string {
	return fmt.Sprintf("Failure probability %.2f%% (confidence %.2f%%, model %s).\n%s",
		pred.FailureProbability, pred.ConfidenceScore, pred.ModelVersion, pred.Recommendations)
}

func workOrderPriority(level models.RiskLevel) string {
	switch level {
	case models.RiskCritical:
		return models.PriorityCritical
	case models.RiskHigh:
		return models.PriorityHigh
	default:
		return models.PriorityMedium
	}
}
