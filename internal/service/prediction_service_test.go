package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"FleetRiskAPI/internal/models"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProcess_HighRiskOpensAlertAndWorkOrder(t *testing.T) {
	h := newHarness(t)

	out := h.process(t, snapshot("truck-1", 0, 62))

	require.NotNil(t, out.Transition)
	assert.Equal(t, models.RiskHigh, out.Prediction.RiskLevel)
	assert.Equal(t, models.PolicyApplied, out.Prediction.PolicyStatus)
	assert.Equal(t, models.StateNone, out.Transition.From)
	assert.Equal(t, models.StateOpenHighPriority, out.Transition.To)
	assert.True(t, out.Transition.WorkOrderCreated)
	assert.False(t, out.AlertingDeferred)

	wos := h.workOrders(t, "truck-1")
	require.Len(t, wos, 1)
	assert.Equal(t, out.Transition.Alert.ID, wos[0].SourceAlertID)
	assert.Equal(t, models.PriorityHigh, wos[0].Priority)
	assert.Equal(t, models.WorkOrderTypePredictive, wos[0].WorkOrderType)

	require.NotNil(t, out.Dispatch)
	assert.Equal(t, 1, out.Dispatch.Sent())
	assert.Equal(t, 1, h.inApp.sentTo("ops-1"))
	assert.Zero(t, h.inApp.sentTo("tech-7"), "only recipients that see every asset are subscribers")

	stored, err := h.ledger.GetPrediction(context.Background(), out.Prediction.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PolicyApplied, stored.PolicyStatus)
}

func TestProcess_AlertLifecycle(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	steps := []struct {
		probability float64
		wantFrom    models.PolicyState
		wantTo      models.PolicyState
	}{
		{62, models.StateNone, models.StateOpenHighPriority},
		{78, models.StateOpenHighPriority, models.StateOpenHighPriority},
		{41, models.StateOpenHighPriority, models.StateOpenLowPriority},
		{8, models.StateOpenLowPriority, models.StateNone},
	}

	var alertID string
	for i, step := range steps {
		out := h.process(t, snapshot("truck-2", i, step.probability))
		require.NotNil(t, out.Transition, "step %d", i)
		assert.Equal(t, step.wantFrom, out.Transition.From, "step %d", i)
		assert.Equal(t, step.wantTo, out.Transition.To, "step %d", i)
		if alertID == "" {
			alertID = out.Transition.Alert.ID
		}
		assert.Equal(t, alertID, out.Transition.Alert.ID, "the same alert is updated in place")
	}

	alert, err := h.ledger.GetAlert(ctx, alertID)
	require.NoError(t, err)
	assert.True(t, alert.IsResolved)
	require.NotNil(t, alert.ResolvedBy)
	assert.Equal(t, models.ResolvedBySystem, *alert.ResolvedBy)
	assert.Equal(t, models.RiskMedium, alert.Severity, "severity follows the last update before resolution")

	assert.Len(t, h.workOrders(t, "truck-2"), 1)
	assert.Equal(t, 1, h.inApp.sentTo("ops-1"), "updates do not re-notify")

	events := h.publisher.published()
	require.Len(t, events, 1)
	assert.Equal(t, alertID, events[0].AlertID)
	assert.Equal(t, models.ResolvedBySystem, events[0].ResolvedBy)

	stats, err := h.ledger.AlertStatistics(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats["resolved"])
	assert.Equal(t, 0, stats["open"])

	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.AlertTransitions.WithLabelValues("NONE", "OPEN_HIGH_PRIORITY")))
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.AlertTransitions.WithLabelValues("OPEN_LOW_PRIORITY", "NONE")))
}

func TestProcess_MediumWithoutOpenAlertStaysNone(t *testing.T) {
	h := newHarness(t)

	out := h.process(t, snapshot("truck-3", 0, 35))

	assert.Equal(t, models.RiskMedium, out.Prediction.RiskLevel)
	assert.Equal(t, models.StateNone, out.Transition.To)
	assert.Nil(t, out.Transition.Alert)
	assert.Nil(t, out.Dispatch)
	assert.Empty(t, h.workOrders(t, "truck-3"))
	assert.Equal(t, models.StateNone, h.state(t, "truck-3"))
}

func TestProcess_ReescalationReusesWorkOrder(t *testing.T) {
	h := newHarness(t)

	h.process(t, snapshot("truck-4", 0, 65))
	h.process(t, snapshot("truck-4", 1, 40))
	out := h.process(t, snapshot("truck-4", 2, 66))

	assert.Equal(t, models.StateOpenLowPriority, out.Transition.From)
	assert.Equal(t, models.StateOpenHighPriority, out.Transition.To)
	assert.False(t, out.Transition.WorkOrderCreated, "the open work order for the alert is reused")
	assert.Len(t, h.workOrders(t, "truck-4"), 1)
}

func TestProcess_StalePredictionRejected(t *testing.T) {
	h := newHarness(t)

	h.process(t, snapshot("truck-5", 10, 60))

	_, err := h.svc.Process(context.Background(), snapshot("truck-5", 5, 5))
	require.ErrorIs(t, err, models.ErrStalePrediction)

	list, err := h.ledger.ListPredictions(context.Background(), "truck-5", 0)
	require.NoError(t, err)
	assert.Len(t, list, 1, "stale predictions are not recorded")
	assert.Equal(t, models.StateOpenHighPriority, h.state(t, "truck-5"))
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.ScoringRejections.WithLabelValues("stale")))
}

func TestProcess_EqualCaptureTimeIsApplied(t *testing.T) {
	h := newHarness(t)

	h.process(t, snapshot("truck-6", 10, 60))
	out := h.process(t, snapshot("truck-6", 10, 5))

	assert.Equal(t, models.StateNone, out.Transition.To)
	assert.NotNil(t, out.Transition.Resolved)
}

func TestProcess_AdvisoryPrediction(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	s := snapshot("truck-7", 0, 92)
	s.Features["conf"] = 35
	out := h.process(t, s)

	assert.True(t, out.Prediction.Advisory)
	assert.Equal(t, models.PolicySkipped, out.Prediction.PolicyStatus)
	assert.Nil(t, out.Transition)
	assert.Equal(t, models.StateNone, h.state(t, "truck-7"))

	open, err := h.ledger.GetOpenAlert(ctx, "truck-7", models.AlertTypePrediction)
	require.NoError(t, err)
	assert.Nil(t, open)
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.Predictions.WithLabelValues("CRITICAL", "true")))

	// Advisory predictions never move state, even when they would resolve.
	h.process(t, snapshot("truck-7", 10, 70))
	low := snapshot("truck-7", 20, 3)
	low.Features["conf"] = 20
	h.process(t, low)
	assert.Equal(t, models.StateOpenHighPriority, h.state(t, "truck-7"))

	// They are still subject to the stale check.
	old := snapshot("truck-7", 5, 3)
	old.Features["conf"] = 20
	_, err = h.svc.Process(ctx, old)
	assert.ErrorIs(t, err, models.ErrStalePrediction)
}

func TestProcess_InvalidScoreRejected(t *testing.T) {
	h := newHarness(t)

	_, err := h.svc.Process(context.Background(), snapshot("truck-8", 0, 130))
	require.ErrorIs(t, err, models.ErrInvalidScore)

	list, err := h.ledger.ListPredictions(context.Background(), "truck-8", 0)
	require.NoError(t, err)
	assert.Empty(t, list)
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.ScoringRejections.WithLabelValues("invalid_score")))
}

func TestProcess_InvalidSnapshotRejected(t *testing.T) {
	h := newHarness(t)

	_, err := h.svc.Process(context.Background(), models.FeatureSnapshot{CapturedAt: baseTime})
	require.ErrorIs(t, err, models.ErrInvalidSnapshot)
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.ScoringRejections.WithLabelValues("invalid_snapshot")))
}

func TestProcess_RetriesTransientLedgerFailure(t *testing.T) {
	h := newHarness(t)
	h.ledger.failWorkOrder.Store(1)
	h.ledger.failSaveState.Store(1)

	out := h.process(t, snapshot("truck-9", 0, 80))

	assert.False(t, out.AlertingDeferred)
	assert.Equal(t, models.StateOpenHighPriority, out.Transition.To)
	assert.Equal(t, models.PolicyApplied, out.Prediction.PolicyStatus)
	assert.Len(t, h.workOrders(t, "truck-9"), 1)
	assert.Equal(t, int32(3), h.ledger.workOrderCalls.Load())

	alerts, err := h.ledger.ListAlerts(context.Background(), models.AlertFilter{AssetID: "truck-9"})
	require.NoError(t, err)
	assert.Len(t, alerts, 1, "a retried attempt updates the alert the failed attempt created")
}

func TestProcess_ResolvedEventSurvivesRetry(t *testing.T) {
	h := newHarness(t)

	first := h.process(t, snapshot("truck-10", 0, 80))
	h.ledger.failSaveState.Store(1)
	out := h.process(t, snapshot("truck-10", 1, 2))

	require.NotNil(t, out.Transition.Resolved)
	assert.Equal(t, first.Transition.Alert.ID, out.Transition.Resolved.AlertID)
	assert.Len(t, h.publisher.published(), 1)
	assert.Equal(t, models.StateNone, h.state(t, "truck-10"))
}

func TestProcess_DefersAlertingAfterFinalFailure(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.ledger.failSaveState.Store(3)

	out := h.process(t, snapshot("truck-11", 0, 75))

	assert.True(t, out.AlertingDeferred)
	assert.Nil(t, out.Dispatch)
	stored, err := h.ledger.GetPrediction(ctx, out.Prediction.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PolicyPending, stored.PolicyStatus)
	assert.Zero(t, h.inApp.sentTo("ops-1"))

	sweeper := NewPendingSweeper(h.ledger, h.svc, 0, 0, h.metrics, h.svc.log)
	res := sweeper.SweepOnce(ctx)
	assert.Equal(t, SweepResult{Applied: 1}, res)

	stored, err = h.ledger.GetPrediction(ctx, out.Prediction.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PolicyApplied, stored.PolicyStatus)
	assert.Equal(t, models.StateOpenHighPriority, h.state(t, "truck-11"))
	assert.Len(t, h.workOrders(t, "truck-11"), 1)
	assert.Equal(t, 1, h.inApp.sentTo("ops-1"))
}

func TestProcess_ConcurrentSnapshotsOpenOneAlert(t *testing.T) {
	h := newHarness(t)

	var wg sync.WaitGroup
	errs := make(chan error, 16)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := h.svc.Process(context.Background(), snapshot("truck-12", 0, 90))
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	alerts, err := h.ledger.ListAlerts(context.Background(), models.AlertFilter{AssetID: "truck-12"})
	require.NoError(t, err)
	assert.Len(t, alerts, 1)
	assert.Len(t, h.workOrders(t, "truck-12"), 1)
	assert.Equal(t, 1, h.inApp.sentTo("ops-1"))
}

func TestProcess_DispatchOutlivesCallerDeadline(t *testing.T) {
	h := newHarness(t)
	h.inApp.delay = 100 * time.Millisecond

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	out, err := h.svc.Process(ctx, snapshot("truck-20", 0, 95))
	require.NoError(t, err)
	require.Error(t, ctx.Err(), "caller deadline passed while the channel was sending")

	require.NotNil(t, out.Dispatch)
	assert.Empty(t, out.Dispatch.Failures)
	assert.Equal(t, 1, out.Dispatch.Sent())
	assert.Equal(t, 1, h.inApp.sentTo("ops-1"))
}

func TestApplyPending_SkipsPredictionAlreadyApplied(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	out := h.process(t, snapshot("truck-21", 0, 95))
	require.Equal(t, models.PolicyApplied, out.Prediction.PolicyStatus)
	require.Equal(t, 1, h.inApp.sentTo("ops-1"))
	transitions := testutil.CollectAndCount(h.metrics.AlertTransitions)

	// A copy listed while the prediction was still pending.
	listed := *out.Prediction
	listed.PolicyStatus = models.PolicyPending

	result, err := h.svc.ApplyPending(ctx, &listed)
	require.ErrorIs(t, err, models.ErrPredictionSettled)
	assert.Nil(t, result)

	assert.Equal(t, 1, h.inApp.sentTo("ops-1"), "no second dispatch")
	assert.Equal(t, transitions, testutil.CollectAndCount(h.metrics.AlertTransitions))
	assert.Len(t, h.workOrders(t, "truck-21"), 1)
	assert.Equal(t, models.StateOpenHighPriority, h.state(t, "truck-21"))

	stored, err := h.ledger.GetPrediction(ctx, out.Prediction.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PolicyApplied, stored.PolicyStatus)
}

func TestRiskStatus(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.svc.RiskStatus(ctx, "unknown")
	require.ErrorIs(t, err, models.ErrNotFound)

	out := h.process(t, snapshot("truck-13", 0, 71))

	status, err := h.svc.RiskStatus(ctx, "truck-13")
	require.NoError(t, err)
	assert.Equal(t, models.StateOpenHighPriority, status.State)
	require.NotNil(t, status.LatestPrediction)
	assert.Equal(t, out.Prediction.ID, status.LatestPrediction.ID)
	require.NotNil(t, status.OpenAlert)
	assert.Equal(t, models.RiskCritical, status.OpenAlert.Severity)
	require.NotNil(t, status.LastAppliedAt)
	assert.True(t, status.LastAppliedAt.Equal(baseTime))
}

func TestFeatureHandler(t *testing.T) {
	h := newHarness(t)
	handle := h.svc.FeatureHandler()
	ctx := context.Background()

	payload := []byte(`{"asset_id":"ignored","captured_at":"2026-03-01T08:00:00Z","features":{"p":72}}`)
	require.NoError(t, handle(ctx, "truck-14", payload))

	status, err := h.svc.RiskStatus(ctx, "truck-14")
	require.NoError(t, err)
	assert.Equal(t, models.StateOpenHighPriority, status.State)

	_, err = h.svc.RiskStatus(ctx, "ignored")
	assert.ErrorIs(t, err, models.ErrNotFound)

	assert.Error(t, handle(ctx, "truck-14", []byte("{")))
}
