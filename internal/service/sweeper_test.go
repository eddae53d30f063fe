package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"FleetRiskAPI/internal/logger"
	"FleetRiskAPI/internal/models"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type scriptedApplier struct {
	mu    sync.Mutex
	calls []string
	fail  map[string]error
}

func (a *scriptedApplier) ApplyPending(ctx context.Context, pred *models.Prediction) (*TransitionResult, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.calls = append(a.calls, pred.ID)
	return nil, a.fail[pred.ID]
}

func recordPending(t *testing.T, h *harness, id, asset string, minute int) {
	t.Helper()
	require.NoError(t, h.ledger.RecordPrediction(context.Background(), &models.Prediction{
		ID:                 id,
		AssetID:            asset,
		FailureProbability: 72,
		ConfidenceScore:    90,
		RiskLevel:          models.RiskCritical,
		PolicyStatus:       models.PolicyPending,
		CapturedAt:         baseTime.Add(time.Duration(minute) * time.Minute),
	}))
}

func TestSweepOnce_KeepsPerAssetOrderAfterFailure(t *testing.T) {
	h := newHarness(t)
	recordPending(t, h, "a1", "loader-1", 0)
	recordPending(t, h, "b1", "loader-2", 1)
	recordPending(t, h, "a2", "loader-1", 2)
	recordPending(t, h, "b2", "loader-2", 3)

	applier := &scriptedApplier{fail: map[string]error{
		"a1": models.NewLedgerWriteError("save asset state", errors.New("connection reset")),
	}}
	sweeper := NewPendingSweeper(h.ledger, applier, time.Hour, 10, h.metrics, logger.Discard())

	res := sweeper.SweepOnce(context.Background())

	assert.Equal(t, SweepResult{Applied: 2, Failed: 1}, res)
	assert.Equal(t, []string{"a1", "b1", "b2"}, applier.calls, "a2 waits behind a1")
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.PendingSwept.WithLabelValues("failed")))
	assert.Equal(t, 2.0, testutil.ToFloat64(h.metrics.PendingSwept.WithLabelValues("applied")))
}

func TestSweepOnce_MarksStalePredictions(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.process(t, snapshot("loader-3", 10, 20))
	recordPending(t, h, "old", "loader-3", 5)

	sweeper := NewPendingSweeper(h.ledger, h.svc, time.Hour, 10, h.metrics, logger.Discard())
	res := sweeper.SweepOnce(ctx)
	assert.Equal(t, SweepResult{Stale: 1}, res)

	pred, err := h.ledger.GetPrediction(ctx, "old")
	require.NoError(t, err)
	assert.Equal(t, models.PolicyStale, pred.PolicyStatus)

	// Nothing left to sweep.
	assert.Equal(t, SweepResult{}, sweeper.SweepOnce(ctx))
}

func TestSweepOnce_CountsSettledPredictionsAsSkipped(t *testing.T) {
	h := newHarness(t)
	recordPending(t, h, "c1", "loader-6", 0)
	recordPending(t, h, "c2", "loader-6", 1)

	applier := &scriptedApplier{fail: map[string]error{
		"c1": fmt.Errorf("prediction c1 is APPLIED: %w", models.ErrPredictionSettled),
	}}
	sweeper := NewPendingSweeper(h.ledger, applier, time.Hour, 10, h.metrics, logger.Discard())

	res := sweeper.SweepOnce(context.Background())

	assert.Equal(t, SweepResult{Applied: 1, Skipped: 1}, res)
	assert.Equal(t, []string{"c1", "c2"}, applier.calls, "a skip does not hold back the asset")
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.PendingSwept.WithLabelValues("skipped")))
}

func TestPendingSweeper_StartShutdown(t *testing.T) {
	h := newHarness(t)
	h.ledger.failSaveState.Store(3)
	out := h.process(t, snapshot("loader-4", 0, 95))
	require.True(t, out.AlertingDeferred)

	sweeper := NewPendingSweeper(h.ledger, h.svc, 10*time.Millisecond, 10, h.metrics, logger.Discard())
	sweeper.Start()

	require.Eventually(t, func() bool {
		return h.state(t, "loader-4") == models.StateOpenHighPriority
	}, 2*time.Second, 10*time.Millisecond)

	sweeper.Shutdown()
}
