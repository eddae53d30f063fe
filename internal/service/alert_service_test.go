package service

import (
	"context"
	"testing"

	"FleetRiskAPI/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAlertService_ResolveResetsPolicyState(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	first := h.process(t, snapshot("crane-1", 0, 64))
	alertID := first.Transition.Alert.ID

	resolved, err := h.alerts.Resolve(ctx, alertID, "alice")
	require.NoError(t, err)
	assert.True(t, resolved.IsResolved)
	require.NotNil(t, resolved.ResolvedBy)
	assert.Equal(t, "alice", *resolved.ResolvedBy)
	assert.Equal(t, models.StateNone, h.state(t, "crane-1"))

	events := h.publisher.published()
	require.Len(t, events, 1)
	assert.Equal(t, "alice", events[0].ResolvedBy)

	// The next high prediction opens a fresh alert and work order.
	next := h.process(t, snapshot("crane-1", 1, 66))
	assert.Equal(t, models.StateNone, next.Transition.From)
	assert.NotEqual(t, alertID, next.Transition.Alert.ID)
	assert.True(t, next.Transition.WorkOrderCreated)
	assert.Len(t, h.workOrders(t, "crane-1"), 2)

	_, err = h.alerts.Resolve(ctx, alertID, "alice")
	assert.ErrorIs(t, err, models.ErrAlreadyResolved)

	_, err = h.alerts.Resolve(ctx, "missing", "alice")
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestAlertService_Listings(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.process(t, snapshot("crane-2", 0, 55))
	h.process(t, snapshot("crane-3", 0, 90))
	h.process(t, snapshot("crane-3", 1, 4))

	active, err := h.alerts.GetActiveAlerts(ctx)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, "crane-2", active[0].AssetID)

	history, err := h.alerts.GetAlertHistory(ctx, 10, 0)
	require.NoError(t, err)
	assert.Len(t, history, 2)

	assetAlerts, err := h.alerts.GetAssetAlerts(ctx, "crane-3")
	require.NoError(t, err)
	require.Len(t, assetAlerts, 1)
	assert.True(t, assetAlerts[0].IsResolved)

	stats, err := h.alerts.GetStatistics(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, stats["total"])
	assert.Equal(t, 1, stats["open"])
	assert.Equal(t, 1, stats["open_HIGH"])
}

func TestAlertService_Redeliver(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	out := h.process(t, snapshot("crane-4", 0, 88))
	alertID := out.Transition.Alert.ID

	report, err := h.alerts.Redeliver(ctx, alertID, nil, []string{"tech-7"})
	require.NoError(t, err)
	assert.Equal(t, 1, report.Sent())
	assert.Equal(t, 1, h.inApp.sentTo("tech-7"))

	// Defaults to every subscriber on every enabled channel; ops-1 was already notified.
	report, err = h.alerts.Redeliver(ctx, alertID, nil, nil)
	require.NoError(t, err)
	require.Len(t, report.Receipts, 1)
	assert.Equal(t, "ops-1", report.Receipts[0].RecipientID)
	assert.Equal(t, 1, h.inApp.sentTo("ops-1"))

	// Resolved alerts can still be delivered to people who missed them.
	_, err = h.alerts.Resolve(ctx, alertID, "bob")
	require.NoError(t, err)
	require.NoError(t, h.recipients.Upsert(ctx, &models.Recipient{ID: "late-3"}))
	report, err = h.alerts.Redeliver(ctx, alertID, []string{models.ChannelInApp}, []string{"late-3"})
	require.NoError(t, err)
	assert.Equal(t, 1, report.Sent())

	receipts, err := h.alerts.GetReceipts(ctx, alertID)
	require.NoError(t, err)
	assert.Len(t, receipts, 3)

	_, err = h.alerts.GetReceipts(ctx, "missing")
	assert.ErrorIs(t, err, models.ErrNotFound)
}
