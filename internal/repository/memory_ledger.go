package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"FleetRiskAPI/internal/lock"
	"FleetRiskAPI/internal/models"

	"github.com/google/uuid"
)

type receiptKey struct {
	alertID     string
	channel     string
	recipientID string
}

// MemoryLedger keeps the ledger in process memory. It backs the memory
// storage backend and service tests.
type MemoryLedger struct {
	mu sync.RWMutex

	locker   lock.Locker
	claimTTL time.Duration

	predictions []models.Prediction
	states      map[string]models.AssetPolicyState
	alerts      map[string]models.Alert
	alertOrder  []string
	workOrders  []models.WorkOrder
	receipts    map[receiptKey]models.NotificationReceipt
	receiptSeq  int64
}

func NewMemoryLedger(locker lock.Locker) *MemoryLedger {
	if locker == nil {
		locker = lock.NewKeyedMutex()
	}
	return &MemoryLedger{
		locker:   locker,
		claimTTL: DefaultReceiptClaimTTL,
		states:   make(map[string]models.AssetPolicyState),
		alerts:   make(map[string]models.Alert),
		receipts: make(map[receiptKey]models.NotificationReceipt),
	}
}

func (m *MemoryLedger) WithAssetLock(ctx context.Context, assetID string, fn func(ctx context.Context) error) error {
	return lock.Do(ctx, m.locker, assetID, 0, fn)
}

func (m *MemoryLedger) RecordPrediction(ctx context.Context, p *models.Prediction) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	for _, existing := range m.predictions {
		if existing.ID == p.ID {
			return models.NewLedgerWriteError("record prediction", fmt.Errorf("duplicate prediction id %s", p.ID))
		}
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}
	m.predictions = append(m.predictions, *p)
	return nil
}

func (m *MemoryLedger) GetPrediction(ctx context.Context, id string) (*models.Prediction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for i := range m.predictions {
		if m.predictions[i].ID == id {
			p := m.predictions[i]
			return &p, nil
		}
	}
	return nil, fmt.Errorf("prediction %s: %w", id, models.ErrNotFound)
}

func (m *MemoryLedger) LatestPrediction(ctx context.Context, assetID string) (*models.Prediction, error) {
	list, err := m.ListPredictions(ctx, assetID, 1)
	if err != nil || len(list) == 0 {
		return nil, err
	}
	return &list[0], nil
}

// ListPredictions returns the asset's predictions, newest capture first.
func (m *MemoryLedger) ListPredictions(ctx context.Context, assetID string, limit int) ([]models.Prediction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []models.Prediction
	for _, p := range m.predictions {
		if p.AssetID == assetID {
			out = append(out, p)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].CapturedAt.Equal(out[j].CapturedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].CapturedAt.After(out[j].CapturedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryLedger) ListPendingPredictions(ctx context.Context, limit int) ([]models.Prediction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []models.Prediction
	for _, p := range m.predictions {
		if p.PolicyStatus == models.PolicyPending && !p.Advisory {
			out = append(out, p)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CapturedAt.Before(out[j].CapturedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryLedger) SetPolicyStatus(ctx context.Context, predictionID string, status models.PolicyStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i := range m.predictions {
		if m.predictions[i].ID == predictionID {
			m.predictions[i].PolicyStatus = status
			return nil
		}
	}
	return fmt.Errorf("prediction %s: %w", predictionID, models.ErrNotFound)
}

func (m *MemoryLedger) GetAssetState(ctx context.Context, assetID string) (*models.AssetPolicyState, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	st, ok := m.states[assetID]
	if !ok {
		return nil, nil
	}
	return &st, nil
}

func (m *MemoryLedger) SaveAssetState(ctx context.Context, state *models.AssetPolicyState) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if existing, ok := m.states[state.AssetID]; ok && state.LastAppliedAt.Before(existing.LastAppliedAt) {
		return &models.StalePredictionError{
			AssetID:    state.AssetID,
			CapturedAt: state.LastAppliedAt,
			AppliedAt:  existing.LastAppliedAt,
		}
	}

	state.UpdatedAt = time.Now().UTC()
	st := *state
	if state.OpenAlertID != nil {
		id := *state.OpenAlertID
		st.OpenAlertID = &id
	}
	m.states[state.AssetID] = st
	return nil
}

func (m *MemoryLedger) GetOpenAlert(ctx context.Context, assetID string, alertType models.AlertType) (*models.Alert, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, a := range m.alerts {
		if a.AssetID == assetID && a.AlertType == alertType && !a.IsResolved {
			return &a, nil
		}
	}
	return nil, nil
}

func (m *MemoryLedger) GetAlert(ctx context.Context, id string) (*models.Alert, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	a, ok := m.alerts[id]
	if !ok {
		return nil, fmt.Errorf("alert %s: %w", id, models.ErrNotFound)
	}
	return &a, nil
}

func (m *MemoryLedger) UpsertAlert(ctx context.Context, alert *models.Alert) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now().UTC()

	if alert.ID == "" {
		for _, a := range m.alerts {
			if a.AssetID == alert.AssetID && a.AlertType == alert.AlertType && !a.IsResolved {
				return fmt.Errorf("asset %s: %w", alert.AssetID, models.ErrOpenAlertExists)
			}
		}
		alert.ID = uuid.NewString()
		alert.IsResolved = false
		alert.CreatedAt = now
		alert.UpdatedAt = now
		m.alerts[alert.ID] = *alert
		m.alertOrder = append(m.alertOrder, alert.ID)
		return nil
	}

	existing, ok := m.alerts[alert.ID]
	if !ok {
		return fmt.Errorf("alert %s: %w", alert.ID, models.ErrNotFound)
	}
	if existing.IsResolved {
		return fmt.Errorf("alert %s: %w", alert.ID, models.ErrAlreadyResolved)
	}

	existing.Severity = alert.Severity
	existing.Title = alert.Title
	existing.Message = alert.Message
	existing.PredictionID = alert.PredictionID
	existing.UpdatedAt = now
	m.alerts[alert.ID] = existing
	*alert = existing
	return nil
}

func (m *MemoryLedger) ResolveAlert(ctx context.Context, id, resolvedBy string, at time.Time) (*models.Alert, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	a, ok := m.alerts[id]
	if !ok {
		return nil, fmt.Errorf("alert %s: %w", id, models.ErrNotFound)
	}
	if a.IsResolved {
		return nil, fmt.Errorf("alert %s: %w", id, models.ErrAlreadyResolved)
	}

	at = at.UTC()
	by := resolvedBy
	a.IsResolved = true
	a.ResolvedAt = &at
	a.ResolvedBy = &by
	a.UpdatedAt = at
	m.alerts[id] = a
	return &a, nil
}

// ListAlerts returns alerts newest first.
func (m *MemoryLedger) ListAlerts(ctx context.Context, filter models.AlertFilter) ([]models.Alert, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []models.Alert
	for i := len(m.alertOrder) - 1; i >= 0; i-- {
		a := m.alerts[m.alertOrder[i]]
		if filter.AssetID != "" && a.AssetID != filter.AssetID {
			continue
		}
		if filter.OnlyOpen && a.IsResolved {
			continue
		}
		out = append(out, a)
	}

	if filter.Offset > 0 {
		if filter.Offset >= len(out) {
			return nil, nil
		}
		out = out[filter.Offset:]
	}
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (m *MemoryLedger) AlertStatistics(ctx context.Context) (map[string]int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stats := map[string]int{"total": len(m.alerts), "open": 0, "resolved": 0}
	for _, a := range m.alerts {
		if a.IsResolved {
			stats["resolved"]++
			continue
		}
		stats["open"]++
		stats["open_"+string(a.Severity)]++
	}
	return stats, nil
}

func (m *MemoryLedger) CreateWorkOrder(ctx context.Context, wo *models.WorkOrder) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, existing := range m.workOrders {
		if existing.AssetID == wo.AssetID && existing.SourceAlertID == wo.SourceAlertID &&
			existing.Status == models.WorkOrderStatusOpen {
			*wo = existing
			return false, nil
		}
	}

	if wo.ID == "" {
		wo.ID = uuid.NewString()
	}
	if wo.Status == "" {
		wo.Status = models.WorkOrderStatusOpen
	}
	wo.CreatedAt = time.Now().UTC()
	m.workOrders = append(m.workOrders, *wo)
	return true, nil
}

func (m *MemoryLedger) ListWorkOrders(ctx context.Context, assetID string) ([]models.WorkOrder, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []models.WorkOrder
	for i := len(m.workOrders) - 1; i >= 0; i-- {
		if assetID == "" || m.workOrders[i].AssetID == assetID {
			out = append(out, m.workOrders[i])
		}
	}
	return out, nil
}

func (m *MemoryLedger) ClaimReceipt(ctx context.Context, alertID, channel, recipientID string, at time.Time) (*models.NotificationReceipt, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := receiptKey{alertID: alertID, channel: channel, recipientID: recipientID}
	existing, ok := m.receipts[key]
	if ok && !claimable(existing, at, m.claimTTL) {
		return &existing, false, nil
	}

	r := existing
	if !ok {
		m.receiptSeq++
		r = models.NotificationReceipt{
			ID:          m.receiptSeq,
			AlertID:     alertID,
			Channel:     channel,
			RecipientID: recipientID,
		}
	}
	r.Status = models.ReceiptPending
	r.Error = ""
	r.AttemptedAt = at.UTC()
	m.receipts[key] = r
	return &r, true, nil
}

func claimable(r models.NotificationReceipt, at time.Time, ttl time.Duration) bool {
	switch r.Status {
	case models.ReceiptFailed, models.ReceiptSkipped:
		return true
	case models.ReceiptPending:
		return r.AttemptedAt.Before(at.Add(-ttl))
	default:
		return false
	}
}

func (m *MemoryLedger) CompleteReceipt(ctx context.Context, receipt *models.NotificationReceipt) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := receiptKey{alertID: receipt.AlertID, channel: receipt.Channel, recipientID: receipt.RecipientID}
	if _, ok := m.receipts[key]; !ok {
		return fmt.Errorf("receipt %s/%s/%s: %w", receipt.AlertID, receipt.Channel, receipt.RecipientID, models.ErrNotFound)
	}
	m.receipts[key] = *receipt
	return nil
}

func (m *MemoryLedger) ListReceipts(ctx context.Context, alertID string) ([]models.NotificationReceipt, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []models.NotificationReceipt
	for _, r := range m.receipts {
		if r.AlertID == alertID {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *MemoryLedger) Ping(ctx context.Context) error {
	return m.locker.Ping(ctx)
}
