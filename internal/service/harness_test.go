package service

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"FleetRiskAPI/internal/logger"
	"FleetRiskAPI/internal/metrics"
	"FleetRiskAPI/internal/models"
	"FleetRiskAPI/internal/notification"
	"FleetRiskAPI/internal/repository"
	"FleetRiskAPI/internal/risk"

	"github.com/stretchr/testify/require"
)

var baseTime = time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)

// featureModel reads its output from the snapshot: "p" is the failure
// probability and "conf" the confidence (default 90).
type featureModel struct{}

func (featureModel) Predict(ctx context.Context, s models.FeatureSnapshot) (models.ModelOutput, error) {
	conf, ok := s.Features["conf"]
	if !ok {
		conf = 90
	}
	return models.ModelOutput{
		FailureProbability: s.Features["p"],
		ConfidenceScore:    conf,
		ModelVersion:       "test-v1",
	}, ctx.Err()
}

func snapshot(asset string, minute int, probability float64) models.FeatureSnapshot {
	return models.FeatureSnapshot{
		AssetID:    asset,
		CapturedAt: baseTime.Add(time.Duration(minute) * time.Minute),
		Features:   map[string]float64{"p": probability},
	}
}

// flakyLedger fails selected writes with retryable ledger errors.
type flakyLedger struct {
	*repository.MemoryLedger
	failSaveState  atomic.Int32
	failWorkOrder  atomic.Int32
	saveStateCalls atomic.Int32
	workOrderCalls atomic.Int32
}

func newFlakyLedger() *flakyLedger {
	return &flakyLedger{MemoryLedger: repository.NewMemoryLedger(nil)}
}

func (f *flakyLedger) SaveAssetState(ctx context.Context, state *models.AssetPolicyState) error {
	f.saveStateCalls.Add(1)
	if f.failSaveState.Add(-1) >= 0 {
		return models.NewLedgerWriteError("save asset state", context.DeadlineExceeded)
	}
	return f.MemoryLedger.SaveAssetState(ctx, state)
}

func (f *flakyLedger) CreateWorkOrder(ctx context.Context, wo *models.WorkOrder) (bool, error) {
	f.workOrderCalls.Add(1)
	if f.failWorkOrder.Add(-1) >= 0 {
		return false, models.NewLedgerWriteError("create work order", context.DeadlineExceeded)
	}
	return f.MemoryLedger.CreateWorkOrder(ctx, wo)
}

type fakeChannel struct {
	name    string
	address func(models.Recipient) string
	err     error
	block   bool
	delay   time.Duration

	mu   sync.Mutex
	sent []notification.Message
}

func newFakeChannel(name string) *fakeChannel {
	return &fakeChannel{name: name, address: func(r models.Recipient) string { return r.ID }}
}

func (c *fakeChannel) Name() string { return c.name }

func (c *fakeChannel) Address(r models.Recipient) string { return c.address(r) }

func (c *fakeChannel) Send(ctx context.Context, msg notification.Message) error {
	if c.block {
		<-ctx.Done()
		return ctx.Err()
	}
	if c.delay > 0 {
		select {
		case <-time.After(c.delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if c.err != nil {
		return c.err
	}
	c.mu.Lock()
	c.sent = append(c.sent, msg)
	c.mu.Unlock()
	return nil
}

func (c *fakeChannel) sentTo(recipientID string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, m := range c.sent {
		if m.Recipient.ID == recipientID {
			n++
		}
	}
	return n
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []models.AlertResolvedEvent
}

func (p *recordingPublisher) PublishResolved(ctx context.Context, evt models.AlertResolvedEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, evt)
	return nil
}

func (p *recordingPublisher) published() []models.AlertResolvedEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]models.AlertResolvedEvent(nil), p.events...)
}

type harness struct {
	ledger     *flakyLedger
	recipients *repository.MemoryRecipientRepository
	inApp      *fakeChannel
	registry   *notification.Registry
	metrics    *metrics.Metrics
	publisher  *recordingPublisher
	policy     *AlertingPolicy
	dispatcher *Dispatcher
	svc        *PredictionService
	alerts     *AlertService
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	log := logger.Discard()
	h := &harness{
		ledger: newFlakyLedger(),
		recipients: repository.NewMemoryRecipientRepository(
			models.Recipient{ID: "ops-1", Name: "Ops", Role: "admin", CanViewAllResources: true, Channels: []string{models.ChannelInApp}},
			models.Recipient{ID: "tech-7", Name: "Tech", Role: "technician", Channels: []string{models.ChannelInApp}},
		),
		inApp:     newFakeChannel(models.ChannelInApp),
		metrics:   metrics.New(),
		publisher: &recordingPublisher{},
	}
	h.registry = notification.NewRegistry(h.inApp)
	h.policy = NewAlertingPolicy(h.ledger, PolicyOptions{Attempts: 3, Backoff: time.Millisecond}, h.metrics, log)
	h.dispatcher = NewDispatcher(h.ledger, h.recipients, h.registry, DispatcherOptions{ChannelTimeout: time.Second}, h.metrics, log)
	h.svc = NewPredictionService(
		risk.NewScorer(featureModel{}, time.Second, risk.DefaultMinConfidence),
		h.ledger, h.policy, h.dispatcher, h.publisher, h.metrics, log,
	)
	h.alerts = NewAlertService(h.ledger, h.recipients, h.dispatcher, h.registry.Names, h.publisher, log)
	return h
}

func (h *harness) process(t *testing.T, s models.FeatureSnapshot) *ScoringOutcome {
	t.Helper()
	out, err := h.svc.Process(context.Background(), s)
	require.NoError(t, err)
	return out
}

func (h *harness) state(t *testing.T, asset string) models.PolicyState {
	t.Helper()
	st, err := h.ledger.GetAssetState(context.Background(), asset)
	require.NoError(t, err)
	if st == nil {
		return models.StateNone
	}
	return st.State
}

func (h *harness) workOrders(t *testing.T, asset string) []models.WorkOrder {
	t.Helper()
	list, err := h.ledger.ListWorkOrders(context.Background(), asset)
	require.NoError(t, err)
	return list
}
