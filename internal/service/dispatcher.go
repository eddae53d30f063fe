package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"FleetRiskAPI/internal/logger"
	"FleetRiskAPI/internal/metrics"
	"FleetRiskAPI/internal/models"
	"FleetRiskAPI/internal/notification"
	"FleetRiskAPI/internal/repository"

	"golang.org/x/sync/errgroup"
)

const (
	DefaultChannelTimeout      = 30 * time.Second
	DefaultDispatchConcurrency = 8
)

type DispatcherOptions struct {
	ChannelTimeout time.Duration
	Concurrency    int
}

// Dispatcher delivers alerts over notification channels, at most once per
// (alert, channel, recipient) across calls and replicas.
type Dispatcher struct {
	ledger      repository.ILedger
	recipients  repository.IRecipientRepository
	channels    *notification.Registry
	timeout     time.Duration
	concurrency int
	metrics     *metrics.Metrics
	log         *logger.Logger
	now         func() time.Time
}

func NewDispatcher(
	ledger repository.ILedger,
	recipients repository.IRecipientRepository,
	channels *notification.Registry,
	opts DispatcherOptions,
	m *metrics.Metrics,
	log *logger.Logger,
) *Dispatcher {
	if opts.ChannelTimeout <= 0 {
		opts.ChannelTimeout = DefaultChannelTimeout
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = DefaultDispatchConcurrency
	}
	return &Dispatcher{
		ledger:      ledger,
		recipients:  recipients,
		channels:    channels,
		timeout:     opts.ChannelTimeout,
		concurrency: opts.Concurrency,
		metrics:     m,
		log:         log.With("dispatch"),
		now:         func() time.Time { return time.Now().UTC() },
	}
}

type deliveryPair struct {
	channel   string
	recipient models.Recipient
}

// Dispatch delivers alertID over every channel to every recipient. It only
// errors when the alert cannot be loaded; per-pair failures are reported.
func (d *Dispatcher) Dispatch(ctx context.Context, alertID string, channels []string, recipients []models.Recipient) (*models.DispatchReport, error) {
	alert, err := d.ledger.GetAlert(ctx, alertID)
	if err != nil {
		return nil, err
	}

	var pairs []deliveryPair
	seen := make(map[string]bool)
	for _, r := range recipients {
		for _, ch := range channels {
			key := ch + "\x00" + r.ID
			if seen[key] {
				continue
			}
			seen[key] = true
			pairs = append(pairs, deliveryPair{channel: ch, recipient: r})
		}
	}

	return d.deliverAll(ctx, alert, pairs), nil
}

// DispatchToSubscribers notifies every recipient that can view all assets on
// each of their preferred, enabled channels.
func (d *Dispatcher) DispatchToSubscribers(ctx context.Context, alertID string) (*models.DispatchReport, error) {
	alert, err := d.ledger.GetAlert(ctx, alertID)
	if err != nil {
		return nil, err
	}

	subscribers, err := d.recipients.ListSubscribers(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load subscribers: %w", err)
	}

	var pairs []deliveryPair
	for _, r := range subscribers {
		for _, ch := range r.Channels {
			if d.channels.Enabled(ch) {
				pairs = append(pairs, deliveryPair{channel: ch, recipient: r})
			}
		}
	}

	return d.deliverAll(ctx, alert, pairs), nil
}

func (d *Dispatcher) deliverAll(ctx context.Context, alert *models.Alert, pairs []deliveryPair) *models.DispatchReport {
	report := &models.DispatchReport{
		AlertID:  alert.ID,
		Receipts: []models.NotificationReceipt{},
		Failures: []models.DispatchFailure{},
	}

	var mu sync.Mutex
	var g errgroup.Group
	g.SetLimit(d.concurrency)

	for _, pair := range pairs {
		g.Go(func() error {
			receipt, failure := d.deliver(ctx, alert, pair)
			mu.Lock()
			defer mu.Unlock()
			if receipt != nil {
				report.Receipts = append(report.Receipts, *receipt)
			}
			if failure != nil {
				report.Failures = append(report.Failures, *failure)
			}
			return nil
		})
	}
	_ = g.Wait()

	sort.Slice(report.Receipts, func(i, j int) bool {
		a, b := report.Receipts[i], report.Receipts[j]
		if a.Channel != b.Channel {
			return a.Channel < b.Channel
		}
		return a.RecipientID < b.RecipientID
	})

	if len(report.Failures) > 0 {
		d.log.Warn("Alert %s: %d sent, %d failed", alert.ID, report.Sent(), len(report.Failures))
	}
	return report
}

func (d *Dispatcher) deliver(ctx context.Context, alert *models.Alert, pair deliveryPair) (*models.NotificationReceipt, *models.DispatchFailure) {
	fail := func(reason string) *models.DispatchFailure {
		return &models.DispatchFailure{Channel: pair.channel, RecipientID: pair.recipient.ID, Reason: reason}
	}

	receipt, claimed, err := d.ledger.ClaimReceipt(ctx, alert.ID, pair.channel, pair.recipient.ID, d.now())
	if err != nil {
		return nil, fail(err.Error())
	}
	if !claimed {
		// Already SENT, or another dispatcher holds the claim.
		return receipt, nil
	}

	status, reason := d.send(ctx, alert, pair)
	receipt.Status = status
	receipt.Error = reason
	receipt.AttemptedAt = d.now()
	d.metrics.Notifications.WithLabelValues(pair.channel, string(status)).Inc()

	if err := d.ledger.CompleteReceipt(ctx, receipt); err != nil {
		d.log.Error("Failed to record %s receipt for %s/%s: %v", status, alert.ID, pair.recipient.ID, err)
		if status == models.ReceiptSent {
			return receipt, nil
		}
	}

	if status == models.ReceiptFailed {
		return receipt, fail(reason)
	}
	return receipt, nil
}

func (d *Dispatcher) send(ctx context.Context, alert *models.Alert, pair deliveryPair) (models.ReceiptStatus, string) {
	ch, ok := d.channels.Get(pair.channel)
	if !ok {
		return models.ReceiptSkipped, fmt.Sprintf("channel %q not enabled", pair.channel)
	}
	if ch.Address(pair.recipient) == "" {
		return models.ReceiptSkipped, fmt.Sprintf("recipient has no %s address", pair.channel)
	}

	sendCtx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	if err := ch.Send(sendCtx, notification.NewMessage(alert, pair.recipient)); err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(sendCtx.Err(), context.DeadlineExceeded) {
			return models.ReceiptFailed, fmt.Sprintf("timed out after %s: %v", d.timeout, err)
		}
		return models.ReceiptFailed, err.Error()
	}
	return models.ReceiptSent, ""
}
