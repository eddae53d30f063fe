package service

import (
	"context"
	"fmt"
	"time"

	"FleetRiskAPI/internal/events"
	"FleetRiskAPI/internal/logger"
	"FleetRiskAPI/internal/models"
	"FleetRiskAPI/internal/repository"
)

// IAlertService defines the human-facing operations on risk alerts.
type IAlertService interface {
	GetAlert(ctx context.Context, id string) (*models.Alert, error)
	GetActiveAlerts(ctx context.Context) ([]models.Alert, error)
	GetAssetAlerts(ctx context.Context, assetID string) ([]models.Alert, error)
	GetAlertHistory(ctx context.Context, limit, offset int) ([]models.Alert, error)
	GetStatistics(ctx context.Context) (map[string]int, error)
	Resolve(ctx context.Context, id, resolvedBy string) (*models.Alert, error)
	Redeliver(ctx context.Context, id string, channels, recipientIDs []string) (*models.DispatchReport, error)
	GetReceipts(ctx context.Context, id string) ([]models.NotificationReceipt, error)
}

type alertDispatcher interface {
	Dispatch(ctx context.Context, alertID string, channels []string, recipients []models.Recipient) (*models.DispatchReport, error)
}

type AlertService struct {
	ledger     repository.ILedger
	recipients repository.IRecipientRepository
	dispatcher alertDispatcher
	channels   func() []string
	publisher  events.Publisher
	log        *logger.Logger
	now        func() time.Time
}

func NewAlertService(
	ledger repository.ILedger,
	recipients repository.IRecipientRepository,
	dispatcher alertDispatcher,
	enabledChannels func() []string,
	publisher events.Publisher,
	log *logger.Logger,
) *AlertService {
	return &AlertService{
		ledger:     ledger,
		recipients: recipients,
		dispatcher: dispatcher,
		channels:   enabledChannels,
		publisher:  publisher,
		log:        log.With("alerts"),
		now:        func() time.Time { return time.Now().UTC() },
	}
}

func (s *AlertService) GetAlert(ctx context.Context, id string) (*models.Alert, error) {
	return s.ledger.GetAlert(ctx, id)
}

// GetActiveAlerts retrieves all alerts that haven't been resolved yet.
func (s *AlertService) GetActiveAlerts(ctx context.Context) ([]models.Alert, error) {
	return s.ledger.ListAlerts(ctx, models.AlertFilter{OnlyOpen: true, Limit: 500})
}

func (s *AlertService) GetAssetAlerts(ctx context.Context, assetID string) ([]models.Alert, error) {
	return s.ledger.ListAlerts(ctx, models.AlertFilter{AssetID: assetID, Limit: 500})
}

// GetAlertHistory provides the full audit trail for reporting.
func (s *AlertService) GetAlertHistory(ctx context.Context, limit, offset int) ([]models.Alert, error) {
	return s.ledger.ListAlerts(ctx, models.AlertFilter{Limit: limit, Offset: offset})
}

func (s *AlertService) GetStatistics(ctx context.Context) (map[string]int, error) {
	return s.ledger.AlertStatistics(ctx)
}

// Resolve closes an alert on behalf of a user. The asset's policy state is
// reset under the asset lock so the next HIGH prediction opens a new alert.
func (s *AlertService) Resolve(ctx context.Context, id, resolvedBy string) (*models.Alert, error) {
	alert, err := s.ledger.GetAlert(ctx, id)
	if err != nil {
		return nil, err
	}

	var resolved *models.Alert
	err = s.ledger.WithAssetLock(ctx, alert.AssetID, func(ctx context.Context) error {
		resolved, err = s.ledger.ResolveAlert(ctx, id, resolvedBy, s.now())
		if err != nil {
			return err
		}

		state, err := s.ledger.GetAssetState(ctx, alert.AssetID)
		if err != nil {
			return err
		}
		if state == nil || state.OpenAlertID == nil || *state.OpenAlertID != id {
			return nil
		}
		state.State = models.StateNone
		state.OpenAlertID = nil
		return s.ledger.SaveAssetState(ctx, state)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to resolve alert %s: %w", id, err)
	}

	s.log.Info("Alert %s on asset %s resolved by %s", id, resolved.AssetID, resolvedBy)
	if s.publisher != nil {
		if err := s.publisher.PublishResolved(ctx, *resolvedEvent(resolved)); err != nil {
			s.log.Warn("Resolved event for alert %s not fully delivered: %v", id, err)
		}
	}
	return resolved, nil
}

// Redeliver re-runs notification for an alert. Empty channels means every
// enabled channel; empty recipientIDs means every subscriber.
func (s *AlertService) Redeliver(ctx context.Context, id string, channels, recipientIDs []string) (*models.DispatchReport, error) {
	if len(channels) == 0 {
		channels = s.channels()
	}

	var recipients []models.Recipient
	var err error
	if len(recipientIDs) == 0 {
		recipients, err = s.recipients.ListSubscribers(ctx)
	} else {
		recipients, err = s.recipients.GetByIDs(ctx, recipientIDs)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load recipients: %w", err)
	}

	return s.dispatcher.Dispatch(ctx, id, channels, recipients)
}

func (s *AlertService) GetReceipts(ctx context.Context, id string) ([]models.NotificationReceipt, error) {
	if _, err := s.ledger.GetAlert(ctx, id); err != nil {
		return nil, err
	}
	return s.ledger.ListReceipts(ctx, id)
}
