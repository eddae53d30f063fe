package repository

import (
	"context"
	"time"

	"FleetRiskAPI/internal/models"
)

const (
	DefaultLedgerTimeout = 10 * time.Second
	// DefaultReceiptClaimTTL bounds how long a PENDING receipt blocks other
	// dispatchers before it is considered abandoned and can be reclaimed.
	DefaultReceiptClaimTTL = 2 * time.Minute
)

// ILedger is the single writer of predictions, alerts, work orders,
// notification receipts and per-asset policy state.
type ILedger interface {
	// WithAssetLock runs fn while holding the asset's exclusive lock.
	WithAssetLock(ctx context.Context, assetID string, fn func(ctx context.Context) error) error

	RecordPrediction(ctx context.Context, p *models.Prediction) error
	GetPrediction(ctx context.Context, id string) (*models.Prediction, error)
	LatestPrediction(ctx context.Context, assetID string) (*models.Prediction, error)
	ListPredictions(ctx context.Context, assetID string, limit int) ([]models.Prediction, error)
	// ListPendingPredictions returns non-advisory PENDING predictions, oldest capture first.
	ListPendingPredictions(ctx context.Context, limit int) ([]models.Prediction, error)
	SetPolicyStatus(ctx context.Context, predictionID string, status models.PolicyStatus) error

	GetAssetState(ctx context.Context, assetID string) (*models.AssetPolicyState, error)
	SaveAssetState(ctx context.Context, state *models.AssetPolicyState) error

	GetOpenAlert(ctx context.Context, assetID string, alertType models.AlertType) (*models.Alert, error)
	GetAlert(ctx context.Context, id string) (*models.Alert, error)
	// UpsertAlert inserts when alert.ID is empty, otherwise updates an open alert in place.
	UpsertAlert(ctx context.Context, alert *models.Alert) error
	ResolveAlert(ctx context.Context, id, resolvedBy string, at time.Time) (*models.Alert, error)
	ListAlerts(ctx context.Context, filter models.AlertFilter) ([]models.Alert, error)
	AlertStatistics(ctx context.Context) (map[string]int, error)

	// CreateWorkOrder is idempotent per (asset, source alert) while the order is OPEN.
	CreateWorkOrder(ctx context.Context, wo *models.WorkOrder) (created bool, err error)
	ListWorkOrders(ctx context.Context, assetID string) ([]models.WorkOrder, error)

	// ClaimReceipt moves the (alert, channel, recipient) receipt to PENDING if it
	// is absent, FAILED, SKIPPED or an abandoned claim. When claimed is false the
	// returned receipt is the existing SENT or in-flight PENDING one.
	ClaimReceipt(ctx context.Context, alertID, channel, recipientID string, at time.Time) (receipt *models.NotificationReceipt, claimed bool, err error)
	CompleteReceipt(ctx context.Context, receipt *models.NotificationReceipt) error
	ListReceipts(ctx context.Context, alertID string) ([]models.NotificationReceipt, error)

	Ping(ctx context.Context) error
}
