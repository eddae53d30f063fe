package models

import "time"

type RiskLevel string

// Risk levels, ordered by Rank.
const (
	RiskLow      RiskLevel = "LOW"
	RiskMedium   RiskLevel = "MEDIUM"
	RiskHigh     RiskLevel = "HIGH"
	RiskCritical RiskLevel = "CRITICAL"
)

var riskRanks = map[RiskLevel]int{
	RiskLow:      0,
	RiskMedium:   1,
	RiskHigh:     2,
	RiskCritical: 3,
}

// Rank returns the position of the level in LOW < MEDIUM < HIGH < CRITICAL, or -1.
func (l RiskLevel) Rank() int {
	if r, ok := riskRanks[l]; ok {
		return r
	}
	return -1
}

func (l RiskLevel) Valid() bool {
	return l.Rank() >= 0
}

// IsHighPriority reports whether the level opens a high priority alert.
func (l RiskLevel) IsHighPriority() bool {
	return l == RiskHigh || l == RiskCritical
}

type PolicyState string

// Alerting states per (asset, PREDICTION).
const (
	StateNone             PolicyState = "NONE"
	StateOpenLowPriority  PolicyState = "OPEN_LOW_PRIORITY"
	StateOpenHighPriority PolicyState = "OPEN_HIGH_PRIORITY"
)

// StateForSeverity maps the severity of an open alert to its state.
func StateForSeverity(severity RiskLevel) PolicyState {
	if severity.IsHighPriority() {
		return StateOpenHighPriority
	}
	return StateOpenLowPriority
}

type AlertType string

const (
	AlertTypePrediction AlertType = "PREDICTION"
)

// ResolvedBySystem marks alerts closed by a superseding LOW prediction.
const ResolvedBySystem = "SYSTEM"

// Alert is an audit-retained risk alert. Rows are resolved, never deleted.
type Alert struct {
	ID           string     `json:"id" db:"id"`
	AssetID      string     `json:"asset_id" db:"asset_id"`
	AlertType    AlertType  `json:"alert_type" db:"alert_type"`
	PredictionID *string    `json:"prediction_id" db:"prediction_id"`
	Severity     RiskLevel  `json:"severity" db:"severity"`
	Title        string     `json:"title" db:"title"`
	Message      string     `json:"message" db:"message"`
	IsResolved   bool       `json:"is_resolved" db:"is_resolved"`
	ResolvedAt   *time.Time `json:"resolved_at" db:"resolved_at"`
	ResolvedBy   *string    `json:"resolved_by" db:"resolved_by"`
	CreatedAt    time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at" db:"updated_at"`
}

type AlertFilter struct {
	AssetID  string
	OnlyOpen bool
	Limit    int
	Offset   int
}

const (
	WorkOrderTypePredictive = "PREDICTIVE"

	WorkOrderStatusOpen   = "OPEN"
	WorkOrderStatusClosed = "CLOSED"

	PriorityMedium   = "MEDIUM"
	PriorityHigh     = "HIGH"
	PriorityCritical = "CRITICAL"
)

type WorkOrder struct {
	ID            string    `json:"id" db:"id"`
	AssetID       string    `json:"asset_id" db:"asset_id"`
	WorkOrderType string    `json:"work_order_type" db:"work_order_type"`
	Priority      string    `json:"priority" db:"priority"`
	Status        string    `json:"status" db:"status"`
	SourceAlertID string    `json:"source_alert_id" db:"source_alert_id"`
	Title         string    `json:"title" db:"title"`
	Description   string    `json:"description" db:"description"`
	CreatedAt     time.Time `json:"created_at" db:"created_at"`
}

// AlertResolvedEvent is published whenever an alert transitions to resolved.
type AlertResolvedEvent struct {
	AlertID    string    `json:"alert_id"`
	AssetID    string    `json:"asset_id"`
	Severity   RiskLevel `json:"severity"`
	ResolvedBy string    `json:"resolved_by"`
	ResolvedAt time.Time `json:"resolved_at"`
}
