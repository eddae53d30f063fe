// internal/models/models.go

package models

import (
	"time"
)

// FeatureSnapshot is the asset usage/telemetry vector produced by the feature pipeline.
type FeatureSnapshot struct {
	AssetID    string             `json:"asset_id"`
	CapturedAt time.Time          `json:"captured_at"`
	Features   map[string]float64 `json:"features"`
}

// ModelOutput is what the external failure model returns for one snapshot.
type ModelOutput struct {
	FailureProbability float64 `json:"failure_probability"`
	ConfidenceScore    float64 `json:"confidence_score"`
	ModelVersion       string  `json:"model_version"`
}

type PolicyStatus string

const (
	PolicyPending PolicyStatus = "PENDING"
	PolicyApplied PolicyStatus = "APPLIED"
	PolicySkipped PolicyStatus = "SKIPPED"
	PolicyStale   PolicyStatus = "STALE"
)

type Prediction struct {
	ID                 string       `json:"id" db:"id"`
	AssetID            string       `json:"asset_id" db:"asset_id"`
	FailureProbability float64      `json:"failure_probability" db:"failure_probability"`
	ConfidenceScore    float64      `json:"confidence_score" db:"confidence_score"`
	RiskLevel          RiskLevel    `json:"risk_level" db:"risk_level"`
	ModelVersion       string       `json:"model_version" db:"model_version"`
	Recommendations    string       `json:"recommendations" db:"recommendations"`
	Advisory           bool         `json:"advisory" db:"advisory"`
	PolicyStatus       PolicyStatus `json:"policy_status" db:"policy_status"`
	CapturedAt         time.Time    `json:"captured_at" db:"captured_at"`
	CreatedAt          time.Time    `json:"created_at" db:"created_at"`
}

// AssetPolicyState is the persisted position of an asset in the alerting state machine.
type AssetPolicyState struct {
	AssetID          string      `json:"asset_id" db:"asset_id"`
	State            PolicyState `json:"state" db:"state"`
	OpenAlertID      *string     `json:"open_alert_id" db:"open_alert_id"`
	LastAppliedAt    time.Time   `json:"last_applied_at" db:"last_applied_at"`
	LastPredictionID string      `json:"last_prediction_id" db:"last_prediction_id"`
	UpdatedAt        time.Time   `json:"updated_at" db:"updated_at"`
}

// AssetRiskStatus is the read model served to dashboards.
type AssetRiskStatus struct {
	AssetID          string      `json:"asset_id"`
	State            PolicyState `json:"state"`
	LatestPrediction *Prediction `json:"latest_prediction"`
	OpenAlert        *Alert      `json:"open_alert"`
	LastAppliedAt    *time.Time  `json:"last_applied_at,omitempty"`
}

type HealthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Services  struct {
		Database bool `json:"database"`
		MQTT     bool `json:"mqtt"`
		Lock     bool `json:"lock"`
	} `json:"services"`
}

type ScoreRequest struct {
	AssetID    string             `json:"asset_id"`
	CapturedAt *time.Time         `json:"captured_at"`
	Features   map[string]float64 `json:"features"`
}

// Snapshot converts a request into a snapshot, defaulting captured_at to now.
func (r ScoreRequest) Snapshot() FeatureSnapshot {
	captured := time.Now().UTC()
	if r.CapturedAt != nil {
		captured = r.CapturedAt.UTC()
	}
	features := make(map[string]float64, len(r.Features))
	for k, v := range r.Features {
		features[k] = v
	}
	return FeatureSnapshot{
		AssetID:    r.AssetID,
		CapturedAt: captured,
		Features:   features,
	}
}
