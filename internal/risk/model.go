package risk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"time"

	"FleetRiskAPI/internal/models"
)

// ModelClient is the external failure model. Implementations must honour ctx cancellation.
type ModelClient interface {
	Predict(ctx context.Context, snapshot models.FeatureSnapshot) (models.ModelOutput, error)
}

type HTTPModelClient struct {
	endpoint string
	apiKey   string
	version  string
	client   *http.Client
}

func NewHTTPModelClient(endpoint, apiKey, version string, client *http.Client) *HTTPModelClient {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &HTTPModelClient{
		endpoint: endpoint,
		apiKey:   apiKey,
		version:  version,
		client:   client,
	}
}

type predictRequest struct {
	Instances []predictInstance `json:"instances"`
}

type predictInstance struct {
	AssetID    string             `json:"asset_id"`
	CapturedAt time.Time          `json:"captured_at"`
	Features   map[string]float64 `json:"features"`
}

type predictResponse struct {
	Predictions []struct {
		FailureProbability float64 `json:"failure_probability"`
		ConfidenceScore    float64 `json:"confidence_score"`
	} `json:"predictions"`
	ModelVersion string `json:"model_version"`
}

// Predict posts one instance to the managed model endpoint.
func (c *HTTPModelClient) Predict(ctx context.Context, snapshot models.FeatureSnapshot) (models.ModelOutput, error) {
	body, err := json.Marshal(predictRequest{
		Instances: []predictInstance{{
			AssetID:    snapshot.AssetID,
			CapturedAt: snapshot.CapturedAt,
			Features:   snapshot.Features,
		}},
	})
	if err != nil {
		return models.ModelOutput{}, fmt.Errorf("failed to marshal predict request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return models.ModelOutput{}, fmt.Errorf("failed to build predict request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return models.ModelOutput{}, fmt.Errorf("model request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return models.ModelOutput{}, fmt.Errorf("model endpoint returned %d: %s", resp.StatusCode, bytes.TrimSpace(msg))
	}

	var out predictResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return models.ModelOutput{}, fmt.Errorf("failed to decode model response: %w", err)
	}
	if len(out.Predictions) == 0 {
		return models.ModelOutput{}, fmt.Errorf("model response contained no predictions")
	}

	version := out.ModelVersion
	if version == "" {
		version = c.version
	}

	return models.ModelOutput{
		FailureProbability: out.Predictions[0].FailureProbability,
		ConfidenceScore:    out.Predictions[0].ConfidenceScore,
		ModelVersion:       version,
	}, nil
}

// HeuristicModel is a weighted logistic stand-in for environments without a model endpoint.
type HeuristicModel struct {
	Version string
}

var heuristicWeights = map[string]float64{
	FeatureDaysSinceMaintenance: 0.025,
	FeatureFailureCount30d:      0.6,
	FeatureAvgTemperature:       0.03,
	FeatureOperatingHours:       0.0002,
	FeatureOpenWorkOrders:       0.2,
	FeatureChecklistFailures:    0.35,
}

const heuristicBias = -5.0

func (m HeuristicModel) Predict(ctx context.Context, snapshot models.FeatureSnapshot) (models.ModelOutput, error) {
	if err := ctx.Err(); err != nil {
		return models.ModelOutput{}, err
	}

	z := heuristicBias
	known := 0
	for name, w := range heuristicWeights {
		if v, ok := snapshot.Features[name]; ok {
			z += w * v
			known++
		}
	}

	probability := 100 / (1 + math.Exp(-z))
	// Confidence grows with feature coverage.
	confidence := math.Min(95, 30+float64(known)*12)

	return models.ModelOutput{
		FailureProbability: probability,
		ConfidenceScore:    confidence,
		ModelVersion:       m.Version,
	}, nil
}
